// Package eventlog implements the kernel's append-only event store: the
// single source of truth from which every other projection (status,
// replay, validation) can be re-derived. Backed by SQLite via
// modernc.org/sqlite so the kernel ships as a single CGO-free binary.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/csk-next/csk/internal/domain"
)

const schemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	type TEXT NOT NULL,
	actor TEXT,
	mission_id TEXT,
	module_id TEXT,
	task_id TEXT,
	slice_id TEXT,
	repo_git_head TEXT,
	worktree_path TEXT,
	payload_json TEXT,
	artifact_refs_json TEXT,
	engine_version TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_events_scope ON events(mission_id, module_id, task_id, slice_id);
`

// EngineVersion is stamped onto every event this build appends.
const EngineVersion = "csk-kernel/1"

// Store is a handle onto the event log database. The zero value is not
// usable; construct with Open.
type Store struct {
	db      *sql.DB
	repoDir string
}

// Open opens (creating if necessary) the event log database at dbPath and
// ensures its schema is current. repoDir is the working tree used to
// resolve the git HEAD / dirty state stamped onto each event.
func Open(dbPath, repoDir string) (*Store, error) {
	if err := ensureParentDir(dbPath); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer; avoid pool contention on writes.

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating event log schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("stamping schema version: %w", err)
	}

	return &Store{db: db, repoDir: repoDir}, nil
}

func ensureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append writes one event to the log inside the event's own transaction,
// relying on SQLite's own writer serialization to provide the kernel's
// single-writer-atomicity guarantee. It stamps ts, engine_version, and the
// repo git HEAD before validating and inserting.
func (s *Store) Append(ctx context.Context, e domain.EventEnvelope) (domain.EventEnvelope, error) {
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	if e.EngineVersion == "" {
		e.EngineVersion = EngineVersion
	}
	if e.RepoGitHead == "" {
		e.RepoGitHead = s.gitHead(ctx)
	}
	if err := domain.ValidateEventEnvelope(&e); err != nil {
		return domain.EventEnvelope{}, err
	}

	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("marshaling payload: %w", err)
	}
	refsJSON, err := json.Marshal(e.ArtifactRefs)
	if err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("marshaling artifact refs: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (ts, type, actor, mission_id, module_id, task_id, slice_id,
			repo_git_head, worktree_path, payload_json, artifact_refs_json, engine_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TS.Format(time.RFC3339Nano), e.Type, e.Actor, e.MissionID, e.ModuleID, e.TaskID, e.SliceID,
		e.RepoGitHead, e.WorktreePath, string(payloadJSON), string(refsJSON), e.EngineVersion,
	)
	if err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("inserting event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("reading inserted id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("committing event: %w", err)
	}

	e.ID = id
	return e, nil
}

// QueryFilter narrows Query/Tail to events matching every non-empty field.
type QueryFilter struct {
	Type      string
	MissionID string
	ModuleID  string
	TaskID    string
	SliceID   string
	Limit     int
}

// Query returns events matching filter in ascending insertion order. Event
// IDs are monotonic and assigned strictly in append order, so ordering by
// id alone (rather than the wall-clock ts column) is what makes replay
// deterministic even when two events share a timestamp or the system
// clock moves backward.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]domain.EventEnvelope, error) {
	return s.query(ctx, filter, false)
}

// Tail returns events matching filter in descending insertion order,
// limited to filter.Limit most recent rows (or 50 if unset).
func (s *Store) Tail(ctx context.Context, filter QueryFilter) ([]domain.EventEnvelope, error) {
	if filter.Limit == 0 {
		filter.Limit = 50
	}
	return s.query(ctx, filter, true)
}

func (s *Store) query(ctx context.Context, filter QueryFilter, descending bool) ([]domain.EventEnvelope, error) {
	var where []string
	var args []any
	add := func(col, val string) {
		if val != "" {
			where = append(where, col+" = ?")
			args = append(args, val)
		}
	}
	add("type", filter.Type)
	add("mission_id", filter.MissionID)
	add("module_id", filter.ModuleID)
	add("task_id", filter.TaskID)
	add("slice_id", filter.SliceID)

	query := "SELECT id, ts, type, actor, mission_id, module_id, task_id, slice_id, repo_git_head, worktree_path, payload_json, artifact_refs_json, engine_version FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if descending {
		query += " ORDER BY id DESC"
	} else {
		query += " ORDER BY id ASC"
	}
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []domain.EventEnvelope
	for rows.Next() {
		var e domain.EventEnvelope
		var tsStr, payloadJSON, refsJSON string
		if err := rows.Scan(&e.ID, &tsStr, &e.Type, &e.Actor, &e.MissionID, &e.ModuleID, &e.TaskID, &e.SliceID,
			&e.RepoGitHead, &e.WorktreePath, &payloadJSON, &refsJSON, &e.EngineVersion); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing event ts: %w", err)
		}
		e.TS = ts
		if payloadJSON != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshaling payload: %w", err)
			}
		}
		if refsJSON != "" {
			if err := json.Unmarshal([]byte(refsJSON), &e.ArtifactRefs); err != nil {
				return nil, fmt.Errorf("unmarshaling artifact refs: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// gitHead returns the repository's current HEAD, suffixed with ":dirty" if
// the working tree has uncommitted changes, or "" if repoDir is not
// inside a git work tree.
func (s *Store) gitHead(ctx context.Context) string {
	if s.repoDir == "" {
		return ""
	}
	if !s.runGitOK(ctx, "rev-parse", "--is-inside-work-tree") {
		return ""
	}
	head, ok := s.runGit(ctx, "rev-parse", "HEAD")
	if !ok {
		return ""
	}
	head = strings.TrimSpace(head)
	status, _ := s.runGit(ctx, "status", "--porcelain")
	if strings.TrimSpace(status) != "" {
		head += ":dirty"
	}
	return head
}

func (s *Store) runGitOK(ctx context.Context, args ...string) bool {
	_, ok := s.runGit(ctx, args...)
	return ok
}

func (s *Store) runGit(ctx context.Context, args ...string) (string, bool) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.repoDir
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	return string(out), true
}
