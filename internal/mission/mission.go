// Package mission orchestrates multi-module missions: a named goal spread
// across one or more registered modules, optionally materialized as a
// git worktree per module.
package mission

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/csk-next/csk/internal/clierr"
	"github.com/csk-next/csk/internal/domain"
	"github.com/csk-next/csk/internal/eventlog"
	"github.com/csk-next/csk/internal/pathio"
	"github.com/csk-next/csk/internal/registry"
	"github.com/csk-next/csk/internal/taskengine"
	"github.com/csk-next/csk/internal/worktree"
)

// Engine drives mission lifecycle operations.
type Engine struct {
	StateRoot string
	Events    *eventlog.Store
	Tasks     *taskengine.Engine
}

func New(stateRoot string, events *eventlog.Store) *Engine {
	return &Engine{StateRoot: stateRoot, Events: events, Tasks: taskengine.New(stateRoot, events)}
}

// Dir returns a mission's directory.
func Dir(stateRoot, missionID string) string {
	return filepath.Join(stateRoot, ".csk", "app", "missions", missionID)
}

func missionPath(stateRoot, missionID string) string {
	return filepath.Join(Dir(stateRoot, missionID), "mission.json")
}

func worktreesPath(stateRoot, missionID string) string {
	return filepath.Join(Dir(stateRoot, missionID), "worktrees.json")
}

// NewMissionInput configures mission creation.
type NewMissionInput struct {
	MissionID       string
	Title           string
	ModuleIDs       []string
	Routing         []string // module traversal order; defaults to ModuleIDs
	CreateWorktrees bool
	WorktreeRoot    string // parent dir under which per-module worktrees are created
}

// seedMilestones lays out one milestone per routing step. Only the first
// is detailed with a concrete module set and marked activated; the rest
// stay pending and undetailed until the mission advances to them.
func seedMilestones(routing []string) []domain.Milestone {
	if len(routing) == 0 {
		return nil
	}
	milestones := make([]domain.Milestone, len(routing))
	for i, moduleID := range routing {
		milestones[i] = domain.Milestone{
			MilestoneID: fmt.Sprintf("MS-%d", i+1),
			Title:       fmt.Sprintf("route to %s", moduleID),
			Status:      domain.MilestonePending,
		}
	}
	milestones[0].ModuleIDs = []string{routing[0]}
	milestones[0].Status = domain.MilestoneActivated
	milestones[0].ActivatedAt = time.Now().UTC()
	return milestones
}

// Create validates every module_id against the registry, writes the
// mission's artifacts, optionally creates a worktree per module (logging
// an incident on any fallback rather than failing the whole mission), and
// emits mission.created.
func (e *Engine) Create(ctx context.Context, in NewMissionInput) (*domain.Mission, error) {
	reg, err := registry.Load(e.StateRoot)
	if err != nil {
		return nil, err
	}

	routing := in.Routing
	if len(routing) == 0 {
		routing = in.ModuleIDs
	}

	m := &domain.Mission{
		MissionID:  in.MissionID,
		Title:      in.Title,
		ModuleIDs:  in.ModuleIDs,
		Routing:    routing,
		Milestones: seedMilestones(routing),
		Status:     domain.MissionActive,
		CreatedAt:  time.Now().UTC(),
	}
	if err := domain.ValidateMission(m, reg); err != nil {
		return nil, err
	}

	if err := pathio.WriteJSON(missionPath(e.StateRoot, in.MissionID), m); err != nil {
		return nil, err
	}

	var worktrees []domain.WorktreeRecord
	if in.CreateWorktrees {
		for _, moduleID := range in.ModuleIDs {
			rec, _ := reg.FindModule(moduleID)
			target := filepath.Join(in.WorktreeRoot, in.MissionID, moduleID)
			branch := fmt.Sprintf("mission/%s/%s", in.MissionID, moduleID)
			wtRec := worktree.Create(ctx, e.StateRoot, moduleID, target, branch)
			worktrees = append(worktrees, wtRec)
			if wtRec.CreateStatus == "fallback" {
				if _, err := e.Events.Append(ctx, domain.EventEnvelope{
					Type:      "incident.logged",
					MissionID: in.MissionID,
					ModuleID:  rec.ModuleID,
					Payload:   map[string]any{"kind": string(clierr.WorktreeCreateFailed), "reason": wtRec.FallbackReason},
				}); err != nil {
					return nil, err
				}
			}
		}
		if err := pathio.WriteJSON(worktreesPath(e.StateRoot, in.MissionID), worktrees); err != nil {
			return nil, err
		}
	}

	if _, err := e.Events.Append(ctx, domain.EventEnvelope{
		Type:      "mission.created",
		MissionID: in.MissionID,
		Payload:   map[string]any{"module_ids": in.ModuleIDs, "routing": routing},
	}); err != nil {
		return nil, err
	}

	if len(m.Milestones) > 0 {
		first := m.Milestones[0]
		if _, err := e.Events.Append(ctx, domain.EventEnvelope{
			Type:      "milestone.activated",
			MissionID: in.MissionID,
			Payload:   map[string]any{"milestone_id": first.MilestoneID, "module_ids": first.ModuleIDs},
		}); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Advance activates the next pending milestone in routing order, detailing
// it with its module (earlier milestones keep their activated status), so
// a multi-module mission can be driven one hop at a time rather than
// requiring every module up front.
func (e *Engine) Advance(ctx context.Context, missionID string) (*domain.Mission, error) {
	m, err := e.Status(missionID)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, ms := range m.Milestones {
		if ms.Status == domain.MilestonePending {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, clierr.Newf(clierr.InvalidInput, "mission %q has no pending milestone to advance to", missionID)
	}

	moduleID := ""
	if idx < len(m.Routing) {
		moduleID = m.Routing[idx]
	}
	m.Milestones[idx].ModuleIDs = []string{moduleID}
	m.Milestones[idx].Status = domain.MilestoneActivated
	m.Milestones[idx].ActivatedAt = time.Now().UTC()

	if err := pathio.WriteJSON(missionPath(e.StateRoot, missionID), m); err != nil {
		return nil, err
	}
	if _, err := e.Events.Append(ctx, domain.EventEnvelope{
		Type:      "milestone.activated",
		MissionID: missionID,
		Payload:   map[string]any{"milestone_id": m.Milestones[idx].MilestoneID, "module_ids": m.Milestones[idx].ModuleIDs},
	}); err != nil {
		return nil, err
	}

	return m, nil
}

// Status loads a mission's durable record.
func (e *Engine) Status(missionID string) (*domain.Mission, error) {
	var m domain.Mission
	if err := pathio.ReadJSON(missionPath(e.StateRoot, missionID), &m); err != nil {
		return nil, clierr.Newf(clierr.NotFound, "mission %q not found: %v", missionID, err)
	}
	return &m, nil
}

// Worktrees loads a mission's worktree creation records, or nil if the
// mission was created without worktrees.
func (e *Engine) Worktrees(missionID string) ([]domain.WorktreeRecord, error) {
	path := worktreesPath(e.StateRoot, missionID)
	if !pathio.Exists(path) {
		return nil, nil
	}
	var recs []domain.WorktreeRecord
	if err := pathio.ReadJSON(path, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
