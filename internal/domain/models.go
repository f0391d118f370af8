// Package domain defines the kernel's entity types, the closed set of
// status vocabularies, and the task state machine. Every other package
// consumes these types rather than redefining its own shape for a task,
// slice, module, or mission.
package domain

import (
	"fmt"
	"time"
)

// TaskStatus is one of the closed set of task lifecycle states.
type TaskStatus string

const (
	TaskDraft          TaskStatus = "draft"
	TaskCriticPassed   TaskStatus = "critic_passed"
	TaskFrozen         TaskStatus = "frozen"
	TaskPlanApproved   TaskStatus = "plan_approved"
	TaskExecuting      TaskStatus = "executing"
	TaskBlocked        TaskStatus = "blocked"
	TaskReadyValidated TaskStatus = "ready_validated"
	TaskReadyApproved  TaskStatus = "ready_approved"
	TaskRetroDone      TaskStatus = "retro_done"
	TaskClosed         TaskStatus = "closed"
)

// TaskStatuses is the closed set of valid task statuses.
var TaskStatuses = map[TaskStatus]bool{
	TaskDraft: true, TaskCriticPassed: true, TaskFrozen: true,
	TaskPlanApproved: true, TaskExecuting: true, TaskBlocked: true,
	TaskReadyValidated: true, TaskReadyApproved: true, TaskRetroDone: true,
	TaskClosed: true,
}

// TaskTransitions is the closed transition graph for task status. Keys are
// source statuses; values are the set of statuses reachable in one step.
var TaskTransitions = map[TaskStatus][]TaskStatus{
	TaskDraft:          {TaskCriticPassed},
	TaskCriticPassed:   {TaskFrozen, TaskDraft},
	TaskFrozen:         {TaskPlanApproved, TaskCriticPassed, TaskDraft},
	TaskPlanApproved:   {TaskExecuting, TaskCriticPassed, TaskDraft},
	TaskExecuting:      {TaskBlocked, TaskReadyValidated, TaskCriticPassed, TaskDraft},
	TaskBlocked:        {TaskRetroDone, TaskExecuting},
	TaskReadyValidated: {TaskBlocked, TaskReadyApproved},
	TaskReadyApproved:  {TaskRetroDone},
	TaskRetroDone:      {TaskClosed},
	TaskClosed:         {},
}

// CanTransition reports whether moving from `from` to `to` is a legal
// single step in the task state machine.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range TaskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SliceStatus is one of the closed set of slice execution states.
type SliceStatus string

const (
	SliceTodo         SliceStatus = "todo"
	SliceRunning      SliceStatus = "running"
	SliceGateFailed   SliceStatus = "gate_failed"
	SliceReviewFailed SliceStatus = "review_failed"
	SliceBlocked      SliceStatus = "blocked"
	SliceDone         SliceStatus = "done"
)

// SliceStatuses is the closed set of valid slice statuses.
var SliceStatuses = map[SliceStatus]bool{
	SliceTodo: true, SliceRunning: true, SliceGateFailed: true,
	SliceReviewFailed: true, SliceBlocked: true, SliceDone: true,
}

// MissionStatus is one of the closed set of mission lifecycle states.
type MissionStatus string

const (
	MissionActive    MissionStatus = "active"
	MissionCompleted MissionStatus = "completed"
	MissionAbandoned MissionStatus = "abandoned"
)

// MissionStatuses is the closed set of valid mission statuses.
var MissionStatuses = map[MissionStatus]bool{
	MissionActive: true, MissionCompleted: true, MissionAbandoned: true,
}

// ModuleRecord describes one registered module: a named, path-scoped unit
// of the codebase the kernel drives tasks against.
type ModuleRecord struct {
	ModuleID   string    `json:"module_id"`
	Path       string    `json:"path"`
	Registered bool      `json:"registered"`
	CreatedAt  time.Time `json:"created_at"`
}

// Registry is the durable list of modules the kernel knows about.
type Registry struct {
	Modules []ModuleRecord `json:"modules"`
}

// FindModule returns the module with the given ID, or ok=false.
func (r *Registry) FindModule(moduleID string) (ModuleRecord, bool) {
	for _, m := range r.Modules {
		if m.ModuleID == moduleID {
			return m, true
		}
	}
	return ModuleRecord{}, false
}

// FindModuleByPath returns the module registered at the given normalized
// path, or ok=false.
func (r *Registry) FindModuleByPath(path string) (ModuleRecord, bool) {
	for _, m := range r.Modules {
		if m.Path == path {
			return m, true
		}
	}
	return ModuleRecord{}, false
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{Modules: []ModuleRecord{}}
}

// GateName identifies one of the four gates a slice can require.
type GateName string

const (
	GateNameScope  GateName = "scope"
	GateNameVerify GateName = "verify"
	GateNameReview GateName = "review"
	GateNameE2E    GateName = "e2e"
)

// DefaultRequiredGates is the set of gates a slice requires when its
// required_gates field is left empty at task_new time.
var DefaultRequiredGates = []string{string(GateNameScope), string(GateNameVerify), string(GateNameReview)}

// SliceEntry is one unit of independently-gated work within a task's plan.
type SliceEntry struct {
	SliceID        string   `json:"slice_id"`
	Title          string   `json:"title"`
	Deps           []string `json:"deps,omitempty"`
	AllowedPaths   []string `json:"allowed_paths,omitempty"`
	ForbiddenPaths []string `json:"forbidden_paths,omitempty"`
	RequiredGates  []string `json:"required_gates,omitempty"`
	VerifyCommands []string `json:"verify_commands,omitempty"`
	MaxAttempts    int      `json:"max_attempts,omitempty"`
}

// RequiresGate reports whether this slice requires the named gate, falling
// back to DefaultRequiredGates when the slice does not specify its own set.
func (s SliceEntry) RequiresGate(name string) bool {
	gates := s.RequiredGates
	if len(gates) == 0 {
		gates = DefaultRequiredGates
	}
	for _, g := range gates {
		if g == name {
			return true
		}
	}
	return false
}

// SlicesDoc is the durable slices.json document: the ordered plan of
// slices for a task.
type SlicesDoc struct {
	TaskID string       `json:"task_id"`
	Slices []SliceEntry `json:"slices"`
}

// DefaultMaxAttempts is used when a slice entry does not specify one.
const DefaultMaxAttempts = 2

// DefaultSliceEntry returns a slice entry with a generated ID and default
// retry ceiling, used when scaffolding a new task's plan.
func DefaultSliceEntry(index int, title string) SliceEntry {
	return SliceEntry{
		SliceID:       SliceIDFromIndex(index),
		Title:         title,
		RequiredGates: append([]string(nil), DefaultRequiredGates...),
		MaxAttempts:   DefaultMaxAttempts,
	}
}

// SliceIDFromIndex renders a 1-based slice index as its canonical,
// densely zero-padded ID: S-0001, S-0002, ...
func SliceIDFromIndex(index int) string {
	return fmt.Sprintf("S-%04d", index)
}

// SliceState is the per-slice runtime state tracked in task.json.
type SliceState struct {
	SliceID  string      `json:"slice_id"`
	Status   SliceStatus `json:"status"`
	Attempts int         `json:"attempts"`
}

// TaskState is the durable task.json document: the task's current
// status and per-slice runtime state.
type TaskState struct {
	TaskID        string                 `json:"task_id"`
	ModuleID      string                 `json:"module_id"`
	Status        TaskStatus             `json:"status"`
	BlockedReason string                 `json:"blocked_reason,omitempty"`
	Slices        map[string]*SliceState `json:"slices"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// SliceState returns the state for sliceID, creating a fresh todo entry if
// absent.
func (ts *TaskState) SliceState(sliceID string) *SliceState {
	if ts.Slices == nil {
		ts.Slices = map[string]*SliceState{}
	}
	s, ok := ts.Slices[sliceID]
	if !ok {
		s = &SliceState{SliceID: sliceID, Status: SliceTodo}
		ts.Slices[sliceID] = s
	}
	return s
}

// AllSlicesDone reports whether every slice named in doc is done according
// to ts.
func (ts *TaskState) AllSlicesDone(doc *SlicesDoc) bool {
	for _, entry := range doc.Slices {
		s, ok := ts.Slices[entry.SliceID]
		if !ok || s.Status != SliceDone {
			return false
		}
	}
	return true
}

// FreezeRecord is the durable freeze.json document recording the plan's
// content hashes at the moment a task's plan was frozen.
type FreezeRecord struct {
	TaskID     string    `json:"task_id"`
	PlanHash   string    `json:"plan_hash"`
	SlicesHash string    `json:"slices_hash"`
	FrozenAt   time.Time `json:"frozen_at"`
}

// CriticReport is the durable critic_report.json document. P0/P1 findings
// block a pass; P2/P3 are advisory and recorded for visibility only.
type CriticReport struct {
	TaskID   string   `json:"task_id"`
	Passed   bool     `json:"passed"`
	P0Count  int      `json:"p0_count"`
	P1Count  int      `json:"p1_count"`
	P2Count  int      `json:"p2_count"`
	P3Count  int      `json:"p3_count"`
	Findings []string `json:"findings,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

// Approval is a durable approval record (plan approval or ready approval).
type Approval struct {
	TaskID     string    `json:"task_id"`
	ApprovedBy string    `json:"approved_by"`
	ApprovedAt time.Time `json:"approved_at"`
	Notes      string    `json:"notes,omitempty"`
}

// GateKind identifies which gate a proof belongs to.
type GateKind string

const (
	GateScope  GateKind = "scope"
	GateVerify GateKind = "verify"
	GateReview GateKind = "review"
	GateE2E    GateKind = "e2e"
	GateReady  GateKind = "ready"
)

// ScopeProof is the durable record of a scope-gate check.
type ScopeProof struct {
	TaskID       string    `json:"task_id"`
	SliceID      string    `json:"slice_id"`
	Passed       bool      `json:"passed"`
	AllowedPaths []string  `json:"allowed_paths"`
	Changed      []string  `json:"changed"`
	Violations   []string  `json:"violations,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// CommandResult is the captured outcome of running one command.
type CommandResult struct {
	Argv       []string `json:"argv"`
	ExitCode   int      `json:"exit_code"`
	Stdout     string   `json:"stdout"`
	Stderr     string   `json:"stderr"`
	DurationMS int64    `json:"duration_ms"`
}

// VerifyProof is the durable record of a verify-gate run.
type VerifyProof struct {
	TaskID        string          `json:"task_id"`
	SliceID       string          `json:"slice_id"`
	Passed        bool            `json:"passed"`
	ExecutedCount int             `json:"executed_count"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Commands      []CommandResult `json:"commands"`
	CheckedAt     time.Time       `json:"checked_at"`
}

// ReviewProof is the durable record of a review-gate recording.
type ReviewProof struct {
	TaskID    string    `json:"task_id"`
	SliceID   string    `json:"slice_id"`
	Reviewer  string    `json:"reviewer"`
	P0        int       `json:"p0"`
	P1        int       `json:"p1"`
	P2        int       `json:"p2"`
	P3        int       `json:"p3"`
	Notes     string    `json:"notes,omitempty"`
	Passed    bool      `json:"passed"`
	CheckedAt time.Time `json:"checked_at"`
}

// E2EProof is the durable record of an end-to-end gate run.
type E2EProof struct {
	TaskID        string          `json:"task_id"`
	SliceID       string          `json:"slice_id"`
	Passed        bool            `json:"passed"`
	Commands      []CommandResult `json:"commands"`
	CheckedAt     time.Time       `json:"checked_at"`
}

// GateSummary records, per slice, whether each gate's proof passed — used
// to build a proof pack manifest and to feed the ready gate's aggregation.
// VerifyExecutedCount distinguishes a verify gate that ran commands and
// passed from one that was simply skipped (required_gates omits verify,
// or no commands were configured) — the ready gate treats an unexecuted
// verify as insufficient even when Verify reads true.
type GateSummary struct {
	Scope               bool `json:"scope"`
	Verify              bool `json:"verify"`
	VerifyExecutedCount int  `json:"verify_executed_count"`
	Review              bool `json:"review"`
	E2E                 bool `json:"e2e"`
}

// ProofManifest is the durable manifest.json written at the end of a
// successful slice execution, summarizing which gates ran and passed.
type ProofManifest struct {
	TaskID    string      `json:"task_id"`
	SliceID   string      `json:"slice_id"`
	Gates     GateSummary `json:"gates"`
	WrittenAt time.Time   `json:"written_at"`
}

// ReadyProof is the durable record of the ready gate's aggregate check
// across every slice in a task.
type ReadyProof struct {
	TaskID           string    `json:"task_id"`
	Passed           bool      `json:"passed"`
	UserCheckRequired bool     `json:"user_check_required"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	CheckedAt        time.Time `json:"checked_at"`
}

// Incident is the durable record of one gate-failure or policy-rejection
// event, logged both globally and per-task.
type Incident struct {
	IncidentID string         `json:"incident_id"`
	TaskID     string         `json:"task_id"`
	SliceID    string         `json:"slice_id,omitempty"`
	Kind       string         `json:"kind"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	LoggedAt   time.Time      `json:"logged_at"`
}

// Profile is the merged runtime policy record controlling gate
// requirements and command execution for a task or slice.
type Profile struct {
	Name               string   `json:"name"`
	RequireScope       bool     `json:"require_scope"`
	RequireVerify      bool     `json:"require_verify"`
	RequireReview      bool     `json:"require_review"`
	RequireE2E         bool     `json:"require_e2e"`
	VerifyCommands     []string `json:"verify_commands,omitempty"`
	E2ECommands        []string `json:"e2e_commands,omitempty"`
	AllowlistCommands  []string `json:"allowlist_commands,omitempty"`
	DenylistCommands   []string `json:"denylist_commands,omitempty"`
	UserCheckRequired  bool     `json:"user_check_required"`
	WorktreeDefault    bool     `json:"worktree_default"`
	PTY                bool     `json:"pty"`
	CommandTimeoutSecs int      `json:"command_timeout_secs,omitempty"`
}

// MilestoneStatus is a milestone's coarse lifecycle position.
type MilestoneStatus string

const (
	MilestonePending   MilestoneStatus = "pending"
	MilestoneActivated MilestoneStatus = "activated"
)

// Milestone is one named checkpoint within a mission's routing plan,
// detailed (given a concrete module set) only once it is current;
// downstream milestones may be named but left empty until reached.
type Milestone struct {
	MilestoneID string          `json:"milestone_id"`
	Title       string          `json:"title"`
	ModuleIDs   []string        `json:"modules,omitempty"`
	Status      MilestoneStatus `json:"status"`
	ActivatedAt time.Time       `json:"activated_at,omitempty"`
}

// Mission groups a set of tasks across one or more modules toward a shared
// goal, optionally materialized as per-module git worktrees. Routing
// records the module traversal order a mission intends to follow;
// Milestones are the checkpoints along that route.
type Mission struct {
	MissionID  string        `json:"mission_id"`
	Title      string        `json:"title"`
	ModuleIDs  []string      `json:"module_ids"`
	Routing    []string      `json:"routing,omitempty"`
	Milestones []Milestone   `json:"milestones,omitempty"`
	Status     MissionStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
}

// WorktreeRecord is the durable record of one mission/module worktree
// creation attempt, successful or not.
type WorktreeRecord struct {
	ModuleID       string `json:"module_id"`
	Path           string `json:"path"`
	Branch         string `json:"branch"`
	CreateStatus   string `json:"create_status"` // "created", "existing", "fallback"
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// EventEnvelope is the shape of every row appended to the event log.
type EventEnvelope struct {
	ID             int64          `json:"id"`
	TS             time.Time      `json:"ts"`
	Type           string         `json:"type"`
	Actor          string         `json:"actor,omitempty"`
	MissionID      string         `json:"mission_id,omitempty"`
	ModuleID       string         `json:"module_id,omitempty"`
	TaskID         string         `json:"task_id,omitempty"`
	SliceID        string         `json:"slice_id,omitempty"`
	RepoGitHead    string         `json:"repo_git_head,omitempty"`
	WorktreePath   string         `json:"worktree_path,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	ArtifactRefs   []string       `json:"artifact_refs,omitempty"`
	EngineVersion  string         `json:"engine_version,omitempty"`
}
