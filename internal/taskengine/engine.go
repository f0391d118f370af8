package taskengine

import (
	"context"
	"fmt"
	"time"

	"github.com/csk-next/csk/internal/clierr"
	"github.com/csk-next/csk/internal/domain"
	"github.com/csk-next/csk/internal/eventlog"
	"github.com/csk-next/csk/internal/incident"
	"github.com/csk-next/csk/internal/pathio"
)

// Engine drives the task lifecycle state machine against durable state
// rooted at StateRoot, emitting every transition to the event log.
type Engine struct {
	StateRoot string
	Events    *eventlog.Store
}

func New(stateRoot string, events *eventlog.Store) *Engine {
	return &Engine{StateRoot: stateRoot, Events: events}
}

func (e *Engine) emit(ctx context.Context, typ, taskID string, payload map[string]any) error {
	_, err := e.Events.Append(ctx, domain.EventEnvelope{
		Type:    typ,
		TaskID:  taskID,
		Payload: payload,
	})
	return err
}

// ReadState loads a task's durable task.json.
func (e *Engine) ReadState(taskID string) (*domain.TaskState, error) {
	mp, err := e.modulePathFor(taskID)
	if err != nil {
		return nil, err
	}
	var ts domain.TaskState
	if err := pathio.ReadJSON(statePath(e.StateRoot, mp, taskID), &ts); err != nil {
		return nil, clierr.Newf(clierr.NotFound, "task %q not found: %v", taskID, err)
	}
	return &ts, nil
}

// WriteState validates and durably writes ts, stamping UpdatedAt.
func (e *Engine) WriteState(ts *domain.TaskState) error {
	ts.UpdatedAt = time.Now().UTC()
	if err := domain.ValidateTaskState(ts); err != nil {
		return err
	}
	mp, err := e.modulePathFor(ts.TaskID)
	if err != nil {
		return err
	}
	return pathio.WriteJSON(statePath(e.StateRoot, mp, ts.TaskID), ts)
}

// setStatus performs one task status transition, clearing BlockedReason
// unless the destination is itself "blocked", and persisting the result.
func (e *Engine) setStatus(ts *domain.TaskState, to domain.TaskStatus, blockedReason string) error {
	if !domain.CanTransition(ts.Status, to) {
		return clierr.Newf(clierr.InvalidTransition, "cannot move task %s from %s to %s", ts.TaskID, ts.Status, to).
			WithDetails(map[string]any{"from": string(ts.Status), "to": string(to)})
	}
	ts.Status = to
	if to == domain.TaskBlocked {
		ts.BlockedReason = blockedReason
	} else {
		ts.BlockedReason = ""
	}
	return e.WriteState(ts)
}

// NewTaskInput configures the creation of a new task.
type NewTaskInput struct {
	TaskID       string
	ModuleID     string
	ModulePath   string
	PlanTemplate string
	SliceTitles  []string
}

// NewTask scaffolds a task's directory, plan.md, slices.json, and empty
// decisions log, then emits task.created and one slice.created event per
// slice.
func (e *Engine) NewTask(ctx context.Context, in NewTaskInput) (*domain.TaskState, error) {
	if pathio.Exists(statePath(e.StateRoot, in.ModulePath, in.TaskID)) {
		return nil, clierr.Newf(clierr.InvalidInput, "task %q already exists", in.TaskID)
	}
	if err := recordTaskModule(e.StateRoot, in.TaskID, in.ModulePath); err != nil {
		return nil, err
	}

	plan := in.PlanTemplate
	if plan == "" {
		plan = fmt.Sprintf("# %s\n\n## Goal\n\nTODO\n\n## Approach\n\nTODO\n\n## Acceptance\n\nTODO\n", in.TaskID)
	}
	if err := pathio.WriteFileAtomic(planPath(e.StateRoot, in.ModulePath, in.TaskID), []byte(plan)); err != nil {
		return nil, err
	}

	titles := in.SliceTitles
	if len(titles) == 0 {
		titles = []string{"implement"}
	}
	doc := &domain.SlicesDoc{TaskID: in.TaskID}
	for i, title := range titles {
		doc.Slices = append(doc.Slices, domain.DefaultSliceEntry(i+1, title))
	}
	if err := domain.ValidateSlicesDoc(doc); err != nil {
		return nil, err
	}
	if err := pathio.WriteJSON(slicesPath(e.StateRoot, in.ModulePath, in.TaskID), doc); err != nil {
		return nil, err
	}

	if err := pathio.EnsureDir(Dir(e.StateRoot, in.ModulePath, in.TaskID)); err != nil {
		return nil, err
	}
	if !pathio.Exists(decisionsPath(e.StateRoot, in.ModulePath, in.TaskID)) {
		if err := pathio.WriteFileAtomic(decisionsPath(e.StateRoot, in.ModulePath, in.TaskID), []byte("")); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	ts := &domain.TaskState{
		TaskID:    in.TaskID,
		ModuleID:  in.ModuleID,
		Status:    domain.TaskDraft,
		Slices:    map[string]*domain.SliceState{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, s := range doc.Slices {
		ts.SliceState(s.SliceID)
	}
	if err := e.WriteState(ts); err != nil {
		return nil, err
	}

	if err := e.emit(ctx, "task.created", in.TaskID, map[string]any{"module_id": in.ModuleID}); err != nil {
		return nil, err
	}
	for _, s := range doc.Slices {
		if err := e.emit(ctx, "slice.created", in.TaskID, map[string]any{"slice_id": s.SliceID, "title": s.Title}); err != nil {
			return nil, err
		}
	}
	return ts, nil
}

// RecordCritic writes a critic report and transitions the task to
// critic_passed on success, or back to draft on failure. Permitted from
// draft, frozen, plan_approved, or executing, so re-running the critic
// later in the lifecycle (e.g. after a plan edit) moves the task back to
// critic_passed rather than failing outright.
func (e *Engine) RecordCritic(ctx context.Context, taskID string, report domain.CriticReport) (*domain.TaskState, error) {
	report.TaskID = taskID
	if err := domain.ValidateCriticReport(&report); err != nil {
		return nil, err
	}
	mp, err := e.modulePathFor(taskID)
	if err != nil {
		return nil, err
	}
	if err := pathio.WriteJSON(criticReportPath(e.StateRoot, mp, taskID), report); err != nil {
		return nil, err
	}

	ts, err := e.ReadState(taskID)
	if err != nil {
		return nil, err
	}

	if report.Passed {
		if err := e.setStatus(ts, domain.TaskCriticPassed, ""); err != nil {
			return nil, err
		}
		if err := e.emit(ctx, "task.critic_passed", taskID, nil); err != nil {
			return nil, err
		}
	} else {
		if err := e.setStatus(ts, domain.TaskDraft, ""); err != nil {
			return nil, err
		}
		if err := e.emit(ctx, "task.critic_failed", taskID, map[string]any{"p0": report.P0Count, "p1": report.P1Count}); err != nil {
			return nil, err
		}
	}
	return ts, nil
}

// Freeze computes and stores the plan and slices content hashes,
// requiring a passed critic report, and transitions the task to frozen.
func (e *Engine) Freeze(ctx context.Context, taskID string) (*domain.FreezeRecord, error) {
	mp, err := e.modulePathFor(taskID)
	if err != nil {
		return nil, err
	}
	if !pathio.Exists(criticReportPath(e.StateRoot, mp, taskID)) {
		return nil, clierr.New(clierr.ReadyPrerequisitesMissing, "cannot freeze: no critic report on file")
	}
	var report domain.CriticReport
	if err := pathio.ReadJSON(criticReportPath(e.StateRoot, mp, taskID), &report); err != nil {
		return nil, err
	}
	if report.P0Count != 0 || report.P1Count != 0 {
		return nil, clierr.New(clierr.ReadyPrerequisitesMissing, "cannot freeze: critic report has outstanding P0/P1 findings")
	}

	planHash, slicesHash, err := e.computeHashes(taskID)
	if err != nil {
		return nil, err
	}

	fr := &domain.FreezeRecord{
		TaskID:     taskID,
		PlanHash:   planHash,
		SlicesHash: slicesHash,
		FrozenAt:   time.Now().UTC(),
	}
	if err := pathio.WriteJSON(freezePath(e.StateRoot, mp, taskID), fr); err != nil {
		return nil, err
	}

	ts, err := e.ReadState(taskID)
	if err != nil {
		return nil, err
	}
	if err := e.setStatus(ts, domain.TaskFrozen, ""); err != nil {
		return nil, err
	}
	if err := e.emit(ctx, "task.frozen", taskID, map[string]any{"plan_hash": planHash, "slices_hash": slicesHash}); err != nil {
		return nil, err
	}
	return fr, nil
}

func (e *Engine) computeHashes(taskID string) (planHash, slicesHash string, err error) {
	mp, err := e.modulePathFor(taskID)
	if err != nil {
		return "", "", err
	}
	planHash, err = pathio.SHA256File(planPath(e.StateRoot, mp, taskID))
	if err != nil {
		return "", "", fmt.Errorf("hashing plan.md: %w", err)
	}

	var doc domain.SlicesDoc
	if err := pathio.ReadJSON(slicesPath(e.StateRoot, mp, taskID), &doc); err != nil {
		return "", "", fmt.Errorf("reading slices.json: %w", err)
	}
	slicesHash, err = pathio.CanonicalHash(doc)
	if err != nil {
		return "", "", fmt.Errorf("hashing slices.json: %w", err)
	}
	return planHash, slicesHash, nil
}

// FreezeValid reports whether the task has a freeze record and its
// current plan.md / slices.json still hash-match that record. The string
// return value explains "ok" or the specific drift reason, mirroring the
// tri-state the original implementation used for diagnostics.
func (e *Engine) FreezeValid(taskID string) (bool, string) {
	mp, err := e.modulePathFor(taskID)
	if err != nil {
		return false, "unknown task"
	}
	if !pathio.Exists(freezePath(e.StateRoot, mp, taskID)) {
		return false, "missing freeze"
	}
	var fr domain.FreezeRecord
	if err := pathio.ReadJSON(freezePath(e.StateRoot, mp, taskID), &fr); err != nil {
		return false, "unreadable freeze record"
	}
	planHash, slicesHash, err := e.computeHashes(taskID)
	if err != nil {
		return false, "unreadable plan or slices"
	}
	if planHash != fr.PlanHash {
		return false, "plan drift"
	}
	if slicesHash != fr.SlicesHash {
		return false, "slices drift"
	}
	return true, "ok"
}

// ApprovePlan requires a valid, undrifted freeze and records a plan
// approval, transitioning the task to plan_approved.
func (e *Engine) ApprovePlan(ctx context.Context, taskID, approvedBy, notes string) (*domain.Approval, error) {
	valid, reason := e.FreezeValid(taskID)
	if !valid {
		return nil, clierr.Newf(clierr.PlanDrift, "cannot approve plan: %s", reason).
			WithDetails(map[string]any{"reason": reason})
	}

	mp, err := e.modulePathFor(taskID)
	if err != nil {
		return nil, err
	}
	approval := &domain.Approval{
		TaskID:     taskID,
		ApprovedBy: approvedBy,
		ApprovedAt: time.Now().UTC(),
		Notes:      notes,
	}
	if err := pathio.WriteJSON(planApprovalPath(e.StateRoot, mp, taskID), approval); err != nil {
		return nil, err
	}

	ts, err := e.ReadState(taskID)
	if err != nil {
		return nil, err
	}
	if err := e.setStatus(ts, domain.TaskPlanApproved, ""); err != nil {
		return nil, err
	}
	if err := e.emit(ctx, "task.plan_approved", taskID, map[string]any{"approved_by": approvedBy}); err != nil {
		return nil, err
	}
	return approval, nil
}

// RollbackOnDrift forces a task back to critic_passed when plan drift is
// detected at execution time, bypassing the normal forward-only transition
// graph since this is a system-detected correction, not a user-directed
// transition. The caller must re-freeze and re-approve before execution
// can resume. The drift is recorded as an incident rather than a bespoke
// event type.
func (e *Engine) RollbackOnDrift(ctx context.Context, ts *domain.TaskState, reason string) error {
	mp, err := e.modulePathFor(ts.TaskID)
	if err != nil {
		return err
	}
	ts.Status = domain.TaskCriticPassed
	ts.BlockedReason = ""
	if err := e.WriteState(ts); err != nil {
		return err
	}
	inc := incident.New(ts.TaskID, "", string(clierr.PlanDrift), reason, nil)
	if err := incident.Log(e.StateRoot, mp, inc); err != nil {
		return err
	}
	return e.emit(ctx, "incident.logged", ts.TaskID, map[string]any{"incident_id": inc.IncidentID, "kind": inc.Kind})
}

// PlanApproved reports whether a plan approval record exists on disk.
func (e *Engine) PlanApproved(taskID string) bool {
	mp, err := e.modulePathFor(taskID)
	if err != nil {
		return false
	}
	return pathio.Exists(planApprovalPath(e.StateRoot, mp, taskID))
}

// UserCheckApproved reports whether an operator has recorded the manual
// user-check approval a profile's user_check_required demands.
func (e *Engine) UserCheckApproved(taskID string) bool {
	mp, err := e.modulePathFor(taskID)
	if err != nil {
		return false
	}
	return pathio.Exists(UserCheckApprovalPath(e.StateRoot, mp, taskID))
}

// RecordUserCheck writes the operator's manual user-check approval.
func (e *Engine) RecordUserCheck(taskID, approvedBy, notes string) (*domain.Approval, error) {
	mp, err := e.modulePathFor(taskID)
	if err != nil {
		return nil, err
	}
	approval := &domain.Approval{
		TaskID:     taskID,
		ApprovedBy: approvedBy,
		ApprovedAt: time.Now().UTC(),
		Notes:      notes,
	}
	if err := pathio.WriteJSON(UserCheckApprovalPath(e.StateRoot, mp, taskID), approval); err != nil {
		return nil, err
	}
	return approval, nil
}

// LoadSlices reads a task's slices.json.
func (e *Engine) LoadSlices(taskID string) (*domain.SlicesDoc, error) {
	mp, err := e.modulePathFor(taskID)
	if err != nil {
		return nil, err
	}
	var doc domain.SlicesDoc
	if err := pathio.ReadJSON(slicesPath(e.StateRoot, mp, taskID), &doc); err != nil {
		return nil, fmt.Errorf("reading slices for %s: %w", taskID, err)
	}
	return &doc, nil
}

// EnsureExecutable requires the task be in a status from which slice
// execution is permitted.
func (e *Engine) EnsureExecutable(ts *domain.TaskState) error {
	switch ts.Status {
	case domain.TaskPlanApproved, domain.TaskExecuting, domain.TaskReadyValidated:
		return nil
	default:
		return clierr.Newf(clierr.InvalidTransition, "task %s is not executable from status %s", ts.TaskID, ts.Status)
	}
}

// MarkExecuting transitions plan_approved → executing, and is a no-op if
// the task is already executing or past it within the executable set. The
// transition itself is not independently eventful — proof.pack.written and
// slice.completed already record that execution happened.
func (e *Engine) MarkExecuting(ctx context.Context, ts *domain.TaskState) error {
	if ts.Status != domain.TaskPlanApproved {
		return nil
	}
	return e.setStatus(ts, domain.TaskExecuting, "")
}

// MarkBlocked transitions the task to blocked with the given reason. The
// caller is expected to have already logged an incident.logged event
// describing why; blocked is a state, not an event of its own.
func (e *Engine) MarkBlocked(ctx context.Context, ts *domain.TaskState, reason string) error {
	return e.setStatus(ts, domain.TaskBlocked, reason)
}

// SetStatus transitions the task to an arbitrary valid next status without
// emitting an event, for callers that emit their own domain-specific event
// for the same transition (e.g. ready.validated instead of
// task.ready_validated).
func (e *Engine) SetStatus(ts *domain.TaskState, to domain.TaskStatus) error {
	return e.setStatus(ts, to, "")
}

// AddDecision appends one free-form decision record to a task's decision
// log — a running rationale trail distinct from the event log, kept close
// to the task's own artifacts.
func (e *Engine) AddDecision(taskID string, decision map[string]any) error {
	mp, err := e.modulePathFor(taskID)
	if err != nil {
		return err
	}
	decision["recorded_at"] = time.Now().UTC()
	return pathio.AppendJSONL(decisionsPath(e.StateRoot, mp, taskID), decision)
}
