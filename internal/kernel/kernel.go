// Package kernel wires every subsystem — event log, registry, profile,
// task engine, gates, mission, retro, status, replay, and validate — into
// the single set of operations a front end (or a test) drives. It is the
// only package that constructs the others together; everything else can
// be exercised in isolation.
package kernel

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/csk-next/csk/internal/clierr"
	"github.com/csk-next/csk/internal/domain"
	"github.com/csk-next/csk/internal/envelope"
	"github.com/csk-next/csk/internal/eventlog"
	"github.com/csk-next/csk/internal/filelock"
	"github.com/csk-next/csk/internal/gate"
	"github.com/csk-next/csk/internal/mission"
	"github.com/csk-next/csk/internal/pathio"
	"github.com/csk-next/csk/internal/profile"
	"github.com/csk-next/csk/internal/registry"
	"github.com/csk-next/csk/internal/replay"
	"github.com/csk-next/csk/internal/retro"
	"github.com/csk-next/csk/internal/runner"
	"github.com/csk-next/csk/internal/status"
	"github.com/csk-next/csk/internal/taskengine"
	"github.com/csk-next/csk/internal/validate"
)

// Kernel bundles every subsystem handle against one resolved state root.
type Kernel struct {
	StateRoot string
	Events    *eventlog.Store
	Tasks     *taskengine.Engine
	Missions  *mission.Engine
	Retro     *retro.Engine

	unlock func() error
}

// Open resolves the state root, acquires its process lock, and opens the
// event log, returning a ready Kernel. Callers must Close it when done.
// The lock prevents two kernel processes from driving the same task
// lifecycle against the same state root concurrently; the event log's own
// single-writer serialization only protects against concurrent writers
// within one process.
func Open(explicitRoot string) (*Kernel, error) {
	root, err := pathio.ResolveStateRoot(explicitRoot)
	if err != nil {
		return nil, err
	}
	if err := pathio.EnsureDir(filepath.Join(root, ".csk")); err != nil {
		return nil, fmt.Errorf("preparing state root: %w", err)
	}
	unlock, err := filelock.Lock(filepath.Join(root, ".csk", "kernel.lock"))
	if err != nil {
		return nil, fmt.Errorf("acquiring kernel lock: %w", err)
	}
	dbPath := filepath.Join(root, ".csk", "app", "events.db")
	store, err := eventlog.Open(dbPath, root)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &Kernel{
		StateRoot: root,
		Events:    store,
		Tasks:     taskengine.New(root, store),
		Missions:  mission.New(root, store),
		Retro:     retro.New(root, store),
		unlock:    unlock,
	}, nil
}

func (k *Kernel) Close() error {
	err := k.Events.Close()
	if unlockErr := k.unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	return err
}

// bracket wraps one state-mutating kernel operation with the reserved
// command.started/command.completed event pair, so the operation and its
// outcome are recoverable from the log even if the process dies mid-way.
// These bracket events are deliberately not tagged with task_id: they
// record "an operation ran", not a task-lifecycle fact, so a per-task
// replay of events never has to filter them back out.
func (k *Kernel) bracket(ctx context.Context, op, taskID string, fn func() envelope.Envelope) envelope.Envelope {
	if _, err := k.Events.Append(ctx, domain.EventEnvelope{
		Type:    "command.started",
		Payload: map[string]any{"op": op, "task_id": taskID},
	}); err != nil {
		return envelope.FromError(err)
	}
	result := fn()
	status := result.Status
	if ctx.Err() != nil {
		status = "cancelled"
	}
	if _, err := k.Events.Append(context.WithoutCancel(ctx), domain.EventEnvelope{
		Type:    "command.completed",
		Payload: map[string]any{"op": op, "task_id": taskID, "status": status},
	}); err != nil {
		return envelope.FromError(err)
	}
	return result
}

// appDirs are the durable directories bootstrap ensures exist.
var appDirs = []string{
	filepath.Join(".csk", "app", "missions"),
	filepath.Join(".csk", "modules"),
	filepath.Join(".csk", "local", "patches"),
	filepath.Join(".csk", "local", "profiles"),
}

// Bootstrap ensures the kernel's on-disk layout exists: the app state
// tree, an empty registry, and the local overlay directories a profile or
// patch proposal might be written into.
func (k *Kernel) Bootstrap(ctx context.Context) envelope.Envelope {
	return k.bracket(ctx, "bootstrap", "", func() envelope.Envelope { return k.doBootstrap(ctx) })
}

func (k *Kernel) doBootstrap(ctx context.Context) envelope.Envelope {
	for _, rel := range appDirs {
		if err := pathio.EnsureDir(filepath.Join(k.StateRoot, rel)); err != nil {
			return envelope.FromError(err)
		}
	}
	if !pathio.Exists(registry.Path(k.StateRoot)) {
		if err := registry.Save(k.StateRoot, domain.NewRegistry()); err != nil {
			return envelope.FromError(err)
		}
	}
	if _, err := k.Events.Append(ctx, domain.EventEnvelope{Type: "bootstrap.completed"}); err != nil {
		return envelope.FromError(err)
	}
	return envelope.OK("kernel bootstrapped at "+k.StateRoot, nil).WithNext("module add")
}

// ModuleAdd registers a module at path under moduleID.
func (k *Kernel) ModuleAdd(ctx context.Context, moduleID, path string) envelope.Envelope {
	return k.bracket(ctx, "module_add", "", func() envelope.Envelope { return k.doModuleAdd(ctx, moduleID, path) })
}

func (k *Kernel) doModuleAdd(ctx context.Context, moduleID, path string) envelope.Envelope {
	rec, err := registry.Add(k.StateRoot, moduleID, path)
	if err != nil {
		return envelope.FromError(err)
	}
	if _, err := k.Events.Append(ctx, domain.EventEnvelope{
		Type:     "module.added",
		ModuleID: rec.ModuleID,
		Payload:  map[string]any{"path": rec.Path},
	}); err != nil {
		return envelope.FromError(err)
	}
	return envelope.OK(fmt.Sprintf("registered module %s at %s", rec.ModuleID, rec.Path),
		map[string]any{"module_id": rec.ModuleID, "path": rec.Path}).WithNext("module init " + rec.ModuleID)
}

// ModuleInit scaffolds a registered module's kernel metadata directory.
func (k *Kernel) ModuleInit(ctx context.Context, moduleID string) envelope.Envelope {
	return k.bracket(ctx, "module_init", "", func() envelope.Envelope { return k.doModuleInit(ctx, moduleID) })
}

func (k *Kernel) doModuleInit(ctx context.Context, moduleID string) envelope.Envelope {
	rec, err := registry.Get(k.StateRoot, moduleID)
	if err != nil {
		return envelope.FromError(err)
	}
	if err := registry.Init(k.StateRoot, rec); err != nil {
		return envelope.FromError(err)
	}
	if err := pathio.EnsureDir(filepath.Join(k.StateRoot, ".csk", "modules", registry.PathSegment(rec.Path), "tasks")); err != nil {
		return envelope.FromError(err)
	}
	if err := pathio.EnsureDir(filepath.Join(k.StateRoot, ".csk", "modules", registry.PathSegment(rec.Path), "run", "tasks")); err != nil {
		return envelope.FromError(err)
	}
	if _, err := k.Events.Append(ctx, domain.EventEnvelope{
		Type:     "module.initialized",
		ModuleID: moduleID,
	}); err != nil {
		return envelope.FromError(err)
	}
	return envelope.OK("initialized module "+moduleID, nil).WithNext("task new")
}

// TaskNew creates a new task.
func (k *Kernel) TaskNew(ctx context.Context, in taskengine.NewTaskInput) envelope.Envelope {
	return k.bracket(ctx, "task_new", in.TaskID, func() envelope.Envelope { return k.doTaskNew(ctx, in) })
}

func (k *Kernel) doTaskNew(ctx context.Context, in taskengine.NewTaskInput) envelope.Envelope {
	rec, err := registry.Get(k.StateRoot, in.ModuleID)
	if err != nil {
		return envelope.FromError(err)
	}
	in.ModulePath = rec.Path
	ts, err := k.Tasks.NewTask(ctx, in)
	if err != nil {
		return envelope.FromError(err)
	}
	return envelope.OK("created task "+ts.TaskID, map[string]any{"task_id": ts.TaskID, "status": ts.Status}).
		WithNext("task critic " + ts.TaskID)
}

// TaskCritic runs the structural critic against a task's plan and slices
// and records the resulting report.
func (k *Kernel) TaskCritic(ctx context.Context, taskID, notes string) envelope.Envelope {
	return k.bracket(ctx, "task_critic", taskID, func() envelope.Envelope { return k.doTaskCritic(ctx, taskID, notes) })
}

func (k *Kernel) doTaskCritic(ctx context.Context, taskID, notes string) envelope.Envelope {
	report, err := k.Tasks.RunStructuralCritic(taskID)
	if err != nil {
		return envelope.FromError(err)
	}
	report.Notes = notes

	ts, err := k.Tasks.RecordCritic(ctx, taskID, report)
	if err != nil {
		return envelope.FromError(err)
	}
	next := "task freeze " + taskID
	if ts.Status == domain.TaskDraft {
		next = "revise plan and re-run task critic " + taskID
	}
	return envelope.OK("recorded critic report for "+taskID, map[string]any{
		"status":   ts.Status,
		"passed":   report.Passed,
		"p0_count": report.P0Count,
		"p1_count": report.P1Count,
		"findings": report.Findings,
	}).WithNext(next)
}

// TaskFreeze freezes a task's plan.
func (k *Kernel) TaskFreeze(ctx context.Context, taskID string) envelope.Envelope {
	return k.bracket(ctx, "task_freeze", taskID, func() envelope.Envelope { return k.doTaskFreeze(ctx, taskID) })
}

func (k *Kernel) doTaskFreeze(ctx context.Context, taskID string) envelope.Envelope {
	fr, err := k.Tasks.Freeze(ctx, taskID)
	if err != nil {
		return envelope.FromError(err)
	}
	return envelope.OK("froze plan for "+taskID, map[string]any{"plan_hash": fr.PlanHash, "slices_hash": fr.SlicesHash}).
		WithNext("task approve-plan " + taskID)
}

// TaskApprovePlan approves a frozen plan.
func (k *Kernel) TaskApprovePlan(ctx context.Context, taskID, approvedBy, notes string) envelope.Envelope {
	return k.bracket(ctx, "task_approve_plan", taskID, func() envelope.Envelope {
		return k.doTaskApprovePlan(ctx, taskID, approvedBy, notes)
	})
}

func (k *Kernel) doTaskApprovePlan(ctx context.Context, taskID, approvedBy, notes string) envelope.Envelope {
	approval, err := k.Tasks.ApprovePlan(ctx, taskID, approvedBy, notes)
	if err != nil {
		e := envelope.FromError(err)
		if ce, ok := err.(*clierr.Error); ok && ce.Code == clierr.PlanDrift {
			e = e.WithNext("task critic "+taskID, "task freeze "+taskID, "task approve-plan "+taskID)
		}
		return e
	}
	return envelope.OK("approved plan for "+taskID, map[string]any{"approved_by": approval.ApprovedBy}).
		WithNext("slice run " + taskID)
}

// SliceRunInput configures one slice run against a loaded profile.
type SliceRunInput struct {
	TaskID       string
	SliceID      string
	RepoRoot     string
	Profile      domain.Profile
	ImplementCmd []string
	E2ERequired  bool
	E2ECommands  []string
	Review       taskengine.ReviewInput
}

// SliceRun executes one attempt of a slice's gate pipeline.
func (k *Kernel) SliceRun(ctx context.Context, in SliceRunInput) envelope.Envelope {
	return k.bracket(ctx, "slice_run", in.TaskID, func() envelope.Envelope { return k.doSliceRun(ctx, in) })
}

func (k *Kernel) doSliceRun(ctx context.Context, in SliceRunInput) envelope.Envelope {
	allow, deny := profile.CommandPolicy(in.Profile)
	policy := runner.Policy{Allow: allow, Deny: deny}
	opts := runner.Options{Dir: in.RepoRoot, PTY: in.Profile.PTY}
	if in.Profile.CommandTimeoutSecs > 0 {
		opts.Timeout = time.Duration(in.Profile.CommandTimeoutSecs) * time.Second
	}

	result, err := k.Tasks.ExecuteSlice(ctx, taskengine.ExecuteSliceInput{
		TaskID:       in.TaskID,
		SliceID:      in.SliceID,
		RepoRoot:     in.RepoRoot,
		Profile:      in.Profile,
		ImplementCmd: in.ImplementCmd,
		Policy:       policy,
		RunnerOpts:   opts,
		E2ERequired:  in.E2ERequired,
		E2ECommands:  in.E2ECommands,
		Review:       in.Review,
	})
	if err != nil {
		e := envelope.FromError(err)
		if ce, ok := err.(*clierr.Error); ok {
			switch ce.Code {
			case clierr.PlanDrift:
				e = e.WithNext("task critic "+in.TaskID, "task freeze "+in.TaskID, "task approve-plan "+in.TaskID)
			case clierr.ScopeViolation:
				e = e.WithNext("revert files outside allowed_paths and re-run slice run " + in.TaskID + " " + in.SliceID)
			case clierr.TokenWaste:
				e = e.WithNext("retro run " + in.TaskID)
			}
		}
		if result != nil {
			e.Data = map[string]any{"status": result.Status, "attempts": result.Attempts}
		}
		return e
	}
	return envelope.OK(fmt.Sprintf("slice %s completed (attempt %d)", in.SliceID, result.Attempts),
		map[string]any{"status": result.Status, "attempts": result.Attempts})
}

// GateValidateReady aggregates a task's slice gate outcomes into a ready
// proof, writes the handoff docs on success, and transitions the task.
func (k *Kernel) GateValidateReady(ctx context.Context, taskID string, userCheckRequired bool) envelope.Envelope {
	return k.bracket(ctx, "gate_validate_ready", taskID, func() envelope.Envelope {
		return k.doGateValidateReady(ctx, taskID, userCheckRequired)
	})
}

func (k *Kernel) doGateValidateReady(ctx context.Context, taskID string, userCheckRequired bool) envelope.Envelope {
	ts, err := k.Tasks.ReadState(taskID)
	if err != nil {
		return envelope.FromError(err)
	}
	doc, err := k.Tasks.LoadSlices(taskID)
	if err != nil {
		return envelope.FromError(err)
	}
	mp, err := k.Tasks.ModulePathFor(taskID)
	if err != nil {
		return envelope.FromError(err)
	}

	var readiness []gate.SliceReadiness
	for _, s := range doc.Slices {
		manifestPath := taskengine.ManifestPath(k.StateRoot, mp, taskID, s.SliceID)
		var gates domain.GateSummary
		if pathio.Exists(manifestPath) {
			var manifest domain.ProofManifest
			if err := pathio.ReadJSON(manifestPath, &manifest); err == nil {
				gates = manifest.Gates
			}
		}
		readiness = append(readiness, gate.SliceReadiness{
			SliceID:        s.SliceID,
			Gates:          gates,
			VerifyRequired: s.RequiresGate(string(domain.GateNameVerify)),
		})
	}

	valid, reason := k.Tasks.FreezeValid(taskID)
	proof := gate.ValidateReady(gate.ReadyInput{
		FreezeValid:       valid,
		FreezeReason:      reason,
		PlanApproved:      k.Tasks.PlanApproved(taskID),
		Slices:            readiness,
		UserCheckRequired: userCheckRequired,
		UserCheckApproved: k.Tasks.UserCheckApproved(taskID),
	})

	readyProofPath := taskengine.ReadyProofPath(k.StateRoot, mp, taskID)
	if err := pathio.WriteJSON(readyProofPath, proof); err != nil {
		return envelope.FromError(err)
	}

	if !proof.Passed {
		var missing []string
		for _, r := range readiness {
			complete := r.Gates.Scope && r.Gates.Verify && r.Gates.Review && r.Gates.E2E
			if complete && r.VerifyRequired && r.Gates.VerifyExecutedCount == 0 {
				complete = false
			}
			if !complete {
				missing = append(missing, r.SliceID)
			}
		}
		errs := append([]string{string(clierr.ReadyPrerequisitesMissing) + ": " + proof.FailureReason}, missing...)
		e := envelope.Envelope{
			Summary: "ready gate failed: " + proof.FailureReason,
			Status:  "error",
			Errors:  errs,
		}
		return e.WithNext("complete outstanding gates for the listed slices, then re-run gate validate-ready " + taskID)
	}

	md, docJSON := gate.HandoffDocs(taskID, proof, readiness)
	handoffMD := taskengine.HandoffMDPath(k.StateRoot, mp, taskID)
	handoffJSON := taskengine.HandoffJSONPath(k.StateRoot, mp, taskID)
	if err := pathio.WriteFileAtomic(handoffMD, []byte(md)); err != nil {
		return envelope.FromError(err)
	}
	if err := pathio.WriteJSON(handoffJSON, docJSON); err != nil {
		return envelope.FromError(err)
	}

	if err := k.Tasks.SetStatus(ts, domain.TaskReadyValidated); err != nil {
		return envelope.FromError(err)
	}
	if _, err := k.Events.Append(ctx, domain.EventEnvelope{
		Type:         "ready.validated",
		TaskID:       taskID,
		ArtifactRefs: []string{readyProofPath, handoffMD},
	}); err != nil {
		return envelope.FromError(err)
	}

	next := "gate approve-ready " + taskID
	if proof.UserCheckRequired {
		next = "perform the manual smoke check in handoff.md, then " + next
	}
	return envelope.OK("task "+taskID+" is ready", nil).WithNext(next).WithRefs(handoffMD, readyProofPath)
}

// GateApproveReady records the human approval that follows a passed ready
// gate.
func (k *Kernel) GateApproveReady(ctx context.Context, taskID, approvedBy, notes string) envelope.Envelope {
	return k.bracket(ctx, "gate_approve_ready", taskID, func() envelope.Envelope {
		return k.doGateApproveReady(ctx, taskID, approvedBy, notes)
	})
}

func (k *Kernel) doGateApproveReady(ctx context.Context, taskID, approvedBy, notes string) envelope.Envelope {
	ts, err := k.Tasks.ReadState(taskID)
	if err != nil {
		return envelope.FromError(err)
	}
	if ts.Status != domain.TaskReadyValidated {
		return envelope.FromError(clierr.Newf(clierr.ReadyPrerequisitesMissing,
			"task %s must be ready_validated before approval (currently %s)", taskID, ts.Status))
	}

	mp, err := k.Tasks.ModulePathFor(taskID)
	if err != nil {
		return envelope.FromError(err)
	}
	approval := &domain.Approval{TaskID: taskID, ApprovedBy: approvedBy, Notes: notes}
	approvalPath := taskengine.ReadyApprovalPath(k.StateRoot, mp, taskID)
	if err := pathio.WriteJSON(approvalPath, approval); err != nil {
		return envelope.FromError(err)
	}

	if err := k.Tasks.SetStatus(ts, domain.TaskReadyApproved); err != nil {
		return envelope.FromError(err)
	}
	if _, err := k.Events.Append(ctx, domain.EventEnvelope{
		Type:         "ready.approved",
		TaskID:       taskID,
		ArtifactRefs: []string{approvalPath},
	}); err != nil {
		return envelope.FromError(err)
	}
	return envelope.OK("approved ready for "+taskID, nil).WithNext("retro run " + taskID)
}

// TaskUserCheck records the operator's manual user-check approval ahead of
// ready gate validation, satisfying a profile's user_check_required.
func (k *Kernel) TaskUserCheck(ctx context.Context, taskID, approvedBy, notes string) envelope.Envelope {
	return k.bracket(ctx, "task_user_check", taskID, func() envelope.Envelope {
		return k.doTaskUserCheck(taskID, approvedBy, notes)
	})
}

func (k *Kernel) doTaskUserCheck(taskID, approvedBy, notes string) envelope.Envelope {
	approval, err := k.Tasks.RecordUserCheck(taskID, approvedBy, notes)
	if err != nil {
		return envelope.FromError(err)
	}
	return envelope.OK("recorded user check for "+taskID, map[string]any{"approved_by": approval.ApprovedBy}).
		WithNext("gate validate-ready " + taskID)
}

// RetroRun runs the retro stage for a task.
func (k *Kernel) RetroRun(ctx context.Context, taskID, userFeedback string) envelope.Envelope {
	return k.bracket(ctx, "retro_run", taskID, func() envelope.Envelope { return k.doRetroRun(ctx, taskID, userFeedback) })
}

func (k *Kernel) doRetroRun(ctx context.Context, taskID, userFeedback string) envelope.Envelope {
	md, err := k.Retro.Run(ctx, taskID, userFeedback)
	if err != nil {
		return envelope.FromError(err)
	}
	return envelope.OK("retro complete for "+taskID, map[string]any{"retro_md": md}).WithNext("task close " + taskID)
}

// TaskClose closes a task that has completed its retro, the final step in
// the task lifecycle.
func (k *Kernel) TaskClose(ctx context.Context, taskID string) envelope.Envelope {
	return k.bracket(ctx, "task_close", taskID, func() envelope.Envelope { return k.doTaskClose(ctx, taskID) })
}

func (k *Kernel) doTaskClose(ctx context.Context, taskID string) envelope.Envelope {
	ts, err := k.Tasks.ReadState(taskID)
	if err != nil {
		return envelope.FromError(err)
	}
	if ts.Status != domain.TaskRetroDone {
		return envelope.FromError(clierr.Newf(clierr.InvalidTransition,
			"task %s must be retro_done before it can be closed (currently %s)", taskID, ts.Status))
	}
	if err := k.Tasks.SetStatus(ts, domain.TaskClosed); err != nil {
		return envelope.FromError(err)
	}
	// No dedicated event: command.completed (emitted by bracket) already
	// records that task_close ran and succeeded.
	return envelope.OK("closed task "+taskID, nil)
}

// MissionNew creates a mission.
func (k *Kernel) MissionNew(ctx context.Context, in mission.NewMissionInput) envelope.Envelope {
	return k.bracket(ctx, "mission_new", "", func() envelope.Envelope { return k.doMissionNew(ctx, in) })
}

func (k *Kernel) doMissionNew(ctx context.Context, in mission.NewMissionInput) envelope.Envelope {
	m, err := k.Missions.Create(ctx, in)
	if err != nil {
		return envelope.FromError(err)
	}
	return envelope.OK("created mission "+m.MissionID, map[string]any{"module_ids": m.ModuleIDs}).
		WithNext("task new")
}

// MissionStatus reports a mission's durable record.
func (k *Kernel) MissionStatus(missionID string) envelope.Envelope {
	m, err := k.Missions.Status(missionID)
	if err != nil {
		return envelope.FromError(err)
	}
	return envelope.OK("mission "+m.MissionID, map[string]any{
		"status": m.Status, "module_ids": m.ModuleIDs, "routing": m.Routing, "milestones": m.Milestones,
	})
}

// MissionAdvance activates a mission's next pending milestone.
func (k *Kernel) MissionAdvance(ctx context.Context, missionID string) envelope.Envelope {
	return k.bracket(ctx, "mission_advance", "", func() envelope.Envelope { return k.doMissionAdvance(ctx, missionID) })
}

func (k *Kernel) doMissionAdvance(ctx context.Context, missionID string) envelope.Envelope {
	m, err := k.Missions.Advance(ctx, missionID)
	if err != nil {
		return envelope.FromError(err)
	}
	return envelope.OK("advanced mission "+missionID, map[string]any{"milestones": m.Milestones}).
		WithNext("task new")
}

// StatusProject reports the overall project status projection.
func (k *Kernel) StatusProject() envelope.Envelope {
	proj, err := status.Project(k.StateRoot)
	if err != nil {
		return envelope.FromError(err)
	}
	data := map[string]any{"phase": proj.Phase, "modules": proj.Modules, "active_module": proj.ActiveModule}
	return envelope.OK("project status", data).WithNext(proj.Next)
}

// Replay replays the event log and checks every invariant.
func (k *Kernel) Replay(ctx context.Context) envelope.Envelope {
	return k.bracket(ctx, "replay_check", "", func() envelope.Envelope { return k.doReplay(ctx) })
}

func (k *Kernel) doReplay(ctx context.Context) envelope.Envelope {
	report, err := replay.Check(ctx, k.StateRoot, k.Events)
	if err != nil {
		return envelope.FromError(err)
	}
	if report.Passed() {
		if _, err := k.Events.Append(ctx, domain.EventEnvelope{
			Type:    "replay.checked",
			Payload: map[string]any{"events_checked": report.EventsChecked},
		}); err != nil {
			return envelope.FromError(err)
		}
		return envelope.OK(fmt.Sprintf("replay ok (%d events checked)", report.EventsChecked), nil)
	}
	var errs []string
	var next string
	for _, v := range report.Violations {
		errs = append(errs, v.Kind)
		next = v.Next
	}
	return envelope.Envelope{
		Summary: fmt.Sprintf("replay found %d invariant violation(s)", len(report.Violations)),
		Status:  "error",
		Errors:  errs,
	}.WithNext(next)
}

// Validate runs the structural validation pass.
func (k *Kernel) Validate(strict bool) envelope.Envelope {
	report, err := validate.All(k.StateRoot, strict)
	if err != nil {
		return envelope.FromError(err)
	}
	if !report.HasFailures() {
		return envelope.OK(fmt.Sprintf("validation ok (%d findings)", len(report.Findings)), nil)
	}
	var errs []string
	for _, f := range report.Findings {
		errs = append(errs, f.Subject+": "+f.Message)
	}
	return envelope.Envelope{
		Summary: fmt.Sprintf("validation found %d finding(s)", len(report.Findings)),
		Status:  "error",
		Errors:  errs,
	}
}
