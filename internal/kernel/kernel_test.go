package kernel_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/csk-next/csk/internal/clierr"
	"github.com/csk-next/csk/internal/domain"
	"github.com/csk-next/csk/internal/eventlog"
	"github.com/csk-next/csk/internal/incident"
	"github.com/csk-next/csk/internal/kernel"
	"github.com/csk-next/csk/internal/mission"
	"github.com/csk-next/csk/internal/pathio"
	"github.com/csk-next/csk/internal/taskengine"
)

func newTestKernel(t *testing.T) *kernel.Kernel {
	t.Helper()
	root := t.TempDir()
	k, err := kernel.Open(root)
	if err != nil {
		t.Fatalf("opening kernel: %v", err)
	}
	t.Cleanup(func() { k.Close() })

	if env := k.Bootstrap(context.Background()); env.Status != "ok" {
		t.Fatalf("bootstrap: %+v", env)
	}
	if env := k.ModuleAdd(context.Background(), "m1", "."); env.Status != "ok" {
		t.Fatalf("module add: %+v", env)
	}
	if env := k.ModuleInit(context.Background(), "m1"); env.Status != "ok" {
		t.Fatalf("module init: %+v", env)
	}
	return k
}

// writeTwoSlicePlan overwrites a freshly created task's slices.json with a
// two-slice plan: S-0001 (no deps) and S-0002 (depends on S-0001), both
// scoped to src/**.
func writeTwoSlicePlan(t *testing.T, root, taskID string, maxAttempts int) {
	t.Helper()
	doc := domain.SlicesDoc{
		TaskID: taskID,
		Slices: []domain.SliceEntry{
			{SliceID: "S-0001", Title: "first slice", AllowedPaths: []string{"src/**"}, VerifyCommands: []string{`python -c "print('ok')"`}, MaxAttempts: maxAttempts},
			{SliceID: "S-0002", Title: "second slice", Deps: []string{"S-0001"}, AllowedPaths: []string{"src/**"}, VerifyCommands: []string{`python -c "print('ok')"`}, MaxAttempts: maxAttempts},
		},
	}
	path := filepath.Join(taskengine.Dir(root, ".", taskID), "slices.json")
	if err := pathio.WriteJSON(path, doc); err != nil {
		t.Fatalf("writing slices.json: %v", err)
	}
}

func defaultReview() taskengine.ReviewInput {
	return taskengine.ReviewInput{Reviewer: "alice"}
}

func verifyOKProfile() domain.Profile {
	return domain.Profile{
		Name:           "test",
		RequireScope:   true,
		RequireVerify:  true,
		RequireReview:  true,
		RequireE2E:     false,
		VerifyCommands: []string{`python -c "print('ok')"`},
	}
}

func taskEvents(t *testing.T, k *kernel.Kernel, taskID string) []domain.EventEnvelope {
	t.Helper()
	events, err := k.Events.Query(context.Background(), eventlog.QueryFilter{TaskID: taskID})
	if err != nil {
		t.Fatalf("querying events for %s: %v", taskID, err)
	}
	return events
}

func eventTypes(events []domain.EventEnvelope) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func driveToApprovedPlan(t *testing.T, ctx context.Context, k *kernel.Kernel, taskID string, maxAttempts int) {
	t.Helper()
	if env := k.TaskNew(ctx, taskengine.NewTaskInput{TaskID: taskID, ModuleID: "m1", SliceTitles: []string{"first slice", "second slice"}}); env.Status != "ok" {
		t.Fatalf("task_new: %+v", env)
	}
	writeTwoSlicePlan(t, k.StateRoot, taskID, maxAttempts)
	if env := k.TaskCritic(ctx, taskID, ""); env.Status != "ok" {
		t.Fatalf("task_critic: %+v", env)
	}
	if env := k.TaskFreeze(ctx, taskID); env.Status != "ok" {
		t.Fatalf("task_freeze: %+v", env)
	}
	if env := k.TaskApprovePlan(ctx, taskID, "alice", ""); env.Status != "ok" {
		t.Fatalf("task_approve_plan: %+v", env)
	}
}

// S1 — Greenfield happy path.
func TestGreenfieldHappyPath(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t)
	repoRoot := t.TempDir()
	taskID := "T-0001"

	driveToApprovedPlan(t, ctx, k, taskID, 3)

	profile := verifyOKProfile()
	for _, sliceID := range []string{"S-0001", "S-0002"} {
		env := k.SliceRun(ctx, kernel.SliceRunInput{
			TaskID: taskID, SliceID: sliceID, RepoRoot: repoRoot, Profile: profile, Review: defaultReview(),
		})
		if env.Status != "ok" {
			t.Fatalf("slice_run %s: %+v", sliceID, env)
		}
	}

	if env := k.GateValidateReady(ctx, taskID, false); env.Status != "ok" {
		t.Fatalf("gate_validate_ready: %+v", env)
	}
	if env := k.GateApproveReady(ctx, taskID, "alice", ""); env.Status != "ok" {
		t.Fatalf("gate_approve_ready: %+v", env)
	}
	if env := k.RetroRun(ctx, taskID, ""); env.Status != "ok" {
		t.Fatalf("retro_run: %+v", env)
	}

	ts, err := k.Tasks.ReadState(taskID)
	if err != nil {
		t.Fatalf("reading final task state: %v", err)
	}
	if ts.Status != domain.TaskRetroDone {
		t.Fatalf("expected final status retro_done, got %s", ts.Status)
	}

	want := []string{
		"task.created", "slice.created", "slice.created",
		"task.critic_passed", "task.frozen", "task.plan_approved",
		"proof.pack.written", "slice.completed",
		"proof.pack.written", "slice.completed",
		"ready.validated", "ready.approved", "retro.completed",
	}
	got := eventTypes(taskEvents(t, k, taskID))
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected event sequence\n got: %v\nwant: %v", got, want)
	}

	if env := k.Replay(ctx); env.Status != "ok" {
		t.Fatalf("replay --check: %+v", env)
	}
}

// S2 — Drift blocks execution.
func TestDriftRollsTaskBackToCriticPassed(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t)
	repoRoot := t.TempDir()
	taskID := "T-0001"

	driveToApprovedPlan(t, ctx, k, taskID, 3)

	planPath := filepath.Join(taskengine.Dir(k.StateRoot, ".", taskID), "plan.md")
	original, err := os.ReadFile(planPath)
	if err != nil {
		t.Fatalf("reading plan.md: %v", err)
	}
	if err := pathio.WriteFileAtomic(planPath, append(original, '!')); err != nil {
		t.Fatalf("mutating plan.md: %v", err)
	}

	env := k.SliceRun(ctx, kernel.SliceRunInput{
		TaskID: taskID, SliceID: "S-0001", RepoRoot: repoRoot, Profile: verifyOKProfile(), Review: defaultReview(),
	})
	if env.Status != "error" {
		t.Fatalf("expected slice_run to error on drift, got %+v", env)
	}
	if len(env.Errors) == 0 || !strings.Contains(env.Errors[0], string(clierr.PlanDrift)) {
		t.Fatalf("expected a plan_drift error, got %+v", env.Errors)
	}
	if !strings.Contains(env.Next.Recommended, "critic") {
		t.Fatalf("expected next to mention re-running critic, got %+v", env.Next)
	}

	ts, err := k.Tasks.ReadState(taskID)
	if err != nil {
		t.Fatalf("reading task state: %v", err)
	}
	if ts.Status != domain.TaskCriticPassed {
		t.Fatalf("expected task status to roll back to critic_passed, got %s", ts.Status)
	}
}

// S3 — Scope violation.
func TestScopeViolationBlocksSlice(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t)
	repoRoot := t.TempDir()
	taskID := "T-0001"

	driveToApprovedPlan(t, ctx, k, taskID, 3)

	profile := verifyOKProfile()
	env := k.SliceRun(ctx, kernel.SliceRunInput{
		TaskID:       taskID,
		SliceID:      "S-0001",
		RepoRoot:     repoRoot,
		Profile:      profile,
		ImplementCmd: []string{"touch outside.txt"},
		Review:       defaultReview(),
	})
	if env.Status != "error" {
		t.Fatalf("expected slice_run to error on scope violation, got %+v", env)
	}
	if len(env.Errors) == 0 || !strings.Contains(env.Errors[0], string(clierr.ScopeViolation)) {
		t.Fatalf("expected a scope_violation error, got %+v", env.Errors)
	}

	proofPath := filepath.Join(taskengine.SliceProofsDir(k.StateRoot, ".", taskID, "S-0001"), "scope.json")
	var proof domain.ScopeProof
	if err := pathio.ReadJSON(proofPath, &proof); err != nil {
		t.Fatalf("reading scope proof: %v", err)
	}
	if proof.Passed {
		t.Fatalf("expected scope proof to record a failure")
	}

	incidents, err := incident.ReadForTask(k.StateRoot, ".", taskID)
	if err != nil {
		t.Fatalf("reading incidents: %v", err)
	}
	if !hasKind(incidents, string(clierr.ScopeViolation)) {
		t.Fatalf("expected a scope_violation incident to be logged, got %+v", incidents)
	}

	ts, err := k.Tasks.ReadState(taskID)
	if err != nil {
		t.Fatalf("reading task state: %v", err)
	}
	if ts.Status != domain.TaskBlocked {
		t.Fatalf("expected task to be blocked after a scope violation, got %s", ts.Status)
	}
}

// S4 — Retry ceiling. Review fails every attempt (P0 finding), which does
// not block the task on its own, so the third call is the one that walks
// into the genuine retry-ceiling check and logs token_waste.
func TestRetryCeilingBlocksTaskAndPermitsRetro(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t)
	repoRoot := t.TempDir()
	taskID := "T-0001"

	driveToApprovedPlan(t, ctx, k, taskID, 2)

	profile := domain.Profile{Name: "test", RequireScope: true, RequireReview: true}
	failingReview := taskengine.ReviewInput{Reviewer: "alice", P0: 1, Notes: "blocking finding"}

	for attempt := 0; attempt < 3; attempt++ {
		k.SliceRun(ctx, kernel.SliceRunInput{
			TaskID: taskID, SliceID: "S-0001", RepoRoot: repoRoot, Profile: profile, Review: failingReview,
		})
	}

	ts, err := k.Tasks.ReadState(taskID)
	if err != nil {
		t.Fatalf("reading task state: %v", err)
	}
	if ts.Status != domain.TaskBlocked {
		t.Fatalf("expected task to be blocked after exceeding the retry ceiling, got %s", ts.Status)
	}

	incidents, err := incident.ReadForTask(k.StateRoot, ".", taskID)
	if err != nil {
		t.Fatalf("reading incidents: %v", err)
	}
	if !hasKind(incidents, string(clierr.TokenWaste)) {
		t.Fatalf("expected a token_waste incident to be logged, got %+v", incidents)
	}

	if env := k.RetroRun(ctx, taskID, "ran out of retries"); env.Status != "ok" {
		t.Fatalf("expected retro_run to be permitted from blocked, got %+v", env)
	}

	ts, err = k.Tasks.ReadState(taskID)
	if err != nil {
		t.Fatalf("re-reading task state: %v", err)
	}
	if ts.Status != domain.TaskRetroDone {
		t.Fatalf("expected retro_run to transition to retro_done, got %s", ts.Status)
	}
}

// S5 — Ready missing proofs.
func TestReadyMissingProofsRejected(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t)
	repoRoot := t.TempDir()
	taskID := "T-0001"

	driveToApprovedPlan(t, ctx, k, taskID, 3)

	if env := k.SliceRun(ctx, kernel.SliceRunInput{
		TaskID: taskID, SliceID: "S-0001", RepoRoot: repoRoot, Profile: verifyOKProfile(), Review: defaultReview(),
	}); env.Status != "ok" {
		t.Fatalf("slice_run S-0001: %+v", env)
	}

	env := k.GateValidateReady(ctx, taskID, false)
	if env.Status != "error" {
		t.Fatalf("expected gate_validate_ready to error, got %+v", env)
	}
	foundCode, foundSlice := false, false
	for _, e := range env.Errors {
		if strings.Contains(e, string(clierr.ReadyPrerequisitesMissing)) {
			foundCode = true
		}
		if e == "S-0002" {
			foundSlice = true
		}
	}
	if !foundCode {
		t.Fatalf("expected a ready_prerequisites_missing error, got %v", env.Errors)
	}
	if !foundSlice {
		t.Fatalf("expected errors to list S-0002, got %v", env.Errors)
	}

	for _, e := range taskEvents(t, k, taskID) {
		if e.Type == "ready.validated" {
			t.Fatalf("did not expect a ready.validated event to be emitted")
		}
	}
}

// S6 — Replay catches tamper.
func TestReplayCatchesTamperedHandoff(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t)
	repoRoot := t.TempDir()
	taskID := "T-0001"

	driveToApprovedPlan(t, ctx, k, taskID, 3)

	profile := verifyOKProfile()
	for _, sliceID := range []string{"S-0001", "S-0002"} {
		if env := k.SliceRun(ctx, kernel.SliceRunInput{
			TaskID: taskID, SliceID: sliceID, RepoRoot: repoRoot, Profile: profile, Review: defaultReview(),
		}); env.Status != "ok" {
			t.Fatalf("slice_run %s: %+v", sliceID, env)
		}
	}
	if env := k.GateValidateReady(ctx, taskID, false); env.Status != "ok" {
		t.Fatalf("gate_validate_ready: %+v", env)
	}
	if env := k.GateApproveReady(ctx, taskID, "alice", ""); env.Status != "ok" {
		t.Fatalf("gate_approve_ready: %+v", env)
	}
	if env := k.RetroRun(ctx, taskID, ""); env.Status != "ok" {
		t.Fatalf("retro_run: %+v", env)
	}

	handoffPath := taskengine.HandoffMDPath(k.StateRoot, ".", taskID)
	if err := os.Remove(handoffPath); err != nil {
		t.Fatalf("removing handoff.md: %v", err)
	}

	env := k.Replay(ctx)
	if env.Status != "error" {
		t.Fatalf("expected replay --check to fail, got %+v", env)
	}
	found := false
	for _, errLine := range env.Errors {
		if strings.Contains(errLine, "handoff") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a violation referencing handoff.md, got %v", env.Errors)
	}
	if !strings.Contains(env.Next.Recommended, "validate-ready") {
		t.Fatalf("expected next to point back at the ready gate, got %q", env.Next.Recommended)
	}
}

// Mission creation and status reporting alongside a task in the same module.
func TestMissionLifecycle(t *testing.T) {
	ctx := context.Background()
	k := newTestKernel(t)

	env := k.MissionNew(ctx, mission.NewMissionInput{MissionID: "MI-0001", Title: "roll out widgets", ModuleIDs: []string{"m1"}})
	if env.Status != "ok" {
		t.Fatalf("mission_new: %+v", env)
	}
	status := k.MissionStatus("MI-0001")
	if status.Status != "ok" {
		t.Fatalf("mission_status: %+v", status)
	}
}

func hasKind(incidents []domain.Incident, kind string) bool {
	for _, inc := range incidents {
		if inc.Kind == kind {
			return true
		}
	}
	return false
}
