package taskengine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/csk-next/csk/internal/domain"
	"github.com/csk-next/csk/internal/eventlog"
	"github.com/csk-next/csk/internal/pathio"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	store, err := eventlog.Open(filepath.Join(dir, ".csk", "app", "events.db"), dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(dir, store)
}

func TestTaskLifecycleHappyPath(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	ts, err := e.NewTask(ctx, NewTaskInput{TaskID: "T-0001", ModuleID: "M-0001", SliceTitles: []string{"s1"}})
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	if ts.Status != domain.TaskDraft {
		t.Fatalf("expected draft, got %s", ts.Status)
	}

	if _, err := e.RecordCritic(ctx, "T-0001", domain.CriticReport{Passed: true}); err != nil {
		t.Fatalf("RecordCritic: %v", err)
	}
	ts, err = e.ReadState("T-0001")
	if err != nil || ts.Status != domain.TaskCriticPassed {
		t.Fatalf("expected critic_passed, got %v %v", ts, err)
	}

	if _, err := e.Freeze(ctx, "T-0001"); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if valid, reason := e.FreezeValid("T-0001"); !valid {
		t.Fatalf("expected valid freeze, got reason %q", reason)
	}

	if _, err := e.ApprovePlan(ctx, "T-0001", "alice", "looks good"); err != nil {
		t.Fatalf("ApprovePlan: %v", err)
	}
	ts, err = e.ReadState("T-0001")
	if err != nil || ts.Status != domain.TaskPlanApproved {
		t.Fatalf("expected plan_approved, got %v %v", ts, err)
	}
}

func TestApprovePlanRejectsDrift(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.NewTask(ctx, NewTaskInput{TaskID: "T-0002", ModuleID: "M-0001"}); err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	if _, err := e.RecordCritic(ctx, "T-0002", domain.CriticReport{Passed: true}); err != nil {
		t.Fatalf("RecordCritic: %v", err)
	}
	if _, err := e.Freeze(ctx, "T-0002"); err != nil {
		t.Fatalf("Freeze: %v", err)
	}

	// Drift the plan after freezing.
	if err := pathio.WriteFileAtomic(planPath(e.StateRoot, "", "T-0002"), []byte("# changed\n")); err != nil {
		t.Fatalf("writing drifted plan: %v", err)
	}

	if _, err := e.ApprovePlan(ctx, "T-0002", "alice", ""); err == nil {
		t.Fatal("expected plan drift error")
	}
}
