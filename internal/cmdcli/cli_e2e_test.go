package cmdcli

import (
	"path/filepath"
	"testing"

	"github.com/csk-next/csk/internal/domain"
	"github.com/csk-next/csk/internal/pathio"
	"github.com/csk-next/csk/internal/taskengine"
)

// run executes rootCmd with args against a freshly isolated state root and
// returns the error ExecuteC produced, if any.
func run(t *testing.T, root string, args ...string) error {
	t.Helper()
	flagRoot = root
	rootCmd.SetArgs(args)
	_, err := rootCmd.ExecuteC()
	return err
}

// TestBootstrapModuleTaskFlow drives the CLI through bootstrap, module
// registration, and task creation end to end, exercising the cobra
// wiring against the real kernel rather than a mock.
func TestBootstrapModuleTaskFlow(t *testing.T) {
	root := t.TempDir()

	if err := run(t, root, "bootstrap"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := run(t, root, "module", "add", "m1", "."); err != nil {
		t.Fatalf("module add: %v", err)
	}
	if err := run(t, root, "module", "init", "m1"); err != nil {
		t.Fatalf("module init: %v", err)
	}
	if err := run(t, root, "task", "new", "T-0001", "--module", "m1"); err != nil {
		t.Fatalf("task new: %v", err)
	}

	// Give the scaffolded slice real scope and verification so the
	// structural critic can pass it.
	doc := domain.SlicesDoc{
		TaskID: "T-0001",
		Slices: []domain.SliceEntry{
			{
				SliceID:        "S1",
				Title:          "implement",
				AllowedPaths:   []string{"src/**"},
				VerifyCommands: []string{`python -c "print('ok')"`},
				RequiredGates:  domain.DefaultRequiredGates,
				MaxAttempts:    domain.DefaultMaxAttempts,
			},
		},
	}
	slicesPath := filepath.Join(taskengine.Dir(root, ".", "T-0001"), "slices.json")
	if err := pathio.WriteJSON(slicesPath, doc); err != nil {
		t.Fatalf("writing slices.json: %v", err)
	}

	if err := run(t, root, "task", "critic", "T-0001"); err != nil {
		t.Fatalf("task critic: %v", err)
	}
	if err := run(t, root, "task", "freeze", "T-0001"); err != nil {
		t.Fatalf("task freeze: %v", err)
	}
	if err := run(t, root, "task", "approve-plan", "T-0001", "--approved-by", "alice"); err != nil {
		t.Fatalf("task approve-plan: %v", err)
	}
	if err := run(t, root, "status"); err != nil {
		t.Fatalf("status: %v", err)
	}
	if err := run(t, root, "replay"); err != nil {
		t.Fatalf("replay: %v", err)
	}
}

// TestTaskNewRequiresModule verifies the required --module flag is
// enforced on task new.
func TestTaskNewRequiresModule(t *testing.T) {
	root := t.TempDir()
	if err := run(t, root, "bootstrap"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := run(t, root, "task", "new", "T-0001"); err == nil {
		t.Error("expected an error when --module is omitted")
	}
}
