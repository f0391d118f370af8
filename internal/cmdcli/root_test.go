package cmdcli

import (
	"testing"
)

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "csk" {
		t.Errorf("rootCmd.Use = %q, want csk", rootCmd.Use)
	}
}

func TestExitCodeForErrorLine_KnownCode(t *testing.T) {
	code, ok := exitCodeForErrorLine("scope_violation: touched a file outside allowed_paths")
	if !ok {
		t.Fatal("expected a recognized code")
	}
	if code != 10 {
		t.Errorf("code = %d, want 10", code)
	}
}

func TestExitCodeForErrorLine_UnknownPrefix(t *testing.T) {
	// replay/validate report raw violation kinds with no clierr.Code
	// prefix at all (no colon, or a colon-free kind string).
	if _, ok := exitCodeForErrorLine("task_frozen_missing"); ok {
		t.Error("expected no recognized code for a bare violation kind")
	}
}

func TestExitCodeForErrorLine_InternalError(t *testing.T) {
	code, ok := exitCodeForErrorLine("internal_error: disk full")
	if !ok {
		t.Fatal("expected internal_error to resolve")
	}
	if code != 20 {
		t.Errorf("code = %d, want 20", code)
	}
}

func TestRootCommandTree(t *testing.T) {
	want := []string{"bootstrap", "module", "task", "slice", "gate", "retro", "mission", "status", "replay", "validate"}
	for _, name := range want {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("rootCmd missing subcommand %q", name)
		}
	}
}
