package clierr_test

import (
	"errors"
	"testing"

	"github.com/csk-next/csk/internal/clierr"
)

func TestErrorImplementsError(t *testing.T) {
	var err error = clierr.New(clierr.ScopeViolation, "changed file outside allowed_paths")
	if err.Error() != "changed file outside allowed_paths" {
		t.Errorf("Error() = %q, want %q", err.Error(), "changed file outside allowed_paths")
	}
}

func TestErrorsAs(t *testing.T) {
	err := clierr.New(clierr.PlanDrift, "plan.md changed after freeze")
	var wrapped error = err

	var target *clierr.Error
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to unwrap *clierr.Error")
	}
	if target.Code != clierr.PlanDrift {
		t.Errorf("Code = %q, want %q", target.Code, clierr.PlanDrift)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		code clierr.Code
		want int
	}{
		{clierr.ScopeViolation, 10},
		{clierr.PlanDrift, 10},
		{clierr.ReplayInvariantViolation, 30},
		{clierr.InternalError, 20},
	}
	for _, tt := range tests {
		err := clierr.New(tt.code, "msg")
		if got := err.ExitCode(); got != tt.want {
			t.Errorf("ExitCode(%s) = %d, want %d", tt.code, got, tt.want)
		}
		if got := clierr.ExitCodeForCode(tt.code); got != tt.want {
			t.Errorf("ExitCodeForCode(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestNewf(t *testing.T) {
	err := clierr.Newf(clierr.ScopeViolation, "invalid path %q", "abc")
	if err.Message != `invalid path "abc"` {
		t.Errorf("Message = %q, want %q", err.Message, `invalid path "abc"`)
	}
}

func TestWithDetails(t *testing.T) {
	err := clierr.New(clierr.VerifyFail, "command exited non-zero").
		WithDetails(map[string]any{"exit_code": 1})
	if err.Details == nil {
		t.Fatal("Details is nil after WithDetails")
	}
	if err.Details["exit_code"] != 1 {
		t.Errorf("Details[exit_code] = %v, want 1", err.Details["exit_code"])
	}
}

func TestSilentError(t *testing.T) {
	err := &clierr.SilentError{Code: 10}
	if err.Error() != "exit 10" {
		t.Errorf("Error() = %q, want %q", err.Error(), "exit 10")
	}

	var target *clierr.SilentError
	if !errors.As(err, &target) {
		t.Fatal("errors.As failed to unwrap *SilentError")
	}
}

func TestUnknownCodeDefaultsToExitOne(t *testing.T) {
	if got := clierr.ExitCodeForCode(clierr.Code("not_in_the_taxonomy")); got != 1 {
		t.Errorf("ExitCodeForCode(unknown) = %d, want 1", got)
	}
}
