// Package clierr defines the kernel's closed error taxonomy and the
// exit-code mapping used at the process boundary.
package clierr

import "fmt"

// Code identifies one member of the kernel's closed error taxonomy.
type Code string

// The closed set of error kinds the kernel can raise. Every gate failure,
// transition rejection, and precondition violation maps to exactly one of
// these.
const (
	InvalidTransition         Code = "invalid_transition"
	PlanDrift                 Code = "plan_drift"
	ScopeConfigMissing        Code = "scope_config_missing"
	ScopeViolation            Code = "scope_violation"
	VerifyConfigMissing       Code = "verify_config_missing"
	VerifyFail                Code = "verify_fail"
	VerifyPolicyReject        Code = "verify_policy_reject"
	ReviewFail                Code = "review_fail"
	E2EMissing                Code = "e2e_missing"
	E2EFail                   Code = "e2e_fail"
	ImplementFail             Code = "implement_fail"
	TokenWaste                Code = "token_waste"
	ReadyPrerequisitesMissing Code = "ready_prerequisites_missing"
	RetroPreconditionMissing  Code = "retro_precondition_missing"
	WorktreeCreateFailed      Code = "worktree_create_failed"
	CommandNotFound           Code = "command_not_found"
	CommandDenied             Code = "command_denied"
	SchemaViolation           Code = "schema_violation"
	ReplayInvariantViolation  Code = "replay_invariant_violation"

	// InternalError covers unexpected failures that are not part of the
	// closed domain taxonomy (I/O failures, corrupt state, and similar).
	InternalError Code = "internal_error"
	NotFound      Code = "not_found"
	InvalidInput  Code = "invalid_input"
)

// exitCodes maps each Code to the exit code spec.md §6/§7 assigns it:
// 2 user input error, 10 validation/gate failed (requires action),
// 20 internal error (including schema violations during read, which §7
// treats as corruption rather than user error), 30 replay invariant
// violation. Codes not present here exit with 1 (generic failure).
var exitCodes = map[Code]int{
	InvalidTransition:         10,
	PlanDrift:                 10,
	ScopeConfigMissing:        10,
	ScopeViolation:            10,
	VerifyConfigMissing:       10,
	VerifyFail:                10,
	VerifyPolicyReject:        2,
	ReviewFail:                10,
	E2EMissing:                10,
	E2EFail:                   10,
	ImplementFail:             10,
	TokenWaste:                10,
	ReadyPrerequisitesMissing: 10,
	RetroPreconditionMissing:  10,
	WorktreeCreateFailed:      20,
	CommandNotFound:           2,
	CommandDenied:             2,
	SchemaViolation:           20,
	ReplayInvariantViolation:  30,
	InternalError:             20,
	NotFound:                  1,
	InvalidInput:              2,
}

// ExitCodeForCode returns the process exit code for code, or 1 if code is
// not in the taxonomy. Used at the CLI boundary to recover an exit code
// from an envelope's error line once the original *Error has already been
// flattened to text.
func ExitCodeForCode(code Code) int {
	if c, ok := exitCodes[code]; ok {
		return c
	}
	return 1
}

// Error is the kernel's structured error type. Every operation that fails
// for a reason the caller should be able to branch on returns one of these.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

// New creates an Error with a fixed message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured context to the error and returns it for
// chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func (e *Error) Error() string {
	return e.Message
}

// ExitCode returns the process exit code spec.md §6 assigns this error's
// Code. Unknown codes exit 1.
func (e *Error) ExitCode() int {
	if code, ok := exitCodes[e.Code]; ok {
		return code
	}
	return 1
}

// SilentError signals that the process should exit with Code without
// printing anything further; the envelope has already been written.
type SilentError struct {
	Code int
}

func (s *SilentError) Error() string {
	return fmt.Sprintf("exit %d", s.Code)
}

func (s *SilentError) ExitCode() int {
	return s.Code
}
