// Package runner executes the argv-only commands that gates and profiles
// configure: verify commands, e2e commands, and implement commands. It
// enforces the allow/deny command policy, applies a timeout, captures
// stdout/stderr, and kills the whole process group on cancellation so a
// misbehaving child cannot outlive its gate.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/csk-next/csk/internal/clierr"
	"github.com/csk-next/csk/internal/domain"
)

// DefaultTimeout bounds any command that does not specify its own.
const DefaultTimeout = 10 * time.Minute

// Policy gates which commands may run at all, independent of their exit
// status.
type Policy struct {
	Allow map[string]bool // if non-empty, only these command names may run
	Deny  map[string]bool // these command names are always rejected
}

// Check returns a command_denied / command_not_found error if argv[0] is
// not permitted to run under p.
func (p Policy) Check(argv []string) error {
	if len(argv) == 0 {
		return clierr.New(clierr.CommandNotFound, "empty command")
	}
	name := argv[0]
	if p.Deny[name] {
		return clierr.Newf(clierr.CommandDenied, "command %q is denylisted", name).
			WithDetails(map[string]any{"command": name})
	}
	if len(p.Allow) > 0 && !p.Allow[name] {
		return clierr.Newf(clierr.CommandDenied, "command %q is not in the allowlist", name).
			WithDetails(map[string]any{"command": name})
	}
	return nil
}

// Options configures one command execution.
type Options struct {
	Dir     string
	Timeout time.Duration
	PTY     bool
	Env     []string
}

// Run executes argv under ctx and opts, returning a CommandResult
// regardless of whether the command exited non-zero — only infrastructure
// failures (binary not found, context already cancelled before start) are
// returned as errors.
func Run(ctx context.Context, argv []string, policy Policy, opts Options) (domain.CommandResult, error) {
	if err := policy.Check(argv); err != nil {
		return domain.CommandResult{}, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	start := time.Now()
	var stdout, stderr bytes.Buffer
	var runErr error

	if opts.PTY {
		runErr = runPTY(cmd, &stdout)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		runErr = cmd.Run()
	}

	result := domain.CommandResult{
		Argv:       argv,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: time.Since(start).Milliseconds(),
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		result.ExitCode = 0
	case asExitError(runErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return result, fmt.Errorf("running %v: %w", argv, runErr)
	}

	return result, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// runPTY runs cmd attached to a pseudo-terminal, merging stdout/stderr
// into out, for profiles that request PTY-backed command execution
// (interactive tools that behave differently without a tty).
func runPTY(cmd *exec.Cmd, out io.Writer) error {
	f, err := pty.Start(cmd)
	if err != nil {
		return err
	}
	defer f.Close()
	_, copyErr := io.Copy(out, f)
	waitErr := cmd.Wait()
	if waitErr != nil {
		return waitErr
	}
	if copyErr != nil && copyErr != io.EOF {
		return copyErr
	}
	return nil
}

// RunAll runs each argv in order, stopping at the first infrastructure
// error but collecting every command's result (including failing exit
// codes) so callers can build a verify/e2e proof from the full sequence.
func RunAll(ctx context.Context, argvs [][]string, policy Policy, opts Options) ([]domain.CommandResult, error) {
	results := make([]domain.CommandResult, 0, len(argvs))
	for _, argv := range argvs {
		r, err := Run(ctx, argv, policy, opts)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// AllPassed reports whether every result in results exited zero.
func AllPassed(results []domain.CommandResult) bool {
	for _, r := range results {
		if r.ExitCode != 0 {
			return false
		}
	}
	return true
}
