package taskengine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/csk-next/csk/internal/clierr"
	"github.com/csk-next/csk/internal/domain"
	"github.com/csk-next/csk/internal/gate"
	"github.com/csk-next/csk/internal/pathio"
	"github.com/csk-next/csk/internal/runner"
)

// ReviewInput is the human or automated reviewer's verdict for a slice,
// supplied by the caller since the kernel does not itself review code.
type ReviewInput struct {
	Reviewer       string
	P0, P1, P2, P3 int
	Notes          string
}

// ExecuteSliceInput bundles everything one slice execution attempt needs.
type ExecuteSliceInput struct {
	TaskID       string
	SliceID      string
	RepoRoot     string // root the before/after snapshot is taken against
	Profile      domain.Profile
	ImplementCmd []string // raw command strings, may be empty (no separate implement step)
	Policy       runner.Policy
	RunnerOpts   runner.Options
	E2ERequired  bool
	E2ECommands  []string
	Review       ReviewInput
}

// ExecuteSliceResult reports the outcome of one execution attempt.
type ExecuteSliceResult struct {
	Status   domain.SliceStatus
	Attempts int
	Manifest *domain.ProofManifest
}

// ExecuteSlice runs one attempt of the gate pipeline — implement, scope,
// verify, review, e2e — for a single slice, enforcing the task's retry
// ceiling and writing a proof for every gate it reaches, even on failure.
func (e *Engine) ExecuteSlice(ctx context.Context, in ExecuteSliceInput) (*ExecuteSliceResult, error) {
	ts, err := e.ReadState(in.TaskID)
	if err != nil {
		return nil, err
	}
	mp, err := e.modulePathFor(in.TaskID)
	if err != nil {
		return nil, err
	}

	if ts.Status == domain.TaskBlocked {
		return &ExecuteSliceResult{Status: domain.SliceBlocked}, clierr.Newf(clierr.InvalidTransition,
			"task %s is blocked: %s", in.TaskID, ts.BlockedReason)
	}
	if err := e.EnsureExecutable(ts); err != nil {
		return nil, err
	}
	if err := e.MarkExecuting(ctx, ts); err != nil {
		return nil, err
	}
	if !e.PlanApproved(in.TaskID) {
		return nil, clierr.New(clierr.ReadyPrerequisitesMissing, "plan has not been approved")
	}
	if valid, reason := e.FreezeValid(in.TaskID); !valid {
		if err := e.RollbackOnDrift(ctx, ts, reason); err != nil {
			return nil, err
		}
		return nil, clierr.Newf(clierr.PlanDrift, "plan is not frozen or has drifted: %s", reason).
			WithDetails(map[string]any{"reason": reason})
	}

	doc, err := e.LoadSlices(in.TaskID)
	if err != nil {
		return nil, err
	}
	entry, ok := findSlice(doc, in.SliceID)
	if !ok {
		return nil, clierr.Newf(clierr.NotFound, "slice %q not found in task %s", in.SliceID, in.TaskID)
	}

	for _, dep := range entry.Deps {
		depState := ts.SliceState(dep)
		if depState.Status != domain.SliceDone {
			return nil, clierr.Newf(clierr.InvalidTransition, "slice %s depends on %s, which is not done", in.SliceID, dep)
		}
	}

	maxAttempts := entry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	ss := ts.SliceState(in.SliceID)
	if ss.Attempts >= maxAttempts {
		ss.Status = domain.SliceBlocked
		if err := e.WriteState(ts); err != nil {
			return nil, err
		}
		err := e.FailSlice(ctx, ts, in.SliceID, FailureSpec{
			Kind:      clierr.TokenWaste,
			Message:   fmt.Sprintf("slice %s exceeded its retry ceiling (%d attempts)", in.SliceID, maxAttempts),
			Details:   map[string]any{"attempts": ss.Attempts, "max_attempts": maxAttempts},
			BlockTask: true,
		})
		return &ExecuteSliceResult{Status: domain.SliceBlocked, Attempts: ss.Attempts}, err
	}

	ss.Attempts++
	ss.Status = domain.SliceRunning
	if err := e.WriteState(ts); err != nil {
		return nil, err
	}

	before, err := TakeSnapshot(in.RepoRoot, ".csk/app/run")
	if err != nil {
		return nil, fmt.Errorf("taking before snapshot: %w", err)
	}

	if len(in.ImplementCmd) > 0 {
		argvs, err := runner.ParseCommands(in.ImplementCmd)
		if err != nil {
			return nil, err
		}
		for _, argv := range argvs {
			result, err := runner.Run(ctx, argv, in.Policy, in.RunnerOpts)
			if err != nil {
				return nil, err
			}
			if result.ExitCode != 0 {
				err := e.FailSlice(ctx, ts, in.SliceID, FailureSpec{
					Kind:    clierr.ImplementFail,
					Message: fmt.Sprintf("implement command exited %d", result.ExitCode),
					Details: map[string]any{"command": result},
				})
				return &ExecuteSliceResult{Status: domain.SliceGateFailed, Attempts: ss.Attempts}, err
			}
		}
	}

	after, err := TakeSnapshot(in.RepoRoot, ".csk/app/run")
	if err != nil {
		return nil, fmt.Errorf("taking after snapshot: %w", err)
	}
	changed := ChangedFiles(before, after)

	gates, res, gateErr := e.runGates(ctx, ts, mp, entry, in, changed, maxAttempts)
	if gateErr != nil {
		return res, gateErr
	}

	manifest := &domain.ProofManifest{
		TaskID:    in.TaskID,
		SliceID:   in.SliceID,
		Gates:     gates,
		WrittenAt: time.Now().UTC(),
	}
	if err := pathio.WriteJSON(ManifestPath(e.StateRoot, mp, in.TaskID, in.SliceID), manifest); err != nil {
		return nil, err
	}
	if err := e.emit(ctx, "proof.pack.written", in.TaskID, map[string]any{"slice_id": in.SliceID, "gates": gates}); err != nil {
		return nil, err
	}

	ss.Status = domain.SliceDone
	if err := e.WriteState(ts); err != nil {
		return nil, err
	}
	if err := e.emit(ctx, "slice.completed", in.TaskID, map[string]any{"slice_id": in.SliceID, "attempts": ss.Attempts}); err != nil {
		return nil, err
	}

	return &ExecuteSliceResult{Status: domain.SliceDone, Attempts: ss.Attempts, Manifest: manifest}, nil
}

func findSlice(doc *domain.SlicesDoc, sliceID string) (domain.SliceEntry, bool) {
	for _, s := range doc.Slices {
		if s.SliceID == sliceID {
			return s, true
		}
	}
	return domain.SliceEntry{}, false
}

// runGates executes scope, verify, review, and (optionally) e2e in order,
// writing each proof regardless of outcome and stopping at the first
// failing required gate. Which gates a slice requires, its verify
// commands, and its forbidden paths come from the slice entry itself
// (falling back to the merged profile) so a task's plan can narrow or
// override the profile's defaults per slice.
func (e *Engine) runGates(ctx context.Context, ts *domain.TaskState, mp string, entry domain.SliceEntry, in ExecuteSliceInput, changed []string, maxAttempts int) (domain.GateSummary, *ExecuteSliceResult, error) {
	var summary domain.GateSummary
	ss := ts.SliceState(in.SliceID)
	proofDir := SliceProofsDir(e.StateRoot, mp, in.TaskID, in.SliceID)

	requireScope := entry.RequiresGate(string(domain.GateNameScope))
	requireVerify := entry.RequiresGate(string(domain.GateNameVerify))
	requireReview := entry.RequiresGate(string(domain.GateNameReview))

	verifyCommands := entry.VerifyCommands
	if len(verifyCommands) == 0 {
		verifyCommands = in.Profile.VerifyCommands
	}

	// Scope gate.
	if requireScope {
		if len(entry.AllowedPaths) == 0 {
			err := e.FailSlice(ctx, ts, in.SliceID, FailureSpec{
				Kind:    clierr.ScopeConfigMissing,
				Message: fmt.Sprintf("slice %s requires scope but has no allowed_paths configured", in.SliceID),
			})
			return summary, &ExecuteSliceResult{Status: domain.SliceGateFailed, Attempts: ss.Attempts}, err
		}
		proof := gate.CheckScope(entry.AllowedPaths, entry.ForbiddenPaths, changed)
		proof.TaskID, proof.SliceID = in.TaskID, in.SliceID
		if err := pathio.WriteJSON(filepath.Join(proofDir, "scope.json"), proof); err != nil {
			return summary, nil, err
		}
		if !proof.Passed {
			err := e.FailSlice(ctx, ts, in.SliceID, FailureSpec{
				Kind:        clierr.ScopeViolation,
				Message:     fmt.Sprintf("slice %s changed files outside its allowed paths: %v", in.SliceID, proof.Violations),
				Details:     map[string]any{"violations": proof.Violations},
				SliceStatus: domain.SliceBlocked,
				BlockTask:   true,
			})
			return summary, &ExecuteSliceResult{Status: domain.SliceBlocked, Attempts: ss.Attempts}, err
		}
		summary.Scope = true
	} else {
		summary.Scope = true
	}

	// Verify gate.
	if requireVerify && len(verifyCommands) == 0 {
		err := e.FailSlice(ctx, ts, in.SliceID, FailureSpec{
			Kind:    clierr.VerifyConfigMissing,
			Message: fmt.Sprintf("slice %s requires verify but no verify commands are configured", in.SliceID),
		})
		return summary, &ExecuteSliceResult{Status: domain.SliceGateFailed, Attempts: ss.Attempts}, err
	}
	if len(verifyCommands) > 0 {
		proof, err := gate.RunVerify(ctx, verifyCommands, in.Policy, in.RunnerOpts)
		if err != nil {
			return summary, nil, err
		}
		proof.TaskID, proof.SliceID = in.TaskID, in.SliceID
		if err := pathio.WriteJSON(filepath.Join(proofDir, "verify.json"), proof); err != nil {
			return summary, nil, err
		}
		if err := writeCommandLogs(e.StateRoot, mp, in.TaskID, in.SliceID, "verify", proof.Commands); err != nil {
			return summary, nil, err
		}
		if requireVerify && !proof.Passed {
			status := domain.SliceGateFailed
			if ss.Attempts >= maxAttempts {
				status = domain.SliceBlocked
			}
			err := e.FailSlice(ctx, ts, in.SliceID, FailureSpec{
				Kind:        clierr.VerifyFail,
				Message:     fmt.Sprintf("slice %s failed verify: %s", in.SliceID, proof.FailureReason),
				SliceStatus: status,
				BlockTask:   status == domain.SliceBlocked,
			})
			return summary, &ExecuteSliceResult{Status: status, Attempts: ss.Attempts}, err
		}
		summary.Verify = proof.Passed || !requireVerify
		summary.VerifyExecutedCount = proof.ExecutedCount
	} else {
		summary.Verify = true
	}

	// Review gate.
	if requireReview {
		proof := gate.RecordReview(in.Review.Reviewer, in.Review.P0, in.Review.P1, in.Review.P2, in.Review.P3, in.Review.Notes)
		proof.TaskID, proof.SliceID = in.TaskID, in.SliceID
		if err := pathio.WriteJSON(filepath.Join(proofDir, "review.json"), proof); err != nil {
			return summary, nil, err
		}
		if !proof.Passed {
			err := e.FailSlice(ctx, ts, in.SliceID, FailureSpec{
				Kind:        clierr.ReviewFail,
				Message:     fmt.Sprintf("slice %s failed review: %d P0, %d P1 findings", in.SliceID, proof.P0, proof.P1),
				SliceStatus: domain.SliceReviewFailed,
			})
			return summary, &ExecuteSliceResult{Status: domain.SliceReviewFailed, Attempts: ss.Attempts}, err
		}
		summary.Review = true
	} else {
		summary.Review = true
	}

	// E2E gate (optional).
	if in.E2ERequired || entry.RequiresGate(string(domain.GateNameE2E)) {
		if len(in.E2ECommands) == 0 {
			err := e.FailSlice(ctx, ts, in.SliceID, FailureSpec{
				Kind:        clierr.E2EMissing,
				Message:     fmt.Sprintf("slice %s requires e2e but no e2e commands are configured", in.SliceID),
				SliceStatus: domain.SliceBlocked,
				BlockTask:   true,
			})
			return summary, &ExecuteSliceResult{Status: domain.SliceBlocked, Attempts: ss.Attempts}, err
		}
		proof, err := gate.RunE2E(ctx, in.E2ECommands, in.Policy, in.RunnerOpts)
		if err != nil {
			return summary, nil, err
		}
		proof.TaskID, proof.SliceID = in.TaskID, in.SliceID
		if err := pathio.WriteJSON(filepath.Join(proofDir, "e2e.json"), proof); err != nil {
			return summary, nil, err
		}
		if err := writeCommandLogs(e.StateRoot, mp, in.TaskID, in.SliceID, "e2e", proof.Commands); err != nil {
			return summary, nil, err
		}
		if !proof.Passed {
			err := e.FailSlice(ctx, ts, in.SliceID, FailureSpec{
				Kind:    clierr.E2EFail,
				Message: fmt.Sprintf("slice %s failed e2e", in.SliceID),
			})
			return summary, &ExecuteSliceResult{Status: domain.SliceGateFailed, Attempts: ss.Attempts}, err
		}
		summary.E2E = true
	} else {
		summary.E2E = true
	}

	return summary, nil, nil
}

// writeCommandLogs persists each command's captured stdout/stderr under the
// slice's log directory, named <gate>-<index>.log, so a human can inspect a
// failing run's full output without re-executing it.
func writeCommandLogs(stateRoot, modulePath, taskID, sliceID, gateName string, commands []domain.CommandResult) error {
	for i, c := range commands {
		name := fmt.Sprintf("%s-%d.log", gateName, i+1)
		body := fmt.Sprintf("$ %v\nexit_code: %d\n\n--- stdout ---\n%s\n--- stderr ---\n%s\n",
			c.Argv, c.ExitCode, c.Stdout, c.Stderr)
		if err := pathio.WriteFileAtomic(filepath.Join(LogsDir(stateRoot, modulePath, taskID, sliceID), name), []byte(body)); err != nil {
			return err
		}
	}
	return nil
}
