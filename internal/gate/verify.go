package gate

import (
	"context"
	"time"

	"github.com/csk-next/csk/internal/domain"
	"github.com/csk-next/csk/internal/runner"
)

// RunVerify parses and runs each raw verify command in order, building a
// VerifyProof. With an empty rawCmds it reports executed_count=0 and
// passed=false; a caller that requires verify raises verify_config_missing
// for that case before calling this.
func RunVerify(ctx context.Context, rawCmds []string, policy runner.Policy, opts runner.Options) (domain.VerifyProof, error) {
	argvs, err := runner.ParseCommands(rawCmds)
	if err != nil {
		return domain.VerifyProof{}, err
	}

	if len(argvs) == 0 {
		return domain.VerifyProof{
			Passed:        false,
			ExecutedCount: 0,
			FailureReason: "no verify commands configured",
			CheckedAt:     time.Now().UTC(),
		}, nil
	}

	results, err := runner.RunAll(ctx, argvs, policy, opts)
	if err != nil {
		return domain.VerifyProof{}, err
	}

	passed := runner.AllPassed(results)
	reason := ""
	if !passed {
		reason = "one or more verify commands exited non-zero"
	}

	return domain.VerifyProof{
		Passed:        passed,
		ExecutedCount: len(results),
		FailureReason: reason,
		Commands:      results,
		CheckedAt:     time.Now().UTC(),
	}, nil
}

// RunE2E runs the end-to-end command sequence the same way verify does,
// building an E2EProof. E2E is the only gate that is optional per-slice or
// per-profile; the caller decides whether a missing configuration is an
// error (e2e_missing) or a silent skip.
func RunE2E(ctx context.Context, rawCmds []string, policy runner.Policy, opts runner.Options) (domain.E2EProof, error) {
	argvs, err := runner.ParseCommands(rawCmds)
	if err != nil {
		return domain.E2EProof{}, err
	}
	results, err := runner.RunAll(ctx, argvs, policy, opts)
	if err != nil {
		return domain.E2EProof{}, err
	}
	return domain.E2EProof{
		Passed:    runner.AllPassed(results),
		Commands:  results,
		CheckedAt: time.Now().UTC(),
	}, nil
}
