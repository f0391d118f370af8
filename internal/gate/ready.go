package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/csk-next/csk/internal/domain"
)

// SliceReadiness is the per-slice gate summary the ready gate aggregates
// across the whole task. VerifyRequired records whether this slice's plan
// demanded a verify gate at all — a slice that never required verify
// correctly contributes pass=true with zero executed commands, but a
// slice that did require it must show at least one executed command,
// distinguishing "verified and passed" from "verify was skipped".
type SliceReadiness struct {
	SliceID        string
	Gates          domain.GateSummary
	VerifyRequired bool
}

// ReadyInput bundles everything the ready gate needs to evaluate a task:
// whether its frozen plan is still valid (no drift), whether the plan has
// been approved, each slice's gate outcomes, and whether the profile's
// user_check_required has been satisfied by a recorded approval.
type ReadyInput struct {
	FreezeValid        bool
	FreezeReason       string
	PlanApproved       bool
	Slices             []SliceReadiness
	UserCheckRequired  bool
	UserCheckApproved  bool
}

// ValidateReady aggregates ReadyInput into a ReadyProof. It requires a
// valid (undrifted) frozen plan, an approved plan, and every slice's scope,
// verify, review, and e2e flags to be true. Every flag is required, so a
// caller must set a gate's flag to true when that gate was not required
// for the slice (slice execution does this). A slice that requires verify
// must also show at least one executed verify command.
func ValidateReady(in ReadyInput) domain.ReadyProof {
	if !in.FreezeValid {
		return domain.ReadyProof{
			Passed:            false,
			UserCheckRequired: in.UserCheckRequired,
			FailureReason:     "plan is not frozen or has drifted: " + in.FreezeReason,
			CheckedAt:         time.Now().UTC(),
		}
	}
	if !in.PlanApproved {
		return domain.ReadyProof{
			Passed:            false,
			UserCheckRequired: in.UserCheckRequired,
			FailureReason:     "plan has not been approved",
			CheckedAt:         time.Now().UTC(),
		}
	}
	if len(in.Slices) == 0 {
		return domain.ReadyProof{
			Passed:            false,
			UserCheckRequired: in.UserCheckRequired,
			FailureReason:     "task has no slices",
			CheckedAt:         time.Now().UTC(),
		}
	}

	var failing []string
	for _, s := range in.Slices {
		complete := s.Gates.Scope && s.Gates.Verify && s.Gates.Review && s.Gates.E2E
		if complete && s.VerifyRequired && s.Gates.VerifyExecutedCount == 0 {
			complete = false
		}
		if !complete {
			failing = append(failing, s.SliceID)
		}
	}
	if len(failing) > 0 {
		return domain.ReadyProof{
			Passed:            false,
			UserCheckRequired: in.UserCheckRequired,
			FailureReason:     fmt.Sprintf("slices with incomplete gates: %s", strings.Join(failing, ", ")),
			CheckedAt:         time.Now().UTC(),
		}
	}

	if in.UserCheckRequired && !in.UserCheckApproved {
		return domain.ReadyProof{
			Passed:            false,
			UserCheckRequired: in.UserCheckRequired,
			FailureReason:     "user_check_required is set but no user check approval has been recorded",
			CheckedAt:         time.Now().UTC(),
		}
	}

	return domain.ReadyProof{
		Passed:            true,
		UserCheckRequired: in.UserCheckRequired,
		CheckedAt:         time.Now().UTC(),
	}
}

// HandoffDocs renders the human-facing handoff.md and the machine-facing
// handoff.json for a task whose ready gate has passed.
func HandoffDocs(taskID string, proof domain.ReadyProof, slices []SliceReadiness) (markdown string, doc map[string]any) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Handoff: %s\n\n", taskID)
	fmt.Fprintf(&b, "Ready gate passed at %s.\n\n", proof.CheckedAt.Format(time.RFC3339))
	b.WriteString("## Slice gate summary\n\n")
	b.WriteString("| Slice | Scope | Verify | Review | E2E |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, s := range slices {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			s.SliceID, mark(s.Gates.Scope), mark(s.Gates.Verify), mark(s.Gates.Review), mark(s.Gates.E2E))
	}
	if proof.UserCheckRequired {
		b.WriteString("\n## Manual smoke steps\n\n")
		b.WriteString("This task requires a manual check before approval. Exercise the primary user-facing\n")
		b.WriteString("flow for this change and confirm behavior matches the plan before running `gate approve-ready`.\n")
	}

	doc = map[string]any{
		"task_id":             taskID,
		"passed":              proof.Passed,
		"user_check_required": proof.UserCheckRequired,
		"checked_at":          proof.CheckedAt,
		"slices":              slices,
	}
	return b.String(), doc
}

func mark(ok bool) string {
	if ok {
		return "pass"
	}
	return "fail"
}
