// Package replay re-walks the event log in insertion order and checks
// that every event implies the durable artifacts its invariant requires —
// the kernel's way of catching state that events and artifacts disagree
// about, whatever caused the disagreement.
package replay

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/csk-next/csk/internal/domain"
	"github.com/csk-next/csk/internal/eventlog"
	"github.com/csk-next/csk/internal/pathio"
	"github.com/csk-next/csk/internal/taskengine"
)

// Violation is one invariant failure found during replay.
type Violation struct {
	Kind string   `json:"kind"`
	Refs []string `json:"refs,omitempty"`
	Next string   `json:"next"`
}

// Report is the outcome of a full replay pass.
type Report struct {
	EventsChecked int         `json:"events_checked"`
	Violations    []Violation `json:"violations"`
}

// Passed reports whether the replay found zero violations.
func (r *Report) Passed() bool {
	return len(r.Violations) == 0
}

// Check replays every event in the log and validates each of the seven
// invariants it can trigger.
func Check(ctx context.Context, stateRoot string, store *eventlog.Store) (*Report, error) {
	events, err := store.Query(ctx, eventlog.QueryFilter{})
	if err != nil {
		return nil, fmt.Errorf("querying events for replay: %w", err)
	}

	report := &Report{EventsChecked: len(events)}

	// projected state needed by order-dependent invariants.
	seenFrozen := map[string]bool{}
	seenPlanApproved := map[string]bool{}
	seenReadyValidated := map[string]bool{}
	seenReadyApproved := map[string]bool{}
	seenBlocked := map[string]bool{}
	seenProofPack := map[string]map[string]bool{} // taskID -> sliceID -> seen

	addViolation := func(kind, next string, refs ...string) {
		report.Violations = append(report.Violations, Violation{Kind: kind, Refs: refs, Next: next})
	}

	te := taskengine.New(stateRoot, store)
	taskDir := func(taskID string) string {
		mp, err := te.ModulePathFor(taskID)
		if err != nil {
			return ""
		}
		return taskengine.Dir(stateRoot, mp, taskID)
	}
	runDir := func(taskID string) string {
		mp, err := te.ModulePathFor(taskID)
		if err != nil {
			return ""
		}
		return taskengine.RunDir(stateRoot, mp, taskID)
	}

	for _, e := range events {
		switch e.Type {
		case "task.frozen":
			freezePath := filepath.Join(taskDir(e.TaskID), "freeze.json")
			if !pathio.Exists(freezePath) {
				addViolation("task.frozen_missing_freeze", "task freeze "+e.TaskID, freezePath)
				break
			}
			var fr domain.FreezeRecord
			if err := pathio.ReadJSON(freezePath, &fr); err != nil {
				addViolation("task.frozen_unreadable_freeze", "task freeze "+e.TaskID, freezePath)
				break
			}
			planHash, _ := pathio.SHA256File(filepath.Join(taskDir(e.TaskID), "plan.md"))
			var doc domain.SlicesDoc
			_ = pathio.ReadJSON(filepath.Join(taskDir(e.TaskID), "slices.json"), &doc)
			slicesHash, _ := pathio.CanonicalHash(doc)
			if planHash != fr.PlanHash || slicesHash != fr.SlicesHash {
				addViolation("task.frozen_hash_mismatch", "task freeze "+e.TaskID, freezePath)
				break
			}
			seenFrozen[e.TaskID] = true

		case "task.plan_approved":
			if !seenFrozen[e.TaskID] {
				addViolation("plan_approved_without_frozen", "task freeze "+e.TaskID)
			}
			approvalPath := filepath.Join(taskDir(e.TaskID), "approvals", "plan.json")
			if !pathio.Exists(approvalPath) {
				addViolation("plan_approved_missing_approval", "task approve-plan "+e.TaskID, approvalPath)
			}
			seenPlanApproved[e.TaskID] = true

		case "proof.pack.written":
			sliceID, _ := e.Payload["slice_id"].(string)
			manifestPath := filepath.Join(runDir(e.TaskID), "proofs", sliceID, "manifest.json")
			if !pathio.Exists(manifestPath) {
				addViolation("proof_pack_missing_manifest", "slice run "+e.TaskID+" "+sliceID, manifestPath)
				break
			}
			var manifest domain.ProofManifest
			if err := pathio.ReadJSON(manifestPath, &manifest); err != nil {
				addViolation("proof_pack_unreadable_manifest", "slice run "+e.TaskID+" "+sliceID, manifestPath)
				break
			}
			if !checkGateProofs(runDir(e.TaskID), sliceID, manifest.Gates, addViolation) {
				break
			}
			if seenProofPack[e.TaskID] == nil {
				seenProofPack[e.TaskID] = map[string]bool{}
			}
			seenProofPack[e.TaskID][sliceID] = true

		case "slice.completed":
			sliceID, _ := e.Payload["slice_id"].(string)
			if !(seenProofPack[e.TaskID] != nil && seenProofPack[e.TaskID][sliceID]) {
				addViolation("slice_completed_without_proof_pack", "slice run "+e.TaskID+" "+sliceID)
			}

		case "ready.validated":
			readyPath := filepath.Join(runDir(e.TaskID), "proofs", "ready.json")
			handoffPath := filepath.Join(runDir(e.TaskID), "proofs", "READY", "handoff.md")
			if !pathio.Exists(readyPath) {
				addViolation("ready_validated_missing_proof", "gate validate-ready "+e.TaskID, readyPath)
			}
			if !pathio.Exists(handoffPath) {
				addViolation("ready_validated_missing_handoff", "gate validate-ready "+e.TaskID, handoffPath)
			}
			seenReadyValidated[e.TaskID] = true

		case "ready.approved":
			if !seenReadyValidated[e.TaskID] {
				addViolation("ready_approved_without_validated", "gate validate-ready "+e.TaskID)
			}
			approvalPath := filepath.Join(taskDir(e.TaskID), "approvals", "ready.json")
			if !pathio.Exists(approvalPath) {
				addViolation("ready_approved_missing_approval", "gate approve-ready "+e.TaskID, approvalPath)
			}
			seenReadyApproved[e.TaskID] = true

		case "incident.logged":
			if blocked, _ := e.Payload["blocks_task"].(bool); blocked {
				seenBlocked[e.TaskID] = true
			}

		case "retro.completed":
			if !seenReadyApproved[e.TaskID] && !seenBlocked[e.TaskID] {
				addViolation("retro_completed_without_precondition", "gate approve-ready "+e.TaskID)
			}
			retroPath := filepath.Join(taskDir(e.TaskID), "retro.md")
			if !pathio.Exists(retroPath) {
				addViolation("retro_completed_missing_retro_md", "retro run "+e.TaskID, retroPath)
			}
			if len(e.ArtifactRefs) < 2 {
				addViolation("retro_completed_missing_patch_proposal", "retro run "+e.TaskID)
			}
		}
	}

	return report, nil
}

func checkGateProofs(runDir, sliceID string, gates domain.GateSummary, addViolation func(kind, next string, refs ...string)) bool {
	ok := true
	check := func(required bool, file, name string) {
		if !required {
			return
		}
		path := filepath.Join(runDir, "proofs", sliceID, file)
		if !pathio.Exists(path) {
			addViolation("proof_pack_missing_"+name+"_proof", "slice execute "+sliceID, path)
			ok = false
		}
	}
	check(gates.Scope, "scope.json", "scope")
	check(gates.Verify, "verify.json", "verify")
	check(gates.Review, "review.json", "review")
	check(gates.E2E, "e2e.json", "e2e")
	return ok
}
