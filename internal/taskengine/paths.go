// Package taskengine drives the task lifecycle state machine and the
// slice execution loop: the scope → verify → review → e2e gate chain, the
// retry ceiling, and the freeze/drift checks that gate plan approval.
package taskengine

import (
	"path/filepath"

	"github.com/csk-next/csk/internal/registry"
)

// Dir returns a task's metadata directory, rooted under its module's own
// tree in the kernel's state root rather than under the module's working
// copy: .csk/modules/<module_path>/tasks/<task_id>/.
func Dir(stateRoot, modulePath, taskID string) string {
	return filepath.Join(stateRoot, ".csk", "modules", registry.PathSegment(modulePath), "tasks", taskID)
}

// RunDir returns a task's proof-and-log tree, sibling to its metadata
// directory: .csk/modules/<module_path>/run/tasks/<task_id>/.
func RunDir(stateRoot, modulePath, taskID string) string {
	return filepath.Join(stateRoot, ".csk", "modules", registry.PathSegment(modulePath), "run", "tasks", taskID)
}

func statePath(stateRoot, modulePath, taskID string) string {
	return filepath.Join(Dir(stateRoot, modulePath, taskID), "task.json")
}

func planPath(stateRoot, modulePath, taskID string) string {
	return filepath.Join(Dir(stateRoot, modulePath, taskID), "plan.md")
}

func slicesPath(stateRoot, modulePath, taskID string) string {
	return filepath.Join(Dir(stateRoot, modulePath, taskID), "slices.json")
}

func decisionsPath(stateRoot, modulePath, taskID string) string {
	return filepath.Join(Dir(stateRoot, modulePath, taskID), "decisions.jsonl")
}

func criticReportPath(stateRoot, modulePath, taskID string) string {
	return filepath.Join(Dir(stateRoot, modulePath, taskID), "critic_report.json")
}

func freezePath(stateRoot, modulePath, taskID string) string {
	return filepath.Join(Dir(stateRoot, modulePath, taskID), "freeze.json")
}

func planApprovalPath(stateRoot, modulePath, taskID string) string {
	return filepath.Join(Dir(stateRoot, modulePath, taskID), "approvals", "plan.json")
}

// ReadyApprovalPath returns a task's recorded ready-gate approval.
func ReadyApprovalPath(stateRoot, modulePath, taskID string) string {
	return filepath.Join(Dir(stateRoot, modulePath, taskID), "approvals", "ready.json")
}

// UserCheckApprovalPath returns the approval an operator records after
// performing the manual smoke check a profile's user_check_required
// demands, ahead of ready gate validation.
func UserCheckApprovalPath(stateRoot, modulePath, taskID string) string {
	return filepath.Join(Dir(stateRoot, modulePath, taskID), "approvals", "user_check.json")
}

func retroPath(stateRoot, modulePath, taskID string) string {
	return filepath.Join(Dir(stateRoot, modulePath, taskID), "retro.md")
}

// SliceProofsDir returns one slice's proof directory under the task's run
// tree.
func SliceProofsDir(stateRoot, modulePath, taskID, sliceID string) string {
	return filepath.Join(RunDir(stateRoot, modulePath, taskID), "proofs", sliceID)
}

// ManifestPath returns a slice's proof-pack manifest path.
func ManifestPath(stateRoot, modulePath, taskID, sliceID string) string {
	return filepath.Join(SliceProofsDir(stateRoot, modulePath, taskID, sliceID), "manifest.json")
}

// LogsDir returns the directory a slice's command logs are written under.
func LogsDir(stateRoot, modulePath, taskID, sliceID string) string {
	return filepath.Join(RunDir(stateRoot, modulePath, taskID), "logs", sliceID)
}

// ReadyProofPath returns the task-wide ready gate's aggregate proof path.
func ReadyProofPath(stateRoot, modulePath, taskID string) string {
	return filepath.Join(RunDir(stateRoot, modulePath, taskID), "proofs", "ready.json")
}

// HandoffMDPath and HandoffJSONPath return the human- and machine-facing
// handoff documents the ready gate writes once it passes.
func HandoffMDPath(stateRoot, modulePath, taskID string) string {
	return filepath.Join(RunDir(stateRoot, modulePath, taskID), "proofs", "READY", "handoff.md")
}

func HandoffJSONPath(stateRoot, modulePath, taskID string) string {
	return filepath.Join(RunDir(stateRoot, modulePath, taskID), "proofs", "READY", "handoff.json")
}
