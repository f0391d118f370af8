// Package validate performs a structural pass over durable kernel state,
// independent of the event log: every JSON artifact against its schema,
// every task's status against the artifacts that status implies, and
// every cross-reference (module IDs, slice deps) against what actually
// exists on disk.
package validate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/csk-next/csk/internal/domain"
	"github.com/csk-next/csk/internal/pathio"
	"github.com/csk-next/csk/internal/registry"
	"github.com/csk-next/csk/internal/taskengine"
)

// Finding is one structural problem found during validation.
type Finding struct {
	Severity string `json:"severity"` // "warning" or "error"
	Subject  string `json:"subject"`
	Message  string `json:"message"`
}

// Report is the outcome of a full validation pass.
type Report struct {
	Findings []Finding `json:"findings"`
	Strict   bool      `json:"strict"`
}

// HasFailures reports whether the report contains errors, or (in strict
// mode) any findings at all.
func (r *Report) HasFailures() bool {
	for _, f := range r.Findings {
		if f.Severity == "error" {
			return true
		}
	}
	return r.Strict && len(r.Findings) > 0
}

func (r *Report) add(severity, subject, message string) {
	r.Findings = append(r.Findings, Finding{Severity: severity, Subject: subject, Message: message})
}

func (r *Report) warnOrError(strict bool, subject, message string) {
	if strict {
		r.add("error", subject, message)
	} else {
		r.add("warning", subject, message)
	}
}

// All runs every validation sub-pass and returns the combined report.
func All(stateRoot string, strict bool) (*Report, error) {
	report := &Report{Strict: strict}

	reg, err := registry.Load(stateRoot)
	if err != nil {
		report.add("error", "registry", err.Error())
		return report, nil
	}
	if err := domain.ValidateRegistry(reg); err != nil {
		report.add("error", "registry", err.Error())
	}
	validateModules(stateRoot, reg, strict, report)

	for _, m := range reg.Modules {
		tasksDir := filepath.Join(stateRoot, ".csk", "modules", registry.PathSegment(m.Path), "tasks")
		entries, err := os.ReadDir(tasksDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading tasks directory for module %q: %w", m.ModuleID, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			validateTask(stateRoot, m.Path, entry.Name(), reg, strict, report)
		}
	}

	missionsDir := filepath.Join(stateRoot, ".csk", "app", "missions")
	missionEntries, err := os.ReadDir(missionsDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading missions directory: %w", err)
	}
	for _, entry := range missionEntries {
		if !entry.IsDir() {
			continue
		}
		validateMission(stateRoot, entry.Name(), reg, strict, report)
	}

	return report, nil
}

func validateModules(stateRoot string, reg *domain.Registry, strict bool, report *Report) {
	for _, m := range reg.Modules {
		root := filepath.Join(stateRoot, m.Path)
		if _, err := os.Stat(root); err != nil {
			report.add("error", m.ModuleID, fmt.Sprintf("registered module path %q does not exist", m.Path))
			continue
		}
		kernelJSON := filepath.Join(root, ".csk", "kernel.json")
		if _, err := os.Stat(kernelJSON); err != nil {
			report.warnOrError(strict, m.ModuleID, "module has not been initialized (missing .csk/kernel.json)")
		}
	}
}

func validateTask(stateRoot, modulePath, taskID string, reg *domain.Registry, strict bool, report *Report) {
	dir := taskengine.Dir(stateRoot, modulePath, taskID)

	var ts domain.TaskState
	if err := pathio.ReadJSON(filepath.Join(dir, "task.json"), &ts); err != nil {
		report.add("error", taskID, "unreadable or missing task.json: "+err.Error())
		return
	}
	if err := domain.ValidateTaskState(&ts); err != nil {
		report.add("error", taskID, err.Error())
	}
	if _, ok := reg.FindModule(ts.ModuleID); !ok {
		report.add("error", taskID, fmt.Sprintf("references unregistered module %q", ts.ModuleID))
	}

	var doc domain.SlicesDoc
	if err := pathio.ReadJSON(filepath.Join(dir, "slices.json"), &doc); err != nil {
		report.add("error", taskID, "unreadable or missing slices.json: "+err.Error())
		return
	}
	if err := domain.ValidateSlicesDoc(&doc); err != nil {
		report.add("error", taskID, err.Error())
	}

	if ts.Status != domain.TaskDraft {
		if _, err := os.Stat(filepath.Join(dir, "critic_report.json")); err != nil {
			report.add("error", taskID, "status is past draft but critic_report.json is missing")
		} else {
			var cr domain.CriticReport
			if err := pathio.ReadJSON(filepath.Join(dir, "critic_report.json"), &cr); err == nil {
				if cr.P0Count != 0 || cr.P1Count != 0 {
					report.add("error", taskID, "critic report has outstanding P0/P1 findings but task has advanced past draft")
				}
			}
		}
	}

	pastFrozen := map[domain.TaskStatus]bool{
		domain.TaskFrozen: true, domain.TaskPlanApproved: true, domain.TaskExecuting: true,
		domain.TaskBlocked: true, domain.TaskReadyValidated: true, domain.TaskReadyApproved: true,
		domain.TaskRetroDone: true, domain.TaskClosed: true,
	}
	if pastFrozen[ts.Status] {
		if _, err := os.Stat(filepath.Join(dir, "freeze.json")); err != nil {
			report.add("error", taskID, "status implies a frozen plan but freeze.json is missing")
		}
	}

	pastPlanApproved := map[domain.TaskStatus]bool{
		domain.TaskPlanApproved: true, domain.TaskExecuting: true, domain.TaskBlocked: true,
		domain.TaskReadyValidated: true, domain.TaskReadyApproved: true, domain.TaskRetroDone: true,
		domain.TaskClosed: true,
	}
	if pastPlanApproved[ts.Status] {
		if _, err := os.Stat(filepath.Join(dir, "approvals", "plan.json")); err != nil {
			report.add("error", taskID, "status implies plan approval but approvals/plan.json is missing")
		}
	}

	if ts.Status == domain.TaskBlocked && ts.BlockedReason == "" {
		report.add("error", taskID, "status is blocked but blocked_reason is empty")
	}

	if ts.Status == domain.TaskReadyValidated || ts.Status == domain.TaskReadyApproved {
		if !ts.AllSlicesDone(&doc) {
			report.add("error", taskID, "status implies ready but not every slice is done")
		}
		readyProofPath := taskengine.ReadyProofPath(stateRoot, modulePath, taskID)
		if _, err := os.Stat(readyProofPath); err != nil {
			report.add("error", taskID, "status implies ready but proofs/ready.json is missing")
		} else {
			var rp domain.ReadyProof
			if err := pathio.ReadJSON(readyProofPath, &rp); err == nil && !rp.Passed {
				report.add("error", taskID, "proofs/ready.json records a failed ready gate but status implies it passed")
			}
		}
	}

	if ts.Status == domain.TaskReadyApproved || ts.Status == domain.TaskRetroDone || ts.Status == domain.TaskClosed {
		if _, err := os.Stat(filepath.Join(dir, "approvals", "ready.json")); err != nil {
			report.add("error", taskID, "status implies ready approval but approvals/ready.json is missing")
		}
	}

	if ts.Status == domain.TaskRetroDone || ts.Status == domain.TaskClosed {
		if _, err := os.Stat(filepath.Join(dir, "retro.md")); err != nil {
			report.add("error", taskID, "status implies retro completion but retro.md is missing")
		}
	}
}

func validateMission(stateRoot, missionID string, reg *domain.Registry, strict bool, report *Report) {
	dir := filepath.Join(stateRoot, ".csk", "app", "missions", missionID)
	var m domain.Mission
	if err := pathio.ReadJSON(filepath.Join(dir, "mission.json"), &m); err != nil {
		report.add("error", missionID, "unreadable or missing mission.json: "+err.Error())
		return
	}
	if err := domain.ValidateMission(&m, reg); err != nil {
		report.add("error", missionID, err.Error())
	}

	worktreesPath := filepath.Join(dir, "worktrees.json")
	if _, err := os.Stat(worktreesPath); err == nil {
		var recs []domain.WorktreeRecord
		if err := pathio.ReadJSON(worktreesPath, &recs); err == nil {
			for _, rec := range recs {
				if rec.CreateStatus == "fallback" && rec.FallbackReason == "" {
					report.warnOrError(strict, missionID, fmt.Sprintf("worktree for module %q records a fallback with no reason", rec.ModuleID))
				}
			}
		}
	}
}
