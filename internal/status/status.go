// Package status projects the kernel's durable state into a read-only
// summary of what phase every module and the overall project is in, and
// what operation should run next. It never writes anything; it only
// reads task.json, slices.json, and registry artifacts already on disk.
package status

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/csk-next/csk/internal/domain"
	"github.com/csk-next/csk/internal/pathio"
	"github.com/csk-next/csk/internal/registry"
)

// Phase is a coarse, human-facing project phase derived from a task's
// fine-grained status.
type Phase string

const (
	PhasePlanning        Phase = "PLANNING"
	PhasePlanFrozen      Phase = "PLAN_FROZEN"
	PhaseExecuting       Phase = "EXECUTING"
	PhaseReadyValidated  Phase = "READY_VALIDATED"
	PhaseRetroRequired   Phase = "RETRO_REQUIRED"
	PhaseBlocked         Phase = "BLOCKED"
	PhaseRetroDone       Phase = "RETRO_DONE"
	PhaseClosed          Phase = "CLOSED"
	PhaseNotBootstrapped Phase = "NOT_BOOTSTRAPPED"
)

var phaseByTaskStatus = map[domain.TaskStatus]Phase{
	domain.TaskDraft:          PhasePlanning,
	domain.TaskCriticPassed:   PhasePlanning,
	domain.TaskFrozen:         PhasePlanFrozen,
	domain.TaskPlanApproved:   PhaseExecuting,
	domain.TaskExecuting:      PhaseExecuting,
	domain.TaskReadyValidated: PhaseReadyValidated,
	domain.TaskReadyApproved:  PhaseRetroRequired,
	domain.TaskBlocked:        PhaseBlocked,
	domain.TaskRetroDone:      PhaseRetroDone,
	domain.TaskClosed:         PhaseClosed,
}

// phasePriority ranks phases by urgency: lower is more urgent. Used to
// pick the "active" module when more than one has open work.
var phasePriority = map[Phase]int{
	PhaseBlocked:        0,
	PhaseRetroRequired:  1,
	PhaseReadyValidated: 2,
	PhaseExecuting:      3,
	PhasePlanFrozen:     4,
	PhasePlanning:       5,
	PhaseRetroDone:      6,
	PhaseClosed:         7,
	PhaseNotBootstrapped: 8,
}

// ModuleProjection summarizes one module's current position.
type ModuleProjection struct {
	ModuleID      string `json:"module_id"`
	Phase         Phase  `json:"phase"`
	ActiveTaskID  string `json:"active_task_id,omitempty"`
	ActiveSliceID string `json:"active_slice_id,omitempty"`
	SlicesDone    int    `json:"slices_done"`
	SlicesTotal   int    `json:"slices_total"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// SkillsProjection is a documented stub: skill generation and drift
// detection are out of the kernel's scope, so status always reports it as
// satisfied rather than invoking an external generator.
type SkillsProjection struct {
	Status string `json:"status"`
}

// ProjectStatus is the full status projection for the project root.
type ProjectStatus struct {
	Bootstrapped bool                `json:"bootstrapped"`
	Phase        Phase               `json:"phase"`
	Modules      []ModuleProjection  `json:"modules"`
	ActiveModule string              `json:"active_module,omitempty"`
	Skills       SkillsProjection    `json:"skills"`
	Next         string              `json:"next"`
}

func bootstrapped(stateRoot string) bool {
	_, err := os.Stat(filepath.Join(stateRoot, ".csk", "app"))
	return err == nil
}

// Project computes the full project-level status projection.
func Project(stateRoot string) (*ProjectStatus, error) {
	if !bootstrapped(stateRoot) {
		return &ProjectStatus{
			Bootstrapped: false,
			Phase:        PhaseNotBootstrapped,
			Skills:       SkillsProjection{Status: "ok"},
			Next:         "bootstrap",
		}, nil
	}

	reg, err := registry.Load(stateRoot)
	if err != nil {
		return nil, err
	}

	var modules []ModuleProjection
	for _, rec := range reg.Modules {
		mp, err := ModuleStatus(stateRoot, rec.ModuleID, rec.Path)
		if err != nil {
			return nil, err
		}
		modules = append(modules, *mp)
	}

	active := activeModule(modules)
	overall := PhaseClosed
	if active != nil {
		overall = active.Phase
	}

	return &ProjectStatus{
		Bootstrapped: true,
		Phase:        overall,
		Modules:      modules,
		ActiveModule: activeModuleID(active),
		Skills:       SkillsProjection{Status: "ok"},
		Next:         nextAction(overall),
	}, nil
}

func activeModuleID(mp *ModuleProjection) string {
	if mp == nil {
		return ""
	}
	return mp.ModuleID
}

// activeModule picks the module with the most urgent phase, breaking ties
// by most recently updated, then lexically smallest module ID, so the
// selection is fully deterministic across runs.
func activeModule(modules []ModuleProjection) *ModuleProjection {
	if len(modules) == 0 {
		return nil
	}
	sorted := make([]ModuleProjection, len(modules))
	copy(sorted, modules)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := phasePriority[sorted[i].Phase], phasePriority[sorted[j].Phase]
		if pi != pj {
			return pi < pj
		}
		if sorted[i].UpdatedAt != sorted[j].UpdatedAt {
			return sorted[i].UpdatedAt > sorted[j].UpdatedAt
		}
		return sorted[i].ModuleID < sorted[j].ModuleID
	})
	return &sorted[0]
}

// ModuleStatus computes the status projection for a single module by
// finding its active (first non-terminal, else most recent) task.
func ModuleStatus(stateRoot, moduleID, modulePath string) (*ModuleProjection, error) {
	mp := &ModuleProjection{ModuleID: moduleID, Phase: PhasePlanning}

	taskID, ts, doc, err := activeTask(stateRoot, modulePath)
	if err != nil {
		return nil, err
	}
	if taskID == "" {
		return mp, nil
	}

	mp.Phase = phaseByTaskStatus[ts.Status]
	mp.ActiveTaskID = taskID
	mp.UpdatedAt = ts.UpdatedAt.Format("2006-01-02T15:04:05Z07:00")

	if doc != nil {
		mp.SlicesTotal = len(doc.Slices)
		for _, s := range doc.Slices {
			if state, ok := ts.Slices[s.SliceID]; ok && state.Status == domain.SliceDone {
				mp.SlicesDone++
			}
		}
		mp.ActiveSliceID = activeSliceID(ts, doc)
	}

	return mp, nil
}

// activeTask scans a module's tasks directory and returns the first task
// that is not closed/retro_done, or the most recently updated task if all
// are terminal.
func activeTask(stateRoot, modulePath string) (string, *domain.TaskState, *domain.SlicesDoc, error) {
	tasksDir := filepath.Join(stateRoot, ".csk", "modules", registry.PathSegment(modulePath), "tasks")
	entries, err := os.ReadDir(tasksDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, nil, nil
		}
		return "", nil, nil, err
	}

	var best *domain.TaskState
	var bestDoc *domain.SlicesDoc
	var bestID string
	te := func(taskID string) (*domain.TaskState, error) {
		var ts domain.TaskState
		if err := pathio.ReadJSON(filepath.Join(tasksDir, taskID, "task.json"), &ts); err != nil {
			return nil, err
		}
		return &ts, nil
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ts, err := te(entry.Name())
		if err != nil {
			continue
		}
		doc, _ := loadSlicesDoc(tasksDir, entry.Name())

		if ts.Status != domain.TaskClosed && ts.Status != domain.TaskRetroDone {
			return entry.Name(), ts, doc, nil
		}
		if best == nil || ts.UpdatedAt.After(best.UpdatedAt) {
			best, bestDoc, bestID = ts, doc, entry.Name()
		}
	}
	return bestID, best, bestDoc, nil
}

func loadSlicesDoc(tasksDir, taskID string) (*domain.SlicesDoc, error) {
	var doc domain.SlicesDoc
	if err := pathio.ReadJSON(filepath.Join(tasksDir, taskID, "slices.json"), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func activeSliceID(ts *domain.TaskState, doc *domain.SlicesDoc) string {
	for _, s := range doc.Slices {
		if state, ok := ts.Slices[s.SliceID]; !ok || state.Status != domain.SliceDone {
			return s.SliceID
		}
	}
	return ""
}

// nextAction is the routing table mapping overall project phase to the
// single recommended next operation.
func nextAction(phase Phase) string {
	switch phase {
	case PhaseNotBootstrapped:
		return "bootstrap"
	case PhasePlanFrozen, PhaseReadyValidated:
		return "approve"
	case PhaseRetroRequired, PhaseBlocked:
		return "retro run"
	case PhasePlanning, PhaseExecuting:
		return "run"
	default:
		return "run"
	}
}
