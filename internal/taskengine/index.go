package taskengine

import (
	"path/filepath"

	"github.com/csk-next/csk/internal/clierr"
	"github.com/csk-next/csk/internal/pathio"
)

// taskIndexPath returns the path to the kernel-wide task_id -> module_path
// lookup table. Every kernel operation that only receives a bare task_id
// (task_freeze, gate_validate_ready, retro_run, ...) consults this to find
// the task's module-scoped directory without the caller threading a
// module_path through every call site.
func taskIndexPath(stateRoot string) string {
	return filepath.Join(stateRoot, ".csk", "app", "task_index.json")
}

type taskIndexDoc struct {
	Tasks map[string]string `json:"tasks"`
}

func loadTaskIndex(stateRoot string) (map[string]string, error) {
	var doc taskIndexDoc
	if !pathio.Exists(taskIndexPath(stateRoot)) {
		return map[string]string{}, nil
	}
	if err := pathio.ReadJSON(taskIndexPath(stateRoot), &doc); err != nil {
		return nil, err
	}
	if doc.Tasks == nil {
		doc.Tasks = map[string]string{}
	}
	return doc.Tasks, nil
}

// recordTaskModule records taskID's owning module path, called once at
// task_new time.
func recordTaskModule(stateRoot, taskID, modulePath string) error {
	idx, err := loadTaskIndex(stateRoot)
	if err != nil {
		return err
	}
	idx[taskID] = modulePath
	return pathio.WriteJSON(taskIndexPath(stateRoot), taskIndexDoc{Tasks: idx})
}

// modulePathFor resolves a bare task ID to its owning module path.
func (e *Engine) modulePathFor(taskID string) (string, error) {
	idx, err := loadTaskIndex(e.StateRoot)
	if err != nil {
		return "", err
	}
	mp, ok := idx[taskID]
	if !ok {
		return "", clierr.Newf(clierr.NotFound, "task %q not found", taskID)
	}
	return mp, nil
}

// ModulePathFor exposes modulePathFor for callers outside taskengine (the
// kernel, retro) that need a task's module path without re-deriving it
// from task state themselves.
func (e *Engine) ModulePathFor(taskID string) (string, error) {
	return e.modulePathFor(taskID)
}
