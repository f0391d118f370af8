// Package incident records gate failures and policy rejections as durable,
// queryable artifacts independent of the event log, so a retro can cluster
// them without replaying the whole history.
package incident

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/csk-next/csk/internal/domain"
	"github.com/csk-next/csk/internal/pathio"
	"github.com/csk-next/csk/internal/registry"
)

// New builds an incident record with a generated ID.
func New(taskID, sliceID, kind, message string, details map[string]any) domain.Incident {
	return domain.Incident{
		IncidentID: "INC-" + uuid.New().String()[:12],
		TaskID:     taskID,
		SliceID:    sliceID,
		Kind:       kind,
		Message:    message,
		Details:    details,
		LoggedAt:   time.Now().UTC(),
	}
}

// Log appends inc to both the global incidents log and the per-task
// incidents log, creating either file on first write.
func Log(stateRoot, modulePath string, inc domain.Incident) error {
	global := filepath.Join(stateRoot, ".csk", "app", "incidents.jsonl")
	if err := pathio.AppendJSONL(global, inc); err != nil {
		return fmt.Errorf("logging incident globally: %w", err)
	}

	perTask := TaskIncidentsPath(stateRoot, modulePath, inc.TaskID)
	if err := pathio.AppendJSONL(perTask, inc); err != nil {
		return fmt.Errorf("logging incident for task %s: %w", inc.TaskID, err)
	}
	return nil
}

// TaskIncidentsPath returns the per-task incidents.jsonl path, kept in the
// task's run tree alongside its other execution artifacts.
func TaskIncidentsPath(stateRoot, modulePath, taskID string) string {
	return filepath.Join(RunDir(stateRoot, modulePath, taskID), "incidents.jsonl")
}

// RunDir returns a task's run directory. Kept here (rather than imported
// from taskengine) to avoid a package import cycle, since taskengine
// depends on incident.
func RunDir(stateRoot, modulePath, taskID string) string {
	return filepath.Join(stateRoot, ".csk", "modules", registry.PathSegment(modulePath), "run", "tasks", taskID)
}

// ReadForTask reads every incident logged against taskID, in log order.
func ReadForTask(stateRoot, modulePath, taskID string) ([]domain.Incident, error) {
	var out []domain.Incident
	err := pathio.ReadJSONL(TaskIncidentsPath(stateRoot, modulePath, taskID), func(line []byte) error {
		var inc domain.Incident
		if err := json.Unmarshal(line, &inc); err != nil {
			return err
		}
		out = append(out, inc)
		return nil
	})
	return out, err
}
