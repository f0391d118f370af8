package taskengine

import (
	"context"

	"github.com/csk-next/csk/internal/clierr"
	"github.com/csk-next/csk/internal/domain"
	"github.com/csk-next/csk/internal/incident"
)

// FailureSpec describes how one slice-execution failure should be
// recorded and reflected into task/slice state.
type FailureSpec struct {
	Kind        clierr.Code
	Message     string
	Details     map[string]any
	SliceStatus domain.SliceStatus // status to set on the slice; default gate_failed
	BlockTask   bool               // if true, also transition the task to blocked
}

// FailSlice logs an incident for the failure, updates the slice's runtime
// status, optionally blocks the task, and returns the corresponding
// clierr.Error describing why execution stopped.
func (e *Engine) FailSlice(ctx context.Context, ts *domain.TaskState, sliceID string, spec FailureSpec) error {
	mp, err := e.modulePathFor(ts.TaskID)
	if err != nil {
		return err
	}
	inc := incident.New(ts.TaskID, sliceID, string(spec.Kind), spec.Message, spec.Details)
	if err := incident.Log(e.StateRoot, mp, inc); err != nil {
		return err
	}
	if err := e.emit(ctx, "incident.logged", ts.TaskID, map[string]any{
		"incident_id": inc.IncidentID,
		"kind":        inc.Kind,
		"slice_id":    sliceID,
		"blocks_task": spec.BlockTask,
	}); err != nil {
		return err
	}

	status := spec.SliceStatus
	if status == "" {
		status = domain.SliceGateFailed
	}
	ss := ts.SliceState(sliceID)
	ss.Status = status
	if err := e.WriteState(ts); err != nil {
		return err
	}

	if spec.BlockTask {
		if err := e.MarkBlocked(ctx, ts, spec.Message); err != nil {
			return err
		}
	}

	return clierr.New(spec.Kind, spec.Message).WithDetails(spec.Details)
}
