package domain

import (
	"fmt"
)

// SchemaError reports that a durable document failed structural
// validation: a required field was empty or a closed vocabulary value was
// not a member of its set.
type SchemaError struct {
	Kind   string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema violation (%s): %s", e.Kind, e.Reason)
}

// ValidateTaskState checks ts against the closed set of task statuses and
// the structural requirements of the task_state document.
func ValidateTaskState(ts *TaskState) error {
	if ts.TaskID == "" {
		return &SchemaError{Kind: "task_state", Reason: "task_id is required"}
	}
	if ts.ModuleID == "" {
		return &SchemaError{Kind: "task_state", Reason: "module_id is required"}
	}
	if !TaskStatuses[ts.Status] {
		return &SchemaError{Kind: "task_state", Reason: fmt.Sprintf("unknown status %q", ts.Status)}
	}
	if ts.Status == TaskBlocked && ts.BlockedReason == "" {
		return &SchemaError{Kind: "task_state", Reason: "blocked_reason is required when status is blocked"}
	}
	for id, s := range ts.Slices {
		if s.SliceID != id {
			return &SchemaError{Kind: "task_state", Reason: fmt.Sprintf("slice key %q does not match slice_id %q", id, s.SliceID)}
		}
		if !SliceStatuses[s.Status] {
			return &SchemaError{Kind: "task_state", Reason: fmt.Sprintf("unknown slice status %q for %q", s.Status, id)}
		}
	}
	return nil
}

// ValidateSlicesDoc checks the structural requirements of a slices.json
// document: non-empty slice list, unique IDs, and deps that refer only to
// other slices in the same document.
func ValidateSlicesDoc(doc *SlicesDoc) error {
	if doc.TaskID == "" {
		return &SchemaError{Kind: "slices", Reason: "task_id is required"}
	}
	if len(doc.Slices) == 0 {
		return &SchemaError{Kind: "slices", Reason: "at least one slice is required"}
	}
	seen := map[string]bool{}
	for _, s := range doc.Slices {
		if s.SliceID == "" {
			return &SchemaError{Kind: "slices", Reason: "slice_id is required"}
		}
		if seen[s.SliceID] {
			return &SchemaError{Kind: "slices", Reason: fmt.Sprintf("duplicate slice_id %q", s.SliceID)}
		}
		seen[s.SliceID] = true
	}
	for _, s := range doc.Slices {
		for _, dep := range s.Deps {
			if !seen[dep] {
				return &SchemaError{Kind: "slices", Reason: fmt.Sprintf("slice %q depends on unknown slice %q", s.SliceID, dep)}
			}
		}
	}
	return nil
}

// ValidateRegistry checks every module record has a module_id and a
// non-empty path, and that no two records share an ID or a path. It does
// not check that a path is relative or normalized.
func ValidateRegistry(r *Registry) error {
	seenID := map[string]bool{}
	seenPath := map[string]bool{}
	for _, m := range r.Modules {
		if m.ModuleID == "" {
			return &SchemaError{Kind: "registry", Reason: "module_id is required"}
		}
		if seenID[m.ModuleID] {
			return &SchemaError{Kind: "registry", Reason: fmt.Sprintf("duplicate module_id %q", m.ModuleID)}
		}
		seenID[m.ModuleID] = true
		if m.Path == "" {
			return &SchemaError{Kind: "registry", Reason: fmt.Sprintf("module %q has no path", m.ModuleID)}
		}
		if seenPath[m.Path] {
			return &SchemaError{Kind: "registry", Reason: fmt.Sprintf("duplicate module path %q", m.Path)}
		}
		seenPath[m.Path] = true
	}
	return nil
}

// ValidateCriticReport checks the structural requirements of a critic
// report: a passed report must show zero P0/P1 findings.
func ValidateCriticReport(r *CriticReport) error {
	if r.TaskID == "" {
		return &SchemaError{Kind: "critic_report", Reason: "task_id is required"}
	}
	if r.Passed && (r.P0Count != 0 || r.P1Count != 0) {
		return &SchemaError{Kind: "critic_report", Reason: "a passed critic report must have zero P0/P1 findings"}
	}
	return nil
}

// EventTypes is the closed vocabulary of event types the kernel may
// append to the log. Between gates the kernel emits no partial success
// events: a failed scope or verify check surfaces only as an
// incident.logged row plus the per-gate proof file on disk, never a
// bespoke event type of its own.
var EventTypes = map[string]bool{
	"command.started":          true,
	"command.completed":        true,
	"bootstrap.completed":      true,
	"module.added":             true,
	"module.initialized":       true,
	"registry.detected":        true,
	"mission.created":          true,
	"milestone.activated":      true,
	"worktree.created":         true,
	"worktree.failed":          true,
	"task.created":             true,
	"slice.created":            true,
	"task.critic_passed":       true,
	"task.critic_failed":       true,
	"task.frozen":              true,
	"task.plan_approved":       true,
	"proof.pack.written":       true,
	"slice.completed":          true,
	"ready.validated":          true,
	"ready.approved":           true,
	"retro.completed":          true,
	"incident.logged":          true,
	"replay.checked":           true,
}

// ValidateEventEnvelope checks the structural requirements of an event row
// before it is appended to the log, including membership in the closed
// event-type vocabulary.
func ValidateEventEnvelope(e *EventEnvelope) error {
	if e.Type == "" {
		return &SchemaError{Kind: "event_envelope", Reason: "type is required"}
	}
	if !EventTypes[e.Type] {
		return &SchemaError{Kind: "event_envelope", Reason: fmt.Sprintf("unknown event type %q", e.Type)}
	}
	if e.TS.IsZero() {
		return &SchemaError{Kind: "event_envelope", Reason: "ts is required"}
	}
	return nil
}

// ValidateProfile checks that a merged profile's gate-required fields are
// internally consistent: a gate required without any configured commands
// is reported by the gate itself, not here, since scope_config_missing /
// verify_config_missing are slice-execution-time conditions, not static
// profile errors.
func ValidateProfile(p *Profile) error {
	if p.Name == "" {
		return &SchemaError{Kind: "profile", Reason: "name is required"}
	}
	return nil
}

// ValidateMission checks the structural requirements of a mission record:
// at least one module, and module IDs that exist in the given registry.
func ValidateMission(m *Mission, registry *Registry) error {
	if m.MissionID == "" {
		return &SchemaError{Kind: "mission", Reason: "mission_id is required"}
	}
	if len(m.ModuleIDs) == 0 {
		return &SchemaError{Kind: "mission", Reason: "at least one module_id is required"}
	}
	for _, id := range m.ModuleIDs {
		if _, ok := registry.FindModule(id); !ok {
			return &SchemaError{Kind: "mission", Reason: fmt.Sprintf("module %q is not registered", id)}
		}
	}
	return nil
}
