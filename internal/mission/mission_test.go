package mission

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/csk-next/csk/internal/domain"
	"github.com/csk-next/csk/internal/eventlog"
	"github.com/csk-next/csk/internal/registry"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	store, err := eventlog.Open(filepath.Join(dir, ".csk", "app", "events.db"), dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	for _, m := range []string{"m1", "m2", "m3"} {
		if _, err := registry.Add(dir, m, m); err != nil {
			t.Fatalf("registry.Add(%s): %v", m, err)
		}
	}

	return New(dir, store)
}

func TestCreateSeedsOnlyFirstMilestoneDetailed(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	m, err := e.Create(ctx, NewMissionInput{
		MissionID: "MI-0001",
		Title:     "roll out",
		ModuleIDs: []string{"m1", "m2", "m3"},
		Routing:   []string{"m1", "m2", "m3"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(m.Milestones) != 3 {
		t.Fatalf("expected 3 milestones, got %d", len(m.Milestones))
	}
	if m.Milestones[0].Status != domain.MilestoneActivated {
		t.Fatalf("expected milestone 0 activated, got %s", m.Milestones[0].Status)
	}
	if len(m.Milestones[0].ModuleIDs) != 1 || m.Milestones[0].ModuleIDs[0] != "m1" {
		t.Fatalf("expected milestone 0 detailed with m1, got %+v", m.Milestones[0].ModuleIDs)
	}
	for i, ms := range m.Milestones[1:] {
		if ms.Status != domain.MilestonePending {
			t.Fatalf("expected milestone %d pending, got %s", i+1, ms.Status)
		}
		if len(ms.ModuleIDs) != 0 {
			t.Fatalf("expected milestone %d undetailed, got %+v", i+1, ms.ModuleIDs)
		}
	}

	events := queryMissionEvents(t, e, "MI-0001")
	if !hasEventType(events, "mission.created") {
		t.Fatalf("expected mission.created among %v", events)
	}
	if !hasEventType(events, "milestone.activated") {
		t.Fatalf("expected milestone.activated among %v", events)
	}
}

func TestAdvanceDetailsNextPendingMilestone(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Create(ctx, NewMissionInput{
		MissionID: "MI-0001",
		Title:     "roll out",
		ModuleIDs: []string{"m1", "m2"},
		Routing:   []string{"m1", "m2"},
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	m, err := e.Advance(ctx, "MI-0001")
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if m.Milestones[1].Status != domain.MilestoneActivated {
		t.Fatalf("expected milestone 1 activated after advance, got %s", m.Milestones[1].Status)
	}
	if len(m.Milestones[1].ModuleIDs) != 1 || m.Milestones[1].ModuleIDs[0] != "m2" {
		t.Fatalf("expected milestone 1 detailed with m2, got %+v", m.Milestones[1].ModuleIDs)
	}

	if _, err := e.Advance(ctx, "MI-0001"); err == nil {
		t.Fatal("expected an error advancing past the last milestone")
	}
}

func queryMissionEvents(t *testing.T, e *Engine, missionID string) []domain.EventEnvelope {
	t.Helper()
	events, err := e.Events.Query(context.Background(), eventlog.QueryFilter{MissionID: missionID})
	if err != nil {
		t.Fatalf("querying events for %s: %v", missionID, err)
	}
	return events
}

func hasEventType(events []domain.EventEnvelope, t string) bool {
	for _, e := range events {
		if e.Type == t {
			return true
		}
	}
	return false
}
