package eventlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/csk-next/csk/internal/domain"
)

func TestAppendAndTail(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "events.db"), dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for i, typ := range []string{"task.created", "slice.created", "task.frozen"} {
		_, err := store.Append(ctx, domain.EventEnvelope{
			Type:   typ,
			TaskID: "T-0001",
			Payload: map[string]any{"i": i},
		})
		if err != nil {
			t.Fatalf("Append(%s): %v", typ, err)
		}
	}

	events, err := store.Query(ctx, QueryFilter{TaskID: "T-0001"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != "task.created" {
		t.Fatalf("expected ascending order starting with task.created, got %s", events[0].Type)
	}

	tail, err := store.Tail(ctx, QueryFilter{TaskID: "T-0001", Limit: 1})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(tail) != 1 || tail[0].Type != "task.frozen" {
		t.Fatalf("expected most recent event task.frozen, got %+v", tail)
	}
}

func TestAppendRejectsEmptyType(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "events.db"), dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	_, err = store.Append(context.Background(), domain.EventEnvelope{TaskID: "T-0001"})
	if err == nil {
		t.Fatal("expected validation error for missing type")
	}
}
