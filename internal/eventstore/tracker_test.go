package eventstore

import (
	"context"
	"testing"
)

func TestTracker_DecisionEventShape(t *testing.T) {
	store := newTestStore(t)
	tracker := NewTracker(store)
	ctx := context.Background()

	if _, err := tracker.StartFlow(ctx, "f1", "demo"); err != nil {
		t.Fatalf("StartFlow() error = %v", err)
	}

	alternatives := []map[string]any{{"option": "split tasks"}}
	if _, err := tracker.TrackDecision(ctx, "f1", StageTaskGeneration, "use template", "matched prior project", 0.82, alternatives); err != nil {
		t.Fatalf("TrackDecision() error = %v", err)
	}

	events, err := store.FlowEvents(ctx, "f1")
	if err != nil {
		t.Fatalf("FlowEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("event count = %d, want 1", len(events))
	}

	ev := events[0]
	if ev.EventType != "decision_point" {
		t.Errorf("EventType = %q, want decision_point", ev.EventType)
	}
	if ev.Stage != StageTaskGeneration {
		t.Errorf("Stage = %q, want %q", ev.Stage, StageTaskGeneration)
	}
	if got := ev.Data["decision"]; got != "use template" {
		t.Errorf("decision = %v, want use template", got)
	}
	if got := ev.Data["rationale"]; got != "matched prior project" {
		t.Errorf("rationale = %v, want matched prior project", got)
	}
}

func TestTracker_TaskCreationFailure(t *testing.T) {
	store := newTestStore(t)
	tracker := NewTracker(store)
	ctx := context.Background()

	if _, err := tracker.StartFlow(ctx, "f1", "demo"); err != nil {
		t.Fatalf("StartFlow() error = %v", err)
	}
	if _, err := tracker.TrackTaskCreation(ctx, "f1", "t1", "setup db", false, "board unavailable"); err != nil {
		t.Fatalf("TrackTaskCreation() error = %v", err)
	}

	events, _ := store.FlowEvents(ctx, "f1")
	if len(events) != 1 {
		t.Fatalf("event count = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.EventType != "task_creation_failed" {
		t.Errorf("EventType = %q, want task_creation_failed", ev.EventType)
	}
	if ev.Status != StatusFailed {
		t.Errorf("Status = %q, want %q", ev.Status, StatusFailed)
	}
	if ev.Error != "board unavailable" {
		t.Errorf("Error = %q, want board unavailable", ev.Error)
	}
}
