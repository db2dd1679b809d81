package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/flowscope/flowscope/internal/eventstore"
	"github.com/flowscope/flowscope/internal/tailer"
)

func newTestAPI(t *testing.T) (*eventstore.Store, http.Handler) {
	t.Helper()
	store, err := eventstore.New(filepath.Join(t.TempDir(), "events.json"))
	if err != nil {
		t.Fatalf("eventstore.New() error = %v", err)
	}
	tl := tailer.New(t.TempDir())
	r := chi.NewRouter()
	NewHandlers(store, tl, slog.Default()).Register(r)
	return store, r
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func seedFlow(t *testing.T, store *eventstore.Store) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.CreateFlow(ctx, "f1", "demo"); err != nil {
		t.Fatalf("CreateFlow() error = %v", err)
	}
	for _, eventType := range []string{"ai_prd_analysis", "decision_point", "task_created"} {
		if _, err := store.AppendEvent(ctx, "f1", eventstore.Event{EventType: eventType, Stage: eventstore.StageAIAnalysis}); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}
}

func TestHandlers_ListFlows(t *testing.T) {
	store, h := newTestAPI(t)
	seedFlow(t, store)

	rec := get(t, h, "/api/flows")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Flows []eventstore.FlowSummary `json:"flows"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(body.Flows) != 1 || body.Flows[0].ID != "f1" || body.Flows[0].EventCount != 3 {
		t.Errorf("flows = %+v, want one flow f1 with 3 events", body.Flows)
	}
}

func TestHandlers_FlowEvents(t *testing.T) {
	store, h := newTestAPI(t)
	seedFlow(t, store)

	rec := get(t, h, "/api/flows/f1/events")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Events []*eventstore.Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(body.Events) != 3 {
		t.Fatalf("events = %d, want 3", len(body.Events))
	}

	// Unknown flows are an empty list, not an error.
	rec = get(t, h, "/api/flows/ghost/events")
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown flow status = %d, want 200", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(body.Events) != 0 {
		t.Errorf("unknown flow events = %d, want 0", len(body.Events))
	}
}

func TestHandlers_ReplayTimeline(t *testing.T) {
	store, h := newTestAPI(t)
	seedFlow(t, store)

	rec := get(t, h, "/api/flows/f1/replay/timeline")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Timeline []map[string]any `json:"timeline"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(body.Timeline) != 3 {
		t.Fatalf("timeline entries = %d, want 3", len(body.Timeline))
	}
	if rel, _ := body.Timeline[0]["relative_ms"].(float64); rel != 0 {
		t.Errorf("first relative_ms = %v, want 0", body.Timeline[0]["relative_ms"])
	}

	// Replay over an unknown flow is a caller mistake.
	rec = get(t, h, "/api/flows/ghost/replay/timeline")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown flow replay status = %d, want 404", rec.Code)
	}
}

func TestHandlers_ReplayContext(t *testing.T) {
	store, h := newTestAPI(t)
	seedFlow(t, store)

	rec := get(t, h, "/api/flows/f1/replay/context?position=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if pos, _ := body["position"].(float64); pos != 1 {
		t.Errorf("position = %v, want 1", body["position"])
	}

	rec = get(t, h, "/api/flows/f1/replay/context?position=99")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("out-of-range status = %d, want 400", rec.Code)
	}
	rec = get(t, h, "/api/flows/f1/replay/context?position=abc")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad position status = %d, want 400", rec.Code)
	}
}

func TestHandlers_ReplayExport(t *testing.T) {
	store, h := newTestAPI(t)
	seedFlow(t, store)

	rec := get(t, h, "/api/flows/f1/replay/export")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		TotalEvents    int   `json:"total_events"`
		DecisionPoints []int `json:"decision_points"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if body.TotalEvents != 3 {
		t.Errorf("total_events = %d, want 3", body.TotalEvents)
	}
	if len(body.DecisionPoints) != 1 || body.DecisionPoints[0] != 1 {
		t.Errorf("decision_points = %v, want [1]", body.DecisionPoints)
	}
}

func TestHandlers_ConversationSummary(t *testing.T) {
	_, h := newTestAPI(t)

	rec := get(t, h, "/api/conversations/summary")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body tailer.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if body.TotalEvents != 0 {
		t.Errorf("TotalEvents = %d, want 0", body.TotalEvents)
	}
}
