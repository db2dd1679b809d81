package eventstore

import "context"

// Tracker provides typed event constructors over a Store so the producer
// side records consistent event shapes for each pipeline stage. The data
// layouts here are load-bearing: the replay controller's context extraction
// and timeline summaries key off these field names.
type Tracker struct {
	store *Store
}

// NewTracker wraps a store.
func NewTracker(store *Store) *Tracker {
	return &Tracker{store: store}
}

// StartFlow registers a new flow.
func (t *Tracker) StartFlow(ctx context.Context, flowID, name string) (*Flow, error) {
	return t.store.CreateFlow(ctx, flowID, name)
}

// CompleteFlow closes a flow.
func (t *Tracker) CompleteFlow(ctx context.Context, flowID string) error {
	return t.store.CompleteFlow(ctx, flowID)
}

// TrackAnalysis records a requirements-analysis result.
func (t *Tracker) TrackAnalysis(ctx context.Context, flowID string, prdLength int, result map[string]any, durationMS int64) (string, error) {
	return t.store.AppendEvent(ctx, flowID, Event{
		Stage:     StageAIAnalysis,
		EventType: "ai_prd_analysis",
		Status:    StatusCompleted,
		Data: map[string]any{
			"prd_length":             prdLength,
			"confidence":             result["confidence"],
			"extracted_requirements": result["extracted_requirements"],
			"ambiguities":            result["ambiguities"],
			"assumptions":            result["assumptions"],
		},
		DurationMS: durationMS,
	})
}

// TrackTaskGeneration records a task-generation result, including the
// reasoning and alternatives needed for decision-context replay.
func (t *Tracker) TrackTaskGeneration(ctx context.Context, flowID string, taskCount int, genCtx map[string]any, durationMS int64) (string, error) {
	data := map[string]any{
		"task_count":               taskCount,
		"task_breakdown_reasoning": "",
		"complexity_score":         0.0,
	}
	if genCtx != nil {
		if v, ok := genCtx["reasoning"]; ok {
			data["task_breakdown_reasoning"] = v
		}
		if v, ok := genCtx["complexity_score"]; ok {
			data["complexity_score"] = v
		}
		if v, ok := genCtx["alternatives_considered"]; ok {
			data["alternative_structures"] = v
		}
		if v, ok := genCtx["dependencies"]; ok {
			data["dependency_graph"] = v
		}
	}
	return t.store.AppendEvent(ctx, flowID, Event{
		Stage:      StageTaskGeneration,
		EventType:  "tasks_generated",
		Status:     StatusCompleted,
		Data:       data,
		DurationMS: durationMS,
	})
}

// TrackTaskCreation records one task being created on the board.
func (t *Tracker) TrackTaskCreation(ctx context.Context, flowID, taskID, taskName string, success bool, taskErr string) (string, error) {
	ev := Event{
		Stage:     StageTaskCreation,
		EventType: "task_created",
		Status:    StatusCompleted,
		Data:      map[string]any{"task_id": taskID, "task_name": taskName},
	}
	if !success {
		ev.EventType = "task_creation_failed"
		ev.Status = StatusFailed
		ev.Error = taskErr
	}
	return t.store.AppendEvent(ctx, flowID, ev)
}

// TrackDecision records an explicit decision point with its rationale,
// confidence and the alternatives that were considered.
func (t *Tracker) TrackDecision(ctx context.Context, flowID, stage, decision, rationale string, confidence float64, alternatives []map[string]any) (string, error) {
	return t.store.AppendEvent(ctx, flowID, Event{
		Stage:     stage,
		EventType: "decision_point",
		Status:    StatusCompleted,
		Data: map[string]any{
			"decision":                decision,
			"rationale":               rationale,
			"confidence":              confidence,
			"alternatives_considered": alternatives,
		},
	})
}

// TrackQualityMetrics records end-of-run quality scores.
func (t *Tracker) TrackQualityMetrics(ctx context.Context, flowID string, metrics map[string]any) (string, error) {
	return t.store.AppendEvent(ctx, flowID, Event{
		Stage:     StageTaskCompletion,
		EventType: "quality_metrics",
		Status:    StatusCompleted,
		Data:      metrics,
	})
}

// TrackPerformanceMetrics records per-stage performance data.
func (t *Tracker) TrackPerformanceMetrics(ctx context.Context, flowID, stage string, metrics map[string]any) (string, error) {
	return t.store.AppendEvent(ctx, flowID, Event{
		Stage:     stage,
		EventType: "performance_metrics",
		Status:    StatusCompleted,
		Data:      metrics,
	})
}
