package replay

import (
	"fmt"
	"strings"
	"time"

	"github.com/flowscope/flowscope/internal/eventstore"
)

// DecisionDetails is the structured extraction for decision_point events.
type DecisionDetails struct {
	Decision     string  `json:"decision"`
	Rationale    string  `json:"rationale"`
	Confidence   float64 `json:"confidence"`
	Alternatives []any   `json:"alternatives"`
}

// AnalysisDetails is the structured extraction for ai_prd_analysis events.
type AnalysisDetails struct {
	RequirementsExtracted int     `json:"requirements_extracted"`
	Confidence            float64 `json:"confidence"`
	Ambiguities           []any   `json:"ambiguities"`
}

// GenerationDetails is the structured extraction for tasks_generated events.
type GenerationDetails struct {
	TaskCount  int     `json:"task_count"`
	Reasoning  string  `json:"reasoning"`
	Complexity float64 `json:"complexity"`
}

// DecisionContext is the event at a position together with its surrounding
// events and any type-specific extraction.
type DecisionContext struct {
	Position   int                 `json:"position"`
	Event      *eventstore.Event   `json:"event"`
	EventType  string              `json:"event_type"`
	Timestamp  time.Time           `json:"timestamp"`
	Previous   []*eventstore.Event `json:"previous_context"`
	Subsequent []*eventstore.Event `json:"subsequent_impact"`
	Decision   *DecisionDetails    `json:"decision_details,omitempty"`
	Analysis   *AnalysisDetails    `json:"analysis_details,omitempty"`
	Generation *GenerationDetails  `json:"generation_details,omitempty"`
}

// DecisionContext returns full context for the event at position: the
// preceding and following up-to-5 events plus structured details for
// decision, analysis and generation events. Reports false when position is
// out of range.
func (c *Controller) DecisionContext(position int) (*DecisionContext, bool) {
	if position < 0 || position >= len(c.events) {
		return nil, false
	}
	ev := c.events[position]

	lo := position - contextWindow
	if lo < 0 {
		lo = 0
	}
	hi := position + 1 + contextWindow
	if hi > len(c.events) {
		hi = len(c.events)
	}

	dc := &DecisionContext{
		Position:   position,
		Event:      ev,
		EventType:  ev.EventType,
		Timestamp:  ev.Timestamp,
		Previous:   c.events[lo:position],
		Subsequent: c.events[position+1 : hi],
	}

	switch ev.EventType {
	case "decision_point":
		dc.Decision = &DecisionDetails{
			Decision:     dataString(ev, "decision"),
			Rationale:    dataString(ev, "rationale"),
			Confidence:   dataFloat(ev, "confidence"),
			Alternatives: dataSlice(ev, "alternatives_considered"),
		}
	case "ai_prd_analysis":
		dc.Analysis = &AnalysisDetails{
			RequirementsExtracted: len(dataSlice(ev, "extracted_requirements")),
			Confidence:            dataFloat(ev, "confidence"),
			Ambiguities:           dataSlice(ev, "ambiguities"),
		}
	case "tasks_generated":
		dc.Generation = &GenerationDetails{
			TaskCount:  int(dataFloat(ev, "task_count")),
			Reasoning:  dataString(ev, "task_breakdown_reasoning"),
			Complexity: dataFloat(ev, "complexity_score"),
		}
	}
	return dc, true
}

// TimelineEntry is one event on the flow timeline.
type TimelineEntry struct {
	Position   int       `json:"position"`
	Timestamp  time.Time `json:"timestamp"`
	RelativeMS int64     `json:"relative_ms"`
	EventType  string    `json:"event_type"`
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	Summary    string    `json:"summary"`
}

// Timeline returns one entry per event with its offset from the first
// event and a one-line summary. The first entry's offset is always 0.
func (c *Controller) Timeline() []TimelineEntry {
	timeline := make([]TimelineEntry, 0, len(c.events))
	var start time.Time
	for i, ev := range c.events {
		if i == 0 {
			start = ev.Timestamp
		}
		timeline = append(timeline, TimelineEntry{
			Position:   i,
			Timestamp:  ev.Timestamp,
			RelativeMS: ev.Timestamp.Sub(start).Milliseconds(),
			EventType:  ev.EventType,
			Stage:      ev.Stage,
			Status:     ev.Status,
			Summary:    summarize(ev),
		})
	}
	return timeline
}

// summarize renders a concise human-readable line for an event.
func summarize(ev *eventstore.Event) string {
	switch ev.EventType {
	case "decision_point":
		decision := dataString(ev, "decision")
		if decision == "" {
			decision = "Unknown"
		}
		if len(decision) > 50 {
			decision = decision[:50]
		}
		return fmt.Sprintf("Decision: %s...", decision)
	case "ai_prd_analysis":
		return fmt.Sprintf("AI Analysis: %.0f%% confidence", dataFloat(ev, "confidence")*100)
	case "tasks_generated":
		return fmt.Sprintf("Generated %d tasks", int(dataFloat(ev, "task_count")))
	case "task_created":
		name := dataString(ev, "task_name")
		if name == "" {
			name = "Unknown task"
		}
		return fmt.Sprintf("Created: %s", name)
	case "quality_metrics":
		return fmt.Sprintf("Quality: %.0f%%", dataFloat(ev, "overall_quality_score")*100)
	default:
		return titleCase(ev.EventType)
	}
}

func titleCase(eventType string) string {
	words := strings.Split(eventType, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// ExportMetadata describes the flow span within an export bundle.
type ExportMetadata struct {
	StartTime       *time.Time `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	TotalDurationMS int64      `json:"total_duration_ms"`
}

// ExportBundle is a self-contained replay package for external renderers.
type ExportBundle struct {
	FlowID         string              `json:"flow_id"`
	TotalEvents    int                 `json:"total_events"`
	Events         []*eventstore.Event `json:"events"`
	Timeline       []TimelineEntry     `json:"timeline"`
	KeyEvents      map[string][]int    `json:"key_events"`
	DecisionPoints []int               `json:"decision_points"`
	Metadata       ExportMetadata      `json:"metadata"`
}

// Export bundles all events, the timeline and both indexes with flow span
// metadata.
func (c *Controller) Export() ExportBundle {
	bundle := ExportBundle{
		FlowID:         c.flowID,
		TotalEvents:    len(c.events),
		Events:         c.events,
		Timeline:       c.Timeline(),
		KeyEvents:      c.KeyEvents(),
		DecisionPoints: c.DecisionPoints(),
	}
	if len(c.events) > 0 {
		first := c.events[0].Timestamp
		last := c.events[len(c.events)-1].Timestamp
		bundle.Metadata = ExportMetadata{
			StartTime:       &first,
			EndTime:         &last,
			TotalDurationMS: last.Sub(first).Milliseconds(),
		}
	}
	return bundle
}

func dataString(ev *eventstore.Event, key string) string {
	if v, ok := ev.Data[key].(string); ok {
		return v
	}
	return ""
}

func dataFloat(ev *eventstore.Event, key string) float64 {
	switch v := ev.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func dataSlice(ev *eventstore.Event, key string) []any {
	if v, ok := ev.Data[key].([]any); ok {
		return v
	}
	return []any{}
}
