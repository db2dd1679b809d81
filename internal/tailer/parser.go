package tailer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Parser turns raw log lines into canonical ConversationEvents. Two line
// schemas are recognized: the current "simple" schema (a top-level `type`
// field and no `event` field) and a fixed set of legacy shapes dispatched on
// the `event` discriminant. Lines matching neither are dropped.
//
// Event ids are derived from a per-parser counter, so two parsers fed the
// same file produce identical output.
type Parser struct {
	counter int
	now     func() time.Time
}

// NewParser creates a parser.
func NewParser() *Parser {
	return &Parser{now: time.Now}
}

type legacyParser func(p *Parser, data map[string]any, ts time.Time) *ConversationEvent

// legacyParsers keys the historical `event` discriminants to their mapping
// rules. Unknown discriminants fall through to nil (line dropped).
var legacyParsers = map[string]legacyParser{
	"worker_communication": (*Parser).parseWorkerEvent,
	"pm_thinking":          (*Parser).parseThinkingEvent,
	"pm_decision":          (*Parser).parseDecisionEvent,
	"kanban_interaction":   (*Parser).parseKanbanEvent,
	"task_assignment":      (*Parser).parseAssignmentEvent,
	"progress_update":      (*Parser).parseProgressEvent,
	"blocker_reported":     (*Parser).parseBlockerEvent,
	"system_state":         (*Parser).parseSystemStateEvent,
}

// Parse parses one log line. The second return is false when the line is
// not valid JSON or matches no recognized schema.
func (p *Parser) Parse(line []byte) (*ConversationEvent, bool) {
	var data map[string]any
	if err := json.Unmarshal(line, &data); err != nil {
		return nil, false
	}

	p.counter++
	ts := p.parseTimestamp(stringField(data, "timestamp"))

	if _, hasType := data["type"]; hasType {
		if _, hasEvent := data["event"]; !hasEvent {
			return p.parseSimpleEvent(data, ts), true
		}
	}

	fn, ok := legacyParsers[stringField(data, "event")]
	if !ok {
		return nil, false
	}
	return fn(p, data, ts), true
}

// parseTimestamp accepts RFC 3339 and zone-less ISO timestamps; anything
// else defaults to now.
func (p *Parser) parseTimestamp(raw string) time.Time {
	if raw == "" {
		return p.now()
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return p.now()
}

func (p *Parser) eventID() string {
	return fmt.Sprintf("event_%d", p.counter)
}

func (p *Parser) parseSimpleEvent(data map[string]any, ts time.Time) *ConversationEvent {
	eventType := stringField(data, "type")
	if eventType == "" {
		eventType = "unknown"
	}

	var source, target string
	switch eventType {
	case "ping_request":
		source = stringFieldDefault(data, "source", clientID)
		target = coordinatorID
	case "ping_response":
		source = coordinatorID
		target = clientID
	default:
		source = stringFieldDefault(data, "source", "unknown")
		target = stringFieldDefault(data, "target", "unknown")
	}

	message := stringField(data, "message")
	if message == "" {
		switch eventType {
		case "ping_request":
			message = fmt.Sprintf("Ping: %s", stringFieldDefault(data, "echo", "pong"))
		case "ping_response":
			message = fmt.Sprintf("Pong: %s (Status: %s)",
				stringFieldDefault(data, "echo", "pong"),
				stringFieldDefault(data, "status", "unknown"))
		default:
			rest := make(map[string]any, len(data))
			for k, v := range data {
				if k != "timestamp" && k != "type" {
					rest[k] = v
				}
			}
			if raw, err := json.Marshal(rest); err == nil {
				message = string(raw)
			}
		}
	}

	return &ConversationEvent{
		ID:        p.eventID(),
		Timestamp: ts,
		Source:    source,
		Target:    target,
		EventType: eventType,
		Message:   message,
		Metadata:  data,
	}
}

func (p *Parser) parseWorkerEvent(data map[string]any, ts time.Time) *ConversationEvent {
	workerID := stringFieldDefault(data, "worker_id", "unknown")
	source, target := coordinatorID, workerID
	if strings.Contains(stringField(data, "conversation_type"), "worker_to_pm") {
		source, target = workerID, coordinatorID
	}
	return &ConversationEvent{
		ID:        p.eventID(),
		Timestamp: ts,
		Source:    source,
		Target:    target,
		EventType: TypeWorkerMessage,
		Message:   stringField(data, "message"),
		Metadata:  mapField(data, "metadata"),
	}
}

func (p *Parser) parseThinkingEvent(data map[string]any, ts time.Time) *ConversationEvent {
	return &ConversationEvent{
		ID:        p.eventID(),
		Timestamp: ts,
		Source:    coordinatorID,
		Target:    "internal",
		EventType: TypeCoordinatorThinking,
		Message:   stringField(data, "thought"),
		Metadata:  mapField(data, "context"),
	}
}

func (p *Parser) parseDecisionEvent(data map[string]any, ts time.Time) *ConversationEvent {
	ev := &ConversationEvent{
		ID:        p.eventID(),
		Timestamp: ts,
		Source:    coordinatorID,
		Target:    "decision",
		EventType: TypeCoordinatorDecision,
		Message:   stringField(data, "decision"),
		Metadata: map[string]any{
			"rationale":        stringField(data, "rationale"),
			"alternatives":     sliceField(data, "alternatives_considered"),
			"decision_factors": mapField(data, "decision_factors"),
		},
	}
	if conf, ok := floatField(data, "confidence_score"); ok {
		ev.Confidence = &conf
	}
	return ev
}

func (p *Parser) parseKanbanEvent(data map[string]any, ts time.Time) *ConversationEvent {
	source, target := "kanban_board", coordinatorID
	eventType := TypeKanbanResponse
	if strings.Contains(stringField(data, "conversation_type"), "pm_to_kanban") {
		source, target = coordinatorID, "kanban_board"
		eventType = TypeKanbanRequest
	}
	return &ConversationEvent{
		ID:        p.eventID(),
		Timestamp: ts,
		Source:    source,
		Target:    target,
		EventType: eventType,
		Message:   stringField(data, "action"),
		Metadata: map[string]any{
			"data":             mapField(data, "data"),
			"processing_steps": sliceField(data, "processing_steps"),
		},
	}
}

func (p *Parser) parseAssignmentEvent(data map[string]any, ts time.Time) *ConversationEvent {
	return &ConversationEvent{
		ID:        p.eventID(),
		Timestamp: ts,
		Source:    coordinatorID,
		Target:    stringFieldDefault(data, "worker_id", "unknown"),
		EventType: TypeTaskAssignment,
		Message:   fmt.Sprintf("Task %s assigned", stringField(data, "task_id")),
		Metadata: map[string]any{
			"task_details":        mapField(data, "task_details"),
			"assignment_score":    data["assignment_score"],
			"dependency_analysis": mapField(data, "dependency_analysis"),
		},
	}
}

func (p *Parser) parseProgressEvent(data map[string]any, ts time.Time) *ConversationEvent {
	progress, _ := floatField(data, "progress")
	return &ConversationEvent{
		ID:        p.eventID(),
		Timestamp: ts,
		Source:    stringFieldDefault(data, "worker_id", "unknown"),
		Target:    coordinatorID,
		EventType: TypeProgressUpdate,
		Message:   fmt.Sprintf("%.0f%% - %s", progress, stringField(data, "message")),
		Metadata: map[string]any{
			"task_id": stringField(data, "task_id"),
			"status":  stringField(data, "status"),
			"metrics": mapField(data, "metrics"),
		},
	}
}

func (p *Parser) parseBlockerEvent(data map[string]any, ts time.Time) *ConversationEvent {
	return &ConversationEvent{
		ID:        p.eventID(),
		Timestamp: ts,
		Source:    stringFieldDefault(data, "worker_id", "unknown"),
		Target:    coordinatorID,
		EventType: TypeBlockerReport,
		Message:   stringField(data, "blocker_description"),
		Metadata: map[string]any{
			"task_id":             stringField(data, "task_id"),
			"severity":            stringField(data, "severity"),
			"suggested_solutions": sliceField(data, "suggested_solutions"),
		},
	}
}

func (p *Parser) parseSystemStateEvent(data map[string]any, ts time.Time) *ConversationEvent {
	return &ConversationEvent{
		ID:        p.eventID(),
		Timestamp: ts,
		Source:    coordinatorID,
		Target:    "system",
		EventType: TypeSystemState,
		Message:   "System state update",
		Metadata: map[string]any{
			"active_workers":    data["active_workers"],
			"tasks_in_progress": data["tasks_in_progress"],
			"tasks_completed":   data["tasks_completed"],
			"tasks_blocked":     data["tasks_blocked"],
			"system_metrics":    mapField(data, "system_metrics"),
		},
	}
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func stringFieldDefault(data map[string]any, key, def string) string {
	if v, ok := data[key].(string); ok && v != "" {
		return v
	}
	return def
}

func mapField(data map[string]any, key string) map[string]any {
	if v, ok := data[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

func sliceField(data map[string]any, key string) []any {
	if v, ok := data[key].([]any); ok {
		return v
	}
	return []any{}
}

func floatField(data map[string]any, key string) (float64, bool) {
	switch v := data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
