package tailer

import "time"

// Canonical event types produced by the parser. The string values are part
// of the log contract with the producer and with downstream filters.
const (
	TypeWorkerMessage       = "worker_message"
	TypeCoordinatorThinking = "pm_thinking"
	TypeCoordinatorDecision = "pm_decision"
	TypeKanbanRequest       = "kanban_request"
	TypeKanbanResponse      = "kanban_response"
	TypeTaskAssignment      = "task_assignment"
	TypeProgressUpdate      = "progress_update"
	TypeBlockerReport       = "blocker_report"
	TypeSystemState         = "system_state"
)

// Well-known participant identities used when a log line does not name one.
const (
	coordinatorID = "coordinator"
	clientID      = "mcp_client"
)

// ConversationEvent is the canonical structured shape produced from a raw
// log line, independent of which historical schema produced it.
type ConversationEvent struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	EventType  string         `json:"event_type"`
	Message    string         `json:"message"`
	Metadata   map[string]any `json:"metadata"`
	Confidence *float64       `json:"confidence,omitempty"`
	DurationMS *int64         `json:"duration_ms,omitempty"`
}
