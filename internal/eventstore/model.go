package eventstore

import "time"

// Pipeline stage labels attached to events by the producer.
const (
	StageMCPRequest     = "mcp_request"
	StageAIAnalysis     = "ai_analysis"
	StagePRDParsing     = "prd_parsing"
	StageTaskGeneration = "task_generation"
	StageTaskCreation   = "task_creation"
	StageTaskAssignment = "task_assignment"
	StageWorkProgress   = "work_progress"
	StageTaskCompletion = "task_completion"
)

// Event status values.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Flow is one end-to-end pipeline execution. A flow is created when the
// producer starts a run, accumulates events while active, and is closed by
// CompleteFlow. Closed flows reject further appends.
type Flow struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	IsActive     bool       `json:"is_active"`
	CurrentStage string     `json:"current_stage,omitempty"`
}

// Event is a single timestamped occurrence within a flow. Events are
// immutable once appended; ordering within a flow is append order.
type Event struct {
	EventID    string         `json:"event_id"`
	FlowID     string         `json:"flow_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Stage      string         `json:"stage,omitempty"`
	EventType  string         `json:"event_type"`
	Data       map[string]any `json:"data,omitempty"`
	Status     string         `json:"status,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// FlowSummary is the listing shape returned by ListActiveFlows.
type FlowSummary struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	IsActive     bool       `json:"is_active"`
	EventCount   int        `json:"event_count"`
	CurrentStage string     `json:"current_stage,omitempty"`
}

// document is the on-disk shape of the shared store file.
type document struct {
	Flows  map[string]*Flow `json:"flows"`
	Events []*Event         `json:"events"`
}

func newDocument() *document {
	return &document{Flows: make(map[string]*Flow)}
}
