package eventstore

import (
	"context"
	"fmt"
	"time"
)

// GraphNode is one event rendered as a graph node.
type GraphNode struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Stage      string         `json:"stage"`
	Timestamp  time.Time      `json:"timestamp"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
}

// GraphEdge connects consecutive events.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is the node/edge shape handed to external renderers.
type Graph struct {
	FlowID      string      `json:"flow_id"`
	Nodes       []GraphNode `json:"nodes"`
	Edges       []GraphEdge `json:"edges"`
	TotalEvents int         `json:"total_events"`
}

// FlowGraph builds a linear event graph for a flow. An unknown flow yields
// an empty graph.
func (s *Store) FlowGraph(ctx context.Context, flowID string) (*Graph, error) {
	events, err := s.FlowEvents(ctx, flowID)
	if err != nil {
		return nil, err
	}

	g := &Graph{FlowID: flowID, TotalEvents: len(events)}
	for i, ev := range events {
		id := fmt.Sprintf("%s_%d", flowID, i)
		g.Nodes = append(g.Nodes, GraphNode{
			ID:         id,
			Label:      ev.EventType,
			Stage:      ev.Stage,
			Timestamp:  ev.Timestamp,
			Status:     ev.Status,
			Data:       ev.Data,
			Error:      ev.Error,
			DurationMS: ev.DurationMS,
		})
		if i > 0 {
			g.Edges = append(g.Edges, GraphEdge{From: fmt.Sprintf("%s_%d", flowID, i-1), To: id})
		}
	}
	return g, nil
}
