// Package replay provides deterministic, read-only navigation through a
// flow's recorded event history. Each controller owns a private snapshot
// loaded once at construction; it never mutates the event store, and two
// controllers over the same flow never share cursor state.
package replay

import (
	"context"
	"sort"

	"github.com/flowscope/flowscope/internal/eventstore"
)

// keyEventTypes is the fixed set of salient types indexed by KeyEvents.
var keyEventTypes = []string{
	"decision_point",
	"ai_prd_analysis",
	"tasks_generated",
	"quality_metrics",
	"performance_metrics",
}

// contextWindow is how many events surround a position in DecisionContext.
const contextWindow = 5

// Controller steps through one flow's events.
type Controller struct {
	flowID   string
	events   []*eventstore.Event
	position int
}

// State describes the cursor after an operation. VisibleEvents is the
// prefix up to and including the current position; replay never exposes
// future events.
type State struct {
	FlowID        string              `json:"flow_id"`
	Position      int                 `json:"position"`
	TotalEvents   int                 `json:"total_events"`
	IsAtStart     bool                `json:"is_at_start"`
	IsAtEnd       bool                `json:"is_at_end"`
	CurrentEvent  *eventstore.Event   `json:"current_event"`
	VisibleEvents []*eventstore.Event `json:"visible_events"`
}

// NewController loads a flow's events from the store. An unknown flow
// yields an empty session rather than an error.
func NewController(ctx context.Context, store *eventstore.Store, flowID string) (*Controller, error) {
	events, err := store.FlowEvents(ctx, flowID)
	if err != nil {
		return nil, err
	}
	return NewFromEvents(flowID, events), nil
}

// NewFromEvents builds a controller over a copied, timestamp-sorted
// snapshot of the given events.
func NewFromEvents(flowID string, events []*eventstore.Event) *Controller {
	snapshot := make([]*eventstore.Event, len(events))
	copy(snapshot, events)
	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].Timestamp.Before(snapshot[j].Timestamp)
	})
	return &Controller{flowID: flowID, events: snapshot}
}

// Len returns the number of events in the snapshot.
func (c *Controller) Len() int { return len(c.events) }

// CurrentState returns the cursor state without moving it.
func (c *Controller) CurrentState() State {
	state := State{
		FlowID:      c.flowID,
		Position:    c.position,
		TotalEvents: len(c.events),
		IsAtStart:   c.position == 0,
		IsAtEnd:     c.position >= len(c.events)-1,
	}
	if len(c.events) == 0 {
		state.VisibleEvents = []*eventstore.Event{}
		return state
	}
	state.CurrentEvent = c.events[c.position]
	state.VisibleEvents = c.events[:c.position+1]
	return state
}

// StepForward advances one event. At the last position it reports false
// and leaves the cursor unchanged.
func (c *Controller) StepForward() (bool, State) {
	if c.position < len(c.events)-1 {
		c.position++
		return true, c.CurrentState()
	}
	return false, c.CurrentState()
}

// StepBack moves back one event. At position 0 it reports false and leaves
// the cursor unchanged.
func (c *Controller) StepBack() (bool, State) {
	if c.position > 0 {
		c.position--
		return true, c.CurrentState()
	}
	return false, c.CurrentState()
}

// Seek moves the cursor to position. Out-of-range positions report false
// and leave the cursor unchanged.
func (c *Controller) Seek(position int) (bool, State) {
	if position < 0 || position >= len(c.events) {
		return false, c.CurrentState()
	}
	c.position = position
	return true, c.CurrentState()
}

// DecisionPoints returns the positions of all explicit decision events.
func (c *Controller) DecisionPoints() []int {
	positions := []int{}
	for i, ev := range c.events {
		if ev.EventType == "decision_point" {
			positions = append(positions, i)
		}
	}
	return positions
}

// KeyEvents maps each salient event type to the positions where it occurs.
// Every key is present even when no event of that type exists.
func (c *Controller) KeyEvents() map[string][]int {
	key := make(map[string][]int, len(keyEventTypes))
	for _, eventType := range keyEventTypes {
		key[eventType] = []int{}
	}
	for i, ev := range c.events {
		if positions, ok := key[ev.EventType]; ok {
			key[ev.EventType] = append(positions, i)
		}
	}
	return key
}
