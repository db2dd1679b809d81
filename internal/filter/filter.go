// Package filter decides which canonical events reach which subscriber.
package filter

import (
	"github.com/flowscope/flowscope/internal/tailer"
)

// Filter is a per-subscriber predicate. The zero value matches everything.
type Filter struct {
	// AgentID, when set, requires the event's source or target to equal it.
	AgentID string `json:"agentId,omitempty"`
	// Types maps canonical type keys to allow/deny. A type absent from the
	// map is allowed (open-world default).
	Types map[string]bool `json:"types,omitempty"`
}

// typeAliases maps event types to the filter keys clients subscribe with.
var typeAliases = map[string]string{
	tailer.TypeBlockerReport: "blocker",
	"blocker":                "blocker",
}

// Matches reports whether the event passes the filter.
func Matches(ev *tailer.ConversationEvent, f Filter) bool {
	if ev == nil {
		return false
	}
	if f.AgentID != "" && ev.Source != f.AgentID && ev.Target != f.AgentID {
		return false
	}

	key := ev.EventType
	if alias, ok := typeAliases[key]; ok {
		key = alias
	}
	if allowed, ok := f.Types[key]; ok && !allowed {
		return false
	}
	return true
}
