package filter

import (
	"sort"
	"strings"
	"sync"

	"github.com/flowscope/flowscope/internal/tailer"
)

// EventFunc receives events that pass a subscriber's filter.
type EventFunc func(*tailer.ConversationEvent)

type subscriber struct {
	filter Filter
	fn     EventFunc
}

// Registry is a dynamic set of subscribers whose filters may change between
// any two dispatch cycles. Dispatch is installed as a tailer handler; the
// downstream transport (for example a websocket gateway) supplies the
// EventFunc.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]*subscriber)}
}

// Subscribe registers or replaces the subscriber with the given id.
func (r *Registry) Subscribe(id string, f Filter, fn EventFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[id] = &subscriber{filter: f, fn: fn}
}

// Unsubscribe removes a subscriber. Unknown ids are a no-op.
func (r *Registry) Unsubscribe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

// SetFilter replaces the filter of an existing subscriber.
func (r *Registry) SetFilter(id string, f Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[id]; ok {
		sub.filter = f
	}
}

// Len returns the number of subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Dispatch forwards the event to every subscriber whose filter matches.
func (r *Registry) Dispatch(ev *tailer.ConversationEvent) {
	r.mu.RLock()
	matched := make([]EventFunc, 0, len(r.subs))
	for _, sub := range r.subs {
		if Matches(ev, sub.filter) {
			matched = append(matched, sub.fn)
		}
	}
	r.mu.RUnlock()

	for _, fn := range matched {
		fn(ev)
	}
}

// Agent is a worker identity extracted from the event stream.
type Agent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ActiveAgents returns the distinct worker identities seen as source or
// target, sorted by id, with display names derived from the ids.
func ActiveAgents(events []*tailer.ConversationEvent) []Agent {
	seen := make(map[string]struct{})
	for _, ev := range events {
		for _, id := range []string{ev.Source, ev.Target} {
			if strings.HasPrefix(id, "agent") || strings.HasPrefix(id, "worker") {
				seen[id] = struct{}{}
			}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	agents := make([]Agent, 0, len(ids))
	for _, id := range ids {
		agents = append(agents, Agent{ID: id, Name: displayName(id)})
	}
	return agents
}

func displayName(id string) string {
	words := strings.Split(id, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
