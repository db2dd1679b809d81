// Package eventstore persists pipeline flows and their events in a single
// JSON document shared across OS processes. Readers take a shared advisory
// lock on the backing file; writers hold an exclusive lock for the whole
// read-modify-write, which is what makes concurrent appends from independent
// processes serialize without an external database.
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Append failures callers are expected to handle explicitly; anything else
// coming out of the store is an I/O problem.
var (
	ErrDuplicateFlow = errors.New("flow already exists")
	ErrUnknownFlow   = errors.New("unknown flow")
	ErrFlowClosed    = errors.New("flow already completed")
)

// DefaultRetention is how long completed flows stay visible in
// ListActiveFlows.
const DefaultRetention = 60 * time.Minute

// Archiver receives flows removed by Prune before they are dropped from the
// shared file. Implementations must not call back into the Store.
type Archiver interface {
	ArchiveFlows(ctx context.Context, flows []*Flow, events []*Event) error
}

// Store is a file-backed flow/event store safe for concurrent use from
// multiple processes. The zero value is not usable; construct with New.
type Store struct {
	path      string
	retention time.Duration
	archiver  Archiver
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithRetention overrides the completed-flow visibility window.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// WithArchiver registers a sink for pruned flows.
func WithArchiver(a Archiver) Option {
	return func(s *Store) { s.archiver = a }
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store backed by the JSON document at path. The file is
// created on first write; a missing parent directory is created eagerly so
// two processes pointed at the same path agree on where it lives.
func New(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:      path,
		retention: DefaultRetention,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return s, nil
}

// read loads the shared document under a shared lock. A missing or
// unparseable file yields an empty document rather than an error; the
// producer may not have written anything yet.
func (s *Store) read() *document {
	f, err := os.Open(s.path)
	if err != nil {
		return newDocument()
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		s.logger.Warn("shared lock failed, reading unlocked", slog.String("path", s.path), slog.String("error", err.Error()))
	} else {
		defer unix.Flock(int(f.Fd()), unix.LOCK_UN)
	}

	doc := newDocument()
	if err := json.NewDecoder(f).Decode(doc); err != nil {
		return newDocument()
	}
	if doc.Flows == nil {
		doc.Flows = make(map[string]*Flow)
	}
	return doc
}

// update applies mutate to the current document under an exclusive lock and
// writes the result back. The critical section is exactly the
// read-modify-write; mutate must not touch other resources.
func (s *Store) update(mutate func(doc *document) error) error {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock store file: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	doc := newDocument()
	if err := json.NewDecoder(f).Decode(doc); err != nil {
		// Empty or corrupt file: start from an empty document.
		doc = newDocument()
	}
	if doc.Flows == nil {
		doc.Flows = make(map[string]*Flow)
	}

	if err := mutate(doc); err != nil {
		return err
	}

	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("rewind store file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate store file: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("write store file: %w", err)
	}
	return nil
}

// CreateFlow registers a new active flow. A generated id is used when id is
// empty. Fails with ErrDuplicateFlow when the id is already registered.
func (s *Store) CreateFlow(ctx context.Context, id, name string) (*Flow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.New().String()
	}
	flow := &Flow{
		ID:        id,
		Name:      name,
		StartedAt: s.now(),
		IsActive:  true,
	}
	err := s.update(func(doc *document) error {
		if _, ok := doc.Flows[id]; ok {
			return fmt.Errorf("create flow %s: %w", id, ErrDuplicateFlow)
		}
		doc.Flows[id] = flow
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flow, nil
}

// AppendEvent appends an event to an open flow and returns the assigned
// event id. Missing event ids are assigned sequentially within the flow and
// a zero timestamp defaults to now. Fails with ErrUnknownFlow or
// ErrFlowClosed; both indicate a producer bug.
func (s *Store) AppendEvent(ctx context.Context, flowID string, ev Event) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ev.FlowID = flowID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	var assigned string
	err := s.update(func(doc *document) error {
		flow, ok := doc.Flows[flowID]
		if !ok {
			return fmt.Errorf("append to flow %s: %w", flowID, ErrUnknownFlow)
		}
		if flow.CompletedAt != nil {
			return fmt.Errorf("append to flow %s: %w", flowID, ErrFlowClosed)
		}
		if ev.EventID == "" {
			seq := 0
			for _, e := range doc.Events {
				if e.FlowID == flowID {
					seq++
				}
			}
			ev.EventID = fmt.Sprintf("%s_%d", flowID, seq)
		}
		if ev.Stage != "" {
			flow.CurrentStage = ev.Stage
		}
		stored := ev
		doc.Events = append(doc.Events, &stored)
		assigned = ev.EventID
		return nil
	})
	if err != nil {
		return "", err
	}
	return assigned, nil
}

// CompleteFlow closes a flow. Repeated calls and calls for unknown flows
// are no-ops.
func (s *Store) CompleteFlow(ctx context.Context, flowID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update(func(doc *document) error {
		flow, ok := doc.Flows[flowID]
		if !ok || flow.CompletedAt != nil {
			return nil
		}
		completed := s.now()
		flow.CompletedAt = &completed
		flow.IsActive = false
		return nil
	})
}

// FlowEvents returns all events for a flow in append order. Unknown flows
// yield an empty slice; the read side is deliberately permissive.
func (s *Store) FlowEvents(ctx context.Context, flowID string) ([]*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc := s.read()
	var events []*Event
	for _, ev := range doc.Events {
		if ev.FlowID == flowID {
			events = append(events, ev)
		}
	}
	return events, nil
}

// GetFlow returns a flow by id.
func (s *Store) GetFlow(ctx context.Context, flowID string) (*Flow, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	flow, ok := s.read().Flows[flowID]
	return flow, ok, nil
}

// ListActiveFlows returns flows that are active or completed within the
// retention window, with per-flow event counts and last-seen stage.
func (s *Store) ListActiveFlows(ctx context.Context) ([]FlowSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc := s.read()
	cutoff := s.now().Add(-s.retention)

	counts := make(map[string]int)
	lastStage := make(map[string]string)
	for _, ev := range doc.Events {
		counts[ev.FlowID]++
		if ev.Stage != "" {
			lastStage[ev.FlowID] = ev.Stage
		}
	}

	var out []FlowSummary
	for id, flow := range doc.Flows {
		recent := flow.CompletedAt == nil || flow.CompletedAt.After(cutoff)
		if !flow.IsActive && !recent {
			continue
		}
		out = append(out, FlowSummary{
			ID:           id,
			Name:         flow.Name,
			StartedAt:    flow.StartedAt,
			CompletedAt:  flow.CompletedAt,
			IsActive:     flow.IsActive,
			EventCount:   counts[id],
			CurrentStage: lastStage[id],
		})
	}
	return out, nil
}

// Prune removes flows started before the cutoff, regardless of state,
// together with their events. When an archiver is configured the removed
// flows are handed to it after the lock is released; archive failures are
// logged, not returned, since the shared file has already moved on.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var removedFlows []*Flow
	var removedEvents []*Event
	err := s.update(func(doc *document) error {
		kept := make(map[string]*Flow, len(doc.Flows))
		for id, flow := range doc.Flows {
			if flow.StartedAt.Before(olderThan) {
				removedFlows = append(removedFlows, flow)
			} else {
				kept[id] = flow
			}
		}
		if len(removedFlows) == 0 {
			return nil
		}
		var keptEvents []*Event
		for _, ev := range doc.Events {
			if _, ok := kept[ev.FlowID]; ok {
				keptEvents = append(keptEvents, ev)
			} else {
				removedEvents = append(removedEvents, ev)
			}
		}
		doc.Flows = kept
		doc.Events = keptEvents
		return nil
	})
	if err != nil {
		return err
	}
	if s.archiver != nil && len(removedFlows) > 0 {
		if err := s.archiver.ArchiveFlows(ctx, removedFlows, removedEvents); err != nil {
			s.logger.Error("failed to archive pruned flows",
				slog.Int("flows", len(removedFlows)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
