// Package tailer incrementally reads append-only JSONL conversation logs,
// parses new lines into canonical events and fans them out to registered
// handlers. Two filename families are tailed: legacy conversations_*.jsonl
// and current realtime_*.jsonl. Files are processed in filename-sort order
// so historical replay is deterministic.
package tailer

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval bounds how stale the tailer can be when filesystem
// notifications are unavailable or dropped.
const DefaultPollInterval = 100 * time.Millisecond

// DefaultMaxHistory bounds the in-memory event history.
const DefaultMaxHistory = 1000

// Handler receives each newly parsed event. Handlers run synchronously on
// the tailer goroutine, in registration order.
type Handler func(*ConversationEvent)

// Summary aggregates the retained event history.
type Summary struct {
	TotalEvents   int            `json:"total_events"`
	EventTypes    map[string]int `json:"event_types"`
	ActiveWorkers int            `json:"active_workers"`
	DecisionCount int            `json:"decision_count"`
	BlockerCount  int            `json:"blocker_count"`
	CompletedTask int            `json:"completion_count"`
}

type handlerEntry struct {
	id int
	fn Handler
}

// Tailer watches a log directory and streams parsed events to handlers.
type Tailer struct {
	dir          string
	pollInterval time.Duration
	maxHistory   int
	logger       *slog.Logger
	parser       *Parser

	running atomic.Bool

	mu        sync.Mutex
	handlers  []handlerEntry
	nextID    int
	history   []*ConversationEvent
	offsets   map[string]int64
}

// Option configures a Tailer.
type Option func(*Tailer)

// WithPollInterval overrides the poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tailer) { t.pollInterval = d }
}

// WithMaxHistory overrides the history bound.
func WithMaxHistory(n int) Option {
	return func(t *Tailer) { t.maxHistory = n }
}

// WithLogger sets the tailer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tailer) { t.logger = logger }
}

// New creates a tailer over the given log directory.
func New(dir string, opts ...Option) *Tailer {
	t := &Tailer{
		dir:          dir,
		pollInterval: DefaultPollInterval,
		maxHistory:   DefaultMaxHistory,
		logger:       slog.Default(),
		parser:       NewParser(),
		offsets:      make(map[string]int64),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AddHandler registers a handler and returns its id for later removal.
func (t *Tailer) AddHandler(h Handler) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	t.handlers = append(t.handlers, handlerEntry{id: t.nextID, fn: h})
	return t.nextID
}

// RemoveHandler unregisters the handler with the given id.
func (t *Tailer) RemoveHandler(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, h := range t.handlers {
		if h.id == id {
			t.handlers = append(t.handlers[:i], t.handlers[i+1:]...)
			return
		}
	}
}

// Start processes all existing log files, then alternates between
// filesystem-change notifications and a bounded poll until Stop is called
// or ctx is cancelled. The watcher is best-effort: if it cannot be created
// the tailer degrades to pure polling.
func (t *Tailer) Start(ctx context.Context) error {
	t.running.Store(true)
	t.logger.Info("tailer starting", slog.String("dir", t.dir))

	// Bounded channel between the watcher callback and the processing
	// loop. Dropping on overflow is safe: the poll pass rescans every
	// file from its stored offset.
	changes := make(chan string, 64)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.logger.Warn("filesystem watcher unavailable, polling only", slog.String("error", err.Error()))
	} else {
		defer watcher.Close()
		if err := watcher.Add(t.dir); err != nil {
			t.logger.Warn("cannot watch log dir, polling only",
				slog.String("dir", t.dir), slog.String("error", err.Error()))
		} else {
			go t.forwardChanges(ctx, watcher, changes)
		}
	}

	t.ProcessExisting()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for t.running.Load() {
		select {
		case <-ctx.Done():
			t.running.Store(false)
			return nil
		case path := <-changes:
			t.processFile(path)
		case <-ticker.C:
			t.ProcessExisting()
		}
	}
	t.logger.Info("tailer stopped")
	return nil
}

// Stop requests loop exit. The loop observes the flag within one poll
// interval. Idempotent and safe from any goroutine.
func (t *Tailer) Stop() {
	t.running.Store(false)
}

// forwardChanges pushes modified .jsonl paths into the bounded change
// channel, dropping when full.
func (t *Tailer) forwardChanges(ctx context.Context, watcher *fsnotify.Watcher, changes chan<- string) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".jsonl") {
				continue
			}
			select {
			case changes <- event.Name:
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			t.logger.Error("watcher error", slog.String("error", err.Error()))
		}
	}
}

// ProcessExisting scans all matching log files in filename-sort order and
// consumes any bytes past each file's stored offset.
func (t *Tailer) ProcessExisting() {
	var files []string
	for _, pattern := range []string{"conversations_*.jsonl", "realtime_*.jsonl"} {
		matches, err := filepath.Glob(filepath.Join(t.dir, pattern))
		if err != nil {
			continue
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	for _, path := range files {
		t.processFile(path)
	}
}

// processFile reads forward from the stored offset, parsing and dispatching
// each complete line. The offset advances only past fully consumed lines;
// a trailing partial line (still being written by the producer) is left for
// the next pass. An error on one file never stops the others.
func (t *Tailer) processFile(path string) {
	t.mu.Lock()
	offset := t.offsets[path]
	t.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		t.logger.Error("cannot open log file", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			t.logger.Error("cannot seek log file", slog.String("path", path), slog.String("error", err.Error()))
			return
		}
	}

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			// Partial trailing line: leave it unconsumed.
			break
		}
		offset += int64(len(line))
		trimmed := strings.TrimSpace(string(line))
		if trimmed == "" {
			continue
		}
		if ev, ok := t.parser.Parse([]byte(trimmed)); ok {
			t.record(ev)
			t.dispatch(ev)
		}
	}

	t.mu.Lock()
	t.offsets[path] = offset
	t.mu.Unlock()
}

// record appends to the bounded FIFO history, evicting the oldest entry
// when the bound is exceeded.
func (t *Tailer) record(ev *ConversationEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = append(t.history, ev)
	if len(t.history) > t.maxHistory {
		t.history = t.history[1:]
	}
}

// dispatch invokes handlers in registration order. A panicking handler is
// logged and skipped; the rest still run.
func (t *Tailer) dispatch(ev *ConversationEvent) {
	t.mu.Lock()
	handlers := make([]handlerEntry, len(t.handlers))
	copy(handlers, t.handlers)
	t.mu.Unlock()

	for _, h := range handlers {
		t.invoke(h, ev)
	}
}

func (t *Tailer) invoke(h handlerEntry, ev *ConversationEvent) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("event handler panicked",
				slog.Int("handler_id", h.id),
				slog.String("event_id", ev.ID),
				slog.Any("panic", r),
			)
		}
	}()
	h.fn(ev)
}

// History returns a copy of the retained event history, oldest first.
func (t *Tailer) History() []*ConversationEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*ConversationEvent, len(t.history))
	copy(out, t.history)
	return out
}

// Summarize aggregates the retained history: per-type counts, distinct
// worker identities seen as source or target, and decision/blocker/
// completed-progress tallies.
func (t *Tailer) Summarize() Summary {
	history := t.History()

	summary := Summary{
		TotalEvents: len(history),
		EventTypes:  make(map[string]int),
	}
	workers := make(map[string]struct{})

	for _, ev := range history {
		summary.EventTypes[ev.EventType]++

		if isWorkerIdentity(ev.Source) {
			workers[ev.Source] = struct{}{}
		} else if isWorkerIdentity(ev.Target) {
			workers[ev.Target] = struct{}{}
		}

		switch ev.EventType {
		case TypeCoordinatorDecision:
			summary.DecisionCount++
		case TypeBlockerReport:
			summary.BlockerCount++
		case TypeProgressUpdate:
			if status, _ := ev.Metadata["status"].(string); status == "completed" {
				summary.CompletedTask++
			}
		}
	}

	summary.ActiveWorkers = len(workers)
	return summary
}

func isWorkerIdentity(id string) bool {
	return strings.HasPrefix(id, "worker_") || strings.HasPrefix(id, "agent")
}
