package tailer

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			t.Fatalf("WriteString() error = %v", err)
		}
	}
}

type collector struct {
	mu     sync.Mutex
	events []*ConversationEvent
}

func (c *collector) handle(ev *ConversationEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestTailer_ExistingThenAppended(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "realtime_001.jsonl")
	writeLines(t, logFile,
		`{"event": "pm_thinking", "thought": "one"}`,
		`{"event": "pm_thinking", "thought": "two"}`,
		`{"event": "pm_thinking", "thought": "three"}`,
	)

	tl := New(dir)
	sink := &collector{}
	tl.AddHandler(sink.handle)

	tl.ProcessExisting()
	if sink.len() != 3 {
		t.Fatalf("first pass delivered %d events, want 3", sink.len())
	}

	writeLines(t, logFile,
		`{"event": "pm_thinking", "thought": "four"}`,
		`{"event": "pm_thinking", "thought": "five"}`,
	)

	tl.ProcessExisting()
	if sink.len() != 5 {
		t.Fatalf("second pass total = %d events, want 5 (no duplicates, no drops)", sink.len())
	}

	// A third pass with nothing new delivers nothing.
	tl.ProcessExisting()
	if sink.len() != 5 {
		t.Fatalf("idle pass total = %d events, want 5", sink.len())
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	want := []string{"one", "two", "three", "four", "five"}
	for i, ev := range sink.events {
		if ev.Message != want[i] {
			t.Errorf("events[%d].Message = %q, want %q", i, ev.Message, want[i])
		}
	}
}

func TestTailer_PartialLineLeftForNextPass(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "realtime_001.jsonl")
	writeLines(t, logFile, `{"event": "pm_thinking", "thought": "complete"}`)

	// Simulate an in-flight producer write: no trailing newline yet.
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if _, err := f.WriteString(`{"event": "pm_thinking", "thou`); err != nil {
		t.Fatalf("WriteString() error = %v", err)
	}
	f.Close()

	tl := New(dir)
	sink := &collector{}
	tl.AddHandler(sink.handle)

	tl.ProcessExisting()
	if sink.len() != 1 {
		t.Fatalf("delivered %d events, want 1 (partial line must wait)", sink.len())
	}

	writeLines(t, logFile, `ght": "finished"}`)
	tl.ProcessExisting()
	if sink.len() != 2 {
		t.Fatalf("delivered %d events after completion, want 2", sink.len())
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.events[1].Message != "finished" {
		t.Errorf("second event Message = %q, want finished", sink.events[1].Message)
	}
}

func TestTailer_FilesProcessedInSortOrder(t *testing.T) {
	dir := t.TempDir()
	// Written out of order on purpose; the tailer must sort by filename.
	writeLines(t, filepath.Join(dir, "realtime_002.jsonl"), `{"event": "pm_thinking", "thought": "newer"}`)
	writeLines(t, filepath.Join(dir, "conversations_001.jsonl"), `{"event": "pm_thinking", "thought": "older"}`)

	tl := New(dir)
	sink := &collector{}
	tl.AddHandler(sink.handle)
	tl.ProcessExisting()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 2 {
		t.Fatalf("delivered %d events, want 2", len(sink.events))
	}
	if sink.events[0].Message != "older" || sink.events[1].Message != "newer" {
		t.Errorf("order = [%q, %q], want [older, newer]", sink.events[0].Message, sink.events[1].Message)
	}
}

func TestTailer_BlankAndInvalidLinesSkipped(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, "realtime_001.jsonl"),
		``,
		`not json at all`,
		`{"event": "pm_thinking", "thought": "kept"}`,
		`   `,
	)

	tl := New(dir)
	sink := &collector{}
	tl.AddHandler(sink.handle)
	tl.ProcessExisting()

	if sink.len() != 1 {
		t.Fatalf("delivered %d events, want 1", sink.len())
	}
}

func TestTailer_HandlerPanicDoesNotStopDispatch(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, "realtime_001.jsonl"), `{"event": "pm_thinking", "thought": "x"}`)

	tl := New(dir)
	tl.AddHandler(func(*ConversationEvent) { panic("broken handler") })
	sink := &collector{}
	tl.AddHandler(sink.handle)

	tl.ProcessExisting()
	if sink.len() != 1 {
		t.Fatalf("second handler received %d events, want 1", sink.len())
	}
}

func TestTailer_RemoveHandler(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "realtime_001.jsonl")
	writeLines(t, logFile, `{"event": "pm_thinking", "thought": "x"}`)

	tl := New(dir)
	sink := &collector{}
	id := tl.AddHandler(sink.handle)
	tl.ProcessExisting()
	tl.RemoveHandler(id)

	writeLines(t, logFile, `{"event": "pm_thinking", "thought": "y"}`)
	tl.ProcessExisting()

	if sink.len() != 1 {
		t.Fatalf("removed handler received %d events, want 1", sink.len())
	}
}

func TestTailer_HistoryBound(t *testing.T) {
	dir := t.TempDir()
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, `{"event": "pm_thinking", "thought": "x"}`)
	}
	writeLines(t, filepath.Join(dir, "realtime_001.jsonl"), lines...)

	tl := New(dir, WithMaxHistory(4))
	tl.ProcessExisting()

	history := tl.History()
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
	// Oldest entries evicted first: the survivors are the last four parsed.
	if history[0].ID != "event_7" || history[3].ID != "event_10" {
		t.Errorf("history ids = %s..%s, want event_7..event_10", history[0].ID, history[3].ID)
	}
}

func TestTailer_Summarize(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, "realtime_001.jsonl"),
		`{"event": "pm_decision", "decision": "d1"}`,
		`{"event": "blocker_reported", "worker_id": "worker_1", "blocker_description": "stuck"}`,
		`{"event": "progress_update", "worker_id": "worker_2", "progress": 100, "message": "done", "status": "completed"}`,
		`{"event": "progress_update", "worker_id": "worker_2", "progress": 10, "message": "started", "status": "in_progress"}`,
	)

	tl := New(dir)
	tl.ProcessExisting()

	summary := tl.Summarize()
	if summary.TotalEvents != 4 {
		t.Errorf("TotalEvents = %d, want 4", summary.TotalEvents)
	}
	if summary.DecisionCount != 1 {
		t.Errorf("DecisionCount = %d, want 1", summary.DecisionCount)
	}
	if summary.BlockerCount != 1 {
		t.Errorf("BlockerCount = %d, want 1", summary.BlockerCount)
	}
	if summary.CompletedTask != 1 {
		t.Errorf("CompletedTask = %d, want 1", summary.CompletedTask)
	}
	if summary.ActiveWorkers != 2 {
		t.Errorf("ActiveWorkers = %d, want 2", summary.ActiveWorkers)
	}
	if summary.EventTypes[TypeProgressUpdate] != 2 {
		t.Errorf("progress_update count = %d, want 2", summary.EventTypes[TypeProgressUpdate])
	}
}

func TestTailer_StartStopsWithinPollInterval(t *testing.T) {
	dir := t.TempDir()
	tl := New(dir, WithPollInterval(10*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		done <- tl.Start(t.Context())
	}()

	time.Sleep(30 * time.Millisecond)
	tl.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("tailer did not stop within one poll interval")
	}

	// Stop is idempotent.
	tl.Stop()
}

// Two tailers over the same static file must deliver identical sequences.
func TestTailer_DeterministicAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, "conversations_001.jsonl"),
		`{"event": "pm_thinking", "thought": "a"}`,
		`{"type": "ping_request", "echo": "b"}`,
		`{"event": "worker_communication", "worker_id": "worker_1", "conversation_type": "worker_to_pm", "message": "c"}`,
	)

	run := func() []*ConversationEvent {
		tl := New(dir)
		sink := &collector{}
		tl.AddHandler(sink.handle)
		tl.ProcessExisting()
		return sink.events
	}

	first, second := run(), run()
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Message != second[i].Message || first[i].EventType != second[i].EventType {
			t.Fatalf("event %d differs:\n%+v\n%+v", i, first[i], second[i])
		}
	}
}
