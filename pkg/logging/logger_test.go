package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Deliver(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func TestLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info(CategoryStream, "connected", "stream open", map[string]any{"url": "http://x"})

	var event Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.Level != LevelInfo {
		t.Errorf("Level = %q", event.Level)
	}
	if event.Category != CategoryStream || event.EventType != "connected" {
		t.Errorf("unexpected event %+v", event)
	}
	if event.Sender != DefaultSender {
		t.Errorf("Sender = %q, want %q", event.Sender, DefaultSender)
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestLoggerMinLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(&buf, "")
	logger.SetMinLevel(LevelWarn)

	logger.Debug(CategoryWorkflow, "noise", "dropped", nil)
	logger.Info(CategoryWorkflow, "noise", "dropped", nil)
	logger.Warn(CategoryWorkflow, "kept", "kept", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"kept"`) {
		t.Errorf("unexpected line %s", lines[0])
	}
}

func TestLoggerFilesAndErrors(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(nil, dir)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info(CategoryReport, "sent", "result posted", nil)
	logger.Error(CategoryReport, "failed", "result lost", nil)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events, err := ReadRecentEvents(logger.EventLogPath(time.Now()), 10)
	if err != nil {
		t.Fatalf("ReadRecentEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	errs, err := ReadRecentEvents(logger.ErrorLogPath(time.Now()), 10)
	if err != nil {
		t.Fatalf("ReadRecentEvents errors: %v", err)
	}
	if len(errs) != 1 || errs[0].EventType != "failed" {
		t.Fatalf("unexpected error log %+v", errs)
	}
}

func TestReadRecentEventsKeepsTail(t *testing.T) {
	dir := t.TempDir()
	logger, _ := NewLogger(nil, dir)
	for _, name := range []string{"a", "b", "c", "d"} {
		logger.Info(CategorySession, name, name, nil)
	}
	logger.Close()

	events, err := ReadRecentEvents(logger.EventLogPath(time.Now()), 2)
	if err != nil {
		t.Fatalf("ReadRecentEvents: %v", err)
	}
	if len(events) != 2 || events[0].EventType != "c" || events[1].EventType != "d" {
		t.Fatalf("unexpected tail %+v", events)
	}
}

func TestLoggerRotatesDaily(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(nil, dir)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	day1 := time.Date(2026, 3, 1, 23, 59, 0, 0, time.Local)
	day2 := day1.Add(2 * time.Minute)
	_ = logger.Log(Event{Timestamp: day1, Level: LevelInfo, Category: CategoryStream, EventType: "first"})
	_ = logger.Log(Event{Timestamp: day2, Level: LevelInfo, Category: CategoryStream, EventType: "second"})
	logger.Close()

	first, err := ReadRecentEvents(logger.EventLogPath(day1), 10)
	if err != nil || len(first) != 1 || first[0].EventType != "first" {
		t.Fatalf("day1 log = %+v, %v", first, err)
	}
	second, err := ReadRecentEvents(logger.EventLogPath(day2), 10)
	if err != nil || len(second) != 1 || second[0].EventType != "second" {
		t.Fatalf("day2 log = %+v, %v", second, err)
	}
}

func TestReadRecentEventsMissingFile(t *testing.T) {
	if _, err := ReadRecentEvents(filepath.Join(t.TempDir(), "nope.jsonl"), 1); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestReadRecentEventsSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := `{"type":"a"}
not json
{"type":"b"}
{"type":"c"}
{"type":"d`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	events, err := ReadRecentEvents(path, 2)
	if err != nil {
		t.Fatalf("ReadRecentEvents: %v", err)
	}
	if len(events) != 2 || events[0].EventType != "b" || events[1].EventType != "c" {
		t.Fatalf("unexpected tail %+v", events)
	}

	none, err := ReadRecentEvents(path, 0)
	if err != nil || len(none) != 0 {
		t.Fatalf("count 0 = %+v, %v", none, err)
	}
}

func TestLoggerRecent(t *testing.T) {
	if _, err := Nop().Recent(5, false); err != ErrNoLogDir {
		t.Fatalf("Nop().Recent err = %v, want ErrNoLogDir", err)
	}

	dir := t.TempDir()
	logger, err := NewLogger(nil, dir)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()
	logger.Info(CategoryWorkflow, "opened", "Mapped Tab t1", nil)
	logger.Warn(CategoryWorkflow, "abandoned", "Session abandoned", nil)
	logger.Error(CategoryReport, "report_failed", "Failed to send result", nil)

	events, err := logger.Recent(2, false)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 || events[0].EventType != "abandoned" || events[1].EventType != "report_failed" {
		t.Fatalf("Recent events = %+v", events)
	}

	errs, err := logger.Recent(10, true)
	if err != nil {
		t.Fatalf("Recent errors: %v", err)
	}
	if len(errs) != 1 || errs[0].EventType != "report_failed" {
		t.Fatalf("Recent errors = %+v", errs)
	}
}

func TestLoggerSinksReceiveEvents(t *testing.T) {
	logger := Nop()
	sink := &captureSink{}
	logger.AddSink(sink)
	logger.AddSink(nil)

	_ = logger.Log(Event{Level: LevelInfo, Category: CategoryAgent, EventType: "debug_log", Sender: "CS-42", Message: "hello"})
	logger.Debug(CategoryAgent, "filtered", "below min level", nil)

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	if sink.events[0].Sender != "CS-42" {
		t.Errorf("Sender = %q", sink.events[0].Sender)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	if err := logger.Log(Event{Level: LevelError}); err != nil {
		t.Fatalf("nil logger returned %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"DEBUG":   LevelDebug,
		"warning": LevelWarn,
		" error ": LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewLoggerBadDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLogger(nil, filepath.Join(file, "sub")); err == nil {
		t.Fatal("expected error when log dir cannot be created")
	}
}
