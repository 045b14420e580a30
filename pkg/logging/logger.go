package logging

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel maps a case-insensitive name to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "warning":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// Category represents the subsystem generating the log
type Category string

const (
	CategoryStream   Category = "stream"
	CategoryResolver Category = "resolver"
	CategorySession  Category = "session"
	CategoryWorkflow Category = "workflow"
	CategoryAgent    Category = "agent"
	CategoryReport   Category = "report"
	CategoryStorage  Category = "storage"
	CategoryNetwork  Category = "network"
	CategoryServer   Category = "server"
)

// DefaultSender labels events that originate in the orchestrator itself.
const DefaultSender = "Background"

// Event represents a structured log event
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	EventType string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Sender    string         `json:"sender,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Sink receives every event that passes the level filter. Deliver must not
// block the caller.
type Sink interface {
	Deliver(Event)
}

// Logger writes structured events to the console, optional log files, and
// any registered sinks.
type Logger struct {
	console   io.Writer
	baseDir   string
	day       string
	eventFile *os.File
	errorFile *os.File
	sinks     []Sink
	mu        sync.Mutex
	minLevel  Level
}

// NewLogger creates a logger that writes JSONL to console. When baseDir is
// non-empty, events are also appended to baseDir/events-YYYY-MM-DD.jsonl and
// errors to baseDir/errors-YYYY-MM-DD.jsonl, rotating at local midnight.
func NewLogger(console io.Writer, baseDir string) (*Logger, error) {
	if console == nil {
		console = io.Discard
	}
	l := &Logger{
		console:  console,
		baseDir:  baseDir,
		minLevel: LevelInfo,
	}
	if baseDir == "" {
		return l, nil
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := l.rotate(time.Now()); err != nil {
		return nil, err
	}
	return l, nil
}

// EventLogPath returns the event log file for the day containing t.
func (l *Logger) EventLogPath(t time.Time) string {
	return filepath.Join(l.baseDir, "events-"+t.Format("2006-01-02")+".jsonl")
}

// ErrorLogPath returns the error log file for the day containing t.
func (l *Logger) ErrorLogPath(t time.Time) string {
	return filepath.Join(l.baseDir, "errors-"+t.Format("2006-01-02")+".jsonl")
}

// rotate reopens the log files when t falls on a new day. Callers hold mu
// or own the logger exclusively.
func (l *Logger) rotate(t time.Time) error {
	day := t.Format("2006-01-02")
	if day == l.day && l.eventFile != nil {
		return nil
	}

	eventFile, err := os.OpenFile(l.EventLogPath(t), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	errorFile, err := os.OpenFile(l.ErrorLogPath(t), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		eventFile.Close()
		return fmt.Errorf("failed to open error log: %w", err)
	}

	if l.eventFile != nil {
		l.eventFile.Close()
	}
	if l.errorFile != nil {
		l.errorFile.Close()
	}
	l.eventFile = eventFile
	l.errorFile = errorFile
	l.day = day
	return nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l, _ := NewLogger(io.Discard, "")
	return l
}

// SetMinLevel sets the minimum log level
func (l *Logger) SetMinLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// AddSink registers a sink that receives every logged event.
func (l *Logger) AddSink(s Sink) {
	if s == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Log writes an event to appropriate destinations
func (l *Logger) Log(event Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Sender == "" {
		event.Sender = DefaultSender
	}
	if levelRank[event.Level] < levelRank[l.minLevel] {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')

	var firstErr error
	if _, err := l.console.Write(data); err != nil {
		firstErr = err
	}
	if l.baseDir != "" && l.eventFile != nil {
		if err := l.rotate(event.Timestamp); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if l.eventFile != nil {
		if _, err := l.eventFile.Write(data); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to write to event log: %w", err)
		}
	}
	if event.Level == LevelError && l.errorFile != nil {
		if _, err := l.errorFile.Write(data); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to write to error log: %w", err)
		}
	}

	for _, s := range l.sinks {
		s.Deliver(event)
	}
	return firstErr
}

// Debug logs a debug event
func (l *Logger) Debug(category Category, eventType, message string, details map[string]any) {
	_ = l.Log(Event{Level: LevelDebug, Category: category, EventType: eventType, Message: message, Details: details})
}

// Info logs an info event
func (l *Logger) Info(category Category, eventType, message string, details map[string]any) {
	_ = l.Log(Event{Level: LevelInfo, Category: category, EventType: eventType, Message: message, Details: details})
}

// Warn logs a warning event
func (l *Logger) Warn(category Category, eventType, message string, details map[string]any) {
	_ = l.Log(Event{Level: LevelWarn, Category: category, EventType: eventType, Message: message, Details: details})
}

// Error logs an error event
func (l *Logger) Error(category Category, eventType, message string, details map[string]any) {
	_ = l.Log(Event{Level: LevelError, Category: category, EventType: eventType, Message: message, Details: details})
}

// Close closes all log files
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	if l.eventFile != nil {
		if err := l.eventFile.Close(); err != nil {
			errs = append(errs, err)
		}
		l.eventFile = nil
	}
	if l.errorFile != nil {
		if err := l.errorFile.Close(); err != nil {
			errs = append(errs, err)
		}
		l.errorFile = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing log files: %v", errs)
	}
	return nil
}

// ErrNoLogDir is returned when reading history from a console-only logger.
var ErrNoLogDir = errors.New("logger has no log directory")

// Recent returns up to count of today's events, newest last. With errorsOnly
// it reads the error log instead.
func (l *Logger) Recent(count int, errorsOnly bool) ([]Event, error) {
	if l == nil || l.baseDir == "" {
		return nil, ErrNoLogDir
	}
	now := time.Now()
	path := l.EventLogPath(now)
	if errorsOnly {
		path = l.ErrorLogPath(now)
	}
	events, err := ReadRecentEvents(path, count)
	if errors.Is(err, os.ErrNotExist) {
		return []Event{}, nil
	}
	return events, err
}

// ReadRecentEvents returns the last count events of a JSONL log file.
// Lines that do not decode, such as a partially written tail, are skipped.
func ReadRecentEvents(logPath string, count int) ([]Event, error) {
	if count <= 0 {
		return []Event{}, nil
	}
	file, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	ring := make([]Event, 0, count)
	next := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		var ev Event
		if json.Unmarshal(scanner.Bytes(), &ev) != nil {
			continue
		}
		if len(ring) < count {
			ring = append(ring, ev)
			continue
		}
		ring[next] = ev
		next = (next + 1) % count
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return append(ring[next:], ring[:next]...), nil
}
