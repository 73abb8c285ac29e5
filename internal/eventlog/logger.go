// Package eventlog records relay and broadcast lifecycle events in a JSON
// lines file and reads them back for the status API.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Relay event types.
const (
	RelayStarted   EventType = "relay_started"
	RelayCrashed   EventType = "relay_crashed"
	RelayRestarted EventType = "relay_restarted"
	RelayStopped   EventType = "relay_stopped"
)

// Session event types.
const (
	SessionCreated   EventType = "session_created"
	SessionResumed   EventType = "session_resumed"
	SessionCompleted EventType = "session_completed"
	SessionCleared   EventType = "session_cleared"
)

// Rotation and recovery event types.
const (
	RotationStarted   EventType = "rotation_started"
	RotationCompleted EventType = "rotation_completed"
	RotationFailed    EventType = "rotation_failed"
	StartupFailed     EventType = "startup_failed"
	StandbyEntered    EventType = "standby_entered"
	StandbyRecovered  EventType = "standby_recovered"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// RelayDetails contains relay-specific event details.
type RelayDetails struct {
	PID    int    `json:"pid,omitempty"`
	Ingest string `json:"ingest,omitempty"` // Masked ingest URL
	Error  string `json:"error,omitempty"`
}

// SessionDetails contains session-specific event details.
type SessionDetails struct {
	Ordinal     int    `json:"ordinal,omitempty"`
	Title       string `json:"title,omitempty"`
	IngestID    string `json:"ingest_id,omitempty"`
	BroadcastID string `json:"broadcast_id,omitempty"`
	WatchURL    string `json:"watch_url,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RetryDetails contains retry and standby event details.
type RetryDetails struct {
	Attempt     int    `json:"attempt,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Logger writes events to a JSON lines file. A nil Logger discards events.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return l.encoder.Encode(event)
}

// LogRelay logs a relay event.
func (l *Logger) LogRelay(eventType EventType, message string, d RelayDetails) error {
	return l.Log(&Event{Type: eventType, Message: message, Details: &d})
}

// LogSession logs a session event.
func (l *Logger) LogSession(eventType EventType, message string, d SessionDetails) error {
	return l.Log(&Event{Type: eventType, Message: message, Details: &d})
}

// LogRetry logs a rotation, startup or standby event.
func (l *Logger) LogRetry(eventType EventType, message string, d RetryDetails) error {
	return l.Log(&Event{Type: eventType, Message: message, Details: &d})
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll      TypeFilter = ""
	FilterRelay    TypeFilter = "relay"
	FilterSession  TypeFilter = "session"
	FilterRotation TypeFilter = "rotation"
)

// ParseFilter maps a query value onto a TypeFilter.
func ParseFilter(s string) (TypeFilter, error) {
	switch f := TypeFilter(strings.ToLower(s)); f {
	case FilterAll, FilterRelay, FilterSession, FilterRotation:
		return f, nil
	default:
		return FilterAll, fmt.Errorf("unknown event filter %q", s)
	}
}

// Matches reports whether t belongs to the filter's category.
func (f TypeFilter) Matches(t EventType) bool {
	switch f {
	case FilterAll:
		return true
	case FilterRelay:
		return strings.HasPrefix(string(t), "relay_")
	case FilterSession:
		return strings.HasPrefix(string(t), "session_")
	case FilterRotation:
		return !FilterRelay.Matches(t) && !FilterSession.Matches(t)
	default:
		return false
	}
}

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast reads events from the log file, newest first, skipping offset
// matching events and returning at most n. The boolean reports whether more
// matching events exist.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.Matches(event.Type) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}
	return events, false, nil
}
