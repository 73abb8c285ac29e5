package notify

import (
	"fmt"
	"time"
)

// EventType identifies a lifecycle notification.
type EventType string

// Lifecycle notifications.
const (
	// EventSessionStarted is sent when a new broadcast is provisioned.
	EventSessionStarted EventType = "session_started"
	// EventRotationFailed is sent when a rotation exhausts its retries.
	EventRotationFailed EventType = "rotation_failed"
	// EventStartupFailed is sent when the initial start exhausts its retries.
	EventStartupFailed EventType = "startup_failed"
	// EventStandbyRecovered is sent when a standby loop starts a session.
	EventStandbyRecovered EventType = "standby_recovered"
	// EventTest is sent by the test-notification command.
	EventTest EventType = "test"
)

// Event is a notification about the broadcast lifecycle.
type Event struct {
	Type        EventType `json:"event"`
	Title       string    `json:"title,omitempty"`
	BroadcastID string    `json:"broadcast_id,omitempty"`
	WatchURL    string    `json:"watch_url,omitempty"`
	Message     string    `json:"message,omitempty"`
	Timestamp   string    `json:"timestamp"`
}

// NewEvent returns an event of type t stamped with the current time.
func NewEvent(t EventType, message string) Event {
	return Event{Type: t, Message: message, Timestamp: timestampUTC()}
}

// Subject returns a one-line summary suitable for an e-mail subject.
func (e Event) Subject() string {
	switch e.Type {
	case EventSessionStarted:
		return "[LIVE] New broadcast started - " + AppName
	case EventRotationFailed:
		return "[ALERT] Broadcast rotation failed - " + AppName
	case EventStartupFailed:
		return "[ALERT] Livestream failed to start - " + AppName
	case EventStandbyRecovered:
		return "[OK] Livestream recovered - " + AppName
	default:
		return "[TEST] " + AppName
	}
}

// Body returns a plain-text description of the event.
func (e Event) Body() string {
	body := e.Message
	if e.Title != "" {
		body += fmt.Sprintf("\n\nTitle:     %s", e.Title)
	}
	if e.BroadcastID != "" {
		body += fmt.Sprintf("\nBroadcast: %s", e.BroadcastID)
	}
	if e.WatchURL != "" {
		body += fmt.Sprintf("\nWatch:     %s", e.WatchURL)
	}
	if t, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
		body += fmt.Sprintf("\nTime:      %s", t.Local().Format("2006-01-02 15:04:05"))
	}
	return body
}
