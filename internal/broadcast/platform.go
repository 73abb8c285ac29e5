// Package broadcast manages the lifecycle of live broadcasts on the streaming
// platform: provisioning ingest targets and broadcast records, binding them,
// querying their status and completing them, with a uniform retry policy.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error classes a Platform wraps around its failures. Any other error is
// treated as transient.
var (
	// ErrUnauthorized indicates the access token was rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRejected indicates a request the platform will never accept as sent,
	// such as a missing resource or a forbidden transition.
	ErrRejected = errors.New("request rejected")
	// ErrCredentials indicates the configured credentials can never yield an
	// access token, such as a missing or revoked refresh token.
	ErrCredentials = errors.New("credentials unusable")
)

// Ingest status tags reported by the platform.
const (
	StatusActive   = "active"
	StatusReady    = "ready"
	StatusInactive = "inactive"
	StatusError    = "error"
	StatusNoData   = "noData"
	StatusUnknown  = "unknown"
)

// Broadcast lifecycle states accepted by TransitionBroadcast.
const (
	LifecycleTesting  = "testing"
	LifecycleLive     = "live"
	LifecycleComplete = "complete"
)

// IngestTarget is a provisioned ingest endpoint.
type IngestTarget struct {
	ID  string
	URL string
	Key string
}

// BroadcastSpec describes a broadcast record to create.
type BroadcastSpec struct {
	Title          string
	Description    string
	Privacy        string
	ScheduledStart time.Time
}

// Platform performs single remote calls without retrying.
type Platform interface {
	// Authenticate loads or obtains credentials.
	Authenticate(ctx context.Context) error
	// RefreshToken forces a new access token.
	RefreshToken(ctx context.Context) error

	CreateStream(ctx context.Context, title string) (IngestTarget, error)
	CreateBroadcast(ctx context.Context, spec BroadcastSpec) (string, error)
	BindBroadcast(ctx context.Context, broadcastID, streamID string) error
	StreamStatus(ctx context.Context, streamID string) (string, error)
	BroadcastStatus(ctx context.Context, broadcastID string) (string, error)
	TransitionBroadcast(ctx context.Context, broadcastID, status string) error
	DeleteStream(ctx context.Context, streamID string) error
	DeleteBroadcast(ctx context.Context, broadcastID string) error

	// WatchURL returns the viewer link of a broadcast.
	WatchURL(broadcastID string) string
}

// Error reports an operation that failed after the retry policy gave up.
type Error struct {
	Op       string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Livestream is the result of provisioning. On partial failure it carries
// whatever was created before the failing step.
type Livestream struct {
	IngestID    string
	IngestURL   string
	BroadcastID string
	Bound       bool
}

// Complete reports whether every provisioning step has succeeded.
func (l Livestream) Complete() bool {
	return l.IngestID != "" && l.IngestURL != "" && l.BroadcastID != "" && l.Bound
}
