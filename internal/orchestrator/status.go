package orchestrator

import (
	"time"

	"github.com/oszuidwest/zwfm-livecam/internal/scheduler"
	"github.com/oszuidwest/zwfm-livecam/internal/types"
)

// SessionStatus describes the current broadcast without its stream key.
type SessionStatus struct {
	BroadcastID string    `json:"broadcast_id"`
	IngestID    string    `json:"ingest_id"`
	WatchURL    string    `json:"watch_url,omitempty"`
	Bound       bool      `json:"bound"`
	Ordinal     int       `json:"ordinal,omitempty"`
	StartedAt   time.Time `json:"started_at,omitzero"`
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	Phase      Phase            `json:"phase"`
	RelayState types.RelayState `json:"relay_state"`
	Session    *SessionStatus   `json:"session,omitempty"`
	Scheduler  scheduler.Info   `json:"scheduler"`
	RetryCount int              `json:"retry_count"`
	MaxRetries int              `json:"max_retries"`
	Standby    bool             `json:"standby"`
	Rotating   bool             `json:"rotating"`
	LastError  string           `json:"last_error,omitempty"`
}

// Status returns a snapshot for the status API.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := Status{
		Phase:      o.phase,
		RetryCount: o.retryCount,
		MaxRetries: o.opts.MaxRetryAttempts,
		Standby:    o.standby,
		LastError:  o.lastError,
	}
	sess := o.session
	if sess != nil {
		st.Session = &SessionStatus{
			BroadcastID: sess.BroadcastID,
			IngestID:    sess.IngestID,
			Bound:       sess.Bound,
			Ordinal:     sess.Ordinal,
			StartedAt:   sess.StartedAt,
		}
	}
	o.mu.Unlock()

	if st.Session != nil && st.Session.BroadcastID != "" {
		st.Session.WatchURL = o.lifecycle.WatchURL(st.Session.BroadcastID)
	}
	st.RelayState = o.relay.State()
	st.Scheduler = o.timer.Info()
	st.Rotating = o.isRotating()
	return st
}
