// Package session persists the current broadcast session so a restarted
// process can resume it instead of provisioning a new one.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oszuidwest/zwfm-livecam/internal/types"
)

// Store persists at most one session.
type Store interface {
	// Load returns the stored session, or (nil, nil) if there is none.
	Load(ctx context.Context) (*types.Session, error)
	// Save replaces the stored session.
	Save(ctx context.Context, s *types.Session) error
	// Clear removes the stored session. Clearing an empty store succeeds.
	Clear(ctx context.Context) error
}

// record is the persisted document.
type record struct {
	IngestID    string `json:"ingest_id"`
	BroadcastID string `json:"broadcast_id"`
	IngestURL   string `json:"ingest_url"`
	Bound       bool   `json:"bound,omitempty"`
	UpdatedAt   int64  `json:"updated_at"`
}

func encode(s *types.Session, now time.Time) ([]byte, error) {
	data, err := json.MarshalIndent(record{
		IngestID:    s.IngestID,
		BroadcastID: s.BroadcastID,
		IngestURL:   s.IngestURL,
		Bound:       s.Bound,
		UpdatedAt:   now.Unix(),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return data, nil
}

// decode parses a stored document. A document without identifiers counts
// as no session.
func decode(data []byte) (*types.Session, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	if r.IngestID == "" && r.BroadcastID == "" {
		return nil, nil
	}
	s := &types.Session{
		IngestID:    r.IngestID,
		BroadcastID: r.BroadcastID,
		IngestURL:   r.IngestURL,
		Bound:       r.Bound,
	}
	if r.UpdatedAt > 0 {
		s.StartedAt = time.Unix(r.UpdatedAt, 0)
	}
	return s, nil
}
