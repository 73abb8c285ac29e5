package broadcast

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oszuidwest/zwfm-livecam/internal/util"
)

// DefaultMaxRetries is the default number of attempts per operation.
const DefaultMaxRetries = 3

// Options configures a Client.
type Options struct {
	// MaxRetries is the total number of attempts for transient failures.
	MaxRetries int
	// OnAttempt, if set, is called after every remote call.
	OnAttempt func(op string, err error)
	Logger    *slog.Logger
}

// Client applies the retry policy to a Platform:
//   - transient failures are retried immediately, up to MaxRetries attempts;
//   - an unauthorized failure triggers one token refresh and one more attempt,
//     which does not count against MaxRetries;
//   - rejected requests fail at once.
type Client struct {
	platform   Platform
	maxRetries int
	onAttempt  func(op string, err error)
	logger     *slog.Logger
}

// NewClient returns a Client for platform.
func NewClient(platform Platform, opts Options) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		platform:   platform,
		maxRetries: opts.MaxRetries,
		onAttempt:  opts.OnAttempt,
		logger:     opts.Logger.With("component", "broadcast"),
	}
}

// do runs fn under the retry policy.
func (c *Client) do(ctx context.Context, op string, fn func(context.Context) error) error {
	var (
		attempts  int
		transient int
		refreshed bool
	)
	for {
		attempts++
		err := fn(ctx)
		if c.onAttempt != nil {
			c.onAttempt(op, err)
		}
		if err == nil {
			return nil
		}

		switch {
		case errors.Is(err, ErrRejected):
			return &Error{Op: op, Attempts: attempts, Err: err}

		case errors.Is(err, ErrUnauthorized):
			if refreshed {
				return &Error{Op: op, Attempts: attempts, Err: err}
			}
			refreshed = true
			c.logger.Info("access token rejected, refreshing", "op", op)
			if rerr := c.platform.RefreshToken(ctx); rerr != nil {
				return &Error{Op: op, Attempts: attempts, Err: errors.Join(err, util.WrapError("refresh token", rerr))}
			}

		default:
			transient++
			if transient >= c.maxRetries {
				return &Error{Op: op, Attempts: attempts, Err: err}
			}
			if ctx.Err() != nil {
				return &Error{Op: op, Attempts: attempts, Err: errors.Join(err, ctx.Err())}
			}
			c.logger.Warn("broadcast api call failed, retrying",
				"op", op, "attempt", transient, "max", c.maxRetries, "error", err)
		}
	}
}

// Authenticate prepares platform credentials.
func (c *Client) Authenticate(ctx context.Context) error {
	if err := c.platform.Authenticate(ctx); err != nil {
		return util.WrapError("authenticate", err)
	}
	return nil
}

// CreateIngestTarget provisions a new ingest endpoint.
func (c *Client) CreateIngestTarget(ctx context.Context, title string) (IngestTarget, error) {
	var target IngestTarget
	err := c.do(ctx, "create ingest target", func(ctx context.Context) error {
		var err error
		target, err = c.platform.CreateStream(ctx, title)
		return err
	})
	if err != nil {
		return IngestTarget{}, err
	}
	c.logger.Info("ingest target created", "ingest_id", target.ID, "ingest_url", util.MaskIngestURL(target.URL))
	return target, nil
}

// CreateBroadcastRecord creates a broadcast and returns its ID.
func (c *Client) CreateBroadcastRecord(ctx context.Context, spec BroadcastSpec) (string, error) {
	var id string
	err := c.do(ctx, "create broadcast", func(ctx context.Context) error {
		var err error
		id, err = c.platform.CreateBroadcast(ctx, spec)
		return err
	})
	if err != nil {
		return "", err
	}
	c.logger.Info("broadcast created", "broadcast_id", id, "title", spec.Title, "privacy", spec.Privacy)
	return id, nil
}

// BindIngestToBroadcast attaches an ingest target to a broadcast.
func (c *Client) BindIngestToBroadcast(ctx context.Context, broadcastID, ingestID string) error {
	err := c.do(ctx, "bind broadcast", func(ctx context.Context) error {
		return c.platform.BindBroadcast(ctx, broadcastID, ingestID)
	})
	if err != nil {
		return err
	}
	c.logger.Info("broadcast bound to ingest target", "broadcast_id", broadcastID, "ingest_id", ingestID)
	return nil
}

// IngestStatus returns the stream status tag of an ingest target.
func (c *Client) IngestStatus(ctx context.Context, ingestID string) (string, error) {
	var status string
	err := c.do(ctx, "get ingest status", func(ctx context.Context) error {
		var err error
		status, err = c.platform.StreamStatus(ctx, ingestID)
		return err
	})
	if err != nil {
		return StatusUnknown, err
	}
	if status == "" {
		status = StatusUnknown
	}
	return status, nil
}

// BroadcastStatus returns the lifecycle status of a broadcast.
func (c *Client) BroadcastStatus(ctx context.Context, broadcastID string) (string, error) {
	var status string
	err := c.do(ctx, "get broadcast status", func(ctx context.Context) error {
		var err error
		status, err = c.platform.BroadcastStatus(ctx, broadcastID)
		return err
	})
	if err != nil {
		return StatusUnknown, err
	}
	if status == "" {
		status = StatusUnknown
	}
	return status, nil
}

// TransitionBroadcast moves a broadcast to the given lifecycle state.
func (c *Client) TransitionBroadcast(ctx context.Context, broadcastID, status string) error {
	err := c.do(ctx, "transition broadcast to "+status, func(ctx context.Context) error {
		return c.platform.TransitionBroadcast(ctx, broadcastID, status)
	})
	if err != nil {
		return err
	}
	c.logger.Info("broadcast transitioned", "broadcast_id", broadcastID, "status", status)
	return nil
}

// CompleteBroadcast ends a broadcast.
func (c *Client) CompleteBroadcast(ctx context.Context, broadcastID string) error {
	return c.TransitionBroadcast(ctx, broadcastID, LifecycleComplete)
}

// CreateFullLivestream creates an ingest target and a broadcast and binds them.
// On failure the returned Livestream holds what was created.
func (c *Client) CreateFullLivestream(ctx context.Context, spec BroadcastSpec) (Livestream, error) {
	return c.CompleteLivestream(ctx, Livestream{}, spec)
}

// CompleteLivestream performs whichever provisioning steps partial still lacks.
// On failure the returned Livestream holds what exists so far.
func (c *Client) CompleteLivestream(ctx context.Context, partial Livestream, spec BroadcastSpec) (Livestream, error) {
	ls := partial

	if ls.IngestID == "" || ls.IngestURL == "" {
		target, err := c.CreateIngestTarget(ctx, spec.Title)
		if err != nil {
			return ls, err
		}
		ls.IngestID, ls.IngestURL = target.ID, target.URL
		ls.Bound = false
	}

	if ls.BroadcastID == "" {
		id, err := c.CreateBroadcastRecord(ctx, spec)
		if err != nil {
			return ls, err
		}
		ls.BroadcastID = id
		ls.Bound = false
	}

	if !ls.Bound {
		if err := c.BindIngestToBroadcast(ctx, ls.BroadcastID, ls.IngestID); err != nil {
			return ls, err
		}
		ls.Bound = true
	}
	return ls, nil
}

// DeleteIngestTarget removes an ingest target. Failures are logged.
func (c *Client) DeleteIngestTarget(ctx context.Context, ingestID string) {
	if ingestID == "" {
		return
	}
	err := c.do(ctx, "delete ingest target", func(ctx context.Context) error {
		return c.platform.DeleteStream(ctx, ingestID)
	})
	if err != nil {
		c.logger.Warn("failed to delete ingest target", "ingest_id", ingestID, "error", err)
		return
	}
	c.logger.Info("ingest target deleted", "ingest_id", ingestID)
}

// DeleteBroadcastRecord removes a broadcast. Failures are logged.
func (c *Client) DeleteBroadcastRecord(ctx context.Context, broadcastID string) {
	if broadcastID == "" {
		return
	}
	err := c.do(ctx, "delete broadcast", func(ctx context.Context) error {
		return c.platform.DeleteBroadcast(ctx, broadcastID)
	})
	if err != nil {
		c.logger.Warn("failed to delete broadcast", "broadcast_id", broadcastID, "error", err)
		return
	}
	c.logger.Info("broadcast deleted", "broadcast_id", broadcastID)
}

// WatchURL returns the viewer link of a broadcast.
func (c *Client) WatchURL(broadcastID string) string {
	return c.platform.WatchURL(broadcastID)
}
