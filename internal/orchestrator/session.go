package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/oszuidwest/zwfm-livecam/internal/broadcast"
	"github.com/oszuidwest/zwfm-livecam/internal/eventlog"
	"github.com/oszuidwest/zwfm-livecam/internal/notify"
	"github.com/oszuidwest/zwfm-livecam/internal/relay"
	"github.com/oszuidwest/zwfm-livecam/internal/scheduler"
	"github.com/oszuidwest/zwfm-livecam/internal/types"
	"github.com/oszuidwest/zwfm-livecam/internal/util"
)

var (
	errSourceUnavailable = errors.New("source unavailable")
	errNoSession         = errors.New("no ingest URL to restart against")
	errRotationFailed    = errors.New("rotation failed")
)

// restoreSession adopts a session persisted by a previous run.
func (o *Orchestrator) restoreSession(ctx context.Context) {
	sess, err := o.store.Load(ctx)
	if err != nil {
		o.logger.Warn("failed to read persisted session, starting fresh", "error", err)
		return
	}
	if sess == nil {
		return
	}
	o.mu.Lock()
	o.session = sess
	o.mu.Unlock()
	o.logger.Info("restored persisted session",
		"broadcast_id", sess.BroadcastID,
		"ingest_id", sess.IngestID,
		"bound", sess.Bound)
	o.logSession(eventlog.SessionResumed, "restored persisted session", sess)
}

// startWithRetries runs startSession up to MaxRetryAttempts times, waiting
// for the source before each try.
func (o *Orchestrator) startWithRetries(ctx context.Context) bool {
	for attempt := 1; attempt <= o.opts.MaxRetryAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		o.setRetryCount(attempt - 1)

		err := o.tryStart(ctx)
		if err == nil {
			o.setRetryCount(0)
			o.setLastError(nil)
			return true
		}

		o.setLastError(err)
		o.logger.Error("start attempt failed",
			"attempt", attempt,
			"max_attempts", o.opts.MaxRetryAttempts,
			"error", err)
		if attempt < o.opts.MaxRetryAttempts {
			o.logger.Info("retrying start", "in", o.opts.RetryBackoff)
			if !util.Sleep(ctx, o.opts.RetryBackoff) {
				return false
			}
		}
	}
	o.setRetryCount(o.opts.MaxRetryAttempts)
	return false
}

func (o *Orchestrator) tryStart(ctx context.Context) error {
	if !o.waitForSource(ctx) {
		return errSourceUnavailable
	}
	return o.startSession(ctx)
}

// waitForSource polls the source until it answers or SourceWaitTimeout passes.
func (o *Orchestrator) waitForSource(ctx context.Context) bool {
	deadline := o.opts.Now().Add(o.opts.SourceWaitTimeout)
	for {
		if o.relay.CheckStreamAvailability(ctx, o.opts.SourceProbeTimeout, o.opts.Transport) {
			return true
		}
		if ctx.Err() != nil || !o.opts.Now().Before(deadline) {
			o.logger.Warn("source did not become available", "waited", o.opts.SourceWaitTimeout)
			return false
		}
		o.logger.Info("waiting for source", "retry_in", o.opts.SourcePollInterval)
		if !util.Sleep(ctx, o.opts.SourcePollInterval) {
			return false
		}
	}
}

// startSession provisions or reuses a session, starts the relay against it,
// waits for the ingest target and starts the rotation timer. A relay failure
// leaves the session in place for the next attempt.
func (o *Orchestrator) startSession(ctx context.Context) error {
	o.setPhase(PhaseProvisioning)

	sess := o.Session()
	if sess.Complete() {
		o.logger.Info("reusing session", "broadcast_id", sess.BroadcastID)
	} else {
		provisioned, err := o.provision(ctx, sess)
		if err != nil {
			return err
		}
		sess = provisioned
	}

	if err := o.relay.Start(sess.IngestURL); err != nil && !errors.Is(err, relay.ErrAlreadyRunning) {
		o.logRelay(eventlog.RelayCrashed, "relay failed to start", err)
		return util.WrapError("start relay", err)
	}
	o.logRelay(eventlog.RelayStarted, "relay started", nil)

	o.waitForIngest(ctx, sess.IngestID)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := o.timer.StartTimer(); err != nil {
		if !errors.Is(err, scheduler.ErrAlreadyStreaming) {
			return util.WrapError("start rotation timer", err)
		}
		o.logger.Warn("rotation timer already running")
	}

	ordinal := o.timer.Info().Ordinal
	o.mu.Lock()
	if o.session != nil {
		o.session.Ordinal = ordinal
	}
	o.mu.Unlock()
	o.metrics.SetSessionOrdinal(ordinal)

	o.setPhase(PhaseActive)
	o.logger.Info("broadcast is live",
		"stream", ordinal,
		"broadcast_id", sess.BroadcastID,
		"watch_url", o.lifecycle.WatchURL(sess.BroadcastID))
	return nil
}

// provision creates whatever the session still lacks. Partial results are
// recorded and persisted before the error is returned.
func (o *Orchestrator) provision(ctx context.Context, sess *types.Session) (*types.Session, error) {
	spec := broadcast.BroadcastSpec{
		Title:       o.timer.GenerateTitle(),
		Description: o.opts.Description,
		Privacy:     o.opts.Privacy,
	}
	partial := broadcast.Livestream{}
	if sess != nil {
		partial = broadcast.Livestream{
			IngestID:    sess.IngestID,
			IngestURL:   sess.IngestURL,
			BroadcastID: sess.BroadcastID,
			Bound:       sess.Bound,
		}
		o.logger.Info("resuming partial session",
			"ingest_id", sess.IngestID,
			"broadcast_id", sess.BroadcastID)
	}

	o.logger.Info("provisioning broadcast", "title", spec.Title)
	// In-flight platform calls are allowed to finish during shutdown.
	ls, err := o.lifecycle.CompleteLivestream(context.WithoutCancel(ctx), partial, spec)

	if ls != partial {
		next := &types.Session{
			IngestID:    ls.IngestID,
			BroadcastID: ls.BroadcastID,
			IngestURL:   ls.IngestURL,
			Bound:       ls.Bound,
			StartedAt:   o.opts.Now(),
		}
		o.mu.Lock()
		o.session = next
		o.mu.Unlock()
		o.persist(ctx, next)
	}

	if err != nil {
		return nil, fmt.Errorf("provision broadcast %q: %w", spec.Title, err)
	}

	sess = o.Session()
	watchURL := o.lifecycle.WatchURL(sess.BroadcastID)
	o.logger.Info("broadcast provisioned",
		"broadcast_id", sess.BroadcastID,
		"ingest_id", sess.IngestID,
		"watch_url", watchURL)
	o.logSession(eventlog.SessionCreated, spec.Title, sess)

	event := notify.NewEvent(notify.EventSessionStarted, "")
	event.Title = spec.Title
	event.BroadcastID = sess.BroadcastID
	event.WatchURL = watchURL
	o.notifier.Notify(event)
	return sess, nil
}

// waitForIngest polls the ingest status until it is active, a soft status
// has persisted for IngestGrace, or IngestWait has passed.
func (o *Orchestrator) waitForIngest(ctx context.Context, ingestID string) {
	start := o.opts.Now()
	for {
		status, err := o.lifecycle.IngestStatus(context.WithoutCancel(ctx), ingestID)
		if err != nil {
			o.logger.Warn("failed to query ingest status", "error", err)
			status = broadcast.StatusUnknown
		}
		elapsed := o.opts.Now().Sub(start)
		o.logger.Info("ingest status", "status", status, "elapsed", util.FormatDuration(elapsed))

		switch {
		case status == broadcast.StatusActive:
			return
		case softStatus(status) && elapsed >= o.opts.IngestGrace:
			o.logger.Warn("ingest status still soft, continuing anyway", "status", status)
			return
		case elapsed >= o.opts.IngestWait:
			o.logger.Warn("ingest did not become active, continuing anyway", "status", status)
			return
		}

		if !util.Sleep(ctx, o.opts.IngestPollInterval) {
			return
		}
	}
}

// softStatus reports whether an ingest status is one the platform is known
// to report unreliably. Unrecognised tags count as soft.
func softStatus(status string) bool {
	switch status {
	case broadcast.StatusReady, broadcast.StatusInactive:
		return false
	default:
		return true
	}
}

func (o *Orchestrator) persist(ctx context.Context, sess *types.Session) {
	if err := o.store.Save(context.WithoutCancel(ctx), sess); err != nil {
		o.logger.Error("failed to persist session", "error", err)
	}
}

// clearSession forgets the current session in memory and in the store.
func (o *Orchestrator) clearSession(ctx context.Context) {
	o.mu.Lock()
	sess := o.session
	o.session = nil
	o.mu.Unlock()

	if err := o.store.Clear(context.WithoutCancel(ctx)); err != nil {
		o.logger.Error("failed to clear persisted session", "error", err)
	}
	if sess != nil {
		o.logSession(eventlog.SessionCleared, "session cleared", sess)
	}
}
