package orchestrator

import (
	"context"
	"errors"

	"github.com/oszuidwest/zwfm-livecam/internal/broadcast"
	"github.com/oszuidwest/zwfm-livecam/internal/eventlog"
	"github.com/oszuidwest/zwfm-livecam/internal/notify"
	"github.com/oszuidwest/zwfm-livecam/internal/types"
	"github.com/oszuidwest/zwfm-livecam/internal/util"
)

// onRotationDue is invoked by the timer when the broadcast reaches its
// maximum duration.
func (o *Orchestrator) onRotationDue() {
	o.logger.Info("rotation triggered by timer")
	o.Rotate(o.ctx)
}

// onRelayCrash is invoked by the relay monitor when the process dies.
func (o *Orchestrator) onRelayCrash() {
	o.metrics.IncCrashes()
	o.logRelay(eventlog.RelayCrashed, "relay exited unexpectedly", nil)
	o.HandleCrash(o.ctx)
}

// Rotate ends the current broadcast and starts a new one. A call while
// another rotation or start sequence is in progress is dropped.
func (o *Orchestrator) Rotate(ctx context.Context) {
	if !o.beginRotation() {
		o.logger.Warn("rotation already in progress, ignoring trigger")
		return
	}
	defer o.endRotation()
	o.rotate(ctx)
}

// rotate runs one rotation. The caller must hold the rotation guard.
func (o *Orchestrator) rotate(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	o.setPhase(PhaseRotatingOut)
	o.logger.Info("starting broadcast rotation")
	o.logRetry(eventlog.RotationStarted, "rotation started", 0)

	if err := o.relay.Stop(o.opts.RelayStopTimeout); err != nil {
		o.logger.Warn("failed to stop relay cleanly", "error", err)
	}
	o.timer.StopTimer()

	if sess := o.Session(); sess != nil && sess.BroadcastID != "" {
		// The platform needs a moment to ingest the tail of the stream.
		if !util.Sleep(ctx, o.opts.RotationGrace) {
			return
		}
		o.completeBroadcast(ctx, sess.BroadcastID)
	}

	o.logger.Info("waiting before provisioning next broadcast", "pause", o.opts.RotationPause)
	paused := util.Sleep(ctx, o.opts.RotationPause)
	o.clearSession(ctx)
	if !paused {
		return
	}

	if o.startWithRetries(ctx) {
		o.metrics.ObserveRotation(nil)
		o.logRetry(eventlog.RotationCompleted, "rotation completed", 0)
		o.logger.Info("broadcast rotation completed")
		return
	}
	if ctx.Err() != nil {
		return
	}

	o.metrics.ObserveRotation(errRotationFailed)
	o.logger.Error("rotation failed, entering standby", "attempts", o.opts.MaxRetryAttempts)
	o.logRetry(eventlog.RotationFailed, "rotation failed", o.opts.MaxRetryAttempts)
	o.notifier.Notify(notify.NewEvent(notify.EventRotationFailed, o.LastError()))
	o.standbyLoop(ctx)
}

// HandleCrash restarts the relay against the last ingest URL and escalates
// to a rotation when the restart fails. A rotation that came due while the
// restart held the guard runs before the guard is released.
func (o *Orchestrator) HandleCrash(ctx context.Context) {
	if ctx.Err() != nil {
		o.logger.Info("shutdown in progress, not restarting relay")
		return
	}
	if !o.beginRotation() {
		o.logger.Warn("rotation in progress, skipping relay restart")
		return
	}
	defer o.endRotation()

	o.recoverRelay(ctx)
	if ctx.Err() == nil && o.rotationOverdue() {
		o.logger.Info("rotation came due during relay restart, rotating now")
		o.rotate(ctx)
	}
}

// rotationOverdue reports whether the timer expired without a rotation
// having run, which happens when its trigger found the guard taken.
func (o *Orchestrator) rotationOverdue() bool {
	return o.timer.Info().State == types.SchedulerRotating
}

// recoverRelay restarts a dead relay. The caller must hold the rotation guard.
func (o *Orchestrator) recoverRelay(ctx context.Context) {
	o.logger.Warn("relay down, restarting", "delay", o.opts.CrashRestartDelay)
	if !util.Sleep(ctx, o.opts.CrashRestartDelay) {
		return
	}
	if o.relay.IsRunning() {
		o.logger.Info("relay already running, restart not needed")
		return
	}

	ingestURL := o.relay.IngestURL()
	if sess := o.Session(); ingestURL == "" && sess != nil {
		ingestURL = sess.IngestURL
	}

	err := o.restartRelay(ingestURL)
	o.metrics.ObserveRestart(err)
	if err == nil {
		o.logger.Info("relay restarted")
		o.logRelay(eventlog.RelayRestarted, "relay restarted", nil)
		return
	}

	o.logger.Error("relay restart failed, rotating broadcast", "error", err)
	o.logRelay(eventlog.RelayRestarted, "relay restart failed", err)
	o.rotate(ctx)
}

func (o *Orchestrator) restartRelay(ingestURL string) error {
	if ingestURL == "" {
		return errNoSession
	}
	if err := o.relay.Stop(o.opts.RelayStopTimeout); err != nil {
		o.logger.Warn("failed to clear crashed relay", "error", err)
	}
	return o.relay.Start(ingestURL)
}

// standbyLoop probes the source every StandbyInterval and attempts one start
// whenever it answers, until a start succeeds or ctx is done.
func (o *Orchestrator) standbyLoop(ctx context.Context) {
	o.setPhase(PhaseStandby)
	o.setStandby(true)
	defer o.setStandby(false)
	o.logRetry(eventlog.StandbyEntered, "standby entered", o.opts.MaxRetryAttempts)

	for util.Sleep(ctx, o.opts.StandbyInterval) {
		if !o.relay.CheckStreamAvailability(ctx, o.opts.SourceProbeTimeout, o.opts.Transport) {
			o.logger.Info("standby: source still unavailable", "next_check", o.opts.StandbyInterval)
			continue
		}

		err := o.startSession(ctx)
		if err == nil {
			o.setRetryCount(0)
			o.setLastError(nil)
			o.logger.Info("recovered from standby")
			o.logRetry(eventlog.StandbyRecovered, "recovered from standby", 0)

			event := notify.NewEvent(notify.EventStandbyRecovered, "")
			if sess := o.Session(); sess != nil {
				event.BroadcastID = sess.BroadcastID
				event.WatchURL = o.lifecycle.WatchURL(sess.BroadcastID)
			}
			o.notifier.Notify(event)
			return
		}
		o.setLastError(err)
		o.setPhase(PhaseStandby)
		o.logger.Error("standby start failed", "error", err, "next_check", o.opts.StandbyInterval)
	}
}

// completeBroadcast ends a broadcast, retrying transient failures a few
// times. A rejected transition is not retried; the broadcast counts as
// ended when the platform already reports it complete. Failure is logged.
func (o *Orchestrator) completeBroadcast(ctx context.Context, broadcastID string) bool {
	for attempt := 1; attempt <= o.opts.CompleteAttempts; attempt++ {
		err := o.lifecycle.CompleteBroadcast(context.WithoutCancel(ctx), broadcastID)
		if err == nil {
			o.logger.Info("broadcast completed", "broadcast_id", broadcastID)
			o.logSession(eventlog.SessionCompleted, "broadcast completed", o.Session())
			return true
		}
		o.logger.Warn("failed to complete broadcast",
			"broadcast_id", broadcastID,
			"attempt", attempt,
			"error", err)

		if errors.Is(err, broadcast.ErrRejected) {
			return o.alreadyComplete(ctx, broadcastID)
		}
		if attempt < o.opts.CompleteAttempts && !util.Sleep(ctx, o.opts.CompleteRetryDelay) {
			break
		}
	}
	return false
}

// alreadyComplete reports whether the platform lists the broadcast as complete.
func (o *Orchestrator) alreadyComplete(ctx context.Context, broadcastID string) bool {
	status, err := o.lifecycle.BroadcastStatus(context.WithoutCancel(ctx), broadcastID)
	if err != nil {
		o.logger.Warn("failed to query broadcast status", "broadcast_id", broadcastID, "error", err)
		return false
	}
	if status != broadcast.LifecycleComplete {
		o.logger.Warn("broadcast refused completion", "broadcast_id", broadcastID, "status", status)
		return false
	}
	o.logger.Info("broadcast was already complete", "broadcast_id", broadcastID)
	o.logSession(eventlog.SessionCompleted, "broadcast already complete", o.Session())
	return true
}
