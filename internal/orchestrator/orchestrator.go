// Package orchestrator drives the relay, the rotation timer and the broadcast
// lifecycle: it provisions a broadcast, feeds it from the camera, rotates it on
// schedule and recovers from relay crashes and platform outages.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-livecam/internal/broadcast"
	"github.com/oszuidwest/zwfm-livecam/internal/eventlog"
	"github.com/oszuidwest/zwfm-livecam/internal/metrics"
	"github.com/oszuidwest/zwfm-livecam/internal/notify"
	"github.com/oszuidwest/zwfm-livecam/internal/scheduler"
	"github.com/oszuidwest/zwfm-livecam/internal/session"
	"github.com/oszuidwest/zwfm-livecam/internal/types"
	"github.com/oszuidwest/zwfm-livecam/internal/util"
)

// Relay is the media relay the orchestrator feeds broadcasts from.
type Relay interface {
	Start(ingestURL string) error
	Stop(timeout time.Duration) error
	IsRunning() bool
	State() types.RelayState
	IngestURL() string
	SetCrashHandler(fn func())
	CheckStreamAvailability(ctx context.Context, timeout time.Duration, mode types.TransportMode) bool
}

// Timer is the rotation countdown.
type Timer interface {
	StartTimer() error
	StopTimer()
	GenerateTitle() string
	SetRotationHandler(fn func())
	Info() scheduler.Info
}

// Lifecycle provisions and completes broadcasts.
type Lifecycle interface {
	Authenticate(ctx context.Context) error
	CompleteLivestream(ctx context.Context, partial broadcast.Livestream, spec broadcast.BroadcastSpec) (broadcast.Livestream, error)
	IngestStatus(ctx context.Context, ingestID string) (string, error)
	BroadcastStatus(ctx context.Context, broadcastID string) (string, error)
	CompleteBroadcast(ctx context.Context, broadcastID string) error
	WatchURL(broadcastID string) string
}

// Notifier delivers lifecycle notifications without blocking.
type Notifier interface {
	Notify(event notify.Event)
}

// Phase is the orchestrator's position in the broadcast lifecycle.
type Phase string

// Orchestrator phases.
const (
	PhaseInitializing Phase = "initializing"
	PhaseProvisioning Phase = "provisioning"
	PhaseActive       Phase = "active"
	PhaseRotatingOut  Phase = "rotating_out"
	PhaseStandby      Phase = "standby"
	PhaseShuttingDown Phase = "shutting_down"
)

var allPhases = []string{
	string(PhaseInitializing),
	string(PhaseProvisioning),
	string(PhaseActive),
	string(PhaseRotatingOut),
	string(PhaseStandby),
	string(PhaseShuttingDown),
}

var allRelayStates = []string{
	string(types.RelayStopped),
	string(types.RelayStarting),
	string(types.RelayRunning),
	string(types.RelayStopping),
	string(types.RelayCrashed),
}

// Options configures an Orchestrator. Zero durations take the defaults from
// the types package.
type Options struct {
	Description string
	Privacy     string
	Transport   types.TransportMode

	MaxRetryAttempts   int
	RetryBackoff       time.Duration
	StandbyInterval    time.Duration
	StatusInterval     time.Duration
	SourceWaitTimeout  time.Duration
	SourceProbeTimeout time.Duration
	SourcePollInterval time.Duration
	IngestWait         time.Duration
	IngestGrace        time.Duration
	IngestPollInterval time.Duration
	CrashRestartDelay  time.Duration
	RotationGrace      time.Duration
	RotationPause      time.Duration
	CompleteAttempts   int
	CompleteRetryDelay time.Duration
	RelayStopTimeout   time.Duration
	ShutdownTimeout    time.Duration

	Now     func() time.Time
	Logger  *slog.Logger
	Events  *eventlog.Logger
	Metrics *metrics.Metrics
}

func (o *Options) applyDefaults() {
	if o.Privacy == "" {
		o.Privacy = types.PrivacyPublic
	}
	if o.Transport == "" {
		o.Transport = types.TransportTCP
	}
	defaultInt(&o.MaxRetryAttempts, types.MaxRetryAttempts)
	defaultInt(&o.CompleteAttempts, types.CompleteAttempts)
	defaultDuration(&o.RetryBackoff, types.RetryBackoff)
	defaultDuration(&o.StandbyInterval, types.StandbyInterval)
	defaultDuration(&o.StatusInterval, types.StatusInterval)
	defaultDuration(&o.SourceWaitTimeout, types.SourceWaitTimeout)
	defaultDuration(&o.SourceProbeTimeout, types.SourceProbeTimeout)
	defaultDuration(&o.SourcePollInterval, types.SourcePollInterval)
	defaultDuration(&o.IngestWait, types.IngestWait)
	defaultDuration(&o.IngestGrace, types.IngestGrace)
	defaultDuration(&o.IngestPollInterval, types.IngestPollInterval)
	defaultDuration(&o.CrashRestartDelay, types.CrashRestartDelay)
	defaultDuration(&o.RotationGrace, types.RotationGrace)
	defaultDuration(&o.RotationPause, types.RotationPause)
	defaultDuration(&o.CompleteRetryDelay, types.CompleteRetryDelay)
	defaultDuration(&o.RelayStopTimeout, types.StopTimeout)
	defaultDuration(&o.ShutdownTimeout, types.ShutdownTimeout)
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

func defaultInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func defaultDuration(v *time.Duration, def time.Duration) {
	if *v <= 0 {
		*v = def
	}
}

// Orchestrator owns the broadcast session and coordinates its components.
// It is safe for concurrent use.
type Orchestrator struct {
	opts      Options
	relay     Relay
	timer     Timer
	lifecycle Lifecycle
	store     session.Store
	notifier  Notifier
	logger    *slog.Logger
	events    *eventlog.Logger
	metrics   *metrics.Metrics

	// ctx is cancelled when shutdown begins.
	ctx    context.Context
	cancel context.CancelFunc

	rotMu    sync.Mutex
	rotating bool

	mu         sync.Mutex // Protects the fields below
	phase      Phase
	session    *types.Session
	retryCount int
	standby    bool
	lastError  string
}

// New wires an Orchestrator and registers its crash and rotation handlers.
func New(relay Relay, timer Timer, lifecycle Lifecycle, store session.Store, notifier Notifier, opts Options) *Orchestrator {
	opts.applyDefaults()
	if notifier == nil {
		notifier = nopNotifier{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		opts:      opts,
		relay:     relay,
		timer:     timer,
		lifecycle: lifecycle,
		store:     store,
		notifier:  notifier,
		logger:    opts.Logger.With("component", "orchestrator"),
		events:    opts.Events,
		metrics:   opts.Metrics,
		ctx:       ctx,
		cancel:    cancel,
		phase:     PhaseInitializing,
	}
	relay.SetCrashHandler(o.onRelayCrash)
	timer.SetRotationHandler(o.onRotationDue)
	return o
}

type nopNotifier struct{}

func (nopNotifier) Notify(notify.Event) {}

// Run restores any persisted session, authenticates, starts streaming and
// supervises it until ctx is cancelled. It returns an error only when the
// platform credentials are unusable or cleanup on shutdown fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, o.cancel)
	defer stop()
	ctx = o.ctx

	o.logger.Info("orchestrator starting")
	o.restoreSession(ctx)

	if err := o.authenticate(ctx); err != nil {
		if ctx.Err() != nil {
			return o.shutdown()
		}
		o.cancel()
		return util.WrapError("authenticate with platform", err)
	}

	if o.beginRotation() {
		o.startup(ctx)
		o.endRotation()
	}

	o.monitor(ctx)
	return o.shutdown()
}

// authenticate obtains platform credentials. Transient failures are retried
// every RetryBackoff, then every StandbyInterval once MaxRetryAttempts have
// failed; only unusable credentials or cancellation end the loop.
func (o *Orchestrator) authenticate(ctx context.Context) error {
	defer o.setStandby(false)
	for attempt := 1; ; attempt++ {
		err := o.lifecycle.Authenticate(ctx)
		if err == nil {
			if attempt > 1 {
				o.logger.Info("authenticated with platform", "attempts", attempt)
			}
			o.setRetryCount(0)
			o.setLastError(nil)
			return nil
		}
		o.setLastError(err)
		if errors.Is(err, broadcast.ErrCredentials) {
			o.logger.Error("platform credentials are unusable", "error", err)
			return err
		}

		wait := o.opts.RetryBackoff
		if attempt < o.opts.MaxRetryAttempts {
			o.setRetryCount(attempt)
		} else {
			if attempt == o.opts.MaxRetryAttempts {
				o.setRetryCount(attempt)
				o.setPhase(PhaseStandby)
				o.setStandby(true)
				o.logRetry(eventlog.StartupFailed, "authentication failed", attempt)
				o.notifier.Notify(notify.NewEvent(notify.EventStartupFailed, err.Error()))
			}
			wait = o.opts.StandbyInterval
		}
		o.logger.Error("authentication failed, retrying", "attempt", attempt, "retry_in", wait, "error", err)
		if !util.Sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

// Shutdown begins shutdown. Run returns once cleanup has finished.
func (o *Orchestrator) Shutdown() {
	o.cancel()
}

func (o *Orchestrator) startup(ctx context.Context) {
	o.setPhase(PhaseProvisioning)
	if o.startWithRetries(ctx) {
		return
	}
	if ctx.Err() != nil {
		return
	}

	o.logger.Error("initial start failed, entering standby", "attempts", o.opts.MaxRetryAttempts)
	o.logRetry(eventlog.StartupFailed, "initial start failed", o.opts.MaxRetryAttempts)
	o.notifier.Notify(notify.NewEvent(notify.EventStartupFailed, o.LastError()))
	o.standbyLoop(ctx)
}

// monitor logs aggregate status on a fixed period. Outside a rotation it
// runs a rotation whose trigger was dropped and restarts a dead relay.
func (o *Orchestrator) monitor(ctx context.Context) {
	for util.Sleep(ctx, o.opts.StatusInterval) {
		o.logStatus()
		switch {
		case o.isRotating():
		case o.rotationOverdue():
			o.logger.Warn("rotation overdue, rotating now")
			o.Rotate(ctx)
		case !o.relay.IsRunning():
			o.logger.Warn("relay is not running, triggering restart", "relay_state", o.relay.State())
			o.HandleCrash(ctx)
		}
	}
}

func (o *Orchestrator) logStatus() {
	info := o.timer.Info()
	o.logger.Info("status",
		"phase", o.Phase(),
		"stream", info.Ordinal,
		"relay_state", o.relay.State(),
		"remaining", util.FormatDuration(info.Remaining))
}

// shutdown stops the relay and the timer and completes the open broadcast.
func (o *Orchestrator) shutdown() error {
	o.setPhase(PhaseShuttingDown)
	o.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), o.opts.ShutdownTimeout)
	defer cancel()

	// The rotation guard is never released after this point.
	if !o.claimRotation(ctx) {
		o.logger.Warn("rotation still in progress, cleaning up anyway")
	}

	var errs []error
	if err := o.relay.Stop(o.opts.RelayStopTimeout); err != nil {
		errs = append(errs, util.WrapError("stop relay", err))
	}
	o.timer.StopTimer()

	if sess := o.Session(); sess != nil && sess.BroadcastID != "" {
		if o.completeBroadcast(ctx, sess.BroadcastID) {
			o.clearSession(ctx)
		} else {
			errs = append(errs, errors.New("failed to complete broadcast "+sess.BroadcastID))
		}
	}

	o.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// beginRotation claims the rotation guard. It reports false if a rotation or
// start sequence already holds it.
func (o *Orchestrator) beginRotation() bool {
	o.rotMu.Lock()
	defer o.rotMu.Unlock()
	if o.rotating {
		return false
	}
	o.rotating = true
	return true
}

func (o *Orchestrator) endRotation() {
	o.rotMu.Lock()
	o.rotating = false
	o.rotMu.Unlock()
}

func (o *Orchestrator) isRotating() bool {
	o.rotMu.Lock()
	defer o.rotMu.Unlock()
	return o.rotating
}

// claimRotation waits until the rotation guard can be claimed or ctx is done.
func (o *Orchestrator) claimRotation(ctx context.Context) bool {
	for !o.beginRotation() {
		if !util.Sleep(ctx, types.PollInterval) {
			return false
		}
	}
	return true
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	prev := o.phase
	o.phase = p
	o.mu.Unlock()
	if prev != p {
		o.logger.Debug("phase changed", "from", prev, "to", p)
	}
	o.metrics.SetPhase(string(p), allPhases)
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Session returns a copy of the current session, or nil.
func (o *Orchestrator) Session() *types.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	s := *o.session
	return &s
}

// LastError returns the most recent start failure.
func (o *Orchestrator) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastError
}

func (o *Orchestrator) setLastError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err == nil {
		o.lastError = ""
		return
	}
	o.lastError = err.Error()
}

func (o *Orchestrator) setRetryCount(n int) {
	o.mu.Lock()
	o.retryCount = n
	o.mu.Unlock()
}

func (o *Orchestrator) setStandby(active bool) {
	o.mu.Lock()
	o.standby = active
	o.mu.Unlock()
	o.metrics.SetStandby(active)
}

// UpdateMetrics refreshes the gauges from the current state.
func (o *Orchestrator) UpdateMetrics() {
	o.metrics.SetPhase(string(o.Phase()), allPhases)
	o.metrics.SetRelayState(string(o.relay.State()), allRelayStates)
	o.metrics.SetSessionOrdinal(o.timer.Info().Ordinal)
}

func (o *Orchestrator) logRetry(t eventlog.EventType, msg string, attempt int) {
	if err := o.events.LogRetry(t, msg, eventlog.RetryDetails{
		Attempt:     attempt,
		MaxAttempts: o.opts.MaxRetryAttempts,
		Error:       o.LastError(),
	}); err != nil {
		o.logger.Warn("failed to write event log", "error", err)
	}
}

func (o *Orchestrator) logSession(t eventlog.EventType, msg string, sess *types.Session) {
	d := eventlog.SessionDetails{}
	if sess != nil {
		d.Ordinal = sess.Ordinal
		d.IngestID = sess.IngestID
		d.BroadcastID = sess.BroadcastID
		if sess.BroadcastID != "" {
			d.WatchURL = o.lifecycle.WatchURL(sess.BroadcastID)
		}
	}
	if err := o.events.LogSession(t, msg, d); err != nil {
		o.logger.Warn("failed to write event log", "error", err)
	}
}

func (o *Orchestrator) logRelay(t eventlog.EventType, msg string, err error) {
	d := eventlog.RelayDetails{Ingest: util.MaskIngestURL(o.relay.IngestURL())}
	if err != nil {
		d.Error = err.Error()
	}
	if werr := o.events.LogRelay(t, msg, d); werr != nil {
		o.logger.Warn("failed to write event log", "error", werr)
	}
}
