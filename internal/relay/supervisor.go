// Package relay supervises the FFmpeg process that copies the camera feed
// to the broadcast ingest endpoint.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-livecam/internal/ffmpeg"
	"github.com/oszuidwest/zwfm-livecam/internal/types"
	"github.com/oszuidwest/zwfm-livecam/internal/util"
)

var (
	// ErrAlreadyRunning is returned by Start while a relay is starting or running.
	ErrAlreadyRunning = errors.New("relay already running")
	// ErrNoIngestURL is returned by Restart when no ingest URL is known.
	ErrNoIngestURL = errors.New("no ingest URL available")
	// errStoppedDuringStart indicates Stop was called before the start was confirmed.
	errStoppedDuringStart = errors.New("relay stopped during startup")
)

// crashLogLines is the number of output lines logged when the relay dies.
const crashLogLines = 20

// Options configures a Supervisor.
type Options struct {
	FFmpegPath string
	SourceURL  string
	Transport  types.TransportMode

	ConfirmWindow      time.Duration
	MonitorInterval    time.Duration
	CrashConfirmations int
	StopTimeout        time.Duration
	KillDelay          time.Duration
	ReconnectDelay     time.Duration

	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.Transport == "" {
		o.Transport = types.TransportTCP
	}
	if o.ConfirmWindow <= 0 {
		o.ConfirmWindow = types.StartConfirmWindow
	}
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = types.MonitorInterval
	}
	if o.CrashConfirmations <= 0 {
		o.CrashConfirmations = types.CrashConfirmations
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = types.StopTimeout
	}
	if o.KillDelay <= 0 {
		o.KillDelay = types.KillDelay
	}
	if o.ReconnectDelay < 0 {
		o.ReconnectDelay = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// ProbeResult is the outcome of a source availability probe.
type ProbeResult struct {
	Available bool          `json:"available"`
	Output    string        `json:"output"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Supervisor owns a single relay process. It is safe for concurrent use.
type Supervisor struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex // Protects the fields below
	state     types.RelayState
	proc      *ffmpeg.Process
	lastProc  *ffmpeg.Process
	ingestURL string
	startedAt time.Time
	lastError string
	onCrash   func()

	monitorStop chan struct{}
	monitorDone chan struct{}
}

// New returns a stopped Supervisor.
func New(opts Options) *Supervisor {
	opts.applyDefaults()
	return &Supervisor{
		opts:   opts,
		logger: opts.Logger.With("component", "relay"),
		state:  types.RelayStopped,
	}
}

// SetCrashHandler registers fn to be called once per detected crash. It runs
// on the monitor goroutine after the monitor has finished, so it may call
// Stop, Start or Restart.
func (s *Supervisor) SetCrashHandler(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCrash = fn
}

// State returns the recorded relay state.
func (s *Supervisor) State() types.RelayState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the last recorded failure message.
func (s *Supervisor) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Uptime returns how long the current relay has been running.
func (s *Supervisor) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != types.RelayRunning {
		return 0
	}
	return time.Since(s.startedAt)
}

// IngestURL returns the ingest URL of the last start.
func (s *Supervisor) IngestURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ingestURL
}

// IsRunning reports whether the relay is recorded as running and the process
// table confirms it.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	state, proc := s.state, s.proc
	s.mu.Unlock()
	return state == types.RelayRunning && proc != nil && proc.Alive()
}

// Logs returns the last lines of relay output, from the current process or
// the most recent one.
func (s *Supervisor) Logs(lines int) string {
	s.mu.Lock()
	proc := s.proc
	if proc == nil {
		proc = s.lastProc
	}
	s.mu.Unlock()
	if proc == nil {
		return ""
	}
	return proc.Tail(lines)
}

// setState applies a transition. The caller must hold s.mu.
func (s *Supervisor) setState(to types.RelayState) bool {
	if !canTransition(s.state, to) {
		s.logger.Error("refusing invalid relay transition", "from", s.state, "to", to)
		return false
	}
	s.state = to
	return true
}

// Start launches the relay against ingestURL and waits for it to survive the
// confirmation window.
func (s *Supervisor) Start(ingestURL string) error {
	s.mu.Lock()
	if s.state == types.RelayStarting || s.state == types.RelayRunning {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if !s.setState(types.RelayStarting) {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot start relay in state %s", state)
	}
	s.ingestURL = ingestURL
	s.lastError = ""
	s.mu.Unlock()

	args := ffmpeg.BuildRelayArgs(s.opts.SourceURL, s.opts.Transport, ingestURL)
	s.logger.Info("starting relay",
		"source", util.MaskURL(s.opts.SourceURL),
		"ingest", util.MaskIngestURL(ingestURL),
		"transport", s.opts.Transport)

	proc, err := ffmpeg.StartProcess(s.opts.FFmpegPath, args)
	if err != nil {
		s.mu.Lock()
		s.setState(types.RelayCrashed)
		s.lastError = err.Error()
		s.mu.Unlock()
		s.logger.Error("relay launch failed", "error", err)
		return util.WrapError("launch relay", err)
	}

	s.mu.Lock()
	if s.state != types.RelayStarting {
		s.mu.Unlock()
		_ = proc.Kill()
		return errStoppedDuringStart
	}
	s.proc = proc
	s.lastProc = proc
	s.mu.Unlock()

	timer := time.NewTimer(s.opts.ConfirmWindow)
	defer timer.Stop()
	select {
	case <-proc.Done():
	case <-timer.C:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != types.RelayStarting || s.proc != proc {
		_ = proc.Kill()
		return errStoppedDuringStart
	}

	if !proc.Alive() {
		s.setState(types.RelayCrashed)
		s.proc = nil
		s.lastError = proc.LastError()
		s.logger.Error("relay exited during startup", "pid", proc.Pid(), "error", s.lastError)
		s.logOutput(proc)
		if s.lastError == "" {
			return errors.New("relay exited during startup")
		}
		return fmt.Errorf("relay exited during startup: %s", s.lastError)
	}

	s.setState(types.RelayRunning)
	s.startedAt = time.Now()
	s.monitorStop = make(chan struct{})
	s.monitorDone = make(chan struct{})
	go s.monitor(proc, s.monitorStop, s.monitorDone)

	s.logger.Info("relay running", "pid", proc.Pid())
	return nil
}

// monitor polls liveness until stopped or a crash is confirmed.
func (s *Supervisor) monitor(proc *ffmpeg.Process, stop <-chan struct{}, done chan struct{}) {
	ticker := time.NewTicker(s.opts.MonitorInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-stop:
			close(done)
			return
		case <-ticker.C:
		}

		if proc.Alive() {
			failures = 0
			continue
		}
		failures++
		s.logger.Warn("relay liveness check failed", "pid", proc.Pid(), "consecutive", failures)
		if failures < s.opts.CrashConfirmations {
			continue
		}

		s.mu.Lock()
		if s.state != types.RelayRunning || s.proc != proc {
			// A stop is in progress and owns the process.
			s.mu.Unlock()
			close(done)
			return
		}
		s.setState(types.RelayCrashed)
		s.lastError = proc.LastError()
		handler := s.onCrash
		s.mu.Unlock()

		s.logger.Error("relay crashed", "pid", proc.Pid(), "error", s.lastError, "exit", proc.Err())
		s.logOutput(proc)

		close(done)
		if handler != nil {
			s.runCrashHandler(handler)
		}
		return
	}
}

func (s *Supervisor) runCrashHandler(handler func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("relay crash handler panicked", "panic", r)
		}
	}()
	handler()
}

func (s *Supervisor) logOutput(proc *ffmpeg.Process) {
	if tail := proc.Tail(crashLogLines); tail != "" {
		s.logger.Warn("relay output", "pid", proc.Pid(), "tail", tail)
	}
}

// Stop ends the relay, escalating from a graceful quit to a terminate
// signal after timeout and to a forced kill after the kill delay. Stop is
// idempotent and always leaves the supervisor Stopped.
func (s *Supervisor) Stop(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.opts.StopTimeout
	}

	s.mu.Lock()
	switch s.state {
	case types.RelayStopped, types.RelayStopping:
		s.mu.Unlock()
		return nil
	case types.RelayCrashed:
		if s.proc == nil || s.proc.Exited() {
			s.setState(types.RelayStopped)
			s.proc = nil
			s.mu.Unlock()
			return nil
		}
	}
	s.setState(types.RelayStopping)
	proc := s.proc
	stop, done := s.monitorStop, s.monitorDone
	s.monitorStop, s.monitorDone = nil, nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	var err error
	if proc != nil {
		err = s.terminate(proc, timeout)
	}

	s.mu.Lock()
	s.proc = nil
	s.setState(types.RelayStopped)
	s.mu.Unlock()

	s.logger.Info("relay stopped")
	return err
}

func (s *Supervisor) terminate(proc *ffmpeg.Process, timeout time.Duration) error {
	if proc.Exited() {
		return nil
	}
	if err := proc.Interrupt(); err != nil {
		s.logger.Warn("failed to interrupt relay", "pid", proc.Pid(), "error", err)
	}
	if waitExit(proc, timeout) {
		return nil
	}

	s.logger.Warn("relay did not exit gracefully, terminating", "pid", proc.Pid())
	if err := proc.Terminate(); err != nil {
		s.logger.Warn("failed to terminate relay", "pid", proc.Pid(), "error", err)
	}
	if waitExit(proc, s.opts.KillDelay) {
		return nil
	}

	s.logger.Warn("relay ignored terminate, killing", "pid", proc.Pid())
	if err := proc.Kill(); err != nil {
		return util.WrapError("kill relay", err)
	}
	if !waitExit(proc, s.opts.KillDelay) {
		return fmt.Errorf("relay process %d was not reaped after kill", proc.Pid())
	}
	return nil
}

func waitExit(proc *ffmpeg.Process, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-proc.Done():
		return true
	case <-timer.C:
		return false
	}
}

// Restart stops the relay, waits the reconnect delay and starts it again.
// An empty ingestURL reuses the last one.
func (s *Supervisor) Restart(ctx context.Context, ingestURL string) error {
	if ingestURL == "" {
		ingestURL = s.IngestURL()
	}
	if ingestURL == "" {
		return ErrNoIngestURL
	}

	if err := s.Stop(s.opts.StopTimeout); err != nil {
		s.logger.Warn("relay stop during restart failed", "error", err)
	}
	if !util.Sleep(ctx, s.opts.ReconnectDelay) {
		return ctx.Err()
	}
	return s.Start(ingestURL)
}

// ProbeSource reads a short sample of the source with the given transport.
// An empty mode uses the configured transport.
func (s *Supervisor) ProbeSource(ctx context.Context, timeout time.Duration, mode types.TransportMode) ProbeResult {
	if mode == "" {
		mode = s.opts.Transport
	}
	begin := time.Now()
	output, err := ffmpeg.Probe(ctx, s.opts.FFmpegPath, s.opts.SourceURL, mode, timeout)
	result := ProbeResult{
		Available: err == nil,
		Output:    output,
		Elapsed:   time.Since(begin),
	}
	if err != nil {
		s.logger.Debug("source probe failed", "source", util.MaskURL(s.opts.SourceURL), "transport", mode, "error", err)
	}
	return result
}

// CheckStreamAvailability reports whether the source answered within timeout.
func (s *Supervisor) CheckStreamAvailability(ctx context.Context, timeout time.Duration, mode types.TransportMode) bool {
	return s.ProbeSource(ctx, timeout, mode).Available
}
