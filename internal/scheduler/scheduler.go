// Package scheduler times broadcast sessions and requests a rotation when a
// session reaches its maximum duration.
package scheduler

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-livecam/internal/types"
	"github.com/oszuidwest/zwfm-livecam/internal/util"
)

var (
	// ErrAlreadyStreaming is returned by StartTimer while a countdown is active.
	ErrAlreadyStreaming = errors.New("rotation timer already running")
	// ErrStopping is returned by StartTimer while a countdown is being cancelled.
	ErrStopping = errors.New("rotation timer is stopping")
)

// Options configures a Scheduler.
type Options struct {
	Duration         time.Duration
	TitleTemplate    string
	Location         *time.Location
	PollInterval     time.Duration
	ProgressInterval time.Duration
	JoinTimeout      time.Duration

	// Now is the clock used for titles and countdown arithmetic.
	Now func() time.Time

	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.PollInterval <= 0 {
		o.PollInterval = types.CountdownInterval
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = types.ProgressLogInterval
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = types.CountdownJoinTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Info is a point-in-time view of the scheduler.
type Info struct {
	State     types.SchedulerState `json:"state"`
	Ordinal   int                  `json:"ordinal"`
	StartedAt time.Time            `json:"started_at,omitzero"`
	Elapsed   time.Duration        `json:"elapsed"`
	Remaining time.Duration        `json:"remaining"`
	Duration  time.Duration        `json:"duration"`
}

// Scheduler runs one rotation countdown at a time. It is safe for concurrent use.
type Scheduler struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex // Protects the fields below
	state     types.SchedulerState
	ordinal   int
	startedAt time.Time
	onRotate  func()
	stop      chan struct{}
	done      chan struct{}
}

// New returns an idle Scheduler.
func New(opts Options) *Scheduler {
	opts.applyDefaults()
	return &Scheduler{
		opts:   opts,
		logger: opts.Logger.With("component", "scheduler"),
		state:  types.SchedulerIdle,
	}
}

// SetRotationHandler registers fn to be called when a countdown expires.
// It runs after the countdown has finished, so it may call StopTimer.
func (s *Scheduler) SetRotationHandler(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRotate = fn
}

// GenerateTitle renders the title template for the next session.
// Unknown placeholders are left as they are.
func (s *Scheduler) GenerateTitle() string {
	s.mu.Lock()
	next := s.ordinal + 1
	s.mu.Unlock()
	return RenderTitle(s.opts.TitleTemplate, s.opts.Now().In(s.opts.Location), next)
}

// RenderTitle substitutes the {date}, {time}, {datetime}, {timestamp} and
// {stream_number} placeholders of template.
func RenderTitle(template string, now time.Time, streamNumber int) string {
	r := strings.NewReplacer(
		"{date}", now.Format("2006-01-02"),
		"{time}", now.Format("15:04"),
		"{datetime}", now.Format("2006-01-02 15:04"),
		"{timestamp}", now.Format("20060102_150405"),
		"{stream_number}", strconv.Itoa(streamNumber),
	)
	return r.Replace(template)
}

// StartTimer starts the countdown for a new session. It returns
// ErrAlreadyStreaming while a countdown runs and ErrStopping while StopTimer
// is still joining the previous one; StopTimer always ends in the idle state,
// so the latter only shows up for callers racing a concurrent StopTimer.
// Starting from the rotating state is allowed.
func (s *Scheduler) StartTimer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case types.SchedulerStreaming:
		return ErrAlreadyStreaming
	case types.SchedulerStopping:
		return ErrStopping
	}

	s.startedAt = s.opts.Now()
	s.ordinal++
	s.state = types.SchedulerStreaming
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.countdown(s.startedAt, s.stop, s.done)

	s.logger.Info("rotation timer started",
		"session", s.ordinal,
		"duration", util.FormatDuration(s.opts.Duration),
		"rotates_at", s.startedAt.Add(s.opts.Duration).In(s.opts.Location).Format(time.DateTime))
	return nil
}

// countdown waits for the session deadline, then hands off to the rotation handler.
func (s *Scheduler) countdown(start time.Time, stop <-chan struct{}, done chan struct{}) {
	deadline := start.Add(s.opts.Duration)
	lastProgress := start

	for {
		now := s.opts.Now()
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			break
		}
		if now.Sub(lastProgress) >= s.opts.ProgressInterval {
			lastProgress = now
			s.logger.Info("stream progress",
				"elapsed", util.FormatDuration(now.Sub(start)),
				"remaining", util.FormatDuration(remaining))
		}

		timer := time.NewTimer(min(s.opts.PollInterval, remaining))
		select {
		case <-stop:
			timer.Stop()
			close(done)
			return
		case <-timer.C:
		}
	}

	s.mu.Lock()
	if s.state != types.SchedulerStreaming || s.done != done {
		s.mu.Unlock()
		close(done)
		return
	}
	s.state = types.SchedulerRotating
	handler := s.onRotate
	ordinal := s.ordinal
	s.mu.Unlock()

	s.logger.Info("stream duration reached, rotation due", "session", ordinal)
	close(done)
	if handler != nil {
		s.runHandler(handler)
	}
}

func (s *Scheduler) runHandler(handler func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("rotation handler panicked", "panic", r)
		}
	}()
	handler()
}

// StopTimer cancels the countdown and returns the scheduler to idle. It is
// idempotent.
func (s *Scheduler) StopTimer() {
	s.mu.Lock()
	if s.state == types.SchedulerIdle {
		s.mu.Unlock()
		return
	}
	if s.state == types.SchedulerStreaming {
		s.state = types.SchedulerStopping
	}
	stop, done := s.stop, s.done
	s.stop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if done != nil {
		timer := time.NewTimer(s.opts.JoinTimeout)
		select {
		case <-done:
		case <-timer.C:
			s.logger.Warn("rotation timer did not stop in time", "timeout", s.opts.JoinTimeout)
		}
		timer.Stop()
	}

	s.mu.Lock()
	if s.done == done {
		s.state = types.SchedulerIdle
		s.done = nil
	}
	s.mu.Unlock()
}

// Reset stops any countdown and restarts session numbering.
func (s *Scheduler) Reset() {
	s.StopTimer()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ordinal = 0
	s.startedAt = time.Time{}
}

// State returns the scheduler state.
func (s *Scheduler) State() types.SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ordinal returns the number of sessions started so far.
func (s *Scheduler) Ordinal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ordinal
}

// Remaining returns the time left in the current session. The boolean is
// false when no countdown is active.
func (s *Scheduler) Remaining() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != types.SchedulerStreaming {
		return 0, false
	}
	return max(s.startedAt.Add(s.opts.Duration).Sub(s.opts.Now()), 0), true
}

// Info returns a snapshot of the scheduler.
func (s *Scheduler) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		State:     s.state,
		Ordinal:   s.ordinal,
		StartedAt: s.startedAt,
		Duration:  s.opts.Duration,
	}
	if s.state == types.SchedulerStreaming || s.state == types.SchedulerRotating {
		now := s.opts.Now()
		info.Elapsed = now.Sub(s.startedAt)
		info.Remaining = max(s.startedAt.Add(s.opts.Duration).Sub(now), 0)
	}
	return info
}
