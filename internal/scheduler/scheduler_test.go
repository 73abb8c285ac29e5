package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-livecam/internal/types"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRenderTitle(t *testing.T) {
	now := time.Date(2024, 1, 5, 9, 7, 3, 0, time.UTC)
	tests := []struct {
		template string
		want     string
	}{
		{"Live - {date} - {bogus}", "Live - 2024-01-05 - {bogus}"},
		{"{time}", "09:07"},
		{"Camera Live - {datetime}", "Camera Live - 2024-01-05 09:07"},
		{"{timestamp}", "20240105_090703"},
		{"#{stream_number} {date}", "#3 2024-01-05"},
		{"no placeholders", "no placeholders"},
		{"{date", "{date"},
	}
	for _, tt := range tests {
		if got := RenderTitle(tt.template, now, 3); got != tt.want {
			t.Errorf("RenderTitle(%q) = %q, want %q", tt.template, got, tt.want)
		}
	}
}

func TestGenerateTitleIsPure(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	s := New(Options{
		TitleTemplate: "Cam {datetime} #{stream_number}",
		Location:      cet,
		Now:           fixedClock(time.Date(2024, 1, 5, 23, 30, 0, 0, time.UTC)),
	})

	first := s.GenerateTitle()
	second := s.GenerateTitle()
	if first != second {
		t.Fatalf("GenerateTitle not stable: %q vs %q", first, second)
	}
	if want := "Cam 2024-01-06 00:30 #1"; first != want {
		t.Fatalf("GenerateTitle() = %q, want %q", first, want)
	}
}

func TestTimerFiresOnceAfterDuration(t *testing.T) {
	const (
		duration = 2 * time.Second
		poll     = 100 * time.Millisecond
	)
	s := New(Options{Duration: duration, PollInterval: poll})

	var calls atomic.Int32
	fired := make(chan time.Time, 2)
	s.SetRotationHandler(func() {
		calls.Add(1)
		fired <- time.Now()
	})

	begin := time.Now()
	if err := s.StartTimer(); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}

	select {
	case at := <-fired:
		elapsed := at.Sub(begin)
		if elapsed < duration || elapsed > duration+poll+50*time.Millisecond {
			t.Errorf("rotation fired after %s, want within [%s, %s]", elapsed, duration, duration+poll)
		}
	case <-time.After(duration + 2*time.Second):
		t.Fatal("rotation handler did not fire")
	}

	time.Sleep(3 * poll)
	if n := calls.Load(); n != 1 {
		t.Fatalf("rotation handler called %d times, want 1", n)
	}
	if got := s.State(); got != types.SchedulerRotating {
		t.Fatalf("State() = %s, want rotating", got)
	}

	s.StopTimer()
	if got := s.State(); got != types.SchedulerIdle {
		t.Fatalf("State() after StopTimer = %s, want idle", got)
	}
}

func TestStartTimerWhileStreaming(t *testing.T) {
	s := New(Options{Duration: time.Hour})
	if err := s.StartTimer(); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	defer s.StopTimer()

	if err := s.StartTimer(); !errors.Is(err, ErrAlreadyStreaming) {
		t.Fatalf("second StartTimer error = %v, want ErrAlreadyStreaming", err)
	}
	if got := s.Ordinal(); got != 1 {
		t.Fatalf("Ordinal() = %d, want 1", got)
	}
}

func TestStartTimerStates(t *testing.T) {
	s := New(Options{Duration: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond})
	if err := s.StartTimer(); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for s.State() != types.SchedulerRotating {
		if time.Now().After(deadline) {
			t.Fatalf("State() = %s, want rotating", s.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	// An expired countdown does not block the next session.
	if err := s.StartTimer(); err != nil {
		t.Fatalf("StartTimer while rotating: %v", err)
	}
	s.StopTimer()
	if err := s.StartTimer(); err != nil {
		t.Fatalf("StartTimer after StopTimer: %v", err)
	}
	s.StopTimer()
	if got := s.Ordinal(); got != 3 {
		t.Fatalf("Ordinal() = %d, want 3", got)
	}

	s.mu.Lock()
	s.state = types.SchedulerStopping
	s.mu.Unlock()
	if err := s.StartTimer(); !errors.Is(err, ErrStopping) {
		t.Fatalf("StartTimer while stopping error = %v, want ErrStopping", err)
	}
}

func TestStopTimerCancelsCountdown(t *testing.T) {
	s := New(Options{Duration: 300 * time.Millisecond, PollInterval: 20 * time.Millisecond})

	var calls atomic.Int32
	s.SetRotationHandler(func() { calls.Add(1) })

	if err := s.StartTimer(); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}

	begin := time.Now()
	s.StopTimer()
	if elapsed := time.Since(begin); elapsed > 200*time.Millisecond {
		t.Errorf("StopTimer took %s", elapsed)
	}
	s.StopTimer()

	time.Sleep(500 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Fatalf("rotation handler called %d times after StopTimer", n)
	}
	if got := s.State(); got != types.SchedulerIdle {
		t.Fatalf("State() = %s, want idle", got)
	}
	if _, ok := s.Remaining(); ok {
		t.Fatal("Remaining() reports an active countdown after StopTimer")
	}
}

func TestHandlerMayRestartTimer(t *testing.T) {
	s := New(Options{Duration: 100 * time.Millisecond, PollInterval: 10 * time.Millisecond})

	var wg sync.WaitGroup
	wg.Add(2)
	var calls atomic.Int32
	s.SetRotationHandler(func() {
		if calls.Add(1) > 2 {
			return
		}
		s.StopTimer()
		if err := s.StartTimer(); err != nil {
			t.Errorf("StartTimer from handler: %v", err)
		}
		wg.Done()
	})

	if err := s.StartTimer(); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("handler deadlocked restarting the timer")
	}
	s.StopTimer()

	if got := s.Ordinal(); got < 3 {
		t.Fatalf("Ordinal() = %d, want at least 3", got)
	}
}

func TestRemainingAndInfo(t *testing.T) {
	start := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	now := start
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	s := New(Options{Duration: 10 * time.Hour, Now: clock, PollInterval: 10 * time.Millisecond})
	if _, ok := s.Remaining(); ok {
		t.Fatal("idle scheduler reports remaining time")
	}
	if err := s.StartTimer(); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	defer s.StopTimer()

	mu.Lock()
	now = start.Add(90 * time.Minute)
	mu.Unlock()

	remaining, ok := s.Remaining()
	if !ok || remaining != 8*time.Hour+30*time.Minute {
		t.Fatalf("Remaining() = %s, %v", remaining, ok)
	}

	info := s.Info()
	if info.State != types.SchedulerStreaming || info.Ordinal != 1 {
		t.Errorf("Info() = %+v", info)
	}
	if info.Elapsed != 90*time.Minute || info.Duration != 10*time.Hour || !info.StartedAt.Equal(start) {
		t.Errorf("Info() timing = %+v", info)
	}
}

func TestReset(t *testing.T) {
	s := New(Options{Duration: time.Hour, TitleTemplate: "#{stream_number}"})
	for range 2 {
		if err := s.StartTimer(); err != nil {
			t.Fatalf("StartTimer: %v", err)
		}
		s.StopTimer()
	}
	if got := s.GenerateTitle(); got != "#3" {
		t.Fatalf("GenerateTitle() = %q, want #3", got)
	}

	s.Reset()
	if got := s.Ordinal(); got != 0 {
		t.Fatalf("Ordinal() after Reset = %d", got)
	}
	if got := s.GenerateTitle(); got != "#1" {
		t.Fatalf("GenerateTitle() after Reset = %q, want #1", got)
	}
}
