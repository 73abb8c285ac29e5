package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-livecam/internal/config"
)

func TestOrchestratorOptionsFromConfig(t *testing.T) {
	cfg := config.New("")
	cfg.Relay.ReconnectDelaySeconds = 7
	cfg.Retry.MaxAttempts = 4
	cfg.Retry.BackoffSeconds = 30

	opts := orchestratorOptions(cfg, slog.New(slog.DiscardHandler), nil, nil)

	if opts.CrashRestartDelay != 7*time.Second {
		t.Errorf("CrashRestartDelay = %v, want 7s", opts.CrashRestartDelay)
	}
	if opts.MaxRetryAttempts != 4 {
		t.Errorf("MaxRetryAttempts = %d, want 4", opts.MaxRetryAttempts)
	}
	if opts.RetryBackoff != 30*time.Second {
		t.Errorf("RetryBackoff = %v, want 30s", opts.RetryBackoff)
	}
	if opts.SourceWaitTimeout != cfg.SourceWaitTimeout() {
		t.Errorf("SourceWaitTimeout = %v, want %v", opts.SourceWaitTimeout, cfg.SourceWaitTimeout())
	}
}
