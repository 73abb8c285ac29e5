// Package main provides a service that relays an RTSP camera feed to YouTube
// Live and rotates the broadcast before it reaches the platform's length limit.
//
// Usage:
//
//	livecam [-config path/to/config.json] [-env .env] [-check-source] [-test-notify]
//
// If -config is not specified, livecam looks for config.json in the same
// directory as the binary. Environment variables override the file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-livecam/internal/broadcast"
	"github.com/oszuidwest/zwfm-livecam/internal/config"
	"github.com/oszuidwest/zwfm-livecam/internal/eventlog"
	"github.com/oszuidwest/zwfm-livecam/internal/metrics"
	"github.com/oszuidwest/zwfm-livecam/internal/notify"
	"github.com/oszuidwest/zwfm-livecam/internal/orchestrator"
	"github.com/oszuidwest/zwfm-livecam/internal/relay"
	"github.com/oszuidwest/zwfm-livecam/internal/scheduler"
	"github.com/oszuidwest/zwfm-livecam/internal/session"
	"github.com/oszuidwest/zwfm-livecam/internal/util"
	"github.com/oszuidwest/zwfm-livecam/internal/youtube"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	envFile := flag.String("env", ".env", "Path to .env file (optional)")
	checkSource := flag.Bool("check-source", false, "Probe the camera feed once and exit")
	testNotify := flag.Bool("test-notify", false, "Send a test notification to every configured channel and exit")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("livecam %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.System.LogLevel, cfg.System.LogFormat)
	slog.SetDefault(logger)
	slog.Info("starting livecam", "version", Version, "config", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), util.ShutdownSignals()...)
	defer stop()

	dispatcher := notify.NewDispatcher(notify.Config{
		WebhookURL: cfg.Notifications.Webhook.URL,
		Graph:      cfg.Notifications.Email,
		Zabbix:     cfg.Notifications.Zabbix,
	})

	if *testNotify {
		os.Exit(runTestNotify(ctx, dispatcher))
	}

	ffmpegPath, err := util.ResolveFFmpegPath(cfg.Relay.FFmpegPath)
	if err != nil {
		slog.Error("cannot run relay", "error", err)
		os.Exit(1)
	}
	slog.Info("FFmpeg found", "path", ffmpegPath)

	sup := relay.New(relay.Options{
		FFmpegPath:     ffmpegPath,
		SourceURL:      cfg.Source.URL,
		Transport:      cfg.Source.Transport,
		ReconnectDelay: cfg.ReconnectDelay(),
		Logger:         logger,
	})

	if *checkSource {
		os.Exit(runCheckSource(ctx, sup, cfg))
	}

	if err := util.CheckPathWritable(cfg.Storage.DataDir); err != nil {
		slog.Error("data directory is not usable", "path", cfg.Storage.DataDir, "error", err)
		os.Exit(1)
	}

	met := metrics.New()

	events, err := eventlog.NewLogger(cfg.EventLogPath())
	if err != nil {
		slog.Warn("event log disabled", "path", cfg.EventLogPath(), "error", err)
	}

	yt := youtube.NewClient(youtube.Config{
		ClientID:     cfg.YouTube.ClientID,
		ClientSecret: cfg.YouTube.ClientSecret,
		RefreshToken: cfg.YouTube.RefreshToken,
		Tokens:       youtube.NewTokenStore(cfg.TokenPath()),
		Logger:       logger,
	})
	lifecycle := broadcast.NewClient(yt, broadcast.Options{
		OnAttempt: met.ObserveAPICall,
		Logger:    logger,
	})

	sched := scheduler.New(scheduler.Options{
		Duration:      cfg.BroadcastDuration(),
		TitleTemplate: cfg.Broadcast.TitleTemplate,
		Location:      cfg.Location(),
		Logger:        logger,
	})

	orch := orchestrator.New(sup, sched, lifecycle, newSessionStore(cfg), dispatcher,
		orchestratorOptions(cfg, logger, events, met))

	var srv *Server
	if cfg.System.StatusAddr != "" {
		srv = NewServer(orch, sup, met, cfg.EventLogPath(), logger)
		srv.Start(cfg.System.StatusAddr)
	}

	runErr := orch.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
		cancel()
	}

	dispatcher.Wait()
	if err := events.Close(); err != nil {
		slog.Warn("failed to close event log", "error", err)
	}

	if runErr != nil {
		slog.Error("livecam stopped with error", "error", runErr)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// newLogger returns a structured logger with the given level and format.
func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// orchestratorOptions maps the configuration onto the orchestrator's timing
// and retry settings.
func orchestratorOptions(cfg *config.Config, logger *slog.Logger, events *eventlog.Logger, met *metrics.Metrics) orchestrator.Options {
	return orchestrator.Options{
		Description:        cfg.Broadcast.Description,
		Privacy:            cfg.Broadcast.Privacy,
		Transport:          cfg.Source.Transport,
		MaxRetryAttempts:   cfg.Retry.MaxAttempts,
		RetryBackoff:       cfg.RetryBackoff(),
		StandbyInterval:    cfg.StandbyInterval(),
		SourceWaitTimeout:  cfg.SourceWaitTimeout(),
		SourceProbeTimeout: cfg.ProbeTimeout(),
		CrashRestartDelay:  cfg.ReconnectDelay(),
		Logger:             logger,
		Events:             events,
		Metrics:            met,
	}
}

// newSessionStore returns the S3 store when a bucket is configured and the
// local file store otherwise.
func newSessionStore(cfg *config.Config) session.Store {
	if cfg.HasS3() {
		s3cfg := session.S3Config(cfg.Storage.S3)
		slog.Info("persisting session in S3", "bucket", s3cfg.Bucket, "key", s3cfg.Key)
		return session.NewS3Store(session.NewS3Client(s3cfg), s3cfg.Bucket, s3cfg.Key)
	}
	return session.NewFileStore(cfg.SessionPath())
}

// runCheckSource probes the camera feed once and returns the exit code.
func runCheckSource(ctx context.Context, sup *relay.Supervisor, cfg *config.Config) int {
	slog.Info("checking source", "url", util.MaskURL(cfg.Source.URL), "transport", cfg.Source.Transport)
	res := sup.ProbeSource(ctx, cfg.ProbeTimeout(), cfg.Source.Transport)
	if !res.Available {
		slog.Error("source is not available", "elapsed", util.FormatDuration(res.Elapsed), "output", res.Output)
		return 1
	}
	slog.Info("source is available", "elapsed", res.Elapsed.Round(time.Millisecond))
	return 0
}

// runTestNotify sends a test event to every configured sink and returns the
// exit code.
func runTestNotify(ctx context.Context, d *notify.Dispatcher) int {
	if !d.Enabled() {
		slog.Error("no notification channels configured")
		return 1
	}
	if err := d.Test(ctx); err != nil {
		slog.Error("test notification failed", "error", err)
		return 1
	}
	slog.Info("test notification sent")
	return 0
}
