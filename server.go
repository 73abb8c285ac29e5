package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-livecam/internal/metrics"
	"github.com/oszuidwest/zwfm-livecam/internal/orchestrator"
	"github.com/oszuidwest/zwfm-livecam/internal/server"
)

// Server is the optional status HTTP server.
type Server struct {
	handler *server.Handler
	version *VersionChecker
	http    *http.Server
}

// NewServer returns a Server exposing the orchestrator status, the relay
// output and the Prometheus metrics.
func NewServer(orch *orchestrator.Orchestrator, relayLogs server.LogSource, met *metrics.Metrics, eventLogPath string, logger *slog.Logger) *Server {
	version := NewVersionChecker()
	return &Server{
		handler: server.NewHandler(orch, relayLogs, server.Options{
			EventLogPath: eventLogPath,
			Version:      version.Info,
			Metrics:      met.Handler(orch.UpdateMetrics),
			Logger:       logger,
		}),
		version: version,
	}
}

// Start begins serving on addr and starts the release check, both in the background.
func (s *Server) Start(addr string) {
	s.version.Start()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("status server listening", "addr", addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("status server error", "error", err)
		}
	}()
}

// Shutdown stops the version checker and gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.version.Stop()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
