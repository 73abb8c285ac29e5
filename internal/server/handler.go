// Package server provides the status HTTP API and WebSocket feed.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oszuidwest/zwfm-livecam/internal/eventlog"
	"github.com/oszuidwest/zwfm-livecam/internal/orchestrator"
	"github.com/oszuidwest/zwfm-livecam/internal/types"
)

// Default values for the status API.
const (
	DefaultPushInterval = 3000 * time.Millisecond
	DefaultEventLimit   = 50
	DefaultLogLines     = 100
	maxLogLines         = 1000
)

// StatusSource provides orchestrator snapshots.
type StatusSource interface {
	Status() orchestrator.Status
}

// LogSource provides the relay output tail.
type LogSource interface {
	Logs(lines int) string
}

// Options configures a Handler.
type Options struct {
	// EventLogPath is the event log read by /api/events. Empty disables it.
	EventLogPath string
	// Version returns build and release information.
	Version func() types.VersionInfo
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// PushInterval is the WebSocket status interval.
	PushInterval time.Duration
	Logger       *slog.Logger
}

// Handler serves the status API.
type Handler struct {
	status    StatusSource
	relayLogs LogSource
	opts      Options
	logger    *slog.Logger
}

// StatusResponse is the body of /api/status and of WebSocket pushes.
type StatusResponse struct {
	Type string `json:"type,omitempty"`
	orchestrator.Status
	Version types.VersionInfo `json:"version"`
}

// EventsResponse is the body of /api/events.
type EventsResponse struct {
	Events  []eventlog.Event `json:"events"`
	HasMore bool             `json:"has_more"`
}

// NewHandler returns a Handler for the given sources.
func NewHandler(status StatusSource, relayLogs LogSource, opts Options) *Handler {
	if opts.PushInterval <= 0 {
		opts.PushInterval = DefaultPushInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		status:    status,
		relayLogs: relayLogs,
		opts:      opts,
		logger:    opts.Logger.With("component", "server"),
	}
}

// Routes returns an [http.Handler] configured with all status routes.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(securityHeaders)
	r.Use(requestLogger(h.logger))

	r.Get("/healthz", h.handleHealth)
	r.Get("/api/status", h.handleStatus)
	r.Get("/api/events", h.handleEvents)
	r.Get("/api/relay/logs", h.handleRelayLogs)
	r.Get("/ws", h.handleWebSocket)
	if h.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.opts.Metrics)
	}
	return r
}

func (h *Handler) statusResponse(typ string) StatusResponse {
	resp := StatusResponse{Type: typ, Status: h.status.Status()}
	if h.opts.Version != nil {
		resp.Version = h.opts.Version()
	}
	return resp
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.statusResponse(""))
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.opts.EventLogPath == "" {
		writeError(w, http.StatusNotFound, "event log is disabled")
		return
	}

	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), DefaultEventLimit)
	if err != nil || limit < 1 || limit > eventlog.MaxReadLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(eventlog.MaxReadLimit))
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	filter, err := eventlog.ParseFilter(q.Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, more, err := eventlog.ReadLast(h.opts.EventLogPath, limit, offset, filter)
	if err != nil {
		h.logger.Error("failed to read event log", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read event log")
		return
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: events, HasMore: more})
}

func (h *Handler) handleRelayLogs(w http.ResponseWriter, r *http.Request) {
	lines, err := queryInt(r.URL.Query().Get("lines"), DefaultLogLines)
	if err != nil || lines < 1 {
		writeError(w, http.StatusBadRequest, "lines must be a positive integer")
		return
	}
	lines = min(lines, maxLogLines)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(h.relayLogs.Logs(lines))); err != nil {
		h.logger.Debug("failed to write relay logs", "error", err)
	}
}

func queryInt(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
