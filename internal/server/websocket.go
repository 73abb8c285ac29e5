package server

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConn is the interface for WebSocket connection operations.
type WebSocketConn interface {
	io.Closer
	WriteJSON(v any) error
	ReadJSON(v any) error
}

var upgrader = websocket.Upgrader{
	CheckOrigin: checkOrigin,
}

// checkOrigin reports whether the WebSocket connection origin is allowed.
// Dashboards on the same host or on a private network are accepted.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// Same-origin requests omit the Origin header
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		slog.Warn("rejected WebSocket connection: invalid origin URL", "origin", origin)
		return false
	}
	host := u.Hostname()

	if host == "localhost" {
		return true
	}

	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if host == requestHost {
		return true
	}

	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}

	slog.Warn("rejected WebSocket connection", "origin", origin, "host", host)
	return false
}

// UpgradeConnection upgrades an HTTP connection to WebSocket.
func UpgradeConnection(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return upgrader.Upgrade(w, r, nil)
}

// handleWebSocket pushes status snapshots to the client until it disconnects.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := UpgradeConnection(w, r)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Only the writer goroutine writes to the connection.
	send := make(chan any, 4)
	done := make(chan struct{})

	go h.runWebSocketWriter(conn, send)
	go h.runWebSocketReader(conn, done)

	h.runWebSocketEventLoop(send, done)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (h *Handler) runWebSocketWriter(conn WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			h.logger.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runWebSocketReader drains client messages and closes done on disconnect.
func (h *Handler) runWebSocketReader(conn WebSocketConn, done chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
	}
}

// runWebSocketEventLoop sends a status snapshot immediately and then on
// every tick.
func (h *Handler) runWebSocketEventLoop(send chan any, done <-chan struct{}) {
	defer close(send)

	ticker := time.NewTicker(h.opts.PushInterval)
	defer ticker.Stop()

	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(h.statusResponse("status")) {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !trySend(h.statusResponse("status")) {
				return
			}
		}
	}
}
