package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/vidyalabs/tutor-server/internal/domain"
	"github.com/vidyalabs/tutor-server/internal/store"
)

const wsSendTimeout = 5 * time.Second

// wsChannel adapts a websocket connection to the Channel interface.
type wsChannel struct {
	conn *websocket.Conn
}

func (c *wsChannel) Send(event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// The connection outlives any one turn, so writes use their own deadline
	// rather than the turn's context.
	ctx, cancel := context.WithTimeout(context.Background(), wsSendTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsChannel) Close(reason string) error {
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}

// WebSocketHandler upgrades client connections and binds them to the
// publisher for the lifetime of the socket.
type WebSocketHandler struct {
	sessions      store.SessionStore
	publisher     *Publisher
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a WebSocket stream handler.
func NewWebSocketHandler(sessions store.SessionStore, publisher *Publisher, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		sessions:      sessions,
		publisher:     publisher,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	if _, err := h.sessions.Get(r.Context(), sessionID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrExpired) {
			status = http.StatusNotFound
		}
		http.Error(w, "unknown session", status)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}

	ch := &wsChannel{conn: ws}
	h.publisher.Bind(sessionID, ch)
	defer h.publisher.Unbind(sessionID, ch)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "connection ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	// Read loop: the client only sends pings; anything else is ignored.
	// A read error means the socket is gone and the channel unbinds.
	for {
		_, message, err := ws.Read(r.Context())
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			pong, _ := json.Marshal(map[string]string{"type": "pong"})
			if err := ws.Write(r.Context(), websocket.MessageText, pong); err != nil {
				slog.Debug("Failed to send pong", "error", err, "session_id", sessionID)
			}
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
