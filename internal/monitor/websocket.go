package monitor

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

const writeTimeout = 5 * time.Second

// hello is the first frame sent to a subscriber.
type hello struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// WebSocketHandler streams hub events to WebSocket clients.
type WebSocketHandler struct {
	hub            *Hub
	originPatterns []string
	logger         *slog.Logger
}

// NewWebSocketHandler creates a handler. originPatterns follow
// websocket.AcceptOptions; an empty list allows any origin.
func NewWebSocketHandler(hub *Hub, originPatterns []string, logger *slog.Logger) *WebSocketHandler {
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{hub: hub, originPatterns: originPatterns, logger: logger}
}

// RegisterRoutes registers the live feed route.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/sessions/{sessionID}", h.ServeHTTP)
}

// ServeHTTP upgrades the connection and forwards events until either side
// goes away.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	sub := h.hub.Subscribe(sessionID)
	defer h.hub.Unsubscribe(sub)

	h.logger.Info("Monitor subscriber connected", "session_id", sessionID, "ip", r.RemoteAddr)

	// The feed is one-way; CloseRead handles control frames and cancels ctx
	// when the client goes away.
	ctx := ws.CloseRead(r.Context())

	if err := h.write(ctx, ws, hello{Type: "subscribed", SessionID: sessionID}); err != nil {
		return
	}
	h.outputLoop(ctx, ws, sub)
}

func (h *WebSocketHandler) outputLoop(ctx context.Context, ws *websocket.Conn, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("Monitor subscriber disconnected", "session_id", sub.SessionID)
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := h.write(ctx, ws, ev); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, ws, v); err != nil {
		if ctx.Err() == nil {
			h.logger.Debug("WebSocket write error", "error", err)
		}
		return err
	}
	return nil
}
