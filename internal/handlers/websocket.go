package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/middleware"
	"github.com/nikhil/projectdesk/internal/realtime"
	"github.com/nikhil/projectdesk/internal/response"
)

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub      *realtime.Hub
	upgrader websocket.Upgrader
	log      *logger.Logger
}

// NewWebSocketHandler creates a handler that only accepts browser
// connections from the allowed origins. "*" allows any origin.
func NewWebSocketHandler(hub *realtime.Hub, origins []string) *WebSocketHandler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
		log: logger.NewLogger("websocket"),
	}
}

// HandleWebSocket upgrades an authenticated request and attaches it to the hub.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		response.WithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	// Upgrade writes its own error response on failure.
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithContext(r.Context()).Warn("Error upgrading connection", "error", err)
		return
	}
	h.hub.Attach(conn, claims)
}
