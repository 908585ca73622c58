package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-same/collab-hub/internal/auth"
	"github.com/open-same/collab-hub/internal/ws"
)

// WebSocketHandler attaches authenticated clients to the hub.
type WebSocketHandler struct {
	wsHandler *ws.Handler
	log       *slog.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{wsHandler: wsHandler, log: logger}
}

// Attach handles GET /ws - upgrades the request and serves it until the
// client goes away.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		sendError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Identity is required")
		return
	}

	if err := h.wsHandler.HandleConnection(c.Writer, c.Request, identity); err != nil {
		// The upgrader has already written the HTTP error
		h.log.Debug("ws.upgrade_failed", "user_id", identity.UserID, "err", err)
		return
	}
}

// RegisterRoutes registers the WebSocket route on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ws", h.Attach)
}
