package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/dashsync/internal/ws"
)

// WebSocketHandler handles browser WebSocket connections.
type WebSocketHandler struct {
	service *ws.Service
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(service *ws.Service) *WebSocketHandler {
	return &WebSocketHandler{service: service}
}

// Stream handles WS /api/stream - sends a snapshot, then every change.
func (h *WebSocketHandler) Stream(c *gin.Context) {
	// The handler writes its own HTTP error on a failed upgrade.
	h.service.Handler().ServeHTTP(c.Writer, c.Request)
}

// RegisterRoutes registers the WebSocket routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/stream", h.Stream)
}
