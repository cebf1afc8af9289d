package handlers

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/dashsync/internal/realtime"
	"github.com/remote-agent-terminal/dashsync/internal/session"
)

// SessionHandler handles HTTP requests for the backend connection.
type SessionHandler struct {
	client        *realtime.Client
	recordingPath string
}

// NewSessionHandler creates a new SessionHandler. recordingPath is the
// frame transcript served for download; empty means none.
func NewSessionHandler(client *realtime.Client, recordingPath string) *SessionHandler {
	return &SessionHandler{
		client:        client,
		recordingPath: recordingPath,
	}
}

// Status handles GET /api/session - returns the connection status.
func (h *SessionHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.client.Session().Status())
}

// Connect handles POST /api/session/connect - opens the connection. It
// also restarts a session that gave up reconnecting.
func (h *SessionHandler) Connect(c *gin.Context) {
	if err := h.client.Connect(); err != nil {
		if errors.Is(err, session.ErrClosed) {
			sendError(c, http.StatusConflict, CodeSessionClosed, "Session is closed")
			return
		}
		sendError(c, http.StatusInternalServerError, CodeInternal, "Failed to connect: "+err.Error())
		return
	}
	c.JSON(http.StatusAccepted, h.client.Session().Status())
}

// Disconnect handles POST /api/session/disconnect - closes the connection
// and cancels any pending reconnect.
func (h *SessionHandler) Disconnect(c *gin.Context) {
	h.client.Disconnect()
	c.JSON(http.StatusOK, h.client.Session().Status())
}

// Snapshot handles GET /api/snapshot - returns everything a UI renders.
func (h *SessionHandler) Snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.client.Snapshot())
}

// Recording handles GET /api/session/recording - downloads the frame
// transcript.
func (h *SessionHandler) Recording(c *gin.Context) {
	if h.recordingPath == "" {
		sendError(c, http.StatusNotFound, CodeNotRecording, "Frame recording is disabled")
		return
	}

	c.Header("Content-Type", "application/x-asciicast")
	c.Header("Content-Disposition", "attachment; filename="+filepath.Base(h.recordingPath))
	c.File(h.recordingPath)
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sess := rg.Group("/session")
	{
		sess.GET("", h.Status)
		sess.POST("/connect", h.Connect)
		sess.POST("/disconnect", h.Disconnect)
		sess.GET("/recording", h.Recording)
	}
	rg.GET("/snapshot", h.Snapshot)
}
