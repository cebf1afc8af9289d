package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/dashsync/internal/command"
	"github.com/remote-agent-terminal/dashsync/internal/envelope"
	"github.com/remote-agent-terminal/dashsync/internal/realtime"
	"github.com/remote-agent-terminal/dashsync/internal/session"
)

// CommandHandler handles HTTP requests for the command bus.
type CommandHandler struct {
	client *realtime.Client
}

// NewCommandHandler creates a new CommandHandler.
func NewCommandHandler(client *realtime.Client) *CommandHandler {
	return &CommandHandler{client: client}
}

// EmitRequest represents the request body for emitting an intent.
type EmitRequest struct {
	Intent command.Intent  `json:"intent" binding:"required"`
	Args   json.RawMessage `json:"args"`
}

// EmitResponse reports how many handlers received an intent.
type EmitResponse struct {
	Intent   command.Intent `json:"intent"`
	Handlers int            `json:"handlers"`
}

// BindRequest represents the request body for binding a chord.
type BindRequest struct {
	Intent command.Intent `json:"intent" binding:"required"`
}

// SendRequest represents the request body for a raw outbound envelope.
type SendRequest struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Bindings handles GET /api/commands - lists the shortcut bindings.
func (h *CommandHandler) Bindings(c *gin.Context) {
	c.JSON(http.StatusOK, h.client.Commands().Bindings())
}

// Emit handles POST /api/commands - emits an intent on the bus.
func (h *CommandHandler) Emit(c *gin.Context) {
	var req EmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, CodeValidation, "Invalid request body: "+err.Error())
		return
	}

	var args any
	if len(req.Args) > 0 {
		args = req.Args
	}
	n := h.client.Commands().Emit(req.Intent, args)
	c.JSON(http.StatusAccepted, EmitResponse{Intent: req.Intent, Handlers: n})
}

// Trigger handles POST /api/shortcuts/:chord - fires the intent bound to
// a chord.
func (h *CommandHandler) Trigger(c *gin.Context) {
	chord, ok := h.chord(c)
	if !ok {
		return
	}
	if !h.client.Commands().Trigger(chord) {
		sendError(c, http.StatusNotFound, CodeBindingNotFound, "No binding for "+chord)
		return
	}
	c.Status(http.StatusAccepted)
}

// Bind handles PUT /api/shortcuts/:chord - binds a chord to an intent.
func (h *CommandHandler) Bind(c *gin.Context) {
	chord, ok := h.chord(c)
	if !ok {
		return
	}
	var req BindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, CodeValidation, "Invalid request body: "+err.Error())
		return
	}
	if err := h.client.Commands().Bind(chord, req.Intent); err != nil {
		sendError(c, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	c.JSON(http.StatusOK, command.Binding{Chord: chord, Intent: req.Intent})
}

// Unbind handles DELETE /api/shortcuts/:chord - removes a binding.
func (h *CommandHandler) Unbind(c *gin.Context) {
	chord, ok := h.chord(c)
	if !ok {
		return
	}
	if !h.client.Commands().Unbind(chord) {
		sendError(c, http.StatusNotFound, CodeBindingNotFound, "No binding for "+chord)
		return
	}
	c.Status(http.StatusNoContent)
}

// Send handles POST /api/send - sends an envelope to the backend. It is
// queued while the connection is down.
func (h *CommandHandler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, CodeValidation, "Invalid request body: "+err.Error())
		return
	}
	if req.Topic == "" {
		req.Topic = envelope.TopicCommand
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	if err := h.client.Send(req.Topic, payload); err != nil {
		if errors.Is(err, session.ErrClosed) {
			sendError(c, http.StatusConflict, CodeSessionClosed, "Session is closed")
			return
		}
		sendError(c, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	c.JSON(http.StatusAccepted, h.client.Session().Status())
}

// chord normalizes the :chord parameter, replying 400 when it is invalid.
func (h *CommandHandler) chord(c *gin.Context) (string, bool) {
	chord, err := command.NormalizeChord(c.Param("chord"))
	if err != nil {
		sendError(c, http.StatusBadRequest, CodeValidation, err.Error())
		return "", false
	}
	return chord, true
}

// RegisterRoutes registers the command handler routes on a Gin router group.
func (h *CommandHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/commands", h.Bindings)
	rg.POST("/commands", h.Emit)
	rg.POST("/send", h.Send)

	shortcuts := rg.Group("/shortcuts")
	{
		shortcuts.POST("/:chord", h.Trigger)
		shortcuts.PUT("/:chord", h.Bind)
		shortcuts.DELETE("/:chord", h.Unbind)
	}
}
