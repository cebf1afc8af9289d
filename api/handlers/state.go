package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/dashsync/internal/model"
	"github.com/remote-agent-terminal/dashsync/internal/store"
)

// TaskHistory reads persisted task events.
type TaskHistory interface {
	List(ctx context.Context, limit int) ([]model.TaskEvent, error)
	ListByAgent(ctx context.Context, agentID string, limit int) ([]model.TaskEvent, error)
	History(ctx context.Context, taskID string) ([]model.TaskEvent, error)
}

// defaultTaskLimit bounds history queries without an explicit limit.
const defaultTaskLimit = 100

// StateHandler serves the contents of the stores.
type StateHandler struct {
	stores  *store.Stores
	history TaskHistory
}

// NewStateHandler creates a new StateHandler. history may be nil when
// persistence is disabled.
func NewStateHandler(stores *store.Stores, history TaskHistory) *StateHandler {
	return &StateHandler{
		stores:  stores,
		history: history,
	}
}

// ListAgents handles GET /api/agents - lists every known agent.
func (h *StateHandler) ListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, h.stores.Agents.Snapshot())
}

// GetAgent handles GET /api/agents/:id - gets one agent.
func (h *StateHandler) GetAgent(c *gin.Context) {
	id := c.Param("id")
	agent, ok := h.stores.Agents.Get(id)
	if !ok {
		sendError(c, http.StatusNotFound, CodeAgentNotFound, "Agent "+id+" not found")
		return
	}
	c.JSON(http.StatusOK, agent)
}

// DeleteAgent handles DELETE /api/agents/:id - removes an agent from the
// registry.
func (h *StateHandler) DeleteAgent(c *gin.Context) {
	id := c.Param("id")
	if err := h.stores.Agents.Remove(id); err != nil {
		if errors.Is(err, model.ErrAgentNotFound) {
			sendError(c, http.StatusNotFound, CodeAgentNotFound, "Agent "+id+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, CodeInternal, "Failed to remove agent: "+err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// Telemetry handles GET /api/telemetry - returns the retained samples,
// oldest first. ?latest=true returns only the newest one.
func (h *StateHandler) Telemetry(c *gin.Context) {
	if c.Query("latest") == "true" {
		sample, ok := h.stores.Telemetry.Latest()
		if !ok {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, sample)
		return
	}

	samples := h.stores.Telemetry.Snapshot()
	if samples == nil {
		samples = []model.TelemetrySample{}
	}
	c.JSON(http.StatusOK, samples)
}

// Tasks handles GET /api/tasks - returns the task feed. Query parameters:
// agentId filters by agent, source=db reads the persisted history, taskId
// (with source=db) returns one task's events and limit bounds the result.
func (h *StateHandler) Tasks(c *gin.Context) {
	agentID := c.Query("agentId")

	if c.Query("source") != "db" {
		var events []model.TaskEvent
		if agentID != "" {
			events = h.stores.Tasks.ForAgent(agentID)
		} else {
			events = h.stores.Tasks.Snapshot()
		}
		if events == nil {
			events = []model.TaskEvent{}
		}
		c.JSON(http.StatusOK, events)
		return
	}

	if h.history == nil {
		sendError(c, http.StatusNotFound, CodeHistoryDisabled, "Task history is not persisted")
		return
	}

	limit := defaultTaskLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			sendError(c, http.StatusBadRequest, CodeValidation, "Invalid limit: "+raw)
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	var (
		events []model.TaskEvent
		err    error
	)
	switch taskID := c.Query("taskId"); {
	case taskID != "":
		events, err = h.history.History(ctx, taskID)
	case agentID != "":
		events, err = h.history.ListByAgent(ctx, agentID, limit)
	default:
		events, err = h.history.List(ctx, limit)
	}
	if err != nil {
		sendError(c, http.StatusInternalServerError, CodeInternal, "Failed to read task history: "+err.Error())
		return
	}
	if events == nil {
		events = []model.TaskEvent{}
	}
	c.JSON(http.StatusOK, events)
}

// RegisterRoutes registers the state handler routes on a Gin router group.
func (h *StateHandler) RegisterRoutes(rg *gin.RouterGroup) {
	agents := rg.Group("/agents")
	{
		agents.GET("", h.ListAgents)
		agents.GET("/:id", h.GetAgent)
		agents.DELETE("/:id", h.DeleteAgent)
	}
	rg.GET("/telemetry", h.Telemetry)
	rg.GET("/tasks", h.Tasks)
}
