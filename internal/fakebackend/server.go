// Package fakebackend is a synthetic agent backend. It accepts websocket
// connections and broadcasts made-up agent, telemetry and task traffic so
// the client can be run without the real service.
package fakebackend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/remote-agent-terminal/dashsync/internal/envelope"
	"github.com/remote-agent-terminal/dashsync/internal/model"
	"github.com/remote-agent-terminal/dashsync/internal/ws"
)

// Task lifecycle statuses emitted by the backend.
const (
	TaskQueued    = "queued"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// Config holds configuration for a Server.
type Config struct {
	// Interval between generated rounds. Zero disables the generator
	// loop; Tick can still be called directly.
	Interval time.Duration

	// Agents is the number of synthetic agents.
	Agents int

	// Seed makes the generated traffic reproducible.
	Seed uint64

	Logger *slog.Logger
}

type task struct {
	id      string
	agentID string
	status  string
}

// Server broadcasts synthetic traffic to every connected client.
type Server struct {
	config  Config
	hub     *ws.Hub
	handler *ws.Handler
	logger  *slog.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	agents []model.Agent
	tasks  []*task
	round  int
}

// New creates a Server. Call Run to start the generator.
func New(config Config) *Server {
	if config.Agents <= 0 {
		config.Agents = 3
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	hub := ws.NewHub()
	s := &Server{
		config:  config,
		hub:     hub,
		handler: ws.NewHandler(hub, ws.HandlerConfig{Logger: config.Logger}),
		logger:  config.Logger,
		rng:     rand.New(rand.NewPCG(config.Seed, config.Seed^0x9e3779b97f4a7c15)),
	}
	for i := range config.Agents {
		s.agents = append(s.agents, model.Agent{
			ID:     fmt.Sprintf("agent-%d", i+1),
			Status: model.AgentStatusIdle,
		})
	}
	hub.SetOnMessage(s.handleMessage)
	return s
}

// Handler returns the router: GET /ws for the stream, POST /drop to cut
// every connection, GET /health.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.hub.ClientCount()})
	})
	r.GET("/ws", gin.WrapH(s.handler))
	r.POST("/drop", func(c *gin.Context) {
		n := s.Drop()
		c.JSON(http.StatusOK, gin.H{"dropped": n})
	})
	return r
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// Drop closes every client connection and returns how many were closed.
func (s *Server) Drop() int {
	n := s.hub.ClientCount()
	s.hub.Close()
	s.logger.Info("dropped clients", "count", n)
	return n
}

// Run generates a round every Interval until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	if s.config.Interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick generates and broadcasts one round of traffic: an agent_update per
// agent, one telemetry sample and, every few rounds, task progress.
func (s *Server) Tick() {
	s.mu.Lock()
	s.round++
	now := time.Now().UnixMilli()

	var frames []envelope.Envelope
	var total model.Metrics
	for i := range s.agents {
		a := &s.agents[i]
		s.stepAgentLocked(a)
		total.CPU += a.Metrics.CPU
		total.Memory += a.Metrics.Memory
		total.GPU += a.Metrics.GPU
		frames = s.appendLocked(frames, envelope.TopicAgentUpdate, agentPayload(*a), now)
	}

	n := float64(len(s.agents))
	frames = s.appendLocked(frames, envelope.TopicTelemetry, model.TelemetrySample{
		Timestamp: now,
		CPU:       total.CPU / n,
		Memory:    total.Memory / n,
		GPU:       total.GPU / n,
	}, now)

	if s.round%3 == 0 {
		frames = s.stepTasksLocked(frames, now)
	}
	s.mu.Unlock()

	for _, env := range frames {
		if err := s.hub.BroadcastEnvelope(env); err != nil {
			s.logger.Warn("failed to broadcast", "topic", env.Topic(), "error", err)
		}
	}
}

func (s *Server) stepAgentLocked(a *model.Agent) {
	a.Metrics.CPU = walk(s.rng, a.Metrics.CPU, 15)
	a.Metrics.Memory = walk(s.rng, a.Metrics.Memory, 5)
	a.Metrics.GPU = walk(s.rng, a.Metrics.GPU, 10)

	switch p := s.rng.Float64(); {
	case p < 0.05:
		a.Status = model.AgentStatusError
		a.Error = "synthetic failure"
	case p < 0.4:
		a.Status = model.AgentStatusRunning
		a.Error = ""
	case p < 0.6:
		a.Status = model.AgentStatusIdle
		a.Error = ""
	}
}

// stepTasksLocked advances every live task one status and starts a new one.
func (s *Server) stepTasksLocked(frames []envelope.Envelope, now int64) []envelope.Envelope {
	live := s.tasks[:0]
	for _, t := range s.tasks {
		switch t.status {
		case TaskQueued:
			t.status = TaskRunning
		case TaskRunning:
			t.status = TaskCompleted
			if s.rng.Float64() < 0.1 {
				t.status = TaskFailed
			}
		}
		frames = s.appendLocked(frames, envelope.TopicTaskUpdate, taskPayload(t, now), now)
		if t.status == TaskQueued || t.status == TaskRunning {
			live = append(live, t)
		}
	}
	s.tasks = live

	agent := s.agents[s.rng.IntN(len(s.agents))]
	t := &task{id: uuid.New().String(), agentID: agent.ID, status: TaskQueued}
	s.tasks = append(s.tasks, t)
	return s.appendLocked(frames, envelope.TopicTaskUpdate, taskPayload(t, now), now)
}

func (s *Server) appendLocked(frames []envelope.Envelope, topic string, payload any, now int64) []envelope.Envelope {
	env, err := envelope.New(topic, payload, now)
	if err != nil {
		s.logger.Error("failed to build envelope", "topic", topic, "error", err)
		return frames
	}
	return append(frames, env)
}

// command is the subset of an inbound cmd payload the backend reads.
type command struct {
	Intent string `json:"intent"`
	Action string `json:"action"`
}

func (c command) name() string {
	if c.Intent != "" {
		return c.Intent
	}
	return c.Action
}

// handleMessage answers ping commands with pong and turns every other
// command into a queued task.
func (s *Server) handleMessage(c *ws.Client, env envelope.Envelope) {
	now := time.Now().UnixMilli()
	if env.Topic() != envelope.TopicCommand {
		s.reply(c, envelope.TopicError, envelope.Diagnostic{
			Kind:   envelope.DiagnosticRemote,
			Topic:  env.Topic(),
			Reason: "unsupported topic",
		}, now)
		return
	}

	var cmd command
	if err := env.DecodePayload(&cmd); err != nil || cmd.name() == "" {
		s.reply(c, envelope.TopicError, envelope.Diagnostic{
			Kind:   envelope.DiagnosticRemote,
			Topic:  env.Topic(),
			Reason: "command name is required",
		}, now)
		return
	}

	s.logger.Debug("command received", "client_id", c.ID(), "command", cmd.name())
	if cmd.name() == ws.TopicPing {
		s.reply(c, ws.TopicPong, map[string]int64{"timestamp": env.Timestamp()}, now)
		return
	}

	s.mu.Lock()
	agent := s.agents[s.rng.IntN(len(s.agents))]
	t := &task{id: uuid.New().String(), agentID: agent.ID, status: TaskQueued}
	s.tasks = append(s.tasks, t)
	payload := taskPayload(t, now)
	s.mu.Unlock()

	payload.Message = cmd.name()
	frame, err := envelope.New(envelope.TopicTaskUpdate, payload, now)
	if err != nil {
		s.logger.Error("failed to build envelope", "error", err)
		return
	}
	if err := s.hub.BroadcastEnvelope(frame); err != nil {
		s.logger.Warn("failed to broadcast", "error", err)
	}
}

func (s *Server) reply(c *ws.Client, topic string, payload any, now int64) {
	env, err := envelope.New(topic, payload, now)
	if err != nil {
		s.logger.Error("failed to build reply", "topic", topic, "error", err)
		return
	}
	c.SendEnvelope(env)
}

// Close disconnects every client.
func (s *Server) Close() {
	s.hub.Close()
}

func agentPayload(a model.Agent) model.AgentUpdate {
	status := a.Status
	metrics := a.Metrics
	u := model.AgentUpdate{
		ID:     a.ID,
		Status: &status,
		Metrics: &model.MetricsUpdate{
			CPU:    &metrics.CPU,
			Memory: &metrics.Memory,
			GPU:    &metrics.GPU,
		},
	}
	if a.Error != "" {
		msg := a.Error
		u.Error = &msg
	}
	return u
}

func taskPayload(t *task, now int64) model.TaskEvent {
	return model.TaskEvent{
		ID:        t.id,
		AgentID:   t.agentID,
		Status:    t.status,
		Timestamp: now,
	}
}

// walk moves v by up to step in either direction, kept in [0,100].
func walk(rng *rand.Rand, v, step float64) float64 {
	return model.ClampPercent(v + (rng.Float64()*2-1)*step)
}
