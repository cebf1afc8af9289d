package ws

import (
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/remote-agent-terminal/dashsync/internal/command"
	"github.com/remote-agent-terminal/dashsync/internal/dispatch"
	"github.com/remote-agent-terminal/dashsync/internal/envelope"
	"github.com/remote-agent-terminal/dashsync/internal/model"
	"github.com/remote-agent-terminal/dashsync/internal/realtime"
	"github.com/remote-agent-terminal/dashsync/internal/session"
	"github.com/remote-agent-terminal/dashsync/internal/store"
)

// Topics used only between the service and browser clients.
const (
	TopicSnapshot     = "snapshot"
	TopicSessionState = "session_state"
	TopicAgentRemoved = "agent_removed"
	TopicIntent       = "intent"
	TopicShortcut     = "shortcut"
)

// IntentRequest is the payload of an intent envelope from a browser.
type IntentRequest struct {
	Intent command.Intent  `json:"intent"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// ShortcutRequest is the payload of a shortcut envelope from a browser.
type ShortcutRequest struct {
	Chord string `json:"chord"`
}

// Service keeps browser clients in sync with a realtime client. New
// browser connections receive a snapshot, then every change.
type Service struct {
	client  *realtime.Client
	hub     *Hub
	handler *Handler
	logger  *slog.Logger

	unsubscribe []dispatch.Unsubscribe
}

// NewService wires client to a new hub.
func NewService(client *realtime.Client, config HandlerConfig) *Service {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	hub := NewHub()
	s := &Service{
		client:  client,
		hub:     hub,
		handler: NewHandler(hub, config),
		logger:  config.Logger,
	}

	hub.SetOnRegister(func(c *Client) {
		s.sendTo(c, TopicSnapshot, client.Snapshot())
	})
	hub.SetOnMessage(s.handleMessage)
	hub.SetOnClose(func() {
		s.logger.Info("last browser disconnected", "session_state", client.Session().State())
	})

	stores := client.Stores()
	s.unsubscribe = append(s.unsubscribe,
		stores.Agents.Subscribe(func(c store.AgentChange) {
			if c.Kind == store.ChangeRemoved {
				s.broadcast(TopicAgentRemoved, map[string]string{"id": c.Agent.ID})
				return
			}
			s.broadcast(envelope.TopicAgentUpdate, c.Agent)
		}),
		stores.Telemetry.Subscribe(func(sample model.TelemetrySample) {
			s.broadcast(envelope.TopicTelemetry, sample)
		}),
		stores.Tasks.Subscribe(func(ev model.TaskEvent) {
			s.broadcast(envelope.TopicTaskUpdate, ev)
		}),
		client.Session().OnStateChange(func(session.Change) {
			s.broadcast(TopicSessionState, client.Session().Status())
		}),
		client.Subscribe(envelope.TopicError, func(env envelope.Envelope) {
			if err := s.hub.BroadcastEnvelope(env); err != nil {
				s.logger.Warn("failed to broadcast error", "error", err)
			}
		}),
	)
	return s
}

// Handler returns the HTTP handler for browser connections.
func (s *Service) Handler() *Handler {
	return s.handler
}

// Hub returns the hub of browser clients.
func (s *Service) Hub() *Hub {
	return s.hub
}

// ClientCount returns the number of connected browsers.
func (s *Service) ClientCount() int {
	return s.hub.ClientCount()
}

// handleMessage relays browser requests: intents and shortcuts go to the
// command bus, commands go to the backend.
func (s *Service) handleMessage(c *Client, env envelope.Envelope) {
	switch env.Topic() {
	case TopicIntent:
		var req IntentRequest
		if err := env.DecodePayload(&req); err != nil || req.Intent == "" {
			s.reject(c, env, "intent is required")
			return
		}
		var args any
		if len(req.Args) > 0 {
			args = req.Args
		}
		s.client.Commands().Emit(req.Intent, args)
	case TopicShortcut:
		var req ShortcutRequest
		if err := env.DecodePayload(&req); err != nil {
			s.reject(c, env, "chord is required")
			return
		}
		if !s.client.Commands().Trigger(req.Chord) {
			s.reject(c, env, "no binding for chord")
		}
	case envelope.TopicCommand:
		if err := s.client.Send(envelope.TopicCommand, env.Payload()); err != nil {
			s.reject(c, env, err.Error())
		}
	default:
		s.reject(c, env, "unsupported topic")
	}
}

func (s *Service) reject(c *Client, env envelope.Envelope, reason string) {
	s.sendTo(c, envelope.TopicError, envelope.Diagnostic{
		Kind:   envelope.DiagnosticHandler,
		Topic:  env.Topic(),
		Reason: reason,
	})
}

func (s *Service) broadcast(topic string, payload any) {
	if !s.hub.HasClients() {
		return
	}
	env, err := envelope.New(topic, payload, time.Now().UnixMilli())
	if err != nil {
		s.logger.Error("failed to build envelope", "topic", topic, "error", err)
		return
	}
	if err := s.hub.BroadcastEnvelope(env); err != nil {
		s.logger.Warn("failed to broadcast", "topic", topic, "error", err)
	}
}

func (s *Service) sendTo(c *Client, topic string, payload any) {
	env, err := envelope.New(topic, payload, time.Now().UnixMilli())
	if err != nil {
		s.logger.Error("failed to build envelope", "topic", topic, "error", err)
		return
	}
	c.SendEnvelope(env)
}

// Close disconnects every browser and stops listening to the client.
func (s *Service) Close() {
	for _, unsub := range s.unsubscribe {
		unsub()
	}
	s.hub.Close()
}
