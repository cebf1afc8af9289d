// Package realtime composes the session, the inbound dispatcher, the
// stores and the command bus into the client that UI code talks to.
package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/remote-agent-terminal/dashsync/internal/clock"
	"github.com/remote-agent-terminal/dashsync/internal/command"
	"github.com/remote-agent-terminal/dashsync/internal/dispatch"
	"github.com/remote-agent-terminal/dashsync/internal/envelope"
	"github.com/remote-agent-terminal/dashsync/internal/model"
	"github.com/remote-agent-terminal/dashsync/internal/session"
	"github.com/remote-agent-terminal/dashsync/internal/store"
	"github.com/remote-agent-terminal/dashsync/internal/transport"
)

// historyTimeout bounds one write to the task history.
const historyTimeout = 5 * time.Second

// TaskHistory persists task events.
type TaskHistory interface {
	Append(ctx context.Context, ev model.TaskEvent) error
}

// Config holds configuration for a Client.
type Config struct {
	// Session configures the connection. Its OnMessage is owned by the
	// Client and is overwritten.
	Session session.Config
	Stores  store.Config

	// History, when set, receives every applied task event.
	History TaskHistory

	// Shortcuts are bound on the command bus at construction.
	Shortcuts map[string]command.Intent

	// Forward lists intents relayed to the backend on CommandTopic.
	Forward      []command.Intent
	CommandTopic string

	Logger *slog.Logger
}

// Client is a realtime dashboard client.
type Client struct {
	session *session.Manager
	inbound *dispatch.Dispatcher[string, envelope.Envelope]
	stores  *store.Stores
	bus     *command.Bus
	history TaskHistory
	clock   clock.Clock
	logger  *slog.Logger

	diagnostics  atomic.Uint64
	remoteErrors atomic.Uint64
	unsubscribe  []dispatch.Unsubscribe
}

// New creates a Client. The connection is not opened until Connect or Run.
func New(dialer transport.Dialer, config Config) (*Client, error) {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.Session.Clock == nil {
		config.Session.Clock = clock.Real()
	}
	if config.Session.Logger == nil {
		config.Session.Logger = config.Logger
	}
	if config.Stores.Logger == nil {
		config.Stores.Logger = config.Logger
	}
	if config.CommandTopic == "" {
		config.CommandTopic = envelope.TopicCommand
	}

	c := &Client{
		inbound: dispatch.New[string, envelope.Envelope](),
		stores:  store.New(config.Stores),
		bus:     command.NewBus(config.Logger),
		history: config.History,
		clock:   config.Session.Clock,
		logger:  config.Logger,
	}
	c.inbound.SetPanicHandler(c.handlerPanicked)

	onFailure := config.Session.OnFailure
	config.Session.OnMessage = c.handleFrame
	config.Session.OnFailure = func(err error) {
		c.logger.Error("realtime session gave up", "error", err)
		if onFailure != nil {
			onFailure(err)
		}
	}
	c.session = session.NewManager(dialer, config.Session)

	c.unsubscribe = append(c.unsubscribe,
		c.inbound.Subscribe(envelope.TopicAgentUpdate,
			envelope.Handle(c.applyAgentUpdate, c.payloadError)),
		c.inbound.Subscribe(envelope.TopicTelemetry,
			envelope.Handle(c.applyTelemetry, c.payloadError)),
		c.inbound.Subscribe(envelope.TopicTaskUpdate,
			envelope.Handle(c.applyTaskUpdate, c.payloadError)),
	)

	var errs []error
	for chord, intent := range config.Shortcuts {
		if err := c.bus.Bind(chord, intent); err != nil {
			errs = append(errs, err)
		}
	}
	for _, intent := range config.Forward {
		c.unsubscribe = append(c.unsubscribe,
			command.Forward(c.bus, intent, c.session, config.CommandTopic))
	}
	if err := errors.Join(errs...); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Session returns the underlying session manager.
func (c *Client) Session() *session.Manager { return c.session }

// Stores returns the state caches.
func (c *Client) Stores() *store.Stores { return c.stores }

// Commands returns the local command bus.
func (c *Client) Commands() *command.Bus { return c.bus }

// Connect opens the connection.
func (c *Client) Connect() error { return c.session.Connect() }

// Disconnect closes the connection until the next Connect.
func (c *Client) Disconnect() { c.session.Disconnect() }

// Run connects and blocks until ctx is done or the session fails.
func (c *Client) Run(ctx context.Context) error { return c.session.Run(ctx) }

// Send sends an outbound envelope, queueing it while disconnected.
func (c *Client) Send(topic string, payload any) error {
	return c.session.Send(topic, payload)
}

// Subscribe registers fn for inbound envelopes on topic. Local
// diagnostics are published on envelope.TopicError.
func (c *Client) Subscribe(topic string, fn func(envelope.Envelope)) dispatch.Unsubscribe {
	return c.inbound.Subscribe(topic, fn)
}

// SubscribeAll registers fn for every inbound envelope.
func (c *Client) SubscribeAll(fn func(topic string, env envelope.Envelope)) dispatch.Unsubscribe {
	return c.inbound.SubscribeAll(fn)
}

// Diagnostics returns the number of locally generated error envelopes.
func (c *Client) Diagnostics() uint64 { return c.diagnostics.Load() }

// RemoteErrors returns the number of error envelopes sent by the backend.
func (c *Client) RemoteErrors() uint64 { return c.remoteErrors.Load() }

// Close disposes the session and drops every subscriber.
func (c *Client) Close() error {
	err := c.session.Close()
	for _, unsub := range c.unsubscribe {
		unsub()
	}
	c.inbound.Close()
	c.bus.Close()
	c.stores.Close()
	return err
}

// handleFrame decodes one inbound frame and routes it by topic. A frame
// that fails to decode becomes a diagnostic and never affects the next.
func (c *Client) handleFrame(data []byte) {
	env, err := envelope.Decode(data)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "error", err)
		c.diagnose(envelope.DiagnosticFor(envelope.DiagnosticDecode, "", err, data))
		return
	}

	if env.Topic() == envelope.TopicError {
		c.remoteErrors.Add(1)
		c.logger.Warn("backend reported error", "payload", string(env.Payload()))
	}
	if n := c.inbound.Publish(env.Topic(), env); n == 0 {
		c.logger.Debug("no subscribers for topic", "topic", env.Topic())
	}
}

func (c *Client) applyAgentUpdate(u model.AgentUpdate, env envelope.Envelope) {
	u.Timestamp = env.Timestamp()
	if _, err := c.stores.Agents.Apply(u); err != nil {
		c.payloadError(env, err)
	}
}

func (c *Client) applyTelemetry(p model.TelemetryPayload, env envelope.Envelope) {
	sample, err := p.Sample()
	if err != nil {
		c.payloadError(env, err)
		return
	}
	if sample.Timestamp == 0 {
		sample.Timestamp = env.Timestamp()
	}
	c.stores.Telemetry.Apply(sample)
}

func (c *Client) applyTaskUpdate(ev model.TaskEvent, env envelope.Envelope) {
	if ev.Timestamp == 0 {
		ev.Timestamp = env.Timestamp()
	}
	if err := c.stores.Tasks.Apply(ev); err != nil {
		c.payloadError(env, err)
		return
	}
	if c.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := c.history.Append(ctx, ev); err != nil {
		c.logger.Warn("failed to persist task event", "task_id", ev.ID, "error", err)
	}
}

func (c *Client) payloadError(env envelope.Envelope, err error) {
	c.logger.Warn("dropping invalid payload", "topic", env.Topic(), "error", err)
	c.diagnose(envelope.DiagnosticFor(envelope.DiagnosticPayload, env.Topic(), err, env.Payload()))
}

func (c *Client) handlerPanicked(topic string, recovered any) {
	c.logger.Error("inbound handler panicked", "topic", topic, "panic", recovered)
	if topic == envelope.TopicError {
		return
	}
	c.diagnose(envelope.Diagnostic{
		Kind:   envelope.DiagnosticHandler,
		Topic:  topic,
		Reason: "handler panicked",
	})
}

func (c *Client) diagnose(d envelope.Diagnostic) {
	c.diagnostics.Add(1)
	env, err := envelope.New(envelope.TopicError, d, c.clock.Now().UnixMilli())
	if err != nil {
		c.logger.Error("failed to build diagnostic", "error", err)
		return
	}
	c.inbound.Publish(envelope.TopicError, env)
}
