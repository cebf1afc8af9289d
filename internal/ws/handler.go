package ws

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/remote-agent-terminal/dashsync/internal/envelope"
)

// Keepalive topics answered by the handler itself.
const (
	TopicPing = "ping"
	TopicPong = "pong"
)

const (
	// Time allowed to write a message to the peer.
	defaultWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	defaultPongWait = 60 * time.Second

	// Maximum message size allowed from peer.
	defaultMaxMessageSize = 64 * 1024
)

// HandlerConfig holds configuration for a Handler.
type HandlerConfig struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64

	// CheckOrigin overrides the upgrader's origin check. Nil accepts
	// every origin.
	CheckOrigin func(r *http.Request) bool

	Logger *slog.Logger
}

// Handler upgrades HTTP requests and pumps envelopes between the socket
// and a Hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	config   HandlerConfig
	logger   *slog.Logger
}

// NewHandler creates a new WebSocket handler for hub.
func NewHandler(hub *Hub, config HandlerConfig) *Handler {
	if config.WriteWait <= 0 {
		config.WriteWait = defaultWriteWait
	}
	if config.PongWait <= 0 {
		config.PongWait = defaultPongWait
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaultMaxMessageSize
	}
	if config.CheckOrigin == nil {
		config.CheckOrigin = func(r *http.Request) bool { return true }
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		logger: config.Logger,
	}
}

// Hub returns the hub connections are registered with.
func (h *Handler) Hub() *Hub {
	return h.hub
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.HandleConnection(w, r); err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
	}
}

// HandleConnection upgrades the request and starts the pumps for the new
// client. It returns once the client is registered.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	// Upgrade writes the HTTP error response itself.
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(h.hub, conn)
	h.hub.Register(client)
	h.logger.Debug("websocket client connected", "client_id", client.ID(), "remote", r.RemoteAddr)

	go h.writePump(client)
	go h.readPump(client)
	return nil
}

// readPump pumps messages from the WebSocket connection to the hub.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.hub.Unregister(client)
		client.Conn().Close()
		h.logger.Debug("websocket client disconnected", "client_id", client.ID())
	}()

	pongWait := h.config.PongWait
	client.Conn().SetReadLimit(h.config.MaxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket error", "client_id", client.ID(), "error", err)
			}
			break
		}

		env, err := envelope.Decode(message)
		if err != nil {
			h.logger.Debug("invalid frame from client", "client_id", client.ID(), "error", err)
			h.reply(client, envelope.TopicError, envelope.DiagnosticFor(envelope.DiagnosticDecode, "", err, message))
			continue
		}

		if env.Topic() == TopicPing {
			h.reply(client, TopicPong, nil)
			continue
		}
		h.hub.HandleMessage(client, env)
	}
}

func (h *Handler) reply(client *Client, topic string, payload any) {
	env, err := envelope.New(topic, payload, time.Now().UnixMilli())
	if err != nil {
		h.logger.Error("failed to build reply", "topic", topic, "error", err)
		return
	}
	client.SendEnvelope(env)
}

// writePump pumps messages from the hub to the WebSocket connection.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(h.config.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	writeWait := h.config.WriteWait
	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				client.Conn().WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			// One envelope per frame.
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queued, ok := <-client.SendChan()
				if !ok {
					return
				}
				client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.Conn().WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
