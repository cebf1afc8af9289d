package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed for the opening handshake.
	defaultHandshakeTimeout = 10 * time.Second

	// Time allowed to write a message to the peer.
	defaultWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	defaultPongWait = 60 * time.Second

	// Maximum message size allowed from peer.
	defaultMaxMessageSize = 1 << 20
)

// WebSocketConfig configures WebSocketDialer. Zero values take defaults.
type WebSocketConfig struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	MaxMessageSize   int64
	Header           http.Header
	Logger           *slog.Logger
}

// WebSocketDialer opens gorilla/websocket connections. Every frame is a
// text message carrying one envelope.
type WebSocketDialer struct {
	config WebSocketConfig
	dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer with the given configuration.
func NewWebSocketDialer(config WebSocketConfig) *WebSocketDialer {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}
	if config.WriteWait <= 0 {
		config.WriteWait = defaultWriteWait
	}
	if config.PongWait <= 0 {
		config.PongWait = defaultPongWait
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaultMaxMessageSize
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &WebSocketDialer{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

// pingPeriod must be less than pongWait.
func (d *WebSocketDialer) pingPeriod() time.Duration {
	return (d.config.PongWait * 9) / 10
}

// Open starts dialing url in the background and returns the handle.
func (d *WebSocketDialer) Open(url string, listen Listener) Socket {
	ctx, cancel := context.WithCancel(context.Background())
	s := &wsSocket{
		dialer: d,
		url:    url,
		listen: listen,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: d.config.Logger.With("url", url),
	}
	go s.run(ctx)
	return s
}

type wsSocket struct {
	dialer *WebSocketDialer
	url    string
	listen Listener
	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	open   bool
	closed bool

	// gorilla allows one concurrent writer for data frames.
	writeMu sync.Mutex

	terminate sync.Once
}

func (s *wsSocket) run(ctx context.Context) {
	conn, resp, err := s.dialer.dialer.DialContext(ctx, s.url, s.dialer.config.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("dial %s: handshake status %d: %w", s.url, resp.StatusCode, err)
		} else {
			err = fmt.Errorf("dial %s: %w", s.url, err)
		}
		s.finish(Event{Kind: EventErrored, Err: err})
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.open = true
	s.mu.Unlock()

	s.logger.Debug("websocket connected")
	s.listen(Event{Kind: EventOpened})

	go s.pingLoop(conn)
	s.readLoop(conn)
}

// readLoop delivers frames until the connection fails.
func (s *wsSocket) readLoop(conn *websocket.Conn) {
	pongWait := s.dialer.config.PongWait

	conn.SetReadLimit(s.dialer.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.fail(conn, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		s.mu.Lock()
		live := !s.closed
		s.mu.Unlock()
		if !live {
			return
		}
		s.listen(Event{Kind: EventMessage, Data: message})
	}
}

// pingLoop keeps the connection alive until the socket is done.
func (s *wsSocket) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(s.dialer.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.dialer.config.WriteWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("websocket ping failed", "error", err)
				conn.Close()
				return
			}
		}
	}
}

func (s *wsSocket) fail(conn *websocket.Conn, err error) {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	conn.Close()

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		s.finish(Event{Kind: EventClosed, Code: closeErr.Code, Reason: closeErr.Text})
		return
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		s.logger.Warn("websocket error", "error", err)
	}
	s.finish(Event{Kind: EventErrored, Err: err})
}

// finish delivers the terminal event once, unless the owner closed first.
func (s *wsSocket) finish(ev Event) {
	s.terminate.Do(func() {
		s.mu.Lock()
		ownerClosed := s.closed
		if !s.closed {
			s.closed = true
			close(s.done)
		}
		s.mu.Unlock()
		if !ownerClosed {
			s.listen(ev)
		}
	})
}

// Send writes one text frame.
func (s *wsSocket) Send(data []byte) error {
	s.mu.Lock()
	conn, open := s.conn, s.open && !s.closed
	s.mu.Unlock()
	if !open {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.dialer.config.WriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// Closing makes the read loop report the failure.
		conn.Close()
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close sends a normal closure frame and releases the connection.
func (s *wsSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.open = false
	close(s.done)
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.dialer.config.WriteWait))
	return conn.Close()
}
