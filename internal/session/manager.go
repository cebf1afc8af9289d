// Package session keeps one logical connection to the dashboard backend
// alive. It owns the transport socket, reconnects with bounded exponential
// backoff, and buffers outbound envelopes while the socket is not open.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/remote-agent-terminal/dashsync/internal/backoff"
	"github.com/remote-agent-terminal/dashsync/internal/clock"
	"github.com/remote-agent-terminal/dashsync/internal/dispatch"
	"github.com/remote-agent-terminal/dashsync/internal/envelope"
	"github.com/remote-agent-terminal/dashsync/internal/queue"
	"github.com/remote-agent-terminal/dashsync/internal/transport"
)

// Config holds configuration for a Manager.
type Config struct {
	URL       string
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// MaxReconnectAttempts bounds consecutive reconnects. 0 means unbounded.
	MaxReconnectAttempts int

	// QueueCapacity bounds the outbound queue. 0 means unbounded.
	QueueCapacity int

	Clock  clock.Clock
	Logger *slog.Logger

	// OnMessage receives the inbound frames of the active socket in
	// arrival order.
	OnMessage func([]byte)

	// OnFailure is called once each time the session gives up.
	OnFailure func(error)
}

// attempt is one dialed socket. The socket is attached after Open
// returns; events may arrive before that.
type attempt struct {
	sock transport.Socket
}

var errSuperseded = errors.New("socket no longer open")

// Manager manages a single reconnecting session.
type Manager struct {
	id      string
	dialer  transport.Dialer
	config  Config
	clock   clock.Clock
	logger  *slog.Logger
	changes *dispatch.Dispatcher[State, Change]

	// wmu serializes socket writes and queue flushes. It is taken before
	// mu and never while mu is held, so a stalled write only delays other
	// writes.
	wmu sync.Mutex

	mu        sync.Mutex
	state     State
	attempt   int
	lastErr   error
	failErr   error
	current   *attempt
	timer     clock.Timer
	timerGen  uint64
	explicit  bool
	disposed  bool
	lastStamp int64
	queue     *queue.Queue
	failed    chan struct{}
	done      chan struct{}

	// Collected under mu, delivered by unlock.
	pending        []Change
	pendingFailure error
	closing        []transport.Socket
}

// NewManager creates a Manager in StateIdle. Nothing is dialed until
// Connect or Run.
func NewManager(dialer transport.Dialer, config Config) *Manager {
	if config.BaseDelay <= 0 {
		config.BaseDelay = backoff.DefaultBase
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = backoff.DefaultMax
	}
	if config.MaxDelay < config.BaseDelay {
		config.MaxDelay = config.BaseDelay
	}
	if config.MaxReconnectAttempts < 0 {
		config.MaxReconnectAttempts = 0
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	id := uuid.New().String()
	m := &Manager{
		id:      id,
		dialer:  dialer,
		config:  config,
		clock:   config.Clock,
		logger:  config.Logger.With("session_id", id, "url", config.URL),
		changes: dispatch.New[State, Change](),
		state:   StateIdle,
		queue:   queue.New(config.QueueCapacity),
		failed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	m.changes.SetPanicHandler(func(to State, recovered any) {
		m.logger.Error("state listener panicked", "state", to, "panic", recovered)
	})
	return m
}

// ID returns the session id used for log correlation.
func (m *Manager) ID() string { return m.id }

// URL returns the backend url.
func (m *Manager) URL() string { return m.config.URL }

// Connect starts a connection attempt. It is a no-op while connecting,
// open or closing. Connecting from StateDisconnected or StateFailed
// re-enables automatic reconnects and resets the attempt count.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrClosed
	}
	if !m.state.canConnect() {
		m.mu.Unlock()
		return nil
	}
	if m.state == StateDisconnected || m.state == StateFailed {
		m.explicit = false
		m.attempt = 0
		m.failErr = nil
		select {
		case <-m.failed:
			m.failed = make(chan struct{})
		default:
		}
	}
	m.cancelTimerLocked()
	a := m.beginAttemptLocked()
	m.unlock()

	m.dial(a)
	return nil
}

// Disconnect closes the connection and cancels any pending reconnect.
// The session stays in StateDisconnected until Connect is called.
// Queued envelopes are kept.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.disconnectLocked()
	m.unlock()
}

// Send stamps an envelope for topic and delivers it, or queues it until
// the session is open. Only encoding failures are returned.
func (m *Manager) Send(topic string, payload any) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrClosed
	}
	env, err := envelope.New(topic, payload, m.stampLocked())
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("session send: %w", err)
	}
	entry := queue.Entry{Envelope: env, EnqueuedAt: m.clock.Now()}

	a := m.current
	sock := m.liveSocketLocked(a)
	if sock == nil || m.queue.Len() > 0 {
		// Older entries go first.
		m.enqueueLocked(entry)
		m.mu.Unlock()
		if sock != nil {
			m.flush(a, sock)
		}
		return nil
	}
	m.mu.Unlock()

	// Nothing else enqueues while wmu is held, so a failed entry still
	// lands behind everything queued before it.
	if err := m.write(sock, env); err != nil {
		m.logger.Debug("send failed, queued", "topic", topic, "error", err)
		m.mu.Lock()
		m.enqueueLocked(entry)
		m.mu.Unlock()
	}
	return nil
}

// Run connects and blocks until ctx is done, the session fails or the
// Manager is closed. It disconnects when ctx ends and returns the
// ReconnectExhaustedError when the session fails.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Connect(); err != nil {
		return err
	}

	m.mu.Lock()
	failed := m.failed
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		m.Disconnect()
		return nil
	case <-failed:
		return m.Err()
	case <-m.done:
		return nil
	}
}

// Close disconnects and disposes the Manager. Further Connect and Send
// calls return ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.disconnectLocked()
	m.disposed = true
	close(m.done)
	m.unlock()

	m.changes.Close()
	return nil
}

// OnStateChange registers fn for every transition.
func (m *Manager) OnStateChange(fn func(Change)) dispatch.Unsubscribe {
	return m.changes.SubscribeAll(func(_ State, c Change) { fn(c) })
}

// OnState registers fn for transitions into state.
func (m *Manager) OnState(state State, fn func(Change)) dispatch.Unsubscribe {
	return m.changes.Subscribe(state, fn)
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the reconnect attempt counter.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// LastError returns the error of the most recent connection loss, or nil
// once a connection opened since.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Err returns the ReconnectExhaustedError while the session is failed.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failErr
}

// Queued returns the number of envelopes waiting for an open socket.
func (m *Manager) Queued() int {
	return m.queue.Len()
}

// DiscardQueued drops every queued envelope and returns how many there
// were.
func (m *Manager) DiscardQueued() int {
	return m.queue.Clear()
}

// Status returns a snapshot of the session.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		ID:      m.id,
		URL:     m.config.URL,
		State:   m.state,
		Attempt: m.attempt,
		Queued:  m.queue.Len(),
		Evicted: m.queue.Evicted(),
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// dial opens the socket for a outside the lock. A synchronous transport
// may report events before Open returns.
func (m *Manager) dial(a *attempt) {
	sock := m.dialer.Open(m.config.URL, func(ev transport.Event) { m.handle(a, ev) })

	m.mu.Lock()
	if m.current != a {
		m.mu.Unlock()
		sock.Close()
		return
	}
	a.sock = sock
	m.unlock()

	m.flushOpen(a)
}

func (m *Manager) handle(a *attempt, ev transport.Event) {
	if ev.Kind == transport.EventMessage {
		m.mu.Lock()
		live := m.current == a && m.state == StateOpen
		m.mu.Unlock()
		if live && m.config.OnMessage != nil {
			m.config.OnMessage(ev.Data)
		}
		return
	}

	m.mu.Lock()
	if m.current != a {
		m.mu.Unlock()
		m.logger.Debug("ignoring event from superseded socket", "event", ev.Kind.String())
		return
	}
	opened := false
	switch ev.Kind {
	case transport.EventOpened:
		opened = m.openedLocked()
	case transport.EventClosed:
		m.lostLocked(&TransportError{Code: ev.Code, Reason: ev.Reason})
	case transport.EventErrored:
		m.lostLocked(&TransportError{Err: ev.Err})
	}
	m.unlock()

	// Before Open returns the socket is not attached yet; dial flushes then.
	if opened {
		m.flushOpen(a)
	}
}

func (m *Manager) openedLocked() bool {
	if m.state != StateConnecting {
		return false
	}
	m.attempt = 0
	m.lastErr = nil
	m.transitionLocked(StateOpen, nil)
	m.logger.Info("session open", "queued", m.queue.Len())
	return true
}

func (m *Manager) lostLocked(err error) {
	if m.state != StateOpen && m.state != StateConnecting {
		return
	}
	m.current = nil
	m.lastErr = err
	m.transitionLocked(StateClosed, err)

	if m.explicit || m.disposed {
		return
	}
	if max := m.config.MaxReconnectAttempts; max > 0 && m.attempt >= max {
		m.failErr = &ReconnectExhaustedError{Attempts: m.attempt, Last: err}
		m.transitionLocked(StateFailed, m.failErr)
		m.pendingFailure = m.failErr
		close(m.failed)
		m.logger.Error("session failed", "attempt", m.attempt, "error", err)
		return
	}

	delay := backoff.Delay(m.attempt, m.config.BaseDelay, m.config.MaxDelay)
	m.timerGen++
	gen := m.timerGen
	m.timer = m.clock.AfterFunc(delay, func() { m.retry(gen) })
	m.logger.Warn("connection lost, reconnecting",
		"attempt", m.attempt+1, "delay", delay, "error", err)
}

// retry runs when the reconnect timer of generation gen fires.
func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	if gen != m.timerGen || m.explicit || m.disposed || m.state != StateClosed {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.attempt++
	a := m.beginAttemptLocked()
	m.unlock()

	m.dial(a)
}

func (m *Manager) beginAttemptLocked() *attempt {
	a := &attempt{}
	m.current = a
	m.transitionLocked(StateConnecting, nil)
	return a
}

func (m *Manager) disconnectLocked() {
	m.explicit = true
	m.cancelTimerLocked()
	m.attempt = 0

	if a := m.current; a != nil {
		m.current = nil
		m.transitionLocked(StateClosing, nil)
		if a.sock != nil {
			m.closing = append(m.closing, a.sock)
		}
	}
	m.transitionLocked(StateDisconnected, nil)
}

// cancelTimerLocked stops the reconnect timer. The generation bump makes
// a callback that is already running a no-op.
func (m *Manager) cancelTimerLocked() {
	m.timerGen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// liveSocketLocked returns the socket of a while a is the current open
// attempt, or nil.
func (m *Manager) liveSocketLocked(a *attempt) transport.Socket {
	if a == nil || m.current != a || m.state != StateOpen {
		return nil
	}
	return a.sock
}

// flushOpen drains the queue if a is still the open attempt.
func (m *Manager) flushOpen(a *attempt) {
	m.wmu.Lock()
	defer m.wmu.Unlock()

	m.mu.Lock()
	sock := m.liveSocketLocked(a)
	m.mu.Unlock()
	if sock != nil {
		m.flush(a, sock)
	}
}

// flush sends queued entries over sock until the queue is empty, a send
// fails, or a stops being the open attempt. The caller holds wmu, not mu.
func (m *Manager) flush(a *attempt, sock transport.Socket) {
	if m.queue.Len() == 0 {
		return
	}
	sent, err := m.queue.Flush(func(e queue.Entry) error {
		m.mu.Lock()
		live := m.liveSocketLocked(a) != nil
		m.mu.Unlock()
		if !live {
			return errSuperseded
		}
		return m.write(sock, e.Envelope)
	})
	if err != nil {
		m.logger.Warn("outbound flush interrupted",
			"sent", sent, "remaining", m.queue.Len(), "error", err)
		return
	}
	m.logger.Debug("outbound queue flushed", "sent", sent)
}

func (m *Manager) write(sock transport.Socket, env envelope.Envelope) error {
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	return sock.Send(data)
}

func (m *Manager) enqueueLocked(e queue.Entry) {
	if m.queue.Enqueue(e) {
		m.logger.Warn("outbound queue full, dropped oldest entry",
			"capacity", m.queue.Capacity())
	}
}

// stampLocked returns a millisecond timestamp that never goes backwards.
func (m *Manager) stampLocked() int64 {
	ts := m.clock.Now().UnixMilli()
	if ts < m.lastStamp {
		ts = m.lastStamp
	}
	m.lastStamp = ts
	return ts
}

func (m *Manager) transitionLocked(to State, err error) {
	if m.state == to {
		return
	}
	c := Change{From: m.state, To: to, Attempt: m.attempt, Err: err}
	m.state = to
	m.pending = append(m.pending, c)
	m.logger.Debug("session state", "from", c.From, "to", to, "attempt", m.attempt)
}

// unlock releases mu, then closes the sockets and delivers the
// notifications collected while it was held.
func (m *Manager) unlock() {
	changes := m.pending
	m.pending = nil
	failure := m.pendingFailure
	m.pendingFailure = nil
	closing := m.closing
	m.closing = nil
	m.mu.Unlock()

	for _, sock := range closing {
		if err := sock.Close(); err != nil {
			m.logger.Debug("socket close failed", "error", err)
		}
	}
	for _, c := range changes {
		m.changes.Publish(c.To, c)
	}
	if failure != nil && m.config.OnFailure != nil {
		m.config.OnFailure(failure)
	}
}
