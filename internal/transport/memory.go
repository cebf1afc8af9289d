package transport

import (
	"sync"
)

// MemoryDialer creates in-process sockets whose lifecycle is driven by
// the caller. Events are delivered synchronously in the goroutine that
// calls Accept, Deliver, Drop or Fail.
type MemoryDialer struct {
	mu      sync.Mutex
	sockets []*MemorySocket
	onOpen  func(*MemorySocket)
}

// NewMemoryDialer creates an empty MemoryDialer.
func NewMemoryDialer() *MemoryDialer {
	return &MemoryDialer{}
}

// OnOpen sets a callback run for each socket right after Open creates it,
// outside any lock. Use it to script automatic accepts or failures.
func (d *MemoryDialer) OnOpen(fn func(*MemorySocket)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onOpen = fn
}

// Open records a new socket in connecting state.
func (d *MemoryDialer) Open(url string, listen Listener) Socket {
	s := &MemorySocket{url: url, listen: listen}

	d.mu.Lock()
	d.sockets = append(d.sockets, s)
	onOpen := d.onOpen
	d.mu.Unlock()

	if onOpen != nil {
		onOpen(s)
	}
	return s
}

// Sockets returns every socket opened so far, oldest first.
func (d *MemoryDialer) Sockets() []*MemorySocket {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*MemorySocket, len(d.sockets))
	copy(out, d.sockets)
	return out
}

// Count returns the number of sockets opened so far.
func (d *MemoryDialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}

// Last returns the most recently opened socket, or nil.
func (d *MemoryDialer) Last() *MemorySocket {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

type memoryState int

const (
	memoryConnecting memoryState = iota
	memoryOpen
	memoryTerminated
)

// MemorySocket is a Socket driven by test code.
type MemorySocket struct {
	url    string
	listen Listener

	mu          sync.Mutex
	state       memoryState
	ownerClosed bool
	sent        [][]byte
	sendErr     error
	failAfter   int
}

// URL returns the url the socket was opened with.
func (s *MemorySocket) URL() string { return s.url }

// Accept completes the connection and reports EventOpened.
func (s *MemorySocket) Accept() {
	if !s.transition(memoryConnecting, memoryOpen) {
		return
	}
	s.listen(Event{Kind: EventOpened})
}

// Deliver reports an inbound frame if the socket is open.
func (s *MemorySocket) Deliver(data []byte) {
	s.mu.Lock()
	live := s.state == memoryOpen && !s.ownerClosed
	s.mu.Unlock()
	if !live {
		return
	}
	s.listen(Event{Kind: EventMessage, Data: append([]byte(nil), data...)})
}

// Drop terminates the socket with EventClosed.
func (s *MemorySocket) Drop(code int, reason string) {
	if !s.terminateNow() {
		return
	}
	s.listen(Event{Kind: EventClosed, Code: code, Reason: reason})
}

// Fail terminates the socket with EventErrored.
func (s *MemorySocket) Fail(err error) {
	if !s.terminateNow() {
		return
	}
	s.listen(Event{Kind: EventErrored, Err: err})
}

// FailSendsAfter lets n more sends succeed, then makes every further
// send return err. A nil err restores normal sends.
func (s *MemorySocket) FailSendsAfter(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
	s.failAfter = n
}

// Send records data.
func (s *MemorySocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != memoryOpen || s.ownerClosed {
		return ErrNotConnected
	}
	if s.sendErr != nil {
		if s.failAfter <= 0 {
			return s.sendErr
		}
		s.failAfter--
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	return nil
}

// Sent returns copies of the frames sent so far.
func (s *MemorySocket) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]byte, len(s.sent))
	for i, frame := range s.sent {
		out[i] = append([]byte(nil), frame...)
	}
	return out
}

// Close marks the socket closed by its owner. No event is reported.
func (s *MemorySocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownerClosed = true
	s.state = memoryTerminated
	return nil
}

// Closed reports whether the owner closed the socket.
func (s *MemorySocket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownerClosed
}

// Open reports whether the socket is accepted and not terminated.
func (s *MemorySocket) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == memoryOpen && !s.ownerClosed
}

func (s *MemorySocket) transition(from, to memoryState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from || s.ownerClosed {
		return false
	}
	s.state = to
	return true
}

func (s *MemorySocket) terminateNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == memoryTerminated || s.ownerClosed {
		return false
	}
	s.state = memoryTerminated
	return true
}
