// Package transport owns single physical duplex connections. It knows how
// to open, send, receive frames and report close or error; retry and
// buffering live in the session package.
package transport

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Send when the socket is not open.
var ErrNotConnected = errors.New("transport: not connected")

// EventKind enumerates what a socket reports to its listener.
type EventKind int

const (
	EventOpened EventKind = iota + 1
	EventClosed
	EventErrored
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventErrored:
		return "errored"
	case EventMessage:
		return "message"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one notification from a socket. Code and Reason are set for
// EventClosed, Err for EventErrored, Data for EventMessage.
type Event struct {
	Kind   EventKind
	Code   int
	Reason string
	Err    error
	Data   []byte
}

// Listener receives the events of one socket. Events of a socket are
// delivered sequentially: message events in arrival order. After
// EventClosed or EventErrored nothing more is delivered.
type Listener func(Event)

// Socket is a handle to one connection.
type Socket interface {
	// Send writes one frame. It fails with ErrNotConnected unless the
	// socket has reported EventOpened and not yet terminated.
	Send(data []byte) error

	// Close shuts the connection down. It is idempotent. A socket closed
	// by its owner does not report EventClosed.
	Close() error
}

// Dialer opens sockets. Open returns at once; the outcome of the
// connection attempt is reported through listen.
type Dialer interface {
	Open(url string, listen Listener) Socket
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(url string, listen Listener) Socket

// Open calls f.
func (f DialerFunc) Open(url string, listen Listener) Socket { return f(url, listen) }
