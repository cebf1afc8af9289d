package session

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a Manager after Close.
	ErrClosed = errors.New("session: closed")

	// ErrReconnectExhausted matches every ReconnectExhaustedError.
	ErrReconnectExhausted = errors.New("session: reconnect attempts exhausted")
)

// TransportError records why a socket went away. Code and Reason come
// from a close frame; Err is set when the socket failed instead.
type TransportError struct {
	Code   int
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport error: %v", e.Err)
	}
	if e.Reason != "" {
		return fmt.Sprintf("connection closed (code %d): %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("connection closed (code %d)", e.Code)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ReconnectExhaustedError is the terminal error of a session that gave up.
type ReconnectExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ReconnectExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("reconnect attempts exhausted after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("reconnect attempts exhausted after %d attempts: %v", e.Attempts, e.Last)
}

// Is reports whether target is ErrReconnectExhausted.
func (e *ReconnectExhaustedError) Is(target error) bool {
	return target == ErrReconnectExhausted
}

func (e *ReconnectExhaustedError) Unwrap() error { return e.Last }
