package session

// State is the lifecycle state of a Manager.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosing      State = "closing"
	StateClosed       State = "closed"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
)

// canConnect reports whether Connect starts a new attempt from s.
func (s State) canConnect() bool {
	switch s {
	case StateIdle, StateClosed, StateDisconnected, StateFailed:
		return true
	}
	return false
}

// Change describes one state transition. Err is the error that caused it,
// if any.
type Change struct {
	From    State
	To      State
	Attempt int
	Err     error
}

// Status is a point-in-time snapshot of a Manager.
type Status struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	State     State  `json:"state"`
	Attempt   int    `json:"attempt"`
	LastError string `json:"lastError,omitempty"`
	Queued    int    `json:"queued"`
	Evicted   uint64 `json:"evicted"`
}
