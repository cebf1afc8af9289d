// Package model holds the records that the realtime stores keep.
package model

import (
	"encoding/json"
	"fmt"
)

// AgentStatus represents the run state reported for an agent.
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusRunning AgentStatus = "running"
	AgentStatusError   AgentStatus = "error"
)

// Valid reports whether s is one of the known statuses.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusRunning, AgentStatusError:
		return true
	}
	return false
}

// Metrics is a resource usage triple, each value a percentage in [0,100].
type Metrics struct {
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
	GPU    float64 `json:"gpu"`
}

// Agent is the registry record for one backend agent.
type Agent struct {
	ID        string      `json:"id"`
	Status    AgentStatus `json:"status"`
	Metrics   Metrics     `json:"metrics"`
	Error     string      `json:"error,omitempty"`
	UpdatedAt int64       `json:"updatedAt"`
}

// MetricsUpdate carries the metrics fields present in an agent_update.
// Nil fields were not sent and leave the stored value alone.
type MetricsUpdate struct {
	CPU    *float64 `json:"cpu,omitempty"`
	Memory *float64 `json:"memory,omitempty"`
	GPU    *float64 `json:"gpu,omitempty"`
}

// AgentUpdate is the payload of an agent_update envelope.
type AgentUpdate struct {
	ID      string         `json:"id"`
	Status  *AgentStatus   `json:"status,omitempty"`
	Metrics *MetricsUpdate `json:"metrics,omitempty"`
	Error   *string        `json:"error,omitempty"`

	// ClearError is set when the payload carried "error": null.
	ClearError bool `json:"-"`

	// Timestamp is taken from the envelope, not the payload.
	Timestamp int64 `json:"-"`
}

// UnmarshalJSON decodes an agent_update payload, telling an explicit
// null error apart from an absent one.
func (u *AgentUpdate) UnmarshalJSON(data []byte) error {
	type wire AgentUpdate
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var present struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &present); err != nil {
		return err
	}
	*u = AgentUpdate(w)
	u.ClearError = string(present.Error) == "null"
	return nil
}

// Validate checks the fields an update must carry to be applied.
func (u *AgentUpdate) Validate() error {
	if u.ID == "" {
		return ErrAgentIDRequired
	}
	if u.Status != nil && !u.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, *u.Status)
	}
	return nil
}

// ClampPercent limits v to [0,100].
func ClampPercent(v float64) float64 {
	if v != v { // NaN
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
