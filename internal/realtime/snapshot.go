package realtime

import (
	"github.com/remote-agent-terminal/dashsync/internal/command"
	"github.com/remote-agent-terminal/dashsync/internal/model"
	"github.com/remote-agent-terminal/dashsync/internal/session"
)

// Snapshot is a point-in-time copy of everything a UI renders.
type Snapshot struct {
	Session   session.Status          `json:"session"`
	Agents    []model.Agent           `json:"agents"`
	Telemetry []model.TelemetrySample `json:"telemetry"`
	Tasks     []model.TaskEvent       `json:"tasks"`
	Bindings  []command.Binding       `json:"bindings"`
}

// Snapshot copies the current session status and store contents.
func (c *Client) Snapshot() Snapshot {
	snap := Snapshot{
		Session:   c.session.Status(),
		Agents:    c.stores.Agents.Snapshot(),
		Telemetry: c.stores.Telemetry.Snapshot(),
		Tasks:     c.stores.Tasks.Snapshot(),
		Bindings:  c.bus.Bindings(),
	}
	// Empty lists encode as [] rather than null.
	if snap.Telemetry == nil {
		snap.Telemetry = []model.TelemetrySample{}
	}
	if snap.Tasks == nil {
		snap.Tasks = []model.TaskEvent{}
	}
	return snap
}
