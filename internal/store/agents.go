package store

import (
	"log/slog"
	"sync"

	"github.com/remote-agent-terminal/dashsync/internal/dispatch"
	"github.com/remote-agent-terminal/dashsync/internal/model"
)

// ChangeKind tells subscribers what happened to an agent.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

// AgentChange is delivered to agent subscribers. For ChangeRemoved, Agent
// is the record as it was before removal.
type AgentChange struct {
	Kind  ChangeKind  `json:"kind"`
	Agent model.Agent `json:"agent"`
}

// MergeAgent applies u to prev and returns the new record. A nil prev
// creates a record with idle status and zero metrics. Only the fields
// carried by u change; metrics are clamped to [0,100].
//
// MergeAgent is pure and idempotent: merging the same update twice gives
// the same record as merging it once.
func MergeAgent(prev *model.Agent, u model.AgentUpdate) model.Agent {
	var a model.Agent
	if prev != nil {
		a = *prev
	} else {
		a = model.Agent{ID: u.ID, Status: model.AgentStatusIdle}
	}

	if u.Status != nil {
		a.Status = *u.Status
	}
	if m := u.Metrics; m != nil {
		if m.CPU != nil {
			a.Metrics.CPU = model.ClampPercent(*m.CPU)
		}
		if m.Memory != nil {
			a.Metrics.Memory = model.ClampPercent(*m.Memory)
		}
		if m.GPU != nil {
			a.Metrics.GPU = model.ClampPercent(*m.GPU)
		}
	}
	switch {
	case u.Error != nil:
		a.Error = *u.Error
	case u.ClearError:
		a.Error = ""
	}
	if u.Timestamp != 0 {
		a.UpdatedAt = u.Timestamp
	}
	return a
}

// Agents is the agent registry keyed by id. Snapshots list agents in the
// order they were first seen.
type Agents struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]model.Agent

	changes *dispatch.Dispatcher[string, AgentChange]
}

// NewAgents creates an empty registry.
func NewAgents(logger *slog.Logger) *Agents {
	return &Agents{
		byID:    make(map[string]model.Agent),
		changes: newNotifier[string, AgentChange]("agents", logger),
	}
}

// Apply merges u into the registry and returns the resulting record.
// Subscribers are notified only when the record changed.
func (s *Agents) Apply(u model.AgentUpdate) (model.Agent, error) {
	if err := u.Validate(); err != nil {
		return model.Agent{}, err
	}

	s.mu.Lock()
	prev, ok := s.byID[u.ID]
	var next model.Agent
	if ok {
		next = MergeAgent(&prev, u)
	} else {
		next = MergeAgent(nil, u)
		s.order = append(s.order, u.ID)
	}
	s.byID[u.ID] = next
	s.mu.Unlock()

	switch {
	case !ok:
		s.changes.Publish(u.ID, AgentChange{Kind: ChangeCreated, Agent: next})
	case prev != next:
		s.changes.Publish(u.ID, AgentChange{Kind: ChangeUpdated, Agent: next})
	}
	return next, nil
}

// Remove deletes the agent with id.
func (s *Agents) Remove(id string) error {
	s.mu.Lock()
	prev, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return model.ErrAgentNotFound
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.changes.Publish(id, AgentChange{Kind: ChangeRemoved, Agent: prev})
	return nil
}

// Get returns the agent with id.
func (s *Agents) Get(id string) (model.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	return a, ok
}

// Snapshot returns a copy of every agent.
func (s *Agents) Snapshot() []model.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Agent, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Len returns the number of agents.
func (s *Agents) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Subscribe registers fn for changes to any agent.
func (s *Agents) Subscribe(fn func(AgentChange)) dispatch.Unsubscribe {
	return s.changes.SubscribeAll(func(_ string, c AgentChange) { fn(c) })
}

// SubscribeAgent registers fn for changes to the agent with id.
func (s *Agents) SubscribeAgent(id string, fn func(AgentChange)) dispatch.Unsubscribe {
	return s.changes.Subscribe(id, fn)
}

// Close drops every subscriber.
func (s *Agents) Close() { s.changes.Close() }
