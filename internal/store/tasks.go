package store

import (
	"log/slog"

	"github.com/remote-agent-terminal/dashsync/internal/buffer"
	"github.com/remote-agent-terminal/dashsync/internal/dispatch"
	"github.com/remote-agent-terminal/dashsync/internal/model"
)

// Tasks is the bounded feed of task_update events, oldest first.
type Tasks struct {
	ring    *buffer.Ring[model.TaskEvent]
	changes *dispatch.Dispatcher[string, model.TaskEvent]
}

// NewTasks creates a feed holding at most capacity events.
func NewTasks(capacity int, logger *slog.Logger) *Tasks {
	if capacity <= 0 {
		capacity = model.DefaultTaskHistory
	}
	return &Tasks{
		ring:    buffer.NewRing[model.TaskEvent](capacity),
		changes: newNotifier[string, model.TaskEvent]("tasks", logger),
	}
}

// Apply appends ev to the feed.
func (s *Tasks) Apply(ev model.TaskEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	s.ring.Push(ev)
	s.changes.Publish(all, ev)
	return nil
}

// Snapshot returns the feed oldest first.
func (s *Tasks) Snapshot() []model.TaskEvent {
	return s.ring.ReadAll()
}

// ForAgent returns the events of one agent, oldest first.
func (s *Tasks) ForAgent(agentID string) []model.TaskEvent {
	var out []model.TaskEvent
	for _, ev := range s.ring.ReadAll() {
		if ev.AgentID == agentID {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Tasks) Len() int { return s.ring.Len() }

// Subscribe registers fn for every appended event.
func (s *Tasks) Subscribe(fn func(model.TaskEvent)) dispatch.Unsubscribe {
	return s.changes.Subscribe(all, fn)
}

// Close drops every subscriber.
func (s *Tasks) Close() { s.changes.Close() }
