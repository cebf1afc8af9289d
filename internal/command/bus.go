// Package command is the local bus for user intents such as toggling a
// panel. Key chords can be bound to intents, and intents can be forwarded
// to the backend as outbound envelopes.
package command

import (
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/remote-agent-terminal/dashsync/internal/dispatch"
)

// Intent names a user action.
type Intent string

// Command is one emitted intent.
type Command struct {
	Intent Intent `json:"intent"`
	Args   any    `json:"args,omitempty"`

	// Chord is set when the command came from a key binding.
	Chord string `json:"chord,omitempty"`
}

// Binding maps a normalized chord to an intent.
type Binding struct {
	Chord  string `json:"chord"`
	Intent Intent `json:"intent"`
}

// Bus routes commands to the handlers registered for their intent.
type Bus struct {
	d      *dispatch.Dispatcher[Intent, Command]
	logger *slog.Logger

	mu       sync.RWMutex
	bindings map[string]Intent
}

// NewBus creates an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	b := &Bus{
		d:        dispatch.New[Intent, Command](),
		logger:   logger,
		bindings: make(map[string]Intent),
	}
	b.d.SetPanicHandler(func(intent Intent, recovered any) {
		logger.Error("command handler panicked", "intent", intent, "panic", recovered)
	})
	return b
}

// On registers fn for intent.
func (b *Bus) On(intent Intent, fn func(Command)) dispatch.Unsubscribe {
	return b.d.Subscribe(intent, fn)
}

// OnAny registers fn for every intent.
func (b *Bus) OnAny(fn func(Command)) dispatch.Unsubscribe {
	return b.d.SubscribeAll(func(_ Intent, c Command) { fn(c) })
}

// Emit delivers a command for intent and returns the number of handlers
// invoked.
func (b *Bus) Emit(intent Intent, args any) int {
	return b.d.Publish(intent, Command{Intent: intent, Args: args})
}

// Bind maps chord to intent, replacing any previous binding.
func (b *Bus) Bind(chord string, intent Intent) error {
	c, err := NormalizeChord(chord)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.bindings[c] = intent
	b.mu.Unlock()
	return nil
}

// Unbind removes the binding for chord and reports whether one existed.
func (b *Bus) Unbind(chord string) bool {
	c, err := NormalizeChord(chord)
	if err != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.bindings[c]
	delete(b.bindings, c)
	return ok
}

// Trigger emits the intent bound to chord. It reports whether the chord
// was bound.
func (b *Bus) Trigger(chord string) bool {
	c, err := NormalizeChord(chord)
	if err != nil {
		return false
	}
	b.mu.RLock()
	intent, ok := b.bindings[c]
	b.mu.RUnlock()
	if !ok {
		return false
	}

	n := b.d.Publish(intent, Command{Intent: intent, Chord: c})
	b.logger.Debug("shortcut triggered", "chord", c, "intent", intent, "handlers", n)
	return true
}

// Bindings returns the current bindings sorted by chord.
func (b *Bus) Bindings() []Binding {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Binding, 0, len(b.bindings))
	for c, intent := range b.bindings {
		out = append(out, Binding{Chord: c, Intent: intent})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chord < out[j].Chord })
	return out
}

// Close drops every handler. Bindings are kept.
func (b *Bus) Close() { b.d.Close() }

// Sender is the outbound side of a session.
type Sender interface {
	Send(topic string, payload any) error
}

// Forward relays every command for intent to sender as an envelope on
// topic. Send errors are logged.
func Forward(bus *Bus, intent Intent, sender Sender, topic string) dispatch.Unsubscribe {
	return bus.On(intent, func(c Command) {
		if err := sender.Send(topic, c); err != nil {
			bus.logger.Warn("failed to forward command", "intent", intent, "topic", topic, "error", err)
		}
	})
}
