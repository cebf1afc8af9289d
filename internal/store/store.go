// Package store holds the client side caches fed by inbound envelopes:
// the agent registry, the telemetry series and the task feed.
//
// Stores are plain reducers. They never touch the network or timers, and
// they notify subscribers after releasing their locks.
package store

import (
	"io"
	"log/slog"

	"github.com/remote-agent-terminal/dashsync/internal/dispatch"
	"github.com/remote-agent-terminal/dashsync/internal/model"
)

// Config sizes the stores.
type Config struct {
	MetricsHistory int
	TaskHistory    int
	Logger         *slog.Logger
}

// Stores groups the three caches a realtime client maintains.
type Stores struct {
	Agents    *Agents
	Telemetry *Telemetry
	Tasks     *Tasks
}

// New creates all stores. Non-positive sizes fall back to the defaults.
func New(config Config) *Stores {
	if config.MetricsHistory <= 0 {
		config.MetricsHistory = model.DefaultMetricsHistory
	}
	if config.TaskHistory <= 0 {
		config.TaskHistory = model.DefaultTaskHistory
	}
	return &Stores{
		Agents:    NewAgents(config.Logger),
		Telemetry: NewTelemetry(config.MetricsHistory, config.Logger),
		Tasks:     NewTasks(config.TaskHistory, config.Logger),
	}
}

// Close drops every subscriber of every store.
func (s *Stores) Close() {
	s.Agents.Close()
	s.Telemetry.Close()
	s.Tasks.Close()
}

// all is the single topic of stores that have no finer key.
const all = "*"

func newNotifier[K comparable, V any](name string, logger *slog.Logger) *dispatch.Dispatcher[K, V] {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := dispatch.New[K, V]()
	d.SetPanicHandler(func(topic K, recovered any) {
		logger.Error("store subscriber panicked", "store", name, "topic", topic, "panic", recovered)
	})
	return d
}
