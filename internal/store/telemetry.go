package store

import (
	"log/slog"

	"github.com/remote-agent-terminal/dashsync/internal/buffer"
	"github.com/remote-agent-terminal/dashsync/internal/dispatch"
	"github.com/remote-agent-terminal/dashsync/internal/model"
)

// Telemetry keeps the most recent samples of the system metrics series.
type Telemetry struct {
	ring    *buffer.Ring[model.TelemetrySample]
	changes *dispatch.Dispatcher[string, model.TelemetrySample]
}

// NewTelemetry creates a series holding at most capacity samples.
func NewTelemetry(capacity int, logger *slog.Logger) *Telemetry {
	if capacity <= 0 {
		capacity = model.DefaultMetricsHistory
	}
	return &Telemetry{
		ring:    buffer.NewRing[model.TelemetrySample](capacity),
		changes: newNotifier[string, model.TelemetrySample]("telemetry", logger),
	}
}

// Apply appends the clamped sample, dropping the oldest one when full.
func (s *Telemetry) Apply(sample model.TelemetrySample) model.TelemetrySample {
	sample = sample.Clamped()
	s.ring.Push(sample)
	s.changes.Publish(all, sample)
	return sample
}

// Snapshot returns the samples oldest first.
func (s *Telemetry) Snapshot() []model.TelemetrySample {
	return s.ring.ReadAll()
}

// Latest returns the newest sample.
func (s *Telemetry) Latest() (model.TelemetrySample, bool) {
	return s.ring.Last()
}

func (s *Telemetry) Len() int { return s.ring.Len() }
func (s *Telemetry) Cap() int { return s.ring.Cap() }

// Subscribe registers fn for every applied sample.
func (s *Telemetry) Subscribe(fn func(model.TelemetrySample)) dispatch.Unsubscribe {
	return s.changes.Subscribe(all, fn)
}

// Close drops every subscriber.
func (s *Telemetry) Close() { s.changes.Close() }
