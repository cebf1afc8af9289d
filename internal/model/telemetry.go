package model

import "fmt"

// DefaultMetricsHistory is the default capacity of the telemetry ring.
const DefaultMetricsHistory = 100

// TelemetrySample is one point of the system metrics series.
type TelemetrySample struct {
	Timestamp int64   `json:"timestamp"`
	CPU       float64 `json:"cpu"`
	Memory    float64 `json:"memory"`
	GPU       float64 `json:"gpu"`
}

// Clamped returns the sample with every metric limited to [0,100].
func (s TelemetrySample) Clamped() TelemetrySample {
	s.CPU = ClampPercent(s.CPU)
	s.Memory = ClampPercent(s.Memory)
	s.GPU = ClampPercent(s.GPU)
	return s
}

// TelemetryPayload is the wire form of a telemetry envelope. The three
// metrics are required; a missing timestamp is left 0.
type TelemetryPayload struct {
	Timestamp int64    `json:"timestamp"`
	CPU       *float64 `json:"cpu"`
	Memory    *float64 `json:"memory"`
	GPU       *float64 `json:"gpu"`
}

// Sample returns the sample carried by p, or an error naming the first
// missing metric.
func (p TelemetryPayload) Sample() (TelemetrySample, error) {
	for _, m := range []struct {
		name string
		v    *float64
	}{{"cpu", p.CPU}, {"memory", p.Memory}, {"gpu", p.GPU}} {
		if m.v == nil {
			return TelemetrySample{}, fmt.Errorf("%w: %s", ErrMetricRequired, m.name)
		}
	}
	return TelemetrySample{Timestamp: p.Timestamp, CPU: *p.CPU, Memory: *p.Memory, GPU: *p.GPU}, nil
}
