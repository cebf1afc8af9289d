// Package backoff computes reconnect delays.
package backoff

import "time"

const (
	// DefaultBase is the delay before the first reconnect attempt.
	DefaultBase = 1000 * time.Millisecond

	// DefaultMax caps every reconnect delay.
	DefaultMax = 30000 * time.Millisecond
)

// Delay returns min(base * 2^attempt, max). A non-positive base yields
// zero; a max below base is treated as base.
func Delay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if max < base {
		max = base
	}
	if attempt < 0 {
		attempt = 0
	}

	d := base
	for i := 0; i < attempt; i++ {
		// Doubling past max/2 would reach or overflow the ceiling.
		if d > max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}
