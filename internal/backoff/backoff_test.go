package backoff

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestDelay_DefaultSchedule(t *testing.T) {
	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
	}

	for attempt, expected := range want {
		if got := Delay(attempt, DefaultBase, DefaultMax); got != expected {
			t.Errorf("attempt %d: expected %v, got %v", attempt, expected, got)
		}
	}
}

func TestDelay_EdgeCases(t *testing.T) {
	testCases := []struct {
		name    string
		attempt int
		base    time.Duration
		max     time.Duration
		want    time.Duration
	}{
		{name: "zero base", attempt: 3, base: 0, max: time.Second, want: 0},
		{name: "negative attempt", attempt: -2, base: time.Second, max: time.Minute, want: time.Second},
		{name: "max below base", attempt: 4, base: time.Second, max: time.Millisecond, want: time.Second},
		{name: "huge attempt", attempt: 10000, base: time.Second, max: time.Minute, want: time.Minute},
		{name: "exact ceiling", attempt: 2, base: time.Second, max: 4 * time.Second, want: 4 * time.Second},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Delay(tc.attempt, tc.base, tc.max); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

// Delays never decrease across consecutive attempts and never exceed max.
func TestDelayMonotonicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("delay is non-decreasing and bounded by max", prop.ForAll(
		func(attempt int, baseMs int64, maxMs int64) bool {
			base := time.Duration(baseMs) * time.Millisecond
			max := time.Duration(maxMs) * time.Millisecond

			cur := Delay(attempt, base, max)
			next := Delay(attempt+1, base, max)
			ceiling := max
			if ceiling < base {
				ceiling = base
			}
			return cur <= next && next <= ceiling && cur >= base
		},
		gen.IntRange(0, 100),
		gen.Int64Range(1, 10000),
		gen.Int64Range(1, 120000),
	))

	properties.TestingRun(t)
}
