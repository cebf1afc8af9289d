package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockAdvanceFiresDueTimers(t *testing.T) {
	c := NewFake(epoch)
	var fired []string

	c.AfterFunc(2*time.Second, func() { fired = append(fired, "two") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "one") })
	c.AfterFunc(5*time.Second, func() { fired = append(fired, "five") })
	require.Equal(t, 3, c.Pending())

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"one", "two"}, fired)
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, epoch.Add(2*time.Second), c.Now())

	c.Advance(3 * time.Second)
	assert.Equal(t, []string{"one", "two", "five"}, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeClockStop(t *testing.T) {
	c := NewFake(epoch)
	called := false
	timer := c.AfterFunc(time.Second, func() { called = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(time.Minute)
	assert.False(t, called)
}

func TestFakeClockCallbackSchedulesTimer(t *testing.T) {
	c := NewFake(epoch)
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, tick)
		}
	}
	c.AfterFunc(time.Second, tick)

	// A timer scheduled from a callback is relative to the advanced time.
	for i := 1; i <= 3; i++ {
		c.Advance(time.Second)
		assert.Equal(t, i, count)
	}
	c.Advance(time.Minute)
	assert.Equal(t, 3, count)
}

func TestFakeClockZeroDurationRunsImmediately(t *testing.T) {
	c := NewFake(epoch)
	called := false
	timer := c.AfterFunc(0, func() { called = true })

	assert.True(t, called)
	assert.False(t, timer.Stop())
}

func TestFakeClockWaitForTimers(t *testing.T) {
	c := NewFake(epoch)
	go c.AfterFunc(time.Second, func() {})

	done := make(chan struct{})
	go func() {
		c.WaitForTimers(1)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForTimers did not return")
	}
}
