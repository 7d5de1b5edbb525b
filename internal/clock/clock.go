// Package clock abstracts time so polling loops can be driven without real delays in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the subset of the time package used by the orchestrator.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Stepping is a fake Clock whose After fires immediately and advances the
// current time by the requested duration. A loop that polls every interval
// until a deadline therefore runs to the deadline instantly.
type Stepping struct {
	mu  sync.Mutex
	now time.Time
}

// NewStepping creates a stepping clock starting at start.
func NewStepping(start time.Time) *Stepping {
	return &Stepping{now: start}
}

// Now returns the current fake time.
func (c *Stepping) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After advances the clock by d and returns a channel that already holds the new time.
func (c *Stepping) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Advance moves the clock forward without a waiter.
func (c *Stepping) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
