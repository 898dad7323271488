package testutil

import (
	"sync"
	"time"
)

// Epoch is the starting instant for deterministic clocks.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Clock is a thread-safe fake wall clock for tests.
//
// Every call to Now advances the clock by step before returning it, so a
// zero step pins the clock at its start and a positive step makes every
// reading distinct. Combined with a revision clock, a pinned clock yields
// revisions start, start+1µs, start+2µs and so on.
type Clock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	now   time.Time
}

// NewClock creates a clock starting at start.
func NewClock(start time.Time, step time.Duration) *Clock {
	return &Clock{start: start, step: step, now: start}
}

// Now advances the clock by its step and returns the new time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// Current returns the time without advancing.
func (c *Clock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset moves the clock back to its start.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
