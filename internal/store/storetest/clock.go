package storetest

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced clock for store and manager tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock frozen at start, truncated to microseconds so
// that every backend round-trips it exactly.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start.UTC().Truncate(time.Microsecond)}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
