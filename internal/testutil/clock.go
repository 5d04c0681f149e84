package testutil

import (
	"sync"
	"time"
)

// Clock is a manually driven clock for tests. Tick advances a sequence
// counter; Now reports a wall time that only moves on Advance.
//
// All methods are safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	seq int64
	now time.Time
}

// NewClock creates a clock whose wall time starts at start and whose
// sequence starts at 0. The first Tick returns 1.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Tick advances the sequence and returns it.
func (c *Clock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Seq returns the sequence without advancing it.
func (c *Clock) Seq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Now returns the current wall time. It matches func() time.Time so it can
// stand in for time.Now.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the wall time forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
