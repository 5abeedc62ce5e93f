package testutil

import (
	"sync"
	"time"
)

// Epoch is the wall time at which every ManualClock starts.
var Epoch = time.Date(2026, 1, 5, 6, 0, 0, 0, time.UTC)

// ManualClock is a wall clock that only moves when told to.
//
// Engine ticks take wall time as an argument; driving them from a
// ManualClock makes elapsed times, timing windows and cron firings
// reproducible across runs.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock at Epoch.
func NewManualClock() *ManualClock {
	return &ManualClock{now: Epoch}
}

// Now returns the current time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
// Negative durations are ignored: the clock never goes back.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// Set moves the clock to Epoch plus seconds, if that is not in the past.
func (c *ManualClock) Set(seconds float64) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Epoch.Add(time.Duration(seconds * float64(time.Second)))
	if t.After(c.now) {
		c.now = t
	}
	return c.now
}

// Elapsed returns seconds since Epoch.
func (c *ManualClock) Elapsed() float64 {
	return c.Now().Sub(Epoch).Seconds()
}

// Reset moves the clock back to Epoch.
func (c *ManualClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Epoch
}
