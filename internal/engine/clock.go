package engine

import "sync/atomic"

// Clock numbers ticks.
//
// Every TickReport is stamped with a strictly increasing sequence number
// so persisted dispatch logs sort without wall-clock ties, and a restored
// engine continues the numbering where the snapshot left off.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations),
// though only the tick goroutine calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that resumes after start.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
