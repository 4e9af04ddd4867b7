package host

import "sync/atomic"

// Clock is the monotonic logical clock stamping every processed call.
//
// Calls are ordered by seq, never by wall time, so logs from one host read in
// the order the Run loop saw them.
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

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Reset rewinds the clock to 0, so the same sequence of calls is numbered
// identically again.
func (c *Clock) Reset() {
	c.seq.Store(0)
}
