package engine

import "sync/atomic"

// Clock is a monotonic logical counter.
//
// The engine keeps two: one numbers reconciliation cycles, the other numbers
// boundary operations. Results are matched to their issuer by these numbers,
// never by wall-clock time, so a stale result cannot be confused with a fresh
// one.
//
// Clock is safe for concurrent use, although only the Run loop calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific value. Used to resume
// cycle numbering from the journal after a restart.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current value without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
