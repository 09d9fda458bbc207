package engine

import "sync/atomic"

// TickSource reports the current tick of the external time source.
//
// The engine only compares against it and never advances it.
type TickSource interface {
	Current() int64
}

// Clock is a monotonic tick counter.
//
// The embedder advances it exactly once between successive
// Scheduler.DriveOneTick calls.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// Reading the tick from another goroutine while a tick is being driven
// is allowed.
type Clock struct {
	tick atomic.Int64
}

// NewClock creates a new clock at tick 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock at a specific tick.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.tick.Store(start)
	return c
}

// Advance moves the clock forward by one tick and returns the new tick.
func (c *Clock) Advance() int64 {
	return c.tick.Add(1)
}

// Current returns the current tick without advancing.
func (c *Clock) Current() int64 {
	return c.tick.Load()
}
