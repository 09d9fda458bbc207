package testutil

import "sync"

// ManualClock is a tick source that tests advance by hand.
//
// Unlike engine.Clock, ManualClock can be set and reset, so the same
// scenario can run several times with identical ticks. It satisfies
// engine.TickSource.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu   sync.Mutex
	tick int64
}

// NewManualClock creates a new clock at tick 0.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// Advance moves the clock forward one tick and returns the new tick.
func (c *ManualClock) Advance() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick++
	return c.tick
}

// Current returns the current tick.
func (c *ManualClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// Set jumps to an arbitrary tick. Ticks may not go backwards.
func (c *ManualClock) Set(tick int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tick < c.tick {
		panic("ManualClock: tick moved backwards")
	}
	c.tick = tick
}

// Reset returns the clock to tick 0 for test reuse.
func (c *ManualClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick = 0
}
