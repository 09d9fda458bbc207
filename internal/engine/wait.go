package engine

import "time"

// Predicate is a reusable wait condition polled by the host.
//
// The engine never polls a Predicate from Task.Step; a yielded Predicate
// would be just another Delay(). Use Until to wrap one as a frame, or hand
// it to the host loop (runner.Loop.Watch).
type Predicate interface {
	// KeepWaiting reports whether the wait is still in progress.
	KeepWaiting() bool
}

// WaitForTicks waits a fixed number of ticks of a TickSource.
//
// The deadline is captured on the first KeepWaiting call. Once the deadline
// has passed KeepWaiting returns false and the deadline is cleared, so the
// same value can be reused for another wait.
//
// Construct with NewWaitForTicks; the zero value has no tick source.
type WaitForTicks struct {
	ticks int64
	src   TickSource
	until int64 // noWake while no countdown is active
}

// NewWaitForTicks creates a tick-based wait against src.
func NewWaitForTicks(ticks int64, src TickSource) *WaitForTicks {
	return &WaitForTicks{ticks: ticks, src: src, until: noWake}
}

// Ticks returns the length of one wait.
func (w *WaitForTicks) Ticks() int64 {
	return w.ticks
}

// KeepWaiting implements Predicate.
func (w *WaitForTicks) KeepWaiting() bool {
	now := w.src.Current()
	if w.until == noWake {
		w.until = now + w.ticks
	}
	wait := now < w.until
	if !wait {
		w.until = noWake
	}
	return wait
}

// WaitForDuration waits a wall-clock duration.
//
// Same reuse semantics as WaitForTicks.
type WaitForDuration struct {
	Duration time.Duration

	now   func() time.Time
	until time.Time
}

// NewWaitForDuration creates a duration-based wait. A nil now uses time.Now.
func NewWaitForDuration(d time.Duration, now func() time.Time) *WaitForDuration {
	if now == nil {
		now = time.Now
	}
	return &WaitForDuration{Duration: d, now: now}
}

// KeepWaiting implements Predicate.
func (w *WaitForDuration) KeepWaiting() bool {
	now := w.now()
	if w.until.IsZero() {
		w.until = now.Add(w.Duration)
	}
	wait := now.Before(w.until)
	if !wait {
		w.until = time.Time{}
	}
	return wait
}
