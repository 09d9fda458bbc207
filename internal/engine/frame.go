package engine

import "fmt"

// Frame is one resumable unit of step-wise computation.
//
// Each call to Advance runs the frame up to its next suspension point and
// reports either Finished() or Yielded(y). A returned error fails the
// owning Task; the engine never retries.
type Frame interface {
	Advance() (Step, error)
}

// FrameFunc adapts a plain function to the Frame interface.
//
// The function is responsible for keeping its own position between calls,
// typically in variables captured by the closure.
type FrameFunc func() (Step, error)

// Advance calls f.
func (f FrameFunc) Advance() (Step, error) {
	return f()
}

// Step is the result of advancing a Frame once.
type Step struct {
	yielded bool
	value   Yield
}

// Finished reports that the frame has no more work.
func Finished() Step {
	return Step{}
}

// Yielded reports that the frame suspended with y.
func Yielded(y Yield) Step {
	return Step{yielded: true, value: y}
}

// Done returns true if the frame finished.
func (s Step) Done() bool {
	return !s.yielded
}

// Value returns the yielded value. Meaningless if Done is true.
func (s Step) Value() Yield {
	return s.value
}

// YieldKind identifies which of the three yield shapes a Yield holds.
type YieldKind int

const (
	// YieldDelay resumes the frame no earlier than the next tick.
	YieldDelay YieldKind = iota
	// YieldCall pushes a nested frame and runs it within the same step.
	YieldCall
	// YieldAwait blocks until another Task stops running.
	YieldAwait
)

// String returns the kind name.
func (k YieldKind) String() string {
	switch k {
	case YieldDelay:
		return "delay"
	case YieldCall:
		return "call"
	case YieldAwait:
		return "await"
	default:
		return fmt.Sprintf("YieldKind(%d)", int(k))
	}
}

// Yield is the value a frame suspends with.
//
// The zero Yield is a Delay.
type Yield struct {
	kind  YieldKind
	frame Frame
	task  *Task
}

// Delay yields a generic one-tick delay marker.
func Delay() Yield {
	return Yield{kind: YieldDelay}
}

// Call yields a nested frame. A nil frame degrades to Delay.
func Call(f Frame) Yield {
	if f == nil {
		return Delay()
	}
	return Yield{kind: YieldCall, frame: f}
}

// Await yields a nested task to wait on. A nil task degrades to Delay.
//
// The waiting task only observes t; ownership stays with whoever spawned it.
func Await(t *Task) Yield {
	if t == nil {
		return Delay()
	}
	return Yield{kind: YieldAwait, task: t}
}

// Kind returns the yield shape.
func (y Yield) Kind() YieldKind {
	return y.kind
}

// Frame returns the nested frame for YieldCall, nil otherwise.
func (y Yield) Frame() Frame {
	return y.frame
}

// Task returns the awaited task for YieldAwait, nil otherwise.
func (y Yield) Task() *Task {
	return y.task
}

// sequenceFrame yields a fixed list of values and then finishes.
type sequenceFrame struct {
	values []Yield
	next   int
}

// Sequence returns a frame that yields each value in order, then finishes.
//
// Example:
//
//	// Wait two ticks, then run child to completion.
//	f := Sequence(Delay(), Delay(), Call(child))
func Sequence(values ...Yield) Frame {
	return &sequenceFrame{values: values}
}

func (s *sequenceFrame) Advance() (Step, error) {
	if s.next >= len(s.values) {
		return Finished(), nil
	}
	y := s.values[s.next]
	s.next++
	return Yielded(y), nil
}

// untilFrame polls a predicate once per tick.
type untilFrame struct {
	p Predicate
}

// Until returns a frame that yields Delay() while p keeps waiting and
// finishes as soon as it does not.
//
// This is how a Predicate is used from inside a task: yield
// Call(Until(p)). The first poll happens in the same step that pushed the
// frame.
func Until(p Predicate) Frame {
	return &untilFrame{p: p}
}

func (u *untilFrame) Advance() (Step, error) {
	if u.p != nil && u.p.KeepWaiting() {
		return Yielded(Delay()), nil
	}
	return Finished(), nil
}
