package engine

// noWake marks that no tick delay is pending.
const noWake int64 = -1

// Task is an independently schedulable chain of frames.
//
// A Task is only obtainable already started (NewTask or Scheduler.Spawn),
// so callers never observe one without a root frame. The zero Task
// behaves as Done.
//
// INVARIANTS:
//   - frames is non-empty while the task has unfinished work
//   - waitingOn is only set while frames is non-empty
//   - waitingOn is never t itself
type Task struct {
	id        string
	frames    []Frame // top of stack is the last element
	waitingOn *Task   // observed, not owned
	wakeTick  int64
	quota     advanceQuota
}

// NewTask creates a task with the default advance quota and starts it
// with root at tick now.
//
// The returned task is usable even when err is non-nil: a frame failure
// during the first step leaves it Done.
func NewTask(id string, root Frame, now int64) (*Task, error) {
	t := newTask(id, DefaultMaxAdvances)
	if _, err := t.Start(root, now); err != nil {
		return t, err
	}
	return t, nil
}

func newTask(id string, maxAdvances int) *Task {
	return &Task{
		id:       id,
		wakeTick: noWake,
		quota:    advanceQuota{limit: maxAdvances},
	}
}

// ID returns the task identity.
func (t *Task) ID() string {
	return t.id
}

// Depth returns the current frame stack depth.
func (t *Task) Depth() int {
	return len(t.frames)
}

// WaitingOn returns the task this one is blocked on, or nil.
func (t *Task) WaitingOn() *Task {
	return t.waitingOn
}

// Start resets the stack to contain exactly root, clears any pending wait,
// and performs one step immediately.
//
// Calling Start on a live task discards its whole stack and any pending
// wait. Discarded frames are dropped without teardown.
//
// Returns the result of the first step.
func (t *Task) Start(root Frame, now int64) (bool, error) {
	t.reset()
	if root == nil {
		return false, &TaskError{
			Code:   ErrCodeNilFrame,
			TaskID: t.id,
			Tick:   now,
			Err:    ErrNilFrame,
		}
	}
	t.frames = append(t.frames, root)
	return t.Step(now)
}

// Step advances the task by one logical step at tick now.
//
// Returns true while the task still has work (or a pending wait) and false
// once it is Done. A frame failure returns false with a *TaskError; the
// task is Done afterwards.
func (t *Task) Step(now int64) (bool, error) {
	// Delayed: a Delay() yield always costs at least one full tick, even if
	// Step is called again within the same tick.
	if t.wakeTick != noWake {
		if t.wakeTick > now {
			return true, nil
		}
		t.wakeTick = noWake
	}

	// Waiting on nested task. Completion costs no extra tick.
	if t.waitingOn != nil {
		if t.waitingOn.IsRunning(now) {
			return true, nil
		}
		t.waitingOn = nil
	}

	t.quota.current = 0
	for len(t.frames) > 0 {
		if err := t.quota.check(t.id); err != nil {
			depth := len(t.frames)
			t.reset()
			return false, &TaskError{
				Code:   ErrCodeQuotaExceeded,
				TaskID: t.id,
				Tick:   now,
				Depth:  depth,
				Err:    err,
			}
		}

		top := t.frames[len(t.frames)-1]
		step, err := top.Advance()
		if err != nil {
			depth := len(t.frames)
			t.reset()
			return false, newFrameError(t.id, now, depth, err)
		}

		if step.Done() {
			// Unwind to the caller within the same step.
			t.pop()
			continue
		}

		y := step.Value()
		switch y.Kind() {
		case YieldCall:
			// Descend; the nested frame's first suspension point is
			// observed within this same step.
			t.frames = append(t.frames, y.Frame())
			continue

		case YieldAwait:
			if y.Task() == t {
				depth := len(t.frames)
				t.reset()
				return false, &TaskError{
					Code:   ErrCodeSelfWait,
					TaskID: t.id,
					Tick:   now,
					Depth:  depth,
				}
			}
			t.waitingOn = y.Task()
			return true, nil

		default:
			t.wakeTick = now + 1
			return true, nil
		}
	}

	return false, nil
}

// IsRunning reports whether the task still has work or a pending wait at
// tick now. It has no side effects.
func (t *Task) IsRunning(now int64) bool {
	if t.wakeTick > now {
		return true
	}
	if len(t.frames) > 0 {
		return true
	}
	if t.waitingOn != nil && t.waitingOn.IsRunning(now) {
		return true
	}
	return false
}

func (t *Task) pop() {
	last := len(t.frames) - 1
	// Nil out the slot so the popped frame can be collected.
	t.frames[last] = nil
	t.frames = t.frames[:last]
}

func (t *Task) reset() {
	for i := range t.frames {
		t.frames[i] = nil
	}
	t.frames = t.frames[:0]
	t.waitingOn = nil
	t.wakeTick = noWake
}
