package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// FailurePolicy decides what DriveOneTick does when a task fails.
type FailurePolicy int

const (
	// AbortTick removes the failing task and stops the pass immediately.
	// Tasks not yet visited are not stepped this tick.
	AbortTick FailurePolicy = iota

	// DropTask removes the failing task and continues the pass.
	// All failures of the pass are returned joined.
	DropTask
)

// String returns the policy name used in configuration.
func (p FailurePolicy) String() string {
	switch p {
	case AbortTick:
		return "abort"
	case DropTask:
		return "drop"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// ParseFailurePolicy converts a configuration string into a FailurePolicy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "abort":
		return AbortTick, nil
	case "drop":
		return DropTask, nil
	default:
		return AbortTick, fmt.Errorf("unknown failure policy %q: must be abort or drop", s)
	}
}

// Observer receives task lifecycle notifications from a Scheduler.
//
// Callbacks run synchronously inside Spawn and DriveOneTick and must not
// call back into the scheduler.
type Observer interface {
	TaskSpawned(t *Task, tick int64)
	TaskFinished(t *Task, tick int64)
	TaskFailed(t *Task, tick int64, err error)
}

// Scheduler owns the set of live tasks and advances each of them once per
// tick.
//
// INVARIANTS:
//   - every task in tasks is running (non-empty stack or pending wait)
//     until the next DriveOneTick observes otherwise and removes it
//   - a task is visited at most once per DriveOneTick
type Scheduler struct {
	tasks       []*Task
	ids         IDGenerator
	policy      FailurePolicy
	maxAdvances int
	observer    Observer
	logger      *slog.Logger
	driving     bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithIDGenerator sets the generator used by Spawn for task ids.
//
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Scheduler) {
		s.ids = g
	}
}

// WithFailurePolicy sets how DriveOneTick reacts to task failures.
//
// Default: AbortTick.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(s *Scheduler) {
		s.policy = p
	}
}

// WithMaxAdvances sets the per-step advance quota of spawned tasks.
//
// The quota counts frame advances within one Task.Step, including every
// descent into a called frame and every resume after a callee finishes.
// A legitimate chain nested deeper than about half the quota fails with
// ErrCodeQuotaExceeded just like a runaway loop does.
//
// Default: 10000 (DefaultMaxAdvances). Zero or less disables the quota.
func WithMaxAdvances(n int) Option {
	return func(s *Scheduler) {
		s.maxAdvances = n
	}
}

// WithObserver registers a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// NewScheduler creates an empty scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		ids:         UUIDv7Generator{},
		policy:      AbortTick,
		maxAdvances: DefaultMaxAdvances,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// Spawn creates a task with a generated id, starts it with root at tick
// now, and registers it as live.
//
// The first step runs synchronously, so the caller observes the effect of
// the root frame's first suspension point before Spawn returns. If that
// step already finished the task, it is still registered and removed on
// the next DriveOneTick.
//
// A failure in the first step is returned and the task is not registered.
func (s *Scheduler) Spawn(root Frame, now int64) (*Task, error) {
	return s.SpawnWithID(s.ids.Generate(), root, now)
}

// SpawnWithID is Spawn with a caller-chosen task id.
func (s *Scheduler) SpawnWithID(id string, root Frame, now int64) (*Task, error) {
	t := newTask(id, s.maxAdvances)
	if s.observer != nil {
		s.observer.TaskSpawned(t, now)
	}

	if _, err := t.Start(root, now); err != nil {
		s.logger.Warn("task failed on start",
			"task_id", id,
			"tick", now,
			"error", err,
		)
		if s.observer != nil {
			s.observer.TaskFailed(t, now, err)
		}
		return t, err
	}

	s.tasks = append(s.tasks, t)
	s.logger.Debug("task spawned",
		"task_id", id,
		"tick", now,
		"depth", t.Depth(),
		"live", len(s.tasks),
	)
	return t, nil
}

// DriveOneTick advances every live task by one step at tick now and
// removes the ones that finished.
//
// Tasks are visited in reverse registration order. Removal during the pass
// never causes another task to be skipped or visited twice. Tasks spawned
// during the pass (by frames of visited tasks) are not visited in it.
//
// Task failures are handled according to the FailurePolicy; every error
// returned carries the failing task's identity (see TaskErrors).
func (s *Scheduler) DriveOneTick(now int64) error {
	if s.driving {
		return errors.New("scheduler: DriveOneTick called re-entrantly")
	}
	s.driving = true
	defer func() { s.driving = false }()

	var failures []error
	for i := len(s.tasks) - 1; i >= 0; i-- {
		t := s.tasks[i]
		running, err := t.Step(now)
		if running {
			continue
		}

		s.tasks = slices.Delete(s.tasks, i, i+1)

		if err != nil {
			s.logger.Error("task failed",
				"task_id", t.ID(),
				"tick", now,
				"error", err,
			)
			if s.observer != nil {
				s.observer.TaskFailed(t, now, err)
			}
			if s.policy == AbortTick {
				return err
			}
			failures = append(failures, err)
			continue
		}

		s.logger.Debug("task finished", "task_id", t.ID(), "tick", now)
		if s.observer != nil {
			s.observer.TaskFinished(t, now)
		}
	}

	return errors.Join(failures...)
}

// Len returns the number of live tasks.
func (s *Scheduler) Len() int {
	return len(s.tasks)
}

// Tasks returns a snapshot of the live tasks in registration order.
func (s *Scheduler) Tasks() []*Task {
	return slices.Clone(s.tasks)
}
