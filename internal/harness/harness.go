package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/scoro/internal/engine"
	"github.com/roach88/scoro/internal/runner"
)

// RunOption configures a scenario run.
type RunOption func(*runConfig)

type runConfig struct {
	interval time.Duration
	logger   *slog.Logger
}

// WithInterval paces ticks in real time through runner.Loop.Run instead
// of driving them back to back. The trace is identical either way.
func WithInterval(d time.Duration) RunOption {
	return func(c *runConfig) {
		c.interval = d
	}
}

// WithLogger sets the logger for the scheduler and loop.
// Default: logs are discarded.
func WithLogger(l *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = l
	}
}

// Harness executes one scenario. It is the scheduler's Observer and the
// factory for scripted frames.
//
// Frames spawn through the scheduler directly: they run inside
// DriveOneTick or an AfterTick hook, where the loop's mutex is held.
type Harness struct {
	scenario  *Scenario
	sched     *engine.Scheduler
	loop      *runner.Loop
	templates map[string]*TaskSpec
	instances map[string]int
	latest    map[string]*engine.Task
	all       []*engine.Task
	result    *Result
	logger    *slog.Logger
}

// Run executes a scenario with ticks driven back to back.
func Run(scenario *Scenario, opts ...RunOption) (*Result, error) {
	return RunContext(context.Background(), scenario, opts...)
}

// RunContext executes a scenario and returns the result.
//
// Execution flow:
//  1. Spawn every non-deferred task with spawn_at 0 at tick 0
//  2. Drive scenario.Ticks ticks; after each drive spawn the tasks due at
//     that tick and snapshot every task's IsRunning
//  3. Evaluate assertions against the trace
//
// Task failures are part of the trace, not errors. An error is returned only
// when the run itself could not complete (cancelled context, bad policy).
func RunContext(ctx context.Context, scenario *Scenario, opts ...RunOption) (*Result, error) {
	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	policy, err := engine.ParseFailurePolicy(scenario.FailurePolicy)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		scenario:  scenario,
		templates: make(map[string]*TaskSpec, len(scenario.Tasks)),
		instances: make(map[string]int),
		latest:    make(map[string]*engine.Task),
		result:    NewResult(scenario.Name),
		logger:    cfg.logger.With("scenario", scenario.Name),
	}
	for i := range scenario.Tasks {
		h.templates[scenario.Tasks[i].Name] = &scenario.Tasks[i]
	}

	schedOpts := []engine.Option{
		engine.WithIDGenerator(engine.NewSequentialGenerator("task")),
		engine.WithFailurePolicy(policy),
		engine.WithObserver(h),
		engine.WithLogger(cfg.logger),
	}
	if scenario.MaxAdvances > 0 {
		schedOpts = append(schedOpts, engine.WithMaxAdvances(scenario.MaxAdvances))
	}
	h.sched = engine.NewScheduler(schedOpts...)

	h.loop = runner.NewLoop(h.sched, nil, runner.Config{
		Interval:  cfg.interval,
		MaxTicks:  scenario.Ticks,
		AfterTick: h.afterTick,
	}, cfg.logger)

	h.spawnDue(0)
	h.snapshot(0)

	if cfg.interval > 0 {
		if scenario.Ticks > 0 {
			if err := h.loop.Run(ctx); err != nil {
				return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
			}
		}
	} else {
		for i := int64(0); i < scenario.Ticks; i++ {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
			}
			if err := h.loop.Tick(); err != nil {
				h.logger.Debug("tick failed", "error", err)
			}
		}
	}
	h.result.Ticks = h.loop.Clock().Current()

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}

	h.logger.Info("scenario finished",
		"ticks", h.result.Ticks,
		"events", len(h.result.Trace),
		"pass", h.result.Pass,
	)
	return h.result, nil
}

func (h *Harness) afterTick(tick int64, _ error) {
	h.spawnDue(tick)
	h.snapshot(tick)
}

// spawnDue spawns the non-deferred tasks whose spawn_at is tick.
func (h *Harness) spawnDue(tick int64) {
	for _, spec := range h.scenario.Tasks {
		if !spec.Deferred && spec.SpawnAt == tick {
			h.spawn(spec.Name)
		}
	}
}

// snapshot records IsRunning of every task spawned so far.
func (h *Harness) snapshot(tick int64) {
	for _, t := range h.all {
		h.result.setRunning(tick, t.ID(), t.IsRunning(tick))
	}
}

// spawn starts a new instance of the named template at the current tick.
// A failure on start is already recorded by the observer; the returned task
// is then done, so awaiting it costs one step.
func (h *Harness) spawn(name string) *engine.Task {
	spec := h.templates[name]
	h.instances[name]++
	id := name
	if n := h.instances[name]; n > 1 {
		id = fmt.Sprintf("%s#%d", name, n)
	}

	f := &scriptFrame{h: h, owner: id, steps: spec.Steps}
	t, err := h.sched.SpawnWithID(id, f, h.now())
	if err != nil {
		h.logger.Debug("spawn failed", "task_id", id, "error", err)
	}
	h.latest[name] = t
	h.all = append(h.all, t)
	return t
}

func (h *Harness) now() int64 {
	return h.loop.Clock().Current()
}

// TaskSpawned implements engine.Observer.
func (h *Harness) TaskSpawned(t *engine.Task, tick int64) {
	h.result.AddEvent(tick, t.ID(), EventSpawn, "")
}

// TaskFinished implements engine.Observer.
func (h *Harness) TaskFinished(t *engine.Task, tick int64) {
	h.result.Finished[t.ID()] = tick
	h.result.AddEvent(tick, t.ID(), EventFinish, "")
}

// TaskFailed implements engine.Observer.
func (h *Harness) TaskFailed(t *engine.Task, tick int64, err error) {
	code := "UNKNOWN"
	if failures := engine.TaskErrors(err); len(failures) > 0 {
		code = string(failures[0].Code)
	}
	h.result.Failed[t.ID()] = code
	h.result.AddEvent(tick, t.ID(), EventFail, code)
}

// scriptFrame runs a list of scripted steps as an engine.Frame.
type scriptFrame struct {
	h       *Harness
	owner   string
	steps   []StepSpec
	pc      int
	pending int // delays left in the current delay step
}

// Advance runs steps until one suspends. Marks and spawns do not suspend.
func (f *scriptFrame) Advance() (engine.Step, error) {
	for f.pc < len(f.steps) {
		st := f.steps[f.pc]
		switch st.kind() {
		case "delay":
			if f.pending == 0 {
				f.pending = st.Delay
			}
			f.pending--
			if f.pending == 0 {
				f.pc++
			}
			return engine.Yielded(engine.Delay()), nil

		case "mark":
			f.pc++
			f.h.result.AddEvent(f.h.now(), f.owner, EventMark, st.Mark)

		case "call":
			f.pc++
			child := &scriptFrame{h: f.h, owner: f.owner, steps: f.h.scenario.Frames[st.Call]}
			return engine.Yielded(engine.Call(child)), nil

		case "spawn":
			f.pc++
			f.h.spawn(st.Spawn)

		case "await":
			f.pc++
			return engine.Yielded(engine.Await(f.h.spawn(st.Await))), nil

		case "join":
			f.pc++
			// No instance yet degrades to a one tick delay.
			return engine.Yielded(engine.Await(f.h.latest[st.Join])), nil

		case "wait_ticks":
			f.pc++
			wait := engine.NewWaitForTicks(st.WaitTicks, f.h.loop.Clock())
			return engine.Yielded(engine.Call(engine.Until(wait))), nil

		case "fail":
			f.pc++
			return engine.Step{}, errors.New(st.Fail)

		default:
			return engine.Step{}, fmt.Errorf("step %d: no action set", f.pc)
		}
	}
	return engine.Finished(), nil
}
