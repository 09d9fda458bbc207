// Package runner embeds an engine.Scheduler in a tick loop.
//
// The Loop owns the tick clock and calls DriveOneTick exactly once per tick,
// either on demand (Tick) or paced by a ticker (Run). It is also the host
// side consumer of engine.Predicate values: Watch and Await poll a
// predicate once per tick outside of any task's frame stack.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/scoro/internal/engine"
)

// ErrStopped is returned by Await when the loop stops before the predicate
// is satisfied.
var ErrStopped = errors.New("runner: loop stopped")

// Config holds loop configuration.
type Config struct {
	// Interval between ticks in Run. Zero drives ticks back to back.
	Interval time.Duration

	// MaxTicks stops Run after this many ticks. Zero means unbounded.
	MaxTicks int64

	// StopWhenIdle stops Run once no tasks and no watchers remain.
	StopWhenIdle bool

	// BeforeTick runs after the clock advanced and before the scheduler is
	// driven.
	BeforeTick func(tick int64)

	// AfterTick runs after the scheduler was driven and watchers polled.
	// Tasks spawned here get their eager first step at this tick and are
	// first driven on the next one.
	AfterTick func(tick int64, err error)
}

// DefaultConfig returns sensible defaults: one tick every 16ms, unbounded.
func DefaultConfig() Config {
	return Config{Interval: 16 * time.Millisecond}
}

// watcher is a predicate registered through Watch.
type watcher struct {
	p    engine.Predicate
	done chan struct{}
}

// Loop drives a scheduler once per tick.
//
// Thread-safety: Spawn, IsRunning, Len, Watch and Tick are serialized by an
// internal mutex and may be called from any goroutine. Hooks run with the
// mutex held and must not call back into the Loop; they may use the
// scheduler passed to NewLoop directly.
type Loop struct {
	mu       sync.Mutex
	sched    *engine.Scheduler
	clock    *engine.Clock
	config   Config
	logger   *slog.Logger
	watchers []*watcher
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLoop creates a loop around sched. A nil clock starts at tick 0.
func NewLoop(sched *engine.Scheduler, clock *engine.Clock, cfg Config, logger *slog.Logger) *Loop {
	if clock == nil {
		clock = engine.NewClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		sched:  sched,
		clock:  clock,
		config: cfg,
		logger: logger.With("component", "runner"),
		stopCh: make(chan struct{}),
	}
}

// Clock returns the loop's tick source.
func (l *Loop) Clock() *engine.Clock {
	return l.clock
}

// Spawn starts a task at the current tick.
func (l *Loop) Spawn(root engine.Frame) (*engine.Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sched.Spawn(root, l.clock.Current())
}

// IsRunning reports whether t is running at the current tick.
func (l *Loop) IsRunning(t *engine.Task) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return t.IsRunning(l.clock.Current())
}

// Len returns the number of live tasks.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sched.Len()
}

// Watch registers p to be polled once now and once after every tick.
// The returned channel is closed when p stops waiting.
func (l *Loop) Watch(p engine.Predicate) <-chan struct{} {
	return l.watch(p).done
}

func (l *Loop) watch(p engine.Predicate) *watcher {
	w := &watcher{p: p, done: make(chan struct{})}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !p.KeepWaiting() {
		close(w.done)
		return w
	}
	l.watchers = append(l.watchers, w)
	return w
}

// unwatch drops w if it is still registered.
func (l *Loop) unwatch(w *watcher) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, cur := range l.watchers {
		if cur != w {
			continue
		}
		last := len(l.watchers) - 1
		copy(l.watchers[i:], l.watchers[i+1:])
		l.watchers[last] = nil
		l.watchers = l.watchers[:last]
		return
	}
}

// Await blocks until p stops waiting, ctx is done, or the loop stops.
// On ctx or stop the predicate is no longer polled.
func (l *Loop) Await(ctx context.Context, p engine.Predicate) error {
	w := l.watch(p)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		l.unwatch(w)
		return ctx.Err()
	case <-l.stopCh:
		l.unwatch(w)
		return ErrStopped
	}
}

// Tick advances the clock by one tick, drives the scheduler once and polls
// watchers. Returns the scheduler's error for this tick, if any.
func (l *Loop) Tick() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Advance()
	if l.config.BeforeTick != nil {
		l.config.BeforeTick(now)
	}

	err := l.sched.DriveOneTick(now)
	if err != nil {
		err = fmt.Errorf("tick %d: %w", now, err)
	}

	l.pollWatchers()

	if l.config.AfterTick != nil {
		l.config.AfterTick(now, err)
	}
	return err
}

// pollWatchers must be called with l.mu held.
func (l *Loop) pollWatchers() {
	kept := l.watchers[:0]
	for _, w := range l.watchers {
		if w.p.KeepWaiting() {
			kept = append(kept, w)
			continue
		}
		close(w.done)
	}
	for i := len(kept); i < len(l.watchers); i++ {
		l.watchers[i] = nil
	}
	l.watchers = kept
}

func (l *Loop) idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sched.Len() == 0 && len(l.watchers) == 0
}

// Run drives ticks until ctx is cancelled, Stop is called, MaxTicks is
// reached, or (with StopWhenIdle) nothing is left to run.
//
// ERROR HANDLING: a failing tick is logged and the loop continues. The
// scheduler has already removed the failing task.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("loop started",
		"interval", l.config.Interval,
		"max_ticks", l.config.MaxTicks,
	)

	var tickC <-chan time.Time
	if l.config.Interval > 0 {
		ticker := time.NewTicker(l.config.Interval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	var ticks int64
	for {
		if l.config.MaxTicks > 0 && ticks >= l.config.MaxTicks {
			l.logger.Info("loop stopping (max ticks)", "ticks", ticks)
			return nil
		}
		if l.config.StopWhenIdle && l.idle() {
			l.logger.Info("loop stopping (idle)", "ticks", ticks)
			return nil
		}

		if tickC != nil {
			select {
			case <-ctx.Done():
				l.logger.Info("loop stopping (context cancelled)")
				return ctx.Err()
			case <-l.stopCh:
				l.logger.Info("loop stopping (stop called)")
				return nil
			case <-tickC:
			}
		} else {
			select {
			case <-ctx.Done():
				l.logger.Info("loop stopping (context cancelled)")
				return ctx.Err()
			case <-l.stopCh:
				l.logger.Info("loop stopping (stop called)")
				return nil
			default:
			}
		}

		if err := l.Tick(); err != nil {
			l.logger.Error("tick error", "error", err)
		}
		ticks++
	}
}

// Stop makes Run return and releases Await callers. Safe to call more than
// once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}
