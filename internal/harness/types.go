package harness

import (
	"fmt"
	"slices"
	"strings"
)

// Trace event kinds.
const (
	EventSpawn  = "spawn"
	EventMark   = "mark"
	EventFinish = "finish"
	EventFail   = "fail"
)

// EventKinds lists every event kind a trace can contain.
var EventKinds = []string{EventSpawn, EventMark, EventFinish, EventFail}

func isEventKind(s string) bool {
	return slices.Contains(EventKinds, s)
}

// TraceEvent is one observable thing that happened during a run.
type TraceEvent struct {
	Tick   int64  `json:"tick"`
	Task   string `json:"task"`
	Event  string `json:"event"`
	Detail string `json:"detail,omitempty"`
}

// String renders the event as "[tick] task event detail".
func (e TraceEvent) String() string {
	if e.Detail == "" {
		return fmt.Sprintf("[%d] %s %s", e.Tick, e.Task, e.Event)
	}
	return fmt.Sprintf("[%d] %s %s %s", e.Tick, e.Task, e.Event, e.Detail)
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Scenario is the name of the scenario that produced this result.
	Scenario string `json:"scenario"`

	// Pass indicates overall test success.
	// True if all assertions hold.
	Pass bool `json:"pass"`

	// Ticks is the number of ticks driven.
	Ticks int64 `json:"ticks"`

	// Trace contains all events in the order they happened.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Finished maps task id to the tick the scheduler removed it at.
	Finished map[string]int64 `json:"finished,omitempty"`

	// Failed maps task id to the failure code.
	Failed map[string]string `json:"failed,omitempty"`

	// running[tick][task] is the task's IsRunning at the end of tick.
	running map[int64]map[string]bool
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult(scenario string) *Result {
	return &Result{
		Scenario: scenario,
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
		Finished: make(map[string]int64),
		Failed:   make(map[string]string),
		running:  make(map[int64]map[string]bool),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends an event to the trace.
func (r *Result) AddEvent(tick int64, task, event, detail string) {
	r.Trace = append(r.Trace, TraceEvent{
		Tick:   tick,
		Task:   task,
		Event:  event,
		Detail: detail,
	})
}

// RunningAt reports whether task was running at the end of tick.
// Tasks that did not exist yet report false.
func (r *Result) RunningAt(task string, tick int64) bool {
	return r.running[tick][task]
}

func (r *Result) setRunning(tick int64, task string, running bool) {
	m, ok := r.running[tick]
	if !ok {
		m = make(map[string]bool)
		r.running[tick] = m
	}
	m[task] = running
}

// Render returns the text form of the trace used for golden files and
// CLI output: a "scenario: <name>" header and one event per line.
func (r *Result) Render() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "scenario: %s\n", r.Scenario)
	for _, e := range r.Trace {
		buf.WriteString(e.String())
		buf.WriteByte('\n')
	}
	return buf.String()
}
