package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", event)
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against the result and returns
// the failure messages in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return failures
}

func evaluateAssertion(result *Result, a Assertion) error {
	switch a.Type {
	case AssertFinishedAt:
		return assertFinishedAt(result, a)
	case AssertRunningAt:
		return assertRunningAt(result, a)
	case AssertFailed:
		return assertFailed(result, a)
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// assertFinishedAt checks the tick at which the scheduler removed a task
// that finished without error.
func assertFinishedAt(result *Result, a Assertion) error {
	tick, ok := result.Finished[a.Task]
	if ok && tick == a.Tick {
		return nil
	}

	actual := "never finished"
	if ok {
		actual = fmt.Sprintf("finished at tick %d", tick)
	} else if code, failed := result.Failed[a.Task]; failed {
		actual = fmt.Sprintf("failed with %s", code)
	}
	return &AssertionError{
		Type:     AssertFinishedAt,
		Expected: fmt.Sprintf("%s finished at tick %d", a.Task, a.Tick),
		Actual:   actual,
		Trace:    result.Trace,
	}
}

// assertRunningAt checks IsRunning as observed at the end of a tick.
func assertRunningAt(result *Result, a Assertion) error {
	got := result.RunningAt(a.Task, a.Tick)
	if got == *a.Running {
		return nil
	}
	return &AssertionError{
		Type:     AssertRunningAt,
		Expected: fmt.Sprintf("%s running=%t at tick %d", a.Task, *a.Running, a.Tick),
		Actual:   fmt.Sprintf("running=%t", got),
		Trace:    result.Trace,
	}
}

// assertFailed checks that a task failed, optionally with a specific code.
func assertFailed(result *Result, a Assertion) error {
	code, ok := result.Failed[a.Task]
	if ok && (a.Code == "" || a.Code == code) {
		return nil
	}

	expected := fmt.Sprintf("%s failed", a.Task)
	if a.Code != "" {
		expected = fmt.Sprintf("%s failed with %s", a.Task, a.Code)
	}
	actual := "did not fail"
	if ok {
		actual = fmt.Sprintf("failed with %s", code)
	}
	return &AssertionError{
		Type:     AssertFailed,
		Expected: expected,
		Actual:   actual,
		Trace:    result.Trace,
	}
}

// matches reports whether event satisfies the event/task/detail filter of an
// assertion. Empty filter fields match anything.
func matches(event TraceEvent, a Assertion) bool {
	if event.Event != a.Event {
		return false
	}
	if a.Task != "" && event.Task != a.Task {
		return false
	}
	if a.Detail != "" && event.Detail != a.Detail {
		return false
	}
	return true
}

// describe renders an assertion's event filter for error messages.
func describe(a Assertion) string {
	desc := a.Event
	if a.Task != "" {
		desc += " of " + a.Task
	}
	if a.Detail != "" {
		desc += " " + a.Detail
	}
	return desc
}

// assertTraceContains checks that at least one event matches.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if matches(event, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(a),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that marks appear in the specified order.
// Marks don't need to be consecutive (intervening events are allowed).
// Each mark matches its first occurrence after the previous mark's.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, event := range trace {
		if next == len(a.Marks) {
			break
		}
		if event.Event != EventMark || event.Detail != a.Marks[next] {
			continue
		}
		if a.Task != "" && event.Task != a.Task {
			continue
		}
		next++
	}

	if next == len(a.Marks) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("marks in order: %v", a.Marks),
		Actual:   fmt.Sprintf("missing or out of order: %s", a.Marks[next]),
		Trace:    trace,
	}
}

// assertTraceCount checks that matching events appear exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if matches(event, a) {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, describe(a)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}
