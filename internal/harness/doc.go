// Package harness runs scripted scheduler scenarios and checks their traces.
//
// A scenario declares named frames and task templates built from scripted
// steps, a number of ticks to drive, and assertions over the resulting
// trace. Runs are fully deterministic: task ids come from template names,
// the tick clock starts at 0, and nothing depends on wall time.
//
// # Scenario Format
//
// Scenarios are YAML (strict fields) or CUE files:
//
//	name: nested_await
//	description: "A waits for B"
//	ticks: 3
//	failure_policy: abort
//	frames:
//	  pause:
//	    - delay: 1
//	tasks:
//	  - name: a
//	    steps:
//	      - mark: start
//	      - await: b
//	      - mark: done
//	  - name: b
//	    deferred: true
//	    steps:
//	      - call: pause
//	      - delay: 1
//	assertions:
//	  - type: finished_at
//	    task: a
//	    tick: 3
//
// # Steps
//
//   - delay: n yields n one-tick delays
//   - mark: label records a mark event without suspending
//   - call: frame runs a named frame as a nested frame
//   - spawn: task starts a new instance of a template without waiting
//   - await: task starts a new instance and waits for it
//   - join: task waits for the latest instance of a template
//   - wait_ticks: n waits on a tick predicate through engine.Until
//   - fail: message fails the task with an error
//
// # Assertion Types
//
//   - finished_at: task was removed as finished at tick
//   - running_at: task's IsRunning at the end of tick equals running
//   - failed: task failed, optionally with code
//   - trace_contains: an event (optionally of task, with detail) exists
//   - trace_order: marks appear in the given order
//   - trace_count: an event appears exactly count times
//
// # Trace
//
// Every run yields a trace of "[tick] task event detail" lines. Golden files
// in testdata/golden hold the rendered trace headed by "scenario: <name>".
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/nested_await.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
