// Package engine implements the SCORO cooperative tick scheduler.
//
// The engine runs resumable computations ("frames") across discrete ticks
// without any native coroutine support. Each Task owns an explicit stack of
// frames; the top of the stack is the frame currently executing.
//
// ARCHITECTURE:
//
// Frame Stack:
// A Frame is advanced one step at a time. Each step either finishes the
// frame or yields one of three values:
// - Call(frame): push a nested frame and keep going in the same step
// - Await(task): block until another Task stops running
// - Delay(): resume no earlier than the next tick
//
// Task Stepping:
// Task.Step is evaluated once per tick. Finished frames are popped and
// nested frames are pushed eagerly within the same Step call, so
// unwinding and descent cost zero ticks. Every other suspension costs at
// least one full tick.
//
// Scheduler:
// The Scheduler owns all live tasks and advances each exactly once per
// DriveOneTick call, removing the ones that finished.
//
// CRITICAL PATTERNS:
//
// Explicit Tick:
// The current tick is passed into Step, IsRunning and DriveOneTick as a
// value. The engine never reads a global clock.
//
// No Recursion:
// Same-tick unwinding and descent run in a loop inside Step. A frame chain
// of any depth finishes without growing the Go call stack.
//
// Single-Threaded:
// Task and Scheduler are not safe for concurrent use. Embedders that need
// to submit work from other goroutines go through runner.Loop.
package engine
