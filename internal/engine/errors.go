package engine

import (
	"errors"
	"fmt"
)

// ErrNilFrame is returned when a task is started without a root frame.
var ErrNilFrame = errors.New("root frame is nil")

// TaskError represents a failure of one specific task.
//
// Task errors include:
//   - Frame failure: a frame returned an error from Advance
//   - Self wait: a frame yielded Await of its own task
//   - Quota exceeded: one Step advanced more frames than allowed
//   - Nil frame: the task was started without a root frame
//
// Every TaskError carries the identity of the failing task so the
// embedder can attribute it, even when several tasks fail in one tick.
type TaskError struct {
	// Code identifies the error category.
	Code TaskErrorCode

	// TaskID identifies the failing task.
	TaskID string

	// Tick is the tick at which the failure happened.
	Tick int64

	// Depth is the frame stack depth at the time of failure.
	Depth int

	// Err is the underlying cause, if any.
	Err error
}

// TaskErrorCode categorizes task errors.
type TaskErrorCode string

const (
	// ErrCodeFrameFailed indicates a frame returned an error while advancing.
	ErrCodeFrameFailed TaskErrorCode = "FRAME_FAILED"

	// ErrCodeSelfWait indicates a frame yielded Await of its own task.
	ErrCodeSelfWait TaskErrorCode = "SELF_WAIT"

	// ErrCodeQuotaExceeded indicates one Step advanced too many frames.
	ErrCodeQuotaExceeded TaskErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeNilFrame indicates a task was started without a root frame.
	ErrCodeNilFrame TaskErrorCode = "NIL_FRAME"
)

// Error implements the error interface.
func (e *TaskError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: task %s at tick %d (depth=%d): %v", e.Code, e.TaskID, e.Tick, e.Depth, e.Err)
	}
	return fmt.Sprintf("%s: task %s at tick %d (depth=%d)", e.Code, e.TaskID, e.Tick, e.Depth)
}

// Unwrap returns the underlying cause.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// IsFrameError returns true if the error is a frame failure.
// Uses errors.As to handle wrapped errors.
func IsFrameError(err error) bool {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Code == ErrCodeFrameFailed
	}
	return false
}

// IsQuotaError returns true if the error is an advance quota violation.
// Matches both TaskError with ErrCodeQuotaExceeded and AdvancesExceededError.
func IsQuotaError(err error) bool {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Code == ErrCodeQuotaExceeded
	}
	var ae *AdvancesExceededError
	return errors.As(err, &ae)
}

// TaskErrors returns every TaskError contained in err.
//
// DriveOneTick joins per-task failures under the DropTask policy; this
// recovers each one with its task identity, also through wrappers such as
// runner.Loop's "tick N: ..." context. Returns nil if err holds none.
func TaskErrors(err error) []*TaskError {
	switch e := err.(type) {
	case nil:
		return nil
	case *TaskError:
		return []*TaskError{e}
	case interface{ Unwrap() []error }:
		var out []*TaskError
		for _, inner := range e.Unwrap() {
			out = append(out, TaskErrors(inner)...)
		}
		return out
	case interface{ Unwrap() error }:
		return TaskErrors(e.Unwrap())
	}
	return nil
}

func newFrameError(taskID string, tick int64, depth int, err error) *TaskError {
	return &TaskError{
		Code:   ErrCodeFrameFailed,
		TaskID: taskID,
		Tick:   tick,
		Depth:  depth,
		Err:    err,
	}
}
