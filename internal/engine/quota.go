package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxAdvances is the default maximum number of frame advances a
// single Task.Step may perform.
//
// Pushes and pops are free in ticks, so a frame that keeps yielding
// Call(...) would otherwise spin forever inside one Step. Every level of a
// nested call chain costs one advance on the way down and one on resume,
// so nesting deeper than about half of this within one Step also fails;
// raise or disable the quota with WithMaxAdvances for such workloads.
const DefaultMaxAdvances = 10000

// advanceQuota counts frame advances within one Step call.
type advanceQuota struct {
	limit   int
	current int
}

// check increments the advance counter and validates against the limit.
// A limit of zero or less disables the quota.
func (q *advanceQuota) check(taskID string) error {
	q.current++
	if q.limit > 0 && q.current > q.limit {
		return &AdvancesExceededError{
			TaskID:   taskID,
			Advances: q.current,
			Limit:    q.limit,
		}
	}
	return nil
}

// AdvancesExceededError is the cause of an ErrCodeQuotaExceeded TaskError.
type AdvancesExceededError struct {
	TaskID   string // The task that exceeded the quota
	Advances int    // Number of advances attempted
	Limit    int    // Maximum allowed advances
}

// Error implements the error interface.
func (e *AdvancesExceededError) Error() string {
	return fmt.Sprintf("task %s exceeded max advances per step: %d advances > %d limit",
		e.TaskID, e.Advances, e.Limit)
}

// IsAdvancesExceededError returns true if the error is an AdvancesExceededError.
// Uses errors.As to handle wrapped errors.
func IsAdvancesExceededError(err error) bool {
	var ae *AdvancesExceededError
	return errors.As(err, &ae)
}
