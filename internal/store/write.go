package store

import (
	"context"
	"fmt"
	"time"
)

// WriteRun inserts a run record into the store.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
// A zero CreatedAt is set to the current time.
func (s *Store) WriteRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("write run: id is required")
	}

	errsJSON, err := marshalErrors(run.Errors)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	policy := run.Policy
	if policy == "" {
		policy = "abort"
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, scenario, format, source, policy, ticks, pass, errors, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Scenario,
		run.Format,
		run.Source,
		policy,
		run.Ticks,
		run.Pass,
		errsJSON,
		formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	return nil
}

// WriteEvents appends a run's trace in a single transaction.
// Event indexes are taken from slice positions, so events[i] is stored
// with idx i regardless of its Index field. Re-writing the same trace is a
// no-op.
//
// Note: The run referenced by runID must exist (foreign key constraint).
func (s *Store) WriteEvents(ctx context.Context, runID string, events []Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write events: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events
		(run_id, idx, tick, task, kind, detail)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, idx) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write events: prepare: %w", err)
	}
	defer stmt.Close()

	for i, e := range events {
		if _, err := stmt.ExecContext(ctx, runID, i, e.Tick, e.Task, e.Kind, e.Detail); err != nil {
			return fmt.Errorf("write events: event %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write events: commit: %w", err)
	}
	return nil
}

// RecordRun writes a run and its trace.
func (s *Store) RecordRun(ctx context.Context, run Run, events []Event) error {
	if err := s.WriteRun(ctx, run); err != nil {
		return err
	}
	return s.WriteEvents(ctx, run.ID, events)
}
