package store

import (
	"context"
	"fmt"
)

const runColumns = `seq, id, scenario, format, source, policy, ticks, pass, errors, created_at`

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run       Run
		errsJSON  string
		createdAt string
	)
	err := row.Scan(
		&run.Seq,
		&run.ID,
		&run.Scenario,
		&run.Format,
		&run.Source,
		&run.Policy,
		&run.Ticks,
		&run.Pass,
		&errsJSON,
		&createdAt,
	)
	if err != nil {
		return Run{}, err
	}

	if run.Errors, err = unmarshalErrors(errsJSON); err != nil {
		return Run{}, err
	}
	if run.CreatedAt, err = parseTime(createdAt); err != nil {
		return Run{}, err
	}
	return run, nil
}

// ReadRun retrieves a single run by ID.
// Returns an error wrapping sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns all runs ordered by seq ASC.
// Returns an empty slice (not nil) if the store holds no runs.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// ReadEvents returns a run's trace ordered by idx ASC.
// Returns an empty slice (not nil) if the run has no events.
func (s *Store) ReadEvents(ctx context.Context, runID string) ([]Event, error) {
	return s.readEvents(ctx, `
		SELECT idx, tick, task, kind, detail
		FROM events
		WHERE run_id = ?
		ORDER BY idx ASC
	`, runID)
}

// ReadTaskEvents returns the events of one task within a run, ordered by
// idx ASC.
func (s *Store) ReadTaskEvents(ctx context.Context, runID, task string) ([]Event, error) {
	return s.readEvents(ctx, `
		SELECT idx, tick, task, kind, detail
		FROM events
		WHERE run_id = ? AND task = ?
		ORDER BY idx ASC
	`, runID, task)
}

func (s *Store) readEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Index, &e.Tick, &e.Task, &e.Kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}
