package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/scoro/internal/harness"
	"github.com/roach88/scoro/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// ReplayRunResult holds the replay result for a single run.
type ReplayRunResult struct {
	RunID         string `json:"run_id"`
	Scenario      string `json:"scenario"`
	Events        int    `json:"events"`
	Deterministic bool   `json:"deterministic"`
	Divergence    string `json:"divergence,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Runs             []ReplayRunResult `json:"runs"`
	TotalRuns        int               `json:"total_runs"`
	AllDeterministic bool              `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [run-id]",
		Short: "Re-run recorded scenarios and verify determinism",
		Long: `Re-run recorded scenarios from their stored source and compare the new
trace with the recorded one, event by event.

Without a run id, every recorded run is replayed.

Exit codes:
  0 - All replayed traces match
  1 - A trace or verdict diverged
  2 - Command error (database not found, run not found, etc.)

Examples:
  scoro replay --db ./runs.db
  scoro replay --db ./runs.db 0192f1c2-...
  scoro replay --db ./runs.db --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return runReplay(opts, runID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReplay(opts *ReplayOptions, runID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return commandError(formatter, ErrCodeDatabase, "failed to open database", err)
	}
	defer closeStore(opts.RootOptions, st)

	var runIDs []string
	if runID != "" {
		runIDs = []string{runID}
	} else {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return commandError(formatter, ErrCodeDatabase, "failed to list runs", err)
		}
		for _, r := range runs {
			runIDs = append(runIDs, r.ID)
		}
	}

	result := ReplayResult{
		Runs:             make([]ReplayRunResult, 0, len(runIDs)),
		TotalRuns:        len(runIDs),
		AllDeterministic: true,
	}

	for _, id := range runIDs {
		runResult, err := replayRun(ctx, opts, st, id)
		if errors.Is(err, sql.ErrNoRows) {
			return commandError(formatter, ErrCodeNotFound, fmt.Sprintf("run not found: %s", id), err)
		}
		if err != nil {
			return commandError(formatter, ErrCodeRun, fmt.Sprintf("failed to replay run %s", id), err)
		}
		formatter.VerboseLog("replayed %s: deterministic=%t", id, runResult.Deterministic)

		result.Runs = append(result.Runs, runResult)
		if !runResult.Deterministic {
			result.AllDeterministic = false
		}
	}

	text := func(w io.Writer) {
		writeReplayText(w, result)
	}
	if !result.AllDeterministic {
		if err := formatter.Failure(ErrCodeNondetermined, "replay diverged from recording", result, text); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return formatter.Success(result, text)
}

// replayRun re-parses a recorded scenario, runs it under the recorded
// failure policy and compares traces and verdicts.
func replayRun(ctx context.Context, opts *ReplayOptions, st *store.Store, runID string) (ReplayRunResult, error) {
	rec, err := st.ReadRecording(ctx, runID)
	if err != nil {
		return ReplayRunResult{}, err
	}

	scenario, err := harness.ParseScenario([]byte(rec.Run.Source), rec.Run.Format)
	if err != nil {
		return ReplayRunResult{}, fmt.Errorf("parse recorded scenario: %w", err)
	}
	scenario.FailurePolicy = rec.Run.Policy

	replayed, err := harness.RunContext(ctx, scenario, harness.WithLogger(opts.logger()))
	if err != nil {
		return ReplayRunResult{}, err
	}

	res := ReplayRunResult{
		RunID:         rec.Run.ID,
		Scenario:      rec.Run.Scenario,
		Events:        len(rec.Events),
		Deterministic: true,
	}
	if div := store.CompareEvents(rec.Events, toStoreEvents(replayed.Trace)); div != nil {
		res.Deterministic = false
		res.Divergence = div.String()
		return res, nil
	}
	if replayed.Pass != rec.Run.Pass {
		res.Deterministic = false
		res.Divergence = fmt.Sprintf("verdict: recorded pass=%t, replayed pass=%t", rec.Run.Pass, replayed.Pass)
	}
	return res, nil
}

func writeReplayText(w io.Writer, result ReplayResult) {
	if result.TotalRuns == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range result.Runs {
		if r.Deterministic {
			fmt.Fprintf(w, "✓ %s %s (%d events)\n", r.RunID, r.Scenario, r.Events)
			continue
		}
		fmt.Fprintf(w, "✗ %s %s\n", r.RunID, r.Scenario)
		fmt.Fprintf(w, "  %s\n", r.Divergence)
	}
	fmt.Fprintln(w)
	if result.AllDeterministic {
		fmt.Fprintf(w, "All %d run(s) replayed deterministically.\n", result.TotalRuns)
	} else {
		fmt.Fprintln(w, "Replay diverged from recording.")
	}
}
