package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/scoro/internal/harness"
	"github.com/roach88/scoro/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Task     string // optional - filter to one task id
}

// RunSummary is one recorded run in the run listing.
type RunSummary struct {
	ID        string `json:"id"`
	Scenario  string `json:"scenario"`
	Policy    string `json:"policy"`
	Ticks     int64  `json:"ticks"`
	Pass      bool   `json:"pass"`
	CreatedAt string `json:"created_at"`
}

// TraceResult holds the trace of one recorded run.
type TraceResult struct {
	RunID    string        `json:"run_id"`
	Scenario string        `json:"scenario"`
	Task     string        `json:"task,omitempty"`
	Pass     bool          `json:"pass"`
	Errors   []string      `json:"errors,omitempty"`
	Events   []store.Event `json:"events"`
	Stats    TraceStats    `json:"stats"`
}

// TraceStats holds per-kind counts for the trace.
type TraceStats struct {
	TotalEvents int `json:"total_events"`
	Spawns      int `json:"spawns"`
	Marks       int `json:"marks"`
	Finishes    int `json:"finishes"`
	Failures    int `json:"failures"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace [run-id]",
		Short: "Show recorded runs and their traces",
		Long: `Show the trace of a run recorded with "scoro run --db".

Without a run id, lists every recorded run in recording order.

Examples:
  scoro trace --db ./runs.db
  scoro trace --db ./runs.db 0192f1c2-...
  scoro trace --db ./runs.db 0192f1c2-... --task worker#2
  scoro trace --db ./runs.db 0192f1c2-... --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runListRuns(opts, cmd)
			}
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Task, "task", "", "filter to a single task id")

	return cmd
}

// openExistingStore opens a database that must already exist; store.Open
// alone would create an empty one.
func openExistingStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}
	return store.Open(path)
}

func closeStore(opts *RootOptions, st *store.Store) {
	if err := st.Close(); err != nil {
		opts.logger().Error("error closing database", "error", err)
	}
}

func runListRuns(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return commandError(formatter, ErrCodeDatabase, "failed to open database", err)
	}
	defer closeStore(opts.RootOptions, st)

	runs, err := st.ListRuns(ctx)
	if err != nil {
		return commandError(formatter, ErrCodeDatabase, "failed to list runs", err)
	}

	summaries := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		summaries = append(summaries, RunSummary{
			ID:        r.ID,
			Scenario:  r.Scenario,
			Policy:    r.Policy,
			Ticks:     r.Ticks,
			Pass:      r.Pass,
			CreatedAt: r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	return formatter.Success(summaries, func(w io.Writer) {
		if len(summaries) == 0 {
			fmt.Fprintln(w, "No runs recorded.")
			return
		}
		for _, s := range summaries {
			fmt.Fprintf(w, "%s %s %s ticks=%d policy=%s %s\n",
				s.ID, verdict(s.Pass), s.Scenario, s.Ticks, s.Policy, s.CreatedAt)
		}
	})
}

func runTrace(opts *TraceOptions, runID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return commandError(formatter, ErrCodeDatabase, "failed to open database", err)
	}
	defer closeStore(opts.RootOptions, st)

	run, err := st.ReadRun(ctx, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return commandError(formatter, ErrCodeNotFound, fmt.Sprintf("run not found: %s", runID), err)
	}
	if err != nil {
		return commandError(formatter, ErrCodeDatabase, "failed to read run", err)
	}

	var events []store.Event
	if opts.Task != "" {
		events, err = st.ReadTaskEvents(ctx, runID, opts.Task)
	} else {
		events, err = st.ReadEvents(ctx, runID)
	}
	if err != nil {
		return commandError(formatter, ErrCodeDatabase, "failed to read events", err)
	}
	if events == nil {
		events = []store.Event{}
	}

	result := TraceResult{
		RunID:    run.ID,
		Scenario: run.Scenario,
		Task:     opts.Task,
		Pass:     run.Pass,
		Errors:   run.Errors,
		Events:   events,
		Stats:    traceStats(events),
	}

	return formatter.Success(result, func(w io.Writer) {
		writeTraceText(w, result, opts.Verbose)
	})
}

func traceStats(events []store.Event) TraceStats {
	stats := TraceStats{TotalEvents: len(events)}
	for _, e := range events {
		switch e.Kind {
		case harness.EventSpawn:
			stats.Spawns++
		case harness.EventMark:
			stats.Marks++
		case harness.EventFinish:
			stats.Finishes++
		case harness.EventFail:
			stats.Failures++
		}
	}
	return stats
}

func writeTraceText(w io.Writer, result TraceResult, verbose bool) {
	fmt.Fprintf(w, "run: %s\n", result.RunID)
	fmt.Fprintf(w, "scenario: %s (%s)\n", result.Scenario, verdict(result.Pass))
	if result.Task != "" {
		fmt.Fprintf(w, "task: %s\n", result.Task)
	}
	fmt.Fprintln(w)

	if len(result.Events) == 0 {
		fmt.Fprintln(w, "No events.")
	}
	for _, e := range result.Events {
		line := fmt.Sprintf("[%d] %s %s", e.Tick, e.Task, e.Kind)
		if e.Detail != "" {
			line += " " + e.Detail
		}
		if verbose {
			line = fmt.Sprintf("%4d %s", e.Index, line)
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Events: %d (spawn %d, mark %d, finish %d, fail %d)\n",
		result.Stats.TotalEvents, result.Stats.Spawns, result.Stats.Marks,
		result.Stats.Finishes, result.Stats.Failures)
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

func verdict(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
