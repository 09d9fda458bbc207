package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/scoro/internal/engine"
	"github.com/roach88/scoro/internal/harness"
	"github.com/roach88/scoro/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Interval time.Duration
	Policy   string

	// RunIDs allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.IDGenerator
}

// RunOutput is the JSON payload of the run command.
type RunOutput struct {
	RunID  string          `json:"run_id,omitempty"`
	Policy string          `json:"policy"`
	Result *harness.Result `json:"result"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a scenario on the scheduler",
		Long: `Run a scenario file (YAML or CUE) on the tick scheduler and print
its trace and verdict.

With --db the run, its source and its trace are recorded so they can be
inspected with "scoro trace" and checked with "scoro replay".

With --interval ticks are paced on a wall-clock ticker; Ctrl-C stops the
run early. The trace does not depend on pacing.

Exit codes:
  0 - All assertions held
  1 - One or more assertions failed
  2 - Command error (unreadable scenario, database error, etc.)

Examples:
  scoro run ./testdata/scenarios/nested_await.yaml
  scoro run --db ./runs.db --policy drop ./scenarios/failure.cue
  scoro run --interval 100ms ./scenarios/quota.cue --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run in this SQLite database")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "wall-clock pacing between ticks (0 drives ticks back to back)")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "override the scenario's failure policy (abort|drop)")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	logger := opts.logger().With("component", "cli", "command", "run")

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return commandError(f, ErrCodeLoad, "failed to load scenario", err)
	}

	if opts.Policy != "" {
		if _, err := engine.ParseFailurePolicy(opts.Policy); err != nil {
			return commandError(f, ErrCodeLoad, "invalid --policy", err)
		}
		scenario.FailurePolicy = opts.Policy
	}
	policy, err := engine.ParseFailurePolicy(scenario.FailurePolicy)
	if err != nil {
		return commandError(f, ErrCodeLoad, "invalid failure policy", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Debug("running scenario", "path", path, "scenario", scenario.Name, "policy", policy)
	result, err := harness.RunContext(ctx, scenario,
		harness.WithInterval(opts.Interval),
		harness.WithLogger(opts.logger()),
	)
	if err != nil {
		return commandError(f, ErrCodeRun, "scenario execution failed", err)
	}

	out := RunOutput{Result: result, Policy: policy.String()}

	if opts.Database != "" {
		runID, err := recordRun(ctx, opts, scenario, policy.String(), result)
		if err != nil {
			return commandError(f, ErrCodeDatabase, "failed to record run", err)
		}
		out.RunID = runID
		logger.Info("run recorded", "run_id", runID, "db", opts.Database)
	}

	text := func(w io.Writer) {
		fmt.Fprint(w, result.Render())
		if out.RunID != "" {
			fmt.Fprintf(w, "run: %s\n", out.RunID)
		}
		writeVerdict(w, result)
	}

	if !result.Pass {
		if err := f.Failure(ErrCodeFailed, "scenario assertions failed", out, text); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return f.Success(out, text)
}

// recordRun stores the scenario source and trace under a new run id.
func recordRun(ctx context.Context, opts *RunOptions, scenario *harness.Scenario, policy string, result *harness.Result) (string, error) {
	runIDs := opts.RunIDs
	if runIDs == nil {
		runIDs = engine.UUIDv7Generator{}
	}
	runID := runIDs.Generate()

	st, err := store.Open(opts.Database)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			opts.logger().Error("error closing database", "error", closeErr)
		}
	}()

	run := store.Run{
		ID:       runID,
		Scenario: scenario.Name,
		Format:   scenario.Format,
		Source:   string(scenario.Source),
		Policy:   policy,
		Ticks:    result.Ticks,
		Pass:     result.Pass,
		Errors:   result.Errors,
	}
	if err := st.RecordRun(ctx, run, toStoreEvents(result.Trace)); err != nil {
		return "", err
	}
	return runID, nil
}

// toStoreEvents converts a harness trace into stored events.
func toStoreEvents(trace []harness.TraceEvent) []store.Event {
	events := make([]store.Event, len(trace))
	for i, e := range trace {
		events[i] = store.Event{
			Index:  i,
			Tick:   e.Tick,
			Task:   e.Task,
			Kind:   e.Event,
			Detail: e.Detail,
		}
	}
	return events
}

func writeVerdict(w io.Writer, result *harness.Result) {
	if result.Pass {
		fmt.Fprintf(w, "PASS %s (%d ticks)\n", result.Scenario, result.Ticks)
		return
	}
	fmt.Fprintf(w, "FAIL %s (%d ticks)\n", result.Scenario, result.Ticks)
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}
