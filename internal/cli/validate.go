package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/scoro/internal/harness"
)

// ValidationResult holds the outcome for one scenario file.
type ValidationResult struct {
	Path     string `json:"path"`
	Scenario string `json:"scenario,omitempty"`
	Valid    bool   `json:"valid"`
	Field    string `json:"field,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ValidateOutput is the JSON payload of the validate command.
type ValidateOutput struct {
	Valid   bool               `json:"valid"`
	Results []ValidationResult `json:"results"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario>...",
		Short: "Validate scenario files without running them",
		Long: `Parse and validate scenario files (YAML or CUE) without running them.

Checks unknown fields, step shapes, frame and task references, failure
policy and assertion fields. Faster than run for authoring feedback.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	out := ValidateOutput{Valid: true, Results: make([]ValidationResult, 0, len(paths))}
	for _, path := range paths {
		res := validateFile(path)
		if !res.Valid {
			out.Valid = false
		}
		formatter.VerboseLog("validated %s: valid=%t", path, res.Valid)
		out.Results = append(out.Results, res)
	}

	text := func(w io.Writer) {
		for _, res := range out.Results {
			if res.Valid {
				fmt.Fprintf(w, "✓ %s (%s)\n", res.Path, res.Scenario)
				continue
			}
			fmt.Fprintf(w, "✗ %s\n", res.Path)
			if res.Field != "" {
				fmt.Fprintf(w, "  %s: %s\n", res.Field, res.Error)
			} else {
				fmt.Fprintf(w, "  %s\n", res.Error)
			}
		}
	}

	if !out.Valid {
		if err := formatter.Failure(ErrCodeInvalid, "one or more scenarios are invalid", out, text); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "validation failed")
	}
	return formatter.Success(out, text)
}

func validateFile(path string) ValidationResult {
	scenario, err := harness.LoadScenario(path)
	if err == nil {
		return ValidationResult{Path: path, Scenario: scenario.Name, Valid: true}
	}

	res := ValidationResult{Path: path, Error: err.Error()}
	var verr *harness.ValidationError
	if errors.As(err, &verr) {
		res.Field = verr.Path
		res.Error = verr.Message
	}
	return res
}
