package harness

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ScenarioDirError is returned when a scenario directory doesn't exist or
// holds no scenario files.
type ScenarioDirError struct {
	Dir    string
	Reason string
}

// Error implements the error interface.
func (e *ScenarioDirError) Error() string {
	return fmt.Sprintf("scenario directory %q: %s", e.Dir, e.Reason)
}

// DiscoverScenarios returns every .yaml, .yml and .cue file under dir,
// sorted by path.
func DiscoverScenarios(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &ScenarioDirError{Dir: dir, Reason: "does not exist"}
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &ScenarioDirError{Dir: dir, Reason: "not a directory"}
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsScenarioFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, &ScenarioDirError{Dir: dir, Reason: "no scenario files"}
	}

	sort.Strings(paths)
	return paths, nil
}

// SuiteResult contains results from running a set of scenarios.
type SuiteResult struct {
	Total    int            `json:"total"`
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	Failures []SuiteFailure `json:"failures,omitempty"`
	Runs     []SuiteRun     `json:"-"`
}

// SuiteRun is one scenario file's outcome, in path order.
// Scenario and Result are nil when the file failed before that stage.
type SuiteRun struct {
	Path     string
	Scenario *Scenario
	Result   *Result
	Err      error
}

// SuiteFailure represents a scenario that failed to load, run, or pass.
type SuiteFailure struct {
	ScenarioPath string   `json:"scenario_path"`
	Scenario     string   `json:"scenario,omitempty"`
	Error        string   `json:"error"`
	Details      []string `json:"details,omitempty"`
}

// RunSuite discovers, loads and runs every scenario under dir.
func RunSuite(ctx context.Context, dir string, opts ...RunOption) (*SuiteResult, error) {
	paths, err := DiscoverScenarios(dir)
	if err != nil {
		return nil, err
	}
	return RunPaths(ctx, paths, opts...)
}

// RunPaths loads and runs each scenario file in order.
//
// A scenario that fails to load or run counts as failed; RunPaths itself
// only errors when ctx is done.
func RunPaths(ctx context.Context, paths []string, opts ...RunOption) (*SuiteResult, error) {
	result := &SuiteResult{}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			err = fmt.Errorf("failed to load scenario: %w", err)
			result.Runs = append(result.Runs, SuiteRun{Path: path, Err: err})
			result.Failed++
			result.Failures = append(result.Failures, SuiteFailure{
				ScenarioPath: path,
				Error:        err.Error(),
			})
			continue
		}

		run, err := RunContext(ctx, scenario, opts...)
		if err != nil {
			err = fmt.Errorf("scenario execution failed: %w", err)
			result.Runs = append(result.Runs, SuiteRun{Path: path, Scenario: scenario, Err: err})
			result.Failed++
			result.Failures = append(result.Failures, SuiteFailure{
				ScenarioPath: path,
				Scenario:     scenario.Name,
				Error:        err.Error(),
			})
			continue
		}
		result.Runs = append(result.Runs, SuiteRun{Path: path, Scenario: scenario, Result: run})

		if !run.Pass {
			result.Failed++
			result.Failures = append(result.Failures, SuiteFailure{
				ScenarioPath: path,
				Scenario:     scenario.Name,
				Error:        "scenario assertions failed",
				Details:      run.Errors,
			})
			continue
		}

		result.Passed++
	}

	return result, nil
}
