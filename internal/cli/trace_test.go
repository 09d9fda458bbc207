package cli

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordScenario runs a scenario with --db and returns the new run id.
func recordScenario(t *testing.T, dbPath, scenario string) string {
	t.Helper()
	out, _, err := executeRoot(t, "--format", "json", "run", "--db", dbPath, filepath.Join(scenariosDir, scenario))
	require.NoError(t, err)
	resp := decodeRunResponse(t, out)
	require.NotEmpty(t, resp.Data.RunID)
	return resp.Data.RunID
}

func TestTraceMissingDatabaseFlag(t *testing.T) {
	_, _, err := executeRoot(t, "trace")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "db")
}

func TestTraceDatabaseNotFound(t *testing.T) {
	out, _, err := executeRoot(t, "trace", "--db", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
	assert.Contains(t, out, "Error [E_DATABASE]: failed to open database")
}

func TestTraceListRuns(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	first := recordScenario(t, dbPath, "single_delay.yaml")
	second := recordScenario(t, dbPath, "failure_drop.cue")

	out, _, err := executeRoot(t, "trace", "--db", dbPath)
	require.NoError(t, err)

	assert.Contains(t, out, first+" PASS single_delay ticks=2 policy=abort")
	assert.Contains(t, out, second+" PASS failure_drop ticks=3 policy=drop")
	assert.Less(t, strings.Index(out, first), strings.Index(out, second))
}

func TestTraceListRunsJSON(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	runID := recordScenario(t, dbPath, "single_delay.yaml")

	out, _, err := executeRoot(t, "--format", "json", "trace", "--db", dbPath)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   []RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, runID, resp.Data[0].ID)
	assert.Equal(t, "single_delay", resp.Data[0].Scenario)
	assert.True(t, resp.Data[0].Pass)
}

func TestTraceRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	runID := recordScenario(t, dbPath, "nested_await.yaml")

	out, _, err := executeRoot(t, "trace", "--db", dbPath, runID)
	require.NoError(t, err)

	assert.Contains(t, out, "run: "+runID+"\n")
	assert.Contains(t, out, "scenario: nested_await (PASS)")
	assert.Contains(t, out, "[0] a mark start\n")
	assert.Contains(t, out, "[3] a finish\n")
	assert.Contains(t, out, "Events: 7 (spawn 2, mark 3, finish 2, fail 0)")
}

func TestTraceRunTaskFilter(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	runID := recordScenario(t, dbPath, "spawn_join.yaml")

	out, _, err := executeRoot(t, "--format", "json", "trace", "--db", dbPath, "--task", "worker#2", runID)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "worker#2", resp.Data.Task)
	require.NotEmpty(t, resp.Data.Events)
	for _, e := range resp.Data.Events {
		assert.Equal(t, "worker#2", e.Task)
	}
	assert.Equal(t, 1, resp.Data.Stats.Spawns)
	assert.Equal(t, 1, resp.Data.Stats.Finishes)
}

func TestTraceRunVerboseShowsIndexes(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	runID := recordScenario(t, dbPath, "single_delay.yaml")

	out, _, err := executeRoot(t, "--verbose", "trace", "--db", dbPath, runID)
	require.NoError(t, err)
	assert.Contains(t, out, "   0 [0] t spawn\n")
	assert.Contains(t, out, "   1 [1] t finish\n")
}

func TestTraceRunNotFound(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	recordScenario(t, dbPath, "single_delay.yaml")

	out, _, err := executeRoot(t, "--format", "json", "trace", "--db", dbPath, "no-such-run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "no-such-run")
}
