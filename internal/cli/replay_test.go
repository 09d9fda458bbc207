package cli

import (
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tamper runs a statement directly against a recorded database.
func tamper(t *testing.T, dbPath, query string, args ...any) {
	t.Helper()
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(query, args...)
	require.NoError(t, err)
}

func TestReplayMissingDatabaseFlag(t *testing.T) {
	_, _, err := executeRoot(t, "replay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReplayDatabaseNotFound(t *testing.T) {
	_, _, err := executeRoot(t, "replay", "--db", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayAllRunsDeterministic(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	ids := []string{
		recordScenario(t, dbPath, "nested_await.yaml"),
		recordScenario(t, dbPath, "spawn_join.yaml"),
		recordScenario(t, dbPath, "quota.cue"),
	}

	out, _, err := executeRoot(t, "replay", "--db", dbPath)
	require.NoError(t, err)

	for _, id := range ids {
		assert.Contains(t, out, "✓ "+id)
	}
	assert.Contains(t, out, "All 3 run(s) replayed deterministically.")
}

func TestReplaySingleRunJSON(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	recordScenario(t, dbPath, "single_delay.yaml")
	runID := recordScenario(t, dbPath, "failure_drop.cue")

	out, _, err := executeRoot(t, "--format", "json", "replay", "--db", dbPath, runID)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.AllDeterministic)
	require.Len(t, resp.Data.Runs, 1)
	assert.Equal(t, runID, resp.Data.Runs[0].RunID)
	assert.Equal(t, "failure_drop", resp.Data.Runs[0].Scenario)
	assert.Empty(t, resp.Data.Runs[0].Divergence)
}

func TestReplayUsesRecordedPolicy(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	// Recorded under drop although the source says abort.
	out, _, err := executeRoot(t, "--format", "json", "run", "--db", dbPath, "--policy", "drop",
		filepath.Join(scenariosDir, "failure_abort.yaml"))
	require.Error(t, err)
	runID := decodeRunResponse(t, out).Data.RunID
	require.NotEmpty(t, runID)

	out, _, err = executeRoot(t, "replay", "--db", dbPath, runID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ "+runID+" failure_abort")
}

func TestReplayDetectsTraceDivergence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	runID := recordScenario(t, dbPath, "nested_await.yaml")

	tamper(t, dbPath, `UPDATE events SET tick = 9 WHERE run_id = ? AND idx = 3`, runID)

	out, _, err := executeRoot(t, "replay", "--db", dbPath, runID)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ "+runID)
	assert.Contains(t, out, "event 3: recorded [9] b mark b_done, replayed [2] b mark b_done")
	assert.Contains(t, out, "Replay diverged from recording.")
}

func TestReplayDetectsMissingEvents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	runID := recordScenario(t, dbPath, "single_delay.yaml")

	tamper(t, dbPath, `DELETE FROM events WHERE run_id = ? AND idx = 1`, runID)

	out, _, err := executeRoot(t, "replay", "--db", dbPath, runID)
	require.Error(t, err)
	assert.Contains(t, out, "event 1: recorded <end of trace>, replayed [1] t finish")
}

func TestReplayDetectsVerdictDivergence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	runID := recordScenario(t, dbPath, "single_delay.yaml")

	tamper(t, dbPath, `UPDATE runs SET pass = 0 WHERE id = ?`, runID)

	out, _, err := executeRoot(t, "--format", "json", "replay", "--db", dbPath, runID)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
		Error  *CLIError    `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.Equal(t, ErrCodeNondetermined, resp.Error.Code)
	assert.False(t, resp.Data.AllDeterministic)
	assert.Equal(t, "verdict: recorded pass=false, replayed pass=true", resp.Data.Runs[0].Divergence)
}

func TestReplayRunNotFound(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	recordScenario(t, dbPath, "single_delay.yaml")

	_, _, err := executeRoot(t, "replay", "--db", dbPath, "no-such-run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "run not found: no-such-run")
}
