package store

import (
	"path/filepath"
	"testing"
	"time"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun creates a test run with minimal required fields.
func createTestRun(id, scenario string) Run {
	return Run{
		ID:        id,
		Scenario:  scenario,
		Format:    "yaml",
		Source:    "name: " + scenario + "\n",
		Policy:    "abort",
		Ticks:     3,
		Pass:      true,
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// createTestEvents creates a small trace for one task.
func createTestEvents(task string) []Event {
	return []Event{
		{Tick: 0, Task: task, Kind: "spawn"},
		{Tick: 1, Task: task, Kind: "mark", Detail: "half"},
		{Tick: 2, Task: task, Kind: "finish"},
	}
}
