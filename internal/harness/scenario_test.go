package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_YAML(t *testing.T) {
	path := writeScenario(t, "basic.yaml", `
name: basic
description: "basic scenario"
ticks: 4
failure_policy: drop
max_advances: 100
frames:
  pause:
    - delay: 2
tasks:
  - name: main
    steps:
      - mark: begin
      - call: pause
      - await: helper
  - name: helper
    deferred: true
    spawn_at: 0
    steps:
      - wait_ticks: 3
assertions:
  - type: running_at
    task: main
    tick: 1
    running: true
  - type: trace_order
    marks: [begin]
`)

	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "basic", s.Name)
	assert.Equal(t, int64(4), s.Ticks)
	assert.Equal(t, "drop", s.FailurePolicy)
	assert.Equal(t, 100, s.MaxAdvances)
	assert.Equal(t, FormatYAML, s.Format)
	assert.NotEmpty(t, s.Source)

	require.Len(t, s.Tasks, 2)
	assert.Equal(t, "main", s.Tasks[0].Name)
	require.Len(t, s.Tasks[0].Steps, 3)
	assert.Equal(t, "begin", s.Tasks[0].Steps[0].Mark)
	assert.Equal(t, "pause", s.Tasks[0].Steps[1].Call)
	assert.Equal(t, "helper", s.Tasks[0].Steps[2].Await)
	assert.True(t, s.Tasks[1].Deferred)
	assert.Equal(t, int64(3), s.Tasks[1].Steps[0].WaitTicks)

	require.Contains(t, s.Frames, "pause")
	assert.Equal(t, 2, s.Frames["pause"][0].Delay)

	require.Len(t, s.Assertions, 2)
	require.NotNil(t, s.Assertions[0].Running)
	assert.True(t, *s.Assertions[0].Running)
	assert.Equal(t, []string{"begin"}, s.Assertions[1].Marks)
}

func TestLoadScenario_CUE(t *testing.T) {
	path := writeScenario(t, "basic.cue", `
name:  "cue_basic"
ticks: 2
#pause: [{delay: 1}]
frames: pause: #pause
tasks: [{
	name: "main"
	steps: [{call: "pause"}, {mark: "after"}]
}]
assertions: [{
	type:    "running_at"
	task:    "main"
	tick:    1
	running: false
}]
`)

	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "cue_basic", s.Name)
	assert.Equal(t, FormatCUE, s.Format)
	assert.Equal(t, int64(2), s.Ticks)
	require.Len(t, s.Tasks, 1)
	assert.Equal(t, "after", s.Tasks[0].Steps[1].Mark)
	assert.Equal(t, 1, s.Frames["pause"][0].Delay)
	require.NotNil(t, s.Assertions[0].Running)
	assert.False(t, *s.Assertions[0].Running)
}

func TestLoadScenario_CUENotConcrete(t *testing.T) {
	path := writeScenario(t, "open.cue", `
name:  string
ticks: 1
tasks: [{name: "main", steps: [{delay: 1}]}]
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CUE")
}

func TestLoadScenario_UnknownFieldRejected(t *testing.T) {
	path := writeScenario(t, "typo.yaml", `
name: typo
ticks: 1
tasks:
  - name: main
    steps:
      - delay: 1
assertion:
  - type: failed
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownFormat(t *testing.T) {
	_, err := ParseScenario([]byte("name: x"), "toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown scenario format")
}

func TestParseScenario_NormalizesToNFC(t *testing.T) {
	decomposed := "cafe\u0301" // NFD
	composed := "caf\u00e9"
	data := []byte(`
name: "` + decomposed + `"
ticks: 1
tasks:
  - name: "` + decomposed + `"
    steps:
      - mark: "` + decomposed + `"
`)

	s, err := ParseScenario(data, FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, composed, s.Name)
	assert.Equal(t, composed, s.Tasks[0].Name)
	assert.Equal(t, composed, s.Tasks[0].Steps[0].Mark)
}

func TestValidateScenario_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "ticks: 1\ntasks: [{name: a, steps: [{delay: 1}]}]",
			wantErr: "name is required",
		},
		{
			name:    "negative ticks",
			yaml:    "name: x\nticks: -1\ntasks: [{name: a, steps: [{delay: 1}]}]",
			wantErr: "ticks must be non-negative",
		},
		{
			name:    "bad policy",
			yaml:    "name: x\nfailure_policy: retry\ntasks: [{name: a, steps: [{delay: 1}]}]",
			wantErr: "unknown failure policy",
		},
		{
			name:    "no tasks",
			yaml:    "name: x\nticks: 1",
			wantErr: "tasks list is required",
		},
		{
			name:    "duplicate task",
			yaml:    "name: x\ntasks: [{name: a, steps: []}, {name: a, steps: []}]",
			wantErr: "duplicate task name",
		},
		{
			name:    "hash in task name",
			yaml:    "name: x\ntasks: [{name: 'a#1', steps: []}]",
			wantErr: "must not contain '#'",
		},
		{
			name:    "all deferred",
			yaml:    "name: x\ntasks: [{name: a, deferred: true, steps: []}]",
			wantErr: "at least one task must not be deferred",
		},
		{
			name:    "empty step",
			yaml:    "name: x\ntasks: [{name: a, steps: [{}]}]",
			wantErr: "exactly one of",
		},
		{
			name:    "two actions in one step",
			yaml:    "name: x\ntasks: [{name: a, steps: [{delay: 1, mark: m}]}]",
			wantErr: "exactly one of",
		},
		{
			name:    "negative delay",
			yaml:    "name: x\ntasks: [{name: a, steps: [{delay: -1}]}]",
			wantErr: "delay must be positive",
		},
		{
			name:    "unknown frame",
			yaml:    "name: x\ntasks: [{name: a, steps: [{call: nowhere}]}]",
			wantErr: `unknown frame "nowhere"`,
		},
		{
			name:    "unknown task in await",
			yaml:    "name: x\ntasks: [{name: a, steps: [{await: ghost}]}]",
			wantErr: `unknown task "ghost"`,
		},
		{
			name:    "unknown task in frame",
			yaml:    "name: x\nframes: {f: [{spawn: ghost}]}\ntasks: [{name: a, steps: []}]",
			wantErr: "frames.f[0]",
		},
		{
			name:    "assertion missing type",
			yaml:    "name: x\ntasks: [{name: a, steps: []}]\nassertions: [{task: a}]",
			wantErr: "type is required",
		},
		{
			name:    "assertion unknown type",
			yaml:    "name: x\ntasks: [{name: a, steps: []}]\nassertions: [{type: final_state}]",
			wantErr: "unknown assertion type",
		},
		{
			name:    "assertion unknown task",
			yaml:    "name: x\ntasks: [{name: a, steps: []}]\nassertions: [{type: failed, task: b}]",
			wantErr: `unknown task "b"`,
		},
		{
			name:    "running_at without running",
			yaml:    "name: x\ntasks: [{name: a, steps: []}]\nassertions: [{type: running_at, task: a, tick: 1}]",
			wantErr: "running is required",
		},
		{
			name:    "trace_order without marks",
			yaml:    "name: x\ntasks: [{name: a, steps: []}]\nassertions: [{type: trace_order}]",
			wantErr: "marks list is required",
		},
		{
			name:    "trace_count bad event",
			yaml:    "name: x\ntasks: [{name: a, steps: []}]\nassertions: [{type: trace_count, event: wake, count: 1}]",
			wantErr: "event must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml), FormatYAML)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestValidateScenario_InstanceSuffixInAssertion(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: x
tasks:
  - name: main
    steps: [{spawn: w}, {spawn: w}]
  - name: w
    deferred: true
    steps: []
assertions:
  - type: finished_at
    task: "w#2"
    tick: 1
`), FormatYAML)
	require.NoError(t, err)
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, FormatCUE, FormatForPath("a/b.cue"))
	assert.Equal(t, FormatCUE, FormatForPath("a/b.CUE"))
	assert.Equal(t, FormatYAML, FormatForPath("a/b.yaml"))
	assert.Equal(t, FormatYAML, FormatForPath("a/b.yml"))

	assert.True(t, IsScenarioFile("x.yml"))
	assert.True(t, IsScenarioFile("x.cue"))
	assert.False(t, IsScenarioFile("x.golden"))
}

func TestValidationError_Error(t *testing.T) {
	assert.Equal(t, "name is required", (&ValidationError{Message: "name is required"}).Error())
	assert.Equal(t, "tasks[0]: bad", (&ValidationError{Path: "tasks[0]", Message: "bad"}).Error())
}
