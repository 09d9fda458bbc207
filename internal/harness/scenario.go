package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/roach88/scoro/internal/engine"
)

// Scenario formats.
const (
	FormatYAML = "yaml"
	FormatCUE  = "cue"
)

// Scenario defines a deterministic scheduler run.
// Tasks are built from scripted steps, driven for a fixed number of ticks,
// and the resulting trace is checked against assertions.
type Scenario struct {
	// Name uniquely identifies this scenario (also the golden file name).
	Name string `yaml:"name" json:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Ticks is the number of DriveOneTick calls after the initial spawns.
	Ticks int64 `yaml:"ticks" json:"ticks"`

	// FailurePolicy is "abort" (default) or "drop".
	FailurePolicy string `yaml:"failure_policy,omitempty" json:"failure_policy,omitempty"`

	// MaxAdvances overrides the per-step advance quota. Zero keeps the default.
	MaxAdvances int `yaml:"max_advances,omitempty" json:"max_advances,omitempty"`

	// Frames are named step lists that steps can Call.
	Frames map[string][]StepSpec `yaml:"frames,omitempty" json:"frames,omitempty"`

	// Tasks are task templates. Non-deferred tasks are spawned by the
	// harness at SpawnAt; deferred ones only by spawn/await steps.
	Tasks []TaskSpec `yaml:"tasks" json:"tasks"`

	// Assertions validate the trace and task status.
	Assertions []Assertion `yaml:"assertions,omitempty" json:"assertions,omitempty"`

	// Source and Format hold the raw scenario text, for storage and replay.
	Source []byte `yaml:"-" json:"-"`
	Format string `yaml:"-" json:"-"`
}

// TaskSpec is a task template.
type TaskSpec struct {
	// Name identifies the template. The first instance uses the name as its
	// task id, later ones "name#2", "name#3", ...
	Name string `yaml:"name" json:"name"`

	// SpawnAt is the tick after whose drive the harness spawns this task.
	// Tick 0 spawns before the first drive.
	SpawnAt int64 `yaml:"spawn_at,omitempty" json:"spawn_at,omitempty"`

	// Deferred tasks are never spawned by the harness itself.
	Deferred bool `yaml:"deferred,omitempty" json:"deferred,omitempty"`

	// Steps is the root frame's script.
	Steps []StepSpec `yaml:"steps" json:"steps"`
}

// StepSpec is one scripted step. Exactly one field must be set.
type StepSpec struct {
	// Delay yields Delay() this many times.
	Delay int `yaml:"delay,omitempty" json:"delay,omitempty"`

	// Mark records a trace event without suspending.
	Mark string `yaml:"mark,omitempty" json:"mark,omitempty"`

	// Call yields a fresh instance of the named frame.
	Call string `yaml:"call,omitempty" json:"call,omitempty"`

	// Spawn starts a new instance of the named task without waiting.
	Spawn string `yaml:"spawn,omitempty" json:"spawn,omitempty"`

	// Await starts a new instance of the named task and waits for it.
	Await string `yaml:"await,omitempty" json:"await,omitempty"`

	// Join waits for the latest instance of the named task.
	Join string `yaml:"join,omitempty" json:"join,omitempty"`

	// WaitTicks waits on a tick predicate through engine.Until.
	WaitTicks int64 `yaml:"wait_ticks,omitempty" json:"wait_ticks,omitempty"`

	// Fail makes the frame return an error with this message.
	Fail string `yaml:"fail,omitempty" json:"fail,omitempty"`
}

// kind returns the name of the single action set on the step, or "" if the
// step sets none or more than one.
func (s StepSpec) kind() string {
	var set []string
	if s.Delay != 0 {
		set = append(set, "delay")
	}
	if s.Mark != "" {
		set = append(set, "mark")
	}
	if s.Call != "" {
		set = append(set, "call")
	}
	if s.Spawn != "" {
		set = append(set, "spawn")
	}
	if s.Await != "" {
		set = append(set, "await")
	}
	if s.Join != "" {
		set = append(set, "join")
	}
	if s.WaitTicks != 0 {
		set = append(set, "wait_ticks")
	}
	if s.Fail != "" {
		set = append(set, "fail")
	}
	if len(set) != 1 {
		return ""
	}
	return set[0]
}

// Assertion validates the trace or task status.
type Assertion struct {
	// Type specifies the assertion type:
	// - "finished_at": Task finished at Tick
	// - "running_at": Task's IsRunning at Tick equals Running
	// - "failed": Task failed (optionally with Code)
	// - "trace_contains": an Event (optionally for Task, with Detail) exists
	// - "trace_order": Marks appear in order
	// - "trace_count": Event (optionally for Task) appears Count times
	Type string `yaml:"type" json:"type"`

	Task    string   `yaml:"task,omitempty" json:"task,omitempty"`
	Tick    int64    `yaml:"tick,omitempty" json:"tick,omitempty"`
	Running *bool    `yaml:"running,omitempty" json:"running,omitempty"`
	Code    string   `yaml:"code,omitempty" json:"code,omitempty"`
	Event   string   `yaml:"event,omitempty" json:"event,omitempty"`
	Detail  string   `yaml:"detail,omitempty" json:"detail,omitempty"`
	Marks   []string `yaml:"marks,omitempty" json:"marks,omitempty"`
	Count   int      `yaml:"count,omitempty" json:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertFinishedAt    = "finished_at"
	AssertRunningAt     = "running_at"
	AssertFailed        = "failed"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
)

// ValidationError reports an invalid scenario field.
type ValidationError struct {
	Path    string // e.g. "tasks[1].steps[0]"
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func invalid(path, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)}
}

// LoadScenario reads, parses and validates a scenario file.
// Files ending in .cue are evaluated with CUE; everything else is YAML.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, FormatForPath(path))
}

// FormatForPath returns the scenario format implied by a file extension.
func FormatForPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		return FormatCUE
	}
	return FormatYAML
}

// IsScenarioFile reports whether path has a scenario file extension.
func IsScenarioFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".cue":
		return true
	default:
		return false
	}
}

// ParseScenario parses and validates scenario text in the given format.
func ParseScenario(data []byte, format string) (*Scenario, error) {
	var scenario Scenario

	switch format {
	case FormatYAML, "":
		// Strict field validation catches typos like "assertion:" vs "assertions:"
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&scenario); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		format = FormatYAML

	case FormatCUE:
		v := cuecontext.New().CompileBytes(data, cue.Filename("scenario.cue"))
		if err := v.Err(); err != nil {
			return nil, fmt.Errorf("failed to compile CUE: %w", err)
		}
		if err := v.Validate(cue.Concrete(true)); err != nil {
			return nil, fmt.Errorf("failed to validate CUE: %w", err)
		}
		if err := v.Decode(&scenario); err != nil {
			return nil, fmt.Errorf("failed to decode CUE: %w", err)
		}

	default:
		return nil, fmt.Errorf("unknown scenario format %q", format)
	}

	normalizeScenario(&scenario)

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	scenario.Source = data
	scenario.Format = format
	return &scenario, nil
}

// normalizeScenario puts every name and label in NFC so trace text and
// golden files compare byte for byte regardless of how the file was typed.
func normalizeScenario(s *Scenario) {
	s.Name = norm.NFC.String(s.Name)
	for name, steps := range s.Frames {
		normalizeSteps(steps)
		if nfc := norm.NFC.String(name); nfc != name {
			delete(s.Frames, name)
			s.Frames[nfc] = steps
		}
	}
	for i := range s.Tasks {
		s.Tasks[i].Name = norm.NFC.String(s.Tasks[i].Name)
		normalizeSteps(s.Tasks[i].Steps)
	}
	for i := range s.Assertions {
		a := &s.Assertions[i]
		a.Task = norm.NFC.String(a.Task)
		a.Detail = norm.NFC.String(a.Detail)
		for j := range a.Marks {
			a.Marks[j] = norm.NFC.String(a.Marks[j])
		}
	}
}

func normalizeSteps(steps []StepSpec) {
	for i := range steps {
		st := &steps[i]
		st.Mark = norm.NFC.String(st.Mark)
		st.Call = norm.NFC.String(st.Call)
		st.Spawn = norm.NFC.String(st.Spawn)
		st.Await = norm.NFC.String(st.Await)
		st.Join = norm.NFC.String(st.Join)
		st.Fail = norm.NFC.String(st.Fail)
	}
}

// validateScenario checks that required fields are present and every
// reference resolves.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return invalid("name", "name is required")
	}
	if s.Ticks < 0 {
		return invalid("ticks", "ticks must be non-negative")
	}
	if _, err := engine.ParseFailurePolicy(s.FailurePolicy); err != nil {
		return invalid("failure_policy", "%v", err)
	}
	if s.MaxAdvances < 0 {
		return invalid("max_advances", "max_advances must be non-negative")
	}
	if len(s.Tasks) == 0 {
		return invalid("tasks", "tasks list is required and must be non-empty")
	}

	tasks := make(map[string]bool, len(s.Tasks))
	roots := 0
	for i, task := range s.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		if task.Name == "" {
			return invalid(path, "name is required")
		}
		if strings.Contains(task.Name, "#") {
			return invalid(path, "name %q must not contain '#'", task.Name)
		}
		if tasks[task.Name] {
			return invalid(path, "duplicate task name %q", task.Name)
		}
		tasks[task.Name] = true
		if task.SpawnAt < 0 {
			return invalid(path, "spawn_at must be non-negative")
		}
		if !task.Deferred {
			roots++
		}
	}
	if roots == 0 {
		return invalid("tasks", "at least one task must not be deferred")
	}

	for name, steps := range s.Frames {
		if name == "" {
			return invalid("frames", "frame name is required")
		}
		if err := validateSteps(fmt.Sprintf("frames.%s", name), steps, s.Frames, tasks); err != nil {
			return err
		}
	}
	for i, task := range s.Tasks {
		if err := validateSteps(fmt.Sprintf("tasks[%d].steps", i), task.Steps, s.Frames, tasks); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], tasks); err != nil {
			return err
		}
	}

	return nil
}

func validateSteps(path string, steps []StepSpec, frames map[string][]StepSpec, tasks map[string]bool) error {
	for i, st := range steps {
		p := fmt.Sprintf("%s[%d]", path, i)
		switch st.kind() {
		case "":
			return invalid(p, "step must set exactly one of delay, mark, call, spawn, await, join, wait_ticks, fail")
		case "delay":
			if st.Delay < 0 {
				return invalid(p, "delay must be positive")
			}
		case "wait_ticks":
			if st.WaitTicks < 0 {
				return invalid(p, "wait_ticks must be positive")
			}
		case "call":
			if _, ok := frames[st.Call]; !ok {
				return invalid(p, "unknown frame %q", st.Call)
			}
		case "spawn", "await", "join":
			name := st.Spawn + st.Await + st.Join
			if !tasks[name] {
				return invalid(p, "unknown task %q", name)
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, tasks map[string]bool) error {
	path := fmt.Sprintf("assertions[%d]", index)
	if a.Type == "" {
		return invalid(path, "type is required")
	}

	if a.Task != "" && !tasks[templateName(a.Task)] {
		return invalid(path, "unknown task %q", a.Task)
	}

	switch a.Type {
	case AssertFinishedAt:
		if a.Task == "" {
			return invalid(path, "task is required for finished_at")
		}
	case AssertRunningAt:
		if a.Task == "" {
			return invalid(path, "task is required for running_at")
		}
		if a.Running == nil {
			return invalid(path, "running is required for running_at")
		}
	case AssertFailed:
		if a.Task == "" {
			return invalid(path, "task is required for failed")
		}
	case AssertTraceContains:
		if !isEventKind(a.Event) {
			return invalid(path, "event must be one of %v for trace_contains", EventKinds)
		}
	case AssertTraceOrder:
		if len(a.Marks) == 0 {
			return invalid(path, "marks list is required for trace_order")
		}
	case AssertTraceCount:
		if !isEventKind(a.Event) {
			return invalid(path, "event must be one of %v for trace_count", EventKinds)
		}
		if a.Count < 0 {
			return invalid(path, "count must be non-negative for trace_count")
		}
	default:
		return invalid(path, "unknown assertion type %q", a.Type)
	}

	return nil
}

// templateName strips the "#n" instance suffix from a task id.
func templateName(id string) string {
	if i := strings.IndexByte(id, '#'); i >= 0 {
		return id[:i]
	}
	return id
}
