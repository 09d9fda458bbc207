package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Run is one recorded scenario execution.
type Run struct {
	Seq       int64     `json:"seq"`
	ID        string    `json:"id"`
	Scenario  string    `json:"scenario"`
	Format    string    `json:"format"`
	Source    string    `json:"-"`
	Policy    string    `json:"policy"`
	Ticks     int64     `json:"ticks"`
	Pass      bool      `json:"pass"`
	Errors    []string  `json:"errors,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is one recorded trace event. Index is its position in the trace.
type Event struct {
	Index  int    `json:"index"`
	Tick   int64  `json:"tick"`
	Task   string `json:"task"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// marshalErrors converts assertion messages to JSON TEXT for storage.
// HTML escaping is disabled so messages are stored as written.
func marshalErrors(errs []string) (string, error) {
	if errs == nil {
		errs = []string{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(errs); err != nil {
		return "", fmt.Errorf("marshal errors: %w", err)
	}

	// Encoder adds a trailing newline
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// unmarshalErrors converts stored JSON TEXT back to messages.
// Returns nil for an empty list.
func unmarshalErrors(data string) ([]string, error) {
	var errs []string
	if err := json.Unmarshal([]byte(data), &errs); err != nil {
		return nil, fmt.Errorf("unmarshal errors: %w", err)
	}
	if len(errs) == 0 {
		return nil, nil
	}
	return errs, nil
}

// formatTime stores timestamps as RFC 3339 UTC with nanoseconds.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse created_at %q: %w", s, err)
	}
	return t, nil
}
