package store

import (
	"context"
	"fmt"
)

// Recording is a stored run together with its trace.
type Recording struct {
	Run    Run
	Events []Event
}

// ReadRecording retrieves a run and its events for replay.
func (s *Store) ReadRecording(ctx context.Context, id string) (Recording, error) {
	run, err := s.ReadRun(ctx, id)
	if err != nil {
		return Recording{}, err
	}

	events, err := s.ReadEvents(ctx, id)
	if err != nil {
		return Recording{}, fmt.Errorf("read recording %s: %w", id, err)
	}

	return Recording{Run: run, Events: events}, nil
}

// Divergence describes the first point where a replayed trace differs from
// the recorded one. A nil side means that trace ended first.
type Divergence struct {
	Index    int
	Recorded *Event
	Replayed *Event
}

// String renders the divergence for reports.
func (d *Divergence) String() string {
	return fmt.Sprintf("event %d: recorded %s, replayed %s",
		d.Index, describeEvent(d.Recorded), describeEvent(d.Replayed))
}

func describeEvent(e *Event) string {
	if e == nil {
		return "<end of trace>"
	}
	if e.Detail == "" {
		return fmt.Sprintf("[%d] %s %s", e.Tick, e.Task, e.Kind)
	}
	return fmt.Sprintf("[%d] %s %s %s", e.Tick, e.Task, e.Kind, e.Detail)
}

// CompareEvents returns the first divergence between two traces, or nil if
// they are identical. Index fields are ignored; position is what counts.
func CompareEvents(recorded, replayed []Event) *Divergence {
	n := max(len(recorded), len(replayed))
	for i := 0; i < n; i++ {
		var rec, rep *Event
		if i < len(recorded) {
			rec = &recorded[i]
		}
		if i < len(replayed) {
			rep = &replayed[i]
		}
		if rec != nil && rep != nil && sameEvent(*rec, *rep) {
			continue
		}
		return &Divergence{Index: i, Recorded: rec, Replayed: rep}
	}
	return nil
}

func sameEvent(a, b Event) bool {
	return a.Tick == b.Tick && a.Task == b.Task && a.Kind == b.Kind && a.Detail == b.Detail
}
