// Package history holds suppression lifecycles: the change events that open and
// close them, the reconciliation of histories discovered by different traversals,
// and their JSON form.
package history

import (
	"sort"

	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/suppression"
)

// History is the lifecycle of one suppression: an add-like event, optionally
// followed by a delete-like event. A single event means the suppression is still
// present at the newest studied commit.
type History struct {
	ID     string
	Events []ChangeEvent
}

// Add returns the opening event.
func (h History) Add() ChangeEvent {
	return h.Events[0]
}

// Delete returns the closing event, if any.
func (h History) Delete() (ChangeEvent, bool) {
	if len(h.Events) < 2 {
		return ChangeEvent{}, false
	}
	return h.Events[1], true
}

// Alive reports whether the suppression was never removed.
func (h History) Alive() bool {
	return len(h.Events) == 1
}

// Marker returns the marker the history tracks.
func (h History) Marker() suppression.Marker {
	return h.Add().Marker()
}

// Paths returns the distinct file paths the history's events refer to, sorted.
func (h History) Paths() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range h.Events {
		if e.Path != "" && !seen[e.Path] {
			seen[e.Path] = true
			out = append(out, e.Path)
		}
	}
	sort.Strings(out)
	return out
}

// New builds a history from an add event and an optional delete event.
func New(add ChangeEvent, del *ChangeEvent) History {
	h := History{Events: []ChangeEvent{add}}
	if del != nil {
		h.Events = append(h.Events, *del)
	}
	return h
}

// Validate checks the history's shape: one add-like event, optionally followed by
// a delete-like event that is not dated before it.
func (h History) Validate() error {
	if len(h.Events) == 0 || len(h.Events) > 2 {
		return errors.InvariantErrorf("history %s has %d events", h.ID, len(h.Events)).
			AtStage(errors.StageReconcile)
	}

	for _, e := range h.Events {
		if err := validateEvent(e); err != nil {
			return err.WithContext("history", h.ID)
		}
	}

	add := h.Events[0]
	if !add.Op.IsAdd() {
		return errors.InvariantErrorf("%s: history opens with %q", add, add.Op).
			AtStage(errors.StageReconcile).WithContext("history", h.ID)
	}
	if del, ok := h.Delete(); ok {
		if !del.Op.IsDelete() {
			return errors.InvariantErrorf("%s: history closes with %q", del, del.Op).
				AtStage(errors.StageReconcile).WithContext("history", h.ID)
		}
		if del.Date.Before(add.Date) {
			return errors.InvariantErrorf("%s: deleted before it was added at %s", del, add.Commit).
				AtStage(errors.StageReconcile).WithContext("history", h.ID)
		}
	}
	return nil
}

func validateEvent(e ChangeEvent) *errors.Error {
	switch {
	case !e.Op.Valid():
		return errors.InvariantErrorf("%s: unknown operation %q", e, e.Op).AtStage(errors.StageReconcile)
	case e.Commit == "" || e.Path == "" || e.WarningType == "":
		return errors.InvariantErrorf("%s: incomplete event", e).AtStage(errors.StageReconcile)
	case e.Line == LineMergeUnknown && e.Op != OpMergeAdd:
		return errors.InvariantErrorf("%s: merge placeholder line on a %q event", e, e.Op).AtStage(errors.StageReconcile)
	case e.Line <= 0 && e.Line != LineUnknown && e.Line != LineMergeUnknown:
		return errors.InvariantErrorf("%s: invalid line number %d", e, e.Line).AtStage(errors.StageReconcile)
	}
	return nil
}
