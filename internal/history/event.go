package history

import (
	"fmt"
	"time"

	"github.com/rohankatakam/suphist/internal/suppression"
)

// Operation is what happened to a suppression at one commit.
type Operation string

const (
	OpAdd        Operation = "add"
	OpDelete     Operation = "delete"
	OpFileAdd    Operation = "file add"
	OpFileDelete Operation = "file delete"
	OpMergeAdd   Operation = "merge add"
)

// IsAdd reports whether op opens a history.
func (op Operation) IsAdd() bool {
	return op == OpAdd || op == OpFileAdd || op == OpMergeAdd
}

// IsDelete reports whether op closes a history.
func (op Operation) IsDelete() bool {
	return op == OpDelete || op == OpFileDelete
}

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	return op.IsAdd() || op.IsDelete()
}

// Line number sentinels. Real line numbers are positive.
const (
	LineUnknown      = -1
	LineMergeUnknown = -2
)

// ChangeEvent is one observed add or delete of a suppression. Line is relative to
// the file at Commit. WarningType is the formatted suppression text at the time the
// suppression was introduced and, with WarningKind, identifies it across commits.
type ChangeEvent struct {
	Commit      string    `json:"commit_id"`
	Date        time.Time `json:"date"`
	Path        string    `json:"file_path"`
	WarningType string    `json:"warning_type"`
	WarningKind string    `json:"warning_kind,omitempty"`
	Suppressor  string    `json:"suppressor,omitempty"`
	Line        int       `json:"line_number"`
	Op          Operation `json:"change_operation"`

	// Snapshot marks an add that only records presence at the oldest studied commit.
	Snapshot bool `json:"snapshot,omitempty"`

	// MergeLine is where a merge placeholder's marker sits in the merge result.
	// Line stays LineMergeUnknown; MergeLine is only used to match the placeholder
	// to the add it stands for and is not written out.
	MergeLine int `json:"-"`
}

// Marker returns the marker the event refers to.
func (e ChangeEvent) Marker() suppression.Marker {
	return suppression.Marker{Suppressor: e.Suppressor, Text: e.WarningType, Kind: e.WarningKind}
}

// Precise reports whether the event pins down a real introducing commit and line.
func (e ChangeEvent) Precise() bool {
	return e.Op != OpMergeAdd && !e.Snapshot && e.Line > 0
}

func (e ChangeEvent) String() string {
	return fmt.Sprintf("%s %s %s:%d %s", e.Commit, e.Op, e.Path, e.Line, e.key())
}

func (e ChangeEvent) key() string {
	if e.WarningKind == "" {
		return e.WarningType
	}
	return e.WarningType + "[" + e.WarningKind + "]"
}

// NewEvent builds an event for a suppression observed at commit.
func NewEvent(commit string, date time.Time, s suppression.Suppression, op Operation) ChangeEvent {
	return ChangeEvent{
		Commit:      commit,
		Date:        date,
		Path:        s.Path,
		WarningType: s.Text,
		WarningKind: s.Kind,
		Suppressor:  s.Suppressor,
		Line:        s.Line,
		Op:          op,
	}
}
