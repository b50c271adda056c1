// Package classify decides, for one diff hunk, which suppression markers were added,
// deleted or left alone. Hunks whose old and new markers cannot be paired one to one
// are reported as ambiguous instead of guessed at.
package classify

import (
	"fmt"

	"github.com/rohankatakam/suphist/internal/diff"
	"github.com/rohankatakam/suphist/internal/history"
	"github.com/rohankatakam/suphist/internal/suppression"
)

// Options describe where the hunk comes from.
type Options struct {
	FileAdd    bool // the file did not exist before
	FileDelete bool // the file does not exist after
	Merge      bool // the hunk is part of a merge commit's diff
}

func (o Options) addOp() history.Operation {
	switch {
	case o.FileAdd:
		return history.OpFileAdd
	case o.Merge:
		return history.OpMergeAdd
	default:
		return history.OpAdd
	}
}

func (o Options) deleteOp() history.Operation {
	if o.FileDelete {
		return history.OpFileDelete
	}
	return history.OpDelete
}

// Change is one classified marker. Line is on the old side for deletions and on the
// new side for additions.
type Change struct {
	Op     history.Operation
	Marker suppression.Marker
	Line   int
}

// Ambiguity explains why a hunk was left unclassified.
type Ambiguity struct {
	Reason string
	Hunk   diff.Hunk
	Old    []suppression.WarningTypeLine
	New    []suppression.WarningTypeLine
}

// Outcome is the classification of one hunk. When Ambiguity is set, Changes only
// holds what was settled before the ambiguous remainder was reached and Unchanged
// counts the markers found on both sides.
type Outcome struct {
	Changes   []Change
	Unchanged int
	Ambiguity *Ambiguity
}

// Ambiguous reports whether part of the hunk could not be classified.
func (o Outcome) Ambiguous() bool {
	return o.Ambiguity != nil
}

// Count returns the number of changes with operation op.
func (o Outcome) Count(op history.Operation) int {
	n := 0
	for _, c := range o.Changes {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Classifier classifies hunks using one suppression extractor.
type Classifier struct {
	extractor *suppression.Extractor
}

// New creates a classifier.
func New(extractor *suppression.Extractor) *Classifier {
	return &Classifier{extractor: extractor}
}

// Hunk classifies one hunk. Context lines are unchanged by definition; only removed
// and added lines are compared.
func (c *Classifier) Hunk(h diff.Hunk, opts Options) Outcome {
	var oldLines, newLines []diff.NumberedLine
	for _, l := range h.OldSide() {
		if l.Kind == diff.Removed {
			oldLines = append(oldLines, l)
		}
	}
	for _, l := range h.NewSide() {
		if l.Kind == diff.Added {
			newLines = append(newLines, l)
		}
	}

	out := c.Lines(oldLines, newLines, opts)
	if out.Ambiguity != nil {
		out.Ambiguity.Hunk = h
	}
	return out
}

// Lines classifies the changed lines of one hunk.
func (c *Classifier) Lines(oldLines, newLines []diff.NumberedLine, opts Options) Outcome {
	oldMarks := c.extract(oldLines)
	newMarks := c.extract(newLines)

	var out Outcome
	if len(oldMarks) == 0 && len(newMarks) == 0 {
		return out
	}

	// identical comments on both sides were moved or re-indented, not changed
	oldMarks, newMarks, out.Unchanged = dropExactMatches(oldMarks, newMarks)

	switch {
	case len(oldMarks) == 0:
		out.Changes = append(out.Changes, changes(newMarks, opts.addOp())...)
	case len(newMarks) == 0:
		out.Changes = append(out.Changes, changes(oldMarks, opts.deleteOp())...)
	case len(oldMarks) == len(newMarks):
		for i := range oldMarks {
			pairChanges, same := comparePair(oldMarks[i], newMarks[i], opts)
			out.Changes = append(out.Changes, pairChanges...)
			out.Unchanged += same
		}
	default:
		out.Ambiguity = &Ambiguity{
			Reason: fmt.Sprintf("%d removed vs %d added suppression comments cannot be paired", len(oldMarks), len(newMarks)),
			Old:    oldMarks,
			New:    newMarks,
		}
	}
	return out
}

func (c *Classifier) extract(lines []diff.NumberedLine) []suppression.WarningTypeLine {
	var out []suppression.WarningTypeLine
	for _, l := range lines {
		out = append(out, c.extractor.ExtractLine(l.Text, l.Number)...)
	}
	return out
}

func dropExactMatches(oldMarks, newMarks []suppression.WarningTypeLine) ([]suppression.WarningTypeLine, []suppression.WarningTypeLine, int) {
	matched := make([]bool, len(newMarks))
	var restOld []suppression.WarningTypeLine
	unchanged := 0

	for _, o := range oldMarks {
		found := false
		for j, n := range newMarks {
			if !matched[j] && n.Suppressor == o.Suppressor && n.Text == o.Text {
				matched[j] = true
				found = true
				unchanged += len(o.Markers())
				break
			}
		}
		if !found {
			restOld = append(restOld, o)
		}
	}

	var restNew []suppression.WarningTypeLine
	for j, n := range newMarks {
		if !matched[j] {
			restNew = append(restNew, n)
		}
	}
	return restOld, restNew, unchanged
}

func changes(marks []suppression.WarningTypeLine, op history.Operation) []Change {
	var out []Change
	for _, w := range marks {
		for _, m := range w.Markers() {
			out = append(out, Change{Op: op, Marker: m, Line: w.Line})
		}
	}
	return out
}

// comparePair compares two comments at the same position. Comments naming the same
// number of kinds but with different text are replaced wholesale; otherwise kinds
// present on one side only are added or deleted and shared kinds are unchanged.
func comparePair(o, n suppression.WarningTypeLine, opts Options) ([]Change, int) {
	oldMarkers := o.Markers()
	newMarkers := n.Markers()

	if len(oldMarkers) == len(newMarkers) {
		var out []Change
		for _, m := range oldMarkers {
			out = append(out, Change{Op: opts.deleteOp(), Marker: m, Line: o.Line})
		}
		for _, m := range newMarkers {
			out = append(out, Change{Op: opts.addOp(), Marker: m, Line: n.Line})
		}
		return out, 0
	}

	remaining := make(map[kindKey]int)
	for _, m := range newMarkers {
		remaining[keyOf(m)]++
	}

	var out []Change
	unchanged := 0
	for _, m := range oldMarkers {
		k := keyOf(m)
		if remaining[k] > 0 {
			remaining[k]--
			unchanged++
			continue
		}
		out = append(out, Change{Op: opts.deleteOp(), Marker: m, Line: o.Line})
	}
	for _, m := range newMarkers {
		k := keyOf(m)
		if remaining[k] > 0 {
			remaining[k]--
			out = append(out, Change{Op: opts.addOp(), Marker: m, Line: n.Line})
		}
	}
	return out, unchanged
}

type kindKey struct {
	suppressor string
	kind       string
}

func keyOf(m suppression.Marker) kindKey {
	return kindKey{suppressor: m.Suppressor, kind: m.Kind}
}
