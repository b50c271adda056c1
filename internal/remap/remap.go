// Package remap carries a suppression's line number from one file state to the next
// across the hunks of a diff between them.
package remap

import (
	"github.com/rohankatakam/suphist/internal/diff"
	"github.com/rohankatakam/suphist/internal/suppression"
)

// Result is where a line ended up. When Deleted is set, Line is the old line the
// marker was removed from.
type Result struct {
	Line    int
	Deleted bool
	// Marker is the suppression found at Line on the new side, which may differ in
	// text from the one tracked when a sibling kind was edited on the same line.
	Marker suppression.Marker
}

// Remapper remaps lines that carry suppression markers.
type Remapper struct {
	extractor *suppression.Extractor
}

// New creates a remapper.
func New(extractor *suppression.Extractor) *Remapper {
	return &Remapper{extractor: extractor}
}

// Line maps line, valid in the old file state, through hunks (ordered by position)
// into the new state. Hunks must come from a diff of one file.
func Line(hunks []diff.Hunk, line int) int {
	delta := 0
	for _, h := range hunks {
		if before(h, line) {
			break
		}
		if h.Old.Step > 0 && h.Old.Contains(line) {
			return positional(h, line)
		}
		delta += h.New.Step - h.Old.Step
	}
	return line + delta
}

// Remap maps the marker m at line through hunks. A marker on a removed line survives
// only when the same marker appears on the hunk's new side; otherwise it was deleted.
func (r *Remapper) Remap(hunks []diff.Hunk, line int, m suppression.Marker) Result {
	delta := 0
	for _, h := range hunks {
		if before(h, line) {
			break
		}
		if h.Old.Step > 0 && h.Old.Contains(line) {
			return r.inHunk(h, line, m)
		}
		delta += h.New.Step - h.Old.Step
	}
	return Result{Line: line + delta, Marker: m}
}

// before reports whether line lies ahead of hunk h, so h and every later hunk leave it alone.
// A pure insertion "-a,0" places its lines after old line a.
func before(h diff.Hunk, line int) bool {
	if h.Old.Step == 0 {
		return line <= h.Old.Start
	}
	return line < h.Old.Start
}

func (r *Remapper) inHunk(h diff.Hunk, line int, m suppression.Marker) Result {
	oldSide := h.OldSide()
	idx := line - h.Old.Start
	if idx >= len(oldSide) || oldSide[idx].Kind == diff.Context {
		return Result{Line: positional(h, line), Marker: m}
	}

	// the n-th removed occurrence of the marker maps to the n-th added occurrence
	occurrence := 0
	for _, l := range oldSide[:idx] {
		if l.Kind == diff.Removed && r.carries(l.Text, m) {
			occurrence++
		}
	}
	for _, l := range h.NewSide() {
		if l.Kind != diff.Added {
			continue
		}
		found, ok := r.find(l.Text, m)
		if !ok {
			continue
		}
		if occurrence == 0 {
			return Result{Line: l.Number, Marker: found}
		}
		occurrence--
	}
	return Result{Line: line, Deleted: true, Marker: m}
}

// positional maps a line inside h by position. Context lines map to their copy; the
// k-th removed line of a change block maps to the block's k-th added line, or to the
// line after the block when fewer lines were added.
func positional(h diff.Hunk, line int) int {
	oldNo, newNo := h.Old.Start, h.New.Start
	lines := h.Lines
	for i := 0; i < len(lines); {
		if lines[i].Kind == diff.Context {
			if oldNo == line {
				return newNo
			}
			oldNo++
			newNo++
			i++
			continue
		}

		removed, added := 0, 0
		for ; i < len(lines) && lines[i].Kind != diff.Context; i++ {
			if lines[i].Kind == diff.Removed {
				removed++
			} else {
				added++
			}
		}
		if line >= oldNo && line < oldNo+removed {
			if k := line - oldNo; k < added {
				return newNo + k
			}
			return newNo + added
		}
		oldNo += removed
		newNo += added
	}
	return newNo
}

func (r *Remapper) carries(text string, m suppression.Marker) bool {
	_, ok := r.find(text, m)
	return ok
}

func (r *Remapper) find(text string, m suppression.Marker) (suppression.Marker, bool) {
	for _, cand := range r.extractor.Extract(text) {
		if cand.Same(m) {
			return cand, true
		}
	}
	return suppression.Marker{}, false
}
