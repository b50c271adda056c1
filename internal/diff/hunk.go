package diff

import (
	"regexp"
	"strconv"

	"github.com/rohankatakam/suphist/internal/errors"
)

// Match: @@ -42,10 +42,15 @@ optional section heading
var hunkHeaderRegex = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// HunkRange is the half-open line interval [Start, Start+Step) of one side of a hunk.
// A zero Step means the side has no lines; Start is then the line after which
// the other side's lines were inserted (or before which they were removed).
type HunkRange struct {
	Start int
	Step  int
}

// End returns the first line past the range.
func (r HunkRange) End() int {
	return r.Start + r.Step
}

// Empty reports whether the side has no lines.
func (r HunkRange) Empty() bool {
	return r.Step == 0
}

// Contains reports whether line falls inside the range.
func (r HunkRange) Contains(line int) bool {
	return line >= r.Start && line < r.End()
}

// ParseHunkHeader parses "@@ -a,b +c,d @@" into the old and new ranges.
// An omitted length defaults to 1.
func ParseHunkHeader(line string) (HunkRange, HunkRange, error) {
	matches := hunkHeaderRegex.FindStringSubmatch(line)
	if matches == nil {
		return HunkRange{}, HunkRange{}, errors.ParseErrorf("malformed hunk header %q", line)
	}

	oldStart, err := strconv.Atoi(matches[1])
	if err != nil {
		return HunkRange{}, HunkRange{}, errors.ParseErrorf("bad old start in %q", line)
	}
	oldStep := 1
	if matches[2] != "" {
		if oldStep, err = strconv.Atoi(matches[2]); err != nil {
			return HunkRange{}, HunkRange{}, errors.ParseErrorf("bad old length in %q", line)
		}
	}

	newStart, err := strconv.Atoi(matches[3])
	if err != nil {
		return HunkRange{}, HunkRange{}, errors.ParseErrorf("bad new start in %q", line)
	}
	newStep := 1
	if matches[4] != "" {
		if newStep, err = strconv.Atoi(matches[4]); err != nil {
			return HunkRange{}, HunkRange{}, errors.ParseErrorf("bad new length in %q", line)
		}
	}

	return HunkRange{Start: oldStart, Step: oldStep}, HunkRange{Start: newStart, Step: newStep}, nil
}

// LineKind tags one body line of a hunk.
type LineKind int

const (
	Context LineKind = iota
	Removed
	Added
)

// Line is one body line of a hunk, without its leading marker.
type Line struct {
	Kind LineKind
	Text string
}

// Hunk is one "@@" block of a file diff.
type Hunk struct {
	Header string
	Old    HunkRange
	New    HunkRange
	Lines  []Line
}

// NumberedLine is a source line with its 1-based line number on one side.
type NumberedLine struct {
	Number int
	Text   string
	Kind   LineKind
}

// OldSide returns the context and removed lines, numbered from Old.Start.
func (h Hunk) OldSide() []NumberedLine {
	var out []NumberedLine
	n := h.Old.Start
	for _, l := range h.Lines {
		if l.Kind == Added {
			continue
		}
		out = append(out, NumberedLine{Number: n, Text: l.Text, Kind: l.Kind})
		n++
	}
	return out
}

// NewSide returns the context and added lines, numbered from New.Start.
func (h Hunk) NewSide() []NumberedLine {
	var out []NumberedLine
	n := h.New.Start
	for _, l := range h.Lines {
		if l.Kind == Removed {
			continue
		}
		out = append(out, NumberedLine{Number: n, Text: l.Text, Kind: l.Kind})
		n++
	}
	return out
}

// Invert swaps the old and new sides, turning an A->B hunk into B->A.
func (h Hunk) Invert() Hunk {
	inv := Hunk{
		Old:   h.New,
		New:   h.Old,
		Lines: make([]Line, len(h.Lines)),
	}
	for i, l := range h.Lines {
		switch l.Kind {
		case Added:
			l.Kind = Removed
		case Removed:
			l.Kind = Added
		}
		inv.Lines[i] = l
	}
	inv.Header = formatHeader(inv.Old, inv.New)
	return inv
}

// Consistent reports whether the body line counts agree with the header.
func (h Hunk) Consistent() bool {
	return len(h.OldSide()) == h.Old.Step && len(h.NewSide()) == h.New.Step
}

func formatHeader(oldRange, newRange HunkRange) string {
	return "@@ -" + strconv.Itoa(oldRange.Start) + "," + strconv.Itoa(oldRange.Step) +
		" +" + strconv.Itoa(newRange.Start) + "," + strconv.Itoa(newRange.Step) + " @@"
}
