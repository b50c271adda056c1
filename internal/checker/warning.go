// Package checker runs external static checkers and parses their reports into
// flat warning lists.
package checker

import (
	"fmt"
	"sort"
)

// Warning is one issue reported by a checker.
type Warning struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
	Line int    `json:"line"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s:%d %s", w.Path, w.Line, w.Kind)
}

// Sort orders warnings by path, line and kind.
func Sort(ws []Warning) {
	sort.SliceStable(ws, func(i, j int) bool {
		if ws[i].Path != ws[j].Path {
			return ws[i].Path < ws[j].Path
		}
		if ws[i].Line != ws[j].Line {
			return ws[i].Line < ws[j].Line
		}
		return ws[i].Kind < ws[j].Kind
	})
}

// Difference returns the warnings of after that before does not account for,
// counting duplicates.
func Difference(after, before []Warning) []Warning {
	left := make(map[Warning]int, len(before))
	for _, w := range before {
		left[w]++
	}
	var out []Warning
	for _, w := range after {
		if left[w] > 0 {
			left[w]--
			continue
		}
		out = append(out, w)
	}
	Sort(out)
	return out
}

type kindKey struct {
	path string
	kind string
}

// Covers reports whether ws contains every warning of prev by path and kind,
// counting duplicates. Lines are ignored since they shift between commits.
func Covers(ws, prev []Warning) bool {
	have := make(map[kindKey]int, len(ws))
	for _, w := range ws {
		have[kindKey{w.Path, w.Kind}]++
	}
	for _, w := range prev {
		k := kindKey{w.Path, w.Kind}
		if have[k] == 0 {
			return false
		}
		have[k]--
	}
	return true
}
