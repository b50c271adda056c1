package suppression

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Suppression is a suppression marker observed at one line of one file at one commit.
type Suppression struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Marker
}

// String renders "path:line text[kind]".
func (s Suppression) String() string {
	if s.Kind == "" {
		return fmt.Sprintf("%s:%d %s", s.Path, s.Line, s.Text)
	}
	return fmt.Sprintf("%s:%d %s[%s]", s.Path, s.Line, s.Text, s.Kind)
}

// ScanFile returns every suppression in a file's content, in line order.
func (e *Extractor) ScanFile(path, content string) []Suppression {
	var out []Suppression
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		for _, m := range e.Extract(scanner.Text()) {
			out = append(out, Suppression{Path: path, Line: n, Marker: m})
		}
	}
	return out
}

// ParseGrep parses `git grep -n` output ("<rev>:<path>:<line>:<text>", or
// "<path>:<line>:<text>" for the working tree) into suppressions. Lines whose text
// only matched the grep hint and carry no suppression are dropped.
func (e *Extractor) ParseGrep(output string, withRev bool) ([]Suppression, error) {
	var out []Suppression
	fields := 3
	if withRev {
		fields = 4
	}

	for _, raw := range strings.Split(output, "\n") {
		if raw == "" {
			continue
		}
		parts := strings.SplitN(raw, ":", fields)
		if len(parts) != fields {
			return nil, fmt.Errorf("unexpected grep line %q", raw)
		}
		if withRev {
			parts = parts[1:]
		}
		line, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("bad line number in grep line %q", raw)
		}
		for _, m := range e.Extract(parts[2]) {
			out = append(out, Suppression{Path: parts[0], Line: line, Marker: m})
		}
	}

	Sort(out)
	return out, nil
}

// Sort orders suppressions by path, line and kind.
func Sort(s []Suppression) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Path != s[j].Path {
			return s[i].Path < s[j].Path
		}
		if s[i].Line != s[j].Line {
			return s[i].Line < s[j].Line
		}
		return s[i].Kind < s[j].Kind
	})
}
