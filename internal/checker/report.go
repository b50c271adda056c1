package checker

import (
	"bufio"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rohankatakam/suphist/internal/errors"
)

// ReportParser turns a checker's textual report into warnings.
type ReportParser func(output string) ([]Warning, error)

var (
	// a.py:12:4: C0103: Constant name "x" doesn't conform (invalid-name)
	pylintLine = regexp.MustCompile(`^(.+?):(\d+):(?:\d+:)? ([A-Z]\d{4}): .*\(([a-z0-9-]+)\)\s*$`)

	// a.py:3: error: Incompatible types in assignment  [assignment]
	// a.py:3:5: error: Name "y" is not defined  [name-defined]
	mypyLine = regexp.MustCompile(`^(.+?):(\d+):(?:\d+:)? (error|warning|note): (.*?)(?:\s+\[([a-z0-9-]+)\])?\s*$`)
)

// ParsePylint reads pylint's default text report. Score lines and module
// separators are skipped.
func ParsePylint(output string) ([]Warning, error) {
	return parseLines(output, func(line string) (Warning, bool, error) {
		m := pylintLine.FindStringSubmatch(line)
		if m == nil {
			return Warning{}, false, nil
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return Warning{}, false, errors.ParseErrorf("pylint line number in %q", line)
		}
		return Warning{Path: filepath.ToSlash(m[1]), Kind: m[4], Line: n}, true, nil
	})
}

// ParseMypy reads mypy's report with --show-error-codes. Notes are skipped; an
// error without a code gets kind "misc".
func ParseMypy(output string) ([]Warning, error) {
	return parseLines(output, func(line string) (Warning, bool, error) {
		m := mypyLine.FindStringSubmatch(line)
		if m == nil || m[3] == "note" {
			return Warning{}, false, nil
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return Warning{}, false, errors.ParseErrorf("mypy line number in %q", line)
		}
		kind := m[5]
		if kind == "" {
			kind = "misc"
		}
		return Warning{Path: filepath.ToSlash(m[1]), Kind: kind, Line: n}, true, nil
	})
}

func parseLines(output string, parse func(string) (Warning, bool, error)) ([]Warning, error) {
	var out []Warning
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		w, ok, err := parse(strings.TrimRight(scanner.Text(), "\r"))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, w)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.ParseErrorf("scanning checker report: %v", err)
	}
	Sort(out)
	return out, nil
}
