package diff

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rohankatakam/suphist/internal/errors"
)

// ShortIDLength is the length commit identifiers are truncated to.
const ShortIDLength = 7

const devNull = "/dev/null"

// Match: diff --git a/path/to/file.py b/path/to/file.py
var diffHeaderRegex = regexp.MustCompile(`^diff --git a/(.+?) b/(.+?)$`)

// FileDiff is the change to one file inside a commit or a two-commit diff.
type FileDiff struct {
	OldPath   string
	NewPath   string
	IsNew     bool
	IsDeleted bool
	IsRename  bool
	IsBinary  bool
	Hunks     []Hunk
}

// Path returns the path the file has after the change (before it, for deletions).
func (f FileDiff) Path() string {
	if f.IsDeleted || f.NewPath == "" {
		return f.OldPath
	}
	return f.NewPath
}

// Commit is one commit block of `git log -p` output. Diffs produced by
// `git diff A B` parse into a single Commit with an empty ID.
type Commit struct {
	ID      string
	Parents []string
	Date    time.Time
	Files   []FileDiff
}

// IsMerge reports whether the commit has two or more parents.
func (c Commit) IsMerge() bool {
	return len(c.Parents) > 1
}

// Touches reports whether any file diff in the commit has path on either side.
func (c Commit) Touches(path string) bool {
	for _, f := range c.Files {
		if f.OldPath == path || f.NewPath == path {
			return true
		}
	}
	return false
}

// ShortID truncates a full hash to ShortIDLength.
func ShortID(hash string) string {
	if len(hash) > ShortIDLength {
		return hash[:ShortIDLength]
	}
	return hash
}

type parseState int

const (
	stateExpectCommit parseState = iota
	stateInHeader
	stateInFileHeader
	stateInHunk
)

func (s parseState) String() string {
	switch s {
	case stateExpectCommit:
		return "expect_commit"
	case stateInHeader:
		return "in_header"
	case stateInFileHeader:
		return "in_file_header"
	case stateInHunk:
		return "in_hunk"
	default:
		return "unknown"
	}
}

// transition fires when a line starts with prefix. An empty prefix matches any line
// and must come last in its state's list.
type transition struct {
	prefix string
	apply  func(p *parser, line string) (parseState, error)
}

var transitions map[parseState][]transition

func init() {
	startCommit := transition{"commit ", (*parser).startCommit}
	startFile := transition{"diff --git ", (*parser).startFile}
	startHunk := transition{"@@", (*parser).startHunk}
	ignore := func(p *parser, _ string) (parseState, error) { return p.state, nil }

	transitions = map[parseState][]transition{
		stateExpectCommit: {
			startCommit,
			{"diff --git ", (*parser).startAnonymousFile},
			{"", ignore},
		},
		stateInHeader: {
			startCommit,
			{"Merge:", (*parser).mergeParents},
			{"Date:", (*parser).commitDate},
			{"CommitDate:", (*parser).commitDate},
			startFile,
			{"", ignore},
		},
		stateInFileHeader: {
			startCommit,
			startFile,
			startHunk,
			{"new file mode", func(p *parser, _ string) (parseState, error) {
				p.file().IsNew = true
				return stateInFileHeader, nil
			}},
			{"deleted file mode", func(p *parser, _ string) (parseState, error) {
				p.file().IsDeleted = true
				return stateInFileHeader, nil
			}},
			{"rename from ", func(p *parser, line string) (parseState, error) {
				f := p.file()
				f.IsRename = true
				f.OldPath = unquotePath(strings.TrimPrefix(line, "rename from "))
				return stateInFileHeader, nil
			}},
			{"rename to ", func(p *parser, line string) (parseState, error) {
				f := p.file()
				f.IsRename = true
				f.NewPath = unquotePath(strings.TrimPrefix(line, "rename to "))
				return stateInFileHeader, nil
			}},
			{"--- ", (*parser).oldPathLine},
			{"+++ ", (*parser).newPathLine},
			{"Binary files ", func(p *parser, _ string) (parseState, error) {
				p.file().IsBinary = true
				return stateInFileHeader, nil
			}},
			{"", ignore},
		},
	}
}

type parser struct {
	state   parseState
	commits []Commit
	lineNo  int

	oldLeft int
	newLeft int
}

// ParseLog parses `git log -p` (or `git diff`) text into commits, oldest state
// transitions first as they appear in the input.
func ParseLog(r io.Reader) ([]Commit, error) {
	p := &parser{state: stateExpectCommit}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		p.lineNo++
		if err := p.step(scanner.Text()); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning diff output: %w", err)
	}

	return p.commits, nil
}

// ParseLogString is ParseLog over an in-memory string.
func ParseLogString(s string) ([]Commit, error) {
	return ParseLog(strings.NewReader(s))
}

// ParseFileDiffs parses plain `git diff` output into its file diffs.
func ParseFileDiffs(s string) ([]FileDiff, error) {
	commits, err := ParseLogString(s)
	if err != nil {
		return nil, err
	}
	var files []FileDiff
	for _, c := range commits {
		files = append(files, c.Files...)
	}
	return files, nil
}

func (p *parser) step(line string) error {
	if p.state == stateInHunk {
		if p.hunkLine(line) {
			return nil
		}
		p.state = stateInFileHeader
	}

	for _, t := range transitions[p.state] {
		if t.prefix != "" && !strings.HasPrefix(line, t.prefix) {
			continue
		}
		next, err := t.apply(p, line)
		if err != nil {
			return errors.ParseErrorf("line %d (%s): %v", p.lineNo, p.state, err)
		}
		p.state = next
		return nil
	}
	return nil
}

// hunkLine consumes one body line. It returns false when the line does not
// belong to the current hunk, so the caller re-dispatches it.
func (p *parser) hunkLine(line string) bool {
	if strings.HasPrefix(line, `\`) {
		// "\ No newline at end of file"
		return true
	}
	if p.oldLeft <= 0 && p.newLeft <= 0 {
		return false
	}

	h := p.hunk()
	switch {
	case line == "" || line[0] == ' ':
		text := ""
		if line != "" {
			text = line[1:]
		}
		h.Lines = append(h.Lines, Line{Kind: Context, Text: text})
		p.oldLeft--
		p.newLeft--
	case line[0] == '-' && p.oldLeft > 0:
		h.Lines = append(h.Lines, Line{Kind: Removed, Text: line[1:]})
		p.oldLeft--
	case line[0] == '+' && p.newLeft > 0:
		h.Lines = append(h.Lines, Line{Kind: Added, Text: line[1:]})
		p.newLeft--
	default:
		return false
	}
	return true
}

func (p *parser) startCommit(line string) (parseState, error) {
	fields := strings.Fields(strings.TrimPrefix(line, "commit "))
	if len(fields) == 0 {
		return stateExpectCommit, fmt.Errorf("commit line without hash")
	}
	p.commits = append(p.commits, Commit{ID: ShortID(fields[0])})
	return stateInHeader, nil
}

func (p *parser) mergeParents(line string) (parseState, error) {
	c := p.commit()
	for _, parent := range strings.Fields(strings.TrimPrefix(line, "Merge:")) {
		c.Parents = append(c.Parents, ShortID(parent))
	}
	return stateInHeader, nil
}

// commitDate reads "Date:" or, with --pretty=fuller, "CommitDate:" which then
// overrides the author date.
func (p *parser) commitDate(line string) (parseState, error) {
	_, value, _ := strings.Cut(line, ":")
	t, err := ParseDate(strings.TrimSpace(value))
	if err != nil {
		return stateInHeader, err
	}
	p.commit().Date = t
	return stateInHeader, nil
}

func (p *parser) startAnonymousFile(line string) (parseState, error) {
	p.commits = append(p.commits, Commit{})
	return p.startFile(line)
}

func (p *parser) startFile(line string) (parseState, error) {
	c := p.commit()
	f := FileDiff{}
	if m := diffHeaderRegex.FindStringSubmatch(line); m != nil {
		f.OldPath = unquotePath(m[1])
		f.NewPath = unquotePath(m[2])
	}
	c.Files = append(c.Files, f)
	return stateInFileHeader, nil
}

func (p *parser) oldPathLine(line string) (parseState, error) {
	path := pathFromMarker(strings.TrimPrefix(line, "--- "))
	f := p.file()
	if path == devNull {
		f.IsNew = true
		f.OldPath = ""
	} else {
		f.OldPath = path
	}
	return stateInFileHeader, nil
}

func (p *parser) newPathLine(line string) (parseState, error) {
	path := pathFromMarker(strings.TrimPrefix(line, "+++ "))
	f := p.file()
	if path == devNull {
		f.IsDeleted = true
		f.NewPath = ""
	} else {
		f.NewPath = path
	}
	return stateInFileHeader, nil
}

func (p *parser) startHunk(line string) (parseState, error) {
	oldRange, newRange, err := ParseHunkHeader(line)
	if err != nil {
		return stateInFileHeader, err
	}
	f := p.file()
	f.Hunks = append(f.Hunks, Hunk{Header: line, Old: oldRange, New: newRange})
	p.oldLeft = oldRange.Step
	p.newLeft = newRange.Step
	return stateInHunk, nil
}

func (p *parser) commit() *Commit {
	if len(p.commits) == 0 {
		p.commits = append(p.commits, Commit{})
	}
	return &p.commits[len(p.commits)-1]
}

func (p *parser) file() *FileDiff {
	c := p.commit()
	if len(c.Files) == 0 {
		c.Files = append(c.Files, FileDiff{})
	}
	return &c.Files[len(c.Files)-1]
}

func (p *parser) hunk() *Hunk {
	f := p.file()
	return &f.Hunks[len(f.Hunks)-1]
}

// pathFromMarker strips the a/ or b/ prefix and any trailing tab-separated timestamp.
func pathFromMarker(s string) string {
	if idx := strings.Index(s, "\t"); idx >= 0 {
		s = s[:idx]
	}
	s = unquotePath(s)
	if s == devNull {
		return s
	}
	if len(s) >= 2 && (s[0] == 'a' || s[0] == 'b') && s[1] == '/' {
		return s[2:]
	}
	return s
}

func unquotePath(s string) string {
	if strings.HasPrefix(s, `"`) {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
	}
	return s
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"Mon Jan 2 15:04:05 2006 -0700",
}

// ParseDate accepts the strict ISO, ISO and default date formats git prints.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
