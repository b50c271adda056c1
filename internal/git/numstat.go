package git

import (
	"bufio"
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rohankatakam/suphist/internal/diff"
	"github.com/rohankatakam/suphist/internal/errors"
)

// FileChange is one numstat row of a commit.
type FileChange struct {
	Path      string
	Additions int
	Deletions int
	Binary    bool
}

// ChangeSet is a commit with the files it changed.
type ChangeSet struct {
	ID      string
	Author  string
	Email   string
	Date    time.Time
	Subject string
	Files   []FileChange
}

// Paths returns the changed paths in report order.
func (c ChangeSet) Paths() []string {
	paths := make([]string, 0, len(c.Files))
	for _, f := range c.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

const numstatFormat = "--pretty=format:%H|%an|%ae|%cI|%s"

// Numstat returns the first-parent commits in (from, to] with their changed
// files, oldest first. Renames are reported as a delete plus an add so both
// paths appear.
func (r *Repo) Numstat(ctx context.Context, from, to string) ([]ChangeSet, error) {
	rng := to
	if from != "" {
		rng = from + ".." + to
	}
	out, err := r.output(ctx, "log", "--numstat", "--first-parent", "-m", "--no-renames",
		"--reverse", numstatFormat, rng)
	if err != nil {
		return nil, err
	}
	return ParseNumstat(out)
}

// ParseNumstat parses `git log --numstat` output written with numstatFormat.
func ParseNumstat(output string) ([]ChangeSet, error) {
	var sets []ChangeSet
	var current *ChangeSet

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		// Empty line separates commits
		if line == "" {
			if current != nil {
				sets = append(sets, *current)
				current = nil
			}
			continue
		}

		// Commit header line: SHA|Author|Email|Date|Subject
		if isNumstatHeader(line) {
			if current != nil {
				sets = append(sets, *current)
			}

			parts := strings.SplitN(line, "|", 5)
			if len(parts) != 5 {
				current = nil
				continue // Skip malformed lines
			}

			date, err := diff.ParseDate(parts[3])
			if err != nil {
				return nil, errors.ParseErrorf("numstat date of %s: %v", parts[0], err)
			}

			current = &ChangeSet{
				ID:      diff.ShortID(parts[0]),
				Author:  parts[1],
				Email:   parts[2],
				Date:    date,
				Subject: parts[4],
			}
			continue
		}

		// File change line: additions deletions path
		if current == nil {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			continue // Skip malformed lines
		}
		fc := FileChange{Path: fields[2]}
		if fields[0] == "-" || fields[1] == "-" {
			fc.Binary = true
		} else {
			fc.Additions, _ = strconv.Atoi(fields[0])
			fc.Deletions, _ = strconv.Atoi(fields[1])
		}
		current.Files = append(current.Files, fc)
	}

	// Don't forget the last commit
	if current != nil {
		sets = append(sets, *current)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.ParseErrorf("scanning numstat output: %v", err)
	}
	return sets, nil
}

// isNumstatHeader tells a header from a file row: rows are tab separated and
// begin with a count or "-".
func isNumstatHeader(line string) bool {
	head, _, ok := strings.Cut(line, "|")
	return ok && !strings.Contains(head, "\t")
}
