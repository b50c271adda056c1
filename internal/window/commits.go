package window

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rohankatakam/suphist/internal/diff"
	"github.com/rohankatakam/suphist/internal/errors"
)

// Commit is one entry of a repository's sampled commit list.
type Commit struct {
	ID   string
	Date time.Time
}

// List is a deduplicated commit list, oldest first.
type List []Commit

// ReadList parses a two-column "commit,date" file. A header row is skipped, and a
// newest-first file is reversed so the result is always oldest first.
func ReadList(r io.Reader) (List, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.ParseErrorf("reading commit list: %v", err).AtStage(errors.StageCommitList)
	}

	var list List
	seen := make(map[string]bool)
	for i, rec := range records {
		if len(rec) < 2 {
			return nil, errors.ParseErrorf("commit list row %d: want 2 columns, got %d", i+1, len(rec)).
				AtStage(errors.StageCommitList)
		}
		id := strings.TrimSpace(rec[0])
		date, err := diff.ParseDate(strings.TrimSpace(rec[1]))
		if err != nil {
			if i == 0 {
				continue // header
			}
			return nil, errors.ParseErrorf("commit list row %d: %v", i+1, err).AtStage(errors.StageCommitList)
		}
		id = diff.ShortID(id)
		if seen[id] {
			continue
		}
		seen[id] = true
		list = append(list, Commit{ID: id, Date: date})
	}

	if len(list) > 1 && list[0].Date.After(list[len(list)-1].Date) {
		for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
			list[i], list[j] = list[j], list[i]
		}
	}
	return list, nil
}

// LoadList reads a commit list file.
func LoadList(path string) (List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "opening commit list %s", path).AtStage(errors.StageCommitList)
	}
	defer f.Close()
	return ReadList(f)
}

// WriteList writes the list in the format ReadList accepts, with a header.
func WriteList(w io.Writer, list List) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"commit", "date"}); err != nil {
		return err
	}
	for _, c := range list {
		if err := cw.Write([]string{c.ID, c.Date.Format(time.RFC3339)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Index returns the position of the commit with id, or -1.
func (l List) Index(id string) int {
	id = diff.ShortID(id)
	for i, c := range l {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// IndexAt returns the position of the last commit dated at or before t, or -1.
func (l List) IndexAt(t time.Time) int {
	idx := -1
	for i, c := range l {
		if c.Date.After(t) {
			break
		}
		idx = i
	}
	return idx
}

// Newest returns the last commit of the list.
func (l List) Newest() Commit {
	return l[len(l)-1]
}

// Sample keeps at most n commits, evenly spaced, always keeping the oldest and
// the newest.
func (l List) Sample(n int) List {
	if n <= 0 || len(l) <= n {
		return l
	}
	if n == 1 {
		return List{l.Newest()}
	}
	out := make(List, 0, n)
	step := float64(len(l)-1) / float64(n-1)
	last := -1
	for i := 0; i < n; i++ {
		idx := int(float64(i)*step + 0.5)
		if idx == last {
			continue
		}
		out = append(out, l[idx])
		last = idx
	}
	return out
}

// String renders the list span for logs.
func (l List) String() string {
	if len(l) == 0 {
		return "[]"
	}
	return fmt.Sprintf("[%s..%s] (%d commits)", l[0].ID, l.Newest().ID, len(l))
}
