package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/suphist/internal/accidental"
	"github.com/rohankatakam/suphist/internal/checker"
	"github.com/rohankatakam/suphist/internal/classify"
	"github.com/rohankatakam/suphist/internal/diff"
	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/history"
	"github.com/rohankatakam/suphist/internal/suppression"
)

func TestHistoriesRoundTrip(t *testing.T) {
	root := t.TempDir()
	date := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	hs := []history.History{{
		ID: "# S1",
		Events: []history.ChangeEvent{{
			Commit: "abc1234", Date: date, Path: "a.py",
			WarningType: "# type: ignore", Suppressor: "mypy", Line: 3, Op: history.OpAdd,
		}},
	}}

	path, err := WriteHistories(root, "demo", hs)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "demo", HistoriesFile), path)

	got, err := ReadHistories(path)
	require.NoError(t, err)
	if diff := cmp.Diff(hs, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"change_operation": "add"`)

	leftovers, err := filepath.Glob(filepath.Join(root, "demo", HistoriesFile+".*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestReadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadHistories(filepath.Join(dir, "missing.json"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeFileSystem))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0644))
	_, err = ReadHistories(bad)
	assert.True(t, errors.IsType(err, errors.ErrorTypeParse))
	_, err = ReadAccidental(bad)
	assert.True(t, errors.IsType(err, errors.ErrorTypeParse))
}

func TestAccidentalRoundTrip(t *testing.T) {
	root := t.TempDir()

	path, err := WriteAccidental(root, "demo", nil)
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(raw))

	m := suppression.Marker{Suppressor: "pylint", Text: "# pylint: disable=unused-import", Kind: "unused-import"}
	records := []accidental.Record{{
		HistoryID:           "# S4",
		PreviousCommit:      "1111111",
		Commit:              "2222222",
		PreviousSuppression: suppression.Suppression{Path: "a.py", Line: 1, Marker: m},
		Suppression:         suppression.Suppression{Path: "a.py", Line: 2, Marker: m},
		PreviousWarnings:    []checker.Warning{{Path: "a.py", Kind: "unused-import", Line: 1}},
		Warnings: []checker.Warning{
			{Path: "a.py", Kind: "unused-import", Line: 2},
			{Path: "a.py", Kind: "unused-import", Line: 2},
		},
	}}
	path, err = WriteAccidental(root, "demo", records)
	require.NoError(t, err)

	got, err := ReadAccidental(path)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func readDiagnostics(t *testing.T, path string) []Diagnostic {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []Diagnostic
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var d Diagnostic
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &d))
		out = append(out, d)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestDiagnosticsLog(t *testing.T) {
	logger, _ := test.NewNullLogger()
	path := filepath.Join(t.TempDir(), "out", DiagnosticsFile)

	log, err := OpenDiagnostics(path, logger)
	require.NoError(t, err)

	demo := log.ForRepo("demo")
	commit := diff.Commit{ID: "abc1234"}
	file := diff.FileDiff{OldPath: "a.py", NewPath: "a.py"}
	demo.Ambiguous(commit, file, &classify.Ambiguity{
		Reason: "2 removed and 3 added suppression lines",
		Hunk:   diff.Hunk{Header: "@@ -1,2 +1,3 @@"},
		Old:    []suppression.WarningTypeLine{{Text: "# type: ignore", Line: 1}},
		New:    []suppression.WarningTypeLine{{Text: "# type: ignore", Line: 2}},
	})
	demo.Orphan("abc1234", suppression.Suppression{
		Path: "a.py", Line: 1, Marker: suppression.Marker{Text: "# type: ignore"},
	}, "marker gone after ambiguous hunk")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.ForRepo("other").Ambiguous(commit, file, nil)
		}()
	}
	wg.Wait()
	require.NoError(t, log.Close())

	assert.Equal(t, 1, demo.AmbiguousCount())
	assert.Equal(t, 1, demo.OrphanCount())
	assert.Equal(t, 10, log.Count("other", DiagnosticAmbiguous))

	entries := readDiagnostics(t, path)
	require.Len(t, entries, 12)
	assert.Equal(t, DiagnosticAmbiguous, entries[0].Kind)
	assert.Equal(t, "@@ -1,2 +1,3 @@", entries[0].Hunk)
	assert.Equal(t, []string{"# type: ignore"}, entries[0].Removed)
	assert.Equal(t, DiagnosticOrphan, entries[1].Kind)
	assert.Equal(t, 1, entries[1].Line)

	// appends across opens
	again, err := OpenDiagnostics(path, logger)
	require.NoError(t, err)
	again.ForRepo("demo").Orphan("def5678", suppression.Suppression{Path: "b.py", Line: 9}, "gone")
	require.NoError(t, again.Close())
	assert.Len(t, readDiagnostics(t, path), 13)
}

func TestTableFormatter(t *testing.T) {
	s := &Summary{
		Started: time.Now().Add(-time.Minute),
		Elapsed: 1500 * time.Millisecond,
		Repos: []RepoSummary{
			{Repo: "django", Commits: 12345, Histories: 1200, Deleted: 700, Alive: 500, Ambiguous: 3, Orphans: 1},
			{Repo: "flask", Stage: "walk", Error: "walk: git log: exit status 128"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, NewFormatter(false).Format(s, &buf))
	out := buf.String()

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.True(t, strings.HasPrefix(lines[0], "REPO"))
	assert.Contains(t, lines[1], "12,345")
	assert.Contains(t, lines[1], "1,200")
	assert.Contains(t, lines[2], "failed: walk: git log: exit status 128")
	assert.Contains(t, out, "2 repositories (1 failed)")
	assert.Contains(t, out, "1 minute ago")
}

func TestJSONFormatter(t *testing.T) {
	s := &Summary{Repos: []RepoSummary{{Repo: "django", Histories: 2, Alive: 1, Deleted: 1}}}

	var buf bytes.Buffer
	require.NoError(t, NewFormatter(true).Format(s, &buf))

	var decoded Summary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, s.Repos, decoded.Repos)
	assert.Zero(t, decoded.Failures())
}
