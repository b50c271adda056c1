package accidental

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/suphist/internal/checker"
	"github.com/rohankatakam/suphist/internal/git"
	"github.com/rohankatakam/suphist/internal/git/gittest"
	"github.com/rohankatakam/suphist/internal/history"
	"github.com/rohankatakam/suphist/internal/suppression"
	"github.com/rohankatakam/suphist/internal/window"
)

// staticRepo has no changes between commits: every file is the same everywhere.
type staticRepo struct {
	files map[string]string
	diffs map[string]string
}

func (r *staticRepo) Diff(_ context.Context, from, to string, _ ...string) (string, error) {
	return r.diffs[from+".."+to], nil
}

func (r *staticRepo) Show(_ context.Context, _, path string) (string, error) {
	content, ok := r.files[path]
	if !ok {
		return "", fmt.Errorf("no file %s", path)
	}
	return content, nil
}

func (r *staticRepo) Numstat(_ context.Context, _, to string) ([]git.ChangeSet, error) {
	return []git.ChangeSet{{ID: to, Files: []git.FileChange{{Path: "a.py", Additions: 1}}}}, nil
}

type scriptedOracle struct {
	byCommit map[string][]checker.Warning
	calls    []suppression.Suppression
}

func (o *scriptedOracle) Suppressed(_ context.Context, commit string, s suppression.Suppression) ([]checker.Warning, error) {
	o.calls = append(o.calls, s)
	return o.byCommit[commit], nil
}

func day(n int) time.Time {
	return time.Date(2021, 1, n, 0, 0, 0, 0, time.UTC)
}

func threeCommits() window.List {
	return window.List{
		{ID: "c000001", Date: day(1)},
		{ID: "c000002", Date: day(2)},
		{ID: "c000003", Date: day(3)},
	}
}

func mypyAdd(commit string, d, line int) history.ChangeEvent {
	return history.ChangeEvent{
		Commit:      commit,
		Date:        day(d),
		Path:        "a.py",
		WarningType: "# type: ignore",
		Suppressor:  "mypy",
		Line:        line,
		Op:          history.OpAdd,
	}
}

func newDetector(repo *staticRepo, oracle WarningOracle) *Detector {
	logger, _ := test.NewNullLogger()
	return NewDetector(repo, NewLocator(repo, nil), oracle, logger)
}

func TestDetectEmitsOnlyOnIncrease(t *testing.T) {
	w1 := checker.Warning{Path: "a.py", Kind: "attr-defined", Line: 2}
	w2 := checker.Warning{Path: "a.py", Kind: "arg-type", Line: 2}
	oracle := &scriptedOracle{byCommit: map[string][]checker.Warning{
		"c000001": {w1},
		"c000002": {w2, w1},
		"c000003": {w1},
	}}
	d := newDetector(&staticRepo{}, oracle)

	h := history.New(mypyAdd("c000001", 1, 2), nil)
	h.ID = "# S1"
	records, stats, err := d.Detect(context.Background(), threeCommits(), h)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "# S1", r.HistoryID)
	assert.Equal(t, "c000001", r.PreviousCommit)
	assert.Equal(t, "c000002", r.Commit)
	assert.Equal(t, []checker.Warning{w1}, r.PreviousWarnings)
	assert.Len(t, r.Warnings, 2)
	assert.Equal(t, 2, r.Suppression.Line)
	assert.Equal(t, 3, stats.Commits)
	assert.Equal(t, 1, stats.Records)
}

func TestDetectIgnoresReplacedWarnings(t *testing.T) {
	a := checker.Warning{Path: "a.py", Kind: "attr-defined", Line: 2}
	b := checker.Warning{Path: "a.py", Kind: "arg-type", Line: 2}
	c := checker.Warning{Path: "a.py", Kind: "index", Line: 2}
	oracle := &scriptedOracle{byCommit: map[string][]checker.Warning{
		"c000001": {a, b},
		"c000002": {c},
		"c000003": {a, c},
	}}
	d := newDetector(&staticRepo{}, oracle)

	records, _, err := d.Detect(context.Background(), threeCommits(), history.New(mypyAdd("c000001", 1, 2), nil))
	require.NoError(t, err)
	require.Len(t, records, 1, "only c000002 -> c000003 grows and covers")
	assert.Equal(t, "c000003", records[0].Commit)
}

func TestDetectStopsWhenSuppressionIsGone(t *testing.T) {
	repo := &staticRepo{diffs: map[string]string{
		"c000001..c000002": `diff --git a/a.py b/a.py
index 1111111..2222222 100644
--- a/a.py
+++ b/a.py
@@ -2 +2 @@
-y = f()  # type: ignore
+y = f()
`,
	}}
	oracle := &scriptedOracle{byCommit: map[string][]checker.Warning{
		"c000001": nil,
		"c000002": {{Path: "a.py", Kind: "attr-defined", Line: 2}},
	}}
	d := newDetector(repo, oracle)

	records, stats, err := d.Detect(context.Background(), threeCommits(), history.New(mypyAdd("c000001", 1, 2), nil))
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 1, stats.Commits)
	assert.Equal(t, 1, stats.Lost)
	assert.Len(t, oracle.calls, 1)
}

func TestDetectLocatesMergeAddByScanning(t *testing.T) {
	repo := &staticRepo{files: map[string]string{
		"a.py": gittest.Lines("x = 1", "y = 2", "z = g()  # type: ignore"),
	}}
	oracle := &scriptedOracle{byCommit: map[string][]checker.Warning{}}
	d := newDetector(repo, oracle)

	add := mypyAdd("c000002", 2, history.LineMergeUnknown)
	add.Op = history.OpMergeAdd
	_, _, err := d.Detect(context.Background(), threeCommits(), history.New(add, nil))
	require.NoError(t, err)
	require.NotEmpty(t, oracle.calls)
	assert.Equal(t, 3, oracle.calls[0].Line)
}

func TestDetectAllSkipsInvalidHistories(t *testing.T) {
	oracle := &scriptedOracle{byCommit: map[string][]checker.Warning{}}
	d := newDetector(&staticRepo{}, oracle)

	bad := history.New(mypyAdd("c000002", 2, 2), ptr(mypyAdd("c000001", 1, 2)))
	bad.Events[1].Op = history.OpDelete
	good := history.New(mypyAdd("c000001", 1, 2), nil)

	_, stats, err := d.DetectAll(context.Background(), threeCommits(), []history.History{bad, good})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Histories)
	assert.Equal(t, 3, stats.Commits)
}

func TestLocatorFollow(t *testing.T) {
	fx := gittest.New(t)
	c0 := fx.Commit("init", map[string]string{"a.py": gittest.Lines("x = 1", "y = f()  # type: ignore")})
	c1 := fx.Commit("shift", map[string]string{"a.py": gittest.Lines("import os", "x = 1", "y = f()  # type: ignore")})
	fx.Move("a.py", "b.py")
	c2 := fx.Commit("rename", nil)

	logger, _ := test.NewNullLogger()
	repo, err := git.Open(context.Background(), fx.Dir, logger)
	require.NoError(t, err)
	l := NewLocator(repo, nil)

	s := suppression.Suppression{Path: "a.py", Line: 2, Marker: suppression.Marker{Suppressor: "mypy", Text: "# type: ignore"}}
	got, ok, err := l.Follow(context.Background(), c0, c1, s)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got.Line)

	_, ok, err = l.Follow(context.Background(), c1, c2, got)
	require.NoError(t, err)
	assert.False(t, ok, "moves across files are not followed")

	found, ok, err := l.Find(context.Background(), c1, "a.py", s.Marker)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, found.Line)
}

func ptr(e history.ChangeEvent) *history.ChangeEvent {
	return &e
}
