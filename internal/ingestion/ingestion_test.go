package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/suphist/internal/config"
	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/git"
	"github.com/rohankatakam/suphist/internal/git/gittest"
	"github.com/rohankatakam/suphist/internal/history"
	"github.com/rohankatakam/suphist/internal/output"
	"github.com/rohankatakam/suphist/internal/storage"
	"github.com/rohankatakam/suphist/internal/window"
)

// fixtureRepo has one suppression deleted at c2 and one still alive at HEAD.
func fixtureRepo(t *testing.T) (*gittest.Fixture, []string) {
	t.Helper()
	fx := gittest.New(t)
	c0 := fx.Commit("init", map[string]string{
		"a.py": gittest.Lines("import os  # pylint: disable=unused-import", "x = 1"),
	})
	c1 := fx.Commit("add b, shift a", map[string]string{
		"a.py": gittest.Lines("import sys", "import os  # pylint: disable=unused-import", "x = 1"),
		"b.py": gittest.Lines("y = f()  # type: ignore"),
	})
	c2 := fx.Commit("drop suppression", map[string]string{
		"a.py": gittest.Lines("import sys", "import os", "x = 1"),
	})
	return fx, []string{c0, c1, c2}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Directory = filepath.Join(t.TempDir(), "out")
	cfg.Cache.Type = "none"
	return cfg
}

func TestMineRepository(t *testing.T) {
	fx, commits := fixtureRepo(t)
	cfg := testConfig(t)
	logger, _ := test.NewNullLogger()

	dbPath := filepath.Join(t.TempDir(), "results.db")
	store, err := storage.NewSQLiteStore(dbPath, logger)
	require.NoError(t, err)
	defer store.Close()

	diags, err := output.OpenDiagnostics(filepath.Join(cfg.Output.Directory, output.DiagnosticsFile), logger)
	require.NoError(t, err)
	defer diags.Close()

	o, err := NewOrchestrator(cfg, Deps{Store: store, Diagnostics: diags}, logger)
	require.NoError(t, err)

	res, err := o.MineRepository(context.Background(), config.RepoSpec{Name: "demo", Path: fx.Dir})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Commits)
	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.Conflicts)
	require.Len(t, res.Histories, 2)

	s := res.Summary()
	assert.Equal(t, 1, s.Alive)
	assert.Equal(t, 1, s.Deleted)
	assert.False(t, s.Failed())

	var deleted history.History
	for _, h := range res.Histories {
		if !h.Alive() {
			deleted = h
		}
	}
	del, ok := deleted.Delete()
	require.True(t, ok)
	assert.Equal(t, commits[2], del.Commit)
	assert.Equal(t, 2, del.Line)

	written, err := output.ReadHistories(res.OutputPath)
	require.NoError(t, err)
	assert.Len(t, written, 2)

	run, err := store.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunSucceeded, run.Status)
	assert.Equal(t, 2, run.Histories)

	saved, err := store.GetHistories(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Len(t, saved, 2)
}

func TestMineRepositoryCommitListFile(t *testing.T) {
	fx, commits := fixtureRepo(t)
	cfg := testConfig(t)
	cfg.History.LineHistory = false
	logger, _ := test.NewNullLogger()

	list := filepath.Join(t.TempDir(), "commits.csv")
	f, err := os.Create(list)
	require.NoError(t, err)
	require.NoError(t, window.WriteList(f, window.List{
		{ID: commits[0], Date: gittest.Date(0)},
		{ID: commits[2], Date: gittest.Date(2)},
	}))
	require.NoError(t, f.Close())

	o, err := NewOrchestrator(cfg, Deps{}, logger)
	require.NoError(t, err)

	res, err := o.MineRepository(context.Background(), config.RepoSpec{Name: "demo", Path: fx.Dir, Commits: list})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Commits)
	assert.Len(t, res.Histories, 2)
}

func TestMineRepositoryMergedBranch(t *testing.T) {
	fx := gittest.New(t)
	fx.Commit("init", map[string]string{
		"a.py": gittest.Lines("x = 1", "y = 2"),
		"b.py": gittest.Lines("z = 3"),
	})
	fx.Git("checkout", "-q", "-b", "feature")
	feature := fx.Commit("add constants", map[string]string{
		"a.py": gittest.Lines("x = 1", "y = 2",
			"X = 1  # pylint: disable=invalid-name",
			"Y = 2  # pylint: disable=invalid-name"),
	})
	fx.Git("checkout", "-q", "-")
	fx.Commit("edit b", map[string]string{"b.py": gittest.Lines("z = 4")})
	fx.Git("merge", "-q", "--no-ff", "-m", "merge feature", "feature")

	cfg := testConfig(t)
	logger, _ := test.NewNullLogger()
	o, err := NewOrchestrator(cfg, Deps{}, logger)
	require.NoError(t, err)

	res, err := o.MineRepository(context.Background(), config.RepoSpec{Name: "merged", Path: fx.Dir})
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)
	require.Len(t, res.Histories, 2)

	var lines []int
	for _, h := range res.Histories {
		add := h.Add()
		assert.Equal(t, feature, add.Commit)
		assert.Equal(t, history.OpAdd, add.Op)
		assert.True(t, h.Alive())
		lines = append(lines, add.Line)
	}
	assert.ElementsMatch(t, []int{3, 4}, lines)
}

func TestMineRepositoryFailureCarriesStage(t *testing.T) {
	cfg := testConfig(t)
	logger, _ := test.NewNullLogger()
	o, err := NewOrchestrator(cfg, Deps{}, logger)
	require.NoError(t, err)

	res, err := o.MineRepository(context.Background(), config.RepoSpec{
		Name: "missing",
		Path: filepath.Join(t.TempDir(), "nope"),
	})
	require.Error(t, err)
	assert.Equal(t, errors.StageCommitList, errors.GetStage(err))

	s := res.Summary()
	assert.True(t, s.Failed())
	assert.Equal(t, string(errors.StageCommitList), s.Stage)
}

func TestPoolIsolatesFailures(t *testing.T) {
	fx, _ := fixtureRepo(t)
	cfg := testConfig(t)
	logger, _ := test.NewNullLogger()
	o, err := NewOrchestrator(cfg, Deps{}, logger)
	require.NoError(t, err)

	specs := []config.RepoSpec{
		{Name: "broken", Path: filepath.Join(t.TempDir(), "nope")},
		{Name: "demo", Path: fx.Dir},
		{Name: "demo-again", Path: fx.Dir},
	}
	summary := NewPool(o, PoolOptions{Workers: 3}, logger).Run(context.Background(), specs)

	require.Len(t, summary.Repos, 3)
	assert.Equal(t, "broken", summary.Repos[0].Repo)
	assert.True(t, summary.Repos[0].Failed())
	assert.Equal(t, "demo", summary.Repos[1].Repo)
	assert.Equal(t, 2, summary.Repos[1].Histories)
	assert.Equal(t, 2, summary.Repos[2].Histories)
	assert.Equal(t, 1, summary.Failures())
}

func TestPoolCancelled(t *testing.T) {
	cfg := testConfig(t)
	logger, _ := test.NewNullLogger()
	o, err := NewOrchestrator(cfg, Deps{}, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary := NewPool(o, PoolOptions{}, logger).Run(ctx, []config.RepoSpec{{Name: "demo", Path: t.TempDir()}})
	require.Len(t, summary.Repos, 1)
	assert.True(t, summary.Repos[0].Failed())
}

func TestGitLinker(t *testing.T) {
	fx, commits := fixtureRepo(t)
	logger, _ := test.NewNullLogger()
	repo, err := git.Open(context.Background(), fx.Dir, logger)
	require.NoError(t, err)

	cfg := config.Default()
	extractor, err := cfg.Extractor()
	require.NoError(t, err)
	linker := newGitLinker(repo, extractor)
	m := extractor.Extract("import os  # pylint: disable=unused-import")[0]

	pos := func(commit string, line int) history.Position {
		return history.Position{Commit: commit, Path: "a.py", Line: line}
	}
	tests := []struct {
		name     string
		from, to history.Position
		want     bool
	}{
		{"same commit same line", pos(commits[0], 1), pos(commits[0], 1), true},
		{"same commit other line", pos(commits[0], 1), pos(commits[0], 2), false},
		{"shifted by insert", pos(commits[0], 1), pos(commits[1], 2), true},
		{"not shifted", pos(commits[0], 1), pos(commits[1], 1), false},
		{"marker removed", pos(commits[1], 2), pos(commits[2], 2), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := linker.Linked(context.Background(), tt.from, tt.to, m)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckerFor(t *testing.T) {
	c, err := CheckerFor(config.CheckerConfig{Name: "pylint", Args: []string{"--jobs=1"}})
	require.NoError(t, err)
	assert.Equal(t, "pylint", c.Command)
	assert.Equal(t, []string{"--jobs=1"}, c.Args)

	c, err = CheckerFor(config.CheckerConfig{Name: "pyright", Command: "pyright-mypy-compat"})
	require.NoError(t, err)
	assert.Equal(t, "pyright-mypy-compat", c.Command)
	assert.NotNil(t, c.Parse)

	_, err = CheckerFor(config.CheckerConfig{Name: "pyright"})
	require.Error(t, err)
	assert.Equal(t, errors.StageConfig, errors.GetStage(err))
}

func TestEnsureCloneReusesWorkingTree(t *testing.T) {
	fx, _ := fixtureRepo(t)
	logger, _ := test.NewNullLogger()

	dir, err := EnsureClone(context.Background(), "https://example.com/demo.git", fx.Dir, logger)
	require.NoError(t, err)
	assert.Equal(t, fx.Dir, dir)

	plain := t.TempDir()
	_, err = EnsureClone(context.Background(), "https://example.com/demo.git", plain, logger)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	dst := filepath.Join(t.TempDir(), "clone")
	dir, err = EnsureClone(context.Background(), fx.Dir, dst, logger)
	require.NoError(t, err)
	assert.True(t, isValidGitRepo(dir))
}

func TestGenerateRepoHash(t *testing.T) {
	a := generateRepoHash("https://github.com/psf/requests.git")
	b := generateRepoHash("https://github.com/psf/requests/")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestRemapLine(t *testing.T) {
	fx, commits := fixtureRepo(t)
	fx.Move("a.py", "pkg/a.py")
	moved := fx.Commit("move a", nil)

	logger, _ := test.NewNullLogger()
	repo, err := git.Open(context.Background(), fx.Dir, logger)
	require.NoError(t, err)
	extractor, err := config.Default().Extractor()
	require.NoError(t, err)

	r, err := RemapLine(context.Background(), repo, extractor,
		history.Position{Commit: commits[0], Path: "a.py", Line: 1}, commits[1])
	require.NoError(t, err)
	assert.False(t, r.Deleted)
	assert.Equal(t, 2, r.Position.Line)
	assert.Equal(t, "pylint", r.Marker.Suppressor)

	r, err = RemapLine(context.Background(), repo, extractor,
		history.Position{Commit: commits[1], Path: "a.py", Line: 2}, commits[2])
	require.NoError(t, err)
	assert.True(t, r.Deleted)

	r, err = RemapLine(context.Background(), repo, extractor,
		history.Position{Commit: commits[2], Path: "a.py", Line: 3}, moved)
	require.NoError(t, err)
	assert.False(t, r.Deleted)
	assert.Equal(t, history.Position{Commit: moved, Path: "pkg/a.py", Line: 3}, r.Position)

	_, err = RemapLine(context.Background(), repo, extractor,
		history.Position{Commit: commits[0], Path: "a.py", Line: 40}, commits[1])
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}
