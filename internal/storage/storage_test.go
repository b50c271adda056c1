package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/suphist/internal/accidental"
	"github.com/rohankatakam/suphist/internal/checker"
	"github.com/rohankatakam/suphist/internal/config"
	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/history"
	"github.com/rohankatakam/suphist/internal/suppression"
)

var epoch = time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleHistories() []history.History {
	add := history.ChangeEvent{
		Commit: "a1b2c3d", Date: epoch, Path: "pkg/a.py",
		WarningType: "# pylint: disable=invalid-name", WarningKind: "invalid-name",
		Suppressor: "pylint", Line: 4, Op: history.OpAdd,
	}
	del := add
	del.Commit, del.Date, del.Line, del.Op = "e4f5a6b", epoch.Add(48*time.Hour), 7, history.OpDelete

	merge := history.ChangeEvent{
		Commit: "0f0f0f0", Date: epoch.Add(time.Hour), Path: "b.py",
		WarningType: "# type: ignore", Suppressor: "mypy",
		Line: history.LineMergeUnknown, Op: history.OpMergeAdd,
	}
	snap := history.ChangeEvent{
		Commit: "1111111", Date: epoch, Path: "c.py",
		WarningType: "# type: ignore", Suppressor: "mypy", Line: 1,
		Op: history.OpAdd, Snapshot: true,
	}

	return []history.History{
		{ID: "# S1", Events: []history.ChangeEvent{add, del}},
		{ID: "# S2", Events: []history.ChangeEvent{merge}},
		{ID: "# S3", Events: []history.ChangeEvent{snap}},
	}
}

func sampleRecords() []accidental.Record {
	m := suppression.Marker{Suppressor: "mypy", Text: "# type: ignore"}
	return []accidental.Record{{
		HistoryID:           "# S2",
		PreviousCommit:      "0f0f0f0",
		Commit:              "2222222",
		PreviousSuppression: suppression.Suppression{Path: "b.py", Line: 3, Marker: m},
		Suppression:         suppression.Suppression{Path: "b.py", Line: 5, Marker: m},
		PreviousWarnings:    []checker.Warning{{Path: "b.py", Kind: "arg-type", Line: 3}},
		Warnings: []checker.Warning{
			{Path: "b.py", Kind: "arg-type", Line: 5},
			{Path: "b.py", Kind: "return-value", Line: 5},
		},
	}}
}

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	run, err := s.StartRun(ctx, "demo")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunRunning, run.Status)

	hs := sampleHistories()
	require.NoError(t, s.SaveHistories(ctx, run.ID, hs))
	got, err := s.GetHistories(ctx, run.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(hs, got); diff != "" {
		t.Errorf("histories mismatch (-want +got):\n%s", diff)
	}

	records := sampleRecords()
	require.NoError(t, s.SaveAccidental(ctx, run.ID, records))
	gotRecords, err := s.GetAccidental(ctx, run.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(records, gotRecords); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	run.Commits, run.Histories = 12, len(hs)
	require.NoError(t, s.FinishRun(ctx, run))

	stored, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, stored.Status)
	assert.Equal(t, 12, stored.Commits)
	assert.Equal(t, 3, stored.Histories)
	require.NotNil(t, stored.FinishedAt)
	assert.WithinDuration(t, run.StartedAt, stored.StartedAt, time.Second)

	failed, err := s.StartRun(ctx, "demo")
	require.NoError(t, err)
	failed.Status, failed.Stage, failed.Error = RunFailed, string(errors.StageWalk), "git log: exit status 128"
	require.NoError(t, s.FinishRun(ctx, failed))

	latest, err := s.LatestRun(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, failed.ID, latest.ID)
	assert.Equal(t, "walk", latest.Stage)

	_, err = s.LatestRun(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.FinishRun(ctx, &Run{ID: "missing"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))

	empty, err := s.GetHistories(ctx, failed.ID)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLiteStore(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "results.db"), logger)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("SUPHIST_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SUPHIST_TEST_POSTGRES_DSN not set")
	}
	logger, _ := test.NewNullLogger()
	s, err := NewPostgresStore(dsn, logger)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestNew(t *testing.T) {
	logger, _ := test.NewNullLogger()

	s, err := New(config.StorageConfig{Type: "none"}, logger)
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = New(config.StorageConfig{Type: "sqlite", LocalPath: filepath.Join(t.TempDir(), "r.db")}, logger)
	require.NoError(t, err)
	require.NotNil(t, s)
	require.NoError(t, s.Close())

	_, err = New(config.StorageConfig{Type: "mongo"}, logger)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
