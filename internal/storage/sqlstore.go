package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/suphist/internal/accidental"
	"github.com/rohankatakam/suphist/internal/checker"
	"github.com/rohankatakam/suphist/internal/history"
	"github.com/rohankatakam/suphist/internal/suppression"
)

// sqlStore holds the queries both backends share. Queries are written with ?
// placeholders and rebound for the driver.
type sqlStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

type eventRow struct {
	RunID       string    `db:"run_id"`
	Ordinal     int       `db:"ordinal"`
	HistoryID   string    `db:"history_id"`
	Seq         int       `db:"seq"`
	CommitID    string    `db:"commit_id"`
	Date        time.Time `db:"date"`
	Path        string    `db:"file_path"`
	WarningType string    `db:"warning_type"`
	WarningKind string    `db:"warning_kind"`
	Suppressor  string    `db:"suppressor"`
	Line        int       `db:"line_number"`
	Op          string    `db:"change_operation"`
	Snapshot    bool      `db:"snapshot"`
}

type accidentalRow struct {
	RunID            string `db:"run_id"`
	Ordinal          int    `db:"ordinal"`
	HistoryID        string `db:"history_id"`
	PreviousCommit   string `db:"previous_commit"`
	CommitID         string `db:"commit_id"`
	PreviousPath     string `db:"previous_path"`
	PreviousLine     int    `db:"previous_line"`
	Path             string `db:"file_path"`
	Line             int    `db:"line_number"`
	WarningType      string `db:"warning_type"`
	WarningKind      string `db:"warning_kind"`
	Suppressor       string `db:"suppressor"`
	PreviousWarnings string `db:"previous_warnings"`
	Warnings         string `db:"warnings"`
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// Run operations

func (s *sqlStore) StartRun(ctx context.Context, repo string) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Repo:      repo,
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
	}

	query := s.db.Rebind(`
		INSERT INTO runs (id, repo, status, stage, error, commits, histories, started_at)
		VALUES (?, ?, ?, '', '', 0, 0, ?)
	`)
	if _, err := s.db.ExecContext(ctx, query, run.ID, run.Repo, run.Status, run.StartedAt); err != nil {
		return nil, persistError(err, "start run for %s", repo)
	}

	s.logger.WithFields(logrus.Fields{"repo": repo, "run": run.ID}).Debug("Run started")
	return run, nil
}

func (s *sqlStore) FinishRun(ctx context.Context, run *Run) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	if run.Status == RunRunning || run.Status == "" {
		run.Status = RunSucceeded
	}

	query := s.db.Rebind(`
		UPDATE runs SET status = ?, stage = ?, error = ?, commits = ?, histories = ?, finished_at = ?
		WHERE id = ?
	`)
	res, err := s.db.ExecContext(ctx, query,
		run.Status, run.Stage, run.Error, run.Commits, run.Histories, now, run.ID)
	if err != nil {
		return persistError(err, "finish run %s", run.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return persistError(ErrNotFound, "finish run %s", run.ID)
	}
	return nil
}

func (s *sqlStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	query := s.db.Rebind(`SELECT * FROM runs WHERE id = ?`)

	err := s.db.GetContext(ctx, &run, query, id)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, persistError(err, "get run %s", id)
	}
	return &run, nil
}

func (s *sqlStore) LatestRun(ctx context.Context, repo string) (*Run, error) {
	var run Run
	query := s.db.Rebind(`SELECT * FROM runs WHERE repo = ? ORDER BY started_at DESC LIMIT 1`)

	err := s.db.GetContext(ctx, &run, query, repo)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, persistError(err, "latest run of %s", repo)
	}
	return &run, nil
}

// History operations

func (s *sqlStore) SaveHistories(ctx context.Context, runID string, histories []history.History) error {
	if len(histories) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistError(err, "begin transaction")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO change_events
		(run_id, ordinal, history_id, seq, commit_id, date, file_path, warning_type,
		 warning_kind, suppressor, line_number, change_operation, snapshot)
		VALUES (:run_id, :ordinal, :history_id, :seq, :commit_id, :date, :file_path, :warning_type,
		 :warning_kind, :suppressor, :line_number, :change_operation, :snapshot)
	`

	for i, h := range histories {
		for seq, e := range h.Events {
			row := eventRow{
				RunID:       runID,
				Ordinal:     i,
				HistoryID:   h.ID,
				Seq:         seq,
				CommitID:    e.Commit,
				Date:        e.Date.UTC(),
				Path:        e.Path,
				WarningType: e.WarningType,
				WarningKind: e.WarningKind,
				Suppressor:  e.Suppressor,
				Line:        e.Line,
				Op:          string(e.Op),
				Snapshot:    e.Snapshot,
			}
			if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
				return persistError(err, "save history %s", h.ID)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return persistError(err, "commit histories")
	}
	s.logger.WithFields(logrus.Fields{"run": runID, "histories": len(histories)}).Debug("Histories saved")
	return nil
}

func (s *sqlStore) GetHistories(ctx context.Context, runID string) ([]history.History, error) {
	var rows []eventRow
	query := s.db.Rebind(`SELECT * FROM change_events WHERE run_id = ? ORDER BY ordinal, seq`)

	if err := s.db.SelectContext(ctx, &rows, query, runID); err != nil {
		return nil, persistError(err, "get histories of run %s", runID)
	}

	var out []history.History
	last := -1
	for _, r := range rows {
		if r.Ordinal != last {
			out = append(out, history.History{ID: r.HistoryID})
			last = r.Ordinal
		}
		h := &out[len(out)-1]
		h.Events = append(h.Events, history.ChangeEvent{
			Commit:      r.CommitID,
			Date:        r.Date.UTC(),
			Path:        r.Path,
			WarningType: r.WarningType,
			WarningKind: r.WarningKind,
			Suppressor:  r.Suppressor,
			Line:        r.Line,
			Op:          history.Operation(r.Op),
			Snapshot:    r.Snapshot,
		})
	}
	return out, nil
}

// Accidental suppression operations

func (s *sqlStore) SaveAccidental(ctx context.Context, runID string, records []accidental.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistError(err, "begin transaction")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO accidental_suppressions
		(run_id, ordinal, history_id, previous_commit, commit_id, previous_path, previous_line,
		 file_path, line_number, warning_type, warning_kind, suppressor, previous_warnings, warnings)
		VALUES (:run_id, :ordinal, :history_id, :previous_commit, :commit_id, :previous_path, :previous_line,
		 :file_path, :line_number, :warning_type, :warning_kind, :suppressor, :previous_warnings, :warnings)
	`

	for i, r := range records {
		prev, err := json.Marshal(r.PreviousWarnings)
		if err != nil {
			return persistError(err, "encode warnings")
		}
		now, err := json.Marshal(r.Warnings)
		if err != nil {
			return persistError(err, "encode warnings")
		}
		row := accidentalRow{
			RunID:            runID,
			Ordinal:          i,
			HistoryID:        r.HistoryID,
			PreviousCommit:   r.PreviousCommit,
			CommitID:         r.Commit,
			PreviousPath:     r.PreviousSuppression.Path,
			PreviousLine:     r.PreviousSuppression.Line,
			Path:             r.Suppression.Path,
			Line:             r.Suppression.Line,
			WarningType:      r.Suppression.Text,
			WarningKind:      r.Suppression.Kind,
			Suppressor:       r.Suppression.Suppressor,
			PreviousWarnings: string(prev),
			Warnings:         string(now),
		}
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return persistError(err, "save accidental suppression at %s", r.Commit)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistError(err, "commit accidental suppressions")
	}
	return nil
}

func (s *sqlStore) GetAccidental(ctx context.Context, runID string) ([]accidental.Record, error) {
	var rows []accidentalRow
	query := s.db.Rebind(`SELECT * FROM accidental_suppressions WHERE run_id = ? ORDER BY ordinal`)

	if err := s.db.SelectContext(ctx, &rows, query, runID); err != nil {
		return nil, persistError(err, "get accidental suppressions of run %s", runID)
	}

	out := make([]accidental.Record, 0, len(rows))
	for _, r := range rows {
		marker := suppression.Marker{Suppressor: r.Suppressor, Text: r.WarningType, Kind: r.WarningKind}
		rec := accidental.Record{
			HistoryID:           r.HistoryID,
			PreviousCommit:      r.PreviousCommit,
			Commit:              r.CommitID,
			PreviousSuppression: suppression.Suppression{Path: r.PreviousPath, Line: r.PreviousLine, Marker: marker},
			Suppression:         suppression.Suppression{Path: r.Path, Line: r.Line, Marker: marker},
		}
		if err := decodeWarnings(r.PreviousWarnings, &rec.PreviousWarnings); err != nil {
			return nil, err
		}
		if err := decodeWarnings(r.Warnings, &rec.Warnings); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeWarnings(raw string, into *[]checker.Warning) error {
	if err := json.Unmarshal([]byte(raw), into); err != nil {
		return persistError(err, "decode warnings")
	}
	return nil
}
