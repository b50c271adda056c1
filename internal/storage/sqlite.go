package storage

import (
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/suphist/internal/errors"
)

// SQLiteStore implements storage using SQLite (for local runs)
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore creates a new SQLite storage
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.FileSystemErrorf(err, "create database directory").AtStage(errors.StagePersist)
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, persistError(err, "connect to sqlite")
	}

	// Enable foreign keys and WAL mode for better concurrency
	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")
	db.Exec("PRAGMA busy_timeout = 5000")

	store := &SQLiteStore{sqlStore{db: db, logger: logger}}

	// Initialize schema
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, persistError(err, "init schema")
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		repo TEXT NOT NULL,
		status TEXT NOT NULL,
		stage TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		commits INTEGER NOT NULL DEFAULT 0,
		histories INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS change_events (
		run_id TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		history_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		commit_id TEXT NOT NULL,
		date DATETIME NOT NULL,
		file_path TEXT NOT NULL,
		warning_type TEXT NOT NULL,
		warning_kind TEXT NOT NULL DEFAULT '',
		suppressor TEXT NOT NULL DEFAULT '',
		line_number INTEGER NOT NULL,
		change_operation TEXT NOT NULL,
		snapshot INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, ordinal, seq),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS accidental_suppressions (
		run_id TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		history_id TEXT NOT NULL,
		previous_commit TEXT NOT NULL,
		commit_id TEXT NOT NULL,
		previous_path TEXT NOT NULL,
		previous_line INTEGER NOT NULL,
		file_path TEXT NOT NULL,
		line_number INTEGER NOT NULL,
		warning_type TEXT NOT NULL,
		warning_kind TEXT NOT NULL DEFAULT '',
		suppressor TEXT NOT NULL DEFAULT '',
		previous_warnings TEXT NOT NULL,
		warnings TEXT NOT NULL,
		PRIMARY KEY (run_id, ordinal),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_repo ON runs(repo, started_at);
	CREATE INDEX IF NOT EXISTS idx_events_commit ON change_events(commit_id);
	`

	_, err := s.db.Exec(schema)
	return err
}
