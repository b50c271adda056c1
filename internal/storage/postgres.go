package storage

import (
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// PostgresStore implements storage using PostgreSQL, for results shared by
// several machines.
type PostgresStore struct {
	sqlStore
}

// NewPostgresStore creates a new PostgreSQL storage
func NewPostgresStore(dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, persistError(err, "connect to postgres")
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &PostgresStore{sqlStore{db: db, logger: logger}}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, persistError(err, "init schema")
	}

	return store, nil
}

func (s *PostgresStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			repo TEXT NOT NULL,
			status TEXT NOT NULL,
			stage TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			commits INTEGER NOT NULL DEFAULT 0,
			histories INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS change_events (
			run_id TEXT NOT NULL REFERENCES runs(id),
			ordinal INTEGER NOT NULL,
			history_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			commit_id TEXT NOT NULL,
			date TIMESTAMPTZ NOT NULL,
			file_path TEXT NOT NULL,
			warning_type TEXT NOT NULL,
			warning_kind TEXT NOT NULL DEFAULT '',
			suppressor TEXT NOT NULL DEFAULT '',
			line_number INTEGER NOT NULL,
			change_operation TEXT NOT NULL,
			snapshot BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (run_id, ordinal, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS accidental_suppressions (
			run_id TEXT NOT NULL REFERENCES runs(id),
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
			previous_warnings JSONB NOT NULL,
			warnings JSONB NOT NULL,
			PRIMARY KEY (run_id, ordinal)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_repo ON runs(repo, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_commit ON change_events(commit_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
