// Package storage persists mining runs: the suppression histories of each
// repository and the accidental suppressions found on them.
package storage

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/suphist/internal/accidental"
	"github.com/rohankatakam/suphist/internal/config"
	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/history"
)

// Common errors
var (
	ErrNotFound = stderrors.New("not found")
)

// Run statuses
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one mining run of one repository.
type Run struct {
	ID         string     `db:"id"`
	Repo       string     `db:"repo"`
	Status     string     `db:"status"`
	Stage      string     `db:"stage"` // stage of the failure, empty on success
	Error      string     `db:"error"`
	Commits    int        `db:"commits"`
	Histories  int        `db:"histories"`
	StartedAt  time.Time  `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
}

// Store defines the storage interface
type Store interface {
	// Run operations
	StartRun(ctx context.Context, repo string) (*Run, error)
	FinishRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	LatestRun(ctx context.Context, repo string) (*Run, error)

	// History operations
	SaveHistories(ctx context.Context, runID string, histories []history.History) error
	GetHistories(ctx context.Context, runID string) ([]history.History, error)

	// Accidental suppression operations
	SaveAccidental(ctx context.Context, runID string, records []accidental.Record) error
	GetAccidental(ctx context.Context, runID string) ([]accidental.Record, error)

	// Close connection
	Close() error
}

// New opens the configured store. It returns a nil Store for type "none".
func New(cfg config.StorageConfig, logger *logrus.Logger) (Store, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "sqlite":
		s, err := NewSQLiteStore(cfg.LocalPath, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgresStore(cfg.PostgresDSN, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.ConfigErrorf("unknown storage type %q", cfg.Type).AtStage(errors.StageConfig)
	}
}

func persistError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.StorageErrorf(err, format, args...).AtStage(errors.StagePersist)
}
