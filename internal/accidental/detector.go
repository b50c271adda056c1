// Package accidental finds suppressions that started hiding warnings they were
// not written for.
package accidental

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/suphist/internal/checker"
	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/history"
	"github.com/rohankatakam/suphist/internal/suppression"
	"github.com/rohankatakam/suphist/internal/window"
)

// WarningOracle returns the warnings a suppression hides at a commit.
// *checker.Replayer implements it.
type WarningOracle interface {
	Suppressed(ctx context.Context, commit string, s suppression.Suppression) ([]checker.Warning, error)
}

// Record is one accidentally suppressed warning: between two relevant commits
// the suppression went on to hide more warnings than before.
type Record struct {
	HistoryID           string                  `json:"suppression_id,omitempty"`
	PreviousCommit      string                  `json:"previous_commit"`
	Commit              string                  `json:"commit"`
	PreviousSuppression suppression.Suppression `json:"previous_suppression"`
	Suppression         suppression.Suppression `json:"suppression"`
	PreviousWarnings    []checker.Warning       `json:"previous_warnings"`
	Warnings            []checker.Warning       `json:"warnings"`
}

// Stats counts what a detection run did.
type Stats struct {
	Histories int
	Commits   int
	Lost      int
	Records   int
}

// Detector replays suppressions over their commit windows.
type Detector struct {
	changes window.Changes
	locator *Locator
	oracle  WarningOracle
	logger  logrus.FieldLogger
}

// NewDetector creates a detector. changes filters each window to commits that
// touch the history's files.
func NewDetector(changes window.Changes, locator *Locator, oracle WarningOracle, logger logrus.FieldLogger) *Detector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Detector{changes: changes, locator: locator, oracle: oracle, logger: logger}
}

// observation is the suppression and its hidden warnings at one commit.
type observation struct {
	commit   string
	where    suppression.Suppression
	warnings []checker.Warning
}

// Detect replays h over its relevant commits of list. A record is emitted each
// time the hidden warnings strictly grow: more warnings than at the previous
// commit, covering all of them. The replay stops at the first commit where the
// suppression cannot be located.
func (d *Detector) Detect(ctx context.Context, list window.List, h history.History) ([]Record, Stats, error) {
	stats := Stats{Histories: 1}
	if err := h.Validate(); err != nil {
		return nil, stats, err
	}

	commits, err := window.Relevant(ctx, d.changes, list, h, d.logger)
	if err != nil {
		return nil, stats, err
	}
	if len(commits) == 0 {
		return nil, stats, nil
	}

	logger := d.logger.WithFields(logrus.Fields{
		"suppression": h.ID,
		"window":      commits.String(),
	})

	where, ok, err := d.start(ctx, h.Add(), commits[0].ID)
	if err != nil {
		return nil, stats, err
	}
	if !ok {
		stats.Lost++
		logger.Debug("Suppression not found at window start")
		return nil, stats, nil
	}

	var records []Record
	var prev *observation
	for i, c := range commits {
		if i > 0 {
			next, found, err := d.locator.Follow(ctx, prev.commit, c.ID, prev.where)
			if err != nil {
				return records, stats, err
			}
			if !found {
				stats.Lost++
				logger.WithField("commit", c.ID).Debug("Suppression gone, stopping replay")
				break
			}
			where = next
		}

		warnings, err := d.oracle.Suppressed(ctx, c.ID, where)
		if err != nil {
			return records, stats, err
		}
		stats.Commits++

		cur := &observation{commit: c.ID, where: where, warnings: warnings}
		if prev != nil && grew(cur.warnings, prev.warnings) {
			records = append(records, Record{
				HistoryID:           h.ID,
				PreviousCommit:      prev.commit,
				Commit:              cur.commit,
				PreviousSuppression: prev.where,
				Suppression:         cur.where,
				PreviousWarnings:    prev.warnings,
				Warnings:            cur.warnings,
			})
			stats.Records++
			logger.WithFields(logrus.Fields{
				"commit":   c.ID,
				"previous": len(prev.warnings),
				"now":      len(cur.warnings),
			}).Info("Suppression started hiding new warnings")
		}
		prev = cur
	}
	return records, stats, nil
}

// start places the add event at the first window commit. Merge adds carry no
// line, so the file is scanned instead.
func (d *Detector) start(ctx context.Context, add history.ChangeEvent, commit string) (suppression.Suppression, bool, error) {
	if add.Line <= 0 {
		return d.locator.Find(ctx, commit, add.Path, add.Marker())
	}
	at := suppression.Suppression{Path: add.Path, Line: add.Line, Marker: add.Marker()}
	return d.locator.Follow(ctx, add.Commit, commit, at)
}

func grew(now, before []checker.Warning) bool {
	return len(now) > len(before) && checker.Covers(now, before)
}

// DetectAll runs Detect over every history. An invariant error fails only the
// history it concerns; any other error stops the run.
func (d *Detector) DetectAll(ctx context.Context, list window.List, histories []history.History) ([]Record, Stats, error) {
	var all []Record
	var total Stats
	for _, h := range histories {
		records, stats, err := d.Detect(ctx, list, h)
		total.Histories += stats.Histories
		total.Commits += stats.Commits
		total.Lost += stats.Lost
		total.Records += stats.Records
		if err != nil {
			if errors.IsType(err, errors.ErrorTypeInvariant) {
				d.logger.WithError(err).WithField("suppression", h.ID).Warn("Skipping malformed history")
				continue
			}
			return all, total, err
		}
		all = append(all, records...)
	}
	return all, total, nil
}
