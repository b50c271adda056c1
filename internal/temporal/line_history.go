package temporal

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/suphist/internal/diff"
	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/history"
	"github.com/rohankatakam/suphist/internal/suppression"
	"github.com/rohankatakam/suphist/internal/window"
)

// LineHistory discovers when each suppression present at a commit was introduced,
// by following its line backward with `git log -L`.
type LineHistory struct {
	src       Source
	extractor *suppression.Extractor
	include   *Matcher
	logger    logrus.FieldLogger
}

// NewLineHistory creates a line-history traversal reading from src.
func NewLineHistory(src Source, extractor *suppression.Extractor, include *Matcher, logger logrus.FieldLogger) *LineHistory {
	if extractor == nil {
		extractor = suppression.NewExtractor("#", nil)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LineHistory{src: src, extractor: extractor, include: include, logger: logger}
}

// Discover returns one open history per suppression present at commit. The
// histories carry no delete event: the suppression is alive at commit.
func (l *LineHistory) Discover(ctx context.Context, commit window.Commit) (history.Discovery, error) {
	disc := history.Discovery{Strategy: history.StrategyLineHistory}

	present, err := Snapshot(ctx, l.src, l.extractor, l.include, commit.ID)
	if err != nil {
		return disc, errors.Wrap(err, errors.GetType(err), errors.SeverityCritical, "snapshot of "+commit.ID).
			AtStage(errors.StageLineHistory)
	}

	for _, s := range present {
		add, found, err := l.Introduction(ctx, commit.ID, s)
		if err != nil {
			return disc, err
		}
		if !found {
			l.logger.WithFields(logrus.Fields{
				"commit": commit.ID,
				"path":   s.Path,
				"line":   s.Line,
			}).Debug("No introducing commit found in line history")
			continue
		}
		if add.Path != s.Path {
			disc.Renames = append(disc.Renames, history.Rename{From: add.Path, To: s.Path})
		}
		disc.Histories = append(disc.Histories, history.New(add, nil))
	}
	return disc, nil
}

// Introduction walks the line history of s back from commit and returns the add
// event of the commit that introduced its marker: the newest commit whose hunk has
// the marker on the new side but not on the old side.
func (l *LineHistory) Introduction(ctx context.Context, commit string, s suppression.Suppression) (history.ChangeEvent, bool, error) {
	out, err := l.src.LineLog(ctx, commit, s.Path, s.Line)
	if err != nil {
		return history.ChangeEvent{}, false, errors.Wrap(err, errors.ErrorTypeExternal, errors.SeverityCritical,
			"line history of "+s.String()).AtStage(errors.StageLineHistory)
	}
	commits, err := diff.ParseLogString(out)
	if err != nil {
		return history.ChangeEvent{}, false, errors.Wrap(err, errors.ErrorTypeParse, errors.SeverityCritical,
			"parsing line history of "+s.String()).AtStage(errors.StageLineHistory)
	}

	for _, c := range commits {
		for _, f := range c.Files {
			for _, h := range f.Hunks {
				newLine, marker, onNew := l.locate(h.NewSide(), s.Marker)
				if !onNew {
					continue
				}
				if _, _, onOld := l.locate(h.OldSide(), s.Marker); onOld {
					continue
				}

				op := history.OpAdd
				switch {
				case f.IsNew:
					op = history.OpFileAdd
				case c.IsMerge():
					op = history.OpMergeAdd
				}
				ev := history.NewEvent(c.ID, c.Date,
					suppression.Suppression{Path: f.Path(), Line: newLine, Marker: marker}, op)
				return ev, true, nil
			}
		}
	}
	return history.ChangeEvent{}, false, nil
}

func (l *LineHistory) locate(lines []diff.NumberedLine, m suppression.Marker) (int, suppression.Marker, bool) {
	for _, nl := range lines {
		for _, cand := range l.extractor.Extract(nl.Text) {
			if cand.Same(m) {
				return nl.Number, cand, true
			}
		}
	}
	return 0, suppression.Marker{}, false
}
