package temporal

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/suphist/internal/classify"
	"github.com/rohankatakam/suphist/internal/diff"
	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/history"
	"github.com/rohankatakam/suphist/internal/remap"
	"github.com/rohankatakam/suphist/internal/suppression"
	"github.com/rohankatakam/suphist/internal/window"
)

// WalkStats counts what a walk saw.
type WalkStats struct {
	Commits          int
	Hunks            int
	Ambiguous        int
	Orphans          int
	UntrackedDeletes int
}

// WalkerOptions configure a CommitWalker.
type WalkerOptions struct {
	Extractor   *suppression.Extractor
	Include     *Matcher
	Diagnostics Diagnostics
	Logger      logrus.FieldLogger
}

// CommitWalker discovers histories by walking every first-parent commit between
// consecutive entries of the sampled commit list, oldest first.
type CommitWalker struct {
	src        Source
	extractor  *suppression.Extractor
	classifier *classify.Classifier
	remapper   *remap.Remapper
	include    *Matcher
	diag       Diagnostics
	logger     logrus.FieldLogger
}

// NewCommitWalker creates a walker reading from src.
func NewCommitWalker(src Source, opts WalkerOptions) *CommitWalker {
	if opts.Extractor == nil {
		opts.Extractor = suppression.NewExtractor("#", nil)
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = discardDiagnostics{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &CommitWalker{
		src:        src,
		extractor:  opts.Extractor,
		classifier: classify.New(opts.Extractor),
		remapper:   remap.New(opts.Extractor),
		include:    opts.Include,
		diag:       opts.Diagnostics,
		logger:     opts.Logger,
	}
}

// live is a suppression being tracked: the event that opened it and where its
// marker currently is.
type live struct {
	add    history.ChangeEvent
	marker suppression.Marker
	line   int
}

// walkState is the per-walk tracking state. It is created by Walk and never escapes it.
type walkState struct {
	live    map[string][]*live
	closed  []history.History
	renames []history.Rename
	stats   WalkStats
}

// Walk tracks every suppression from the oldest commit of list to the newest.
// Suppressions present at the oldest commit open with a snapshot add.
func (w *CommitWalker) Walk(ctx context.Context, list window.List) (history.Discovery, WalkStats, error) {
	disc := history.Discovery{Strategy: history.StrategyCommitWalk}
	if len(list) == 0 {
		return disc, WalkStats{}, nil
	}

	st := &walkState{live: make(map[string][]*live)}

	oldest := list[0]
	seed, err := Snapshot(ctx, w.src, w.extractor, w.include, oldest.ID)
	if err != nil {
		return disc, st.stats, errors.Wrap(err, errors.GetType(err), errors.SeverityCritical, "snapshot of oldest commit").
			AtStage(errors.StageWalk)
	}
	for _, s := range seed {
		ev := history.NewEvent(oldest.ID, oldest.Date, s, history.OpAdd)
		ev.Snapshot = true
		st.live[s.Path] = append(st.live[s.Path], &live{add: ev, marker: s.Marker, line: s.Line})
	}

	w.logger.WithFields(logrus.Fields{
		"commits": list.String(),
		"seeded":  len(seed),
	}).Debug("Starting commit walk")

	for i := 0; i+1 < len(list); i++ {
		out, err := w.src.Log(ctx, list[i].ID, list[i+1].ID)
		if err != nil {
			return disc, st.stats, errors.Wrap(err, errors.ErrorTypeExternal, errors.SeverityCritical,
				"log "+list[i].ID+".."+list[i+1].ID).AtStage(errors.StageWalk)
		}
		commits, err := diff.ParseLogString(out)
		if err != nil {
			return disc, st.stats, errors.Wrap(err, errors.ErrorTypeParse, errors.SeverityCritical,
				"parsing log "+list[i].ID+".."+list[i+1].ID).AtStage(errors.StageWalk)
		}
		for _, c := range commits {
			w.apply(st, c)
		}
	}

	disc.Histories = st.histories()
	disc.Renames = st.renames
	return disc, st.stats, nil
}

func (w *CommitWalker) apply(st *walkState, c diff.Commit) {
	st.stats.Commits++
	for _, f := range c.Files {
		if f.IsBinary {
			continue
		}
		if !w.include.Match(f.OldPath) && !w.include.Match(f.NewPath) {
			continue
		}
		w.applyFile(st, c, f)
	}
}

func (w *CommitWalker) applyFile(st *walkState, c diff.Commit, f diff.FileDiff) {
	var entries []*live
	if !f.IsNew && f.OldPath != "" {
		entries = st.live[f.OldPath]
	}
	newPath := f.Path()

	if f.IsRename && f.OldPath != newPath {
		st.renames = append(st.renames, history.Rename{From: f.OldPath, To: newPath})
		if !w.include.Match(newPath) {
			w.leaveStudied(st, c, f, entries)
			return
		}
	}

	opts := classify.Options{FileAdd: f.IsNew, FileDelete: f.IsDeleted, Merge: c.IsMerge()}
	closed := make(map[*live]bool)
	var added []*live
	ambiguous := false

	for _, h := range f.Hunks {
		st.stats.Hunks++
		out := w.classifier.Hunk(h, opts)
		if out.Ambiguous() {
			ambiguous = true
			st.stats.Ambiguous++
			w.diag.Ambiguous(c, f, out.Ambiguity)
		}

		for _, ch := range out.Changes {
			switch {
			case ch.Op.IsDelete():
				e := findLive(entries, closed, ch)
				if e == nil {
					st.stats.UntrackedDeletes++
					w.logger.WithFields(logrus.Fields{
						"commit": c.ID,
						"path":   f.OldPath,
						"line":   ch.Line,
					}).Debug("Delete of an untracked suppression")
					continue
				}
				closed[e] = true
				st.close(e, c, f.OldPath, ch.Line, ch.Op)

			case ch.Op.IsAdd():
				s := suppression.Suppression{Path: newPath, Line: ch.Line, Marker: ch.Marker}
				ev := history.NewEvent(c.ID, c.Date, s, ch.Op)
				if ch.Op == history.OpMergeAdd {
					ev.Line = history.LineMergeUnknown
					ev.MergeLine = ch.Line
				}
				added = append(added, &live{add: ev, marker: ch.Marker, line: ch.Line})
			}
		}
	}

	var survivors []*live
	for _, e := range entries {
		if closed[e] {
			continue
		}
		if f.IsDeleted {
			st.close(e, c, f.OldPath, e.line, history.OpFileDelete)
			continue
		}
		res := w.remapper.Remap(f.Hunks, e.line, e.marker)
		if res.Deleted {
			reason := "marker removed without a classified delete"
			if ambiguous {
				reason = "marker removed in an ambiguous hunk"
			}
			st.stats.Orphans++
			w.diag.Orphan(c.ID, suppression.Suppression{Path: f.OldPath, Line: e.line, Marker: e.marker}, reason)
			continue
		}
		e.line = res.Line
		e.marker = res.Marker
		survivors = append(survivors, e)
	}

	if f.OldPath != "" && f.OldPath != newPath {
		delete(st.live, f.OldPath)
	}
	if f.IsDeleted {
		delete(st.live, newPath)
		return
	}
	st.live[newPath] = append(survivors, added...)
	if len(st.live[newPath]) == 0 {
		delete(st.live, newPath)
	}
}

// leaveStudied closes everything alive in a file renamed to a path the include
// patterns exclude. The suppressions are no longer observed, so they end there.
func (w *CommitWalker) leaveStudied(st *walkState, c diff.Commit, f diff.FileDiff, entries []*live) {
	for _, e := range entries {
		st.close(e, c, f.OldPath, e.line, history.OpFileDelete)
	}
	delete(st.live, f.OldPath)
	w.logger.WithFields(logrus.Fields{
		"commit": c.ID,
		"from":   f.OldPath,
		"to":     f.NewPath,
		"closed": len(entries),
	}).Debug("File renamed out of the studied files")
}

// findLive returns the open entry a classified delete refers to: same line and
// same marker.
func findLive(entries []*live, closed map[*live]bool, ch classify.Change) *live {
	for _, e := range entries {
		if !closed[e] && e.line == ch.Line && e.marker.Same(ch.Marker) {
			return e
		}
	}
	return nil
}

func (st *walkState) close(e *live, c diff.Commit, path string, line int, op history.Operation) {
	del := e.add
	del.Commit = c.ID
	del.Date = c.Date
	del.Path = path
	del.Line = line
	del.Op = op
	del.Snapshot = false
	del.MergeLine = 0
	st.closed = append(st.closed, history.New(e.add, &del))
}

func (st *walkState) histories() []history.History {
	out := append([]history.History(nil), st.closed...)
	paths := make([]string, 0, len(st.live))
	for p := range st.live {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		for _, e := range st.live[p] {
			out = append(out, history.New(e.add, nil))
		}
	}
	return out
}
