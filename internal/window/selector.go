// Package window selects, for one suppression history, the sampled commits a
// checker replay has to visit.
package window

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/git"
	"github.com/rohankatakam/suphist/internal/history"
)

// Changes reports the files each commit in (from, to] modified. *git.Repo and
// the cache wrappers implement it.
type Changes interface {
	Numstat(ctx context.Context, from, to string) ([]git.ChangeSet, error)
}

// Select returns the contiguous part of list from the commit of the first event
// of h to the commit of its last event, both inclusive. A history still alive
// runs to the newest commit. After a file delete the window extends one commit
// further.
//
// Event commits the sampled list does not contain are placed at the first commit
// dated at or after them.
func Select(list List, h history.History) (List, error) {
	if len(list) == 0 {
		return nil, nil
	}
	if len(h.Events) == 0 {
		return nil, errors.ValidationErrorf("history %s has no events", h.ID).AtStage(errors.StageWindow)
	}

	add := h.Add()
	start := list.Index(add.Commit)
	if start < 0 {
		start = list.firstAtOrAfter(add)
	}

	end := len(list) - 1
	if del, ok := h.Delete(); ok {
		end = list.Index(del.Commit)
		if end < 0 {
			end = list.firstAtOrAfter(del)
		}
		if del.Op == history.OpFileDelete && end+1 < len(list) {
			end++
		}
	}

	if end < start {
		return nil, errors.InvariantErrorf("history %s: window end %d before start %d", h.ID, end, start).
			AtStage(errors.StageWindow)
	}
	return append(List(nil), list[start:end+1]...), nil
}

func (l List) firstAtOrAfter(e history.ChangeEvent) int {
	i := sort.Search(len(l), func(i int) bool { return !l[i].Date.Before(e.Date) })
	if i == len(l) {
		return len(l) - 1
	}
	return i
}

// Filter keeps the first commit of w and every later commit whose changes since
// the previous commit of w touch one of paths.
func Filter(ctx context.Context, src Changes, w List, paths []string, logger logrus.FieldLogger) (List, error) {
	if len(w) == 0 {
		return nil, nil
	}
	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[p] = true
	}

	kept := List{w[0]}
	for i := 1; i < len(w); i++ {
		sets, err := src.Numstat(ctx, w[i-1].ID, w[i].ID)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeExternal, errors.SeverityCritical,
				"changes "+w[i-1].ID+".."+w[i].ID).AtStage(errors.StageWindow)
		}
		if touches(sets, want) {
			kept = append(kept, w[i])
		}
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"window": w.String(),
			"kept":   len(kept),
		}).Debug("Filtered commit window")
	}
	return kept, nil
}

func touches(sets []git.ChangeSet, want map[string]bool) bool {
	for _, s := range sets {
		for _, f := range s.Files {
			if want[f.Path] {
				return true
			}
		}
	}
	return false
}

// Relevant is Select followed by Filter on the paths of h.
func Relevant(ctx context.Context, src Changes, list List, h history.History, logger logrus.FieldLogger) (List, error) {
	w, err := Select(list, h)
	if err != nil {
		return nil, err
	}
	return Filter(ctx, src, w, h.Paths(), logger)
}
