package accidental

import (
	"context"

	"github.com/rohankatakam/suphist/internal/diff"
	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/remap"
	"github.com/rohankatakam/suphist/internal/suppression"
)

// Repository is the version-control collaborator the detector reads from.
// *git.Repo and the cache wrappers implement it.
type Repository interface {
	Diff(ctx context.Context, from, to string, paths ...string) (string, error)
	Show(ctx context.Context, commit, path string) (string, error)
}

// Locator follows one suppression from commit to commit within its file.
type Locator struct {
	repo      Repository
	extractor *suppression.Extractor
	remapper  *remap.Remapper
}

// NewLocator creates a locator.
func NewLocator(repo Repository, extractor *suppression.Extractor) *Locator {
	if extractor == nil {
		extractor = suppression.NewExtractor("#", nil)
	}
	return &Locator{repo: repo, extractor: extractor, remapper: remap.New(extractor)}
}

// Follow returns where s, observed at from, is at to. It reports false when the
// marker was removed or its file was deleted or renamed: moves across files are
// not tracked.
func (l *Locator) Follow(ctx context.Context, from, to string, s suppression.Suppression) (suppression.Suppression, bool, error) {
	if from == to {
		return s, true, nil
	}
	out, err := l.repo.Diff(ctx, from, to, s.Path)
	if err != nil {
		return s, false, errors.Wrap(err, errors.ErrorTypeExternal, errors.SeverityCritical,
			"diff "+from+".."+to).AtStage(errors.StageReplay)
	}
	files, err := diff.ParseFileDiffs(out)
	if err != nil {
		return s, false, errors.Wrap(err, errors.ErrorTypeParse, errors.SeverityCritical,
			"parsing diff "+from+".."+to).AtStage(errors.StageReplay)
	}

	for _, f := range files {
		if f.OldPath != s.Path {
			continue
		}
		if f.IsDeleted || f.NewPath != s.Path {
			return s, false, nil
		}
		res := l.remapper.Remap(f.Hunks, s.Line, s.Marker)
		if res.Deleted {
			return s, false, nil
		}
		return suppression.Suppression{Path: s.Path, Line: res.Line, Marker: res.Marker}, true, nil
	}
	return s, true, nil
}

// Find scans path at commit for a marker of the same suppression. It is used
// when no precise line is known, as for merge adds. The first match wins.
func (l *Locator) Find(ctx context.Context, commit, path string, m suppression.Marker) (suppression.Suppression, bool, error) {
	content, err := l.repo.Show(ctx, commit, path)
	if err != nil {
		return suppression.Suppression{}, false, errors.Wrap(err, errors.ErrorTypeExternal, errors.SeverityCritical,
			"show "+commit+":"+path).AtStage(errors.StageReplay)
	}
	for _, s := range l.extractor.ScanFile(path, content) {
		if s.Same(m) {
			return s, true, nil
		}
	}
	return suppression.Suppression{}, false, nil
}
