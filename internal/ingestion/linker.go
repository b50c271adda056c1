package ingestion

import (
	"context"
	"strings"

	"github.com/rohankatakam/suphist/internal/diff"
	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/history"
	"github.com/rohankatakam/suphist/internal/remap"
	"github.com/rohankatakam/suphist/internal/suppression"
)

// differ is the part of the git collaborator the linker needs.
type differ interface {
	Diff(ctx context.Context, from, to string, paths ...string) (string, error)
}

// gitLinker relates two positions by diffing their commits and remapping the
// line, following renames.
type gitLinker struct {
	git      differ
	remapper *remap.Remapper
}

func newGitLinker(git differ, extractor *suppression.Extractor) *gitLinker {
	return &gitLinker{git: git, remapper: remap.New(extractor)}
}

func (l *gitLinker) Linked(ctx context.Context, from, to history.Position, m suppression.Marker) (bool, error) {
	if from.Commit == to.Commit {
		return from.Path == to.Path && from.Line == to.Line, nil
	}

	paths := []string{from.Path}
	if to.Path != from.Path {
		paths = append(paths, to.Path)
	}
	r, err := l.follow(ctx, from, to.Commit, m, paths...)
	if err != nil {
		return false, err
	}
	return !r.Deleted && r.Position == to, nil
}

// Remapped is where a line ended up at a later commit.
type Remapped struct {
	Position history.Position
	Marker   suppression.Marker // zero when the line carried no suppression
	Deleted  bool
}

// follow carries the line at from to commit to. paths limits the diff; none
// diffs the whole tree so renames are always seen.
func (l *gitLinker) follow(ctx context.Context, from history.Position, to string, m suppression.Marker, paths ...string) (Remapped, error) {
	out, err := l.git.Diff(ctx, from.Commit, to, paths...)
	if err != nil {
		return Remapped{}, errors.Wrap(err, errors.ErrorTypeExternal, errors.SeverityCritical,
			"diff "+from.Commit+".."+to).AtStage(errors.StageReconcile)
	}
	files, err := diff.ParseFileDiffs(out)
	if err != nil {
		return Remapped{}, errors.Wrap(err, errors.ErrorTypeParse, errors.SeverityCritical,
			"parsing diff "+from.Commit+".."+to).AtStage(errors.StageReconcile)
	}

	next := history.Position{Commit: to, Path: from.Path, Line: from.Line}
	for _, f := range files {
		if f.OldPath != from.Path {
			continue
		}
		if f.IsDeleted {
			return Remapped{Position: next, Marker: m, Deleted: true}, nil
		}
		next.Path = f.NewPath
		if m.Text == "" {
			next.Line = remap.Line(f.Hunks, from.Line)
			return Remapped{Position: next}, nil
		}
		res := l.remapper.Remap(f.Hunks, from.Line, m)
		next.Line = res.Line
		return Remapped{Position: next, Marker: res.Marker, Deleted: res.Deleted}, nil
	}

	// file untouched between the two commits
	return Remapped{Position: next, Marker: m}, nil
}

// source is the git collaborator RemapLine needs.
type source interface {
	differ
	Show(ctx context.Context, commit, path string) (string, error)
}

// RemapLine carries the line at from to commit to. When the line holds a
// suppression its marker is followed and may be reported deleted; any other
// line is mapped by position only.
func RemapLine(ctx context.Context, git source, extractor *suppression.Extractor, from history.Position, to string) (Remapped, error) {
	content, err := git.Show(ctx, from.Commit, from.Path)
	if err != nil {
		return Remapped{}, err
	}
	lines := strings.Split(content, "\n")
	if from.Line < 1 || from.Line > len(lines) {
		return Remapped{}, errors.ValidationErrorf("%s has no line %d at %s", from.Path, from.Line, from.Commit)
	}

	var m suppression.Marker
	if markers := extractor.Extract(lines[from.Line-1]); len(markers) > 0 {
		m = markers[0]
	}
	return newGitLinker(git, extractor).follow(ctx, from, to, m)
}
