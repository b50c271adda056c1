// Package temporal discovers suppression histories by traversing a repository's
// history in two independent ways: a forward walk over the sampled commits and a
// backward per-line history query for each suppression present at a snapshot.
package temporal

import (
	"context"

	"github.com/bmatcuk/doublestar"

	"github.com/rohankatakam/suphist/internal/classify"
	"github.com/rohankatakam/suphist/internal/diff"
	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/suppression"
)

// Source is the version-control collaborator the traversals read diff text from.
// *git.Repo and the cache wrappers implement it.
type Source interface {
	Log(ctx context.Context, from, to string, paths ...string) (string, error)
	LineLog(ctx context.Context, commit, path string, line int) (string, error)
	Grep(ctx context.Context, commit string, hints []string, pathspecs ...string) (string, error)
}

// Diagnostics receives what the traversals could not classify. Implementations
// append to a log for manual review.
type Diagnostics interface {
	Ambiguous(commit diff.Commit, file diff.FileDiff, a *classify.Ambiguity)
	Orphan(commit string, s suppression.Suppression, reason string)
}

type discardDiagnostics struct{}

func (discardDiagnostics) Ambiguous(diff.Commit, diff.FileDiff, *classify.Ambiguity) {}
func (discardDiagnostics) Orphan(string, suppression.Suppression, string)            {}

// Matcher decides which files are studied.
type Matcher struct {
	patterns []string
}

// NewMatcher validates doublestar patterns such as "**/*.py". No patterns matches
// every file.
func NewMatcher(patterns []string) (*Matcher, error) {
	for _, p := range patterns {
		if _, err := doublestar.Match(p, ""); err != nil {
			return nil, errors.ConfigErrorf("bad include pattern %q: %v", p, err)
		}
	}
	return &Matcher{patterns: patterns}, nil
}

// Match reports whether path is studied.
func (m *Matcher) Match(path string) bool {
	if m == nil || len(m.patterns) == 0 {
		return true
	}
	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}

// Snapshot lists the suppressions present at commit in studied files.
func Snapshot(ctx context.Context, src Source, extractor *suppression.Extractor, include *Matcher, commit string) ([]suppression.Suppression, error) {
	var hints []string
	for _, s := range extractor.Suppressors() {
		hints = append(hints, s.Hint)
	}

	out, err := src.Grep(ctx, commit, hints)
	if err != nil {
		return nil, err
	}
	all, err := extractor.ParseGrep(out, true)
	if err != nil {
		return nil, errors.ParseErrorf("snapshot of %s: %v", commit, err)
	}

	var kept []suppression.Suppression
	for _, s := range all {
		if include.Match(s.Path) {
			kept = append(kept, s)
		}
	}
	return kept, nil
}
