package checker

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/suppression"
)

// Workspace is a working tree that can be moved between commits. *git.Repo
// implements it.
type Workspace interface {
	Dir() string
	Checkout(ctx context.Context, commit string) error
}

// Replayer answers which warnings a suppression hides at a commit: it checks
// the file out, runs the checker with and without the marker, and returns the
// warnings that only appear without it.
type Replayer struct {
	ws        Workspace
	runner    *Runner
	extractor *suppression.Extractor
	logger    logrus.FieldLogger

	current  string
	baseline map[string][]Warning
}

// NewReplayer creates a replayer. The workspace is mutated in place.
func NewReplayer(ws Workspace, runner *Runner, extractor *suppression.Extractor, logger logrus.FieldLogger) *Replayer {
	if extractor == nil {
		extractor = suppression.NewExtractor("#", nil)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Replayer{ws: ws, runner: runner, extractor: extractor, logger: logger}
}

// Suppressed returns the warnings s hides at commit, sorted. The file is
// restored before returning.
func (r *Replayer) Suppressed(ctx context.Context, commit string, s suppression.Suppression) ([]Warning, error) {
	if err := r.checkout(ctx, commit); err != nil {
		return nil, err
	}

	path := filepath.Join(r.ws.Dir(), filepath.FromSlash(s.Path))
	original, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "reading %s at %s", s.Path, commit).AtStage(errors.StageReplay)
	}

	lines := strings.Split(string(original), "\n")
	if s.Line < 1 || s.Line > len(lines) {
		return nil, errors.ValidationErrorf("%s: line out of range at %s", s.String(), commit).AtStage(errors.StageReplay)
	}
	stripped, ok := r.extractor.Strip(lines[s.Line-1], s.Marker)
	if !ok {
		return nil, errors.ValidationErrorf("%s: marker not on line at %s", s.String(), commit).AtStage(errors.StageReplay)
	}

	before, err := r.baselineFor(ctx, s.Path)
	if err != nil {
		return nil, err
	}

	lines[s.Line-1] = stripped
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return nil, errors.FileSystemErrorf(err, "writing %s", s.Path).AtStage(errors.StageReplay)
	}
	after, runErr := r.runner.Run(ctx, r.ws.Dir(), s.Path)
	if err := os.WriteFile(path, original, 0o644); err != nil {
		return nil, errors.FileSystemErrorf(err, "restoring %s", s.Path).AtStage(errors.StageReplay)
	}
	if runErr != nil {
		return nil, runErr
	}

	hidden := Difference(after, before)
	r.logger.WithFields(logrus.Fields{
		"commit":      commit,
		"suppression": s.String(),
		"hidden":      len(hidden),
	}).Debug("Replayed suppression")
	return hidden, nil
}

func (r *Replayer) checkout(ctx context.Context, commit string) error {
	if r.current == commit {
		return nil
	}
	if err := r.ws.Checkout(ctx, commit); err != nil {
		return errors.Wrap(err, errors.ErrorTypeExternal, errors.SeverityCritical, "checkout "+commit).
			AtStage(errors.StageReplay)
	}
	r.current = commit
	r.baseline = make(map[string][]Warning)
	return nil
}

// baselineFor runs the checker on the unmodified file once per commit.
func (r *Replayer) baselineFor(ctx context.Context, path string) ([]Warning, error) {
	if ws, ok := r.baseline[path]; ok {
		return ws, nil
	}
	ws, err := r.runner.Run(ctx, r.ws.Dir(), path)
	if err != nil {
		return nil, err
	}
	r.baseline[path] = ws
	return ws, nil
}
