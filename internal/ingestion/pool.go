package ingestion

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/suphist/internal/config"
	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/output"
)

// PoolOptions configure a Pool.
type PoolOptions struct {
	Workers    int
	Accidental bool // also replay each repository's histories with the checker
}

// Pool mines independent repositories concurrently. A failing repository is
// reported in the summary and never stops the others.
type Pool struct {
	orch   *Orchestrator
	opts   PoolOptions
	logger *logrus.Logger

	mu    sync.Mutex
	trees map[string]*sync.Mutex
}

// NewPool creates a pool over o. Workers below 1 mean one worker.
func NewPool(o *Orchestrator, opts PoolOptions, logger *logrus.Logger) *Pool {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Pool{orch: o, opts: opts, logger: logger, trees: make(map[string]*sync.Mutex)}
}

// Run mines every repository and returns the summary in the order of specs.
func (p *Pool) Run(ctx context.Context, specs []config.RepoSpec) *output.Summary {
	summary := &output.Summary{
		Started: time.Now(),
		Repos:   make([]output.RepoSummary, len(specs)),
	}
	p.logger.WithFields(logrus.Fields{
		"repositories": len(specs),
		"workers":      p.opts.Workers,
	}).Info("Starting batch")

	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for i, spec := range specs {
		g.Go(func() error {
			summary.Repos[i] = p.runOne(ctx, spec)
			return nil
		})
	}
	_ = g.Wait()

	summary.Elapsed = time.Since(summary.Started)
	p.logger.WithFields(logrus.Fields{
		"repositories": len(specs),
		"failed":       summary.Failures(),
		"elapsed":      summary.Elapsed.String(),
	}).Info("Batch completed")
	return summary
}

func (p *Pool) runOne(ctx context.Context, spec config.RepoSpec) output.RepoSummary {
	if err := ctx.Err(); err != nil {
		err = errors.Wrap(err, errors.ErrorTypeInternal, errors.SeverityCritical, "not started").
			AtStage(errors.StageCommitList)
		return output.RepoSummary{Repo: spec.Name, Stage: string(errors.StageCommitList), Error: err.Error()}
	}

	// Runs over one working tree are serialized: replay checks out commits in place.
	tree := p.treeLock(spec)
	tree.Lock()
	defer tree.Unlock()

	res, err := p.orch.MineRepository(ctx, spec)
	s := res.Summary()
	if err != nil || !p.opts.Accidental {
		return s
	}

	acc, err := p.orch.DetectAccidental(ctx, spec, res.Histories, res.RunID)
	if err != nil {
		err = withStage(err, errors.StageReplay)
		p.logger.WithField("repo", spec.Name).WithError(err).Error("Accidental suppression replay failed")
		s.Stage = string(errors.GetStage(err))
		s.Error = err.Error()
		return s
	}
	s.Accidental = len(acc.Records)
	s.Duration += acc.Duration
	return s
}

func (p *Pool) treeLock(spec config.RepoSpec) *sync.Mutex {
	key := spec.URL
	if spec.Path != "" {
		key = filepath.Clean(spec.Path)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.trees[key]
	if !ok {
		m = &sync.Mutex{}
		p.trees[key] = m
	}
	return m
}
