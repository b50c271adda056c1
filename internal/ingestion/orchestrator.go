// Package ingestion runs the mining pipeline over repositories: one
// Orchestrator call per repository, fanned out by a bounded Pool.
package ingestion

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/suphist/internal/accidental"
	"github.com/rohankatakam/suphist/internal/cache"
	"github.com/rohankatakam/suphist/internal/checker"
	"github.com/rohankatakam/suphist/internal/config"
	"github.com/rohankatakam/suphist/internal/diff"
	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/git"
	"github.com/rohankatakam/suphist/internal/history"
	"github.com/rohankatakam/suphist/internal/output"
	"github.com/rohankatakam/suphist/internal/storage"
	"github.com/rohankatakam/suphist/internal/suppression"
	"github.com/rohankatakam/suphist/internal/temporal"
	"github.com/rohankatakam/suphist/internal/window"
)

// Deps are the shared collaborators of every repository run. All are optional.
type Deps struct {
	Cache       cache.Store
	Store       storage.Store
	Diagnostics *output.DiagnosticsLog
}

// Orchestrator coordinates the mining of one repository at a time. It is safe
// to call from several workers as long as each works on its own repository.
type Orchestrator struct {
	config    *config.Config
	extractor *suppression.Extractor
	include   *temporal.Matcher
	deps      Deps
	logger    *logrus.Logger
}

// NewOrchestrator creates a new mining orchestrator
func NewOrchestrator(cfg *config.Config, deps Deps, logger *logrus.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	extractor, err := cfg.Extractor()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityCritical, "building suppression extractor").
			AtStage(errors.StageConfig)
	}
	include, err := temporal.NewMatcher(cfg.Include)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityCritical, "include patterns").
			AtStage(errors.StageConfig)
	}
	return &Orchestrator{
		config:    cfg,
		extractor: extractor,
		include:   include,
		deps:      deps,
		logger:    logger,
	}, nil
}

// MiningResult contains the results of mining one repository
type MiningResult struct {
	Repo       string
	RunID      string
	Commits    int
	Histories  []history.History
	Conflicts  []history.Conflict
	Invalid    []history.Invalid
	Walk       temporal.WalkStats
	Introduced int // histories the line history traversal found
	CacheHits  int64
	OutputPath string
	Duration   time.Duration
	Err        error
}

// Summary condenses the result into its line of the run summary.
func (r *MiningResult) Summary() output.RepoSummary {
	s := output.RepoSummary{
		Repo:      r.Repo,
		Commits:   r.Commits,
		Histories: len(r.Histories),
		Ambiguous: r.Walk.Ambiguous,
		Orphans:   r.Walk.Orphans,
		Conflicts: len(r.Conflicts),
		CacheHits: r.CacheHits,
		Duration:  r.Duration,
	}
	for _, h := range r.Histories {
		if h.Alive() {
			s.Alive++
		} else {
			s.Deleted++
		}
	}
	if r.Err != nil {
		s.Stage = string(errors.GetStage(r.Err))
		s.Error = r.Err.Error()
	}
	return s
}

// repoRun is the per-repository state of one call. Nothing in it is shared
// with other repositories.
type repoRun struct {
	spec   config.RepoSpec
	repo   *git.Repo
	src    *cache.Repository
	list   window.List
	logger *logrus.Entry
}

// MineRepository discovers and reconciles the suppression histories of one
// repository, writes them to the output directory and, when a store is
// configured, persists them. A failure is returned with the stage it happened
// in and also recorded on the result.
func (o *Orchestrator) MineRepository(ctx context.Context, spec config.RepoSpec) (*MiningResult, error) {
	startTime := time.Now()
	result := &MiningResult{Repo: spec.Name}
	logger := o.logger.WithField("repo", spec.Name)
	logger.Info("Starting repository mining")

	var run *storage.Run
	if o.deps.Store != nil {
		var err error
		if run, err = o.deps.Store.StartRun(ctx, spec.Name); err != nil {
			return o.fail(result, startTime, err, errors.StagePersist)
		}
		result.RunID = run.ID
	}

	err := o.mine(ctx, spec, result, logger)
	result.Duration = time.Since(startTime)

	if run != nil {
		run.Commits, run.Histories = result.Commits, len(result.Histories)
		if err != nil {
			run.Status = storage.RunFailed
			run.Stage = string(errors.GetStage(err))
			run.Error = err.Error()
		}
		if ferr := o.deps.Store.FinishRun(context.WithoutCancel(ctx), run); ferr != nil && err == nil {
			err = ferr
		}
	}

	if err != nil {
		return o.fail(result, startTime, err, errors.StageWalk)
	}

	logger.WithFields(logrus.Fields{
		"duration":  result.Duration.String(),
		"commits":   result.Commits,
		"histories": len(result.Histories),
		"conflicts": len(result.Conflicts),
		"tricky":    result.Walk.Ambiguous,
		"orphans":   result.Walk.Orphans,
	}).Info("Repository mining completed")
	return result, nil
}

func (o *Orchestrator) mine(ctx context.Context, spec config.RepoSpec, result *MiningResult, logger *logrus.Entry) error {
	rr, err := o.open(ctx, spec, logger)
	if err != nil {
		return err
	}
	result.Commits = len(rr.list)
	logger = rr.logger

	// Phase 1: discover histories with every enabled traversal
	acc := history.NewAccumulator()

	var diag temporal.Diagnostics
	if o.deps.Diagnostics != nil {
		diag = o.deps.Diagnostics.ForRepo(spec.Name)
	}
	walker := temporal.NewCommitWalker(rr.src, temporal.WalkerOptions{
		Extractor:   o.extractor,
		Include:     o.include,
		Diagnostics: diag,
		Logger:      logger,
	})
	disc, stats, err := walker.Walk(ctx, rr.list)
	if err != nil {
		return withStage(err, errors.StageWalk)
	}
	result.Walk = stats
	acc.Add(disc)

	if o.config.History.LineHistory {
		lh := temporal.NewLineHistory(rr.src, o.extractor, o.include, logger)
		targets := []window.Commit{rr.list.Newest()}
		if o.config.History.BackfillWindowStart && len(rr.list) > 1 {
			targets = append(targets, rr.list[0])
		}
		for _, c := range targets {
			d, err := lh.Discover(ctx, c)
			if err != nil {
				return withStage(err, errors.StageLineHistory)
			}
			result.Introduced += len(d.Histories)
			acc.Add(d)
		}
	}

	// Phase 2: reconcile
	res, err := acc.Reconcile(ctx, history.ReconcileOptions{
		Linker: newGitLinker(rr.src, o.extractor),
		Strict: o.config.History.Strict,
		Logger: logger,
	})
	if err != nil {
		return withStage(err, errors.StageReconcile)
	}
	result.Histories = res.Histories
	result.Conflicts = res.Conflicts
	result.Invalid = res.Invalid
	for _, inv := range res.Invalid {
		logger.WithError(inv.Err).WithField("suppression", inv.History.ID).Warn("Dropped malformed history")
	}

	// Phase 3: write and persist
	path, err := output.WriteHistories(o.config.Output.Directory, spec.Name, res.Histories)
	if err != nil {
		return err
	}
	result.OutputPath = path

	if o.deps.Store != nil && result.RunID != "" {
		if err := o.deps.Store.SaveHistories(ctx, result.RunID, res.Histories); err != nil {
			return err
		}
	}

	result.CacheHits, _ = rr.src.Stats()
	return nil
}

// open prepares the working tree, the cached git collaborator and the sampled
// commit list.
func (o *Orchestrator) open(ctx context.Context, spec config.RepoSpec, logger *logrus.Entry) (*repoRun, error) {
	dir := spec.Path
	if spec.URL != "" {
		var err error
		if dir, err = EnsureClone(ctx, spec.URL, spec.Path, logger); err != nil {
			return nil, err
		}
	}

	repo, err := git.Open(ctx, dir, logger)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeExternal, errors.SeverityCritical, "opening "+dir).
			AtStage(errors.StageCommitList)
	}

	if spec.URL == "" {
		if remote, err := repo.RemoteURL(ctx); err == nil {
			if org, name, err := git.ParseRepoURL(remote); err == nil {
				logger = logger.WithField("remote", org+"/"+name)
			}
		}
	}

	list, err := o.commitList(ctx, repo, spec)
	if err != nil {
		return nil, withStage(err, errors.StageCommitList)
	}

	return &repoRun{
		spec:   spec,
		repo:   repo,
		src:    cache.NewRepository(repo, spec.Name, o.deps.Cache, logger),
		list:   list,
		logger: logger,
	}, nil
}

// commitList loads the configured list file, or the first-parent history of
// HEAD when none is given, and applies sampling.
func (o *Orchestrator) commitList(ctx context.Context, repo *git.Repo, spec config.RepoSpec) (window.List, error) {
	var list window.List
	if spec.Commits != "" {
		var err error
		if list, err = window.LoadList(spec.Commits); err != nil {
			return nil, err
		}
	} else {
		infos, err := repo.CommitList(ctx, "HEAD")
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			date, err := diff.ParseDate(info.Date)
			if err != nil {
				return nil, errors.ParseErrorf("commit %s: %v", info.ID, err)
			}
			list = append(list, window.Commit{ID: info.ID, Date: date})
		}
	}

	if len(list) == 0 {
		return nil, errors.ValidationErrorf("empty commit list for %s", spec.Name)
	}
	return list.Sample(o.config.History.Sample), nil
}

// AccidentalResult is the outcome of replaying one repository's histories.
type AccidentalResult struct {
	Repo       string
	Records    []accidental.Record
	Stats      accidental.Stats
	OutputPath string
	Duration   time.Duration
}

// DetectAccidental replays histories over the repository's commit list with the
// configured checker and writes the accidental suppressions found. The working
// tree is checked out commit by commit and restored to its starting commit.
func (o *Orchestrator) DetectAccidental(ctx context.Context, spec config.RepoSpec, histories []history.History, runID string) (*AccidentalResult, error) {
	startTime := time.Now()
	logger := o.logger.WithField("repo", spec.Name)

	c, err := CheckerFor(o.config.Checker)
	if err != nil {
		return nil, err
	}

	rr, err := o.open(ctx, spec, logger)
	if err != nil {
		return nil, err
	}
	head, err := rr.repo.Head(ctx)
	if err != nil {
		return nil, withStage(err, errors.StageReplay)
	}
	defer func() {
		if err := rr.repo.Checkout(context.WithoutCancel(ctx), head); err != nil {
			logger.WithError(err).Warn("Failed to restore working tree")
		}
	}()

	replayer := checker.NewReplayer(rr.repo, checker.NewRunner(c, logger), o.extractor, logger)
	detector := accidental.NewDetector(rr.src, accidental.NewLocator(rr.src, o.extractor), replayer, logger)

	records, stats, err := detector.DetectAll(ctx, rr.list, histories)
	if err != nil {
		return nil, withStage(err, errors.StageReplay)
	}

	path, err := output.WriteAccidental(o.config.Output.Directory, spec.Name, records)
	if err != nil {
		return nil, err
	}
	if o.deps.Store != nil && runID != "" {
		if err := o.deps.Store.SaveAccidental(ctx, runID, records); err != nil {
			return nil, err
		}
	}

	result := &AccidentalResult{
		Repo:       spec.Name,
		Records:    records,
		Stats:      stats,
		OutputPath: path,
		Duration:   time.Since(startTime),
	}
	logger.WithFields(logrus.Fields{
		"histories": stats.Histories,
		"commits":   stats.Commits,
		"lost":      stats.Lost,
		"records":   stats.Records,
	}).Info("Accidental suppression replay completed")
	return result, nil
}

// CheckerFor builds the configured checker. A built-in name starts from its
// defaults; command and args override them. Other names need a command and are
// expected to print mypy-style "path:line: error: message [code]" lines.
func CheckerFor(cfg config.CheckerConfig) (*checker.Checker, error) {
	c, err := checker.ByName(cfg.Name)
	if err != nil {
		if cfg.Command == "" {
			return nil, withStage(err, errors.StageConfig)
		}
		c = &checker.Checker{Name: cfg.Name, Parse: checker.ParseMypy, FailureCodes: []int{2}}
	}
	if cfg.Command != "" {
		c.Command = cfg.Command
	}
	if cfg.Args != nil {
		c.Args = cfg.Args
	}
	return c, nil
}

func (o *Orchestrator) fail(result *MiningResult, startTime time.Time, err error, stage errors.Stage) (*MiningResult, error) {
	err = withStage(err, stage)
	result.Err = err
	result.Duration = time.Since(startTime)
	o.logger.WithFields(logrus.Fields{
		"repo":  result.Repo,
		"stage": errors.GetStage(err),
	}).WithError(err).Error("Repository mining failed")
	return result, err
}

// withStage tags err with stage unless a stage is already recorded.
func withStage(err error, stage errors.Stage) error {
	if err == nil || errors.GetStage(err) != "" {
		return err
	}
	if e, ok := err.(*errors.Error); ok {
		return e.AtStage(stage)
	}
	return errors.Wrap(err, errors.GetType(err), errors.SeverityCritical, "failed").AtStage(stage)
}
