package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/suphist/internal/cache"
	"github.com/rohankatakam/suphist/internal/config"
	"github.com/rohankatakam/suphist/internal/ingestion"
	"github.com/rohankatakam/suphist/internal/output"
	"github.com/rohankatakam/suphist/internal/storage"
)

var (
	mineBatch      string
	mineName       string
	mineURL        string
	mineCommits    string
	mineWorkers    int
	mineAccidental bool
)

var mineCmd = &cobra.Command{
	Use:   "mine [path]",
	Short: "Mine suppression histories of one repository or a batch",
	Long: `Mine walks the commit list of each repository, tracks every suppression
comment through the diffs between consecutive commits, and writes one
histories.json per repository under the output directory.

Examples:
  # Mine the repository in the current directory over its first-parent history
  suphist mine .

  # Mine a sampled commit list
  suphist mine ~/src/django --commits django-commits.csv

  # Mine a batch in parallel and replay with the checker
  suphist mine --batch repos.yaml --workers 4 --accidental`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMine,
}

func init() {
	mineCmd.Flags().StringVar(&mineBatch, "batch", "", "YAML file listing repositories")
	mineCmd.Flags().StringVar(&mineName, "name", "", "repository name (default: directory or URL name)")
	mineCmd.Flags().StringVar(&mineURL, "url", "", "clone URL when path is not a working tree yet")
	mineCmd.Flags().StringVar(&mineCommits, "commits", "", "two-column commit list file")
	mineCmd.Flags().IntVar(&mineWorkers, "workers", 0, "repositories mined in parallel (default: config workers)")
	mineCmd.Flags().BoolVar(&mineAccidental, "accidental", false, "also detect accidental suppressions")
}

func runMine(cmd *cobra.Command, args []string) error {
	specs, err := mineSpecs(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, closeDeps, err := openDeps(ctx)
	if err != nil {
		return err
	}
	defer closeDeps()

	orch, err := ingestion.NewOrchestrator(cfg, deps, logger)
	if err != nil {
		return err
	}

	workers := mineWorkers
	if workers <= 0 {
		workers = cfg.WorkerCount()
	}
	summary := ingestion.NewPool(orch, ingestion.PoolOptions{
		Workers:    workers,
		Accidental: mineAccidental,
	}, logger).Run(ctx, specs)

	if err := output.NewFormatter(asJSON).Format(summary, cmd.OutOrStdout()); err != nil {
		return err
	}
	if n := summary.Failures(); n > 0 {
		return fmt.Errorf("%d of %d repositories failed", n, len(summary.Repos))
	}
	return nil
}

// mineSpecs builds the repository list from --batch or the positional path.
func mineSpecs(args []string) ([]config.RepoSpec, error) {
	if mineBatch != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("--batch and a path are mutually exclusive")
		}
		return config.LoadRepos(mineBatch)
	}
	return []config.RepoSpec{singleSpec(args, mineName, mineURL, mineCommits)}, nil
}

func singleSpec(args []string, name, url, commits string) config.RepoSpec {
	spec := config.RepoSpec{Name: name, URL: url, Commits: commits}
	if len(args) > 0 {
		spec.Path = args[0]
	} else if url == "" {
		spec.Path = "."
	}
	if spec.Path != "" {
		if abs, err := filepath.Abs(spec.Path); err == nil {
			spec.Path = abs
		}
	}
	if spec.Name == "" {
		spec.Name = config.RepoName(spec.Path, spec.URL)
	}
	return spec
}

// openDeps opens the cache, the result store and the diagnostics log. The
// returned func closes whatever was opened.
func openDeps(ctx context.Context) (ingestion.Deps, func(), error) {
	var deps ingestion.Deps
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.WithError(err).Warn("Close failed")
			}
		}
	}

	store, err := cache.NewStore(ctx, cfg.Cache, logger)
	if err != nil {
		// the cache only saves git calls
		logger.WithError(err).Warn("Cache unavailable, continuing without it")
	} else if store != nil {
		deps.Cache = store
		closers = append(closers, store.Close)
	}

	results, err := storage.New(cfg.Storage, logger)
	if err != nil {
		closeAll()
		return deps, nil, err
	}
	if results != nil {
		deps.Store = results
		closers = append(closers, results.Close)
	}

	diags, err := output.OpenDiagnostics(filepath.Join(cfg.Output.Directory, output.DiagnosticsFile), logger)
	if err != nil {
		closeAll()
		return deps, nil, err
	}
	deps.Diagnostics = diags
	closers = append(closers, diags.Close)

	return deps, closeAll, nil
}
