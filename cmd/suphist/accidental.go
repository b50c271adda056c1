package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/suphist/internal/history"
	"github.com/rohankatakam/suphist/internal/ingestion"
	"github.com/rohankatakam/suphist/internal/output"
)

var (
	accHistories string
	accName      string
	accURL       string
	accCommits   string
)

var accidentalCmd = &cobra.Command{
	Use:   "accidental [path]",
	Short: "Detect suppressions that went on to hide more warnings",
	Long: `Accidental replays mined histories over the commit list with the configured
checker. At each commit that touches a suppressed file the marker is removed,
the checker is re-run, and the warnings it was hiding are compared with the
previous such commit. A suppression that hides more warnings than before is
reported.

The working tree is checked out commit by commit and restored afterwards.

Histories are read from --histories, else from the latest stored run of the
repository when a result store is configured, else from the output directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAccidental,
}

func init() {
	accidentalCmd.Flags().StringVar(&accHistories, "histories", "", "histories.json produced by mine")
	accidentalCmd.Flags().StringVar(&accName, "name", "", "repository name (default: directory or URL name)")
	accidentalCmd.Flags().StringVar(&accURL, "url", "", "clone URL when path is not a working tree yet")
	accidentalCmd.Flags().StringVar(&accCommits, "commits", "", "two-column commit list file")
}

func runAccidental(cmd *cobra.Command, args []string) error {
	spec := singleSpec(args, accName, accURL, accCommits)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, closeDeps, err := openDeps(ctx)
	if err != nil {
		return err
	}
	defer closeDeps()

	var histories []history.History
	var runID string
	switch {
	case accHistories != "":
		histories, err = output.ReadHistories(accHistories)
	case deps.Store != nil:
		run, rerr := deps.Store.LatestRun(ctx, spec.Name)
		if rerr != nil {
			return fmt.Errorf("no stored run for %s: %w", spec.Name, rerr)
		}
		runID = run.ID
		histories, err = deps.Store.GetHistories(ctx, run.ID)
	default:
		histories, err = output.ReadHistories(filepath.Join(output.RepoDir(cfg.Output.Directory, spec.Name), output.HistoriesFile))
	}
	if err != nil {
		return err
	}

	orch, err := ingestion.NewOrchestrator(cfg, deps, logger)
	if err != nil {
		return err
	}
	res, err := orch.DetectAccidental(ctx, spec, histories, runID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(out, "%s: %s accidental suppressions from %s histories over %s commits (%d lost)\n",
		res.Repo,
		humanize.Comma(int64(res.Stats.Records)),
		humanize.Comma(int64(res.Stats.Histories)),
		humanize.Comma(int64(res.Stats.Commits)),
		res.Stats.Lost)
	fmt.Fprintf(out, "written to %s\n", res.OutputPath)
	return nil
}
