package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/suphist/internal/config"
	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/logging"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	asJSON  bool
	log     *logging.Logger
	logger  *logrus.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var e *errors.Error
		if verbose && errors.As(err, &e) {
			fmt.Fprint(os.Stderr, e.DetailedString())
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "suphist",
	Short: "suphist - mine the histories of warning suppressions in git repositories",
	Long: `suphist follows every pylint and mypy suppression comment of a Python
repository through its commits: when it was added, where it moved, when it was
removed, and whether it went on to hide warnings nobody meant to silence.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Log.Level = "debug"
		}

		log, err = logging.New(cfg.Log)
		if err != nil {
			return err
		}
		logger = log.Logger

		result := cfg.Validate()
		for _, w := range result.Warnings {
			logger.Warn(w)
		}
		return result.Err()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			log.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .suphist/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print results as JSON")

	// Set custom version template
	rootCmd.SetVersionTemplate(`suphist {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	// Add subcommands
	rootCmd.AddCommand(mineCmd)
	rootCmd.AddCommand(accidentalCmd)
	rootCmd.AddCommand(remapCmd)
	rootCmd.AddCommand(configCmd)
}
