package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/suphist/internal/git"
	"github.com/rohankatakam/suphist/internal/history"
	"github.com/rohankatakam/suphist/internal/ingestion"
)

var remapRepo string

var remapCmd = &cobra.Command{
	Use:   "remap <path:line> <from> <to>",
	Short: "Carry a line number from one commit to another",
	Long: `Remap follows a line across the diff between two commits, following renames.
A line holding a suppression is tracked by its marker and reported as deleted
when the marker is removed; any other line is mapped by position.

Examples:
  suphist remap django/db/models.py:120 1a2b3c4 5d6e7f8
  suphist remap app.py:7 HEAD~10 HEAD --repo ~/src/flask`,
	Args: cobra.ExactArgs(3),
	RunE: runRemap,
}

func init() {
	remapCmd.Flags().StringVar(&remapRepo, "repo", ".", "repository working tree")
}

func runRemap(cmd *cobra.Command, args []string) error {
	path, line, err := parseLocation(args[0])
	if err != nil {
		return err
	}

	repo, err := git.Open(cmd.Context(), remapRepo, logger)
	if err != nil {
		return err
	}
	extractor, err := cfg.Extractor()
	if err != nil {
		return err
	}

	r, err := ingestion.RemapLine(cmd.Context(), repo, extractor,
		history.Position{Commit: args[1], Path: path, Line: line}, args[2])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return json.NewEncoder(out).Encode(r)
	}
	if r.Deleted {
		fmt.Fprintf(out, "deleted: %s removed from %s:%d\n", r.Marker.Text, r.Position.Path, r.Position.Line)
		return nil
	}
	fmt.Fprintf(out, "%s:%d\n", r.Position.Path, r.Position.Line)
	return nil
}

// parseLocation splits "path:line".
func parseLocation(s string) (string, int, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 {
		return "", 0, fmt.Errorf("want path:line, got %q", s)
	}
	line, err := strconv.Atoi(s[i+1:])
	if err != nil || line < 1 {
		return "", 0, fmt.Errorf("bad line number in %q", s)
	}
	return s[:i], line, nil
}
