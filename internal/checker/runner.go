package checker

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/suphist/internal/errors"
)

// Checker describes how to run one static checker over files of a working tree.
type Checker struct {
	Name    string
	Command string
	Args    []string
	Parse   ReportParser

	// FailureCodes are exit codes meaning the checker itself failed. Any other
	// non-zero code only signals that warnings were reported.
	FailureCodes []int
}

// Pylint runs pylint with its default text report. Exit codes are a bit mask of
// message categories; 32 is a usage error.
func Pylint() *Checker {
	return &Checker{
		Name:         "pylint",
		Command:      "pylint",
		Args:         []string{"--output-format=text", "--score=n", "--persistent=n"},
		Parse:        ParsePylint,
		FailureCodes: []int{32},
	}
}

// Mypy runs mypy with error codes shown. Exit code 2 is a crash or usage error.
func Mypy() *Checker {
	return &Checker{
		Name:         "mypy",
		Command:      "mypy",
		Args:         []string{"--show-error-codes", "--no-error-summary", "--no-color-output", "--no-incremental"},
		Parse:        ParseMypy,
		FailureCodes: []int{2},
	}
}

// ByName returns the built-in checker called name.
func ByName(name string) (*Checker, error) {
	switch name {
	case "pylint":
		return Pylint(), nil
	case "mypy":
		return Mypy(), nil
	}
	return nil, errors.ConfigErrorf("unknown checker %q (want pylint or mypy)", name)
}

// Runner executes a Checker in a directory.
type Runner struct {
	checker *Checker
	logger  logrus.FieldLogger
}

// NewRunner creates a runner for c.
func NewRunner(c *Checker, logger logrus.FieldLogger) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{checker: c, logger: logger}
}

// Checker returns the checker the runner executes.
func (r *Runner) Checker() *Checker {
	return r.checker
}

// Run checks paths (relative to dir) and returns the parsed warnings. A checker
// that cannot run, or exits with a failure code, is an external error.
func (r *Runner) Run(ctx context.Context, dir string, paths ...string) ([]Warning, error) {
	c := r.checker
	args := append(append([]string(nil), c.Args...), paths...)
	cmd := exec.CommandContext(ctx, c.Command, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.WithFields(logrus.Fields{
		"checker": c.Name,
		"dir":     dir,
		"paths":   strings.Join(paths, " "),
	}).Debug("Running checker")

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || c.failed(exitErr.ExitCode()) {
			return nil, errors.ExternalErrorf(err, "%s failed", c.Name).
				WithContext("args", strings.Join(args, " ")).
				WithContext("stderr", strings.TrimSpace(stderr.String())).
				WithContext("dir", dir).
				AtStage(errors.StageReplay)
		}
	}

	warnings, perr := c.Parse(stdout.String())
	if perr != nil {
		return nil, errors.Wrap(perr, errors.ErrorTypeParse, errors.SeverityCritical, c.Name+" report").
			AtStage(errors.StageReplay)
	}
	return warnings, nil
}

func (c *Checker) failed(code int) bool {
	for _, f := range c.FailureCodes {
		if code == f {
			return true
		}
	}
	return false
}
