package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/suphist/internal/diff"
	"github.com/rohankatakam/suphist/internal/errors"
)

// Repo runs git commands against one working tree. Checkout mutates the tree, so a
// Repo must not be shared between workers.
type Repo struct {
	dir    string
	logger logrus.FieldLogger
}

// Open checks that dir is inside a git working tree.
func Open(ctx context.Context, dir string, logger logrus.FieldLogger) (*Repo, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Repo{dir: dir, logger: logger}
	if _, err := r.run(ctx, "rev-parse", "--is-inside-work-tree"); err != nil {
		return nil, fmt.Errorf("not a git repository: %s: %w", dir, err)
	}
	return r, nil
}

// Dir returns the working tree path.
func (r *Repo) Dir() string {
	return r.dir
}

// Log returns `git log -p` output for the first-parent commits in (from, to],
// oldest first, with rename detection and no context lines. Merge commits are
// diffed against their first parent. An empty from walks from the root.
func (r *Repo) Log(ctx context.Context, from, to string, paths ...string) (string, error) {
	rev := to
	if from != "" {
		rev = from + ".." + to
	}
	args := []string{"log", "-p", "--first-parent", "-m", "-M", "-U0", "--reverse",
		"--no-color", "--no-ext-diff", "--pretty=fuller", "--date=iso-strict", rev}
	return r.output(ctx, withPaths(args, paths)...)
}

// Diff returns `git diff` output between two commits with rename detection and no
// context lines.
func (r *Repo) Diff(ctx context.Context, from, to string, paths ...string) (string, error) {
	args := []string{"diff", "-M", "-U0", "--no-color", "--no-ext-diff", from, to}
	return r.output(ctx, withPaths(args, paths)...)
}

// LineLog returns `git log -L` output tracing line of path back from commit,
// newest first.
func (r *Repo) LineLog(ctx context.Context, commit, path string, line int) (string, error) {
	return r.output(ctx, "log", "--no-color", "--pretty=fuller", "--date=iso-strict",
		fmt.Sprintf("-L%d,%d:%s", line, line, path), commit)
}

// Grep returns `git grep -n` output for lines at commit containing any of the
// literal hints. No match is not an error.
func (r *Repo) Grep(ctx context.Context, commit string, hints []string, pathspecs ...string) (string, error) {
	args := []string{"grep", "-n", "-I", "-F", "--no-color"}
	for _, h := range hints {
		args = append(args, "-e", h)
	}
	args = append(args, commit)
	out, err := r.output(ctx, withPaths(args, pathspecs)...)
	if err != nil && exitCode(err) == 1 {
		return "", nil
	}
	return out, err
}

// Show returns the content of path at commit.
func (r *Repo) Show(ctx context.Context, commit, path string) (string, error) {
	return r.output(ctx, "show", commit+":"+path)
}

// Checkout forces the working tree to commit.
func (r *Repo) Checkout(ctx context.Context, commit string) error {
	_, err := r.run(ctx, "checkout", "--quiet", "--force", commit)
	return err
}

// CommitInfo is one entry of a commit list.
type CommitInfo struct {
	ID   string
	Date string
}

// CommitList returns the first-parent history of rev, oldest first, as short
// hashes with strict ISO committer dates.
func (r *Repo) CommitList(ctx context.Context, rev string) ([]CommitInfo, error) {
	out, err := r.output(ctx, "log", "--first-parent", "--reverse", "--pretty=format:%H|%cI", rev)
	if err != nil {
		return nil, err
	}

	var commits []CommitInfo
	for _, line := range splitLines(out) {
		parts := strings.SplitN(line, "|", 2)
		if len(parts) != 2 {
			continue // Skip malformed lines
		}
		commits = append(commits, CommitInfo{ID: diff.ShortID(parts[0]), Date: parts[1]})
	}
	return commits, nil
}

// Head returns the short hash of HEAD.
func (r *Repo) Head(ctx context.Context) (string, error) {
	out, err := r.output(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return diff.ShortID(strings.TrimSpace(out)), nil
}

// RemoteURL returns the URL of the origin remote.
func (r *Repo) RemoteURL(ctx context.Context) (string, error) {
	out, err := r.output(ctx, "config", "--get", "remote.origin.url")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (r *Repo) output(ctx context.Context, args ...string) (string, error) {
	out, err := r.run(ctx, args...)
	return string(out), err
}

func (r *Repo) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.logger.WithField("args", strings.Join(args, " ")).Debug("Running git")
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.ExternalErrorf(err, "git %s", args[0]).
			WithContext("args", strings.Join(args, " ")).
			WithContext("stderr", strings.TrimSpace(stderr.String())).
			WithContext("dir", r.dir)
	}
	return out, nil
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func withPaths(args, paths []string) []string {
	if len(paths) == 0 {
		return args
	}
	return append(append(args, "--"), paths...)
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// ParseRepoURL extracts org and repo name from git remote URL
// Supports multiple URL formats:
//   - HTTPS: https://github.com/owner/repo.git
//   - SSH: git@github.com:owner/repo.git
//   - Git protocol: git://github.com/owner/repo.git
func ParseRepoURL(remoteURL string) (org, repo string, err error) {
	remoteURL = strings.TrimSuffix(remoteURL, ".git")

	for _, re := range remotePatterns {
		if matches := re.FindStringSubmatch(remoteURL); len(matches) == 3 {
			return matches[1], matches[2], nil
		}
	}
	return "", "", fmt.Errorf("unrecognized git URL format: %s", remoteURL)
}

var remotePatterns = []*regexp.Regexp{
	regexp.MustCompile(`https?://[^/]+/([^/]+)/([^/]+)`),
	regexp.MustCompile(`git@[^:]+:([^/]+)/([^/]+)`),
	regexp.MustCompile(`git://[^/]+/([^/]+)/([^/]+)`),
}
