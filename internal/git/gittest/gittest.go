// Package gittest builds throwaway git repositories for tests.
package gittest

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Epoch is the committer date of the first fixture commit; each later commit is
// one hour after the previous one.
var Epoch = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

// Fixture is a git repository in a temporary directory.
type Fixture struct {
	Dir string

	t       testing.TB
	commits int
}

// New initializes an empty repository, skipping the test when git is unavailable.
func New(t testing.TB) *Fixture {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	f := &Fixture{Dir: t.TempDir(), t: t}
	f.Git("init", "-q")
	f.Git("config", "user.email", "test@example.com")
	f.Git("config", "user.name", "Test User")
	f.Git("config", "commit.gpgsign", "false")
	return f
}

// Git runs a git command in the repository and returns its trimmed output.
func (f *Fixture) Git(args ...string) string {
	f.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = f.Dir
	date := Epoch.Add(time.Duration(f.commits) * time.Hour).Format(time.RFC3339)
	cmd.Env = append(os.Environ(), "GIT_AUTHOR_DATE="+date, "GIT_COMMITTER_DATE="+date)
	out, err := cmd.CombinedOutput()
	if err != nil {
		f.t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// Write creates or overwrites files relative to the repository root.
func (f *Fixture) Write(files map[string]string) {
	f.t.Helper()
	for name, content := range files {
		path := filepath.Join(f.Dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			f.t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			f.t.Fatal(err)
		}
	}
}

// Commit writes files, stages everything and commits. It returns the short hash.
func (f *Fixture) Commit(msg string, files map[string]string) string {
	f.t.Helper()
	f.Write(files)
	f.Git("add", "-A")
	f.Git("commit", "-q", "--allow-empty", "-m", msg)
	f.commits++
	return f.Git("rev-parse", "--short=7", "HEAD")
}

// Remove deletes paths from the working tree and index.
func (f *Fixture) Remove(paths ...string) {
	f.t.Helper()
	f.Git(append([]string{"rm", "-q"}, paths...)...)
}

// Move renames a tracked path.
func (f *Fixture) Move(from, to string) {
	f.t.Helper()
	if err := os.MkdirAll(filepath.Dir(filepath.Join(f.Dir, to)), 0o755); err != nil {
		f.t.Fatal(err)
	}
	f.Git("mv", from, to)
}

// Date returns the committer date of the n-th fixture commit, counting from zero.
func Date(n int) time.Time {
	return Epoch.Add(time.Duration(n) * time.Hour)
}

// Lines joins lines with newlines and a trailing newline.
func Lines(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}
