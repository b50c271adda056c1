package ingestion

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/suphist/internal/errors"
)

// EnsureClone makes dir a clone of url and returns its path. An existing working
// tree at dir is reused as is. An empty dir clones into
// ~/.suphist/repos/<repo-hash>/. The clone keeps the full history: mining
// walks every commit.
func EnsureClone(ctx context.Context, url, dir string, logger logrus.FieldLogger) (string, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", errors.FileSystemErrorf(err, "failed to get home directory").AtStage(errors.StageCommitList)
		}
		dir = filepath.Join(homeDir, ".suphist", "repos", generateRepoHash(url))
	}

	// Check if already cloned
	if _, err := os.Stat(dir); err == nil {
		if isValidGitRepo(dir) {
			return dir, nil
		}
		return "", errors.ValidationErrorf("%s exists but is not a git working tree", dir).AtStage(errors.StageCommitList)
	}

	// Create parent directory
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return "", errors.FileSystemErrorf(err, "failed to create clone directory").AtStage(errors.StageCommitList)
	}

	logger.WithFields(logrus.Fields{"url": url, "dir": dir}).Info("Cloning repository")
	cmd := exec.CommandContext(ctx, "git", "clone", "--quiet", url, dir)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	output, err := cmd.CombinedOutput()
	if err != nil {
		os.RemoveAll(dir)
		return "", errors.ExternalErrorf(err, "git clone %s", url).
			WithContext("output", strings.TrimSpace(string(output))).
			AtStage(errors.StageCommitList)
	}
	return dir, nil
}

// generateRepoHash creates a unique hash from repository URL
func generateRepoHash(url string) string {
	// Normalize URL (remove trailing .git, etc.)
	url = strings.TrimSuffix(url, "/")
	url = strings.TrimSuffix(url, ".git")

	h := sha256.New()
	h.Write([]byte(url))

	// Use first 16 characters of hex
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

// isValidGitRepo checks if directory is a valid git repository
func isValidGitRepo(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	if err != nil {
		return false
	}
	return info.IsDir()
}
