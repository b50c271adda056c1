package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/suphist/internal/classify"
	"github.com/rohankatakam/suphist/internal/diff"
	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/suppression"
)

// Diagnostic kinds
const (
	DiagnosticAmbiguous = "ambiguous"
	DiagnosticOrphan    = "orphan"
)

// Diagnostic is one line of the diagnostics log: a hunk the classifier could
// not settle, or a suppression dropped from tracking because of one.
type Diagnostic struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Repo    string    `json:"repo"`
	Commit  string    `json:"commit"`
	Path    string    `json:"path"`
	Reason  string    `json:"reason"`
	Hunk    string    `json:"hunk,omitempty"`
	Removed []string  `json:"removed,omitempty"`
	Added   []string  `json:"added,omitempty"`
	Line    int       `json:"line,omitempty"`
	Marker  string    `json:"marker,omitempty"`
}

// DiagnosticsLog appends diagnostics as JSON lines to a file shared by every
// repository of a run. It is safe for concurrent use; each repository gets its
// own view through ForRepo.
type DiagnosticsLog struct {
	mu     sync.Mutex
	file   *os.File
	enc    *json.Encoder
	counts map[string]int
	logger logrus.FieldLogger
}

// OpenDiagnostics opens path for appending, creating it and its directory.
func OpenDiagnostics(path string, logger logrus.FieldLogger) (*DiagnosticsLog, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.FileSystemErrorf(err, "creating diagnostics directory")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "opening diagnostics log %s", path)
	}
	return &DiagnosticsLog{
		file:   f,
		enc:    json.NewEncoder(f),
		counts: make(map[string]int),
		logger: logger,
	}, nil
}

// ForRepo returns a view that tags every entry with repo.
func (d *DiagnosticsLog) ForRepo(repo string) *RepoDiagnostics {
	return &RepoDiagnostics{log: d, repo: repo}
}

// Count returns how many entries of kind were written for repo.
func (d *DiagnosticsLog) Count(repo, kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[repo+"\x00"+kind]
}

// Close closes the file.
func (d *DiagnosticsLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}

func (d *DiagnosticsLog) write(entry Diagnostic) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counts[entry.Repo+"\x00"+entry.Kind]++
	if err := d.enc.Encode(entry); err != nil {
		d.logger.WithError(err).Warn("Failed to append diagnostic")
	}
}

// RepoDiagnostics is the per-repository view of a DiagnosticsLog. It
// implements temporal.Diagnostics.
type RepoDiagnostics struct {
	log  *DiagnosticsLog
	repo string
}

func (r *RepoDiagnostics) Ambiguous(commit diff.Commit, file diff.FileDiff, a *classify.Ambiguity) {
	entry := Diagnostic{
		Time:   time.Now().UTC(),
		Kind:   DiagnosticAmbiguous,
		Repo:   r.repo,
		Commit: commit.ID,
		Path:   file.Path(),
	}
	if a != nil {
		entry.Reason = a.Reason
		entry.Hunk = a.Hunk.Header
		entry.Removed = texts(a.Old)
		entry.Added = texts(a.New)
	}
	r.log.write(entry)
}

func (r *RepoDiagnostics) Orphan(commit string, s suppression.Suppression, reason string) {
	r.log.write(Diagnostic{
		Time:   time.Now().UTC(),
		Kind:   DiagnosticOrphan,
		Repo:   r.repo,
		Commit: commit,
		Path:   s.Path,
		Reason: reason,
		Line:   s.Line,
		Marker: s.Text,
	})
}

// AmbiguousCount returns how many ambiguous hunks were logged for the repository.
func (r *RepoDiagnostics) AmbiguousCount() int {
	return r.log.Count(r.repo, DiagnosticAmbiguous)
}

// OrphanCount returns how many orphans were logged for the repository.
func (r *RepoDiagnostics) OrphanCount() int {
	return r.log.Count(r.repo, DiagnosticOrphan)
}

func texts(lines []suppression.WarningTypeLine) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Text)
	}
	return out
}
