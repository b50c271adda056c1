package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

// RepoSummary is one repository's line of the run summary.
type RepoSummary struct {
	Repo       string        `json:"repo"`
	Commits    int           `json:"commits"`
	Histories  int           `json:"histories"`
	Deleted    int           `json:"deleted"`
	Alive      int           `json:"alive"`
	Ambiguous  int           `json:"tricky_hunks"`
	Orphans    int           `json:"orphans"`
	Conflicts  int           `json:"conflicts"`
	Accidental int           `json:"accidental,omitempty"`
	CacheHits  int64         `json:"cache_hits"`
	Duration   time.Duration `json:"duration_ns"`
	Stage      string        `json:"failed_stage,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Failed reports whether the repository's run failed.
func (r RepoSummary) Failed() bool {
	return r.Error != ""
}

// Summary is the outcome of a whole run.
type Summary struct {
	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Repos   []RepoSummary `json:"repositories"`
}

// Failures counts failed repositories.
func (s *Summary) Failures() int {
	n := 0
	for _, r := range s.Repos {
		if r.Failed() {
			n++
		}
	}
	return n
}

// Formatter defines output formatting interface
type Formatter interface {
	Format(s *Summary, w io.Writer) error
}

// NewFormatter returns the JSON formatter when asJSON is set, the table
// formatter otherwise.
func NewFormatter(asJSON bool) Formatter {
	if asJSON {
		return &JSONFormatter{}
	}
	return &TableFormatter{}
}

// TableFormatter renders the summary as an aligned table.
type TableFormatter struct{}

func (f *TableFormatter) Format(s *Summary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REPO\tCOMMITS\tHISTORIES\tDELETED\tALIVE\tTRICKY\tORPHANS\tCONFLICTS\tACCIDENTAL\tTIME\tSTATUS")

	var commits, histories int
	for _, r := range s.Repos {
		status := "ok"
		if r.Failed() {
			status = "failed: " + r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.Repo,
			humanize.Comma(int64(r.Commits)),
			humanize.Comma(int64(r.Histories)),
			humanize.Comma(int64(r.Deleted)),
			humanize.Comma(int64(r.Alive)),
			r.Ambiguous, r.Orphans, r.Conflicts, r.Accidental,
			r.Duration.Round(time.Millisecond), status)
		commits += r.Commits
		histories += r.Histories
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%d repositories (%d failed), %s commits, %s histories, started %s, took %s\n",
		len(s.Repos), s.Failures(),
		humanize.Comma(int64(commits)), humanize.Comma(int64(histories)),
		humanize.Time(s.Started), s.Elapsed.Round(time.Millisecond))
	return err
}

// JSONFormatter renders the summary as indented JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(s *Summary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
