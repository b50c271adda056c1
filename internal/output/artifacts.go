// Package output writes the artifacts of a run: history and accidental
// suppression JSON files, the diagnostics log and the run summary.
package output

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rohankatakam/suphist/internal/accidental"
	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/history"
)

// Artifact file names inside a repository's output directory.
const (
	HistoriesFile   = "histories.json"
	AccidentalFile  = "accidental.json"
	DiagnosticsFile = "diagnostics.jsonl"
)

// RepoDir returns the directory holding repo's artifacts.
func RepoDir(root, repo string) string {
	return filepath.Join(root, repo)
}

// WriteHistories writes histories to <root>/<repo>/histories.json and returns
// the path.
func WriteHistories(root, repo string, histories []history.History) (string, error) {
	path := filepath.Join(RepoDir(root, repo), HistoriesFile)
	err := writeFile(path, func(f *os.File) error {
		return history.WriteJSON(f, histories)
	})
	return path, err
}

// ReadHistories reads a file written by WriteHistories.
func ReadHistories(path string) ([]history.History, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "opening %s", path)
	}
	defer f.Close()

	hs, err := history.ReadJSON(f)
	if err != nil {
		return nil, errors.ParseErrorf("%s: %v", path, err)
	}
	return hs, nil
}

// WriteAccidental writes records to <root>/<repo>/accidental.json and returns
// the path.
func WriteAccidental(root, repo string, records []accidental.Record) (string, error) {
	if records == nil {
		records = []accidental.Record{}
	}
	path := filepath.Join(RepoDir(root, repo), AccidentalFile)
	err := writeFile(path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	})
	return path, err
}

// ReadAccidental reads a file written by WriteAccidental.
func ReadAccidental(path string) ([]accidental.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "reading %s", path)
	}
	var records []accidental.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.ParseErrorf("%s: %v", path, err)
	}
	return records, nil
}

// writeFile writes through a temporary file renamed into place, so a failed
// run never leaves a truncated artifact.
func writeFile(path string, write func(*os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.FileSystemErrorf(err, "creating %s", dir).AtStage(errors.StagePersist)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return errors.FileSystemErrorf(err, "creating %s", path).AtStage(errors.StagePersist)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return errors.FileSystemErrorf(err, "writing %s", path).AtStage(errors.StagePersist)
	}
	if err := tmp.Close(); err != nil {
		return errors.FileSystemErrorf(err, "writing %s", path).AtStage(errors.StagePersist)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.FileSystemErrorf(err, "renaming into %s", path).AtStage(errors.StagePersist)
	}
	return nil
}
