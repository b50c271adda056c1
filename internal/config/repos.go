package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/suphist/internal/errors"
)

// RepoSpec is one repository of a batch run.
type RepoSpec struct {
	Name    string `yaml:"name"`
	Path    string `yaml:"path"`    // working tree, owned by one worker
	URL     string `yaml:"url"`     // cloned into Path (or the default clone directory) when Path is missing
	Commits string `yaml:"commits"` // two-column commit list file; empty uses the first-parent history
}

type repoFile struct {
	Repositories []RepoSpec `yaml:"repositories"`
}

// LoadRepos reads a YAML batch file:
//
//	repositories:
//	  - name: django
//	    path: ./clones/django
//	    commits: ./lists/django.csv
//	  - url: https://github.com/pallets/flask.git
//
// Relative paths are resolved against the batch file's directory, and a missing
// name defaults to the base name of the path or URL.
func LoadRepos(path string) ([]RepoSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "reading repository list %s", path).AtStage(errors.StageConfig)
	}

	var f repoFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.ConfigErrorf("parsing repository list %s: %v", path, err).AtStage(errors.StageConfig)
	}

	base := filepath.Dir(path)
	seen := make(map[string]bool)
	for i := range f.Repositories {
		r := &f.Repositories[i]
		if r.Path == "" && r.URL == "" {
			return nil, errors.ConfigErrorf("repository %d in %s has neither path nor url", i+1, path).AtStage(errors.StageConfig)
		}
		if r.Path != "" {
			r.Path = resolve(base, r.Path)
		}
		if r.Commits != "" {
			r.Commits = resolve(base, r.Commits)
		}
		if r.Name == "" {
			r.Name = RepoName(r.Path, r.URL)
		}
		if seen[r.Name] {
			return nil, errors.ConfigErrorf("duplicate repository name %q in %s", r.Name, path).AtStage(errors.StageConfig)
		}
		seen[r.Name] = true
	}
	return f.Repositories, nil
}

func resolve(base, p string) string {
	p = expandPath(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// RepoName derives a repository name from its working tree path or, failing
// that, its clone URL.
func RepoName(path, url string) string {
	if path != "" {
		return filepath.Base(filepath.Clean(path))
	}
	url = strings.TrimSuffix(strings.TrimSuffix(url, "/"), ".git")
	if i := strings.LastIndexAny(url, "/:"); i >= 0 {
		url = url[i+1:]
	}
	return url
}
