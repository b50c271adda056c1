package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/suphist/internal/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	result := cfg.Validate()
	assert.False(t, result.HasErrors(), result.Error())
	assert.NoError(t, result.Err())

	ex, err := cfg.Extractor()
	require.NoError(t, err)
	assert.Len(t, ex.Suppressors(), 2)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "suphist.yaml", `
comment_symbol: "//"
suppressors:
  - name: eslint
    pattern: 'eslint-disable-line\s+'
    hint: eslint
    list_kinds: true
include:
  - "src/**/*.js"
workers: 3
history:
  line_history: false
  strict: true
  sample: 50
cache:
  type: none
  ttl: 24h
checker:
  name: pylint
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "//", cfg.CommentSymbol)
	require.Len(t, cfg.Suppressors, 1)
	assert.Equal(t, SuppressorConfig{Name: "eslint", Pattern: `eslint-disable-line\s+`, Hint: "eslint", ListKinds: true}, cfg.Suppressors[0])
	assert.Equal(t, []string{"src/**/*.js"}, cfg.Include)
	assert.Equal(t, 3, cfg.WorkerCount())
	assert.False(t, cfg.History.LineHistory)
	assert.True(t, cfg.History.Strict)
	assert.Equal(t, 50, cfg.History.Sample)
	assert.Equal(t, "none", cfg.Cache.Type)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "pylint", cfg.Checker.Name)
	assert.Equal(t, "debug", cfg.Log.Level)

	// untouched keys keep their defaults
	assert.Equal(t, "suphist-out", cfg.Output.Directory)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB)
}

func TestLoadKeepsDefaultSuppressors(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "suphist.yaml", "workers: 2\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Suppressors, cfg.Suppressors)
	assert.Equal(t, "#", cfg.CommentSymbol)
}

func TestLoadEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "suphist.yaml", "storage:\n  type: postgres\n")
	t.Setenv("SUPHIST_LOG_LEVEL", "warn")
	t.Setenv("SUPHIST_STORAGE_POSTGRES_DSN", "")
	t.Setenv("POSTGRES_DSN", "postgres://u:p@localhost/suphist")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "postgres://u:p@localhost/suphist", cfg.Storage.PostgresDSN)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.NoError(t, cfg.Validate().Err())
}

func TestLoadMalformed(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "suphist.yaml", "workers: [\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no comment symbol", func(c *Config) { c.CommentSymbol = "" }, "comment_symbol is required"},
		{"bad pattern", func(c *Config) { c.Suppressors[0].Pattern = "(" }, "suppressors[0]"},
		{"duplicate suppressor", func(c *Config) { c.Suppressors[1].Name = c.Suppressors[0].Name }, "duplicate name"},
		{"negative workers", func(c *Config) { c.Workers = -1 }, "workers must be >= 0"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "mongo" }, "storage.type"},
		{"postgres without dsn", func(c *Config) { c.Storage.Type = "postgres"; c.Storage.PostgresDSN = "" }, "postgres_dsn"},
		{"redis without addr", func(c *Config) { c.Cache.Type = "redis" }, "redis_addr"},
		{"unknown checker", func(c *Config) { c.Checker.Name = "flake8" }, "checker.name"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			result := cfg.Validate()
			require.True(t, result.HasErrors())
			assert.Contains(t, result.Error(), tt.want)

			err := result.Err()
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
			assert.Equal(t, errors.StageConfig, errors.GetStage(err))
		})
	}
}

func TestValidateCustomChecker(t *testing.T) {
	cfg := Default()
	cfg.Checker = CheckerConfig{Name: "flake8", Command: "flake8"}
	assert.False(t, cfg.Validate().HasErrors())

	cfg.Checker = CheckerConfig{}
	result := cfg.Validate()
	assert.False(t, result.HasErrors())
	assert.NotEmpty(t, result.Warnings)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "suphist.yaml")
	cfg := Default()
	cfg.Workers = 4
	cfg.History.Sample = 20
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Workers)
	assert.Equal(t, 20, loaded.History.Sample)
	assert.Equal(t, cfg.Suppressors, loaded.Suppressors)
}

func TestLoadRepos(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "elsewhere", "flask")
	path := writeFile(t, dir, "batch/repos.yaml", `
repositories:
  - name: django
    path: clones/django
    commits: lists/django.csv
  - path: `+abs+`
  - url: https://github.com/pallets/click.git
`)

	repos, err := LoadRepos(path)
	require.NoError(t, err)
	require.Len(t, repos, 3)

	batch := filepath.Join(dir, "batch")
	assert.Equal(t, RepoSpec{
		Name:    "django",
		Path:    filepath.Join(batch, "clones", "django"),
		Commits: filepath.Join(batch, "lists", "django.csv"),
	}, repos[0])
	assert.Equal(t, RepoSpec{Name: "flask", Path: abs}, repos[1])
	assert.Equal(t, RepoSpec{Name: "click", URL: "https://github.com/pallets/click.git"}, repos[2])
}

func TestRepoName(t *testing.T) {
	assert.Equal(t, "django", RepoName("/src/django/", ""))
	assert.Equal(t, "flask", RepoName("", "git@github.com:pallets/flask.git"))
	assert.Equal(t, "click", RepoName("", "https://github.com/pallets/click"))
}

func TestLoadReposErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadRepos(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeFileSystem))

	noPath := writeFile(t, dir, "nopath.yaml", "repositories:\n  - name: x\n")
	_, err = LoadRepos(noPath)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	dup := writeFile(t, dir, "dup.yaml", "repositories:\n  - {name: x, path: a}\n  - {name: x, path: b}\n")
	_, err = LoadRepos(dup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}
