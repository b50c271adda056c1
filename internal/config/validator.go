package config

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/suppression"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err))
	}

	if len(vr.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, warn := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  - %s\n", warn))
		}
	}

	return sb.String()
}

// Err returns the result as a config error, or nil when valid.
func (vr *ValidationResult) Err() error {
	if !vr.HasErrors() {
		return nil
	}
	return errors.ConfigErrorf("%s", strings.TrimSpace(vr.Error())).AtStage(errors.StageConfig)
}

// Validate checks the whole configuration.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{Valid: true}

	c.validateSuppressors(result)
	c.validateInclude(result)
	c.validateStorage(result)
	c.validateCache(result)
	c.validateChecker(result)
	c.validateLog(result)

	if c.Workers < 0 {
		result.AddError("workers must be >= 0, got %d", c.Workers)
	}
	if c.History.Sample < 0 {
		result.AddError("history.sample must be >= 0, got %d", c.History.Sample)
	}
	if c.Output.Directory == "" {
		result.AddError("output.directory is required")
	}

	return result
}

func (c *Config) validateSuppressors(result *ValidationResult) {
	if c.CommentSymbol == "" {
		result.AddError("comment_symbol is required")
	}
	if len(c.Suppressors) == 0 {
		result.AddError("at least one suppressor is required")
	}

	names := make(map[string]bool)
	for i, s := range c.Suppressors {
		if s.Name == "" {
			result.AddError("suppressors[%d]: name is required", i)
		} else if names[s.Name] {
			result.AddError("suppressors[%d]: duplicate name %q", i, s.Name)
		}
		names[s.Name] = true

		if _, err := suppression.NewSuppressor(s.Name, s.Pattern, s.Hint, s.ListKinds); err != nil {
			result.AddError("suppressors[%d]: %v", i, err)
		}
		if s.Hint == "" {
			result.AddWarning("suppressors[%d] (%s): no hint, snapshots will grep every commented line", i, s.Name)
		}
	}
}

func (c *Config) validateInclude(result *ValidationResult) {
	if len(c.Include) == 0 {
		result.AddWarning("include is empty: every file is studied")
	}
	for _, p := range c.Include {
		if _, err := doublestar.Match(p, ""); err != nil {
			result.AddError("include pattern %q is invalid: %v", p, err)
		}
	}
}

func (c *Config) validateStorage(result *ValidationResult) {
	switch c.Storage.Type {
	case "", "none":
	case "sqlite":
		if c.Storage.LocalPath == "" {
			result.AddError("storage.local_path is required for sqlite storage")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			result.AddError("storage.postgres_dsn (or POSTGRES_DSN) is required for postgres storage")
		}
	default:
		result.AddError("storage.type %q is invalid (want none, sqlite or postgres)", c.Storage.Type)
	}
}

func (c *Config) validateCache(result *ValidationResult) {
	switch c.Cache.Type {
	case "", "none":
	case "bolt":
		if c.Cache.Directory == "" {
			result.AddError("cache.directory is required for the bolt cache")
		}
	case "redis":
		if c.Cache.RedisAddr == "" {
			result.AddError("cache.redis_addr (or REDIS_ADDR) is required for the redis cache")
		}
		if c.Cache.TTL < 0 {
			result.AddError("cache.ttl must not be negative")
		}
	default:
		result.AddError("cache.type %q is invalid (want none, bolt or redis)", c.Cache.Type)
	}
}

func (c *Config) validateChecker(result *ValidationResult) {
	switch c.Checker.Name {
	case "pylint", "mypy":
	case "":
		if c.Checker.Command == "" {
			result.AddWarning("no checker configured: accidental suppression detection is unavailable")
		}
	default:
		if c.Checker.Command == "" {
			result.AddError("checker.name %q is not built in; set checker.command", c.Checker.Name)
		}
	}
}

func (c *Config) validateLog(result *ValidationResult) {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		result.AddError("log.level: %v", err)
	}
	if c.Log.MaxSizeMB < 0 {
		result.AddError("log.max_size_mb must not be negative")
	}
}
