package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rohankatakam/suphist/internal/suppression"
)

// Config holds all configuration settings
type Config struct {
	// Comment introducer of the studied language
	CommentSymbol string `yaml:"comment_symbol" mapstructure:"comment_symbol"`

	// Suppression syntaxes to track
	Suppressors []SuppressorConfig `yaml:"suppressors" mapstructure:"suppressors"`

	// Doublestar globs of studied files
	Include []string `yaml:"include" mapstructure:"include"`

	// Repositories mined in parallel; 0 means NumCPU-1
	Workers int `yaml:"workers" mapstructure:"workers"`

	// History discovery settings
	History HistoryConfig `yaml:"history" mapstructure:"history"`

	// Output artifacts
	Output OutputConfig `yaml:"output" mapstructure:"output"`

	// Result store
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Git output cache
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// Static checker used by the accidental suppression replay
	Checker CheckerConfig `yaml:"checker" mapstructure:"checker"`

	// Logging
	Log LogConfig `yaml:"log" mapstructure:"log"`
}

type SuppressorConfig struct {
	Name      string `yaml:"name" mapstructure:"name"`
	Pattern   string `yaml:"pattern" mapstructure:"pattern"`
	Hint      string `yaml:"hint" mapstructure:"hint"`             // literal text git grep pre-filters on
	ListKinds bool   `yaml:"list_kinds" mapstructure:"list_kinds"` // kinds follow as a bare comma list
}

type HistoryConfig struct {
	LineHistory         bool `yaml:"line_history" mapstructure:"line_history"`
	BackfillWindowStart bool `yaml:"backfill_window_start" mapstructure:"backfill_window_start"`
	Strict              bool `yaml:"strict" mapstructure:"strict"`
	Sample              int  `yaml:"sample" mapstructure:"sample"` // 0 keeps the whole commit list
}

type OutputConfig struct {
	Directory string `yaml:"directory" mapstructure:"directory"`
}

type StorageConfig struct {
	Type        string `yaml:"type" mapstructure:"type"` // "none", "sqlite", "postgres"
	PostgresDSN string `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
	LocalPath   string `yaml:"local_path" mapstructure:"local_path"`
}

type CacheConfig struct {
	Type          string        `yaml:"type" mapstructure:"type"` // "none", "bolt", "redis"
	Directory     string        `yaml:"directory" mapstructure:"directory"`
	RedisAddr     string        `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" mapstructure:"redis_password"`
	TTL           time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

type CheckerConfig struct {
	Name    string   `yaml:"name" mapstructure:"name"` // "pylint", "mypy"
	Command string   `yaml:"command" mapstructure:"command"`
	Args    []string `yaml:"args" mapstructure:"args"`
}

type LogConfig struct {
	Level     string `yaml:"level" mapstructure:"level"`
	File      string `yaml:"file" mapstructure:"file"`
	JSON      bool   `yaml:"json" mapstructure:"json"`
	MaxSizeMB int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		CommentSymbol: "#",
		Suppressors: []SuppressorConfig{
			{Name: "pylint", Pattern: `pylint:\s*disable\s*=\s*`, Hint: "pylint", ListKinds: true},
			{Name: "mypy", Pattern: `type:\s*ignore\b`, Hint: "ignore"},
		},
		Include: []string{"**/*.py"},
		History: HistoryConfig{
			LineHistory: true,
		},
		Output: OutputConfig{
			Directory: "suphist-out",
		},
		Storage: StorageConfig{
			Type:      "none",
			LocalPath: filepath.Join(homeDir, ".suphist", "results.db"),
		},
		Cache: CacheConfig{
			Type:      "bolt",
			Directory: filepath.Join(homeDir, ".suphist", "cache"),
			TTL:       7 * 24 * time.Hour,
		},
		Checker: CheckerConfig{
			Name: "mypy",
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	// Load .env files first (in order of precedence)
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults
	cfg := Default()
	v.SetDefault("comment_symbol", cfg.CommentSymbol)
	v.SetDefault("include", cfg.Include)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("history.line_history", cfg.History.LineHistory)
	v.SetDefault("history.backfill_window_start", cfg.History.BackfillWindowStart)
	v.SetDefault("history.strict", cfg.History.Strict)
	v.SetDefault("history.sample", cfg.History.Sample)
	v.SetDefault("output.directory", cfg.Output.Directory)
	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.local_path", cfg.Storage.LocalPath)
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("cache.type", cfg.Cache.Type)
	v.SetDefault("cache.directory", cfg.Cache.Directory)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("checker.name", cfg.Checker.Name)
	v.SetDefault("checker.command", "")
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", "")
	v.SetDefault("log.json", false)
	v.SetDefault("log.max_size_mb", cfg.Log.MaxSizeMB)

	// Load from environment variables: SUPHIST_CACHE_TYPE sets cache.type
	v.SetEnvPrefix("SUPHIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Try to find config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search for config in standard locations
		v.SetConfigName("config")
		v.AddConfigPath(".suphist")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".suphist"))
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	// Unmarshal into a fresh struct so configured lists replace the defaults
	loaded := &Config{}
	if err := v.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(loaded.Suppressors) == 0 {
		loaded.Suppressors = cfg.Suppressors
	}
	cfg = loaded

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	cfg.Storage.LocalPath = expandPath(cfg.Storage.LocalPath)
	cfg.Cache.Directory = expandPath(cfg.Cache.Directory)
	cfg.Log.File = expandPath(cfg.Log.File)

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence. godotenv never
// overrides a variable that is already set, so earlier files win.
func loadEnvFiles() {
	envFiles := []string{
		".env.local", // Local overrides (highest precedence)
		".env",       // Main environment file
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}

	// Also try loading from home directory
	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".suphist", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		_ = godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies the conventional unprefixed variables
func applyEnvOverrides(cfg *Config) {
	// Storage configuration
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" && cfg.Storage.PostgresDSN == "" {
		cfg.Storage.PostgresDSN = dsn
	}
	if path := os.Getenv("LOCAL_DB_PATH"); path != "" {
		cfg.Storage.LocalPath = expandPath(path)
	}

	// Cache configuration
	if addr := os.Getenv("REDIS_ADDR"); addr != "" && cfg.Cache.RedisAddr == "" {
		cfg.Cache.RedisAddr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" && cfg.Cache.RedisPassword == "" {
		cfg.Cache.RedisPassword = password
	}
	if dir := os.Getenv("CACHE_DIRECTORY"); dir != "" {
		cfg.Cache.Directory = expandPath(dir)
	}
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// WorkerCount resolves Workers: 0 means one less than the CPU count, never
// below one.
func (c *Config) WorkerCount() int {
	n := c.Workers
	if n <= 0 {
		n = runtime.NumCPU() - 1
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Extractor builds the suppression extractor for the configured syntaxes.
func (c *Config) Extractor() (*suppression.Extractor, error) {
	var sups []suppression.Suppressor
	for _, s := range c.Suppressors {
		sup, err := suppression.NewSuppressor(s.Name, s.Pattern, s.Hint, s.ListKinds)
		if err != nil {
			return nil, err
		}
		sups = append(sups, sup)
	}
	return suppression.NewExtractor(c.CommentSymbol, sups), nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	// Convert struct to map for Viper
	v.Set("comment_symbol", c.CommentSymbol)
	v.Set("suppressors", c.Suppressors)
	v.Set("include", c.Include)
	v.Set("workers", c.Workers)
	v.Set("history", c.History)
	v.Set("output", c.Output)
	v.Set("storage", c.Storage)
	v.Set("cache", c.Cache)
	v.Set("checker", c.Checker)
	v.Set("log", c.Log)

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write config file
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
