// Package config loads the downloader configuration from a TOML file,
// falling back to defaults when the file is absent. Durations are
// plain numbers with the unit in the key name so the file stays
// readable without custom TOML types.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/fcat-validator/econfetch/pkg/cache"
	"github.com/fcat-validator/econfetch/pkg/catalog"
	"github.com/fcat-validator/econfetch/pkg/fetch"
	"github.com/fcat-validator/econfetch/pkg/logging"
	"github.com/fcat-validator/econfetch/pkg/storage"
)

// DefaultFileName is the config file looked up in the working
// directory when no --config flag is given.
const DefaultFileName = "econfetch.toml"

// Config holds all downloader configuration.
type Config struct {
	Output      OutputConfig      `toml:"output"`
	Credentials CredentialsConfig `toml:"credentials"`
	Retry       RetryConfig       `toml:"retry"`
	Pacing      PacingConfig      `toml:"pacing"`
	Cache       CacheConfig       `toml:"cache"`
	Logging     LoggingConfig     `toml:"logging"`
	Run         RunConfig         `toml:"run"`
}

// OutputConfig holds filesystem layout settings.
type OutputConfig struct {
	// BaseDir is the artifact root; payloads, summaries and run
	// reports all live beneath it.
	BaseDir string `toml:"base_dir"`
}

// CredentialsConfig holds API key lookup settings.
type CredentialsConfig struct {
	// SecretsFile is consulted for <SOURCE>_API_KEY entries when the
	// environment variable is unset.
	SecretsFile string `toml:"secrets_file"`
}

// RetryConfig bounds the per-year retry loop.
type RetryConfig struct {
	MaxAttempts       int     `toml:"max_attempts"`
	InitialBackoffMS  int     `toml:"initial_backoff_ms"`
	MaxBackoffMS      int     `toml:"max_backoff_ms"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
}

// PacingConfig overrides the per-source minimum request spacing.
type PacingConfig struct {
	// IntervalMS maps a source name (fred, bls, ...) to its minimum
	// spacing in milliseconds. Zero disables pacing for that source;
	// sources not listed keep their built-in interval.
	IntervalMS map[string]int `toml:"interval_ms"`
}

// CacheConfig enables the optional Redis payload cache.
type CacheConfig struct {
	// RedisAddr enables the cache when non-empty, e.g. localhost:6379.
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	TTLHours      int    `toml:"ttl_hours"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// RunConfig holds orchestrator-level settings.
type RunConfig struct {
	// Concurrency is the number of datasets processed in parallel.
	Concurrency int `toml:"concurrency"`

	// FailOnError makes the process exit nonzero when any dataset or
	// year errored. Off by default: artifacts are the failure channel.
	FailOnError bool `toml:"fail_on_error"`

	// MetricsAddr serves Prometheus metrics during run-all/schedule
	// when non-empty, e.g. :9104.
	MetricsAddr string `toml:"metrics_addr"`

	// CatalogFile replaces the built-in dataset catalog when set.
	CatalogFile string `toml:"catalog_file"`
}

// Default returns a Config with the built-in settings.
func Default() *Config {
	return &Config{
		Output: OutputConfig{
			BaseDir: storage.DefaultBaseDir,
		},
		Credentials: CredentialsConfig{
			SecretsFile: "secrets.toml",
		},
		Retry: RetryConfig{
			MaxAttempts:       6,
			InitialBackoffMS:  1000,
			MaxBackoffMS:      30000,
			BackoffMultiplier: 2.0,
		},
		Cache: CacheConfig{
			TTLHours: 24,
		},
		Logging: LoggingConfig{
			Level: string(logging.LevelInfo),
		},
		Run: RunConfig{
			Concurrency: 1,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
// when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	cfg.Output.BaseDir = ExpandPath(cfg.Output.BaseDir)
	cfg.Credentials.SecretsFile = ExpandPath(cfg.Credentials.SecretsFile)
	cfg.Run.CatalogFile = ExpandPath(cfg.Run.CatalogFile)

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1 (got %d)", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be >= 1 (got %g)", c.Retry.BackoffMultiplier)
	}
	if c.Run.Concurrency < 1 {
		return fmt.Errorf("run.concurrency must be >= 1 (got %d)", c.Run.Concurrency)
	}
	for name, ms := range c.Pacing.IntervalMS {
		if !catalog.Source(name).Valid() {
			return fmt.Errorf("pacing.interval_ms: unknown source %q", name)
		}
		if ms < 0 {
			return fmt.Errorf("pacing.interval_ms.%s must be >= 0 (got %d)", name, ms)
		}
	}
	return nil
}

// RetryPolicy converts the retry section into the fetcher's policy.
func (c *Config) RetryPolicy() fetch.RetryPolicy {
	return fetch.RetryPolicy{
		MaxAttempts:       c.Retry.MaxAttempts,
		InitialBackoff:    time.Duration(c.Retry.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:        time.Duration(c.Retry.MaxBackoffMS) * time.Millisecond,
		BackoffMultiplier: c.Retry.BackoffMultiplier,
	}
}

// PacingOverrides converts the pacing section into per-source
// intervals for the pacer.
func (c *Config) PacingOverrides() map[catalog.Source]time.Duration {
	if len(c.Pacing.IntervalMS) == 0 {
		return nil
	}
	overrides := make(map[catalog.Source]time.Duration, len(c.Pacing.IntervalMS))
	for name, ms := range c.Pacing.IntervalMS {
		overrides[catalog.Source(name)] = time.Duration(ms) * time.Millisecond
	}
	return overrides
}

// CacheTTL returns the payload cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	if c.Cache.TTLHours <= 0 {
		return cache.DefaultTTL
	}
	return time.Duration(c.Cache.TTLHours) * time.Hour
}

// CacheEnabled reports whether a Redis payload cache is configured.
func (c *Config) CacheEnabled() bool {
	return c.Cache.RedisAddr != ""
}

// LoggingConfig converts the logging section for pkg/logging.Setup.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if c.Logging.Level != "" {
		cfg.Level = logging.LogLevel(c.Logging.Level)
	}
	cfg.Pretty = c.Logging.Pretty
	return cfg
}

// Datasets returns the catalog: the override file when configured,
// the built-in catalog otherwise.
func (c *Config) Datasets() ([]catalog.Descriptor, error) {
	if c.Run.CatalogFile == "" {
		return catalog.Builtin(), nil
	}
	return catalog.Load(c.Run.CatalogFile)
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
