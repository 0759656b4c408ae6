// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable Load reads the config path from.
const EnvVar = "DATAVIEW_CONFIG"

// Environment selects which override section of the file applies.
type Environment string

const (
	// Development is for local use: generous limits, verbose logging.
	Development Environment = "development"
	// Production is for shared deployments: tighter remote limits.
	Production Environment = "production"
)

// Config is the engine configuration.
type Config struct {
	Environment Environment `yaml:"environment" json:"environment"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Paths  PathsConfig  `yaml:"paths" json:"paths"`
	Remote RemoteConfig `yaml:"remote" json:"remote"`
	Limits LimitsConfig `yaml:"limits" json:"limits"`
	Cache  CacheConfig  `yaml:"cache" json:"cache"`

	// Per-environment overrides, applied after the base is loaded.
	Development *Overrides `yaml:"development,omitempty" json:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty" json:"production,omitempty"`
}

// Overrides holds the sections an environment block may replace.
// Zero-valued fields leave the base value in place.
type Overrides struct {
	LogLevel string        `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	Paths    *PathsConfig  `yaml:"paths,omitempty" json:"paths,omitempty"`
	Remote   *RemoteConfig `yaml:"remote,omitempty" json:"remote,omitempty"`
	Limits   *LimitsConfig `yaml:"limits,omitempty" json:"limits,omitempty"`
	Cache    *CacheConfig  `yaml:"cache,omitempty" json:"cache,omitempty"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// Temp is where materialized fields and decoded audio are
	// written. Files here are removed when their source is replaced.
	Temp string `yaml:"temp" json:"temp"`

	// Cache is where decompressed shards are kept, keyed by shard
	// identity so repeated loads reuse them.
	Cache string `yaml:"cache" json:"cache"`
}

// RemoteConfig configures HTTP access for remote sources.
type RemoteConfig struct {
	// Timeout bounds every remote request. Timeouts surface as
	// errors; nothing is retried.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	UserAgent string `yaml:"user_agent" json:"user_agent"`

	// RequestsPerSecond caps remote requests per host. Zero disables
	// the limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`

	// CatalogEndpoint is the base URL of the datasets-server API.
	CatalogEndpoint string `yaml:"catalog_endpoint" json:"catalog_endpoint"`

	// RecordEndpoint is the base URL of the record API.
	RecordEndpoint string `yaml:"record_endpoint" json:"record_endpoint"`
}

// LimitsConfig bounds page sizes and byte counts.
type LimitsConfig struct {
	PageDefault       int   `yaml:"page_default" json:"page_default"`
	PageMax           int   `yaml:"page_max" json:"page_max"`
	RemotePageDefault int   `yaml:"remote_page_default" json:"remote_page_default"`
	RemotePageMax     int   `yaml:"remote_page_max" json:"remote_page_max"`
	CatalogPageMax    int   `yaml:"catalog_page_max" json:"catalog_page_max"`
	OpenMaxBytes      int64 `yaml:"open_max_bytes" json:"open_max_bytes"`
	InlineMaxBytes    int64 `yaml:"inline_max_bytes" json:"inline_max_bytes"`
	PeekBytes         int64 `yaml:"peek_bytes" json:"peek_bytes"`
	PreviewTextChars  int   `yaml:"preview_text_chars" json:"preview_text_chars"`
	TarMaxEntries     int   `yaml:"tar_max_entries" json:"tar_max_entries"`
}

// CacheConfig bounds the in-memory caches.
type CacheConfig struct {
	CursorEntries int           `yaml:"cursor_entries" json:"cursor_entries"`
	IndexEntries  int           `yaml:"index_entries" json:"index_entries"`
	MaxAge        time.Duration `yaml:"max_age" json:"max_age"`
}

// Default returns the base configuration that a file is merged into.
func Default() *Config {
	root := filepath.Join(os.TempDir(), "dataview")
	return &Config{
		Environment: Development,
		LogLevel:    "info",
		Paths: PathsConfig{
			Temp:  filepath.Join(root, "open"),
			Cache: filepath.Join(root, "cache"),
		},
		Remote: RemoteConfig{
			Timeout:           30 * time.Second,
			UserAgent:         "dataview/1.0",
			RequestsPerSecond: 10,
			Burst:             4,
			CatalogEndpoint:   "https://datasets-server.huggingface.co/",
			RecordEndpoint:    "https://zenodo.org/",
		},
		Limits: LimitsConfig{
			PageDefault:       200,
			PageMax:           5000,
			RemotePageDefault: 25,
			RemotePageMax:     200,
			CatalogPageMax:    100,
			OpenMaxBytes:      256 << 20,
			InlineMaxBytes:    50 << 20,
			PeekBytes:         64 << 10,
			PreviewTextChars:  400,
			TarMaxEntries:     250_000,
		},
		Cache: CacheConfig{
			CursorEntries: 4096,
			IndexEntries:  64,
			MaxAge:        30 * time.Minute,
		},
	}
}

// Load reads the file named by DATAVIEW_CONFIG. There is no search
// path: an unset variable is an error.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of a dataview.yaml file, or use --config", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile reads path over Default(), applies the matching environment
// block, and expands ${VAR} references in paths.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		if overrides == nil {
			// Shared deployments default to a stricter remote budget.
			overrides = &Overrides{Remote: &RemoteConfig{RequestsPerSecond: 2, Burst: 1}}
		}
	}
	if overrides == nil {
		return
	}

	if overrides.LogLevel != "" {
		c.LogLevel = overrides.LogLevel
	}
	if paths := overrides.Paths; paths != nil {
		setString(&c.Paths.Temp, paths.Temp)
		setString(&c.Paths.Cache, paths.Cache)
	}
	if remote := overrides.Remote; remote != nil {
		if remote.Timeout > 0 {
			c.Remote.Timeout = remote.Timeout
		}
		setString(&c.Remote.UserAgent, remote.UserAgent)
		if remote.RequestsPerSecond > 0 {
			c.Remote.RequestsPerSecond = remote.RequestsPerSecond
		}
		setInt(&c.Remote.Burst, remote.Burst)
		setString(&c.Remote.CatalogEndpoint, remote.CatalogEndpoint)
		setString(&c.Remote.RecordEndpoint, remote.RecordEndpoint)
	}
	if limits := overrides.Limits; limits != nil {
		setInt(&c.Limits.PageDefault, limits.PageDefault)
		setInt(&c.Limits.PageMax, limits.PageMax)
		setInt(&c.Limits.RemotePageDefault, limits.RemotePageDefault)
		setInt(&c.Limits.RemotePageMax, limits.RemotePageMax)
		setInt(&c.Limits.CatalogPageMax, limits.CatalogPageMax)
		setInt64(&c.Limits.OpenMaxBytes, limits.OpenMaxBytes)
		setInt64(&c.Limits.InlineMaxBytes, limits.InlineMaxBytes)
		setInt64(&c.Limits.PeekBytes, limits.PeekBytes)
		setInt(&c.Limits.PreviewTextChars, limits.PreviewTextChars)
		setInt(&c.Limits.TarMaxEntries, limits.TarMaxEntries)
	}
	if cache := overrides.Cache; cache != nil {
		setInt(&c.Cache.CursorEntries, cache.CursorEntries)
		setInt(&c.Cache.IndexEntries, cache.IndexEntries)
		if cache.MaxAge > 0 {
			c.Cache.MaxAge = cache.MaxAge
		}
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setInt(target *int, value int) {
	if value != 0 {
		*target = value
	}
}

func setInt64(target *int64, value int64) {
	if value != 0 {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":   os.Getenv("HOME"),
		"TMPDIR": os.TempDir(),
	}
	c.Paths.Temp = expandVars(c.Paths.Temp, vars)
	c.Paths.Cache = expandVars(c.Paths.Cache, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error (got %q)", c.LogLevel))
	}
	if c.Paths.Temp == "" {
		errs = append(errs, errors.New("paths.temp is required"))
	}
	if c.Paths.Cache == "" {
		errs = append(errs, errors.New("paths.cache is required"))
	}
	if c.Remote.Timeout <= 0 {
		errs = append(errs, errors.New("remote.timeout must be positive"))
	}
	if c.Remote.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("remote.requests_per_second must not be negative"))
	}
	if c.Remote.RequestsPerSecond > 0 && c.Remote.Burst < 1 {
		errs = append(errs, errors.New("remote.burst must be at least 1 when rate limiting"))
	}
	if c.Limits.PageDefault < 1 || c.Limits.PageDefault > c.Limits.PageMax {
		errs = append(errs, fmt.Errorf("limits.page_default must be in 1..page_max (%d)", c.Limits.PageMax))
	}
	if c.Limits.RemotePageDefault < 1 || c.Limits.RemotePageDefault > c.Limits.RemotePageMax {
		errs = append(errs, fmt.Errorf("limits.remote_page_default must be in 1..remote_page_max (%d)", c.Limits.RemotePageMax))
	}
	if c.Limits.CatalogPageMax < 1 {
		errs = append(errs, errors.New("limits.catalog_page_max must be positive"))
	}
	if c.Limits.OpenMaxBytes <= 0 || c.Limits.InlineMaxBytes <= 0 || c.Limits.PeekBytes <= 0 {
		errs = append(errs, errors.New("limits byte bounds must be positive"))
	}
	if c.Limits.PreviewTextChars < 1 {
		errs = append(errs, errors.New("limits.preview_text_chars must be positive"))
	}
	if c.Limits.TarMaxEntries < 1 {
		errs = append(errs, errors.New("limits.tar_max_entries must be positive"))
	}
	if c.Cache.CursorEntries < 1 || c.Cache.IndexEntries < 1 {
		errs = append(errs, errors.New("cache entry bounds must be positive"))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the temp and cache directories.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Temp, c.Paths.Cache} {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
