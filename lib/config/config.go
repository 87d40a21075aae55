// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultGracePeriod is how long the runner waits between SIGTERM
// and SIGKILL when aborting a step's process group.
const DefaultGracePeriod = 10 * time.Second

// Config is the master configuration for masa. Every field is
// optional; the zero config with defaults applied is fully usable.
type Config struct {
	// StateDir is the base directory for masa data: run state,
	// the artifact store, and the history database.
	// Default: <user cache dir>/masa.
	StateDir string `yaml:"state_dir"`

	// Store configures the artifact store.
	Store StoreConfig `yaml:"store"`

	// Runner configures workflow execution.
	Runner RunnerConfig `yaml:"runner"`

	// Secrets configures the sealed secret bundle.
	Secrets SecretsConfig `yaml:"secrets"`

	// Service configures the artifact service connection.
	Service ServiceConfig `yaml:"service"`
}

// StoreConfig configures the artifact store.
type StoreConfig struct {
	// Dir is the artifact store root. Default: <state_dir>/store.
	Dir string `yaml:"dir"`

	// EncryptionKeyFile is the path to a hex-encoded 32-byte master
	// key. When set, the store encrypts blobs at rest and obscures
	// on-disk names. Empty disables encryption.
	EncryptionKeyFile string `yaml:"encryption_key_file"`
}

// RunnerConfig configures workflow execution.
type RunnerConfig struct {
	// Parallelism is the maximum number of jobs executing at once.
	// Zero means one job per CPU.
	Parallelism int `yaml:"parallelism"`

	// GracePeriod is how long an aborted step's process group gets
	// between SIGTERM and SIGKILL, as a Go duration string.
	// Default: "10s".
	GracePeriod string `yaml:"grace_period"`
}

// SecretsConfig configures the sealed secret bundle.
type SecretsConfig struct {
	// Bundle is the path to the age-sealed secret bundle file.
	Bundle string `yaml:"bundle"`

	// IdentityFile is the path to the age identity that decrypts
	// the bundle.
	IdentityFile string `yaml:"identity_file"`
}

// ServiceConfig configures the artifact service connection.
type ServiceConfig struct {
	// Socket is the Unix socket path of the artifact service. When
	// set, runners and the artifact CLI talk to the service instead
	// of opening the store directory directly.
	Socket string `yaml:"socket"`
}

// Default returns the default configuration. These defaults are the
// base before loading the config file; with no file at all they are
// the effective configuration.
func Default() *Config {
	stateDir := defaultStateDir()
	return &Config{
		StateDir: stateDir,
		Store: StoreConfig{
			Dir: filepath.Join(stateDir, "store"),
		},
		Runner: RunnerConfig{
			Parallelism: 0,
			GracePeriod: "10s",
		},
	}
}

// defaultStateDir returns <user cache dir>/masa, falling back to
// .masa in the working directory when no cache dir is resolvable
// (e.g. HOME unset in a stripped-down CI container).
func defaultStateDir() string {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return ".masa"
	}
	return filepath.Join(cacheDir, "masa")
}

// Load loads configuration from the path in the MASA_CONFIG
// environment variable. When MASA_CONFIG is unset, returns the
// defaults — masa does not require a config file.
func Load() (*Config, error) {
	configPath := os.Getenv("MASA_CONFIG")
	if configPath == "" {
		cfg := Default()
		cfg.finalize()
		return cfg, nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment
// variables do not override config values; the only expansion
// performed is ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.finalize()
	return cfg, nil
}

// finalize expands path variables and fills derived defaults. Called
// after loading, and on the default config when no file is used.
func (c *Config) finalize() {
	c.expandVariables()

	if c.Store.Dir == "" {
		c.Store.Dir = filepath.Join(c.StateDir, "store")
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"MASA_STATE": c.StateDir,
		"HOME":       os.Getenv("HOME"),
	}

	c.StateDir = expandVars(c.StateDir, vars)
	vars["MASA_STATE"] = c.StateDir // Update for dependent paths.

	c.Store.Dir = expandVars(c.Store.Dir, vars)
	c.Store.EncryptionKeyFile = expandVars(c.Store.EncryptionKeyFile, vars)
	c.Secrets.Bundle = expandVars(c.Secrets.Bundle, vars)
	c.Secrets.IdentityFile = expandVars(c.Secrets.IdentityFile, vars)
	c.Service.Socket = expandVars(c.Service.Socket, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors, collecting every
// problem rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []error

	if c.StateDir == "" {
		errs = append(errs, fmt.Errorf("state_dir is required"))
	}
	if c.Runner.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("runner.parallelism must be >= 0, got %d", c.Runner.Parallelism))
	}
	if c.Runner.GracePeriod != "" {
		if _, err := time.ParseDuration(c.Runner.GracePeriod); err != nil {
			errs = append(errs, fmt.Errorf("runner.grace_period: %w", err))
		}
	}
	if c.Secrets.Bundle != "" && c.Secrets.IdentityFile == "" {
		errs = append(errs, fmt.Errorf("secrets.bundle is set but secrets.identity_file is not"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// GracePeriod returns the parsed runner grace period, or the default
// when unset or unparseable (Validate reports the parse error).
func (c *Config) GracePeriod() time.Duration {
	if c.Runner.GracePeriod == "" {
		return DefaultGracePeriod
	}
	duration, err := time.ParseDuration(c.Runner.GracePeriod)
	if err != nil {
		return DefaultGracePeriod
	}
	return duration
}

// Parallelism returns the effective job parallelism: the configured
// value, or one per CPU when zero.
func (c *Config) Parallelism() int {
	if c.Runner.Parallelism > 0 {
		return c.Runner.Parallelism
	}
	return runtime.NumCPU()
}

// RunsDir returns the directory holding per-run state
// (<state_dir>/runs).
func (c *Config) RunsDir() string {
	return filepath.Join(c.StateDir, "runs")
}

// HistoryPath returns the run history database path
// (<state_dir>/history.db).
func (c *Config) HistoryPath() string {
	return filepath.Join(c.StateDir, "history.db")
}

// EnsurePaths creates the state, store, and runs directories if they
// don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.StateDir,
		c.Store.Dir,
		c.RunsDir(),
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
