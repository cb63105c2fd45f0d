// Copyright 2026 The Gantry Authors
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

// Config is the master configuration for Gantry.
type Config struct {
	// Store configures the content-addressed store.
	Store StoreConfig `yaml:"store"`

	// Execution configures sandbox execution.
	Execution ExecutionConfig `yaml:"execution"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`
}

// StoreConfig configures the content-addressed store.
type StoreConfig struct {
	// Path is the store's on-disk root.
	Path string `yaml:"path"`

	// Compression selects the blob compression: auto, none, lz4, or
	// zstd. Default: auto.
	Compression string `yaml:"compression"`

	// EncryptionKeyFile points at a 32-byte key; when set, blobs are
	// encrypted at rest.
	EncryptionKeyFile string `yaml:"encryption_key_file"`
}

// ExecutionConfig configures sandbox execution.
type ExecutionConfig struct {
	// Parallelism bounds concurrent sub-resolutions and builds.
	// Default: 8.
	Parallelism int `yaml:"parallelism"`

	// Shell wraps argvs and interprets shim scripts.
	// Default: /bin/bash.
	Shell string `yaml:"shell"`

	// ScratchRoot is where per-invocation sandboxes are created.
	ScratchRoot string `yaml:"scratch_root"`

	// CacheRoot holds shared append-only cache directories.
	CacheRoot string `yaml:"cache_root"`

	// Isolation selects the sandbox isolation level: none or bwrap.
	// Default: none.
	Isolation string `yaml:"isolation"`

	// KeepSandboxes retains scratch directories for debugging.
	KeepSandboxes bool `yaml:"keep_sandboxes"`

	// DefaultTimeout applies when a target declares none, as a
	// duration string ("90s", "5m"). Empty means no timeout.
	DefaultTimeout string `yaml:"default_timeout"`
}

// Timeout parses the configured default timeout. Empty means zero.
func (e ExecutionConfig) Timeout() (time.Duration, error) {
	if e.DefaultTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(e.DefaultTimeout)
	if err != nil {
		return 0, fmt.Errorf("execution.default_timeout: %w", err)
	}
	return d, nil
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn, or error. Default: info.
	Level string `yaml:"level"`
}

// Default returns the default configuration. These defaults are a
// base for the config file, and a complete working setup on their
// own: unlike most fields, the store and scratch roots default under
// the user cache directory so gantry runs without any file at all.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".cache", "gantry")

	return &Config{
		Store: StoreConfig{
			Path:        filepath.Join(root, "store"),
			Compression: "auto",
		},
		Execution: ExecutionConfig{
			Parallelism: 8,
			Shell:       "/bin/bash",
			ScratchRoot: filepath.Join(root, "sandboxes"),
			CacheRoot:   filepath.Join(root, "cache"),
			Isolation:   "none",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the GANTRY_CONFIG environment
// variable, falling back to defaults when it is unset. A set but
// unreadable path is an error, never silently ignored.
func Load() (*Config, error) {
	path := os.Getenv("GANTRY_CONFIG")
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override its values. The only expansion performed is ${HOME} and
// similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Store.Path = expandVars(c.Store.Path, vars)
	c.Store.EncryptionKeyFile = expandVars(c.Store.EncryptionKeyFile, vars)
	c.Execution.ScratchRoot = expandVars(c.Execution.ScratchRoot, vars)
	c.Execution.CacheRoot = expandVars(c.Execution.CacheRoot, vars)
}

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

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path is required"))
	}
	if !contains([]string{"auto", "none", "lz4", "zstd", ""}, c.Store.Compression) {
		errs = append(errs, fmt.Errorf("store.compression must be auto, none, lz4, or zstd"))
	}

	if c.Execution.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("execution.parallelism must be at least 1"))
	}
	if c.Execution.Shell == "" {
		errs = append(errs, fmt.Errorf("execution.shell is required"))
	}
	if c.Execution.ScratchRoot == "" {
		errs = append(errs, fmt.Errorf("execution.scratch_root is required"))
	}
	if !contains([]string{"", "none", "bwrap"}, c.Execution.Isolation) {
		errs = append(errs, fmt.Errorf("execution.isolation must be none or bwrap"))
	}
	if _, err := c.Execution.Timeout(); err != nil {
		errs = append(errs, err)
	}

	if !contains([]string{"", "debug", "info", "warn", "error"}, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn, or error"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EncryptionKey reads the configured key file. It returns nil when no
// key file is configured.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.Store.EncryptionKeyFile == "" {
		return nil, nil
	}
	key, err := os.ReadFile(c.Store.EncryptionKeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading encryption key: %w", err)
	}
	return key, nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
