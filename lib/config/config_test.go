// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Store.Compression != "auto" {
		t.Errorf("expected compression=auto, got %s", cfg.Store.Compression)
	}
	if cfg.Execution.Parallelism != 8 {
		t.Errorf("expected parallelism=8, got %d", cfg.Execution.Parallelism)
	}
	if cfg.Execution.Shell != "/bin/bash" {
		t.Errorf("expected shell=/bin/bash, got %s", cfg.Execution.Shell)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gantry.yaml")
	content := `
store:
  path: /data/store
  compression: zstd
execution:
  parallelism: 4
  shell: /bin/sh
  isolation: bwrap
  keep_sandboxes: true
  default_timeout: 90s
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Store.Path != "/data/store" || cfg.Store.Compression != "zstd" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Execution.Parallelism != 4 || !cfg.Execution.KeepSandboxes {
		t.Errorf("execution = %+v", cfg.Execution)
	}
	d, err := cfg.Execution.Timeout()
	if err != nil || d != 90*time.Second {
		t.Errorf("timeout = %v, %v", d, err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %s", cfg.Log.Level)
	}

	// Unset fields keep their defaults.
	if cfg.Execution.ScratchRoot == "" {
		t.Error("scratch root default lost")
	}
}

func TestLoadFileExpandsHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	path := filepath.Join(t.TempDir(), "gantry.yaml")
	content := "store:\n  path: ${HOME}/gantry-store\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Store.Path != "/home/tester/gantry-store" {
		t.Errorf("path = %s", cfg.Store.Path)
	}
}

func TestExpandVarsDefault(t *testing.T) {
	got := expandVars("${GANTRY_MISSING_VAR:-/fallback}/x", nil)
	if got != "/fallback/x" {
		t.Errorf("got %q", got)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"empty store path":  func(c *Config) { c.Store.Path = "" },
		"bad compression":   func(c *Config) { c.Store.Compression = "gzip" },
		"zero parallelism":  func(c *Config) { c.Execution.Parallelism = 0 },
		"empty shell":       func(c *Config) { c.Execution.Shell = "" },
		"bad isolation":     func(c *Config) { c.Execution.Isolation = "chroot" },
		"bad timeout":       func(c *Config) { c.Execution.DefaultTimeout = "soon" },
		"bad log level":     func(c *Config) { c.Log.Level = "verbose" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestLoadWithoutEnvUsesDefaults(t *testing.T) {
	t.Setenv("GANTRY_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Path == "" {
		t.Error("defaults not applied")
	}
}

func TestLoadWithUnreadableConfigFails(t *testing.T) {
	t.Setenv("GANTRY_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("missing configured file accepted")
	}
}

func TestLoadFileRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gantry.yaml")
	if err := os.WriteFile(path, []byte("store: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadFile(path)
	if err == nil || !strings.Contains(err.Error(), "parsing") {
		t.Fatalf("err = %v", err)
	}
}
