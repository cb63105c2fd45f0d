// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// BwrapOptions holds options for building a bwrap command.
type BwrapOptions struct {
	// Scratch is the sandbox directory, bound read-write at its own
	// absolute path so the shell-wrapped argv's paths stay valid.
	Scratch string

	// CacheBinds are (shared dir, sandbox path) pairs bound
	// read-write over the symlinks the executor created.
	CacheBinds [][2]string

	// Command is the command to run inside the sandbox.
	Command []string

	// Network keeps the host network visible. Off by default.
	Network bool
}

// toolchainPaths are host paths bound read-only so interpreters and
// system tools resolve inside the sandbox.
var toolchainPaths = []string{"/usr", "/bin", "/sbin", "/lib", "/lib64", "/etc/alternatives"}

// BwrapBuilder builds bubblewrap command-line arguments.
type BwrapBuilder struct {
	args []string
}

// NewBwrapBuilder creates a new builder.
func NewBwrapBuilder() *BwrapBuilder {
	return &BwrapBuilder{args: []string{}}
}

// Build constructs the bwrap arguments from options. The caller
// prepends the bwrap binary path and passes the process environment
// separately; bwrap inherits it rather than using --setenv, because
// the executor already renders a fully explicit environment.
func (b *BwrapBuilder) Build(opts *BwrapOptions) ([]string, error) {
	if opts.Scratch == "" {
		return nil, fmt.Errorf("scratch directory is required")
	}
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	b.args = []string{"--die-with-parent", "--unshare-all"}
	if opts.Network {
		b.args = append(b.args, "--share-net")
	}

	b.args = append(b.args, "--proc", "/proc", "--dev", "/dev", "--tmpfs", "/tmp")

	for _, path := range toolchainPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		b.args = append(b.args, "--ro-bind", path, path)
	}

	b.args = append(b.args, "--bind", opts.Scratch, opts.Scratch)
	for _, bind := range opts.CacheBinds {
		b.args = append(b.args, "--bind", bind[0], bind[1])
	}

	b.args = append(b.args, "--chdir", opts.Scratch)
	b.args = append(b.args, "--")
	b.args = append(b.args, opts.Command...)
	return b.args, nil
}

// BwrapPath locates the bubblewrap binary.
func BwrapPath() (string, error) {
	path, err := exec.LookPath("bwrap")
	if err != nil {
		return "", fmt.Errorf("bubblewrap not found on PATH (install bwrap or set isolation to none): %w", err)
	}
	return path, nil
}

// Capabilities describes what sandbox features are available on this
// system.
type Capabilities struct {
	// BwrapAvailable is true if bubblewrap is installed.
	BwrapAvailable bool

	// BwrapPath is the path to bwrap if available.
	BwrapPath string

	// BwrapVersion is the bwrap version string.
	BwrapVersion string
}

// DetectCapabilities checks what sandbox features are available.
func DetectCapabilities() Capabilities {
	var caps Capabilities
	path, err := BwrapPath()
	if err != nil {
		return caps
	}
	caps.BwrapAvailable = true
	caps.BwrapPath = path
	if out, err := exec.Command(path, "--version").Output(); err == nil {
		caps.BwrapVersion = strings.TrimSpace(string(out))
	}
	return caps
}
