// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/gantry-build/gantry/lib/adhoc"
	"github.com/gantry-build/gantry/lib/digest"
)

// chrootToken in environment values is replaced with the scratch
// directory's absolute path, so callers can reference sandbox-local
// paths (shim directories on PATH) before the sandbox exists.
const chrootToken = "{chroot}"

// Isolation selects how much the host filesystem is hidden from the
// sandboxed process.
type Isolation uint8

const (
	// IsolationNone runs the process directly in the scratch
	// directory with no filesystem hiding.
	IsolationNone Isolation = iota

	// IsolationBwrap wraps the process in bubblewrap: the scratch
	// directory, the system toolchain paths, and the cache binds are
	// the only visible mounts.
	IsolationBwrap
)

// ParseIsolation parses an isolation level name.
func ParseIsolation(name string) (Isolation, error) {
	switch name {
	case "", "none":
		return IsolationNone, nil
	case "bwrap":
		return IsolationBwrap, nil
	default:
		return 0, fmt.Errorf("unknown isolation level %q (want none or bwrap)", name)
	}
}

// Executor runs prepared processes in per-invocation scratch
// directories and captures their declared outputs.
type Executor struct {
	store         *digest.Store
	scratchRoot   string
	cacheRoot     string
	isolation     Isolation
	keepSandboxes bool
	logger        *slog.Logger
}

// Config holds configuration for creating an Executor.
type Config struct {
	// Store materializes inputs and captures outputs.
	Store *digest.Store

	// ScratchRoot is where per-invocation sandbox directories are
	// created.
	ScratchRoot string

	// CacheRoot holds the shared append-only cache directories.
	CacheRoot string

	// Isolation selects the filesystem isolation level.
	Isolation Isolation

	// KeepSandboxes retains scratch directories after the run.
	KeepSandboxes bool

	// Logger for executor operations.
	Logger *slog.Logger
}

// New creates an Executor.
func New(config Config) (*Executor, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config.ScratchRoot == "" {
		return nil, fmt.Errorf("scratch root is required")
	}
	if err := os.MkdirAll(config.ScratchRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch root: %w", err)
	}
	cacheRoot := config.CacheRoot
	if cacheRoot == "" {
		cacheRoot = filepath.Join(config.ScratchRoot, "cache")
	}
	if err := os.MkdirAll(cacheRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	if config.Isolation == IsolationBwrap {
		if _, err := BwrapPath(); err != nil {
			return nil, err
		}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:         config.Store,
		scratchRoot:   config.ScratchRoot,
		cacheRoot:     cacheRoot,
		isolation:     config.Isolation,
		keepSandboxes: config.KeepSandboxes,
		logger:        logger,
	}, nil
}

// Execute runs one prepared process. A nonzero exit is a normal
// outcome; errors are reserved for setup failures, launch failures,
// and timeouts.
func (e *Executor) Execute(ctx context.Context, spec adhoc.ProcessSpec) (adhoc.ProcessOutcome, error) {
	scratch, err := os.MkdirTemp(e.scratchRoot, "sandbox-")
	if err != nil {
		return adhoc.ProcessOutcome{}, fmt.Errorf("creating sandbox: %w", err)
	}
	if e.keepSandboxes {
		e.logger.Info("keeping sandbox", "path", scratch, "description", spec.Description)
	} else {
		defer os.RemoveAll(scratch)
	}

	cacheBinds, err := e.populate(scratch, spec)
	if err != nil {
		return adhoc.ProcessOutcome{}, fmt.Errorf("populating sandbox: %w", err)
	}

	argv := spec.Argv
	if e.isolation == IsolationBwrap {
		argv, err = e.bwrapArgv(scratch, cacheBinds, spec.Argv)
		if err != nil {
			return adhoc.ProcessOutcome{}, err
		}
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = scratch
	cmd.Env = environFor(scratch, spec.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Kill the whole process group, not just the direct child.
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("executing",
		"description", spec.Description,
		"argv", spec.Argv,
		"sandbox", scratch,
	)

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return adhoc.ProcessOutcome{}, fmt.Errorf("%s timed out after %s", spec.Description, spec.Timeout)
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		default:
			return adhoc.ProcessOutcome{}, fmt.Errorf("launching %s: %w", spec.Description, err)
		}
	}

	outputs, err := e.store.CaptureOutputs(scratch, spec.OutputFiles, spec.OutputDirs)
	if err != nil {
		return adhoc.ProcessOutcome{}, fmt.Errorf("capturing outputs of %s: %w", spec.Description, err)
	}

	return adhoc.ProcessOutcome{
		ExitCode:     exitCode,
		Stdout:       stdout.Bytes(),
		Stderr:       stderr.Bytes(),
		OutputDigest: outputs,
	}, nil
}

// populate materializes the input tree, the immutable inputs, and the
// append-only cache links into scratch. It returns the cache bind
// pairs (shared dir, sandbox path) for the bwrap builder.
func (e *Executor) populate(scratch string, spec adhoc.ProcessSpec) ([][2]string, error) {
	if err := e.store.Materialize(spec.InputDigest, scratch); err != nil {
		return nil, err
	}

	components := make([]string, 0, len(spec.ImmutableInputDigests))
	for component := range spec.ImmutableInputDigests {
		components = append(components, component)
	}
	sort.Strings(components)
	for _, component := range components {
		dest := filepath.Join(scratch, filepath.FromSlash(component))
		if err := e.store.Materialize(spec.ImmutableInputDigests[component], dest); err != nil {
			return nil, fmt.Errorf("immutable input %q: %w", component, err)
		}
	}

	names := make([]string, 0, len(spec.AppendOnlyCaches))
	for name := range spec.AppendOnlyCaches {
		names = append(names, name)
	}
	sort.Strings(names)

	var binds [][2]string
	for _, name := range names {
		shared := filepath.Join(e.cacheRoot, name)
		if err := os.MkdirAll(shared, 0o755); err != nil {
			return nil, fmt.Errorf("cache %q: %w", name, err)
		}
		dest := filepath.Join(scratch, filepath.FromSlash(spec.AppendOnlyCaches[name]))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, fmt.Errorf("cache %q: %w", name, err)
		}
		if err := os.Symlink(shared, dest); err != nil {
			return nil, fmt.Errorf("cache %q: %w", name, err)
		}
		binds = append(binds, [2]string{shared, dest})
	}
	return binds, nil
}

func (e *Executor) bwrapArgv(scratch string, cacheBinds [][2]string, command []string) ([]string, error) {
	path, err := BwrapPath()
	if err != nil {
		return nil, err
	}
	builder := NewBwrapBuilder()
	args, err := builder.Build(&BwrapOptions{
		Scratch:    scratch,
		CacheBinds: cacheBinds,
		Command:    command,
	})
	if err != nil {
		return nil, fmt.Errorf("building bwrap command: %w", err)
	}
	return append([]string{path}, args...), nil
}

// environFor renders the explicit environment for the process, sorted
// for determinism, with the chroot token expanded to the scratch
// directory.
func environFor(scratch string, env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	rendered := make([]string, 0, len(keys))
	for _, key := range keys {
		value := strings.ReplaceAll(env[key], chrootToken, scratch)
		rendered = append(rendered, key+"="+value)
	}
	return rendered
}

// ChrootPath returns an environment value referencing rel inside the
// eventual sandbox directory.
func ChrootPath(rel string) string {
	return chrootToken + "/" + rel
}

// ExitError represents a nonzero exit from a sandboxed command, for
// callers that want to propagate the code as their own.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Code)
}

// IsExitError checks if an error is an ExitError and returns the code.
func IsExitError(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
