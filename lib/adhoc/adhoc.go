// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package adhoc prepares and runs sandboxed adhoc commands: it
// resolves working directories against the build root, assembles the
// process environment, rewrites the command to execute from a fixed
// sandbox root, and re-roots the outputs afterwards.
package adhoc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"mvdan.cc/sh/v3/syntax"

	"github.com/gantry-build/gantry/lib/digest"
	"github.com/gantry-build/gantry/lib/graph"
)

// ProcessRequest fully describes an adhoc command to run.
type ProcessRequest struct {
	Description string
	Address     graph.Address

	// Workdir is the declared working directory, resolved against
	// the owning address: "." is the address's directory, "./x" joins
	// onto it, a leading "/" is stripped to a build-root-relative
	// path, anything else is used verbatim.
	Workdir string

	// RootOutputDir is resolved relative to the working directory and
	// stripped from the output digest after execution.
	RootOutputDir string

	Argv    []string
	Timeout time.Duration

	InputDigest           digest.Digest
	ImmutableInputDigests map[string]digest.Digest
	AppendOnlyCaches      map[string]string

	OutputFiles []string
	OutputDirs  []string

	// FetchEnv names ambient environment variables to pass through;
	// EnvOverrides are explicit values that win on conflict.
	FetchEnv     []string
	EnvOverrides map[string]string

	// LogOnExit maps exit codes to messages logged when the process
	// finishes with that code.
	LogOnExit map[int]string

	// LogOutput echoes captured stdout and stderr through the logger.
	LogOutput bool
}

// RequestFor derives a ProcessRequest from a loaded target and the
// argv its run field-set resolved to.
func RequestFor(t *graph.Target, argv []string, input digest.Digest) ProcessRequest {
	return ProcessRequest{
		Description:   t.Address.Spec(),
		Address:       t.Address,
		Workdir:       t.Workdir,
		RootOutputDir: t.RootOutputDir,
		Argv:          argv,
		Timeout:       t.Timeout,
		InputDigest:   input,
		OutputFiles:   t.OutputFiles,
		OutputDirs:    t.OutputDirs,
		FetchEnv:      t.FetchEnv,
		LogOnExit:     t.LogOnExit,
		LogOutput:     t.LogOutput,
	}
}

// ProcessSpec is the concrete, sandbox-ready process: everything the
// executor needs, with no build-graph concepts left.
type ProcessSpec struct {
	Argv        []string
	Description string
	Env         map[string]string

	InputDigest           digest.Digest
	ImmutableInputDigests map[string]digest.Digest
	AppendOnlyCaches      map[string]string

	OutputFiles []string
	OutputDirs  []string

	Timeout time.Duration

	// Workdir is cleared by the at-root rewrite; the cd in Argv
	// encodes it instead.
	Workdir string
}

// ProcessOutcome is the raw result of one execution. A nonzero exit
// code is a normal outcome, not an error; errors are reserved for
// launch failures and timeouts.
type ProcessOutcome struct {
	ExitCode     int
	Stdout       []byte
	Stderr       []byte
	OutputDigest digest.Digest
}

// Executor runs a prepared process in an isolated sandbox.
type Executor interface {
	Execute(ctx context.Context, spec ProcessSpec) (ProcessOutcome, error)
}

// EnvSource fetches ambient environment variables by name. Missing
// variables are simply absent from the result.
type EnvSource interface {
	Fetch(names []string) map[string]string
}

// OSEnv reads the process environment.
type OSEnv struct{}

func (OSEnv) Fetch(names []string) map[string]string {
	values := make(map[string]string, len(names))
	for _, name := range names {
		if value, ok := os.LookupEnv(name); ok {
			values[name] = value
		}
	}
	return values
}

// Result is the outcome of a completed adhoc process with its output
// digest re-rooted: the working-directory and root-output prefix is
// stripped, so callers always see root-relative paths.
type Result struct {
	ExitCode     int
	Stdout       []byte
	Stderr       []byte
	OutputDigest digest.Digest
}

// Runner prepares and executes adhoc processes.
type Runner struct {
	store    *digest.Store
	executor Executor
	env      EnvSource
	logger   *slog.Logger
	shell    string
}

// RunnerConfig wires a Runner's collaborators.
type RunnerConfig struct {
	Store    *digest.Store
	Executor Executor
	Env      EnvSource
	Logger   *slog.Logger

	// Shell wraps the argv for at-root execution. Defaults to
	// /bin/bash.
	Shell string
}

// NewRunner constructs a Runner.
func NewRunner(config RunnerConfig) *Runner {
	env := config.Env
	if env == nil {
		env = OSEnv{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	shell := config.Shell
	if shell == "" {
		shell = "/bin/bash"
	}
	return &Runner{
		store:    config.Store,
		executor: config.Executor,
		env:      env,
		logger:   logger,
		shell:    shell,
	}
}

// ParseRelativeDirectory resolves a declared directory against a
// build-root-relative anchor. Absolute-looking paths are normalized
// by stripping the leading separator, never treated as
// filesystem-absolute.
func ParseRelativeDirectory(dir, relativeTo string) string {
	switch {
	case dir == ".":
		return relativeTo
	case strings.HasPrefix(dir, "./"):
		return path.Join(relativeTo, dir[2:])
	case strings.HasPrefix(dir, "/"):
		return strings.TrimPrefix(dir, "/")
	default:
		return dir
	}
}

// Prepare turns a request into a sandbox-ready spec: working
// directory resolved, environment assembled, the directory ensured in
// the input tree, and the process rewritten to run from the sandbox
// root.
func (r *Runner) Prepare(ctx context.Context, req ProcessRequest) (ProcessSpec, error) {
	workdir := ParseRelativeDirectory(req.Workdir, req.Address.Dir)

	env := make(map[string]string)
	for name, value := range r.env.Fetch(req.FetchEnv) {
		env[name] = value
	}
	for name, value := range req.EnvOverrides {
		env[name] = value
	}

	input, err := r.ensureWorkdir(req.InputDigest, workdir)
	if err != nil {
		return ProcessSpec{}, fmt.Errorf("preparing %s: %w", req.Description, err)
	}

	spec := ProcessSpec{
		Argv:                  req.Argv,
		Description:           "Running " + req.Description,
		Env:                   env,
		InputDigest:           input,
		ImmutableInputDigests: req.ImmutableInputDigests,
		AppendOnlyCaches:      req.AppendOnlyCaches,
		OutputFiles:           req.OutputFiles,
		OutputDirs:            req.OutputDirs,
		Timeout:               req.Timeout,
		Workdir:               workdir,
	}
	return r.outputAtRoot(spec)
}

// ensureWorkdir merges an empty directory entry into the input tree
// when the working directory is not already present.
func (r *Runner) ensureWorkdir(input digest.Digest, workdir string) (digest.Digest, error) {
	if workdir == "" {
		return input, nil
	}
	snapshot, err := r.store.SnapshotOf(input)
	if err != nil {
		return digest.Digest{}, err
	}
	if snapshot.HasDir(workdir) {
		return input, nil
	}
	dir, err := r.store.CreateDirectory(workdir)
	if err != nil {
		return digest.Digest{}, err
	}
	return r.store.Merge(input, dir)
}

// outputAtRoot rewrites a spec so the sandbox always executes from a
// single fixed root: declared outputs gain the working-directory
// prefix, the argv becomes a shell invocation that cd's into the
// (quoted) working directory before exec'ing the original command,
// and the structured working directory is cleared — the cd now
// encodes it.
func (r *Runner) outputAtRoot(spec ProcessSpec) (ProcessSpec, error) {
	workdir := spec.Workdir

	if workdir != "" {
		spec.OutputFiles = prefixAll(workdir, spec.OutputFiles)
		spec.OutputDirs = prefixAll(workdir, spec.OutputDirs)
	}

	words := make([]string, len(spec.Argv))
	for i, arg := range spec.Argv {
		quoted, err := syntax.Quote(arg, syntax.LangPOSIX)
		if err != nil {
			return ProcessSpec{}, fmt.Errorf("cannot shell-quote %q: %w", arg, err)
		}
		words[i] = quoted
	}
	script := strings.Join(words, " ")
	if workdir != "" {
		script = fmt.Sprintf("cd '%s' && %s", workdir, script)
	}

	spec.Argv = []string{r.shell, "-c", script}
	spec.Workdir = ""
	return spec, nil
}

func prefixAll(prefix string, paths []string) []string {
	prefixed := make([]string, len(paths))
	for i, p := range paths {
		prefixed[i] = path.Join(prefix, p)
	}
	return prefixed
}

// Run prepares and executes the request, logs any configured
// per-exit-code message, and returns the result with its output
// digest re-rooted below the resolved root output directory.
func (r *Runner) Run(ctx context.Context, req ProcessRequest) (*Result, error) {
	spec, err := r.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	outcome, err := r.executor.Execute(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("executing %s: %w", req.Description, err)
	}

	if message, ok := req.LogOnExit[outcome.ExitCode]; ok {
		r.logger.Error(message, "target", req.Address, "exit_code", outcome.ExitCode)
	}
	if req.LogOutput {
		if len(outcome.Stdout) > 0 {
			r.logger.Info(string(outcome.Stdout))
		}
		if len(outcome.Stderr) > 0 {
			r.logger.Warn(string(outcome.Stderr))
		}
	}

	workdir := ParseRelativeDirectory(req.Workdir, req.Address.Dir)
	rootOutput := ParseRelativeDirectory(req.RootOutputDir, workdir)
	adjusted, err := r.store.RemovePrefix(outcome.OutputDigest, rootOutput)
	if err != nil {
		return nil, fmt.Errorf("re-rooting outputs of %s: %w", req.Description, err)
	}

	return &Result{
		ExitCode:     outcome.ExitCode,
		Stdout:       outcome.Stdout,
		Stderr:       outcome.Stderr,
		OutputDigest: adjusted,
	}, nil
}
