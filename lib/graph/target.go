// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import "time"

// RunnableDependency declares an execution dependency that must be
// materialized as an executable reachable by Name on the search path,
// not merely as files. Runnable dependencies are not resolved
// transitively; they must be declared on the target that invokes
// them.
type RunnableDependency struct {
	// Name is the executable name the dependency is exposed under.
	Name string

	// Address is the target spec of the runnable, resolved relative
	// to the declaring target.
	Address string
}

// ExecutionDep is one entry of a target's execution_dependencies
// list: either a plain address spec or a runnable declaration. The
// variant is decided when the manifest is parsed, never by runtime
// type inspection.
type ExecutionDep struct {
	// Address is the plain target spec. Empty when Runnable is set.
	Address string

	// Runnable is the named-runnable form. Nil for plain entries.
	Runnable *RunnableDependency
}

// RunSettings is a target's primary "how to run me" declaration.
type RunSettings struct {
	// Argv is the command to execute. Relative program names resolve
	// against the sandbox PATH, which includes the shim directory.
	Argv []string

	// Env is extra environment to set when this target runs.
	Env map[string]string

	// Caches maps cache names to sandbox-relative paths that persist
	// across runs (append-only).
	Caches map[string]string
}

// ScriptSettings is the secondary run declaration: a file owned by
// the target that an interpreter executes. A target with only a
// script yields to any target with a full run declaration during
// capability resolution.
type ScriptSettings struct {
	// File is the script path relative to the target's directory.
	File string

	// Interpreter is the command prefix (e.g. ["python3"]). Defaults
	// to ["/bin/sh"] when empty.
	Interpreter []string
}

// PackageSettings declares that a target can be built into an
// artifact placed under Output.
type PackageSettings struct {
	// Output is the tree path prefix the built artifact lives under.
	Output string
}

// Target is an addressable build entity with typed capability fields.
// Targets are constructed during manifest loading and immutable
// afterwards; every engine component consumes them read-only.
type Target struct {
	Address Address

	// Sources are file paths relative to the target's directory.
	Sources []string

	// Dependencies are ordinary dependency specs. DependenciesDeclared
	// distinguishes an explicit empty list from an absent field — the
	// legacy execution-dependency fallback keys off the declaration,
	// not the content.
	Dependencies         []string
	DependenciesDeclared bool

	// ExecutionDeps are the execution-time dependencies.
	// ExecutionDepsDeclared works like DependenciesDeclared.
	ExecutionDeps         []ExecutionDep
	ExecutionDepsDeclared bool

	Run     *RunSettings
	Script  *ScriptSettings
	Package *PackageSettings

	// Adhoc process settings, used when this target is run as a
	// sandboxed command.
	Workdir       string
	RootOutputDir string
	OutputFiles   []string
	OutputDirs    []string
	Timeout       time.Duration
	FetchEnv      []string
	LogOnExit     map[int]string
	LogOutput     bool
}
