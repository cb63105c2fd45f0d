// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package execenv resolves the execution environment of a target: the
// merged content tree of everything its command needs at run time —
// dependency sources, built artifacts, and shim scripts for named
// runnable helpers.
package execenv

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gantry-build/gantry/lib/digest"
	"github.com/gantry-build/gantry/lib/fabric"
	"github.com/gantry-build/gantry/lib/graph"
)

// RunSpec is the sandbox-ready answer to "how do I run this
// field-set": the command, its input tree, and any extra mounts or
// caches the command requires.
type RunSpec struct {
	Digest                digest.Digest
	Argv                  []string
	ExtraEnv              map[string]string
	ImmutableInputDigests map[string]digest.Digest
	AppendOnlyCaches      map[string]string
}

// RunSpecSource produces a RunSpec for a runnable field-set. The
// in-repo implementation lives in lib/build.
type RunSpecSource interface {
	RunSpec(ctx context.Context, set graph.FieldSet) (RunSpec, error)
}

// PackageBuilder builds a packageable field-set into an artifact
// tree. The in-repo implementation lives in lib/build.
type PackageBuilder interface {
	BuildPackage(ctx context.Context, set graph.FieldSet) (digest.Digest, error)
}

// SourceCapturer captures the declared source files of a set of
// targets into one tree.
type SourceCapturer interface {
	CaptureSources(ctx context.Context, targets []*graph.Target) (digest.Digest, error)
}

// RunnableInfo describes the shim set produced for a target's named
// runnable dependencies: where the shims mount, and the extra mounts
// and caches their run specs require.
type RunnableInfo struct {
	// PathComponent is the sandbox-relative directory the shim
	// scripts mount under. Derived from the shim tree's fingerprint,
	// so identical shim sets share a path.
	PathComponent string

	ImmutableInputDigests map[string]digest.Digest
	AppendOnlyCaches      map[string]string
}

// Resolved is a fully resolved execution environment.
type Resolved struct {
	// Digest is the merged input tree: dependency sources, built
	// artifacts, and the runnables' own run digests.
	Digest digest.Digest

	// Runnables is nil when the target declares no runnable
	// dependencies.
	Runnables *RunnableInfo
}

// Request asks for the execution environment of one target.
type Request struct {
	Address graph.Address

	// ExecutionDeps is the declared execution-dependency list.
	// ExecutionDepsDeclared distinguishes an explicit empty list from
	// an absent field.
	ExecutionDeps         []graph.ExecutionDep
	ExecutionDepsDeclared bool

	// DependenciesDeclared enables the legacy fallback: ordinary
	// dependencies treated as execution dependencies.
	DependenciesDeclared bool
}

// RequestFor builds the resolution request for a loaded target.
func RequestFor(t *graph.Target) Request {
	return Request{
		Address:               t.Address,
		ExecutionDeps:         t.ExecutionDeps,
		ExecutionDepsDeclared: t.ExecutionDepsDeclared,
		DependenciesDeclared:  t.DependenciesDeclared,
	}
}

// Resolver expands execution-dependency declarations into merged
// content trees. Artifact builds are memoized per address, so a
// dependency shared by many targets builds once per resolver.
type Resolver struct {
	graph    *graph.Graph
	store    *digest.Store
	fabric   *fabric.Fabric
	sources  SourceCapturer
	packager PackageBuilder
	runner   RunSpecSource
	logger   *slog.Logger

	// Shell is the interpreter shim scripts exec through.
	shell string

	artifacts *fabric.Memo[graph.Address, digest.Digest]
}

// ResolverConfig wires a Resolver's collaborators.
type ResolverConfig struct {
	Graph    *graph.Graph
	Store    *digest.Store
	Fabric   *fabric.Fabric
	Sources  SourceCapturer
	Packager PackageBuilder
	Runner   RunSpecSource
	Logger   *slog.Logger

	// Shell is the shim interpreter path. Defaults to /bin/bash.
	Shell string
}

// NewResolver constructs a Resolver.
func NewResolver(config ResolverConfig) *Resolver {
	shell := config.Shell
	if shell == "" {
		shell = "/bin/bash"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		graph:     config.Graph,
		store:     config.Store,
		fabric:    config.Fabric,
		sources:   config.Sources,
		packager:  config.Packager,
		runner:    config.Runner,
		logger:    logger,
		shell:     shell,
		artifacts: fabric.NewMemo[graph.Address, digest.Digest](),
	}
}

// Resolve computes the execution environment for req. Any
// unresolvable address fails the whole call; no partial digest is
// produced.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolved, error) {
	var (
		roots        []graph.Address
		runnables    []graph.RunnableDependency
		includeRoots bool
	)

	switch {
	case req.ExecutionDepsDeclared:
		var plain []string
		for _, dep := range req.ExecutionDeps {
			if dep.Runnable != nil {
				runnables = append(runnables, *dep.Runnable)
			} else {
				plain = append(plain, dep.Address)
			}
		}
		origin := fmt.Sprintf("the execution dependencies of %s", req.Address)
		addresses, err := r.graph.ResolveAddresses(plain, req.Address, origin)
		if err != nil {
			return Resolved{}, err
		}
		roots = addresses
		// Execution-dependency roots contribute their own sources;
		// the owner's sources are the caller's concern.
		includeRoots = true

	case req.DependenciesDeclared:
		r.logger.Warn(
			"relying on ordinary dependencies for the execution environment is deprecated; declare execution_dependencies explicitly",
			"target", req.Address)
		roots = []graph.Address{req.Address}

	default:
		roots = []graph.Address{req.Address}
	}

	closure, err := r.graph.TransitiveClosure(roots)
	if err != nil {
		return Resolved{}, err
	}
	targets := closure.Dependencies
	if includeRoots {
		targets = closure.All()
	}

	origin := fmt.Sprintf("the runnable dependencies of %s", req.Address)
	shimDigest, info, err := r.resolveRunnables(ctx, req.Address, runnables, origin)
	if err != nil {
		return Resolved{}, err
	}

	sourcesDigest, artifactDigests, err := fabric.Join2(ctx, r.fabric,
		func(ctx context.Context) (digest.Digest, error) {
			return r.sources.CaptureSources(ctx, targets)
		},
		func(ctx context.Context) ([]digest.Digest, error) {
			return r.buildArtifacts(ctx, targets)
		})
	if err != nil {
		return Resolved{}, err
	}

	merged := append([]digest.Digest{sourcesDigest, shimDigest}, artifactDigests...)
	result, err := r.store.Merge(merged...)
	if err != nil {
		return Resolved{}, fmt.Errorf("merging execution environment of %s: %w", req.Address, err)
	}
	return Resolved{Digest: result, Runnables: info}, nil
}

// buildArtifacts builds every packageable field-set in targets,
// concurrently and memoized by address.
func (r *Resolver) buildArtifacts(ctx context.Context, targets []*graph.Target) ([]digest.Digest, error) {
	var packageable []graph.FieldSet
	for _, target := range targets {
		packageable = append(packageable, graph.FieldSetsFor(target, graph.CapabilityPackage)...)
	}
	return fabric.Map(ctx, r.fabric, packageable,
		func(ctx context.Context, set graph.FieldSet) (digest.Digest, error) {
			return r.artifacts.Do(ctx, set.Address(), func() (digest.Digest, error) {
				return r.packager.BuildPackage(ctx, set)
			})
		})
}

// resolveRunnables resolves the named runnable dependencies of owner
// into a merged run digest plus shim info. A nil info means no
// runnables were declared.
func (r *Resolver) resolveRunnables(ctx context.Context, owner graph.Address, decls []graph.RunnableDependency, origin string) (digest.Digest, *RunnableInfo, error) {
	if len(decls) == 0 {
		return digest.Empty, nil, nil
	}

	specs, err := fabric.Map(ctx, r.fabric, decls,
		func(ctx context.Context, decl graph.RunnableDependency) (RunSpec, error) {
			return r.runSpecFor(ctx, owner, decl, origin)
		})
	if err != nil {
		return digest.Digest{}, nil, err
	}

	var (
		digests    = make([]digest.Digest, 0, len(decls))
		shims      = make([]digest.FileContent, 0, len(decls))
		immutable  = make(map[string]digest.Digest)
		caches     = make(map[string]string)
		sharedEnv  = make(map[string]string)
		mergeError error
	)
	for i, spec := range specs {
		digests = append(digests, spec.Digest)

		script, err := shimScript(r.shell, spec.Argv, spec.ExtraEnv)
		if err != nil {
			return digest.Digest{}, nil, err
		}
		shims = append(shims, digest.FileContent{
			Path:       decls[i].Name,
			Content:    script,
			Executable: true,
		})

		if mergeError == nil {
			mergeError = safeMerge(immutable, spec.ImmutableInputDigests)
		}
		if mergeError == nil {
			mergeError = safeMerge(caches, spec.AppendOnlyCaches)
		}
		if mergeError == nil {
			mergeError = safeMerge(sharedEnv, spec.ExtraEnv)
		}
		if mergeError != nil {
			return digest.Digest{}, nil, &IncompatibleEnvironmentsError{
				Owner:    owner.Spec(),
				Runnable: decls[i].Name,
				Err:      mergeError,
			}
		}
	}

	runDigest, shimDigest, err := fabric.Join2(ctx, r.fabric,
		func(context.Context) (digest.Digest, error) { return r.store.Merge(digests...) },
		func(context.Context) (digest.Digest, error) { return r.store.CreateFromFiles(shims) })
	if err != nil {
		return digest.Digest{}, nil, err
	}

	pathComponent := "shims_" + shimDigest.Fingerprint()
	immutable[pathComponent] = shimDigest

	return runDigest, &RunnableInfo{
		PathComponent:         pathComponent,
		ImmutableInputDigests: immutable,
		AppendOnlyCaches:      caches,
	}, nil
}

func (r *Resolver) runSpecFor(ctx context.Context, owner graph.Address, decl graph.RunnableDependency, origin string) (RunSpec, error) {
	addresses, err := r.graph.ResolveAddresses([]string{decl.Address}, owner, origin)
	if err != nil {
		return RunSpec{}, err
	}
	target, err := r.graph.Target(addresses[0])
	if err != nil {
		return RunSpec{}, err
	}
	set, _, err := graph.FindUnique(graph.CapabilityRun, []*graph.Target{target})
	if err != nil {
		return RunSpec{}, fmt.Errorf("runnable dependency %q of %s: %w", decl.Name, owner, err)
	}
	return r.runner.RunSpec(ctx, set)
}
