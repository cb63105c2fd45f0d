// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package build implements the capabilities the execution-environment
// resolver consumes: capturing target sources from the build root,
// building packageable targets into artifact trees, and producing
// sandbox-ready run specifications for runnable field-sets.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gantry-build/gantry/lib/digest"
	"github.com/gantry-build/gantry/lib/execenv"
	"github.com/gantry-build/gantry/lib/graph"
)

// Service serves source capture, packaging, and run-spec requests
// against one build root.
type Service struct {
	graph *graph.Graph
	store *digest.Store

	// root is the on-disk build root source paths resolve against.
	root string
}

// NewService constructs a Service.
func NewService(g *graph.Graph, store *digest.Store, root string) *Service {
	return &Service{graph: g, store: store, root: root}
}

// CaptureSources snapshots the declared source files of targets into
// one tree, rooted at the build root. A declared source that is
// missing on disk is an error.
func (s *Service) CaptureSources(_ context.Context, targets []*graph.Target) (digest.Digest, error) {
	return s.store.CaptureFiles(s.root, graph.SourcePaths(targets))
}

// BuildPackage gathers a packageable target's sources under its
// declared output prefix.
func (s *Service) BuildPackage(_ context.Context, set graph.FieldSet) (digest.Digest, error) {
	pkg, ok := set.(graph.PackageFieldSet)
	if !ok {
		return digest.Digest{}, fmt.Errorf("cannot package %s", set.Describe())
	}
	target, err := s.graph.Target(pkg.Addr)
	if err != nil {
		return digest.Digest{}, err
	}

	var files []digest.FileContent
	for _, source := range graph.SourcePaths([]*graph.Target{target}) {
		content, executable, err := s.readSource(source)
		if err != nil {
			return digest.Digest{}, fmt.Errorf("packaging %s: %w", pkg.Addr, err)
		}
		files = append(files, digest.FileContent{
			Path:       pkg.Output + "/" + source,
			Content:    content,
			Executable: executable,
		})
	}
	return s.store.CreateFromFiles(files)
}

func (s *Service) readSource(source string) (content []byte, executable bool, err error) {
	full := filepath.Join(s.root, filepath.FromSlash(source))
	info, err := os.Stat(full)
	if err != nil {
		return nil, false, err
	}
	content, err = os.ReadFile(full)
	if err != nil {
		return nil, false, err
	}
	return content, info.Mode()&0o111 != 0, nil
}

// RunSpec resolves a runnable field-set into a sandbox-ready run
// specification. The spec's input tree holds the sources of the
// runnable target and everything it transitively depends on.
func (s *Service) RunSpec(ctx context.Context, set graph.FieldSet) (execenv.RunSpec, error) {
	run, ok := set.(graph.RunFieldSet)
	if !ok {
		return execenv.RunSpec{}, fmt.Errorf("cannot run %s", set.Describe())
	}

	closure, err := s.graph.TransitiveClosure([]graph.Address{run.Addr})
	if err != nil {
		return execenv.RunSpec{}, err
	}
	inputs, err := s.CaptureSources(ctx, closure.All())
	if err != nil {
		return execenv.RunSpec{}, fmt.Errorf("capturing inputs of %s: %w", run.Addr, err)
	}

	return execenv.RunSpec{
		Digest:           inputs,
		Argv:             run.Argv,
		ExtraEnv:         run.Env,
		AppendOnlyCaches: run.Caches,
	}, nil
}

// SourceFiles lists the build-root-relative source paths that exist
// on disk for the given targets, reporting any declared source that
// is missing. Used by the CLI to surface manifest drift early.
func (s *Service) SourceFiles(targets []*graph.Target) (present, missing []string) {
	for _, source := range graph.SourcePaths(targets) {
		full := filepath.Join(s.root, filepath.FromSlash(source))
		if _, err := os.Stat(full); err != nil {
			missing = append(missing, source)
			continue
		}
		present = append(present, source)
	}
	return present, missing
}

// Root returns the on-disk build root.
func (s *Service) Root() string { return s.root }

// FindBuildRoot walks upward from dir looking for a directory that
// contains a TARGETS.jsonc manifest at its top level, mirroring how
// the CLI locates the workspace.
func FindBuildRoot(dir string) (string, error) {
	current, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(filepath.Join(current, graph.ManifestName))
		if err == nil {
			return current, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no %s found in %s or any parent directory", graph.ManifestName, dir)
		}
		current = parent
	}
}
