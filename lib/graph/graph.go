// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package graph provides Gantry's build graph: addressable targets
// loaded from per-directory TARGETS.jsonc manifests, address
// resolution, transitive dependency closure, and capability
// field-set resolution.
package graph

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Graph is an immutable set of loaded targets indexed by address.
type Graph struct {
	targets map[Address]*Target
}

// Load walks root for TARGETS.jsonc manifests and builds the graph.
// Directories named with a leading dot or underscore are skipped.
func Load(root string) (*Graph, error) {
	g := &Graph{targets: make(map[Address]*Target)}

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			name := entry.Name()
			if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.Name() != ManifestName {
			return nil
		}

		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return err
		}
		dir := filepath.ToSlash(rel)
		if dir == "." {
			dir = ""
		}

		targets, err := readManifest(path, dir)
		if err != nil {
			return err
		}
		for _, target := range targets {
			if _, dup := g.targets[target.Address]; dup {
				return fmt.Errorf("duplicate target %s", target.Address)
			}
			g.targets[target.Address] = target
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// LoadManifestData builds a graph from in-memory manifests, keyed by
// build-root-relative directory. Used by tests and embedded tooling.
func LoadManifestData(manifests map[string][]byte) (*Graph, error) {
	g := &Graph{targets: make(map[Address]*Target)}
	for dir, data := range manifests {
		targets, err := parseManifest(data, dir)
		if err != nil {
			return nil, fmt.Errorf("manifest for %q: %w", dir, err)
		}
		for _, target := range targets {
			if _, dup := g.targets[target.Address]; dup {
				return nil, fmt.Errorf("duplicate target %s", target.Address)
			}
			g.targets[target.Address] = target
		}
	}
	return g, nil
}

// Target returns the target at addr.
func (g *Graph) Target(addr Address) (*Target, error) {
	target, ok := g.targets[addr]
	if !ok {
		return nil, fmt.Errorf("no target at address %s", addr)
	}
	return target, nil
}

// Targets returns all targets sorted by address spec.
func (g *Graph) Targets() []*Target {
	targets := make([]*Target, 0, len(g.targets))
	for _, target := range g.targets {
		targets = append(targets, target)
	}
	sort.Slice(targets, func(i, j int) bool {
		return targets[i].Address.Spec() < targets[j].Address.Spec()
	})
	return targets
}

// UnresolvableAddressError reports an address spec that does not name
// a loaded target. The origin says where the spec came from, so the
// user can find the bad reference.
type UnresolvableAddressError struct {
	// Spec is the offending spec string as written.
	Spec string

	// Origin is a human-readable description of where the spec was
	// declared.
	Origin string

	// Err is the underlying parse or lookup failure.
	Err error
}

func (e *UnresolvableAddressError) Error() string {
	return fmt.Sprintf("cannot resolve %q from %s: %v", e.Spec, e.Origin, e.Err)
}

func (e *UnresolvableAddressError) Unwrap() error { return e.Err }

// ResolveAddresses resolves spec strings (relative to owning) into
// concrete addresses of loaded targets. The first unresolvable spec
// fails the whole call.
func (g *Graph) ResolveAddresses(specs []string, owning Address, origin string) ([]Address, error) {
	addresses := make([]Address, 0, len(specs))
	for _, spec := range specs {
		addr, err := ParseSpec(spec, owning)
		if err != nil {
			return nil, &UnresolvableAddressError{Spec: spec, Origin: origin, Err: err}
		}
		if _, ok := g.targets[addr]; !ok {
			return nil, &UnresolvableAddressError{Spec: spec, Origin: origin, Err: fmt.Errorf("no target at address %s", addr)}
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}

// TransitiveTargets is the result of a transitive closure walk: the
// root targets themselves plus every target reachable through
// ordinary dependencies.
type TransitiveTargets struct {
	Roots        []*Target
	Dependencies []*Target
}

// All returns roots and dependencies as one slice, roots first.
func (t TransitiveTargets) All() []*Target {
	all := make([]*Target, 0, len(t.Roots)+len(t.Dependencies))
	all = append(all, t.Roots...)
	all = append(all, t.Dependencies...)
	return all
}

// TransitiveClosure walks ordinary dependencies from roots. Cycles
// are tolerated (each target visits once). Dependency order within
// the result is deterministic: breadth-first, ties broken by spec.
func (g *Graph) TransitiveClosure(roots []Address) (TransitiveTargets, error) {
	var result TransitiveTargets
	visited := make(map[Address]struct{}, len(roots))

	var frontier []*Target
	for _, addr := range roots {
		target, err := g.Target(addr)
		if err != nil {
			return TransitiveTargets{}, err
		}
		if _, seen := visited[addr]; seen {
			continue
		}
		visited[addr] = struct{}{}
		result.Roots = append(result.Roots, target)
		frontier = append(frontier, target)
	}

	for len(frontier) > 0 {
		var next []*Target
		for _, target := range frontier {
			origin := fmt.Sprintf("the dependencies of %s", target.Address)
			deps, err := g.ResolveAddresses(target.Dependencies, target.Address, origin)
			if err != nil {
				return TransitiveTargets{}, err
			}
			sort.Slice(deps, func(i, j int) bool { return deps[i].Spec() < deps[j].Spec() })
			for _, addr := range deps {
				if _, seen := visited[addr]; seen {
					continue
				}
				visited[addr] = struct{}{}
				dep := g.targets[addr]
				result.Dependencies = append(result.Dependencies, dep)
				next = append(next, dep)
			}
		}
		frontier = next
	}

	return result, nil
}

// SourcePaths returns the build-root-relative paths of every source
// file declared by the given targets, deduplicated and sorted. The
// caller captures these into a digest.
func SourcePaths(targets []*Target) []string {
	seen := make(map[string]struct{})
	for _, target := range targets {
		for _, source := range target.Sources {
			full := source
			if target.Address.Dir != "" {
				full = target.Address.Dir + "/" + source
			}
			seen[full] = struct{}{}
		}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
