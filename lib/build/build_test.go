// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gantry-build/gantry/lib/digest"
	"github.com/gantry-build/gantry/lib/graph"
)

func newWorkspace(t *testing.T, manifests map[string]string, files map[string]string) (*Service, *graph.Graph) {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	raw := make(map[string][]byte, len(manifests))
	for dir, data := range manifests {
		raw[dir] = []byte(data)
	}
	g, err := graph.LoadManifestData(raw)
	if err != nil {
		t.Fatalf("LoadManifestData: %v", err)
	}
	store, err := digest.NewStore(digest.StoreConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return NewService(g, store, root), g
}

func TestCaptureSources(t *testing.T) {
	service, g := newWorkspace(t,
		map[string]string{"lib": `{"targets": {"lib": {"sources": ["a.txt", "b.txt"]}}}`},
		map[string]string{"lib/a.txt": "alpha", "lib/b.txt": "beta"})

	d, err := service.CaptureSources(context.Background(), g.Targets())
	if err != nil {
		t.Fatalf("CaptureSources: %v", err)
	}
	content, err := service.store.ReadFile(d, "lib/a.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(content) != "alpha" {
		t.Fatalf("content = %q", content)
	}
}

func TestCaptureSourcesMissingFile(t *testing.T) {
	service, g := newWorkspace(t,
		map[string]string{"lib": `{"targets": {"lib": {"sources": ["gone.txt"]}}}`},
		nil)

	if _, err := service.CaptureSources(context.Background(), g.Targets()); err == nil {
		t.Fatal("missing declared source accepted")
	}
}

func TestBuildPackagePrefixesOutput(t *testing.T) {
	service, g := newWorkspace(t,
		map[string]string{"pkg": `{"targets": {"pkg": {
			"sources": ["tool.sh"],
			"package": {"output": "dist"}
		}}}`},
		map[string]string{"pkg/tool.sh": "#!/bin/sh\n"})

	target, _ := g.Target(graph.Address{Dir: "pkg", Name: "pkg"})
	sets := graph.FieldSetsFor(target, graph.CapabilityPackage)
	if len(sets) != 1 {
		t.Fatalf("field-sets: %v", sets)
	}

	d, err := service.BuildPackage(context.Background(), sets[0])
	if err != nil {
		t.Fatalf("BuildPackage: %v", err)
	}
	snapshot, err := service.store.SnapshotOf(d)
	if err != nil {
		t.Fatalf("SnapshotOf: %v", err)
	}
	if len(snapshot.Files) != 1 || snapshot.Files[0] != "dist/pkg/tool.sh" {
		t.Fatalf("files = %v", snapshot.Files)
	}
}

func TestRunSpecGathersClosure(t *testing.T) {
	service, g := newWorkspace(t,
		map[string]string{
			"tool": `{"targets": {"tool": {
				"sources": ["tool.sh"],
				"dependencies": ["data:data"],
				"run": {"argv": ["./tool/tool.sh"], "env": {"MODE": "fast"}}
			}}}`,
			"data": `{"targets": {"data": {"sources": ["table.txt"]}}}`,
		},
		map[string]string{"tool/tool.sh": "#!/bin/sh\n", "data/table.txt": "1 2 3\n"})

	target, _ := g.Target(graph.Address{Dir: "tool", Name: "tool"})
	set, _, err := graph.FindUnique(graph.CapabilityRun, []*graph.Target{target})
	if err != nil {
		t.Fatalf("FindUnique: %v", err)
	}

	spec, err := service.RunSpec(context.Background(), set)
	if err != nil {
		t.Fatalf("RunSpec: %v", err)
	}
	if spec.Argv[0] != "./tool/tool.sh" {
		t.Fatalf("argv = %v", spec.Argv)
	}
	if spec.ExtraEnv["MODE"] != "fast" {
		t.Fatalf("env = %v", spec.ExtraEnv)
	}
	snapshot, err := service.store.SnapshotOf(spec.Digest)
	if err != nil {
		t.Fatalf("SnapshotOf: %v", err)
	}
	want := []string{"data/table.txt", "tool/tool.sh"}
	if len(snapshot.Files) != 2 || snapshot.Files[0] != want[0] || snapshot.Files[1] != want[1] {
		t.Fatalf("files = %v, want %v", snapshot.Files, want)
	}
}

func TestFindBuildRoot(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, graph.ManifestName), []byte(`{"targets":{}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	found, err := FindBuildRoot(nested)
	if err != nil {
		t.Fatalf("FindBuildRoot: %v", err)
	}
	if found != root {
		t.Fatalf("found %q, want %q", found, root)
	}
}

func TestSourceFilesReportsMissing(t *testing.T) {
	service, g := newWorkspace(t,
		map[string]string{"lib": `{"targets": {"lib": {"sources": ["here.txt", "gone.txt"]}}}`},
		map[string]string{"lib/here.txt": "x"})

	present, missing := service.SourceFiles(g.Targets())
	if len(present) != 1 || present[0] != "lib/here.txt" {
		t.Fatalf("present = %v", present)
	}
	if len(missing) != 1 || missing[0] != "lib/gone.txt" {
		t.Fatalf("missing = %v", missing)
	}
}
