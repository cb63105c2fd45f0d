// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package execenv

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/gantry-build/gantry/lib/digest"
	"github.com/gantry-build/gantry/lib/fabric"
	"github.com/gantry-build/gantry/lib/graph"
)

func newTestStore(t *testing.T) *digest.Store {
	t.Helper()
	store, err := digest.NewStore(digest.StoreConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

// fakeSources captures target source paths as literal file contents,
// so tests can assert on the resulting tree.
type fakeSources struct {
	store *digest.Store
}

func (f *fakeSources) CaptureSources(_ context.Context, targets []*graph.Target) (digest.Digest, error) {
	paths := graph.SourcePaths(targets)
	files := make([]digest.FileContent, len(paths))
	for i, p := range paths {
		files[i] = digest.FileContent{Path: p, Content: []byte("source:" + p)}
	}
	return f.store.CreateFromFiles(files)
}

type fakePackager struct {
	store  *digest.Store
	builds map[graph.Address]int
}

func (f *fakePackager) BuildPackage(_ context.Context, set graph.FieldSet) (digest.Digest, error) {
	if f.builds != nil {
		f.builds[set.Address()]++
	}
	pkg := set.(graph.PackageFieldSet)
	return f.store.CreateFromFiles([]digest.FileContent{
		{Path: pkg.Output + "/artifact.bin", Content: []byte(pkg.Addr.Spec()), Executable: true},
	})
}

// fakeRunner serves canned run specs keyed by target address spec.
type fakeRunner struct {
	specs map[string]RunSpec
}

func (f *fakeRunner) RunSpec(_ context.Context, set graph.FieldSet) (RunSpec, error) {
	spec, ok := f.specs[set.Address().Spec()]
	if !ok {
		return RunSpec{}, errors.New("no run spec for " + set.Address().Spec())
	}
	return spec, nil
}

func newTestResolver(t *testing.T, g *graph.Graph, store *digest.Store, runner *fakeRunner) *Resolver {
	t.Helper()
	if runner == nil {
		runner = &fakeRunner{}
	}
	return NewResolver(ResolverConfig{
		Graph:    g,
		Store:    store,
		Fabric:   fabric.New(4),
		Sources:  &fakeSources{store: store},
		Packager: &fakePackager{store: store},
		Runner:   runner,
		Logger:   slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		Shell:    "/bin/bash",
	})
}

func mustGraph(t *testing.T, manifests map[string]string) *graph.Graph {
	t.Helper()
	raw := make(map[string][]byte, len(manifests))
	for dir, data := range manifests {
		raw[dir] = []byte(data)
	}
	g, err := graph.LoadManifestData(raw)
	if err != nil {
		t.Fatalf("LoadManifestData: %v", err)
	}
	return g
}

func TestShimScriptNoEnv(t *testing.T) {
	script, err := shimScript("/bin/bash", []string{"/bin/fmt", "-w"}, nil)
	if err != nil {
		t.Fatalf("shimScript: %v", err)
	}
	want := "#!/bin/bash\nexec /bin/fmt -w \"$@\"\n"
	if string(script) != want {
		t.Fatalf("script = %q, want %q", script, want)
	}
}

func TestShimScriptWithEnv(t *testing.T) {
	script, err := shimScript("/bin/bash", []string{"tool", "a b"}, map[string]string{
		"PLAIN":  "1",
		"SPACED": "two words",
	})
	if err != nil {
		t.Fatalf("shimScript: %v", err)
	}
	text := string(script)
	if !strings.HasPrefix(text, "#!/bin/bash\n") {
		t.Fatalf("shebang missing: %q", text)
	}
	if !strings.Contains(text, "export PLAIN=1\n") {
		t.Fatalf("plain export wrong: %q", text)
	}
	if !strings.Contains(text, "export SPACED='two words'\n") {
		t.Fatalf("spaced export wrong: %q", text)
	}
	if !strings.Contains(text, "exec tool 'a b' \"$@\"\n") {
		t.Fatalf("exec line wrong: %q", text)
	}
}

func TestSafeMergeDisjointUnion(t *testing.T) {
	dst := map[string]string{"a": "1"}
	if err := safeMerge(dst, map[string]string{"b": "2", "c": "3"}); err != nil {
		t.Fatalf("safeMerge: %v", err)
	}
	if len(dst) != 3 || dst["b"] != "2" || dst["c"] != "3" {
		t.Fatalf("dst = %v", dst)
	}
}

func TestSafeMergeEqualValuesNotConflict(t *testing.T) {
	dst := map[string]string{"X": "1"}
	if err := safeMerge(dst, map[string]string{"X": "1"}); err != nil {
		t.Fatalf("equal values reported as conflict: %v", err)
	}
}

func TestSafeMergeConflictCommutative(t *testing.T) {
	a := map[string]string{"X": "1"}
	b := map[string]string{"X": "2"}

	for _, order := range [][2]map[string]string{{a, b}, {b, a}} {
		dst := make(map[string]string)
		if err := safeMerge(dst, order[0]); err != nil {
			t.Fatalf("first merge: %v", err)
		}
		err := safeMerge(dst, order[1])
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("error = %v (%T)", err, err)
		}
		if conflict.Key != "X" {
			t.Fatalf("conflict key = %q", conflict.Key)
		}
	}
}

const runnableManifests = `{
	"targets": {
		"app": {
			"run": {"argv": ["./main"]},
			"execution_dependencies": [
				{"name": "fmt", "address": ":formatter"}
			]
		},
		"formatter": {
			"run": {"argv": ["/bin/fmt", "-w"]}
		}
	}
}`

func TestResolveRunnableShim(t *testing.T) {
	store := newTestStore(t)
	g := mustGraph(t, map[string]string{"src/app": runnableManifests})
	runner := &fakeRunner{specs: map[string]RunSpec{
		"src/app:formatter": {Digest: digest.Empty, Argv: []string{"/bin/fmt", "-w"}},
	}}
	resolver := newTestResolver(t, g, store, runner)

	app, err := g.Target(graph.Address{Dir: "src/app", Name: "app"})
	if err != nil {
		t.Fatalf("Target: %v", err)
	}
	resolved, err := resolver.Resolve(context.Background(), RequestFor(app))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Runnables == nil {
		t.Fatal("no runnable info produced")
	}
	info := resolved.Runnables
	if !strings.HasPrefix(info.PathComponent, "shims_") {
		t.Fatalf("path component %q", info.PathComponent)
	}

	shimDigest, ok := info.ImmutableInputDigests[info.PathComponent]
	if !ok {
		t.Fatalf("shim digest not registered under %q: %v", info.PathComponent, info.ImmutableInputDigests)
	}
	content, err := store.ReadFile(shimDigest, "fmt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "#!/bin/bash\nexec /bin/fmt -w \"$@\"\n"
	if string(content) != want {
		t.Fatalf("shim = %q, want %q", content, want)
	}
}

func runnablePair() map[string]string {
	return map[string]string{"src": `{
		"targets": {
			"app": {
				"run": {"argv": ["./main"]},
				"execution_dependencies": [
					{"name": "a", "address": ":a"},
					{"name": "b", "address": ":b"}
				]
			},
			"a": {"run": {"argv": ["/bin/a"]}},
			"b": {"run": {"argv": ["/bin/b"]}}
		}
	}`}
}

func TestResolveRunnablesSharedEnv(t *testing.T) {
	store := newTestStore(t)
	g := mustGraph(t, runnablePair())
	runner := &fakeRunner{specs: map[string]RunSpec{
		"src:a": {Digest: digest.Empty, Argv: []string{"/bin/a"}, ExtraEnv: map[string]string{"X": "1"}},
		"src:b": {Digest: digest.Empty, Argv: []string{"/bin/b"}, ExtraEnv: map[string]string{"X": "1"}},
	}}
	resolver := newTestResolver(t, g, store, runner)

	app, _ := g.Target(graph.Address{Dir: "src", Name: "app"})
	if _, err := resolver.Resolve(context.Background(), RequestFor(app)); err != nil {
		t.Fatalf("equal shared env rejected: %v", err)
	}
}

func TestResolveRunnablesIncompatibleEnv(t *testing.T) {
	store := newTestStore(t)
	g := mustGraph(t, runnablePair())
	runner := &fakeRunner{specs: map[string]RunSpec{
		"src:a": {Digest: digest.Empty, Argv: []string{"/bin/a"}, ExtraEnv: map[string]string{"X": "1"}},
		"src:b": {Digest: digest.Empty, Argv: []string{"/bin/b"}, ExtraEnv: map[string]string{"X": "2"}},
	}}
	resolver := newTestResolver(t, g, store, runner)

	app, _ := g.Target(graph.Address{Dir: "src", Name: "app"})
	_, err := resolver.Resolve(context.Background(), RequestFor(app))
	var incompatible *IncompatibleEnvironmentsError
	if !errors.As(err, &incompatible) {
		t.Fatalf("error = %v (%T)", err, err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.Key != "X" {
		t.Fatalf("conflict not named: %v", err)
	}
}

func TestResolveExplicitDependencies(t *testing.T) {
	store := newTestStore(t)
	g := mustGraph(t, map[string]string{
		"app": `{"targets": {"app": {
			"run": {"argv": ["./run"]},
			"execution_dependencies": ["lib:lib"]
		}}}`,
		"lib": `{"targets": {"lib": {
			"sources": ["util.sh"],
			"dependencies": ["pkg:pkg"]
		}}}`,
		"pkg": `{"targets": {"pkg": {
			"sources": ["pkg.src"],
			"package": {"output": "dist"}
		}}}`,
	})
	resolver := newTestResolver(t, g, store, nil)

	app, _ := g.Target(graph.Address{Dir: "app", Name: "app"})
	resolved, err := resolver.Resolve(context.Background(), RequestFor(app))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Runnables != nil {
		t.Fatal("unexpected runnable info")
	}

	snapshot, err := store.SnapshotOf(resolved.Digest)
	if err != nil {
		t.Fatalf("SnapshotOf: %v", err)
	}
	for _, want := range []string{"lib/util.sh", "pkg/pkg.src", "dist/artifact.bin"} {
		if !containsString(snapshot.Files, want) {
			t.Fatalf("missing %q in %v", want, snapshot.Files)
		}
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func TestResolveUnresolvableAborts(t *testing.T) {
	store := newTestStore(t)
	g := mustGraph(t, map[string]string{
		"app": `{"targets": {"app": {
			"run": {"argv": ["./run"]},
			"execution_dependencies": ["missing:missing"]
		}}}`,
	})
	resolver := newTestResolver(t, g, store, nil)

	app, _ := g.Target(graph.Address{Dir: "app", Name: "app"})
	resolved, err := resolver.Resolve(context.Background(), RequestFor(app))
	var unresolvable *graph.UnresolvableAddressError
	if !errors.As(err, &unresolvable) {
		t.Fatalf("error = %v (%T)", err, err)
	}
	if !resolved.Digest.IsZero() {
		t.Fatal("partial digest produced on failure")
	}
}

func TestResolveLegacyFallbackWarns(t *testing.T) {
	store := newTestStore(t)
	g := mustGraph(t, map[string]string{
		"app": `{"targets": {"app": {
			"run": {"argv": ["./run"]},
			"dependencies": ["lib:lib"]
		}}}`,
		"lib": `{"targets": {"lib": {"sources": ["util.sh"]}}}`,
	})

	var logBuf bytes.Buffer
	resolver := NewResolver(ResolverConfig{
		Graph:    g,
		Store:    store,
		Fabric:   fabric.New(2),
		Sources:  &fakeSources{store: store},
		Packager: &fakePackager{store: store},
		Runner:   &fakeRunner{},
		Logger:   slog.New(slog.NewTextHandler(&logBuf, nil)),
	})

	app, _ := g.Target(graph.Address{Dir: "app", Name: "app"})
	resolved, err := resolver.Resolve(context.Background(), RequestFor(app))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !strings.Contains(logBuf.String(), "deprecated") {
		t.Fatalf("no deprecation warning logged: %q", logBuf.String())
	}

	// The fallback gathers dependencies only; the owner's sources are
	// the caller's concern.
	snapshot, err := store.SnapshotOf(resolved.Digest)
	if err != nil {
		t.Fatalf("SnapshotOf: %v", err)
	}
	if !containsString(snapshot.Files, "lib/util.sh") {
		t.Fatalf("dependency sources missing: %v", snapshot.Files)
	}
}

func TestArtifactBuildsMemoized(t *testing.T) {
	store := newTestStore(t)
	g := mustGraph(t, map[string]string{
		"app": `{"targets": {"app": {
			"run": {"argv": ["./run"]},
			"execution_dependencies": ["pkg:pkg"]
		}}}`,
		"pkg": `{"targets": {"pkg": {"package": {"output": "dist"}}}}`,
	})
	packager := &fakePackager{store: store, builds: make(map[graph.Address]int)}
	resolver := NewResolver(ResolverConfig{
		Graph:    g,
		Store:    store,
		Fabric:   fabric.New(4),
		Sources:  &fakeSources{store: store},
		Packager: packager,
		Runner:   &fakeRunner{},
		Logger:   slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})

	app, _ := g.Target(graph.Address{Dir: "app", Name: "app"})
	for i := 0; i < 3; i++ {
		if _, err := resolver.Resolve(context.Background(), RequestFor(app)); err != nil {
			t.Fatalf("Resolve #%d: %v", i, err)
		}
	}
	if got := packager.builds[graph.Address{Dir: "pkg", Name: "pkg"}]; got != 1 {
		t.Fatalf("package built %d times, want 1", got)
	}
}
