// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/gantry-build/gantry/cmd/gantry/cli"
	"github.com/gantry-build/gantry/lib/adhoc"
	"github.com/gantry-build/gantry/lib/build"
	"github.com/gantry-build/gantry/lib/config"
	"github.com/gantry-build/gantry/lib/digest"
	"github.com/gantry-build/gantry/lib/execenv"
	"github.com/gantry-build/gantry/lib/fabric"
	"github.com/gantry-build/gantry/lib/graph"
	"github.com/gantry-build/gantry/sandbox"
)

// commonFlags are shared by every command that touches the build
// graph or the store.
type commonFlags struct {
	configPath string
	rootDir    string
}

// runFlags extend commonFlags with execution overrides. Flag values
// override the config file, which overrides defaults.
type runFlags struct {
	commonFlags
	isolation     string
	keepSandboxes bool
	outputDir     string
}

// loadConfig loads the config file named by --config, or falls back
// to GANTRY_CONFIG and built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// logLevel maps the configured level name to a slog level. Validate
// has already rejected unknown names.
func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// engine wires the full execution stack for one CLI invocation:
// build graph, content store, environment resolver, and sandbox
// executor.
type engine struct {
	config   *config.Config
	logger   *slog.Logger
	root     string
	graph    *graph.Graph
	store    *digest.Store
	fabric   *fabric.Fabric
	builds   *build.Service
	resolver *execenv.Resolver
	executor *sandbox.Executor
	runner   *adhoc.Runner
}

// newGraphEngine loads the config and build graph without touching
// the store or sandbox roots. Used by read-only commands (targets).
func newGraphEngine(flags commonFlags) (*engine, error) {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}
	logger := cli.NewCommandLogger(logLevel(cfg.Log.Level))

	root, err := resolveBuildRoot(flags.rootDir)
	if err != nil {
		return nil, err
	}
	g, err := graph.Load(root)
	if err != nil {
		return nil, err
	}

	return &engine{
		config: cfg,
		logger: logger,
		root:   root,
		graph:  g,
	}, nil
}

// newEngine builds the complete stack. The store and scratch roots
// are created on first use.
func newEngine(flags runFlags) (*engine, error) {
	e, err := newGraphEngine(flags.commonFlags)
	if err != nil {
		return nil, err
	}
	cfg := e.config

	if flags.isolation != "" {
		cfg.Execution.Isolation = flags.isolation
	}
	if flags.keepSandboxes {
		cfg.Execution.KeepSandboxes = true
	}

	compression, err := digest.ParseCompressionTag(cfg.Store.Compression)
	if err != nil {
		return nil, fmt.Errorf("store.compression: %w", err)
	}
	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, err
	}
	store, err := digest.NewStore(digest.StoreConfig{
		Path:          cfg.Store.Path,
		Compression:   compression,
		EncryptionKey: key,
	})
	if err != nil {
		return nil, err
	}

	isolation, err := sandbox.ParseIsolation(cfg.Execution.Isolation)
	if err != nil {
		return nil, err
	}
	executor, err := sandbox.New(sandbox.Config{
		Store:         store,
		ScratchRoot:   cfg.Execution.ScratchRoot,
		CacheRoot:     cfg.Execution.CacheRoot,
		Isolation:     isolation,
		KeepSandboxes: cfg.Execution.KeepSandboxes,
		Logger:        e.logger,
	})
	if err != nil {
		return nil, err
	}

	e.store = store
	e.fabric = fabric.New(cfg.Execution.Parallelism)
	e.builds = build.NewService(e.graph, store, e.root)
	e.resolver = execenv.NewResolver(execenv.ResolverConfig{
		Graph:    e.graph,
		Store:    store,
		Fabric:   e.fabric,
		Sources:  e.builds,
		Packager: e.builds,
		Runner:   e.builds,
		Logger:   e.logger,
		Shell:    cfg.Execution.Shell,
	})
	e.executor = executor
	e.runner = adhoc.NewRunner(adhoc.RunnerConfig{
		Store:    store,
		Executor: executor,
		Logger:   e.logger,
		Shell:    cfg.Execution.Shell,
	})
	return e, nil
}

// resolveBuildRoot finds the build root from the --root flag or by
// walking up from the current directory.
func resolveBuildRoot(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	return build.FindBuildRoot(dir)
}

// resolveTargets resolves command-line specs against the loaded
// graph. Specs are build-root-relative.
func (e *engine) resolveTargets(specs []string) ([]*graph.Target, error) {
	addresses, err := e.graph.ResolveAddresses(specs, graph.Address{}, "the command line")
	if err != nil {
		return nil, err
	}
	targets := make([]*graph.Target, len(addresses))
	for i, addr := range addresses {
		t, err := e.graph.Target(addr)
		if err != nil {
			return nil, err
		}
		targets[i] = t
	}
	return targets, nil
}
