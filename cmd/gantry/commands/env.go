// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/pflag"

	"github.com/gantry-build/gantry/cmd/gantry/cli"
	"github.com/gantry-build/gantry/lib/execenv"
)

// envCommand builds "gantry env": resolve a target's execution
// environment and print what it contains without running anything.
func envCommand() *cli.Command {
	var flags runFlags
	var showFiles bool

	return &cli.Command{
		Name:    "env",
		Summary: "Resolve and describe a target's execution environment",
		Description: `Resolve the execution environment of a target and print its
digest, contents summary, and runnable-dependency shims. Nothing is
executed; artifacts of packageable dependencies are built so the
printed digest matches what "gantry run" would use.`,
		Usage: "gantry env <target> [flags]",
		Examples: []cli.Example{
			{
				Description: "Inspect what a target's sandbox would contain",
				Command:     "gantry env src/app:serve",
			},
			{
				Description: "List every file in the resolved tree",
				Command:     "gantry env src/app:serve --files",
			},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("env", pflag.ContinueOnError)
			fs.StringVar(&flags.configPath, "config", "", "config file (default: $GANTRY_CONFIG)")
			fs.StringVar(&flags.rootDir, "root", "", "build root (default: walk up from the working directory)")
			fs.BoolVar(&showFiles, "files", false, "list every file in the resolved tree")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one target is required")
			}
			return describeEnvironment(args[0], flags, showFiles)
		},
	}
}

func describeEnvironment(spec string, flags runFlags, showFiles bool) error {
	ctx := context.Background()

	e, err := newEngine(flags)
	if err != nil {
		return err
	}
	targets, err := e.resolveTargets([]string{spec})
	if err != nil {
		return err
	}
	target := targets[0]

	resolved, err := e.resolver.Resolve(ctx, execenv.RequestFor(target))
	if err != nil {
		return err
	}
	snapshot, err := e.store.SnapshotOf(resolved.Digest)
	if err != nil {
		return err
	}

	out := os.Stdout
	fmt.Fprintf(out, "%s %s\n", styleHeader.Render("target"), styleAddress.Render(target.Address.Spec()))
	fmt.Fprintf(out, "%s %s\n", styleHeader.Render("digest"), styleDigest.Render(resolved.Digest.Fingerprint()))
	fmt.Fprintf(out, "%s %d files, %d directories\n",
		styleHeader.Render("tree  "), len(snapshot.Files), len(snapshot.Dirs))

	if resolved.Runnables != nil {
		info := resolved.Runnables
		fmt.Fprintf(out, "%s %s\n", styleHeader.Render("shims "), info.PathComponent)
		for _, name := range sortedKeys(info.ImmutableInputDigests) {
			fmt.Fprintf(out, "  %s %s %s\n",
				styleDim.Render("mount"), name, styleDigest.Render(info.ImmutableInputDigests[name].String()))
		}
		for _, name := range sortedKeys(info.AppendOnlyCaches) {
			fmt.Fprintf(out, "  %s %s -> %s\n",
				styleDim.Render("cache"), name, info.AppendOnlyCaches[name])
		}
	}

	if showFiles {
		for _, file := range snapshot.Files {
			fmt.Fprintf(out, "  %s\n", file)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
