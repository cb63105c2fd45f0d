// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the gantry CLI command tree. The gantry
// binary is thin glue: every command wires the engine packages
// (graph, execenv, adhoc, sandbox) together and stays free of engine
// logic itself.
package commands

import (
	"fmt"

	"github.com/gantry-build/gantry/cmd/gantry/cli"
	"github.com/gantry-build/gantry/lib/version"
)

// Root builds and returns the complete gantry CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "gantry",
		Description: `Gantry: content-addressed execution environments for build targets.

Targets declared in TARGETS.jsonc manifests are resolved into
hermetic input trees and executed in sandboxed scratch directories.`,
		Subcommands: []*cli.Command{
			runCommand(),
			envCommand(),
			targetsCommand(),
			doctorCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("gantry %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Diagnose the local setup (start here)",
				Command:     "gantry doctor",
			},
			{
				Description: "See what targets exist",
				Command:     "gantry targets",
			},
			{
				Description: "Run a target",
				Command:     "gantry run tools/fmt",
			},
			{
				Description: "Inspect a target's execution environment",
				Command:     "gantry env src/app:serve",
			},
		},
	}
}
