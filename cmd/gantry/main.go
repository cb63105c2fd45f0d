// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/gantry-build/gantry/cmd/gantry/commands"
	"github.com/gantry-build/gantry/lib/process"
)

func main() {
	if err := run(); err != nil {
		// "gantry run" propagates the executed process's exit code via
		// an error carrying ExitCode(). Don't print a redundant
		// "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
