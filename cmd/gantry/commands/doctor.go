// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/pflag"

	"github.com/gantry-build/gantry/cmd/gantry/cli"
	"github.com/gantry-build/gantry/sandbox"
)

// doctorCommand builds "gantry doctor": diagnose the local setup and
// report what gantry can and cannot do here. Exits 1 when a required
// check fails.
func doctorCommand() *cli.Command {
	var flags commonFlags

	return &cli.Command{
		Name:    "doctor",
		Summary: "Diagnose the local gantry setup",
		Description: `Check the local environment: configuration, build root discovery,
store access, shell, and sandbox isolation support. Optional
capabilities (like bwrap) are reported but do not fail the check.`,
		Usage: "gantry doctor [flags]",
		Examples: []cli.Example{
			{
				Description: "Check the environment before first use",
				Command:     "gantry doctor",
			},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("doctor", pflag.ContinueOnError)
			fs.StringVar(&flags.configPath, "config", "", "config file (default: $GANTRY_CONFIG)")
			fs.StringVar(&flags.rootDir, "root", "", "build root (default: walk up from the working directory)")
			return fs
		},
		Run: func(args []string) error {
			return runDoctor(flags)
		},
	}
}

type check struct {
	name     string
	detail   string
	ok       bool
	optional bool
}

func runDoctor(flags commonFlags) error {
	var checks []check
	add := func(name string, err error, detail string, optional bool) {
		c := check{name: name, ok: err == nil, detail: detail, optional: optional}
		if err != nil {
			c.detail = err.Error()
		}
		checks = append(checks, c)
	}

	cfg, err := loadConfig(flags.configPath)
	add("configuration", err, "defaults and config file parse cleanly", false)

	if cfg != nil {
		_, shellErr := exec.LookPath(cfg.Execution.Shell)
		add("shell", shellErr, cfg.Execution.Shell, false)

		storeErr := os.MkdirAll(cfg.Store.Path, 0o755)
		add("store", storeErr, cfg.Store.Path, false)
	}

	root, rootErr := resolveBuildRoot(flags.rootDir)
	detail := "no TARGETS.jsonc found above the working directory"
	if rootErr == nil {
		detail = root
	}
	add("build root", rootErr, detail, true)

	capabilities := sandbox.DetectCapabilities()
	if capabilities.BwrapAvailable {
		add("bwrap isolation", nil,
			fmt.Sprintf("%s (%s)", capabilities.BwrapPath, capabilities.BwrapVersion), true)
	} else {
		add("bwrap isolation", fmt.Errorf("bwrap not found; isolation \"bwrap\" unavailable"), "", true)
	}

	failed := false
	for _, c := range checks {
		mark := styleGood.Render("ok")
		if !c.ok {
			if c.optional {
				mark = styleDim.Render("--")
			} else {
				mark = styleBad.Render("!!")
				failed = true
			}
		}
		fmt.Fprintf(os.Stdout, "%s %s\t%s\n", mark, styleHeader.Render(c.name), c.detail)
	}

	if failed {
		return &cli.ExitError{Code: 1}
	}
	return nil
}
