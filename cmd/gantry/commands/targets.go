// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/gantry-build/gantry/cmd/gantry/cli"
	"github.com/gantry-build/gantry/lib/graph"
)

// targetsCommand builds "gantry targets": list the build graph's
// targets with their capabilities.
func targetsCommand() *cli.Command {
	var flags commonFlags

	return &cli.Command{
		Name:    "targets",
		Summary: "List targets in the build graph",
		Description: `List every target loaded from the build root's manifests. With a
directory argument, only targets under that directory are shown.`,
		Usage: "gantry targets [dir] [flags]",
		Examples: []cli.Example{
			{
				Description: "List all targets",
				Command:     "gantry targets",
			},
			{
				Description: "List targets under src/",
				Command:     "gantry targets src",
			},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("targets", pflag.ContinueOnError)
			fs.StringVar(&flags.configPath, "config", "", "config file (default: $GANTRY_CONFIG)")
			fs.StringVar(&flags.rootDir, "root", "", "build root (default: walk up from the working directory)")
			return fs
		},
		Run: func(args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("at most one directory argument is allowed")
			}
			under := ""
			if len(args) == 1 {
				under = strings.Trim(args[0], "/")
			}
			return listTargets(under, flags)
		},
	}
}

func listTargets(under string, flags commonFlags) error {
	e, err := newGraphEngine(flags)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	count := 0
	for _, target := range e.graph.Targets() {
		if under != "" && !underDir(target.Address.Dir, under) {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n",
			styleAddress.Render(target.Address.Spec()),
			capabilitySummary(target),
			styleDim.Render(fmt.Sprintf("%d sources", len(target.Sources))))
		count++
	}
	tw.Flush()
	if count == 0 {
		fmt.Fprintln(os.Stderr, styleDim.Render("no targets found"))
	}
	return nil
}

// underDir reports whether dir equals or is nested below under.
func underDir(dir, under string) bool {
	return dir == under || strings.HasPrefix(dir, under+"/")
}

// capabilitySummary names the capabilities a target offers, in a
// fixed order.
func capabilitySummary(t *graph.Target) string {
	var caps []string
	if t.Run != nil {
		caps = append(caps, "run")
	}
	if t.Script != nil {
		caps = append(caps, "script")
	}
	if t.Package != nil {
		caps = append(caps, "package")
	}
	if len(caps) == 0 {
		return styleDim.Render("files")
	}
	return styleGood.Render(strings.Join(caps, ","))
}
