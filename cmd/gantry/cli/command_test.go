// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "gantry",
		Subcommands: []*Command{
			{
				Name: "version",
				Run: func(args []string) error {
					called = "version"
					return nil
				},
			},
			{
				Name: "run",
				Run: func(args []string) error {
					called = "run"
					return nil
				},
			},
		},
	}

	if err := root.Execute([]string{"run"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "run" {
		t.Errorf("dispatched to %q, want %q", called, "run")
	}
}

func TestCommand_Execute_PassesRemainingArgs(t *testing.T) {
	var receivedArgs []string

	root := &Command{
		Name: "gantry",
		Subcommands: []*Command{
			{
				Name: "run",
				Run: func(args []string) error {
					receivedArgs = args
					return nil
				},
			},
		},
	}

	if err := root.Execute([]string{"run", "src/app:serve", "--", "-v"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	want := []string{"src/app:serve", "--", "-v"}
	if len(receivedArgs) != len(want) {
		t.Fatalf("args = %v, want %v", receivedArgs, want)
	}
	for i := range want {
		if receivedArgs[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, receivedArgs[i], want[i])
		}
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var isolation string
	var target string

	command := &Command{
		Name: "run",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flagSet.StringVar(&isolation, "isolation", "none", "sandbox isolation mode")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				target = args[0]
			}
			return nil
		},
	}

	if err := command.Execute([]string{"--isolation", "bwrap", "src/app:serve"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if isolation != "bwrap" {
		t.Errorf("isolation = %q, want %q", isolation, "bwrap")
	}
	if target != "src/app:serve" {
		t.Errorf("target = %q, want %q", target, "src/app:serve")
	}
}

func TestCommand_Execute_UnknownCommandSuggestion(t *testing.T) {
	root := &Command{
		Name: "gantry",
		Subcommands: []*Command{
			{Name: "run", Run: func(args []string) error { return nil }},
			{Name: "targets", Run: func(args []string) error { return nil }},
		},
	}

	err := root.Execute([]string{"tragets"})
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), `did you mean "targets"`) {
		t.Errorf("error = %q, want suggestion for targets", err.Error())
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "run",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flagSet.Bool("keep-sandboxes", false, "retain scratch directories")
			flagSet.String("isolation", "none", "sandbox isolation mode")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--isolaton=bwrap"})
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
	if !strings.Contains(err.Error(), "--isolation") {
		t.Errorf("error = %q, want suggestion for --isolation", err.Error())
	}
}

func TestCommand_Execute_HelpFlag(t *testing.T) {
	root := &Command{
		Name:    "gantry",
		Summary: "content-addressed target runner",
		Subcommands: []*Command{
			{Name: "run", Summary: "run a target", Run: func(args []string) error { return nil }},
		},
	}

	// Help must not be an error.
	if err := root.Execute([]string{"--help"}); err != nil {
		t.Fatalf("Execute(--help) error: %v", err)
	}
}

func TestCommand_Execute_SubcommandRequired(t *testing.T) {
	root := &Command{
		Name: "gantry",
		Subcommands: []*Command{
			{Name: "run", Run: func(args []string) error { return nil }},
		},
	}

	err := root.Execute(nil)
	if err == nil {
		t.Fatal("expected error when no subcommand given")
	}
	if !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("error = %q, want subcommand required", err.Error())
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	root := &Command{
		Name:        "gantry",
		Description: "Gantry: content-addressed execution environments for build targets.",
		Subcommands: []*Command{
			{Name: "run", Summary: "resolve and execute a runnable target"},
			{Name: "targets", Summary: "list targets in the build graph"},
		},
		Examples: []Example{
			{Description: "Run the formatter over the tree", Command: "gantry run tools/fmt"},
		},
	}

	var buf bytes.Buffer
	root.PrintHelp(&buf)
	out := buf.String()

	for _, want := range []string{
		"Gantry: content-addressed execution environments",
		"Commands:",
		"run",
		"resolve and execute a runnable target",
		"targets",
		"gantry run tools/fmt",
		"Run 'gantry <command> --help'",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("help output missing %q:\n%s", want, out)
		}
	}
}

func TestCommand_fullName(t *testing.T) {
	root := &Command{Name: "gantry"}
	child := &Command{Name: "env", parent: root}
	if got := child.fullName(); got != "gantry env" {
		t.Errorf("fullName() = %q, want %q", got, "gantry env")
	}
}
