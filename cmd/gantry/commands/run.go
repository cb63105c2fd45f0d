// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/gantry-build/gantry/cmd/gantry/cli"
	"github.com/gantry-build/gantry/lib/adhoc"
	"github.com/gantry-build/gantry/lib/execenv"
	"github.com/gantry-build/gantry/lib/graph"
	"github.com/gantry-build/gantry/sandbox"
)

// runCommand builds "gantry run": resolve the unique runnable among
// the named targets, assemble its execution environment, and execute
// it in a sandbox, propagating the process's exit code.
func runCommand() *cli.Command {
	var flags runFlags
	var timeout time.Duration
	var flagSet *pflag.FlagSet

	return &cli.Command{
		Name:    "run",
		Summary: "Resolve and execute a runnable target",
		Description: `Run a target in a sandboxed execution environment.

The named targets are searched for exactly one runnable: a target
with a run declaration, or failing that, a target with a script.
Its execution dependencies are resolved into a content-addressed
input tree, the process executes in a fresh scratch directory, and
gantry exits with the process's exit code.

Arguments after "--" are appended to the target's argv.`,
		Usage: "gantry run <target>... [flags] [-- args...]",
		Examples: []cli.Example{
			{
				Description: "Run the formatter target",
				Command:     "gantry run tools/fmt",
			},
			{
				Description: "Pass extra arguments through to the process",
				Command:     "gantry run src/app:serve -- --port 8080",
			},
			{
				Description: "Keep the scratch directory for inspection",
				Command:     "gantry run tools/fmt --keep-sandboxes",
			},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
			fs.StringVar(&flags.configPath, "config", "", "config file (default: $GANTRY_CONFIG)")
			fs.StringVar(&flags.rootDir, "root", "", "build root (default: walk up from the working directory)")
			fs.StringVar(&flags.isolation, "isolation", "", "sandbox isolation: none or bwrap (overrides config)")
			fs.BoolVar(&flags.keepSandboxes, "keep-sandboxes", false, "retain scratch directories for debugging")
			fs.StringVar(&flags.outputDir, "output-dir", "", "materialize declared outputs into this directory")
			fs.DurationVar(&timeout, "timeout", 0, "execution timeout (overrides target and config)")
			flagSet = fs
			return fs
		},
		Run: func(args []string) error {
			specs, extra := splitAtDash(args, flagSet)
			if len(specs) == 0 {
				return fmt.Errorf("a target to run is required")
			}
			return runTarget(specs, extra, flags, timeout)
		},
	}
}

// splitAtDash separates target specs from pass-through arguments.
// pflag records the "--" position during parsing.
func splitAtDash(args []string, flagSet *pflag.FlagSet) (specs, extra []string) {
	if at := flagSet.ArgsLenAtDash(); at >= 0 {
		return args[:at], args[at:]
	}
	return args, nil
}

func runTarget(specs, extraArgs []string, flags runFlags, timeoutFlag time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEngine(flags)
	if err != nil {
		return err
	}

	roots, err := e.resolveTargets(specs)
	if err != nil {
		return err
	}
	set, owner, err := graph.FindUnique(graph.CapabilityRun, roots)
	if err != nil {
		return err
	}

	runSpec, err := e.builds.RunSpec(ctx, set)
	if err != nil {
		return err
	}
	resolved, err := e.resolver.Resolve(ctx, execenv.RequestFor(owner))
	if err != nil {
		return err
	}
	input, err := e.store.Merge(runSpec.Digest, resolved.Digest)
	if err != nil {
		return err
	}

	argv := append(append([]string(nil), runSpec.Argv...), extraArgs...)
	req := adhoc.RequestFor(owner, argv, input)
	req.EnvOverrides = environOverrides(runSpec, resolved)
	req.AppendOnlyCaches = cacheMounts(runSpec, resolved)
	if resolved.Runnables != nil {
		req.ImmutableInputDigests = resolved.Runnables.ImmutableInputDigests
	}
	if err := applyTimeout(&req, timeoutFlag, e); err != nil {
		return err
	}

	result, err := e.runner.Run(ctx, req)
	if err != nil {
		return err
	}

	os.Stdout.Write(result.Stdout)
	os.Stderr.Write(result.Stderr)

	if flags.outputDir != "" && !result.OutputDigest.IsZero() {
		if err := e.store.Materialize(result.OutputDigest, flags.outputDir); err != nil {
			return fmt.Errorf("materializing outputs: %w", err)
		}
		fmt.Fprintf(os.Stderr, "%s %s\n",
			styleDim.Render("outputs written to"), flags.outputDir)
	}

	if result.ExitCode != 0 {
		return &cli.ExitError{Code: result.ExitCode}
	}
	return nil
}

// environOverrides assembles the explicit environment for the run:
// the run declaration's env, plus a PATH that puts the shim directory
// first when the target declares runnable dependencies.
func environOverrides(runSpec execenv.RunSpec, resolved execenv.Resolved) map[string]string {
	env := make(map[string]string, len(runSpec.ExtraEnv)+1)
	for k, v := range runSpec.ExtraEnv {
		env[k] = v
	}
	if resolved.Runnables != nil {
		base := os.Getenv("PATH")
		if base == "" {
			base = "/usr/bin:/bin"
		}
		env["PATH"] = sandbox.ChrootPath(resolved.Runnables.PathComponent) + ":" + base
	}
	return env
}

// cacheMounts merges the target's own cache declarations with those
// required by its runnable dependencies. Conflicts among the runnable
// declarations were already rejected during environment resolution;
// the target's own declaration wins over a runnable's.
func cacheMounts(runSpec execenv.RunSpec, resolved execenv.Resolved) map[string]string {
	caches := make(map[string]string, len(runSpec.AppendOnlyCaches))
	if resolved.Runnables != nil {
		for k, v := range resolved.Runnables.AppendOnlyCaches {
			caches[k] = v
		}
	}
	for k, v := range runSpec.AppendOnlyCaches {
		caches[k] = v
	}
	if len(caches) == 0 {
		return nil
	}
	return caches
}

// applyTimeout picks the effective timeout: flag, then target
// declaration, then the config default.
func applyTimeout(req *adhoc.ProcessRequest, flag time.Duration, e *engine) error {
	if flag > 0 {
		req.Timeout = flag
		return nil
	}
	if req.Timeout > 0 {
		return nil
	}
	fallback, err := e.config.Execution.Timeout()
	if err != nil {
		return err
	}
	req.Timeout = fallback
	return nil
}
