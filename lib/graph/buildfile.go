// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tidwall/jsonc"
)

// ManifestName is the per-directory build manifest filename. Manifests
// are JSONC: JSON extended with // line comments, /* block comments */,
// and trailing commas.
const ManifestName = "TARGETS.jsonc"

type buildFile struct {
	Targets map[string]*targetSpec `json:"targets"`
}

// targetSpec is the raw manifest form of a target. Pointer fields
// distinguish "declared empty" from "absent", which the legacy
// execution-dependency fallback depends on.
type targetSpec struct {
	Sources               []string       `json:"sources"`
	Dependencies          *[]string      `json:"dependencies"`
	ExecutionDependencies *[]execDepSpec `json:"execution_dependencies"`

	Run     *runSpec     `json:"run"`
	Script  *scriptSpec  `json:"script"`
	Package *packageSpec `json:"package"`

	Workdir           string            `json:"workdir"`
	RootOutputDir     string            `json:"root_output_dir"`
	OutputFiles       []string          `json:"output_files"`
	OutputDirectories []string          `json:"output_directories"`
	TimeoutSeconds    int               `json:"timeout_seconds"`
	FetchEnv          []string          `json:"fetch_env"`
	LogOnExit         map[string]string `json:"log_on_exit"`
	LogOutput         bool              `json:"log_output"`
}

type runSpec struct {
	Argv   []string          `json:"argv"`
	Env    map[string]string `json:"env"`
	Caches map[string]string `json:"caches"`
}

type scriptSpec struct {
	File        string   `json:"file"`
	Interpreter []string `json:"interpreter"`
}

type packageSpec struct {
	Output string `json:"output"`
}

// execDepSpec accepts both manifest forms of an execution dependency:
// a plain spec string, or {"name": ..., "address": ...} for a
// runnable. The variant is fixed here, at parse time.
type execDepSpec struct {
	dep ExecutionDep
}

func (e *execDepSpec) UnmarshalJSON(data []byte) error {
	var spec string
	if err := json.Unmarshal(data, &spec); err == nil {
		if spec == "" {
			return fmt.Errorf("execution dependency is an empty string")
		}
		e.dep = ExecutionDep{Address: spec}
		return nil
	}

	var runnable struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := json.Unmarshal(data, &runnable); err != nil {
		return fmt.Errorf("execution dependency must be a spec string or {name, address} object: %w", err)
	}
	if runnable.Name == "" || runnable.Address == "" {
		return fmt.Errorf("runnable execution dependency requires both name and address")
	}
	e.dep = ExecutionDep{Runnable: &RunnableDependency{Name: runnable.Name, Address: runnable.Address}}
	return nil
}

// parseManifest strips JSONC comments and trailing commas from data,
// then unmarshals and converts every declared target.
func parseManifest(data []byte, dir string) ([]*Target, error) {
	stripped := jsonc.ToJSON(data)

	var file buildFile
	if err := json.Unmarshal(stripped, &file); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	var targets []*Target
	for name, spec := range file.Targets {
		target, err := spec.toTarget(dir, name)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", name, err)
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// readManifest reads and parses a manifest file from disk. dir is the
// build-root-relative directory the manifest governs.
func readManifest(path, dir string) ([]*Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	targets, err := parseManifest(data, dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return targets, nil
}

func (spec *targetSpec) toTarget(dir, name string) (*Target, error) {
	address, err := NewAddress(dir, name)
	if err != nil {
		return nil, err
	}

	target := &Target{
		Address:       address,
		Sources:       spec.Sources,
		Workdir:       spec.Workdir,
		RootOutputDir: spec.RootOutputDir,
		OutputFiles:   spec.OutputFiles,
		OutputDirs:    spec.OutputDirectories,
		Timeout:       time.Duration(spec.TimeoutSeconds) * time.Second,
		FetchEnv:      spec.FetchEnv,
		LogOutput:     spec.LogOutput,
	}

	if spec.Dependencies != nil {
		target.Dependencies = *spec.Dependencies
		target.DependenciesDeclared = true
	}
	if spec.ExecutionDependencies != nil {
		target.ExecutionDepsDeclared = true
		for _, entry := range *spec.ExecutionDependencies {
			target.ExecutionDeps = append(target.ExecutionDeps, entry.dep)
		}
	}

	if spec.Run != nil {
		if len(spec.Run.Argv) == 0 {
			return nil, fmt.Errorf("run declaration has an empty argv")
		}
		target.Run = &RunSettings{
			Argv:   spec.Run.Argv,
			Env:    spec.Run.Env,
			Caches: spec.Run.Caches,
		}
	}
	if spec.Script != nil {
		if spec.Script.File == "" {
			return nil, fmt.Errorf("script declaration has no file")
		}
		target.Script = &ScriptSettings{
			File:        spec.Script.File,
			Interpreter: spec.Script.Interpreter,
		}
	}
	if spec.Package != nil {
		if spec.Package.Output == "" {
			return nil, fmt.Errorf("package declaration has no output")
		}
		target.Package = &PackageSettings{Output: spec.Package.Output}
	}

	if len(spec.LogOnExit) > 0 {
		target.LogOnExit = make(map[int]string, len(spec.LogOnExit))
		for code, message := range spec.LogOnExit {
			parsed, err := strconv.Atoi(code)
			if err != nil {
				return nil, fmt.Errorf("log_on_exit key %q is not an exit code", code)
			}
			target.LogOnExit[parsed] = message
		}
	}

	return target, nil
}
