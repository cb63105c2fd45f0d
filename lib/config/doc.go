// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for Gantry.
//
// Configuration is loaded from a single file specified by either the
// GANTRY_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no ~/.config discovery and no automatic
// file search; when no file is named, the built-in defaults apply
// unchanged. This keeps configuration deterministic and auditable
// with no hidden overrides.
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded. No other
// environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Store, Execution, Log
//   - [Default] -- returns a complete working default Config
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other Gantry packages.
package config
