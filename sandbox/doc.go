// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox executes prepared adhoc processes in isolated
// scratch directories.
//
// Each invocation materializes the process's input tree into a fresh
// scratch directory, mounts immutable inputs at their declared path
// components, links append-only cache directories in from a shared
// cache root, and runs the command with a fully explicit environment.
// Declared outputs are captured back into the content store when the
// process completes.
//
// Two isolation levels are supported: plain process execution in the
// scratch directory, and bubblewrap (bwrap) filesystem isolation when
// it is available and enabled. [BwrapBuilder] translates a scratch
// directory plus cache binds into bwrap command-line arguments;
// [DetectCapabilities] probes the host for bwrap support. The scratch
// directory is removed after the run unless keep-sandboxes is set,
// which retains it for debugging.
package sandbox
