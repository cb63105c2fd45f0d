// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for Gantry
// binaries: fatal error reporting to stderr for errors raised before
// the structured logger is initialized, and process exit after an
// unrecoverable error in main(). All other output in Gantry code goes
// through the structured logger or the CLI's styled writers.
package process
