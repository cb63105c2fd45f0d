// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import "github.com/charmbracelet/lipgloss"

// Styles for human-facing summaries. lipgloss degrades to plain text
// when stdout is not a terminal, so these are safe in scripts.
var (
	styleHeader  = lipgloss.NewStyle().Bold(true)
	styleAddress = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	styleDigest  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleGood    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleBad     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	styleDim     = lipgloss.NewStyle().Faint(true)
)
