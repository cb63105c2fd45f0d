// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"

	"github.com/spf13/pflag"
)

// maxSuggestionDistance is the maximum Levenshtein distance for a
// suggestion to be offered. Beyond this the candidate is probably not
// what the user meant.
const maxSuggestionDistance = 3

// suggestCommand returns the name of the subcommand closest to input,
// or "" if nothing is close enough.
func suggestCommand(input string, commands []*Command) string {
	best := ""
	bestDistance := maxSuggestionDistance + 1
	for _, cmd := range commands {
		d := levenshtein(input, cmd.Name)
		if d < bestDistance {
			best = cmd.Name
			bestDistance = d
		}
	}
	return best
}

// suggestFlag returns the defined flag closest to the first unknown
// flag in args, formatted with leading dashes, or "" if nothing is
// close enough.
func suggestFlag(args []string, flagSet *pflag.FlagSet) string {
	var unknown string
	for _, arg := range args {
		if strings.HasPrefix(arg, "--") {
			unknown = strings.TrimPrefix(arg, "--")
			if i := strings.IndexByte(unknown, '='); i >= 0 {
				unknown = unknown[:i]
			}
			if flagSet.Lookup(unknown) == nil {
				break
			}
			unknown = ""
		}
	}
	if unknown == "" {
		return ""
	}

	best := ""
	bestDistance := maxSuggestionDistance + 1
	flagSet.VisitAll(func(f *pflag.Flag) {
		d := levenshtein(unknown, f.Name)
		if d < bestDistance {
			best = f.Name
			bestDistance = d
		}
	})
	if best == "" {
		return ""
	}
	return "--" + best
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, min(prev[j]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
