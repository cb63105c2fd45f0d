// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package execenv

import (
	"fmt"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ConflictError reports two values disagreeing under one shared key
// during an environment merge. Identical values under a shared key
// are not a conflict.
type ConflictError struct {
	Key string
	A   string
	B   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("key %q maps to both %q and %q", e.Key, e.A, e.B)
}

// safeMerge folds src into dst, failing on the first shared key whose
// values differ. Conflict is pairwise value inequality, so the result
// does not depend on merge order.
func safeMerge[V comparable](dst, src map[string]V) error {
	keys := make([]string, 0, len(src))
	for key := range src {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := src[key]
		if existing, ok := dst[key]; ok && existing != value {
			return &ConflictError{
				Key: key,
				A:   fmt.Sprint(existing),
				B:   fmt.Sprint(value),
			}
		}
		dst[key] = value
	}
	return nil
}

// IncompatibleEnvironmentsError reports runnable dependencies whose
// run specifications disagree on a shared environment, immutable
// input, or cache key. No partial shim set is produced.
type IncompatibleEnvironmentsError struct {
	Owner    string
	Runnable string
	Err      error
}

func (e *IncompatibleEnvironmentsError) Error() string {
	return fmt.Sprintf(
		"runnable dependencies of %s have mutually incompatible environments: %s: %v",
		e.Owner, e.Runnable, e.Err)
}

func (e *IncompatibleEnvironmentsError) Unwrap() error { return e.Err }

func quoteWord(word string) (string, error) {
	quoted, err := syntax.Quote(word, syntax.LangPOSIX)
	if err != nil {
		return "", fmt.Errorf("cannot shell-quote %q: %w", word, err)
	}
	return quoted, nil
}

// shimScript renders the wrapper script for one runnable dependency:
// a shebang, export statements for the run spec's extra environment,
// and an exec of the quoted argv forwarding any further arguments.
func shimScript(shell string, argv []string, extraEnv map[string]string) ([]byte, error) {
	var b strings.Builder
	b.WriteString("#!")
	b.WriteString(shell)
	b.WriteByte('\n')

	keys := make([]string, 0, len(extraEnv))
	for key := range extraEnv {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		quotedKey, err := quoteWord(key)
		if err != nil {
			return nil, err
		}
		quotedValue, err := quoteWord(extraEnv[key])
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "export %s=%s\n", quotedKey, quotedValue)
	}

	words := make([]string, len(argv))
	for i, arg := range argv {
		quoted, err := quoteWord(arg)
		if err != nil {
			return nil, err
		}
		words[i] = quoted
	}
	fmt.Fprintf(&b, "exec %s \"$@\"\n", strings.Join(words, " "))

	return []byte(b.String()), nil
}
