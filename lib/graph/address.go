// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"path"
	"strings"
)

// Address identifies a target: the build-root-relative directory of
// its manifest plus its local name. Addresses are stable across runs
// and appear in every error the engine raises, so targets can always
// be named precisely.
type Address struct {
	// Dir is the slash-separated directory relative to the build
	// root. Empty for targets defined at the root itself.
	Dir string

	// Name is the target's local name within the manifest.
	Name string
}

// NewAddress constructs a validated address.
func NewAddress(dir, name string) (Address, error) {
	if name == "" {
		return Address{}, fmt.Errorf("invalid address: empty target name")
	}
	if strings.ContainsAny(name, "/:") {
		return Address{}, fmt.Errorf("invalid address: target name %q contains path separators", name)
	}
	normalized, err := normalizeDir(dir)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address: %w", err)
	}
	return Address{Dir: normalized, Name: name}, nil
}

func normalizeDir(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	cleaned := path.Clean(dir)
	if cleaned == "." {
		return "", nil
	}
	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("directory %q is not relative to the build root", dir)
	}
	return cleaned, nil
}

// Spec returns the canonical spec string: "dir:name". Root-level
// targets render as ":name".
func (a Address) Spec() string {
	return a.Dir + ":" + a.Name
}

// String returns the spec, satisfying fmt.Stringer.
func (a Address) String() string { return a.Spec() }

// IsZero reports whether this is an uninitialized address.
func (a Address) IsZero() bool { return a.Name == "" }

// ParseSpec parses a target spec string into an address. Three forms
// are accepted:
//
//	"dir:name"  — fully qualified
//	":name"     — relative to the owning address's directory
//	"dir"       — the directory's default target, named after its
//	              last path component
//
// The owning address anchors relative specs; pass the zero Address to
// resolve against the build root.
func ParseSpec(spec string, owning Address) (Address, error) {
	if spec == "" {
		return Address{}, fmt.Errorf("invalid target spec: empty string")
	}

	dir, name, hasColon := strings.Cut(spec, ":")
	if !hasColon {
		// Directory shorthand: "tools/fmt" means "tools/fmt:fmt".
		normalized, err := normalizeDir(dir)
		if err != nil {
			return Address{}, fmt.Errorf("invalid target spec %q: %w", spec, err)
		}
		if normalized == "" {
			return Address{}, fmt.Errorf("invalid target spec %q: build root has no default target", spec)
		}
		return NewAddress(normalized, path.Base(normalized))
	}

	if dir == "" {
		// ":name" is relative to the owning target's directory.
		dir = owning.Dir
	}
	addr, err := NewAddress(dir, name)
	if err != nil {
		return Address{}, fmt.Errorf("invalid target spec %q: %w", spec, err)
	}
	return addr, nil
}
