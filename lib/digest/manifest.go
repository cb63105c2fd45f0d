// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/gantry-build/gantry/lib/codec"
)

// entryKind distinguishes manifest entry types. Values are protocol
// constants — they appear in encoded manifests.
type entryKind uint8

const (
	kindFile entryKind = 0
	kindDir  entryKind = 1
)

// manifestEntry is one file or directory in a tree manifest. Paths
// are slash-separated, relative, and cleaned; a manifest never
// contains "..", absolute paths, or duplicate paths.
type manifestEntry struct {
	Path       string    `json:"path"`
	Kind       entryKind `json:"kind"`
	Hash       []byte    `json:"hash,omitempty"` // file-domain content hash; nil for directories
	Size       int64     `json:"size,omitempty"`
	Executable bool      `json:"executable,omitempty"`
}

// manifest is the canonical description of a tree: entries sorted by
// path. The tree digest is the tree-domain hash of the deterministic
// CBOR encoding of this struct.
type manifest struct {
	Entries []manifestEntry `json:"entries"`
}

func encodeManifest(m *manifest) ([]byte, error) {
	return codec.Marshal(m)
}

func decodeManifest(data []byte) (*manifest, error) {
	var m manifest
	if err := codec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding tree manifest: %w", err)
	}
	return &m, nil
}

// normalizePath cleans and validates a manifest path. Empty, absolute,
// and parent-escaping paths are rejected — a tree only ever describes
// content strictly below its own root.
func normalizePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	cleaned := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if cleaned == "." {
		return "", fmt.Errorf("path %q resolves to the tree root", p)
	}
	if path.IsAbs(cleaned) {
		return "", fmt.Errorf("path %q is absolute", p)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path %q escapes the tree root", p)
	}
	return cleaned, nil
}

// sortEntries puts a manifest into canonical order. Called before
// encoding; hashing an unsorted manifest would make digest identity
// depend on insertion order.
func sortEntries(entries []manifestEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
}

// sameEntry reports whether two entries under the same path describe
// identical content. Identical values under the same path are not a
// conflict when merging.
func sameEntry(a, b manifestEntry) bool {
	return a.Kind == b.Kind &&
		string(a.Hash) == string(b.Hash) &&
		a.Size == b.Size &&
		a.Executable == b.Executable
}

// Snapshot is the directory-level view of a tree: the sorted file
// paths and the sorted directory paths, including every implied
// parent directory.
type Snapshot struct {
	Files []string
	Dirs  []string
}

// HasDir reports whether dir is a directory in the snapshot, either
// explicitly or implied by a deeper entry.
func (s Snapshot) HasDir(dir string) bool {
	i := sort.SearchStrings(s.Dirs, dir)
	return i < len(s.Dirs) && s.Dirs[i] == dir
}

func snapshotOf(m *manifest) Snapshot {
	dirSet := make(map[string]struct{})
	var files []string

	addParents := func(p string) {
		for parent := path.Dir(p); parent != "."; parent = path.Dir(parent) {
			dirSet[parent] = struct{}{}
		}
	}

	for _, entry := range m.Entries {
		switch entry.Kind {
		case kindDir:
			dirSet[entry.Path] = struct{}{}
			addParents(entry.Path)
		default:
			files = append(files, entry.Path)
			addParents(entry.Path)
		}
	}

	dirs := make([]string, 0, len(dirSet))
	for dir := range dirSet {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	sort.Strings(files)

	return Snapshot{Files: files, Dirs: dirs}
}
