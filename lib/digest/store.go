// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Directory names within the store root.
const (
	blobDir = "blobs"
	treeDir = "trees"
	tmpDir  = "tmp"
)

// StoreConfig configures a content-addressed store.
type StoreConfig struct {
	// Path is the store directory. Created if it does not exist.
	Path string

	// Compression selects the blob codec. The zero value of the
	// config selects per-blob auto-detection; parse explicit values
	// with ParseCompressionTag.
	Compression CompressionTag

	// EncryptionKey, when non-nil, must be exactly KeySize bytes and
	// enables at-rest encryption of every blob and manifest.
	EncryptionKey []byte
}

// Store is an on-disk content-addressed store for file trees. Blobs
// and manifests are written once under their content hash and never
// modified, so concurrent readers need no locking and concurrent
// writers of the same content are idempotent.
type Store struct {
	root          string
	compression   CompressionTag
	encryptionKey []byte
}

// FileContent is one file to be placed in a tree.
type FileContent struct {
	// Path is the slash-separated path within the tree.
	Path string

	// Content is the raw file bytes.
	Content []byte

	// Executable sets the executable bit when the tree is
	// materialized. Shim scripts depend on this.
	Executable bool
}

// NewStore creates a Store rooted at the configured path. An existing
// store directory is reused; content written by a previous run stays
// addressable.
func NewStore(config StoreConfig) (*Store, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if config.EncryptionKey != nil && len(config.EncryptionKey) != KeySize {
		return nil, fmt.Errorf("store encryption key is %d bytes, want %d", len(config.EncryptionKey), KeySize)
	}
	compression := config.Compression
	if compression == 0 {
		compression = compressionAuto
	}

	for _, dir := range []string{
		config.Path,
		filepath.Join(config.Path, blobDir),
		filepath.Join(config.Path, treeDir),
		filepath.Join(config.Path, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}

	return &Store{
		root:          config.Path,
		compression:   compression,
		encryptionKey: config.EncryptionKey,
	}, nil
}

// writeOnce writes data to dest atomically (tmp + rename), skipping
// the write entirely when dest already exists. Content-addressed
// names make "already exists" mean "already has this exact content".
func (s *Store) writeOnce(dest string, data []byte) error {
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "write-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("committing %s: %w", dest, err)
	}
	return nil
}

// seal applies compression and, when configured, encryption to data
// addressed by hash.
func (s *Store) seal(hash Hash, data []byte) ([]byte, error) {
	blob, err := compressBlob(data, s.compression)
	if err != nil {
		return nil, err
	}
	if s.encryptionKey != nil {
		return encryptBlob(s.encryptionKey, hash, blob)
	}
	return blob, nil
}

// open reverses seal.
func (s *Store) open(hash Hash, sealed []byte) ([]byte, error) {
	if s.encryptionKey != nil {
		var err error
		sealed, err = decryptBlob(s.encryptionKey, hash, sealed)
		if err != nil {
			return nil, err
		}
	}
	return decompressBlob(sealed)
}

func (s *Store) putBlob(content []byte) (Hash, error) {
	hash := HashFileContent(content)
	dest := filepath.Join(s.root, blobDir, fingerprintOf(hash))
	if _, err := os.Stat(dest); err == nil {
		return hash, nil
	}
	sealed, err := s.seal(hash, content)
	if err != nil {
		return Hash{}, err
	}
	return hash, s.writeOnce(dest, sealed)
}

func (s *Store) getBlob(hash Hash) ([]byte, error) {
	sealed, err := os.ReadFile(filepath.Join(s.root, blobDir, fingerprintOf(hash)))
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", fingerprintOf(hash)[:12], err)
	}
	content, err := s.open(hash, sealed)
	if err != nil {
		return nil, fmt.Errorf("blob %s: %w", fingerprintOf(hash)[:12], err)
	}
	if HashFileContent(content) != hash {
		return nil, fmt.Errorf("blob %s failed content verification", fingerprintOf(hash)[:12])
	}
	return content, nil
}

func (s *Store) putManifest(m *manifest) (Digest, error) {
	sortEntries(m.Entries)
	encoded, err := encodeManifest(m)
	if err != nil {
		return Digest{}, fmt.Errorf("encoding tree manifest: %w", err)
	}
	d := Digest{hash: hashManifest(encoded)}

	dest := filepath.Join(s.root, treeDir, d.Fingerprint())
	if _, err := os.Stat(dest); err == nil {
		return d, nil
	}
	sealed, err := s.seal(d.hash, encoded)
	if err != nil {
		return Digest{}, err
	}
	return d, s.writeOnce(dest, sealed)
}

func (s *Store) loadManifest(d Digest) (*manifest, error) {
	if d == Empty || d.IsZero() {
		return &manifest{}, nil
	}
	sealed, err := os.ReadFile(filepath.Join(s.root, treeDir, d.Fingerprint()))
	if err != nil {
		return nil, fmt.Errorf("reading tree %s: %w", d, err)
	}
	encoded, err := s.open(d.hash, sealed)
	if err != nil {
		return nil, fmt.Errorf("tree %s: %w", d, err)
	}
	if hashManifest(encoded) != d.hash {
		return nil, fmt.Errorf("tree %s failed content verification", d)
	}
	return decodeManifest(encoded)
}

func fingerprintOf(hash Hash) string {
	return Digest{hash: hash}.Fingerprint()
}

// CreateFromFiles builds a tree from in-memory file contents.
func (s *Store) CreateFromFiles(files []FileContent) (Digest, error) {
	m := &manifest{}
	seen := make(map[string]struct{}, len(files))
	for _, file := range files {
		p, err := normalizePath(file.Path)
		if err != nil {
			return Digest{}, fmt.Errorf("creating tree: %w", err)
		}
		if _, dup := seen[p]; dup {
			return Digest{}, fmt.Errorf("creating tree: duplicate path %q", p)
		}
		seen[p] = struct{}{}

		hash, err := s.putBlob(file.Content)
		if err != nil {
			return Digest{}, err
		}
		m.Entries = append(m.Entries, manifestEntry{
			Path:       p,
			Kind:       kindFile,
			Hash:       hash[:],
			Size:       int64(len(file.Content)),
			Executable: file.Executable,
		})
	}
	return s.putManifest(m)
}

// CreateDirectory builds a tree containing a single (empty) directory
// entry. Merged into an input tree to guarantee a working directory
// exists before execution.
func (s *Store) CreateDirectory(dir string) (Digest, error) {
	p, err := normalizePath(dir)
	if err != nil {
		return Digest{}, fmt.Errorf("creating directory entry: %w", err)
	}
	return s.putManifest(&manifest{Entries: []manifestEntry{{Path: p, Kind: kindDir}}})
}

// CaptureFiles builds a tree from files on disk. Each path is
// interpreted relative to root and recorded under that same relative
// path. Missing files are an error — use CaptureOutputs for the
// tolerant variant.
func (s *Store) CaptureFiles(root string, paths []string) (Digest, error) {
	var files []FileContent
	for _, p := range paths {
		content, executable, err := readDiskFile(filepath.Join(root, filepath.FromSlash(p)))
		if err != nil {
			return Digest{}, fmt.Errorf("capturing %s: %w", p, err)
		}
		files = append(files, FileContent{Path: p, Content: content, Executable: executable})
	}
	return s.CreateFromFiles(files)
}

// CaptureOutputs builds a tree from a process's declared outputs.
// Declared files and directories that the process did not produce are
// skipped, not errors: which outputs appear can legitimately depend
// on the command's input. Directories are captured recursively.
func (s *Store) CaptureOutputs(root string, outputFiles, outputDirs []string) (Digest, error) {
	m := &manifest{}
	seen := make(map[string]struct{})

	addFile := func(rel string) error {
		p, err := normalizePath(rel)
		if err != nil {
			return err
		}
		if _, dup := seen[p]; dup {
			return nil
		}
		seen[p] = struct{}{}

		content, executable, err := readDiskFile(filepath.Join(root, filepath.FromSlash(p)))
		if err != nil {
			return fmt.Errorf("capturing output %s: %w", p, err)
		}
		hash, err := s.putBlob(content)
		if err != nil {
			return err
		}
		m.Entries = append(m.Entries, manifestEntry{
			Path:       p,
			Kind:       kindFile,
			Hash:       hash[:],
			Size:       int64(len(content)),
			Executable: executable,
		})
		return nil
	}

	for _, rel := range outputFiles {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if _, err := os.Stat(full); os.IsNotExist(err) {
			continue
		}
		if err := addFile(rel); err != nil {
			return Digest{}, err
		}
	}

	for _, dir := range outputDirs {
		base := filepath.Join(root, filepath.FromSlash(dir))
		info, err := os.Stat(base)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return Digest{}, fmt.Errorf("capturing output directory %s: %w", dir, err)
		}
		if !info.IsDir() {
			if err := addFile(dir); err != nil {
				return Digest{}, err
			}
			continue
		}

		empty := true
		err = filepath.WalkDir(base, func(full string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() {
				return nil
			}
			empty = false
			rel, err := filepath.Rel(root, full)
			if err != nil {
				return err
			}
			return addFile(filepath.ToSlash(rel))
		})
		if err != nil {
			return Digest{}, fmt.Errorf("capturing output directory %s: %w", dir, err)
		}
		if empty {
			if p, err := normalizePath(dir); err == nil {
				if _, dup := seen[p]; !dup {
					seen[p] = struct{}{}
					m.Entries = append(m.Entries, manifestEntry{Path: p, Kind: kindDir})
				}
			}
		}
	}

	return s.putManifest(m)
}

// MergeConflictError reports two trees that disagree about the
// content at a shared path. Identical entries under the same path are
// not a conflict.
type MergeConflictError struct {
	// Path is the conflicting tree path.
	Path string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict: path %q has differing content in merged trees", e.Path)
}

// Merge combines trees into one. Duplicate identical entries collapse;
// a path with differing content in two inputs fails with a
// *MergeConflictError. The result is independent of argument order.
func (s *Store) Merge(digests ...Digest) (Digest, error) {
	byPath := make(map[string]manifestEntry)
	for _, d := range digests {
		m, err := s.loadManifest(d)
		if err != nil {
			return Digest{}, err
		}
		for _, entry := range m.Entries {
			existing, ok := byPath[entry.Path]
			if !ok {
				byPath[entry.Path] = entry
				continue
			}
			if !sameEntry(existing, entry) {
				return Digest{}, &MergeConflictError{Path: entry.Path}
			}
		}
	}

	merged := &manifest{Entries: make([]manifestEntry, 0, len(byPath))}
	for _, entry := range byPath {
		merged.Entries = append(merged.Entries, entry)
	}
	return s.putManifest(merged)
}

// PrefixError reports a RemovePrefix call against a tree with content
// outside the prefix.
type PrefixError struct {
	Prefix string
	Path   string
}

func (e *PrefixError) Error() string {
	return fmt.Sprintf("cannot remove prefix %q: tree contains %q outside the prefix", e.Prefix, e.Path)
}

// RemovePrefix re-roots a tree one level up: every entry must live
// under prefix, and the result holds the same entries with the prefix
// stripped. An entry outside the prefix fails with a *PrefixError.
func (s *Store) RemovePrefix(d Digest, prefix string) (Digest, error) {
	prefix = strings.Trim(path.Clean(prefix), "/")
	if prefix == "" || prefix == "." {
		return d, nil
	}

	m, err := s.loadManifest(d)
	if err != nil {
		return Digest{}, err
	}

	stripped := &manifest{}
	for _, entry := range m.Entries {
		if entry.Path == prefix {
			// The prefix directory itself vanishes with the prefix.
			if entry.Kind == kindDir {
				continue
			}
			return Digest{}, &PrefixError{Prefix: prefix, Path: entry.Path}
		}
		rel, ok := strings.CutPrefix(entry.Path, prefix+"/")
		if !ok {
			return Digest{}, &PrefixError{Prefix: prefix, Path: entry.Path}
		}
		entry.Path = rel
		stripped.Entries = append(stripped.Entries, entry)
	}
	return s.putManifest(stripped)
}

// SnapshotOf returns the file and directory listing of a tree.
func (s *Store) SnapshotOf(d Digest) (Snapshot, error) {
	m, err := s.loadManifest(d)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(m), nil
}

// ReadFile returns the content of a single file within a tree.
func (s *Store) ReadFile(d Digest, filePath string) ([]byte, error) {
	p, err := normalizePath(filePath)
	if err != nil {
		return nil, err
	}
	m, err := s.loadManifest(d)
	if err != nil {
		return nil, err
	}
	for _, entry := range m.Entries {
		if entry.Path == p && entry.Kind == kindFile {
			var hash Hash
			copy(hash[:], entry.Hash)
			return s.getBlob(hash)
		}
	}
	return nil, fmt.Errorf("tree %s has no file %q", d, p)
}

// Materialize writes a tree into dir, creating directories as needed.
// Executable entries get mode 0755, others 0644.
func (s *Store) Materialize(d Digest, dir string) error {
	m, err := s.loadManifest(d)
	if err != nil {
		return err
	}
	for _, entry := range m.Entries {
		full := filepath.Join(dir, filepath.FromSlash(entry.Path))

		if entry.Kind == kindDir {
			if err := os.MkdirAll(full, 0o755); err != nil {
				return fmt.Errorf("materializing directory %s: %w", entry.Path, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("materializing parent of %s: %w", entry.Path, err)
		}
		var hash Hash
		copy(hash[:], entry.Hash)
		content, err := s.getBlob(hash)
		if err != nil {
			return fmt.Errorf("materializing %s: %w", entry.Path, err)
		}
		mode := fs.FileMode(0o644)
		if entry.Executable {
			mode = 0o755
		}
		if err := os.WriteFile(full, content, mode); err != nil {
			return fmt.Errorf("materializing %s: %w", entry.Path, err)
		}
	}
	return nil
}

func readDiskFile(full string) (content []byte, executable bool, err error) {
	info, err := os.Stat(full)
	if err != nil {
		return nil, false, err
	}
	content, err = os.ReadFile(full)
	if err != nil {
		return nil, false, err
	}
	return content, info.Mode()&0o111 != 0, nil
}

// equalContent is a test helper guard: reports whether two trees have
// byte-identical content. Digest equality already implies this; the
// method exists to verify the invariant in store tests.
func (s *Store) equalContent(a, b Digest) (bool, error) {
	ma, err := s.loadManifest(a)
	if err != nil {
		return false, err
	}
	mb, err := s.loadManifest(b)
	if err != nil {
		return false, err
	}
	ea, err := encodeManifest(ma)
	if err != nil {
		return false, err
	}
	eb, err := encodeManifest(mb)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ea, eb), nil
}
