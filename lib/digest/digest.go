// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest implements Gantry's content-addressed file trees.
//
// A Digest is an opaque handle to an immutable tree of files and
// directories: same content, same digest. Trees are described by a
// canonical manifest (sorted entries, deterministic CBOR encoding via
// lib/codec) and hashed with domain-separated BLAKE3. The Store
// persists manifests and file blobs on disk, with transparent per-blob
// compression and optional at-rest encryption.
//
// Digests are values: every operation (Merge, RemovePrefix, capture)
// produces a new digest and never mutates an existing tree. This is
// what makes the engine's fan-out/fan-in merges safe without locks.
package digest

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest. Both file-content hashes and tree
// hashes are this size.
type Hash [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures the same bytes hash differently as file content
// versus as an encoded manifest, preventing cross-domain collisions.
type domainKey [32]byte

// Domain separation keys. Fixed protocol constants — changing them
// invalidates every digest ever produced. The byte values are the
// ASCII encoding of the domain name, zero-padded to 32 bytes, so the
// keys are inspectable in hex dumps without losing any cryptographic
// property.
var (
	fileDomainKey = domainKey{
		'g', 'a', 'n', 't', 'r', 'y', '.', 'd', 'i', 'g', 'e', 's', 't', '.',
		'f', 'i', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	treeDomainKey = domainKey{
		'g', 'a', 'n', 't', 'r', 'y', '.', 'd', 'i', 'g', 'e', 's', 't', '.',
		't', 'r', 'e', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

func keyedHash(key domainKey, data []byte) Hash {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("digest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write(data)

	var out Hash
	hasher.Digest().Read(out[:])
	return out
}

// HashFileContent computes the file-domain hash of raw file bytes.
// This is the hash recorded in manifest entries and used to address
// blobs in the store.
func HashFileContent(data []byte) Hash {
	return keyedHash(fileDomainKey, data)
}

// hashManifest computes the tree-domain hash of an encoded manifest.
func hashManifest(encoded []byte) Hash {
	return keyedHash(treeDomainKey, encoded)
}

// Digest is an opaque, comparable handle to an immutable file tree.
// Two digests are equal exactly when their trees have identical
// contents. The zero value is not a valid digest; use [Empty] for the
// empty tree.
type Digest struct {
	hash Hash
}

// Empty is the digest of the tree with no entries.
var Empty = Digest{hash: func() Hash {
	encoded, err := encodeManifest(&manifest{})
	if err != nil {
		panic("digest: encoding the empty manifest failed: " + err.Error())
	}
	return hashManifest(encoded)
}()}

// Fingerprint returns the lowercase hex form of the digest, suitable
// for filenames and stable cache-addressable path components.
func (d Digest) Fingerprint() string {
	return hex.EncodeToString(d.hash[:])
}

// IsZero reports whether d is the uninitialized zero value (distinct
// from [Empty], which is a real digest).
func (d Digest) IsZero() bool {
	return d.hash == Hash{}
}

// String returns a short human-readable form: the first 12 hex
// characters, matching how digests appear in logs and CLI output.
func (d Digest) String() string {
	return d.Fingerprint()[:12]
}

// ParseDigest parses a 64-character hex fingerprint back into a
// Digest. The inverse of [Digest.Fingerprint].
func ParseDigest(fingerprint string) (Digest, error) {
	raw, err := hex.DecodeString(fingerprint)
	if err != nil {
		return Digest{}, fmt.Errorf("invalid digest fingerprint %q: %w", fingerprint, err)
	}
	if len(raw) != len(Hash{}) {
		return Digest{}, fmt.Errorf("invalid digest fingerprint %q: got %d bytes, want %d", fingerprint, len(raw), len(Hash{}))
	}
	var d Digest
	copy(d.hash[:], raw)
	return d, nil
}
