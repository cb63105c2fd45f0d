// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size in bytes of the store's master encryption key.
const KeySize = 32

// encryptedBlobVersion is prepended to every encrypted blob and bound
// into the AEAD as additional authenticated data, so tampering with
// it causes authentication failure rather than a confusing decrypt
// of the wrong format.
const encryptedBlobVersion byte = 0x01

// hkdfInfoBlob is the HKDF info string for per-blob key derivation.
// Changing it invalidates every encrypted store directory.
var hkdfInfoBlob = []byte("gantry.store.blob.v1")

// deriveBlobKey derives the per-blob encryption key from the store's
// master key and the blob's content hash. Per-blob keys mean a
// compromised single key exposes one blob, not the store.
func deriveBlobKey(masterKey []byte, contentHash Hash) ([]byte, error) {
	info := make([]byte, len(hkdfInfoBlob)+len(contentHash))
	copy(info, hkdfInfoBlob)
	copy(info[len(hkdfInfoBlob):], contentHash[:])

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, info), key); err != nil {
		return nil, fmt.Errorf("deriving blob key: %w", err)
	}
	return key, nil
}

// encryptBlob seals data with XChaCha20-Poly1305 under a key derived
// from masterKey and contentHash. Layout: [version][24-byte nonce]
// [ciphertext+tag].
func encryptBlob(masterKey []byte, contentHash Hash, data []byte) ([]byte, error) {
	key, err := deriveBlobKey(masterKey, contentHash)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("initializing blob cipher: %w", err)
	}

	out := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(data)+chacha20poly1305.Overhead)
	out[0] = encryptedBlobVersion
	nonce := out[1:]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating blob nonce: %w", err)
	}
	return aead.Seal(out, nonce, data, []byte{encryptedBlobVersion}), nil
}

// decryptBlob opens a blob sealed by encryptBlob.
func decryptBlob(masterKey []byte, contentHash Hash, sealed []byte) ([]byte, error) {
	if len(sealed) < 1+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("encrypted blob too short: %d bytes", len(sealed))
	}
	if sealed[0] != encryptedBlobVersion {
		return nil, fmt.Errorf("unsupported encrypted blob version: %d", sealed[0])
	}

	key, err := deriveBlobKey(masterKey, contentHash)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("initializing blob cipher: %w", err)
	}

	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, sealed[1+chacha20poly1305.NonceSizeX:], []byte{encryptedBlobVersion})
	if err != nil {
		return nil, fmt.Errorf("decrypting blob: %w", err)
	}
	return plaintext, nil
}
