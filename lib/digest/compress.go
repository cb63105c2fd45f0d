// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression algorithm used for a
// stored blob. The tag is the first byte of every blob file. These
// values are protocol constants — changing them breaks every existing
// store directory.
type CompressionTag uint8

const (
	// CompressionNone indicates uncompressed data. Selected when
	// compression does not shrink the blob (already-compressed
	// content: archives, images, packed binaries).
	CompressionNone CompressionTag = 0

	// CompressionLZ4 indicates LZ4 block compression. Fast default
	// for binary content where the type is unknown.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd indicates zstd compression at the default
	// level. Chosen for text-like content (scripts, source files,
	// configs) where the better ratio pays for the CPU.
	CompressionZstd CompressionTag = 2
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses a compression tag from its string form,
// as written in store configuration files.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "", "auto":
		// Auto-selection per blob; see selectCompression.
		return compressionAuto, nil
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// compressionAuto is a config-only sentinel: pick per blob. Never
// written to disk.
const compressionAuto CompressionTag = 0xff

// Shared codec instances. EncodeAll/DecodeAll on these are safe for
// concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic("digest: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("digest: zstd decoder initialization failed: " + err.Error())
	}
}

// selectCompression picks a codec for a blob: zstd for text-like
// content, LZ4 otherwise. The probe is cheap (first 4 KiB).
func selectCompression(data []byte) CompressionTag {
	probe := data
	if len(probe) > 4096 {
		probe = probe[:4096]
	}
	if looksText(probe) {
		return CompressionZstd
	}
	return CompressionLZ4
}

// looksText reports whether data appears to be text: valid UTF-8 with
// no NUL bytes in the probe window.
func looksText(data []byte) bool {
	for _, b := range data {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(data)
}

// compressBlob encodes data into the on-disk blob layout:
// [tag byte][uvarint uncompressed size][payload]. If the compressed
// payload is not smaller than the input, the blob falls back to
// CompressionNone — storing expansion would be pure loss.
func compressBlob(data []byte, tag CompressionTag) ([]byte, error) {
	if tag == compressionAuto {
		tag = selectCompression(data)
	}

	var payload []byte
	switch tag {
	case CompressionNone:
		payload = data

	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		var compressor lz4.Compressor
		n, err := compressor.CompressBlock(data, buf)
		if err != nil {
			return nil, fmt.Errorf("lz4 compression: %w", err)
		}
		if n == 0 || n >= len(data) {
			// Incompressible.
			tag, payload = CompressionNone, data
		} else {
			payload = buf[:n]
		}

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			tag, payload = CompressionNone, data
		} else {
			payload = compressed
		}

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}

	header := make([]byte, 1+binary.MaxVarintLen64)
	header[0] = byte(tag)
	n := binary.PutUvarint(header[1:], uint64(len(data)))
	return append(header[:1+n], payload...), nil
}

// decompressBlob decodes the on-disk blob layout produced by
// compressBlob. The decoded length is verified against the recorded
// uncompressed size.
func decompressBlob(blob []byte) ([]byte, error) {
	if len(blob) < 2 {
		return nil, fmt.Errorf("blob too short: %d bytes", len(blob))
	}
	tag := CompressionTag(blob[0])
	size, n := binary.Uvarint(blob[1:])
	if n <= 0 {
		return nil, fmt.Errorf("blob has malformed size header")
	}
	payload := blob[1+n:]

	var data []byte
	switch tag {
	case CompressionNone:
		data = payload

	case CompressionLZ4:
		data = make([]byte, size)
		decoded, err := lz4.UncompressBlock(payload, data)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompression: %w", err)
		}
		data = data[:decoded]

	case CompressionZstd:
		var err error
		data, err = zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompression: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported compression tag in blob: %d", tag)
	}

	if uint64(len(data)) != size {
		return nil, fmt.Errorf("blob decompressed to %d bytes, header says %d", len(data), size)
	}
	return data, nil
}
