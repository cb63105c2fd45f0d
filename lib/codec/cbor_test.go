// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalIsDeterministic(t *testing.T) {
	// Maps are the dangerous case: Go iteration order is randomized,
	// so only a deterministic encoder produces stable bytes.
	value := map[string]any{
		"zulu":  "last",
		"alpha": "first",
		"mike":  []any{"a", "b", "c"},
		"count": int64(42),
	}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 32; i++ {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal (iteration %d): %v", i, err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("Marshal produced different bytes on iteration %d", i)
		}
	}
}

func TestRoundTripStruct(t *testing.T) {
	type inner struct {
		Path string `json:"path"`
		Size int64  `json:"size"`
	}
	in := inner{Path: "src/app/main.sh", Size: 1234}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out inner
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	// Forward compatibility: a newer writer may add fields that an
	// older reader does not know about.
	data, err := Marshal(map[string]any{"path": "a.txt", "novel": true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out struct {
		Path string `json:"path"`
	}
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Path != "a.txt" {
		t.Errorf("Path = %q, want %q", out.Path, "a.txt")
	}
}
