// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestNewFromBytesZerosSource(t *testing.T) {
	source := []byte("hunter2hunter2")
	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	for index, b := range source {
		if b != 0 {
			t.Fatalf("source byte %d not zeroed: %q", index, source)
		}
	}
	if got := buffer.String(); got != "hunter2hunter2" {
		t.Fatalf("buffer contents = %q", got)
	}
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := New(size); err == nil {
			t.Fatalf("New(%d) succeeded, want error", size)
		}
	}
}

func TestBufferEqualConstantTime(t *testing.T) {
	buffer, err := NewFromBytes([]byte("correct-key"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	if !buffer.Equal([]byte("correct-key")) {
		t.Fatal("Equal returned false for matching contents")
	}
	if buffer.Equal([]byte("wrong-key!!")) {
		t.Fatal("Equal returned true for differing contents")
	}
}

func TestCloseIsIdempotentAndPanicsOnUse(t *testing.T) {
	buffer, err := NewFromBytes([]byte("ephemeral"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("Bytes after Close did not panic")
		}
	}()
	_ = buffer.Bytes()
}

func TestReadFromPathTrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  sekrit\n"), 0o600); err != nil {
		t.Fatalf("writing token file: %v", err)
	}

	buffer, err := ReadFromPath(path)
	if err != nil {
		t.Fatalf("ReadFromPath: %v", err)
	}
	defer buffer.Close()

	if !bytes.Equal(buffer.Bytes(), []byte("sekrit")) {
		t.Fatalf("contents = %q, want %q", buffer.Bytes(), "sekrit")
	}
}

func TestReadFromPathRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, []byte("  \n\t"), 0o600); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	if _, err := ReadFromPath(path); err == nil {
		t.Fatal("ReadFromPath succeeded on whitespace-only file")
	}
}

func TestReadKeyHex(t *testing.T) {
	key := bytes.Repeat([]byte{0xAB}, 32)
	path := filepath.Join(t.TempDir(), "master.key")
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}

	buffer, err := ReadKeyHex(path, 32)
	if err != nil {
		t.Fatalf("ReadKeyHex: %v", err)
	}
	defer buffer.Close()

	if !bytes.Equal(buffer.Bytes(), key) {
		t.Fatalf("decoded key mismatch")
	}
}

func TestReadKeyHexRejectsWrongSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.key")
	if err := os.WriteFile(path, []byte("abcd"), 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}
	if _, err := ReadKeyHex(path, 32); err == nil {
		t.Fatal("ReadKeyHex accepted a 2-byte key as 32 bytes")
	}
}
