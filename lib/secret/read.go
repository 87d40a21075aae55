// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
)

// ReadFromPath reads a secret from a file path, or from stdin if path
// is "-". The returned buffer is mmap-backed and must be closed by the
// caller. Leading/trailing whitespace is trimmed before storing.
// Returns an error if the source is empty after trimming.
func ReadFromPath(path string) (*Buffer, error) {
	var data []byte

	if path == "-" {
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading stdin: %w", err)
			}
			return nil, fmt.Errorf("stdin is empty")
		}
		data = scanner.Bytes()
	} else {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("secret is empty")
	}

	// NewFromBytes zeros trimmed; zero the untrimmed remainder too.
	buffer, err := NewFromBytes(trimmed)
	Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

// ReadKeyHex reads a hex-encoded key from a file and returns the
// decoded bytes in a protected buffer. The decoded key must be exactly
// keySize bytes. Used for the artifact store's encryption master key.
func ReadKeyHex(path string, keySize int) (*Buffer, error) {
	encoded, err := ReadFromPath(path)
	if err != nil {
		return nil, err
	}
	defer encoded.Close()

	decoded := make([]byte, hex.DecodedLen(encoded.Len()))
	n, err := hex.Decode(decoded, encoded.Bytes())
	if err != nil {
		Zero(decoded)
		return nil, fmt.Errorf("decoding hex key from %s: %w", path, err)
	}
	if n != keySize {
		Zero(decoded)
		return nil, fmt.Errorf("key in %s is %d bytes, want %d", path, n, keySize)
	}

	return NewFromBytes(decoded[:n])
}
