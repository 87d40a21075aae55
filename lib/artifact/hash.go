// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest. All artifact hashes (chunk,
// container, file) are this size.
type Hash [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures that the same input bytes produce different
// hashes in different contexts, preventing cross-domain collisions.
type domainKey [32]byte

// Domain separation keys. These are fixed constants — changing them
// invalidates all existing hashes in that domain. The byte values
// are the ASCII encoding of the domain name, zero-padded to 32 bytes.
// Using readable ASCII makes the keys inspectable in hex dumps and
// debuggers without sacrificing any cryptographic property (BLAKE3
// keyed mode treats the key as an opaque 32-byte value).
var (
	chunkDomainKey = domainKey{
		'm', 'a', 's', 'a', '.', 'a', 'r', 't', 'i', 'f', 'a', 'c', 't', '.',
		'c', 'h', 'u', 'n', 'k', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	containerDomainKey = domainKey{
		'm', 'a', 's', 'a', '.', 'a', 'r', 't', 'i', 'f', 'a', 'c', 't', '.',
		'c', 'o', 'n', 't', 'a', 'i', 'n', 'e', 'r', 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	fileDomainKey = domainKey{
		'm', 'a', 's', 'a', '.', 'a', 'r', 't', 'i', 'f', 'a', 'c', 't', '.',
		'f', 'i', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// HashChunk computes the chunk-domain BLAKE3 keyed hash of the given
// data. This is the hash stored in container chunk indexes and used
// for deduplication. Chunk hashes are always computed on uncompressed
// bytes so dedup works across compression algorithm changes.
func HashChunk(data []byte) Hash {
	return keyedHash(chunkDomainKey, data)
}

// HashFile computes the file-domain BLAKE3 keyed hash from a Merkle
// root. For single-chunk artifacts, pass the single chunk hash. For
// multi-chunk artifacts, pass the Merkle root computed by
// [MerkleRoot]. All artifact references are derived from file-domain
// hashes.
func HashFile(merkleRoot Hash) Hash {
	return keyedHash(fileDomainKey, merkleRoot[:])
}

// HashContainer computes the container-domain BLAKE3 keyed hash from
// the Merkle root of the container's chunk hashes. Used to address
// containers on disk.
func HashContainer(merkleRoot Hash) Hash {
	return keyedHash(containerDomainKey, merkleRoot[:])
}

// MerkleRoot computes a binary Merkle tree over the given hashes and
// returns the root. The tree is constructed bottom-up: adjacent pairs
// are concatenated and hashed with the domain key. If a level has an
// odd number of nodes, the last node is promoted to the next level
// without hashing (it is NOT duplicated — duplicating would mean two
// different inputs produce the same root when one is a prefix of the
// other).
//
// The domain key determines the hash domain of the resulting root.
// Use chunkDomainKey for trees over chunk hashes (when computing
// container or file hashes).
//
// Panics if hashes is empty.
func MerkleRoot(key domainKey, hashes []Hash) Hash {
	if len(hashes) == 0 {
		panic("artifact.MerkleRoot: empty hash list")
	}
	if len(hashes) == 1 {
		return hashes[0]
	}

	// A single keyed hasher is reused via Reset() for every pair —
	// allocating a fresh Hasher per pair dominates the cost of large
	// trees. Reset() preserves the key.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("artifact: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	var combined [64]byte

	hashPairWith := func(left, right Hash) Hash {
		copy(combined[:32], left[:])
		copy(combined[32:], right[:])
		hasher.Reset()
		hasher.Write(combined[:])
		var result Hash
		copy(result[:], hasher.Sum(nil))
		return result
	}

	// Work on a copy to avoid mutating the caller's slice.
	level := make([]Hash, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		nextLength := (len(level) + 1) / 2
		next := make([]Hash, nextLength)

		for i := 0; i < len(level)-1; i += 2 {
			next[i/2] = hashPairWith(level[i], level[i+1])
		}

		// Odd node: promote without hashing.
		if len(level)%2 == 1 {
			next[nextLength-1] = level[len(level)-1]
		}

		level = next
	}

	return level[0]
}

// FormatHash returns the hex-encoded string representation of a hash.
// This is the canonical format used in metadata, logs, and CLI output.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing artifact hash: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("artifact hash is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// MarshalText implements encoding.TextMarshaler. Hashes serialize as
// lowercase hex in CBOR and JSON documents (tag files, metadata,
// reconstruction records), keeping them readable in dumps.
func (h Hash) MarshalText() ([]byte, error) {
	text := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(text, h[:])
	return text, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// RefPrefix is the prefix of short artifact references.
const RefPrefix = "art-"

// FormatRef returns the short artifact reference for a file-domain
// hash: the "art-" prefix followed by the first 12 hex characters.
func FormatRef(fileHash Hash) string {
	return RefPrefix + hex.EncodeToString(fileHash[:6])
}

// IsRef reports whether s has the shape of a short artifact reference
// (the "art-" prefix followed by exactly 12 hex characters). It does
// not check whether the artifact exists.
func IsRef(s string) bool {
	if !strings.HasPrefix(s, RefPrefix) {
		return false
	}
	rest := s[len(RefPrefix):]
	if len(rest) != 12 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}

// keyedHash computes a BLAKE3 keyed hash with the given domain key.
func keyedHash(key domainKey, data []byte) Hash {
	// NewKeyed only fails for a wrong key length, which the fixed-size
	// domainKey type rules out.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("artifact: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}
