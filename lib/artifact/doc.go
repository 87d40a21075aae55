// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifact implements the content-addressable store (CAS) that
// holds the build outputs collected by workflow runs. It provides
// chunking, hashing, compression, container management, and the Unix
// socket protocol that the artifact service and CLI speak.
//
// The package is organized in layers, each usable independently:
//
//   - Hashing: BLAKE3 with domain-separated keyed mode. Three domains
//     (chunk, container, file) prevent cross-domain collisions, plus a
//     fourth for tag names. Merkle trees over chunk hashes give every
//     artifact a single verifiable identity.
//
//   - Chunking: GearHash content-defined chunking (CDC) with 64KB
//     target, 8KB minimum, 128KB maximum. Boundary placement depends
//     only on content, so a rebuilt installer that differs from the
//     previous release in one section shares most of its chunks with
//     the stored copy.
//
//   - Compression: Per-chunk transparent compression (none, LZ4,
//     zstd). Chunk hashes are computed on uncompressed bytes so
//     deduplication works across compression algorithm changes. A
//     probe of the first chunk selects the codec automatically.
//
//   - Containers: Binary format aggregating up to 1024 compressed
//     chunks into ~64MB units. Fixed-layout header with the chunk
//     index preceding data, so a single read recovers the index and
//     chunk offsets are pure arithmetic.
//
//   - Reconstruction: CBOR-encoded records mapping an artifact hash to
//     the ordered container segments needed to reassemble the content.
//
//   - Encryption: optional at-rest encryption of containers and
//     reconstruction records with XChaCha20-Poly1305 under keys
//     derived from a 32-byte master key. On-disk names of encrypted
//     blobs are obscured so the directory layout reveals nothing.
//
//   - Store and tags: sharded filesystem layout with atomic writes,
//     mark-and-sweep garbage collection, and a mutable tag namespace
//     (compare-and-swap updates) for names like "release/latest".
//
// All artifact references are file-domain BLAKE3 hashes, regardless of
// chunk count. The short form (art- prefix + 12 hex chars of the file
// hash) appears in run results, history rows, and CLI output; the full
// 32-byte hash is stored in metadata.
//
// On-disk metadata uses CBOR (RFC 8949) with Core Deterministic
// Encoding via lib/codec. Struct types use json struct tags —
// fxamacker/cbor falls back to json tags, so the same types work with
// both encoders.
package artifact
