// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bytes"
	"math/rand"
	"testing"
)

// randomBytes returns deterministic pseudo-random data. A fixed seed
// keeps chunk boundaries stable across test runs.
func randomBytes(t *testing.T, size int, seed int64) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	data := make([]byte, size)
	if _, err := rng.Read(data); err != nil {
		t.Fatalf("generating random data: %v", err)
	}
	return data
}

func TestChunkerReassemblesInput(t *testing.T) {
	data := randomBytes(t, 1024*1024, 1)

	chunks := ChunkAll(data)
	if len(chunks) == 0 {
		t.Fatal("ChunkAll returned no chunks")
	}

	var reassembled bytes.Buffer
	for _, chunk := range chunks {
		reassembled.Write(chunk.Data)
	}

	if !bytes.Equal(reassembled.Bytes(), data) {
		t.Error("reassembled chunks do not equal original data")
	}
}

func TestChunkerRespectsSizeBounds(t *testing.T) {
	data := randomBytes(t, 4*1024*1024, 2)

	chunks := ChunkAll(data)
	for i, chunk := range chunks {
		if len(chunk.Data) > MaxChunkSize {
			t.Errorf("chunk %d is %d bytes, exceeds MaxChunkSize %d",
				i, len(chunk.Data), MaxChunkSize)
		}
		// Every chunk except the last must meet the minimum.
		if i < len(chunks)-1 && len(chunk.Data) < MinChunkSize {
			t.Errorf("chunk %d is %d bytes, below MinChunkSize %d",
				i, len(chunk.Data), MinChunkSize)
		}
	}
}

func TestChunkerDeterministic(t *testing.T) {
	data := randomBytes(t, 2*1024*1024, 3)

	first := ChunkAll(data)
	second := ChunkAll(data)

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Hash != second[i].Hash {
			t.Errorf("chunk %d hash differs between runs", i)
		}
	}
}

func TestChunkerSmallInputSingleChunk(t *testing.T) {
	// Input below MinChunkSize cannot be split.
	data := randomBytes(t, MinChunkSize/2, 4)

	chunks := ChunkAll(data)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk for %d bytes, got %d", len(data), len(chunks))
	}
	if !bytes.Equal(chunks[0].Data, data) {
		t.Error("single chunk does not equal input")
	}
	if chunks[0].Hash != HashChunk(data) {
		t.Error("chunk hash does not match HashChunk of the data")
	}
}

func TestChunkerEmptyInput(t *testing.T) {
	chunks := ChunkAll(nil)
	if len(chunks) != 0 {
		t.Errorf("expected no chunks for empty input, got %d", len(chunks))
	}

	chunker := NewChunker(nil)
	if chunk := chunker.Next(); chunk != nil {
		t.Error("Next on empty input returned a chunk")
	}
}

func TestChunkerNextTerminates(t *testing.T) {
	data := randomBytes(t, 512*1024, 5)

	chunker := NewChunker(data)
	count := 0
	total := 0
	for {
		chunk := chunker.Next()
		if chunk == nil {
			break
		}
		count++
		total += len(chunk.Data)
		if count > len(data) {
			t.Fatal("chunker did not terminate")
		}
	}

	if total != len(data) {
		t.Errorf("chunks cover %d bytes, want %d", total, len(data))
	}

	// Next after exhaustion keeps returning nil.
	if chunk := chunker.Next(); chunk != nil {
		t.Error("Next returned a chunk after exhaustion")
	}
}

func TestChunkerBoundaryShiftResistance(t *testing.T) {
	// Content-defined chunking localizes edits: prepending a byte
	// shifts every offset, but most chunk boundaries (and therefore
	// most chunk hashes) must survive.
	data := randomBytes(t, 4*1024*1024, 6)

	original := ChunkAll(data)
	shifted := ChunkAll(append([]byte{0x42}, data...))

	originalHashes := make(map[Hash]struct{}, len(original))
	for _, chunk := range original {
		originalHashes[chunk.Hash] = struct{}{}
	}

	shared := 0
	for _, chunk := range shifted {
		if _, ok := originalHashes[chunk.Hash]; ok {
			shared++
		}
	}

	// The first chunk changes; nearly everything after the first
	// boundary should re-align.
	if shared < len(original)/2 {
		t.Errorf("only %d of %d chunks survived a one-byte prepend; CDC re-alignment is broken",
			shared, len(original))
	}
}

func TestChunkerAverageSizeNearTarget(t *testing.T) {
	data := randomBytes(t, 16*1024*1024, 7)

	chunks := ChunkAll(data)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for %d bytes, got %d", len(data), len(chunks))
	}

	average := len(data) / len(chunks)

	// GearHash with a 16-bit boundary mask targets 64KB. Accept a
	// generous band — the clamp at MinChunkSize and MaxChunkSize
	// skews the distribution.
	if average < TargetChunkSize/4 || average > MaxChunkSize {
		t.Errorf("average chunk size %d is far from target %d", average, TargetChunkSize)
	}
}

func BenchmarkChunker(b *testing.B) {
	rng := rand.New(rand.NewSource(42))
	data := make([]byte, 16*1024*1024)
	rng.Read(data)

	b.SetBytes(int64(len(data)))
	b.ReportAllocs()

	for b.Loop() {
		ChunkAll(data)
	}
}
