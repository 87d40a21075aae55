// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Directory names within the artifact store root.
const (
	containerDir      = "containers"
	reconstructionDir = "reconstruction"
	tmpDir            = "tmp"
)

// MaxContainerChunks is the target maximum number of chunks per
// container. A container is flushed when it reaches this count or
// when the accumulated data size approaches MaxContainerSize.
const MaxContainerChunks = 1024

// MaxContainerSize is the target maximum compressed data size per
// container in bytes (~64 MiB). This is a soft limit: the chunk that
// pushes the container over is included, then the container is
// flushed.
const MaxContainerSize = 64 * 1024 * 1024

// Store manages the local artifact storage directory. It provides
// the write and read pipelines that tie together chunking, hashing,
// compression, container management, and optional encryption with
// filesystem operations.
//
// The store is safe for concurrent reads but not concurrent writes
// to the same artifact. The caller (artifact service or CLI) is
// responsible for serializing writes.
type Store struct {
	root string

	// keys is non-nil when the store encrypts content at rest. Both
	// containers and reconstruction records are then encrypted, and
	// their on-disk names obscured.
	keys *EncryptionKeySet
}

// NewStore creates a plaintext Store rooted at the given directory.
// The directory structure is created if it does not exist.
func NewStore(root string) (*Store, error) {
	return newStore(root, nil)
}

// NewEncryptedStore creates a Store that encrypts containers and
// reconstruction records at rest using keys derived from the key
// set's master key. The store takes ownership of the key set.
func NewEncryptedStore(root string, keys *EncryptionKeySet) (*Store, error) {
	if keys == nil {
		return nil, fmt.Errorf("encrypted store requires a key set")
	}
	return newStore(root, keys)
}

func newStore(root string, keys *EncryptionKeySet) (*Store, error) {
	for _, dir := range []string{
		root,
		filepath.Join(root, containerDir),
		filepath.Join(root, reconstructionDir),
		filepath.Join(root, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}
	return &Store{root: root, keys: keys}, nil
}

// Encrypted reports whether the store encrypts content at rest.
func (s *Store) Encrypted() bool {
	return s.keys != nil
}

// StoreResult is returned by [Store.Write] with metadata about the
// stored artifact.
type StoreResult struct {
	// FileHash is the file-domain BLAKE3 hash (the artifact identity).
	FileHash Hash

	// Ref is the short artifact reference (art-<12 hex chars>).
	Ref string

	// Size is the total uncompressed content size in bytes.
	Size int64

	// ChunkCount is the number of chunks the content was split into.
	ChunkCount int

	// ContainerCount is the number of containers referenced.
	ContainerCount int

	// CompressedSize is the total container size on disk in bytes
	// (headers + compressed chunk data), including containers that
	// already existed.
	CompressedSize int64

	// DedupedSize is the portion of CompressedSize that was already
	// on disk from earlier writes (containers with identical
	// content).
	DedupedSize int64

	// Compression is the compression algorithm selected for this
	// artifact. Individual chunks fall back to CompressionNone when
	// the selected algorithm cannot shrink them; per-chunk tags are
	// recorded in the container index.
	Compression CompressionTag
}

// Write ingests content from r, chunks it, compresses it, packs it
// into containers, and writes everything to disk. Returns metadata
// about the stored artifact.
//
// The contentType parameter drives compression auto-selection. Pass
// an empty string to always probe the first chunk.
//
// If compressionOverride is non-nil, it overrides the auto-selected
// compression algorithm for all chunks.
func (s *Store) Write(r io.Reader, contentType string, compressionOverride *CompressionTag) (*StoreResult, error) {
	// The whole content is held in memory for chunking. Artifacts
	// from CI builds are installer-sized; a streaming write path can
	// come when multi-GB artifacts show up.
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}

	if len(content) == 0 {
		return nil, fmt.Errorf("cannot store empty content")
	}

	var compression CompressionTag
	if compressionOverride != nil {
		compression = *compressionOverride
	} else {
		// Probe up to the first TargetChunkSize bytes.
		probeSize := len(content)
		if probeSize > TargetChunkSize {
			probeSize = TargetChunkSize
		}
		compression = SelectCompression(content[:probeSize], contentType)
	}

	// Small artifact fast path: no CDC, single chunk.
	if len(content) <= SmallArtifactThreshold {
		return s.writeSmall(content, compression)
	}

	return s.writeLarge(content, compression)
}

// writeSmall stores a small artifact as a single chunk in a single
// container.
func (s *Store) writeSmall(content []byte, compression CompressionTag) (*StoreResult, error) {
	chunkHash := HashChunk(content)
	fileHash := HashFile(chunkHash)

	compressed, actualTag, err := compressWithFallback(content, compression)
	if err != nil {
		return nil, fmt.Errorf("compressing small artifact: %w", err)
	}

	builder := NewContainerBuilder()
	builder.AddChunk(chunkHash, compressed, actualTag, uint32(len(content)))

	containerHash, containerSize, deduped, err := s.flushContainer(builder)
	if err != nil {
		return nil, fmt.Errorf("writing container: %w", err)
	}

	record := &ReconstructionRecord{
		Version:    ReconstructionRecordVersion,
		FileHash:   fileHash,
		Size:       int64(len(content)),
		ChunkCount: 1,
		Segments: []Segment{{
			Container:  containerHash,
			StartIndex: 0,
			ChunkCount: 1,
		}},
	}

	if err := s.writeReconstruction(fileHash, record); err != nil {
		return nil, err
	}

	result := &StoreResult{
		FileHash:       fileHash,
		Ref:            FormatRef(fileHash),
		Size:           int64(len(content)),
		ChunkCount:     1,
		ContainerCount: 1,
		CompressedSize: containerSize,
		Compression:    actualTag,
	}
	if deduped {
		result.DedupedSize = containerSize
	}
	return result, nil
}

// writeLarge stores a large artifact using CDC chunking, potentially
// spanning multiple containers.
func (s *Store) writeLarge(content []byte, compression CompressionTag) (*StoreResult, error) {
	chunker := NewChunker(content)

	var (
		allChunkHashes  []Hash
		segments        []Segment
		builder         = NewContainerBuilder()
		containerStart  = 0 // chunk index where the current container started
		totalCompressed int64
		totalDeduped    int64
	)

	flushCurrentContainer := func() error {
		if builder.ChunkCount() == 0 {
			return nil
		}

		containerHash, containerSize, deduped, err := s.flushContainer(builder)
		if err != nil {
			return err
		}

		totalCompressed += containerSize
		if deduped {
			totalDeduped += containerSize
		}

		segments = append(segments, Segment{
			Container:  containerHash,
			StartIndex: 0,
			ChunkCount: len(allChunkHashes) - containerStart,
		})

		containerStart = len(allChunkHashes)
		return nil
	}

	for {
		chunk := chunker.Next()
		if chunk == nil {
			break
		}

		allChunkHashes = append(allChunkHashes, chunk.Hash)

		compressed, actualTag, err := compressWithFallback(chunk.Data, compression)
		if err != nil {
			return nil, fmt.Errorf("compressing chunk %d: %w", len(allChunkHashes)-1, err)
		}

		builder.AddChunk(chunk.Hash, compressed, actualTag, uint32(len(chunk.Data)))

		if builder.ChunkCount() >= MaxContainerChunks || builder.DataSize() >= MaxContainerSize {
			if err := flushCurrentContainer(); err != nil {
				return nil, err
			}
		}
	}

	if err := flushCurrentContainer(); err != nil {
		return nil, err
	}

	merkleRoot := MerkleRoot(chunkDomainKey, allChunkHashes)
	fileHash := HashFile(merkleRoot)

	record := &ReconstructionRecord{
		Version:    ReconstructionRecordVersion,
		FileHash:   fileHash,
		Size:       int64(len(content)),
		ChunkCount: len(allChunkHashes),
		Segments:   segments,
	}

	if err := s.writeReconstruction(fileHash, record); err != nil {
		return nil, err
	}

	return &StoreResult{
		FileHash:       fileHash,
		Ref:            FormatRef(fileHash),
		Size:           int64(len(content)),
		ChunkCount:     len(allChunkHashes),
		ContainerCount: len(segments),
		CompressedSize: totalCompressed,
		DedupedSize:    totalDeduped,
		Compression:    compression,
	}, nil
}

// Read reconstructs an artifact from its containers and writes the
// content to w. Returns the total number of bytes written.
func (s *Store) Read(fileHash Hash, w io.Writer) (int64, error) {
	record, err := s.readReconstruction(fileHash)
	if err != nil {
		return 0, err
	}

	if err := record.Validate(); err != nil {
		return 0, fmt.Errorf("invalid reconstruction record: %w", err)
	}

	if record.FileHash != fileHash {
		return 0, fmt.Errorf("reconstruction record file hash %s does not match requested %s",
			FormatHash(record.FileHash), FormatHash(fileHash))
	}

	var totalWritten int64
	var allChunkHashes []Hash

	for segmentIndex, segment := range record.Segments {
		containerBytes, err := s.readContainerBytes(segment.Container)
		if err != nil {
			return totalWritten, fmt.Errorf("reading container %s: %w",
				FormatHash(segment.Container), err)
		}

		reader := bytes.NewReader(containerBytes)
		cr, err := ReadContainerIndex(reader)
		if err != nil {
			return totalWritten, fmt.Errorf("reading container %s index: %w",
				FormatHash(segment.Container), err)
		}

		// The container's computed hash must match what the
		// reconstruction record expects.
		if cr.Hash != segment.Container {
			return totalWritten, fmt.Errorf("container hash mismatch for segment %d: expected %s, got %s",
				segmentIndex, FormatHash(segment.Container), FormatHash(cr.Hash))
		}

		for i := 0; i < segment.ChunkCount; i++ {
			chunkIndex := segment.StartIndex + i
			if chunkIndex >= len(cr.Index) {
				return totalWritten, fmt.Errorf("segment %d: chunk index %d out of range (container has %d chunks)",
					segmentIndex, chunkIndex, len(cr.Index))
			}

			decompressed, err := cr.ExtractChunk(reader, chunkIndex)
			if err != nil {
				return totalWritten, fmt.Errorf("extracting chunk %d from container %s: %w",
					chunkIndex, FormatHash(segment.Container), err)
			}

			written, err := w.Write(decompressed)
			if err != nil {
				return totalWritten, fmt.Errorf("writing chunk %d: %w", chunkIndex, err)
			}
			totalWritten += int64(written)

			allChunkHashes = append(allChunkHashes, cr.Index[chunkIndex].Hash)
		}
	}

	// Verify the file hash over everything that was emitted.
	merkleRoot := MerkleRoot(chunkDomainKey, allChunkHashes)
	computedFileHash := HashFile(merkleRoot)
	if computedFileHash != fileHash {
		return totalWritten, fmt.Errorf("file hash verification failed: expected %s, computed %s",
			FormatHash(fileHash), FormatHash(computedFileHash))
	}

	return totalWritten, nil
}

// ReadContent is a convenience function that reads an artifact into
// a byte slice. For large artifacts, prefer [Store.Read] with a
// streaming writer.
func (s *Store) ReadContent(fileHash Hash) ([]byte, error) {
	var buffer bytes.Buffer
	if _, err := s.Read(fileHash, &buffer); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// WriteContent is a convenience function that stores content from a
// byte slice.
func (s *Store) WriteContent(content []byte, contentType string) (*StoreResult, error) {
	return s.Write(bytes.NewReader(content), contentType, nil)
}

// Exists checks whether an artifact's reconstruction record exists
// on disk.
func (s *Store) Exists(fileHash Hash) bool {
	_, err := os.Stat(s.reconstructionPath(fileHash))
	return err == nil
}

// Stat returns the reconstruction record for a stored artifact
// without reading its content.
func (s *Store) Stat(fileHash Hash) (*ReconstructionRecord, error) {
	return s.readReconstruction(fileHash)
}

// GCStats reports what a garbage collection pass removed and kept.
type GCStats struct {
	ArtifactsKept     int   `json:"artifacts_kept"`
	ArtifactsRemoved  int   `json:"artifacts_removed"`
	ContainersKept    int   `json:"containers_kept"`
	ContainersRemoved int   `json:"containers_removed"`
	BytesFreed        int64 `json:"bytes_freed"`
}

// GC removes every artifact whose file hash is not in the keep set,
// then removes containers no surviving artifact references. The
// caller builds the keep set from tags and whatever retention policy
// applies; GC itself has no policy.
//
// Writes must be paused while GC runs — the caller holds the write
// mutex.
func (s *Store) GC(keep map[Hash]struct{}) (*GCStats, error) {
	stats := &GCStats{}

	// Mark: on-disk names of reconstruction records and containers
	// that must survive. With encryption, on-disk names are obscured,
	// so both sets are computed through storage-name mapping.
	keepRecords := make(map[string]struct{}, len(keep))
	liveContainers := make(map[string]struct{})

	for fileHash := range keep {
		keepRecords[s.reconstructionName(fileHash)] = struct{}{}

		record, err := s.readReconstruction(fileHash)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// A tag or history row can outlive its artifact;
				// nothing to keep for it.
				continue
			}
			return nil, fmt.Errorf("reading reconstruction record for %s: %w", FormatRef(fileHash), err)
		}
		for _, segment := range record.Segments {
			liveContainers[s.containerName(segment.Container)] = struct{}{}
		}
	}

	// Sweep reconstruction records.
	reconRoot := filepath.Join(s.root, reconstructionDir)
	err := filepath.WalkDir(reconRoot, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".cbor") {
			return nil
		}
		if _, live := keepRecords[strings.TrimSuffix(name, ".cbor")]; live {
			stats.ArtifactsKept++
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing reconstruction record %s: %w", path, err)
		}
		stats.ArtifactsRemoved++
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("sweeping reconstruction records: %w", err)
	}

	// Sweep containers.
	containerRoot := filepath.Join(s.root, containerDir)
	err = filepath.WalkDir(containerRoot, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if _, live := liveContainers[entry.Name()]; live {
			stats.ContainersKept++
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stating container %s: %w", path, err)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing container %s: %w", path, err)
		}
		stats.ContainersRemoved++
		stats.BytesFreed += info.Size()
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("sweeping containers: %w", err)
	}

	return stats, nil
}

// flushContainer writes a container to disk via atomic rename through
// the tmp directory. Returns the container hash, the on-disk size,
// and whether an identical container was already present (dedup).
func (s *Store) flushContainer(builder *ContainerBuilder) (Hash, int64, bool, error) {
	var buffer bytes.Buffer
	containerHash, err := builder.Flush(&buffer)
	if err != nil {
		return Hash{}, 0, false, fmt.Errorf("flushing container: %w", err)
	}

	blob := buffer.Bytes()
	if s.keys != nil {
		blob, err = s.keys.EncryptContainer(blob, containerHash)
		if err != nil {
			return Hash{}, 0, false, fmt.Errorf("encrypting container: %w", err)
		}
	}

	finalPath := s.containerPath(containerHash)

	// Dedup: same content produces the same hash, and the existing
	// container is identical by construction.
	if info, err := os.Stat(finalPath); err == nil {
		return containerHash, info.Size(), true, nil
	}

	if err := s.atomicWrite(finalPath, blob); err != nil {
		return Hash{}, 0, false, err
	}

	return containerHash, int64(len(blob)), false, nil
}

// readContainerBytes reads (and decrypts, if the store is encrypted)
// the container with the given hash.
func (s *Store) readContainerBytes(containerHash Hash) ([]byte, error) {
	blob, err := os.ReadFile(s.containerPath(containerHash))
	if err != nil {
		return nil, err
	}
	if s.keys != nil {
		plaintext, err := s.keys.DecryptContainer(blob, containerHash)
		if err != nil {
			return nil, fmt.Errorf("decrypting container: %w", err)
		}
		return plaintext, nil
	}
	return blob, nil
}

// writeReconstruction writes a reconstruction record to disk via
// atomic rename, encrypting it first when the store is encrypted.
func (s *Store) writeReconstruction(fileHash Hash, record *ReconstructionRecord) error {
	data, err := MarshalReconstruction(record)
	if err != nil {
		return fmt.Errorf("marshaling reconstruction record: %w", err)
	}

	if s.keys != nil {
		data, err = s.keys.EncryptReconstruction(data, fileHash)
		if err != nil {
			return fmt.Errorf("encrypting reconstruction record: %w", err)
		}
	}

	if err := s.atomicWrite(s.reconstructionPath(fileHash), data); err != nil {
		return fmt.Errorf("writing reconstruction record: %w", err)
	}
	return nil
}

// readReconstruction reads (and decrypts, if needed) a reconstruction
// record from disk.
func (s *Store) readReconstruction(fileHash Hash) (*ReconstructionRecord, error) {
	data, err := os.ReadFile(s.reconstructionPath(fileHash))
	if err != nil {
		return nil, fmt.Errorf("reading reconstruction record for %s: %w",
			FormatRef(fileHash), err)
	}

	if s.keys != nil {
		data, err = s.keys.DecryptReconstruction(data, fileHash)
		if err != nil {
			return nil, fmt.Errorf("decrypting reconstruction record for %s: %w",
				FormatRef(fileHash), err)
		}
	}

	return UnmarshalReconstruction(data)
}

// atomicWrite writes data to path via a temp file in the store's tmp
// directory and an atomic rename. The shard directory is created as
// needed.
func (s *Store) atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating shard directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "write-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming to %s: %w", path, err)
	}

	success = true
	return nil
}

// containerName returns the on-disk filename for a container: the
// hex hash, obscured when the store is encrypted.
func (s *Store) containerName(containerHash Hash) string {
	if s.keys != nil {
		return FormatHash(s.keys.ObscuredContainerRef(containerHash))
	}
	return FormatHash(containerHash)
}

// containerPath returns the sharded filesystem path for a container:
// containers/a3/f9/a3f9b2c1e7d4...
func (s *Store) containerPath(containerHash Hash) string {
	name := s.containerName(containerHash)
	return filepath.Join(s.root, containerDir, name[:2], name[2:4], name)
}

// reconstructionName returns the on-disk filename stem for a
// reconstruction record.
func (s *Store) reconstructionName(fileHash Hash) string {
	if s.keys != nil {
		return FormatHash(s.keys.ObscuredReconRef(fileHash))
	}
	return FormatHash(fileHash)
}

// reconstructionPath returns the sharded filesystem path for a
// reconstruction record.
func (s *Store) reconstructionPath(fileHash Hash) string {
	name := s.reconstructionName(fileHash)
	return filepath.Join(s.root, reconstructionDir, name[:2], name[2:4], name+".cbor")
}

// compressWithFallback attempts to compress data with the given
// algorithm. If the data is incompressible, falls back to
// CompressionNone and returns the original data.
func compressWithFallback(data []byte, tag CompressionTag) ([]byte, CompressionTag, error) {
	if tag == CompressionNone {
		return data, CompressionNone, nil
	}

	compressed, err := CompressChunk(data, tag)
	if err != nil {
		if IsIncompressible(err) {
			return data, CompressionNone, nil
		}
		return nil, 0, err
	}
	return compressed, tag, nil
}
