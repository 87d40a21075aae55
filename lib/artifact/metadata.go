// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/masa-foundation/masa/lib/codec"
)

// Metadata holds per-artifact application metadata that supplements
// the reconstruction record. Written when an artifact is stored, read
// on download (to populate the response filename and content type)
// and on stat.
//
// The reconstruction record holds the physical layout (segments,
// container references); this struct holds what the workflow engine
// knows about the artifact: which run produced it, from which job,
// and under what declared name.
type Metadata struct {
	// FileHash is the full 32-byte file-domain BLAKE3 hash.
	FileHash Hash `json:"file_hash"`

	// Ref is the short artifact reference (art-<12 hex chars>).
	Ref string `json:"ref"`

	// Name is the artifact name declared in the workflow step output
	// (for example "masa-log-windows"). Empty for artifacts stored
	// directly via the CLI without a name.
	Name string `json:"name,omitempty"`

	// RunID, Workflow, and Job identify the workflow run that
	// produced the artifact. Empty for direct CLI uploads.
	RunID    string `json:"run_id,omitempty"`
	Workflow string `json:"workflow,omitempty"`
	Job      string `json:"job,omitempty"`

	// ContentType is the MIME type supplied at store time. Artifact
	// archives produced by the runner use "application/x-tar".
	ContentType string `json:"content_type"`

	// Filename is the suggested filename for downloads.
	Filename string `json:"filename,omitempty"`

	// Labels are free-form strings for filtering in list output.
	Labels []string `json:"labels,omitempty"`

	// Size is the total uncompressed content size in bytes.
	Size int64 `json:"size"`

	// FileCount is the number of files inside the artifact archive,
	// or zero when the artifact is not an archive.
	FileCount int `json:"file_count,omitempty"`

	ChunkCount     int       `json:"chunk_count"`
	ContainerCount int       `json:"container_count"`
	Compression    string    `json:"compression"`
	StoredAt       time.Time `json:"stored_at"`
}

// MetadataStore persists per-artifact metadata as sharded CBOR files
// on disk. Each metadata file is keyed by the artifact's file hash,
// using the same two-level sharding as reconstruction records:
//
//	<root>/<hex[:2]>/<hex[2:4]>/<hash>.cbor
//
// Metadata files are stored in plaintext even when the store content
// is encrypted: list and stat must work without paying a decryption
// pass over every artifact, and the metadata holds names and run
// identifiers, not content.
//
// MetadataStore is safe for concurrent reads. Writes must be
// serialized by the caller (the artifact service holds a write
// mutex).
type MetadataStore struct {
	root string
}

// NewMetadataStore creates a MetadataStore rooted at the given
// directory. Creates the directory if it does not exist.
func NewMetadataStore(root string) (*MetadataStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating metadata directory %s: %w", root, err)
	}
	return &MetadataStore{root: root}, nil
}

// Write atomically persists metadata to disk. The file is written to
// a temporary location first, then renamed to the final sharded path,
// so readers never see a partially-written file.
func (m *MetadataStore) Write(meta *Metadata) error {
	data, err := codec.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling artifact metadata: %w", err)
	}

	finalPath := m.path(meta.FileHash)

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("creating metadata shard directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(m.root, "metadata-*.cbor")
	if err != nil {
		return fmt.Errorf("creating temp metadata file: %w", err)
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
		return fmt.Errorf("writing metadata: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp metadata file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming metadata to %s: %w", finalPath, err)
	}

	success = true
	return nil
}

// Read loads metadata for the given file hash. Returns an error
// wrapping os.ErrNotExist if no metadata has been stored for this
// artifact.
func (m *MetadataStore) Read(fileHash Hash) (*Metadata, error) {
	data, err := os.ReadFile(m.path(fileHash))
	if err != nil {
		return nil, fmt.Errorf("reading metadata for %s: %w", FormatRef(fileHash), err)
	}

	var meta Metadata
	if err := codec.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decoding metadata for %s: %w", FormatRef(fileHash), err)
	}
	return &meta, nil
}

// Delete removes the metadata file for the given file hash. Returns
// nil if the file was removed or did not exist.
func (m *MetadataStore) Delete(fileHash Hash) error {
	path := m.path(fileHash)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing metadata for %s: %w", FormatHash(fileHash), err)
	}
	return nil
}

// ScanRefs walks the metadata directory and returns a mapping from
// short artifact references to their full file hashes. This reads
// only filenames — it does NOT open or parse any CBOR files. The
// hash is extracted from the filename (the 64-hex-char hash plus a
// ".cbor" extension), and the ref is computed via FormatRef.
//
// The returned map uses refs as keys and slices of hashes as values
// to handle the (unlikely but possible) case where multiple distinct
// file hashes share the same 12-hex-char ref prefix.
//
// Called once at service startup to build the in-memory ref index.
func (m *MetadataStore) ScanRefs() (map[string][]Hash, error) {
	result := make(map[string][]Hash)

	err := filepath.WalkDir(m.root, func(path string, entry os.DirEntry, err error) error {
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

		hexString := strings.TrimSuffix(name, ".cbor")
		hash, err := ParseHash(hexString)
		if err != nil {
			// Not a metadata file — for example a temp file left by
			// a crash.
			return nil
		}

		ref := FormatRef(hash)
		result[ref] = append(result[ref], hash)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning metadata directory: %w", err)
	}

	return result, nil
}

// ScanAll walks the metadata directory, reads every CBOR metadata
// file, and returns all records. Unlike ScanRefs (which only reads
// filenames), this decodes every file. Runs once at service startup
// to populate the in-memory artifact index.
func (m *MetadataStore) ScanAll() ([]Metadata, error) {
	var results []Metadata

	err := filepath.WalkDir(m.root, func(path string, entry os.DirEntry, err error) error {
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

		hexString := strings.TrimSuffix(name, ".cbor")
		if _, err := ParseHash(hexString); err != nil {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading metadata %s: %w", path, err)
		}

		var meta Metadata
		if err := codec.Unmarshal(data, &meta); err != nil {
			return fmt.Errorf("decoding metadata %s: %w", path, err)
		}

		results = append(results, meta)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning metadata directory: %w", err)
	}

	return results, nil
}

// Sweep removes metadata files for artifacts not in the keep set.
// Returns the number of files removed. Used by garbage collection
// after the content sweep.
func (m *MetadataStore) Sweep(keep map[Hash]struct{}) (int, error) {
	var removed int

	err := filepath.WalkDir(m.root, func(path string, entry os.DirEntry, err error) error {
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

		hash, err := ParseHash(strings.TrimSuffix(name, ".cbor"))
		if err != nil {
			return nil
		}

		if _, live := keep[hash]; live {
			return nil
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing metadata %s: %w", path, err)
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("sweeping metadata directory: %w", err)
	}

	return removed, nil
}

// path returns the sharded filesystem path for a metadata file.
func (m *MetadataStore) path(fileHash Hash) string {
	hex := FormatHash(fileHash)
	return filepath.Join(m.root, hex[:2], hex[2:4], hex+".cbor")
}
