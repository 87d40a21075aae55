// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"sort"
	"sync"
)

// DefaultListLimit is the maximum number of results returned by
// Index.List when no limit is specified.
const DefaultListLimit = 100

// MaxListLimit is the maximum allowed value for Filter.Limit.
const MaxListLimit = 1000

// Filter controls which artifacts Index.List returns. Zero-value
// fields mean "no filter" for that dimension. All non-zero fields
// must match (AND semantics).
type Filter struct {
	// Workflow matches artifacts produced by this workflow.
	Workflow string

	// Job matches artifacts produced by this job.
	Job string

	// RunID matches artifacts produced by this run.
	RunID string

	// Label matches artifacts whose Labels slice contains this
	// string.
	Label string

	// Limit is the maximum number of results to return. Zero means
	// DefaultListLimit. Values above MaxListLimit are clamped.
	Limit int

	// Offset skips this many results before collecting. Used with
	// Limit for pagination.
	Offset int
}

// Entry pairs a file hash with its metadata. Returned by query
// methods.
type Entry struct {
	FileHash Hash
	Metadata Metadata
}

// Stats holds aggregate counts across all artifacts in the index.
type Stats struct {
	Total      int
	TotalSize  int64
	ByWorkflow map[string]int
}

// Index is an in-memory index of artifact metadata with secondary
// indexes for filtered queries. Dimension values map to sets of file
// hashes so a multi-dimension query intersects the smallest sets
// first.
//
// Index is safe for concurrent reads with a single writer. The
// caller (artifact service) serializes all writes through a mutex.
type Index struct {
	mu        sync.RWMutex
	artifacts map[Hash]Metadata

	// Secondary indexes: dimension value → set of file hashes.
	byWorkflow map[string]map[Hash]struct{}
	byJob      map[string]map[Hash]struct{}
	byRunID    map[string]map[Hash]struct{}
	byLabel    map[string]map[Hash]struct{}
}

// NewIndex returns an empty index ready for use.
func NewIndex() *Index {
	return &Index{
		artifacts:  make(map[Hash]Metadata),
		byWorkflow: make(map[string]map[Hash]struct{}),
		byJob:      make(map[string]map[Hash]struct{}),
		byRunID:    make(map[string]map[Hash]struct{}),
		byLabel:    make(map[string]map[Hash]struct{}),
	}
}

// Build populates the index from a slice of metadata records. Called
// once at startup with the output of MetadataStore.ScanAll.
func (idx *Index) Build(records []Metadata) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, meta := range records {
		idx.addToIndexes(meta)
	}
}

// Put adds or updates an artifact in the index. If an artifact with
// the same file hash already exists, it is replaced and all
// secondary indexes are updated.
func (idx *Index) Put(meta Metadata) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if existing, exists := idx.artifacts[meta.FileHash]; exists {
		idx.removeFromIndexes(existing)
	}
	idx.addToIndexes(meta)
}

// Remove deletes an artifact from all indexes.
func (idx *Index) Remove(fileHash Hash) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	existing, exists := idx.artifacts[fileHash]
	if !exists {
		return
	}
	idx.removeFromIndexes(existing)
}

// Get returns the metadata for a single artifact by hash.
func (idx *Index) Get(fileHash Hash) (Metadata, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	meta, exists := idx.artifacts[fileHash]
	return meta, exists
}

// List returns artifacts matching all filter dimensions. Results are
// sorted by StoredAt descending (newest first). Limit and offset
// control pagination. The second return value is the total match
// count before pagination.
func (idx *Index) List(filter Filter) ([]Entry, int) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	candidates := idx.candidateSet(filter)

	matching := make([]Entry, 0, len(candidates))
	for hash := range candidates {
		matching = append(matching, Entry{
			FileHash: hash,
			Metadata: idx.artifacts[hash],
		})
	}

	// Sort by StoredAt descending.
	sort.Slice(matching, func(i, j int) bool {
		return matching[i].Metadata.StoredAt.After(matching[j].Metadata.StoredAt)
	})

	total := len(matching)

	if filter.Offset > 0 {
		if filter.Offset >= len(matching) {
			return nil, total
		}
		matching = matching[filter.Offset:]
	}

	if len(matching) > limit {
		matching = matching[:limit]
	}

	return matching, total
}

// Len returns the number of artifacts in the index.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.artifacts)
}

// Stats returns aggregate counts across all indexed artifacts.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	stats := Stats{
		Total:      len(idx.artifacts),
		ByWorkflow: make(map[string]int),
	}
	for _, meta := range idx.artifacts {
		stats.TotalSize += meta.Size
		if meta.Workflow != "" {
			stats.ByWorkflow[meta.Workflow]++
		}
	}
	return stats
}

// candidateSet returns the initial set of hashes to filter. When a
// filter dimension has a secondary index, use the smallest matching
// set. When no indexed filter is active, return all artifacts.
// Called with the lock held.
func (idx *Index) candidateSet(filter Filter) map[Hash]struct{} {
	type indexedSet struct {
		set  map[Hash]struct{}
		size int
	}

	var candidates []indexedSet

	if filter.Workflow != "" {
		if set, ok := idx.byWorkflow[filter.Workflow]; ok {
			candidates = append(candidates, indexedSet{set, len(set)})
		} else {
			// No artifacts match this workflow.
			return nil
		}
	}
	if filter.Job != "" {
		if set, ok := idx.byJob[filter.Job]; ok {
			candidates = append(candidates, indexedSet{set, len(set)})
		} else {
			return nil
		}
	}
	if filter.RunID != "" {
		if set, ok := idx.byRunID[filter.RunID]; ok {
			candidates = append(candidates, indexedSet{set, len(set)})
		} else {
			return nil
		}
	}
	if filter.Label != "" {
		if set, ok := idx.byLabel[filter.Label]; ok {
			candidates = append(candidates, indexedSet{set, len(set)})
		} else {
			return nil
		}
	}

	if len(candidates) == 0 {
		// No indexed filter — return all artifacts.
		all := make(map[Hash]struct{}, len(idx.artifacts))
		for hash := range idx.artifacts {
			all[hash] = struct{}{}
		}
		return all
	}

	// Start from the smallest index and intersect with others.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].size < candidates[j].size
	})

	result := make(map[Hash]struct{}, candidates[0].size)
	for hash := range candidates[0].set {
		result[hash] = struct{}{}
	}

	for _, other := range candidates[1:] {
		for hash := range result {
			if _, ok := other.set[hash]; !ok {
				delete(result, hash)
			}
		}
	}

	return result
}

// addToIndexes adds a metadata record to the primary map and all
// secondary indexes. Called with the lock held.
func (idx *Index) addToIndexes(meta Metadata) {
	idx.artifacts[meta.FileHash] = meta

	addToSet(idx.byWorkflow, meta.Workflow, meta.FileHash)
	addToSet(idx.byJob, meta.Job, meta.FileHash)
	addToSet(idx.byRunID, meta.RunID, meta.FileHash)
	for _, label := range meta.Labels {
		addToSet(idx.byLabel, label, meta.FileHash)
	}
}

// removeFromIndexes removes a metadata record from all secondary
// indexes and the primary map. Called with the lock held.
func (idx *Index) removeFromIndexes(meta Metadata) {
	delete(idx.artifacts, meta.FileHash)

	removeFromSet(idx.byWorkflow, meta.Workflow, meta.FileHash)
	removeFromSet(idx.byJob, meta.Job, meta.FileHash)
	removeFromSet(idx.byRunID, meta.RunID, meta.FileHash)
	for _, label := range meta.Labels {
		removeFromSet(idx.byLabel, label, meta.FileHash)
	}
}

// addToSet adds a hash to a secondary index set, creating the set if
// it doesn't exist.
func addToSet(index map[string]map[Hash]struct{}, key string, hash Hash) {
	if key == "" {
		return
	}
	set, ok := index[key]
	if !ok {
		set = make(map[Hash]struct{})
		index[key] = set
	}
	set[hash] = struct{}{}
}

// removeFromSet removes a hash from a secondary index set, deleting
// the set entry if it becomes empty.
func removeFromSet(index map[string]map[Hash]struct{}, key string, hash Hash) {
	if key == "" {
		return
	}
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, hash)
	if len(set) == 0 {
		delete(index, key)
	}
}
