// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/masa-foundation/masa/lib/artifact"
	"github.com/masa-foundation/masa/lib/clock"
)

// Publisher stores collected artifact archives. Two implementations:
// StorePublisher opens the artifact store directly (the default for
// masa run on a single machine), ServicePublisher uploads over the
// artifact service socket (required for --isolate, where job
// subprocesses must not write the store concurrently).
type Publisher interface {
	Publish(ctx context.Context, request PublishRequest, content io.Reader) (*PublishReceipt, error)
}

// PublishRequest carries one collected artifact archive to the store.
type PublishRequest struct {
	// Name is the declared artifact name (e.g. "masa-log-windows").
	Name string

	// RunID, Workflow, and Job are the producing run's provenance,
	// recorded in the artifact metadata.
	RunID    string
	Workflow string
	Job      string

	// Tag, when non-empty, is set to point at the stored artifact
	// (e.g. "runs/<run-id>/<name>").
	Tag string

	// ContentType is the archive MIME type. Collected artifacts use
	// "application/x-tar".
	ContentType string

	// Filename is the suggested download filename.
	Filename string

	// FileCount is the number of files packed into the archive.
	FileCount int

	// Size is the archive size in bytes.
	Size int64
}

// PublishReceipt identifies the stored artifact.
type PublishReceipt struct {
	// Ref is the short content-addressed reference (art-<12 hex>).
	Ref string

	// Hash is the full file hash in hex.
	Hash string

	// Size is the stored content size in bytes.
	Size int64
}

// StorePublisher writes artifacts straight into a store directory:
// content, metadata, and tag. A mutex serializes concurrent jobs of
// the same run — the store's write path assumes one writer, like the
// artifact service's write mutex. It does not serialize against
// other processes; when an artifact service owns the store, use
// ServicePublisher instead.
type StorePublisher struct {
	Store    *artifact.Store
	Metadata *artifact.MetadataStore
	Tags     *artifact.TagStore
	Clock    clock.Clock

	mu sync.Mutex
}

// Publish writes the archive to the store and records its metadata
// and tag.
func (p *StorePublisher) Publish(ctx context.Context, request PublishRequest, content io.Reader) (*PublishReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result, err := p.Store.Write(content, request.ContentType, nil)
	if err != nil {
		return nil, fmt.Errorf("storing artifact %q: %w", request.Name, err)
	}

	clk := p.Clock
	if clk == nil {
		clk = clock.Real()
	}
	now := clk.Now()
	meta := &artifact.Metadata{
		FileHash:       result.FileHash,
		Ref:            result.Ref,
		Name:           request.Name,
		RunID:          request.RunID,
		Workflow:       request.Workflow,
		Job:            request.Job,
		ContentType:    request.ContentType,
		Filename:       request.Filename,
		Size:           result.Size,
		FileCount:      request.FileCount,
		ChunkCount:     result.ChunkCount,
		ContainerCount: result.ContainerCount,
		Compression:    result.Compression.String(),
		StoredAt:       now,
	}
	if err := p.Metadata.Write(meta); err != nil {
		return nil, fmt.Errorf("writing metadata for %q: %w", request.Name, err)
	}

	if request.Tag != "" {
		if err := p.Tags.Set(request.Tag, result.FileHash, nil, true, now); err != nil {
			return nil, fmt.Errorf("tagging artifact %q: %w", request.Name, err)
		}
	}

	return &PublishReceipt{
		Ref:  result.Ref,
		Hash: artifact.FormatHash(result.FileHash),
		Size: result.Size,
	}, nil
}

// ServicePublisher uploads artifacts through the artifact service.
// The service's handler serializes store mutations, so any number of
// runner processes can publish concurrently.
type ServicePublisher struct {
	Client *artifact.Client
}

// Publish uploads the archive. Small archives are embedded in the
// upload header; larger ones stream as a sized binary transfer.
func (p *ServicePublisher) Publish(ctx context.Context, request PublishRequest, content io.Reader) (*PublishReceipt, error) {
	header := &artifact.UploadHeader{
		Action:      "upload",
		Name:        request.Name,
		ContentType: request.ContentType,
		Filename:    request.Filename,
		RunID:       request.RunID,
		Workflow:    request.Workflow,
		Job:         request.Job,
		Tag:         request.Tag,
		FileCount:   request.FileCount,
		Size:        request.Size,
	}

	if request.Size <= artifact.SmallArtifactThreshold {
		data, err := io.ReadAll(content)
		if err != nil {
			return nil, fmt.Errorf("reading artifact %q: %w", request.Name, err)
		}
		header.Data = data
		content = nil
	}

	response, err := p.Client.Upload(ctx, header, content)
	if err != nil {
		return nil, fmt.Errorf("uploading artifact %q: %w", request.Name, err)
	}
	return &PublishReceipt{
		Ref:  response.Ref,
		Hash: response.Hash,
		Size: response.Size,
	}, nil
}
