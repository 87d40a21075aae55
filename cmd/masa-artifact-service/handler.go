// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/masa-foundation/masa/lib/artifact"
	"github.com/masa-foundation/masa/lib/clock"
	"github.com/masa-foundation/masa/lib/codec"
	"github.com/masa-foundation/masa/lib/version"
)

// Connection timeout constants.
const (
	// readTimeout is how long we wait for the client to send its
	// initial CBOR message. A well-behaved client sends the request
	// immediately after connecting.
	readTimeout = 30 * time.Second

	// writeTimeout is how long we wait for a control message (error
	// responses, simple action results) to be written. Not used for
	// binary data streaming — those paths remove the deadline.
	writeTimeout = 10 * time.Second
)

// ArtifactService is the core service state.
type ArtifactService struct {
	store         *artifact.Store
	metadataStore *artifact.MetadataStore
	refIndex      *artifact.RefIndex
	tagStore      *artifact.TagStore
	index         *artifact.Index
	clock         clock.Clock
	startedAt     time.Time
	logger        *slog.Logger

	// writeMu serializes store mutations. The Store is not safe for
	// concurrent writes, and a store write plus its metadata and
	// index updates must land as a unit so a concurrent upload of
	// identical content cannot interleave.
	writeMu sync.Mutex
}

// serve starts accepting connections on the Unix socket and
// dispatches requests. Blocks until ctx is cancelled, then stops
// accepting new connections and waits for active handlers to
// complete. The connection handler owns the full connection
// lifecycle because upload and download carry binary streams between
// their CBOR messages.
func (as *ArtifactService) serve(ctx context.Context, socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	as.logger.Info("artifact socket listening", "path", socketPath)

	var activeConnections sync.WaitGroup

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			as.logger.Error("accept failed", "error", err)
			continue
		}

		activeConnections.Add(1)
		go func() {
			defer activeConnections.Done()
			as.handleConnection(ctx, conn)
		}()
	}

	activeConnections.Wait()
	return nil
}

// handleConnection processes one client request on a connection. The
// first message determines the action, and the handler manages the
// rest of the connection lifecycle (including binary streaming for
// upload/download).
func (as *ArtifactService) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// Read the first message. This is always a length-prefixed CBOR
	// message containing at minimum an "action" field.
	raw, err := artifact.ReadRawMessage(conn)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return
		}
		as.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	// Extract the action field for routing.
	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		as.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		as.writeError(conn, "missing required field: action")
		return
	}

	switch header.Action {
	case "upload":
		as.handleUpload(ctx, conn, raw)
	case "download":
		as.handleDownload(ctx, conn, raw)
	case "stat":
		as.handleStat(ctx, conn, raw)
	case "list":
		as.handleList(ctx, conn, raw)
	case "resolve-tag":
		as.handleResolveTag(ctx, conn, raw)
	case "set-tag":
		as.handleSetTag(ctx, conn, raw)
	case "ping":
		as.handlePing(ctx, conn, raw)
	default:
		as.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
	}
}

// --- Upload action ---

func (as *ArtifactService) handleUpload(ctx context.Context, conn net.Conn, raw []byte) {
	var header artifact.UploadHeader
	if err := codec.Unmarshal(raw, &header); err != nil {
		as.writeError(conn, fmt.Sprintf("invalid upload header: %v", err))
		return
	}

	as.writeMu.Lock()
	defer as.writeMu.Unlock()

	var storeResult *artifact.StoreResult
	var err error

	if header.Data != nil {
		// Small artifact: content embedded in the header.
		storeResult, err = as.store.WriteContent(header.Data, header.ContentType)
	} else {
		// Large artifact: binary data follows the header. Remove
		// the read deadline — streaming can take a long time.
		conn.SetReadDeadline(time.Time{})
		reader := artifact.DataReader(conn, header.Size)
		storeResult, err = as.store.Write(reader, header.ContentType, nil)
	}

	if err != nil {
		as.writeError(conn, fmt.Sprintf("upload failed: %v", err))
		return
	}

	// Persist metadata.
	meta := &artifact.Metadata{
		FileHash:       storeResult.FileHash,
		Ref:            storeResult.Ref,
		Name:           header.Name,
		RunID:          header.RunID,
		Workflow:       header.Workflow,
		Job:            header.Job,
		ContentType:    header.ContentType,
		Filename:       header.Filename,
		Labels:         header.Labels,
		Size:           storeResult.Size,
		FileCount:      header.FileCount,
		ChunkCount:     storeResult.ChunkCount,
		ContainerCount: storeResult.ContainerCount,
		Compression:    storeResult.Compression.String(),
		StoredAt:       as.clock.Now(),
	}
	if err := as.metadataStore.Write(meta); err != nil {
		as.writeError(conn, fmt.Sprintf("persisting metadata: %v", err))
		return
	}

	// Update the ref index and artifact index.
	as.refIndex.Add(storeResult.FileHash)
	as.index.Put(*meta)

	// If the upload included a tag, point it at the fresh artifact
	// now. Upload-with-tag is optimistic (last writer wins) — the
	// caller explicitly asked to move the tag.
	if header.Tag != "" {
		if err := as.tagStore.Set(header.Tag, storeResult.FileHash, nil, true, as.clock.Now()); err != nil {
			as.writeError(conn, fmt.Sprintf("setting tag %q: %v", header.Tag, err))
			return
		}
		as.logger.Info("tag set via upload",
			"tag", header.Tag,
			"ref", storeResult.Ref,
		)
	}

	as.logger.Info("artifact stored",
		"ref", storeResult.Ref,
		"name", header.Name,
		"workflow", header.Workflow,
		"job", header.Job,
		"size", storeResult.Size,
		"chunks", storeResult.ChunkCount,
		"containers", storeResult.ContainerCount,
		"compression", storeResult.Compression.String(),
	)

	as.writeResult(conn, &artifact.UploadResponse{
		Ref:            storeResult.Ref,
		Hash:           artifact.FormatHash(storeResult.FileHash),
		Size:           storeResult.Size,
		ChunkCount:     storeResult.ChunkCount,
		ContainerCount: storeResult.ContainerCount,
		Compression:    storeResult.Compression.String(),
		BytesStored:    storeResult.CompressedSize,
		BytesDeduped:   storeResult.DedupedSize,
	})
}

// --- Download action ---

func (as *ArtifactService) handleDownload(ctx context.Context, conn net.Conn, raw []byte) {
	var request artifact.DownloadRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		as.writeError(conn, fmt.Sprintf("invalid download request: %v", err))
		return
	}

	fileHash, err := as.resolveRef(request.Ref)
	if err != nil {
		as.writeError(conn, err.Error())
		return
	}

	// Load metadata for name, content type, filename.
	meta, err := as.metadataStore.Read(fileHash)
	if err != nil {
		as.writeError(conn, fmt.Sprintf("reading metadata: %v", err))
		return
	}

	// Reconstruction record for size and chunk count.
	record, err := as.store.Stat(fileHash)
	if err != nil {
		as.writeError(conn, fmt.Sprintf("reading reconstruction record: %v", err))
		return
	}

	if record.Size <= int64(artifact.SmallArtifactThreshold) {
		// Small artifact: embed content in the response.
		content, err := as.store.ReadContent(fileHash)
		if err != nil {
			as.writeError(conn, fmt.Sprintf("reading content: %v", err))
			return
		}
		as.writeResult(conn, &artifact.DownloadResponse{
			Name:        meta.Name,
			Size:        record.Size,
			ContentType: meta.ContentType,
			Filename:    meta.Filename,
			Hash:        artifact.FormatHash(fileHash),
			ChunkCount:  record.ChunkCount,
			Compression: meta.Compression,
			Data:        content,
		})
		return
	}

	// Large artifact: send response header, then stream content.
	response := &artifact.DownloadResponse{
		Name:        meta.Name,
		Size:        record.Size,
		ContentType: meta.ContentType,
		Filename:    meta.Filename,
		Hash:        artifact.FormatHash(fileHash),
		ChunkCount:  record.ChunkCount,
		Compression: meta.Compression,
		// Data is nil — content follows as a sized binary stream.
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := artifact.WriteMessage(conn, response); err != nil {
		as.logger.Debug("failed to write download response header", "error", err)
		return
	}

	// Stream the content directly to the connection. Remove the
	// write deadline — streaming can take a long time.
	conn.SetWriteDeadline(time.Time{})
	if _, err := as.store.Read(fileHash, conn); err != nil {
		as.logger.Error("download stream failed",
			"ref", artifact.FormatRef(fileHash),
			"error", err,
		)
	}
}

// --- Stat action ---

func (as *ArtifactService) handleStat(ctx context.Context, conn net.Conn, raw []byte) {
	var request artifact.StatRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		as.writeError(conn, fmt.Sprintf("invalid stat request: %v", err))
		return
	}
	if request.Ref == "" {
		as.writeError(conn, "missing required field: ref")
		return
	}

	fileHash, err := as.resolveRef(request.Ref)
	if err != nil {
		as.writeError(conn, err.Error())
		return
	}

	meta, err := as.metadataStore.Read(fileHash)
	if err != nil {
		as.writeError(conn, fmt.Sprintf("reading metadata: %v", err))
		return
	}

	as.writeResult(conn, meta)
}

// --- List action ---

func (as *ArtifactService) handleList(ctx context.Context, conn net.Conn, raw []byte) {
	var request artifact.ListRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		as.writeError(conn, fmt.Sprintf("invalid list request: %v", err))
		return
	}

	switch request.Kind {
	case "", artifact.ListKindArtifacts:
		entries, total := as.index.List(artifact.Filter{
			Workflow: request.Workflow,
			Job:      request.Job,
			RunID:    request.RunID,
			Label:    request.Label,
			Limit:    request.Limit,
			Offset:   request.Offset,
		})
		records := make([]artifact.Metadata, len(entries))
		for i, entry := range entries {
			records[i] = entry.Metadata
		}
		as.writeResult(conn, &artifact.ListResponse{
			Artifacts: records,
			Total:     total,
		})

	case artifact.ListKindTags:
		records := as.tagStore.List(request.TagPrefix)
		as.writeResult(conn, &artifact.ListResponse{
			Tags:  records,
			Total: len(records),
		})

	default:
		as.writeError(conn, fmt.Sprintf("unknown list kind %q", request.Kind))
	}
}

// --- Tag actions ---

func (as *ArtifactService) handleResolveTag(ctx context.Context, conn net.Conn, raw []byte) {
	var request artifact.ResolveTagRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		as.writeError(conn, fmt.Sprintf("invalid resolve-tag request: %v", err))
		return
	}
	if request.Name == "" {
		as.writeError(conn, "missing required field: name")
		return
	}

	tag, exists := as.tagStore.Get(request.Name)
	if !exists {
		as.writeError(conn, fmt.Sprintf("unknown tag %q", request.Name))
		return
	}

	as.writeResult(conn, &artifact.ResolveTagResponse{
		Name: request.Name,
		Ref:  artifact.FormatRef(tag.Target),
		Hash: artifact.FormatHash(tag.Target),
	})
}

func (as *ArtifactService) handleSetTag(ctx context.Context, conn net.Conn, raw []byte) {
	var request artifact.SetTagRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		as.writeError(conn, fmt.Sprintf("invalid set-tag request: %v", err))
		return
	}
	if request.Name == "" {
		as.writeError(conn, "missing required field: name")
		return
	}
	if request.Ref == "" {
		as.writeError(conn, "missing required field: ref")
		return
	}

	// Resolve the ref to a full hash (verifies the artifact exists).
	fileHash, err := as.resolveRef(request.Ref)
	if err != nil {
		as.writeError(conn, err.Error())
		return
	}

	// Resolve expected_previous if provided (compare-and-swap). Any
	// ref form is accepted: full hash, short ref, or tag name.
	var expectedPrevious *artifact.Hash
	if request.ExpectedPrevious != "" {
		parsed, err := as.resolveRef(request.ExpectedPrevious)
		if err != nil {
			as.writeError(conn, fmt.Sprintf("resolving expected_previous: %v", err))
			return
		}
		expectedPrevious = &parsed
	}

	_, existed := as.tagStore.Get(request.Name)

	as.writeMu.Lock()
	err = as.tagStore.Set(request.Name, fileHash, expectedPrevious, request.Optimistic, as.clock.Now())
	as.writeMu.Unlock()
	if err != nil {
		as.writeError(conn, err.Error())
		return
	}

	as.logger.Info("tag set",
		"tag", request.Name,
		"ref", artifact.FormatRef(fileHash),
	)

	as.writeResult(conn, &artifact.SetTagResponse{
		Name:    request.Name,
		Ref:     artifact.FormatRef(fileHash),
		Hash:    artifact.FormatHash(fileHash),
		Created: !existed,
	})
}

// --- Ping action ---

// handlePing is a liveness check. It reveals only the service
// version, start time, and aggregate counts.
func (as *ArtifactService) handlePing(ctx context.Context, conn net.Conn, raw []byte) {
	as.writeResult(conn, &artifact.PingResponse{
		Version:       version.Short(),
		StartedAt:     as.startedAt,
		ArtifactCount: as.index.Len(),
		TagCount:      as.tagStore.Len(),
		Encrypted:     as.store.Encrypted(),
	})
}

// --- Ref resolution ---

// resolveRef resolves an artifact reference to a full file hash. The
// reference may be a full 64-char hex hash, a short ref
// (art-<12 hex>), or a tag name.
func (as *ArtifactService) resolveRef(ref string) (artifact.Hash, error) {
	// Try full hex hash.
	if len(ref) == 64 {
		fileHash, err := artifact.ParseHash(ref)
		if err == nil {
			if !as.store.Exists(fileHash) {
				return artifact.Hash{}, fmt.Errorf("artifact %s not found", ref)
			}
			return fileHash, nil
		}
	}

	// Try short ref (art-<12 hex>).
	if strings.HasPrefix(ref, artifact.RefPrefix) {
		return as.refIndex.Resolve(ref)
	}

	// Try tag name.
	if tag, exists := as.tagStore.Get(ref); exists {
		return tag.Target, nil
	}

	return artifact.Hash{}, fmt.Errorf(
		"unknown artifact reference %q: not a hash, short ref (art-<hex>), or tag name",
		ref,
	)
}

// --- Wire helpers ---

// writeError sends an ErrorResponse to the client.
func (as *ArtifactService) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := artifact.WriteMessage(conn, artifact.ErrorResponse{Error: message}); err != nil {
		as.logger.Debug("failed to write error response", "error", err)
	}
}

// writeResult sends a success result to the client. The value is
// encoded directly as a CBOR message — no wrapping envelope.
func (as *ArtifactService) writeResult(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := artifact.WriteMessage(conn, result); err != nil {
		as.logger.Debug("failed to write result", "error", err)
	}
}
