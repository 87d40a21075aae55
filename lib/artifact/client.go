// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/masa-foundation/masa/lib/codec"
)

// Client timeouts.
const (
	// clientDialTimeout is the maximum time to wait for a
	// connection to the artifact service socket.
	clientDialTimeout = 5 * time.Second

	// clientResponseTimeout is how long the client waits for the
	// server to send a response after a request completes. Covers
	// handler execution time for large uploads that chunk and
	// compress on the service side.
	clientResponseTimeout = 120 * time.Second
)

// Client communicates with the artifact service over its Unix socket
// protocol. Each method opens a new connection, performs the
// request/response exchange, and closes the connection.
//
// The artifact protocol uses length-prefixed CBOR messages (4-byte
// uint32 + CBOR bytes) rather than a plain CBOR stream, because
// artifact transfers interleave CBOR messages with raw binary data
// streams that a CBOR stream decoder would consume.
//
// Access control is the socket file's permissions; there is no
// application-level authentication.
type Client struct {
	socketPath string
}

// NewClient creates a client for the artifact service listening at
// socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// --- Public API: simple request/response ---

// Ping returns service liveness and store statistics.
func (c *Client) Ping(ctx context.Context) (*PingResponse, error) {
	var response PingResponse
	if err := c.simpleCall(ctx, "ping", nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Stat returns the metadata for an artifact. The ref may be a short
// ref, a full hex hash, or a tag name.
func (c *Client) Stat(ctx context.Context, ref string) (*Metadata, error) {
	var response Metadata
	if err := c.simpleCall(ctx, "stat", map[string]any{"ref": ref}, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// List queries the artifact index (or the tag store, when
// filter.Kind is ListKindTags) with filters and pagination.
func (c *Client) List(ctx context.Context, filter ListRequest) (*ListResponse, error) {
	fields := map[string]any{}
	if filter.Kind != "" {
		fields["kind"] = filter.Kind
	}
	if filter.Workflow != "" {
		fields["workflow"] = filter.Workflow
	}
	if filter.Job != "" {
		fields["job"] = filter.Job
	}
	if filter.RunID != "" {
		fields["run_id"] = filter.RunID
	}
	if filter.Label != "" {
		fields["label"] = filter.Label
	}
	if filter.TagPrefix != "" {
		fields["tag_prefix"] = filter.TagPrefix
	}
	if filter.Limit != 0 {
		fields["limit"] = filter.Limit
	}
	if filter.Offset != 0 {
		fields["offset"] = filter.Offset
	}

	var response ListResponse
	if err := c.simpleCall(ctx, "list", fields, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// ResolveTag resolves a tag name to the artifact it points at.
func (c *Client) ResolveTag(ctx context.Context, name string) (*ResolveTagResponse, error) {
	var response ResolveTagResponse
	if err := c.simpleCall(ctx, "resolve-tag", map[string]any{"name": name}, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// SetTag creates or updates a mutable tag pointing to an artifact.
// When optimistic is true, the tag is overwritten unconditionally.
// When optimistic is false, expectedPrevious must match the current
// target (compare-and-swap); pass an empty string for a new tag.
func (c *Client) SetTag(ctx context.Context, name, ref string, optimistic bool, expectedPrevious string) (*SetTagResponse, error) {
	fields := map[string]any{
		"name": name,
		"ref":  ref,
	}
	if optimistic {
		fields["optimistic"] = true
	}
	if expectedPrevious != "" {
		fields["expected_previous"] = expectedPrevious
	}

	var response SetTagResponse
	if err := c.simpleCall(ctx, "set-tag", fields, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// --- Public API: streaming ---

// Upload stores an artifact via the service. For small content,
// embed the bytes in header.Data and pass nil for content. For large
// content, leave header.Data nil and pass the content reader;
// header.Size must be set to the content length, or SizeUnknown for
// chunked transfer.
func (c *Client) Upload(ctx context.Context, header *UploadHeader, content io.Reader) (*UploadResponse, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := WriteUploadHeader(conn, header); err != nil {
		return nil, fmt.Errorf("writing upload header: %w", err)
	}

	// Stream binary content for large artifacts.
	if header.Data == nil && content != nil {
		if header.Size >= 0 {
			// Sized transfer: raw bytes, no framing.
			written, err := io.CopyN(conn, content, header.Size)
			if err != nil {
				return nil, fmt.Errorf("streaming content (%d/%d bytes written): %w",
					written, header.Size, err)
			}
		} else {
			// Chunked transfer: length-prefixed frames.
			frameWriter := NewFrameWriter(conn)
			if _, err := io.Copy(frameWriter, content); err != nil {
				return nil, fmt.Errorf("streaming chunked content: %w", err)
			}
			if err := frameWriter.Close(); err != nil {
				return nil, fmt.Errorf("closing chunked stream: %w", err)
			}
		}
	}

	conn.SetReadDeadline(time.Now().Add(clientResponseTimeout))
	raw, err := ReadRawMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("reading upload response: %w", err)
	}
	if err := checkError(raw); err != nil {
		return nil, err
	}

	var response UploadResponse
	if err := codec.Unmarshal(raw, &response); err != nil {
		return nil, fmt.Errorf("decoding upload response: %w", err)
	}
	return &response, nil
}

// DownloadResult holds the metadata and content from a download.
// The caller MUST close Content when done to release the underlying
// connection.
type DownloadResult struct {
	Response DownloadResponse

	// Content is the artifact data reader. For small artifacts
	// (Response.Data is non-nil), this reads from the embedded
	// byte slice. For large artifacts, this reads from the
	// underlying socket connection.
	Content io.ReadCloser
}

// Download fetches an artifact by ref (short ref, full hash, or tag
// name). Returns the metadata and a content reader. The caller MUST
// close DownloadResult.Content when done.
func (c *Client) Download(ctx context.Context, ref string) (*DownloadResult, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	request := DownloadRequest{Ref: ref}
	if err := WriteDownloadRequest(conn, &request); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing download request: %w", err)
	}

	raw, err := ReadRawMessage(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading download response: %w", err)
	}
	if err := checkError(raw); err != nil {
		conn.Close()
		return nil, err
	}

	var response DownloadResponse
	if err := codec.Unmarshal(raw, &response); err != nil {
		conn.Close()
		return nil, fmt.Errorf("decoding download response: %w", err)
	}

	// For small artifacts, data is embedded in the response.
	if response.Data != nil {
		conn.Close()
		return &DownloadResult{
			Response: response,
			Content:  io.NopCloser(bytes.NewReader(response.Data)),
		}, nil
	}

	// For large artifacts, the binary stream follows on the
	// connection. Wrap the connection so closing the result closes
	// the connection.
	dataReader := DataReader(conn, response.Size)
	return &DownloadResult{
		Response: response,
		Content:  &connReader{reader: dataReader, conn: conn},
	}, nil
}

// --- Internal helpers ---

// dial establishes a connection to the artifact service socket.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: clientDialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to artifact service at %s: %w", c.socketPath, err)
	}
	return conn, nil
}

// buildRequest constructs a CBOR request map with the action and
// caller-provided fields.
func buildRequest(action string, fields map[string]any) map[string]any {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action
	return request
}

// simpleCall handles the common pattern: dial, send request, read
// response, check for errors, decode into result.
func (c *Client) simpleCall(ctx context.Context, action string, fields map[string]any, result any) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	request := buildRequest(action, fields)
	if err := WriteMessage(conn, request); err != nil {
		return fmt.Errorf("%s: writing request: %w", action, err)
	}

	conn.SetReadDeadline(time.Now().Add(clientResponseTimeout))
	raw, err := ReadRawMessage(conn)
	if err != nil {
		return fmt.Errorf("%s: reading response: %w", action, err)
	}
	if err := checkError(raw); err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}

	if result != nil {
		if err := codec.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("%s: decoding response: %w", action, err)
		}
	}
	return nil
}

// checkError inspects raw CBOR bytes for an ErrorResponse. If the
// "error" field is present and non-empty, returns it as an error.
func checkError(raw []byte) error {
	var errResp ErrorResponse
	if err := codec.Unmarshal(raw, &errResp); err != nil {
		// Can't decode — not an error response, caller will
		// decode into the expected type.
		return nil
	}
	if errResp.Error != "" {
		return &ServiceError{Message: errResp.Error}
	}
	return nil
}

// ServiceError is returned when the artifact service responds with
// an error message.
type ServiceError struct {
	Message string
}

func (e *ServiceError) Error() string {
	return e.Message
}

// connReader wraps an io.Reader and closes the underlying connection
// when Close is called. Used for streaming download responses where
// the connection must stay open until the caller finishes reading.
type connReader struct {
	reader io.Reader
	conn   net.Conn
}

func (cr *connReader) Read(p []byte) (int, error) {
	return cr.reader.Read(p)
}

func (cr *connReader) Close() error {
	return cr.conn.Close()
}
