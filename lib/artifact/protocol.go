// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import "time"

// Simple request/response message types for the artifact service
// protocol. Each request is a CBOR map with an "action" field; the
// service decodes the action first and dispatches. Responses either
// decode into the action's response type or into ErrorResponse when
// the "error" field is set.
//
// Actions: upload, download, stat, list, resolve-tag, set-tag, ping.
// Upload and download interleave binary streams with their CBOR
// messages; their types live in transfer.go.

// ErrorResponse is sent by the service when a request fails. The
// client's checkError helper probes every raw response for a
// non-empty "error" field before decoding the expected type.
type ErrorResponse struct {
	Error string `cbor:"error" json:"error"`
}

// StatRequest asks for the metadata of a single artifact.
type StatRequest struct {
	Action string `cbor:"action" json:"action"`

	// Ref is a short ref, full hex hash, or tag name.
	Ref string `cbor:"ref" json:"ref"`
}

// ListKind selects what a list request enumerates.
const (
	ListKindArtifacts = "artifacts"
	ListKindTags      = "tags"
)

// ListRequest queries the artifact index or the tag store.
type ListRequest struct {
	Action string `cbor:"action" json:"action"`

	// Kind is ListKindArtifacts (the default when empty) or
	// ListKindTags.
	Kind string `cbor:"kind,omitempty" json:"kind,omitempty"`

	// Artifact filters. All empty fields match everything.
	Workflow string `cbor:"workflow,omitempty" json:"workflow,omitempty"`
	Job      string `cbor:"job,omitempty"      json:"job,omitempty"`
	RunID    string `cbor:"run_id,omitempty"   json:"run_id,omitempty"`
	Label    string `cbor:"label,omitempty"    json:"label,omitempty"`

	// TagPrefix filters tag listings by name prefix.
	TagPrefix string `cbor:"tag_prefix,omitempty" json:"tag_prefix,omitempty"`

	// Limit and Offset paginate the result. Zero limit means no
	// limit.
	Limit  int `cbor:"limit,omitempty"  json:"limit,omitempty"`
	Offset int `cbor:"offset,omitempty" json:"offset,omitempty"`
}

// ListResponse carries either artifacts or tags, depending on the
// request kind. Total is the match count before pagination.
type ListResponse struct {
	Artifacts []Metadata  `cbor:"artifacts,omitempty" json:"artifacts,omitempty"`
	Tags      []TagRecord `cbor:"tags,omitempty"      json:"tags,omitempty"`
	Total     int         `cbor:"total"               json:"total"`
}

// ResolveTagRequest resolves a tag name to the artifact it points
// at.
type ResolveTagRequest struct {
	Action string `cbor:"action" json:"action"`
	Name   string `cbor:"name"   json:"name"`
}

// ResolveTagResponse is the result of a tag resolution.
type ResolveTagResponse struct {
	Name string `cbor:"name" json:"name"`
	Ref  string `cbor:"ref"  json:"ref"`
	Hash string `cbor:"hash" json:"hash"`
}

// SetTagRequest creates or updates a tag. When Optimistic is true
// the write is unconditional; otherwise ExpectedPrevious (a ref or
// full hash) must match the current target for an existing tag.
type SetTagRequest struct {
	Action           string `cbor:"action"                      json:"action"`
	Name             string `cbor:"name"                        json:"name"`
	Ref              string `cbor:"ref"                         json:"ref"`
	Optimistic       bool   `cbor:"optimistic,omitempty"        json:"optimistic,omitempty"`
	ExpectedPrevious string `cbor:"expected_previous,omitempty" json:"expected_previous,omitempty"`
}

// SetTagResponse confirms a tag write.
type SetTagResponse struct {
	Name string `cbor:"name" json:"name"`
	Ref  string `cbor:"ref"  json:"ref"`
	Hash string `cbor:"hash" json:"hash"`

	// Created is true when the tag did not exist before.
	Created bool `cbor:"created" json:"created"`
}

// PingResponse reports service liveness and store statistics.
type PingResponse struct {
	Version       string    `cbor:"version"        json:"version"`
	StartedAt     time.Time `cbor:"started_at"     json:"started_at"`
	ArtifactCount int       `cbor:"artifact_count" json:"artifact_count"`
	TagCount      int       `cbor:"tag_count"      json:"tag_count"`
	Encrypted     bool      `cbor:"encrypted"      json:"encrypted"`
}
