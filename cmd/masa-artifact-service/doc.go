// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the Masa artifact service — a content-
// addressable storage service that accepts, chunks, compresses, and
// serves workflow artifacts over a Unix socket.
//
// Runners upload collected artifacts here at the end of each job;
// the masa CLI downloads, lists, and tags them. Access control is
// the socket file's permissions: anyone who can open the socket can
// use every action.
//
// # Connection protocol
//
// Each connection begins with a 4-byte big-endian length prefix
// followed by a CBOR message containing at minimum an "action"
// field. For simple actions (stat, list, resolve-tag, set-tag,
// ping), the response is another length-prefixed CBOR message. For
// upload and download, the connection carries a binary data stream
// between the CBOR header and response, allowing artifact data of
// arbitrary size to be transferred without buffering the entire
// payload in memory.
//
// This protocol is defined in lib/artifact/transfer.go.
package main
