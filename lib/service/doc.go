// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides shared plumbing for long-running Masa
// processes: the standard logger setup and signal-driven shutdown
// context used by the artifact service and the runner.
//
// The artifact service's socket protocol lives in lib/artifact, not
// here — its length-prefixed CBOR framing with binary streaming
// phases needs a connection handler that owns the full connection
// lifecycle, so the service implements its own accept loop.
package service
