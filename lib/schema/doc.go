// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the workflow definition types and the run
// result records that constitute the Masa data model. Workflow
// definitions are authored as JSONC or YAML files and decode into
// [Workflow]; the runner produces [RunResult] records serialized as
// canonical CBOR.
//
// Key types:
//
//   - [Workflow], [Job], [Step], [StepOutput] -- definition structure
//   - [Trigger], [PushTrigger] -- ref patterns that start a run
//   - [Variable] -- declared expansion variables, including secrets
//   - [RunResult], [JobResult], [StepResult], [ArtifactResult] -- outcomes
//
// [Workflow.Validate] performs structural validation and returns a
// list of human-readable issues. Trigger pattern compilation and
// variable expansion live in lib/workflow.
//
// This package depends on no other Masa packages.
package schema
