// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Package runner executes workflow runs: trigger evaluation, job
// scheduling, workspace materialization, step execution, artifact
// collection, and result publishing.
//
// A run starts from a Plan (BuildPlan): the run ID, the selected
// jobs, and the resolved variables. Runner.Execute turns the plan
// into a RunResult by executing every planned job, bounded by the
// configured parallelism and ordered by needs edges.
//
// Jobs are isolated: each executes in a freshly materialized private
// workspace (a git archive export of the triggering ref, or a
// recursive copy for plain directory sources) with its own
// environment. Jobs share nothing at runtime — coordination happens
// only through needs edges and the artifact store.
//
// Within a job, steps run strictly in sequence via sh -c in the job
// workspace. Each step's command runs in its own process group; on
// timeout or cancellation the group receives SIGTERM, then SIGKILL
// after the grace period. A non-optional step failure skips the
// remaining steps (except those marked "when: always") and triggers
// the job's on_failure steps.
//
// Every run writes three things under the runs directory: a JSONL
// event log appended as execution progresses (crash-safe, tailable),
// a canonical CBOR RunResult written at completion, and rows in the
// SQLite run history. Secret variable values are masked in all of
// them.
package runner
