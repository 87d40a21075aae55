// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"errors"
	"fmt"
)

// RunResultVersion is the current schema version for RunResult
// records. Increment when adding fields that existing code must not
// silently drop when reading stored results.
const RunResultVersion = 1

// Conclusions for runs and jobs. ConclusionSkipped applies to jobs
// only: a job skipped by label filtering or a failed need. A run
// whose every non-skipped job succeeded concludes "success".
const (
	ConclusionSuccess = "success"
	ConclusionFailure = "failure"
	ConclusionAborted = "aborted"
	ConclusionSkipped = "skipped"
)

// Step statuses recorded in StepResult. StatusFailedOptional is
// recorded when an optional step fails and execution continues.
const (
	StatusOK             = "ok"
	StatusFailed         = "failed"
	StatusFailedOptional = "failed (optional)"
	StatusSkipped        = "skipped"
	StatusAborted        = "aborted"
)

// RunResult is the terminal record of a workflow run. The runner
// writes it as canonical CBOR to runs/<run-id>/result.cbor under the
// state directory and mirrors the summary rows into the SQLite
// history.
type RunResult struct {
	// Version is the schema version (see RunResultVersion).
	Version int `json:"version"`

	// RunID is the time-prefixed unique run identifier.
	RunID string `json:"run_id"`

	// Workflow is the workflow name the run executed.
	Workflow string `json:"workflow"`

	// Ref is the full git ref that triggered the run (e.g.,
	// "refs/tags/v1.0.0"). Empty for --force runs without a ref.
	Ref string `json:"ref,omitempty"`

	// Kind is "tag" or "branch" when Ref is set.
	Kind string `json:"kind,omitempty"`

	// Conclusion is the terminal outcome: "success", "failure", or
	// "aborted".
	Conclusion string `json:"conclusion"`

	// StartedAt is an ISO 8601 timestamp of when execution began.
	StartedAt string `json:"started_at"`

	// CompletedAt is an ISO 8601 timestamp of when execution finished.
	CompletedAt string `json:"completed_at"`

	// DurationMS is the total wall-clock time in milliseconds.
	DurationMS int64 `json:"duration_ms"`

	// Jobs records the outcome of every job in the workflow,
	// including skipped jobs. Ordered by job ID.
	Jobs []JobResult `json:"jobs,omitempty"`
}

// JobResult records the outcome of a single job.
type JobResult struct {
	// Job is the job ID from the workflow definition.
	Job string `json:"job"`

	// Conclusion is "success", "failure", "aborted", or "skipped".
	Conclusion string `json:"conclusion"`

	// SkipReason explains why a skipped job did not run (label not
	// offered, failed need). Empty unless Conclusion is "skipped".
	SkipReason string `json:"skip_reason,omitempty"`

	// StartedAt is an ISO 8601 timestamp. Empty for skipped jobs.
	StartedAt string `json:"started_at,omitempty"`

	// CompletedAt is an ISO 8601 timestamp. Empty for skipped jobs.
	CompletedAt string `json:"completed_at,omitempty"`

	// DurationMS is the job wall-clock time in milliseconds.
	DurationMS int64 `json:"duration_ms,omitempty"`

	// Steps records the outcome of each step, in execution order.
	// On_failure step outcomes are appended after the main steps.
	Steps []StepResult `json:"steps,omitempty"`

	// FailedStep is the name of the step that caused the failure.
	// Empty when Conclusion is "success" or "skipped".
	FailedStep string `json:"failed_step,omitempty"`

	// Error is the error text from the failed or aborted step.
	Error string `json:"error,omitempty"`

	// Artifacts lists the artifacts this job published, in
	// declaration order.
	Artifacts []ArtifactResult `json:"artifacts,omitempty"`

	// Summary is the collected Markdown written by steps to
	// $MASA_STEP_SUMMARY, concatenated in step order. Rendered by
	// masa run show --summaries.
	Summary string `json:"summary,omitempty"`
}

// StepResult records the outcome of a single step.
type StepResult struct {
	// Name is the step name from the job definition.
	Name string `json:"name"`

	// Status is "ok", "failed", "failed (optional)", "skipped", or
	// "aborted".
	Status string `json:"status"`

	// DurationMS is the step wall-clock time in milliseconds.
	DurationMS int64 `json:"duration_ms,omitempty"`

	// ExitCode is the command exit code for failed steps. Zero for
	// successful steps (and for failures not caused by a non-zero
	// exit, e.g. a missing output file).
	ExitCode int `json:"exit_code,omitempty"`

	// Error is the error message when the step failed or aborted.
	Error string `json:"error,omitempty"`

	// Outputs contains the captured inline output values, keyed by
	// output name. Secret values are masked. Only populated for
	// steps with status "ok" that declared inline outputs.
	Outputs map[string]string `json:"outputs,omitempty"`
}

// ArtifactResult records one published artifact.
type ArtifactResult struct {
	// Name is the artifact name from the step output declaration
	// (e.g., "masa-log-windows").
	Name string `json:"name"`

	// Ref is the content-addressed store reference ("art-" + 12 hex
	// digits).
	Ref string `json:"ref"`

	// Files is the number of files packed into the artifact.
	Files int `json:"files"`

	// Size is the packed archive size in bytes.
	Size int64 `json:"size"`
}

// Validate checks that all required fields are present and
// well-formed. Returns an error describing the first invalid field
// found, or nil if the record is valid.
func (r *RunResult) Validate() error {
	if r.Version < 1 {
		return fmt.Errorf("run result: version must be >= 1, got %d", r.Version)
	}
	if r.RunID == "" {
		return errors.New("run result: run_id is required")
	}
	if r.Workflow == "" {
		return errors.New("run result: workflow is required")
	}
	switch r.Conclusion {
	case ConclusionSuccess, ConclusionFailure, ConclusionAborted:
		// Valid.
	case "":
		return errors.New("run result: conclusion is required")
	default:
		return fmt.Errorf("run result: unknown conclusion %q", r.Conclusion)
	}
	if r.StartedAt == "" {
		return errors.New("run result: started_at is required")
	}
	if r.CompletedAt == "" {
		return errors.New("run result: completed_at is required")
	}
	for i := range r.Jobs {
		if err := r.Jobs[i].Validate(); err != nil {
			return fmt.Errorf("run result: jobs[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks that the job result has valid required fields.
func (j *JobResult) Validate() error {
	if j.Job == "" {
		return errors.New("job result: job is required")
	}
	switch j.Conclusion {
	case ConclusionSuccess, ConclusionFailure, ConclusionAborted, ConclusionSkipped:
		// Valid.
	case "":
		return errors.New("job result: conclusion is required")
	default:
		return fmt.Errorf("job result: unknown conclusion %q", j.Conclusion)
	}
	for i := range j.Steps {
		if err := j.Steps[i].Validate(); err != nil {
			return fmt.Errorf("job result: steps[%d]: %w", i, err)
		}
	}
	for i, artifact := range j.Artifacts {
		if artifact.Name == "" {
			return fmt.Errorf("job result: artifacts[%d]: name is required", i)
		}
		if artifact.Ref == "" {
			return fmt.Errorf("job result: artifacts[%d] %q: ref is required", i, artifact.Name)
		}
	}
	return nil
}

// Validate checks that the step result has valid required fields.
func (s *StepResult) Validate() error {
	if s.Name == "" {
		return errors.New("step result: name is required")
	}
	switch s.Status {
	case StatusOK, StatusFailed, StatusFailedOptional, StatusSkipped, StatusAborted:
		// Valid.
	case "":
		return errors.New("step result: status is required")
	default:
		return fmt.Errorf("step result: unknown status %q", s.Status)
	}
	return nil
}
