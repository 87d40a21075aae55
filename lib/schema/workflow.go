// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// WhenAlways is the only non-empty value accepted for Step.When. A
// step marked "always" runs even after an earlier step in the job has
// failed (cleanup, log collection, notifications).
const WhenAlways = "always"

// Workflow is a parsed workflow definition. It declares when a
// workflow runs (the push trigger), the variables it expects, and a
// set of jobs executed as independent, isolated processes when the
// trigger matches a pushed ref.
//
// Definitions are authored as JSONC or YAML files under workflows/
// and parsed by lib/workflow. Variable substitution (${NAME}) is
// applied to step commands, env values, and output sources before
// execution; see lib/workflow for resolution order.
type Workflow struct {
	// Name is an optional display name. When empty, tooling derives
	// the name from the definition file basename (extension stripped).
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description is a human-readable summary of what this workflow
	// does (e.g., "Build and package the Masa Log Viewer release").
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// On declares the push trigger: which ref updates start this
	// workflow. Required. A workflow with no matching patterns never
	// triggers (masa run --force bypasses evaluation).
	On *Trigger `json:"on,omitempty" yaml:"on,omitempty"`

	// Variables declares the variables this workflow expects, with
	// optional defaults, required flags, and secret markers. The
	// runner validates required variables before starting execution.
	// This is the declaration — actual values come from defaults,
	// the sealed secret bundle, --var payload entries, and the
	// process environment at run time.
	Variables map[string]Variable `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Env sets environment variables for every step of every job.
	// Job-level and step-level env override on conflict. Values
	// support ${NAME} substitution.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Jobs is the set of jobs to run, keyed by job ID. At least one
	// job is required. Jobs without needs edges run concurrently in
	// private workspaces; they share no state.
	Jobs map[string]Job `json:"jobs" yaml:"jobs"`
}

// Trigger declares the events that start a workflow. Push is the only
// supported event: a ref update (tag or branch) in the source
// repository.
type Trigger struct {
	// Push matches ref updates against tag and branch patterns.
	Push *PushTrigger `json:"push,omitempty" yaml:"push,omitempty"`
}

// PushTrigger filters pushed refs by pattern. Patterns use glob
// syntax: `*` matches within a path segment, `**` across segments,
// `?` a single character, `[...]` character classes. A leading `!`
// negates; patterns evaluate in order and the last match decides.
//
// Tag pushes (refs/tags/X) are matched against Tags only; branch
// pushes (refs/heads/X) against Branches only. A trigger that
// declares only tag patterns never matches a branch push.
type PushTrigger struct {
	// Tags is the list of tag name patterns (e.g., "v*").
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Branches is the list of branch name patterns (e.g., "main",
	// "release/**").
	Branches []string `json:"branches,omitempty" yaml:"branches,omitempty"`
}

// Variable declares an expected variable for a workflow. Declarations
// drive validation and resolution — only declared names are read from
// the process environment, and only declared secret names are taken
// from the sealed bundle.
type Variable struct {
	// Description explains what this variable is for (shown by
	// masa workflow show).
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Default is the fallback value when the variable is not
	// provided by any higher-priority source. An empty default is
	// the same as no default: YAML and JSON cannot distinguish an
	// absent field from an empty string here, so resolution treats
	// "" as unset.
	Default string `json:"default,omitempty" yaml:"default,omitempty"`

	// Required means the runner must fail if this variable has no
	// value from any source (including Default).
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// Secret means the value comes from the sealed secret bundle
	// and is masked (replaced with ***) in logged command lines,
	// captured outputs, and result records. Secret variables must
	// not declare defaults.
	Secret bool `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// Job is a single job within a workflow: an ordered list of steps
// executed in a freshly materialized private workspace. Jobs run
// concurrently unless needs edges order them, and share nothing —
// separate workspaces, separate environments, separate results.
type Job struct {
	// Name is an optional display name. The job ID (the map key in
	// Workflow.Jobs) identifies the job everywhere else.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// RunsOn is a runner label (e.g., "windows", "macos"). Jobs
	// whose label is not in the offered label set are skipped
	// without failing the run. Empty means the job runs anywhere.
	RunsOn string `json:"runs_on,omitempty" yaml:"runs_on,omitempty"`

	// Needs lists job IDs that must conclude successfully before
	// this job starts. If any need fails, aborts, or is skipped,
	// this job is skipped. The needs graph must be acyclic.
	Needs []string `json:"needs,omitempty" yaml:"needs,omitempty"`

	// Timeout is the whole-job ceiling (e.g., "30m"). Parsed by
	// time.ParseDuration. When the ceiling expires the current step
	// is aborted and the job concludes "aborted". Empty means no
	// job-level ceiling.
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Env sets environment variables for every step of this job.
	// Overrides workflow-level env; overridden by step-level env.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Steps is the ordered list of steps. At least one step is
	// required. Steps run strictly in sequence; a non-optional
	// failure skips the remaining steps except those marked
	// when: always.
	Steps []Step `json:"steps" yaml:"steps"`

	// OnFailure is a list of steps executed when the job fails.
	// They run best-effort: an on_failure step failing is logged
	// and the remaining on_failure steps still run. The variables
	// MASA_FAILED_STEP and MASA_FAILED_ERROR are set in their
	// environment. On_failure steps do not run when the job is
	// aborted by cancellation.
	OnFailure []Step `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`
}

// Step is a single step in a job. A step runs a shell command and
// optionally captures outputs: inline values read into the result, or
// file sets packed and published to the artifact store.
type Step struct {
	// Name identifies the step in logs and results (e.g.,
	// "install-dependencies", "package"). Required, unique within
	// the job.
	Name string `json:"name" yaml:"name"`

	// Run is a shell command executed via sh -c in the job
	// workspace. Multi-line strings are supported. ${NAME}
	// substitution is applied before execution. A step may omit Run
	// only when it declares outputs (capture-only step).
	Run string `json:"run,omitempty" yaml:"run,omitempty"`

	// Check is a post-step verification command. Runs after Run
	// succeeds; a non-zero exit fails the step. Catches commands
	// that "succeed" without producing the expected result.
	Check string `json:"check,omitempty" yaml:"check,omitempty"`

	// When is empty or "always". An "always" step runs even after
	// an earlier step in the job has failed. It does not run when
	// the job is aborted by cancellation.
	When string `json:"when,omitempty" yaml:"when,omitempty"`

	// Optional means step failure does not abort the job. The
	// failure is recorded as "failed (optional)" and execution
	// continues.
	Optional bool `json:"optional,omitempty" yaml:"optional,omitempty"`

	// Timeout is the maximum duration for this step (e.g., "5m").
	// Parsed by time.ParseDuration. On expiry the step's process
	// group receives SIGTERM, then SIGKILL after the grace period.
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// GracePeriod is the SIGTERM-to-SIGKILL window for this step,
	// overriding the runner default (10s). Parsed by
	// time.ParseDuration.
	GracePeriod string `json:"grace_period,omitempty" yaml:"grace_period,omitempty"`

	// Env sets additional environment variables for this step only.
	// Overrides workflow and job env on conflict. Values support
	// ${NAME} substitution.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Outputs declares values to capture after the step's run (and
	// check, if present) succeed. Inline outputs read a file into
	// the step result; artifact outputs pack the matched files and
	// publish them to the artifact store.
	Outputs []StepOutput `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// StepOutput declares one captured value for a step. Exactly one of
// Name (inline) or Artifact (store upload) must be set.
type StepOutput struct {
	// Source is the workspace-relative path of the file to capture.
	// For artifact outputs it may be a glob (e.g., "dist/*.exe");
	// the glob must match at least one file or the step fails.
	// ${NAME} substitution is applied. Required.
	Source string `json:"source" yaml:"source"`

	// Name stores the file content inline in the step result
	// (64 KiB limit, trailing whitespace trimmed). Mutually
	// exclusive with Artifact.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Artifact packs the matched files (directories recursively)
	// into a deterministic tar archive, writes it to the artifact
	// store, and records the name and store reference in the job
	// result. Artifact names must not contain "/" and must be
	// unique within the job. Mutually exclusive with Name.
	Artifact string `json:"artifact,omitempty" yaml:"artifact,omitempty"`
}
