// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/masa-foundation/masa/lib/clock"
	"github.com/masa-foundation/masa/lib/gitref"
	"github.com/masa-foundation/masa/lib/schema"
	"github.com/masa-foundation/masa/lib/workflow"
)

// JobRequest carries everything needed to execute a single job. Both
// execution paths build one: the in-process scheduler directly, and
// masa-runner from the job spec file its parent wrote.
type JobRequest struct {
	// RunID, Workflow, and Ref identify the run this job belongs
	// to.
	RunID    string
	Workflow string
	Ref      gitref.Ref

	// JobID and Job are the job to execute.
	JobID string
	Job   schema.Job

	// Variables is the resolved variable map from the plan.
	// Declarations is the workflow's variable declarations, needed
	// to know which values are secret and must be masked.
	Variables    map[string]string
	Declarations map[string]schema.Variable

	// WorkflowEnv is the workflow-level env block, applied below
	// job-level env.
	WorkflowEnv map[string]string

	// SourceDir is the source repository or directory. When Commit
	// is non-empty the workspace is a git archive export at that
	// commit; otherwise a recursive copy of SourceDir.
	SourceDir string
	Commit    string

	// JobDir is the private per-job directory. The workspace,
	// command output log, and step summary file live under it.
	JobDir string

	// GracePeriod is the default SIGTERM-to-SIGKILL window for
	// aborted commands. Zero means kill immediately.
	GracePeriod time.Duration

	// Publisher stores collected artifacts. Nil fails any step that
	// declares an artifact output.
	Publisher Publisher

	// Log receives step events. Nil disables event logging.
	Log *RunLog

	// Clock stamps StartedAt and CompletedAt. Nil means the real
	// clock.
	Clock clock.Clock

	// Logger receives operational warnings. Nil means slog.Default.
	Logger *slog.Logger

	// Progress receives human-readable status lines. Nil discards
	// them.
	Progress io.Writer
}

// ExecuteJob runs one job to its conclusion: workspace
// materialization, the step sequence, on_failure handling, and
// summary collection. Execution problems are encoded in the returned
// JobResult, never lost in an error return — a job that cannot even
// start concludes "failure" with the reason in Error.
func ExecuteJob(ctx context.Context, request JobRequest) schema.JobResult {
	clk := request.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := request.Logger
	if logger == nil {
		logger = slog.Default()
	}
	progress := request.Progress
	if progress == nil {
		progress = io.Discard
	}
	masker := workflow.NewMasker(request.Declarations, request.Variables)

	started := clk.Now()
	startClock := time.Now()
	result := schema.JobResult{
		Job:       request.JobID,
		StartedAt: started.UTC().Format(time.RFC3339),
	}

	fail := func(err error) schema.JobResult {
		result.Conclusion = schema.ConclusionFailure
		result.Error = masker.Mask(err.Error())
		result.CompletedAt = clk.Now().UTC().Format(time.RFC3339)
		result.DurationMS = time.Since(startClock).Milliseconds()
		request.Log.jobFinished(request.JobID, result.Conclusion, result.DurationMS, result.Error)
		fmt.Fprintf(progress, "[%s] failed: %v\n", request.JobID, err)
		return result
	}

	if err := os.MkdirAll(request.JobDir, 0o755); err != nil {
		return fail(fmt.Errorf("creating job directory: %w", err))
	}

	workspace := filepath.Join(request.JobDir, "workspace")
	src := &source{dir: request.SourceDir, git: request.Commit != "", commit: request.Commit}
	if err := src.materialize(ctx, workspace); err != nil {
		return fail(fmt.Errorf("materializing workspace: %w", err))
	}

	outputLog, err := os.Create(filepath.Join(request.JobDir, "output.log"))
	if err != nil {
		return fail(fmt.Errorf("creating output log: %w", err))
	}
	defer outputLog.Close()

	summaryPath := filepath.Join(request.JobDir, "summary.md")

	// Job-level timeout ceiling. Validate has checked the syntax.
	jobContext := ctx
	if request.Job.Timeout != "" {
		duration, err := time.ParseDuration(request.Job.Timeout)
		if err != nil {
			return fail(fmt.Errorf("invalid job timeout %q: %w", request.Job.Timeout, err))
		}
		var cancel context.CancelFunc
		jobContext, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	lowerEnv, upperEnv := jobEnvironment(request, workspace, summaryPath)
	runner := &stepRunner{
		runID:       request.RunID,
		workflow:    request.Workflow,
		jobID:       request.JobID,
		workspace:   workspace,
		scratch:     request.JobDir,
		lowerEnv:    lowerEnv,
		upperEnv:    upperEnv,
		gracePeriod: request.GracePeriod,
		output:      outputLog,
		log:         request.Log,
		masker:      masker,
		publisher:   request.Publisher,
	}

	request.Log.jobStarted(request.JobID, len(request.Job.Steps))
	fmt.Fprintf(progress, "[%s] starting (%d steps)\n", request.JobID, len(request.Job.Steps))

	var (
		failed     bool
		aborted    bool
		failedStep string
		failedErr  error
	)

	total := len(request.Job.Steps)
	for index, step := range request.Job.Steps {
		// Cancellation between steps: everything left is skipped
		// and the job concludes aborted.
		if !aborted && !failed && jobContext.Err() != nil {
			aborted = true
			failedErr = fmt.Errorf("job cancelled: %w", jobContext.Err())
		}
		if aborted || (failed && step.When != schema.WhenAlways) {
			record := schema.StepResult{Name: step.Name, Status: schema.StatusSkipped}
			result.Steps = append(result.Steps, record)
			request.Log.stepFinished(request.JobID, step.Name, record.Status, 0, "", nil)
			continue
		}

		expanded := workflow.ExpandStep(step, request.Variables)
		outcome := runner.executeStep(jobContext, expanded)

		record := schema.StepResult{
			Name:       step.Name,
			Status:     outcome.status,
			DurationMS: outcome.duration.Milliseconds(),
			Outputs:    outcome.outputs,
		}
		if outcome.err != nil {
			record.Error = masker.Mask(outcome.err.Error())
		}
		if outcome.exitCode > 0 {
			record.ExitCode = outcome.exitCode
		}
		result.Artifacts = append(result.Artifacts, outcome.artifacts...)

		switch outcome.status {
		case schema.StatusOK:
			fmt.Fprintf(progress, "[%s] step %d/%d: %s... ok (%s)\n",
				request.JobID, index+1, total, step.Name, formatDuration(outcome.duration))
		case schema.StatusAborted:
			aborted = true
			failedStep = step.Name
			failedErr = outcome.err
			fmt.Fprintf(progress, "[%s] step %d/%d: %s... aborted: %v\n",
				request.JobID, index+1, total, step.Name, outcome.err)
		case schema.StatusFailed:
			if step.Optional {
				record.Status = schema.StatusFailedOptional
				fmt.Fprintf(progress, "[%s] step %d/%d: %s... failed (optional, continuing): %v\n",
					request.JobID, index+1, total, step.Name, outcome.err)
			} else {
				failed = true
				failedStep = step.Name
				failedErr = outcome.err
				fmt.Fprintf(progress, "[%s] step %d/%d: %s... failed: %v\n",
					request.JobID, index+1, total, step.Name, outcome.err)
			}
		}

		request.Log.stepFinished(request.JobID, step.Name, record.Status, record.DurationMS, record.Error, record.Outputs)
		result.Steps = append(result.Steps, record)
	}

	// On_failure steps run best-effort after a failure, with the
	// failure context in their environment. They do not run on
	// abort — cancellation means stop, not clean up.
	if failed && !aborted && len(request.Job.OnFailure) > 0 {
		fmt.Fprintf(progress, "[%s] running %d on_failure steps\n", request.JobID, len(request.Job.OnFailure))
		failureRunner := runner.withFailureContext(failedStep, masker.Mask(errorText(failedErr)))
		for _, step := range request.Job.OnFailure {
			if jobContext.Err() != nil {
				break
			}
			expanded := workflow.ExpandStep(step, request.Variables)
			outcome := failureRunner.executeStep(jobContext, expanded)

			record := schema.StepResult{
				Name:       step.Name,
				Status:     outcome.status,
				DurationMS: outcome.duration.Milliseconds(),
			}
			if outcome.err != nil {
				record.Error = masker.Mask(outcome.err.Error())
				fmt.Fprintf(progress, "[%s] on_failure %q: %s: %v\n", request.JobID, step.Name, outcome.status, outcome.err)
			} else {
				fmt.Fprintf(progress, "[%s] on_failure %q: %s\n", request.JobID, step.Name, outcome.status)
			}
			request.Log.stepFinished(request.JobID, "on_failure:"+step.Name, record.Status, record.DurationMS, record.Error, nil)
			result.Steps = append(result.Steps, record)
		}
	}

	result.Summary = readSummary(summaryPath, masker, logger)

	switch {
	case aborted:
		result.Conclusion = schema.ConclusionAborted
	case failed:
		result.Conclusion = schema.ConclusionFailure
	default:
		result.Conclusion = schema.ConclusionSuccess
	}
	result.FailedStep = failedStep
	if failedErr != nil {
		result.Error = masker.Mask(failedErr.Error())
	}
	result.CompletedAt = clk.Now().UTC().Format(time.RFC3339)
	result.DurationMS = time.Since(startClock).Milliseconds()

	request.Log.jobFinished(request.JobID, result.Conclusion, result.DurationMS, result.Error)
	switch result.Conclusion {
	case schema.ConclusionSuccess:
		fmt.Fprintf(progress, "[%s] complete (%s)\n", request.JobID, formatDuration(time.Since(startClock)))
	case schema.ConclusionFailure:
		fmt.Fprintf(progress, "[%s] failed at step %q: %v\n", request.JobID, failedStep, failedErr)
	case schema.ConclusionAborted:
		fmt.Fprintf(progress, "[%s] aborted\n", request.JobID)
	}

	return result
}

// jobEnvironment builds the job's command environment in two layers
// around the per-step env: lower is the runner process environment
// overlaid with workflow and job env (step env overrides these);
// upper is the resolved variables and the MASA_* run context (these
// override step env). Later entries win on duplicate names.
func jobEnvironment(request JobRequest, workspace, summaryPath string) (lower, upper []string) {
	lower = os.Environ()
	lower = append(lower, flattenEnv(workflow.ExpandEnv(request.WorkflowEnv, request.Variables))...)
	lower = append(lower, flattenEnv(workflow.ExpandEnv(request.Job.Env, request.Variables))...)

	upper = flattenEnv(request.Variables)
	upper = append(upper,
		"MASA_RUN_ID="+request.RunID,
		"MASA_WORKFLOW="+request.Workflow,
		"MASA_JOB="+request.JobID,
		"MASA_WORKSPACE="+workspace,
		"MASA_STEP_SUMMARY="+summaryPath,
	)
	if !request.Ref.IsZero() {
		upper = append(upper, "MASA_REF="+request.Ref.String())
		if request.Ref.IsTag() {
			upper = append(upper, "MASA_TAG="+request.Ref.Short())
		}
	}
	return lower, upper
}

// withFailureContext returns a copy of the step runner whose
// environment carries the failed step's name and error, for
// on_failure steps.
func (sr *stepRunner) withFailureContext(failedStep, failedError string) *stepRunner {
	failureRunner := *sr
	failureRunner.upperEnv = append(append([]string{}, sr.upperEnv...),
		"MASA_FAILED_STEP="+failedStep,
		"MASA_FAILED_ERROR="+failedError,
	)
	return &failureRunner
}

// flattenEnv converts an env map to NAME=value pairs in sorted name
// order, so layering is deterministic.
func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, len(names))
	for index, name := range names {
		pairs[index] = name + "=" + env[name]
	}
	return pairs
}

// readSummary collects the job's step summary file. Steps append
// Markdown to $MASA_STEP_SUMMARY; a missing or empty file means no
// summary. Oversized summaries are truncated to the inline output
// cap so a runaway step cannot bloat the run result.
func readSummary(path string, masker *workflow.Masker, logger *slog.Logger) string {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to read step summary", "path", path, "error", err)
		}
		return ""
	}
	if len(data) == 0 {
		return ""
	}
	if len(data) > maxInlineOutputSize {
		data = append(data[:maxInlineOutputSize], []byte("\n\n(truncated)")...)
	}
	return masker.Mask(string(data))
}

// errorText is err.Error() tolerating nil.
func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// formatDuration formats a duration for status output: seconds with
// one decimal place.
func formatDuration(duration time.Duration) string {
	return fmt.Sprintf("%.1fs", duration.Seconds())
}
