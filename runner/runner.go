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
	"runtime"
	"sync"
	"time"

	"github.com/masa-foundation/masa/lib/clock"
	"github.com/masa-foundation/masa/lib/history"
	"github.com/masa-foundation/masa/lib/schema"
)

// Runner executes a planned run. Construct it with a Plan from
// BuildPlan and the wiring for the machine it runs on, then call
// Execute once.
type Runner struct {
	// Definition is the parsed workflow the plan was built from.
	Definition *schema.Workflow

	// Plan is the run plan: run ID, selected jobs, resolved
	// variables.
	Plan *Plan

	// SourceDir is the source repository or directory jobs
	// materialize their workspaces from.
	SourceDir string

	// RunsDir is the directory run state is written under; this
	// run's files live in RunsDir/<run-id>/.
	RunsDir string

	// Publisher stores collected artifacts. Nil fails any step
	// declaring an artifact output.
	Publisher Publisher

	// History receives run, job, and artifact rows. Nil disables
	// history recording.
	History *history.Store

	// Parallelism bounds the number of jobs executing at once.
	// Zero means one job per CPU.
	Parallelism int

	// GracePeriod is the default SIGTERM-to-SIGKILL window for
	// aborted commands.
	GracePeriod time.Duration

	// Isolate executes each job as a masa-runner subprocess instead
	// of in-process. Artifact publishing then requires the artifact
	// service socket — subprocesses must not write a shared store
	// directory concurrently.
	Isolate bool

	// RunnerBinary is the masa-runner executable for isolated jobs.
	// Empty means "masa-runner" resolved via PATH.
	RunnerBinary string

	// ServiceSocket is the artifact service socket handed to
	// isolated jobs for artifact publishing.
	ServiceSocket string

	// Clock stamps run and job timestamps. Nil means the real
	// clock.
	Clock clock.Clock

	// Logger receives operational warnings. Nil means slog.Default.
	Logger *slog.Logger

	// Stdout receives human-readable progress lines. Nil discards
	// them.
	Stdout io.Writer
}

// jobSlot tracks one planned job through the scheduler. The done
// channel closes after result is set; dependents wait on it.
type jobSlot struct {
	planned PlannedJob
	done    chan struct{}
	result  schema.JobResult
}

// Execute runs every planned job, bounded by the configured
// parallelism and ordered by needs edges, then writes the run result
// and finishes the history row. The returned RunResult carries the
// conclusion; the error return is for setup problems only (run
// directory creation, source resolution).
func (r *Runner) Execute(ctx context.Context) (*schema.RunResult, error) {
	clk := r.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	progress := r.Stdout
	if progress == nil {
		progress = io.Discard
	}
	parallelism := r.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}

	plan := r.Plan
	runDir := filepath.Join(r.RunsDir, plan.RunID)
	if err := os.MkdirAll(filepath.Join(runDir, "jobs"), 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}

	src, err := resolveSource(ctx, r.SourceDir, plan.Ref)
	if err != nil {
		return nil, err
	}

	log, err := NewRunLog(filepath.Join(runDir, "log.jsonl"), logger)
	if err != nil {
		return nil, err
	}
	defer log.Close()

	started := clk.Now()
	startClock := time.Now()
	log.runStarted(plan.RunID, plan.Workflow, plan.Ref.String(), len(plan.Jobs), started)
	fmt.Fprintf(progress, "workflow %s: starting run %s (%d jobs)\n", plan.Workflow, plan.RunID, len(plan.Jobs))

	r.recordRunStarted(ctx, started, logger)

	// One slot per planned job; dependents find their needs by ID.
	slots := make(map[string]*jobSlot, len(plan.Jobs))
	ordered := make([]*jobSlot, len(plan.Jobs))
	for index, planned := range plan.Jobs {
		slot := &jobSlot{planned: planned, done: make(chan struct{})}
		slots[planned.ID] = slot
		ordered[index] = slot
	}

	semaphore := make(chan struct{}, parallelism)
	var group sync.WaitGroup
	for _, slot := range ordered {
		group.Add(1)
		go func(slot *jobSlot) {
			defer group.Done()
			defer close(slot.done)
			slot.result = r.runSlot(ctx, slot, slots, semaphore, src, runDir, log, clk, logger, progress)
			r.recordJob(ctx, slot.result, logger)
		}(slot)
	}
	group.Wait()

	result := &schema.RunResult{
		Version:     schema.RunResultVersion,
		RunID:       plan.RunID,
		Workflow:    plan.Workflow,
		Ref:         plan.Ref.String(),
		Kind:        string(plan.Ref.Kind()),
		StartedAt:   started.UTC().Format(time.RFC3339),
		CompletedAt: clk.Now().UTC().Format(time.RFC3339),
		DurationMS:  time.Since(startClock).Milliseconds(),
		Jobs:        make([]schema.JobResult, len(ordered)),
	}
	for index, slot := range ordered {
		result.Jobs[index] = slot.result
	}
	result.Conclusion = runConclusion(ctx, result.Jobs)

	if err := writeResult(runDir, result); err != nil {
		logger.Error("failed to write run result", "run_id", plan.RunID, "error", err)
	}
	r.recordRunFinished(ctx, result.Conclusion, clk.Now(), logger)

	log.runFinished(result.Conclusion, result.DurationMS)
	fmt.Fprintf(progress, "workflow %s: %s (%s)\n", plan.Workflow, result.Conclusion, formatDuration(time.Since(startClock)))

	return result, nil
}

// runSlot takes one job from planned to concluded: plan-time skips,
// needs waiting, worker slot acquisition, then execution.
func (r *Runner) runSlot(
	ctx context.Context,
	slot *jobSlot,
	slots map[string]*jobSlot,
	semaphore chan struct{},
	src *source,
	runDir string,
	log *RunLog,
	clk clock.Clock,
	logger *slog.Logger,
	progress io.Writer,
) schema.JobResult {
	planned := slot.planned

	if planned.SkipReason != "" {
		log.jobSkipped(planned.ID, planned.SkipReason)
		fmt.Fprintf(progress, "[%s] skipped (%s)\n", planned.ID, planned.SkipReason)
		return schema.JobResult{
			Job:        planned.ID,
			Conclusion: schema.ConclusionSkipped,
			SkipReason: planned.SkipReason,
		}
	}

	// Wait for needs. A need that did not succeed skips this job;
	// cancellation while waiting aborts it.
	for _, need := range planned.Job.Needs {
		needSlot, exists := slots[need]
		if !exists {
			// Validate rejects unknown needs; defensive only.
			continue
		}
		select {
		case <-needSlot.done:
			if needSlot.result.Conclusion != schema.ConclusionSuccess {
				reason := fmt.Sprintf("need %q concluded %s", need, needSlot.result.Conclusion)
				log.jobSkipped(planned.ID, reason)
				fmt.Fprintf(progress, "[%s] skipped (%s)\n", planned.ID, reason)
				return schema.JobResult{
					Job:        planned.ID,
					Conclusion: schema.ConclusionSkipped,
					SkipReason: reason,
				}
			}
		case <-ctx.Done():
			return r.abortedBeforeStart(planned.ID, log)
		}
	}

	select {
	case semaphore <- struct{}{}:
		defer func() { <-semaphore }()
	case <-ctx.Done():
		return r.abortedBeforeStart(planned.ID, log)
	}

	request := JobRequest{
		RunID:        r.Plan.RunID,
		Workflow:     r.Plan.Workflow,
		Ref:          r.Plan.Ref,
		JobID:        planned.ID,
		Job:          planned.Job,
		Variables:    r.Plan.Variables,
		Declarations: r.Definition.Variables,
		WorkflowEnv:  r.Definition.Env,
		SourceDir:    src.dir,
		Commit:       src.commit,
		JobDir:       filepath.Join(runDir, "jobs", planned.ID),
		GracePeriod:  r.GracePeriod,
		Publisher:    r.Publisher,
		Log:          log,
		Clock:        clk,
		Logger:       logger,
		Progress:     progress,
	}

	if r.Isolate {
		return r.executeIsolated(ctx, request)
	}
	return ExecuteJob(ctx, request)
}

// abortedBeforeStart is the result for a job the run's cancellation
// reached before any step ran.
func (r *Runner) abortedBeforeStart(jobID string, log *RunLog) schema.JobResult {
	log.jobFinished(jobID, schema.ConclusionAborted, 0, "run cancelled before job started")
	return schema.JobResult{
		Job:        jobID,
		Conclusion: schema.ConclusionAborted,
		Error:      "run cancelled before job started",
	}
}

// runConclusion derives the run's terminal conclusion from its jobs.
// Cancellation makes the run "aborted"; otherwise any non-skipped
// job that did not succeed makes it "failure".
func runConclusion(ctx context.Context, jobs []schema.JobResult) string {
	if ctx.Err() != nil {
		return schema.ConclusionAborted
	}
	for _, job := range jobs {
		switch job.Conclusion {
		case schema.ConclusionSuccess, schema.ConclusionSkipped:
		default:
			return schema.ConclusionFailure
		}
	}
	return schema.ConclusionSuccess
}

// recordRunStarted inserts the run's history row. Recording is
// best-effort: history failures are logged, never fatal to the run.
func (r *Runner) recordRunStarted(ctx context.Context, started time.Time, logger *slog.Logger) {
	if r.History == nil {
		return
	}
	run := history.Run{
		ID:       r.Plan.RunID,
		Workflow: r.Plan.Workflow,
		Ref:      r.Plan.Ref.String(),
		Kind:     string(r.Plan.Ref.Kind()),
		Created:  started,
	}
	if err := r.History.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("failed to record run in history", "run_id", r.Plan.RunID, "error", err)
	}
}

// recordRunFinished closes the run's history row. Runs under the
// uncancelled context so a SIGINT-aborted run still gets its
// conclusion recorded.
func (r *Runner) recordRunFinished(ctx context.Context, conclusion string, finished time.Time, logger *slog.Logger) {
	if r.History == nil {
		return
	}
	if err := r.History.FinishRun(context.WithoutCancel(ctx), r.Plan.RunID, conclusion, finished); err != nil {
		logger.Warn("failed to finish run in history", "run_id", r.Plan.RunID, "error", err)
	}
}

// recordJob inserts a job's history row and its artifact rows.
func (r *Runner) recordJob(ctx context.Context, result schema.JobResult, logger *slog.Logger) {
	if r.History == nil {
		return
	}
	background := context.WithoutCancel(ctx)
	job := history.Job{
		RunID:      r.Plan.RunID,
		Job:        result.Job,
		Conclusion: result.Conclusion,
		Started:    parseRecordTime(result.StartedAt),
		Finished:   parseRecordTime(result.CompletedAt),
	}
	if err := r.History.RecordJob(background, job); err != nil {
		logger.Warn("failed to record job in history", "run_id", r.Plan.RunID, "job", result.Job, "error", err)
	}
	for _, collected := range result.Artifacts {
		row := history.Artifact{
			RunID: r.Plan.RunID,
			Job:   result.Job,
			Name:  collected.Name,
			Ref:   collected.Ref,
			Files: collected.Files,
			Size:  collected.Size,
		}
		if err := r.History.RecordArtifact(background, row); err != nil {
			logger.Warn("failed to record artifact in history", "run_id", r.Plan.RunID, "artifact", collected.Name, "error", err)
		}
	}
}

// parseRecordTime parses an RFC 3339 result timestamp, returning the
// zero time for empty or malformed values (skipped jobs have no
// timestamps).
func parseRecordTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
