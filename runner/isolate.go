// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/masa-foundation/masa/lib/clock"
	"github.com/masa-foundation/masa/lib/codec"
	"github.com/masa-foundation/masa/lib/gitref"
	"github.com/masa-foundation/masa/lib/schema"
)

// Job isolation runs each job as a masa-runner subprocess. The parent
// writes jobs/<job>/job.cbor, spawns masa-runner pointed at it, and
// reads jobs/<job>/result.cbor back when the subprocess exits. The
// subprocess keeps its own step-level event log in the job directory;
// the parent mirrors only the job conclusion and artifact lines into
// the run-level log.
//
// masa-runner exits 0 whenever it produces a result, including for
// failed jobs. A non-zero exit means the job infrastructure itself
// broke.

const (
	jobFileName       = "job.cbor"
	jobResultFileName = "result.cbor"

	jobFileVersion = 1
)

// jobSpec is the document handed to a masa-runner subprocess. It
// carries the resolved variables, secrets included, so the file is
// written mode 0600 and removed as soon as the job concludes.
type jobSpec struct {
	Version      int                        `cbor:"version"`
	RunID        string                     `cbor:"run_id"`
	Workflow     string                     `cbor:"workflow"`
	Ref          string                     `cbor:"ref,omitempty"`
	JobID        string                     `cbor:"job_id"`
	Job          schema.Job                 `cbor:"job"`
	Variables    map[string]string          `cbor:"variables,omitempty"`
	Declarations map[string]schema.Variable `cbor:"declarations,omitempty"`
	WorkflowEnv  map[string]string          `cbor:"env,omitempty"`
	SourceDir    string                     `cbor:"source_dir"`
	Commit       string                     `cbor:"commit,omitempty"`
	JobDir       string                     `cbor:"job_dir"`
	GracePeriod  time.Duration              `cbor:"grace_period,omitempty"`
	Socket       string                     `cbor:"socket,omitempty"`
}

// executeIsolated runs one job in a masa-runner subprocess and
// returns its result. Like ExecuteJob, problems are encoded in the
// result rather than returned.
func (r *Runner) executeIsolated(ctx context.Context, request JobRequest) schema.JobResult {
	clk := request.Clock
	if clk == nil {
		clk = clock.Real()
	}
	started := clk.Now()

	if err := os.MkdirAll(request.JobDir, 0o755); err != nil {
		return r.isolationFailure(request, started, clk, fmt.Errorf("creating job directory: %w", err))
	}
	specPath := filepath.Join(request.JobDir, jobFileName)
	if err := writeJobFile(specPath, request, r.ServiceSocket); err != nil {
		return r.isolationFailure(request, started, clk, err)
	}
	defer os.Remove(specPath)

	binary := r.RunnerBinary
	if binary == "" {
		binary = "masa-runner"
	}
	cmd := exec.CommandContext(ctx, binary, "--job", specPath)
	cmd.Stdout = request.Progress
	cmd.Stderr = request.Progress
	// On cancellation, ask masa-runner to abort; it terminates its
	// steps, writes the result, and exits on its own.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = subprocessWaitDelay(request)

	runErr := cmd.Run()

	result, readErr := readJobResult(request.JobDir)
	if readErr == nil {
		// The subprocess keeps its own step log; surface the job
		// outcome in the run-level log too.
		request.Log.jobFinished(request.JobID, result.Conclusion, result.DurationMS, result.Error)
		for _, collected := range result.Artifacts {
			request.Log.artifactStored(request.JobID, collected.Name, collected.Ref, collected.Files, collected.Size)
		}
		return *result
	}
	if runErr != nil {
		return r.isolationFailure(request, started, clk, fmt.Errorf("masa-runner: %w", runErr))
	}
	return r.isolationFailure(request, started, clk, fmt.Errorf("masa-runner exited without a result: %w", readErr))
}

// isolationFailure is the result for a job whose subprocess never
// produced one.
func (r *Runner) isolationFailure(request JobRequest, started time.Time, clk clock.Clock, err error) schema.JobResult {
	completed := clk.Now()
	result := schema.JobResult{
		Job:         request.JobID,
		Conclusion:  schema.ConclusionFailure,
		StartedAt:   started.UTC().Format(time.RFC3339),
		CompletedAt: completed.UTC().Format(time.RFC3339),
		DurationMS:  completed.Sub(started).Milliseconds(),
		Error:       err.Error(),
	}
	request.Log.jobFinished(request.JobID, result.Conclusion, result.DurationMS, result.Error)
	if request.Progress != nil {
		fmt.Fprintf(request.Progress, "[%s] failed: %v\n", request.JobID, err)
	}
	return result
}

// subprocessWaitDelay bounds how long the parent waits after SIGTERM
// before force-killing masa-runner: the longest grace period any of
// the job's steps may use, plus slack for writing the result.
func subprocessWaitDelay(request JobRequest) time.Duration {
	longest := request.GracePeriod
	steps := append(append([]schema.Step{}, request.Job.Steps...), request.Job.OnFailure...)
	for _, step := range steps {
		if step.GracePeriod == "" {
			continue
		}
		if parsed, err := time.ParseDuration(step.GracePeriod); err == nil && parsed > longest {
			longest = parsed
		}
	}
	return longest + 30*time.Second
}

// writeJobFile serializes the job document for a subprocess.
func writeJobFile(path string, request JobRequest, socket string) error {
	spec := jobSpec{
		Version:      jobFileVersion,
		RunID:        request.RunID,
		Workflow:     request.Workflow,
		Ref:          request.Ref.String(),
		JobID:        request.JobID,
		Job:          request.Job,
		Variables:    request.Variables,
		Declarations: request.Declarations,
		WorkflowEnv:  request.WorkflowEnv,
		SourceDir:    request.SourceDir,
		Commit:       request.Commit,
		JobDir:       request.JobDir,
		GracePeriod:  request.GracePeriod,
		Socket:       socket,
	}
	data, err := codec.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encoding job file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing job file: %w", err)
	}
	return nil
}

// ReadJobFile loads the job document a masa-runner subprocess was
// pointed at. It returns the partially populated request (the caller
// supplies Publisher, Log, Clock, Logger, and Progress) and the
// artifact service socket to publish through, empty when the run has
// no artifact service.
func ReadJobFile(path string) (JobRequest, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return JobRequest{}, "", fmt.Errorf("reading job file: %w", err)
	}
	var spec jobSpec
	if err := codec.Unmarshal(data, &spec); err != nil {
		return JobRequest{}, "", fmt.Errorf("decoding job file: %w", err)
	}
	if spec.Version != jobFileVersion {
		return JobRequest{}, "", fmt.Errorf("unsupported job file version %d", spec.Version)
	}
	var ref gitref.Ref
	if spec.Ref != "" {
		parsed, err := gitref.Parse(spec.Ref)
		if err != nil {
			return JobRequest{}, "", fmt.Errorf("job file ref: %w", err)
		}
		ref = parsed
	}
	request := JobRequest{
		RunID:        spec.RunID,
		Workflow:     spec.Workflow,
		Ref:          ref,
		JobID:        spec.JobID,
		Job:          spec.Job,
		Variables:    spec.Variables,
		Declarations: spec.Declarations,
		WorkflowEnv:  spec.WorkflowEnv,
		SourceDir:    spec.SourceDir,
		Commit:       spec.Commit,
		JobDir:       spec.JobDir,
		GracePeriod:  spec.GracePeriod,
	}
	return request, spec.Socket, nil
}

// WriteJobResult persists a completed job's result where the parent
// process looks for it.
func WriteJobResult(jobDir string, result schema.JobResult) error {
	data, err := codec.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding job result: %w", err)
	}
	path := filepath.Join(jobDir, jobResultFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing job result: %w", err)
	}
	return nil
}

// readJobResult loads the result a masa-runner subprocess wrote.
func readJobResult(jobDir string) (*schema.JobResult, error) {
	data, err := os.ReadFile(filepath.Join(jobDir, jobResultFileName))
	if err != nil {
		return nil, err
	}
	var result schema.JobResult
	if err := codec.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding job result: %w", err)
	}
	return &result, nil
}
