// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/masa-foundation/masa/lib/schema"
	"github.com/masa-foundation/masa/lib/workflow"
)

// stepRunner executes the steps of one job: the job-scoped state
// every step shares. Built once per job by the job executor.
type stepRunner struct {
	runID    string
	workflow string
	jobID    string

	// workspace is the materialized private working directory all
	// commands run in.
	workspace string

	// scratch is the per-job directory for runner-internal files
	// (packed artifact archives before upload).
	scratch string

	// lowerEnv is the command environment below step level: the
	// runner process environment overlaid with workflow and job env.
	// Step env layers on top of it.
	lowerEnv []string

	// upperEnv outranks step env: the resolved variables and the
	// MASA_* run context. A step cannot redefine MASA_WORKSPACE or
	// shadow a workflow variable.
	upperEnv []string

	// gracePeriod is the default SIGTERM-to-SIGKILL window for
	// aborted commands. Steps override it with grace_period.
	gracePeriod time.Duration

	// output receives command stdout and stderr (the job's output
	// log).
	output io.Writer

	log       *RunLog
	masker    *workflow.Masker
	publisher Publisher
}

// stepOutcome captures the result of executing a single step.
type stepOutcome struct {
	status    string
	duration  time.Duration
	exitCode  int
	err       error
	outputs   map[string]string
	artifacts []schema.ArtifactResult
}

// executeStep runs a single step: the run command, the check
// command, and output capture, all within the step's declared
// timeout when it has one. The step must already be
// variable-expanded.
//
// The passed context is the job context; a step without its own
// timeout runs under the job's ceiling alone. When the job context
// is cancelled (signal, job timeout) the outcome status is "aborted"
// rather than "failed" — the step did not go wrong, the run stopped.
func (sr *stepRunner) executeStep(ctx context.Context, step schema.Step) stepOutcome {
	startTime := time.Now()

	// Parse timeout. Validate catches bad values before execution
	// starts; fail loud if one slips through.
	timeout, err := stepTimeout(step)
	if err != nil {
		return stepOutcome{
			status:   schema.StatusFailed,
			duration: time.Since(startTime),
			err:      err,
		}
	}

	gracePeriod := sr.gracePeriod
	if step.GracePeriod != "" {
		parsed, err := time.ParseDuration(step.GracePeriod)
		if err != nil {
			return stepOutcome{
				status:   schema.StatusFailed,
				duration: time.Since(startTime),
				err:      fmt.Errorf("invalid grace_period %q: %w", step.GracePeriod, err),
			}
		}
		gracePeriod = parsed
	}

	stepContext := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stepContext, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sr.log.stepStarted(sr.jobID, step.Name, sr.masker.Mask(step.Run))

	if step.Run != "" {
		exitCode, err := sr.runShell(stepContext, step.Run, step.Env, gracePeriod)
		if outcome, fatal := sr.commandOutcome(ctx, stepContext, "run", exitCode, err, timeout, startTime); fatal {
			return outcome
		}
	}

	// Check commands are quick verifications with no grace period:
	// immediate SIGKILL on timeout.
	if step.Check != "" {
		checkExit, err := sr.runShell(stepContext, step.Check, step.Env, 0)
		if outcome, fatal := sr.commandOutcome(ctx, stepContext, "check", checkExit, err, timeout, startTime); fatal {
			return outcome
		}
	}

	// Capture declared outputs after the commands succeed. Capture
	// runs inside the step's timeout — a slow artifact store counts
	// against the step's time budget.
	var outputs map[string]string
	var artifacts []schema.ArtifactResult
	if len(step.Outputs) > 0 {
		var err error
		outputs, artifacts, err = sr.captureOutputs(stepContext, step)
		if err != nil {
			status := schema.StatusFailed
			if ctx.Err() != nil {
				status = schema.StatusAborted
			}
			return stepOutcome{
				status:   status,
				duration: time.Since(startTime),
				err:      fmt.Errorf("capturing outputs: %w", err),
			}
		}
	}

	return stepOutcome{
		status:    schema.StatusOK,
		duration:  time.Since(startTime),
		outputs:   outputs,
		artifacts: artifacts,
	}
}

// stepTimeout parses a step's declared timeout. Zero means the step
// declared none and runs bounded only by the job ceiling — long
// packaging commands must not be cut off by a limit the workflow
// never asked for.
func stepTimeout(step schema.Step) (time.Duration, error) {
	if step.Timeout == "" {
		return 0, nil
	}
	parsed, err := time.ParseDuration(step.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", step.Timeout, err)
	}
	return parsed, nil
}

// commandOutcome classifies a shell command result. Returns the
// terminal outcome and fatal=true when the command did not succeed.
// Cancellation of the job context maps to "aborted"; expiry of the
// step's own deadline maps to "failed" (the step blew its budget;
// the job goes on to on_failure handling).
func (sr *stepRunner) commandOutcome(jobContext, stepContext context.Context, phase string, exitCode int, err error, timeout time.Duration, startTime time.Time) (stepOutcome, bool) {
	if err != nil {
		if jobContext.Err() != nil {
			return stepOutcome{
				status:   schema.StatusAborted,
				duration: time.Since(startTime),
				err:      fmt.Errorf("%s: %w", phase, jobContext.Err()),
			}, true
		}
		if errors.Is(stepContext.Err(), context.DeadlineExceeded) {
			return stepOutcome{
				status:   schema.StatusFailed,
				duration: time.Since(startTime),
				err:      fmt.Errorf("%s: step timed out after %s", phase, timeout),
			}, true
		}
		return stepOutcome{
			status:   schema.StatusFailed,
			duration: time.Since(startTime),
			err:      fmt.Errorf("%s: %w", phase, err),
		}, true
	}
	if exitCode != 0 {
		return stepOutcome{
			status:   schema.StatusFailed,
			duration: time.Since(startTime),
			exitCode: exitCode,
			err:      fmt.Errorf("%s: exit code %d", phase, exitCode),
		}, true
	}
	return stepOutcome{}, false
}

// runShell executes a command via sh -c in the job workspace, with
// stdout and stderr directed to the job output log. Returns the exit
// code and any non-exit error (signals, context cancellation).
//
// The shell is resolved via PATH, not hardcoded to /bin/sh — inside
// minimal build containers /bin may not exist while the environment's
// bin directory is on PATH.
//
// The command runs in its own process group so that cancellation
// kills the shell and all its children. Without Setpgid, only the
// shell receives the signal — children survive and hold open the
// inherited output file descriptors.
//
// When gracePeriod is zero, SIGKILL is sent immediately on
// cancellation. When positive, SIGTERM is sent first so the process
// can flush buffers and release locks; a background goroutine
// escalates to SIGKILL after the grace period if the group has not
// exited.
func (sr *stepRunner) runShell(ctx context.Context, command string, env map[string]string, gracePeriod time.Duration) (int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = sr.workspace
	cmd.Stdout = sr.output
	cmd.Stderr = sr.output
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if gracePeriod > 0 {
		cmd.Cancel = func() error {
			processGroupID := -cmd.Process.Pid
			if err := syscall.Kill(processGroupID, syscall.SIGTERM); err != nil {
				// SIGTERM failed (group already gone), escalate.
				return syscall.Kill(processGroupID, syscall.SIGKILL)
			}
			go func() {
				time.Sleep(gracePeriod)
				// Best-effort: ESRCH from an already-dead
				// process group is harmless.
				_ = syscall.Kill(processGroupID, syscall.SIGKILL)
			}()
			return nil
		}
	} else {
		cmd.Cancel = func() error {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
	}

	// Step env sits between the job layers and the variables/run
	// context: it overrides workflow and job env, never a resolved
	// variable or a MASA_* value.
	composed := append([]string{}, sr.lowerEnv...)
	composed = append(composed, flattenEnv(env)...)
	composed = append(composed, sr.upperEnv...)
	cmd.Env = composed

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return exitError.ExitCode(), nil
	}

	// Non-exit errors: context cancellation, signal delivery
	// failure, command start failure.
	return -1, err
}
