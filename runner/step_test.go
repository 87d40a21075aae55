// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/masa-foundation/masa/lib/schema"
	"github.com/masa-foundation/masa/lib/workflow"
)

// newTestStepRunner returns a stepRunner wired to temp directories
// with command output discarded. Tests that assert on output swap in
// their own buffer.
func newTestStepRunner(t *testing.T) *stepRunner {
	t.Helper()
	return &stepRunner{
		runID:     "run-20260101-000000-abcd",
		workflow:  "test",
		jobID:     "job",
		workspace: t.TempDir(),
		scratch:   t.TempDir(),
		lowerEnv:  os.Environ(),
		output:    io.Discard,
		masker:    workflow.NewMasker(nil, nil),
	}
}

func TestExecuteStep(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		outcome := runner.executeStep(context.Background(), schema.Step{
			Name: "hello",
			Run:  "echo hello",
		})
		if outcome.status != schema.StatusOK {
			t.Errorf("status = %q, want %q (err: %v)", outcome.status, schema.StatusOK, outcome.err)
		}
		if outcome.err != nil {
			t.Errorf("err = %v, want nil", outcome.err)
		}
	})

	t.Run("command output reaches the log", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		var output bytes.Buffer
		runner.output = &output

		outcome := runner.executeStep(context.Background(), schema.Step{
			Name: "greet",
			Run:  "echo to-stdout; echo to-stderr >&2",
		})
		if outcome.status != schema.StatusOK {
			t.Fatalf("status = %q, want ok (err: %v)", outcome.status, outcome.err)
		}
		if !strings.Contains(output.String(), "to-stdout") {
			t.Errorf("output log missing stdout, got: %q", output.String())
		}
		if !strings.Contains(output.String(), "to-stderr") {
			t.Errorf("output log missing stderr, got: %q", output.String())
		}
	})

	t.Run("commands run in the workspace", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		outcome := runner.executeStep(context.Background(), schema.Step{
			Name: "write",
			Run:  "echo marker > created.txt",
		})
		if outcome.status != schema.StatusOK {
			t.Fatalf("status = %q, want ok (err: %v)", outcome.status, outcome.err)
		}
		if _, err := os.Stat(filepath.Join(runner.workspace, "created.txt")); err != nil {
			t.Errorf("file not created in workspace: %v", err)
		}
	})

	t.Run("step env reaches the command", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		outcome := runner.executeStep(context.Background(), schema.Step{
			Name: "env",
			Run:  `printf '%s' "$GREETING" > greeting.txt`,
			Env:  map[string]string{"GREETING": "hello from env"},
		})
		if outcome.status != schema.StatusOK {
			t.Fatalf("status = %q, want ok (err: %v)", outcome.status, outcome.err)
		}
		data, err := os.ReadFile(filepath.Join(runner.workspace, "greeting.txt"))
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if string(data) != "hello from env" {
			t.Errorf("greeting = %q, want %q", data, "hello from env")
		}
	})

	t.Run("nonzero exit fails the step", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		outcome := runner.executeStep(context.Background(), schema.Step{
			Name: "fails",
			Run:  "exit 3",
		})
		if outcome.status != schema.StatusFailed {
			t.Errorf("status = %q, want %q", outcome.status, schema.StatusFailed)
		}
		if outcome.exitCode != 3 {
			t.Errorf("exitCode = %d, want 3", outcome.exitCode)
		}
		if outcome.err == nil || !strings.Contains(outcome.err.Error(), "exit code 3") {
			t.Errorf("err = %v, want exit code 3", outcome.err)
		}
	})

	t.Run("failed check fails the step", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		outcome := runner.executeStep(context.Background(), schema.Step{
			Name:  "checked",
			Run:   "true",
			Check: "false",
		})
		if outcome.status != schema.StatusFailed {
			t.Errorf("status = %q, want %q", outcome.status, schema.StatusFailed)
		}
		if outcome.err == nil || !strings.Contains(outcome.err.Error(), "check") {
			t.Errorf("err = %v, want a check error", outcome.err)
		}
	})

	t.Run("check runs without a run command", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		path := filepath.Join(runner.workspace, "version.txt")
		if err := os.WriteFile(path, []byte("1.2.3\n"), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}

		outcome := runner.executeStep(context.Background(), schema.Step{
			Name:    "collect",
			Check:   "test -f version.txt",
			Outputs: []schema.StepOutput{{Source: "version.txt", Name: "version"}},
		})
		if outcome.status != schema.StatusOK {
			t.Fatalf("status = %q, want ok (err: %v)", outcome.status, outcome.err)
		}
		if outcome.outputs["version"] != "1.2.3" {
			t.Errorf("outputs[version] = %q, want %q", outcome.outputs["version"], "1.2.3")
		}
	})

	t.Run("timeout kills the command", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		startTime := time.Now()
		outcome := runner.executeStep(context.Background(), schema.Step{
			Name:    "slow",
			Run:     "sleep 30",
			Timeout: "200ms",
		})
		elapsed := time.Since(startTime)

		if outcome.status != schema.StatusFailed {
			t.Errorf("status = %q, want %q", outcome.status, schema.StatusFailed)
		}
		if outcome.err == nil || !strings.Contains(outcome.err.Error(), "timed out") {
			t.Errorf("err = %v, want a timeout error", outcome.err)
		}
		if elapsed > 5*time.Second {
			t.Errorf("timeout took too long: %v", elapsed)
		}
	})

	t.Run("grace period lets the command exit cleanly", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		var output bytes.Buffer
		runner.output = &output

		outcome := runner.executeStep(context.Background(), schema.Step{
			Name:        "trapped",
			Run:         `trap 'echo cleaned-up; exit 0' TERM; sleep 30`,
			Timeout:     "300ms",
			GracePeriod: "5s",
		})
		if outcome.status != schema.StatusFailed {
			t.Errorf("status = %q, want %q", outcome.status, schema.StatusFailed)
		}
		if !strings.Contains(output.String(), "cleaned-up") {
			t.Errorf("trap handler did not run, output: %q", output.String())
		}
	})

	t.Run("cancelled job context aborts the step", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(100 * time.Millisecond)
			cancel()
		}()

		startTime := time.Now()
		outcome := runner.executeStep(ctx, schema.Step{
			Name: "interrupted",
			Run:  "sleep 30",
		})
		elapsed := time.Since(startTime)

		if outcome.status != schema.StatusAborted {
			t.Errorf("status = %q, want %q", outcome.status, schema.StatusAborted)
		}
		if elapsed > 5*time.Second {
			t.Errorf("abort took too long: %v", elapsed)
		}
	})

	t.Run("invalid timeout", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		outcome := runner.executeStep(context.Background(), schema.Step{
			Name:    "bad",
			Run:     "true",
			Timeout: "sometime",
		})
		if outcome.status != schema.StatusFailed {
			t.Errorf("status = %q, want %q", outcome.status, schema.StatusFailed)
		}
		if outcome.err == nil || !strings.Contains(outcome.err.Error(), "invalid timeout") {
			t.Errorf("err = %v, want invalid timeout", outcome.err)
		}
	})

	t.Run("secret values masked in captured outputs", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		runner.masker = workflow.NewMasker(
			map[string]schema.Variable{"TOKEN": {Secret: true}},
			map[string]string{"TOKEN": "hunter2"},
		)

		outcome := runner.executeStep(context.Background(), schema.Step{
			Name:    "leaky",
			Run:     "echo token=hunter2 > leak.txt",
			Outputs: []schema.StepOutput{{Source: "leak.txt", Name: "leak"}},
		})
		if outcome.status != schema.StatusOK {
			t.Fatalf("status = %q, want ok (err: %v)", outcome.status, outcome.err)
		}
		if outcome.outputs["leak"] != "token=***" {
			t.Errorf("outputs[leak] = %q, want %q", outcome.outputs["leak"], "token=***")
		}
	})
}

func TestStepTimeout(t *testing.T) {
	t.Parallel()

	// A step without a declared timeout gets no implicit ceiling:
	// the job timeout is the only bound, and long packaging commands
	// (pyinstaller, py2app) run as long as the job budget allows.
	timeout, err := stepTimeout(schema.Step{Name: "package"})
	if err != nil {
		t.Fatalf("stepTimeout: %v", err)
	}
	if timeout != 0 {
		t.Errorf("undeclared timeout = %v, want 0", timeout)
	}

	timeout, err = stepTimeout(schema.Step{Name: "quick", Timeout: "45s"})
	if err != nil {
		t.Fatalf("stepTimeout: %v", err)
	}
	if timeout != 45*time.Second {
		t.Errorf("timeout = %v, want 45s", timeout)
	}

	if _, err := stepTimeout(schema.Step{Name: "bad", Timeout: "sometime"}); err == nil {
		t.Error("stepTimeout accepted an unparseable duration")
	}
}
