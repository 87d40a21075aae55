// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/masa-foundation/masa/cmd/masa/cli"
	"github.com/masa-foundation/masa/lib/history"
	"github.com/masa-foundation/masa/lib/schema"
)

// writeTestConfig points MASA_CONFIG at a config file whose state
// lives under a per-test temp directory, and returns the state dir.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	directory := t.TempDir()
	stateDir := filepath.Join(directory, "state")
	configPath := filepath.Join(directory, "config.yaml")
	content := fmt.Sprintf("state_dir: %s\n", stateDir)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("MASA_CONFIG", configPath)
	return stateDir
}

// writeWorkflow writes a workflow definition and a minimal source
// tree, returning the definition path and the source dir.
func writeWorkflow(t *testing.T, definition string) (string, string) {
	t.Helper()
	directory := t.TempDir()
	path := filepath.Join(directory, "release.jsonc")
	if err := os.WriteFile(path, []byte(definition), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	sourceDir := filepath.Join(directory, "source")
	if err := os.MkdirAll(sourceDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sourceDir, "main.py"), []byte("print('hi')\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path, sourceDir
}

func TestRunNoArgs(t *testing.T) {
	t.Parallel()

	cmd := Command()
	err := cmd.Run(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("expected error for no args")
	}
	if !strings.Contains(err.Error(), "usage") {
		t.Errorf("error %q should contain usage hint", err.Error())
	}
}

func TestRunMissingWorkflowFile(t *testing.T) {
	writeTestConfig(t)

	cmd := Command()
	err := cmd.Execute(context.Background(), []string{"/nonexistent/release.jsonc", "--ref", "refs/tags/v1.0.0"})
	if err == nil {
		t.Fatal("expected error for missing workflow file")
	}
}

func TestRunNotTriggered(t *testing.T) {
	writeTestConfig(t)
	path, sourceDir := writeWorkflow(t, `{
  "on": {"push": {"tags": ["v*"]}},
  "jobs": {
    "build": {"steps": [{"name": "build", "run": "true"}]}
  }
}`)

	cmd := Command()
	err := cmd.Execute(context.Background(), []string{path, "--ref", "refs/heads/main", "--source", sourceDir})
	if err != nil {
		t.Fatalf("a non-matching ref should exit cleanly, got: %v", err)
	}
}

func TestRunExecutesWorkflow(t *testing.T) {
	stateDir := writeTestConfig(t)
	path, sourceDir := writeWorkflow(t, `{
  "name": "masa-log-viewer",
  "on": {"push": {"tags": ["v*"]}},
  "jobs": {
    "build-windows": {
      "steps": [
        {
          "name": "package",
          "run": "mkdir -p dist && printf windows > dist/masa-log.exe",
          "outputs": [{"source": "dist/*.exe", "artifact": "masa-log-windows"}]
        }
      ]
    }
  }
}`)

	cmd := Command()
	err := cmd.Execute(context.Background(), []string{path, "--ref", "refs/tags/v1.0.0", "--source", sourceDir})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	// The run is recorded in history with its published artifact.
	store, err := history.Open(history.Config{Path: filepath.Join(stateDir, "history.db")})
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	defer store.Close()

	runs, err := store.List(context.Background(), history.ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 recorded run, got %d", len(runs))
	}
	if runs[0].Workflow != "masa-log-viewer" {
		t.Errorf("workflow = %q, want masa-log-viewer", runs[0].Workflow)
	}
	if runs[0].Conclusion != schema.ConclusionSuccess {
		t.Errorf("conclusion = %q, want success", runs[0].Conclusion)
	}

	refs, err := store.ArtifactRefs(context.Background())
	if err != nil {
		t.Fatalf("ArtifactRefs: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("expected 1 artifact ref, got %d", len(refs))
	}

	// run list and run show work against the same state.
	if err := listCommand().Execute(context.Background(), nil); err != nil {
		t.Errorf("run list error: %v", err)
	}
	if err := showCommand().Execute(context.Background(), []string{runs[0].ID}); err != nil {
		t.Errorf("run show error: %v", err)
	}
}

func TestRunFailureExitCode(t *testing.T) {
	writeTestConfig(t)
	path, sourceDir := writeWorkflow(t, `{
  "on": {"push": {"tags": ["v*"]}},
  "jobs": {
    "build": {"steps": [{"name": "build", "run": "exit 3"}]}
  }
}`)

	cmd := Command()
	err := cmd.Execute(context.Background(), []string{path, "--ref", "refs/tags/v1.0.0", "--source", sourceDir})
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got: %v", err)
	}
	if exitErr.Code != 1 {
		t.Errorf("exit code = %d, want 1", exitErr.Code)
	}
}

func TestParseVariables(t *testing.T) {
	t.Parallel()

	variables, err := parseVariables([]string{"VERSION=1.2.0", "EMPTY=", "EQ=a=b"})
	if err != nil {
		t.Fatalf("parseVariables: %v", err)
	}
	if variables["VERSION"] != "1.2.0" {
		t.Errorf("VERSION = %q", variables["VERSION"])
	}
	if value, ok := variables["EMPTY"]; !ok || value != "" {
		t.Errorf("EMPTY = %q, ok=%v", value, ok)
	}
	if variables["EQ"] != "a=b" {
		t.Errorf("EQ = %q, want a=b", variables["EQ"])
	}

	if _, err := parseVariables([]string{"NOVALUE"}); err == nil {
		t.Error("expected error for missing =")
	}
	if _, err := parseVariables([]string{"=oops"}); err == nil {
		t.Error("expected error for empty key")
	}
	if variables, err := parseVariables(nil); err != nil || variables != nil {
		t.Errorf("nil input should produce nil map, got %v, %v", variables, err)
	}
}

func TestHasArtifactOutputs(t *testing.T) {
	t.Parallel()

	without := &schema.Workflow{
		Jobs: map[string]schema.Job{
			"build": {Steps: []schema.Step{
				{Name: "build", Run: "make", Outputs: []schema.StepOutput{{Source: "version.txt", Name: "version"}}},
			}},
		},
	}
	if hasArtifactOutputs(without) {
		t.Error("inline outputs are not artifact outputs")
	}

	with := &schema.Workflow{
		Jobs: map[string]schema.Job{
			"build": {
				Steps: []schema.Step{{Name: "build", Run: "make"}},
				OnFailure: []schema.Step{
					{Name: "collect-logs", Run: "true", Outputs: []schema.StepOutput{{Source: "logs/*", Artifact: "build-logs"}}},
				},
			},
		},
	}
	if !hasArtifactOutputs(with) {
		t.Error("on_failure artifact outputs should count")
	}
}

// capturePrint runs print against the write end of a pipe and
// returns everything it wrote. The pipe is not a terminal, so styled
// output degrades to plain text.
func capturePrint(t *testing.T, print func(out *os.File)) string {
	t.Helper()
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	done := make(chan string)
	go func() {
		data, _ := io.ReadAll(reader)
		done <- string(data)
	}()
	print(writer)
	writer.Close()
	return <-done
}

func TestPrintRunSummary(t *testing.T) {
	t.Parallel()

	result := &schema.RunResult{
		RunID:      "run-20260315-103000-a1b2",
		Workflow:   "masa-log-viewer",
		Conclusion: schema.ConclusionFailure,
		Jobs: []schema.JobResult{
			{
				Job:        "build-windows",
				Conclusion: schema.ConclusionSuccess,
				DurationMS: 101000,
				Artifacts: []schema.ArtifactResult{
					{Name: "masa-log-windows", Ref: "art-4f2a91c07d3e", Files: 1, Size: 13 * 1024 * 1024},
				},
			},
			{Job: "build-macos", Conclusion: schema.ConclusionFailure, DurationMS: 34000},
			{Job: "notify", Conclusion: schema.ConclusionSkipped, SkipReason: `label "macos" not offered`},
		},
	}

	output := capturePrint(t, func(out *os.File) {
		printRunSummary(out, result)
	})

	for _, want := range []string{
		"build-windows",
		"1m41s",
		"artifacts:",
		"masa-log-windows",
		"art-4f2a91c07d3e",
		"13.0 MB",
		`(label "macos" not offered)`,
		"run run-20260315-103000-a1b2: failure",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("summary missing %q, got:\n%s", want, output)
		}
	}
}

func TestPrintResult(t *testing.T) {
	t.Parallel()

	result := &schema.RunResult{
		RunID:      "run-20260315-103000-a1b2",
		Workflow:   "masa-log-viewer",
		Ref:        "refs/tags/v1.2.0",
		Conclusion: schema.ConclusionSuccess,
		StartedAt:  "2026-03-15T10:30:00Z",
		DurationMS: 134000,
		Jobs: []schema.JobResult{
			{
				Job:        "build-windows",
				Conclusion: schema.ConclusionSuccess,
				DurationMS: 101000,
				Steps: []schema.StepResult{
					{Name: "install dependencies", Status: schema.StatusOK, DurationMS: 42100},
					{Name: "package", Status: schema.StatusOK, DurationMS: 58900,
						Outputs: map[string]string{"version": "1.2.0"}},
				},
				Summary: "## Build\n\nPackaged `masa-log.exe`.\n",
			},
		},
	}

	output := capturePrint(t, func(out *os.File) {
		printResult(out, result, true)
	})

	for _, want := range []string{
		"run run-20260315-103000-a1b2: masa-log-viewer (refs/tags/v1.2.0)",
		"conclusion: success",
		"build-windows: success",
		"install dependencies",
		"version = 1.2.0",
		"Build",
		"Packaged",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q, got:\n%s", want, output)
		}
	}
}

func TestPrintDetailFallback(t *testing.T) {
	t.Parallel()

	detail := &history.RunDetail{
		Run: history.Run{
			ID:         "run-20260315-103000-a1b2",
			Workflow:   "masa-log-viewer",
			Ref:        "refs/tags/v1.2.0",
			Conclusion: schema.ConclusionSuccess,
		},
		Jobs: []history.Job{
			{RunID: "run-20260315-103000-a1b2", Job: "build-windows", Conclusion: schema.ConclusionSuccess},
		},
		Artifacts: []history.Artifact{
			{RunID: "run-20260315-103000-a1b2", Job: "build-windows", Name: "masa-log-windows", Ref: "art-4f2a91c07d3e", Files: 1, Size: 2048},
		},
	}

	output := capturePrint(t, func(out *os.File) {
		printDetail(out, detail)
	})

	for _, want := range []string{
		"masa-log-viewer",
		"build-windows",
		"masa-log-windows",
		"art-4f2a91c07d3e",
		"history rows",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q, got:\n%s", want, output)
		}
	}
}
