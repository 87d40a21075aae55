// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/masa-foundation/masa/lib/artifact"
	"github.com/masa-foundation/masa/lib/history"
	"github.com/masa-foundation/masa/lib/schema"
)

// buildTestPlan builds a plan for the definition against tag v1.0.0,
// failing the test on any planning error.
func buildTestPlan(t *testing.T, definition *schema.Workflow, labels []string) *Plan {
	t.Helper()
	plan, err := BuildPlan(PlanOptions{
		Definition: definition,
		Workflow:   definition.Name,
		Ref:        mustTag(t, "v1.0.0"),
		Labels:     labels,
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	return plan
}

// newTestPublisher returns a StorePublisher over fresh on-disk
// stores, plus the tag store for assertions.
func newTestPublisher(t *testing.T) (*StorePublisher, *artifact.TagStore) {
	t.Helper()
	root := t.TempDir()
	store, err := artifact.NewStore(filepath.Join(root, "cas"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	metadata, err := artifact.NewMetadataStore(filepath.Join(root, "metadata"))
	if err != nil {
		t.Fatalf("NewMetadataStore: %v", err)
	}
	tags, err := artifact.NewTagStore(filepath.Join(root, "tags"))
	if err != nil {
		t.Fatalf("NewTagStore: %v", err)
	}
	return &StorePublisher{Store: store, Metadata: metadata, Tags: tags}, tags
}

// readLogLines decodes every line of a run's JSONL event log.
func readLogLines(t *testing.T, runsDir, runID string) []map[string]any {
	t.Helper()
	file, err := os.Open(filepath.Join(runsDir, runID, "log.jsonl"))
	if err != nil {
		t.Fatalf("open run log: %v", err)
	}
	defer file.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("bad log line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, entry)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan run log: %v", err)
	}
	return lines
}

func TestRunnerExecute(t *testing.T) {
	t.Parallel()

	definition := &schema.Workflow{
		Name: "release",
		On:   &schema.Trigger{Push: &schema.PushTrigger{Tags: []string{"v*"}}},
		Jobs: map[string]schema.Job{
			"alpha": {Steps: []schema.Step{{Name: "go", Run: "echo alpha"}}},
			"beta":  {Steps: []schema.Step{{Name: "go", Run: "echo beta"}}},
		},
	}
	plan := buildTestPlan(t, definition, nil)
	runner := &Runner{
		Definition:  definition,
		Plan:        plan,
		SourceDir:   t.TempDir(),
		RunsDir:     t.TempDir(),
		Parallelism: 2,
	}

	result, err := runner.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.Version != schema.RunResultVersion {
		t.Errorf("Version = %d, want %d", result.Version, schema.RunResultVersion)
	}
	if result.RunID != plan.RunID {
		t.Errorf("RunID = %q, want %q", result.RunID, plan.RunID)
	}
	if result.Ref != "refs/tags/v1.0.0" {
		t.Errorf("Ref = %q, want refs/tags/v1.0.0", result.Ref)
	}
	if result.Kind != "tag" {
		t.Errorf("Kind = %q, want tag", result.Kind)
	}
	if result.Conclusion != schema.ConclusionSuccess {
		t.Fatalf("Conclusion = %q, want success", result.Conclusion)
	}
	if len(result.Jobs) != 2 {
		t.Fatalf("len(Jobs) = %d, want 2", len(result.Jobs))
	}
	if result.Jobs[0].Job != "alpha" || result.Jobs[1].Job != "beta" {
		t.Errorf("job order = [%s %s], want [alpha beta]", result.Jobs[0].Job, result.Jobs[1].Job)
	}

	// The terminal record must be readable back from the run
	// directory.
	stored, err := ReadResult(runner.RunsDir, plan.RunID)
	if err != nil {
		t.Fatalf("ReadResult: %v", err)
	}
	if stored.RunID != plan.RunID || stored.Conclusion != schema.ConclusionSuccess {
		t.Errorf("stored result = %s/%s, want %s/success", stored.RunID, stored.Conclusion, plan.RunID)
	}

	lines := readLogLines(t, runner.RunsDir, plan.RunID)
	if len(lines) < 2 {
		t.Fatalf("log has %d lines, want at least run_started and run_finished", len(lines))
	}
	if lines[0]["type"] != "run_started" {
		t.Errorf("first log line type = %v, want run_started", lines[0]["type"])
	}
	last := lines[len(lines)-1]
	if last["type"] != "run_finished" {
		t.Errorf("last log line type = %v, want run_finished", last["type"])
	}
	if last["conclusion"] != "success" {
		t.Errorf("run_finished conclusion = %v, want success", last["conclusion"])
	}
}

func TestRunnerFailureConclusion(t *testing.T) {
	t.Parallel()

	definition := &schema.Workflow{
		Name: "mixed",
		On:   &schema.Trigger{Push: &schema.PushTrigger{Tags: []string{"v*"}}},
		Jobs: map[string]schema.Job{
			"good": {Steps: []schema.Step{{Name: "go", Run: "true"}}},
			"bad":  {Steps: []schema.Step{{Name: "go", Run: "false"}}},
		},
	}
	plan := buildTestPlan(t, definition, nil)
	runner := &Runner{
		Definition: definition,
		Plan:       plan,
		SourceDir:  t.TempDir(),
		RunsDir:    t.TempDir(),
	}

	result, err := runner.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Conclusion != schema.ConclusionFailure {
		t.Errorf("Conclusion = %q, want failure", result.Conclusion)
	}

	byID := map[string]schema.JobResult{}
	for _, job := range result.Jobs {
		byID[job.Job] = job
	}
	// Jobs are independent: one failing must not stop the other.
	if byID["good"].Conclusion != schema.ConclusionSuccess {
		t.Errorf("good job conclusion = %q, want success", byID["good"].Conclusion)
	}
	if byID["bad"].Conclusion != schema.ConclusionFailure {
		t.Errorf("bad job conclusion = %q, want failure", byID["bad"].Conclusion)
	}
}

func TestRunnerNeeds(t *testing.T) {
	t.Parallel()

	t.Run("dependent waits for its need", func(t *testing.T) {
		t.Parallel()

		orderFile := filepath.Join(t.TempDir(), "order.txt")
		definition := &schema.Workflow{
			Name: "chain",
			On:   &schema.Trigger{Push: &schema.PushTrigger{Tags: []string{"v*"}}},
			Env:  map[string]string{"ORDER_FILE": orderFile},
			Jobs: map[string]schema.Job{
				"first": {Steps: []schema.Step{
					{Name: "go", Run: `sleep 0.2 && echo first >> "$ORDER_FILE"`},
				}},
				"second": {Needs: []string{"first"}, Steps: []schema.Step{
					{Name: "go", Run: `echo second >> "$ORDER_FILE"`},
				}},
			},
		}
		plan := buildTestPlan(t, definition, nil)
		runner := &Runner{
			Definition:  definition,
			Plan:        plan,
			SourceDir:   t.TempDir(),
			RunsDir:     t.TempDir(),
			Parallelism: 2,
		}

		result, err := runner.Execute(context.Background())
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if result.Conclusion != schema.ConclusionSuccess {
			t.Fatalf("Conclusion = %q, want success", result.Conclusion)
		}

		data, err := os.ReadFile(orderFile)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if got := strings.Fields(string(data)); len(got) != 2 || got[0] != "first" || got[1] != "second" {
			t.Errorf("execution order = %v, want [first second]", got)
		}
	})

	t.Run("failed need skips the dependent", func(t *testing.T) {
		t.Parallel()

		definition := &schema.Workflow{
			Name: "chain",
			On:   &schema.Trigger{Push: &schema.PushTrigger{Tags: []string{"v*"}}},
			Jobs: map[string]schema.Job{
				"first": {Steps: []schema.Step{{Name: "go", Run: "false"}}},
				"second": {Needs: []string{"first"}, Steps: []schema.Step{
					{Name: "go", Run: "true"},
				}},
			},
		}
		plan := buildTestPlan(t, definition, nil)
		runner := &Runner{
			Definition: definition,
			Plan:       plan,
			SourceDir:  t.TempDir(),
			RunsDir:    t.TempDir(),
		}

		result, err := runner.Execute(context.Background())
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if result.Conclusion != schema.ConclusionFailure {
			t.Errorf("Conclusion = %q, want failure", result.Conclusion)
		}

		byID := map[string]schema.JobResult{}
		for _, job := range result.Jobs {
			byID[job.Job] = job
		}
		second := byID["second"]
		if second.Conclusion != schema.ConclusionSkipped {
			t.Fatalf("second conclusion = %q, want skipped", second.Conclusion)
		}
		want := `need "first" concluded failure`
		if second.SkipReason != want {
			t.Errorf("SkipReason = %q, want %q", second.SkipReason, want)
		}
	})
}

func TestRunnerLabelFilter(t *testing.T) {
	t.Parallel()

	definition := releaseWorkflow()
	plan := buildTestPlan(t, definition, []string{"linux-x86"})
	runner := &Runner{
		Definition: definition,
		Plan:       plan,
		SourceDir:  t.TempDir(),
		RunsDir:    t.TempDir(),
	}

	result, err := runner.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// A label skip is not a failure.
	if result.Conclusion != schema.ConclusionSuccess {
		t.Errorf("Conclusion = %q, want success", result.Conclusion)
	}

	byID := map[string]schema.JobResult{}
	for _, job := range result.Jobs {
		byID[job.Job] = job
	}
	if byID["build-linux"].Conclusion != schema.ConclusionSuccess {
		t.Errorf("build-linux = %q, want success", byID["build-linux"].Conclusion)
	}
	macos := byID["build-macos"]
	if macos.Conclusion != schema.ConclusionSkipped {
		t.Fatalf("build-macos = %q, want skipped", macos.Conclusion)
	}
	if !strings.Contains(macos.SkipReason, "macos-arm64") {
		t.Errorf("SkipReason = %q, want the missing label", macos.SkipReason)
	}
}

func TestRunnerJobsRunConcurrently(t *testing.T) {
	t.Parallel()

	orderFile := filepath.Join(t.TempDir(), "order.txt")
	definition := &schema.Workflow{
		Name: "parallel",
		On:   &schema.Trigger{Push: &schema.PushTrigger{Tags: []string{"v*"}}},
		Env:  map[string]string{"ORDER_FILE": orderFile},
		Jobs: map[string]schema.Job{
			"one": {Steps: []schema.Step{
				{Name: "go", Run: `echo started >> "$ORDER_FILE"; sleep 0.5; echo finished >> "$ORDER_FILE"`},
			}},
			"two": {Steps: []schema.Step{
				{Name: "go", Run: `echo started >> "$ORDER_FILE"; sleep 0.5; echo finished >> "$ORDER_FILE"`},
			}},
		},
	}
	plan := buildTestPlan(t, definition, nil)
	runner := &Runner{
		Definition:  definition,
		Plan:        plan,
		SourceDir:   t.TempDir(),
		RunsDir:     t.TempDir(),
		Parallelism: 2,
	}

	result, err := runner.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Conclusion != schema.ConclusionSuccess {
		t.Fatalf("Conclusion = %q, want success", result.Conclusion)
	}

	// With both workers busy the two starts land before either
	// finish; the 500ms sleep leaves no room for accidental
	// serialization.
	data, err := os.ReadFile(orderFile)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	events := strings.Fields(string(data))
	if len(events) != 4 {
		t.Fatalf("events = %v, want 4 entries", events)
	}
	if events[0] != "started" || events[1] != "started" {
		t.Errorf("events = %v, want both jobs started before either finished", events)
	}
}

func TestRunnerAbort(t *testing.T) {
	t.Parallel()

	definition := &schema.Workflow{
		Name: "slow",
		On:   &schema.Trigger{Push: &schema.PushTrigger{Tags: []string{"v*"}}},
		Jobs: map[string]schema.Job{
			"hang": {Steps: []schema.Step{{Name: "go", Run: "sleep 30"}}},
		},
	}
	plan := buildTestPlan(t, definition, nil)
	runner := &Runner{
		Definition: definition,
		Plan:       plan,
		SourceDir:  t.TempDir(),
		RunsDir:    t.TempDir(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	startTime := time.Now()
	result, err := runner.Execute(ctx)
	elapsed := time.Since(startTime)

	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Conclusion != schema.ConclusionAborted {
		t.Errorf("Conclusion = %q, want aborted", result.Conclusion)
	}
	if result.Jobs[0].Conclusion != schema.ConclusionAborted {
		t.Errorf("job conclusion = %q, want aborted", result.Jobs[0].Conclusion)
	}
	if elapsed > 5*time.Second {
		t.Errorf("abort took too long: %v", elapsed)
	}
}

func TestRunnerRecordsHistory(t *testing.T) {
	t.Parallel()

	store, err := history.Open(history.Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	defer store.Close()

	definition := &schema.Workflow{
		Name: "recorded",
		On:   &schema.Trigger{Push: &schema.PushTrigger{Tags: []string{"v*"}}},
		Jobs: map[string]schema.Job{
			"alpha": {Steps: []schema.Step{{Name: "go", Run: "true"}}},
			"beta":  {Steps: []schema.Step{{Name: "go", Run: "true"}}},
		},
	}
	plan := buildTestPlan(t, definition, nil)
	runner := &Runner{
		Definition: definition,
		Plan:       plan,
		SourceDir:  t.TempDir(),
		RunsDir:    t.TempDir(),
		History:    store,
	}

	if _, err := runner.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	detail, err := store.Get(context.Background(), plan.RunID)
	if err != nil {
		t.Fatalf("history.Get: %v", err)
	}
	if detail.Run.Workflow != "recorded" {
		t.Errorf("Workflow = %q, want recorded", detail.Run.Workflow)
	}
	if detail.Run.Conclusion != schema.ConclusionSuccess {
		t.Errorf("Conclusion = %q, want success", detail.Run.Conclusion)
	}
	if detail.Run.Finished.IsZero() {
		t.Error("Finished not recorded")
	}
	if len(detail.Jobs) != 2 {
		t.Errorf("len(Jobs) = %d, want 2", len(detail.Jobs))
	}
}

func TestRunnerPublishesArtifacts(t *testing.T) {
	t.Parallel()

	publisher, tags := newTestPublisher(t)
	store, err := history.Open(history.Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	defer store.Close()

	definition := &schema.Workflow{
		Name: "release",
		On:   &schema.Trigger{Push: &schema.PushTrigger{Tags: []string{"v*"}}},
		Jobs: map[string]schema.Job{
			"build": {Steps: []schema.Step{
				{
					Name: "package",
					Run:  "mkdir -p dist && echo binary > dist/app.exe",
					Outputs: []schema.StepOutput{
						{Source: "dist/*.exe", Artifact: "log-viewer-windows"},
					},
				},
			}},
		},
	}
	plan := buildTestPlan(t, definition, nil)
	runner := &Runner{
		Definition: definition,
		Plan:       plan,
		SourceDir:  t.TempDir(),
		RunsDir:    t.TempDir(),
		Publisher:  publisher,
		History:    store,
	}

	result, err := runner.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Conclusion != schema.ConclusionSuccess {
		t.Fatalf("Conclusion = %q, want success (job error: %s)", result.Conclusion, result.Jobs[0].Error)
	}

	artifacts := result.Jobs[0].Artifacts
	if len(artifacts) != 1 {
		t.Fatalf("len(Artifacts) = %d, want 1", len(artifacts))
	}
	if artifacts[0].Name != "log-viewer-windows" {
		t.Errorf("Name = %q, want log-viewer-windows", artifacts[0].Name)
	}
	if artifacts[0].Ref == "" || artifacts[0].Files != 1 {
		t.Errorf("artifact = %+v, want a ref and one file", artifacts[0])
	}

	// The run tag must point at the stored archive.
	if _, ok := tags.Get("runs/" + plan.RunID + "/log-viewer-windows"); !ok {
		t.Errorf("run tag not set for %s", plan.RunID)
	}

	// And history must carry the artifact row.
	detail, err := store.Get(context.Background(), plan.RunID)
	if err != nil {
		t.Fatalf("history.Get: %v", err)
	}
	if len(detail.Artifacts) != 1 {
		t.Fatalf("history artifacts = %d, want 1", len(detail.Artifacts))
	}
	if detail.Artifacts[0].Name != "log-viewer-windows" || detail.Artifacts[0].Ref != artifacts[0].Ref {
		t.Errorf("history artifact = %+v, want name and ref from the result", detail.Artifacts[0])
	}
}
