// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/masa-foundation/masa/lib/clock"
)

func openTestStore(t *testing.T, clk clock.Clock) *Store {
	t.Helper()

	store, err := Open(Config{
		Path:  filepath.Join(t.TempDir(), "history.db"),
		Clock: clk,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func TestOpenEmptyPath(t *testing.T) {
	_, err := Open(Config{})
	if err == nil {
		t.Fatal("expected error for empty Path")
	}
}

func TestRecordAndGet(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	created := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	run := Run{
		ID:       "run-20260115-120000-a1b2",
		Workflow: "release",
		Ref:      "refs/tags/v1.4.2",
		Kind:     "tag",
		Created:  created,
	}
	if err := store.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	jobStart := created.Add(2 * time.Second)
	jobEnd := jobStart.Add(90 * time.Second)
	if err := store.RecordJob(ctx, Job{
		RunID:      run.ID,
		Job:        "build-windows",
		Conclusion: "success",
		Started:    jobStart,
		Finished:   jobEnd,
	}); err != nil {
		t.Fatalf("RecordJob: %v", err)
	}
	if err := store.RecordJob(ctx, Job{
		RunID:      run.ID,
		Job:        "build-macos",
		Conclusion: "failure",
		Started:    jobStart,
		Finished:   jobEnd,
	}); err != nil {
		t.Fatalf("RecordJob: %v", err)
	}

	if err := store.RecordArtifact(ctx, Artifact{
		RunID: run.ID,
		Job:   "build-windows",
		Name:  "masa-log-windows",
		Ref:   "art-a1b2c3d4e5f6",
		Files: 1,
		Size:  14 * 1024 * 1024,
	}); err != nil {
		t.Fatalf("RecordArtifact: %v", err)
	}

	detail, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if detail.Run.Workflow != "release" {
		t.Errorf("Workflow = %q", detail.Run.Workflow)
	}
	if detail.Run.Ref != "refs/tags/v1.4.2" {
		t.Errorf("Ref = %q", detail.Run.Ref)
	}
	if detail.Run.Kind != "tag" {
		t.Errorf("Kind = %q", detail.Run.Kind)
	}
	if !detail.Run.Created.Equal(created) {
		t.Errorf("Created = %v, want %v", detail.Run.Created, created)
	}
	if detail.Run.Conclusion != "" {
		t.Errorf("Conclusion = %q, want empty for in-progress run", detail.Run.Conclusion)
	}
	if !detail.Run.Finished.IsZero() {
		t.Errorf("Finished = %v, want zero for in-progress run", detail.Run.Finished)
	}

	if len(detail.Jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(detail.Jobs))
	}
	// Jobs come back ordered by job ID.
	if detail.Jobs[0].Job != "build-macos" {
		t.Errorf("first job = %q, want build-macos", detail.Jobs[0].Job)
	}
	if detail.Jobs[1].Job != "build-windows" {
		t.Errorf("second job = %q, want build-windows", detail.Jobs[1].Job)
	}
	if detail.Jobs[1].Conclusion != "success" {
		t.Errorf("build-windows conclusion = %q", detail.Jobs[1].Conclusion)
	}
	if !detail.Jobs[1].Started.Equal(jobStart) {
		t.Errorf("Started = %v, want %v", detail.Jobs[1].Started, jobStart)
	}

	if len(detail.Artifacts) != 1 {
		t.Fatalf("got %d artifacts, want 1", len(detail.Artifacts))
	}
	artifact := detail.Artifacts[0]
	if artifact.Name != "masa-log-windows" {
		t.Errorf("artifact name = %q", artifact.Name)
	}
	if artifact.Ref != "art-a1b2c3d4e5f6" {
		t.Errorf("artifact ref = %q", artifact.Ref)
	}
	if artifact.Size != 14*1024*1024 {
		t.Errorf("artifact size = %d", artifact.Size)
	}
}

func TestFinishRun(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	created := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	if err := store.RecordRun(ctx, Run{
		ID:       "run-20260115-120000-c3d4",
		Workflow: "release",
		Created:  created,
	}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	finished := created.Add(5 * time.Minute)
	if err := store.FinishRun(ctx, "run-20260115-120000-c3d4", "success", finished); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	detail, err := store.Get(ctx, "run-20260115-120000-c3d4")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if detail.Run.Conclusion != "success" {
		t.Errorf("Conclusion = %q, want success", detail.Run.Conclusion)
	}
	if !detail.Run.Finished.Equal(finished) {
		t.Errorf("Finished = %v, want %v", detail.Run.Finished, finished)
	}
}

func TestFinishRunNotFound(t *testing.T) {
	store := openTestStore(t, nil)

	err := store.FinishRun(context.Background(), "run-does-not-exist", "success", time.Now())
	if err == nil {
		t.Fatal("expected error for unknown run")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestGetNotFound(t *testing.T) {
	store := openTestStore(t, nil)

	_, err := store.Get(context.Background(), "run-does-not-exist")
	if err == nil {
		t.Fatal("expected error for unknown run")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	base := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	ids := []string{
		"run-20260115-080000-0001",
		"run-20260115-090000-0002",
		"run-20260115-100000-0003",
	}
	for i, id := range ids {
		if err := store.RecordRun(ctx, Run{
			ID:       id,
			Workflow: "release",
			Created:  base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("RecordRun %s: %v", id, err)
		}
	}

	runs, err := store.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	if runs[0].ID != ids[2] {
		t.Errorf("first run = %q, want newest %q", runs[0].ID, ids[2])
	}
	if runs[2].ID != ids[0] {
		t.Errorf("last run = %q, want oldest %q", runs[2].ID, ids[0])
	}
}

func TestListLimit(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	base := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	for i := range 5 {
		if err := store.RecordRun(ctx, Run{
			ID:       "run-2026011" + string(rune('0'+i)) + "-080000-aaaa",
			Workflow: "release",
			Created:  base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	runs, err := store.List(ctx, ListFilter{Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("got %d runs, want 2", len(runs))
	}
}

func TestListWorkflowFilter(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	base := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	if err := store.RecordRun(ctx, Run{
		ID: "run-20260115-080000-r001", Workflow: "release", Created: base,
	}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := store.RecordRun(ctx, Run{
		ID: "run-20260115-080100-n001", Workflow: "nightly", Created: base.Add(time.Minute),
	}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	runs, err := store.List(ctx, ListFilter{Workflow: "nightly"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].Workflow != "nightly" {
		t.Errorf("workflow = %q", runs[0].Workflow)
	}
}

func TestRecordJobSkipped(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	if err := store.RecordRun(ctx, Run{
		ID:       "run-20260115-120000-e5f6",
		Workflow: "release",
		Created:  time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	// Skipped jobs carry no timestamps.
	if err := store.RecordJob(ctx, Job{
		RunID:      "run-20260115-120000-e5f6",
		Job:        "build-macos",
		Conclusion: "skipped",
	}); err != nil {
		t.Fatalf("RecordJob: %v", err)
	}

	detail, err := store.Get(ctx, "run-20260115-120000-e5f6")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(detail.Jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(detail.Jobs))
	}
	if detail.Jobs[0].Conclusion != "skipped" {
		t.Errorf("conclusion = %q", detail.Jobs[0].Conclusion)
	}
	if !detail.Jobs[0].Started.IsZero() {
		t.Errorf("Started = %v, want zero", detail.Jobs[0].Started)
	}
	if !detail.Jobs[0].Finished.IsZero() {
		t.Errorf("Finished = %v, want zero", detail.Jobs[0].Finished)
	}
}

func TestRecordJobReplace(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	created := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	if err := store.RecordRun(ctx, Run{
		ID: "run-20260115-120000-0007", Workflow: "release", Created: created,
	}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	job := Job{
		RunID:      "run-20260115-120000-0007",
		Job:        "build-windows",
		Conclusion: "failure",
		Started:    created,
		Finished:   created.Add(time.Minute),
	}
	if err := store.RecordJob(ctx, job); err != nil {
		t.Fatalf("RecordJob: %v", err)
	}

	// Re-recording the same (run, job) key replaces the row.
	job.Conclusion = "success"
	if err := store.RecordJob(ctx, job); err != nil {
		t.Fatalf("RecordJob replace: %v", err)
	}

	detail, err := store.Get(ctx, job.RunID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(detail.Jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(detail.Jobs))
	}
	if detail.Jobs[0].Conclusion != "success" {
		t.Errorf("conclusion = %q, want success", detail.Jobs[0].Conclusion)
	}
}

func TestArtifactRefs(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := context.Background()

	created := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	if err := store.RecordRun(ctx, Run{
		ID: "run-20260115-120000-0008", Workflow: "release", Created: created,
	}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	artifacts := []Artifact{
		{RunID: "run-20260115-120000-0008", Job: "build-windows", Name: "masa-log-windows", Ref: "art-bbbb00000001", Files: 1, Size: 100},
		{RunID: "run-20260115-120000-0008", Job: "build-macos", Name: "masa-log-macos", Ref: "art-aaaa00000002", Files: 1, Size: 200},
		// Same content published under two names dedupes to one ref.
		{RunID: "run-20260115-120000-0008", Job: "build-macos", Name: "masa-log-macos-copy", Ref: "art-aaaa00000002", Files: 1, Size: 200},
	}
	for _, artifact := range artifacts {
		if err := store.RecordArtifact(ctx, artifact); err != nil {
			t.Fatalf("RecordArtifact: %v", err)
		}
	}

	refs, err := store.ArtifactRefs(ctx)
	if err != nil {
		t.Fatalf("ArtifactRefs: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2 distinct: %v", len(refs), refs)
	}
	if refs[0] != "art-aaaa00000002" || refs[1] != "art-bbbb00000001" {
		t.Errorf("refs = %v", refs)
	}
}

func TestPrune(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.Fake(now)
	store := openTestStore(t, clk)
	ctx := context.Background()

	// One old run with a job and artifact, one recent run.
	oldRun := Run{
		ID:       "run-20260101-000000-old1",
		Workflow: "release",
		Created:  now.Add(-31 * 24 * time.Hour),
	}
	recentRun := Run{
		ID:       "run-20260131-000000-new1",
		Workflow: "release",
		Created:  now.Add(-24 * time.Hour),
	}
	for _, run := range []Run{oldRun, recentRun} {
		if err := store.RecordRun(ctx, run); err != nil {
			t.Fatalf("RecordRun %s: %v", run.ID, err)
		}
	}
	if err := store.RecordJob(ctx, Job{
		RunID: oldRun.ID, Job: "build-windows", Conclusion: "success",
	}); err != nil {
		t.Fatalf("RecordJob: %v", err)
	}
	if err := store.RecordArtifact(ctx, Artifact{
		RunID: oldRun.ID, Job: "build-windows", Name: "masa-log-windows",
		Ref: "art-old000000001", Files: 1, Size: 100,
	}); err != nil {
		t.Fatalf("RecordArtifact: %v", err)
	}

	deleted, err := store.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	// The old run and its cascaded rows are gone.
	if _, err := store.Get(ctx, oldRun.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get old run: error = %v, want ErrNotFound", err)
	}
	refs, err := store.ArtifactRefs(ctx)
	if err != nil {
		t.Fatalf("ArtifactRefs: %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("artifact refs after prune = %v, want none", refs)
	}

	// The recent run survives.
	if _, err := store.Get(ctx, recentRun.ID); err != nil {
		t.Errorf("Get recent run: %v", err)
	}
}

func TestPruneNothingOld(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	store := openTestStore(t, clock.Fake(now))
	ctx := context.Background()

	if err := store.RecordRun(ctx, Run{
		ID:       "run-20260131-000000-keep",
		Workflow: "release",
		Created:  now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	deleted, err := store.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}
}
