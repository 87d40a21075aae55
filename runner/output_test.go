// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/masa-foundation/masa/lib/archive"
	"github.com/masa-foundation/masa/lib/schema"
)

// memoryPublisher records publish requests and archive contents for
// assertion.
type memoryPublisher struct {
	mu       sync.Mutex
	requests []PublishRequest
	archives [][]byte
	failWith error
}

func (p *memoryPublisher) Publish(ctx context.Context, request PublishRequest, content io.Reader) (*PublishReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return nil, p.failWith
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	p.requests = append(p.requests, request)
	p.archives = append(p.archives, data)
	return &PublishReceipt{
		Ref:  fmt.Sprintf("sha256:%04d", len(p.requests)),
		Hash: fmt.Sprintf("%04d", len(p.requests)),
		Size: int64(len(data)),
	}, nil
}

func writeWorkspaceFile(t *testing.T, runner *stepRunner, name, content string) {
	t.Helper()
	path := filepath.Join(runner.workspace, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestCaptureInline(t *testing.T) {
	t.Parallel()

	t.Run("trailing whitespace trimmed", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		writeWorkspaceFile(t, runner, "value.txt", "  abc123  \n\n")

		value, err := runner.captureInline(schema.StepOutput{Source: "value.txt", Name: "value"})
		if err != nil {
			t.Fatalf("captureInline: %v", err)
		}
		if value != "  abc123" {
			t.Errorf("value = %q, want %q", value, "  abc123")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		_, err := runner.captureInline(schema.StepOutput{Source: "absent.txt", Name: "value"})
		if err == nil {
			t.Fatal("expected error for missing output file")
		}
	})

	t.Run("oversized file", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		writeWorkspaceFile(t, runner, "big.txt", strings.Repeat("x", maxInlineOutputSize+1))

		_, err := runner.captureInline(schema.StepOutput{Source: "big.txt", Name: "value"})
		if err == nil {
			t.Fatal("expected error for oversized output file")
		}
		if !strings.Contains(err.Error(), "limit") {
			t.Errorf("error should mention the limit, got: %v", err)
		}
	})

	t.Run("relative escape rejected", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		_, err := runner.captureInline(schema.StepOutput{Source: "../outside.txt", Name: "value"})
		if err == nil || !strings.Contains(err.Error(), "escapes the workspace") {
			t.Errorf("err = %v, want workspace escape error", err)
		}
	})

	t.Run("absolute path rejected", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		_, err := runner.captureInline(schema.StepOutput{Source: "/etc/hostname", Name: "value"})
		if err == nil || !strings.Contains(err.Error(), "escapes the workspace") {
			t.Errorf("err = %v, want workspace escape error", err)
		}
	})
}

func TestCollectArtifact(t *testing.T) {
	t.Parallel()

	t.Run("glob matches are packed and published", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		publisher := &memoryPublisher{}
		runner.publisher = publisher

		writeWorkspaceFile(t, runner, "dist/app.exe", "binary-one")
		writeWorkspaceFile(t, runner, "dist/helper.exe", "binary-two")
		writeWorkspaceFile(t, runner, "dist/readme.md", "not matched")

		result, err := runner.collectArtifact(context.Background(), schema.StepOutput{
			Source:   "dist/*.exe",
			Artifact: "log-viewer-windows",
		})
		if err != nil {
			t.Fatalf("collectArtifact: %v", err)
		}

		if result.Name != "log-viewer-windows" {
			t.Errorf("Name = %q, want %q", result.Name, "log-viewer-windows")
		}
		if result.Files != 2 {
			t.Errorf("Files = %d, want 2", result.Files)
		}
		if result.Ref == "" {
			t.Error("Ref is empty")
		}
		if result.Size <= 0 {
			t.Errorf("Size = %d, want > 0", result.Size)
		}

		if len(publisher.requests) != 1 {
			t.Fatalf("publish calls = %d, want 1", len(publisher.requests))
		}
		request := publisher.requests[0]
		if request.Tag != "runs/"+runner.runID+"/log-viewer-windows" {
			t.Errorf("Tag = %q, want runs/%s/log-viewer-windows", request.Tag, runner.runID)
		}
		if request.ContentType != "application/x-tar" {
			t.Errorf("ContentType = %q, want application/x-tar", request.ContentType)
		}
		if request.FileCount != 2 {
			t.Errorf("FileCount = %d, want 2", request.FileCount)
		}
		if request.Size != int64(len(publisher.archives[0])) {
			t.Errorf("Size = %d, want archive length %d", request.Size, len(publisher.archives[0]))
		}

		// The published archive must unpack to exactly the matched
		// files, at their workspace-relative paths.
		unpacked := t.TempDir()
		if err := archive.Unpack(bytes.NewReader(publisher.archives[0]), unpacked); err != nil {
			t.Fatalf("Unpack: %v", err)
		}
		data, err := os.ReadFile(filepath.Join(unpacked, "dist", "app.exe"))
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if string(data) != "binary-one" {
			t.Errorf("unpacked content = %q, want %q", data, "binary-one")
		}
		if _, err := os.Stat(filepath.Join(unpacked, "dist", "readme.md")); !os.IsNotExist(err) {
			t.Errorf("unmatched file should not be in the archive, stat err = %v", err)
		}
	})

	t.Run("no matches", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		runner.publisher = &memoryPublisher{}

		_, err := runner.collectArtifact(context.Background(), schema.StepOutput{
			Source:   "dist/*.exe",
			Artifact: "log-viewer-windows",
		})
		if err == nil {
			t.Fatal("expected error for empty glob")
		}
		want := `artifact "log-viewer-windows" matched no files`
		if err.Error() != want {
			t.Errorf("err = %q, want %q", err.Error(), want)
		}
	})

	t.Run("no publisher configured", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		writeWorkspaceFile(t, runner, "dist/app.exe", "binary")

		_, err := runner.collectArtifact(context.Background(), schema.StepOutput{
			Source:   "dist/*.exe",
			Artifact: "log-viewer-windows",
		})
		if err == nil || !strings.Contains(err.Error(), "no artifact store is configured") {
			t.Errorf("err = %v, want missing store error", err)
		}
	})

	t.Run("publish failure surfaces", func(t *testing.T) {
		t.Parallel()

		runner := newTestStepRunner(t)
		runner.publisher = &memoryPublisher{failWith: fmt.Errorf("store unavailable")}
		writeWorkspaceFile(t, runner, "dist/app.exe", "binary")

		_, err := runner.collectArtifact(context.Background(), schema.StepOutput{
			Source:   "dist/*.exe",
			Artifact: "log-viewer-windows",
		})
		if err == nil || !strings.Contains(err.Error(), "store unavailable") {
			t.Errorf("err = %v, want publish error", err)
		}
	})
}

func TestCaptureOutputsOrdering(t *testing.T) {
	t.Parallel()

	runner := newTestStepRunner(t)
	publisher := &memoryPublisher{}
	runner.publisher = publisher

	writeWorkspaceFile(t, runner, "version.txt", "2.4.0\n")
	writeWorkspaceFile(t, runner, "dist/app.exe", "binary")

	outputs, artifacts, err := runner.captureOutputs(context.Background(), schema.Step{
		Name: "package",
		Outputs: []schema.StepOutput{
			{Source: "version.txt", Name: "version"},
			{Source: "dist/*.exe", Artifact: "log-viewer-windows"},
		},
	})
	if err != nil {
		t.Fatalf("captureOutputs: %v", err)
	}
	if outputs["version"] != "2.4.0" {
		t.Errorf("outputs[version] = %q, want %q", outputs["version"], "2.4.0")
	}
	if len(artifacts) != 1 {
		t.Fatalf("len(artifacts) = %d, want 1", len(artifacts))
	}
	if artifacts[0].Name != "log-viewer-windows" {
		t.Errorf("artifact name = %q, want log-viewer-windows", artifacts[0].Name)
	}
}

func TestCaptureOutputsNamesFailingOutput(t *testing.T) {
	t.Parallel()

	runner := newTestStepRunner(t)
	_, _, err := runner.captureOutputs(context.Background(), schema.Step{
		Name: "collect",
		Outputs: []schema.StepOutput{
			{Source: "missing.txt", Name: "gone"},
		},
	})
	if err == nil {
		t.Fatal("expected error for missing output source")
	}
	if !strings.Contains(err.Error(), `output "gone"`) {
		t.Errorf("error should name the output, got: %v", err)
	}
}
