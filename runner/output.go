// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/masa-foundation/masa/lib/archive"
	"github.com/masa-foundation/masa/lib/schema"
)

// maxInlineOutputSize caps inline (non-artifact) output values.
// 64 KiB is ample for commit SHAs, version strings, and report
// snippets; anything larger belongs in an artifact.
const maxInlineOutputSize = 64 * 1024

// artifactContentType is recorded on every collected artifact
// archive.
const artifactContentType = "application/x-tar"

// captureOutputs processes the step's output declarations in order:
// inline outputs read a workspace file into the result (masked),
// artifact outputs pack the matched files and publish them to the
// store. The first failing output fails the step.
func (sr *stepRunner) captureOutputs(ctx context.Context, step schema.Step) (map[string]string, []schema.ArtifactResult, error) {
	var outputs map[string]string
	var artifacts []schema.ArtifactResult

	for _, output := range step.Outputs {
		if output.Artifact != "" {
			result, err := sr.collectArtifact(ctx, output)
			if err != nil {
				return nil, nil, err
			}
			artifacts = append(artifacts, result)
			sr.log.artifactStored(sr.jobID, result.Name, result.Ref, result.Files, result.Size)
			continue
		}

		value, err := sr.captureInline(output)
		if err != nil {
			return nil, nil, fmt.Errorf("output %q: %w", output.Name, err)
		}
		if outputs == nil {
			outputs = make(map[string]string, len(step.Outputs))
		}
		outputs[output.Name] = sr.masker.Mask(value)
	}

	return outputs, artifacts, nil
}

// captureInline reads a single output file as a string value.
// Trailing whitespace is trimmed — most commands write a trailing
// newline that callers don't want in their values.
func (sr *stepRunner) captureInline(output schema.StepOutput) (string, error) {
	path, err := sr.workspacePath(output.Source)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("output file %s: %w", output.Source, err)
	}
	if info.Size() > maxInlineOutputSize {
		return "", fmt.Errorf(
			"output file %s is %d bytes, exceeding the %d byte limit for inline outputs; "+
				"use an artifact output for large values",
			output.Source, info.Size(), maxInlineOutputSize,
		)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading output file %s: %w", output.Source, err)
	}
	return strings.TrimRight(string(data), " \t\n\r"), nil
}

// collectArtifact expands the output's source glob in the workspace,
// packs the matches into a deterministic tar archive, and publishes
// it to the artifact store tagged runs/<run-id>/<name>.
func (sr *stepRunner) collectArtifact(ctx context.Context, output schema.StepOutput) (schema.ArtifactResult, error) {
	pattern, err := sr.workspacePath(output.Source)
	if err != nil {
		return schema.ArtifactResult{}, fmt.Errorf("artifact %q: %w", output.Artifact, err)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return schema.ArtifactResult{}, fmt.Errorf("artifact %q: invalid glob %q: %w", output.Artifact, output.Source, err)
	}
	if len(matches) == 0 {
		return schema.ArtifactResult{}, fmt.Errorf("artifact %q matched no files", output.Artifact)
	}

	relatives := make([]string, len(matches))
	for index, match := range matches {
		relative, err := filepath.Rel(sr.workspace, match)
		if err != nil {
			return schema.ArtifactResult{}, fmt.Errorf("artifact %q: %w", output.Artifact, err)
		}
		relatives[index] = relative
	}

	if sr.publisher == nil {
		return schema.ArtifactResult{}, fmt.Errorf(
			"artifact %q declared but no artifact store is configured; "+
				"set store.dir or service.socket in the masa config",
			output.Artifact,
		)
	}

	// Pack to a scratch file first: the store needs the archive
	// size, and a partially written archive must never reach it.
	archiveFile, err := os.CreateTemp(sr.scratch, output.Artifact+"-*.tar")
	if err != nil {
		return schema.ArtifactResult{}, fmt.Errorf("artifact %q: %w", output.Artifact, err)
	}
	defer os.Remove(archiveFile.Name())
	defer archiveFile.Close()

	fileCount, err := archive.Pack(archiveFile, sr.workspace, relatives)
	if err != nil {
		return schema.ArtifactResult{}, fmt.Errorf("artifact %q: packing: %w", output.Artifact, err)
	}

	size, err := archiveFile.Seek(0, io.SeekEnd)
	if err != nil {
		return schema.ArtifactResult{}, fmt.Errorf("artifact %q: %w", output.Artifact, err)
	}
	if _, err := archiveFile.Seek(0, io.SeekStart); err != nil {
		return schema.ArtifactResult{}, fmt.Errorf("artifact %q: %w", output.Artifact, err)
	}

	receipt, err := sr.publisher.Publish(ctx, PublishRequest{
		Name:        output.Artifact,
		RunID:       sr.runID,
		Workflow:    sr.workflow,
		Job:         sr.jobID,
		Tag:         runTag(sr.runID, output.Artifact),
		ContentType: artifactContentType,
		Filename:    output.Artifact + ".tar",
		FileCount:   fileCount,
		Size:        size,
	}, archiveFile)
	if err != nil {
		return schema.ArtifactResult{}, fmt.Errorf("artifact %q: %w", output.Artifact, err)
	}

	return schema.ArtifactResult{
		Name:  output.Artifact,
		Ref:   receipt.Ref,
		Files: fileCount,
		Size:  size,
	}, nil
}

// workspacePath resolves a workspace-relative source path, rejecting
// paths that escape the workspace.
func (sr *stepRunner) workspacePath(source string) (string, error) {
	if !filepath.IsLocal(source) {
		return "", fmt.Errorf("source %q escapes the workspace", source)
	}
	return filepath.Join(sr.workspace, source), nil
}

// runTag is the tag name pointing at a run's collected artifact.
func runTag(runID, artifactName string) string {
	return "runs/" + runID + "/" + artifactName
}
