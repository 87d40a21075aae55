// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// RunLog appends structured JSONL to runs/<run-id>/log.jsonl during
// execution. Each line is an independent JSON object, making the log:
//
//   - Crash-safe: a SIGKILL mid-run preserves every completed step
//     record. A single JSON document would be truncated and
//     unparseable.
//   - Tailable: "masa run show --follow" style readers see step
//     progress as it happens instead of waiting for completion.
//
// Concurrent jobs write interleaved lines; a mutex keeps each line
// intact. All methods are nil-safe no-ops, so callers log
// unconditionally without checking whether the log is open.
type RunLog struct {
	logger  *slog.Logger
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewRunLog creates the JSONL log at path, truncating any existing
// content.
func NewRunLog(path string, logger *slog.Logger) (*RunLog, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating run log %s: %w", path, err)
	}
	return &RunLog{
		logger:  logger,
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Close flushes and closes the log file.
func (l *RunLog) Close() error {
	if l == nil {
		return nil
	}
	return l.file.Close()
}

// runStarted records the first line of the log.
func (l *RunLog) runStarted(runID, workflowName, ref string, jobCount int, now time.Time) {
	if l == nil {
		return
	}
	l.write(logRunStarted{
		Type:      "run_started",
		RunID:     runID,
		Workflow:  workflowName,
		Ref:       ref,
		JobCount:  jobCount,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
}

// runFinished records the terminal line of the log.
func (l *RunLog) runFinished(conclusion string, durationMS int64) {
	if l == nil {
		return
	}
	l.write(logRunFinished{
		Type:       "run_finished",
		Conclusion: conclusion,
		DurationMS: durationMS,
	})
}

// jobStarted records that a job began executing.
func (l *RunLog) jobStarted(job string, stepCount int) {
	if l == nil {
		return
	}
	l.write(logJobStarted{
		Type:      "job_started",
		Job:       job,
		StepCount: stepCount,
	})
}

// jobSkipped records a job that never ran.
func (l *RunLog) jobSkipped(job, reason string) {
	if l == nil {
		return
	}
	l.write(logJobFinished{
		Type:       "job_finished",
		Job:        job,
		Conclusion: "skipped",
		SkipReason: reason,
	})
}

// jobFinished records a job's terminal conclusion.
func (l *RunLog) jobFinished(job, conclusion string, durationMS int64, jobError string) {
	if l == nil {
		return
	}
	l.write(logJobFinished{
		Type:       "job_finished",
		Job:        job,
		Conclusion: conclusion,
		DurationMS: durationMS,
		Error:      jobError,
	})
}

// stepStarted records a step beginning, including its (masked)
// command line.
func (l *RunLog) stepStarted(job, step, command string) {
	if l == nil {
		return
	}
	l.write(logStepStarted{
		Type:    "step_started",
		Job:     job,
		Step:    step,
		Command: command,
	})
}

// stepFinished records a step outcome.
func (l *RunLog) stepFinished(job, step, status string, durationMS int64, stepError string, outputs map[string]string) {
	if l == nil {
		return
	}
	l.write(logStepFinished{
		Type:       "step_finished",
		Job:        job,
		Step:       step,
		Status:     status,
		DurationMS: durationMS,
		Error:      stepError,
		Outputs:    outputs,
	})
}

// artifactStored records a collected artifact and its store ref.
func (l *RunLog) artifactStored(job, name, ref string, files int, size int64) {
	if l == nil {
		return
	}
	l.write(logArtifact{
		Type:  "artifact",
		Job:   job,
		Name:  name,
		Ref:   ref,
		Files: files,
		Size:  size,
	})
}

func (l *RunLog) write(entry any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.encoder.Encode(entry); err != nil {
		l.logger.Warn("failed to write run log entry", "error", err)
		return
	}
	// Sync after each line so partial results survive a crash and
	// are visible to tailing readers immediately.
	if err := l.file.Sync(); err != nil {
		l.logger.Warn("failed to sync run log", "error", err)
	}
}

// JSONL entry types. Each struct documents exactly which fields
// appear in that line type; separate structs (rather than one with
// omitempty everywhere) make the format explicit.

type logRunStarted struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	Workflow  string `json:"workflow"`
	Ref       string `json:"ref,omitempty"`
	JobCount  int    `json:"job_count"`
	Timestamp string `json:"timestamp"`
}

type logRunFinished struct {
	Type       string `json:"type"`
	Conclusion string `json:"conclusion"`
	DurationMS int64  `json:"duration_ms"`
}

type logJobStarted struct {
	Type      string `json:"type"`
	Job       string `json:"job"`
	StepCount int    `json:"step_count"`
}

type logJobFinished struct {
	Type       string `json:"type"`
	Job        string `json:"job"`
	Conclusion string `json:"conclusion"`
	SkipReason string `json:"skip_reason,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

type logStepStarted struct {
	Type    string `json:"type"`
	Job     string `json:"job"`
	Step    string `json:"step"`
	Command string `json:"command,omitempty"`
}

type logStepFinished struct {
	Type       string            `json:"type"`
	Job        string            `json:"job"`
	Step       string            `json:"step"`
	Status     string            `json:"status"`
	DurationMS int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
	Outputs    map[string]string `json:"outputs,omitempty"`
}

type logArtifact struct {
	Type  string `json:"type"`
	Job   string `json:"job"`
	Name  string `json:"name"`
	Ref   string `json:"ref"`
	Files int    `json:"files"`
	Size  int64  `json:"size"`
}
