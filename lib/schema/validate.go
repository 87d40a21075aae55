// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// variableNamePattern constrains declared variable names to the shape
// ${NAME} expansion recognizes: a letter or underscore followed by
// letters, digits, and underscores.
var variableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks a Workflow for structural issues. Returns a list of
// human-readable issue descriptions. An empty list means the workflow
// is valid.
//
// Structural checks include:
//   - A push trigger with at least one tag or branch pattern
//   - At least one job; every job has at least one step
//   - Step names non-empty and unique within a job
//   - Each step sets run or declares outputs (or both)
//   - When is empty or "always"
//   - Outputs set exactly one of name or artifact; artifact names
//     contain no "/" and are unique within the job
//   - Needs edges reference existing jobs and form no cycle
//   - Timeout and grace_period values parse as durations
//   - Variable names are well-formed; secret variables declare no default
//
// Trigger patterns are validated for syntax by lib/workflow, which
// owns pattern compilation.
func (w *Workflow) Validate() []string {
	var issues []string

	if w.On == nil || w.On.Push == nil {
		issues = append(issues, "on.push is required (workflows trigger on ref pushes)")
	} else if len(w.On.Push.Tags) == 0 && len(w.On.Push.Branches) == 0 {
		issues = append(issues, "on.push must declare at least one tag or branch pattern")
	}

	for _, name := range sortedKeys(w.Variables) {
		declaration := w.Variables[name]
		if !variableNamePattern.MatchString(name) {
			issues = append(issues, fmt.Sprintf("variables[%s]: name must match [A-Za-z_][A-Za-z0-9_]*", name))
		}
		if declaration.Secret && declaration.Default != "" {
			issues = append(issues, fmt.Sprintf("variables[%s]: secret variables must not declare a default", name))
		}
	}

	if len(w.Jobs) == 0 {
		issues = append(issues, "workflow has no jobs (at least one job is required)")
	}

	for _, jobID := range sortedKeys(w.Jobs) {
		issues = append(issues, validateJob(jobID, w.Jobs[jobID], w.Jobs)...)
	}

	issues = append(issues, validateNeedsGraph(w.Jobs)...)

	return issues
}

// validateJob checks a single job and its steps.
func validateJob(jobID string, job Job, all map[string]Job) []string {
	var issues []string
	prefix := fmt.Sprintf("jobs[%s]", jobID)

	if jobID == "" {
		issues = append(issues, "jobs: empty job ID")
	}

	if len(job.Steps) == 0 {
		issues = append(issues, fmt.Sprintf("%s: job has no steps (at least one step is required)", prefix))
	}

	if job.Timeout != "" {
		if _, err := time.ParseDuration(job.Timeout); err != nil {
			issues = append(issues, fmt.Sprintf("%s: invalid timeout %q: %v", prefix, job.Timeout, err))
		}
	}

	for _, need := range job.Needs {
		if need == jobID {
			issues = append(issues, fmt.Sprintf("%s: needs itself", prefix))
			continue
		}
		if _, exists := all[need]; !exists {
			issues = append(issues, fmt.Sprintf("%s: needs unknown job %q", prefix, need))
		}
	}

	stepNames := make(map[string]bool, len(job.Steps))
	artifactNames := make(map[string]bool)
	for index, step := range job.Steps {
		issues = append(issues, validateStep(fmt.Sprintf("%s.steps[%d]", prefix, index), step, stepNames, artifactNames)...)
	}

	// On_failure steps follow the same step rules, except outputs:
	// failed jobs publish nothing, so declaring outputs there is a
	// definition mistake.
	onFailureNames := make(map[string]bool, len(job.OnFailure))
	for index, step := range job.OnFailure {
		stepPrefix := fmt.Sprintf("%s.on_failure[%d]", prefix, index)
		issues = append(issues, validateStep(stepPrefix, step, onFailureNames, map[string]bool{})...)
		if len(step.Outputs) > 0 {
			issues = append(issues, fmt.Sprintf("%s: outputs are not collected from on_failure steps", stepPrefix))
		}
	}

	return issues
}

// validateStep checks one step, recording its name and artifact names
// in the provided maps to detect duplicates within the job.
func validateStep(prefix string, step Step, stepNames, artifactNames map[string]bool) []string {
	var issues []string

	if step.Name == "" {
		issues = append(issues, fmt.Sprintf("%s: name is required", prefix))
	} else {
		prefix = fmt.Sprintf("%s %q", prefix, step.Name)
		if stepNames[step.Name] {
			issues = append(issues, fmt.Sprintf("%s: duplicate step name", prefix))
		}
		stepNames[step.Name] = true
	}

	if step.Run == "" && len(step.Outputs) == 0 {
		issues = append(issues, fmt.Sprintf("%s: must set run or declare outputs", prefix))
	}

	if step.When != "" && step.When != WhenAlways {
		issues = append(issues, fmt.Sprintf("%s: when must be empty or %q, got %q", prefix, WhenAlways, step.When))
	}

	if step.Timeout != "" {
		if _, err := time.ParseDuration(step.Timeout); err != nil {
			issues = append(issues, fmt.Sprintf("%s: invalid timeout %q: %v", prefix, step.Timeout, err))
		}
	}
	if step.GracePeriod != "" {
		if _, err := time.ParseDuration(step.GracePeriod); err != nil {
			issues = append(issues, fmt.Sprintf("%s: invalid grace_period %q: %v", prefix, step.GracePeriod, err))
		}
	}

	for outputIndex, output := range step.Outputs {
		outputPrefix := fmt.Sprintf("%s.outputs[%d]", prefix, outputIndex)

		if output.Source == "" {
			issues = append(issues, fmt.Sprintf("%s: source is required", outputPrefix))
		}

		hasName := output.Name != ""
		hasArtifact := output.Artifact != ""
		switch {
		case hasName && hasArtifact:
			issues = append(issues, fmt.Sprintf("%s: name and artifact are mutually exclusive (set exactly one)", outputPrefix))
		case !hasName && !hasArtifact:
			issues = append(issues, fmt.Sprintf("%s: must set either name or artifact", outputPrefix))
		}

		if hasArtifact {
			if strings.Contains(output.Artifact, "/") {
				issues = append(issues, fmt.Sprintf("%s: artifact name %q must not contain %q", outputPrefix, output.Artifact, "/"))
			}
			if artifactNames[output.Artifact] {
				issues = append(issues, fmt.Sprintf("%s: duplicate artifact name %q in job", outputPrefix, output.Artifact))
			}
			artifactNames[output.Artifact] = true
		}
	}

	return issues
}

// validateNeedsGraph reports a cycle in the needs graph, if any.
// Unknown needs targets are reported by validateJob; here they are
// ignored so a single definition mistake produces one issue, not two.
func validateNeedsGraph(jobs map[string]Job) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(jobs))

	var path []string
	var cycle []string
	var visit func(jobID string) bool
	visit = func(jobID string) bool {
		switch state[jobID] {
		case visiting:
			// Close the loop: the cycle is the path suffix starting
			// at this job.
			for index, onPath := range path {
				if onPath == jobID {
					cycle = append([]string{}, path[index:]...)
					break
				}
			}
			return true
		case done:
			return false
		}
		state[jobID] = visiting
		path = append(path, jobID)
		for _, need := range jobs[jobID].Needs {
			if _, exists := jobs[need]; !exists {
				continue
			}
			if visit(need) {
				return true
			}
		}
		path = path[:len(path)-1]
		state[jobID] = done
		return false
	}

	for _, jobID := range sortedKeys(jobs) {
		if visit(jobID) {
			sort.Strings(cycle)
			return []string{fmt.Sprintf("jobs: needs cycle involving %s", strings.Join(cycle, ", "))}
		}
	}
	return nil
}

// sortedKeys returns the map keys in sorted order so validation output
// is deterministic.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
