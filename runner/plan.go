// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/masa-foundation/masa/lib/clock"
	"github.com/masa-foundation/masa/lib/gitref"
	"github.com/masa-foundation/masa/lib/schema"
	"github.com/masa-foundation/masa/lib/workflow"
)

// ErrNotTriggered is returned by BuildPlan when the pushed ref does
// not match the workflow's trigger patterns. Not an execution
// failure: the caller reports "no jobs triggered" and exits zero.
var ErrNotTriggered = errors.New("ref does not match the workflow trigger")

// runIDTimeLayout is the timestamp prefix of run IDs. Second
// resolution keeps IDs readable and sortable; the random suffix
// carries collision resistance.
const runIDTimeLayout = "20060102-150405"

// NewRunID generates a run identifier: "run-" + UTC timestamp + four
// random hex characters (e.g. "run-20260115-120000-a1b2"). IDs sort
// chronologically and are collision-resistant within a second.
// Panics if the system entropy source fails — this indicates a
// system-level failure that no caller can recover from.
func NewRunID(now time.Time) string {
	var suffix [2]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		panic("runner: failed to generate run ID: " + err.Error())
	}
	return "run-" + now.UTC().Format(runIDTimeLayout) + "-" + hex.EncodeToString(suffix[:])
}

// Plan describes what a run will execute, computed before any job
// starts: the run ID, every job of the workflow in ID order (with
// plan-time skips already decided), and the resolved variables.
type Plan struct {
	// RunID is the generated run identifier.
	RunID string

	// Workflow is the workflow name.
	Workflow string

	// Ref is the ref the run executes against. Zero for --force
	// runs without a ref.
	Ref gitref.Ref

	// Jobs lists every job of the workflow in job ID order,
	// including jobs planned as skipped.
	Jobs []PlannedJob

	// Variables is the resolved variable map (defaults, sealed
	// bundle values, payload, environment).
	Variables map[string]string
}

// PlannedJob is one job in a plan. SkipReason is decided at plan
// time for label filtering; needs-based skips are decided during
// execution when the needed jobs conclude.
type PlannedJob struct {
	// ID is the job ID (the key in Workflow.Jobs).
	ID string

	// Job is the job definition.
	Job schema.Job

	// SkipReason is non-empty when the job is planned as skipped
	// (its runs_on label is not in the offered set).
	SkipReason string
}

// PlanOptions carries the inputs to BuildPlan.
type PlanOptions struct {
	// Definition is the parsed workflow. Required.
	Definition *schema.Workflow

	// Workflow is the workflow name (from the definition or derived
	// from the file path). Required.
	Workflow string

	// Ref is the pushed ref to evaluate the trigger against. May be
	// zero only when Force is set.
	Ref gitref.Ref

	// Force bypasses trigger evaluation: all jobs are selected
	// regardless of Ref.
	Force bool

	// Labels is the offered runner label set. Jobs whose runs_on
	// label is absent are planned as skipped. Nil means every label
	// appearing in the workflow is offered (no label skipping).
	Labels []string

	// Variables are explicit values from the run request (--var
	// flags). They override defaults and bundle values.
	Variables map[string]string

	// Secrets are the opened sealed-bundle values, consulted for
	// variables declared secret.
	Secrets map[string]string

	// Environ looks up process environment variables during
	// resolution. Nil disables environment lookup.
	Environ func(string) string

	// Clock provides the run ID timestamp. Nil means the real
	// clock.
	Clock clock.Clock
}

// BuildPlan validates the definition, evaluates the trigger, resolves
// variables, and applies label filtering. Returns ErrNotTriggered
// when the ref does not match the trigger and Force is not set.
func BuildPlan(options PlanOptions) (*Plan, error) {
	definition := options.Definition
	if definition == nil {
		return nil, errors.New("plan: workflow definition is required")
	}
	if issues := definition.Validate(); len(issues) > 0 {
		return nil, fmt.Errorf("workflow %q has validation errors:\n  %s",
			options.Workflow, strings.Join(issues, "\n  "))
	}

	var jobIDs []string
	if options.Force {
		jobIDs = make([]string, 0, len(definition.Jobs))
		for jobID := range definition.Jobs {
			jobIDs = append(jobIDs, jobID)
		}
		sort.Strings(jobIDs)
	} else {
		if options.Ref.IsZero() {
			return nil, errors.New("plan: a ref is required unless --force is set")
		}
		triggered, err := workflow.TriggeredJobs(definition, options.Ref)
		if err != nil {
			return nil, fmt.Errorf("evaluating trigger: %w", err)
		}
		if len(triggered) == 0 {
			return nil, fmt.Errorf("%s %q: %w", options.Ref.Kind(), options.Ref.Short(), ErrNotTriggered)
		}
		jobIDs = triggered
	}

	variables, err := workflow.ResolveVariables(definition.Variables, options.Secrets, options.Variables, options.Environ)
	if err != nil {
		return nil, err
	}

	offered := offeredLabels(definition, options.Labels)
	jobs := make([]PlannedJob, 0, len(jobIDs))
	for _, jobID := range jobIDs {
		job := definition.Jobs[jobID]
		planned := PlannedJob{ID: jobID, Job: job}
		if job.RunsOn != "" && !offered[job.RunsOn] {
			planned.SkipReason = fmt.Sprintf("label %q not offered", job.RunsOn)
		}
		jobs = append(jobs, planned)
	}

	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}

	return &Plan{
		RunID:     NewRunID(clk.Now()),
		Workflow:  options.Workflow,
		Ref:       options.Ref,
		Jobs:      jobs,
		Variables: variables,
	}, nil
}

// offeredLabels returns the label set jobs are matched against. An
// explicit list offers exactly those labels; nil offers every label
// the workflow mentions, so a bare "masa run" executes everything.
func offeredLabels(definition *schema.Workflow, labels []string) map[string]bool {
	offered := make(map[string]bool)
	if labels == nil {
		for _, job := range definition.Jobs {
			if job.RunsOn != "" {
				offered[job.RunsOn] = true
			}
		}
		return offered
	}
	for _, label := range labels {
		if label != "" {
			offered[label] = true
		}
	}
	return offered
}
