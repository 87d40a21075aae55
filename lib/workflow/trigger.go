// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"fmt"
	"sort"

	"github.com/masa-foundation/masa/lib/gitref"
	"github.com/masa-foundation/masa/lib/schema"
)

// Triggers reports whether a pushed ref starts the workflow. Tag refs
// are matched against the trigger's tag patterns and branch refs
// against its branch patterns; a trigger that declares only tag
// patterns never matches a branch push, and vice versa.
//
// Pattern list semantics (ordering, negation, last match wins) are
// those of gitref.MatchAny. Returns an error when a pattern does not
// compile.
func Triggers(trigger *schema.Trigger, ref gitref.Ref) (bool, error) {
	if trigger == nil || trigger.Push == nil {
		return false, nil
	}

	var patterns []string
	switch ref.Kind() {
	case gitref.KindTag:
		patterns = trigger.Push.Tags
	case gitref.KindBranch:
		patterns = trigger.Push.Branches
	}
	if len(patterns) == 0 {
		return false, nil
	}

	compiled, err := gitref.CompileList(patterns)
	if err != nil {
		return false, fmt.Errorf("push trigger: %w", err)
	}
	return gitref.MatchAny(compiled, ref.Short()), nil
}

// TriggeredJobs returns the IDs of the jobs a pushed ref selects,
// sorted. A non-matching ref selects nothing. Runner label filtering
// happens later, at execution time — a job skipped by labels still
// appears here.
func TriggeredJobs(definition *schema.Workflow, ref gitref.Ref) ([]string, error) {
	matched, err := Triggers(definition.On, ref)
	if err != nil || !matched {
		return nil, err
	}

	jobIDs := make([]string, 0, len(definition.Jobs))
	for jobID := range definition.Jobs {
		jobIDs = append(jobIDs, jobID)
	}
	sort.Strings(jobIDs)
	return jobIDs, nil
}
