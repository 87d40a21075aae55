// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/masa-foundation/masa/lib/schema"
)

// variablePattern matches ${NAME} references in strings. Only the
// braced form is recognized — bare $NAME is left for shell
// interpretation. Variable names must start with a letter or
// underscore and contain only letters, digits, and underscores.
var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ResolveVariables merges variable sources according to workflow
// resolution order (lowest to highest priority):
//
//  1. Declared defaults from workflow variable declarations
//  2. Sealed bundle values, for variables declared secret
//  3. Payload values from the run request (--var flags)
//  4. Environment lookup via the environ function
//
// Returns the merged variable map. Returns an error if any required
// variable (per its declaration) has no value from any source.
//
// The environ function is typically os.Getenv for production use, or
// a stub for testing. It is only consulted for variables that are
// declared in the workflow — undeclared environment variables are not
// included in the result. Likewise only declared secret names are
// read from the bundle: sealing extra values does not inject them.
func ResolveVariables(declarations map[string]schema.Variable, secrets map[string]string, payload map[string]string, environ func(string) string) (map[string]string, error) {
	resolved := make(map[string]string, len(declarations)+len(payload))

	// Start with declared defaults (lowest priority).
	for name, declaration := range declarations {
		if declaration.Default != "" {
			resolved[name] = declaration.Default
		}
	}

	// Overlay bundle values for declared secret variables.
	for name, declaration := range declarations {
		if !declaration.Secret {
			continue
		}
		if value, exists := secrets[name]; exists {
			resolved[name] = value
		}
	}

	// Overlay payload values.
	for name, value := range payload {
		resolved[name] = value
	}

	// Overlay environment values for declared variables (highest
	// priority). Only declared variables are looked up — we don't
	// pull in the entire process environment.
	if environ != nil {
		for name := range declarations {
			if value := environ(name); value != "" {
				resolved[name] = value
			}
		}
	}

	// Check that all required variables have a value.
	var missing []string
	for name, declaration := range declarations {
		if declaration.Required {
			if _, exists := resolved[name]; !exists {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("required workflow variables not set: %s", strings.Join(missing, ", "))
	}

	return resolved, nil
}

// Expand replaces ${NAME} references in input with values from the
// variables map. Only the braced form is recognized; bare $NAME is
// left for shell interpretation. References to names absent from the
// map are also left verbatim — ${HOME} and friends belong to the
// shell, and required-variable enforcement happens in
// ResolveVariables, not here.
func Expand(input string, variables map[string]string) string {
	if input == "" || len(variables) == 0 {
		return input
	}
	return variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract the variable name from ${NAME}.
		name := match[2 : len(match)-1]
		if value, exists := variables[name]; exists {
			return value
		}
		return match
	})
}

// ExpandEnv returns a copy of env with ${NAME} references in the
// values expanded. Keys are not expanded. A nil map expands to nil.
func ExpandEnv(env map[string]string, variables map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	expanded := make(map[string]string, len(env))
	for name, value := range env {
		expanded[name] = Expand(value, variables)
	}
	return expanded
}

// ExpandStep returns a copy of step with all string fields expanded
// using Expand. Step-level env values are expanded first (against the
// workflow variables only), then merged into the variable map for
// expanding other fields. This means a run command can reference step
// env variables with ${NAME}, and those values will already have
// their own ${REFERENCES} resolved.
//
// The original step and variables map are not modified.
func ExpandStep(step schema.Step, variables map[string]string) schema.Step {
	// First pass: expand step-level env values against workflow
	// variables only (no cross-referencing between env entries).
	expandedEnv := ExpandEnv(step.Env, variables)

	// Build the merged variable map: workflow variables as base,
	// expanded step env on top. Step env takes precedence.
	merged := make(map[string]string, len(variables)+len(expandedEnv))
	for name, value := range variables {
		merged[name] = value
	}
	for name, value := range expandedEnv {
		merged[name] = value
	}

	step.Run = Expand(step.Run, merged)
	step.Check = Expand(step.Check, merged)

	if len(step.Outputs) > 0 {
		expandedOutputs := make([]schema.StepOutput, len(step.Outputs))
		for index, output := range step.Outputs {
			output.Source = Expand(output.Source, merged)
			expandedOutputs[index] = output
		}
		step.Outputs = expandedOutputs
	}

	step.Env = expandedEnv
	return step
}

// Masker replaces secret variable values with *** in logged command
// lines, captured outputs, and result records. The zero Masker masks
// nothing.
type Masker struct {
	values []string
}

// NewMasker collects the resolved values of variables declared secret.
// Empty values are ignored (nothing to mask, and replacing the empty
// string would corrupt the input).
func NewMasker(declarations map[string]schema.Variable, resolved map[string]string) *Masker {
	masker := &Masker{}
	for name, declaration := range declarations {
		if !declaration.Secret {
			continue
		}
		if value := resolved[name]; value != "" {
			masker.values = append(masker.values, value)
		}
	}
	// Longest first, so a secret that contains another secret as a
	// substring is masked whole.
	sort.Slice(masker.values, func(i, j int) bool {
		return len(masker.values[i]) > len(masker.values[j])
	})
	return masker
}

// Mask returns input with every secret value replaced by "***".
func (m *Masker) Mask(input string) string {
	if m == nil || len(m.values) == 0 {
		return input
	}
	for _, value := range m.values {
		input = strings.ReplaceAll(input, value, "***")
	}
	return input
}
