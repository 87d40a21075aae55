// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflow provides parsing, trigger evaluation, and variable
// expansion for Masa workflow definitions.
//
// Definitions are authored as JSONC files (JSON extended with comments
// and trailing commas) or as YAML; both decode into the same
// schema.Workflow type. The typical flow:
//
//  1. ReadFile: definition bytes → schema.Workflow (format by extension)
//  2. Workflow.Validate: structural checks (trigger present, steps
//     well-formed, needs acyclic)
//  3. Triggers: does a pushed ref select this workflow?
//  4. ResolveVariables: defaults + sealed secrets + payload +
//     environment → variable map
//  5. ExpandStep: substitute ${NAME} references in each step before
//     execution
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/masa-foundation/masa/lib/schema"
)

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a Workflow. The input format is plain
// JSON extended with // line comments, /* block comments */, and
// trailing commas.
func Parse(data []byte) (*schema.Workflow, error) {
	stripped := jsonc.ToJSON(data)

	var definition schema.Workflow
	if err := json.Unmarshal(stripped, &definition); err != nil {
		return nil, fmt.Errorf("parsing workflow: %w", err)
	}

	return &definition, nil
}

// ParseYAML unmarshals a YAML workflow definition.
func ParseYAML(data []byte) (*schema.Workflow, error) {
	var definition schema.Workflow
	if err := yaml.Unmarshal(data, &definition); err != nil {
		return nil, fmt.Errorf("parsing workflow: %w", err)
	}

	return &definition, nil
}

// ReadFile reads a workflow definition from disk and parses it,
// selecting the format by extension: .yaml and .yml parse as YAML,
// everything else as JSONC. Returns a descriptive error if the file
// cannot be read or the definition is malformed.
func ReadFile(path string) (*schema.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var definition *schema.Workflow
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		definition, err = ParseYAML(data)
	default:
		definition, err = Parse(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return definition, nil
}

// NameFromPath extracts a workflow name from a file path by stripping
// the directory prefix and the file extension. For example,
// "workflows/release.jsonc" returns "release".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	extension := filepath.Ext(base)
	return strings.TrimSuffix(base, extension)
}
