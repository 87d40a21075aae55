// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/masa-foundation/masa/lib/codec"
	"github.com/masa-foundation/masa/lib/schema"
)

// resultFileName is the terminal run record inside a run directory.
const resultFileName = "result.cbor"

// writeResult persists the run's terminal record next to its event
// log.
func writeResult(runDir string, result *schema.RunResult) error {
	data, err := codec.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding run result: %w", err)
	}
	path := filepath.Join(runDir, resultFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing run result: %w", err)
	}
	return nil
}

// ReadResult loads the terminal record of a completed run from the
// runs directory. A run that is still executing, or that crashed
// before writing its result, has no record; the os.IsNotExist error
// is passed through so callers can distinguish that case.
func ReadResult(runsDir, runID string) (*schema.RunResult, error) {
	path := filepath.Join(runsDir, runID, resultFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading result for run %s: %w", runID, err)
	}
	var result schema.RunResult
	if err := codec.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding result for run %s: %w", runID, err)
	}
	return &result, nil
}
