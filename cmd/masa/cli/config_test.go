// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"os"
	"path/filepath"
	"testing"
)

// LoadConfig prefers the root --config flag over $MASA_CONFIG. The
// flag value is process-global state, so no t.Parallel here.
func TestLoadConfigFlagOverridesEnv(t *testing.T) {
	envConfig := filepath.Join(t.TempDir(), "env.yaml")
	if err := os.WriteFile(envConfig, []byte("state_dir: /srv/masa-env\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	flagConfig := filepath.Join(t.TempDir(), "flag.yaml")
	if err := os.WriteFile(flagConfig, []byte("state_dir: /srv/masa-flag\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MASA_CONFIG", envConfig)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.StateDir != "/srv/masa-env" {
		t.Errorf("StateDir = %q, want the $MASA_CONFIG file's value", cfg.StateDir)
	}

	flagSet := GlobalFlags()
	if err := flagSet.Parse([]string{"--config", flagConfig}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	t.Cleanup(func() { configPath = "" })

	cfg, err = LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.StateDir != "/srv/masa-flag" {
		t.Errorf("StateDir = %q, want the --config file's value", cfg.StateDir)
	}
}
