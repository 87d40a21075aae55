// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for masa
// commands.
//
// Configuration is loaded from a single masa.yaml file specified by
// either the MASA_CONFIG environment variable (via [Load]) or a
// --config flag (via [LoadFile]). There is no ~/.config discovery
// and no automatic file search; when neither is set, [Load] returns
// the defaults. Every field is optional — masa runs with an empty
// configuration.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${MASA_STATE}, and ${VAR:-default} patterns are expanded.
// No other environment variables override config values; the file is
// the single source of truth for deterministic, auditable
// configuration.
//
// Key exports:
//
//   - [Config] -- master struct with StateDir, Store, Runner,
//     Secrets, Service
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other masa packages.
package config
