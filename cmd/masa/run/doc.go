// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Package run implements the "masa run" CLI commands: executing a
// workflow against a ref, listing past runs from the history
// database, and showing the recorded detail of a single run.
package run
