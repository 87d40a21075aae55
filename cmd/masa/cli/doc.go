// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the masa CLI.
//
// The central type is [Command], which represents a named subcommand
// with optional nested [Command.Subcommands], a [pflag.FlagSet]
// factory, and a Run function. Commands are assembled into a tree in
// cmd/masa/main.go and dispatched via [Command.Execute], which handles
// flag parsing, subcommand routing, and structured help output with
// examples.
//
// When a user types an unknown subcommand or flag, the framework
// computes Levenshtein edit distance against all known names and
// suggests the closest match (threshold: distance <= 3). This is
// implemented in suggest.go.
//
// Run functions receive a context cancelled on SIGINT/SIGTERM (so a
// Ctrl-C during `masa run` aborts the run cleanly) and a logger
// created by [NewCommandLogger], which picks a text or JSON handler
// by whether stderr is a terminal.
package cli
