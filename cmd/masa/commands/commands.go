// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete masa CLI command tree.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	artifactcmd "github.com/masa-foundation/masa/cmd/masa/artifact"
	"github.com/masa-foundation/masa/cmd/masa/cli"
	runcmd "github.com/masa-foundation/masa/cmd/masa/run"
	secretcmd "github.com/masa-foundation/masa/cmd/masa/secret"
	workflowcmd "github.com/masa-foundation/masa/cmd/masa/workflow"
	"github.com/masa-foundation/masa/lib/version"
)

// Root builds and returns the complete masa CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "masa",
		Description: `Masa: a local CI workflow engine.

Run tag- and branch-triggered build workflows against a repository,
collect their artifacts into a content-addressed store, and inspect
past runs.`,
		Flags: cli.GlobalFlags,
		Subcommands: []*cli.Command{
			runcmd.Command(),
			workflowcmd.Command(),
			artifactcmd.Command(),
			secretcmd.Command(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					fmt.Printf("masa %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Run the release workflow for a tag",
				Command:     "masa run workflows/release.jsonc --ref refs/tags/v1.2.0",
			},
			{
				Description: "See what a tag push would trigger",
				Command:     "masa workflow jobs workflows/release.jsonc --ref refs/tags/v1.2.0",
			},
			{
				Description: "List recent runs",
				Command:     "masa run list",
			},
			{
				Description: "Download an artifact from the last release run",
				Command:     "masa artifact get runs/run-20260315-103000-a1b2/masa-log-windows --output masa-log.tar",
			},
		},
	}
}
