// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/spf13/pflag"

	"github.com/masa-foundation/masa/cmd/masa/cli"
	"github.com/masa-foundation/masa/lib/artifact"
	"github.com/masa-foundation/masa/lib/runview"
)

// gcCommand returns the "gc" subcommand.
func gcCommand() *cli.Command {
	var pruneRuns time.Duration

	return &cli.Command{
		Name:    "gc",
		Summary: "Remove artifacts nothing references anymore",
		Usage:   "masa artifact gc [flags]",
		Description: `Run mark-and-sweep garbage collection on the store directory. An
artifact survives when a tag points at it or a run in the history
database recorded it; everything else is removed, along with
containers no surviving artifact references.

With --prune-runs, history rows older than the given age are deleted
first, so their artifacts become collectable in the same pass.

gc needs exclusive store access and always works on the store
directory directly. It refuses to run while the artifact service is
up.`,
		Examples: []cli.Example{
			{
				Description: "Collect unreferenced artifacts",
				Command:     "masa artifact gc",
			},
			{
				Description: "Drop runs older than 30 days, then collect",
				Command:     "masa artifact gc --prune-runs 720h",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("gc", pflag.ContinueOnError)
			flags.DurationVar(&pruneRuns, "prune-runs", 0, "delete history rows older than this age before collecting")
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("usage: masa artifact gc [flags]")
			}
			cfg, err := cli.LoadConfig()
			if err != nil {
				return err
			}

			// A stale socket file does not block gc; a service
			// accepting connections does.
			if socket := cfg.Service.Socket; socket != "" {
				if conn, err := net.Dial("unix", socket); err == nil {
					conn.Close()
					return fmt.Errorf("artifact service is running on %s: stop it before gc", socket)
				}
			}

			store, metadata, tags, err := cli.OpenStore(cfg)
			if err != nil {
				return err
			}
			history, err := cli.OpenHistory(cfg, logger)
			if err != nil {
				return err
			}
			defer history.Close()

			if pruneRuns > 0 {
				pruned, err := history.Prune(ctx, pruneRuns)
				if err != nil {
					return err
				}
				fmt.Printf("pruned %d runs older than %s\n", pruned, pruneRuns)
			}

			refs, err := history.ArtifactRefs(ctx)
			if err != nil {
				return err
			}
			refMap, err := metadata.ScanRefs()
			if err != nil {
				return err
			}

			keep := make(map[artifact.Hash]struct{})
			for target := range tags.Targets() {
				keep[target] = struct{}{}
			}
			for _, ref := range refs {
				for _, fileHash := range refMap[ref] {
					keep[fileHash] = struct{}{}
				}
			}

			stats, err := store.GC(keep)
			if err != nil {
				return err
			}
			if _, err := metadata.Sweep(keep); err != nil {
				return err
			}

			fmt.Printf("removed %d artifacts, %d containers, freed %s (%d artifacts kept)\n",
				stats.ArtifactsRemoved,
				stats.ContainersRemoved,
				runview.FormatSize(stats.BytesFreed),
				stats.ArtifactsKept,
			)
			return nil
		},
	}
}
