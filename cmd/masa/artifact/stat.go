// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/masa-foundation/masa/cmd/masa/cli"
	"github.com/masa-foundation/masa/lib/artifact"
	"github.com/masa-foundation/masa/lib/runview"
)

// statCommand returns the "stat" subcommand.
func statCommand() *cli.Command {
	conn := &connection{}

	return &cli.Command{
		Name:    "stat",
		Summary: "Show metadata for one artifact",
		Usage:   "masa artifact stat <ref> [flags]",
		Examples: []cli.Example{
			{
				Description: "By short ref",
				Command:     "masa artifact stat art-4f2a91c07d3e",
			},
			{
				Description: "By run tag",
				Command:     "masa artifact stat runs/run-20260315-103000-a1b2/masa-log-windows",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("stat", pflag.ContinueOnError)
			conn.addFlags(flags)
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: masa artifact stat <ref> [flags]")
			}
			cfg, err := cli.LoadConfig()
			if err != nil {
				return err
			}

			var meta *artifact.Metadata
			if socket := conn.resolve(cfg); socket != "" {
				client := artifact.NewClient(socket)
				meta, err = client.Stat(ctx, args[0])
				if err != nil {
					return err
				}
			} else {
				_, metadata, tags, err := cli.OpenStore(cfg)
				if err != nil {
					return err
				}
				fileHash, err := resolveDirect(metadata, tags, args[0])
				if err != nil {
					return err
				}
				meta, err = metadata.Read(fileHash)
				if err != nil {
					return err
				}
			}
			return printMetadata(os.Stdout, meta)
		},
	}
}

// printMetadata renders one artifact's metadata as key/value rows.
// Rows for fields the artifact does not carry are omitted.
func printMetadata(out *os.File, meta *artifact.Metadata) error {
	writer := tabwriter.NewWriter(out, 2, 0, 2, ' ', 0)
	fmt.Fprintf(writer, "Ref:\t%s\n", meta.Ref)
	if meta.Name != "" {
		fmt.Fprintf(writer, "Name:\t%s\n", meta.Name)
	}
	fmt.Fprintf(writer, "Hash:\t%s\n", artifact.FormatHash(meta.FileHash))
	fmt.Fprintf(writer, "Size:\t%s (%d bytes)\n", runview.FormatSize(meta.Size), meta.Size)
	fmt.Fprintf(writer, "Content-Type:\t%s\n", meta.ContentType)
	if meta.Filename != "" {
		fmt.Fprintf(writer, "Filename:\t%s\n", meta.Filename)
	}
	if meta.Workflow != "" {
		fmt.Fprintf(writer, "Workflow:\t%s\n", meta.Workflow)
	}
	if meta.Job != "" {
		fmt.Fprintf(writer, "Job:\t%s\n", meta.Job)
	}
	if meta.RunID != "" {
		fmt.Fprintf(writer, "Run:\t%s\n", meta.RunID)
	}
	if len(meta.Labels) > 0 {
		fmt.Fprintf(writer, "Labels:\t%s\n", strings.Join(meta.Labels, ", "))
	}
	if meta.FileCount > 0 {
		fmt.Fprintf(writer, "Files:\t%d\n", meta.FileCount)
	}
	fmt.Fprintf(writer, "Chunks:\t%d\n", meta.ChunkCount)
	fmt.Fprintf(writer, "Containers:\t%d\n", meta.ContainerCount)
	fmt.Fprintf(writer, "Compression:\t%s\n", meta.Compression)
	fmt.Fprintf(writer, "Stored:\t%s\n", meta.StoredAt.Local().Format("2006-01-02 15:04:05"))
	return writer.Flush()
}
