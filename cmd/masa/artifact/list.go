// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/masa-foundation/masa/cmd/masa/cli"
	"github.com/masa-foundation/masa/lib/artifact"
	"github.com/masa-foundation/masa/lib/runview"
)

// listCommand returns the "list" subcommand.
func listCommand() *cli.Command {
	conn := &connection{}
	var (
		workflowName string
		runID        string
		limit        int
	)

	return &cli.Command{
		Name:    "list",
		Summary: "List stored artifacts, newest first",
		Usage:   "masa artifact list [flags]",
		Examples: []cli.Example{
			{
				Description: "Artifacts from one run",
				Command:     "masa artifact list --run run-20260315-103000-a1b2",
			},
			{
				Description: "Artifacts of one workflow",
				Command:     "masa artifact list --workflow masa-log-viewer --limit 10",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("list", pflag.ContinueOnError)
			conn.addFlags(flags)
			flags.StringVar(&workflowName, "workflow", "", "only artifacts published by this workflow")
			flags.StringVar(&runID, "run", "", "only artifacts published by this run")
			flags.IntVar(&limit, "limit", 0, "maximum artifacts to list (0: all)")
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("usage: masa artifact list [flags]")
			}
			cfg, err := cli.LoadConfig()
			if err != nil {
				return err
			}

			var artifacts []artifact.Metadata
			if socket := conn.resolve(cfg); socket != "" {
				client := artifact.NewClient(socket)
				response, err := client.List(ctx, artifact.ListRequest{
					Kind:     artifact.ListKindArtifacts,
					Workflow: workflowName,
					RunID:    runID,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				artifacts = response.Artifacts
			} else {
				_, metadata, _, err := cli.OpenStore(cfg)
				if err != nil {
					return err
				}
				artifacts, err = metadata.ScanAll()
				if err != nil {
					return err
				}
				artifacts = filterArtifacts(artifacts, workflowName, runID, limit)
			}

			if len(artifacts) == 0 {
				fmt.Println("no artifacts stored")
				return nil
			}
			return printArtifacts(os.Stdout, artifacts)
		},
	}
}

// filterArtifacts applies the list filters to a metadata scan:
// workflow and run matching, newest first, then the limit.
func filterArtifacts(artifacts []artifact.Metadata, workflowName, runID string, limit int) []artifact.Metadata {
	filtered := artifacts[:0]
	for _, meta := range artifacts {
		if workflowName != "" && meta.Workflow != workflowName {
			continue
		}
		if runID != "" && meta.RunID != runID {
			continue
		}
		filtered = append(filtered, meta)
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].StoredAt.After(filtered[j].StoredAt)
	})
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}

// printArtifacts renders the artifact listing table.
func printArtifacts(out *os.File, artifacts []artifact.Metadata) error {
	writer := tabwriter.NewWriter(out, 2, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "REF\tNAME\tSIZE\tWORKFLOW\tJOB\tSTORED")
	for _, meta := range artifacts {
		name := meta.Name
		if name == "" {
			name = "-"
		}
		workflowName := meta.Workflow
		if workflowName == "" {
			workflowName = "-"
		}
		job := meta.Job
		if job == "" {
			job = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			meta.Ref,
			name,
			runview.FormatSize(meta.Size),
			workflowName,
			job,
			meta.StoredAt.Local().Format("2006-01-02 15:04"),
		)
	}
	return writer.Flush()
}

// tagsCommand returns the "tags" subcommand.
func tagsCommand() *cli.Command {
	conn := &connection{}

	return &cli.Command{
		Name:    "tags",
		Summary: "List tags and the artifacts they point at",
		Description: `List the mutable tags in the store. Runs tag every published
artifact with runs/<run-id>/<name>; "masa artifact put --tag" sets
arbitrary names. The optional prefix argument narrows the listing.`,
		Usage: "masa artifact tags [prefix] [flags]",
		Examples: []cli.Example{
			{
				Description: "Tags from one run",
				Command:     "masa artifact tags runs/run-20260315-103000-a1b2/",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("tags", pflag.ContinueOnError)
			conn.addFlags(flags)
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 1 {
				return fmt.Errorf("usage: masa artifact tags [prefix] [flags]")
			}
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			cfg, err := cli.LoadConfig()
			if err != nil {
				return err
			}

			var records []artifact.TagRecord
			if socket := conn.resolve(cfg); socket != "" {
				client := artifact.NewClient(socket)
				response, err := client.List(ctx, artifact.ListRequest{
					Kind:      artifact.ListKindTags,
					TagPrefix: prefix,
				})
				if err != nil {
					return err
				}
				records = response.Tags
			} else {
				_, _, tags, err := cli.OpenStore(cfg)
				if err != nil {
					return err
				}
				records = tags.List(prefix)
			}

			if len(records) == 0 {
				fmt.Println("no tags")
				return nil
			}
			sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })

			writer := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(writer, "TAG\tREF\tUPDATED")
			for _, record := range records {
				fmt.Fprintf(writer, "%s\t%s\t%s\n",
					record.Name,
					artifact.FormatRef(record.Target),
					record.UpdatedAt.Local().Format("2006-01-02 15:04"),
				)
			}
			return writer.Flush()
		},
	}
}
