// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/masa-foundation/masa/cmd/masa/cli"
	"github.com/masa-foundation/masa/lib/history"
	"github.com/masa-foundation/masa/lib/runview"
)

// listCommand returns the "list" subcommand for listing recorded runs.
func listCommand() *cli.Command {
	var (
		limit        int
		workflowName string
	)

	return &cli.Command{
		Name:    "list",
		Summary: "List recorded runs, newest first",
		Description: `List runs from the history database, newest first. Conclusions are
colored when stdout is a terminal.`,
		Usage: "masa run list [flags]",
		Examples: []cli.Example{
			{
				Description: "List the last 20 runs",
				Command:     "masa run list",
			},
			{
				Description: "List runs of one workflow",
				Command:     "masa run list --workflow masa-log-viewer --limit 5",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flags.IntVar(&limit, "limit", 20, "maximum runs to list")
			flags.StringVar(&workflowName, "workflow", "", "only runs of this workflow")
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("usage: masa run list [flags]")
			}

			cfg, err := cli.LoadConfig()
			if err != nil {
				return err
			}

			store, err := cli.OpenHistory(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(ctx, history.ListFilter{Workflow: workflowName, Limit: limit})
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}

			styler := runview.NewStyler(os.Stdout)
			writer := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(writer, "RUN\tWORKFLOW\tREF\tSTARTED\tDURATION\tCONCLUSION")
			for _, run := range runs {
				duration := "-"
				if !run.Finished.IsZero() {
					duration = runview.FormatDuration(run.Finished.Sub(run.Created).Milliseconds())
				}
				// The colored cell sits in the last column so its
				// escape sequences cannot skew tabwriter's padding.
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
					run.ID,
					run.Workflow,
					run.Ref,
					run.Created.Local().Format("2006-01-02 15:04:05"),
					duration,
					styler.Conclusion(run.Conclusion),
				)
			}
			return writer.Flush()
		},
	}
}
