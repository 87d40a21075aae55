// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/spf13/pflag"

	"github.com/masa-foundation/masa/cmd/masa/cli"
	"github.com/masa-foundation/masa/lib/history"
	"github.com/masa-foundation/masa/lib/runview"
	"github.com/masa-foundation/masa/lib/schema"
	"github.com/masa-foundation/masa/runner"
)

// showCommand returns the "show" subcommand for displaying one run.
func showCommand() *cli.Command {
	var summaries bool

	return &cli.Command{
		Name:    "show",
		Summary: "Show the recorded detail of a run",
		Description: `Show a run's jobs, steps, and published artifacts.

Step-level detail comes from the run's result file under the runs
directory. When the run files have been cleaned up, the history
database still provides the job conclusions and artifact refs.

--summaries renders the Markdown step summaries collected during the
run (written by steps to $MASA_STEP_SUMMARY).`,
		Usage: "masa run show <run-id> [flags]",
		Examples: []cli.Example{
			{
				Description: "Show a run",
				Command:     "masa run show run-20260315-103000-a1b2",
			},
			{
				Description: "Show a run with its step summaries",
				Command:     "masa run show run-20260315-103000-a1b2 --summaries",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flags.BoolVar(&summaries, "summaries", false, "render collected Markdown step summaries")
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: masa run show <run-id> [flags]")
			}
			runID := args[0]

			cfg, err := cli.LoadConfig()
			if err != nil {
				return err
			}

			result, err := runner.ReadResult(cfg.RunsDir(), runID)
			if err == nil {
				printResult(os.Stdout, result, summaries)
				return nil
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			// The run directory is gone; fall back to the history rows.
			store, openErr := cli.OpenHistory(cfg, logger)
			if openErr != nil {
				return openErr
			}
			defer store.Close()

			detail, getErr := store.Get(ctx, runID)
			if errors.Is(getErr, history.ErrNotFound) {
				return fmt.Errorf("run %s not found", runID)
			}
			if getErr != nil {
				return getErr
			}
			printDetail(os.Stdout, detail)
			return nil
		},
	}
}

// printResult renders the full run result: header, per-job step
// lines, artifacts, and optionally the collected summaries.
func printResult(out *os.File, result *schema.RunResult, summaries bool) {
	styler := runview.NewStyler(out)

	fmt.Fprintf(out, "run %s: %s", result.RunID, result.Workflow)
	if result.Ref != "" {
		fmt.Fprintf(out, " (%s)", result.Ref)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "conclusion: %s  %s  started %s\n",
		styler.Conclusion(result.Conclusion),
		runview.FormatDuration(result.DurationMS),
		result.StartedAt,
	)

	for _, job := range result.Jobs {
		fmt.Fprintln(out)
		header := fmt.Sprintf("%s: %s", styler.Header(job.Job), styler.Conclusion(job.Conclusion))
		switch {
		case job.Conclusion == schema.ConclusionSkipped && job.SkipReason != "":
			header += styler.Faint(" (" + job.SkipReason + ")")
		case job.DurationMS > 0:
			header += styler.Faint(" (" + runview.FormatDuration(job.DurationMS) + ")")
		}
		fmt.Fprintln(out, header)

		for _, step := range job.Steps {
			line := fmt.Sprintf("  %s  %s %s",
				styler.Status(step.Status),
				step.Name,
				styler.Faint("("+runview.FormatDuration(step.DurationMS)+")"),
			)
			if step.Error != "" {
				line += ": " + step.Error
			}
			fmt.Fprintln(out, line)
			names := make([]string, 0, len(step.Outputs))
			for name := range step.Outputs {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "      %s = %s\n", name, step.Outputs[name])
			}
		}

		// A job that failed before any step ran (workspace setup,
		// subprocess loss) carries the error only at the job level.
		if job.Error != "" && len(job.Steps) == 0 {
			fmt.Fprintf(out, "  error: %s\n", job.Error)
		}

		for _, collected := range job.Artifacts {
			fmt.Fprintf(out, "  artifact %s  %s  %s\n",
				collected.Name, collected.Ref, styler.Faint(runview.FormatSize(collected.Size)))
		}

		if summaries && job.Summary != "" {
			width := runview.TerminalWidth(out, 80)
			rendered := styler.Markdown(job.Summary, width-4)
			fmt.Fprintln(out)
			fmt.Fprint(out, indent(rendered, "    "))
		}
	}
}

// printDetail renders the reduced history-only view of a run whose
// result file is gone.
func printDetail(out *os.File, detail *history.RunDetail) {
	styler := runview.NewStyler(out)

	run := detail.Run
	fmt.Fprintf(out, "run %s: %s", run.ID, run.Workflow)
	if run.Ref != "" {
		fmt.Fprintf(out, " (%s)", run.Ref)
	}
	fmt.Fprintln(out)
	duration := "-"
	if !run.Finished.IsZero() {
		duration = runview.FormatDuration(run.Finished.Sub(run.Created).Milliseconds())
	}
	fmt.Fprintf(out, "conclusion: %s  %s  started %s\n",
		styler.Conclusion(run.Conclusion),
		duration,
		run.Created.UTC().Format("2006-01-02T15:04:05Z"),
	)
	fmt.Fprintln(out, styler.Faint("step detail is gone (run directory cleaned up); showing history rows"))

	fmt.Fprintln(out)
	for _, job := range detail.Jobs {
		line := fmt.Sprintf("  %-20s %s", job.Job, styler.Conclusion(job.Conclusion))
		if !job.Finished.IsZero() && !job.Started.IsZero() {
			line += styler.Faint("  " + runview.FormatDuration(job.Finished.Sub(job.Started).Milliseconds()))
		}
		fmt.Fprintln(out, line)
	}

	if len(detail.Artifacts) > 0 {
		fmt.Fprintln(out, "\nartifacts:")
		for _, artifact := range detail.Artifacts {
			fmt.Fprintf(out, "  %-20s %s  %s\n",
				artifact.Name, artifact.Ref, styler.Faint(runview.FormatSize(artifact.Size)))
		}
	}
}

// indent prefixes every non-empty line of text.
func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}
