// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflow implements the "masa workflow" CLI subcommands for
// working with workflow definition files without running them:
// validation, syntax-highlighted display, and trigger evaluation.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/masa-foundation/masa/cmd/masa/cli"
	"github.com/masa-foundation/masa/lib/gitref"
	"github.com/masa-foundation/masa/lib/runview"
	"github.com/masa-foundation/masa/lib/schema"
	"github.com/masa-foundation/masa/lib/workflow"
)

// Command returns the "workflow" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "workflow",
		Summary: "Validate and inspect workflow definitions",
		Description: `Work with workflow definition files without executing them.

Definitions are JSONC (JSON with // line comments, /* block
comments */, and trailing commas) or YAML; the format is selected by
file extension. "validate" checks the definition's structure,
"show" prints it with syntax highlighting, and "jobs" evaluates
which jobs a pushed ref would trigger.`,
		Subcommands: []*cli.Command{
			validateCommand(),
			showCommand(),
			jobsCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Validate a workflow definition",
				Command:     "masa workflow validate workflows/release.jsonc",
			},
			{
				Description: "Show a definition with highlighting",
				Command:     "masa workflow show workflows/release.jsonc",
			},
			{
				Description: "See what a tag push would trigger",
				Command:     "masa workflow jobs workflows/release.jsonc --ref refs/tags/v1.2.0",
			},
		},
	}
}

// validateCommand returns the "validate" subcommand.
func validateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Summary: "Validate a workflow definition file",
		Description: `Validate a workflow definition. Checks that the file parses and that
the definition is structurally sound: a push trigger is present,
every job has at least one step, step names are unique, outputs
declare exactly one of name or artifact, timeouts parse, and the
needs graph is acyclic.

This is a purely local check; nothing is executed.`,
		Usage: "masa workflow validate <file>",
		Examples: []cli.Example{
			{
				Description: "Validate the release workflow",
				Command:     "masa workflow validate workflows/release.jsonc",
			},
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: masa workflow validate <file>")
			}
			path := args[0]

			definition, err := workflow.ReadFile(path)
			if err != nil {
				return err
			}

			issues := definition.Validate()
			if len(issues) > 0 {
				fmt.Fprintf(os.Stderr, "%s: %d validation issue(s) found\n", path, len(issues))
				for _, issue := range issues {
					fmt.Fprintf(os.Stderr, "  - %s\n", issue)
				}
				return &cli.ExitError{Code: 1}
			}

			fmt.Printf("%s: valid\n", path)
			return nil
		},
	}
}

// showCommand returns the "show" subcommand.
func showCommand() *cli.Command {
	return &cli.Command{
		Name:    "show",
		Summary: "Print a workflow definition with highlighting",
		Description: `Print a workflow definition file. When stdout is a terminal the
definition is syntax-highlighted; piped output is the file verbatim.`,
		Usage: "masa workflow show <file>",
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: masa workflow show <file>")
			}
			return showDefinition(os.Stdout, args[0])
		},
	}
}

// showDefinition writes the definition file to out, highlighted when
// out is a terminal.
func showDefinition(out *os.File, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	styler := runview.NewStyler(out)
	fmt.Fprint(out, styler.Code(string(data), definitionLanguage(path)))
	return nil
}

// definitionLanguage maps a definition file extension to a chroma
// lexer name. JSONC highlights through the javascript lexer, which
// knows // and /* comments; chroma's json lexer does not.
func definitionLanguage(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	case ".jsonc":
		return "javascript"
	default:
		return ""
	}
}

// jobsCommand returns the "jobs" subcommand.
func jobsCommand() *cli.Command {
	var ref string

	return &cli.Command{
		Name:    "jobs",
		Summary: "Show which jobs a ref would trigger",
		Description: `Evaluate a workflow's trigger against a ref and list the jobs that
would run. A tag push like refs/tags/v1.2.0 is matched against the
trigger's tag patterns, a branch push against its branch patterns.

This answers "what would happen" without running anything; label
filtering and needs-based skipping still apply at run time.`,
		Usage: "masa workflow jobs <file> --ref <ref>",
		Examples: []cli.Example{
			{
				Description: "Jobs triggered by a release tag",
				Command:     "masa workflow jobs workflows/release.jsonc --ref refs/tags/v1.2.0",
			},
			{
				Description: "Jobs triggered by a branch push",
				Command:     "masa workflow jobs workflows/release.jsonc --ref refs/heads/main",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("jobs", pflag.ContinueOnError)
			flags.StringVar(&ref, "ref", "", "full git ref to evaluate (e.g. refs/tags/v1.2.0)")
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: masa workflow jobs <file> --ref <ref>")
			}
			if ref == "" {
				return fmt.Errorf("--ref is required")
			}

			definition, err := workflow.ReadFile(args[0])
			if err != nil {
				return err
			}
			parsed, err := gitref.Parse(ref)
			if err != nil {
				return err
			}

			jobIDs, err := workflow.TriggeredJobs(definition, parsed)
			if err != nil {
				return err
			}
			return printJobs(os.Stdout, definition, parsed, jobIDs)
		},
	}
}

// printJobs renders the triggered-job listing.
func printJobs(out *os.File, definition *schema.Workflow, ref gitref.Ref, jobIDs []string) error {
	if len(jobIDs) == 0 {
		fmt.Fprintf(out, "%s %q does not trigger this workflow\n", ref.Kind(), ref.Short())
		return nil
	}

	writer := tabwriter.NewWriter(out, 2, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "JOB\tRUNS ON\tNEEDS")
	for _, jobID := range jobIDs {
		job := definition.Jobs[jobID]
		runsOn := job.RunsOn
		if runsOn == "" {
			runsOn = "-"
		}
		needs := "-"
		if len(job.Needs) > 0 {
			needs = strings.Join(job.Needs, ", ")
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\n", jobID, runsOn, needs)
	}
	return writer.Flush()
}
