// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/masa-foundation/masa/cmd/masa/cli"
	"github.com/masa-foundation/masa/lib/artifact"
	"github.com/masa-foundation/masa/lib/config"
	"github.com/masa-foundation/masa/lib/gitref"
	"github.com/masa-foundation/masa/lib/runview"
	"github.com/masa-foundation/masa/lib/schema"
	"github.com/masa-foundation/masa/lib/sealed"
	"github.com/masa-foundation/masa/lib/secret"
	"github.com/masa-foundation/masa/lib/workflow"
	"github.com/masa-foundation/masa/runner"
)

// Command returns the "run" command: execute a workflow, with "list"
// and "show" subcommands for inspecting past runs.
func Command() *cli.Command {
	var (
		ref      string
		vars     []string
		source   string
		parallel int
		labels   []string
		force    bool
		isolate  bool
	)

	return &cli.Command{
		Name:    "run",
		Summary: "Execute a workflow against a ref",
		Description: `Execute a workflow definition against a pushed ref.

The ref is evaluated against the workflow's "on" trigger; when it
does not match, nothing runs and the command exits cleanly. --force
bypasses trigger evaluation and runs every job.

Jobs run independently (subject to their "needs" edges) with up to
--parallel executing at once, each in a private workspace
materialized from the source directory. When the source is a git
repository the workspace is a clean "git archive" export at the
resolved ref; otherwise a recursive copy.

Artifacts declared by step outputs are packed and published to the
artifact store, or through the artifact service when service.socket
is configured. The run's result is recorded in the history database;
inspect it later with "masa run show".

Exit status: 0 when the run concludes "success" (including runs where
every non-skipped job succeeded), 1 on "failure", 130 on "aborted".`,
		Usage: "masa run <workflow-file> --ref <ref> [flags]",
		Examples: []cli.Example{
			{
				Description: "Run the release workflow for a tag push",
				Command:     "masa run workflows/release.jsonc --ref refs/tags/v1.2.0",
			},
			{
				Description: "Run only jobs labeled windows",
				Command:     "masa run workflows/release.jsonc --ref refs/tags/v1.2.0 --labels windows",
			},
			{
				Description: "Force a run without a matching ref",
				Command:     "masa run workflows/release.jsonc --force --var VERSION=dev",
			},
			{
				Description: "Isolate each job in a masa-runner subprocess",
				Command:     "masa run workflows/release.jsonc --ref refs/tags/v1.2.0 --isolate",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flags.StringVar(&ref, "ref", "", "full git ref to run against (e.g. refs/tags/v1.2.0)")
			flags.StringArrayVar(&vars, "var", nil, "KEY=VALUE workflow variable (repeatable)")
			flags.StringVar(&source, "source", ".", "source directory or git repository")
			flags.IntVar(&parallel, "parallel", 0, "max jobs executing at once (0: config, then one per CPU)")
			flags.StringSliceVar(&labels, "labels", nil, "offered runner labels; jobs with other runs_on labels are skipped")
			flags.BoolVar(&force, "force", false, "bypass trigger evaluation and run every job")
			flags.BoolVar(&isolate, "isolate", false, "execute each job in a masa-runner subprocess")
			return flags
		},
		Subcommands: []*cli.Command{
			listCommand(),
			showCommand(),
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: masa run <workflow-file> --ref <ref> [flags]")
			}
			path := args[0]

			cfg, err := cli.LoadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			definition, err := workflow.ReadFile(path)
			if err != nil {
				return err
			}
			name := definition.Name
			if name == "" {
				name = workflow.NameFromPath(path)
			}

			var runRef gitref.Ref
			if ref != "" {
				runRef, err = gitref.Parse(ref)
				if err != nil {
					return err
				}
			}

			variables, err := parseVariables(vars)
			if err != nil {
				return err
			}

			secrets, err := loadSecrets(cfg)
			if err != nil {
				return err
			}

			plan, err := runner.BuildPlan(runner.PlanOptions{
				Definition: definition,
				Workflow:   name,
				Ref:        runRef,
				Force:      force,
				Labels:     labels,
				Variables:  variables,
				Secrets:    secrets,
				Environ:    os.Getenv,
			})
			if errors.Is(err, runner.ErrNotTriggered) {
				fmt.Printf("workflow %s: %s does not match the trigger, nothing to run\n", name, runRef)
				return nil
			}
			if err != nil {
				return err
			}

			if isolate && cfg.Service.Socket == "" && hasArtifactOutputs(definition) {
				return fmt.Errorf("isolated jobs publish artifacts through the artifact service; configure service.socket (and start masa-artifact-service) before using --isolate")
			}

			publisher, err := buildPublisher(cfg)
			if err != nil {
				return err
			}

			store, err := cli.OpenHistory(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if parallel == 0 {
				parallel = cfg.Parallelism()
			}

			executor := &runner.Runner{
				Definition:    definition,
				Plan:          plan,
				SourceDir:     source,
				RunsDir:       cfg.RunsDir(),
				Publisher:     publisher,
				History:       store,
				Parallelism:   parallel,
				GracePeriod:   cfg.GracePeriod(),
				Isolate:       isolate,
				ServiceSocket: cfg.Service.Socket,
				Logger:        logger,
				Stdout:        os.Stdout,
			}

			result, err := executor.Execute(ctx)
			if err != nil {
				return err
			}

			printRunSummary(os.Stdout, result)

			switch result.Conclusion {
			case schema.ConclusionFailure:
				return &cli.ExitError{Code: 1}
			case schema.ConclusionAborted:
				return &cli.ExitError{Code: 130}
			}
			return nil
		},
	}
}

// parseVariables converts repeated --var KEY=VALUE flags into a map.
func parseVariables(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	variables := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("invalid --var %q: expected KEY=VALUE", pair)
		}
		if key == "" {
			return nil, fmt.Errorf("invalid --var %q: empty key", pair)
		}
		variables[key] = value
	}
	return variables, nil
}

// loadSecrets opens the configured sealed bundle. A run without a
// configured bundle gets nil secrets; workflows declaring required
// secret variables then fail at plan time with the variable name.
func loadSecrets(cfg *config.Config) (map[string]string, error) {
	if cfg.Secrets.Bundle == "" {
		return nil, nil
	}
	if cfg.Secrets.IdentityFile == "" {
		return nil, fmt.Errorf("secrets.bundle is configured but secrets.identity_file is not")
	}
	bundle, err := sealed.ReadBundle(cfg.Secrets.Bundle)
	if err != nil {
		return nil, err
	}
	identity, err := secret.ReadFromPath(cfg.Secrets.IdentityFile)
	if err != nil {
		return nil, err
	}
	defer identity.Close()
	return bundle.Open(identity)
}

// buildPublisher selects where collected artifacts go: through the
// artifact service when a socket is configured, else straight into
// the store directory.
func buildPublisher(cfg *config.Config) (runner.Publisher, error) {
	if cfg.Service.Socket != "" {
		return &runner.ServicePublisher{Client: artifact.NewClient(cfg.Service.Socket)}, nil
	}
	store, metadata, tags, err := cli.OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	return &runner.StorePublisher{Store: store, Metadata: metadata, Tags: tags}, nil
}

// hasArtifactOutputs reports whether any step of any job declares an
// artifact output.
func hasArtifactOutputs(definition *schema.Workflow) bool {
	for _, job := range definition.Jobs {
		steps := append(append([]schema.Step{}, job.Steps...), job.OnFailure...)
		for _, step := range steps {
			for _, output := range step.Outputs {
				if output.Artifact != "" {
					return true
				}
			}
		}
	}
	return false
}

// printRunSummary writes the styled end-of-run block: one line per
// job, published artifacts, and the run conclusion.
func printRunSummary(out *os.File, result *schema.RunResult) {
	styler := runview.NewStyler(out)

	fmt.Fprintln(out)
	for _, job := range result.Jobs {
		line := fmt.Sprintf("  %-20s %s", job.Job, styler.Conclusion(job.Conclusion))
		switch {
		case job.Conclusion == schema.ConclusionSkipped && job.SkipReason != "":
			line += styler.Faint("  (" + job.SkipReason + ")")
		case job.DurationMS > 0:
			line += styler.Faint("  " + runview.FormatDuration(job.DurationMS))
		}
		fmt.Fprintln(out, line)
	}

	var published []schema.ArtifactResult
	for _, job := range result.Jobs {
		published = append(published, job.Artifacts...)
	}
	if len(published) > 0 {
		fmt.Fprintln(out, "\nartifacts:")
		for _, collected := range published {
			fmt.Fprintf(out, "  %-20s %s  %s\n",
				collected.Name, collected.Ref, styler.Faint(runview.FormatSize(collected.Size)))
		}
	}

	fmt.Fprintf(out, "\nrun %s: %s\n", result.RunID, styler.Conclusion(result.Conclusion))
}
