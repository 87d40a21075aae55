// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret implements the "masa secret" CLI subcommands for
// managing the age-sealed workflow secret bundle: generating
// identities, sealing values, and inspecting a bundle.
package secret

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/spf13/pflag"

	"github.com/masa-foundation/masa/cmd/masa/cli"
	"github.com/masa-foundation/masa/lib/sealed"
	"github.com/masa-foundation/masa/lib/secret"
)

// Command returns the "secret" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "secret",
		Summary: "Manage the sealed workflow secret bundle",
		Description: `Workflow variables declared "secret: true" resolve from an
age-encrypted bundle at run time. The bundle envelope holds only
recipient public keys and ciphertext, so it is safe to commit next
to the workflow definitions.

"keygen" generates an age identity, "seal" encrypts a YAML map of
name/value pairs to one or more recipients, and "show" decrypts a
bundle with an identity.`,
		Subcommands: []*cli.Command{
			keygenCommand(),
			sealCommand(),
			showCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Generate an identity and capture the recipient",
				Command:     "masa secret keygen --out ~/.config/masa/identity",
			},
			{
				Description: "Seal values for that recipient",
				Command:     "masa secret seal values.yaml --recipient age1... --out secrets.yaml",
			},
			{
				Description: "List the secret names in the bundle",
				Command:     "masa secret show",
			},
		},
	}
}

// secretNamePattern matches names that workflow variable
// interpolation (${NAME}) can reference.
var secretNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func keygenCommand() *cli.Command {
	var outPath string

	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate an age identity for sealing secrets",
		Usage:   "masa secret keygen [flags]",
		Description: `Generate an X25519 age identity.

With --out the private key is written to the file (mode 0600,
refusing to overwrite) and the public key is printed to stdout.
Without --out the private key goes to stdout so it can be
redirected, and the public key goes to stderr.

The identity file holds nothing but the key, ready for
secrets.identity_file in the config.`,
		Examples: []cli.Example{
			{
				Description: "Write the identity to a file",
				Command:     "masa secret keygen --out ~/.config/masa/identity",
			},
			{
				Description: "Redirect the identity, recipient stays visible",
				Command:     "masa secret keygen > identity",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flags.StringVar(&outPath, "out", "", "write the private key to this file instead of stdout")
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("usage: masa secret keygen [flags]")
			}

			keypair, err := sealed.GenerateKeypair()
			if err != nil {
				return err
			}
			defer keypair.Close()

			if outPath != "" {
				if err := sealed.WriteIdentityFile(outPath, keypair.PrivateKey); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "identity written to %s\n", outPath)
				fmt.Println(keypair.PublicKey)
				return nil
			}

			fmt.Fprintf(os.Stderr, "public key: %s\n", keypair.PublicKey)
			os.Stdout.Write(keypair.PrivateKey.Bytes())
			os.Stdout.Write([]byte("\n"))
			return nil
		},
	}
}

func sealCommand() *cli.Command {
	var (
		recipients []string
		outPath    string
	)

	return &cli.Command{
		Name:    "seal",
		Summary: "Encrypt secret values into a bundle",
		Usage:   "masa secret seal [values-file] [flags]",
		Description: `Seal a YAML map of secret names to values into a bundle envelope.

Reads the values from the named file, or from stdin when no file is
given (or the file is "-"). Every name must be usable as a workflow
variable. At least one --recipient is required; sealing to several
recipients lets each of them open the bundle with their own
identity.

The bundle is written to --out, falling back to secrets.bundle from
the config. Sealing replaces the whole bundle: re-seal all values
together when adding one.`,
		Examples: []cli.Example{
			{
				Description: "Seal from a file",
				Command:     "masa secret seal values.yaml --recipient age1... --out secrets.yaml",
			},
			{
				Description: "Seal one value from stdin",
				Command:     "echo 'SIGNING_KEY: hunter2' | masa secret seal --recipient age1...",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("seal", pflag.ContinueOnError)
			flags.StringArrayVar(&recipients, "recipient", nil, "age public key to seal to (repeatable)")
			flags.StringVar(&outPath, "out", "", "bundle file to write (default: secrets.bundle from config)")
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 1 {
				return fmt.Errorf("usage: masa secret seal [values-file] [flags]")
			}
			if len(recipients) == 0 {
				return fmt.Errorf("at least one --recipient is required")
			}

			cfg, err := cli.LoadConfig()
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = cfg.Secrets.Bundle
			}
			if outPath == "" {
				return fmt.Errorf("no bundle path: pass --out or set secrets.bundle in the config")
			}

			valuesPath := "-"
			if len(args) == 1 {
				valuesPath = args[0]
			}
			values, err := readValues(valuesPath)
			if err != nil {
				return err
			}
			if len(values) == 0 {
				return fmt.Errorf("no values to seal")
			}

			bundle, err := sealed.Seal(values, recipients)
			if err != nil {
				return err
			}
			if err := bundle.WriteFile(outPath); err != nil {
				return err
			}

			fmt.Printf("sealed %d secrets for %d recipients to %s\n",
				len(values), len(recipients), outPath)
			return nil
		},
	}
}

// readValues reads a YAML map of secret names to values from a file,
// or from stdin when path is "-". The raw bytes are zeroed once the
// map is built.
func readValues(path string) (map[string]string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
	} else {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}
	defer secret.Zero(data)

	values := make(map[string]string)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parsing values: %w", err)
	}
	for name := range values {
		if !secretNamePattern.MatchString(name) {
			return nil, fmt.Errorf("invalid secret name %q: must match %s",
				name, secretNamePattern.String())
		}
	}
	return values, nil
}

func showCommand() *cli.Command {
	var (
		bundlePath   string
		identityPath string
		showValues   bool
	)

	return &cli.Command{
		Name:    "show",
		Summary: "Decrypt a bundle and list its secrets",
		Usage:   "masa secret show [flags]",
		Description: `Open the sealed bundle with an identity and print the secret names,
one per line. With --values the values are printed too; keep that
off a shared terminal.

Bundle and identity paths default to secrets.bundle and
secrets.identity_file from the config.`,
		Examples: []cli.Example{
			{
				Description: "Names only",
				Command:     "masa secret show",
			},
			{
				Description: "Names and values from an explicit bundle",
				Command:     "masa secret show --bundle secrets.yaml --identity ./identity --values",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flags.StringVar(&bundlePath, "bundle", "", "bundle file (default: secrets.bundle from config)")
			flags.StringVar(&identityPath, "identity", "", "identity file (default: secrets.identity_file from config)")
			flags.BoolVar(&showValues, "values", false, "print secret values, not just names")
			return flags
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("usage: masa secret show [flags]")
			}

			cfg, err := cli.LoadConfig()
			if err != nil {
				return err
			}
			if bundlePath == "" {
				bundlePath = cfg.Secrets.Bundle
			}
			if bundlePath == "" {
				return fmt.Errorf("no bundle path: pass --bundle or set secrets.bundle in the config")
			}
			if identityPath == "" {
				identityPath = cfg.Secrets.IdentityFile
			}
			if identityPath == "" {
				return fmt.Errorf("no identity path: pass --identity or set secrets.identity_file in the config")
			}

			bundle, err := sealed.ReadBundle(bundlePath)
			if err != nil {
				return err
			}
			identity, err := secret.ReadFromPath(identityPath)
			if err != nil {
				return err
			}
			defer identity.Close()

			if !showValues {
				names, err := bundle.Names(identity)
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Println(name)
				}
				return nil
			}

			values, err := bundle.Open(identity)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(values))
			for name := range values {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%s = %s\n", name, values[name])
			}
			return nil
		},
	}
}
