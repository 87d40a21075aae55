// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifact implements the "masa artifact" CLI subcommands for
// inspecting and maintaining the artifact store.
//
// Every subcommand works in one of two modes. With a service socket
// (--socket, or service.socket in the config) requests go through the
// artifact service, which owns the store directory. Without one the
// command opens the store directory directly; that is the mode for
// socketless setups and for offline maintenance like gc.
package artifact

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/masa-foundation/masa/cmd/masa/cli"
	"github.com/masa-foundation/masa/lib/artifact"
	"github.com/masa-foundation/masa/lib/config"
)

// Command returns the "artifact" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "artifact",
		Summary: "Inspect and maintain the artifact store",
		Description: `Work with artifacts published by workflow runs: content-addressed
blobs in the artifact store, their metadata, and the mutable tags
pointing at them.

Artifact references accept three forms everywhere: the full 64-char
hex hash, the short ref printed by runs (art-<12 hex>), and a tag
name (e.g. "runs/run-20260315-103000-a1b2/masa-log-windows").

With --socket (or service.socket in the config) commands talk to the
artifact service. Without one they open the store directory from the
config directly; do not mix direct writes with a running service.`,
		Subcommands: []*cli.Command{
			listCommand(),
			statCommand(),
			getCommand(),
			putCommand(),
			tagsCommand(),
			gcCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "List artifacts from the latest runs",
				Command:     "masa artifact list --limit 10",
			},
			{
				Description: "Inspect an artifact by short ref",
				Command:     "masa artifact stat art-4f2a91c07d3e",
			},
			{
				Description: "Download an artifact by its run tag",
				Command:     "masa artifact get runs/run-20260315-103000-a1b2/masa-log-windows --output masa-log.tar",
			},
			{
				Description: "Collect garbage left by pruned runs",
				Command:     "masa artifact gc --prune-runs 720h",
			},
		},
	}
}

// connection selects between the artifact service and the store
// directory. Zero value means "use the config".
type connection struct {
	socket string
}

// addFlags registers the connection flags on a subcommand's flag set.
func (c *connection) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.socket, "socket", "", "artifact service socket (default: service.socket from config)")
}

// resolve returns the effective socket path, empty for direct store
// access.
func (c *connection) resolve(cfg *config.Config) string {
	if c.socket != "" {
		return c.socket
	}
	return cfg.Service.Socket
}

// resolveDirect resolves an artifact reference against the store
// directory: a full hex hash, a short ref (art-<12 hex>), or a tag
// name.
func resolveDirect(metadata *artifact.MetadataStore, tags *artifact.TagStore, ref string) (artifact.Hash, error) {
	if len(ref) == 64 {
		if fileHash, err := artifact.ParseHash(ref); err == nil {
			return fileHash, nil
		}
	}

	if artifact.IsRef(ref) {
		refMap, err := metadata.ScanRefs()
		if err != nil {
			return artifact.Hash{}, err
		}
		index := artifact.NewRefIndex()
		index.Build(refMap)
		return index.Resolve(ref)
	}

	if record, exists := tags.Get(ref); exists {
		return record.Target, nil
	}

	return artifact.Hash{}, fmt.Errorf(
		"unknown artifact reference %q: not a hash, short ref (art-<hex>), or tag name", ref)
}
