// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"github.com/spf13/pflag"

	"github.com/masa-foundation/masa/lib/config"
)

// configPath holds the value of the root --config flag. Empty means
// fall back to the $MASA_CONFIG / defaults chain.
var configPath string

// GlobalFlags returns the root command's flag set. Registered once on
// the root so every subcommand inherits "masa --config path <cmd>".
func GlobalFlags() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("masa", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "config file path (default: $MASA_CONFIG, else built-in defaults)")
	return flagSet
}

// LoadConfig loads the masa configuration, preferring the root
// --config flag over the $MASA_CONFIG environment variable. All
// subcommands load configuration through here.
func LoadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}
