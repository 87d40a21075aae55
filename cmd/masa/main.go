// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Command masa is the CLI for the masa workflow engine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/masa-foundation/masa/cmd/masa/commands"
)

func main() {
	// Ctrl-C and SIGTERM cancel the context; a running workflow
	// aborts its jobs through step grace periods before main returns.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Root().Execute(ctx, os.Args[1:]); err != nil {
		// Commands that already printed their outcome (a failed run,
		// validation issues) return an exit code without a message.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
