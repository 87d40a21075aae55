// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Command masa-runner executes a single workflow job from a job file
// written by "masa run --isolate". The parent process writes
// jobs/<job>/job.cbor, spawns masa-runner, and reads result.cbor back
// when it exits.
//
// masa-runner exits 0 whenever it produced a result, including for
// jobs that concluded "failure"; a non-zero exit means the job
// infrastructure itself broke (unreadable job file, unwritable
// result). On SIGTERM it aborts running steps through their grace
// periods, writes the result, and exits on its own.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/masa-foundation/masa/lib/artifact"
	"github.com/masa-foundation/masa/lib/service"
	"github.com/masa-foundation/masa/lib/version"
	"github.com/masa-foundation/masa/runner"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "masa-runner: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		jobPath     string
		showVersion bool
	)
	flag.StringVar(&jobPath, "job", "", "path to the job file written by masa run --isolate")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("masa-runner %s\n", version.Info())
		return nil
	}
	if jobPath == "" {
		return fmt.Errorf("--job is required")
	}

	logger := service.NewLogger()

	request, socket, err := runner.ReadJobFile(jobPath)
	if err != nil {
		return err
	}

	// The job directory gets its own step-level event log; the
	// parent mirrors the job conclusion into the run-level log.
	log, err := runner.NewRunLog(filepath.Join(request.JobDir, "log.jsonl"), logger)
	if err != nil {
		return err
	}
	defer log.Close()

	request.Log = log
	request.Logger = logger
	request.Progress = os.Stdout
	if socket != "" {
		request.Publisher = &runner.ServicePublisher{Client: artifact.NewClient(socket)}
	}

	ctx, stop := service.SignalContext(context.Background())
	defer stop()

	result := runner.ExecuteJob(ctx, request)

	if err := runner.WriteJobResult(request.JobDir, result); err != nil {
		return err
	}
	return nil
}
