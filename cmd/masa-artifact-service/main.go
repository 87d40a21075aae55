// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/masa-foundation/masa/lib/artifact"
	"github.com/masa-foundation/masa/lib/clock"
	"github.com/masa-foundation/masa/lib/config"
	"github.com/masa-foundation/masa/lib/secret"
	"github.com/masa-foundation/masa/lib/service"
	"github.com/masa-foundation/masa/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")

	var (
		configPath        string
		storeDir          string
		socketPath        string
		encryptionKeyFile string
	)
	flag.StringVar(&configPath, "config", "", "config file path (default: $MASA_CONFIG, else built-in defaults)")
	flag.StringVar(&storeDir, "store-dir", "", "artifact store root directory (overrides config)")
	flag.StringVar(&socketPath, "socket", "", "Unix socket path to listen on (overrides config)")
	flag.StringVar(&encryptionKeyFile, "encryption-key-file", "", "hex-encoded 32-byte store encryption key, \"-\" for stdin (overrides config)")
	flag.Parse()

	if showVersion {
		fmt.Printf("masa-artifact-service %s\n", version.Info())
		return nil
	}

	logger := service.NewLogger()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if storeDir == "" {
		storeDir = cfg.Store.Dir
	}
	if socketPath == "" {
		socketPath = cfg.Service.Socket
	}
	if socketPath == "" {
		socketPath = filepath.Join(cfg.StateDir, "artifact.sock")
	}
	if encryptionKeyFile == "" {
		encryptionKeyFile = cfg.Store.EncryptionKeyFile
	}

	// Read the encryption key before the signal context is created,
	// so a reader blocked on stdin cannot swallow the first SIGINT.
	// The key is held in guarded memory (mmap-backed, mlock'd,
	// excluded from core dumps, zeroed on close).
	var encryptionKeys *artifact.EncryptionKeySet
	if encryptionKeyFile != "" {
		keyBuffer, err := secret.ReadKeyHex(encryptionKeyFile, artifact.KeySize)
		if err != nil {
			return fmt.Errorf("reading encryption key: %w", err)
		}
		encryptionKeys, err = artifact.NewEncryptionKeySet(keyBuffer)
		if err != nil {
			keyBuffer.Close()
			return fmt.Errorf("initializing encryption key set: %w", err)
		}
		defer encryptionKeys.Close()
		logger.Info("artifact encryption key loaded")
	}

	ctx, stop := service.SignalContext(context.Background())
	defer stop()

	// Initialize the artifact store.
	var store *artifact.Store
	if encryptionKeys != nil {
		store, err = artifact.NewEncryptedStore(storeDir, encryptionKeys)
	} else {
		store, err = artifact.NewStore(storeDir)
	}
	if err != nil {
		return fmt.Errorf("creating artifact store: %w", err)
	}

	// Initialize per-artifact metadata persistence.
	metadataStore, err := artifact.NewMetadataStore(filepath.Join(storeDir, "metadata"))
	if err != nil {
		return fmt.Errorf("creating metadata store: %w", err)
	}

	// Build the ref-to-hash index from existing metadata files.
	refIndex := artifact.NewRefIndex()
	refMap, err := metadataStore.ScanRefs()
	if err != nil {
		return fmt.Errorf("scanning metadata for ref index: %w", err)
	}
	refIndex.Build(refMap)
	logger.Info("ref index built", "artifacts", refIndex.Len())

	// Initialize persistent tag storage.
	tagStore, err := artifact.NewTagStore(filepath.Join(storeDir, "tags"))
	if err != nil {
		return fmt.Errorf("creating tag store: %w", err)
	}
	logger.Info("tag store loaded", "tags", tagStore.Len())

	// Build the in-memory artifact index for filtered queries.
	index := artifact.NewIndex()
	allMetadata, err := metadataStore.ScanAll()
	if err != nil {
		return fmt.Errorf("scanning metadata for artifact index: %w", err)
	}
	index.Build(allMetadata)

	clk := clock.Real()

	artifactService := &ArtifactService{
		store:         store,
		metadataStore: metadataStore,
		refIndex:      refIndex,
		tagStore:      tagStore,
		index:         index,
		clock:         clk,
		startedAt:     clk.Now(),
		logger:        logger,
	}

	// Start the socket listener in a goroutine.
	socketDone := make(chan error, 1)
	go func() {
		socketDone <- artifactService.serve(ctx, socketPath)
	}()

	logger.Info("artifact service running",
		"socket", socketPath,
		"store", storeDir,
		"artifacts", refIndex.Len(),
		"tags", tagStore.Len(),
		"encrypted", store.Encrypted(),
	)

	// Wait for shutdown signal.
	<-ctx.Done()
	logger.Info("shutting down")

	// Wait for the socket listener to drain active connections.
	if err := <-socketDone; err != nil {
		logger.Error("socket listener error", "error", err)
	}

	return nil
}

// loadConfig loads the config from an explicit path, or falls back to
// the standard MASA_CONFIG / defaults chain.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
