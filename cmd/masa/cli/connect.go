// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/masa-foundation/masa/lib/artifact"
	"github.com/masa-foundation/masa/lib/config"
	"github.com/masa-foundation/masa/lib/history"
	"github.com/masa-foundation/masa/lib/secret"
)

// OpenStore opens the artifact store directory trio: content store,
// metadata store, and tag store, all rooted under store.dir from the
// configuration. The store is encrypted when store.encryption_key_file
// is set.
//
// Opening the directory directly assumes no artifact service owns it;
// commands prefer the service socket when one is configured and fall
// back to this for socketless setups and offline maintenance.
func OpenStore(cfg *config.Config) (*artifact.Store, *artifact.MetadataStore, *artifact.TagStore, error) {
	storeDir := cfg.Store.Dir

	var store *artifact.Store
	var err error
	if cfg.Store.EncryptionKeyFile != "" {
		keyBuffer, keyErr := secret.ReadKeyHex(cfg.Store.EncryptionKeyFile, artifact.KeySize)
		if keyErr != nil {
			return nil, nil, nil, fmt.Errorf("store encryption key: %w", keyErr)
		}
		keys, keyErr := artifact.NewEncryptionKeySet(keyBuffer)
		if keyErr != nil {
			return nil, nil, nil, keyErr
		}
		store, err = artifact.NewEncryptedStore(storeDir, keys)
	} else {
		store, err = artifact.NewStore(storeDir)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	metadata, err := artifact.NewMetadataStore(filepath.Join(storeDir, "metadata"))
	if err != nil {
		return nil, nil, nil, err
	}
	tags, err := artifact.NewTagStore(filepath.Join(storeDir, "tags"))
	if err != nil {
		return nil, nil, nil, err
	}
	return store, metadata, tags, nil
}

// OpenHistory opens the run history database, creating the state
// directories on first use.
func OpenHistory(cfg *config.Config, logger *slog.Logger) (*history.Store, error) {
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return history.Open(history.Config{Path: cfg.HistoryPath(), Logger: logger})
}
