// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/masa-foundation/masa/lib/secret"
)

// Bundle is the on-disk envelope for sealed workflow secrets. The
// envelope itself is YAML and safe to commit: only names of the
// recipients and the age ciphertext appear in it. The plaintext inside
// is a JSON object mapping secret names to values.
type Bundle struct {
	// Recipients lists the age public keys the bundle is sealed to.
	// Informational: decryption needs only the private key, but the
	// list lets operators audit who can open the bundle and lets
	// "seal --rotate" re-encrypt to the same set.
	Recipients []string `yaml:"recipients"`

	// Ciphertext is the base64-encoded age ciphertext of the secrets
	// JSON object.
	Ciphertext string `yaml:"ciphertext"`
}

// Seal encrypts a secrets map to the given recipients and returns the
// envelope. Secret names must be valid variable names; values are
// free-form.
func Seal(values map[string]string, recipientKeys []string) (*Bundle, error) {
	for _, key := range recipientKeys {
		if err := ParsePublicKey(key); err != nil {
			return nil, err
		}
	}

	plaintext, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encoding secrets: %w", err)
	}
	defer secret.Zero(plaintext)

	ciphertext, err := Encrypt(plaintext, recipientKeys)
	if err != nil {
		return nil, err
	}

	sortedRecipients := append([]string(nil), recipientKeys...)
	sort.Strings(sortedRecipients)
	return &Bundle{
		Recipients: sortedRecipients,
		Ciphertext: ciphertext,
	}, nil
}

// Open decrypts the bundle with the given private key and returns the
// secrets map. The private key is borrowed, not closed.
func (b *Bundle) Open(privateKey *secret.Buffer) (map[string]string, error) {
	plaintext, err := Decrypt(b.Ciphertext, privateKey)
	if err != nil {
		return nil, fmt.Errorf("opening bundle: %w", err)
	}
	defer plaintext.Close()

	values := make(map[string]string)
	if err := json.Unmarshal(plaintext.Bytes(), &values); err != nil {
		return nil, fmt.Errorf("decoding bundle contents: %w", err)
	}
	return values, nil
}

// Names decrypts the bundle and returns only the sorted secret names.
// Used by "masa secret show" without --values.
func (b *Bundle) Names(privateKey *secret.Buffer) ([]string, error) {
	values, err := b.Open(privateKey)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ReadBundle loads a bundle envelope from path.
func ReadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bundle: %w", err)
	}
	var bundle Bundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parsing bundle %s: %w", path, err)
	}
	if bundle.Ciphertext == "" {
		return nil, fmt.Errorf("bundle %s has no ciphertext", path)
	}
	return &bundle, nil
}

// WriteFile writes the bundle envelope atomically with mode 0644 (the
// envelope holds only ciphertext and public keys).
func (b *Bundle) WriteFile(path string) error {
	data, err := yaml.Marshal(b)
	if err != nil {
		return fmt.Errorf("encoding bundle: %w", err)
	}

	directory := filepath.Dir(path)
	temp, err := os.CreateTemp(directory, ".bundle-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempName := temp.Name()
	success := false
	defer func() {
		if !success {
			temp.Close()
			os.Remove(tempName)
		}
	}()

	if _, err := temp.Write(data); err != nil {
		return fmt.Errorf("writing bundle: %w", err)
	}
	if err := temp.Chmod(0o644); err != nil {
		return fmt.Errorf("setting bundle mode: %w", err)
	}
	if err := temp.Close(); err != nil {
		return fmt.Errorf("closing bundle: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("renaming bundle into place: %w", err)
	}
	success = true
	return nil
}

// WriteIdentityFile writes an age private key to path with mode 0600,
// refusing to overwrite an existing file.
func WriteIdentityFile(path string, privateKey *secret.Buffer) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("identity file %s already exists", path)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating identity file: %w", err)
	}
	success := false
	defer func() {
		if !success {
			file.Close()
			os.Remove(path)
		}
	}()

	if _, err := file.Write(privateKey.Bytes()); err != nil {
		return fmt.Errorf("writing identity: %w", err)
	}
	if _, err := file.Write([]byte("\n")); err != nil {
		return fmt.Errorf("writing identity: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing identity file: %w", err)
	}
	success = true
	return nil
}
