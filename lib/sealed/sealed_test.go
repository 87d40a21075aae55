// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	ciphertext, err := Encrypt([]byte("deploy-token-123"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if strings.Contains(ciphertext, "deploy-token-123") {
		t.Fatal("ciphertext contains plaintext")
	}

	plaintext, err := Decrypt(ciphertext, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	defer plaintext.Close()

	if got := plaintext.String(); got != "deploy-token-123" {
		t.Fatalf("decrypted %q, want %q", got, "deploy-token-123")
	}
}

func TestEncryptRequiresRecipients(t *testing.T) {
	if _, err := Encrypt([]byte("x"), nil); err == nil {
		t.Fatal("Encrypt with no recipients succeeded")
	}
}

func TestEncryptToMultipleRecipients(t *testing.T) {
	first, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer first.Close()
	second, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer second.Close()

	ciphertext, err := Encrypt([]byte("shared"), []string{first.PublicKey, second.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	for name, keypair := range map[string]*Keypair{"first": first, "second": second} {
		plaintext, err := Decrypt(ciphertext, keypair.PrivateKey)
		if err != nil {
			t.Fatalf("Decrypt with %s key: %v", name, err)
		}
		if got := plaintext.String(); got != "shared" {
			t.Fatalf("%s key decrypted %q", name, got)
		}
		plaintext.Close()
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	owner, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer owner.Close()
	intruder, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer intruder.Close()

	ciphertext, err := Encrypt([]byte("private"), []string{owner.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(ciphertext, intruder.PrivateKey); err == nil {
		t.Fatal("Decrypt succeeded with the wrong key")
	}
}

func TestBundleSealOpenRoundTrip(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	values := map[string]string{
		"SIGNING_KEY": "s3cr3t",
		"API_TOKEN":   "tok_live_abc",
	}
	bundle, err := Seal(values, []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	opened, err := bundle.Open(keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(opened) != 2 || opened["SIGNING_KEY"] != "s3cr3t" || opened["API_TOKEN"] != "tok_live_abc" {
		t.Fatalf("opened = %v", opened)
	}

	names, err := bundle.Names(keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if len(names) != 2 || names[0] != "API_TOKEN" || names[1] != "SIGNING_KEY" {
		t.Fatalf("names = %v, want sorted [API_TOKEN SIGNING_KEY]", names)
	}
}

func TestBundleFileRoundTrip(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	bundle, err := Seal(map[string]string{"NAME": "value"}, []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	path := filepath.Join(t.TempDir(), "secrets.sealed")
	if err := bundle.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loaded, err := ReadBundle(path)
	if err != nil {
		t.Fatalf("ReadBundle: %v", err)
	}
	opened, err := loaded.Open(keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Open after reload: %v", err)
	}
	if opened["NAME"] != "value" {
		t.Fatalf("opened = %v", opened)
	}
}

func TestWriteIdentityFileRefusesOverwrite(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	path := filepath.Join(t.TempDir(), "identity")
	if err := WriteIdentityFile(path, keypair.PrivateKey); err != nil {
		t.Fatalf("first WriteIdentityFile: %v", err)
	}
	if err := WriteIdentityFile(path, keypair.PrivateKey); err == nil {
		t.Fatal("WriteIdentityFile overwrote an existing identity")
	}
}
