// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/masa-foundation/masa/lib/secret"
)

// KeySize is the size in bytes of all symmetric keys in the artifact
// encryption system: the master key and every derived key.
const KeySize = 32

// EncryptedBlobVersion is the version byte prepended to all encrypted
// blobs. Included as additional authenticated data (AAD) in the AEAD
// Seal/Open call, so tampering with the version byte causes
// authentication failure.
const EncryptedBlobVersion byte = 0x01

// EncryptedBlobOverhead is the total byte overhead per encrypted blob:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
// For a ~64 MiB container this is negligible; for a ~200 byte
// reconstruction record it is roughly 20%.
const EncryptedBlobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// HKDF info strings: the "info" parameter to HKDF-SHA256, providing
// domain separation between the key derivation paths. Changing any of
// these invalidates all ciphertext encrypted under that path.
var (
	hkdfInfoReconEncryption     = []byte("masa.artifact.recon.enc.v1")
	hkdfInfoContainerEncryption = []byte("masa.artifact.container.enc.v1")
)

// BLAKE3 keyed reference obscuring domain tags: the data prefix when
// computing obscured on-disk names for encrypted blobs. Distinct tags
// keep reconstruction record names from ever colliding with container
// names.
var (
	referenceDomainRecon     = []byte("masa.artifact.ref.recon.v1")
	referenceDomainContainer = []byte("masa.artifact.ref.container.v1")
)

// EncryptBlob encrypts plaintext using XChaCha20-Poly1305 and returns
// the encrypted blob in the standard format:
//
//	[Version: 1 byte (0x01)] [Nonce: 24 bytes (random)] [Ciphertext+Tag: N+16 bytes]
//
// The version byte and identityHash are included as additional
// authenticated data (AAD). The version byte authenticates the format
// version. The identityHash binds the ciphertext to the artifact or
// container it belongs to, so blobs cannot be swapped on disk without
// detection.
//
// The encryptionKey is borrowed and NOT closed. It must be exactly 32
// bytes.
func EncryptBlob(plaintext []byte, encryptionKey *secret.Buffer, identityHash Hash) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(encryptionKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	aad := buildAAD(EncryptedBlobVersion, identityHash)

	// Allocate output: version + nonce + ciphertext + tag.
	output := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	output[0] = EncryptedBlobVersion
	copy(output[1:], nonce[:])

	// Seal appends the ciphertext+tag to output.
	output = aead.Seal(output, nonce[:], plaintext, aad)
	return output, nil
}

// DecryptBlob decrypts an encrypted blob produced by EncryptBlob.
// It verifies the version byte, extracts the nonce, and authenticates
// the ciphertext against the AAD (version byte + identityHash).
//
// Returns an error if:
//   - The blob is too short to contain version + nonce + tag
//   - The version byte is not EncryptedBlobVersion
//   - AEAD authentication fails (wrong key, tampered ciphertext,
//     wrong identity hash)
//
// The encryptionKey is borrowed and NOT closed.
func DecryptBlob(encryptedBlob []byte, encryptionKey *secret.Buffer, identityHash Hash) ([]byte, error) {
	if len(encryptedBlob) < EncryptedBlobOverhead {
		return nil, fmt.Errorf("encrypted blob is %d bytes, minimum is %d (version + nonce + tag)",
			len(encryptedBlob), EncryptedBlobOverhead)
	}

	version := encryptedBlob[0]
	if version != EncryptedBlobVersion {
		return nil, fmt.Errorf("encrypted blob version %d is not supported (expected %d)",
			version, EncryptedBlobVersion)
	}

	nonce := encryptedBlob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := encryptedBlob[1+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(encryptionKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	aad := buildAAD(version, identityHash)

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("AEAD decryption failed (wrong key, tampered data, or mismatched identity): %w", err)
	}

	return plaintext, nil
}

// EncryptionKeySet holds the artifact encryption master key in
// guarded memory and derives per-blob encryption keys and obscured
// on-disk names.
//
// The master key is the root of all key derivation: each container
// and each reconstruction record is encrypted under its own key,
// derived from the master key and the blob's identity hash. The same
// container always derives the same key, preserving deduplication
// (identical content produces identical ciphertext-addressable
// names, though not identical ciphertext).
//
// EncryptionKeySet does not cache derived keys. Each call performs a
// fresh HKDF derivation — roughly a microsecond, negligible next to
// the AEAD pass and disk I/O that follow.
//
// Close zeroes and releases the master key. After Close, all methods
// panic (via secret.Buffer's closed check).
type EncryptionKeySet struct {
	masterKey *secret.Buffer
}

// NewEncryptionKeySet creates a key set from a master key. The
// masterKey buffer is owned by the EncryptionKeySet and is closed
// when Close is called. The caller must not use masterKey after
// passing it in.
//
// Returns an error if masterKey is not exactly KeySize (32) bytes.
func NewEncryptionKeySet(masterKey *secret.Buffer) (*EncryptionKeySet, error) {
	if masterKey.Len() != KeySize {
		return nil, fmt.Errorf("artifact encryption key must be %d bytes, got %d", KeySize, masterKey.Len())
	}
	return &EncryptionKeySet{masterKey: masterKey}, nil
}

// Close zeroes and releases the master key. After Close, all
// derivation methods panic. Idempotent.
func (keySet *EncryptionKeySet) Close() error {
	return keySet.masterKey.Close()
}

// EncryptContainer encrypts container bytes for storage. Derives the
// container encryption key from the master key and container hash,
// then encrypts with the container hash as AAD.
func (keySet *EncryptionKeySet) EncryptContainer(containerBytes []byte, containerHash Hash) ([]byte, error) {
	encryptionKey, err := deriveBlobKey(keySet.masterKey, hkdfInfoContainerEncryption, containerHash)
	if err != nil {
		return nil, fmt.Errorf("deriving container encryption key: %w", err)
	}
	defer encryptionKey.Close()

	return EncryptBlob(containerBytes, encryptionKey, containerHash)
}

// DecryptContainer decrypts a container blob.
func (keySet *EncryptionKeySet) DecryptContainer(encryptedBlob []byte, containerHash Hash) ([]byte, error) {
	encryptionKey, err := deriveBlobKey(keySet.masterKey, hkdfInfoContainerEncryption, containerHash)
	if err != nil {
		return nil, fmt.Errorf("deriving container encryption key: %w", err)
	}
	defer encryptionKey.Close()

	return DecryptBlob(encryptedBlob, encryptionKey, containerHash)
}

// EncryptReconstruction encrypts a reconstruction record. Derives the
// record encryption key from the master key and file hash, then
// encrypts with the file hash as AAD.
func (keySet *EncryptionKeySet) EncryptReconstruction(recordBytes []byte, fileHash Hash) ([]byte, error) {
	encryptionKey, err := deriveBlobKey(keySet.masterKey, hkdfInfoReconEncryption, fileHash)
	if err != nil {
		return nil, fmt.Errorf("deriving reconstruction encryption key: %w", err)
	}
	defer encryptionKey.Close()

	return EncryptBlob(recordBytes, encryptionKey, fileHash)
}

// DecryptReconstruction decrypts a reconstruction record blob.
func (keySet *EncryptionKeySet) DecryptReconstruction(encryptedBlob []byte, fileHash Hash) ([]byte, error) {
	encryptionKey, err := deriveBlobKey(keySet.masterKey, hkdfInfoReconEncryption, fileHash)
	if err != nil {
		return nil, fmt.Errorf("deriving reconstruction encryption key: %w", err)
	}
	defer encryptionKey.Close()

	return DecryptBlob(encryptedBlob, encryptionKey, fileHash)
}

// ObscuredContainerRef returns the deterministic obscured on-disk
// name for an encrypted container. Same key + same container hash
// always produce the same name, so deduplication survives
// encryption; without the key the name reveals nothing.
func (keySet *EncryptionKeySet) ObscuredContainerRef(containerHash Hash) Hash {
	return obscureReference(keySet.masterKey.Bytes(), referenceDomainContainer, containerHash)
}

// ObscuredReconRef returns the deterministic obscured on-disk name
// for an encrypted reconstruction record.
func (keySet *EncryptionKeySet) ObscuredReconRef(fileHash Hash) Hash {
	return obscureReference(keySet.masterKey.Bytes(), referenceDomainRecon, fileHash)
}

// deriveBlobKey derives a per-blob encryption key via HKDF-SHA256
// from the master key, the derivation path info string, and the
// blob's identity hash. The salt is nil: the master key is already
// uniformly random, so HKDF's extract phase with nil salt (HMAC with
// a zero key) is appropriate per RFC 5869.
func deriveBlobKey(masterKey *secret.Buffer, info []byte, identityHash Hash) (*secret.Buffer, error) {
	fullInfo := make([]byte, len(info)+len(identityHash))
	copy(fullInfo, info)
	copy(fullInfo[len(info):], identityHash[:])

	reader := hkdf.New(sha256.New, masterKey.Bytes(), nil, fullInfo)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	// NewFromBytes copies into guarded memory and zeros the heap
	// slice.
	return secret.NewFromBytes(derived)
}

// obscureReference computes a BLAKE3 keyed hash for on-disk name
// obscuring. The key must be exactly 32 bytes (guaranteed by all
// callers).
func obscureReference(key []byte, domainTag []byte, hashValue Hash) Hash {
	hasher, err := blake3.NewKeyed(key)
	if err != nil {
		panic("artifact: BLAKE3 keyed hash initialization failed (key must be 32 bytes): " + err.Error())
	}
	hasher.Write(domainTag)
	hasher.Write(hashValue[:])
	var result Hash
	copy(result[:], hasher.Sum(nil))
	return result
}

// buildAAD constructs the additional authenticated data for AEAD
// operations: the version byte followed by the identity hash.
func buildAAD(version byte, identityHash Hash) []byte {
	aad := make([]byte, 1+len(identityHash))
	aad[0] = version
	copy(aad[1:], identityHash[:])
	return aad
}
