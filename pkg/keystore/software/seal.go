// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-biokey.
//
// go-biokey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package software

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"

	"github.com/jeremyhahn/go-biokey/pkg/keystore"
)

const (
	saltSize  = 32
	nonceSize = 12
	tagSize   = 16
)

var (
	// ErrInvalidPassphrase is returned when sealed material cannot be opened.
	ErrInvalidPassphrase = errors.New("software: invalid passphrase")

	// ErrPassphraseRequired is returned when a sealed key is used by a
	// keystore configured without a passphrase.
	ErrPassphraseRequired = errors.New("software: key is sealed and no passphrase is configured")
)

// KDFParams are the Argon2id cost parameters.
type KDFParams struct {
	Time      uint32 `yaml:"time"`
	MemoryKiB uint32 `yaml:"memory_kib"`
	Threads   uint8  `yaml:"threads"`
}

// DefaultKDFParams returns time=1, memory=64 MiB, threads=4.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}
}

func (p KDFParams) derive(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, p.Time, p.MemoryKiB, p.Threads, 32)
}

// seal encrypts material under a passphrase-derived key.
//
// Format: [salt 32][nonce 12][ciphertext+tag]. The salt is bound as
// additional data.
func seal(r io.Reader, material, passphrase []byte, kdf KDFParams) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, fmt.Errorf("software: failed to generate salt: %w", err)
	}
	derived := kdf.derive(passphrase, salt)
	defer keystore.Zero(derived)

	gcm, err := newGCM(derived)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("software: failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+nonceSize+len(material)+tagSize)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, material, salt), nil
}

func unseal(sealed, passphrase []byte, kdf KDFParams) ([]byte, error) {
	if len(sealed) < saltSize+nonceSize+tagSize {
		return nil, fmt.Errorf("software: sealed key too short: %d bytes", len(sealed))
	}
	salt := sealed[:saltSize]
	nonce := sealed[saltSize : saltSize+nonceSize]
	ciphertext := sealed[saltSize+nonceSize:]

	derived := kdf.derive(passphrase, salt)
	defer keystore.Zero(derived)

	gcm, err := newGCM(derived)
	if err != nil {
		return nil, err
	}
	material, err := gcm.Open(nil, nonce, ciphertext, salt)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	return material, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("software: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("software: failed to create GCM: %w", err)
	}
	return gcm, nil
}
