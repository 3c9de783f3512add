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

// Package keystore manages the named symmetric key that protects user data.
//
// Key material lives inside a Keystore backend (software, TPM 2.0 or a
// PKCS#11 token) and is only ever reachable through the block operations of
// a Key. SecretStore layers idempotent get-or-create semantics over any
// backend.
package keystore

import (
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-biokey/pkg/types"
)

var (
	// ErrKeystoreUnavailable is returned when the keystore cannot be opened.
	ErrKeystoreUnavailable = errors.New("keystore: unavailable")

	// ErrKeyGenerationFailed is returned when a missing key could not be created.
	ErrKeyGenerationFailed = errors.New("keystore: key generation failed")

	// ErrKeyNotFound is returned by backends when no key has the requested name.
	ErrKeyNotFound = errors.New("keystore: key not found")

	// ErrKeyAlreadyExists is returned by backends when generating over an existing name.
	ErrKeyAlreadyExists = errors.New("keystore: key already exists")

	// ErrInvalidKeyName is returned for empty or malformed key names.
	ErrInvalidKeyName = errors.New("keystore: invalid key name")

	// ErrInvalidParams is returned when key parameters name an unsupported
	// algorithm, mode, padding or size.
	ErrInvalidParams = errors.New("keystore: invalid key parameters")

	// ErrPurposeNotAllowed is returned when a key is used for an operation
	// outside its purposes.
	ErrPurposeNotAllowed = errors.New("keystore: operation not permitted by key purposes")

	// ErrInvalidBlocks is returned when block input is not a whole number of
	// cipher blocks or the IV has the wrong length.
	ErrInvalidBlocks = errors.New("keystore: input is not block aligned")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("keystore: closed")
)

// KeyParams fixes how a key is generated and what it may be used for.
type KeyParams struct {
	Algorithm types.Algorithm `yaml:"algorithm" json:"algorithm"`
	KeySize   int             `yaml:"key_size" json:"key_size"`
	BlockMode types.BlockMode `yaml:"block_mode" json:"block_mode"`
	Padding   types.Padding   `yaml:"padding" json:"padding"`
	Purposes  types.Purpose   `yaml:"purposes" json:"purposes"`

	// UserAuthenticationRequired marks a key whose operations must be
	// authorized by an authentication proof. The cipher package enforces it.
	UserAuthenticationRequired bool `yaml:"user_authentication_required" json:"user_authentication_required"`
}

// DefaultKeyParams returns AES-256 CBC/PKCS7 for encrypt and decrypt,
// gated on user authentication.
func DefaultKeyParams() *KeyParams {
	return &KeyParams{
		Algorithm:                  types.AlgorithmAES,
		KeySize:                    types.DefaultKeySize,
		BlockMode:                  types.BlockModeCBC,
		Padding:                    types.PaddingPKCS7,
		Purposes:                   types.PurposeEncrypt | types.PurposeDecrypt,
		UserAuthenticationRequired: true,
	}
}

// Validate checks the parameters against the supported transformation.
func (p *KeyParams) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil params", ErrInvalidParams)
	}
	if p.Algorithm != types.AlgorithmAES {
		return fmt.Errorf("%w: algorithm %q", ErrInvalidParams, p.Algorithm)
	}
	if !types.ValidAESKeySize(p.KeySize) {
		return fmt.Errorf("%w: key size %d", ErrInvalidParams, p.KeySize)
	}
	if p.BlockMode != types.BlockModeCBC {
		return fmt.Errorf("%w: block mode %q", ErrInvalidParams, p.BlockMode)
	}
	if p.Padding != types.PaddingPKCS7 {
		return fmt.Errorf("%w: padding %q", ErrInvalidParams, p.Padding)
	}
	if p.Purposes == 0 {
		return fmt.Errorf("%w: no purposes", ErrInvalidParams)
	}
	return nil
}

// Transformation returns the "ALG/MODE/PADDING" string for the params.
func (p *KeyParams) Transformation() string {
	return fmt.Sprintf("%s/%s/%s", p.Algorithm, p.BlockMode, p.Padding)
}

// Key is an opaque handle to a named key. Implementations never expose the
// raw key bytes; callers operate on whole cipher blocks only and padding is
// applied by the caller.
type Key interface {
	// Name returns the key alias.
	Name() string

	// Params returns a copy of the parameters the key was generated with.
	Params() KeyParams

	// EncryptBlocks CBC-encrypts src, which must be block aligned.
	EncryptBlocks(iv, src []byte) ([]byte, error)

	// DecryptBlocks CBC-decrypts src, which must be block aligned.
	DecryptBlocks(iv, src []byte) ([]byte, error)
}

// Keystore is a backend capable of persisting non-extractable keys.
type Keystore interface {
	// Backend returns a short backend identifier used in logs and metrics.
	Backend() string

	// GetKey returns the key named name or ErrKeyNotFound.
	GetKey(name string) (Key, error)

	// GenerateKey creates and persists a new key. It returns
	// ErrKeyAlreadyExists if name is taken.
	GenerateKey(name string, params *KeyParams) (Key, error)

	// Close releases the backend.
	Close() error
}

// Opener opens a Keystore. Opening may fail when the backing device is absent
// or locked.
type Opener interface {
	Open() (Keystore, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func() (Keystore, error)

// Open calls f.
func (f OpenerFunc) Open() (Keystore, error) {
	return f()
}

// ValidateName rejects names that cannot be used as storage identifiers.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKeyName)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidKeyName, name, r)
		}
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKeyName, name)
	}
	return nil
}
