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

// Package cbc builds AES/CBC/PKCS7Padding cipher bindings over keystore keys.
//
// A Binding fixes one key, one mode and one IV. It does nothing until a
// biometric challenge authorizes it; the resulting Cipher runs exactly once.
package cbc

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-biokey/pkg/adapters/logger"
	"github.com/jeremyhahn/go-biokey/pkg/crypto/rand"
	"github.com/jeremyhahn/go-biokey/pkg/keystore"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

var (
	// ErrInvalidIV is returned when an IV is not exactly one block long.
	ErrInvalidIV = errors.New("cbc: invalid IV")

	// ErrCryptoOperationFailed is returned when an authorized cipher fails
	// to run, for example on corrupt ciphertext or a padding mismatch.
	ErrCryptoOperationFailed = errors.New("cbc: crypto operation failed")

	// ErrNoKey is returned when a binding is requested for a nil key.
	ErrNoKey = errors.New("cbc: key is required")

	// ErrNotAuthorized is returned when an assertion cannot authorize a
	// binding, or when a key that requires authentication is used without.
	ErrNotAuthorized = errors.New("cbc: binding not authorized")

	// ErrAlreadyAuthorized is returned when a binding is authorized twice.
	ErrAlreadyAuthorized = errors.New("cbc: binding already authorized")

	// ErrProofConsumed is returned when a Cipher is run a second time.
	ErrProofConsumed = errors.New("cbc: cipher already used")
)

// FactoryParams configures a Factory.
type FactoryParams struct {
	// Rand supplies IVs. Defaults to the software resolver.
	Rand io.Reader

	Logger logger.Logger
}

// Factory creates cipher bindings. It has no side effects on the keystore.
type Factory struct {
	rand io.Reader
	log  logger.Logger
}

// NewFactory returns a Factory.
func NewFactory(params *FactoryParams) *Factory {
	if params == nil {
		params = &FactoryParams{}
	}
	r := params.Rand
	if r == nil {
		r = rand.NewSoftware()
	}
	log := params.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Factory{rand: r, log: log.With(logger.String("component", "cipher_factory"))}
}

// ForEncryption binds key for encryption under a fresh random IV.
func (f *Factory) ForEncryption(key keystore.Key) (*Binding, error) {
	if err := f.check(key, types.Encrypt); err != nil {
		return nil, err
	}
	iv := make([]byte, types.BlockSize)
	if _, err := io.ReadFull(f.rand, iv); err != nil {
		return nil, fmt.Errorf("cbc: failed to generate IV: %w", err)
	}
	f.log.Debug("created binding", logger.String("key", key.Name()), logger.Stringer("mode", types.Encrypt))
	return newBinding(key, types.Encrypt, iv), nil
}

// ForDecryption binds key for decryption with iv, which must be the IV the
// ciphertext was produced with.
func (f *Factory) ForDecryption(key keystore.Key, iv []byte) (*Binding, error) {
	if len(iv) != types.BlockSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidIV, len(iv), types.BlockSize)
	}
	if err := f.check(key, types.Decrypt); err != nil {
		return nil, err
	}
	f.log.Debug("created binding", logger.String("key", key.Name()), logger.Stringer("mode", types.Decrypt))
	return newBinding(key, types.Decrypt, append([]byte(nil), iv...)), nil
}

func (f *Factory) check(key keystore.Key, mode types.Mode) error {
	if key == nil {
		return ErrNoKey
	}
	params := key.Params()
	if _, _, _, err := types.ParseTransformation(params.Transformation()); err != nil {
		return fmt.Errorf("cbc: key %q: %w", key.Name(), err)
	}
	return keystore.CheckPurpose(params, mode)
}
