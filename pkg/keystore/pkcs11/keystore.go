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

//go:build pkcs11

package pkcs11

import (
	"fmt"
	"sync"

	"github.com/ThalesGroup/crypto11"

	"github.com/jeremyhahn/go-biokey/pkg/keystore"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

// KeyStore is the PKCS#11 keystore.
type KeyStore struct {
	mu     sync.Mutex
	ctx    *crypto11.Context
	params keystore.KeyParams
}

// New logs in to the token described by cfg.
func New(cfg *Config) (*KeyStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, err := crypto11.Configure(&crypto11.Config{
		Path:       cfg.Library,
		TokenLabel: cfg.TokenLabel,
		SlotNumber: cfg.Slot,
		Pin:        cfg.PIN,
	})
	if err != nil {
		return nil, fmt.Errorf("pkcs11: failed to configure PKCS#11 context: %w", err)
	}
	params := keystore.DefaultKeyParams()
	if cfg.KeyParams != nil {
		params = cfg.KeyParams
	}
	return &KeyStore{ctx: ctx, params: *params}, nil
}

// NewOpener returns an Opener for cfg.
func NewOpener(cfg *Config) keystore.Opener {
	return keystore.OpenerFunc(func() (keystore.Keystore, error) {
		return New(cfg)
	})
}

// Backend returns "pkcs11".
func (ks *KeyStore) Backend() string {
	return BackendName
}

// GetKey finds the secret key labelled name.
func (ks *KeyStore) GetKey(name string) (keystore.Key, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	sk, err := ks.find(name)
	if err != nil {
		return nil, err
	}
	if sk == nil {
		return nil, keystore.ErrKeyNotFound
	}
	return &key{name: name, params: ks.params, sk: sk}, nil
}

// GenerateKey generates an AES key on the token.
func (ks *KeyStore) GenerateKey(name string, params *keystore.KeyParams) (keystore.Key, error) {
	if err := keystore.ValidateName(name); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	existing, err := ks.find(name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, keystore.ErrKeyAlreadyExists
	}

	sk, err := ks.ctx.GenerateSecretKeyWithLabel([]byte(name), []byte(name), params.KeySize, crypto11.CipherAES)
	if err != nil {
		return nil, fmt.Errorf("pkcs11: failed to generate secret key: %w", err)
	}
	return &key{name: name, params: *params, sk: sk}, nil
}

// Close closes the crypto11 context.
func (ks *KeyStore) Close() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.ctx == nil {
		return nil
	}
	err := ks.ctx.Close()
	ks.ctx = nil
	return err
}

func (ks *KeyStore) find(name string) (*crypto11.SecretKey, error) {
	if ks.ctx == nil {
		return nil, keystore.ErrClosed
	}
	sk, err := ks.ctx.FindKey(nil, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("pkcs11: failed to find key %q: %w", name, err)
	}
	return sk, nil
}

type key struct {
	name   string
	params keystore.KeyParams
	sk     *crypto11.SecretKey
}

func (k *key) Name() string               { return k.name }
func (k *key) Params() keystore.KeyParams { return k.params }

func (k *key) EncryptBlocks(iv, src []byte) ([]byte, error) {
	return k.crypt(types.Encrypt, iv, src)
}

func (k *key) DecryptBlocks(iv, src []byte) ([]byte, error) {
	return k.crypt(types.Decrypt, iv, src)
}

func (k *key) crypt(mode types.Mode, iv, src []byte) ([]byte, error) {
	if err := keystore.CheckPurpose(k.params, mode); err != nil {
		return nil, err
	}
	if err := keystore.CheckBlocks(iv, src); err != nil {
		return nil, err
	}

	var (
		bm  crypto11.BlockModeCloser
		err error
	)
	if mode == types.Encrypt {
		bm, err = k.sk.NewCBCEncrypterCloser(iv)
	} else {
		bm, err = k.sk.NewCBCDecrypterCloser(iv)
	}
	if err != nil {
		return nil, fmt.Errorf("pkcs11: failed to start CBC %s: %w", mode, err)
	}
	defer bm.Close()

	dst := make([]byte, len(src))
	bm.CryptBlocks(dst, src)
	return dst, nil
}

var _ keystore.Keystore = (*KeyStore)(nil)
