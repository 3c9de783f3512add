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

// Package software implements keystore.Keystore on top of a storage.Backend.
//
// Key material is generated from the configured random source and written
// as a small JSON record. When a passphrase is configured the material is
// sealed with an Argon2id derived AES-GCM key, otherwise it relies on the
// storage backend's file permissions.
package software

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jeremyhahn/go-biokey/pkg/keystore"
	"github.com/jeremyhahn/go-biokey/pkg/storage"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

// BackendName identifies this backend in logs and metrics.
const BackendName = "software"

const recordVersion = 1

// Config configures the software keystore.
type Config struct {
	// Storage receives key records. Required.
	Storage storage.Backend

	// Passphrase seals key material when non-empty. The keystore keeps its
	// own copy and zeroes it on Close.
	Passphrase []byte

	// KDF tunes passphrase derivation. Defaults to DefaultKDFParams.
	KDF *KDFParams

	// Rand supplies key material, salts and nonces. Defaults to crypto/rand.
	Rand io.Reader
}

// KeyStore is the software keystore.
type KeyStore struct {
	mu         sync.RWMutex
	storage    storage.Backend
	passphrase []byte
	kdf        KDFParams
	rand       io.Reader
	closed     bool
}

type record struct {
	Version  int                `json:"version"`
	Params   keystore.KeyParams `json:"params"`
	Sealed   bool               `json:"sealed"`
	Material []byte             `json:"material"`
}

// New returns a software keystore.
func New(cfg *Config) (*KeyStore, error) {
	if cfg == nil || cfg.Storage == nil {
		return nil, fmt.Errorf("software: storage is required")
	}
	kdf := DefaultKDFParams()
	if cfg.KDF != nil {
		kdf = *cfg.KDF
	}
	r := cfg.Rand
	if r == nil {
		r = rand.Reader
	}
	var pass []byte
	if len(cfg.Passphrase) > 0 {
		pass = append([]byte(nil), cfg.Passphrase...)
	}
	return &KeyStore{
		storage:    cfg.Storage,
		passphrase: pass,
		kdf:        kdf,
		rand:       r,
	}, nil
}

// NewOpener returns an Opener that builds a software keystore from cfg.
func NewOpener(cfg *Config) keystore.Opener {
	return keystore.OpenerFunc(func() (keystore.Keystore, error) {
		return New(cfg)
	})
}

// Backend returns "software".
func (ks *KeyStore) Backend() string {
	return BackendName
}

// GetKey loads the record for name and returns a handle to it.
func (ks *KeyStore) GetKey(name string) (keystore.Key, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	rec, err := ks.load(name)
	if err != nil {
		return nil, err
	}
	return &key{name: name, params: rec.Params, ks: ks}, nil
}

// GenerateKey creates fresh key material for name.
func (ks *KeyStore) GenerateKey(name string, params *keystore.KeyParams) (keystore.Key, error) {
	if err := keystore.ValidateName(name); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.closed {
		return nil, keystore.ErrClosed
	}
	exists, err := storage.KeyExists(ks.storage, name)
	if err != nil {
		return nil, fmt.Errorf("software: failed to check key existence: %w", err)
	}
	if exists {
		return nil, keystore.ErrKeyAlreadyExists
	}

	material := make([]byte, params.KeySize/8)
	if _, err := io.ReadFull(ks.rand, material); err != nil {
		return nil, fmt.Errorf("software: failed to generate key material: %w", err)
	}
	defer keystore.Zero(material)

	rec := record{Version: recordVersion, Params: *params}
	if len(ks.passphrase) > 0 {
		sealed, err := seal(ks.rand, material, ks.passphrase, ks.kdf)
		if err != nil {
			return nil, err
		}
		rec.Sealed = true
		rec.Material = sealed
	} else {
		rec.Material = append([]byte(nil), material...)
	}

	data, err := json.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("software: failed to encode key record: %w", err)
	}
	if err := storage.SaveKey(ks.storage, name, data); err != nil {
		return nil, fmt.Errorf("software: failed to save key: %w", err)
	}
	return &key{name: name, params: *params, ks: ks}, nil
}

// Close zeroes the passphrase. The storage backend is owned by the caller.
func (ks *KeyStore) Close() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	keystore.Zero(ks.passphrase)
	ks.passphrase = nil
	ks.closed = true
	return nil
}

func (ks *KeyStore) load(name string) (*record, error) {
	if ks.closed {
		return nil, keystore.ErrClosed
	}
	data, err := storage.GetKey(ks.storage, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, keystore.ErrKeyNotFound
		}
		return nil, fmt.Errorf("software: failed to load key: %w", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("software: corrupt key record %q: %w", name, err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("software: unsupported key record version %d", rec.Version)
	}
	return &rec, nil
}

// material returns the plaintext key bytes for one operation. The caller
// must zero the result.
func (ks *KeyStore) material(name string) ([]byte, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	rec, err := ks.load(name)
	if err != nil {
		return nil, err
	}
	if !rec.Sealed {
		return rec.Material, nil
	}
	if len(ks.passphrase) == 0 {
		return nil, ErrPassphraseRequired
	}
	return unseal(rec.Material, ks.passphrase, ks.kdf)
}

// key is the handle returned to callers. It holds no key material.
type key struct {
	name   string
	params keystore.KeyParams
	ks     *KeyStore
}

func (k *key) Name() string {
	return k.name
}

func (k *key) Params() keystore.KeyParams {
	return k.params
}

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
	material, err := k.ks.material(k.name)
	if err != nil {
		return nil, err
	}
	defer keystore.Zero(material)

	if mode == types.Encrypt {
		return keystore.EncryptCBC(material, iv, src)
	}
	return keystore.DecryptCBC(material, iv, src)
}

var _ keystore.Keystore = (*KeyStore)(nil)
