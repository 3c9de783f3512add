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

package keystore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeremyhahn/go-biokey/pkg/adapters/logger"
	"github.com/jeremyhahn/go-biokey/pkg/metrics"
)

// Config configures a SecretStore.
type Config struct {
	// Opener opens the underlying keystore on first use.
	Opener Opener

	// KeyParams are used when a key has to be generated. Defaults to
	// DefaultKeyParams.
	KeyParams *KeyParams

	// Logger is optional.
	Logger logger.Logger
}

// SecretStore returns the named key from the keystore, generating it on
// first use. Concurrent first use of the same name generates exactly once.
type SecretStore struct {
	opener Opener
	params *KeyParams
	log    logger.Logger

	mu    sync.Mutex
	ks    Keystore
	locks map[string]*sync.Mutex
}

// NewSecretStore validates cfg and returns a SecretStore. The keystore is
// not opened until the first call to GetOrCreateKey.
func NewSecretStore(cfg *Config) (*SecretStore, error) {
	if cfg == nil || cfg.Opener == nil {
		return nil, fmt.Errorf("keystore: opener is required")
	}
	params := cfg.KeyParams
	if params == nil {
		params = DefaultKeyParams()
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &SecretStore{
		opener: cfg.Opener,
		params: params,
		log:    log.With(logger.String("component", "secret_store")),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// GetOrCreateKey returns the key called name. If no such key exists one is
// generated with the configured parameters and persisted. An existing key is
// never regenerated.
func (s *SecretStore) GetOrCreateKey(name string) (Key, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	ks, err := s.keystore()
	if err != nil {
		return nil, err
	}

	lock := s.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	key, err := ks.GetKey(name)
	metrics.RecordKeyOperation(metrics.OpGetKey, ks.Backend(), statusIgnoringNotFound(err), time.Since(start).Seconds())
	switch {
	case err == nil:
		s.log.Debug("loaded existing key", logger.String("key", name), logger.String("backend", ks.Backend()))
		return key, nil
	case !errors.Is(err, ErrKeyNotFound):
		metrics.RecordError(metrics.OpGetKey, "unavailable")
		return nil, fmt.Errorf("%w: %w", ErrKeystoreUnavailable, err)
	}

	start = time.Now()
	key, err = ks.GenerateKey(name, s.params)
	metrics.RecordKeyOperation(metrics.OpGenerateKey, ks.Backend(), metrics.Status(err), time.Since(start).Seconds())
	if errors.Is(err, ErrKeyAlreadyExists) {
		// Another process created it between lookup and generate.
		key, err = ks.GetKey(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeystoreUnavailable, err)
		}
		return key, nil
	}
	if err != nil {
		metrics.RecordError(metrics.OpGenerateKey, "generation_failed")
		s.log.Error("key generation failed", logger.String("key", name), logger.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrKeyGenerationFailed, err)
	}

	s.log.Info("generated key",
		logger.String("key", name),
		logger.String("backend", ks.Backend()),
		logger.String("transformation", s.params.Transformation()),
		logger.Int("key_size", s.params.KeySize))
	return key, nil
}

// Backend returns the identifier of the open keystore, or "" before first use.
func (s *SecretStore) Backend() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ks == nil {
		return ""
	}
	return s.ks.Backend()
}

// Check opens the keystore if needed and reports whether it is usable.
// It is registered as a readiness check.
func (s *SecretStore) Check() error {
	ks, err := s.keystore()
	if err != nil {
		return err
	}
	metrics.SetKeystoreHealth(ks.Backend(), true)
	return nil
}

// Close closes the underlying keystore if it was opened.
func (s *SecretStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ks == nil {
		return nil
	}
	err := s.ks.Close()
	s.ks = nil
	return err
}

func (s *SecretStore) keystore() (Keystore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ks != nil {
		return s.ks, nil
	}
	start := time.Now()
	ks, err := s.opener.Open()
	if err != nil {
		metrics.RecordKeyOperation(metrics.OpOpen, "unknown", metrics.StatusError, time.Since(start).Seconds())
		metrics.RecordError(metrics.OpOpen, "unavailable")
		s.log.Warn("keystore unavailable", logger.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrKeystoreUnavailable, err)
	}
	metrics.RecordKeyOperation(metrics.OpOpen, ks.Backend(), metrics.StatusSuccess, time.Since(start).Seconds())
	s.ks = ks
	return ks, nil
}

func (s *SecretStore) nameLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[name] = lock
	}
	return lock
}

func statusIgnoringNotFound(err error) string {
	if errors.Is(err, ErrKeyNotFound) {
		return metrics.StatusSuccess
	}
	return metrics.Status(err)
}
