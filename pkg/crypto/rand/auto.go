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

package rand

import (
	"sync"
)

// autoResolver uses the best available hardware source and falls back to
// the configured fallback when a read fails.
type autoResolver struct {
	mu       sync.RWMutex
	resolver Resolver
	fallback Resolver
}

var _ Resolver = (*autoResolver)(nil)

func newAutoResolver(cfg *Config) (Resolver, error) {
	var resolver Resolver

	if pkcs11Available() && cfg.PKCS11 != nil {
		if r, err := newPKCS11Resolver(cfg.PKCS11); err == nil {
			if r.Available() {
				resolver = r
			} else {
				_ = r.Close()
			}
		}
	}

	if resolver == nil && tpm2Available() && cfg.TPM2 != nil {
		if r, err := newTPM2Resolver(cfg.TPM2); err == nil {
			if r.Available() {
				resolver = r
			} else {
				_ = r.Close()
			}
		}
	}

	if resolver == nil {
		resolver = NewSoftware()
	}

	var fallback Resolver
	if cfg.FallbackMode != "" && cfg.FallbackMode != ModeAuto {
		fallback, _ = NewResolver(&Config{Mode: cfg.FallbackMode, TPM2: cfg.TPM2, PKCS11: cfg.PKCS11})
	}

	return &autoResolver{resolver: resolver, fallback: fallback}, nil
}

func (a *autoResolver) Rand(n int) ([]byte, error) {
	a.mu.RLock()
	resolver, fallback := a.resolver, a.fallback
	a.mu.RUnlock()

	out, err := resolver.Rand(n)
	if err != nil && fallback != nil {
		out, err = fallback.Rand(n)
	}
	return out, err
}

func (a *autoResolver) Read(p []byte) (int, error) {
	return readInto(a, p)
}

func (a *autoResolver) Mode() Mode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.resolver.Mode()
}

func (a *autoResolver) Available() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.resolver.Available() || (a.fallback != nil && a.fallback.Available())
}

func (a *autoResolver) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resolver != nil {
		_ = a.resolver.Close()
	}
	if a.fallback != nil {
		_ = a.fallback.Close()
	}
	return nil
}
