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

package cbc

import (
	"fmt"
	"sync/atomic"

	"github.com/jeremyhahn/go-biokey/pkg/biometric"
	"github.com/jeremyhahn/go-biokey/pkg/keystore"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

// Binding is a cipher configured for one key, mode and IV. It implements
// biometric.Operation.
type Binding struct {
	key        keystore.Key
	mode       types.Mode
	iv         []byte
	authorized atomic.Bool
}

func newBinding(key keystore.Key, mode types.Mode, iv []byte) *Binding {
	return &Binding{key: key, mode: mode, iv: iv}
}

// Mode returns types.Encrypt or types.Decrypt.
func (b *Binding) Mode() types.Mode {
	return b.mode
}

// IV returns a copy of the bound IV.
func (b *Binding) IV() []byte {
	return append([]byte(nil), b.iv...)
}

// KeyName returns the name of the bound key.
func (b *Binding) KeyName() string {
	return b.key.Name()
}

// Transformation returns "AES/CBC/PKCS7Padding".
func (b *Binding) Transformation() string {
	return types.Transformation
}

// Authorize turns a verified assertion into a single-use Cipher. A binding
// can be authorized once.
func (b *Binding) Authorize(a *biometric.Assertion) (biometric.Proof, error) {
	if a == nil || !a.UserVerified {
		return nil, ErrNotAuthorized
	}
	if !b.authorized.CompareAndSwap(false, true) {
		return nil, ErrAlreadyAuthorized
	}
	return &Cipher{binding: b}, nil
}

// Unauthenticated returns a Cipher without a challenge. It fails for keys
// generated with UserAuthenticationRequired.
func (b *Binding) Unauthenticated() (*Cipher, error) {
	if b.key.Params().UserAuthenticationRequired {
		return nil, fmt.Errorf("%w: key %q requires user authentication", ErrNotAuthorized, b.key.Name())
	}
	if !b.authorized.CompareAndSwap(false, true) {
		return nil, ErrAlreadyAuthorized
	}
	return &Cipher{binding: b}, nil
}

var _ biometric.Operation = (*Binding)(nil)
