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
	"time"

	"github.com/jeremyhahn/go-biokey/pkg/biometric"
	"github.com/jeremyhahn/go-biokey/pkg/metrics"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

// Cipher is an authorized binding. It implements biometric.Proof and can
// run exactly once.
type Cipher struct {
	binding *Binding
	used    atomic.Bool
}

// Operation returns the binding this cipher was authorized for.
func (c *Cipher) Operation() biometric.Operation {
	return c.binding
}

// Mode returns the binding mode.
func (c *Cipher) Mode() types.Mode {
	return c.binding.mode
}

// IV returns a copy of the bound IV.
func (c *Cipher) IV() []byte {
	return c.binding.IV()
}

// DoFinal encrypts or decrypts input in one call. Encrypt pads with PKCS#7;
// decrypt verifies and strips the padding. Any failure is reported as
// ErrCryptoOperationFailed.
func (c *Cipher) DoFinal(input []byte) ([]byte, error) {
	if !c.used.CompareAndSwap(false, true) {
		return nil, ErrProofConsumed
	}

	start := time.Now()
	out, err := c.run(input)
	metrics.RecordCipherOperation(c.binding.mode.String(), metrics.Status(err), time.Since(start).Seconds())
	if err != nil {
		metrics.RecordError(c.binding.mode.String(), "crypto_failed")
		return nil, fmt.Errorf("%w: %w", ErrCryptoOperationFailed, err)
	}
	return out, nil
}

// Seal encrypts plaintext and returns it with the IV as one payload.
func (c *Cipher) Seal(plaintext []byte) (*EncryptedPayload, error) {
	if c.binding.mode != types.Encrypt {
		return nil, fmt.Errorf("%w: seal on a %s cipher", ErrCryptoOperationFailed, c.binding.mode)
	}
	ct, err := c.DoFinal(plaintext)
	if err != nil {
		return nil, err
	}
	return NewEncryptedPayload(ct, c.binding.iv)
}

func (c *Cipher) run(input []byte) ([]byte, error) {
	b := c.binding
	switch b.mode {
	case types.Encrypt:
		return b.key.EncryptBlocks(b.iv, Pad(input, types.BlockSize))
	case types.Decrypt:
		if len(input) == 0 || len(input)%types.BlockSize != 0 {
			return nil, fmt.Errorf("ciphertext length %d is not a multiple of %d", len(input), types.BlockSize)
		}
		padded, err := b.key.DecryptBlocks(b.iv, input)
		if err != nil {
			return nil, err
		}
		return Unpad(padded, types.BlockSize)
	default:
		return nil, fmt.Errorf("unsupported mode %s", b.mode)
	}
}

var _ biometric.Proof = (*Cipher)(nil)
