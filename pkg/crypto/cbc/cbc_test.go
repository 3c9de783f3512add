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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-biokey/pkg/biometric"
	"github.com/jeremyhahn/go-biokey/pkg/keystore"
	"github.com/jeremyhahn/go-biokey/pkg/keystore/software"
	"github.com/jeremyhahn/go-biokey/pkg/storage/memory"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

func newTestKey(t *testing.T, params *keystore.KeyParams) keystore.Key {
	t.Helper()
	ks, err := software.New(&software.Config{Storage: memory.New()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ks.Close() })
	if params == nil {
		params = keystore.DefaultKeyParams()
	}
	k, err := ks.GenerateKey("demo", params)
	require.NoError(t, err)
	return k
}

func verified() *biometric.Assertion {
	return &biometric.Assertion{ChallengeID: "c1", UserVerified: true, At: time.Now()}
}

func authorize(t *testing.T, b *Binding) *Cipher {
	t.Helper()
	proof, err := b.Authorize(verified())
	require.NoError(t, err)
	c, ok := proof.(*Cipher)
	require.True(t, ok)
	return c
}

func TestRoundTrip(t *testing.T) {
	key := newTestKey(t, nil)
	f := NewFactory(nil)

	for _, msg := range []string{"hello", "", "0123456789abcdef", "a longer message spanning several blocks"} {
		t.Run(msg, func(t *testing.T) {
			enc, err := f.ForEncryption(key)
			require.NoError(t, err)
			assert.Equal(t, types.Encrypt, enc.Mode())
			assert.Len(t, enc.IV(), types.BlockSize)

			payload, err := authorize(t, enc).Seal([]byte(msg))
			require.NoError(t, err)
			assert.Equal(t, enc.IV(), payload.IV)
			assert.Zero(t, len(payload.CipherText)%types.BlockSize)
			assert.Greater(t, len(payload.CipherText), len(msg))

			dec, err := f.ForDecryption(key, payload.IV)
			require.NoError(t, err)
			pt, err := authorize(t, dec).DoFinal(payload.CipherText)
			require.NoError(t, err)
			assert.Equal(t, msg, string(pt))
		})
	}
}

func TestForEncryption_FreshIV(t *testing.T) {
	key := newTestKey(t, nil)
	f := NewFactory(nil)

	a, err := f.ForEncryption(key)
	require.NoError(t, err)
	b, err := f.ForEncryption(key)
	require.NoError(t, err)
	assert.NotEqual(t, a.IV(), b.IV())
}

func TestForEncryption_RandFailure(t *testing.T) {
	key := newTestKey(t, nil)
	f := NewFactory(&FactoryParams{Rand: failingReader{}})
	_, err := f.ForEncryption(key)
	assert.Error(t, err)
}

func TestForDecryption_InvalidIV(t *testing.T) {
	key := newTestKey(t, nil)
	f := NewFactory(nil)

	for _, iv := range [][]byte{nil, {}, make([]byte, 8), make([]byte, 17)} {
		_, err := f.ForDecryption(key, iv)
		assert.ErrorIs(t, err, ErrInvalidIV)
	}
}

func TestFactory_NilKey(t *testing.T) {
	f := NewFactory(nil)
	_, err := f.ForEncryption(nil)
	assert.ErrorIs(t, err, ErrNoKey)
	_, err = f.ForDecryption(nil, make([]byte, types.BlockSize))
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestFactory_PurposeNotAllowed(t *testing.T) {
	params := keystore.DefaultKeyParams()
	params.Purposes = types.PurposeEncrypt
	key := newTestKey(t, params)
	f := NewFactory(nil)

	_, err := f.ForEncryption(key)
	require.NoError(t, err)
	_, err = f.ForDecryption(key, make([]byte, types.BlockSize))
	assert.ErrorIs(t, err, keystore.ErrPurposeNotAllowed)
}

func TestAuthorize(t *testing.T) {
	key := newTestKey(t, nil)
	enc, err := NewFactory(nil).ForEncryption(key)
	require.NoError(t, err)

	_, err = enc.Authorize(nil)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	_, err = enc.Authorize(&biometric.Assertion{UserVerified: false})
	assert.ErrorIs(t, err, ErrNotAuthorized)

	proof, err := enc.Authorize(verified())
	require.NoError(t, err)
	assert.Same(t, enc, proof.Operation())

	_, err = enc.Authorize(verified())
	assert.ErrorIs(t, err, ErrAlreadyAuthorized)
}

func TestCipher_SingleUse(t *testing.T) {
	key := newTestKey(t, nil)
	enc, err := NewFactory(nil).ForEncryption(key)
	require.NoError(t, err)
	c := authorize(t, enc)

	_, err = c.DoFinal([]byte("once"))
	require.NoError(t, err)
	_, err = c.DoFinal([]byte("twice"))
	assert.ErrorIs(t, err, ErrProofConsumed)
}

func TestUnauthenticated(t *testing.T) {
	key := newTestKey(t, nil)
	enc, err := NewFactory(nil).ForEncryption(key)
	require.NoError(t, err)
	_, err = enc.Unauthenticated()
	assert.ErrorIs(t, err, ErrNotAuthorized)

	params := keystore.DefaultKeyParams()
	params.UserAuthenticationRequired = false
	open := newTestKey(t, params)
	enc, err = NewFactory(nil).ForEncryption(open)
	require.NoError(t, err)
	c, err := enc.Unauthenticated()
	require.NoError(t, err)
	_, err = c.Seal([]byte("no prompt"))
	assert.NoError(t, err)
}

// wrongIV returns iv with its last byte changed so that the final padding
// byte of a single-block "hello" decrypts to zero, which PKCS#7 rejects.
func wrongIV(iv []byte) []byte {
	out := append([]byte(nil), iv...)
	out[len(out)-1] ^= byte(types.BlockSize - len("hello"))
	return out
}

func TestDecrypt_WrongIV(t *testing.T) {
	key := newTestKey(t, nil)
	f := NewFactory(nil)

	enc, err := f.ForEncryption(key)
	require.NoError(t, err)
	payload, err := authorize(t, enc).Seal([]byte("hello"))
	require.NoError(t, err)
	require.Len(t, payload.CipherText, types.BlockSize)

	dec, err := f.ForDecryption(key, wrongIV(payload.IV))
	require.NoError(t, err)
	pt, err := authorize(t, dec).DoFinal(payload.CipherText)
	assert.ErrorIs(t, err, ErrCryptoOperationFailed)
	assert.Nil(t, pt)
}

// CBC without a MAC only notices a wrong IV through the padding of the
// last block. With more than one block the IV only reaches the first
// block, so decryption succeeds with that block corrupted.
func TestDecrypt_WrongIVMultiBlockCorruptsFirstBlock(t *testing.T) {
	key := newTestKey(t, nil)
	f := NewFactory(nil)
	msg := "0123456789abcdeffedcba9876543210"

	enc, err := f.ForEncryption(key)
	require.NoError(t, err)
	payload, err := authorize(t, enc).Seal([]byte(msg))
	require.NoError(t, err)

	iv := append([]byte(nil), payload.IV...)
	iv[0] ^= 0x01
	dec, err := f.ForDecryption(key, iv)
	require.NoError(t, err)
	pt, err := authorize(t, dec).DoFinal(payload.CipherText)
	require.NoError(t, err)

	require.Len(t, pt, len(msg))
	assert.Equal(t, msg[0]^0x01, pt[0])
	assert.Equal(t, msg[1:], string(pt[1:]))
}

func TestDecrypt_CorruptCipherText(t *testing.T) {
	key := newTestKey(t, nil)
	f := NewFactory(nil)
	iv := make([]byte, types.BlockSize)

	for _, ct := range [][]byte{nil, []byte("short"), make([]byte, 17)} {
		dec, err := f.ForDecryption(key, iv)
		require.NoError(t, err)
		_, err = authorize(t, dec).DoFinal(ct)
		assert.ErrorIs(t, err, ErrCryptoOperationFailed)
	}
}

func TestSeal_DecryptMode(t *testing.T) {
	key := newTestKey(t, nil)
	dec, err := NewFactory(nil).ForDecryption(key, make([]byte, types.BlockSize))
	require.NoError(t, err)
	_, err = authorize(t, dec).Seal([]byte("x"))
	assert.ErrorIs(t, err, ErrCryptoOperationFailed)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }
