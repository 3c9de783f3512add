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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-biokey/pkg/keystore"
	"github.com/jeremyhahn/go-biokey/pkg/storage"
	"github.com/jeremyhahn/go-biokey/pkg/storage/file"
	"github.com/jeremyhahn/go-biokey/pkg/storage/memory"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

var testKDF = &KDFParams{Time: 1, MemoryKiB: 1024, Threads: 1}

func newTestKeyStore(t *testing.T, passphrase string) (*KeyStore, storage.Backend) {
	t.Helper()
	backend := memory.New()
	ks, err := New(&Config{Storage: backend, Passphrase: []byte(passphrase), KDF: testKDF})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ks.Close() })
	return ks, backend
}

func TestNew_RequiresStorage(t *testing.T) {
	_, err := New(&Config{})
	assert.Error(t, err)
	_, err = New(nil)
	assert.Error(t, err)
}

func TestGetKey_NotFound(t *testing.T) {
	ks, _ := newTestKeyStore(t, "")
	_, err := ks.GetKey("demo")
	assert.ErrorIs(t, err, keystore.ErrKeyNotFound)
}

func TestGenerateKey_RoundTrip(t *testing.T) {
	for _, pass := range []string{"", "correct horse"} {
		t.Run("passphrase="+pass, func(t *testing.T) {
			ks, _ := newTestKeyStore(t, pass)

			k, err := ks.GenerateKey("demo", keystore.DefaultKeyParams())
			require.NoError(t, err)
			assert.Equal(t, "demo", k.Name())
			assert.Equal(t, 256, k.Params().KeySize)

			iv := bytes.Repeat([]byte{7}, types.BlockSize)
			src := bytes.Repeat([]byte("0123456789abcdef"), 2)

			ct, err := k.EncryptBlocks(iv, src)
			require.NoError(t, err)
			assert.NotEqual(t, src, ct)

			again, err := ks.GetKey("demo")
			require.NoError(t, err)
			pt, err := again.DecryptBlocks(iv, ct)
			require.NoError(t, err)
			assert.Equal(t, src, pt)
		})
	}
}

func TestGenerateKey_AlreadyExists(t *testing.T) {
	ks, _ := newTestKeyStore(t, "")
	_, err := ks.GenerateKey("demo", keystore.DefaultKeyParams())
	require.NoError(t, err)

	_, err = ks.GenerateKey("demo", keystore.DefaultKeyParams())
	assert.ErrorIs(t, err, keystore.ErrKeyAlreadyExists)
}

func TestGenerateKey_InvalidParams(t *testing.T) {
	ks, _ := newTestKeyStore(t, "")
	params := keystore.DefaultKeyParams()
	params.KeySize = 100
	_, err := ks.GenerateKey("demo", params)
	assert.ErrorIs(t, err, keystore.ErrInvalidParams)

	_, err = ks.GenerateKey("../demo", keystore.DefaultKeyParams())
	assert.ErrorIs(t, err, keystore.ErrInvalidKeyName)
}

func TestKey_MaterialNotStoredInPlaintextWhenSealed(t *testing.T) {
	ks, backend := newTestKeyStore(t, "secret")
	_, err := ks.GenerateKey("demo", keystore.DefaultKeyParams())
	require.NoError(t, err)

	raw, err := storage.GetKey(backend, "demo")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"sealed":true`)
}

func TestKey_WrongPassphrase(t *testing.T) {
	backend := memory.New()
	first, err := New(&Config{Storage: backend, Passphrase: []byte("one"), KDF: testKDF})
	require.NoError(t, err)
	_, err = first.GenerateKey("demo", keystore.DefaultKeyParams())
	require.NoError(t, err)

	second, err := New(&Config{Storage: backend, Passphrase: []byte("two"), KDF: testKDF})
	require.NoError(t, err)
	k, err := second.GetKey("demo")
	require.NoError(t, err)

	iv := make([]byte, types.BlockSize)
	_, err = k.EncryptBlocks(iv, make([]byte, types.BlockSize))
	assert.ErrorIs(t, err, ErrInvalidPassphrase)

	none, err := New(&Config{Storage: backend, KDF: testKDF})
	require.NoError(t, err)
	k, err = none.GetKey("demo")
	require.NoError(t, err)
	_, err = k.EncryptBlocks(iv, make([]byte, types.BlockSize))
	assert.ErrorIs(t, err, ErrPassphraseRequired)
}

func TestKey_BlockValidation(t *testing.T) {
	ks, _ := newTestKeyStore(t, "")
	k, err := ks.GenerateKey("demo", keystore.DefaultKeyParams())
	require.NoError(t, err)

	_, err = k.EncryptBlocks(make([]byte, 8), make([]byte, 16))
	assert.ErrorIs(t, err, keystore.ErrInvalidBlocks)
	_, err = k.EncryptBlocks(make([]byte, 16), make([]byte, 15))
	assert.ErrorIs(t, err, keystore.ErrInvalidBlocks)
}

func TestKey_PurposeEnforced(t *testing.T) {
	ks, _ := newTestKeyStore(t, "")
	params := keystore.DefaultKeyParams()
	params.Purposes = types.PurposeEncrypt
	k, err := ks.GenerateKey("enc-only", params)
	require.NoError(t, err)

	iv := make([]byte, types.BlockSize)
	ct, err := k.EncryptBlocks(iv, make([]byte, types.BlockSize))
	require.NoError(t, err)
	_, err = k.DecryptBlocks(iv, ct)
	assert.ErrorIs(t, err, keystore.ErrPurposeNotAllowed)
}

func TestClose(t *testing.T) {
	ks, _ := newTestKeyStore(t, "pw")
	k, err := ks.GenerateKey("demo", keystore.DefaultKeyParams())
	require.NoError(t, err)
	require.NoError(t, ks.Close())

	_, err = ks.GetKey("demo")
	assert.ErrorIs(t, err, keystore.ErrClosed)
	_, err = k.EncryptBlocks(make([]byte, 16), make([]byte, 16))
	assert.ErrorIs(t, err, keystore.ErrClosed)
}

func TestPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	fs1, err := file.New(dir)
	require.NoError(t, err)
	ks1, err := New(&Config{Storage: fs1, Passphrase: []byte("pw"), KDF: testKDF})
	require.NoError(t, err)
	k1, err := ks1.GenerateKey("demo", keystore.DefaultKeyParams())
	require.NoError(t, err)

	iv := bytes.Repeat([]byte{1}, types.BlockSize)
	ct, err := k1.EncryptBlocks(iv, bytes.Repeat([]byte{2}, types.BlockSize))
	require.NoError(t, err)
	require.NoError(t, ks1.Close())

	fs2, err := file.New(dir)
	require.NoError(t, err)
	ks2, err := New(&Config{Storage: fs2, Passphrase: []byte("pw"), KDF: testKDF})
	require.NoError(t, err)
	k2, err := ks2.GetKey("demo")
	require.NoError(t, err)
	pt, err := k2.DecryptBlocks(iv, ct)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{2}, types.BlockSize), pt)
}

func TestSealUnseal(t *testing.T) {
	material := bytes.Repeat([]byte{0xAB}, 32)
	sealed, err := seal(bytes.NewReader(bytes.Repeat([]byte{3}, 64)), material, []byte("pw"), *testKDF)
	require.NoError(t, err)
	assert.Len(t, sealed, saltSize+nonceSize+len(material)+tagSize)

	got, err := unseal(sealed, []byte("pw"), *testKDF)
	require.NoError(t, err)
	assert.Equal(t, material, got)

	_, err = unseal(sealed[:10], []byte("pw"), *testKDF)
	assert.Error(t, err)
}
