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
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-biokey/pkg/keystore"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

// softHSMConfig returns a config for an initialized SoftHSM token, or skips.
func softHSMConfig(t *testing.T) *Config {
	t.Helper()
	lib := os.Getenv("PKCS11_LIBRARY")
	if lib == "" {
		lib = "/usr/lib/softhsm/libsofthsm2.so"
	}
	if _, err := os.Stat(lib); err != nil {
		t.Skip("SoftHSM not available")
	}
	label := os.Getenv("PKCS11_TOKEN_LABEL")
	pin := os.Getenv("PKCS11_PIN")
	if label == "" || pin == "" {
		t.Skip("PKCS11_TOKEN_LABEL and PKCS11_PIN not set")
	}
	return &Config{Library: lib, TokenLabel: label, PIN: pin}
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, (*Config)(nil).Validate())
	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{Library: "x.so"}).Validate())
	assert.Error(t, (&Config{Library: "x.so", TokenLabel: "t"}).Validate())
	assert.NoError(t, (&Config{Library: "x.so", TokenLabel: "t", PIN: "1234"}).Validate())
}

func TestGenerateAndUse(t *testing.T) {
	ks, err := New(softHSMConfig(t))
	require.NoError(t, err)
	defer ks.Close()

	name := "biokey-test-" + t.Name()
	k, err := ks.GenerateKey(name, keystore.DefaultKeyParams())
	require.NoError(t, err)

	_, err = ks.GenerateKey(name, keystore.DefaultKeyParams())
	assert.ErrorIs(t, err, keystore.ErrKeyAlreadyExists)

	iv := bytes.Repeat([]byte{3}, types.BlockSize)
	src := bytes.Repeat([]byte{9}, 2*types.BlockSize)
	ct, err := k.EncryptBlocks(iv, src)
	require.NoError(t, err)

	found, err := ks.GetKey(name)
	require.NoError(t, err)
	pt, err := found.DecryptBlocks(iv, ct)
	require.NoError(t, err)
	assert.Equal(t, src, pt)
}

func TestGetKey_NotFound(t *testing.T) {
	ks, err := New(softHSMConfig(t))
	require.NoError(t, err)
	defer ks.Close()

	_, err = ks.GetKey("does-not-exist")
	assert.ErrorIs(t, err, keystore.ErrKeyNotFound)
}
