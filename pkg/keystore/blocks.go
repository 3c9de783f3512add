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
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/jeremyhahn/go-biokey/pkg/types"
)

// EncryptCBC runs raw AES-CBC over block aligned src. It is used by backends
// that hold key material in process memory for the duration of one call.
func EncryptCBC(material, iv, src []byte) ([]byte, error) {
	block, err := newBlock(material, iv, src)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, len(src))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(dst, src)
	return dst, nil
}

// DecryptCBC is the inverse of EncryptCBC.
func DecryptCBC(material, iv, src []byte) ([]byte, error) {
	block, err := newBlock(material, iv, src)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, len(src))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(dst, src)
	return dst, nil
}

// CheckBlocks validates the IV length and block alignment of src.
func CheckBlocks(iv, src []byte) error {
	if len(iv) != types.BlockSize {
		return fmt.Errorf("%w: iv is %d bytes", ErrInvalidBlocks, len(iv))
	}
	if len(src) == 0 || len(src)%types.BlockSize != 0 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidBlocks, len(src))
	}
	return nil
}

// CheckPurpose returns ErrPurposeNotAllowed unless params permit mode.
func CheckPurpose(params KeyParams, mode types.Mode) error {
	want := types.PurposeEncrypt
	if mode == types.Decrypt {
		want = types.PurposeDecrypt
	}
	if !params.Purposes.Has(want) {
		return fmt.Errorf("%w: %s", ErrPurposeNotAllowed, mode)
	}
	return nil
}

// Zero overwrites b.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func newBlock(material, iv, src []byte) (cipher.Block, error) {
	if err := CheckBlocks(iv, src); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to create cipher: %w", err)
	}
	return block, nil
}
