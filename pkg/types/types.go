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

// Package types holds the constants and small value types shared by the
// keystore, cipher and session packages.
package types

import (
	"fmt"
	"strings"
)

// =============================================================================
// Transformation
// =============================================================================
// The cipher transformation is fixed for every key managed by go-biokey.

// Algorithm identifies a symmetric algorithm.
type Algorithm string

// BlockMode identifies a block cipher mode of operation.
type BlockMode string

// Padding identifies a block padding scheme.
type Padding string

const (
	// AlgorithmAES is the only supported key algorithm.
	AlgorithmAES Algorithm = "AES"

	// BlockModeCBC is the only supported block mode.
	BlockModeCBC BlockMode = "CBC"

	// PaddingPKCS7 is the only supported padding.
	PaddingPKCS7 Padding = "PKCS7Padding"

	// Transformation is the canonical algorithm/mode/padding string.
	Transformation = string(AlgorithmAES) + "/" + string(BlockModeCBC) + "/" + string(PaddingPKCS7)

	// BlockSize is the AES block size and therefore the required IV length.
	BlockSize = 16

	// DefaultKeySize is the key size in bits used when none is configured.
	DefaultKeySize = 256
)

// ParseTransformation splits an "ALG/MODE/PADDING" string and verifies it
// names the supported transformation.
func ParseTransformation(s string) (Algorithm, BlockMode, Padding, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("types: malformed transformation %q", s)
	}
	alg, mode, pad := Algorithm(parts[0]), BlockMode(parts[1]), Padding(parts[2])
	if !strings.EqualFold(string(alg), string(AlgorithmAES)) {
		return "", "", "", fmt.Errorf("types: unsupported algorithm %q", parts[0])
	}
	if !strings.EqualFold(string(mode), string(BlockModeCBC)) {
		return "", "", "", fmt.Errorf("types: unsupported block mode %q", parts[1])
	}
	if !strings.EqualFold(string(pad), string(PaddingPKCS7)) {
		return "", "", "", fmt.Errorf("types: unsupported padding %q", parts[2])
	}
	return AlgorithmAES, BlockModeCBC, PaddingPKCS7, nil
}

// =============================================================================
// Mode and purposes
// =============================================================================

// Mode is the direction of a cipher operation.
type Mode int

const (
	// Encrypt produces ciphertext and a fresh IV.
	Encrypt Mode = iota + 1
	// Decrypt consumes ciphertext and the IV it was produced with.
	Decrypt
)

// String returns the lower case mode name.
func (m Mode) String() string {
	switch m {
	case Encrypt:
		return "encrypt"
	case Decrypt:
		return "decrypt"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Purpose is a permitted use of a key.
type Purpose uint8

const (
	PurposeEncrypt Purpose = 1 << iota
	PurposeDecrypt
)

// Has reports whether p includes other.
func (p Purpose) Has(other Purpose) bool {
	return p&other == other
}

// String lists the purposes joined by "|".
func (p Purpose) String() string {
	var names []string
	if p.Has(PurposeEncrypt) {
		names = append(names, "encrypt")
	}
	if p.Has(PurposeDecrypt) {
		names = append(names, "decrypt")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ValidAESKeySize reports whether bits is 128, 192 or 256.
func ValidAESKeySize(bits int) bool {
	switch bits {
	case 128, 192, 256:
		return true
	default:
		return false
	}
}
