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

// Package pkcs11 implements keystore.Keystore on a PKCS#11 token. Keys are
// generated on the token as non-extractable AES secret keys and CBC runs
// inside the token.
package pkcs11

import (
	"fmt"

	"github.com/jeremyhahn/go-biokey/pkg/keystore"
)

// BackendName identifies this backend in logs and metrics.
const BackendName = "pkcs11"

// Config configures the PKCS#11 keystore.
type Config struct {
	Library    string `yaml:"library"`
	TokenLabel string `yaml:"token_label"`
	Slot       *int   `yaml:"slot"`
	PIN        string `yaml:"pin"`

	// KeyParams are reported for keys found on the token, which does not
	// record padding or purposes. Defaults to keystore.DefaultKeyParams.
	KeyParams *keystore.KeyParams `yaml:"-"`
}

// Validate checks the required fields.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("pkcs11: config is required")
	}
	if c.Library == "" {
		return fmt.Errorf("pkcs11: library path is required")
	}
	if c.TokenLabel == "" && c.Slot == nil {
		return fmt.Errorf("pkcs11: token label or slot is required")
	}
	if c.PIN == "" {
		return fmt.Errorf("pkcs11: PIN is required")
	}
	return nil
}
