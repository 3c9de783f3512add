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

//go:build !pkcs11

package pkcs11

import (
	"errors"

	"github.com/jeremyhahn/go-biokey/pkg/keystore"
)

// ErrNotCompiled is returned when the binary was built without the pkcs11 tag.
var ErrNotCompiled = errors.New("pkcs11: support not compiled in (build with -tags pkcs11)")

// NewOpener returns an Opener that always fails with ErrNotCompiled.
func NewOpener(*Config) keystore.Opener {
	return keystore.OpenerFunc(func() (keystore.Keystore, error) {
		return nil, ErrNotCompiled
	})
}
