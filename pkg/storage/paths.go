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

package storage

import (
	"fmt"
	"sort"
	"strings"
)

const (
	keysPrefix     = "keys/"
	payloadsPrefix = "payloads/"
)

// Blob extensions used by keystores that persist more than one object per key.
const (
	ExtKey     = ".key"
	ExtPublic  = ".pub"
	ExtPrivate = ".priv"
	ExtPayload = ".bin"
)

// KeyPath returns the storage path for a key blob. The id may already carry
// one of the Ext* suffixes; ".key" is appended otherwise.
func KeyPath(id string) string {
	if strings.HasSuffix(id, ExtPublic) || strings.HasSuffix(id, ExtPrivate) || strings.HasSuffix(id, ExtKey) {
		return keysPrefix + id
	}
	return keysPrefix + id + ExtKey
}

// PayloadPath returns the storage path for a persisted payload.
func PayloadPath(name string) string {
	return payloadsPrefix + name + ExtPayload
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidID)
	}
	if strings.Contains(id, "..") || strings.ContainsAny(id, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// SaveKey stores a key blob.
func SaveKey(b Backend, id string, data []byte) error {
	if err := validateID(id); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty key blob", ErrInvalidData)
	}
	return b.Put(KeyPath(id), data, DefaultOptions())
}

// GetKey loads a key blob.
func GetKey(b Backend, id string) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	return b.Get(KeyPath(id))
}

// DeleteKey removes a key blob.
func DeleteKey(b Backend, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	return b.Delete(KeyPath(id))
}

// KeyExists reports whether a key blob is present.
func KeyExists(b Backend, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	return b.Exists(KeyPath(id))
}

// ListKeys returns the names of stored keys without prefix or extension.
// Multi-blob keys are reported once.
func ListKeys(b Backend) ([]string, error) {
	paths, err := b.List(keysPrefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		name := strings.TrimPrefix(p, keysPrefix)
		for _, ext := range []string{ExtKey, ExtPublic, ExtPrivate} {
			name = strings.TrimSuffix(name, ext)
		}
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// SavePayload stores an encoded payload under name.
func SavePayload(b Backend, name string, data []byte) error {
	if err := validateID(name); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidData)
	}
	return b.Put(PayloadPath(name), data, DefaultOptions())
}

// GetPayload loads an encoded payload.
func GetPayload(b Backend, name string) ([]byte, error) {
	if err := validateID(name); err != nil {
		return nil, err
	}
	return b.Get(PayloadPath(name))
}
