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

// Package storage defines the byte-oriented persistence layer used by the
// software and TPM keystores for key blobs and by callers that want to keep
// an encrypted payload beyond process memory.
package storage

import "io/fs"

// Backend is a flat key/value store. Keys are slash separated paths such as
// "keys/demo.key" or "payloads/demo.bin".
type Backend interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(key string) ([]byte, error)

	// Put stores value under key, replacing any existing value.
	Put(key string, value []byte, opts *Options) error

	// Delete removes key or returns ErrNotFound.
	Delete(key string) error

	// List returns all keys starting with prefix in sorted order.
	List(prefix string) ([]string, error)

	// Exists reports whether key is present.
	Exists(key string) (bool, error)

	// Close releases resources. Further calls return ErrClosed.
	Close() error
}

// Options carries optional write parameters.
type Options struct {
	// Permissions overrides the backend's default file mode.
	Permissions fs.FileMode

	// Metadata is free-form data a backend may record with the value.
	Metadata map[string]string
}

// DefaultOptions returns owner-only write options.
func DefaultOptions() *Options {
	return &Options{
		Permissions: 0600,
		Metadata:    make(map[string]string),
	}
}
