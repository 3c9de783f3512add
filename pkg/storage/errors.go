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

import "errors"

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrClosed is returned when the backend has been closed.
	ErrClosed = errors.New("storage: backend closed")

	// ErrInvalidID is returned for empty or unsafe identifiers.
	ErrInvalidID = errors.New("storage: invalid id")

	// ErrInvalidData is returned when a value cannot be stored.
	ErrInvalidData = errors.New("storage: invalid data")
)
