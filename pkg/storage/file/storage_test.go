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

package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jeremyhahn/go-biokey/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestNew_EmptyRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestPutGetDelete(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.Put("keys/demo.key", []byte("secret"), nil))

	got, err := s.Get("keys/demo.key")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), got)

	ok, err := s.Exists("keys/demo.key")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete("keys/demo.key"))
	_, err = s.Get("keys/demo.key")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.Delete("keys/demo.key"), storage.ErrNotFound)
}

func TestPut_KeyPermissions(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Put("keys/demo.key", []byte("secret"), nil))

	info, err := os.Stat(filepath.Join(s.Root(), "keys", "demo.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestPut_Overwrite(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Put("payloads/a.bin", []byte("one"), nil))
	require.NoError(t, s.Put("payloads/a.bin", []byte("two"), nil))

	got, err := s.Get("payloads/a.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)
}

func TestList(t *testing.T) {
	s := newTestStorage(t)
	for _, k := range []string{"keys/b.key", "keys/a.pub", "payloads/x.bin"} {
		require.NoError(t, s.Put(k, []byte("x"), nil))
	}

	keys, err := s.List("keys/")
	require.NoError(t, err)
	assert.Equal(t, []string{"keys/a.pub", "keys/b.key"}, keys)

	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"keys/demo.key", false},
		{"a", false},
		{"", true},
		{"/etc/passwd", true},
		{"../escape", true},
		{"keys/../../escape", true},
		{"bad\x00key", true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := validateKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, storage.ErrInvalidID)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClosed(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Close())

	_, err := s.Get("keys/demo.key")
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	first, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, storage.SaveKey(first, "demo", []byte("material")))

	second, err := New(dir)
	require.NoError(t, err)
	got, err := storage.GetKey(second, "demo")
	require.NoError(t, err)
	assert.Equal(t, []byte("material"), got)
}
