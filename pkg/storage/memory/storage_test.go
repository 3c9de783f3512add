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

package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/jeremyhahn/go-biokey/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	store := New()
	if store == nil {
		t.Fatal("New() returned nil")
	}

	keys, err := store.List("")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPutGet(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value []byte
	}{
		{name: "simple", key: "a", value: []byte("value")},
		{name: "empty value", key: "empty", value: []byte{}},
		{name: "binary", key: "bin", value: []byte{0x00, 0x01, 0xff}},
		{name: "nested", key: "keys/demo.key", value: []byte("secret")},
	}

	store := New()
	defer store.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, store.Put(tt.key, tt.value, nil))
			got, err := store.Get(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestGetReturnsCopy(t *testing.T) {
	store := New()
	in := []byte("original")
	require.NoError(t, store.Put("k", in, nil))
	in[0] = 'X'

	got, err := store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)

	got[0] = 'Y'
	again, err := store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}

func TestNotFound(t *testing.T) {
	store := New()

	_, err := store.Get("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.Delete("missing"), storage.ErrNotFound)

	ok, err := store.Exists("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListPrefix(t *testing.T) {
	store := New()
	for _, k := range []string{"keys/b.key", "keys/a.key", "payloads/a.bin"} {
		require.NoError(t, store.Put(k, []byte("x"), nil))
	}

	keys, err := store.List("keys/")
	require.NoError(t, err)
	assert.Equal(t, []string{"keys/a.key", "keys/b.key"}, keys)
}

func TestClosed(t *testing.T) {
	store := New()
	require.NoError(t, store.Close())

	_, err := store.Get("k")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, store.Put("k", nil, nil), storage.ErrClosed)
	_, err = store.List("")
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestConcurrentAccess(t *testing.T) {
	store := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i)
			assert.NoError(t, store.Put(key, []byte(key), nil))
			_, err := store.Get(key)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	keys, err := store.List("k")
	require.NoError(t, err)
	assert.Len(t, keys, 32)
}
