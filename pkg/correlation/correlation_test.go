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

package correlation

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithCorrelationID(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "abc")
	assert.Equal(t, "abc", GetCorrelationID(ctx))

	//nolint:staticcheck // nil context is accepted on purpose
	ctx = WithCorrelationID(nil, "def")
	assert.Equal(t, "def", GetCorrelationID(ctx))
}

func TestGetCorrelationID_Missing(t *testing.T) {
	assert.Empty(t, GetCorrelationID(context.Background()))
	//nolint:staticcheck // nil context is accepted on purpose
	assert.Empty(t, GetCorrelationID(nil))
	assert.Empty(t, GetChallengeID(context.Background()))
}

func TestWithChallengeID(t *testing.T) {
	ctx := WithChallengeID(context.Background(), "ch-1")
	assert.Equal(t, "ch-1", GetChallengeID(ctx))
	assert.Equal(t, "ch-1", GetCorrelationID(ctx))

	ctx = WithChallengeID(WithCorrelationID(context.Background(), "req-1"), "ch-2")
	assert.Equal(t, "ch-2", GetChallengeID(ctx))
	assert.Equal(t, "req-1", GetCorrelationID(ctx))
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)

	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(RequestIDHeader, "req-1")
	assert.Equal(t, "req-1", FromRequest(r))

	r.Header.Set(CorrelationIDHeader, "cid-1")
	assert.Equal(t, "cid-1", FromRequest(r))

	generated := FromRequest(httptest.NewRequest("GET", "/", nil))
	_, err := uuid.Parse(generated)
	assert.NoError(t, err)
}
