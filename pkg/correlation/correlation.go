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

// Package correlation carries request and challenge identifiers through a
// context so log lines from the gate, the session controller and the
// operations server can be joined.
package correlation

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	correlationKey contextKey = "correlation-id"
	challengeKey   contextKey = "challenge-id"

	// RequestIDHeader is the fallback HTTP header for inbound IDs
	RequestIDHeader = "X-Request-ID"

	// CorrelationIDHeader is the HTTP header for correlation IDs
	CorrelationIDHeader = "X-Correlation-ID"
)

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationKey, id)
}

// GetCorrelationID returns the correlation ID in ctx, or "".
func GetCorrelationID(ctx context.Context) string {
	return value(ctx, correlationKey)
}

// WithChallengeID records the biometric challenge a call is serving. When
// ctx has no correlation ID yet the challenge ID becomes the correlation ID
// too, so a challenge started without a request still correlates.
func WithChallengeID(ctx context.Context, id string) context.Context {
	if GetCorrelationID(ctx) == "" {
		ctx = WithCorrelationID(ctx, id)
	}
	return context.WithValue(ctx, challengeKey, id)
}

// GetChallengeID returns the challenge ID in ctx, or "".
func GetChallengeID(ctx context.Context) string {
	return value(ctx, challengeKey)
}

// NewID generates a new UUID v4. Challenge identifiers use the same format.
func NewID() string {
	return uuid.New().String()
}

// FromRequest returns the inbound ID of r: X-Correlation-ID, then
// X-Request-ID, then a fresh ID.
func FromRequest(r *http.Request) string {
	if id := r.Header.Get(CorrelationIDHeader); id != "" {
		return id
	}
	if id := r.Header.Get(RequestIDHeader); id != "" {
		return id
	}
	return NewID()
}

func value(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(key).(string); ok {
		return id
	}
	return ""
}
