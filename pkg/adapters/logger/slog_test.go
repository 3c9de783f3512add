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

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jeremyhahn/go-biokey/pkg/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "FATAL", LevelFatal.String())
	assert.Equal(t, "UNKNOWN", Level(99).String())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"":        LevelInfo,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestSlogAdapter_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogAdapter(&SlogConfig{Writer: &buf, Format: "json", Level: LevelDebug})

	log.Info("challenge issued",
		String("challenge_id", "abc"),
		Int("attempt", 2),
		Bool("bound", true),
		Duration("elapsed", time.Second),
		Error(errors.New("boom")))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "challenge issued", rec["msg"])
	assert.Equal(t, "abc", rec["challenge_id"])
	assert.Equal(t, float64(2), rec["attempt"])
	assert.Equal(t, true, rec["bound"])
	assert.Equal(t, "boom", rec["error"])
}

func TestSlogAdapter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogAdapter(&SlogConfig{Writer: &buf, Level: LevelWarn})

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestSlogAdapter_WithDoesNotDuplicate(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogAdapter(&SlogConfig{Writer: &buf})

	log.With(String("component", "gate")).WithError(errors.New("x")).Info("hello")

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "component=gate"))
	assert.Contains(t, out, "error=x")
}

func TestSlogAdapter_ContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogAdapter(&SlogConfig{Writer: &buf})

	ctx := correlation.WithCorrelationID(context.Background(), "cid-1")
	log.InfoContext(ctx, "resolved")
	assert.Contains(t, buf.String(), "correlation_id=cid-1")

	buf.Reset()
	log.InfoContext(correlation.WithChallengeID(ctx, "ch-1"), "presented")
	assert.Contains(t, buf.String(), "correlation_id=cid-1")
	assert.Contains(t, buf.String(), "challenge_id=ch-1")
}

func TestSlogAdapter_Fatal(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogAdapter(&SlogConfig{Writer: &buf})
	code := -1
	log.exit = func(c int) { code = c }

	log.Fatal("dying")
	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "dying")
}

func TestDiscard(t *testing.T) {
	log := Discard()
	log.Error("nothing")
	log.With(Any("k", 1)).Info("nothing")
}

func TestStringer(t *testing.T) {
	f := Stringer("level", LevelWarn)
	assert.Equal(t, "WARN", f.Value)
	assert.Equal(t, "<nil>", Stringer("x", nil).Value)
}
