// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-eseaccess.
//
// go-eseaccess is dual-licensed:
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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-eseaccess/pkg/correlation"
)

func newJSONAdapter(buf *bytes.Buffer, level Level) *SlogAdapter {
	return NewSlogAdapter(&SlogConfig{Level: level, Format: "json", Output: buf})
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LevelFatal, "FATAL"},
		{Level(999), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, LevelDebug, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, LevelInfo, lvl)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestSlogAdapter_FieldTypes(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONAdapter(&buf, LevelDebug)

	l.Info("rail powered",
		String("operation", "spi_acquire"),
		Int("pid", 42),
		Bool("enabled", true),
		Duration("settle", 10*time.Millisecond),
		Error(errors.New("boom")),
	)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "rail powered", entry["msg"])
	assert.Equal(t, "spi_acquire", entry["operation"])
	assert.Equal(t, float64(42), entry["pid"])
	assert.Equal(t, true, entry["enabled"])
	assert.Equal(t, "boom", entry["error"])
}

func TestSlogAdapter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONAdapter(&buf, LevelWarn)

	l.Debug("hidden")
	l.Info("hidden")
	assert.Empty(t, buf.String())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestSlogAdapter_With(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONAdapter(&buf, LevelInfo).With(String("component", "arbiter"))

	l.WithError(errors.New("timeout")).Warn("handshake expired")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "arbiter", entry["component"])
	assert.Equal(t, "timeout", entry["error"])
}

func TestSlogAdapter_ContextCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONAdapter(&buf, LevelInfo)

	ctx := correlation.WithCorrelationID(context.Background(), "req-123")
	l.InfoContext(ctx, "granted")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "req-123", entry["correlation_id"])
}

func TestSlogAdapter_ContextWithoutCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONAdapter(&buf, LevelInfo)

	l.InfoContext(context.Background(), "granted")
	assert.NotContains(t, buf.String(), "correlation_id")
}

func TestSlogAdapter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogAdapter(&SlogConfig{Output: &buf})
	l.Info("hello", String("state", "{Idle}"))
	assert.True(t, strings.Contains(buf.String(), "state={Idle}"))
}

func TestCtxAdaptsPlainLogger(t *testing.T) {
	var buf bytes.Buffer
	var plain Logger = newJSONAdapter(&buf, LevelInfo)

	assert.NotPanics(t, func() {
		Ctx(plain).InfoContext(context.Background(), "ok")
		Ctx(nil).InfoContext(context.Background(), "dropped")
	})
	assert.Contains(t, buf.String(), "ok")
}
