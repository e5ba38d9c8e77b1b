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

package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledAllowsEverything(t *testing.T) {
	l := New(nil)
	defer l.Stop()
	assert.False(t, l.IsEnabled())
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("1"))
	}
	assert.Zero(t, l.Tracked())
}

func TestPerCallerBuckets(t *testing.T) {
	mock := clock.NewMock()
	l := New(&Config{Enabled: true, RequestsPerSecond: 1, Burst: 2, Clock: mock})
	defer l.Stop()

	assert.True(t, l.Allow("100"))
	assert.True(t, l.Allow("100"))
	assert.False(t, l.Allow("100"), "burst exhausted")
	assert.True(t, l.Allow("200"), "other callers have their own bucket")

	mock.Add(time.Second)
	assert.True(t, l.Allow("100"), "bucket refills with the clock")
	assert.Equal(t, 2, l.Tracked())
}

func TestBurstDefault(t *testing.T) {
	l := New(&Config{Enabled: true, RequestsPerSecond: 2.5, Clock: clock.NewMock()})
	defer l.Stop()
	assert.Equal(t, 3, l.burst)

	l2 := New(&Config{Enabled: true, RequestsPerSecond: 0.1, Clock: clock.NewMock()})
	defer l2.Stop()
	assert.Equal(t, 1, l2.burst)
}

func TestCleanupForgetsIdleCallers(t *testing.T) {
	mock := clock.NewMock()
	l := New(&Config{Enabled: true, RequestsPerSecond: 10, MaxIdle: time.Minute, CleanupInterval: time.Hour, Clock: mock})
	defer l.Stop()

	l.Allow("1")
	mock.Add(30 * time.Second)
	l.Allow("2")
	mock.Add(45 * time.Second)

	l.cleanup()
	assert.Equal(t, 1, l.Tracked())
}

func TestMiddleware(t *testing.T) {
	l := New(&Config{Enabled: true, RequestsPerSecond: 1, Burst: 1, Clock: clock.NewMock()})
	defer l.Stop()

	h := Middleware(l, func(r *http.Request) string { return r.Header.Get("X-Caller") })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

	serve := func(caller string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/spi/acquire", nil)
		req.Header.Set("X-Caller", caller)
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusNoContent, serve("7").Code)
	rec := serve("7")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusNoContent, serve("8").Code)
}
