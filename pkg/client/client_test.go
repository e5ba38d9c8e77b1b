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

package client

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-eseaccess/pkg/arbiter"
	"github.com/jeremyhahn/go-eseaccess/pkg/correlation"
	"github.com/jeremyhahn/go-eseaccess/pkg/handshake"
	"github.com/jeremyhahn/go-eseaccess/pkg/notify"
)

// serve runs handler on a unix socket and returns a client for it.
func serve(t *testing.T, handler http.Handler, id notify.Identity) *Client {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "c.sock")
	ln, err := net.Listen("unix", socket)
	require.NoError(t, err)

	srv := &http.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	c := New(&Config{SocketPath: socket, Timeout: 2 * time.Second, Identity: id})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_Defaults(t *testing.T) {
	c := New(nil)
	assert.Equal(t, DefaultSocketPath, c.SocketPath())
	assert.Equal(t, DefaultTimeout, c.config.Timeout)
}

func TestCodeError(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"busy", arbiter.ErrBusy},
		{"forbidden", arbiter.ErrForbidden},
		{"invalid", arbiter.ErrInvalid},
		{"timeout", arbiter.ErrTimeout},
		{"closed", arbiter.ErrClosed},
		{"io", arbiter.ErrRail},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := codeError(Response{Code: tt.code, Error: "detail"})
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "detail")
		})
	}

	assert.NoError(t, codeError(Response{Code: "success"}))
	assert.ErrorIs(t, codeError(Response{Code: "weird"}), ErrUnexpectedResponse)
}

func TestOperationSendsHeaders(t *testing.T) {
	var gotPath, gotIdentity, gotCorrelation string
	c := serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotIdentity = r.Header.Get(IdentityHeader)
		gotCorrelation = r.Header.Get(correlation.CorrelationIDHeader)
		reply(w, http.StatusOK, Response{Code: "success", State: "{Spi}"})
	}), 321)

	ctx := correlation.WithCorrelationID(context.Background(), "corr-1")
	resp, err := c.SpiAcquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "{Spi}", resp.State)
	assert.Equal(t, "/api/v1/spi/acquire", gotPath)
	assert.Equal(t, "321", gotIdentity)
	assert.Equal(t, "corr-1", gotCorrelation)
}

func TestOperationMapsBusy(t *testing.T) {
	c := serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusConflict, Response{Code: "busy", State: "{Wired|Spi}", Error: "arbiter: busy"})
	}), notify.None)

	resp, err := c.SpiPriorityAcquire(context.Background())
	require.ErrorIs(t, err, arbiter.ErrBusy)
	assert.Equal(t, "{Wired|Spi}", resp.State)
}

func TestRateLimitedIsBusy(t *testing.T) {
	c := serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	}), notify.None)

	_, err := c.WiredAcquire(context.Background())
	assert.ErrorIs(t, err, arbiter.ErrBusy)
}

func TestUnexpectedResponse(t *testing.T) {
	c := serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}), notify.None)

	_, err := c.State(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestConnectionFailed(t *testing.T) {
	c := New(&Config{SocketPath: filepath.Join(t.TempDir(), "missing.sock")})
	_, err := c.WiredRelease(context.Background())
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestLockAndHandshakeBodies(t *testing.T) {
	var lockReq LockRequest
	c := serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/lock":
			_ = json.NewDecoder(r.Body).Decode(&lockReq)
			reply(w, http.StatusOK, Response{Code: "success"})
		case "/api/v1/handshakes/priority_handoff/release":
			released := true
			reply(w, http.StatusOK, Response{Code: "success", Released: &released})
		default:
			reply(w, http.StatusNotFound, Response{Code: "invalid"})
		}
	}), notify.None)
	ctx := context.Background()

	_, err := c.LockAcquire(ctx, 1500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), lockReq.TimeoutMS)

	released, err := c.ReleaseHandshake(ctx, handshake.PriorityHandoff)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestListen(t *testing.T) {
	var registerParam string
	c := serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		registerParam = r.URL.Query().Get("register")
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		_ = enc.Encode(notify.Event{ID: "a", Reason: notify.SpiSvddSync, Name: "spi_svdd_sync"})
		_ = enc.Encode(notify.Event{ID: "b", Reason: notify.SpiEnd, Name: "spi_end"})
	}), 5)

	var got []notify.Reason
	err := c.Listen(context.Background(), true, func(ev notify.Event) error {
		got = append(got, ev.Reason)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "true", registerParam)
	assert.Equal(t, []notify.Reason{notify.SpiSvddSync, notify.SpiEnd}, got)
}

func TestListenError(t *testing.T) {
	c := serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusBadRequest, Response{Code: "invalid", Error: "caller identity unknown"})
	}), notify.None)

	err := c.Listen(context.Background(), false, func(notify.Event) error { return nil })
	assert.ErrorIs(t, err, arbiter.ErrInvalid)
}
