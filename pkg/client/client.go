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

// Package client talks to the esed daemon over its Unix socket.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jeremyhahn/go-eseaccess/pkg/arbiter"
	"github.com/jeremyhahn/go-eseaccess/pkg/correlation"
	"github.com/jeremyhahn/go-eseaccess/pkg/handshake"
	"github.com/jeremyhahn/go-eseaccess/pkg/notify"
)

// DefaultSocketPath is the default daemon socket.
const DefaultSocketPath = "/run/esed/esed.sock"

// DefaultTimeout bounds a single request. It is longer than a
// handshake so busy waits on the daemon side finish first.
const DefaultTimeout = 10 * time.Second

var (
	// ErrConnectionFailed is returned when the daemon cannot be reached.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrUnexpectedResponse is returned for replies that do not decode.
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// Config configures a Client.
type Config struct {
	// SocketPath is the daemon socket (default: DefaultSocketPath).
	SocketPath string

	// Timeout bounds each request except Listen (default: DefaultTimeout).
	Timeout time.Duration

	// Identity, if non-zero, is sent in IdentityHeader so the daemon
	// attributes requests to it instead of this process.
	Identity notify.Identity
}

// Client is a daemon client. It is safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
	stream     *http.Client
}

// New creates a client. No connection is made until the first request.
func New(cfg *Config) *Client {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", c.SocketPath)
		},
	}
	return &Client{
		config:     c,
		httpClient: &http.Client{Transport: transport, Timeout: c.Timeout},
		stream:     &http.Client{Transport: transport},
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SocketPath returns the configured socket.
func (c *Client) SocketPath() string {
	return c.config.SocketPath
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	// The host is ignored by the unix dialer.
	req, err := http.NewRequestWithContext(ctx, method, "http://esed"+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := correlation.GetCorrelationID(ctx); id != "" {
		req.Header.Set(correlation.CorrelationIDHeader, id)
	}
	if c.config.Identity != notify.None {
		req.Header.Set(IdentityHeader, strconv.Itoa(int(c.config.Identity)))
	}
	return req, nil
}

// do sends a request and decodes the reply into out. A reply carrying a
// non-success code is returned as an error that matches the arbiter's
// sentinel for that code.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: rate limited", arbiter.ErrBusy)
	}

	var base Response
	if err := json.Unmarshal(data, &base); err != nil {
		return fmt.Errorf("%w: status %d: %s", ErrUnexpectedResponse, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
		}
	}
	return codeError(base)
}

func codeError(r Response) error {
	code, err := arbiter.ParseResultCode(r.Code)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
	}
	if code == arbiter.CodeSuccess {
		return nil
	}
	if r.Error != "" {
		return fmt.Errorf("%w: %s", code.Err(), r.Error)
	}
	return code.Err()
}

func (c *Client) operation(ctx context.Context, method, path string, body any) (*Response, error) {
	var resp Response
	err := c.do(ctx, method, path, body, &resp)
	return &resp, err
}

// State returns the daemon's current access state.
func (c *Client) State(ctx context.Context) (*StateResponse, error) {
	var resp StateResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/state", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WiredAcquire calls the wired_acquire operation.
func (c *Client) WiredAcquire(ctx context.Context) (*Response, error) {
	return c.operation(ctx, http.MethodPost, "/api/v1/wired/acquire", nil)
}

// WiredRelease calls the wired_release operation.
func (c *Client) WiredRelease(ctx context.Context) (*Response, error) {
	return c.operation(ctx, http.MethodPost, "/api/v1/wired/release", nil)
}

// SpiAcquire calls the spi_acquire operation.
func (c *Client) SpiAcquire(ctx context.Context) (*Response, error) {
	return c.operation(ctx, http.MethodPost, "/api/v1/spi/acquire", nil)
}

// SpiRelease calls the spi_release operation.
func (c *Client) SpiRelease(ctx context.Context) (*Response, error) {
	return c.operation(ctx, http.MethodPost, "/api/v1/spi/release", nil)
}

// SpiPriorityAcquire calls the spi_priority_acquire operation.
func (c *Client) SpiPriorityAcquire(ctx context.Context) (*Response, error) {
	return c.operation(ctx, http.MethodPost, "/api/v1/priority/acquire", nil)
}

// SpiPriorityRelease calls the spi_priority_release operation.
func (c *Client) SpiPriorityRelease(ctx context.Context) (*Response, error) {
	return c.operation(ctx, http.MethodPost, "/api/v1/priority/release", nil)
}

// DownloadStart calls the download_start operation.
func (c *Client) DownloadStart(ctx context.Context) (*Response, error) {
	return c.operation(ctx, http.MethodPost, "/api/v1/download/start", nil)
}

// DownloadEnd calls the download_end operation.
func (c *Client) DownloadEnd(ctx context.Context) (*Response, error) {
	return c.operation(ctx, http.MethodPost, "/api/v1/download/end", nil)
}

// JcopDownloadStart calls the jcop_download_start operation.
func (c *Client) JcopDownloadStart(ctx context.Context) (*Response, error) {
	return c.operation(ctx, http.MethodPost, "/api/v1/jcop/start", nil)
}

// JcopDownloadEnd calls the jcop_download_end operation.
func (c *Client) JcopDownloadEnd(ctx context.Context) (*Response, error) {
	return c.operation(ctx, http.MethodPost, "/api/v1/jcop/end", nil)
}

// LockAcquire takes the transaction lock, waiting up to timeout on the
// daemon. A zero timeout selects the daemon's handshake timeout.
func (c *Client) LockAcquire(ctx context.Context, timeout time.Duration) (*Response, error) {
	return c.operation(ctx, http.MethodPost, "/api/v1/lock", LockRequest{TimeoutMS: timeout.Milliseconds()})
}

// LockRelease frees the transaction lock.
func (c *Client) LockRelease(ctx context.Context) (*Response, error) {
	return c.operation(ctx, http.MethodDelete, "/api/v1/lock", nil)
}

// Register makes id the notification recipient. notify.None registers
// the caller.
func (c *Client) Register(ctx context.Context, id notify.Identity) (*Response, error) {
	return c.operation(ctx, http.MethodPut, "/api/v1/registration", RegistrationRequest{Identity: int32(id)})
}

// Unregister clears the notification recipient.
func (c *Client) Unregister(ctx context.Context) (*Response, error) {
	return c.operation(ctx, http.MethodDelete, "/api/v1/registration", nil)
}

// ReleaseHandshake acknowledges the pending handshake for p. The bool
// reports whether a handshake was actually pending.
func (c *Client) ReleaseHandshake(ctx context.Context, p handshake.Purpose) (bool, error) {
	resp, err := c.operation(ctx, http.MethodPost, "/api/v1/handshakes/"+p.String()+"/release", nil)
	if err != nil {
		return false, err
	}
	return resp.Released != nil && *resp.Released, nil
}

// Audit returns up to limit recent audit events. eventType and outcome
// filter when non-empty.
func (c *Client) Audit(ctx context.Context, limit int, eventType, outcome string) (*AuditResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if eventType != "" {
		q.Set("type", eventType)
	}
	if outcome != "" {
		q.Set("outcome", outcome)
	}
	var resp AuditResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/audit?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health returns the daemon's aggregated readiness.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
	}
	return &out, nil
}

// Listen streams notifications for the caller's identity until ctx is
// cancelled, the daemon closes the stream, or fn returns an error. With
// register set the daemon also registers the caller as the recipient.
func (c *Client) Listen(ctx context.Context, register bool, fn func(notify.Event) error) error {
	path := "/api/v1/notifications"
	if register {
		path += "?register=true"
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var base Response
		if err := json.NewDecoder(resp.Body).Decode(&base); err != nil {
			return fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode)
		}
		return codeError(base)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev notify.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return scanner.Err()
}
