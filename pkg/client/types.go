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
	"github.com/jeremyhahn/go-eseaccess/pkg/access"
	"github.com/jeremyhahn/go-eseaccess/pkg/adapters/audit"
	"github.com/jeremyhahn/go-eseaccess/pkg/health"
)

// IdentityHeader lets a caller name the identity it acts for instead of
// its socket peer PID. A helper that registers on behalf of a HAL
// process uses it.
const IdentityHeader = "X-ESE-Identity"

// Response is the body of every operation reply.
type Response struct {
	// Code is the result code name: success, busy, forbidden, invalid,
	// timeout, io or closed.
	Code string `json:"code"`

	// State is the access state after the operation, e.g. "{Wired|Spi}".
	State string `json:"state"`

	Error string `json:"error,omitempty"`

	// Released is set by handshake release replies.
	Released *bool `json:"released,omitempty"`

	// Identity is set by registration replies.
	Identity int32 `json:"identity,omitempty"`
}

// StateResponse is returned by GET /api/v1/state.
type StateResponse struct {
	Response
	Access            access.State `json:"access"`
	RailEnabled       bool         `json:"rail_enabled"`
	Registered        int32        `json:"registered"`
	LockHeld          bool         `json:"lock_held"`
	PendingHandshakes []string     `json:"pending_handshakes"`
}

// LockRequest is the optional body of POST /api/v1/lock.
type LockRequest struct {
	TimeoutMS int64 `json:"timeout_ms,omitempty"`
}

// RegistrationRequest is the optional body of PUT /api/v1/registration.
// A zero identity registers the caller.
type RegistrationRequest struct {
	Identity int32 `json:"identity,omitempty"`
}

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status health.Status        `json:"status"`
	Checks []health.CheckResult `json:"checks,omitempty"`
}

// AuditResponse is returned by GET /api/v1/audit, newest event first.
type AuditResponse struct {
	Response
	Events []*audit.AuditEvent `json:"events"`
}
