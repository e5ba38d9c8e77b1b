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

package unix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-eseaccess/pkg/adapters/audit"
	"github.com/jeremyhahn/go-eseaccess/pkg/adapters/logger"
	"github.com/jeremyhahn/go-eseaccess/pkg/arbiter"
	"github.com/jeremyhahn/go-eseaccess/pkg/client"
	"github.com/jeremyhahn/go-eseaccess/pkg/handshake"
	"github.com/jeremyhahn/go-eseaccess/pkg/health"
	"github.com/jeremyhahn/go-eseaccess/pkg/notify"
	"github.com/jeremyhahn/go-eseaccess/pkg/validation"
)

// maxBodyBytes caps request bodies; every body is a tiny JSON object.
const maxBodyBytes = 4096

// HandlerContext holds what the HTTP handlers need.
type HandlerContext struct {
	arbiter *arbiter.Arbiter
	mailbox *notify.Mailbox
	audit   audit.AuditAdapter
	health  *health.Checker
	logger  logger.ContextLogger
}

// statusFor maps a result code to an HTTP status.
func statusFor(code arbiter.ResultCode) int {
	switch code {
	case arbiter.CodeSuccess:
		return http.StatusOK
	case arbiter.CodeBusy:
		return http.StatusConflict
	case arbiter.CodeForbidden:
		return http.StatusForbidden
	case arbiter.CodeInvalid:
		return http.StatusBadRequest
	case arbiter.CodeTimeout:
		return http.StatusGatewayTimeout
	case arbiter.CodeClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *HandlerContext) writeResponse(w http.ResponseWriter, r *http.Request, code arbiter.ResultCode, resp any) {
	h.writeJSON(w, r, statusFor(code), resp)
}

// writeJSON writes a JSON response with the given status code.
func (h *HandlerContext) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to encode JSON response",
			logger.String("path", r.URL.Path), logger.Error(err))
	}
}

func (h *HandlerContext) reply(w http.ResponseWriter, r *http.Request, err error, resp client.Response) {
	code := arbiter.CodeOf(err)
	resp.Code = code.String()
	resp.State = h.arbiter.State().String()
	if err != nil {
		resp.Error = err.Error()
	}
	h.writeResponse(w, r, code, resp)
}

// decodeBody decodes an optional JSON body. An empty body leaves v as is.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed request body: %w", arbiter.ErrInvalid, err)
	}
	return nil
}

// operation adapts one arbiter entry point to a handler.
func (h *HandlerContext) operation(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.reply(w, r, fn(r.Context()), client.Response{})
	}
}

// StateHandler handles GET /api/v1/state requests.
func (h *HandlerContext) StateHandler(w http.ResponseWriter, r *http.Request) {
	state := h.arbiter.State()
	pending := make([]string, 0)
	for _, p := range handshake.Purposes() {
		if h.arbiter.Pending(p) {
			pending = append(pending, p.String())
		}
	}
	h.writeJSON(w, r, http.StatusOK, client.StateResponse{
		Response: client.Response{
			Code:  arbiter.CodeSuccess.String(),
			State: state.String(),
		},
		Access:            state,
		RailEnabled:       h.arbiter.RailEnabled(),
		Registered:        int32(h.arbiter.Registered()),
		LockHeld:          h.arbiter.Lock().Held(),
		PendingHandshakes: pending,
	})
}

// LockAcquireHandler handles POST /api/v1/lock requests.
func (h *HandlerContext) LockAcquireHandler(w http.ResponseWriter, r *http.Request) {
	var req client.LockRequest
	if err := decodeBody(r, &req); err != nil {
		h.reply(w, r, err, client.Response{})
		return
	}
	if req.TimeoutMS < 0 {
		h.reply(w, r, fmt.Errorf("%w: negative timeout_ms", arbiter.ErrInvalid), client.Response{})
		return
	}
	err := h.arbiter.Lock().Acquire(r.Context(), time.Duration(req.TimeoutMS)*time.Millisecond)
	h.reply(w, r, err, client.Response{})
}

// LockReleaseHandler handles DELETE /api/v1/lock requests.
func (h *HandlerContext) LockReleaseHandler(w http.ResponseWriter, r *http.Request) {
	h.reply(w, r, h.arbiter.Lock().Release(r.Context()), client.Response{})
}

// RegisterHandler handles PUT /api/v1/registration requests.
func (h *HandlerContext) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req client.RegistrationRequest
	if err := decodeBody(r, &req); err != nil {
		h.reply(w, r, err, client.Response{})
		return
	}
	id := notify.Identity(req.Identity)
	if id == notify.None {
		id = arbiter.CallerFromContext(r.Context())
	}
	if id <= notify.None {
		h.reply(w, r, fmt.Errorf("%w: no identity to register", arbiter.ErrInvalid), client.Response{})
		return
	}
	h.arbiter.Register(r.Context(), id)
	h.reply(w, r, nil, client.Response{Identity: int32(id)})
}

// UnregisterHandler handles DELETE /api/v1/registration requests.
func (h *HandlerContext) UnregisterHandler(w http.ResponseWriter, r *http.Request) {
	h.arbiter.Register(r.Context(), notify.None)
	h.reply(w, r, nil, client.Response{})
}

// ReleaseHandshakeHandler handles POST /api/v1/handshakes/{purpose}/release.
func (h *HandlerContext) ReleaseHandshakeHandler(w http.ResponseWriter, r *http.Request) {
	p, err := handshake.ParsePurpose(chi.URLParam(r, "purpose"))
	if err != nil {
		h.reply(w, r, fmt.Errorf("%w: %w", arbiter.ErrInvalid, err), client.Response{})
		return
	}
	released := h.arbiter.ReleaseHandshake(r.Context(), p)
	h.reply(w, r, nil, client.Response{Released: &released})
}

// NotificationsHandler handles GET /api/v1/notifications. It streams one
// JSON event per line for the caller's identity until the client goes
// away or the mailbox closes. ?register=true also registers the caller.
func (h *HandlerContext) NotificationsHandler(w http.ResponseWriter, r *http.Request) {
	if h.mailbox == nil {
		h.reply(w, r, fmt.Errorf("%w: notification stream not available", arbiter.ErrInvalid), client.Response{})
		return
	}
	id := arbiter.CallerFromContext(r.Context())
	if id <= notify.None {
		h.reply(w, r, fmt.Errorf("%w: caller identity unknown", arbiter.ErrInvalid), client.Response{})
		return
	}

	events, cancel := h.mailbox.Subscribe(id)
	defer cancel()
	if r.URL.Query().Get("register") == "true" {
		h.arbiter.Register(r.Context(), id)
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.WarnContext(r.Context(), "failed to clear write deadline", logger.Error(err))
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	h.logger.InfoContext(r.Context(), "notification stream opened", logger.Stringer("identity", id))
	defer h.logger.InfoContext(r.Context(), "notification stream closed", logger.Stringer("identity", id))

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// AuditHandler handles GET /api/v1/audit. Query parameters: limit
// (default 50), type (an audit event type) and outcome.
func (h *HandlerContext) AuditHandler(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		h.reply(w, r, fmt.Errorf("%w: audit trail not available", arbiter.ErrInvalid), client.Response{})
		return
	}

	q := r.URL.Query()
	query := &audit.EventQuery{Limit: 50}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.reply(w, r, fmt.Errorf("%w: invalid limit %q", arbiter.ErrInvalid, v), client.Response{})
			return
		}
		query.Limit = n
	}
	if v := q.Get("type"); v != "" {
		if err := validation.ValidateFilter("type", v); err != nil {
			h.reply(w, r, fmt.Errorf("%w: %w", arbiter.ErrInvalid, err), client.Response{})
			return
		}
		query.EventTypes = []audit.EventType{audit.EventType(v)}
	}
	if v := q.Get("outcome"); v != "" {
		if err := validation.ValidateFilter("outcome", v); err != nil {
			h.reply(w, r, fmt.Errorf("%w: %w", arbiter.ErrInvalid, err), client.Response{})
			return
		}
		query.Outcomes = []audit.EventOutcome{audit.EventOutcome(v)}
	}

	events, err := h.audit.GetEvents(r.Context(), query)
	if err != nil {
		h.reply(w, r, err, client.Response{})
		return
	}
	h.writeJSON(w, r, http.StatusOK, client.AuditResponse{
		Response: client.Response{
			Code:  arbiter.CodeSuccess.String(),
			State: h.arbiter.State().String(),
		},
		Events: events,
	})
}

// HealthHandler handles GET /health requests.
func (h *HandlerContext) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		h.writeHealth(w, r, client.HealthResponse{Status: health.StatusHealthy})
		return
	}
	results := h.health.Ready(r.Context())
	h.writeHealth(w, r, client.HealthResponse{
		Status: health.AggregateStatus(results),
		Checks: results,
	})
}

// LiveHandler handles GET /health/live requests.
func (h *HandlerContext) LiveHandler(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		h.writeHealth(w, r, client.HealthResponse{Status: health.StatusHealthy})
		return
	}
	result := h.health.Live(r.Context())
	h.writeHealth(w, r, client.HealthResponse{
		Status: result.Status,
		Checks: []health.CheckResult{result},
	})
}

// ReadyHandler handles GET /health/ready requests.
func (h *HandlerContext) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	h.HealthHandler(w, r)
}

func (h *HandlerContext) writeHealth(w http.ResponseWriter, r *http.Request, resp client.HealthResponse) {
	status := http.StatusOK
	if resp.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, r, status, resp)
}
