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

package arbiter

import (
	"context"
	"time"

	"github.com/jeremyhahn/go-eseaccess/pkg/access"
	"github.com/jeremyhahn/go-eseaccess/pkg/adapters/audit"
	"github.com/jeremyhahn/go-eseaccess/pkg/adapters/logger"
	"github.com/jeremyhahn/go-eseaccess/pkg/correlation"
	"github.com/jeremyhahn/go-eseaccess/pkg/metrics"
	"github.com/jeremyhahn/go-eseaccess/pkg/notify"
)

type callerKey struct{}

// WithCaller attaches the identity of the process making a request. It
// is recorded in the audit trail.
func WithCaller(ctx context.Context, id notify.Identity) context.Context {
	return context.WithValue(ctx, callerKey{}, id)
}

// CallerFromContext returns the identity set by WithCaller, or
// notify.None.
func CallerFromContext(ctx context.Context) notify.Identity {
	if id, ok := ctx.Value(callerKey{}).(notify.Identity); ok {
		return id
	}
	return notify.None
}

// run executes one entry point and records its metrics, log line and
// audit event.
func (a *Arbiter) run(ctx context.Context, op string, ev audit.EventType, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := a.clock.Now()
	before := a.State()

	err := fn(ctx)

	elapsed := a.clock.Since(start)
	after := a.State()
	code := CodeOf(err)
	metrics.RecordOperation(op, code.String(), elapsed.Seconds())

	fields := []logger.Field{
		logger.String("operation", op),
		logger.String("result", code.String()),
		logger.Stringer("state", after),
		logger.Duration("elapsed", elapsed),
	}
	switch code {
	case CodeSuccess:
		a.log.DebugContext(ctx, "operation granted", fields...)
	case CodeBusy:
		a.log.InfoContext(ctx, "operation rejected", append(fields, logger.Error(err))...)
	default:
		a.log.WarnContext(ctx, "operation failed", append(fields, logger.Error(err))...)
	}

	a.record(ctx, ev, code, before, after, elapsed, err, nil)
	return err
}

func (a *Arbiter) record(ctx context.Context, ev audit.EventType, code ResultCode, before, after access.State, elapsed time.Duration, err error, meta map[string]string) {
	if a.audit == nil {
		return
	}
	event := &audit.AuditEvent{
		Timestamp:   a.clock.Now(),
		EventType:   ev,
		Outcome:     audit.EventOutcome(code.String()),
		StateBefore: before.String(),
		StateAfter:  after.String(),
		Duration:    elapsed,
		RequestID:   correlation.GetCorrelationID(ctx),
		Metadata:    meta,
	}
	if id := CallerFromContext(ctx); id != notify.None {
		event.Principal = id.String()
	}
	if err != nil {
		event.Error = err.Error()
	}
	if logErr := a.audit.LogEvent(ctx, event); logErr != nil {
		a.log.WarnContext(ctx, "audit event dropped", logger.Error(logErr))
	}
}
