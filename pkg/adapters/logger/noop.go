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

import "context"

// NoOp discards everything.
type NoOp struct{}

func (NoOp) Debug(msg string, fields ...Field) {}
func (NoOp) Info(msg string, fields ...Field) {}
func (NoOp) Warn(msg string, fields ...Field) {}
func (NoOp) Error(msg string, fields ...Field) {}
func (NoOp) Fatal(msg string, fields ...Field) {}
func (NoOp) DebugContext(ctx context.Context, msg string, fields ...Field) {}
func (NoOp) InfoContext(ctx context.Context, msg string, fields ...Field) {}
func (NoOp) WarnContext(ctx context.Context, msg string, fields ...Field) {}
func (NoOp) ErrorContext(ctx context.Context, msg string, fields ...Field) {}
func (n NoOp) With(fields ...Field) Logger { return n }
func (n NoOp) WithError(err error) Logger { return n }

// Ctx returns l as a ContextLogger, adapting loggers that do not
// implement the context variants by dropping the context.
func Ctx(l Logger) ContextLogger {
	if l == nil {
		return NoOp{}
	}
	if cl, ok := l.(ContextLogger); ok {
		return cl
	}
	return contextless{l}
}

type contextless struct {
	Logger
}

func (c contextless) DebugContext(_ context.Context, msg string, fields ...Field) {
	c.Debug(msg, fields...)
}

func (c contextless) InfoContext(_ context.Context, msg string, fields ...Field) {
	c.Info(msg, fields...)
}

func (c contextless) WarnContext(_ context.Context, msg string, fields ...Field) {
	c.Warn(msg, fields...)
}

func (c contextless) ErrorContext(_ context.Context, msg string, fields ...Field) {
	c.Error(msg, fields...)
}
