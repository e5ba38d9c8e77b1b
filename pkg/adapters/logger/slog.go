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
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jeremyhahn/go-eseaccess/pkg/correlation"
)

// SlogAdapter wraps a slog.Logger to implement the Logger interface
type SlogAdapter struct {
	logger *slog.Logger
}

// SlogConfig configures the slog adapter
type SlogConfig struct {
	// Logger is the underlying slog logger
	// If nil, a new logger will be created
	Logger *slog.Logger

	// Level is the minimum log level to output
	Level Level

	// Format selects the handler when Logger and Handler are nil:
	// "json", or "text"/"console" (default).
	Format string

	// Output is where a created handler writes. Defaults to os.Stderr.
	Output io.Writer

	// Handler is the slog handler to use (e.g., JSONHandler, TextHandler)
	Handler slog.Handler

	// AddSource adds source code position to log records
	AddSource bool
}

// NewSlogAdapter creates a new slog adapter
func NewSlogAdapter(config *SlogConfig) *SlogAdapter {
	if config == nil {
		config = &SlogConfig{}
	}

	l := config.Logger
	if l == nil {
		handler := config.Handler
		if handler == nil {
			out := config.Output
			if out == nil {
				out = os.Stderr
			}
			opts := &slog.HandlerOptions{
				Level:     levelToSlogLevel(config.Level),
				AddSource: config.AddSource,
			}
			if strings.EqualFold(config.Format, "json") {
				handler = slog.NewJSONHandler(out, opts)
			} else {
				handler = slog.NewTextHandler(out, opts)
			}
		}
		l = slog.New(handler)
	}

	return &SlogAdapter{logger: l}
}

// Slog returns the underlying slog logger.
func (l *SlogAdapter) Slog() *slog.Logger {
	return l.logger
}

// Debug logs a debug message
func (l *SlogAdapter) Debug(msg string, fields ...Field) {
	l.log(context.Background(), slog.LevelDebug, msg, fields)
}

// Info logs an informational message
func (l *SlogAdapter) Info(msg string, fields ...Field) {
	l.log(context.Background(), slog.LevelInfo, msg, fields)
}

// Warn logs a warning message
func (l *SlogAdapter) Warn(msg string, fields ...Field) {
	l.log(context.Background(), slog.LevelWarn, msg, fields)
}

// Error logs an error message
func (l *SlogAdapter) Error(msg string, fields ...Field) {
	l.log(context.Background(), slog.LevelError, msg, fields)
}

// Fatal logs a fatal message and exits
func (l *SlogAdapter) Fatal(msg string, fields ...Field) {
	l.log(context.Background(), slog.LevelError, msg, fields)
	os.Exit(1)
}

// DebugContext logs a debug message with correlation ID from context
func (l *SlogAdapter) DebugContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, slog.LevelDebug, msg, withCorrelationID(ctx, fields))
}

// InfoContext logs an informational message with correlation ID from context
func (l *SlogAdapter) InfoContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, slog.LevelInfo, msg, withCorrelationID(ctx, fields))
}

// WarnContext logs a warning message with correlation ID from context
func (l *SlogAdapter) WarnContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, slog.LevelWarn, msg, withCorrelationID(ctx, fields))
}

// ErrorContext logs an error message with correlation ID from context
func (l *SlogAdapter) ErrorContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, slog.LevelError, msg, withCorrelationID(ctx, fields))
}

// With creates a child logger with the given fields
func (l *SlogAdapter) With(fields ...Field) Logger {
	return &SlogAdapter{logger: l.logger.With(attrsToAny(toAttrs(fields))...)}
}

// WithError creates a child logger with an error field
func (l *SlogAdapter) WithError(err error) Logger {
	return l.With(Error(err))
}

func (l *SlogAdapter) log(ctx context.Context, level slog.Level, msg string, fields []Field) {
	if ctx == nil {
		ctx = context.Background()
	}
	l.logger.LogAttrs(ctx, level, msg, toAttrs(fields)...)
}

// withCorrelationID appends the correlation id carried by ctx, if any.
func withCorrelationID(ctx context.Context, fields []Field) []Field {
	if id := correlation.GetCorrelationID(ctx); id != "" {
		fields = append(fields, String("correlation_id", id))
	}
	return fields
}

func toAttrs(fields []Field) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, fieldToAttr(f))
	}
	return attrs
}

func fieldToAttr(field Field) slog.Attr {
	switch v := field.Value.(type) {
	case string:
		return slog.String(field.Key, v)
	case int:
		return slog.Int(field.Key, v)
	case int64:
		return slog.Int64(field.Key, v)
	case bool:
		return slog.Bool(field.Key, v)
	case time.Duration:
		return slog.Duration(field.Key, v)
	default:
		return slog.Any(field.Key, v)
	}
}

func attrsToAny(attrs []slog.Attr) []any {
	result := make([]any, len(attrs))
	for i, attr := range attrs {
		result[i] = attr
	}
	return result
}

func levelToSlogLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError, LevelFatal:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
