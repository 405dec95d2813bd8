// Package logging provides structured logging for ghmd on top of log/slog.
//
// Components obtain a scoped logger through WithComponent so that every
// record carries the subsystem it originated from (watcher, renderer,
// server). Errors are passed explicitly to Warn and Error and attached as a
// structured field rather than interpolated into the message.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// Logger is the logging interface used throughout ghmd.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...any)
	Info(ctx context.Context, msg string, fields ...any)
	Warn(ctx context.Context, err error, msg string, fields ...any)
	Error(ctx context.Context, err error, msg string, fields ...any)

	With(fields ...any) Logger
	WithComponent(component string) Logger
}

type slogLogger struct {
	logger *slog.Logger
}

// New creates a Logger writing text records to w at the given level.
// Unknown level strings fall back to info.
func New(level string, w io.Writer) Logger {
	return &slogLogger{
		logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: ParseLevel(level),
		})),
	}
}

// ParseLevel maps a level name to its slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *slogLogger) Debug(ctx context.Context, msg string, fields ...any) {
	l.logger.DebugContext(ctx, msg, fields...)
}

func (l *slogLogger) Info(ctx context.Context, msg string, fields ...any) {
	l.logger.InfoContext(ctx, msg, fields...)
}

func (l *slogLogger) Warn(ctx context.Context, err error, msg string, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err)
	}
	l.logger.WarnContext(ctx, msg, fields...)
}

func (l *slogLogger) Error(ctx context.Context, err error, msg string, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err)
	}
	l.logger.ErrorContext(ctx, msg, fields...)
}

func (l *slogLogger) With(fields ...any) Logger {
	return &slogLogger{logger: l.logger.With(fields...)}
}

func (l *slogLogger) WithComponent(component string) Logger {
	return l.With("component", component)
}

// Discard returns a Logger that drops every record. Intended for tests.
func Discard() Logger {
	return &slogLogger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
