package es

import (
	"context"
	"log/slog"
)

// Logger provides a minimal interface for observability and debugging.
// Components accept a nil Logger, in which case logging is skipped entirely.
type Logger interface {
	// Debug logs verbose operational details.
	Debug(ctx context.Context, msg string, keyvals ...interface{})

	// Info logs significant events during normal execution.
	Info(ctx context.Context, msg string, keyvals ...interface{})

	// Error logs failures that require attention.
	Error(ctx context.Context, msg string, keyvals ...interface{})
}

// NoOpLogger is a logger that does nothing.
type NoOpLogger struct{}

// Debug implements Logger.
func (NoOpLogger) Debug(_ context.Context, _ string, _ ...interface{}) {}

// Info implements Logger.
func (NoOpLogger) Info(_ context.Context, _ string, _ ...interface{}) {}

// Error implements Logger.
func (NoOpLogger) Error(_ context.Context, _ string, _ ...interface{}) {}

// SlogLogger adapts a *slog.Logger to Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps logger. A nil logger falls back to slog.Default().
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

// Debug implements Logger.
func (l *SlogLogger) Debug(ctx context.Context, msg string, keyvals ...interface{}) {
	l.logger.Log(ctx, slog.LevelDebug, msg, keyvals...)
}

// Info implements Logger.
func (l *SlogLogger) Info(ctx context.Context, msg string, keyvals ...interface{}) {
	l.logger.Log(ctx, slog.LevelInfo, msg, keyvals...)
}

// Error implements Logger.
func (l *SlogLogger) Error(ctx context.Context, msg string, keyvals ...interface{}) {
	l.logger.Log(ctx, slog.LevelError, msg, keyvals...)
}
