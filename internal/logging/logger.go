// Package logging provides structured logging for the mutation service.
// Logs always go to stdout; when an OTLP logger provider is configured
// they are mirrored through the otelslog bridge as well.
package logging

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/sdk/log"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"
)

// Logger wraps slog.Logger with request-scoped helpers.
type Logger struct {
	*slog.Logger
}

// Config holds logging configuration.
type Config struct {
	Level          string              // debug, info, warn, error
	Format         string              // json, text
	LoggerProvider *log.LoggerProvider // optional OTLP export
}

// NewLogger builds a logger from configuration.
func NewLogger(cfg Config) *Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level >= slog.LevelError,
	}

	var stdout slog.Handler
	if cfg.Format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	handler := stdout
	if cfg.LoggerProvider != nil {
		otlp := otelslog.NewHandler("keystone", otelslog.WithLoggerProvider(cfg.LoggerProvider))
		handler = newMultiHandler(stdout, otlp)
	}

	return &Logger{Logger: slog.New(handler)}
}

// multiHandler fans one record out to several handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func newMultiHandler(handlers ...slog.Handler) *multiHandler {
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, record.Level) {
			if err := h.Handle(ctx, record); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

// WithRequestID returns a logger that tags every record with the request ID.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{Logger: l.With(slog.String("request_id", requestID))}
}

// WithFields returns a logger with additional fields attached.
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{Logger: l.With(fields...)}
}

// FromContext retrieves the request logger, falling back to slog.Default.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerKey).(*Logger); ok {
		return logger
	}
	return &Logger{Logger: slog.Default()}
}

// WithLogger stores the logger on the context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestIDContext stores a request ID on the context.
func WithRequestIDContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
