package common

import (
	"context"
	"log/slog"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID   contextKey = "request_id"
	ContextKeyContentHash contextKey = "content_hash"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithContentHash stores the hex-encoded SHA256 of the document being processed.
func WithContentHash(ctx context.Context, hex string) context.Context {
	return context.WithValue(ctx, ContextKeyContentHash, hex)
}

func ContentHashFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyContentHash).(string)
	return v, ok && v != ""
}

// LoggerFrom decorates logger with the request id and content hash found in ctx.
func LoggerFrom(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if id := RequestIDFromContext(ctx); id != "" {
		logger = logger.With("req_id", id)
	}
	if h, ok := ContentHashFromContext(ctx); ok {
		logger = logger.With("hash", h)
	}
	return logger
}
