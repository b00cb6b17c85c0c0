package observability

import (
	"context"

	"github.com/rs/zerolog"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	recordURLKey contextKey = "record_url"
	runIDKey     contextKey = "run_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithRecordURL adds the URL of the record being resolved to the context.
func WithRecordURL(ctx context.Context, url string) context.Context {
	return context.WithValue(ctx, recordURLKey, url)
}

// RecordURLFromContext retrieves the record URL from context.
func RecordURLFromContext(ctx context.Context) string {
	return stringValue(ctx, recordURLKey)
}

// WithRunID adds a batch run identifier to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext retrieves the batch run identifier from context.
func RunIDFromContext(ctx context.Context) string {
	return stringValue(ctx, runIDKey)
}

// LoggerFromContext returns logger enriched with every observability
// field present in ctx.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if v := RunIDFromContext(ctx); v != "" {
		logger = logger.With().Str("run_id", v).Logger()
	}
	if v := RequestIDFromContext(ctx); v != "" {
		logger = WithRequestContext(logger, v)
	}
	if v := RecordURLFromContext(ctx); v != "" {
		logger = WithRecordContext(logger, v)
	}
	return logger
}

func stringValue(ctx context.Context, key contextKey) string {
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
