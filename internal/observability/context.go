package observability

import (
	"context"

	"github.com/rs/zerolog"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	userIDKey     contextKey = "user_id"
	collectionKey contextKey = "collection"
	traceIDKey    contextKey = "trace_id"
	spanIDKey     contextKey = "span_id"
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

// WithUserID adds the scoping user ID to the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext retrieves the scoping user ID from context.
// Returns empty string if not present.
func UserIDFromContext(ctx context.Context) string {
	return stringValue(ctx, userIDKey)
}

// WithCollection adds the collection name to the context.
func WithCollection(ctx context.Context, collection string) context.Context {
	return context.WithValue(ctx, collectionKey, collection)
}

// CollectionFromContext retrieves the collection name from context.
func CollectionFromContext(ctx context.Context) string {
	return stringValue(ctx, collectionKey)
}

// WithTraceSpan adds trace and span IDs to the context.
func WithTraceSpan(ctx context.Context, traceID, spanID string) context.Context {
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, spanIDKey, spanID)
	return ctx
}

// TraceSpanFromContext retrieves trace and span IDs from context.
// Returns empty strings if not present.
func TraceSpanFromContext(ctx context.Context) (traceID, spanID string) {
	return stringValue(ctx, traceIDKey), stringValue(ctx, spanIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// RequestContext contains the observability data carried by a request.
type RequestContext struct {
	RequestID  string
	UserID     string
	Collection string
	TraceID    string
	SpanID     string
}

// WithRequestContextFull adds all non-empty request context values to the context.
func WithRequestContextFull(ctx context.Context, rc RequestContext) context.Context {
	if rc.RequestID != "" {
		ctx = WithRequestID(ctx, rc.RequestID)
	}
	if rc.UserID != "" {
		ctx = WithUserID(ctx, rc.UserID)
	}
	if rc.Collection != "" {
		ctx = WithCollection(ctx, rc.Collection)
	}
	if rc.TraceID != "" || rc.SpanID != "" {
		ctx = WithTraceSpan(ctx, rc.TraceID, rc.SpanID)
	}
	return ctx
}

// RequestContextFromContext extracts all request context from the context.
func RequestContextFromContext(ctx context.Context) RequestContext {
	traceID, spanID := TraceSpanFromContext(ctx)
	return RequestContext{
		RequestID:  RequestIDFromContext(ctx),
		UserID:     UserIDFromContext(ctx),
		Collection: CollectionFromContext(ctx),
		TraceID:    traceID,
		SpanID:     spanID,
	}
}

// LoggerFromContext returns logger enriched with the request fields stored in ctx.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	rc := RequestContextFromContext(ctx)
	if rc.RequestID == "" && rc.UserID == "" {
		return logger
	}
	return WithRequestContext(logger, rc.RequestID, rc.UserID)
}
