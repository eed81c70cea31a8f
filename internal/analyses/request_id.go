package analyses

import (
	"context"

	"compat-backend/internal/runs"
)

type requestIDKey struct{}

type triggerKey struct{}

func withRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// WithRequestID attaches a request ID to the context for logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withRequestID(ctx, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithTrigger records what started a run (http, queue, cli).
func WithTrigger(ctx context.Context, trigger string) context.Context {
	if ctx == nil || trigger == "" {
		return ctx
	}
	return context.WithValue(ctx, triggerKey{}, trigger)
}

func triggerFromContext(ctx context.Context) string {
	if ctx == nil {
		return runs.TriggerHTTP
	}
	if t, ok := ctx.Value(triggerKey{}).(string); ok && t != "" {
		return t
	}
	return runs.TriggerHTTP
}
