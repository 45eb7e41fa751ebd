// Package requestid tags each webhook request with an ID that follows the
// handoff through the bridge's logs, from the bot platform call to the
// teardown it may trigger.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// WithRequestID returns a context carrying the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// FromContext returns the request ID carried by ctx. Work that arrives
// without one (timer expiry, resume-on-boot) gets a fresh ID so its log
// lines stay correlatable.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// New mints a request ID and returns the enriched context alongside it.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}
