// Package trace carries request correlation data (a request ID and the
// arrival time) through context.Context from the transport edge down to
// handlers and backend calls.
package trace

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type requestKey struct{}

type request struct {
	id         string
	receivedAt time.Time
}

// NewID returns a fresh request ID.
func NewID() string {
	return uuid.NewString()
}

// WithRequest returns a child context carrying the request ID and arrival
// time.
func WithRequest(ctx context.Context, id string, receivedAt time.Time) context.Context {
	return context.WithValue(ctx, requestKey{}, request{id: id, receivedAt: receivedAt})
}

// ID extracts the request ID from ctx, returning "" if absent.
func ID(ctx context.Context) string {
	if r, ok := ctx.Value(requestKey{}).(request); ok {
		return r.id
	}
	return ""
}

// ReceivedAt returns the arrival time recorded in ctx, or the zero time.
func ReceivedAt(ctx context.Context) time.Time {
	if r, ok := ctx.Value(requestKey{}).(request); ok {
		return r.receivedAt
	}
	return time.Time{}
}
