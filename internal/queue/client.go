package queue

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by a nil ClientFunc.
var ErrNotConfigured = errors.New("queue not configured")

// Client sends analysis requests to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f ClientFunc) Send(ctx context.Context, msg Message) error {
	if f == nil {
		return ErrNotConfigured
	}
	return f(ctx, msg)
}
