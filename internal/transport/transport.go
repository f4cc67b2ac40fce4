package transport

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrClosed          = errors.New("transport closed")
	ErrStaleConnection = errors.New("connection stale (no ping/pong)")
)

// Frame is one inbound payload.
type Frame struct {
	Data       []byte    // Raw frame bytes
	Binary     bool      // True for binary frames, false for text
	ReceivedAt time.Time // Local timestamp when the read returned
}

// Conn is a live transport handle.
type Conn interface {
	// ID identifies this handle in logs. Every Open returns a new ID.
	ID() string

	// Frames returns the inbound stream. It is closed when the stream ends,
	// after which Err reports why.
	Frames() <-chan Frame

	// Err returns the error that ended the stream, or nil if it ended because
	// Close was called. Only meaningful once Frames is closed.
	Err() error

	// Send writes one text frame.
	Send(data []byte) error

	// Close tears the stream down. Idempotent.
	Close() error
}

// Provider opens transport handles.
type Provider interface {
	Open(ctx context.Context, url string) (Conn, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, url string) (Conn, error)

// Open calls f(ctx, url).
func (f ProviderFunc) Open(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}
