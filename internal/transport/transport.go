// Package transport carries newline-terminated SCPI traffic between a backend
// and a physical instrument.
package transport

import (
	"context"
	"errors"
)

var ErrNotConnected = errors.New("transport is not connected")

// Transport exchanges whole lines. ReadFrame returns one line without its
// terminator; WriteFrame appends the terminator.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, payload []byte) error
}

// StatusTargetResolver is implemented by transports that can describe the
// endpoint they talk to.
type StatusTargetResolver interface {
	StatusTarget() string
}
