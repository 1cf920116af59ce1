package transport

import (
	"context"
	"errors"
	"log/slog"
)

// ErrNotConnected is returned by frame I/O on a transport that is not connected.
var ErrNotConnected = errors.New("transport is not connected")

// Transport moves start-marked frames over a byte stream. ReadFrame returns
// the frame without its delimiter; WriteFrame appends one.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, frame []byte) error
}

// StatusTargetResolver is implemented by transports that can name their
// endpoint for status events.
type StatusTargetResolver interface {
	StatusTarget() string
}

// Prober is implemented by transports that can tell, without connecting,
// whether their device exists.
type Prober interface {
	Probe() error
}

func linkLogger(name string, attrs ...any) *slog.Logger {
	return slog.With(append([]any{"component", "link", "transport", name}, attrs...)...)
}
