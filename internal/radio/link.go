package radio

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/novoground/gcs/internal/backend"
	"github.com/novoground/gcs/internal/bus"
	"github.com/novoground/gcs/internal/connectors"
	"github.com/novoground/gcs/internal/domain"
	"github.com/novoground/gcs/internal/protocol"
	"github.com/novoground/gcs/internal/transport"
)

// Return codes of the LiveLink contract.
const (
	rcOK int32 = iota
	rcConnectFailed
	rcUnknownCommand
	rcWriteFailed
	rcCloseFailed
	rcNotConnected
)

const (
	connectTimeout = 6 * time.Second
	writeTimeout   = 3 * time.Second
	readTimeout    = 30 * time.Second
	joinTimeout    = 2 * time.Second
	maxBackoff     = 15 * time.Second
)

// Link drives a radio transport and exposes it through the backend.LiveLink
// contract. A background reader keeps only the newest telemetry frame.
type Link struct {
	logger    *slog.Logger
	transport transport.Transport
	bus       bus.MessageBus

	mu     sync.Mutex
	latest []byte
	cancel context.CancelFunc
	done   chan struct{}
}

var _ backend.LiveLink = (*Link)(nil)

func NewLink(logger *slog.Logger, tr transport.Transport, b bus.MessageBus) *Link {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Link{logger: logger, transport: tr, bus: b}
}

// Opener returns a backend.LinkOpener for tr. Transports that can tell
// whether their device exists are probed first.
func Opener(logger *slog.Logger, tr transport.Transport, b bus.MessageBus) backend.LinkOpener {
	return func() (backend.LiveLink, error) {
		if tr == nil {
			return nil, fmt.Errorf("%w: no transport configured", backend.ErrLinkUnavailable)
		}
		if p, ok := tr.(transport.Prober); ok {
			if err := p.Probe(); err != nil {
				return nil, fmt.Errorf("%w: %w", backend.ErrLinkUnavailable, err)
			}
		}

		return NewLink(logger, tr, b), nil
	}
}

func (l *Link) Initialize() int32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done != nil {
		return rcOK
	}

	l.publishConnStatus(connectors.ConnectionStateConnecting, nil)
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	err := l.transport.Connect(ctx)
	cancel()
	if err != nil {
		l.logger.Error("transport connect failed", "transport", l.transport.Name(), "error", err)
		l.publishConnStatus(connectors.ConnectionStateDisconnected, err)
		return rcConnectFailed
	}
	l.publishConnStatus(connectors.ConnectionStateConnected, nil)

	runCtx, runCancel := context.WithCancel(context.Background())
	l.cancel = runCancel
	l.done = make(chan struct{})
	go l.run(runCtx, l.done)

	return rcOK
}

func (l *Link) SendCommand(code int32) int32 {
	if !l.running() {
		return rcNotConnected
	}

	frame, err := protocol.EncodeCommand(domain.Command(code))
	if err != nil {
		l.logger.Warn("encode command failed", "code", code, "error", err)
		return rcUnknownCommand
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := l.transport.WriteFrame(ctx, frame); err != nil {
		l.logger.Error("command write failed", "code", code, "error", err)
		return rcWriteFailed
	}
	l.publishRaw(connectors.TopicRawFrameOut, frame)

	return rcOK
}

// ReceiveTelemetry hands over the newest frame, or nil if none arrived since
// the last call.
func (l *Link) ReceiveTelemetry() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	frame := l.latest
	l.latest = nil

	return frame
}

func (l *Link) CloseConnection() int32 {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.latest = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// Closing the transport unblocks a reader parked in ReadFrame.
	err := l.transport.Close()
	if done != nil {
		select {
		case <-done:
		case <-time.After(joinTimeout):
			l.logger.Warn("link reader did not stop in time", "timeout", joinTimeout)
		}
	}
	l.publishConnStatus(connectors.ConnectionStateDisconnected, err)
	if err != nil {
		l.logger.Warn("transport close failed", "error", err)
		return rcCloseFailed
	}

	return rcOK
}

func (l *Link) running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.done != nil
}

// run reads until cancelled, reconnecting with exponential backoff.
func (l *Link) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	backoff := time.Second
	for {
		err := l.readLoop(ctx)
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn("link read failed, reconnecting", "error", err, "backoff", backoff)
		_ = l.transport.Close()
		l.publishConnStatus(connectors.ConnectionStateDisconnected, err)

		if !sleepWithContext(ctx, backoff) {
			return
		}
		backoff = min(backoff*2, maxBackoff)

		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err = l.transport.Connect(connectCtx)
		cancel()
		if err != nil {
			l.logger.Error("transport reconnect failed", "error", err)
			continue
		}
		backoff = time.Second
		l.publishConnStatus(connectors.ConnectionStateConnected, nil)
	}
}

func (l *Link) readLoop(ctx context.Context) error {
	for {
		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		frame, err := l.transport.ReadFrame(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded)) {
				continue
			}
			return err
		}

		l.publishRaw(connectors.TopicRawFrameIn, frame)
		if frame[0] != protocol.StartByte {
			l.logger.Debug("ignoring non-telemetry frame", "start", frame[0])
			continue
		}

		l.mu.Lock()
		l.latest = frame
		l.mu.Unlock()
	}
}

func (l *Link) publishRaw(topic string, frame []byte) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(topic, connectors.RawFrame{Hex: strings.ToUpper(hex.EncodeToString(frame)), Len: len(frame)})
}

func (l *Link) publishConnStatus(state connectors.ConnectionState, err error) {
	if l.bus == nil {
		return
	}
	status := connectors.ConnectionStatus{
		State:         state,
		TransportName: l.transport.Name(),
		Timestamp:     time.Now(),
	}
	if r, ok := l.transport.(transport.StatusTargetResolver); ok {
		status.Target = r.StatusTarget()
	}
	if err != nil {
		status.Err = err.Error()
	}
	l.bus.Publish(connectors.TopicConnStatus, status)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
