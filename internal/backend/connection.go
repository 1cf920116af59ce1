package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/novoground/gcs/internal/bus"
	"github.com/novoground/gcs/internal/connectors"
	"github.com/novoground/gcs/internal/domain"
	"github.com/novoground/gcs/internal/protocol"
	"github.com/novoground/gcs/internal/simulator"
)

type options struct {
	mode       domain.BackendMode
	opener     LinkOpener
	simOptions []simulator.Option
	codec      *protocol.Codec
	bus        bus.MessageBus
	logger     *slog.Logger
}

type Option func(*options)

// WithMode selects the preferred backend. BackendLive tries the link and
// falls back to the simulator; BackendSimulated never touches the link.
func WithMode(mode domain.BackendMode) Option {
	return func(o *options) { o.mode = mode }
}

func WithLinkOpener(opener LinkOpener) Option {
	return func(o *options) { o.opener = opener }
}

func WithSimulatorOptions(opts ...simulator.Option) Option {
	return func(o *options) { o.simOptions = append(o.simOptions, opts...) }
}

func WithCodec(codec *protocol.Codec) Option {
	return func(o *options) { o.codec = codec }
}

func WithBus(b bus.MessageBus) Option {
	return func(o *options) { o.bus = b }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Connection is the single entry point for telemetry and commands regardless
// of whether a live link or the simulator serves them.
type Connection struct {
	logger     *slog.Logger
	bus        bus.MessageBus
	codec      *protocol.Codec
	dispatcher *Dispatcher

	mu        sync.Mutex
	mode      domain.BackendMode
	connected bool
	link      LiveLink
	sim       *simulator.Simulator

	// callMu keeps live link calls strictly sequential.
	callMu sync.Mutex
}

// Open connects the backend. A failed live attempt falls back to the
// simulator once; an error is returned only when the simulator cannot be
// built either.
func Open(opts ...Option) (*Connection, error) {
	o := options{
		mode:   domain.BackendLive,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.codec == nil {
		o.codec = protocol.NewCodec(o.logger, protocol.RejectCritical)
	}

	c := &Connection{
		logger: o.logger,
		bus:    o.bus,
		codec:  o.codec,
	}
	c.dispatcher = newDispatcher(c, o.logger, o.bus)

	reason := ""
	if o.mode == domain.BackendLive {
		link, err := c.openLive(o.opener)
		if err == nil {
			c.mode = domain.BackendLive
			c.link = link
			c.connected = true
			c.logger.Info("live backend connected")
			c.publishStatus("live link initialized")

			return c, nil
		}
		c.logger.Warn("live backend unavailable, falling back to simulation", "error", err)
		reason = "fallback: " + err.Error()
	}

	sim, err := simulator.New(append([]simulator.Option{simulator.WithLogger(o.logger)}, o.simOptions...)...)
	if err != nil {
		return nil, fmt.Errorf("%w: simulator: %w", ErrInitFailed, err)
	}
	sim.Start(context.Background())

	c.mode = domain.BackendSimulated
	c.sim = sim
	c.connected = true
	if reason == "" {
		reason = "simulation requested"
	}
	c.logger.Info("simulated backend started")
	c.publishStatus(reason)

	return c, nil
}

func (c *Connection) openLive(opener LinkOpener) (link LiveLink, err error) {
	if opener == nil {
		return nil, fmt.Errorf("%w: no live link configured", ErrLinkUnavailable)
	}

	defer func() {
		if r := recover(); r != nil {
			link = nil
			err = fmt.Errorf("%w: live link panicked: %v", ErrInitFailed, r)
		}
	}()

	link, err = opener()
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, fmt.Errorf("%w: opener returned no link", ErrLinkUnavailable)
	}
	if rc := link.Initialize(); rc != 0 {
		return nil, fmt.Errorf("%w: initialize returned %d", ErrInitFailed, rc)
	}

	return link, nil
}

// Dispatcher returns the command dispatcher bound to this connection.
func (c *Connection) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// SendCommand dispatches cmd and reports success.
func (c *Connection) SendCommand(cmd domain.Command) bool {
	return c.dispatcher.Dispatch(cmd) == nil
}

// ReceiveTelemetry returns the latest snapshot. It reports false when not
// connected, when the link has nothing new, or when the frame was rejected.
func (c *Connection) ReceiveTelemetry() (domain.Snapshot, bool) {
	mode, link, sim, ok := c.target()
	if !ok {
		c.logger.Debug("receive telemetry skipped", "error", ErrNotConnected)
		return domain.Snapshot{}, false
	}

	if mode == domain.BackendSimulated {
		return sim.Telemetry(), true
	}

	raw, err := c.receiveRaw(link)
	if err != nil {
		c.logger.Error("receive telemetry failed", "error", err)
		return domain.Snapshot{}, false
	}
	if raw == nil {
		return domain.Snapshot{}, false
	}
	snap, err := c.codec.Decode(raw)
	if err != nil {
		return domain.Snapshot{}, false
	}

	return snap, true
}

func (c *Connection) receiveRaw(link LiveLink) (raw []byte, err error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			raw = nil
			err = fmt.Errorf("live link panicked: %v", r)
		}
	}()

	return link.ReceiveTelemetry(), nil
}

func (c *Connection) sendRaw(link LiveLink, code int32) (rc int32, err error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("live link panicked: %v", r)
		}
	}()

	return link.SendCommand(code), nil
}

func (c *Connection) Status() domain.BackendStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	return domain.BackendStatus{Connected: c.connected, Mode: c.mode}
}

// Mission returns simulator flight info; it reports false for live links.
func (c *Connection) Mission() (simulator.MissionInfo, bool) {
	mode, _, sim, ok := c.target()
	if !ok || mode != domain.BackendSimulated {
		return simulator.MissionInfo{}, false
	}

	return sim.Mission(), true
}

// Close disconnects the backend. Repeated calls are no-ops.
func (c *Connection) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	mode, link, sim := c.mode, c.link, c.sim
	c.mu.Unlock()

	var closeErr error
	switch mode {
	case domain.BackendLive:
		rc, err := c.closeLink(link)
		switch {
		case err != nil:
			closeErr = err
		case rc != 0:
			closeErr = fmt.Errorf("close live link: code %d", rc)
		}
		if closeErr != nil {
			c.logger.Warn("live link close reported failure", "error", closeErr)
		}
	case domain.BackendSimulated:
		sim.Stop()
	}

	c.logger.Info("backend connection closed", "mode", mode)
	c.publishStatus("closed")

	return closeErr
}

func (c *Connection) closeLink(link LiveLink) (rc int32, err error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("live link panicked: %v", r)
		}
	}()

	return link.CloseConnection(), nil
}

func (c *Connection) target() (domain.BackendMode, LiveLink, *simulator.Simulator, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return c.mode, nil, nil, false
	}

	return c.mode, c.link, c.sim, true
}

func (c *Connection) publishStatus(reason string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(connectors.TopicBackendStatus, connectors.BackendStatusEvent{
		Status:    c.Status(),
		Reason:    reason,
		Timestamp: time.Now(),
	})
}
