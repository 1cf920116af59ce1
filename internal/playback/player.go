package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/novoground/gcs/internal/bus"
	"github.com/novoground/gcs/internal/connectors"
	"github.com/novoground/gcs/internal/domain"
)

const DefaultJoinTimeout = 2 * time.Second

var (
	ErrLoadFailed   = errors.New("telemetry load failed")
	ErrInvalidSpeed = errors.New("playback speed must be positive")
	ErrNoTelemetry  = errors.New("no telemetry loaded")
)

type Option func(*Player)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Player) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithJoinTimeout(d time.Duration) Option {
	return func(p *Player) {
		if d > 0 {
			p.joinTimeout = d
		}
	}
}

// Player replays a loaded telemetry sequence on connectors.TopicPlaybackTelemetry,
// pacing samples by their timestamp deltas divided by the speed multiplier.
type Player struct {
	source      Source
	bus         bus.MessageBus
	logger      *slog.Logger
	joinTimeout time.Duration

	mu        sync.Mutex
	snapshots []domain.Snapshot
	speed     float64
	stop      chan struct{}
	done      chan struct{}
	lastDone  chan struct{}
	emitted   int
}

func New(source Source, b bus.MessageBus, opts ...Option) *Player {
	finished := make(chan struct{})
	close(finished)

	p := &Player{
		source:      source,
		bus:         b,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		joinTimeout: DefaultJoinTimeout,
		speed:       1.0,
		lastDone:    finished,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Load replaces the in-memory sequence. On failure the previous sequence is
// kept.
func (p *Player) Load(ctx context.Context) error {
	if p.source == nil {
		return fmt.Errorf("%w: no source", ErrLoadFailed)
	}

	snaps, err := p.source.Load(ctx)
	if err != nil {
		p.logger.Error("telemetry load failed", "source", p.source.String(), "error", err)
		return fmt.Errorf("%w: %s: %w", ErrLoadFailed, p.source, err)
	}

	p.mu.Lock()
	p.snapshots = snaps
	p.mu.Unlock()

	p.logger.Info("telemetry loaded", "source", p.source.String(), "records", humanize.Comma(int64(len(snaps))))
	p.publishState(connectors.PlaybackLoaded, 0, len(snaps))

	return nil
}

// Snapshots returns a copy of the loaded sequence.
func (p *Player) Snapshots() []domain.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]domain.Snapshot(nil), p.snapshots...)
}

func (p *Player) Speed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.speed
}

// SetSpeed changes the multiplier, also while a replay is running.
func (p *Player) SetSpeed(speed float64) error {
	if speed <= 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		p.logger.Warn("playback speed rejected", "speed", speed)
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, speed)
	}

	p.mu.Lock()
	p.speed = speed
	total := len(p.snapshots)
	p.mu.Unlock()

	p.logger.Info("playback speed set", "speed", speed)
	p.publishState(connectors.PlaybackSpeed, 0, total)

	return nil
}

func (p *Player) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.done != nil
}

// Done is closed when the current (or last) replay has ended.
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		return p.done
	}
	return p.lastDone
}

// Emitted reports how many snapshots the current or last replay published.
func (p *Player) Emitted() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.emitted
}

func (p *Player) Start() error {
	p.mu.Lock()
	if p.done != nil {
		p.mu.Unlock()
		p.logger.Warn("playback already running")
		return nil
	}
	if len(p.snapshots) == 0 {
		p.mu.Unlock()
		p.logger.Warn("playback has no telemetry loaded")
		return ErrNoTelemetry
	}

	snaps := p.snapshots
	stop, done := make(chan struct{}), make(chan struct{})
	p.stop, p.done, p.emitted = stop, done, 0
	p.mu.Unlock()

	p.logger.Info("playback started", "records", len(snaps), "speed", p.Speed())
	p.publishState(connectors.PlaybackStarted, 0, len(snaps))
	go p.run(snaps, stop, done)

	return nil
}

// Stop signals the replay worker and waits for it up to the join timeout.
func (p *Player) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	if done == nil {
		p.mu.Unlock()
		p.logger.Warn("playback not running")
		return
	}
	p.stop, p.done, p.lastDone = nil, nil, done
	emitted, total := p.emitted, len(p.snapshots)
	p.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(p.joinTimeout):
		p.logger.Warn("playback worker did not stop in time", "timeout", p.joinTimeout)
	}

	p.logger.Info("playback stopped", "emitted", emitted, "records", total)
	p.publishState(connectors.PlaybackStopped, emitted, total)
}

func (p *Player) run(snaps []domain.Snapshot, stop <-chan struct{}, done chan struct{}) {
	defer close(done)

	var prev time.Time
	for i, s := range snaps {
		select {
		case <-stop:
			return
		default:
		}

		if i > 0 {
			if wait := p.delay(prev, s.Timestamp); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-stop:
					timer.Stop()
					return
				case <-timer.C:
				}
			}
		}
		prev = s.Timestamp

		if p.bus != nil {
			p.bus.Publish(connectors.TopicPlaybackTelemetry, s)
		}
		p.mu.Lock()
		p.emitted++
		p.mu.Unlock()
	}

	p.finish(done, len(snaps))
}

// finish takes the same stop path as Stop once the sequence is exhausted,
// unless Stop already claimed this run.
func (p *Player) finish(done chan struct{}, total int) {
	p.mu.Lock()
	if p.done != done {
		p.mu.Unlock()
		return
	}
	p.stop, p.done, p.lastDone = nil, nil, done
	emitted := p.emitted
	p.mu.Unlock()

	p.logger.Info("playback completed", "emitted", emitted, "records", total)
	p.publishState(connectors.PlaybackFinished, emitted, total)
}

func (p *Player) delay(prev, cur time.Time) time.Duration {
	if prev.IsZero() || cur.IsZero() {
		return 0
	}
	delta := cur.Sub(prev)
	if delta <= 0 {
		return 0
	}

	return time.Duration(float64(delta) / p.Speed())
}

func (p *Player) publishState(state connectors.PlaybackState, emitted, total int) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(connectors.TopicPlaybackState, connectors.PlaybackStateEvent{
		State:     state,
		Speed:     p.Speed(),
		Emitted:   emitted,
		Total:     total,
		Timestamp: time.Now(),
	})
}
