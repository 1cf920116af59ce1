package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/novoground/gcs/internal/domain"
)

const (
	DefaultTickPeriod  = 100 * time.Millisecond
	DefaultStopTimeout = time.Second

	// dt is the integration step in seconds, fixed regardless of the tick period.
	dt = 0.1

	gravity           = 9.81
	descentDrag       = 2.0
	launchAccel       = 30.0
	launchAccelJitter = 2.0
	burnDuration      = 3 * time.Second

	initialVoltage   = 12000.0
	minVoltage       = 10000.0
	sensorGlitchProb = 0.001
)

var ErrInvalidTickPeriod = errors.New("simulator tick period must be positive")

// MissionInfo is the simulator-only view of the flight.
type MissionInfo struct {
	State       domain.MissionState
	Altitude    float64
	MaxAltitude float64
	FlightTime  time.Duration
}

// state is replaced wholesale on every tick and command.
type state struct {
	snap        domain.Snapshot
	mission     domain.MissionState
	voltage     float64
	altitude    float64
	maxAltitude float64
	flightTime  time.Duration
	startedAt   time.Time
}

type Option func(*Simulator)

func WithTickPeriod(d time.Duration) Option {
	return func(s *Simulator) { s.tick = d }
}

// WithSeed makes the random stream reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Simulator) { s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Simulator) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Simulator) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithStopTimeout(d time.Duration) Option {
	return func(s *Simulator) { s.stopTimeout = d }
}

// Simulator produces synthetic telemetry for a single flight.
type Simulator struct {
	logger      *slog.Logger
	tick        time.Duration
	stopTimeout time.Duration
	now         func() time.Time
	rng         *rand.Rand

	mu    sync.Mutex
	state state

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(opts ...Option) (*Simulator, error) {
	s := &Simulator{
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		tick:        DefaultTickPeriod,
		stopTimeout: DefaultStopTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tick <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTickPeriod, s.tick)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	s.state = s.initialState()

	return s, nil
}

func (s *Simulator) initialState() state {
	st := state{
		mission: domain.MissionIdle,
		voltage: initialVoltage,
		snap: domain.Snapshot{
			Acceleration: domain.Vec3{0, 0, gravity},
			Flags:        domain.StatusFlags{SystemHealth: true, SensorStatus: true},
			Timestamp:    s.now(),
		},
	}
	st.snap.Voltage = uint32(math.Round(st.voltage))

	return st
}

// Start launches the tick worker. Calling Start on a running simulator is a no-op.
func (s *Simulator) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.done != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.done)
	s.logger.Info("simulator started", "tick", s.tick)
}

// Stop signals the worker and waits for it up to the stop timeout.
func (s *Simulator) Stop() {
	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.runMu.Unlock()

	if done == nil {
		return
	}
	cancel()

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		s.logger.Info("simulator stopped")
	case <-timer.C:
		s.logger.Warn("simulator worker did not stop in time", "timeout", s.stopTimeout)
	}
}

func (s *Simulator) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.step()
		}
	}
}

// Telemetry returns a copy of the current snapshot.
func (s *Simulator) Telemetry() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.snap
}

func (s *Simulator) Mission() MissionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return MissionInfo{
		State:       s.state.mission,
		Altitude:    s.state.altitude,
		MaxAltitude: s.state.maxAltitude,
		FlightTime:  s.state.flightTime,
	}
}

// Apply executes cmd against the simulated vehicle and reports whether it was accepted.
func (s *Simulator) Apply(cmd domain.Command) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state
	switch cmd {
	case domain.CommandStartMission:
		if next.mission != domain.MissionIdle {
			s.logger.Debug("start rejected", "state", next.mission)
			return false
		}
		next.mission = domain.MissionLaunching
		next.startedAt = s.now()
		next.flightTime = 0
		next.maxAltitude = 0
	case domain.CommandAbortMission:
		next.mission = domain.MissionIdle
		next.snap.Velocity = domain.Vec3{}
		next.snap.Acceleration = domain.Vec3{0, 0, gravity}
	case domain.CommandCalibrateSensors:
		next.snap.Orientation = domain.Vec3{}
	case domain.CommandRequestTelemetry, domain.CommandPauseMission, domain.CommandResumeMission:
	default:
		return false
	}
	s.state = next
	s.logger.Debug("command applied", "command", cmd, "state", next.mission)

	return true
}

func (s *Simulator) step() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = s.advance(s.state, s.now())
}

// advance computes the state one tick after st. It only reads st.
func (s *Simulator) advance(st state, now time.Time) state {
	next := st
	snap := &next.snap

	switch st.mission {
	case domain.MissionLaunching:
		snap.Acceleration[2] = float32(launchAccel + s.uniform(-launchAccelJitter, launchAccelJitter))
		integrateZ(snap)
		next.altitude = float64(snap.Position[2])

		snap.Position[0] += float32(s.uniform(-0.1, 0.1))
		snap.Position[1] += float32(s.uniform(-0.1, 0.1))
		snap.Orientation[0] += float32(s.uniform(-1, 1))
		snap.Orientation[1] += float32(s.uniform(-1, 1))
		snap.Orientation[2] += float32(s.uniform(-0.5, 0.5))

		if now.Sub(st.startedAt) > burnDuration {
			next.mission = domain.MissionAscending
		}
	case domain.MissionAscending:
		snap.Acceleration[2] = -gravity
		integrateZ(snap)
		next.altitude = float64(snap.Position[2])
		next.maxAltitude = math.Max(next.maxAltitude, next.altitude)

		if snap.Velocity[2] <= 0 {
			next.mission = domain.MissionDescending
		}
	case domain.MissionDescending:
		snap.Acceleration[2] = -gravity + descentDrag
		integrateZ(snap)
		next.altitude = float64(snap.Position[2])

		if next.altitude <= 0 {
			next.altitude = 0
			snap.Position[2] = 0
			snap.Velocity = domain.Vec3{}
			snap.Acceleration = domain.Vec3{}
			next.mission = domain.MissionLanded
		}
	}

	snap.Timestamp = now
	if next.mission != domain.MissionIdle {
		if !next.startedAt.IsZero() {
			next.flightTime = now.Sub(next.startedAt)
		}
		next.voltage = math.Max(next.voltage-s.uniform(0.5, 1.5), minVoltage)
		snap.Voltage = uint32(math.Round(next.voltage))
		snap.Flags.SensorError = s.rng.Float64() < sensorGlitchProb
	} else {
		snap.Flags.SensorError = false
	}

	return next
}

func integrateZ(snap *domain.Snapshot) {
	snap.Velocity[2] += snap.Acceleration[2] * dt
	snap.Position[2] += snap.Velocity[2] * dt
}

func (s *Simulator) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}
