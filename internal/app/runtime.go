package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/novoground/gcs/internal/backend"
	"github.com/novoground/gcs/internal/bus"
	"github.com/novoground/gcs/internal/config"
	"github.com/novoground/gcs/internal/connectors"
	"github.com/novoground/gcs/internal/domain"
	"github.com/novoground/gcs/internal/logging"
	"github.com/novoground/gcs/internal/persistence"
	"github.com/novoground/gcs/internal/platform"
	"github.com/novoground/gcs/internal/protocol"
	"github.com/novoground/gcs/internal/radio"
	"github.com/novoground/gcs/internal/recording"
	"github.com/novoground/gcs/internal/simulator"
)

const archiveFlushTimeout = 5 * time.Second

type initOptions struct {
	paths      *Paths
	configPath string
	console    io.Writer
	lockDir    string
	overrides  []func(*config.AppConfig)
}

type Option func(*initOptions)

// WithPaths roots every runtime file at paths instead of the user config dir.
func WithPaths(paths Paths) Option {
	return func(o *initOptions) { o.paths = &paths }
}

// WithConfigFile loads configuration from path instead of Paths.ConfigFile.
func WithConfigFile(path string) Option {
	return func(o *initOptions) { o.configPath = path }
}

// WithConfigOverride adjusts the loaded configuration before validation.
func WithConfigOverride(fn func(*config.AppConfig)) Option {
	return func(o *initOptions) { o.overrides = append(o.overrides, fn) }
}

func WithConsole(w io.Writer) Option {
	return func(o *initOptions) { o.console = w }
}

// WithLockDir keeps live link locks in dir instead of platform.DefaultLockDir.
func WithLockDir(dir string) Option {
	return func(o *initOptions) { o.lockDir = dir }
}

// Runtime owns the process-wide services of one ground station session.
type Runtime struct {
	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager *logging.Manager
	Bus        *bus.PubSubBus
	DB         *sql.DB

	TelemetryRepo *persistence.TelemetryRepo
	WriterQueue   *persistence.WriterQueue

	Backend  *backend.Connection
	Recorder *recording.Logger

	lockDir  string
	linkLock platform.LinkLock

	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
	closeOnce  sync.Once

	connStatusMu    sync.RWMutex
	connStatus      connectors.ConnectionStatus
	connStatusKnown bool
}

func Initialize(parent context.Context, opts ...Option) (*Runtime, error) {
	var o initOptions
	for _, opt := range opts {
		opt(&o)
	}

	var paths Paths
	if o.paths != nil {
		paths = *o.paths
	} else {
		resolved, err := ResolvePaths()
		if err != nil {
			return nil, err
		}
		paths = resolved
	}
	configPath := paths.ConfigFile
	if o.configPath != "" {
		configPath = o.configPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	for _, fn := range o.overrides {
		fn(&cfg)
	}
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:     ctx,
		cancel:  cancel,
		Paths:   paths,
		Config:  cfg,
		lockDir: o.lockDir,
	}

	logMgr := logging.NewManager(o.console)
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting ground station runtime", "version", BuildVersion(), "build_date", BuildDateYMD())

	b := bus.New(logMgr.Logger("bus"))
	rt.Bus = b
	rt.setConnStatus(ConnectionStatusFromConfig(cfg.Backend))
	connSub := b.Subscribe(connectors.TopicConnStatus)
	go rt.captureConnStatus(ctx, connSub)

	if cfg.Recording.Archive {
		if err := rt.openArchive(); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	conn, err := rt.openBackend()
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Backend = conn

	recOpts := []recording.Option{
		recording.WithLogger(logMgr.Logger("recording")),
		recording.WithBus(b),
		recording.WithSource(string(conn.Status().Mode)),
	}
	if rt.TelemetryRepo != nil {
		recOpts = append(recOpts, recording.WithArchive(rt.TelemetryRepo, rt.WriterQueue))
	}
	rt.Recorder = recording.New(paths.RecordingDir(cfg.Recording.Dir), cfg.Recording.FileName, recOpts...)
	go rt.Recorder.Run(ctx, b.Subscribe(connectors.TopicTelemetry))
	if cfg.Recording.Enabled {
		if err := rt.Recorder.Start(); err != nil {
			slog.Error("start telemetry recording", "error", err)
		}
	}

	pumpCtx, pumpCancel := context.WithCancel(ctx)
	rt.pumpCancel = pumpCancel
	rt.pumpDone = make(chan struct{})
	go rt.pumpTelemetry(pumpCtx, time.Duration(cfg.Telemetry.PollIntervalMS)*time.Millisecond)

	return rt, nil
}

func (r *Runtime) openArchive() error {
	db, err := persistence.Open(r.Ctx, r.Paths.DBFile)
	if err != nil {
		return err
	}
	r.DB = db
	r.TelemetryRepo = persistence.NewTelemetryRepo(db)

	queue := persistence.NewWriterQueue(r.LogManager.Logger("persistence"), 512)
	queue.OnFailure(func(name string, err error) {
		r.Bus.Publish(connectors.TopicPersistenceError, connectors.PersistenceError{
			Component: "archive",
			Target:    name,
			Err:       err.Error(),
			Timestamp: time.Now(),
		})
	})
	queue.Start(r.Ctx)
	r.WriterQueue = queue

	return nil
}

func (r *Runtime) openBackend() (*backend.Connection, error) {
	cfg := r.Config
	logger := r.LogManager.Logger("backend")

	policy, err := protocol.ParseCriticalFlagPolicy(cfg.Codec.CriticalFlagPolicy)
	if err != nil {
		return nil, err
	}

	opts := []backend.Option{
		backend.WithMode(domain.BackendMode(cfg.Backend.Mode)),
		backend.WithCodec(protocol.NewCodec(r.LogManager.Logger("codec"), policy)),
		backend.WithBus(r.Bus),
		backend.WithLogger(logger),
		backend.WithSimulatorOptions(
			simulator.WithTickPeriod(time.Duration(cfg.Simulator.TickMS)*time.Millisecond),
			simulator.WithLogger(r.LogManager.Logger("simulator")),
		),
	}
	if cfg.Simulator.Seed != 0 {
		opts = append(opts, backend.WithSimulatorOptions(simulator.WithSeed(cfg.Simulator.Seed)))
	}

	if cfg.Backend.Mode == config.ModeLive {
		// Unusable transport settings and a link owned by another process take
		// the same fallback path as a missing device.
		tr, err := NewTransport(cfg.Backend)
		if err != nil {
			logger.Warn("live transport not configured", "error", err)
		} else if lock, err := platform.AcquireLinkLock(r.lockDir, ConnectionTarget(cfg.Backend)); err != nil {
			logger.Warn("live link unavailable", "target", ConnectionTarget(cfg.Backend), "error", err)
		} else {
			r.linkLock = lock
			opts = append(opts, backend.WithLinkOpener(radio.Opener(r.LogManager.Logger("radio"), tr, r.Bus)))
		}
	}

	return backend.Open(opts...)
}

// pumpTelemetry polls the backend and publishes every snapshot on
// connectors.TopicTelemetry.
func (r *Runtime) pumpTelemetry(ctx context.Context, interval time.Duration) {
	defer close(r.pumpDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, ok := r.Backend.ReceiveTelemetry()
			if !ok {
				continue
			}
			// The simulator serves its latest tick until the next one lands.
			if !last.IsZero() && snap.Timestamp.Equal(last) {
				continue
			}
			last = snap.Timestamp
			r.Bus.Publish(connectors.TopicTelemetry, snap)
		}
	}
}

// Dispatch routes cmd to the active backend.
func (r *Runtime) Dispatch(cmd domain.Command) error {
	return r.Backend.Dispatcher().Dispatch(cmd)
}

func (r *Runtime) BackendStatus() domain.BackendStatus {
	return r.Backend.Status()
}

func (r *Runtime) captureConnStatus(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			status, ok := raw.(connectors.ConnectionStatus)
			if !ok {
				continue
			}
			r.setConnStatus(status)
		}
	}
}

func (r *Runtime) setConnStatus(status connectors.ConnectionStatus) {
	r.connStatusMu.Lock()
	r.connStatus = status
	r.connStatusKnown = true
	r.connStatusMu.Unlock()
}

func (r *Runtime) CurrentConnStatus() (connectors.ConnectionStatus, bool) {
	r.connStatusMu.RLock()
	status := r.connStatus
	known := r.connStatusKnown
	r.connStatusMu.RUnlock()
	return status, known
}

// ClearArchive removes every archived session.
func (r *Runtime) ClearArchive() error {
	if r.DB == nil {
		return fmt.Errorf("archive is not enabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	removed, err := persistence.ClearDatabase(ctx, r.DB)
	if err != nil {
		return err
	}
	slog.Info("archive cleared", "sessions", removed)

	return nil
}

// Close stops the pump, the recorder and the backend, then drains pending
// archive writes before releasing the database.
func (r *Runtime) Close() error {
	var errs []error
	r.closeOnce.Do(func() {
		if r.pumpCancel != nil {
			r.pumpCancel()
			<-r.pumpDone
		}
		if r.Recorder != nil && r.Recorder.Active() {
			if err := r.Recorder.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if r.Backend != nil {
			if err := r.Backend.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if r.linkLock != nil {
			if err := r.linkLock.Release(); err != nil {
				errs = append(errs, err)
			}
		}
		if r.WriterQueue != nil {
			ctx, cancel := context.WithTimeout(context.Background(), archiveFlushTimeout)
			if err := r.WriterQueue.Flush(ctx); err != nil {
				errs = append(errs, fmt.Errorf("flush archive writes: %w", err))
			}
			cancel()
		}
		if r.cancel != nil {
			r.cancel()
		}
		if r.Bus != nil {
			r.Bus.Close()
		}
		if r.DB != nil {
			_ = r.DB.Close()
		}
		if r.LogManager != nil {
			_ = r.LogManager.Close()
		}
	})

	return errors.Join(errs...)
}
