package recording

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/novoground/gcs/internal/bus"
	"github.com/novoground/gcs/internal/connectors"
	"github.com/novoground/gcs/internal/domain"
	"github.com/novoground/gcs/internal/persistence"
)

var ErrWriteFailed = errors.New("telemetry write failed")

// Archive is the subset of persistence.TelemetryRepo the logger mirrors rows into.
type Archive interface {
	CreateSession(ctx context.Context, s persistence.Session) error
	Insert(ctx context.Context, sessionID string, snap domain.Snapshot) error
}

type Option func(*Logger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithBus publishes write failures as connectors.PersistenceError.
func WithBus(b bus.MessageBus) Option {
	return func(l *Logger) { l.bus = b }
}

// WithArchive mirrors every logged row into archive through queue.
func WithArchive(archive Archive, queue *persistence.WriterQueue) Option {
	return func(l *Logger) {
		l.archive = archive
		l.queue = queue
	}
}

// WithSource labels archive sessions with the backend the rows came from.
func WithSource(source string) Option {
	return func(l *Logger) { l.source = source }
}

func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// Logger appends telemetry snapshots to a CSV table, one row per snapshot,
// flushing after every row.
type Logger struct {
	path    string
	logger  *slog.Logger
	bus     bus.MessageBus
	archive Archive
	queue   *persistence.WriterQueue
	source  string
	now     func() time.Time

	mu        sync.Mutex
	file      *os.File
	w         *csv.Writer
	rows      int
	sessionID string
}

func New(dir, fileName string, opts ...Option) *Logger {
	l := &Logger{
		path:   filepath.Join(dir, fileName),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

func (l *Logger) Path() string {
	return l.path
}

func (l *Logger) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file != nil
}

// SessionID returns the archive session of the current recording, or "" when
// nothing is archived.
func (l *Logger) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.sessionID
}

// Start truncates the output file and writes the header. Starting an active
// logger only logs a warning.
func (l *Logger) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.logger.Warn("telemetry recording already active", "path", l.path)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("%w: create dir: %w", ErrWriteFailed, err)
	}
	// #nosec G304 -- path comes from operator config.
	f, err := os.Create(l.path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrWriteFailed, l.path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: header: %w", ErrWriteFailed, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: header: %w", ErrWriteFailed, err)
	}

	l.file, l.w, l.rows = f, w, 0
	l.startArchiveSession()
	l.logger.Info("telemetry recording started", "path", l.path, "session", l.sessionID)

	return nil
}

func (l *Logger) startArchiveSession() {
	l.sessionID = ""
	if l.archive == nil || l.queue == nil {
		return
	}

	session := persistence.Session{
		ID:        uuid.NewString(),
		StartedAt: l.now(),
		Source:    l.source,
	}
	l.sessionID = session.ID
	archive := l.archive
	l.queue.Enqueue("create_session", func(ctx context.Context) error {
		return archive.CreateSession(ctx, session)
	})
}

// Log appends one row. It is a no-op while the logger is inactive. A failed
// write stops the recording.
func (l *Logger) Log(s domain.Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	if err := l.w.Write(FormatRow(s)); err == nil {
		l.w.Flush()
	}
	if err := l.w.Error(); err != nil {
		l.logger.Error("telemetry write failed, stopping recording", "path", l.path, "error", err)
		l.publishFailure(err)
		_ = l.closeLocked()
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	l.rows++

	if l.sessionID != "" {
		archive, id := l.archive, l.sessionID
		l.queue.Enqueue("insert_telemetry", func(ctx context.Context) error {
			return archive.Insert(ctx, id, s)
		})
	}

	return nil
}

// Stop closes the output file. Stopping an inactive logger only logs a
// warning.
func (l *Logger) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		l.logger.Warn("telemetry recording not active")
		return nil
	}

	var size int64
	if info, err := l.file.Stat(); err == nil {
		size = info.Size()
	}
	rows := l.rows
	if err := l.closeLocked(); err != nil {
		l.logger.Error("telemetry recording close failed", "path", l.path, "error", err)
		return fmt.Errorf("%w: close: %w", ErrWriteFailed, err)
	}
	l.logger.Info("telemetry recording stopped",
		"path", l.path,
		"rows", rows,
		"size", humanize.Bytes(uint64(size)),
	)

	return nil
}

func (l *Logger) closeLocked() error {
	l.w.Flush()
	flushErr := l.w.Error()
	closeErr := l.file.Close()
	l.file, l.w = nil, nil

	return errors.Join(flushErr, closeErr)
}

func (l *Logger) publishFailure(err error) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(connectors.TopicPersistenceError, connectors.PersistenceError{
		Component: "recording",
		Target:    l.path,
		Err:       err.Error(),
		Timestamp: l.now(),
	})
}

// Run logs every snapshot received on sub until ctx is done or sub is
// closed. Write failures are reported by Log and do not end the loop.
func (l *Logger) Run(ctx context.Context, sub <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			snap, ok := msg.(domain.Snapshot)
			if !ok {
				continue
			}
			_ = l.Log(snap)
		}
	}
}
