package logging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/novoground/gcs/internal/config"
)

// Manager owns the process logger and the optional event log file.
type Manager struct {
	mu      sync.RWMutex
	console io.Writer
	logger  *slog.Logger
	file    *os.File
}

// NewManager logs to console, which defaults to stderr so stdout stays free
// for command output.
func NewManager(console io.Writer) *Manager {
	if console == nil {
		console = os.Stderr
	}
	m := &Manager{console: console}
	m.logger = slog.New(slog.NewTextHandler(console, &slog.HandlerOptions{Level: slog.LevelInfo}))

	return m
}

// Configure swaps the handler for one built from cfg. With LogToFile set the
// event log at filePath receives a copy of every line; an oversized log is
// moved to filePath+".1" first.
func (m *Manager) Configure(cfg config.LoggingConfig, filePath string) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	maxBytes, err := cfg.MaxFileBytes()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file != nil {
		_ = m.file.Close()
		m.file = nil
	}

	writer := m.console
	if cfg.LogToFile && filePath != "" {
		file, err := openEventLog(filepath.Clean(filePath), maxBytes)
		if err != nil {
			return err
		}
		m.file = file
		writer = newFanoutWriter(m.console, file)
	}

	h, err := newHandler(cfg.Format, writer, level)
	if err != nil {
		return err
	}
	m.logger = slog.New(h)
	slog.SetDefault(m.logger)

	return nil
}

// Logger returns the current logger tagged with component. Loggers taken
// before Configure keep the previous handler.
func (m *Manager) Logger(component string) *slog.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.logger.With("component", component)
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil

	return err
}

func newHandler(format string, w io.Writer, level slog.Leveler) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case config.LogFormatText, "":
		return slog.NewTextHandler(w, opts), nil
	case config.LogFormatJSON:
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %q", format)
	}
}

func openEventLog(path string, maxBytes uint64) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if err := rotateIfLarge(path, maxBytes); err != nil {
		return nil, err
	}
	// #nosec G304 -- path comes from the resolved data dir.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return file, nil
}

// rotateIfLarge keeps a single previous generation.
func rotateIfLarge(path string, maxBytes uint64) error {
	if maxBytes == 0 {
		return nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < 0 || uint64(info.Size()) < maxBytes {
		return nil
	}
	if err := os.Rename(path, path+".1"); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}

	return nil
}

func parseLevel(raw string) (slog.Leveler, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return nil, fmt.Errorf("unsupported log level: %q", raw)
	}
}

// fanoutWriter succeeds when at least one destination took the whole line, so
// a closed console never silences the event log.
type fanoutWriter []io.Writer

func newFanoutWriter(writers ...io.Writer) io.Writer {
	out := make(fanoutWriter, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			out = append(out, w)
		}
	}

	return out
}

func (w fanoutWriter) Write(p []byte) (int, error) {
	var errs []error
	delivered := false
	for _, dst := range w {
		n, err := dst.Write(p)
		switch {
		case err != nil:
			errs = append(errs, err)
		case n != len(p):
			errs = append(errs, io.ErrShortWrite)
		default:
			delivered = true
		}
	}
	if delivered || len(errs) == 0 {
		return len(p), nil
	}

	return 0, errors.Join(errs...)
}
