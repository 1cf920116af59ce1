package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/novoground/gcs/internal/config"
)

func TestFanoutWriter_ContinuesWhenOneDestinationFails(t *testing.T) {
	var dst bytes.Buffer
	w := newFanoutWriter(errorWriter{err: errors.New("broken console")}, &dst)

	n, err := w.Write([]byte("test"))
	if err != nil {
		t.Fatalf("write returned error: %v", err)
	}
	if n != len("test") {
		t.Fatalf("unexpected bytes written: got %d, want %d", n, len("test"))
	}
	if got := dst.String(); got != "test" {
		t.Fatalf("unexpected destination contents: got %q", got)
	}
}

func TestManagerConfigure_EventLogReceivesComponentLines(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	var console bytes.Buffer
	logPath := filepath.Join(t.TempDir(), "nested", "events.log")
	m := NewManager(&console)
	t.Cleanup(func() { _ = m.Close() })

	if err := m.Configure(config.LoggingConfig{Level: "debug", LogToFile: true}, logPath); err != nil {
		t.Fatalf("configure manager: %v", err)
	}

	m.Logger("backend").Debug("simulated backend started")

	if err := m.Close(); err != nil {
		t.Fatalf("close manager: %v", err)
	}

	cleanLogPath := filepath.Clean(logPath)
	// #nosec G304 -- logPath is created from t.TempDir() in this test.
	raw, err := os.ReadFile(cleanLogPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	for _, want := range []string{"simulated backend started", "component=backend", "level=DEBUG"} {
		if !bytes.Contains(raw, []byte(want)) {
			t.Fatalf("log file missing %q, contents: %q", want, string(raw))
		}
	}
	if !strings.Contains(console.String(), "simulated backend started") {
		t.Fatalf("console missing message, contents: %q", console.String())
	}
}

func TestManagerConfigure_LevelFilters(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	var console bytes.Buffer
	m := NewManager(&console)
	if err := m.Configure(config.LoggingConfig{Level: "warn"}, ""); err != nil {
		t.Fatalf("configure manager: %v", err)
	}

	m.Logger("codec").Info("hidden")
	m.Logger("codec").Warn("telemetry frame rejected")

	if strings.Contains(console.String(), "hidden") {
		t.Fatalf("info line must be filtered at warn level")
	}
	if !strings.Contains(console.String(), "telemetry frame rejected") {
		t.Fatalf("warn line missing: %q", console.String())
	}

	if err := m.Configure(config.LoggingConfig{Level: "verbose"}, ""); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestManagerConfigure_JSONFormat(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	var console bytes.Buffer
	m := NewManager(&console)
	if err := m.Configure(config.LoggingConfig{Level: "info", Format: config.LogFormatJSON}, ""); err != nil {
		t.Fatalf("configure manager: %v", err)
	}

	m.Logger("recording").Info("recording started", "samples", 3)

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(console.Bytes()), &line); err != nil {
		t.Fatalf("console line is not json: %v (%q)", err, console.String())
	}
	if line["component"] != "recording" || line["msg"] != "recording started" {
		t.Fatalf("unexpected json line: %v", line)
	}

	if err := m.Configure(config.LoggingConfig{Format: "xml"}, ""); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestManagerConfigure_RotatesOversizedEventLog(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	logPath := filepath.Join(t.TempDir(), "events.log")
	old := bytes.Repeat([]byte("x"), 2048)
	if err := os.WriteFile(logPath, old, 0o600); err != nil {
		t.Fatalf("seed log file: %v", err)
	}

	m := NewManager(io.Discard)
	t.Cleanup(func() { _ = m.Close() })
	cfg := config.LoggingConfig{Level: "info", LogToFile: true, MaxFileSize: "1 KiB"}
	if err := m.Configure(cfg, logPath); err != nil {
		t.Fatalf("configure manager: %v", err)
	}
	m.Logger("app").Info("fresh start")
	if err := m.Close(); err != nil {
		t.Fatalf("close manager: %v", err)
	}

	rotated, err := os.ReadFile(logPath + ".1")
	if err != nil {
		t.Fatalf("read rotated log: %v", err)
	}
	if !bytes.Equal(rotated, old) {
		t.Fatalf("rotated log must keep previous contents")
	}
	current, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read current log: %v", err)
	}
	if bytes.Contains(current, []byte("xxx")) || !bytes.Contains(current, []byte("fresh start")) {
		t.Fatalf("unexpected current log: %q", current)
	}

	// Below the limit the file is appended to.
	m2 := NewManager(io.Discard)
	t.Cleanup(func() { _ = m2.Close() })
	if err := m2.Configure(cfg, logPath); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	m2.Logger("app").Info("second start")
	_ = m2.Close()
	current, _ = os.ReadFile(logPath)
	if !bytes.Contains(current, []byte("fresh start")) || !bytes.Contains(current, []byte("second start")) {
		t.Fatalf("small log must be appended: %q", current)
	}
}

func TestFanoutWriter_AllDestinationsFail(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")
	w := newFanoutWriter(errorWriter{err: first}, nil, errorWriter{err: second})

	n, err := w.Write([]byte("line"))
	if n != 0 || !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("expected joined errors, got n=%d err=%v", n, err)
	}
}

type errorWriter struct {
	err error
}

func (w errorWriter) Write(_ []byte) (int, error) {
	return 0, w.err
}
