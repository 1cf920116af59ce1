package radio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/novoground/gcs/internal/backend"
	"github.com/novoground/gcs/internal/domain"
	"github.com/novoground/gcs/internal/protocol"
)

type fakeTransport struct {
	mu         sync.Mutex
	connectErr error
	probeErr   error
	connected  bool
	closes     int
	written    [][]byte
	inbound    chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan []byte, 16)}
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Probe() error { return f.probeErr }

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closes++
	return nil
}

func (f *fakeTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-f.inbound:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) WriteFrame(_ context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), frame...))
	return nil
}

func (f *fakeTransport) writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.written...)
}

func waitForFrame(t *testing.T, link *Link) []byte {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if frame := link.ReceiveTelemetry(); frame != nil {
			return frame
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no telemetry frame received")
	return nil
}

func TestLinkKeepsNewestTelemetryFrame(t *testing.T) {
	tr := newFakeTransport()
	link := NewLink(nil, tr, nil)
	if rc := link.Initialize(); rc != rcOK {
		t.Fatalf("initialize returned %d", rc)
	}
	t.Cleanup(func() { link.CloseConnection() })

	codec := protocol.NewCodec(nil, protocol.RejectCritical)
	frame, err := codec.Encode(domain.Snapshot{Voltage: 4100, Timestamp: time.Unix(1700000000, 0)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cmdFrame, _ := protocol.EncodeCommand(domain.CommandAbortMission)

	tr.inbound <- cmdFrame
	tr.inbound <- frame

	got := waitForFrame(t, link)
	snap, err := codec.Decode(got)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Voltage != 4100 {
		t.Fatalf("expected 4100 mV, got %d", snap.Voltage)
	}
	if again := link.ReceiveTelemetry(); again != nil {
		t.Fatalf("frame must be handed over once, got %x", again)
	}
}

func TestLinkSendCommandWritesCommandFrame(t *testing.T) {
	tr := newFakeTransport()
	link := NewLink(nil, tr, nil)

	if rc := link.SendCommand(domain.CommandStartMission.Code()); rc != rcNotConnected {
		t.Fatalf("expected not connected before initialize, got %d", rc)
	}
	if rc := link.Initialize(); rc != rcOK {
		t.Fatalf("initialize returned %d", rc)
	}
	t.Cleanup(func() { link.CloseConnection() })

	if rc := link.SendCommand(domain.CommandPauseMission.Code()); rc != rcOK {
		t.Fatalf("send returned %d", rc)
	}
	if rc := link.SendCommand(99); rc != rcUnknownCommand {
		t.Fatalf("expected unknown command code, got %d", rc)
	}

	writes := tr.writes()
	if len(writes) != 1 {
		t.Fatalf("expected one write, got %d", len(writes))
	}
	cmd, err := protocol.DecodeCommand(writes[0])
	if err != nil {
		t.Fatalf("decode command: %v", err)
	}
	if cmd != domain.CommandPauseMission {
		t.Fatalf("expected PauseMission, got %s", cmd)
	}
}

func TestLinkInitializeFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.connectErr = errors.New("no carrier")
	link := NewLink(nil, tr, nil)

	if rc := link.Initialize(); rc != rcConnectFailed {
		t.Fatalf("expected connect failure code, got %d", rc)
	}
}

func TestLinkCloseStopsReader(t *testing.T) {
	tr := newFakeTransport()
	link := NewLink(nil, tr, nil)
	if rc := link.Initialize(); rc != rcOK {
		t.Fatalf("initialize returned %d", rc)
	}

	if rc := link.CloseConnection(); rc != rcOK {
		t.Fatalf("close returned %d", rc)
	}
	if link.running() {
		t.Fatalf("link must not be running after close")
	}
	if rc := link.SendCommand(domain.CommandAbortMission.Code()); rc != rcNotConnected {
		t.Fatalf("expected not connected after close, got %d", rc)
	}
}

func TestOpenerProbesTransport(t *testing.T) {
	tr := newFakeTransport()
	tr.probeErr = errors.New("port missing")

	_, err := Opener(nil, tr, nil)()
	if !errors.Is(err, backend.ErrLinkUnavailable) {
		t.Fatalf("expected ErrLinkUnavailable, got %v", err)
	}

	if _, err := Opener(nil, nil, nil)(); !errors.Is(err, backend.ErrLinkUnavailable) {
		t.Fatalf("expected ErrLinkUnavailable for nil transport, got %v", err)
	}
}

func TestBackendOverRadioLink(t *testing.T) {
	tr := newFakeTransport()
	conn, err := backend.Open(backend.WithLinkOpener(Opener(nil, tr, nil)))
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if conn.Status().Mode != domain.BackendLive {
		t.Fatalf("expected live backend, got %s", conn.Status().Mode)
	}

	codec := protocol.NewCodec(nil, protocol.RejectCritical)
	frame, _ := codec.Encode(domain.Snapshot{Voltage: 3300, Position: domain.Vec3{0, 0, 42}})
	tr.inbound <- frame

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, ok := conn.ReceiveTelemetry()
		if ok {
			if snap.Position[2] != 42 {
				t.Fatalf("unexpected altitude %v", snap.Position[2])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no telemetry via backend")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !conn.SendCommand(domain.CommandRequestTelemetry) {
		t.Fatalf("command over live link failed")
	}
}

func TestBackendFallsBackWhenRadioMissing(t *testing.T) {
	tr := newFakeTransport()
	tr.connectErr = errors.New("device busy")

	conn, err := backend.Open(backend.WithLinkOpener(Opener(nil, tr, nil)))
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if !conn.Status().Simulated() {
		t.Fatalf("expected simulated fallback, got %+v", conn.Status())
	}
}
