package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/novoground/gcs/internal/protocol"
)

// serveOnce accepts one connection and hands it to fn.
func serveOnce(t *testing.T, fn func(net.Conn)) *IPTransport {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}()

	tr := NewIPTransport("127.0.0.1", ln.Addr().(*net.TCPAddr).Port)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	return tr
}

func TestIPTransportReadStopsOnCancel(t *testing.T) {
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	tr := serveOnce(t, func(net.Conn) { <-hold })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := tr.ReadFrame(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("read returned after %s", elapsed)
	}
}

func TestIPTransportReadTimeoutThenFrame(t *testing.T) {
	frame := []byte{protocol.StartByte, 0x03, 0x11, 0x22}
	send := make(chan struct{})
	tr := serveOnce(t, func(conn net.Conn) {
		<-send
		wire, _ := encodeFrame(frame)
		// Noise first, then the frame split across segments.
		_, _ = conn.Write([]byte{0x13, 0x37, 0x00})
		_, _ = conn.Write(wire[:2])
		time.Sleep(20 * time.Millisecond)
		_, _ = conn.Write(wire[2:])
		time.Sleep(time.Second)
	})

	short, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	_, err := tr.ReadFrame(short)
	cancel()
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected a deadline error, got %v", err)
	}

	close(send)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	got, err := tr.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("read after timeout: %v", err)
	}
	if string(got) != string(frame) {
		t.Fatalf("frame mismatch: got %x want %x", got, frame)
	}
}

func TestIPTransportRequiresConnection(t *testing.T) {
	tr := NewIPTransport("  ", 0)
	if tr.StatusTarget() != "" {
		t.Fatalf("blank host must have no target, got %q", tr.StatusTarget())
	}
	if err := tr.Connect(context.Background()); !errors.Is(err, errNoHost) {
		t.Fatalf("expected errNoHost, got %v", err)
	}

	tr = NewIPTransport("192.0.2.1", 0)
	if tr.StatusTarget() != "192.0.2.1:5760" {
		t.Fatalf("unexpected default target %q", tr.StatusTarget())
	}
	if _, err := tr.ReadFrame(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected on read, got %v", err)
	}
	if err := tr.WriteFrame(context.Background(), []byte{protocol.CommandStartByte, 0x02, 0x01}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected on write, got %v", err)
	}
	if err := tr.WriteFrame(context.Background(), []byte{0x42, 0x01}); !errors.Is(err, errUnknownMarker) {
		t.Fatalf("expected marker error before any I/O, got %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("close of idle transport: %v", err)
	}
}
