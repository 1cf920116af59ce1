package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultIPPort = 5760

	ipDialTimeout = 6 * time.Second
	ipKeepAlive   = 15 * time.Second
)

var errNoHost = errors.New("ip host is empty")

// IPTransport carries telemetry frames over TCP, typically to a radio bridge
// or a bench harness replaying captured downlink traffic. The downlink is read
// through a buffer, so resyncing to a start byte and scanning for the
// delimiter cost one syscall per segment instead of one per byte.
type IPTransport struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Reader

	writeMu sync.Mutex
}

func NewIPTransport(host string, port int) *IPTransport {
	if port == 0 {
		port = DefaultIPPort
	}
	t := &IPTransport{}
	if host = strings.TrimSpace(host); host != "" {
		t.addr = net.JoinHostPort(host, strconv.Itoa(port))
	}

	return t
}

func (t *IPTransport) Name() string {
	return "ip"
}

// StatusTarget is host:port, or empty when no host is configured.
func (t *IPTransport) StatusTarget() string {
	return t.addr
}

func (t *IPTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn != nil
}

func (t *IPTransport) log() *slog.Logger {
	return linkLogger("ip", "target", t.addr)
}

func (t *IPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}
	if t.addr == "" {
		t.log().Warn("connect failed", "error", errNoHost)
		return errNoHost
	}

	dialer := net.Dialer{Timeout: ipDialTimeout, KeepAlive: ipKeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		t.log().Warn("connect failed", "error", err)
		return fmt.Errorf("dial %s: %w", t.addr, err)
	}
	// Command frames are a few bytes and must not wait for coalescing.
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	t.conn = conn
	t.rd = bufio.NewReaderSize(conn, 2*maxFrameLen)
	t.log().Info("connected", "remote", conn.RemoteAddr().String())

	return nil
}

func (t *IPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn, t.rd = nil, nil
	if err != nil {
		t.log().Warn("close failed", "error", err)
		return err
	}
	t.log().Info("closed")

	return nil
}

// ReadFrame returns the next start-marked frame. It gives up when ctx ends,
// even while blocked on the socket.
func (t *IPTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	conn, rd, err := t.stream()
	if err != nil {
		return nil, err
	}
	release := bindDeadline(ctx, conn.SetReadDeadline)
	defer release()

	frame, err := readFrame(ioReadFullFunc(rd))
	if err != nil {
		return nil, contextErr(ctx, err)
	}

	return frame, nil
}

func (t *IPTransport) WriteFrame(ctx context.Context, frame []byte) error {
	wire, err := encodeFrame(frame)
	if err != nil {
		t.log().Warn("refusing to send frame", "frame_len", len(frame), "error", err)
		return err
	}
	conn, _, err := t.stream()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	release := bindDeadline(ctx, conn.SetWriteDeadline)
	defer release()

	// net.Conn writes the whole buffer or fails.
	if _, err := conn.Write(wire); err != nil {
		t.log().Warn("write frame failed", "wire_len", len(wire), "error", err)
		return contextErr(ctx, fmt.Errorf("write frame: %w", err))
	}

	return nil
}

func (t *IPTransport) stream() (net.Conn, *bufio.Reader, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, nil, ErrNotConnected
	}

	return t.conn, t.rd, nil
}

// bindDeadline ties conn I/O to ctx: the context deadline becomes the I/O
// deadline and cancellation expires it immediately. The returned func must be
// called once the I/O is done; it waits for a cancellation already in flight
// so that it cannot clobber the deadline of the next call.
func bindDeadline(ctx context.Context, set func(time.Time) error) func() {
	deadline, _ := ctx.Deadline()
	_ = set(deadline)
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = set(time.Now())
		close(fired)
	})

	return func() {
		if !stop() {
			<-fired
		}
	}
}

// contextErr reports an I/O deadline caused by ctx as the context error. The
// socket deadline can trip a moment before the context's own timer does.
func contextErr(ctx context.Context, err error) error {
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}

	return err
}
