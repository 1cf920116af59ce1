package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultSerialBaud        = 115200
	defaultSerialReadTimeout = 200 * time.Millisecond
)

var ErrPortNotFound = errors.New("serial port not found")

// AvailablePorts lists the serial ports the OS currently exposes.
func AvailablePorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	slices.Sort(ports)

	return ports, nil
}

// SerialTransport talks to the flight radio over a serial port.
type SerialTransport struct {
	portName  string
	baudRate  int
	listPorts func() ([]string, error)

	mu      sync.Mutex
	port    serial.Port
	writeMu sync.Mutex
}

var _ Prober = (*SerialTransport)(nil)

func NewSerialTransport(portName string, baudRate int) *SerialTransport {
	if baudRate == 0 {
		baudRate = DefaultSerialBaud
	}

	return &SerialTransport{
		portName:  portName,
		baudRate:  baudRate,
		listPorts: AvailablePorts,
	}
}

func (t *SerialTransport) Name() string {
	return "serial"
}

func (t *SerialTransport) StatusTarget() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("%s@%d", t.portName, t.baudRate)
}

func (t *SerialTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Probe reports ErrPortNotFound when the configured port is not present.
func (t *SerialTransport) Probe() error {
	t.mu.Lock()
	name, list := t.portName, t.listPorts
	t.mu.Unlock()

	if name == "" {
		return fmt.Errorf("%w: port name is empty", ErrPortNotFound)
	}
	ports, err := list()
	if err != nil {
		return err
	}
	if !slices.Contains(ports, name) {
		return fmt.Errorf("%w: %s (available: %v)", ErrPortNotFound, name, ports)
	}

	return nil
}

func (t *SerialTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	logger := linkLogger("serial", "port", t.portName, "baud", t.baudRate)

	if t.port != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.portName == "" {
		return errors.New("serial port is empty")
	}
	if t.baudRate <= 0 {
		return fmt.Errorf("invalid serial baud rate: %d", t.baudRate)
	}

	port, err := serial.Open(t.portName, &serial.Mode{
		BaudRate: t.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		logger.Warn("open failed", "error", err)
		return fmt.Errorf("open serial port %q: %w", t.portName, err)
	}
	if err := port.SetReadTimeout(defaultSerialReadTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("set serial read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		logger.Debug("reset input buffer failed", "error", err)
	}
	t.port = port
	logger.Info("connected")

	return nil
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	linkLogger("serial", "port", t.portName).Info("closed")

	return err
}

func (t *SerialTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	port, err := t.currentPort()
	if err != nil {
		return nil, err
	}

	return readFrame(func(buf []byte) error {
		return readFullContext(ctx, port, buf)
	})
}

func (t *SerialTransport) WriteFrame(ctx context.Context, frame []byte) error {
	port, err := t.currentPort()
	if err != nil {
		return err
	}

	wire, err := encodeFrame(frame)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := writeFull(ctx, port, wire); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (t *SerialTransport) currentPort() (serial.Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil, ErrNotConnected
	}
	return t.port, nil
}

// readFullContext fills buf from a reader that returns (0, nil) on read timeout.
func readFullContext(ctx context.Context, r io.Reader, buf []byte) error {
	read := 0
	for read < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf[read:])
		if err != nil {
			return err
		}
		read += n
	}

	return nil
}

func writeFull(ctx context.Context, w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}
