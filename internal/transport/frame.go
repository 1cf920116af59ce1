package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/novoground/gcs/internal/protocol"
)

// maxFrameLen bounds a stuffed frame between start byte and delimiter.
const maxFrameLen = 512

var (
	errFrameTooLong  = errors.New("frame exceeds maximum length")
	errEmptyFrame    = errors.New("frame body is empty")
	errFrameHasZero  = errors.New("frame contains delimiter byte")
	errUnknownMarker = errors.New("frame does not begin with a start byte")
)

type readFullFunc func(buf []byte) error

func isStartByte(b byte) bool {
	return b == protocol.StartByte || b == protocol.CommandStartByte
}

// encodeFrame appends the stream delimiter to a start-marked, stuffed frame.
func encodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, errEmptyFrame
	}
	if !isStartByte(frame[0]) {
		return nil, fmt.Errorf("%w: %#x", errUnknownMarker, frame[0])
	}
	if len(frame) > maxFrameLen {
		return nil, fmt.Errorf("%w: %d", errFrameTooLong, len(frame))
	}
	if bytes.IndexByte(frame, protocol.Delimiter) >= 0 {
		return nil, errFrameHasZero
	}

	out := make([]byte, len(frame)+1)
	copy(out, frame)
	out[len(frame)] = protocol.Delimiter

	return out, nil
}

// readFrame skips noise up to a start byte and returns the frame up to, but
// not including, the delimiter.
func readFrame(readFull readFullFunc) ([]byte, error) {
	start, err := resyncToStart(readFull)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 1, 96)
	frame[0] = start
	buf := make([]byte, 1)
	for {
		if err := readFull(buf); err != nil {
			return nil, fmt.Errorf("read frame body: %w", err)
		}
		if buf[0] == protocol.Delimiter {
			break
		}
		if len(frame) >= maxFrameLen {
			return nil, fmt.Errorf("%w: %d", errFrameTooLong, maxFrameLen)
		}
		frame = append(frame, buf[0])
	}
	if len(frame) == 1 {
		return nil, errEmptyFrame
	}

	return frame, nil
}

func resyncToStart(readFull readFullFunc) (byte, error) {
	buf := make([]byte, 1)
	for {
		if err := readFull(buf); err != nil {
			return 0, fmt.Errorf("read frame start byte: %w", err)
		}
		if isStartByte(buf[0]) {
			return buf[0], nil
		}
	}
}

func ioReadFullFunc(r io.Reader) readFullFunc {
	return func(buf []byte) error {
		_, err := io.ReadFull(r, buf)

		return err
	}
}
