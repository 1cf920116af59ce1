package protocol

import "errors"

// ErrDecode is the parent of every frame decoding failure.
var ErrDecode = errors.New("decode telemetry frame")

var (
	ErrEmptyFrame        = decodeError("empty frame")
	ErrInvalidStartByte  = decodeError("invalid start byte")
	ErrZeroByteInStream  = decodeError("zero byte in stuffed stream")
	ErrInvalidPacketSize = decodeError("invalid packet size")
	ErrVoltageOutOfRange = decodeError("voltage out of range")
	ErrCriticalFlagSet   = decodeError("critical status flag set")
)

type kindError struct {
	msg string
}

func decodeError(msg string) error {
	return &kindError{msg: msg}
}

func (e *kindError) Error() string {
	return e.msg
}

func (e *kindError) Unwrap() error {
	return ErrDecode
}
