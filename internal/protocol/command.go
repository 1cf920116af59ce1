package protocol

import (
	"fmt"

	"github.com/novoground/gcs/internal/domain"
)

// CommandStartByte opens an uplink command frame. It differs from StartByte
// so a loopback link never mistakes a command for telemetry.
const CommandStartByte byte = 0xA5

// EncodeCommand builds the uplink frame for cmd: start byte followed by the
// stuffed one-byte command code.
func EncodeCommand(cmd domain.Command) ([]byte, error) {
	if !cmd.Valid() {
		return nil, fmt.Errorf("encode command: unknown command code %d", cmd.Code())
	}
	body := COBSEncode([]byte{byte(cmd.Code())})

	return append([]byte{CommandStartByte}, body...), nil
}

func DecodeCommand(frame []byte) (domain.Command, error) {
	if len(frame) == 0 {
		return 0, ErrEmptyFrame
	}
	if frame[0] != CommandStartByte {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrInvalidStartByte, frame[0], CommandStartByte)
	}
	payload, err := COBSDecode(frame[1:])
	if err != nil {
		return 0, err
	}
	if len(payload) != 1 {
		return 0, fmt.Errorf("%w: got %d bytes, want 1", ErrInvalidPacketSize, len(payload))
	}
	cmd := domain.Command(payload[0])
	if !cmd.Valid() {
		return 0, fmt.Errorf("decode command: unknown command code %d", payload[0])
	}

	return cmd, nil
}
