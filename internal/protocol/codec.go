package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	"github.com/novoground/gcs/internal/domain"
)

const (
	// StartByte opens every telemetry frame.
	StartByte byte = 0xAA
	// Delimiter terminates a frame on byte streams.
	Delimiter byte = 0x00
	// PayloadSize is the unstuffed telemetry payload length.
	PayloadSize = 4*3*4 + 4 + 4 + 8
)

// Payload layout. Every field is little-endian.
const (
	offPosition     = 0
	offOrientation  = 12
	offVelocity     = 24
	offAcceleration = 36
	offVoltage      = 48
	offStatus       = 52
	offTimestamp    = 56
)

// CriticalFlagPolicy decides what happens to a frame that reports
// motor_failure or sensor_error.
type CriticalFlagPolicy int

const (
	// RejectCritical drops the frame with ErrCriticalFlagSet.
	RejectCritical CriticalFlagPolicy = iota
	// DeliverCritical returns the snapshot with the flags visible.
	DeliverCritical
)

func (p CriticalFlagPolicy) String() string {
	switch p {
	case RejectCritical:
		return "reject"
	case DeliverCritical:
		return "deliver"
	default:
		return fmt.Sprintf("CriticalFlagPolicy(%d)", int(p))
	}
}

// ParseCriticalFlagPolicy maps a config value onto a policy. Empty means reject.
func ParseCriticalFlagPolicy(raw string) (CriticalFlagPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "reject":
		return RejectCritical, nil
	case "deliver":
		return DeliverCritical, nil
	default:
		return RejectCritical, fmt.Errorf("unsupported critical flag policy: %q", raw)
	}
}

// Codec converts between telemetry frames and snapshots.
type Codec struct {
	logger *slog.Logger
	policy CriticalFlagPolicy
}

func NewCodec(logger *slog.Logger, policy CriticalFlagPolicy) *Codec {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Codec{logger: logger, policy: policy}
}

func (c *Codec) Policy() CriticalFlagPolicy {
	return c.policy
}

// Decode turns one start-marked, stuffed frame into a snapshot. Failures are
// logged and returned; malformed input never panics.
func (c *Codec) Decode(frame []byte) (domain.Snapshot, error) {
	snap, err := c.decode(frame)
	if err != nil {
		c.logger.Warn("telemetry frame rejected", "frame_len", len(frame), "error", err)

		return domain.Snapshot{}, err
	}

	return snap, nil
}

func (c *Codec) decode(frame []byte) (domain.Snapshot, error) {
	if len(frame) == 0 {
		return domain.Snapshot{}, ErrEmptyFrame
	}
	if frame[0] != StartByte {
		return domain.Snapshot{}, fmt.Errorf("%w: got %d, want %d", ErrInvalidStartByte, frame[0], StartByte)
	}

	payload, err := COBSDecode(frame[1:])
	if err != nil {
		return domain.Snapshot{}, err
	}

	snap, err := DecodePayload(payload)
	if err != nil {
		return domain.Snapshot{}, err
	}

	if snap.Voltage > domain.MaxVoltage {
		return domain.Snapshot{}, fmt.Errorf("%w: %d mV exceeds %d mV", ErrVoltageOutOfRange, snap.Voltage, domain.MaxVoltage)
	}
	if snap.Flags.Critical() {
		names := snap.Flags.CriticalNames()
		if c.policy == RejectCritical {
			return domain.Snapshot{}, fmt.Errorf("%w: %s", ErrCriticalFlagSet, strings.Join(names, ","))
		}
		c.logger.Warn("telemetry frame reports critical flags", "flags", names)
	}

	return snap, nil
}

// Encode builds a frame for snap: start byte followed by the stuffed payload.
// The stream delimiter is not included.
func (c *Codec) Encode(snap domain.Snapshot) ([]byte, error) {
	if snap.Voltage > domain.MaxVoltage {
		return nil, fmt.Errorf("encode telemetry frame: %w: %d mV", ErrVoltageOutOfRange, snap.Voltage)
	}

	body := COBSEncode(EncodePayload(snap))
	frame := make([]byte, 0, 1+len(body))
	frame = append(frame, StartByte)
	frame = append(frame, body...)

	return frame, nil
}

// DecodePayload unpacks an unstuffed payload without range validation.
func DecodePayload(payload []byte) (domain.Snapshot, error) {
	if len(payload) != PayloadSize {
		return domain.Snapshot{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPacketSize, len(payload), PayloadSize)
	}

	le := binary.LittleEndian
	return domain.Snapshot{
		Position:     readVec3(payload[offPosition:]),
		Orientation:  readVec3(payload[offOrientation:]),
		Velocity:     readVec3(payload[offVelocity:]),
		Acceleration: readVec3(payload[offAcceleration:]),
		Voltage:      le.Uint32(payload[offVoltage:]),
		Flags:        domain.StatusFlagsFromBitmask(le.Uint32(payload[offStatus:])),
		Timestamp:    domain.TimeFromUnixSeconds(math.Float64frombits(le.Uint64(payload[offTimestamp:]))),
	}, nil
}

// EncodePayload packs snap into the fixed 64-byte layout.
func EncodePayload(snap domain.Snapshot) []byte {
	le := binary.LittleEndian
	payload := make([]byte, PayloadSize)
	writeVec3(payload[offPosition:], snap.Position)
	writeVec3(payload[offOrientation:], snap.Orientation)
	writeVec3(payload[offVelocity:], snap.Velocity)
	writeVec3(payload[offAcceleration:], snap.Acceleration)
	le.PutUint32(payload[offVoltage:], snap.Voltage)
	le.PutUint32(payload[offStatus:], snap.Flags.Bitmask())
	le.PutUint64(payload[offTimestamp:], math.Float64bits(snap.UnixSeconds()))

	return payload
}

func readVec3(b []byte) domain.Vec3 {
	le := binary.LittleEndian
	return domain.Vec3{
		math.Float32frombits(le.Uint32(b[0:4])),
		math.Float32frombits(le.Uint32(b[4:8])),
		math.Float32frombits(le.Uint32(b[8:12])),
	}
}

func writeVec3(b []byte, v domain.Vec3) {
	le := binary.LittleEndian
	le.PutUint32(b[0:4], math.Float32bits(v[0]))
	le.PutUint32(b[4:8], math.Float32bits(v[1]))
	le.PutUint32(b[8:12], math.Float32bits(v[2]))
}
