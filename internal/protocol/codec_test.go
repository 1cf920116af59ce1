package protocol

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/novoground/gcs/internal/domain"
)

func sampleSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Position:     domain.Vec3{1.5, -2.25, 100},
		Orientation:  domain.Vec3{0.5, 90, -45},
		Velocity:     domain.Vec3{0, 0, 12.5},
		Acceleration: domain.Vec3{0.125, 0, 9.81},
		Voltage:      4200,
		Flags:        domain.StatusFlags{SystemHealth: true, SensorStatus: true},
		Timestamp:    time.Unix(1700000000, 250000000),
	}
}

func TestCodecRoundTrip(t *testing.T) {
	codec := NewCodec(nil, RejectCritical)
	want := sampleSnapshot()

	frame, err := codec.Encode(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if frame[0] != StartByte {
		t.Fatalf("expected start byte %#x, got %#x", StartByte, frame[0])
	}
	if bytes.IndexByte(frame[1:], 0) >= 0 {
		t.Fatalf("stuffed body must not contain zero bytes: % x", frame)
	}

	got, err := codec.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestCodecDecodeFailures(t *testing.T) {
	codec := NewCodec(nil, RejectCritical)
	valid, err := codec.Encode(sampleSnapshot())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	short := append([]byte{StartByte}, COBSEncode(make([]byte, PayloadSize-1))...)
	long := append([]byte{StartByte}, COBSEncode(make([]byte, PayloadSize+1))...)

	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{name: "empty", frame: nil, want: ErrEmptyFrame},
		{name: "wrong start byte", frame: append([]byte{0xAB}, valid[1:]...), want: ErrInvalidStartByte},
		{name: "zero code byte", frame: []byte{StartByte, 0x00, 0x01}, want: ErrZeroByteInStream},
		{name: "short payload", frame: short, want: ErrInvalidPacketSize},
		{name: "long payload", frame: long, want: ErrInvalidPacketSize},
		{name: "start byte only", frame: []byte{StartByte}, want: ErrInvalidPacketSize},
		{name: "truncated run", frame: valid[:len(valid)-3], want: ErrInvalidPacketSize},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := codec.Decode(tc.frame)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !errors.Is(err, ErrDecode) {
				t.Fatalf("expected error to wrap ErrDecode, got %v", err)
			}
		})
	}
}

func TestCodecVoltageLimit(t *testing.T) {
	codec := NewCodec(nil, RejectCritical)

	snap := sampleSnapshot()
	snap.Voltage = domain.MaxVoltage
	frame := append([]byte{StartByte}, COBSEncode(EncodePayload(snap))...)
	got, err := codec.Decode(frame)
	if err != nil {
		t.Fatalf("voltage at limit must decode: %v", err)
	}
	if got.Voltage != domain.MaxVoltage {
		t.Fatalf("expected %d mV, got %d", domain.MaxVoltage, got.Voltage)
	}

	snap.Voltage = domain.MaxVoltage + 1
	frame = append([]byte{StartByte}, COBSEncode(EncodePayload(snap))...)
	if _, err := codec.Decode(frame); !errors.Is(err, ErrVoltageOutOfRange) {
		t.Fatalf("expected ErrVoltageOutOfRange, got %v", err)
	}
	if _, err := codec.Encode(snap); !errors.Is(err, ErrVoltageOutOfRange) {
		t.Fatalf("encode must refuse out of range voltage, got %v", err)
	}
}

func TestCodecBitmaskMapping(t *testing.T) {
	codec := NewCodec(nil, DeliverCritical)

	tests := []struct {
		mask uint32
		want domain.StatusFlags
	}{
		{mask: 0, want: domain.StatusFlags{}},
		{mask: 1 << 0, want: domain.StatusFlags{SystemHealth: true}},
		{mask: 1 << 1, want: domain.StatusFlags{SensorStatus: true}},
		{mask: 1 << 2, want: domain.StatusFlags{MotorFailure: true}},
		{mask: 1 << 3, want: domain.StatusFlags{SensorError: true}},
		{mask: 0xFFFFFFF0 | 0b0011, want: domain.StatusFlags{SystemHealth: true, SensorStatus: true}},
	}

	for _, tc := range tests {
		payload := EncodePayload(sampleSnapshot())
		payload[offStatus] = byte(tc.mask)
		payload[offStatus+1] = byte(tc.mask >> 8)
		payload[offStatus+2] = byte(tc.mask >> 16)
		payload[offStatus+3] = byte(tc.mask >> 24)

		got, err := codec.Decode(append([]byte{StartByte}, COBSEncode(payload)...))
		if err != nil {
			t.Fatalf("mask %#x: decode: %v", tc.mask, err)
		}
		if got.Flags != tc.want {
			t.Fatalf("mask %#x: expected %+v, got %+v", tc.mask, tc.want, got.Flags)
		}
	}
}

func TestCodecCriticalFlagPolicy(t *testing.T) {
	snap := sampleSnapshot()
	snap.Flags.MotorFailure = true
	frame := append([]byte{StartByte}, COBSEncode(EncodePayload(snap))...)

	_, err := NewCodec(nil, RejectCritical).Decode(frame)
	if !errors.Is(err, ErrCriticalFlagSet) {
		t.Fatalf("expected ErrCriticalFlagSet, got %v", err)
	}

	got, err := NewCodec(nil, DeliverCritical).Decode(frame)
	if err != nil {
		t.Fatalf("deliver policy must return the snapshot: %v", err)
	}
	if !got.Flags.MotorFailure || got.Flags.SensorError {
		t.Fatalf("unexpected flags: %+v", got.Flags)
	}
}

func TestParseCriticalFlagPolicy(t *testing.T) {
	for raw, want := range map[string]CriticalFlagPolicy{"": RejectCritical, "Reject": RejectCritical, " deliver ": DeliverCritical} {
		got, err := ParseCriticalFlagPolicy(raw)
		if err != nil {
			t.Fatalf("%q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("%q: expected %s, got %s", raw, want, got)
		}
	}
	if _, err := ParseCriticalFlagPolicy("ignore"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

func TestCommandFrameRoundTrip(t *testing.T) {
	for _, cmd := range domain.AllCommands() {
		frame, err := EncodeCommand(cmd)
		if err != nil {
			t.Fatalf("%s: encode: %v", cmd, err)
		}
		if frame[0] != CommandStartByte {
			t.Fatalf("%s: unexpected start byte %#x", cmd, frame[0])
		}
		got, err := DecodeCommand(frame)
		if err != nil {
			t.Fatalf("%s: decode: %v", cmd, err)
		}
		if got != cmd {
			t.Fatalf("expected %s, got %s", cmd, got)
		}
	}

	if _, err := EncodeCommand(domain.Command(99)); err == nil {
		t.Fatalf("expected error for unknown command")
	}
	if _, err := DecodeCommand([]byte{StartByte, 0x02, 0x01}); !errors.Is(err, ErrInvalidStartByte) {
		t.Fatalf("expected ErrInvalidStartByte, got %v", err)
	}
}
