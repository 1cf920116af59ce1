package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// MaxVoltage is the highest voltage (millivolts) a telemetry frame may carry.
const MaxVoltage uint32 = 5000

var ErrVoltageOutOfRange = errors.New("voltage out of range")

// Vec3 is a three-component vector in the wire precision.
type Vec3 [3]float32

// Snapshot is one point-in-time telemetry record.
//
// Snapshots are values: producers build a new one per update and consumers
// receive copies, so nothing observes a half-written record.
type Snapshot struct {
	Position     Vec3 // meters
	Orientation  Vec3 // degrees: pitch, yaw, roll
	Velocity     Vec3 // m/s
	Acceleration Vec3 // m/s^2
	Voltage      uint32
	Flags        StatusFlags
	Timestamp    time.Time
}

// UnixSeconds returns the timestamp as fractional seconds since epoch.
func (s Snapshot) UnixSeconds() float64 {
	if s.Timestamp.IsZero() {
		return 0
	}

	return float64(s.Timestamp.Unix()) + float64(s.Timestamp.Nanosecond())/1e9
}

// TimeFromUnixSeconds converts fractional epoch seconds into a time value,
// rounded to the microsecond: a float64 cannot hold finer steps at current
// epoch magnitudes.
func TimeFromUnixSeconds(sec float64) time.Time {
	if sec == 0 || math.IsNaN(sec) || math.IsInf(sec, 0) {
		return time.Time{}
	}
	whole := math.Floor(sec)
	micros := math.Round((sec - whole) * 1e6)

	return time.Unix(int64(whole), int64(micros)*int64(time.Microsecond))
}

// Patch is a partial update to a snapshot. Nil fields are left untouched.
type Patch struct {
	Position     *Vec3
	Orientation  *Vec3
	Velocity     *Vec3
	Acceleration *Vec3
	Voltage      *uint32
	Flags        *StatusFlags
	Timestamp    *time.Time
}

// Apply returns a copy of s with the patch applied. Patched values are
// validated; the receiver is never modified.
func (s Snapshot) Apply(p Patch) (Snapshot, error) {
	if p.Voltage != nil && *p.Voltage > MaxVoltage {
		return s, fmt.Errorf("%w: %d mV exceeds %d mV", ErrVoltageOutOfRange, *p.Voltage, MaxVoltage)
	}

	next := s
	if p.Position != nil {
		next.Position = *p.Position
	}
	if p.Orientation != nil {
		next.Orientation = *p.Orientation
	}
	if p.Velocity != nil {
		next.Velocity = *p.Velocity
	}
	if p.Acceleration != nil {
		next.Acceleration = *p.Acceleration
	}
	if p.Voltage != nil {
		next.Voltage = *p.Voltage
	}
	if p.Flags != nil {
		next.Flags = *p.Flags
	}
	if p.Timestamp != nil {
		next.Timestamp = *p.Timestamp
	}

	return next, nil
}

// StatusFlags is the decoded form of the 32-bit status bitmask.
type StatusFlags struct {
	SystemHealth bool
	SensorStatus bool
	MotorFailure bool
	SensorError  bool
}

const (
	FlagSystemHealth uint32 = 1 << iota
	FlagSensorStatus
	FlagMotorFailure
	FlagSensorError
)

// StatusFlagsFromBitmask maps bits 0..3 to named flags; other bits are ignored.
func StatusFlagsFromBitmask(mask uint32) StatusFlags {
	return StatusFlags{
		SystemHealth: mask&FlagSystemHealth != 0,
		SensorStatus: mask&FlagSensorStatus != 0,
		MotorFailure: mask&FlagMotorFailure != 0,
		SensorError:  mask&FlagSensorError != 0,
	}
}

func (f StatusFlags) Bitmask() uint32 {
	var mask uint32
	if f.SystemHealth {
		mask |= FlagSystemHealth
	}
	if f.SensorStatus {
		mask |= FlagSensorStatus
	}
	if f.MotorFailure {
		mask |= FlagMotorFailure
	}
	if f.SensorError {
		mask |= FlagSensorError
	}

	return mask
}

// Critical reports whether a flag that marks the vehicle as faulted is set.
func (f StatusFlags) Critical() bool {
	return f.MotorFailure || f.SensorError
}

// CriticalNames lists the critical flags that are set, in wire bit order.
func (f StatusFlags) CriticalNames() []string {
	var names []string
	if f.MotorFailure {
		names = append(names, "motor_failure")
	}
	if f.SensorError {
		names = append(names, "sensor_error")
	}

	return names
}
