package recording

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/novoground/gcs/internal/domain"
)

// Header is the column layout of a telemetry table.
var Header = []string{
	"timestamp",
	"position_x", "position_y", "position_z",
	"orientation_pitch", "orientation_yaw", "orientation_roll",
	"velocity_x", "velocity_y", "velocity_z",
	"acceleration_x", "acceleration_y", "acceleration_z",
	"voltage",
	"motor_failure", "sensor_error", "system_health", "sensor_status",
}

// FormatRow flattens s into one table row. Vector components use the
// shortest float32 form so reading them back is exact.
func FormatRow(s domain.Snapshot) []string {
	row := make([]string, 0, len(Header))
	row = append(row, strconv.FormatFloat(s.UnixSeconds(), 'f', 6, 64))
	for _, v := range [...]domain.Vec3{s.Position, s.Orientation, s.Velocity, s.Acceleration} {
		for _, c := range v {
			row = append(row, strconv.FormatFloat(float64(c), 'g', -1, 32))
		}
	}
	row = append(row,
		strconv.FormatUint(uint64(s.Voltage), 10),
		strconv.FormatBool(s.Flags.MotorFailure),
		strconv.FormatBool(s.Flags.SensorError),
		strconv.FormatBool(s.Flags.SystemHealth),
		strconv.FormatBool(s.Flags.SensorStatus),
	)

	return row
}

// ParseRow is the inverse of FormatRow. It also accepts tables written by
// older tools: capitalised booleans, an empty timestamp or an RFC 3339 one.
func ParseRow(row []string) (domain.Snapshot, error) {
	if len(row) != len(Header) {
		return domain.Snapshot{}, fmt.Errorf("expected %d columns, got %d", len(Header), len(row))
	}

	var (
		s   domain.Snapshot
		err error
	)
	if s.Timestamp, err = parseTimestamp(row[0]); err != nil {
		return domain.Snapshot{}, err
	}

	vectors := [...]*domain.Vec3{&s.Position, &s.Orientation, &s.Velocity, &s.Acceleration}
	col := 1
	for _, v := range vectors {
		for i := range v {
			f, err := strconv.ParseFloat(strings.TrimSpace(row[col]), 32)
			if err != nil {
				return domain.Snapshot{}, fmt.Errorf("column %s: %w", Header[col], err)
			}
			v[i] = float32(f)
			col++
		}
	}

	voltage, err := strconv.ParseUint(strings.TrimSpace(row[col]), 10, 32)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("column voltage: %w", err)
	}
	s.Voltage = uint32(voltage)
	col++

	flags := [...]*bool{&s.Flags.MotorFailure, &s.Flags.SensorError, &s.Flags.SystemHealth, &s.Flags.SensorStatus}
	for _, f := range flags {
		b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(row[col])))
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("column %s: %w", Header[col], err)
		}
		*f = b
		col++
	}

	return s, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}

	sec, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		t, terr := time.Parse(time.RFC3339Nano, raw)
		if terr != nil {
			return time.Time{}, fmt.Errorf("column timestamp: %w", err)
		}
		return t, nil
	}
	if math.IsNaN(sec) || math.IsInf(sec, 0) {
		return time.Time{}, fmt.Errorf("column timestamp: not finite: %q", raw)
	}

	return domain.TimeFromUnixSeconds(sec), nil
}
