package persistence

import (
	"time"

	"github.com/novoground/gcs/internal/domain"
)

func toUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMillis(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}

func boolToInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

// telemetryColumns is the column order shared by snapshotArgs and scanSnapshot.
const telemetryColumns = `timestamp,
	position_x, position_y, position_z,
	orientation_pitch, orientation_yaw, orientation_roll,
	velocity_x, velocity_y, velocity_z,
	acceleration_x, acceleration_y, acceleration_z,
	voltage, motor_failure, sensor_error, system_health, sensor_status`

func snapshotArgs(s domain.Snapshot) []any {
	args := make([]any, 0, 18)
	args = append(args, s.UnixSeconds())
	for _, v := range []domain.Vec3{s.Position, s.Orientation, s.Velocity, s.Acceleration} {
		args = append(args, float64(v[0]), float64(v[1]), float64(v[2]))
	}

	return append(args,
		int64(s.Voltage),
		boolToInt(s.Flags.MotorFailure), boolToInt(s.Flags.SensorError),
		boolToInt(s.Flags.SystemHealth), boolToInt(s.Flags.SensorStatus),
	)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (domain.Snapshot, error) {
	var (
		ts      float64
		vecs    [4][3]float64
		voltage int64
		flags   [4]int64
	)
	err := row.Scan(&ts,
		&vecs[0][0], &vecs[0][1], &vecs[0][2],
		&vecs[1][0], &vecs[1][1], &vecs[1][2],
		&vecs[2][0], &vecs[2][1], &vecs[2][2],
		&vecs[3][0], &vecs[3][1], &vecs[3][2],
		&voltage, &flags[0], &flags[1], &flags[2], &flags[3])
	if err != nil {
		return domain.Snapshot{}, err
	}

	vec := func(v [3]float64) domain.Vec3 {
		return domain.Vec3{float32(v[0]), float32(v[1]), float32(v[2])}
	}

	return domain.Snapshot{
		Position:     vec(vecs[0]),
		Orientation:  vec(vecs[1]),
		Velocity:     vec(vecs[2]),
		Acceleration: vec(vecs[3]),
		Voltage:      uint32(voltage),
		Flags: domain.StatusFlags{
			MotorFailure: flags[0] != 0,
			SensorError:  flags[1] != 0,
			SystemHealth: flags[2] != 0,
			SensorStatus: flags[3] != 0,
		},
		Timestamp: domain.TimeFromUnixSeconds(ts),
	}, nil
}
