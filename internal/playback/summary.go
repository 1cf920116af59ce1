package playback

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/novoground/gcs/internal/domain"
)

// FlightSummary condenses a telemetry sequence for reports.
type FlightSummary struct {
	Samples     int
	Duration    time.Duration
	Apogee      float64 // meters, highest position_z
	MaxSpeed    float64 // m/s, largest velocity magnitude
	MinVoltage  float64 // millivolts
	MeanVoltage float64 // millivolts
	Critical    int     // samples with a critical status flag
}

func Summarize(snaps []domain.Snapshot) FlightSummary {
	if len(snaps) == 0 {
		return FlightSummary{}
	}

	altitude := make([]float64, len(snaps))
	speed := make([]float64, len(snaps))
	voltage := make([]float64, len(snaps))
	critical := 0
	vel := make([]float64, 3)
	for i, s := range snaps {
		altitude[i] = float64(s.Position[2])
		for j, c := range s.Velocity {
			vel[j] = float64(c)
		}
		speed[i] = floats.Norm(vel, 2)
		voltage[i] = float64(s.Voltage)
		if s.Flags.Critical() {
			critical++
		}
	}

	sum := FlightSummary{
		Samples:     len(snaps),
		Apogee:      floats.Max(altitude),
		MaxSpeed:    floats.Max(speed),
		MinVoltage:  floats.Min(voltage),
		MeanVoltage: stat.Mean(voltage, nil),
		Critical:    critical,
	}
	first, last := snaps[0].Timestamp, snaps[len(snaps)-1].Timestamp
	if !first.IsZero() && !last.IsZero() && last.After(first) {
		sum.Duration = last.Sub(first)
	}

	return sum
}
