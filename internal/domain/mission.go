package domain

// MissionState is the simulator's flight phase.
type MissionState int

const (
	MissionIdle MissionState = iota
	MissionLaunching
	MissionAscending
	MissionDescending
	MissionLanded
)

func (s MissionState) String() string {
	switch s {
	case MissionIdle:
		return "idle"
	case MissionLaunching:
		return "launching"
	case MissionAscending:
		return "ascending"
	case MissionDescending:
		return "descending"
	case MissionLanded:
		return "landed"
	default:
		return "unknown"
	}
}

// BackendMode identifies which backend serves telemetry and commands.
type BackendMode string

const (
	BackendLive      BackendMode = "live"
	BackendSimulated BackendMode = "simulated"
)

// BackendStatus is derived on demand from the active connection.
type BackendStatus struct {
	Connected bool
	Mode      BackendMode
}

// Simulated reports whether telemetry is synthesized rather than received.
func (s BackendStatus) Simulated() bool {
	return s.Mode == BackendSimulated
}
