package domain

import (
	"fmt"
	"strings"
)

// Command is a mission request sent to the active backend. The set is
// closed: every value outside AllCommands is invalid.
type Command int32

const (
	CommandStartMission Command = iota + 1
	CommandAbortMission
	CommandRequestTelemetry
	CommandCalibrateSensors
	CommandPauseMission
	CommandResumeMission
)

var commandNames = map[Command]string{
	CommandStartMission:     "StartMission",
	CommandAbortMission:     "AbortMission",
	CommandRequestTelemetry: "RequestTelemetry",
	CommandCalibrateSensors: "CalibrateSensors",
	CommandPauseMission:     "PauseMission",
	CommandResumeMission:    "ResumeMission",
}

// AllCommands returns every command in code order.
func AllCommands() []Command {
	return []Command{
		CommandStartMission,
		CommandAbortMission,
		CommandRequestTelemetry,
		CommandCalibrateSensors,
		CommandPauseMission,
		CommandResumeMission,
	}
}

// Code is the integer passed across the live link.
func (c Command) Code() int32 {
	return int32(c)
}

func (c Command) Valid() bool {
	_, ok := commandNames[c]
	return ok
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}

	return fmt.Sprintf("Command(%d)", int32(c))
}

// ParseCommand accepts a command name ("StartMission", "start-mission",
// "start_mission", case-insensitive) or its numeric code.
func ParseCommand(raw string) (Command, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.NewReplacer("-", "", "_", "", " ", "").Replace(normalized)
	if normalized == "" {
		return 0, fmt.Errorf("empty command")
	}
	for _, cmd := range AllCommands() {
		if strings.ToLower(cmd.String()) == normalized || fmt.Sprintf("%d", cmd.Code()) == normalized {
			return cmd, nil
		}
	}

	return 0, fmt.Errorf("unknown command: %q", raw)
}
