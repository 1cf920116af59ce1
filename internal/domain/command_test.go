package domain

import "testing"

func TestCommandCodesMatchWireContract(t *testing.T) {
	want := map[Command]int32{
		CommandStartMission:     1,
		CommandAbortMission:     2,
		CommandRequestTelemetry: 3,
		CommandCalibrateSensors: 4,
		CommandPauseMission:     5,
		CommandResumeMission:    6,
	}
	if len(AllCommands()) != len(want) {
		t.Fatalf("expected %d commands, got %d", len(want), len(AllCommands()))
	}
	for _, cmd := range AllCommands() {
		if cmd.Code() != want[cmd] {
			t.Fatalf("%s: expected code %d, got %d", cmd, want[cmd], cmd.Code())
		}
		if !cmd.Valid() {
			t.Fatalf("%s must be valid", cmd)
		}
	}
	if Command(0).Valid() || Command(7).Valid() {
		t.Fatalf("out-of-range commands must be invalid")
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{in: "StartMission", want: CommandStartMission},
		{in: "abort-mission", want: CommandAbortMission},
		{in: " request_telemetry ", want: CommandRequestTelemetry},
		{in: "CALIBRATESENSORS", want: CommandCalibrateSensors},
		{in: "5", want: CommandPauseMission},
		{in: "resume mission", want: CommandResumeMission},
	}

	for _, tc := range tests {
		got, err := ParseCommand(tc.in)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%q: expected %s, got %s", tc.in, tc.want, got)
		}
	}

	for _, bad := range []string{"", "launch", "9"} {
		if _, err := ParseCommand(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestMissionStateString(t *testing.T) {
	names := map[MissionState]string{
		MissionIdle:       "idle",
		MissionLaunching:  "launching",
		MissionAscending:  "ascending",
		MissionDescending: "descending",
		MissionLanded:     "landed",
		MissionState(42):  "unknown",
	}
	for state, want := range names {
		if got := state.String(); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}
