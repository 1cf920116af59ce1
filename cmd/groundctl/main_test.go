package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/novoground/gcs/internal/domain"
	"github.com/novoground/gcs/internal/persistence"
	"github.com/novoground/gcs/internal/protocol"
	"github.com/novoground/gcs/internal/recording"
)

func sample(i int) domain.Snapshot {
	return domain.Snapshot{
		Position:  domain.Vec3{0, 0, float32(10 * i)},
		Velocity:  domain.Vec3{0, 0, 20},
		Voltage:   4800,
		Flags:     domain.StatusFlags{SystemHealth: true},
		Timestamp: time.Unix(1700000000, 0).Add(time.Duration(i) * 10 * time.Millisecond),
	}
}

func hexFrame(t *testing.T, snap domain.Snapshot) string {
	t.Helper()

	frame, err := protocol.NewCodec(nil, protocol.DeliverCritical).Encode(snap)
	require.NoError(t, err)

	return hex.EncodeToString(append(frame, protocol.Delimiter))
}

func TestRunRequiresKnownCommand(t *testing.T) {
	ctx := context.Background()

	require.Error(t, run(ctx, nil, nil, io.Discard, io.Discard))
	require.Error(t, run(ctx, []string{"fly"}, nil, io.Discard, io.Discard))

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"help"}, nil, &out, io.Discard))
	require.Contains(t, out.String(), "replay")
	require.NoError(t, run(ctx, []string{"decode", "-h"}, nil, io.Discard, io.Discard))

	out.Reset()
	require.NoError(t, run(ctx, []string{"version"}, nil, &out, io.Discard))
	require.True(t, strings.HasPrefix(out.String(), "groundctl "), out.String())
}

func TestDecodeCommand(t *testing.T) {
	ctx := context.Background()
	healthy := hexFrame(t, sample(3))

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"decode", healthy}, nil, &out, io.Discard))
	require.Contains(t, out.String(), "alt=30.00m")
	require.Contains(t, out.String(), "voltage=4800mV ok")

	critical := sample(1)
	critical.Flags.MotorFailure = true
	criticalHex := hexFrame(t, critical)

	out.Reset()
	err := run(ctx, []string{"decode"}, strings.NewReader(healthy+"\n"+criticalHex+"\n"), &out, io.Discard)
	require.ErrorContains(t, err, "1 of 2 frames rejected")
	require.Contains(t, out.String(), protocol.ErrCriticalFlagSet.Error())

	out.Reset()
	require.NoError(t, run(ctx, []string{"decode", "-policy", "deliver", criticalHex}, nil, &out, io.Discard))
	require.Contains(t, out.String(), "motor_failure")

	out.Reset()
	require.Error(t, run(ctx, []string{"decode", "zz"}, nil, &out, io.Discard))
	require.Contains(t, out.String(), "invalid hex")
}

func TestRunSessionDispatchesStdinCommands(t *testing.T) {
	root := t.TempDir()
	stdin := strings.NewReader("# comment\nStartMission\nstart-mission\nstatus\nfly\nquit\n")

	var out bytes.Buffer
	err := run(context.Background(), []string{"run", "-root", root, "-mode", "simulated", "-seed", "7", "-for", "10s"}, stdin, &out, io.Discard)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	require.Equal(t, "StartMission: ok", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "StartMission: "), lines[1])
	require.NotEqual(t, "StartMission: ok", lines[1], "a running mission rejects a second start")
	require.Contains(t, lines[2], "mode=simulated connected=true")
	require.Contains(t, lines[3], "mission:")
	require.Contains(t, lines[4], "unknown command")
}

func TestReplayCommandPrintsSamplesAndSummary(t *testing.T) {
	root := t.TempDir()
	rec := recording.New(root, "flight.csv")
	require.NoError(t, rec.Start())
	for i := range 5 {
		require.NoError(t, rec.Log(sample(i)))
	}
	require.NoError(t, rec.Stop())

	var out bytes.Buffer
	err := run(context.Background(), []string{"replay", "-root", root, "-file", rec.Path(), "-speed", "10"}, nil, &out, io.Discard)
	require.NoError(t, err)
	require.Equal(t, 5, strings.Count(out.String(), "voltage=4800mV"))
	require.Contains(t, out.String(), "samples:      5")
	require.Contains(t, out.String(), "apogee:       40.00 m")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"replay", "-root", root, "-file", rec.Path(), "-summary"}, nil, &out, io.Discard))
	require.NotContains(t, out.String(), "voltage=4800mV")
	require.Contains(t, out.String(), "duration:     40ms")

	require.Error(t, run(context.Background(), []string{"replay", "-root", root}, nil, io.Discard, io.Discard))
	require.Error(t, run(context.Background(), []string{"replay", "-root", root, "-file", filepath.Join(root, "missing.csv")}, nil, io.Discard, io.Discard))
}

func TestSessionsCommand(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"sessions", "-root", root}, nil, &out, io.Discard))
	require.Contains(t, out.String(), "no archived sessions")

	db, err := persistence.Open(ctx, filepath.Join(root, "archive.db"))
	require.NoError(t, err)
	repo := persistence.NewTelemetryRepo(db)
	require.NoError(t, repo.CreateSession(ctx, persistence.Session{ID: "flight-1", StartedAt: time.Now(), Source: "simulated"}))
	require.NoError(t, repo.InsertBatch(ctx, "flight-1", []domain.Snapshot{sample(0), sample(1), sample(2)}))
	require.NoError(t, db.Close())

	out.Reset()
	require.NoError(t, run(ctx, []string{"sessions", "-root", root}, nil, &out, io.Discard))
	require.Contains(t, out.String(), "flight-1")
	require.Contains(t, out.String(), "3 samples")

	out.Reset()
	require.NoError(t, run(ctx, []string{"replay", "-root", root, "-session", "flight-1", "-summary"}, nil, &out, io.Discard))
	require.Contains(t, out.String(), "samples:      3")

	require.NoError(t, run(ctx, []string{"sessions", "-root", root, "-delete", "flight-1"}, nil, io.Discard, io.Discard))
	require.ErrorIs(t, run(ctx, []string{"sessions", "-root", root, "-delete", "flight-1"}, nil, io.Discard, io.Discard), persistence.ErrSessionNotFound)
	require.NoError(t, run(ctx, []string{"sessions", "-root", root, "-clear"}, nil, io.Discard, io.Discard))
}

func TestPreviewHex(t *testing.T) {
	short := "aa01"
	if got := previewHex(" " + short + " "); got != short {
		t.Fatalf("expected %q, got %q", short, got)
	}

	long := strings.Repeat("ab", maxHexPreviewLen)
	got := previewHex(long)
	if len(got) != maxHexPreviewLen+3 || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected preview %q", got)
	}
}
