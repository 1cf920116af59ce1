package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/novoground/gcs/internal/bus"
	"github.com/novoground/gcs/internal/config"
	"github.com/novoground/gcs/internal/connectors"
	"github.com/novoground/gcs/internal/domain"
	"github.com/novoground/gcs/internal/logging"
	"github.com/novoground/gcs/internal/persistence"
	"github.com/novoground/gcs/internal/playback"
	"github.com/novoground/gcs/internal/protocol"
	"github.com/novoground/gcs/internal/transport"
)

const drainIdle = 250 * time.Millisecond

func runReplay(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", "", "data directory (default: user config dir)")
	file := fs.String("file", "", "recorded CSV file")
	session := fs.String("session", "", "archived session id")
	speed := fs.Float64("speed", 0, "playback speed multiplier (default: config playback.speed)")
	summaryOnly := fs.Bool("summary", false, "print the flight summary without replaying")
	quiet := fs.Bool("quiet", false, "do not print replayed samples")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*file == "") == (*session == "") {
		return errors.New("replay needs exactly one of -file or -session")
	}

	paths, err := resolvePaths(*root)
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *speed == 0 {
		*speed = cfg.Playback.Speed
	}

	logMgr := logging.NewManager(stderr)
	cfg.Logging.LogToFile = false
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() { _ = logMgr.Close() }()

	var source playback.Source
	if *file != "" {
		source = playback.CSVSource(*file)
	} else {
		db, err := persistence.Open(ctx, paths.DBFile)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer func() { _ = db.Close() }()
		source = playback.ArchiveSource(persistence.NewTelemetryRepo(db), *session)
	}

	b := bus.New(logMgr.Logger("bus"))
	defer b.Close()

	player := playback.New(source, b, playback.WithLogger(logMgr.Logger("playback")))
	if err := player.Load(ctx); err != nil {
		return err
	}
	if *summaryOnly {
		printSummary(stdout, playback.Summarize(player.Snapshots()))
		return nil
	}
	if err := player.SetSpeed(*speed); err != nil {
		return err
	}

	sub := b.Subscribe(connectors.TopicPlaybackTelemetry)
	defer b.Unsubscribe(sub, connectors.TopicPlaybackTelemetry)

	if err := player.Start(); err != nil {
		return err
	}

	printed := 0
	done := player.Done()
	for done != nil {
		select {
		case <-ctx.Done():
			player.Stop()
			done = nil
		case <-done:
			done = nil
		case raw := <-sub:
			if snap, ok := raw.(domain.Snapshot); ok {
				printed++
				if !*quiet {
					printSample(stdout, snap)
				}
			}
		}
	}

	// Samples published just before the worker ended may still be queued. The
	// bus drops what a full subscription cannot take, so stop once it goes quiet.
	for printed < player.Emitted() {
		select {
		case raw := <-sub:
			if snap, ok := raw.(domain.Snapshot); ok {
				printed++
				if !*quiet {
					printSample(stdout, snap)
				}
			}
			continue
		case <-time.After(drainIdle):
		}
		break
	}
	if emitted := player.Emitted(); printed < emitted {
		logMgr.Logger("cli").Warn("replay samples dropped", "printed", printed, "emitted", emitted)
	}

	printSummary(stdout, playback.Summarize(player.Snapshots()[:player.Emitted()]))

	return nil
}

func printSample(w io.Writer, s domain.Snapshot) {
	flags := "ok"
	if names := s.Flags.CriticalNames(); len(names) > 0 {
		flags = strings.Join(names, "+")
	}
	ts := "-"
	if !s.Timestamp.IsZero() {
		ts = s.Timestamp.UTC().Format("15:04:05.000")
	}
	_, _ = fmt.Fprintf(w, "%s alt=%.2fm vel=(%.2f, %.2f, %.2f) voltage=%dmV %s\n",
		ts, s.Position[2], s.Velocity[0], s.Velocity[1], s.Velocity[2], s.Voltage, flags)
}

func printSummary(w io.Writer, sum playback.FlightSummary) {
	_, _ = fmt.Fprintf(w, "samples:      %s\n", humanize.Comma(int64(sum.Samples)))
	_, _ = fmt.Fprintf(w, "duration:     %s\n", sum.Duration)
	_, _ = fmt.Fprintf(w, "apogee:       %s m\n", humanize.FormatFloat("#,###.##", sum.Apogee))
	_, _ = fmt.Fprintf(w, "max speed:    %s m/s\n", humanize.FormatFloat("#,###.##", sum.MaxSpeed))
	_, _ = fmt.Fprintf(w, "min voltage:  %s mV\n", humanize.FormatFloat("#,###.", sum.MinVoltage))
	_, _ = fmt.Fprintf(w, "mean voltage: %s mV\n", humanize.FormatFloat("#,###.", sum.MeanVoltage))
	_, _ = fmt.Fprintf(w, "critical:     %d\n", sum.Critical)
}

func runDecode(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	fs.SetOutput(stderr)
	policyRaw := fs.String("policy", config.PolicyReject, "critical flag policy: reject or deliver")
	if err := fs.Parse(args); err != nil {
		return err
	}
	policy, err := protocol.ParseCriticalFlagPolicy(*policyRaw)
	if err != nil {
		return err
	}
	codec := protocol.NewCodec(nil, policy)

	frames := fs.Args()
	if len(frames) == 0 && stdin != nil {
		sc := bufio.NewScanner(stdin)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				frames = append(frames, line)
			}
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("read frames: %w", err)
		}
	}
	if len(frames) == 0 {
		return errors.New("no frames to decode")
	}

	rejected := 0
	for _, raw := range frames {
		snap, err := decodeHexFrame(codec, raw)
		if err != nil {
			rejected++
			_, _ = fmt.Fprintf(stdout, "%s: %v\n", previewHex(raw), err)
			continue
		}
		printSample(stdout, snap)
	}
	if rejected > 0 {
		return fmt.Errorf("%d of %d frames rejected", rejected, len(frames))
	}

	return nil
}

// decodeHexFrame accepts hex with optional spaces or colons and an optional
// trailing delimiter byte.
func decodeHexFrame(codec *protocol.Codec, raw string) (domain.Snapshot, error) {
	cleaned := strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(raw)
	frame, err := hex.DecodeString(cleaned)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("invalid hex: %w", err)
	}
	if n := len(frame); n > 0 && frame[n-1] == protocol.Delimiter {
		frame = frame[:n-1]
	}

	return codec.Decode(frame)
}

func runSessions(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", "", "data directory (default: user config dir)")
	deleteID := fs.String("delete", "", "delete the session with this id")
	clearAll := fs.Bool("clear", false, "delete every archived session")
	if err := fs.Parse(args); err != nil {
		return err
	}

	paths, err := resolvePaths(*root)
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	db, err := persistence.Open(ctx, paths.DBFile)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = db.Close() }()
	repo := persistence.NewTelemetryRepo(db)

	switch {
	case *clearAll:
		removed, err := persistence.ClearDatabase(ctx, db)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "archive cleared: %d sessions removed\n", removed)
		return nil
	case *deleteID != "":
		if err := repo.DeleteSession(ctx, *deleteID); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "session %s deleted\n", *deleteID)
		return nil
	}

	sessions, err := repo.Sessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		_, _ = fmt.Fprintln(stdout, "no archived sessions")
		return nil
	}
	for _, s := range sessions {
		span := time.Duration(0)
		if s.Samples > 1 && s.Last.After(s.First) {
			span = s.Last.Sub(s.First)
		}
		_, _ = fmt.Fprintf(stdout, "%s  %-9s  %s samples  %s  started %s\n",
			s.ID, s.Source, humanize.Comma(int64(s.Samples)), span.Round(time.Millisecond), humanize.Time(s.StartedAt))
	}

	return nil
}

func runPorts(stdout io.Writer) error {
	ports, err := transport.AvailablePorts()
	if err != nil {
		return fmt.Errorf("list serial ports: %w", err)
	}
	if len(ports) == 0 {
		_, _ = fmt.Fprintln(stdout, "no serial ports found")
		return nil
	}
	for _, p := range ports {
		_, _ = fmt.Fprintln(stdout, p)
	}

	return nil
}
