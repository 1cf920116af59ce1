package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/novoground/gcs/internal/app"
	"github.com/novoground/gcs/internal/bus"
	"github.com/novoground/gcs/internal/config"
	"github.com/novoground/gcs/internal/connectors"
	"github.com/novoground/gcs/internal/domain"
)

const maxHexPreviewLen = 64

const usage = `usage: groundctl <command> [flags]

commands:
  run       connect to the vehicle (or the simulator) and accept commands on stdin
  replay    replay a recorded CSV file or archived session
  decode    decode hex-encoded telemetry frames
  sessions  list, delete or clear archived sessions
  ports     list serial ports
  version   print the build version
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		slog.Error("run groundctl", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return errors.New("missing command")
	}

	var err error
	switch args[0] {
	case "run":
		err = runSession(ctx, args[1:], stdin, stdout, stderr)
	case "replay":
		err = runReplay(ctx, args[1:], stdout, stderr)
	case "decode":
		err = runDecode(args[1:], stdin, stdout, stderr)
	case "sessions":
		err = runSessions(ctx, args[1:], stdout, stderr)
	case "ports":
		err = runPorts(stdout)
	case "version":
		_, _ = fmt.Fprintf(stdout, "groundctl %s\n", app.BuildVersionWithDate())
		return nil
	case "help", "-h", "--help":
		_, _ = fmt.Fprint(stdout, usage)
		return nil
	default:
		_, _ = fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command: %q", args[0])
	}
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}

	return err
}

func resolvePaths(root string) (app.Paths, error) {
	if strings.TrimSpace(root) == "" {
		return app.ResolvePaths()
	}

	return app.PathsIn(root)
}

func runSession(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", "", "data directory (default: user config dir)")
	configFile := fs.String("config", "", "config file (default: <root>/config.json)")
	mode := fs.String("mode", "", "backend mode: live or simulated")
	connector := fs.String("connector", "", "live link connector: serial or ip")
	serialPort := fs.String("serial-port", "", "serial device, e.g. /dev/ttyUSB0")
	host := fs.String("host", "", "ip/hostname of the telemetry bridge")
	port := fs.Int("port", 0, "tcp port of the telemetry bridge")
	record := fs.Bool("record", false, "record telemetry to CSV")
	archive := fs.Bool("archive", false, "mirror recorded telemetry into the session archive")
	seed := fs.Uint64("seed", 0, "simulator seed")
	listenFor := fs.Duration("for", 0, "session duration, e.g. 30s (default: until interrupt)")
	rawFrames := fs.Bool("raw", false, "log raw frames")
	if err := fs.Parse(args); err != nil {
		return err
	}

	paths, err := resolvePaths(*root)
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}

	opts := []app.Option{
		app.WithPaths(paths),
		app.WithConsole(stderr),
		app.WithConfigOverride(func(cfg *config.AppConfig) {
			if *mode != "" {
				cfg.Backend.Mode = *mode
			}
			if *connector != "" {
				cfg.Backend.Connector = config.ConnectorType(strings.ToLower(*connector))
			}
			if *serialPort != "" {
				cfg.Backend.SerialPort = *serialPort
			}
			if *host != "" {
				cfg.Backend.Host = *host
			}
			if *port != 0 {
				cfg.Backend.Port = *port
			}
			if *record {
				cfg.Recording.Enabled = true
			}
			if *archive {
				cfg.Recording.Archive = true
			}
			if *seed != 0 {
				cfg.Simulator.Seed = *seed
			}
		}),
	}
	if *configFile != "" {
		opts = append(opts, app.WithConfigFile(*configFile))
	}

	rt, err := app.Initialize(ctx, opts...)
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Warn("close runtime", "error", closeErr)
		}
	}()

	logger := rt.LogManager.Logger("cli")
	status := rt.BackendStatus()
	logger.Info("session started", "version", app.BuildVersion(), "mode", status.Mode, "connected", status.Connected)
	if rt.Recorder.Active() {
		logger.Info("recording", "path", rt.Recorder.Path(), "session", rt.Recorder.SessionID())
	}

	watch(rt.Ctx, rt.Bus, logger, *rawFrames)

	lines := make(chan string)
	quit := make(chan struct{})
	defer close(quit)
	go scanLines(stdin, lines, quit)

	var deadline <-chan time.Time
	if *listenFor > 0 {
		timer := time.NewTimer(*listenFor)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			logger.Info("session duration elapsed", "duration", *listenFor)
			return nil
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if done := handleLine(rt, line, stdout); done {
				return nil
			}
		}
	}
}

func scanLines(r io.Reader, out chan<- string, quit <-chan struct{}) {
	defer close(out)
	if r == nil {
		return
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		select {
		case out <- line:
		case <-quit:
			return
		}
	}
}

// handleLine executes one operator line and reports whether the session
// should end.
func handleLine(rt *app.Runtime, line string, out io.Writer) bool {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "quit", "exit":
		return true
	case "status":
		status := rt.BackendStatus()
		conn, _ := rt.CurrentConnStatus()
		_, _ = fmt.Fprintf(out, "backend: mode=%s connected=%t link=%s %s\n", status.Mode, status.Connected, conn.State, conn.Target)
		if info, ok := rt.Backend.Mission(); ok {
			_, _ = fmt.Fprintf(out, "mission: %s\n", info.State)
		}
		return false
	case "record":
		if len(fields) < 2 {
			_, _ = fmt.Fprintln(out, "record: expected start or stop")
			return false
		}
		var err error
		switch strings.ToLower(fields[1]) {
		case "start":
			err = rt.Recorder.Start()
		case "stop":
			err = rt.Recorder.Stop()
		default:
			err = fmt.Errorf("unknown action %q", fields[1])
		}
		if err != nil {
			_, _ = fmt.Fprintf(out, "record: %v\n", err)
		} else {
			_, _ = fmt.Fprintf(out, "record: active=%t path=%s\n", rt.Recorder.Active(), rt.Recorder.Path())
		}
		return false
	}

	cmd, err := domain.ParseCommand(line)
	if err != nil {
		_, _ = fmt.Fprintf(out, "%v\n", err)
		return false
	}
	if err := rt.Dispatch(cmd); err != nil {
		_, _ = fmt.Fprintf(out, "%s: %v\n", cmd, err)
		return false
	}
	_, _ = fmt.Fprintf(out, "%s: ok\n", cmd)

	return false
}

func watch(ctx context.Context, b bus.MessageBus, logger *slog.Logger, rawFrames bool) {
	connSub := b.Subscribe(connectors.TopicConnStatus)
	backendSub := b.Subscribe(connectors.TopicBackendStatus)
	resultSub := b.Subscribe(connectors.TopicCommandResult)
	persistSub := b.Subscribe(connectors.TopicPersistenceError)
	var rawInSub, rawOutSub bus.Subscription
	if rawFrames {
		rawInSub = b.Subscribe(connectors.TopicRawFrameIn)
		rawOutSub = b.Subscribe(connectors.TopicRawFrameOut)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.Unsubscribe(connSub, connectors.TopicConnStatus)
				b.Unsubscribe(backendSub, connectors.TopicBackendStatus)
				b.Unsubscribe(resultSub, connectors.TopicCommandResult)
				b.Unsubscribe(persistSub, connectors.TopicPersistenceError)
				if rawFrames {
					b.Unsubscribe(rawInSub, connectors.TopicRawFrameIn)
					b.Unsubscribe(rawOutSub, connectors.TopicRawFrameOut)
				}
				return
			case raw := <-connSub:
				if status, ok := raw.(connectors.ConnectionStatus); ok {
					logger.Info("link", "state", status.State, "transport", status.TransportName, "target", status.Target, "error", status.Err)
				}
			case raw := <-backendSub:
				if ev, ok := raw.(connectors.BackendStatusEvent); ok {
					logger.Info("backend", "mode", ev.Status.Mode, "connected", ev.Status.Connected, "reason", ev.Reason)
				}
			case raw := <-resultSub:
				if res, ok := raw.(connectors.CommandResult); ok {
					logger.Info("command", "command", res.Command, "mode", res.Mode, "ok", res.OK, "error", res.Err)
				}
			case raw := <-persistSub:
				if ev, ok := raw.(connectors.PersistenceError); ok {
					logger.Error("persistence", "component", ev.Component, "target", ev.Target, "error", ev.Err)
				}
			case raw := <-rawOutSub:
				if frame, ok := raw.(connectors.RawFrame); ok {
					logger.Info("raw-out", "len", frame.Len, "hex", previewHex(frame.Hex))
				}
			case raw := <-rawInSub:
				if frame, ok := raw.(connectors.RawFrame); ok {
					logger.Info("raw-in", "len", frame.Len, "hex", previewHex(frame.Hex))
				}
			}
		}
	}()
}

func previewHex(hex string) string {
	hex = strings.TrimSpace(hex)
	if len(hex) <= maxHexPreviewLen {
		return hex
	}
	return hex[:maxHexPreviewLen] + "..."
}
