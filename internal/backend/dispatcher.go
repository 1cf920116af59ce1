package backend

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/novoground/gcs/internal/bus"
	"github.com/novoground/gcs/internal/connectors"
	"github.com/novoground/gcs/internal/domain"
	"github.com/novoground/gcs/internal/simulator"
)

// Dispatcher routes commands to whichever backend the connection holds.
type Dispatcher struct {
	conn   *Connection
	logger *slog.Logger
	bus    bus.MessageBus
}

func newDispatcher(conn *Connection, logger *slog.Logger, b bus.MessageBus) *Dispatcher {
	return &Dispatcher{conn: conn, logger: logger, bus: b}
}

// Dispatch sends cmd and returns nil only when the backend accepted it.
func (d *Dispatcher) Dispatch(cmd domain.Command) error {
	mode, link, sim, ok := d.conn.target()

	var err error
	switch {
	case !cmd.Valid():
		err = fmt.Errorf("%w: code %d", ErrUnknownCommand, cmd.Code())
	case !ok:
		err = ErrNotConnected
	case mode == domain.BackendLive:
		err = d.sendLive(link, cmd)
	default:
		err = d.applySimulated(sim, cmd)
	}

	d.report(cmd, mode, err)

	return err
}

func (d *Dispatcher) sendLive(link LiveLink, cmd domain.Command) error {
	rc, err := d.conn.sendRaw(link, cmd.Code())
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSendFailed, cmd, err)
	}
	if rc != 0 {
		return fmt.Errorf("%w: %s: link returned %d", ErrSendFailed, cmd, rc)
	}

	return nil
}

func (d *Dispatcher) applySimulated(sim *simulator.Simulator, cmd domain.Command) error {
	var accepted bool
	switch cmd {
	case domain.CommandStartMission,
		domain.CommandAbortMission,
		domain.CommandRequestTelemetry,
		domain.CommandCalibrateSensors,
		domain.CommandPauseMission,
		domain.CommandResumeMission:
		accepted = sim.Apply(cmd)
	default:
		return fmt.Errorf("%w: code %d", ErrUnknownCommand, cmd.Code())
	}
	if !accepted {
		return fmt.Errorf("%w: %s rejected in state %s", ErrSendFailed, cmd, sim.Mission().State)
	}

	return nil
}

func (d *Dispatcher) report(cmd domain.Command, mode domain.BackendMode, err error) {
	result := connectors.CommandResult{
		Command:   cmd,
		Mode:      mode,
		OK:        err == nil,
		Timestamp: time.Now(),
	}
	if err != nil {
		result.Err = err.Error()
		d.logger.Error("command failed", "command", cmd, "mode", mode, "error", err)
	} else {
		d.logger.Info("command sent", "command", cmd, "mode", mode)
	}

	if d.bus != nil {
		d.bus.Publish(connectors.TopicCommandResult, result)
	}
}
