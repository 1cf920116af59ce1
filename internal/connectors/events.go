package connectors

import (
	"time"

	"github.com/novoground/gcs/internal/domain"
)

// ConnectionState describes the live link transport lifecycle.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
)

// ConnectionStatus is a bus event snapshot of the live link transport.
type ConnectionStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Target        string
	Timestamp     time.Time
}

// RawFrame carries frame diagnostics for debug/log views.
type RawFrame struct {
	Hex string
	Len int
}

// BackendStatusEvent is published whenever the backend connects, falls back or closes.
type BackendStatusEvent struct {
	Status    domain.BackendStatus
	Reason    string
	Timestamp time.Time
}

type CommandResult struct {
	Command   domain.Command
	Mode      domain.BackendMode
	OK        bool
	Err       string
	Timestamp time.Time
}

type PlaybackState string

const (
	PlaybackStarted  PlaybackState = "started"
	PlaybackStopped  PlaybackState = "stopped"
	PlaybackFinished PlaybackState = "finished"
	PlaybackLoaded   PlaybackState = "loaded"
	PlaybackSpeed    PlaybackState = "speed"
)

type PlaybackStateEvent struct {
	State     PlaybackState
	Speed     float64
	Emitted   int
	Total     int
	Timestamp time.Time
}

// PersistenceError reports a recording or archive write failure.
type PersistenceError struct {
	Component string
	Target    string
	Err       string
	Timestamp time.Time
}
