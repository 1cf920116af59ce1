package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/novoground/gcs/internal/config"
	"github.com/novoground/gcs/internal/connectors"
)

func TransportNameFromConnector(connector config.ConnectorType) string {
	switch connector {
	case config.ConnectorIP:
		return "ip"
	case config.ConnectorSerial:
		return "serial"
	default:
		if value := strings.TrimSpace(string(connector)); value != "" {
			return value
		}
		return "unknown"
	}
}

func ConnectionTarget(cfg config.BackendConfig) string {
	switch cfg.Connector {
	case config.ConnectorIP:
		host := strings.TrimSpace(cfg.Host)
		if host == "" {
			return ""
		}
		return net.JoinHostPort(host, strconv.Itoa(cfg.Port))
	case config.ConnectorSerial:
		port := strings.TrimSpace(cfg.SerialPort)
		if port == "" {
			return ""
		}
		return fmt.Sprintf("%s@%d", port, cfg.SerialBaud)
	default:
		return ""
	}
}

// ConnectionStatusFromConfig is the status shown before the link reports
// anything. Simulated mode never connects a transport.
func ConnectionStatusFromConfig(cfg config.BackendConfig) connectors.ConnectionStatus {
	status := connectors.ConnectionStatus{
		State:         connectors.ConnectionStateDisconnected,
		TransportName: TransportNameFromConnector(cfg.Connector),
		Target:        ConnectionTarget(cfg),
	}
	if cfg.Mode != config.ModeSimulated && status.Target != "" {
		status.State = connectors.ConnectionStateConnecting
	}

	return status
}
