package app

import (
	"fmt"

	"github.com/novoground/gcs/internal/config"
	"github.com/novoground/gcs/internal/transport"
)

// NewTransport builds the live link transport selected by cfg.
func NewTransport(cfg config.BackendConfig) (transport.Transport, error) {
	switch cfg.Connector {
	case config.ConnectorIP:
		if cfg.Host == "" {
			return nil, fmt.Errorf("ip connector requires a host")
		}
		return transport.NewIPTransport(cfg.Host, cfg.Port), nil
	case config.ConnectorSerial:
		return transport.NewSerialTransport(cfg.SerialPort, cfg.SerialBaud), nil
	default:
		return nil, fmt.Errorf("unknown connector: %q", cfg.Connector)
	}
}
