package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/cortexlab/cortex/internal/busclient"
	"github.com/cortexlab/cortex/internal/config"
	"github.com/cortexlab/cortex/internal/connectors"
)

// NewBusClient creates the client for the configured backend. The local
// backend requires a broker.
func NewBusClient(cfg config.BusConfig, broker *busclient.Broker, opts busclient.Options, cb busclient.Callback) (busclient.Client, error) {
	opts.Address = strings.TrimSpace(cfg.Address)
	opts.ClientID = strings.TrimSpace(cfg.ClientID)
	opts.KeepAlive = time.Duration(cfg.KeepAliveSeconds) * time.Second
	opts.ConnectTimeout = time.Duration(cfg.ConnectTimeoutSeconds) * time.Second

	switch cfg.Backend {
	case config.BusMQTT:
		return busclient.NewMQTT(opts, cb), nil
	case config.BusNATS:
		return busclient.NewNATS(opts, cb), nil
	case config.BusLocal:
		if broker == nil {
			return nil, fmt.Errorf("local bus backend needs an in-process broker")
		}
		return busclient.NewLocal(broker, opts, cb), nil
	default:
		return nil, fmt.Errorf("unknown bus backend: %q", cfg.Backend)
	}
}

func BusTarget(cfg config.BusConfig) string {
	if cfg.Backend == config.BusLocal {
		return "in-process"
	}

	return strings.TrimSpace(cfg.Address)
}

// ConnectionStatusFromConfig is the status shown before the first event.
func ConnectionStatusFromConfig(cfg config.BusConfig) connectors.ConnectionStatus {
	status := connectors.ConnectionStatus{
		State:   connectors.ConnectionStateDisconnected,
		Backend: string(cfg.Backend),
		Target:  BusTarget(cfg),
	}
	if status.Target != "" {
		status.State = connectors.ConnectionStateConnecting
	}

	return status
}
