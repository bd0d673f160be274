package app

import (
	"testing"

	"github.com/cortexlab/cortex/internal/busclient"
	"github.com/cortexlab/cortex/internal/config"
	"github.com/cortexlab/cortex/internal/connectors"
)

func TestNewBusClientByBackend(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.BusConfig
		broker  *busclient.Broker
		wantErr bool
	}{
		{name: "mqtt", cfg: config.BusConfig{Backend: config.BusMQTT, Address: "tcp://localhost:1883"}},
		{name: "nats", cfg: config.BusConfig{Backend: config.BusNATS, Address: "nats://localhost:4222"}},
		{name: "local", cfg: config.BusConfig{Backend: config.BusLocal}, broker: busclient.NewBroker()},
		{name: "local without broker", cfg: config.BusConfig{Backend: config.BusLocal}, wantErr: true},
		{name: "unknown", cfg: config.BusConfig{Backend: "amqp"}, wantErr: true},
	}

	for _, tc := range tests {
		client, err := NewBusClient(tc.cfg, tc.broker, busclient.Options{}, nil)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
			continue
		}
		if err != nil || client == nil {
			t.Fatalf("%s: expected client, got err %v", tc.name, err)
		}
	}
}

func TestConnectionStatusFromConfig(t *testing.T) {
	status := ConnectionStatusFromConfig(config.BusConfig{Backend: config.BusMQTT, Address: " tcp://broker:1883 "})
	if status.State != connectors.ConnectionStateConnecting {
		t.Fatalf("expected connecting state, got %q", status.State)
	}
	if status.Target != "tcp://broker:1883" {
		t.Fatalf("expected trimmed target, got %q", status.Target)
	}

	status = ConnectionStatusFromConfig(config.BusConfig{Backend: config.BusMQTT})
	if status.State != connectors.ConnectionStateDisconnected {
		t.Fatalf("expected disconnected state without address, got %q", status.State)
	}
	if got := BusTarget(config.BusConfig{Backend: config.BusLocal}); got != "in-process" {
		t.Fatalf("expected in-process target, got %q", got)
	}
}
