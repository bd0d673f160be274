package main

import (
	"testing"

	"github.com/cortexlab/cortex/internal/config"
)

func TestResolveBus(t *testing.T) {
	base := config.Default().Bus

	tests := []struct {
		name    string
		backend string
		address string
		want    config.BusConfig
		wantErr bool
	}{
		{name: "configured", want: base},
		{name: "nats default address", backend: "NATS", want: config.BusConfig{
			Backend: config.BusNATS, Address: config.DefaultNATSAddress,
			KeepAliveSeconds: base.KeepAliveSeconds, ConnectTimeoutSeconds: base.ConnectTimeoutSeconds,
		}},
		{name: "address override", address: " tcp://lab:1883 ", want: config.BusConfig{
			Backend: config.BusMQTT, Address: "tcp://lab:1883",
			KeepAliveSeconds: base.KeepAliveSeconds, ConnectTimeoutSeconds: base.ConnectTimeoutSeconds,
		}},
		{name: "local", backend: "local", wantErr: true},
		{name: "unknown", backend: "amqp", wantErr: true},
	}

	for _, tc := range tests {
		got, err := resolveBus(base, tc.backend, tc.address)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %+v, got %+v", tc.name, tc.want, got)
		}
	}
}
