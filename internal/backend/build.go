package backend

import (
	"fmt"
	"log/slog"

	"github.com/cortexlab/cortex/internal/config"
	"github.com/cortexlab/cortex/internal/transport"
)

// Instrument families understood by the backend.
const (
	FamilyWavemeter   = "wavemeter"
	FamilyPowerSupply = "powersupply"
	FamilyShutter     = "shutter"
	FamilyAWG         = "awg"
	FamilyCamera      = "camera"
)

var defaultPSUChannels = []int{1, 2, 3}

// Set groups the parts built for a list of instruments.
type Set struct {
	Devices []Device
	Sources []Source
	Runners []Runner
}

func (s *Set) merge(o Set) {
	s.Devices = append(s.Devices, o.Devices...)
	s.Sources = append(s.Sources, o.Sources...)
	s.Runners = append(s.Runners, o.Runners...)
}

// Build creates the backend parts for every spec. simulate forces the
// in-memory devices regardless of the configured transport.
func Build(specs []config.InstrumentSpec, simulate bool, logger *slog.Logger) (Set, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var out Set
	for _, spec := range specs {
		part, err := buildOne(spec, simulate, logger)
		if err != nil {
			return Set{}, fmt.Errorf("instrument %s: %w", spec.DisplayName(), err)
		}
		out.merge(part)
	}

	return out, nil
}

func buildOne(spec config.InstrumentSpec, simulate bool, logger *slog.Logger) (Set, error) {
	base := spec.Topic()
	sim := simulate || spec.Backend.Transport == config.TransportSim

	var link *Link
	var cmd Commander
	if !sim {
		link = NewLink(openTransport(spec.Backend), logger)
		cmd = link
	}

	var set Set
	switch spec.Family {
	case FamilyWavemeter:
		if !sim {
			return Set{}, fmt.Errorf("family %s has no hardware driver, use transport %q", spec.Family, config.TransportSim)
		}
		wm := NewSimWavemeter(base, spec.Channels, logger)
		set.Devices = append(set.Devices, wm)
		set.Sources = append(set.Sources, wm)
	case FamilyCamera:
		if !sim {
			return Set{}, fmt.Errorf("family %s has no hardware driver, use transport %q", spec.Family, config.TransportSim)
		}
		set.Sources = append(set.Sources, NewSimCamera(base))
	case FamilyPowerSupply:
		channels := spec.Channels
		if len(channels) == 0 {
			channels = defaultPSUChannels
		}
		var hw PowerSupply = NewSimPowerSupply(channels)
		if !sim {
			hw = NewRigolPowerSupply(cmd)
		}
		bridge := NewPowerSupplyBridge(base, channels, hw, logger)
		set.Devices = append(set.Devices, bridge)
		set.Sources = append(set.Sources, bridge)
	case FamilyAWG:
		var hw Generator = &SimGenerator{}
		if !sim {
			hw = NewSCPIGenerator(cmd)
		}
		set.Devices = append(set.Devices, NewAWGBridge(base, hw, logger))
	case FamilyShutter:
		var hw Gate = &SimGate{}
		if !sim {
			hw = NewLineShutter(cmd)
		}
		set.Devices = append(set.Devices, NewShutterBridge(base, hw, logger))
	default:
		return Set{}, fmt.Errorf("unknown family %q", spec.Family)
	}

	if link != nil {
		set.Runners = append(set.Runners, link)
	}

	return set, nil
}

func openTransport(b config.BackendSpec) transport.Transport {
	if b.Transport == config.TransportTCP {
		return transport.NewTCPTransport(b.Host, b.TCPPort)
	}

	return transport.NewSerialTransport(b.Port, b.Baud)
}
