package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Hardware transports a backend can use to reach a device.
const (
	TransportSim    = "sim"
	TransportSerial = "serial"
	TransportTCP    = "tcp"

	DefaultInstrumentBaud = 9600
	DefaultSCPIPort       = 5555
)

// BackendSpec describes how the hardware side reaches the physical device.
type BackendSpec struct {
	Transport string `yaml:"transport"`
	Port      string `yaml:"port,omitempty"`
	Baud      int    `yaml:"baud,omitempty"`
	Host      string `yaml:"host,omitempty"`
	TCPPort   int    `yaml:"tcp_port,omitempty"`
}

// InstrumentSpec is one entry of the instrument list.
type InstrumentSpec struct {
	Name     string      `yaml:"name"`
	Family   string      `yaml:"family"`
	Category string      `yaml:"category,omitempty"`
	DeviceID string      `yaml:"device_id"`
	Serial   string      `yaml:"serial"`
	Channels []int       `yaml:"channels,omitempty"`
	Backend  BackendSpec `yaml:"backend,omitempty"`
}

// Topic is the command topic of the instrument, DEVICE_ID/SERIAL.
func (s InstrumentSpec) Topic() string {
	return s.DeviceID + "/" + s.Serial
}

// DisplayName is the configured name, or the topic when none is set.
func (s InstrumentSpec) DisplayName() string {
	if strings.TrimSpace(s.Name) != "" {
		return s.Name
	}

	return s.Topic()
}

type instrumentFile struct {
	Instruments []InstrumentSpec `yaml:"instruments"`
}

// LoadInstruments reads the YAML instrument list. A missing file yields no
// instruments.
func LoadInstruments(path string) ([]InstrumentSpec, error) {
	// #nosec G304 -- path comes from the app config.
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read instruments: %w", err)
	}

	return ParseInstruments(raw)
}

func ParseInstruments(raw []byte) ([]InstrumentSpec, error) {
	var file instrumentFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode instruments yaml: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Instruments))
	for i := range file.Instruments {
		spec := &file.Instruments[i]
		spec.fillDefaults()
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("instrument %d: %w", i, err)
		}
		name := spec.DisplayName()
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("instrument %q is listed twice", name)
		}
		seen[name] = struct{}{}
	}

	return file.Instruments, nil
}

func (s *InstrumentSpec) fillDefaults() {
	s.Family = strings.ToLower(strings.TrimSpace(s.Family))
	if s.Backend.Transport == "" {
		s.Backend.Transport = TransportSim
	}
	if s.Backend.Transport == TransportSerial && s.Backend.Baud <= 0 {
		s.Backend.Baud = DefaultInstrumentBaud
	}
	if s.Backend.Transport == TransportTCP && s.Backend.TCPPort <= 0 {
		s.Backend.TCPPort = DefaultSCPIPort
	}
}

func (s InstrumentSpec) Validate() error {
	if s.Family == "" {
		return errors.New("family is required")
	}
	if strings.TrimSpace(s.DeviceID) == "" || strings.TrimSpace(s.Serial) == "" {
		return errors.New("device_id and serial are required")
	}
	if strings.ContainsAny(s.DeviceID+s.Serial, "/+#") {
		return errors.New("device_id and serial must not contain '/', '+' or '#'")
	}
	for _, ch := range s.Channels {
		if ch <= 0 {
			return fmt.Errorf("channel %d must be positive", ch)
		}
	}
	switch s.Backend.Transport {
	case TransportSim:
	case TransportSerial:
		if strings.TrimSpace(s.Backend.Port) == "" {
			return errors.New("serial backend requires a port")
		}
	case TransportTCP:
		if strings.TrimSpace(s.Backend.Host) == "" {
			return errors.New("tcp backend requires a host")
		}
	default:
		return fmt.Errorf("unknown backend transport %q", s.Backend.Transport)
	}

	return nil
}

// SampleInstruments is the simulated bench: one camera, one wavemeter, one
// AWG, four power supplies and a shutter.
func SampleInstruments() []InstrumentSpec {
	sim := BackendSpec{Transport: TransportSim}
	specs := []InstrumentSpec{
		{Name: "Hamamatsu Camera", Family: "camera", DeviceID: "HAMAMATSU", Serial: "0000", Backend: sim},
		{Name: "HighFinesse Wavemeter", Family: "wavemeter", DeviceID: "HFWM", Serial: "8731", Channels: []int{1, 2, 3, 4, 5, 6, 7, 8}, Backend: sim},
		{Name: "AWG TG2511A", Family: "awg", DeviceID: "TG2511A", Serial: "0000", Backend: sim},
	}
	for _, psu := range []struct{ device, serial string }{
		{"RIGOLPS", "0000"},
		{"RIGOLPS", "0001"},
		{"RIGOLPS", "0002"},
		{"UNITYPS", "0003"},
	} {
		specs = append(specs, InstrumentSpec{
			Family:   "powersupply",
			DeviceID: psu.device,
			Serial:   psu.serial,
			Channels: []int{1, 2, 3},
			Backend:  sim,
		})
	}
	specs = append(specs, InstrumentSpec{Name: "Ionisation Lasers Shutter", Family: "shutter", DeviceID: "shutter", Serial: "0000", Backend: sim})

	return specs
}
