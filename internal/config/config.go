package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BusBackend identifies which message bus client should be used.
type BusBackend string

const (
	BusMQTT  BusBackend = "mqtt"
	BusNATS  BusBackend = "nats"
	BusLocal BusBackend = "local"

	DefaultMQTTAddress       = "tcp://localhost:1883"
	DefaultNATSAddress       = "nats://localhost:4222"
	DefaultKeepAliveSeconds  = 30
	DefaultConnectTimeoutSec = 5

	DefaultWindowSeconds      = 7200
	DefaultPruneIntervalMS    = 1000
	DefaultRelayCapacity      = 1024
	DefaultStabilityThreshold = 5e-5
	DefaultStabilityMode      = "channel"

	DefaultLogMaxSizeMB  = 10
	DefaultLogMaxBackups = 3

	DefaultInstrumentsFile = "instruments.yaml"
)

// BusConfig contains message bus connection parameters.
type BusConfig struct {
	Backend               BusBackend `json:"backend"`
	Address               string     `json:"address"`
	ClientID              string     `json:"client_id"`
	KeepAliveSeconds      int        `json:"keepalive_seconds"`
	ConnectTimeoutSeconds int        `json:"connect_timeout_seconds"`
}

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level      string `json:"level"`
	LogToFile  bool   `json:"log_to_file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// TelemetryConfig controls the live plot buffers and the consumer relay.
type TelemetryConfig struct {
	WindowSeconds      float64 `json:"window_seconds"`
	PruneIntervalMS    int     `json:"prune_interval_ms"`
	RelayCapacity      int     `json:"relay_capacity"`
	StabilityThreshold float64 `json:"stability_threshold"`
	StabilityMode      string  `json:"stability_mode"`
}

// MetricsConfig enables the prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `json:"listen"`
}

// JournalConfig toggles the sqlite command journal.
type JournalConfig struct {
	Enabled bool `json:"enabled"`
}

// NotificationsConfig selects which events raise desktop notifications.
type NotificationsConfig struct {
	ConnectionStatus  bool `json:"connection_status"`
	DriverErrors      bool `json:"driver_errors"`
	NotifyWhenFocused bool `json:"notify_when_focused"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Bus             BusConfig           `json:"bus"`
	Logging         LoggingConfig       `json:"logging"`
	Telemetry       TelemetryConfig     `json:"telemetry"`
	Metrics         MetricsConfig       `json:"metrics"`
	Journal         JournalConfig       `json:"journal"`
	Notifications   NotificationsConfig `json:"notifications"`
	InstrumentsFile string              `json:"instruments_file"`
}

func Default() AppConfig {
	return AppConfig{
		Bus: BusConfig{
			Backend:               BusMQTT,
			Address:               DefaultMQTTAddress,
			KeepAliveSeconds:      DefaultKeepAliveSeconds,
			ConnectTimeoutSeconds: DefaultConnectTimeoutSec,
		},
		Logging: LoggingConfig{
			Level:      "info",
			LogToFile:  false,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
		},
		Telemetry: TelemetryConfig{
			WindowSeconds:      DefaultWindowSeconds,
			PruneIntervalMS:    DefaultPruneIntervalMS,
			RelayCapacity:      DefaultRelayCapacity,
			StabilityThreshold: DefaultStabilityThreshold,
			StabilityMode:      DefaultStabilityMode,
		},
		Journal: JournalConfig{
			Enabled: true,
		},
		Notifications: NotificationsConfig{
			ConnectionStatus: true,
			DriverErrors:     true,
		},
		InstrumentsFile: DefaultInstrumentsFile,
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Bus.Backend == "" {
		c.Bus.Backend = BusMQTT
	}
	if strings.TrimSpace(c.Bus.Address) == "" {
		c.Bus.Address = defaultAddress(c.Bus.Backend)
	}
	if c.Bus.KeepAliveSeconds <= 0 {
		c.Bus.KeepAliveSeconds = DefaultKeepAliveSeconds
	}
	if c.Bus.ConnectTimeoutSeconds <= 0 {
		c.Bus.ConnectTimeoutSeconds = DefaultConnectTimeoutSec
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if c.Telemetry.WindowSeconds <= 0 {
		c.Telemetry.WindowSeconds = DefaultWindowSeconds
	}
	if c.Telemetry.PruneIntervalMS <= 0 {
		c.Telemetry.PruneIntervalMS = DefaultPruneIntervalMS
	}
	if c.Telemetry.RelayCapacity <= 0 {
		c.Telemetry.RelayCapacity = DefaultRelayCapacity
	}
	if c.Telemetry.StabilityThreshold <= 0 {
		c.Telemetry.StabilityThreshold = DefaultStabilityThreshold
	}
	if c.Telemetry.StabilityMode == "" {
		c.Telemetry.StabilityMode = DefaultStabilityMode
	}
	if strings.TrimSpace(c.InstrumentsFile) == "" {
		c.InstrumentsFile = DefaultInstrumentsFile
	}
}

func defaultAddress(backend BusBackend) string {
	switch backend {
	case BusNATS:
		return DefaultNATSAddress
	case BusLocal:
		return ""
	default:
		return DefaultMQTTAddress
	}
}

func (c AppConfig) Validate() error {
	switch c.Bus.Backend {
	case BusMQTT, BusNATS:
		if strings.TrimSpace(c.Bus.Address) == "" {
			return errors.New("bus address is required")
		}
	case BusLocal:
	default:
		return fmt.Errorf("unknown bus backend: %s", c.Bus.Backend)
	}
	switch c.Telemetry.StabilityMode {
	case "channel", "coupled":
	default:
		return fmt.Errorf("unknown stability mode: %s", c.Telemetry.StabilityMode)
	}
	if c.Telemetry.RelayCapacity <= 0 {
		return errors.New("relay capacity must be positive")
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
