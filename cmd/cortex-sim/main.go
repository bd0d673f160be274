package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cortexlab/cortex/internal/app"
	"github.com/cortexlab/cortex/internal/backend"
	"github.com/cortexlab/cortex/internal/busclient"
	"github.com/cortexlab/cortex/internal/config"
	"github.com/cortexlab/cortex/internal/logging"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run backend host", "error", err)
		os.Exit(1)
	}
}

type flags struct {
	configDir   string
	instruments string
	backend     string
	address     string
	hardware    bool
}

func run() error {
	var f flags
	flag.StringVar(&f.configDir, "config-dir", "", "override the config directory")
	flag.StringVar(&f.instruments, "instruments", "", "instrument list (YAML), defaults to the configured one")
	flag.StringVar(&f.backend, "bus", "", "bus backend override: mqtt or nats")
	flag.StringVar(&f.address, "address", "", "bus address override")
	flag.BoolVar(&f.hardware, "hardware", false, "drive real instruments instead of simulations")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := resolvePaths(f.configDir)
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	busCfg, err := resolveBus(cfg.Bus, f.backend, f.address)
	if err != nil {
		return err
	}

	logMgr := logging.NewManager()
	cfg.Logging.LogToFile = false
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("backend")
	logger.Info("starting cortex backend host", "version", app.BuildVersion(), "bus", busCfg.Backend, "address", busCfg.Address, "hardware", f.hardware)

	instrumentsPath := f.instruments
	if instrumentsPath == "" {
		instrumentsPath = paths.InstrumentsFile(cfg)
	}
	specs, err := config.LoadInstruments(instrumentsPath)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		if f.hardware {
			return fmt.Errorf("no instruments in %s", instrumentsPath)
		}
		logger.Info("no instrument list found, using sample instruments", "path", instrumentsPath)
		specs = config.SampleInstruments()
	}

	set, err := backend.Build(specs, !f.hardware, logger)
	if err != nil {
		return fmt.Errorf("build backends: %w", err)
	}
	host := backend.NewHost(logger)
	if err := host.Add(set); err != nil {
		return err
	}

	client, err := app.NewBusClient(busCfg, nil, busclient.Options{Logger: logMgr.Logger("busclient")}, host.Callback)
	if err != nil {
		return err
	}
	logger.Info("backend host ready", "devices", len(set.Devices), "sources", len(set.Sources), "patterns", host.Patterns())

	err = host.Run(ctx, client)
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func resolvePaths(configDir string) (app.Paths, error) {
	if configDir != "" {
		return app.PathsIn(configDir)
	}

	return app.ResolvePaths()
}

// resolveBus applies command line overrides. The in-process bus cannot be
// shared with another process.
func resolveBus(cfg config.BusConfig, backendName, address string) (config.BusConfig, error) {
	if name := strings.ToLower(strings.TrimSpace(backendName)); name != "" {
		cfg.Backend = config.BusBackend(name)
		if address == "" {
			cfg.Address = ""
		}
	}
	if address = strings.TrimSpace(address); address != "" {
		cfg.Address = address
	}

	full := config.AppConfig{Bus: cfg}
	full.FillMissingDefaults()
	cfg = full.Bus
	switch cfg.Backend {
	case config.BusMQTT, config.BusNATS:
		return cfg, nil
	case config.BusLocal:
		return config.BusConfig{}, errors.New("the local bus only works inside one process; use mqtt or nats")
	default:
		return config.BusConfig{}, fmt.Errorf("unknown bus backend: %q", cfg.Backend)
	}
}
