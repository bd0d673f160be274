package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cortexlab/cortex/internal/backend"
	"github.com/cortexlab/cortex/internal/bus"
	"github.com/cortexlab/cortex/internal/busclient"
	"github.com/cortexlab/cortex/internal/config"
	"github.com/cortexlab/cortex/internal/connectors"
	"github.com/cortexlab/cortex/internal/devices"
	"github.com/cortexlab/cortex/internal/dispatch"
	"github.com/cortexlab/cortex/internal/instrument"
	"github.com/cortexlab/cortex/internal/journal"
	"github.com/cortexlab/cortex/internal/logging"
	"github.com/cortexlab/cortex/internal/metrics"
	"github.com/cortexlab/cortex/internal/platform"
	"github.com/cortexlab/cortex/internal/router"
	"github.com/cortexlab/cortex/internal/telemetry"
)

// Options tune Initialize.
type Options struct {
	// Paths overrides the user config dir layout.
	Paths *Paths
	// Simulate runs the simulated backends on an in-process bus instead of
	// connecting to the configured broker.
	Simulate bool
}

type Runtime struct {
	mu sync.RWMutex

	Ctx    context.Context
	cancel context.CancelFunc

	Paths       Paths
	Config      config.AppConfig
	Instruments []config.InstrumentSpec

	LogManager *logging.Manager
	Events     *bus.EventBus
	Metrics    *metrics.Registry

	DB          *sql.DB
	Journal     *journal.Repo
	WriterQueue *journal.WriterQueue
	journalLock platform.DirLock

	Router   *router.Router
	Registry *instrument.Registry
	Board    *telemetry.Board
	Consumer *dispatch.Consumer
	Client   busclient.Client
	Broker   *busclient.Broker

	backendDone chan struct{}

	connStatusMu sync.RWMutex
	connStatus   connectors.ConnectionStatus
}

func Initialize(parent context.Context, opts Options) (*Runtime, error) {
	var (
		paths Paths
		err   error
	)
	if opts.Paths != nil {
		paths = *opts.Paths
	} else if paths, err = ResolvePaths(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Simulate {
		cfg.Bus.Backend = config.BusLocal
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:        ctx,
		cancel:     cancel,
		Paths:      paths,
		Config:     cfg,
		connStatus: ConnectionStatusFromConfig(cfg.Bus),
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting cortex runtime", "version", BuildVersion(), "bus", cfg.Bus.Backend, "simulate", opts.Simulate)

	rt.Metrics = metrics.NewRegistry()
	m := rt.Metrics.Metrics()
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := rt.Metrics.Serve(ctx, cfg.Metrics.Listen, logMgr.Logger("metrics")); err != nil {
				slog.Warn("metrics endpoint stopped", "error", err)
			}
		}()
	}

	events := bus.New(logMgr.Logger("events"))
	rt.Events = events
	connSub := events.Subscribe(connectors.TopicConnStatus)
	go rt.captureConnStatus(ctx, connSub)

	if cfg.Journal.Enabled {
		if err := rt.openJournal(ctx); err != nil {
			if !errors.Is(err, platform.ErrLocked) {
				_ = rt.Close()
				return nil, err
			}
			slog.Warn("journal disabled: another cortex process owns it", "error", err)
		}
	}

	specs, err := config.LoadInstruments(paths.InstrumentsFile(cfg))
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	if len(specs) == 0 && opts.Simulate {
		specs = config.SampleInstruments()
	}
	rt.Instruments = specs

	rt.Router = router.New(logMgr.Logger("router"), m)
	rt.Registry = instrument.NewRegistry(logMgr.Logger("registry"), events, m)
	rt.Board = telemetry.NewBoard(time.Duration(cfg.Telemetry.WindowSeconds*float64(time.Second)), m)
	rt.Consumer = dispatch.NewConsumer(dispatch.Config{
		Capacity:      cfg.Telemetry.RelayCapacity,
		PruneInterval: time.Duration(cfg.Telemetry.PruneIntervalMS) * time.Millisecond,
	}, rt.Router, rt.Board, logMgr.Logger("dispatch"), m, events)

	if cfg.Bus.Backend == config.BusLocal {
		rt.Broker = busclient.NewBroker()
	}
	client, err := NewBusClient(cfg.Bus, rt.Broker, busclient.Options{
		Logger:  logMgr.Logger("busclient"),
		Events:  events,
		Metrics: m,
	}, rt.Consumer.Enqueue)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("initialize bus client: %w", err)
	}
	rt.Client = client
	rt.Router.OnNewPattern(func(pattern string) {
		if err := client.Subscribe(pattern); err != nil {
			slog.Warn("bus subscribe failed", "pattern", pattern, "error", err)
		}
	})

	mode, err := telemetry.ParseStabilityMode(cfg.Telemetry.StabilityMode)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	if _, err := devices.Load(specs, devices.Env{
		Publisher:          client,
		Router:             rt.Router,
		Registry:           rt.Registry,
		Logger:             logMgr.Logger("devices"),
		StabilityThreshold: cfg.Telemetry.StabilityThreshold,
		StabilityMode:      mode,
	}); err != nil {
		slog.Warn("some instruments were not loaded", "error", err)
	}
	if err := rt.Registry.OpenAll(ctx); err != nil {
		slog.Warn("some instruments failed to open", "error", err)
	}

	if opts.Simulate {
		if err := rt.startSimulation(ctx, specs); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	rt.Consumer.Start(ctx)
	if err := client.Connect(ctx); err != nil {
		var connErr *busclient.ConnectionError
		if errors.As(err, &connErr) {
			slog.Error("bus unreachable", "backend", connErr.Backend, "address", connErr.Address, "error", connErr.Err)
		} else {
			slog.Error("bus connect failed", "error", err)
		}
	}

	return rt, nil
}

// openJournal takes the journal lock first so only one process writes to it.
func (r *Runtime) openJournal(ctx context.Context) error {
	lock, err := platform.AcquireDirLock(r.Paths.RootDir, "journal")
	if err != nil {
		return err
	}
	db, err := journal.Open(ctx, r.Paths.DBFile)
	if err != nil {
		_ = lock.Release()
		return err
	}
	r.journalLock = lock
	r.DB = db
	r.Journal = journal.NewRepo(db)
	r.WriterQueue = journal.NewWriterQueue(r.LogManager.Logger("journal"), 512)
	r.WriterQueue.Start(ctx)
	journal.StartProjection(ctx, r.Events, r.WriterQueue, r.Journal)

	return nil
}

// startSimulation runs the simulated hardware on the same in-process broker.
func (r *Runtime) startSimulation(ctx context.Context, specs []config.InstrumentSpec) error {
	logger := r.LogManager.Logger("backend")
	set, err := backend.Build(specs, true, logger)
	if err != nil {
		return fmt.Errorf("build simulated backends: %w", err)
	}
	host := backend.NewHost(logger)
	if err := host.Add(set); err != nil {
		return err
	}
	client := busclient.NewLocal(r.Broker, busclient.Options{ClientID: "cortex-sim", Logger: logger}, host.Callback)

	r.backendDone = make(chan struct{})
	go func() {
		defer close(r.backendDone)
		if err := host.Run(ctx, client); err != nil {
			logger.Error("simulated backend stopped", "error", err)
		}
	}()

	return nil
}

func (r *Runtime) captureConnStatus(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			status, ok := raw.(connectors.ConnectionStatus)
			if !ok {
				continue
			}
			r.connStatusMu.Lock()
			r.connStatus = status
			r.connStatusMu.Unlock()
		}
	}
}

func (r *Runtime) CurrentConnStatus() connectors.ConnectionStatus {
	r.connStatusMu.RLock()
	defer r.connStatusMu.RUnlock()

	return r.connStatus
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.Config
}

// Set issues a parameter set on the consumer goroutine and waits for the
// validation result.
func (r *Runtime) Set(ctx context.Context, instrumentName, parameter string, raw any) error {
	return r.Consumer.Call(ctx, func() error {
		return r.Registry.Set(instrumentName, parameter, raw)
	})
}

// Poll runs the get command of a parameter on the consumer goroutine.
func (r *Runtime) Poll(ctx context.Context, instrumentName, parameter string) error {
	return r.Consumer.Call(ctx, func() error {
		p, err := r.Registry.Lookup(instrumentName, parameter)
		if err != nil {
			return err
		}
		r.Registry.Poll(p)
		return nil
	})
}

// SaveAndApplyConfig persists cfg and applies what can change at runtime:
// logging and the telemetry window. Bus changes take effect on restart.
func (r *Runtime) SaveAndApplyConfig(cfg config.AppConfig) error {
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if err := config.Save(r.Paths.ConfigFile, cfg); err != nil {
		r.mu.Unlock()
		return err
	}
	r.Config = cfg
	r.mu.Unlock()

	if err := r.LogManager.Configure(cfg.Logging, r.Paths.LogFile); err != nil {
		return err
	}

	window := time.Duration(cfg.Telemetry.WindowSeconds * float64(time.Second))
	return r.Consumer.Call(r.Ctx, func() error {
		if err := r.Board.SetDefaultWindow(window); err != nil {
			return err
		}
		for _, w := range r.Board.Windows() {
			if err := w.SetWindow(window); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Runtime) ClearJournal() error {
	if r.DB == nil {
		return errors.New("journal is disabled")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := journal.Clear(ctx, r.DB); err != nil {
		return err
	}
	slog.Info("journal cleared")

	return nil
}

// Close shuts down in order: bus client (stop delivery, then disconnect),
// consumer, instrument drivers, simulated backends, storage, logging.
func (r *Runtime) Close() error {
	if r.Client != nil {
		_ = r.Client.Close()
	}
	if r.Consumer != nil {
		r.Consumer.Stop()
	}
	if r.Registry != nil {
		r.Registry.CloseAll()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.backendDone != nil {
		<-r.backendDone
	}
	if r.WriterQueue != nil {
		<-r.WriterQueue.Done()
	}
	if r.Events != nil {
		r.Events.Close()
	}
	if r.DB != nil {
		_ = r.DB.Close()
	}
	if r.journalLock != nil {
		_ = r.journalLock.Release()
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}

	return nil
}
