// Package backend runs the hardware side of the bus: command bridges that
// decode bus commands into device calls, and sources that publish telemetry.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cortexlab/cortex/internal/busclient"
	"github.com/cortexlab/cortex/internal/router"
)

// Publisher is the outbound half of a bus client.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Device consumes commands published on its patterns.
type Device interface {
	Name() string
	Patterns() []string
	Handle(ctx context.Context, topic string, payload []byte) error
}

// Source publishes telemetry on every tick.
type Source interface {
	Name() string
	Interval() time.Duration
	Tick(ctx context.Context, pub Publisher) error
}

// Runner is a long-lived device component, e.g. a hardware link keeping its
// transport connected.
type Runner interface {
	Run(ctx context.Context)
}

// Host wires devices and sources to one bus client.
type Host struct {
	logger  *slog.Logger
	router  *router.Router
	devices []Device
	sources []Source
	runners []Runner

	ctx context.Context
}

func NewHost(logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}

	return &Host{
		logger: logger.With("component", "backend"),
		router: router.New(logger, nil),
		ctx:    context.Background(),
	}
}

func (h *Host) AddDevice(d Device) error {
	for _, p := range d.Patterns() {
		dev := d
		if _, err := h.router.Subscribe(p, func(topic string, payload []byte) error {
			return dev.Handle(h.ctx, topic, payload)
		}); err != nil {
			return fmt.Errorf("device %s: %w", d.Name(), err)
		}
	}
	h.devices = append(h.devices, d)
	if r, ok := d.(Runner); ok {
		h.runners = append(h.runners, r)
	}

	return nil
}

func (h *Host) AddSource(s Source) {
	h.sources = append(h.sources, s)
	if r, ok := s.(Runner); ok {
		h.runners = append(h.runners, r)
	}
}

// Add registers every part of a Set.
func (h *Host) Add(set Set) error {
	for _, d := range set.Devices {
		if err := h.AddDevice(d); err != nil {
			return err
		}
	}
	for _, s := range set.Sources {
		h.AddSource(s)
	}
	h.runners = append(h.runners, set.Runners...)

	return nil
}

// Callback is the bus client callback for the host.
func (h *Host) Callback(topic string, payload []byte) {
	h.router.Dispatch(topic, payload)
}

func (h *Host) Patterns() []string {
	return h.router.Patterns()
}

// Run subscribes the client to every device pattern, connects it and runs the
// sources until ctx is cancelled. The client is closed on return.
func (h *Host) Run(ctx context.Context, client busclient.Client) error {
	h.ctx = ctx
	for _, p := range h.router.Patterns() {
		if err := client.Subscribe(p); err != nil {
			return fmt.Errorf("subscribe %q: %w", p, err)
		}
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	h.logger.Info("backend running", "devices", len(h.devices), "sources", len(h.sources))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	for _, r := range h.runners {
		runner := r
		g.Go(func() error {
			runner.Run(gctx)
			return nil
		})
	}
	for _, s := range h.sources {
		src := s
		g.Go(func() error {
			h.runSource(gctx, src, client)
			return nil
		})
	}

	return g.Wait()
}

func (h *Host) runSource(ctx context.Context, s Source, pub Publisher) {
	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx, pub); err != nil {
				h.logger.Warn("source tick failed", "source", s.Name(), "error", err)
			}
		}
	}
}
