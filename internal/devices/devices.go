// Package devices builds dashboard instruments for the known hardware
// families. Each instrument talks to its backend only through the bus.
package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cortexlab/cortex/internal/config"
	"github.com/cortexlab/cortex/internal/instrument"
	"github.com/cortexlab/cortex/internal/router"
	"github.com/cortexlab/cortex/internal/telemetry"
)

// Publisher sends command payloads to the bus.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Env carries the collaborators every builder needs.
type Env struct {
	Publisher Publisher
	Router    *router.Router
	Registry  *instrument.Registry
	Logger    *slog.Logger

	StabilityThreshold float64
	StabilityMode      telemetry.StabilityMode
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}

	return e.Logger
}

// Builder constructs one instrument from its spec.
type Builder func(spec config.InstrumentSpec, env Env) (*instrument.Instrument, error)

// Catalog maps a family identifier to its builder.
type Catalog map[string]Builder

// DefaultCatalog lists every built-in family.
func DefaultCatalog() Catalog {
	return Catalog{
		"wavemeter":   NewWavemeter,
		"powersupply": NewPowerSupply,
		"shutter":     NewShutter,
		"awg":         NewAWG,
		"camera":      NewCamera,
	}
}

// Families returns the registered family identifiers, sorted.
func (c Catalog) Families() []string {
	out := make([]string, 0, len(c))
	for family := range c {
		out = append(out, family)
	}
	sort.Strings(out)

	return out
}

// Load builds and registers an instrument for every spec. A spec that fails
// to build is logged and skipped; the errors are returned joined.
func (c Catalog) Load(specs []config.InstrumentSpec, env Env) ([]*instrument.Instrument, error) {
	if env.Router == nil || env.Registry == nil || env.Publisher == nil {
		return nil, errors.New("devices: router, registry and publisher are required")
	}

	logger := env.logger().With("component", "devices")
	var (
		loaded []*instrument.Instrument
		errs   []error
	)
	for _, spec := range specs {
		build, ok := c[spec.Family]
		if !ok {
			err := fmt.Errorf("instrument %s: unknown family %q", spec.DisplayName(), spec.Family)
			logger.Error("instrument skipped", "error", err)
			errs = append(errs, err)
			continue
		}

		inst, err := build(spec, env)
		if err == nil {
			err = env.Registry.Register(inst)
		}
		if err != nil {
			err = fmt.Errorf("instrument %s: %w", spec.DisplayName(), err)
			logger.Error("instrument skipped", "error", err)
			errs = append(errs, err)
			continue
		}
		logger.Info("instrument loaded", "instrument", inst.Name, "family", spec.Family, "topic", spec.Topic())
		loaded = append(loaded, inst)
	}

	return loaded, errors.Join(errs...)
}

// Load uses the default catalog.
func Load(specs []config.InstrumentSpec, env Env) ([]*instrument.Instrument, error) {
	return DefaultCatalog().Load(specs, env)
}

func categoryOr(spec config.InstrumentSpec, fallback string) string {
	if spec.Category != "" {
		return spec.Category
	}

	return fallback
}

// busDriver subscribes the instrument's telemetry handlers on Open and
// removes them on Close.
type busDriver struct {
	router   *router.Router
	handlers map[string]router.Handler

	mu   sync.Mutex
	subs []*router.Subscription
}

func newBusDriver(r *router.Router) *busDriver {
	return &busDriver{router: r, handlers: make(map[string]router.Handler)}
}

func (d *busDriver) handle(pattern string, h router.Handler) {
	d.handlers[pattern] = h
}

func (d *busDriver) Open(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.subs) > 0 {
		return nil
	}

	patterns := make([]string, 0, len(d.handlers))
	for p := range d.handlers {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	for _, p := range patterns {
		sub, err := d.router.Subscribe(p, d.handlers[p])
		if err != nil {
			for _, s := range d.subs {
				d.router.Unsubscribe(s)
			}
			d.subs = nil
			return err
		}
		d.subs = append(d.subs, sub)
	}

	return nil
}

func (d *busDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.subs {
		d.router.Unsubscribe(s)
	}
	d.subs = nil

	return nil
}
