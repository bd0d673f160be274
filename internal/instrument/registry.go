package instrument

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cortexlab/cortex/internal/bus"
	"github.com/cortexlab/cortex/internal/connectors"
	"github.com/cortexlab/cortex/internal/metrics"
)

// Registry holds every loaded instrument. Set, Update and Poll are expected to
// run on the consumer goroutine.
type Registry struct {
	mu          sync.RWMutex
	instruments map[string]*Instrument
	opened      map[string]bool

	logger  *slog.Logger
	events  bus.MessageBus
	metrics *metrics.Metrics
}

func NewRegistry(logger *slog.Logger, events bus.MessageBus, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		instruments: make(map[string]*Instrument),
		opened:      make(map[string]bool),
		logger:      logger.With("component", "registry"),
		events:      events,
		metrics:     m,
	}
}

func (r *Registry) Register(inst *Instrument) error {
	if inst == nil || inst.Name == "" {
		return errors.New("instrument name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.instruments[inst.Name]; exists {
		return fmt.Errorf("instrument %s: %w", inst.Name, ErrDuplicate)
	}
	r.instruments[inst.Name] = inst
	r.logger.Debug("instrument registered", "instrument", inst.Name, "category", inst.Category, "parameters", len(inst.order))

	return nil
}

func (r *Registry) Instrument(name string) (*Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instruments[name]

	return inst, ok
}

// Instruments returns all instruments sorted by category, then name.
func (r *Registry) Instruments() []*Instrument {
	r.mu.RLock()
	out := make([]*Instrument, 0, len(r.instruments))
	for _, inst := range r.instruments {
		out = append(out, inst)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})

	return out
}

func (r *Registry) Lookup(instrument, parameter string) (*Parameter, error) {
	inst, ok := r.Instrument(instrument)
	if !ok {
		return nil, fmt.Errorf("%s: %w", instrument, ErrUnknownInstrument)
	}
	p, ok := inst.Parameter(parameter)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", instrument, parameter, ErrUnknownParameter)
	}

	return p, nil
}

// Set resolves the parameter and forwards to SetParameter.
func (r *Registry) Set(instrument, parameter string, raw any) error {
	p, err := r.Lookup(instrument, parameter)
	if err != nil {
		return err
	}

	return r.SetParameter(p, raw)
}

// SetParameter coerces raw to the parameter kind and calls its set command
// exactly once. Coercion failures are returned as *ValidationError and never
// reach the driver. Driver failures are logged and published as command
// results; they are not returned.
func (r *Registry) SetParameter(p *Parameter, raw any) error {
	input := fmt.Sprint(raw)
	if p.ReadOnly() {
		err := &ValidationError{Instrument: p.owner, Parameter: p.Name, Kind: p.Kind, Input: input, Err: ErrReadOnly}
		r.reject(p, input, metrics.KindValidation, err)
		return err
	}

	value, err := Coerce(p.Kind, raw)
	if err != nil {
		verr := &ValidationError{Instrument: p.owner, Parameter: p.Name, Kind: p.Kind, Input: input, Err: err}
		r.reject(p, input, metrics.KindValidation, verr)
		return verr
	}

	if err := r.callSet(p, value); err != nil {
		derr := &DriverError{Instrument: p.owner, Parameter: p.Name, Op: "set", Err: err}
		r.logger.Error("set command failed", "instrument", p.owner, "parameter", p.Name, "value", value, "error", err)
		r.reject(p, input, metrics.KindDriver, derr)
		return nil
	}

	r.metrics.CommandSent(p.owner)
	r.logger.Debug("set command sent", "instrument", p.owner, "parameter", p.Name, "value", value)
	r.publishResult(connectors.CommandResult{
		Instrument: p.owner,
		Parameter:  p.Name,
		Input:      input,
		Timestamp:  time.Now(),
	})

	return nil
}

func (r *Registry) callSet(p *Parameter, value any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("set command panicked: %v", rec)
		}
	}()

	return p.Set(value)
}

func (r *Registry) reject(p *Parameter, input, kind string, err error) {
	r.metrics.CommandFailed(p.owner, kind)
	if kind == metrics.KindValidation {
		r.logger.Warn("set rejected", "instrument", p.owner, "parameter", p.Name, "input", input, "error", err)
	}
	r.publishResult(connectors.CommandResult{
		Instrument: p.owner,
		Parameter:  p.Name,
		Input:      input,
		Kind:       kind,
		Err:        err.Error(),
		Timestamp:  time.Now(),
	})
}

func (r *Registry) publishResult(res connectors.CommandResult) {
	if r.events == nil {
		return
	}
	r.events.Publish(connectors.TopicCommandResult, res)
}

// Update pushes value to every observer of p in attach order. A panicking
// observer is logged and skipped.
func (r *Registry) Update(p *Parameter, value string) {
	for _, entry := range p.snapshot() {
		r.notify(p, entry, value)
	}
}

func (r *Registry) notify(p *Parameter, entry observerEntry, value string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("observer panicked", "instrument", p.owner, "parameter", p.Name, "token", entry.token, "panic", rec)
		}
	}()
	entry.fn(value)
}

// Poll runs the parameter get command, if any, and routes the result through
// Update.
func (r *Registry) Poll(p *Parameter) {
	if p.Get == nil {
		return
	}
	value, err := p.Get()
	if err != nil {
		derr := &DriverError{Instrument: p.owner, Parameter: p.Name, Op: "get", Err: err}
		r.logger.Warn("get command failed", "error", derr)
		return
	}
	r.Update(p, value)
}

// PollAll polls every parameter that has a get command.
func (r *Registry) PollAll() {
	for _, inst := range r.Instruments() {
		for _, p := range inst.Parameters() {
			r.Poll(p)
		}
	}
}

// OpenAll opens every instrument driver not opened yet. Failures are logged as
// *DriverError and returned joined; none is fatal.
func (r *Registry) OpenAll(ctx context.Context) error {
	var errs []error
	for _, inst := range r.Instruments() {
		if inst.Driver == nil {
			continue
		}

		r.mu.Lock()
		done := r.opened[inst.Name]
		r.mu.Unlock()
		if done {
			continue
		}

		if err := inst.Driver.Open(ctx); err != nil {
			derr := &DriverError{Instrument: inst.Name, Op: "open", Err: err}
			r.logger.Error("instrument open failed", "error", derr)
			errs = append(errs, derr)
			continue
		}

		r.mu.Lock()
		r.opened[inst.Name] = true
		r.mu.Unlock()
		r.logger.Info("instrument opened", "instrument", inst.Name)
	}

	return errors.Join(errs...)
}

// CloseAll closes every opened driver.
func (r *Registry) CloseAll() {
	for _, inst := range r.Instruments() {
		r.mu.Lock()
		opened := r.opened[inst.Name]
		delete(r.opened, inst.Name)
		r.mu.Unlock()
		if !opened {
			continue
		}
		if err := inst.Driver.Close(); err != nil {
			r.logger.Warn("instrument close failed", "error", &DriverError{Instrument: inst.Name, Op: "close", Err: err})
		}
	}
}
