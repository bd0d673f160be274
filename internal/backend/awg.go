package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cortexlab/cortex/internal/codec"
)

// Generator is an arbitrary waveform generator in SI units.
type Generator interface {
	SetFrequency(ctx context.Context, hz float64) error
	SetAmplitude(ctx context.Context, vpp float64) error
	SetOutput(ctx context.Context, on bool) error
}

// AWGBridge executes ('freq', MHz), ('ampl', mV), ('enable'|'disable', 0).
type AWGBridge struct {
	base   string
	hw     Generator
	logger *slog.Logger
}

func NewAWGBridge(base string, hw Generator, logger *slog.Logger) *AWGBridge {
	if logger == nil {
		logger = slog.Default()
	}

	return &AWGBridge{base: base, hw: hw, logger: logger.With("device", base)}
}

func (b *AWGBridge) Name() string {
	return b.base
}

func (b *AWGBridge) Patterns() []string {
	return []string{b.base}
}

func (b *AWGBridge) Handle(ctx context.Context, _ string, payload []byte) error {
	cmd, err := codec.DecodeTuple(payload)
	if err != nil {
		return err
	}

	switch cmd.Mode {
	case codec.ModeFrequency:
		b.logger.Info("set frequency", "mhz", cmd.Value)
		return b.hw.SetFrequency(ctx, cmd.Value*1e6)
	case codec.ModeAmplitude:
		b.logger.Info("set amplitude", "mv", cmd.Value)
		return b.hw.SetAmplitude(ctx, cmd.Value/1000)
	case codec.ModeEnable:
		return b.hw.SetOutput(ctx, true)
	case codec.ModeDisable:
		return b.hw.SetOutput(ctx, false)
	default:
		return fmt.Errorf("%s: unsupported mode %q", b.base, cmd.Mode)
	}
}

// SimGenerator records the last programmed state.
type SimGenerator struct {
	mu     sync.Mutex
	hz     float64
	vpp    float64
	output bool
}

func (g *SimGenerator) SetFrequency(_ context.Context, hz float64) error {
	g.mu.Lock()
	g.hz = hz
	g.mu.Unlock()

	return nil
}

func (g *SimGenerator) SetAmplitude(_ context.Context, vpp float64) error {
	g.mu.Lock()
	g.vpp = vpp
	g.mu.Unlock()

	return nil
}

func (g *SimGenerator) SetOutput(_ context.Context, on bool) error {
	g.mu.Lock()
	g.output = on
	g.mu.Unlock()

	return nil
}

// State returns frequency in Hz, amplitude in Vpp and the output switch.
func (g *SimGenerator) State() (float64, float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.hz, g.vpp, g.output
}
