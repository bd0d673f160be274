package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cortexlab/cortex/internal/codec"
)

// Gate is a two-state optical shutter.
type Gate interface {
	SetOpen(ctx context.Context, open bool) error
}

// ShutterBridge executes ('open', 0), ('close', 0) and ('pulse', ms).
type ShutterBridge struct {
	base   string
	hw     Gate
	logger *slog.Logger

	mu    sync.Mutex
	pulse *time.Timer
}

func NewShutterBridge(base string, hw Gate, logger *slog.Logger) *ShutterBridge {
	if logger == nil {
		logger = slog.Default()
	}

	return &ShutterBridge{base: base, hw: hw, logger: logger.With("device", base)}
}

func (b *ShutterBridge) Name() string {
	return b.base
}

func (b *ShutterBridge) Patterns() []string {
	return []string{b.base}
}

func (b *ShutterBridge) Handle(ctx context.Context, _ string, payload []byte) error {
	cmd, err := codec.DecodeTuple(payload)
	if err != nil {
		return err
	}

	switch cmd.Mode {
	case codec.ModeOpen:
		b.cancelPulse()
		return b.hw.SetOpen(ctx, true)
	case codec.ModeClose:
		b.cancelPulse()
		return b.hw.SetOpen(ctx, false)
	case codec.ModePulse:
		if cmd.Value <= 0 {
			return fmt.Errorf("%s: pulse duration must be positive, got %v ms", b.base, cmd.Value)
		}
		return b.startPulse(ctx, time.Duration(cmd.Value*float64(time.Millisecond)))
	default:
		return fmt.Errorf("%s: unsupported mode %q", b.base, cmd.Mode)
	}
}

// startPulse opens the shutter and closes it after d without blocking the
// caller. A new pulse replaces a running one.
func (b *ShutterBridge) startPulse(ctx context.Context, d time.Duration) error {
	b.cancelPulse()
	if err := b.hw.SetOpen(ctx, true); err != nil {
		return err
	}
	b.logger.Info("shutter pulse", "duration", d)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.pulse = time.AfterFunc(d, func() {
		if err := b.hw.SetOpen(context.WithoutCancel(ctx), false); err != nil {
			b.logger.Error("shutter close after pulse failed", "error", err)
		}
	})

	return nil
}

func (b *ShutterBridge) cancelPulse() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pulse != nil {
		b.pulse.Stop()
		b.pulse = nil
	}
}

// LineShutter switches a shutter controller that accepts OPEN/CLOSE lines.
type LineShutter struct {
	cmd Commander
}

func NewLineShutter(cmd Commander) *LineShutter {
	return &LineShutter{cmd: cmd}
}

func (s *LineShutter) SetOpen(ctx context.Context, open bool) error {
	if open {
		return s.cmd.Write(ctx, "OPEN")
	}

	return s.cmd.Write(ctx, "CLOSE")
}

// SimGate remembers the shutter state and how often it changed.
type SimGate struct {
	mu      sync.Mutex
	open    bool
	changes int
}

func (g *SimGate) SetOpen(_ context.Context, open bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open != open {
		g.changes++
	}
	g.open = open

	return nil
}

func (g *SimGate) State() (bool, int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.open, g.changes
}
