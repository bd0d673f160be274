package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/cortexlab/cortex/internal/codec"
	"github.com/cortexlab/cortex/internal/topic"
	"github.com/cortexlab/cortex/internal/transport"
)

// PowerSupply is a multi-channel DC supply.
type PowerSupply interface {
	SetVoltage(ctx context.Context, channel int, volts float64) error
	Enable(ctx context.Context, channel int) error
	Disable(ctx context.Context, channel int) error
	MeasureVoltage(ctx context.Context, channel int) (float64, error)
}

// PowerSupplyBridge executes ('set'|'enable'|'disable', ch, value) commands
// published on DEVICE/SERIAL and reports measured voltages on
// DEVICE/SERIAL/voltage/CH.
type PowerSupplyBridge struct {
	base     string
	channels []int
	hw       PowerSupply
	logger   *slog.Logger
	interval time.Duration
}

func NewPowerSupplyBridge(base string, channels []int, hw PowerSupply, logger *slog.Logger) *PowerSupplyBridge {
	if logger == nil {
		logger = slog.Default()
	}

	return &PowerSupplyBridge{
		base:     base,
		channels: channels,
		hw:       hw,
		logger:   logger.With("device", base),
		interval: 2 * time.Second,
	}
}

func (b *PowerSupplyBridge) Name() string {
	return b.base
}

func (b *PowerSupplyBridge) Patterns() []string {
	return []string{b.base}
}

func (b *PowerSupplyBridge) Handle(ctx context.Context, _ string, payload []byte) error {
	cmd, err := codec.DecodeTuple(payload)
	if err != nil {
		return err
	}
	if !cmd.HasChannel {
		return fmt.Errorf("%s: command %s needs a channel", b.base, cmd)
	}
	if !slices.Contains(b.channels, cmd.Channel) {
		return fmt.Errorf("%s channel %d: %w", b.base, cmd.Channel, errUnknownChannel)
	}

	switch cmd.Mode {
	case codec.ModeSet:
		b.logger.Info("set voltage", "channel", cmd.Channel, "volts", cmd.Value)
		return b.hw.SetVoltage(ctx, cmd.Channel, cmd.Value)
	case codec.ModeEnable:
		b.logger.Info("enable output", "channel", cmd.Channel)
		return b.hw.Enable(ctx, cmd.Channel)
	case codec.ModeDisable:
		b.logger.Info("disable output", "channel", cmd.Channel)
		return b.hw.Disable(ctx, cmd.Channel)
	default:
		return fmt.Errorf("%s: unsupported mode %q", b.base, cmd.Mode)
	}
}

func (b *PowerSupplyBridge) Interval() time.Duration {
	return b.interval
}

// Tick publishes "[ts, volts]" for every channel that answered.
func (b *PowerSupplyBridge) Tick(ctx context.Context, pub Publisher) error {
	ts := float64(time.Now().UnixNano()) / 1e9
	for _, ch := range b.channels {
		v, err := b.hw.MeasureVoltage(ctx, ch)
		if errors.Is(err, transport.ErrNotConnected) {
			return nil
		}
		if err != nil {
			return err
		}
		t := topic.Join(b.base, "voltage", strconv.Itoa(ch))
		if err := pub.Publish(t, timestamped(ts, strconv.FormatFloat(v, 'f', 4, 64))); err != nil {
			return err
		}
	}

	return nil
}

func timestamped(ts float64, value string) []byte {
	return []byte("[" + strconv.FormatFloat(ts, 'f', 6, 64) + ", " + value + "]")
}

type simChannel struct {
	volts   float64
	enabled bool
}

// SimPowerSupply keeps channel state in memory.
type SimPowerSupply struct {
	mu       sync.Mutex
	channels map[int]*simChannel
}

func NewSimPowerSupply(channels []int) *SimPowerSupply {
	s := &SimPowerSupply{channels: make(map[int]*simChannel, len(channels))}
	for _, ch := range channels {
		s.channels[ch] = &simChannel{}
	}

	return s
}

func (s *SimPowerSupply) channel(ch int) (*simChannel, error) {
	c, ok := s.channels[ch]
	if !ok {
		return nil, fmt.Errorf("channel %d: %w", ch, errUnknownChannel)
	}

	return c, nil
}

func (s *SimPowerSupply) SetVoltage(_ context.Context, ch int, volts float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.channel(ch)
	if err != nil {
		return err
	}
	c.volts = volts

	return nil
}

func (s *SimPowerSupply) Enable(_ context.Context, ch int) error {
	return s.setEnabled(ch, true)
}

func (s *SimPowerSupply) Disable(_ context.Context, ch int) error {
	return s.setEnabled(ch, false)
}

func (s *SimPowerSupply) setEnabled(ch int, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.channel(ch)
	if err != nil {
		return err
	}
	c.enabled = on

	return nil
}

// MeasureVoltage reads back the set voltage while the output is on, zero
// otherwise.
func (s *SimPowerSupply) MeasureVoltage(_ context.Context, ch int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.channel(ch)
	if err != nil {
		return 0, err
	}
	if !c.enabled {
		return 0, nil
	}

	return c.volts, nil
}

// Voltage returns the programmed voltage of ch.
func (s *SimPowerSupply) Voltage(ch int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.channels[ch]; ok {
		return c.volts
	}

	return 0
}

func (s *SimPowerSupply) Enabled(ch int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.channels[ch]; ok {
		return c.enabled
	}

	return false
}
