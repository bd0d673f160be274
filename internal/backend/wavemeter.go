package backend

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/cortexlab/cortex/internal/codec"
	"github.com/cortexlab/cortex/internal/topic"
)

const (
	DefaultWavemeterChannels = 8
	DefaultSetpoint          = 300.0
	wavemeterNoise           = 1e-4
)

// SimWavemeter publishes per-channel frequency and sigma telemetry around a
// setpoint and accepts plain-float setpoint writes on BASE/setpoint/CH.
type SimWavemeter struct {
	base     string
	channels []int
	logger   *slog.Logger
	rand     func() float64

	mu        sync.Mutex
	setpoints map[int]float64
}

func NewSimWavemeter(base string, channels []int, logger *slog.Logger) *SimWavemeter {
	if logger == nil {
		logger = slog.Default()
	}
	if len(channels) == 0 {
		for ch := 1; ch <= DefaultWavemeterChannels; ch++ {
			channels = append(channels, ch)
		}
	}

	w := &SimWavemeter{
		base:      base,
		channels:  channels,
		logger:    logger.With("device", base),
		rand:      rand.Float64,
		setpoints: make(map[int]float64, len(channels)),
	}
	for _, ch := range channels {
		w.setpoints[ch] = DefaultSetpoint
	}

	return w
}

func (w *SimWavemeter) Name() string {
	return w.base
}

func (w *SimWavemeter) Patterns() []string {
	return []string{topic.Join(w.base, "setpoint", "#")}
}

func (w *SimWavemeter) Handle(_ context.Context, t string, payload []byte) error {
	ch, ok := codec.ChannelIndex(t)
	if !ok {
		return fmt.Errorf("%s: setpoint topic %q has no channel", w.base, t)
	}
	sp, err := codec.DecodePlain(payload)
	if err != nil {
		return err
	}
	if math.IsNaN(sp.Value) || math.IsInf(sp.Value, 0) || sp.Value <= 0 {
		return fmt.Errorf("%s: setpoint %q out of range", w.base, sp.Text)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, known := w.setpoints[ch]; !known {
		return fmt.Errorf("%s channel %d: %w", w.base, ch, errUnknownChannel)
	}
	w.setpoints[ch] = sp.Value
	w.logger.Info("setpoint changed", "channel", ch, "thz", sp.Value)

	return nil
}

func (w *SimWavemeter) Setpoint(ch int) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.setpoints[ch]
}

func (w *SimWavemeter) Interval() time.Duration {
	return time.Second
}

// Tick publishes "[ts, freq]" on BASE/frequency/CH and "[ts, sigma]" on
// BASE/sigma/CH for every channel.
func (w *SimWavemeter) Tick(_ context.Context, pub Publisher) error {
	ts := float64(time.Now().UnixNano()) / 1e9
	for _, ch := range w.channels {
		noise := (w.rand() - 0.5) * wavemeterNoise
		freq := w.Setpoint(ch) + noise
		if err := pub.Publish(topic.Join(w.base, "frequency", strconv.Itoa(ch)), timestamped(ts, strconv.FormatFloat(freq, 'f', 6, 64))); err != nil {
			return err
		}
		sigma := math.Abs(noise) / 2
		if err := pub.Publish(topic.Join(w.base, "sigma", strconv.Itoa(ch)), timestamped(ts, strconv.FormatFloat(sigma, 'e', 3, 64))); err != nil {
			return err
		}
	}

	return nil
}

// SimCamera publishes a plain photon count on its base topic.
type SimCamera struct {
	base string
	rand func() float64
}

func NewSimCamera(base string) *SimCamera {
	return &SimCamera{base: base, rand: rand.NormFloat64}
}

func (c *SimCamera) Name() string {
	return c.base
}

func (c *SimCamera) Interval() time.Duration {
	return time.Second
}

func (c *SimCamera) Tick(_ context.Context, pub Publisher) error {
	count := int64(500 + 50*c.rand())
	if count < 0 {
		count = 0
	}

	return pub.Publish(c.base, []byte(strconv.FormatInt(count, 10)))
}
