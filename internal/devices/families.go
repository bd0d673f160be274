package devices

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/cortexlab/cortex/internal/codec"
	"github.com/cortexlab/cortex/internal/config"
	"github.com/cortexlab/cortex/internal/instrument"
	"github.com/cortexlab/cortex/internal/telemetry"
	"github.com/cortexlab/cortex/internal/topic"
)

const (
	defaultWavemeterChannels = 8

	StatusStable   = "stable"
	StatusUnstable = "unstable"
)

var defaultPSUChannels = []int{1, 2, 3}

func channelsOr(spec config.InstrumentSpec, fallback []int) []int {
	if len(spec.Channels) > 0 {
		return spec.Channels
	}

	return fallback
}

func publishTuple(env Env, base string, cmd codec.Tuple) error {
	return env.Publisher.Publish(base, cmd.Encode())
}

// NewWavemeter builds a multi-channel wavemeter. Per channel it exposes the
// measured frequency, its sigma, a stability status and a writable setpoint.
func NewWavemeter(spec config.InstrumentSpec, env Env) (*instrument.Instrument, error) {
	base := spec.Topic()
	fallback := make([]int, 0, defaultWavemeterChannels)
	for ch := 1; ch <= defaultWavemeterChannels; ch++ {
		fallback = append(fallback, ch)
	}
	channels := channelsOr(spec, fallback)

	threshold := env.StabilityThreshold
	if threshold <= 0 {
		threshold = telemetry.DefaultStabilityThreshold
	}
	stability := telemetry.NewStability(threshold, env.StabilityMode)

	driver := newBusDriver(env.Router)
	inst := instrument.New(spec.DisplayName(), categoryOr(spec, "Sensor"), driver)

	var mu sync.Mutex
	latest := make(map[int]float64, len(channels))
	freq := make(map[int]*instrument.Parameter, len(channels))
	sigma := make(map[int]*instrument.Parameter, len(channels))
	status := make(map[int]*instrument.Parameter, len(channels))

	for _, ch := range channels {
		ch := ch
		n := strconv.Itoa(ch)
		freq[ch] = &instrument.Parameter{
			Name:  "frequency_ch" + n,
			Label: "Ch" + n + " Frequency",
			Unit:  "THz",
			Kind:  instrument.KindDisplay,
			Get: func() (string, error) {
				mu.Lock()
				defer mu.Unlock()
				return formatFrequency(latest[ch]), nil
			},
		}
		sigma[ch] = &instrument.Parameter{Name: "sigma_ch" + n, Label: "Ch" + n + " Sigma", Unit: "THz", Kind: instrument.KindDisplay}
		status[ch] = &instrument.Parameter{Name: "status_ch" + n, Label: "Ch" + n + " Lock", Kind: instrument.KindDisplay}
		setpoint := &instrument.Parameter{
			Name:  "setpoint_ch" + n,
			Label: "Ch" + n + " Setpoint Frequency",
			Unit:  "THz",
			Kind:  instrument.KindFloat,
			Set: func(v any) error {
				return env.Publisher.Publish(topic.Join(base, "setpoint", n), codec.EncodePlain(v.(float64)))
			},
		}
		if err := addAll(inst, freq[ch], sigma[ch], status[ch], setpoint); err != nil {
			return nil, err
		}
	}

	driver.handle(topic.Join(base, "frequency", "+"), func(t string, payload []byte) error {
		ch, sc, err := channelScalar(t, payload)
		if err != nil {
			return err
		}
		p, ok := freq[ch]
		if !ok || sc.Value <= 0 {
			return nil
		}
		mu.Lock()
		latest[ch] = sc.Value
		mu.Unlock()
		env.Registry.Update(p, formatFrequency(sc.Value))

		return nil
	})
	driver.handle(topic.Join(base, "sigma", "+"), func(t string, payload []byte) error {
		ch, sc, err := channelScalar(t, payload)
		if err != nil {
			return err
		}
		p, ok := sigma[ch]
		if !ok {
			return nil
		}
		env.Registry.Update(p, sc.Text)
		if stability.Observe(ch, sc.Value) {
			env.Registry.Update(status[ch], StatusStable)
		} else {
			env.Registry.Update(status[ch], StatusUnstable)
		}

		return nil
	})

	return inst, nil
}

// formatFrequency renders THz with 6 decimals for both pushes and polls.
func formatFrequency(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func channelScalar(t string, payload []byte) (int, codec.Scalar, error) {
	ch, ok := codec.ChannelIndex(t)
	if !ok {
		return 0, codec.Scalar{}, fmt.Errorf("topic %q has no channel index", t)
	}
	sc, err := codec.DecodeScalar(payload)
	if err != nil {
		return 0, codec.Scalar{}, err
	}

	return ch, sc, nil
}

// NewPowerSupply builds a multi-channel supply with a voltage setpoint, an
// output switch and the measured voltage per channel.
func NewPowerSupply(spec config.InstrumentSpec, env Env) (*instrument.Instrument, error) {
	base := spec.Topic()
	channels := channelsOr(spec, defaultPSUChannels)
	driver := newBusDriver(env.Router)
	inst := instrument.New(spec.DisplayName(), categoryOr(spec, "Power Supply"), driver)

	measured := make(map[int]*instrument.Parameter, len(channels))
	for _, ch := range channels {
		ch := ch
		n := strconv.Itoa(ch)
		volt := &instrument.Parameter{
			Name:  "ch" + n + "_volt",
			Label: "Ch" + n + " Set (V)",
			Unit:  "V",
			Kind:  instrument.KindFloat,
			Set: func(v any) error {
				return publishTuple(env, base, codec.SetVoltage(ch, v.(float64)))
			},
		}
		enable := &instrument.Parameter{
			Name:  "ch" + n + "_enable",
			Label: "Ch" + n + " On/Off",
			Kind:  instrument.KindBool,
			Set: func(v any) error {
				if v.(bool) {
					return publishTuple(env, base, codec.EnableChannel(ch))
				}
				return publishTuple(env, base, codec.DisableChannel(ch))
			},
		}
		measured[ch] = &instrument.Parameter{Name: "ch" + n + "_voltage", Label: "Ch" + n + " Voltage", Unit: "V", Kind: instrument.KindDisplay}
		if err := addAll(inst, volt, enable, measured[ch]); err != nil {
			return nil, err
		}
	}

	driver.handle(topic.Join(base, "voltage", "+"), func(t string, payload []byte) error {
		ch, sc, err := channelScalar(t, payload)
		if err != nil {
			return err
		}
		if p, ok := measured[ch]; ok {
			env.Registry.Update(p, sc.Text)
		}

		return nil
	})

	return inst, nil
}

// NewShutter builds a shutter with an open switch and a timed pulse.
func NewShutter(spec config.InstrumentSpec, env Env) (*instrument.Instrument, error) {
	base := spec.Topic()
	inst := instrument.New(spec.DisplayName(), categoryOr(spec, "Miscellaneous"), nil)
	err := addAll(inst,
		&instrument.Parameter{
			Name:  "state",
			Label: "Shutter Open",
			Kind:  instrument.KindBool,
			Set: func(v any) error {
				if v.(bool) {
					return publishTuple(env, base, codec.OpenShutter())
				}
				return publishTuple(env, base, codec.CloseShutter())
			},
		},
		&instrument.Parameter{
			Name:  "pulse",
			Label: "Pulse Duration",
			Unit:  "ms",
			Kind:  instrument.KindFloat,
			Set: func(v any) error {
				ms := v.(float64)
				if ms <= 0 {
					return fmt.Errorf("pulse duration must be positive, got %v ms", ms)
				}
				return publishTuple(env, base, codec.Pulse(ms))
			},
		},
	)
	if err != nil {
		return nil, err
	}

	return inst, nil
}

// NewAWG builds a function generator with frequency in MHz and amplitude in
// mV; the backend converts to SI units.
func NewAWG(spec config.InstrumentSpec, env Env) (*instrument.Instrument, error) {
	base := spec.Topic()
	inst := instrument.New(spec.DisplayName(), categoryOr(spec, "Signal Generator"), nil)
	err := addAll(inst,
		&instrument.Parameter{
			Name:  "output",
			Label: "Output Enabled",
			Kind:  instrument.KindBool,
			Set: func(v any) error {
				if v.(bool) {
					return publishTuple(env, base, codec.OutputOn())
				}
				return publishTuple(env, base, codec.OutputOff())
			},
		},
		&instrument.Parameter{
			Name:  "frequency",
			Label: "Frequency",
			Unit:  "MHz",
			Kind:  instrument.KindFloat,
			Set: func(v any) error {
				return publishTuple(env, base, codec.Frequency(v.(float64)))
			},
		},
		&instrument.Parameter{
			Name:  "amplitude",
			Label: "Amplitude",
			Unit:  "mV",
			Kind:  instrument.KindFloat,
			Set: func(v any) error {
				return publishTuple(env, base, codec.Amplitude(v.(float64)))
			},
		},
	)
	if err != nil {
		return nil, err
	}

	return inst, nil
}

// NewCamera builds a camera exposing the total photon count published as a
// plain number on the instrument topic.
func NewCamera(spec config.InstrumentSpec, env Env) (*instrument.Instrument, error) {
	driver := newBusDriver(env.Router)
	inst := instrument.New(spec.DisplayName(), categoryOr(spec, "Sensor"), driver)
	count := &instrument.Parameter{Name: "total_count", Label: "Total Count", Kind: instrument.KindDisplay}
	if err := inst.Add(count); err != nil {
		return nil, err
	}

	driver.handle(spec.Topic(), func(_ string, payload []byte) error {
		sc, err := codec.DecodeAny(payload)
		if err != nil {
			return err
		}
		env.Registry.Update(count, strconv.FormatInt(int64(sc.Value), 10))

		return nil
	})

	return inst, nil
}

func addAll(inst *instrument.Instrument, params ...*instrument.Parameter) error {
	for _, p := range params {
		if err := inst.Add(p); err != nil {
			return err
		}
	}

	return nil
}
