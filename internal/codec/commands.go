package codec

// Command vocabularies understood by the backends, one block per family.

// Power supply: ('set', ch, volts), ('enable', ch, 0), ('disable', ch, 0).
const (
	ModeSet     = "set"
	ModeEnable  = "enable"
	ModeDisable = "disable"
)

func SetVoltage(channel int, volts float64) Tuple {
	return Tuple{Mode: ModeSet, Channel: channel, HasChannel: true, Value: volts}
}

func EnableChannel(channel int) Tuple {
	return Tuple{Mode: ModeEnable, Channel: channel, HasChannel: true, Integer: true}
}

func DisableChannel(channel int) Tuple {
	return Tuple{Mode: ModeDisable, Channel: channel, HasChannel: true, Integer: true}
}

// Shutter: ('open', 0), ('close', 0), ('pulse', ms).
const (
	ModeOpen  = "open"
	ModeClose = "close"
	ModePulse = "pulse"
)

func OpenShutter() Tuple {
	return Tuple{Mode: ModeOpen, Integer: true}
}

func CloseShutter() Tuple {
	return Tuple{Mode: ModeClose, Integer: true}
}

// Pulse renders whole milliseconds as an integer literal.
func Pulse(ms float64) Tuple {
	return Tuple{Mode: ModePulse, Value: ms, Integer: ms == float64(int64(ms))}
}

// AWG: ('freq', MHz), ('ampl', mV), ('enable', 0), ('disable', 0).
const (
	ModeFrequency = "freq"
	ModeAmplitude = "ampl"
)

func Frequency(mhz float64) Tuple {
	return Tuple{Mode: ModeFrequency, Value: mhz}
}

func Amplitude(mv float64) Tuple {
	return Tuple{Mode: ModeAmplitude, Value: mv}
}

func OutputOn() Tuple {
	return Tuple{Mode: ModeEnable, Integer: true}
}

func OutputOff() Tuple {
	return Tuple{Mode: ModeDisable, Integer: true}
}
