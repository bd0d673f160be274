package backend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlab/cortex/internal/busclient"
	"github.com/cortexlab/cortex/internal/config"
	"github.com/cortexlab/cortex/internal/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingCommander struct {
	mu      sync.Mutex
	written []string
	reply   float64
	err     error
}

func (c *recordingCommander) Write(_ context.Context, cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, cmd)

	return c.err
}

func (c *recordingCommander) QueryFloat(_ context.Context, cmd string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, cmd)

	return c.reply, c.err
}

type publishRecorder struct {
	mu   sync.Mutex
	msgs map[string]string
}

func (p *publishRecorder) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.msgs == nil {
		p.msgs = make(map[string]string)
	}
	p.msgs[topic] = string(payload)

	return nil
}

func TestPowerSupplySetChangesOnlyAddressedChannel(t *testing.T) {
	hw := NewSimPowerSupply([]int{1, 2, 3})
	bridge := NewPowerSupplyBridge("RIGOLPS/0000", []int{1, 2, 3}, hw, quietLogger())
	ctx := context.Background()

	require.NoError(t, bridge.Handle(ctx, "RIGOLPS/0000", []byte("('set', 1, 5.0)")))
	require.NoError(t, bridge.Handle(ctx, "RIGOLPS/0000", []byte("('enable', 1, 0)")))

	assert.Equal(t, 5.0, hw.Voltage(1))
	assert.True(t, hw.Enabled(1))
	assert.Zero(t, hw.Voltage(2))
	assert.False(t, hw.Enabled(3))

	require.NoError(t, bridge.Handle(ctx, "RIGOLPS/0000", []byte("('disable', 1, 0)")))
	assert.False(t, hw.Enabled(1))
}

func TestPowerSupplyRejectsBadCommands(t *testing.T) {
	hw := NewSimPowerSupply([]int{1, 2})
	bridge := NewPowerSupplyBridge("UNITYPS/0003", []int{1, 2}, hw, quietLogger())
	ctx := context.Background()

	assert.ErrorIs(t, bridge.Handle(ctx, "UNITYPS/0003", []byte("('set', 4, 1.0)")), errUnknownChannel)
	assert.Error(t, bridge.Handle(ctx, "UNITYPS/0003", []byte("('set', 1.0)")))
	assert.Error(t, bridge.Handle(ctx, "UNITYPS/0003", []byte("('boost', 1, 1.0)")))
	assert.Error(t, bridge.Handle(ctx, "UNITYPS/0003", []byte("set 1 1.0")))
	assert.Zero(t, hw.Voltage(1))
}

func TestPowerSupplyTickPublishesMeasuredVoltage(t *testing.T) {
	hw := NewSimPowerSupply([]int{1, 2})
	require.NoError(t, hw.SetVoltage(context.Background(), 2, 3.3))
	require.NoError(t, hw.Enable(context.Background(), 2))
	bridge := NewPowerSupplyBridge("RIGOLPS/0001", []int{1, 2}, hw, quietLogger())

	pub := &publishRecorder{}
	require.NoError(t, bridge.Tick(context.Background(), pub))

	assert.True(t, strings.HasSuffix(pub.msgs["RIGOLPS/0001/voltage/2"], ", 3.3000]"))
	assert.True(t, strings.HasSuffix(pub.msgs["RIGOLPS/0001/voltage/1"], ", 0.0000]"))
}

func TestRigolCommands(t *testing.T) {
	cmd := &recordingCommander{reply: 4.99}
	psu := NewRigolPowerSupply(cmd)
	ctx := context.Background()

	require.NoError(t, psu.SetVoltage(ctx, 2, 5))
	require.NoError(t, psu.Enable(ctx, 2))
	require.NoError(t, psu.Disable(ctx, 3))
	v, err := psu.MeasureVoltage(ctx, 2)
	require.NoError(t, err)

	assert.Equal(t, 4.99, v)
	assert.Equal(t, []string{":SOUR2:VOLT 5", ":OUTP CH2, ON", ":OUTP CH3, OFF", ":MEAS:VOLT? CH2"}, cmd.written)
}

func TestAWGConvertsUnits(t *testing.T) {
	cmd := &recordingCommander{}
	bridge := NewAWGBridge("TG2511A/0000", NewSCPIGenerator(cmd), quietLogger())
	ctx := context.Background()

	require.NoError(t, bridge.Handle(ctx, "TG2511A/0000", []byte("('freq', 15.5)")))
	require.NoError(t, bridge.Handle(ctx, "TG2511A/0000", []byte("('ampl', 250)")))
	require.NoError(t, bridge.Handle(ctx, "TG2511A/0000", []byte("('enable', 0)")))
	require.NoError(t, bridge.Handle(ctx, "TG2511A/0000", []byte("('disable', 0)")))

	assert.Equal(t, []string{"FREQ 15500000", "AMPL 0.25", "OUTPUT ON", "OUTPUT OFF"}, cmd.written)
}

func TestAWGSimState(t *testing.T) {
	sim := &SimGenerator{}
	bridge := NewAWGBridge("TG2511A/0000", sim, quietLogger())
	require.NoError(t, bridge.Handle(context.Background(), "TG2511A/0000", []byte("('freq', 1.0)")))

	hz, _, on := sim.State()
	assert.Equal(t, 1e6, hz)
	assert.False(t, on)
}

func TestShutterPulseClosesAfterDuration(t *testing.T) {
	gate := &SimGate{}
	bridge := NewShutterBridge("shutter/0000", gate, quietLogger())

	require.NoError(t, bridge.Handle(context.Background(), "shutter/0000", []byte("('pulse', 20)")))
	open, _ := gate.State()
	assert.True(t, open)

	assert.Eventually(t, func() bool {
		open, _ := gate.State()
		return !open
	}, time.Second, 5*time.Millisecond)
	_, changes := gate.State()
	assert.Equal(t, 2, changes)

	assert.Error(t, bridge.Handle(context.Background(), "shutter/0000", []byte("('pulse', 0)")))
}

func TestShutterOpenCancelsPulse(t *testing.T) {
	gate := &SimGate{}
	bridge := NewShutterBridge("shutter/0000", gate, quietLogger())
	ctx := context.Background()

	require.NoError(t, bridge.Handle(ctx, "shutter/0000", []byte("('pulse', 20)")))
	require.NoError(t, bridge.Handle(ctx, "shutter/0000", []byte("('open', 0)")))
	time.Sleep(60 * time.Millisecond)

	open, _ := gate.State()
	assert.True(t, open)

	cmd := &recordingCommander{}
	line := NewShutterBridge("shutter/0001", NewLineShutter(cmd), quietLogger())
	require.NoError(t, line.Handle(ctx, "shutter/0001", []byte("('close', 0)")))
	assert.Equal(t, []string{"CLOSE"}, cmd.written)
}

func TestSimWavemeterSetpointAndTick(t *testing.T) {
	wm := NewSimWavemeter("HFWM/8731", []int{1, 4}, quietLogger())
	wm.rand = func() float64 { return 0.5 }
	ctx := context.Background()

	assert.Equal(t, []string{"HFWM/8731/setpoint/#"}, wm.Patterns())
	require.NoError(t, wm.Handle(ctx, "HFWM/8731/setpoint/4", []byte("299.5")))
	assert.Error(t, wm.Handle(ctx, "HFWM/8731/setpoint/2", []byte("299.5")))
	assert.Error(t, wm.Handle(ctx, "HFWM/8731/setpoint/1", []byte("abc")))
	assert.Error(t, wm.Handle(ctx, "HFWM/8731/setpoint/x", []byte("1")))

	pub := &publishRecorder{}
	require.NoError(t, wm.Tick(ctx, pub))
	assert.True(t, strings.HasSuffix(pub.msgs["HFWM/8731/frequency/4"], ", 299.500000]"))
	assert.True(t, strings.HasSuffix(pub.msgs["HFWM/8731/frequency/1"], ", 300.000000]"))
	assert.Contains(t, pub.msgs, "HFWM/8731/sigma/1")
}

func TestSimCameraClampsAtZero(t *testing.T) {
	cam := NewSimCamera("HAMAMATSU/0000")
	cam.rand = func() float64 { return -20 }
	pub := &publishRecorder{}

	require.NoError(t, cam.Tick(context.Background(), pub))
	assert.Equal(t, "0", pub.msgs["HAMAMATSU/0000"])
}

func TestBuild(t *testing.T) {
	specs := []config.InstrumentSpec{
		{Family: FamilyWavemeter, DeviceID: "HFWM", Serial: "8731", Backend: config.BackendSpec{Transport: config.TransportSim}},
		{Family: FamilyPowerSupply, DeviceID: "RIGOLPS", Serial: "0000", Backend: config.BackendSpec{Transport: config.TransportTCP, Host: "10.0.0.2", TCPPort: 5555}},
		{Family: FamilyShutter, DeviceID: "shutter", Serial: "0000", Backend: config.BackendSpec{Transport: config.TransportSim}},
	}

	set, err := Build(specs, false, quietLogger())
	require.NoError(t, err)
	assert.Len(t, set.Devices, 3)
	assert.Len(t, set.Sources, 2)
	require.Len(t, set.Runners, 1)

	set, err = Build(specs, true, quietLogger())
	require.NoError(t, err)
	assert.Empty(t, set.Runners)

	_, err = Build([]config.InstrumentSpec{{Family: FamilyCamera, DeviceID: "HAMAMATSU", Serial: "0000", Backend: config.BackendSpec{Transport: config.TransportSerial, Port: "/dev/ttyUSB0"}}}, false, quietLogger())
	assert.Error(t, err)
	_, err = Build([]config.InstrumentSpec{{Family: "laser", DeviceID: "L", Serial: "1"}}, true, quietLogger())
	assert.Error(t, err)
}

func TestLinkRequiresConnection(t *testing.T) {
	link := NewLink(transport.NewTCPTransport("127.0.0.1", 1), quietLogger())

	assert.True(t, errors.Is(link.Write(context.Background(), "*IDN?"), transport.ErrNotConnected))
	_, err := link.Query(context.Background(), "*IDN?")
	assert.True(t, errors.Is(err, transport.ErrNotConnected))
	assert.False(t, link.Connected())
}

func TestHostRoutesCommandsOverLocalBus(t *testing.T) {
	broker := busclient.NewBroker()
	opts := busclient.Options{Logger: quietLogger()}

	hw := NewSimPowerSupply([]int{1, 2, 3})
	host := NewHost(quietLogger())
	require.NoError(t, host.Add(Set{Devices: []Device{NewPowerSupplyBridge("RIGOLPS/0002", []int{1, 2, 3}, hw, quietLogger())}}))
	assert.Equal(t, []string{"RIGOLPS/0002"}, host.Patterns())

	client := busclient.NewLocal(broker, opts, host.Callback)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- host.Run(ctx, client) }()

	require.Eventually(t, func() bool { return broker.Clients() == 1 }, time.Second, 5*time.Millisecond)
	broker.Publish("RIGOLPS/0002", []byte("('set', 3, 12.0)"))
	require.Eventually(t, func() bool { return hw.Voltage(3) == 12.0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("expected host to stop")
	}
	assert.Equal(t, 0, broker.Clients())
}
