package console

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlab/cortex/internal/connectors"
	"github.com/cortexlab/cortex/internal/instrument"
	"github.com/cortexlab/cortex/internal/telemetry"
)

type fakeHistory struct {
	instrument string
	limit      int
}

func (h *fakeHistory) RecentCommands(_ context.Context, instrumentName string, limit int) ([]connectors.CommandResult, error) {
	h.instrument, h.limit = instrumentName, limit

	return []connectors.CommandResult{
		{Instrument: "RIGOLPS/0000", Parameter: "ch1_volt", Input: "5", Timestamp: time.Now()},
		{Instrument: "RIGOLPS/0000", Parameter: "ch1_volt", Input: "x", Kind: "validation", Err: "not a number", Timestamp: time.Now()},
	}, nil
}

type fixture struct {
	console  *Console
	out      *bytes.Buffer
	registry *instrument.Registry
	board    *telemetry.Board
	sent     []any
	history  *fakeHistory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{out: &bytes.Buffer{}, history: &fakeHistory{}}
	f.registry = instrument.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)), nil, nil)
	f.board = telemetry.NewBoard(time.Hour, nil)

	psu := instrument.New("RIGOLPS/0000", "Power Supply", nil)
	psu.MustAdd(
		&instrument.Parameter{Name: "ch1_volt", Unit: "V", Kind: instrument.KindFloat, Set: func(v any) error {
			f.sent = append(f.sent, v)
			return nil
		}},
		&instrument.Parameter{Name: "ch1_voltage", Unit: "V", Kind: instrument.KindDisplay, Get: func() (string, error) {
			return "4.9990", nil
		}},
	)
	require.NoError(t, f.registry.Register(psu))

	f.console = New(Deps{
		Registry: f.registry,
		Board:    f.board,
		Set: func(_ context.Context, instrumentName, parameter string, raw any) error {
			return f.registry.Set(instrumentName, parameter, raw)
		},
		ConnStatus: func() connectors.ConnectionStatus {
			return connectors.ConnectionStatus{State: connectors.ConnectionStateConnected, Backend: "local"}
		},
		Dropped: func() uint64 { return 7 },
		History: f.history,
	}, f.out)
	require.NoError(t, f.console.Attach())

	return f
}

func (f *fixture) run(line string) string {
	f.out.Reset()
	f.console.Execute(context.Background(), line)

	return f.out.String()
}

func TestListShowsInstrumentsAndParameters(t *testing.T) {
	f := newFixture(t)

	out := f.run("list")
	assert.Contains(t, out, "Power Supply")
	assert.Contains(t, out, "RIGOLPS/0000")

	out = f.run("list RIGOLPS/0000")
	assert.Contains(t, out, "ch1_volt")
	assert.Contains(t, out, "display")

	assert.Contains(t, f.run("list AWG"), "unknown instrument")
}

func TestSetCoercesAndReportsValidation(t *testing.T) {
	f := newFixture(t)

	assert.Contains(t, f.run("set RIGOLPS/0000 ch1_volt 5"), "ch1_volt <- 5")
	assert.Equal(t, []any{5.0}, f.sent)

	assert.Contains(t, f.run("set RIGOLPS/0000 ch1_volt five"), "Error:")
	assert.Len(t, f.sent, 1)
	assert.Contains(t, f.run("set RIGOLPS/0000"), "usage: set")
}

func TestPollThenGetShowsCachedValue(t *testing.T) {
	f := newFixture(t)

	assert.Contains(t, f.run("get RIGOLPS/0000 ch1_voltage"), "= -")
	assert.Contains(t, f.run("poll RIGOLPS/0000 ch1_voltage"), "= 4.9990")
	assert.Contains(t, f.run("get RIGOLPS/0000 ch1_voltage"), "= 4.9990")

	f.console.Detach()
	p, err := f.registry.Lookup("RIGOLPS/0000", "ch1_voltage")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Observers())
}

func TestTrackSamplesWindowUntrack(t *testing.T) {
	f := newFixture(t)

	assert.Contains(t, f.run("track RIGOLPS/0000 ch1_volt"), "not a display parameter")
	out := f.run("track RIGOLPS/0000 ch1_voltage")
	assert.Contains(t, out, "window 1 tracking RIGOLPS/0000 - ch1_voltage (V)")

	p, err := f.registry.Lookup("RIGOLPS/0000", "ch1_voltage")
	require.NoError(t, err)
	f.registry.Update(p, "4.5")
	f.registry.Update(p, "4.75")

	out = f.run("samples 1 1")
	assert.Contains(t, out, "2 samples")
	assert.Contains(t, out, "4.75")
	assert.NotContains(t, out, "4.5\n")

	assert.Contains(t, f.run("window 1 30"), "30m0s")
	w, ok := f.board.Window(1)
	require.True(t, ok)
	assert.Equal(t, time.Hour, w.Retention())
	w.Prune(time.Now())
	assert.Equal(t, 30*time.Minute, w.Retention())

	assert.Contains(t, f.run("window 1 -2"), "Error:")
	assert.Contains(t, f.run("untrack 1"), "window 1 closed")
	assert.Contains(t, f.run("untrack 1"), "not found")
	assert.Contains(t, f.run("samples 1"), "not found")
}

func TestStatusAndHistory(t *testing.T) {
	f := newFixture(t)

	out := f.run("status")
	assert.Contains(t, out, "bus: local connected")
	assert.Contains(t, out, "relay dropped: 7")

	out = f.run("history RIGOLPS/0000 5")
	assert.Equal(t, "RIGOLPS/0000", f.history.instrument)
	assert.Equal(t, 5, f.history.limit)
	assert.Contains(t, out, "validation: not a number")
}

func TestUnknownAndQuit(t *testing.T) {
	f := newFixture(t)

	assert.Contains(t, f.run("frobnicate"), "Unknown command")
	assert.False(t, f.console.Execute(context.Background(), "   "))
	assert.True(t, f.console.Execute(context.Background(), "quit"))
	assert.Contains(t, f.run("help"), "samples <window>")
}
