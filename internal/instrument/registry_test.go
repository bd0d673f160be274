package instrument

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlab/cortex/internal/bus"
	"github.com/cortexlab/cortex/internal/connectors"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDriver struct {
	opens   int
	closes  int
	openErr error
}

func (d *fakeDriver) Open(context.Context) error {
	d.opens++
	return d.openErr
}

func (d *fakeDriver) Close() error {
	d.closes++
	return nil
}

func newPSU(t *testing.T, sent *[]any) *Instrument {
	t.Helper()
	inst := New("RIGOLPS/0000", "power supply", &fakeDriver{})
	inst.MustAdd(
		&Parameter{Name: "ch1_volt", Label: "CH1 voltage", Unit: "V", Kind: KindFloat, Set: func(v any) error {
			*sent = append(*sent, v)
			return nil
		}},
		&Parameter{Name: "ch1_enable", Kind: KindBool, Set: func(v any) error {
			*sent = append(*sent, v)
			return nil
		}},
		&Parameter{Name: "reading", Kind: KindDisplay},
		&Parameter{Name: "broken", Kind: KindInt, Set: func(any) error { return errors.New("serial port gone") }},
	)

	return inst
}

func TestSetCoercesAndCallsOnce(t *testing.T) {
	var sent []any
	reg := NewRegistry(quietLogger(), nil, nil)
	require.NoError(t, reg.Register(newPSU(t, &sent)))

	require.NoError(t, reg.Set("RIGOLPS/0000", "ch1_volt", "5"))
	require.NoError(t, reg.Set("RIGOLPS/0000", "ch1_enable", "on"))
	require.NoError(t, reg.Set("RIGOLPS/0000", "ch1_enable", 0))

	assert.Equal(t, []any{5.0, true, false}, sent)
}

func TestSetRejectsBeforeDriver(t *testing.T) {
	var sent []any
	reg := NewRegistry(quietLogger(), nil, nil)
	require.NoError(t, reg.Register(newPSU(t, &sent)))

	err := reg.Set("RIGOLPS/0000", "ch1_volt", "five")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "ch1_volt", verr.Parameter)
	assert.Equal(t, "five", verr.Input)

	err = reg.Set("RIGOLPS/0000", "reading", 1.0)
	require.True(t, errors.As(err, &verr))
	assert.True(t, errors.Is(err, ErrReadOnly))

	assert.True(t, errors.Is(reg.Set("RIGOLPS/0000", "nope", 1), ErrUnknownParameter))
	assert.True(t, errors.Is(reg.Set("AWG", "freq", 1), ErrUnknownInstrument))
	assert.Empty(t, sent)
}

func TestDriverFailureIsPublishedNotReturned(t *testing.T) {
	var sent []any
	events := bus.New(quietLogger())
	defer events.Close()
	results := events.Subscribe(connectors.TopicCommandResult)

	reg := NewRegistry(quietLogger(), events, nil)
	require.NoError(t, reg.Register(newPSU(t, &sent)))

	require.NoError(t, reg.Set("RIGOLPS/0000", "broken", 3))

	select {
	case ev := <-results:
		res := ev.(connectors.CommandResult)
		assert.False(t, res.OK())
		assert.Equal(t, "driver", res.Kind)
		assert.Contains(t, res.Err, "serial port gone")
	case <-time.After(time.Second):
		t.Fatalf("expected command result event")
	}
}

func TestUpdateRunsObserversInAttachOrderAndSurvivesPanics(t *testing.T) {
	reg := NewRegistry(quietLogger(), nil, nil)
	p := &Parameter{Name: "frequency_ch1", Kind: KindDisplay}

	var calls []string
	p.Attach(func(v string) { calls = append(calls, "A:"+v) })
	p.Attach(func(string) { panic("observer bug") })
	p.Attach(func(v string) { calls = append(calls, "B:"+v) })

	reg.Update(p, "299.999912")

	assert.Equal(t, []string{"A:299.999912", "B:299.999912"}, calls)
}

func TestDetachRestoresPreviousChain(t *testing.T) {
	reg := NewRegistry(quietLogger(), nil, nil)
	p := &Parameter{Name: "sigma_ch1", Kind: KindDisplay}

	var base, extra int
	p.Attach(func(string) { base++ })
	tok := p.Attach(func(string) { extra++ })

	require.True(t, p.Detach(tok))
	require.False(t, p.Detach(tok))
	reg.Update(p, "1")

	assert.Equal(t, 1, base)
	assert.Equal(t, 0, extra)
	assert.Equal(t, 1, p.Observers())
}

func TestPollRoutesThroughUpdate(t *testing.T) {
	reg := NewRegistry(quietLogger(), nil, nil)
	inst := New("HFWM/8731", "wavemeter", nil)
	inst.MustAdd(
		&Parameter{Name: "frequency_ch1", Kind: KindDisplay, Get: func() (string, error) { return "300.000001", nil }},
		&Parameter{Name: "status_ch1", Kind: KindDisplay, Get: func() (string, error) { return "", errors.New("timeout") }},
	)
	require.NoError(t, reg.Register(inst))

	var got []string
	for _, p := range inst.Parameters() {
		p.Attach(func(v string) { got = append(got, v) })
	}
	reg.PollAll()

	assert.Equal(t, []string{"300.000001"}, got)
}

func TestOpenAllIsIdempotentAndNonFatal(t *testing.T) {
	reg := NewRegistry(quietLogger(), nil, nil)
	good := &fakeDriver{}
	bad := &fakeDriver{openErr: errors.New("no such port")}
	require.NoError(t, reg.Register(New("A", "x", good)))
	require.NoError(t, reg.Register(New("B", "x", bad)))

	err := reg.OpenAll(context.Background())
	var derr *DriverError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "B", derr.Instrument)

	_ = reg.OpenAll(context.Background())
	assert.Equal(t, 1, good.opens)
	assert.Equal(t, 2, bad.opens)

	reg.CloseAll()
	assert.Equal(t, 1, good.closes)
	assert.Equal(t, 0, bad.closes)
}

func TestInstrumentsSortedByCategoryThenName(t *testing.T) {
	reg := NewRegistry(quietLogger(), nil, nil)
	require.NoError(t, reg.Register(New("shutter/0000", "optics", nil)))
	require.NoError(t, reg.Register(New("UNITYPS/0003", "power supply", nil)))
	require.NoError(t, reg.Register(New("RIGOLPS/0000", "power supply", nil)))
	require.Error(t, reg.Register(New("RIGOLPS/0000", "power supply", nil)))

	var names []string
	for _, inst := range reg.Instruments() {
		names = append(names, inst.Name)
	}
	assert.Equal(t, []string{"shutter/0000", "RIGOLPS/0000", "UNITYPS/0003"}, names)
}

func TestCoerce(t *testing.T) {
	cases := []struct {
		kind Kind
		in   any
		want any
		ok   bool
	}{
		{KindBool, "Yes", true, true},
		{KindBool, 2.5, true, true},
		{KindBool, "maybe", nil, false},
		{KindFloat, " 3.3 ", 3.3, true},
		{KindFloat, 7, 7.0, true},
		{KindFloat, true, nil, false},
		{KindInt, "12", int64(12), true},
		{KindInt, 12.0, int64(12), true},
		{KindInt, "12.5", nil, false},
		{KindInt, int64(math.MaxInt64), int64(math.MaxInt64), true},
		{KindInt, "-9223372036854775808", int64(math.MinInt64), true},
		{KindInt, uint32(7), int64(7), true},
		{KindInt, "1e20", nil, false},
		{KindInt, 1e20, nil, false},
		{KindInt, -1e20, nil, false},
		{KindInt, float64(math.MaxInt64), nil, false},
		{KindInt, uint64(1 << 63), nil, false},
		{KindInt, uint64(math.MaxUint64), nil, false},
		{KindString, 1.5, "1.5", true},
		{KindString, false, "false", true},
		{KindString, []int{1}, nil, false},
		{KindDisplay, "x", nil, false},
	}
	for _, tc := range cases {
		got, err := Coerce(tc.kind, tc.in)
		if !tc.ok {
			assert.Errorf(t, err, "%s %v", tc.kind, tc.in)
			continue
		}
		require.NoErrorf(t, err, "%s %v", tc.kind, tc.in)
		assert.Equal(t, tc.want, got)
	}
	assert.True(t, KindFloat.Scannable())
	assert.False(t, KindInt.Scannable())
}
