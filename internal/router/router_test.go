package router

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlab/cortex/internal/codec"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatchDeliversToEveryMatchRegardlessOfOrder(t *testing.T) {
	r := New(quietLogger(), nil)

	var got []string
	record := func(name string) Handler {
		return func(topic string, payload []byte) error {
			got = append(got, name)
			return nil
		}
	}

	_, err := r.Subscribe("HFWM/8731/sigma/+", record("sigma"))
	require.NoError(t, err)
	_, err = r.Subscribe("HFWM/#", record("all"))
	require.NoError(t, err)
	_, err = r.Subscribe("HFWM/+/frequency/+", record("freq"))
	require.NoError(t, err)
	_, err = r.Subscribe("HFWM/+/frequency/+", record("freq2"))
	require.NoError(t, err)

	n := r.Dispatch("HFWM/8731/frequency/3", []byte("(1.0, 2.0)"))
	assert.Equal(t, 3, n)
	assert.ElementsMatch(t, []string{"all", "freq", "freq2"}, got)
}

func TestDispatchIsolatesFailingHandlers(t *testing.T) {
	r := New(quietLogger(), nil)

	calls := 0
	_, _ = r.Subscribe("a/+", func(string, []byte) error { panic("boom") })
	_, _ = r.Subscribe("a/+", func(string, []byte) error { return errors.New("failed") })
	_, _ = r.Subscribe("a/+", func(string, []byte) error {
		_, err := codec.DecodeScalar([]byte("garbage"))
		return err
	})
	_, _ = r.Subscribe("a/+", func(string, []byte) error {
		calls++
		return nil
	})

	assert.Equal(t, 4, r.Dispatch("a/b", nil))
	assert.Equal(t, 1, calls)
}

func TestUnsubscribeRemovesOnlyThatHandle(t *testing.T) {
	r := New(quietLogger(), nil)

	var first, second int
	subA, _ := r.Subscribe("x/y", func(string, []byte) error { first++; return nil })
	_, _ = r.Subscribe("x/y", func(string, []byte) error { second++; return nil })

	require.True(t, r.Unsubscribe(subA))
	require.False(t, r.Unsubscribe(subA))

	r.Dispatch("x/y", nil)
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, []string{"x/y"}, r.Patterns())
}

func TestSubscribeRejectsInvalidPattern(t *testing.T) {
	r := New(quietLogger(), nil)

	_, err := r.Subscribe("a/#/b", func(string, []byte) error { return nil })
	require.Error(t, err)
	_, err = r.Subscribe("a/b", nil)
	require.Error(t, err)
	assert.Empty(t, r.Patterns())
}

func TestOnNewPatternFiresOncePerDistinctPattern(t *testing.T) {
	r := New(quietLogger(), nil)

	var seen []string
	r.OnNewPattern(func(p string) { seen = append(seen, p) })

	noop := func(string, []byte) error { return nil }
	_, _ = r.Subscribe("shutter/#", noop)
	_, _ = r.Subscribe("shutter/#", noop)
	_, _ = r.Subscribe("RIGOLPS/+", noop)

	assert.Equal(t, []string{"shutter/#", "RIGOLPS/+"}, seen)
}

func TestHandlerMaySubscribeDuringDispatch(t *testing.T) {
	r := New(quietLogger(), nil)

	_, _ = r.Subscribe("a/b", func(string, []byte) error {
		_, err := r.Subscribe("a/c", func(string, []byte) error { return nil })
		return err
	})

	assert.Equal(t, 1, r.Dispatch("a/b", nil))
	assert.Equal(t, []string{"a/b", "a/c"}, r.Patterns())
}
