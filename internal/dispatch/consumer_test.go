package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRouter struct {
	mu     sync.Mutex
	topics []string
	seen   chan string
}

func newRecordingRouter() *recordingRouter {
	return &recordingRouter{seen: make(chan string, 16)}
}

func (r *recordingRouter) Dispatch(topic string, _ []byte) int {
	r.mu.Lock()
	r.topics = append(r.topics, topic)
	r.mu.Unlock()
	r.seen <- topic
	return 1
}

type countingPruner struct {
	ticks chan time.Time
}

func (p *countingPruner) PruneAll(now time.Time) int {
	select {
	case p.ticks <- now:
	default:
	}
	return 0
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConsumerPreservesOrder(t *testing.T) {
	router := newRecordingRouter()
	c := NewConsumer(Config{}, router, nil, quietLogger(), nil, nil)
	c.Start(context.Background())
	defer c.Stop()

	for _, topic := range []string{"a/1", "a/2", "a/3"} {
		c.Enqueue(topic, nil)
	}
	for i := 0; i < 3; i++ {
		select {
		case <-router.seen:
		case <-time.After(time.Second):
			t.Fatalf("expected 3 dispatches, got %d", i)
		}
	}

	router.mu.Lock()
	defer router.mu.Unlock()
	assert.Equal(t, []string{"a/1", "a/2", "a/3"}, router.topics)
}

func TestEnqueueDropsWhenRelayFull(t *testing.T) {
	c := NewConsumer(Config{Capacity: 2}, newRecordingRouter(), nil, quietLogger(), nil, nil)

	c.Enqueue("a", nil)
	c.Enqueue("b", nil)
	c.Enqueue("c", nil)
	c.Enqueue("d", nil)

	assert.Equal(t, uint64(2), c.Dropped())
}

func TestDoRunsOnConsumerAndSurvivesPanics(t *testing.T) {
	c := NewConsumer(Config{}, nil, nil, quietLogger(), nil, nil)
	c.Start(context.Background())
	defer c.Stop()

	require.NoError(t, c.Do(func() { panic("bad action") }))

	err := c.Call(context.Background(), func() error { return errors.New("rejected") })
	assert.EqualError(t, err, "rejected")
	assert.NoError(t, c.Call(context.Background(), func() error { return nil }))
}

func TestPruneTicks(t *testing.T) {
	pruner := &countingPruner{ticks: make(chan time.Time, 1)}
	c := NewConsumer(Config{PruneInterval: 10 * time.Millisecond}, nil, pruner, quietLogger(), nil, nil)
	c.Start(context.Background())
	defer c.Stop()

	select {
	case <-pruner.ticks:
	case <-time.After(time.Second):
		t.Fatalf("expected a prune tick")
	}
}

func TestStopRejectsFurtherActions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewConsumer(Config{}, nil, nil, quietLogger(), nil, nil)
	c.Start(ctx)
	cancel()
	c.Stop()

	assert.True(t, errors.Is(c.Do(func() {}), ErrStopped))

	idle := NewConsumer(Config{}, nil, nil, quietLogger(), nil, nil)
	idle.Stop()
	idle.Stop()
}
