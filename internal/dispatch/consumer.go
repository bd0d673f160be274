// Package dispatch moves messages from the bus delivery goroutine to the single
// consumer goroutine that owns registry and telemetry state.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/cortexlab/cortex/internal/bus"
	"github.com/cortexlab/cortex/internal/busclient"
	"github.com/cortexlab/cortex/internal/connectors"
	"github.com/cortexlab/cortex/internal/metrics"
)

const (
	DefaultCapacity      = 1024
	DefaultPruneInterval = time.Second

	actionCapacity = 64
)

var ErrStopped = errors.New("consumer is stopped")

// Router is the part of the topic router the consumer drives.
type Router interface {
	Dispatch(topic string, payload []byte) int
}

// Pruner is run on every prune tick.
type Pruner interface {
	PruneAll(now time.Time) int
}

type Config struct {
	Capacity      int
	PruneInterval time.Duration
}

// Consumer owns the bounded relay and the goroutine draining it.
type Consumer struct {
	relay   chan busclient.Message
	actions chan func()
	quit    chan struct{}
	done    chan struct{}

	router        Router
	pruner        Pruner
	pruneInterval time.Duration
	now           func() time.Time

	logger      *slog.Logger
	metrics     *metrics.Metrics
	events      bus.MessageBus
	dropLimiter *rate.Limiter
	dropped     atomic.Uint64

	running   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewConsumer(cfg Config, router Router, pruner Pruner, logger *slog.Logger, m *metrics.Metrics, events bus.MessageBus) *Consumer {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		relay:         make(chan busclient.Message, cfg.Capacity),
		actions:       make(chan func(), actionCapacity),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
		router:        router,
		pruner:        pruner,
		pruneInterval: cfg.PruneInterval,
		now:           time.Now,
		logger:        logger.With("component", "consumer"),
		metrics:       m,
		events:        events,
		dropLimiter:   rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// Enqueue is the bus client callback. It never blocks: when the relay is full
// the message is dropped and counted.
func (c *Consumer) Enqueue(topic string, payload []byte) {
	c.metrics.MessageReceived()
	select {
	case c.relay <- busclient.Message{Topic: topic, Payload: payload, Received: time.Now()}:
		return
	default:
	}

	total := c.dropped.Add(1)
	c.metrics.RelayDropped()
	if c.dropLimiter.Allow() {
		c.logger.Warn("relay full, dropping message", "topic", topic, "dropped_total", total)
		if c.events != nil {
			c.events.Publish(connectors.TopicRelayDrop, connectors.RelayDrop{Topic: topic, Dropped: total, Timestamp: time.Now()})
		}
	}
}

func (c *Consumer) Dropped() uint64 {
	return c.dropped.Load()
}

// Do schedules fn on the consumer goroutine. It blocks while the action queue
// is full and fails once the consumer has stopped.
func (c *Consumer) Do(fn func()) error {
	select {
	case <-c.quit:
		return ErrStopped
	default:
	}
	select {
	case c.actions <- fn:
		return nil
	case <-c.quit:
		return ErrStopped
	}
}

// Call runs fn on the consumer goroutine and waits for its error.
func (c *Consumer) Call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if err := c.Do(func() { result <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	}
}

// Start runs the consumer loop on its own goroutine.
func (c *Consumer) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.running.Store(true)
		go c.Run(ctx)
	})
}

// Run processes relay messages, actions and prune ticks one at a time until
// ctx is cancelled or Stop is called.
func (c *Consumer) Run(ctx context.Context) {
	c.running.Store(true)
	defer close(c.done)

	ticker := time.NewTicker(c.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.signalStop()
			return
		case <-c.quit:
			return
		case msg := <-c.relay:
			c.route(msg)
		case fn := <-c.actions:
			c.run(fn)
		case <-ticker.C:
			if c.pruner != nil {
				c.pruner.PruneAll(c.now())
			}
		}
	}
}

// Stop signals the loop and waits for it to exit if it was started.
func (c *Consumer) Stop() {
	c.signalStop()
	if c.running.Load() {
		<-c.done
	}
}

func (c *Consumer) signalStop() {
	c.stopOnce.Do(func() {
		close(c.quit)
	})
}

func (c *Consumer) route(msg busclient.Message) {
	if c.router == nil {
		return
	}
	if n := c.router.Dispatch(msg.Topic, msg.Payload); n == 0 {
		c.logger.Debug("no subscriber for topic", "topic", msg.Topic)
	}
}

func (c *Consumer) run(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("consumer action panicked", "panic", rec)
		}
	}()
	fn()
}
