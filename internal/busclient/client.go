// Package busclient connects the dashboard to the publish/subscribe message
// bus. Every backend funnels inbound messages through one delivery goroutine
// that invokes the client callback.
package busclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cortexlab/cortex/internal/bus"
	"github.com/cortexlab/cortex/internal/connectors"
	"github.com/cortexlab/cortex/internal/metrics"
)

const (
	BackendMQTT  = "mqtt"
	BackendNATS  = "nats"
	BackendLocal = "local"

	inboundCapacity = 256
)

var (
	ErrNotConnected = errors.New("bus client is not connected")
	ErrClosed       = errors.New("bus client is closed")
)

// Callback receives every message matching an active subscription. It runs on
// the delivery goroutine, never concurrently with itself.
type Callback func(topic string, payload []byte)

type Client interface {
	Connect(ctx context.Context) error
	Publish(topic string, payload []byte) error
	Subscribe(pattern string) error
	Close() error
}

// Message is one inbound bus message.
type Message struct {
	Topic    string
	Payload  []byte
	Received time.Time
}

type Options struct {
	Address        string
	ClientID       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration

	Logger  *slog.Logger
	Events  bus.MessageBus
	Metrics *metrics.Metrics
}

func (o Options) withDefaults(backend string) Options {
	if strings.TrimSpace(o.ClientID) == "" {
		o.ClientID = NewClientID()
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = 30 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.Logger = o.Logger.With("component", "busclient", "backend", backend)

	return o
}

func NewClientID() string {
	return "cortex-" + uuid.NewString()
}

// ConnectionError reports that the broker could not be reached. It is returned
// once from Connect and never retried by the client.
type ConnectionError struct {
	Backend string
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s bus at %q: %v", e.Backend, e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// delivery owns the goroutine that hands inbound messages to the callback.
type delivery struct {
	logger   *slog.Logger
	callback Callback
	inbound  chan Message
	quit     chan struct{}
	wg       sync.WaitGroup

	dropped     atomic.Uint64
	dropLimiter *rate.Limiter

	startOnce sync.Once
	stopOnce  sync.Once
}

func newDelivery(logger *slog.Logger, cb Callback) *delivery {
	return &delivery{
		logger:   logger,
		callback: cb,
		inbound:  make(chan Message, inboundCapacity),
		quit:     make(chan struct{}),

		dropLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

func (d *delivery) start() {
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go d.run()
	})
}

// push queues a message for delivery without blocking the publisher. A full
// inbound queue drops the message and counts it.
func (d *delivery) push(msg Message) bool {
	if msg.Received.IsZero() {
		msg.Received = time.Now()
	}
	select {
	case <-d.quit:
		return false
	default:
	}
	select {
	case d.inbound <- msg:
		return true
	default:
		n := d.dropped.Add(1)
		if d.dropLimiter.Allow() {
			d.logger.Warn("inbound queue full, message dropped", "topic", msg.Topic, "dropped_total", n)
		}

		return false
	}
}

func (d *delivery) droppedCount() uint64 {
	return d.dropped.Load()
}

// stop signals the loop and waits for it to exit. Safe to call repeatedly and
// before start.
func (d *delivery) stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
	})
	d.wg.Wait()
}

func (d *delivery) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case msg := <-d.inbound:
			d.invoke(msg)
		}
	}
}

func (d *delivery) invoke(msg Message) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("message callback panicked", "topic", msg.Topic, "panic", rec)
		}
	}()
	if d.callback != nil {
		d.callback(msg.Topic, msg.Payload)
	}
}

// statusReporter publishes connection state changes on the event bus.
type statusReporter struct {
	backend string
	target  string
	events  bus.MessageBus
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func (r statusReporter) report(state connectors.ConnectionState, err error) {
	r.metrics.SetBusConnected(state == connectors.ConnectionStateConnected)
	status := connectors.ConnectionStatus{
		State:     state,
		Backend:   r.backend,
		Target:    r.target,
		Timestamp: time.Now(),
	}
	if err != nil {
		status.Err = err.Error()
		r.logger.Warn("bus connection state changed", "state", state, "error", err)
	} else {
		r.logger.Info("bus connection state changed", "state", state)
	}
	if r.events != nil {
		r.events.Publish(connectors.TopicConnStatus, status)
	}
}

// patternSet keeps subscribed patterns in registration order.
type patternSet struct {
	order []string
	seen  map[string]struct{}
}

func (s *patternSet) add(pattern string) bool {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[pattern]; ok {
		return false
	}
	s.seen[pattern] = struct{}{}
	s.order = append(s.order, pattern)

	return true
}

func (s *patternSet) list() []string {
	return append([]string(nil), s.order...)
}
