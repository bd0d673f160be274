package busclient

import (
	"context"
	"sync"

	"github.com/cortexlab/cortex/internal/connectors"
	"github.com/cortexlab/cortex/internal/topic"
)

// Broker is an in-process message bus. Every LocalClient is bound to the
// broker passed to its constructor; there is no shared default instance.
type Broker struct {
	mu      sync.RWMutex
	clients map[*LocalClient]struct{}
}

func NewBroker() *Broker {
	return &Broker{clients: make(map[*LocalClient]struct{})}
}

// Publish delivers a copy of payload to every attached client with a matching
// subscription. Each client receives the message at most once, and a client
// whose inbound queue is full misses it; Publish never blocks.
func (b *Broker) Publish(t string, payload []byte) {
	b.mu.RLock()
	targets := make([]*LocalClient, 0, len(b.clients))
	for c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	for _, c := range targets {
		if c.matches(t) {
			c.delivery.push(Message{Topic: t, Payload: append([]byte(nil), payload...)})
		}
	}
}

func (b *Broker) attach(c *LocalClient) {
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
}

func (b *Broker) detach(c *LocalClient) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
}

// Clients returns the number of attached clients.
func (b *Broker) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.clients)
}

type LocalClient struct {
	broker   *Broker
	opts     Options
	delivery *delivery
	status   statusReporter

	mu        sync.RWMutex
	patterns  patternSet
	connected bool
	closed    bool
}

func NewLocal(broker *Broker, opts Options, cb Callback) *LocalClient {
	opts = opts.withDefaults(BackendLocal)
	if opts.Address == "" {
		opts.Address = "in-process"
	}

	return &LocalClient{
		broker:   broker,
		opts:     opts,
		delivery: newDelivery(opts.Logger, cb),
		status: statusReporter{
			backend: BackendLocal,
			target:  opts.Address,
			events:  opts.Events,
			metrics: opts.Metrics,
			logger:  opts.Logger,
		},
	}
}

func (c *LocalClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &ConnectionError{Backend: BackendLocal, Address: c.opts.Address, Err: err}
	}
	if c.broker == nil {
		return &ConnectionError{Backend: BackendLocal, Address: c.opts.Address, Err: ErrNotConnected}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = true
	c.mu.Unlock()

	c.delivery.start()
	c.broker.attach(c)
	c.status.report(connectors.ConnectionStateConnected, nil)

	return nil
}

func (c *LocalClient) Subscribe(pattern string) error {
	if err := topic.ValidatePattern(pattern); err != nil {
		return err
	}

	c.mu.Lock()
	added := c.patterns.add(pattern)
	c.mu.Unlock()
	if !added {
		c.opts.Logger.Debug("duplicate subscription ignored", "pattern", pattern)
	}

	return nil
}

func (c *LocalClient) Publish(t string, payload []byte) error {
	if err := topic.ValidateTopic(t); err != nil {
		return err
	}

	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}
	c.broker.Publish(t, payload)

	return nil
}

func (c *LocalClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	c.delivery.stop()
	if wasConnected {
		c.broker.detach(c)
		c.status.report(connectors.ConnectionStateDisconnected, nil)
	}

	return nil
}

func (c *LocalClient) matches(t string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return false
	}
	for _, p := range c.patterns.order {
		if topic.Matches(p, t) {
			return true
		}
	}

	return false
}

// Dropped reports inbound messages discarded because delivery fell behind.
func (c *LocalClient) Dropped() uint64 {
	return c.delivery.droppedCount()
}
