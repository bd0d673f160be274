package busclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cortexlab/cortex/internal/connectors"
	"github.com/cortexlab/cortex/internal/topic"
)

// NATSClient maps the topic hierarchy onto NATS subjects ("/" becomes ".",
// "+" becomes "*", "#" becomes ">"). The NATS library re-subscribes on
// reconnect itself. A "#" pattern does not match its parent level on NATS, and
// levels must be valid NATS tokens (no '.', whitespace, '*' or '>').
type NATSClient struct {
	opts     Options
	delivery *delivery
	status   statusReporter

	mu       sync.Mutex
	conn     *nats.Conn
	patterns patternSet
	subs     map[string]*nats.Subscription
	closed   bool
}

func NewNATS(opts Options, cb Callback) *NATSClient {
	opts = opts.withDefaults(BackendNATS)
	if opts.Address == "" {
		opts.Address = nats.DefaultURL
	}

	return &NATSClient{
		opts:     opts,
		delivery: newDelivery(opts.Logger, cb),
		status: statusReporter{
			backend: BackendNATS,
			target:  opts.Address,
			events:  opts.Events,
			metrics: opts.Metrics,
			logger:  opts.Logger,
		},
		subs: make(map[string]*nats.Subscription),
	}
}

func (c *NATSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	timeout := c.opts.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	c.status.report(connectors.ConnectionStateConnecting, nil)
	conn, err := nats.Connect(c.opts.Address,
		nats.Name(c.opts.ClientID),
		nats.Timeout(timeout),
		nats.PingInterval(c.opts.KeepAlive),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.status.report(connectors.ConnectionStateReconnecting, err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.status.report(connectors.ConnectionStateConnected, nil)
		}),
	)
	if err != nil {
		connErr := &ConnectionError{Backend: BackendNATS, Address: c.opts.Address, Err: err}
		c.status.report(connectors.ConnectionStateDisconnected, connErr)
		return connErr
	}

	c.delivery.start()

	c.mu.Lock()
	c.conn = conn
	patterns := c.patterns.list()
	c.mu.Unlock()

	for _, p := range patterns {
		if err := c.subscribe(conn, p); err != nil {
			c.opts.Logger.Warn("subscribe failed", "pattern", p, "error", err)
		}
	}
	c.status.report(connectors.ConnectionStateConnected, nil)

	return nil
}

func (c *NATSClient) subscribe(conn *nats.Conn, pattern string) error {
	subject := topic.ToNATSSubject(pattern)
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		c.delivery.push(Message{Topic: topic.FromNATSSubject(msg.Subject), Payload: msg.Data})
	})
	if err != nil {
		return fmt.Errorf("subscribe %q as %q: %w", pattern, subject, err)
	}

	c.mu.Lock()
	c.subs[pattern] = sub
	c.mu.Unlock()

	return nil
}

func (c *NATSClient) Subscribe(pattern string) error {
	if err := topic.ValidatePattern(pattern); err != nil {
		return err
	}
	if err := topic.ValidateNATS(pattern); err != nil {
		return err
	}

	c.mu.Lock()
	if !c.patterns.add(pattern) {
		c.mu.Unlock()
		c.opts.Logger.Debug("duplicate subscription ignored", "pattern", pattern)
		return nil
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	return c.subscribe(conn, pattern)
}

func (c *NATSClient) Publish(t string, payload []byte) error {
	if err := topic.ValidateTopic(t); err != nil {
		return err
	}
	if err := topic.ValidateNATS(t); err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}

	return conn.Publish(topic.ToNATSSubject(t), payload)
}

func (c *NATSClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.delivery.stop()
	if conn != nil {
		conn.Close()
	}
	c.status.report(connectors.ConnectionStateDisconnected, nil)

	return nil
}

// Dropped reports inbound messages discarded because delivery fell behind.
func (c *NATSClient) Dropped() uint64 {
	return c.delivery.droppedCount()
}
