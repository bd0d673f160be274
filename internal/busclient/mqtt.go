package busclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/cortexlab/cortex/internal/connectors"
	"github.com/cortexlab/cortex/internal/topic"
)

const (
	mqttQoS            = 0
	mqttSubscribeWait  = 5 * time.Second
	mqttDisconnectWait = 250
)

// MQTTClient talks to an MQTT broker through paho. Reconnects are automatic
// and every registered pattern is re-subscribed from the OnConnect handler.
type MQTTClient struct {
	opts     Options
	delivery *delivery
	status   statusReporter

	mu       sync.Mutex
	client   mqtt.Client
	patterns patternSet
	closed   bool
}

func NewMQTT(opts Options, cb Callback) *MQTTClient {
	opts = opts.withDefaults(BackendMQTT)

	return &MQTTClient{
		opts:     opts,
		delivery: newDelivery(opts.Logger, cb),
		status: statusReporter{
			backend: BackendMQTT,
			target:  opts.Address,
			events:  opts.Events,
			metrics: opts.Metrics,
			logger:  opts.Logger,
		},
	}
}

func (c *MQTTClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.client != nil {
		c.mu.Unlock()
		return nil
	}

	o := mqtt.NewClientOptions().
		AddBroker(c.opts.Address).
		SetClientID(c.opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetKeepAlive(c.opts.KeepAlive).
		SetConnectTimeout(c.opts.ConnectTimeout).
		SetOrderMatters(true)
	o.SetOnConnectHandler(c.onConnect)
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.status.report(connectors.ConnectionStateReconnecting, err)
	})
	client := mqtt.NewClient(o)
	c.client = client
	c.mu.Unlock()

	c.status.report(connectors.ConnectionStateConnecting, nil)
	c.delivery.start()

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.abort()
		err := &ConnectionError{Backend: BackendMQTT, Address: c.opts.Address, Err: ctx.Err()}
		c.status.report(connectors.ConnectionStateDisconnected, err)
		return err
	}
	if err := token.Error(); err != nil {
		c.abort()
		connErr := &ConnectionError{Backend: BackendMQTT, Address: c.opts.Address, Err: err}
		c.status.report(connectors.ConnectionStateDisconnected, connErr)
		return connErr
	}

	return nil
}

func (c *MQTTClient) abort() {
	c.mu.Lock()
	c.client = nil
	c.mu.Unlock()
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.mu.Lock()
	patterns := c.patterns.list()
	c.mu.Unlock()

	for _, p := range patterns {
		if err := c.subscribe(client, p); err != nil {
			c.opts.Logger.Warn("resubscribe failed", "pattern", p, "error", err)
		}
	}
	c.status.report(connectors.ConnectionStateConnected, nil)
}

func (c *MQTTClient) subscribe(client mqtt.Client, pattern string) error {
	token := client.Subscribe(pattern, mqttQoS, c.handle)
	if !token.WaitTimeout(mqttSubscribeWait) {
		return fmt.Errorf("subscribe %q: timed out", pattern)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %q: %w", pattern, err)
	}

	return nil
}

func (c *MQTTClient) handle(_ mqtt.Client, msg mqtt.Message) {
	c.delivery.push(Message{Topic: msg.Topic(), Payload: msg.Payload()})
}

// Subscribe registers pattern. Patterns added before Connect are subscribed on
// the first OnConnect; duplicates are ignored.
func (c *MQTTClient) Subscribe(pattern string) error {
	if err := topic.ValidatePattern(pattern); err != nil {
		return err
	}

	c.mu.Lock()
	if !c.patterns.add(pattern) {
		c.mu.Unlock()
		c.opts.Logger.Debug("duplicate subscription ignored", "pattern", pattern)
		return nil
	}
	client := c.client
	c.mu.Unlock()

	if client == nil || !client.IsConnectionOpen() {
		return nil
	}

	return c.subscribe(client, pattern)
}

// Publish hands the payload to paho without waiting for the token.
func (c *MQTTClient) Publish(t string, payload []byte) error {
	if err := topic.ValidateTopic(t); err != nil {
		return err
	}

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}
	client.Publish(t, mqttQoS, false, payload)

	return nil
}

func (c *MQTTClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	client := c.client
	c.mu.Unlock()

	c.delivery.stop()
	if client != nil {
		client.Disconnect(mqttDisconnectWait)
	}
	c.status.report(connectors.ConnectionStateDisconnected, nil)

	return nil
}

// Dropped reports inbound messages discarded because delivery fell behind.
func (c *MQTTClient) Dropped() uint64 {
	return c.delivery.droppedCount()
}
