package ui

import (
	"fmt"
	"sync"

	"github.com/cortexlab/cortex/internal/bus"
	"github.com/cortexlab/cortex/internal/connectors"
)

// startUIEventListeners forwards bus events to the callbacks until the
// returned stop func is called. Callbacks run off the UI goroutine.
func startUIEventListeners(
	messageBus bus.MessageBus,
	onConnStatus func(connectors.ConnectionStatus),
	onCommandResult func(connectors.CommandResult),
) func() {
	if messageBus == nil {
		appLogger.Debug("skipping UI event listeners: message bus is nil")

		return func() {}
	}

	done := make(chan struct{})
	stopConn := forwardTopic(messageBus, connectors.TopicConnStatus, done, onConnStatus)
	stopResults := forwardTopic(messageBus, connectors.TopicCommandResult, done, onCommandResult)

	var once sync.Once

	return func() {
		once.Do(func() {
			appLogger.Debug("stopping UI event listeners")
			close(done)
			stopConn()
			stopResults()
		})
	}
}

// forwardTopic delivers payloads of type T from topic to fn. Payloads of
// other types are skipped. The returned func unsubscribes.
func forwardTopic[T any](messageBus bus.MessageBus, topic string, done <-chan struct{}, fn func(T)) func() {
	sub := messageBus.Subscribe(topic)
	appLogger.Debug("subscribed to UI bus topic", "topic", topic)

	go func() {
		for {
			select {
			case <-done:
				return
			case raw, ok := <-sub:
				if !ok {
					appLogger.Debug("UI subscription closed", "topic", topic)

					return
				}
				payload, ok := raw.(T)
				if !ok {
					appLogger.Debug("ignoring unexpected payload", "topic", topic, "payload_type", fmt.Sprintf("%T", raw))

					continue
				}
				// stop may race with a pending delivery
				select {
				case <-done:
					return
				default:
				}
				if fn != nil {
					fn(payload)
				}
			}
		}
	}()

	return func() {
		messageBus.Unsubscribe(sub, topic)
	}
}
