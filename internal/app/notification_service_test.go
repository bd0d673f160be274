package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cortexlab/cortex/internal/bus"
	"github.com/cortexlab/cortex/internal/config"
	"github.com/cortexlab/cortex/internal/connectors"
	"github.com/cortexlab/cortex/internal/notifications"
)

func TestNotificationServiceConnectionStatusFilteringAndFormatting(t *testing.T) {
	messageBus := newTestMessageBus(t)
	cfg := config.Default()
	sender := newCollectingNotificationSender()
	service := NewNotificationService(
		messageBus,
		func() config.AppConfig { return cfg },
		func() bool { return false },
		sender,
		nil,
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.Start(ctx)

	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{
		State:   connectors.ConnectionStateConnected,
		Backend: "mqtt",
		Target:  "tcp://lab:1883",
	})
	gotNotifications := sender.waitForCount(t, 1)
	if got := gotNotifications[0].Title; got != "MQTT - connected" {
		t.Fatalf("expected connected title, got %q", got)
	}

	// Duplicate consecutive state must be ignored.
	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{
		State:   connectors.ConnectionStateConnected,
		Backend: "mqtt",
		Target:  "tcp://lab:1883",
	})
	sender.assertCount(t, 1)

	// Reconnecting itself should not notify.
	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{
		State:   connectors.ConnectionStateReconnecting,
		Backend: "mqtt",
		Target:  "tcp://lab:1883",
	})
	sender.assertCount(t, 1)

	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{
		State:   connectors.ConnectionStateDisconnected,
		Backend: "nats",
		Target:  "nats://lab:4222",
		Err:     "connection refused",
	})
	gotNotifications = sender.waitForCount(t, 2)
	if got := gotNotifications[1].Title; got != "NATS - disconnected" {
		t.Fatalf("expected disconnected title, got %q", got)
	}
	if got := gotNotifications[1].Content; got != "nats://lab:4222 (error: connection refused)" {
		t.Fatalf("expected disconnected content with error, got %q", got)
	}
}

func TestNotificationServiceDriverFailuresAreRateLimited(t *testing.T) {
	messageBus := newTestMessageBus(t)
	cfg := config.Default()
	sender := newCollectingNotificationSender()
	service := NewNotificationService(messageBus, func() config.AppConfig { return cfg }, nil, sender, nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var nowMu sync.Mutex
	service.now = func() time.Time {
		nowMu.Lock()
		defer nowMu.Unlock()
		return now
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.Start(ctx)

	failure := connectors.CommandResult{
		Instrument: "RIGOLPS/0000",
		Parameter:  "ch1_volt",
		Input:      "5",
		Kind:       "driver",
		Err:        "set: link not connected",
	}
	messageBus.Publish(connectors.TopicCommandResult, connectors.CommandResult{Instrument: "RIGOLPS/0000", Parameter: "ch1_volt", Input: "1"})
	messageBus.Publish(connectors.TopicCommandResult, connectors.CommandResult{Instrument: "AWG", Parameter: "frequency", Input: "x", Kind: "validation", Err: "bad"})
	messageBus.Publish(connectors.TopicCommandResult, failure)
	gotNotifications := sender.waitForCount(t, 1)
	if got := gotNotifications[0].Title; got != "RIGOLPS/0000 command failed" {
		t.Fatalf("expected driver failure title, got %q", got)
	}
	if got := gotNotifications[0].Content; got != "ch1_volt = 5: set: link not connected" {
		t.Fatalf("unexpected driver failure content %q", got)
	}

	messageBus.Publish(connectors.TopicCommandResult, failure)
	sender.assertCount(t, 1)

	nowMu.Lock()
	now = now.Add(driverNotifyInterval)
	nowMu.Unlock()
	messageBus.Publish(connectors.TopicCommandResult, failure)
	sender.waitForCount(t, 2)
}

func TestNotificationServiceForegroundAndPerTypeSettings(t *testing.T) {
	messageBus := newTestMessageBus(t)
	cfg := config.Default()
	cfg.Notifications.DriverErrors = false
	foreground := true
	var mu sync.Mutex
	sender := newCollectingNotificationSender()
	service := NewNotificationService(
		messageBus,
		func() config.AppConfig { return cfg },
		func() bool {
			mu.Lock()
			defer mu.Unlock()
			return foreground
		},
		sender,
		nil,
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.Start(ctx)

	messageBus.Publish(connectors.TopicCommandResult, connectors.CommandResult{Instrument: "AWG", Kind: "driver", Err: "timeout"})
	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{State: connectors.ConnectionStateConnected, Backend: "local"})
	sender.assertCount(t, 0)

	mu.Lock()
	foreground = false
	mu.Unlock()
	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{State: connectors.ConnectionStateDisconnected, Backend: "local"})
	gotNotifications := sender.waitForCount(t, 1)
	if got := gotNotifications[0].Title; got != "Local bus - disconnected" {
		t.Fatalf("expected local bus title, got %q", got)
	}
	if got := gotNotifications[0].Content; got != "No connection details" {
		t.Fatalf("expected placeholder content, got %q", got)
	}
}

func newTestMessageBus(t *testing.T) *bus.EventBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	messageBus := bus.New(logger)
	t.Cleanup(func() {
		messageBus.Close()
	})

	return messageBus
}

type collectingNotificationSender struct {
	mu            sync.Mutex
	notifications []notifications.Payload
	changes       chan struct{}
}

func newCollectingNotificationSender() *collectingNotificationSender {
	return &collectingNotificationSender{
		changes: make(chan struct{}, 1),
	}
}

func (s *collectingNotificationSender) Send(notification notifications.Payload) {
	s.mu.Lock()
	s.notifications = append(s.notifications, notification)
	s.mu.Unlock()

	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *collectingNotificationSender) snapshot() []notifications.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]notifications.Payload, len(s.notifications))
	copy(out, s.notifications)

	return out
}

func (s *collectingNotificationSender) waitForCount(t *testing.T, expected int) []notifications.Payload {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		current := s.snapshot()
		if len(current) >= expected {
			return current
		}
		select {
		case <-s.changes:
		case <-time.After(10 * time.Millisecond):
		}
	}

	t.Fatalf("timed out waiting for %d notifications", expected)

	return nil
}

func (s *collectingNotificationSender) assertCount(t *testing.T, expected int) {
	t.Helper()

	time.Sleep(100 * time.Millisecond)
	current := s.snapshot()
	if len(current) != expected {
		t.Fatalf("expected %d notifications, got %d", expected, len(current))
	}
}
