package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cortexlab/cortex/internal/bus"
	"github.com/cortexlab/cortex/internal/config"
	"github.com/cortexlab/cortex/internal/connectors"
	"github.com/cortexlab/cortex/internal/notifications"
)

// driverNotifyInterval limits driver failure notifications per instrument.
const driverNotifyInterval = 30 * time.Second

// NotificationService listens to bus events and emits user-facing notifications.
type NotificationService struct {
	bus           bus.MessageBus
	currentConfig func() config.AppConfig
	isForeground  func() bool
	sender        notifications.Sender
	logger        *slog.Logger
	now           func() time.Time

	connStatusMu     sync.Mutex
	lastConnState    connectors.ConnectionState
	lastConnStateSet bool

	driverMu       sync.Mutex
	lastDriverSent map[string]time.Time
}

func NewNotificationService(
	messageBus bus.MessageBus,
	currentConfig func() config.AppConfig,
	isForeground func() bool,
	sender notifications.Sender,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default().With("component", "app.notifications")
	}

	return &NotificationService{
		bus:            messageBus,
		currentConfig:  currentConfig,
		isForeground:   isForeground,
		sender:         sender,
		logger:         logger,
		now:            time.Now,
		lastDriverSent: make(map[string]time.Time),
	}
}

func (s *NotificationService) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	connSub := s.bus.Subscribe(connectors.TopicConnStatus)
	resultSub := s.bus.Subscribe(connectors.TopicCommandResult)

	go func() {
		defer s.bus.Unsubscribe(connSub, connectors.TopicConnStatus)
		defer s.bus.Unsubscribe(resultSub, connectors.TopicCommandResult)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-connSub:
				if !ok {
					return
				}
				status, ok := raw.(connectors.ConnectionStatus)
				if !ok {
					continue
				}
				s.handleConnectionStatus(status)
			case raw, ok := <-resultSub:
				if !ok {
					return
				}
				res, ok := raw.(connectors.CommandResult)
				if !ok {
					continue
				}
				s.handleCommandResult(res)
			}
		}
	}()
}

func (s *NotificationService) handleConnectionStatus(status connectors.ConnectionStatus) {
	prefs := s.notificationPrefs()
	if status.State == "" {
		return
	}

	s.connStatusMu.Lock()
	if s.lastConnStateSet && s.lastConnState == status.State {
		s.connStatusMu.Unlock()

		return
	}
	s.lastConnState = status.State
	s.lastConnStateSet = true
	s.connStatusMu.Unlock()

	if status.State != connectors.ConnectionStateConnected &&
		status.State != connectors.ConnectionStateDisconnected {
		return
	}
	if !s.shouldNotify(prefs, prefs.ConnectionStatus) {
		return
	}

	backend := notificationBackendName(status.Backend)
	if backend == "" {
		backend = "Bus"
	}
	details := strings.TrimSpace(status.Target)
	if details == "" {
		details = "No connection details"
	}
	if status.State == connectors.ConnectionStateDisconnected {
		if errText := strings.TrimSpace(status.Err); errText != "" {
			details = fmt.Sprintf("%s (error: %s)", details, errText)
		}
	}

	s.send(notifications.Payload{
		Title:   fmt.Sprintf("%s - %s", backend, status.State),
		Content: details,
	})
}

// handleCommandResult notifies about driver failures only; validation errors
// are already shown where the value was entered.
func (s *NotificationService) handleCommandResult(res connectors.CommandResult) {
	if res.OK() || res.Kind != "driver" {
		return
	}
	prefs := s.notificationPrefs()
	if !s.shouldNotify(prefs, prefs.DriverErrors) {
		return
	}

	now := s.now()
	s.driverMu.Lock()
	if last, ok := s.lastDriverSent[res.Instrument]; ok && now.Sub(last) < driverNotifyInterval {
		s.driverMu.Unlock()
		return
	}
	s.lastDriverSent[res.Instrument] = now
	s.driverMu.Unlock()

	s.send(notifications.Payload{
		Title:   res.Instrument + " command failed",
		Content: fmt.Sprintf("%s = %s: %s", res.Parameter, res.Input, res.Err),
	})
}

func (s *NotificationService) shouldNotify(prefs config.NotificationsConfig, kindEnabled bool) bool {
	if !kindEnabled {
		return false
	}
	if prefs.NotifyWhenFocused {
		return true
	}
	if s.isForeground == nil {
		return true
	}

	return !s.isForeground()
}

func (s *NotificationService) notificationPrefs() config.NotificationsConfig {
	cfg := config.Default()
	if s.currentConfig != nil {
		cfg = s.currentConfig()
	}

	return cfg.Notifications
}

func (s *NotificationService) send(notification notifications.Payload) {
	title := strings.TrimSpace(notification.Title)
	content := strings.TrimSpace(notification.Content)
	if title == "" && content == "" {
		return
	}
	s.logger.Debug("sending notification", "title", title)
	s.sender.Send(notifications.Payload{
		Title:   title,
		Content: content,
	})
}

func notificationBackendName(name string) string {
	switch config.BusBackend(strings.ToLower(strings.TrimSpace(name))) {
	case config.BusMQTT:
		return "MQTT"
	case config.BusNATS:
		return "NATS"
	case config.BusLocal:
		return "Local bus"
	default:
		return strings.TrimSpace(name)
	}
}
