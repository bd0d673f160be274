package ui

import (
	"fmt"
	"strings"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/widget"

	"github.com/cortexlab/cortex/internal/app"
	"github.com/cortexlab/cortex/internal/config"
	"github.com/cortexlab/cortex/internal/connectors"
)

type connectionStatusPresenter struct {
	window      fyne.Window
	statusLabel *widget.Label

	mu      sync.RWMutex
	current connectors.ConnectionStatus
}

func newConnectionStatusPresenter(
	window fyne.Window,
	statusLabel *widget.Label,
	initialStatus connectors.ConnectionStatus,
) *connectionStatusPresenter {
	presenter := &connectionStatusPresenter{
		window:      window,
		statusLabel: statusLabel,
		current:     initialStatus,
	}
	presenter.applyUI(initialStatus)

	return presenter
}

func (p *connectionStatusPresenter) Set(status connectors.ConnectionStatus) {
	p.mu.Lock()
	p.current = status
	p.mu.Unlock()
	p.applyUI(status)
}

func (p *connectionStatusPresenter) CurrentStatus() connectors.ConnectionStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.current
}

func (p *connectionStatusPresenter) applyUI(status connectors.ConnectionStatus) {
	if p.window != nil {
		p.window.SetTitle(formatWindowTitle(status))
	}
	if p.statusLabel != nil {
		p.statusLabel.SetText(formatConnStatus(status))
	}
}

func resolveInitialConnStatus(dep Dependencies) connectors.ConnectionStatus {
	if dep.Data.CurrentConnStatus != nil {
		return dep.Data.CurrentConnStatus()
	}

	return connectors.ConnectionStatus{State: connectors.ConnectionStateDisconnected}
}

func formatConnStatus(status connectors.ConnectionStatus) string {
	text := string(status.State)
	if backend := backendDisplayName(status.Backend); backend != "" {
		text = backend + " " + text
	}
	if target := strings.TrimSpace(status.Target); target != "" {
		text += " (" + target + ")"
	}
	if status.Err != "" {
		text += " (" + status.Err + ")"
	}

	return text
}

func backendDisplayName(name string) string {
	switch config.BusBackend(strings.ToLower(strings.TrimSpace(name))) {
	case config.BusMQTT:
		return "MQTT"
	case config.BusNATS:
		return "NATS"
	case config.BusLocal:
		return "Local"
	default:
		return strings.TrimSpace(name)
	}
}

func formatWindowTitle(status connectors.ConnectionStatus) string {
	return fmt.Sprintf("Cortex %s - %s", app.BuildVersion(), formatConnStatus(status))
}

func formatCommandResult(res connectors.CommandResult) string {
	target := res.Instrument + "." + res.Parameter
	if res.OK() {
		return fmt.Sprintf("%s = %s", target, res.Input)
	}

	return fmt.Sprintf("%s = %s failed: %s", target, res.Input, res.Err)
}
