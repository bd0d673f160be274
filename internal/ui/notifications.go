package ui

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"fyne.io/fyne/v2"

	"github.com/cortexlab/cortex/internal/app"
	"github.com/cortexlab/cortex/internal/notifications"
)

// desktopNotifier posts notifications through the Fyne app.
type desktopNotifier struct {
	fyApp fyne.App
}

func (n desktopNotifier) Send(payload notifications.Payload) {
	if n.fyApp == nil {
		return
	}
	title := strings.TrimSpace(payload.Title)
	content := strings.TrimSpace(payload.Content)
	if title == "" && content == "" {
		return
	}

	fyne.Do(func() {
		n.fyApp.SendNotification(fyne.NewNotification(title, content))
	})
}

// trackForeground follows the app lifecycle. The window starts focused.
func trackForeground(fyApp fyne.App) func() bool {
	var focused atomic.Bool
	focused.Store(true)
	lifecycle := fyApp.Lifecycle()
	lifecycle.SetOnEnteredForeground(func() { focused.Store(true) })
	lifecycle.SetOnExitedForeground(func() { focused.Store(false) })

	return focused.Load
}

func startNotificationService(dep Dependencies, fyApp fyne.App) func() {
	ctx, cancel := context.WithCancel(context.Background())
	app.NewNotificationService(
		dep.Data.Bus,
		dep.Data.CurrentConfig,
		trackForeground(fyApp),
		desktopNotifier{fyApp: fyApp},
		slog.With("component", "ui.notifications"),
	).Start(ctx)

	return cancel
}
