package ui

import (
	"fyne.io/fyne/v2"
	fyneapp "fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/widget"

	"github.com/cortexlab/cortex/internal/connectors"
)

const (
	tabDevices  = "Devices"
	tabLive     = "Live"
	tabSettings = "Settings"
)

var newFyneApp = func() fyne.App {
	return fyneapp.NewWithID("lab.cortex")
}

func Run(dep Dependencies) error {
	return runWithApp(dep, newFyneApp())
}

func runWithApp(dep Dependencies, fyApp fyne.App) error {
	appLogger.Info("starting UI runtime")

	window := fyApp.NewWindow("")
	window.Resize(fyne.NewSize(1100, 750))

	statusLabel := widget.NewLabel("")
	presenter := newConnectionStatusPresenter(window, statusLabel, resolveInitialConnStatus(dep))
	commandLabel := widget.NewLabel("")
	commandLabel.Truncation = fyne.TextTruncateEllipsis

	devices := newDevicesTab(dep, window)
	live := newLiveTab(dep, window)
	settings := newSettingsTab(dep, window)

	nav := newSidebar(
		sidebarPage{name: tabDevices, content: devices.Content()},
		sidebarPage{name: tabLive, content: live.Content(), onShow: live.OnShow},
		sidebarPage{name: tabSettings, content: settings},
	)

	stopNotifications := startNotificationService(dep, fyApp)
	stopUIListeners := startUIEventListeners(
		dep.Data.Bus,
		func(status connectors.ConnectionStatus) {
			fyne.Do(func() { presenter.Set(status) })
		},
		func(res connectors.CommandResult) {
			fyne.Do(func() { commandLabel.SetText(formatCommandResult(res)) })
		},
	)

	footer := container.NewBorder(nil, nil, statusLabel, nil, container.NewHBox(layout.NewSpacer(), commandLabel))
	window.SetContent(container.NewBorder(nil, footer, nav.nav, nil, nav.stack))

	stopLive := live.Start()
	runtime := newUIRuntime(fyApp, window, dep.Actions.OnQuit, devices.Stop, stopLive, stopNotifications, stopUIListeners)
	runtime.BindCloseIntercept()
	runtime.Run()

	return nil
}
