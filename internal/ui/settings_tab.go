package ui

import (
	"fmt"
	"strconv"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/widget"

	"github.com/cortexlab/cortex/internal/config"
	"github.com/cortexlab/cortex/internal/telemetry"
)

const (
	backendOptionMQTT  = "MQTT"
	backendOptionNATS  = "NATS"
	backendOptionLocal = "Local"
)

// settingsValues is the raw form state.
type settingsValues struct {
	Backend            string
	Address            string
	ClientID           string
	LogLevel           string
	LogToFile          bool
	WindowMinutes      string
	StabilityThreshold string
	StabilityMode      string
	MetricsListen      string
	JournalEnabled     bool
	NotifyConnection   bool
	NotifyDriverErrors bool
}

func settingsValuesFromConfig(cfg config.AppConfig) settingsValues {
	return settingsValues{
		Backend:            backendOptionFromType(cfg.Bus.Backend),
		Address:            cfg.Bus.Address,
		ClientID:           cfg.Bus.ClientID,
		LogLevel:           strings.ToLower(cfg.Logging.Level),
		LogToFile:          cfg.Logging.LogToFile,
		WindowMinutes:      strconv.FormatFloat(cfg.Telemetry.WindowSeconds/60, 'f', -1, 64),
		StabilityThreshold: strconv.FormatFloat(cfg.Telemetry.StabilityThreshold, 'g', -1, 64),
		StabilityMode:      cfg.Telemetry.StabilityMode,
		MetricsListen:      cfg.Metrics.Listen,
		JournalEnabled:     cfg.Journal.Enabled,
		NotifyConnection:   cfg.Notifications.ConnectionStatus,
		NotifyDriverErrors: cfg.Notifications.DriverErrors,
	}
}

// apply copies the form state onto base and validates the result.
func (v settingsValues) apply(base config.AppConfig) (config.AppConfig, error) {
	cfg := base
	cfg.Bus.Backend = backendTypeFromOption(v.Backend)
	cfg.Bus.Address = strings.TrimSpace(v.Address)
	cfg.Bus.ClientID = strings.TrimSpace(v.ClientID)
	cfg.Logging.Level = v.LogLevel
	cfg.Logging.LogToFile = v.LogToFile

	window, err := telemetry.ParseWindowMinutes(v.WindowMinutes)
	if err != nil {
		return config.AppConfig{}, err
	}
	cfg.Telemetry.WindowSeconds = window.Seconds()

	threshold, err := strconv.ParseFloat(strings.TrimSpace(v.StabilityThreshold), 64)
	if err != nil || threshold <= 0 {
		return config.AppConfig{}, fmt.Errorf("stability threshold must be a positive number, got %q", v.StabilityThreshold)
	}
	cfg.Telemetry.StabilityThreshold = threshold
	mode, err := telemetry.ParseStabilityMode(v.StabilityMode)
	if err != nil {
		return config.AppConfig{}, err
	}
	cfg.Telemetry.StabilityMode = string(mode)

	cfg.Metrics.Listen = strings.TrimSpace(v.MetricsListen)
	cfg.Journal.Enabled = v.JournalEnabled
	cfg.Notifications.ConnectionStatus = v.NotifyConnection
	cfg.Notifications.DriverErrors = v.NotifyDriverErrors
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return config.AppConfig{}, err
	}

	return cfg, nil
}

func backendOptionFromType(backend config.BusBackend) string {
	switch backend {
	case config.BusNATS:
		return backendOptionNATS
	case config.BusLocal:
		return backendOptionLocal
	default:
		return backendOptionMQTT
	}
}

func backendTypeFromOption(option string) config.BusBackend {
	switch option {
	case backendOptionNATS:
		return config.BusNATS
	case backendOptionLocal:
		return config.BusLocal
	default:
		return config.BusMQTT
	}
}

func newSettingsTab(dep Dependencies, window fyne.Window) fyne.CanvasObject {
	current := config.Default()
	if dep.Data.CurrentConfig != nil {
		current = dep.Data.CurrentConfig()
	}
	current.FillMissingDefaults()
	values := settingsValuesFromConfig(current)

	backendSelect := widget.NewSelect([]string{backendOptionMQTT, backendOptionNATS, backendOptionLocal}, nil)
	backendSelect.SetSelected(values.Backend)
	addressEntry := widget.NewEntry()
	addressEntry.SetText(values.Address)
	addressEntry.SetPlaceHolder(config.DefaultMQTTAddress)
	clientIDEntry := widget.NewEntry()
	clientIDEntry.SetText(values.ClientID)
	clientIDEntry.SetPlaceHolder("generated")

	levelSelect := widget.NewSelect([]string{"debug", "info", "warn", "error"}, nil)
	levelSelect.SetSelected(values.LogLevel)
	if levelSelect.Selected == "" {
		levelSelect.SetSelected("info")
	}
	logToFile := widget.NewCheck("", nil)
	logToFile.SetChecked(values.LogToFile)

	windowEntry := widget.NewEntry()
	windowEntry.SetText(values.WindowMinutes)
	thresholdEntry := widget.NewEntry()
	thresholdEntry.SetText(values.StabilityThreshold)
	modeSelect := widget.NewSelect([]string{string(telemetry.StabilityChannel), string(telemetry.StabilityCoupled)}, nil)
	modeSelect.SetSelected(values.StabilityMode)

	metricsEntry := widget.NewEntry()
	metricsEntry.SetText(values.MetricsListen)
	metricsEntry.SetPlaceHolder("disabled, e.g. :9091")
	journalEnabled := widget.NewCheck("", nil)
	journalEnabled.SetChecked(values.JournalEnabled)
	notifyConnection := widget.NewCheck("Bus connection changes", nil)
	notifyConnection.SetChecked(values.NotifyConnection)
	notifyDriver := widget.NewCheck("Instrument command failures", nil)
	notifyDriver.SetChecked(values.NotifyDriverErrors)

	status := widget.NewLabel("")
	status.Wrapping = fyne.TextWrapWord

	saveButton := widget.NewButton("Save", func() {
		cfg, err := settingsValues{
			Backend:            backendSelect.Selected,
			Address:            addressEntry.Text,
			ClientID:           clientIDEntry.Text,
			LogLevel:           levelSelect.Selected,
			LogToFile:          logToFile.Checked,
			WindowMinutes:      windowEntry.Text,
			StabilityThreshold: thresholdEntry.Text,
			StabilityMode:      modeSelect.Selected,
			MetricsListen:      metricsEntry.Text,
			JournalEnabled:     journalEnabled.Checked,
			NotifyConnection:   notifyConnection.Checked,
			NotifyDriverErrors: notifyDriver.Checked,
		}.apply(current)
		if err != nil {
			dialog.ShowError(err, window)
			return
		}
		if dep.Actions.OnSave == nil {
			return
		}
		if err := dep.Actions.OnSave(cfg); err != nil {
			appLogger.Warn("saving settings failed", "error", err)
			dialog.ShowError(err, window)
			return
		}
		current = cfg
		appLogger.Info("settings saved", "bus", cfg.Bus.Backend, "window_seconds", cfg.Telemetry.WindowSeconds)
		status.SetText("Saved. Bus, metrics and stability changes apply after restart.")
	})
	saveButton.Importance = widget.HighImportance

	clearButton := widget.NewButton("Clear journal", func() {
		dialog.ShowConfirm("Clear journal", "Delete all recorded commands and connection events?", func(ok bool) {
			if !ok {
				return
			}
			if err := dep.Actions.OnClearJournal(); err != nil {
				dialog.ShowError(err, window)
				return
			}
			status.SetText("Journal cleared.")
		}, window)
	})
	if dep.Actions.OnClearJournal == nil {
		clearButton.Disable()
	}

	form := widget.NewForm(
		widget.NewFormItem("Bus", backendSelect),
		widget.NewFormItem("Address", addressEntry),
		widget.NewFormItem("Client ID", clientIDEntry),
		widget.NewFormItem("Log level", levelSelect),
		widget.NewFormItem("Log to file", logToFile),
		widget.NewFormItem("Plot window, min", windowEntry),
		widget.NewFormItem("Stability threshold", thresholdEntry),
		widget.NewFormItem("Stability mode", modeSelect),
		widget.NewFormItem("Metrics listen", metricsEntry),
		widget.NewFormItem("Journal", journalEnabled),
		widget.NewFormItem("Notify", container.NewVBox(notifyConnection, notifyDriver)),
	)

	buttons := container.NewHBox(saveButton, clearButton, layout.NewSpacer())

	return container.NewVScroll(container.NewVBox(form, buttons, status))
}
