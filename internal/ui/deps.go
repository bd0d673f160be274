package ui

import (
	"context"
	"log/slog"

	"github.com/cortexlab/cortex/internal/bus"
	"github.com/cortexlab/cortex/internal/config"
	"github.com/cortexlab/cortex/internal/connectors"
	"github.com/cortexlab/cortex/internal/instrument"
	"github.com/cortexlab/cortex/internal/telemetry"
)

var appLogger = slog.With("component", "ui")

// Executor runs closures on the consumer goroutine, where the registry and
// the telemetry board are owned.
type Executor interface {
	Do(fn func()) error
	Call(ctx context.Context, fn func() error) error
}

// Dependencies defines all runtime dependencies required by the UI layer.
type Dependencies struct {
	Data    DataDependencies
	Actions ActionDependencies
}

type DataDependencies struct {
	Registry          *instrument.Registry
	Board             *telemetry.Board
	Executor          Executor
	Bus               bus.MessageBus
	CurrentConfig     func() config.AppConfig
	CurrentConnStatus func() connectors.ConnectionStatus
}

type ActionDependencies struct {
	OnSet          func(ctx context.Context, instrumentName, parameter string, raw any) error
	OnSave         func(cfg config.AppConfig) error
	OnClearJournal func() error
	OnQuit         func()
}
