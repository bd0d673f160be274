package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cortexlab/cortex/internal/app"
	"github.com/cortexlab/cortex/internal/ui"
)

func main() {
	simulate := flag.Bool("simulate", false, "run simulated instruments on an in-process bus")
	configDir := flag.String("config-dir", "", "override the config directory")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := runtimeOptions(*configDir, *simulate)
	if err != nil {
		slog.Error("resolve paths", "error", err)
		os.Exit(1)
	}
	rt, err := app.Initialize(ctx, opts)
	if err != nil {
		slog.Error("initialize app runtime", "error", err)
		os.Exit(1)
	}

	var closeOnce sync.Once
	closeRuntime := func() {
		closeOnce.Do(func() {
			_ = rt.Close()
		})
	}
	defer closeRuntime()

	err = ui.Run(ui.BuildRuntimeDependencies(rt, func() {
		stop()
		closeRuntime()
	}))
	if err != nil {
		slog.Error("run ui", "error", err)
		os.Exit(1)
	}
}

func runtimeOptions(configDir string, simulate bool) (app.Options, error) {
	opts := app.Options{Simulate: simulate}
	if configDir == "" {
		return opts, nil
	}
	paths, err := app.PathsIn(configDir)
	if err != nil {
		return app.Options{}, err
	}
	opts.Paths = &paths

	return opts, nil
}
