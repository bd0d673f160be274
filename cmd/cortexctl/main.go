package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chzyer/readline"

	"github.com/cortexlab/cortex/internal/app"
	"github.com/cortexlab/cortex/internal/console"
	"github.com/cortexlab/cortex/internal/notifications"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run console", "error", err)
		os.Exit(1)
	}
}

func run() error {
	simulate := flag.Bool("simulate", false, "run simulated instruments on an in-process bus")
	configDir := flag.String("config-dir", "", "override the config directory")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := app.Options{Simulate: *simulate}
	if *configDir != "" {
		paths, err := app.PathsIn(*configDir)
		if err != nil {
			return fmt.Errorf("resolve paths: %w", err)
		}
		opts.Paths = &paths
	}

	rt, err := app.Initialize(ctx, opts)
	if err != nil {
		return fmt.Errorf("initialize app runtime: %w", err)
	}
	defer func() {
		_ = rt.Close()
	}()

	// A terminal has no focus signal, so notifications always print.
	app.NewNotificationService(rt.Events, rt.CurrentConfig, nil, printNotifier(os.Stdout), nil).Start(ctx)

	c := console.New(consoleDeps(rt), os.Stdout)
	if err := c.Attach(); err != nil {
		return fmt.Errorf("attach console: %w", err)
	}
	defer c.Detach()

	return c.Run(ctx, &readline.Config{Prompt: "cortex> "})
}

func consoleDeps(rt *app.Runtime) console.Deps {
	deps := console.Deps{
		Registry:   rt.Registry,
		Board:      rt.Board,
		Executor:   rt.Consumer,
		Set:        rt.Set,
		ConnStatus: rt.CurrentConnStatus,
		Dropped:    rt.Consumer.Dropped,
	}
	if rt.Journal != nil {
		deps.History = rt.Journal
	}

	return deps
}

func printNotifier(w io.Writer) notifications.Sender {
	return notifications.SenderFunc(func(p notifications.Payload) {
		_, _ = fmt.Fprintf(w, "\n! %s: %s\n", p.Title, p.Content)
	})
}
