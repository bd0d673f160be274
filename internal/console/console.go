// Package console provides the interactive command line for driving
// instruments without the GUI.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"

	"github.com/cortexlab/cortex/internal/codec"
	"github.com/cortexlab/cortex/internal/connectors"
	"github.com/cortexlab/cortex/internal/instrument"
	"github.com/cortexlab/cortex/internal/telemetry"
)

const (
	defaultSamples = 10
	defaultHistory = 20
	callTimeout    = 5 * time.Second
)

// Executor runs closures on the consumer goroutine.
type Executor interface {
	Do(fn func()) error
	Call(ctx context.Context, fn func() error) error
}

// History lists recently journaled commands, newest first.
type History interface {
	RecentCommands(ctx context.Context, instrument string, limit int) ([]connectors.CommandResult, error)
}

type Deps struct {
	Registry   *instrument.Registry
	Board      *telemetry.Board
	Executor   Executor
	Set        func(ctx context.Context, instrumentName, parameter string, raw any) error
	ConnStatus func() connectors.ConnectionStatus
	// Dropped reports how many telemetry messages the relay shed.
	Dropped func() uint64
	// History is nil when the journal is disabled.
	History History
}

// Console executes one command line at a time and caches the latest value of
// every display parameter.
type Console struct {
	deps Deps
	out  io.Writer

	mu       sync.Mutex
	latest   map[*instrument.Parameter]string
	attached []attachment
}

type attachment struct {
	param *instrument.Parameter
	token instrument.Token
}

func New(deps Deps, out io.Writer) *Console {
	return &Console{deps: deps, out: out, latest: make(map[*instrument.Parameter]string)}
}

// Attach starts caching display values. It must be called once before Execute
// can report them.
func (c *Console) Attach() error {
	if c.deps.Registry == nil {
		return nil
	}
	attach := func() {
		for _, inst := range c.deps.Registry.Instruments() {
			for _, p := range inst.Parameters() {
				if p.Kind != instrument.KindDisplay {
					continue
				}
				param := p
				token := param.Attach(func(v string) {
					c.mu.Lock()
					c.latest[param] = v
					c.mu.Unlock()
				})
				c.mu.Lock()
				c.attached = append(c.attached, attachment{param: param, token: token})
				c.mu.Unlock()
			}
		}
	}

	return c.call(context.Background(), func() error {
		attach()
		return nil
	})
}

// Detach removes the cache observers added by Attach.
func (c *Console) Detach() {
	detach := func() error {
		c.mu.Lock()
		attached := c.attached
		c.attached = nil
		c.mu.Unlock()
		for _, a := range attached {
			a.param.Detach(a.token)
		}
		return nil
	}
	if err := c.call(context.Background(), detach); err != nil {
		_ = detach()
	}
}

// Run reads commands from a readline prompt until quit, EOF or ctx ends.
func (c *Console) Run(ctx context.Context, cfg *readline.Config) error {
	if cfg == nil {
		cfg = &readline.Config{}
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "cortex> "
	}
	cfg.InterruptPrompt = "^C"
	cfg.EOFPrompt = "exit"
	cfg.AutoComplete = c.completer()

	rl, err := readline.NewEx(cfg)
	if err != nil {
		return fmt.Errorf("create readline: %w", err)
	}
	defer rl.Close()
	c.out = rl.Stdout()

	c.printHelp()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return nil
		}
		if quit := c.Execute(ctx, line); quit {
			return nil
		}
	}
}

func (c *Console) completer() *readline.PrefixCompleter {
	var instruments []readline.PrefixCompleterInterface
	if c.deps.Registry != nil {
		for _, inst := range c.deps.Registry.Instruments() {
			var params []readline.PrefixCompleterInterface
			for _, p := range inst.Parameters() {
				params = append(params, readline.PcItem(p.Name))
			}
			instruments = append(instruments, readline.PcItem(inst.Name, params...))
		}
	}

	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("list", instruments...),
		readline.PcItem("get", instruments...),
		readline.PcItem("set", instruments...),
		readline.PcItem("poll", instruments...),
		readline.PcItem("track", instruments...),
		readline.PcItem("untrack"),
		readline.PcItem("samples"),
		readline.PcItem("window"),
		readline.PcItem("status"),
		readline.PcItem("history", instruments...),
		readline.PcItem("quit"),
	)
}

// Execute runs one command line and reports whether the console should quit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "list", "ls":
		err = c.cmdList(args)
	case "get":
		err = c.cmdGet(args)
	case "set":
		err = c.cmdSet(ctx, args)
	case "poll":
		err = c.cmdPoll(ctx, args)
	case "track":
		err = c.cmdTrack(ctx, args)
	case "untrack":
		err = c.cmdUntrack(ctx, args)
	case "samples":
		err = c.cmdSamples(args)
	case "window":
		err = c.cmdWindow(ctx, args)
	case "status":
		c.cmdStatus()
	case "history":
		err = c.cmdHistory(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}

	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `Commands:
  list [instrument]              - List instruments or one instrument's parameters
  get <instrument> <parameter>   - Show the latest display value
  set <instrument> <parameter> <value>
                                 - Set a parameter
  poll [instrument <parameter>]  - Run get commands (all when no arguments)
  track <instrument> <parameter> - Open a telemetry window on a parameter
  untrack <window>               - Close a telemetry window
  samples <window> [n]           - Show the last n samples of a window
  window <window> <minutes>      - Change a window retention
  status                         - Show bus connection status
  history [instrument] [n]       - Show journaled commands
  quit                           - Exit`)
}

func (c *Console) cmdList(args []string) error {
	if c.deps.Registry == nil {
		return errors.New("no instruments loaded")
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if len(args) == 0 {
		fmt.Fprintln(tw, "CATEGORY\tINSTRUMENT\tPARAMETERS")
		for _, inst := range c.deps.Registry.Instruments() {
			fmt.Fprintf(tw, "%s\t%s\t%d\n", inst.Category, inst.Name, len(inst.Parameters()))
		}
		return nil
	}

	inst, ok := c.deps.Registry.Instrument(args[0])
	if !ok {
		return fmt.Errorf("%s: %w", args[0], instrument.ErrUnknownInstrument)
	}
	fmt.Fprintln(tw, "PARAMETER\tKIND\tUNIT\tVALUE")
	for _, p := range inst.Parameters() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Kind, p.Unit, c.latestValue(p))
	}

	return nil
}

func (c *Console) cmdGet(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: get <instrument> <parameter>")
	}
	p, err := c.lookup(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s.%s = %s\n", args[0], p.Name, c.latestValue(p))

	return nil
}

func (c *Console) cmdSet(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return errors.New("usage: set <instrument> <parameter> <value>")
	}
	if c.deps.Set == nil {
		return errors.New("set is not available")
	}
	value := strings.Join(args[2:], " ")
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := c.deps.Set(callCtx, args[0], args[1], value); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s.%s <- %s\n", args[0], args[1], value)

	return nil
}

func (c *Console) cmdPoll(ctx context.Context, args []string) error {
	if c.deps.Registry == nil {
		return errors.New("no instruments loaded")
	}
	switch len(args) {
	case 0:
		return c.call(ctx, func() error {
			c.deps.Registry.PollAll()
			return nil
		})
	case 2:
		p, err := c.lookup(args[0], args[1])
		if err != nil {
			return err
		}
		if err := c.call(ctx, func() error {
			c.deps.Registry.Poll(p)
			return nil
		}); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s.%s = %s\n", args[0], p.Name, c.latestValue(p))
		return nil
	default:
		return errors.New("usage: poll [instrument <parameter>]")
	}
}

func (c *Console) cmdTrack(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: track <instrument> <parameter>")
	}
	if c.deps.Board == nil {
		return errors.New("telemetry board is not available")
	}
	p, err := c.lookup(args[0], args[1])
	if err != nil {
		return err
	}
	if p.Kind != instrument.KindDisplay {
		return fmt.Errorf("%s.%s is not a display parameter", args[0], p.Name)
	}

	var w *telemetry.Window
	if err := c.call(ctx, func() error {
		w = c.deps.Board.Add()
		w.Track(p)
		return nil
	}); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "window %d tracking %s\n", w.ID(), w.Title())

	return nil
}

func (c *Console) cmdUntrack(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: untrack <window>")
	}
	id, err := c.windowID(args[0])
	if err != nil {
		return err
	}

	removed := false
	if err := c.call(ctx, func() error {
		removed = c.deps.Board.Remove(id)
		return nil
	}); err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("window %d not found", id)
	}
	fmt.Fprintf(c.out, "window %d closed\n", id)

	return nil
}

func (c *Console) cmdSamples(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: samples <window> [n]")
	}
	w, err := c.window(args[0])
	if err != nil {
		return err
	}
	n := defaultSamples
	if len(args) == 2 {
		if n, err = strconv.Atoi(args[1]); err != nil || n <= 0 {
			return fmt.Errorf("invalid sample count %q", args[1])
		}
	}

	samples := w.Samples()
	if len(samples) > n {
		samples = samples[len(samples)-n:]
	}
	fmt.Fprintf(c.out, "%s: %d samples, latest %q\n", w.Title(), w.Len(), w.Latest())
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(tw, "ELAPSED_S\tVALUE")
	for _, s := range samples {
		fmt.Fprintf(tw, "%s\t%s\n", codec.FormatFloat(s.Elapsed), codec.FormatFloat(s.Value))
	}

	return nil
}

func (c *Console) cmdWindow(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: window <window> <minutes>")
	}
	w, err := c.window(args[0])
	if err != nil {
		return err
	}
	d, err := telemetry.ParseWindowMinutes(args[1])
	if err != nil {
		return err
	}
	if err := c.call(ctx, func() error { return w.SetWindow(d) }); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "window %d retention set to %s\n", w.ID(), d)

	return nil
}

func (c *Console) cmdStatus() {
	status := connectors.ConnectionStatus{State: connectors.ConnectionStateDisconnected}
	if c.deps.ConnStatus != nil {
		status = c.deps.ConnStatus()
	}
	line := fmt.Sprintf("bus: %s %s", status.Backend, status.State)
	if status.Target != "" {
		line += " (" + status.Target + ")"
	}
	if status.Err != "" {
		line += ": " + status.Err
	}
	fmt.Fprintln(c.out, line)
	if c.deps.Dropped != nil {
		fmt.Fprintf(c.out, "relay dropped: %d\n", c.deps.Dropped())
	}
}

func (c *Console) cmdHistory(ctx context.Context, args []string) error {
	if c.deps.History == nil {
		return errors.New("journal is disabled")
	}
	instrumentName, limit := "", defaultHistory
	for _, arg := range args {
		if n, err := strconv.Atoi(arg); err == nil {
			limit = n
			continue
		}
		instrumentName = arg
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	results, err := c.deps.History.RecentCommands(callCtx, instrumentName, limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(tw, "TIME\tINSTRUMENT\tPARAMETER\tINPUT\tRESULT")
	for _, res := range results {
		outcome := "ok"
		if !res.OK() {
			outcome = res.Kind + ": " + res.Err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			res.Timestamp.Local().Format(time.DateTime), res.Instrument, res.Parameter, res.Input, outcome)
	}

	return nil
}

func (c *Console) lookup(instrumentName, parameter string) (*instrument.Parameter, error) {
	if c.deps.Registry == nil {
		return nil, errors.New("no instruments loaded")
	}

	return c.deps.Registry.Lookup(instrumentName, parameter)
}

func (c *Console) windowID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid window id %q", arg)
	}
	if c.deps.Board == nil {
		return 0, errors.New("telemetry board is not available")
	}

	return id, nil
}

func (c *Console) window(arg string) (*telemetry.Window, error) {
	id, err := c.windowID(arg)
	if err != nil {
		return nil, err
	}
	w, ok := c.deps.Board.Window(id)
	if !ok {
		return nil, fmt.Errorf("window %d not found", id)
	}

	return w, nil
}

func (c *Console) latestValue(p *instrument.Parameter) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.latest[p]; ok {
		return v
	}

	return "-"
}

// call runs fn on the consumer goroutine, or inline without an executor.
func (c *Console) call(ctx context.Context, fn func() error) error {
	if c.deps.Executor == nil {
		return fn()
	}
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	return c.deps.Executor.Call(callCtx, fn)
}
