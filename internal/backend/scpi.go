package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cortexlab/cortex/internal/transport"
)

const (
	scpiWriteTimeout = 3 * time.Second
	scpiQueryTimeout = 5 * time.Second
	maxBackoff       = 15 * time.Second
)

// Link keeps a transport connected, reconnecting with exponential backoff,
// and serialises SCPI traffic over it.
type Link struct {
	logger    *slog.Logger
	transport transport.Transport

	mu        sync.Mutex
	connected bool
	lost      chan struct{}
}

func NewLink(tr transport.Transport, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}

	return &Link{
		logger:    logger.With("component", "scpi", "transport", tr.Name()),
		transport: tr,
		lost:      make(chan struct{}, 1),
	}
}

// Run connects the transport and reconnects after failures until ctx ends.
func (l *Link) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			l.disconnect()
			return
		}

		if err := l.transport.Connect(ctx); err != nil {
			l.logger.Error("instrument connect failed", "error", err, "retry_in", backoff)
			if !sleepWithContext(ctx, backoff) {
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		l.setConnected(true)
		l.logger.Info("instrument connected")

		select {
		case <-ctx.Done():
			l.disconnect()
			return
		case <-l.lost:
		}

		l.disconnect()
		l.logger.Warn("instrument link lost", "retry_in", backoff)
		if !sleepWithContext(ctx, backoff) {
			return
		}
	}
}

func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.connected
}

func (l *Link) setConnected(v bool) {
	l.mu.Lock()
	l.connected = v
	l.mu.Unlock()
}

func (l *Link) disconnect() {
	l.setConnected(false)
	_ = l.transport.Close()
}

func (l *Link) markLost() {
	select {
	case l.lost <- struct{}{}:
	default:
	}
}

// Write sends one command line.
func (l *Link) Write(ctx context.Context, cmd string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return transport.ErrNotConnected
	}

	writeCtx, cancel := context.WithTimeout(ctx, scpiWriteTimeout)
	defer cancel()
	if err := l.transport.WriteFrame(writeCtx, []byte(cmd)); err != nil {
		l.markLost()
		return fmt.Errorf("scpi write %q: %w", cmd, err)
	}
	l.logger.Debug("scpi write", "command", cmd)

	return nil
}

// Query sends a command and reads one reply line.
func (l *Link) Query(ctx context.Context, cmd string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return "", transport.ErrNotConnected
	}

	queryCtx, cancel := context.WithTimeout(ctx, scpiQueryTimeout)
	defer cancel()
	if err := l.transport.WriteFrame(queryCtx, []byte(cmd)); err != nil {
		l.markLost()
		return "", fmt.Errorf("scpi query %q: %w", cmd, err)
	}
	reply, err := l.transport.ReadFrame(queryCtx)
	if err != nil {
		l.markLost()
		return "", fmt.Errorf("scpi reply to %q: %w", cmd, err)
	}

	return strings.TrimSpace(string(reply)), nil
}

func (l *Link) QueryFloat(ctx context.Context, cmd string) (float64, error) {
	reply, err := l.Query(ctx, cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(reply, 64)
	if err != nil {
		return 0, fmt.Errorf("scpi reply to %q is not numeric: %q", cmd, reply)
	}

	return v, nil
}

// Commander is the subset of Link the SCPI drivers use.
type Commander interface {
	Write(ctx context.Context, cmd string) error
	QueryFloat(ctx context.Context, cmd string) (float64, error)
}

// RigolPowerSupply drives DP800-series supplies.
type RigolPowerSupply struct {
	cmd Commander
}

func NewRigolPowerSupply(cmd Commander) *RigolPowerSupply {
	return &RigolPowerSupply{cmd: cmd}
}

func (p *RigolPowerSupply) SetVoltage(ctx context.Context, channel int, volts float64) error {
	return p.cmd.Write(ctx, fmt.Sprintf(":SOUR%d:VOLT %s", channel, scpiNumber(volts)))
}

func (p *RigolPowerSupply) Enable(ctx context.Context, channel int) error {
	return p.cmd.Write(ctx, fmt.Sprintf(":OUTP CH%d, ON", channel))
}

func (p *RigolPowerSupply) Disable(ctx context.Context, channel int) error {
	return p.cmd.Write(ctx, fmt.Sprintf(":OUTP CH%d, OFF", channel))
}

func (p *RigolPowerSupply) MeasureVoltage(ctx context.Context, channel int) (float64, error) {
	return p.cmd.QueryFloat(ctx, fmt.Sprintf(":MEAS:VOLT? CH%d", channel))
}

// SCPIGenerator drives TG-series function generators.
type SCPIGenerator struct {
	cmd Commander
}

func NewSCPIGenerator(cmd Commander) *SCPIGenerator {
	return &SCPIGenerator{cmd: cmd}
}

func (g *SCPIGenerator) SetFrequency(ctx context.Context, hz float64) error {
	return g.cmd.Write(ctx, "FREQ "+scpiNumber(hz))
}

func (g *SCPIGenerator) SetAmplitude(ctx context.Context, vpp float64) error {
	return g.cmd.Write(ctx, "AMPL "+scpiNumber(vpp))
}

func (g *SCPIGenerator) SetOutput(ctx context.Context, on bool) error {
	if on {
		return g.cmd.Write(ctx, "OUTPUT ON")
	}

	return g.cmd.Write(ctx, "OUTPUT OFF")
}

func scpiNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var errUnknownChannel = errors.New("channel is not configured")

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
