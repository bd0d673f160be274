// Package logging configures the process-wide slog logger and hands out
// per-component loggers.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cortexlab/cortex/internal/config"
)

// Manager owns the logger configuration and the rotating log file.
type Manager struct {
	mu      sync.RWMutex
	logger  *slog.Logger
	level   *slog.LevelVar
	rotator *lumberjack.Logger
	stdout  io.Writer
}

func NewManager() *Manager {
	return newManager(os.Stdout)
}

func newManager(stdout io.Writer) *Manager {
	level := &slog.LevelVar{}
	level.Set(slog.LevelInfo)

	return &Manager{
		logger: slog.New(slog.NewTextHandler(stdout, &slog.HandlerOptions{Level: level})),
		level:  level,
		stdout: stdout,
	}
}

// Configure rebuilds the handler. With LogToFile set, records go to stdout and
// to a size-rotated file at filePath.
func (m *Manager) Configure(cfg config.LoggingConfig, filePath string) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rotator != nil {
		_ = m.rotator.Close()
		m.rotator = nil
	}

	writer := m.stdout
	if cfg.LogToFile {
		cleanPath := filepath.Clean(filePath)
		if err := os.MkdirAll(filepath.Dir(cleanPath), 0o750); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		m.rotator = &lumberjack.Logger{
			Filename:   cleanPath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		writer = newFanoutWriter(m.stdout, m.rotator)
	}

	m.level.Set(level)
	m.logger = slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: m.level}))
	slog.SetDefault(m.logger)

	return nil
}

// SetLevel changes the level of every logger handed out so far.
func (m *Manager) SetLevel(raw string) error {
	level, err := parseLevel(raw)
	if err != nil {
		return err
	}
	m.level.Set(level)

	return nil
}

func (m *Manager) Logger(component string) *slog.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.logger.With("component", component)
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rotator != nil {
		if err := m.rotator.Close(); err != nil {
			return err
		}
		m.rotator = nil
	}

	return nil
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level: %q", raw)
	}
}

// fanoutWriter succeeds when at least one destination accepted the write.
type fanoutWriter struct {
	writers []io.Writer
}

func newFanoutWriter(writers ...io.Writer) io.Writer {
	filtered := make([]io.Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			filtered = append(filtered, w)
		}
	}

	return &fanoutWriter{writers: filtered}
}

func (w *fanoutWriter) Write(p []byte) (int, error) {
	var firstErr error
	wroteAny := false
	for _, dst := range w.writers {
		n, err := dst.Write(p)
		switch {
		case err != nil:
			if firstErr == nil {
				firstErr = err
			}
		case n != len(p):
			if firstErr == nil {
				firstErr = io.ErrShortWrite
			}
		default:
			wroteAny = true
		}
	}

	if wroteAny || firstErr == nil {
		return len(p), nil
	}

	return 0, firstErr
}
