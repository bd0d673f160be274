package telemetry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cortexlab/cortex/internal/instrument"
	"github.com/cortexlab/cortex/internal/metrics"
)

// trackableWords are the quantities worth plotting.
var trackableWords = []string{
	"frequency",
	"amplitude",
	"count",
	"voltage",
	"current",
	"power",
	"temperature",
	"pressure",
	"reading",
	"sigma",
}

type Option func(*Board)

func WithClock(now Clock) Option {
	return func(b *Board) {
		if now != nil {
			b.now = now
		}
	}
}

// Board is the set of windows shown on the live page.
type Board struct {
	mu      sync.RWMutex
	windows []*Window
	nextID  int

	window  time.Duration
	now     Clock
	metrics *metrics.Metrics
}

func NewBoard(window time.Duration, m *metrics.Metrics, opts ...Option) *Board {
	if window <= 0 {
		window = DefaultWindow
	}
	b := &Board{window: window, now: time.Now, metrics: m}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *Board) Now() time.Time {
	return b.now()
}

// Add creates an idle window with the board default retention.
func (b *Board) Add() *Window {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	w := NewWindow(b.nextID, b.window, b.now)
	b.windows = append(b.windows, w)

	return w
}

// SetDefaultWindow changes the retention of windows added from now on.
// Existing windows keep theirs until SetWindow is called on them.
func (b *Board) SetDefaultWindow(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("default window must be positive, got %s", d)
	}
	b.mu.Lock()
	b.window = d
	b.mu.Unlock()

	return nil
}

func (b *Board) DefaultWindow() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.window
}

// Remove untracks and drops the window with the given id.
func (b *Board) Remove(id int) bool {
	b.mu.Lock()
	var removed *Window
	for i, w := range b.windows {
		if w.ID() == id {
			removed = w
			b.windows = append(b.windows[:i:i], b.windows[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	if removed == nil {
		return false
	}
	removed.Untrack()

	return true
}

func (b *Board) Window(id int) (*Window, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, w := range b.windows {
		if w.ID() == id {
			return w, true
		}
	}

	return nil, false
}

func (b *Board) Windows() []*Window {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return append([]*Window(nil), b.windows...)
}

// PruneAll prunes every window and returns the number of evicted samples.
func (b *Board) PruneAll(now time.Time) int {
	evicted := 0
	tracked, buffered := 0, 0
	for _, w := range b.Windows() {
		evicted += w.Prune(now)
		if w.Parameter() != nil {
			tracked++
		}
		buffered += w.Len()
	}
	b.metrics.SetTelemetry(tracked, buffered)

	return evicted
}

// Trackable lists read-only display parameters whose name or label names a
// plottable quantity.
func Trackable(instruments []*instrument.Instrument) []*instrument.Parameter {
	var out []*instrument.Parameter
	for _, inst := range instruments {
		for _, p := range inst.Parameters() {
			if p.Kind != instrument.KindDisplay {
				continue
			}
			if plottable(p.Name) || plottable(p.Label) {
				out = append(out, p)
			}
		}
	}

	return out
}

func plottable(text string) bool {
	text = strings.ToLower(text)
	for _, word := range trackableWords {
		if strings.Contains(text, word) {
			return true
		}
	}

	return false
}
