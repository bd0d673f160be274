// Package telemetry keeps bounded, prunable histories of parameter updates
// for plotting.
package telemetry

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cortexlab/cortex/internal/instrument"
)

const DefaultWindow = 7200 * time.Second

var (
	numberPattern = regexp.MustCompile(`[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`)
	tagPattern    = regexp.MustCompile(`<[^>]*>`)
)

// Sample is one recorded value, Elapsed seconds after tracking started.
type Sample struct {
	Elapsed float64
	Value   float64
}

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

type Window struct {
	id  int
	now Clock

	mu       sync.Mutex
	window   time.Duration
	param    *instrument.Parameter
	token    instrument.Token
	start    time.Time
	samples  []Sample
	latest   string
	paused   bool
	listener func(*Window)

	// pending is applied by the next Prune.
	pending    time.Duration
	hasPending bool
}

func NewWindow(id int, window time.Duration, now Clock) *Window {
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}

	return &Window{id: id, window: window, now: now}
}

func (w *Window) ID() int {
	return w.id
}

// SetListener registers fn to be called after the window content changes. It
// runs on the goroutine that caused the change.
func (w *Window) SetListener(fn func(*Window)) {
	w.mu.Lock()
	w.listener = fn
	w.mu.Unlock()
}

// Track replaces whatever the window followed before with p, clearing the
// samples and restarting the elapsed clock.
func (w *Window) Track(p *instrument.Parameter) {
	w.Untrack()
	if p == nil {
		return
	}

	token := p.Attach(w.Record)

	w.mu.Lock()
	w.param = p
	w.token = token
	w.samples = nil
	w.latest = ""
	w.start = w.now()
	w.mu.Unlock()
	w.changed()
}

// Untrack detaches exactly this window's observer and drops the samples.
// Calling it on an idle window is a no-op.
func (w *Window) Untrack() {
	w.mu.Lock()
	p, token := w.param, w.token
	if p == nil {
		w.mu.Unlock()
		return
	}
	w.param = nil
	w.token = 0
	w.samples = nil
	w.latest = ""
	w.mu.Unlock()

	p.Detach(token)
	w.changed()
}

func (w *Window) Parameter() *instrument.Parameter {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.param
}

// Record is the observer attached to the tracked parameter. Non-numeric text
// only updates the latest value.
func (w *Window) Record(value string) {
	text := strings.TrimSpace(tagPattern.ReplaceAllString(value, ""))

	w.mu.Lock()
	w.latest = text
	if w.paused || w.param == nil {
		w.mu.Unlock()
		w.changed()
		return
	}
	if v, ok := parseNumeric(text); ok {
		w.samples = append(w.samples, Sample{Elapsed: w.elapsed(w.now()), Value: v})
	}
	w.mu.Unlock()
	w.changed()
}

func parseNumeric(text string) (float64, bool) {
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		return v, true
	}
	match := numberPattern.FindString(text)
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}

func (w *Window) elapsed(now time.Time) float64 {
	return now.Sub(w.start).Seconds()
}

// Prune drops samples older than the retention window relative to now. A
// pending SetWindow takes effect here.
func (w *Window) Prune(now time.Time) int {
	w.mu.Lock()
	if w.hasPending {
		w.window = w.pending
		w.hasPending = false
	}
	if len(w.samples) == 0 {
		w.mu.Unlock()
		return 0
	}

	cutoff := w.elapsed(now) - w.window.Seconds()
	idx := sort.Search(len(w.samples), func(i int) bool {
		return w.samples[i].Elapsed >= cutoff
	})
	if idx > 0 {
		w.samples = append([]Sample(nil), w.samples[idx:]...)
	}
	w.mu.Unlock()

	if idx > 0 {
		w.changed()
	}

	return idx
}

// SetWindow schedules a new retention window for the next prune.
func (w *Window) SetWindow(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("window must not be negative, got %s", d)
	}

	w.mu.Lock()
	w.pending = d
	w.hasPending = true
	w.mu.Unlock()

	return nil
}

func (w *Window) Retention() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.window
}

func (w *Window) Pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
}

func (w *Window) Resume() {
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
}

func (w *Window) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.paused
}

// Reset clears the samples and restarts the elapsed clock while keeping the
// tracked parameter.
func (w *Window) Reset() {
	w.mu.Lock()
	w.samples = nil
	w.start = w.now()
	w.mu.Unlock()
	w.changed()
}

func (w *Window) Samples() []Sample {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]Sample(nil), w.samples...)
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.samples)
}

func (w *Window) Latest() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.latest
}

// Title names the tracked parameter, or is empty when idle.
func (w *Window) Title() string {
	w.mu.Lock()
	p := w.param
	w.mu.Unlock()
	if p == nil {
		return ""
	}
	title := p.Instrument() + " - " + p.DisplayName()
	if p.Unit != "" {
		title += " (" + p.Unit + ")"
	}

	return title
}

func (w *Window) changed() {
	w.mu.Lock()
	fn := w.listener
	w.mu.Unlock()
	if fn != nil {
		fn(w)
	}
}

// ParseWindowMinutes converts user input in minutes into a retention window.
func ParseWindowMinutes(text string) (time.Duration, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, errors.New("window is empty")
	}
	minutes, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("window %q is not a number of minutes", text)
	}
	if minutes <= 0 {
		return 0, fmt.Errorf("window must be positive, got %g minutes", minutes)
	}

	return time.Duration(minutes * float64(time.Minute)), nil
}
