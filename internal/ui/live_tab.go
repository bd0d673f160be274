package ui

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/widget"

	"github.com/cortexlab/cortex/internal/instrument"
	"github.com/cortexlab/cortex/internal/telemetry"
)

const liveRefreshInterval = 500 * time.Millisecond

type plotPanel struct {
	window   *telemetry.Window
	plot     *plotWidget
	title    *widget.Label
	latest   *widget.Label
	selector *widget.Select
	root     fyne.CanvasObject
}

type liveTab struct {
	dep     Dependencies
	window  fyne.Window
	list    *fyne.Container
	content fyne.CanvasObject

	mu      sync.Mutex
	panels  []*plotPanel
	options map[string]*instrument.Parameter
	labels  []string
}

func newLiveTab(dep Dependencies, window fyne.Window) *liveTab {
	t := &liveTab{dep: dep, window: window, list: container.NewVBox()}
	t.reloadOptions()

	addButton := widget.NewButton("Add plot", t.addPanel)
	if dep.Data.Board == nil {
		addButton.Disable()
	}
	toolbar := container.NewHBox(layout.NewSpacer(), addButton)
	t.content = container.NewBorder(toolbar, nil, nil, nil, container.NewVScroll(t.list))

	return t
}

func (t *liveTab) Content() fyne.CanvasObject {
	return t.content
}

// OnShow refreshes the parameter choices of every panel.
func (t *liveTab) OnShow() {
	t.reloadOptions()
	t.mu.Lock()
	labels := t.labels
	panels := append([]*plotPanel(nil), t.panels...)
	t.mu.Unlock()
	for _, panel := range panels {
		panel.selector.SetOptions(labels)
	}
}

func (t *liveTab) reloadOptions() {
	if t.dep.Data.Registry == nil {
		return
	}
	labels, options := trackOptions(telemetry.Trackable(t.dep.Data.Registry.Instruments()))
	t.mu.Lock()
	t.labels = labels
	t.options = options
	t.mu.Unlock()
}

func (t *liveTab) addPanel() {
	w := t.dep.Data.Board.Add()
	panel := &plotPanel{
		window: w,
		plot:   newPlotWidget(),
		title:  widget.NewLabelWithStyle("Select a parameter", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		latest: widget.NewLabel(""),
	}

	t.mu.Lock()
	labels := t.labels
	t.mu.Unlock()
	panel.selector = widget.NewSelect(labels, func(label string) {
		t.mu.Lock()
		p := t.options[label]
		t.mu.Unlock()
		if p == nil {
			return
		}
		t.run(func() { w.Track(p) })
	})

	windowEntry := widget.NewEntry()
	windowEntry.SetText(strconv.FormatFloat(w.Retention().Minutes(), 'f', -1, 64))
	windowEntry.OnSubmitted = func(text string) {
		d, err := telemetry.ParseWindowMinutes(text)
		if err != nil {
			dialog.ShowError(err, t.window)
			return
		}
		t.run(func() {
			if err := w.SetWindow(d); err != nil {
				appLogger.Warn("set plot window failed", "window", w.ID(), "error", err)
			}
		})
	}

	var pauseButton *widget.Button
	pauseButton = widget.NewButton("Pause", func() {
		if w.Paused() {
			w.Resume()
			pauseButton.SetText("Pause")
			return
		}
		w.Pause()
		pauseButton.SetText("Resume")
	})
	resetButton := widget.NewButton("Reset", func() {
		t.run(w.Reset)
	})
	removeButton := widget.NewButton("Remove", func() {
		t.removePanel(panel)
	})

	controls := container.NewHBox(
		panel.selector,
		widget.NewLabel("Window, min"),
		container.NewGridWrap(fyne.NewSize(80, windowEntry.MinSize().Height), windowEntry),
		layout.NewSpacer(),
		pauseButton,
		resetButton,
		removeButton,
	)
	header := container.NewBorder(nil, nil, panel.title, panel.latest)
	panel.root = widget.NewCard("", "", container.NewBorder(container.NewVBox(header, controls), nil, nil, nil, panel.plot))

	t.mu.Lock()
	t.panels = append(t.panels, panel)
	t.mu.Unlock()
	t.list.Add(panel.root)
	appLogger.Debug("plot added", "window", w.ID())
}

func (t *liveTab) removePanel(panel *plotPanel) {
	t.mu.Lock()
	for i, p := range t.panels {
		if p == panel {
			t.panels = append(t.panels[:i:i], t.panels[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	id := panel.window.ID()
	t.run(func() { t.dep.Data.Board.Remove(id) })
	t.list.Remove(panel.root)
	appLogger.Debug("plot removed", "window", id)
}

// run executes fn on the consumer goroutine so observer chains only change
// between deliveries.
func (t *liveTab) run(fn func()) {
	if t.dep.Data.Executor == nil {
		fn()
		return
	}
	if err := t.dep.Data.Executor.Do(fn); err != nil {
		appLogger.Warn("plot action dropped", "error", err)
	}
}

// Start redraws every panel on a ticker until the returned func is called.
func (t *liveTab) Start() func() {
	done := make(chan struct{})
	var stopOnce sync.Once

	go func() {
		ticker := time.NewTicker(liveRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				t.refresh()
			}
		}
	}()

	return func() {
		stopOnce.Do(func() { close(done) })
	}
}

type panelFrame struct {
	panel   *plotPanel
	title   string
	latest  string
	samples []telemetry.Sample
}

func (t *liveTab) refresh() {
	t.mu.Lock()
	panels := append([]*plotPanel(nil), t.panels...)
	t.mu.Unlock()
	if len(panels) == 0 {
		return
	}

	frames := make([]panelFrame, 0, len(panels))
	for _, panel := range panels {
		frames = append(frames, panelFrame{
			panel:   panel,
			title:   panel.window.Title(),
			latest:  panel.window.Latest(),
			samples: panel.window.Samples(),
		})
	}

	fyne.Do(func() {
		for _, f := range frames {
			if f.title != "" {
				f.panel.title.SetText(f.title)
			}
			f.panel.latest.SetText(f.latest)
			f.panel.plot.SetSamples(f.samples)
		}
	})
}

// trackOptions labels each parameter as "instrument - name (unit)", sorted.
func trackOptions(params []*instrument.Parameter) ([]string, map[string]*instrument.Parameter) {
	options := make(map[string]*instrument.Parameter, len(params))
	labels := make([]string, 0, len(params))
	for _, p := range params {
		label := p.Instrument() + " - " + parameterLabel(p)
		if _, dup := options[label]; dup {
			continue
		}
		options[label] = p
		labels = append(labels, label)
	}
	sort.Strings(labels)

	return labels, options
}
