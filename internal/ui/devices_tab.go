package ui

import (
	"context"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/widget"

	"github.com/cortexlab/cortex/internal/instrument"
)

const setTimeout = 5 * time.Second

type categoryGroup struct {
	Name        string
	Instruments []*instrument.Instrument
}

type attachedObserver struct {
	param *instrument.Parameter
	token instrument.Token
}

type devicesTab struct {
	dep     Dependencies
	window  fyne.Window
	content fyne.CanvasObject

	mu       sync.Mutex
	attached []attachedObserver
	stopOnce sync.Once
}

func newDevicesTab(dep Dependencies, window fyne.Window) *devicesTab {
	t := &devicesTab{dep: dep, window: window}
	t.content = t.build()

	return t
}

func (t *devicesTab) Content() fyne.CanvasObject {
	return t.content
}

func (t *devicesTab) build() fyne.CanvasObject {
	if t.dep.Data.Registry == nil {
		return container.NewCenter(widget.NewLabel("No instruments loaded"))
	}
	groups := groupByCategory(t.dep.Data.Registry.Instruments())
	if len(groups) == 0 {
		return container.NewCenter(widget.NewLabel("No instruments loaded"))
	}

	list := container.NewVBox()
	for _, group := range groups {
		list.Add(widget.NewLabelWithStyle(group.Name, fyne.TextAlignLeading, fyne.TextStyle{Bold: true}))
		for _, inst := range group.Instruments {
			list.Add(t.instrumentCard(inst))
		}
	}

	pollButton := widget.NewButton("Poll all", t.pollAll)
	toolbar := container.NewHBox(layout.NewSpacer(), pollButton)

	return container.NewBorder(toolbar, nil, nil, nil, container.NewVScroll(list))
}

func (t *devicesTab) instrumentCard(inst *instrument.Instrument) fyne.CanvasObject {
	form := container.New(layout.NewFormLayout())
	for _, p := range inst.Parameters() {
		form.Add(widget.NewLabel(parameterLabel(p)))
		form.Add(t.parameterControl(inst.Name, p))
	}

	return widget.NewCard(inst.Name, "", form)
}

func (t *devicesTab) parameterControl(instrumentName string, p *instrument.Parameter) fyne.CanvasObject {
	switch p.Kind {
	case instrument.KindDisplay:
		value := widget.NewLabel("-")
		t.attach(p, func(v string) {
			fyne.Do(func() { value.SetText(v) })
		})
		return value
	case instrument.KindBool:
		return widget.NewCheck("", func(on bool) {
			t.submit(instrumentName, p.Name, on)
		})
	default:
		entry := widget.NewEntry()
		entry.SetPlaceHolder(p.Kind.String())
		entry.OnSubmitted = func(text string) {
			t.submit(instrumentName, p.Name, text)
		}
		setButton := widget.NewButton("Set", func() {
			t.submit(instrumentName, p.Name, entry.Text)
		})
		return container.NewBorder(nil, nil, nil, setButton, entry)
	}
}

// attach adds obs to p on the consumer goroutine.
func (t *devicesTab) attach(p *instrument.Parameter, obs instrument.Observer) {
	attach := func() {
		token := p.Attach(obs)
		t.mu.Lock()
		t.attached = append(t.attached, attachedObserver{param: p, token: token})
		t.mu.Unlock()
	}
	if t.dep.Data.Executor == nil {
		attach()
		return
	}
	if err := t.dep.Data.Executor.Do(attach); err != nil {
		appLogger.Warn("attach display observer failed", "instrument", p.Instrument(), "parameter", p.Name, "error", err)
	}
}

func (t *devicesTab) submit(instrumentName, parameter string, raw any) {
	if t.dep.Actions.OnSet == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), setTimeout)
		defer cancel()
		if err := t.dep.Actions.OnSet(ctx, instrumentName, parameter, raw); err != nil {
			appLogger.Warn("parameter set failed", "instrument", instrumentName, "parameter", parameter, "error", err)
			fyne.Do(func() { dialog.ShowError(err, t.window) })
		}
	}()
}

func (t *devicesTab) pollAll() {
	if t.dep.Data.Executor == nil || t.dep.Data.Registry == nil {
		return
	}
	if err := t.dep.Data.Executor.Do(t.dep.Data.Registry.PollAll); err != nil {
		appLogger.Warn("poll failed", "error", err)
	}
}

// Stop detaches every display observer added by the tab.
func (t *devicesTab) Stop() {
	t.stopOnce.Do(func() {
		detach := func() {
			t.mu.Lock()
			attached := t.attached
			t.attached = nil
			t.mu.Unlock()
			for _, a := range attached {
				a.param.Detach(a.token)
			}
		}
		if t.dep.Data.Executor == nil || t.dep.Data.Executor.Do(detach) != nil {
			detach()
		}
	})
}

// groupByCategory keeps the input order, which the registry sorts by
// category then name.
func groupByCategory(instruments []*instrument.Instrument) []categoryGroup {
	var groups []categoryGroup
	for _, inst := range instruments {
		if n := len(groups); n > 0 && groups[n-1].Name == inst.Category {
			groups[n-1].Instruments = append(groups[n-1].Instruments, inst)
			continue
		}
		groups = append(groups, categoryGroup{Name: inst.Category, Instruments: []*instrument.Instrument{inst}})
	}

	return groups
}

func parameterLabel(p *instrument.Parameter) string {
	if p.Unit == "" {
		return p.DisplayName()
	}

	return p.DisplayName() + " (" + p.Unit + ")"
}
