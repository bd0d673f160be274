package ui

import (
	"math"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/cortexlab/cortex/internal/codec"
	"github.com/cortexlab/cortex/internal/telemetry"
)

const (
	plotMinWidth  float32 = 360
	plotMinHeight float32 = 180
	plotInset     float32 = 4
)

// plotWidget draws samples as a polyline scaled to the widget bounds.
type plotWidget struct {
	widget.BaseWidget

	mu      sync.Mutex
	samples []telemetry.Sample
}

func newPlotWidget() *plotWidget {
	p := &plotWidget{}
	p.ExtendBaseWidget(p)

	return p
}

func (p *plotWidget) SetSamples(samples []telemetry.Sample) {
	p.mu.Lock()
	p.samples = samples
	p.mu.Unlock()
	p.Refresh()
}

func (p *plotWidget) snapshot() []telemetry.Sample {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.samples
}

func (p *plotWidget) CreateRenderer() fyne.WidgetRenderer {
	r := &plotRenderer{
		plot:       p,
		background: canvas.NewRectangle(theme.Color(theme.ColorNameInputBackground)),
		minLabel:   canvas.NewText("", theme.Color(theme.ColorNameForeground)),
		maxLabel:   canvas.NewText("", theme.Color(theme.ColorNameForeground)),
	}
	r.minLabel.TextSize = theme.CaptionTextSize()
	r.maxLabel.TextSize = theme.CaptionTextSize()

	return r
}

type plotRenderer struct {
	plot       *plotWidget
	background *canvas.Rectangle
	minLabel   *canvas.Text
	maxLabel   *canvas.Text
	lines      []*canvas.Line
	size       fyne.Size
}

func (r *plotRenderer) Layout(size fyne.Size) {
	r.size = size
	r.background.Resize(size)
	r.rebuild()
}

func (r *plotRenderer) MinSize() fyne.Size {
	return fyne.NewSize(plotMinWidth, plotMinHeight)
}

func (r *plotRenderer) Refresh() {
	r.background.FillColor = theme.Color(theme.ColorNameInputBackground)
	r.background.Refresh()
	r.rebuild()
}

func (r *plotRenderer) Objects() []fyne.CanvasObject {
	objects := make([]fyne.CanvasObject, 0, len(r.lines)+3)
	objects = append(objects, r.background)
	for _, line := range r.lines {
		objects = append(objects, line)
	}

	return append(objects, r.minLabel, r.maxLabel)
}

func (r *plotRenderer) Destroy() {}

func (r *plotRenderer) rebuild() {
	samples := decimate(r.plot.snapshot(), int(r.size.Width))
	width := r.size.Width - 2*plotInset
	height := r.size.Height - 2*plotInset
	points := plotPoints(samples, width, height)

	segments := len(points) - 1
	if segments < 0 {
		segments = 0
	}
	lineColor := theme.Color(theme.ColorNamePrimary)
	for len(r.lines) < segments {
		line := canvas.NewLine(lineColor)
		line.StrokeWidth = 1.5
		r.lines = append(r.lines, line)
	}
	r.lines = r.lines[:segments]
	for i, line := range r.lines {
		line.StrokeColor = lineColor
		line.Position1 = points[i].AddXY(plotInset, plotInset)
		line.Position2 = points[i+1].AddXY(plotInset, plotInset)
		line.Refresh()
	}

	low, high, ok := valueRange(samples)
	if !ok {
		r.minLabel.Text, r.maxLabel.Text = "", ""
	} else {
		r.minLabel.Text = codec.FormatFloat(low)
		r.maxLabel.Text = codec.FormatFloat(high)
	}
	r.maxLabel.Move(fyne.NewPos(plotInset, plotInset))
	r.minLabel.Move(fyne.NewPos(plotInset, r.size.Height-plotInset-r.minLabel.MinSize().Height))
	r.minLabel.Refresh()
	r.maxLabel.Refresh()
}

// plotPoints maps samples onto a width x height area with the origin at the
// top left. A flat series is drawn through the vertical middle.
func plotPoints(samples []telemetry.Sample, width, height float32) []fyne.Position {
	if len(samples) == 0 || width <= 0 || height <= 0 {
		return nil
	}

	first, last := samples[0].Elapsed, samples[len(samples)-1].Elapsed
	xSpan := last - first
	low, high, _ := valueRange(samples)
	ySpan := high - low

	points := make([]fyne.Position, len(samples))
	for i, s := range samples {
		x := float32(0)
		if xSpan > 0 {
			x = float32((s.Elapsed - first) / xSpan * float64(width))
		}
		y := height / 2
		if ySpan > 0 {
			y = height - float32((s.Value-low)/ySpan*float64(height))
		}
		points[i] = fyne.NewPos(x, y)
	}

	return points
}

func valueRange(samples []telemetry.Sample) (low, high float64, ok bool) {
	if len(samples) == 0 {
		return 0, 0, false
	}
	low, high = math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		low = math.Min(low, s.Value)
		high = math.Max(high, s.Value)
	}

	return low, high, true
}

// decimate keeps at most limit samples, always including the last one.
func decimate(samples []telemetry.Sample, limit int) []telemetry.Sample {
	if limit < 2 || len(samples) <= limit {
		return samples
	}
	step := float64(len(samples)-1) / float64(limit-1)
	out := make([]telemetry.Sample, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, samples[int(math.Round(float64(i)*step))])
	}

	return out
}
