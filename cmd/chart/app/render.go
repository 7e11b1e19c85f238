package app

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"
)

const (
	dpi            = 96.0
	fontSize       = 10.0
	tickMarkLength = 5
	pixelsPerLabel = 120.0

	// Default border sizes in pixels
	defaultTopBorder    = 36
	defaultLeftBorder   = 80
	defaultBottomBorder = 64
	defaultRightBorder  = 80

	defaultDatetimeFormat = time.DateTime
)

var (
	voltageColor  = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	controlColor  = color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff}
	filteredColor = color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff}
	gridColor     = color.RGBA{R: 0xe5, G: 0xe5, B: 0xe5, A: 0xff}
	axisColor     = color.Black
)

// ErrNothingToRender is returned when the chart has no samples
var ErrNothingToRender = errors.New("no samples to render")

// BorderConfig defines the sizes of white space around the plot
type BorderConfig struct {
	Top    int // Space for the legend
	Left   int // Space for the voltage scale
	Bottom int // Space for the time scale and information bar
	Right  int // Space for the control signal scale
}

// RenderConfig holds all configuration options for the chart
type RenderConfig struct {
	Width, Height int // Plot area, without borders

	DatetimeFormat string         // Format string for date/time display
	Location       *time.Location // Timezone for date/time display

	FontSize      float64
	NoAnnotations bool

	BorderConfig BorderConfig
}

// ChartRenderer draws voltage and control signal against device time.
// Voltage uses the left axis and the control signal the right one.
type ChartRenderer struct {
	config RenderConfig
}

// NewChartRenderer creates a renderer, filling zero values with defaults
func NewChartRenderer(config RenderConfig) (*ChartRenderer, error) {
	if config.Width <= 0 || config.Height <= 0 {
		return nil, errors.New("plot area size must be positive")
	}
	if config.DatetimeFormat == "" {
		config.DatetimeFormat = defaultDatetimeFormat
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}

	return &ChartRenderer{config: config}, nil
}

// plotArea maps device time and values to pixels
type plotArea struct {
	image.Rectangle
	t0, t1 int64
}

func (p plotArea) x(t int64) int {
	if p.t1 == p.t0 {
		return p.Min.X
	}
	ratio := float64(t-p.t0) / float64(p.t1-p.t0)
	return p.Min.X + int(math.Round(ratio*float64(p.Dx()-1)))
}

func (p plotArea) y(v float64, b Bounds) int {
	ratio := (v - b.Min) / (b.Max - b.Min)
	return p.Max.Y - 1 - int(math.Round(ratio*float64(p.Dy()-1)))
}

// Render creates an image of the chart data with annotations
func (r *ChartRenderer) Render(data *ChartData) (*image.RGBA, error) {
	if data.Len() == 0 {
		return nil, ErrNothingToRender
	}

	borders := r.config.BorderConfig
	fullWidth := r.config.Width + borders.Left + borders.Right
	fullHeight := r.config.Height + borders.Top + borders.Bottom
	img := image.NewRGBA(image.Rect(0, 0, fullWidth, fullHeight))

	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	t0, t1 := data.TimeRange()
	area := plotArea{
		Rectangle: image.Rect(borders.Left, borders.Top, borders.Left+r.config.Width, borders.Top+r.config.Height),
		t0:        t0,
		t1:        t1,
	}

	voltage := data.VoltageBounds.Padded()
	control := data.ControlBounds.Padded()

	r.drawGrid(img, area, voltage)

	if !r.config.NoAnnotations {
		ann, err := newAnnotator(annotatorConfig{
			DatetimeFormat: r.config.DatetimeFormat,
			Location:       r.config.Location,
			FontSize:       r.config.FontSize,
			Borders:        borders,
		})
		if err != nil {
			return nil, err
		}
		defer ann.Close()

		if err = ann.annotate(img, area, data, voltage, control); err != nil {
			return nil, err
		}
	}

	r.drawSeries(img, area, data.DeviceTimeMs, data.Control, control, controlColor)
	r.drawSeries(img, area, data.DeviceTimeMs, data.Voltage, voltage, voltageColor)
	if data.Filtered != nil {
		r.drawSeries(img, area, data.DeviceTimeMs, data.Filtered, voltage, filteredColor)
	}

	drawRect(img, area.Rectangle, axisColor)

	return img, nil
}

func (r *ChartRenderer) drawGrid(img *image.RGBA, area plotArea, voltage Bounds) {
	step := niceStep(voltage.Max-voltage.Min, area.Dy())
	for v := math.Ceil(voltage.Min/step) * step; v <= voltage.Max; v += step {
		y := area.y(v, voltage)
		drawLine(img, area.Min.X, y, area.Max.X-1, y, gridColor)
	}

	if area.t1 == area.t0 {
		return
	}
	tStep := max(int64(niceStep(float64(area.t1-area.t0), area.Dx())), 1)
	for t := area.t0 + tStep; t < area.t1; t += tStep {
		x := area.x(t)
		drawLine(img, x, area.Min.Y, x, area.Max.Y-1, gridColor)
	}
}

func (r *ChartRenderer) drawSeries(img *image.RGBA, area plotArea, times []int64, values []float64, b Bounds, c color.Color) {
	px, py := area.x(times[0]), area.y(values[0], b)
	img.Set(px, py, c)

	for i := 1; i < len(values); i++ {
		x, y := area.x(times[i]), area.y(values[i], b)
		drawLine(img, px, py, x, y, c)
		px, py = x, y
	}
}

// Helper functions

// drawLine draws a one pixel line from (x0, y0) to (x1, y1), Bresenham style
func drawLine(img draw.Image, x0, y0, x1, y1 int, c color.Color) {
	dx, sx := abs(x1-x0), 1
	if x0 > x1 {
		sx = -1
	}
	dy, sy := -abs(y1-y0), 1
	if y0 > y1 {
		sy = -1
	}

	e := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func drawRect(img draw.Image, r image.Rectangle, c color.Color) {
	drawLine(img, r.Min.X, r.Min.Y, r.Max.X-1, r.Min.Y, c)
	drawLine(img, r.Min.X, r.Max.Y-1, r.Max.X-1, r.Max.Y-1, c)
	drawLine(img, r.Min.X, r.Min.Y, r.Min.X, r.Max.Y-1, c)
	drawLine(img, r.Max.X-1, r.Min.Y, r.Max.X-1, r.Max.Y-1, c)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// niceStep returns a 1, 2 or 5 times power of ten step that puts roughly one
// label every pixelsPerLabel pixels.
func niceStep(span float64, pixels int) float64 {
	if span <= 0 {
		return 1
	}

	labels := max(float64(pixels)/pixelsPerLabel, 1)
	target := span / labels

	base := math.Pow(10, math.Floor(math.Log10(target)))
	for _, m := range []float64{1, 2, 5} {
		if step := m * base; step >= target {
			return step
		}
	}
	return 10 * base
}
