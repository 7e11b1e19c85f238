package app

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

type annotatorConfig struct {
	DatetimeFormat string
	Location       *time.Location
	FontSize       float64
	Borders        BorderConfig
}

type annotator struct {
	context  *freetype.Context
	config   annotatorConfig
	fontFace font.Face
}

func newAnnotator(config annotatorConfig) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, area plotArea, data *ChartData, voltage, control Bounds) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func() error
	}{
		{"drawing time scale", func() error { return a.drawTimeScale(img, area) }},
		{"drawing voltage scale", func() error { return a.drawValueScale(img, area, voltage, "mV", false) }},
		{"drawing control scale", func() error { return a.drawValueScale(img, area, control, "%", true) }},
		{"drawing legend", func() error { return a.drawLegend(img, data.Filtered != nil) }},
		{"drawing info bar", func() error { return a.drawInfoBar(img, data) }},
	}
	for _, op := range ops {
		if err := op.fn(); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}

	return nil
}

func (a *annotator) fontHeight() int {
	metrics := a.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

func (a *annotator) drawString(s string, x, y int, c color.Color) error {
	a.context.SetSrc(image.NewUniform(c))
	_, err := a.context.DrawString(s, freetype.Pt(x, y))
	return err
}

func (a *annotator) drawTimeScale(img *image.RGBA, area plotArea) error {
	textY := area.Max.Y + tickMarkLength + a.fontHeight()

	if area.t1 == area.t0 {
		return a.drawString(formatDeviceTime(0), area.Min.X, textY, axisColor)
	}

	step := max(int64(niceStep(float64(area.t1-area.t0), area.Dx())), 1)
	for t := area.t0; t <= area.t1; t += step {
		x := area.x(t)

		// Draw tick mark
		for y := area.Max.Y; y < area.Max.Y+tickMarkLength; y++ {
			img.Set(x, y, axisColor)
		}

		label := formatDeviceTime(t - area.t0)
		width := font.MeasureString(a.fontFace, label).Round()
		if err := a.drawString(label, x-width/2, textY, axisColor); err != nil {
			return fmt.Errorf("drawing time label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawValueScale(img *image.RGBA, area plotArea, b Bounds, unit string, right bool) error {
	metrics := a.fontFace.Metrics()
	step := niceStep(b.Max-b.Min, area.Dy())

	for v := math.Ceil(b.Min/step) * step; v <= b.Max; v += step {
		y := area.y(v, b)

		label := formatValue(v, step) + " " + unit
		width := font.MeasureString(a.fontFace, label).Round()
		textY := y + a.fontHeight()/2 - metrics.Descent.Round()

		var x int
		if right {
			for tx := area.Max.X; tx < area.Max.X+tickMarkLength; tx++ {
				img.Set(tx, y, controlColor)
			}
			x = area.Max.X + tickMarkLength + 3
		} else {
			for tx := area.Min.X - tickMarkLength; tx < area.Min.X; tx++ {
				img.Set(tx, y, voltageColor)
			}
			x = area.Min.X - tickMarkLength - 3 - width
		}

		c := voltageColor
		if right {
			c = controlColor
		}
		if err := a.drawString(label, x, textY, c); err != nil {
			return fmt.Errorf("drawing value label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawLegend(img *image.RGBA, filtered bool) error {
	entries := []struct {
		label string
		color color.Color
	}{
		{"tensao_mv", voltageColor},
		{"sinal_controle", controlColor},
	}
	if filtered {
		entries = append(entries, struct {
			label string
			color color.Color
		}{"tensao_filtrada", filteredColor})
	}

	x := a.config.Borders.Left
	y := a.config.Borders.Top / 2

	for _, e := range entries {
		for dx := 0; dx < 20; dx++ {
			img.Set(x+dx, y, e.color)
			img.Set(x+dx, y+1, e.color)
		}
		x += 25

		if err := a.drawString(e.label, x, y+a.fontHeight()/3, axisColor); err != nil {
			return err
		}
		x += font.MeasureString(a.fontFace, e.label).Round() + 20
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, data *ChartData) error {
	var sb strings.Builder

	e := data.Experiment
	sb.WriteString(e.Name())

	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("Start: %s", e.StartedAt.In(a.config.Location).Format(a.config.DatetimeFormat)))

	if e.EndedAt != nil {
		sb.WriteString("; ")
		sb.WriteString(fmt.Sprintf("End: %s", e.EndedAt.In(a.config.Location).Format(a.config.DatetimeFormat)))
	}
	if d, ok := e.Duration(); ok {
		sb.WriteString("; ")
		sb.WriteString(fmt.Sprintf("Duration: %s (%s)",
			telemetry.FormatDuration(d),
			strings.TrimSpace(humanize.RelTime(e.StartedAt, e.StartedAt.Add(d), "", ""))))
	}

	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("Samples: %s", humanize.Comma(int64(data.Len()))))

	// Center text vertically in the lower half of the bottom border
	metrics := a.fontFace.Metrics()
	textY := img.Bounds().Max.Y - (a.config.Borders.Bottom/2-a.fontHeight())/2 - metrics.Descent.Round()

	if err := a.drawString(sb.String(), a.config.Borders.Left, textY, axisColor); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}
	return nil
}

// formatDeviceTime renders elapsed device milliseconds
func formatDeviceTime(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	switch {
	case d < time.Second:
		return fmt.Sprintf("%d ms", ms)
	case d < time.Minute:
		return fmt.Sprintf("%.1f s", d.Seconds())
	default:
		return telemetry.FormatDuration(d)
	}
}

// formatValue prints v with as many decimals as step needs
func formatValue(v, step float64) string {
	decimals := 0
	if step < 1 {
		decimals = int(math.Ceil(-math.Log10(step)))
	}
	return fmt.Sprintf("%.*f", decimals, v)
}
