package app

import (
	"math"
	"time"

	"github.com/roman-kulish/plant-telemetry/internal/export"
	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
)

// Bounds is the value range of one series
type Bounds struct {
	Min, Max float64
}

func newBounds() Bounds {
	return Bounds{Min: math.MaxFloat64, Max: -math.MaxFloat64}
}

func (b *Bounds) Update(v float64) {
	b.Min = min(b.Min, v)
	b.Max = max(b.Max, v)
}

// Valid reports whether at least one value was seen
func (b Bounds) Valid() bool {
	return b.Min <= b.Max
}

// Padded widens a flat range so it can be scaled
func (b Bounds) Padded() Bounds {
	if !b.Valid() {
		return Bounds{Min: 0, Max: 1}
	}
	if b.Max == b.Min {
		return Bounds{Min: b.Min - 1, Max: b.Max + 1}
	}
	pad := (b.Max - b.Min) * 0.05
	return Bounds{Min: b.Min - pad, Max: b.Max + pad}
}

// ChartData holds the series of one experiment in device time order.
type ChartData struct {
	Experiment *telemetry.Experiment

	DeviceTimeMs []int64
	Voltage      []float64
	Control      []float64
	Filtered     []float64 // Nil without an overlay

	VoltageBounds Bounds
	ControlBounds Bounds

	ReceivedStart, ReceivedEnd time.Time
}

func NewChartData(e *telemetry.Experiment) *ChartData {
	return &ChartData{
		Experiment:    e,
		VoltageBounds: newBounds(),
		ControlBounds: newBounds(),
	}
}

func (d *ChartData) Update(r *telemetry.Record) {
	d.DeviceTimeMs = append(d.DeviceTimeMs, r.DeviceTimeMs)
	d.Voltage = append(d.Voltage, float64(r.VoltageMv))
	d.Control = append(d.Control, r.ControlSignal)

	d.VoltageBounds.Update(float64(r.VoltageMv))
	d.ControlBounds.Update(r.ControlSignal)

	if d.ReceivedStart.IsZero() || d.ReceivedStart.After(r.ReceivedAt) {
		d.ReceivedStart = r.ReceivedAt
	}
	if d.ReceivedEnd.IsZero() || d.ReceivedEnd.Before(r.ReceivedAt) {
		d.ReceivedEnd = r.ReceivedAt
	}
}

// ApplyFilter computes the smoothed voltage overlay
func (d *ChartData) ApplyFilter(f export.Filter) {
	switch f {
	case export.FilterSMA:
		d.Filtered = export.MovingAverage(d.Voltage, export.DefaultWindow)
	case export.FilterEMA:
		d.Filtered = export.ExponentialAverage(d.Voltage, export.DefaultAlpha)
	default:
		d.Filtered = nil
	}
}

func (d *ChartData) Len() int {
	return len(d.DeviceTimeMs)
}

// TimeRange returns the first and last device timestamps
func (d *ChartData) TimeRange() (from, to int64) {
	if len(d.DeviceTimeMs) == 0 {
		return 0, 0
	}
	return d.DeviceTimeMs[0], d.DeviceTimeMs[len(d.DeviceTimeMs)-1]
}
