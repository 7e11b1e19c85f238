package export

import (
	"fmt"
	"strings"

	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
)

const (
	// DefaultWindow is the moving average window used by the live plot
	DefaultWindow = 20

	// DefaultAlpha is the exponential smoothing factor used by the live plot
	DefaultAlpha = 0.15
)

const (
	FilterNone Filter = "none"
	FilterSMA  Filter = "sma"
	FilterEMA  Filter = "ema"
)

// Filter selects how the filtered voltage column is computed
type Filter string

func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FilterNone:
		return FilterNone, nil
	case FilterSMA, FilterEMA:
		return f, nil
	default:
		return "", fmt.Errorf("unknown filter %q", s)
	}
}

// Apply returns the filtered voltage series of records, or nil for FilterNone.
func (f Filter) Apply(records []*telemetry.Record) []float64 {
	if f == FilterNone || f == "" {
		return nil
	}

	values := make([]float64, len(records))
	for i, r := range records {
		values[i] = float64(r.VoltageMv)
	}

	switch f {
	case FilterSMA:
		return MovingAverage(values, DefaultWindow)
	case FilterEMA:
		return ExponentialAverage(values, DefaultAlpha)
	}
	return nil
}

// MovingAverage is the trailing simple moving average. The first window-1
// values average over the samples seen so far.
func MovingAverage(values []float64, window int) []float64 {
	if window < 1 {
		window = 1
	}

	out := make([]float64, len(values))

	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		out[i] = sum / float64(min(i+1, window))
	}
	return out
}

// ExponentialAverage smooths values with factor alpha in (0, 1], seeded with
// the first value.
func ExponentialAverage(values []float64, alpha float64) []float64 {
	if len(values) == 0 {
		return nil
	}

	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}
