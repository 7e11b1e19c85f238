package telemetry

import (
	"fmt"
	"time"
)

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// Status is the lifecycle state of an experiment row
type Status string

// Experiment is a bounded recording interval. Telemetry records are grouped by it.
type Experiment struct {
	ID        int64      `json:"id"`                 // Assigned by the store
	StartedAt time.Time  `json:"started_at"`         // When recording was turned on
	EndedAt   *time.Time `json:"ended_at,omitempty"` // Nil while running, or when closed by recovery without samples
	Status    Status     `json:"status"`

	SampleCount int64 `json:"sample_count"` // Persisted telemetry rows, filled by read queries
}

// Name is the display label used by the viewers and export file names.
func (e *Experiment) Name() string {
	return fmt.Sprintf("Experimento #%d", e.ID)
}

// Duration returns the whole-second length of a closed experiment. The second
// value is false when EndedAt is unknown.
func (e *Experiment) Duration() (time.Duration, bool) {
	if e.EndedAt == nil {
		return 0, false
	}
	return e.EndedAt.Sub(e.StartedAt).Truncate(time.Second), true
}

// FormatDuration renders d as "Mm Ss".
func FormatDuration(d time.Duration) string {
	total := int64(d / time.Second)
	return fmt.Sprintf("%dm %ds", total/60, total%60)
}

// Record is a persisted telemetry sample. Immutable once written.
type Record struct {
	ID            int64     `json:"-"`
	ExperimentID  int64     `json:"-"`
	ReceivedAt    time.Time `json:"timestamp_recebimento"`
	DeviceTimeMs  int64     `json:"timestamp_amostra_ms"`
	ADCValue      int32     `json:"valor_adc"`
	VoltageMv     int32     `json:"tensao_mv"`
	ControlSignal float64   `json:"sinal_controle"`
}
