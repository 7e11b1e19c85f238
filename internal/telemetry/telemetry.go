package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingField is returned when a payload lacks one of the required sample fields
var ErrMissingField = errors.New("missing field")

// Sample is a single raw reading as the device sends it. Fields are pointers so
// that absence can be told apart from a zero value.
type Sample struct {
	DeviceTimeMs  *int64   `json:"timestamp_amostra_ms" cbor:"timestamp_amostra_ms"` // Device uptime in milliseconds
	ADCValue      *int32   `json:"valor_adc" cbor:"valor_adc"`                       // Raw ADC counts
	VoltageMv     *int32   `json:"tensao_mv" cbor:"tensao_mv"`                       // Measured voltage in millivolts
	ControlSignal *float64 `json:"sinal_controle" cbor:"sinal_controle"`             // Actuator duty in percent
}

// Validate reports the first absent field
func (s *Sample) Validate() error {
	switch {
	case s.DeviceTimeMs == nil:
		return fmt.Errorf("%w: timestamp_amostra_ms", ErrMissingField)
	case s.ADCValue == nil:
		return fmt.Errorf("%w: valor_adc", ErrMissingField)
	case s.VoltageMv == nil:
		return fmt.Errorf("%w: tensao_mv", ErrMissingField)
	case s.ControlSignal == nil:
		return fmt.Errorf("%w: sinal_controle", ErrMissingField)
	}
	return nil
}

// Reading is a validated sample enriched by the ingestion endpoint. Every reading
// of one batch shares ReceivedAt, BatchIntervalMs and BatchID.
type Reading struct {
	DeviceTimeMs    int64     `json:"timestamp_amostra_ms"`
	ADCValue        int32     `json:"valor_adc"`
	VoltageMv       int32     `json:"tensao_mv"`
	ControlSignal   float64   `json:"sinal_controle"`
	ReceivedAt      time.Time `json:"timestamp_recebimento"`
	BatchIntervalMs float64   `json:"batch_interval_ms"`
	BatchID         string    `json:"batch_id,omitempty"`

	// ExperimentID is the experiment that was recording when the reading was
	// queued for persistence. Zero when untagged.
	ExperimentID int64 `json:"-"`
}

// NewReading builds a Reading from a validated sample.
func NewReading(s *Sample, receivedAt time.Time, batchIntervalMs float64, batchID string) Reading {
	return Reading{
		DeviceTimeMs:    *s.DeviceTimeMs,
		ADCValue:        *s.ADCValue,
		VoltageMv:       *s.VoltageMv,
		ControlSignal:   *s.ControlSignal,
		ReceivedAt:      receivedAt,
		BatchIntervalMs: batchIntervalMs,
		BatchID:         batchID,
	}
}
