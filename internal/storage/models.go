package storage

import (
	"database/sql"
	"fmt"

	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
)

// experimentData mirrors one experimentos row
type experimentData struct {
	ID          int64
	StartedAt   string
	EndedAt     sql.NullString
	Status      string
	SampleCount int64
}

func (d *experimentData) fields() []any {
	return []any{&d.ID, &d.StartedAt, &d.EndedAt, &d.Status, &d.SampleCount}
}

func (d *experimentData) toExperiment() (*telemetry.Experiment, error) {
	startedAt, err := parseTime(d.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("experiment %d start: %w", d.ID, err)
	}
	endedAt, err := parseNullTime(d.EndedAt)
	if err != nil {
		return nil, fmt.Errorf("experiment %d end: %w", d.ID, err)
	}
	return &telemetry.Experiment{
		ID:          d.ID,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
		Status:      telemetry.Status(d.Status),
		SampleCount: d.SampleCount,
	}, nil
}

// recordData mirrors one telemetria row
type recordData struct {
	ID            int64
	ExperimentID  sql.NullInt64
	ReceivedAt    string
	DeviceTimeMs  int64
	ADCValue      int64
	VoltageMv     int64
	ControlSignal float64
}

func (d *recordData) fields() []any {
	return []any{&d.ID, &d.ExperimentID, &d.ReceivedAt, &d.DeviceTimeMs, &d.ADCValue, &d.VoltageMv, &d.ControlSignal}
}

func (d *recordData) toRecord() (*telemetry.Record, error) {
	receivedAt, err := parseTime(d.ReceivedAt)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", d.ID, err)
	}
	return &telemetry.Record{
		ID:            d.ID,
		ExperimentID:  d.ExperimentID.Int64,
		ReceivedAt:    receivedAt,
		DeviceTimeMs:  d.DeviceTimeMs,
		ADCValue:      int32(d.ADCValue),
		VoltageMv:     int32(d.VoltageMv),
		ControlSignal: d.ControlSignal,
	}, nil
}
