package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
)

// DelimitedExporter writes a header row followed by one row per record
type DelimitedExporter struct {
	Comma rune
}

func (e *DelimitedExporter) Export(w io.Writer, records []*telemetry.Record, filtered []float64) error {
	if err := validate(records, filtered); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	cw.Comma = e.Comma

	if err := cw.Write(header(filtered)); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	row := make([]string, 0, len(Columns)+1)
	for i, r := range records {
		row = append(row[:0],
			strconv.FormatInt(r.DeviceTimeMs, 10),
			strconv.FormatInt(int64(r.ADCValue), 10),
			strconv.FormatInt(int64(r.VoltageMv), 10),
			strconv.FormatFloat(r.ControlSignal, 'f', -1, 64),
		)
		if filtered != nil {
			row = append(row, strconv.FormatFloat(filtered[i], 'f', -1, 64))
		}

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing rows: %w", err)
	}
	return nil
}
