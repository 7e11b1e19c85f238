package export

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
)

const (
	FormatCSV     Format = "csv"
	FormatTXT     Format = "txt"
	FormatNPY     Format = "npy"
	FormatParquet Format = "parquet"
)

// ErrNoData is returned when there are no records to export
var ErrNoData = errors.New("no records to export")

// Column names in file order. FilteredColumn is appended when a filtered
// series is supplied.
var (
	Columns        = []string{"timestamp_amostra_ms", "valor_adc", "tensao_mv", "sinal_controle"}
	FilteredColumn = "tensao_filtrada"
)

// Format is an export file format
type Format string

// ParseFormat accepts a format name or file extension, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")); f {
	case FormatCSV, FormatTXT, FormatNPY, FormatParquet:
		return f, nil
	case "tsv":
		return FormatTXT, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

func (f Format) Extension() string {
	return "." + string(f)
}

func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatTXT:
		return "text/tab-separated-values"
	default:
		return "application/octet-stream"
	}
}

// Exporter writes an ordered record list. filtered is either nil or holds one
// value per record.
type Exporter interface {
	Export(w io.Writer, records []*telemetry.Record, filtered []float64) error
}

// New returns the exporter for f.
func New(f Format) (Exporter, error) {
	switch f {
	case FormatCSV:
		return &DelimitedExporter{Comma: ','}, nil
	case FormatTXT:
		return &DelimitedExporter{Comma: '\t'}, nil
	case FormatNPY:
		return &NPYExporter{}, nil
	case FormatParquet:
		return NewParquetExporter(), nil
	default:
		return nil, fmt.Errorf("unknown export format %q", f)
	}
}

// Export writes records to w in format f.
func Export(w io.Writer, f Format, records []*telemetry.Record, filtered []float64) error {
	e, err := New(f)
	if err != nil {
		return err
	}
	return e.Export(w, records, filtered)
}

func validate(records []*telemetry.Record, filtered []float64) error {
	if len(records) == 0 {
		return ErrNoData
	}
	if filtered != nil && len(filtered) != len(records) {
		return fmt.Errorf("filtered column has %d values for %d records", len(filtered), len(records))
	}
	return nil
}

func header(filtered []float64) []string {
	if filtered == nil {
		return Columns
	}
	return append(append([]string(nil), Columns...), FilteredColumn)
}
