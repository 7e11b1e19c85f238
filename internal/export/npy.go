package export

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
)

const (
	npyMagic     = "\x93NUMPY"
	npyAlignment = 64
)

// NPYExporter writes a NumPy .npy file (format version 1.0) holding a
// one-dimensional structured array with little-endian fields
// timestamp_amostra_ms int64, valor_adc int32, tensao_mv int32,
// sinal_controle float64 and, when filtered, tensao_filtrada float64.
type NPYExporter struct{}

func (e *NPYExporter) Export(w io.Writer, records []*telemetry.Record, filtered []float64) error {
	if err := validate(records, filtered); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)

	if _, err := bw.Write(npyHeader(len(records), filtered != nil)); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	rec := make([]byte, 0, 32)
	for i, r := range records {
		rec = binary.LittleEndian.AppendUint64(rec[:0], uint64(r.DeviceTimeMs))
		rec = binary.LittleEndian.AppendUint32(rec, uint32(r.ADCValue))
		rec = binary.LittleEndian.AppendUint32(rec, uint32(r.VoltageMv))
		rec = binary.LittleEndian.AppendUint64(rec, math.Float64bits(r.ControlSignal))
		if filtered != nil {
			rec = binary.LittleEndian.AppendUint64(rec, math.Float64bits(filtered[i]))
		}

		if _, err := bw.Write(rec); err != nil {
			return fmt.Errorf("writing record %d: %w", i, err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing records: %w", err)
	}
	return nil
}

// npyHeader builds magic, version, header length and the dtype dictionary,
// space padded so the data starts on a 64-byte boundary.
func npyHeader(n int, withFiltered bool) []byte {
	fields := []string{
		"('timestamp_amostra_ms', '<i8')",
		"('valor_adc', '<i4')",
		"('tensao_mv', '<i4')",
		"('sinal_controle', '<f8')",
	}
	if withFiltered {
		fields = append(fields, "('tensao_filtrada', '<f8')")
	}

	dict := fmt.Sprintf("{'descr': [%s], 'fortran_order': False, 'shape': (%d,), }", strings.Join(fields, ", "), n)

	// magic(6) + version(2) + header length(2) + dict + padding + '\n'
	prefix := len(npyMagic) + 4
	total := prefix + len(dict) + 1
	if rem := total % npyAlignment; rem != 0 {
		total += npyAlignment - rem
	}
	dict += strings.Repeat(" ", total-prefix-len(dict)-1) + "\n"

	p := make([]byte, 0, total)
	p = append(p, npyMagic...)
	p = append(p, 1, 0)
	p = binary.LittleEndian.AppendUint16(p, uint16(len(dict)))
	p = append(p, dict...)
	return p
}
