package export

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow/go/v18/parquet/file"

	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
)

func testRecords() []*telemetry.Record {
	now := time.Now()
	return []*telemetry.Record{
		{ReceivedAt: now, DeviceTimeMs: 1000, ADCValue: 2048, VoltageMv: 1650, ControlSignal: 42},
		{ReceivedAt: now, DeviceTimeMs: 1010, ADCValue: 2050, VoltageMv: 1652, ControlSignal: 42.5},
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"csv":      FormatCSV,
		".CSV":     FormatCSV,
		"txt":      FormatTXT,
		"tsv":      FormatTXT,
		"npy":      FormatNPY,
		" parquet": FormatParquet,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}

	if _, err := ParseFormat("xlsx"); err == nil {
		t.Errorf("expected error for unknown format")
	}
}

func TestExport_NoData(t *testing.T) {
	for _, f := range []Format{FormatCSV, FormatTXT, FormatNPY, FormatParquet} {
		var buf bytes.Buffer
		if err := Export(&buf, f, nil, nil); !errors.Is(err, ErrNoData) {
			t.Errorf("%s: expected ErrNoData, got %v", f, err)
		}
		if buf.Len() != 0 {
			t.Errorf("%s: expected nothing written, got %d bytes", f, buf.Len())
		}
	}
}

func TestExport_FilteredLengthMismatch(t *testing.T) {
	var buf bytes.Buffer
	if err := Export(&buf, FormatCSV, testRecords(), []float64{1}); err == nil {
		t.Errorf("expected error for mismatched filtered column")
	}
}

func TestDelimitedExporter_CSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Export(&buf, FormatCSV, testRecords(), nil); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	want := "timestamp_amostra_ms,valor_adc,tensao_mv,sinal_controle\n" +
		"1000,2048,1650,42\n" +
		"1010,2050,1652,42.5\n"
	if buf.String() != want {
		t.Errorf("unexpected CSV:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestDelimitedExporter_TXTWithFilter(t *testing.T) {
	var buf bytes.Buffer
	if err := Export(&buf, FormatTXT, testRecords(), []float64{1650, 1651}); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0] != "timestamp_amostra_ms\tvalor_adc\ttensao_mv\tsinal_controle\ttensao_filtrada" {
		t.Errorf("unexpected header %q", lines[0])
	}
	if lines[2] != "1010\t2050\t1652\t42.5\t1651" {
		t.Errorf("unexpected row %q", lines[2])
	}
}

func TestNPYExporter(t *testing.T) {
	var buf bytes.Buffer
	if err := Export(&buf, FormatNPY, testRecords(), nil); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	p := buf.Bytes()

	if string(p[:6]) != npyMagic || p[6] != 1 || p[7] != 0 {
		t.Fatalf("bad magic or version: %q", p[:8])
	}

	headerLen := int(binary.LittleEndian.Uint16(p[8:10]))
	dataStart := 10 + headerLen
	if dataStart%npyAlignment != 0 {
		t.Errorf("data starts at %d, not aligned to %d", dataStart, npyAlignment)
	}

	header := string(p[10:dataStart])
	if !strings.Contains(header, "'shape': (2,)") || !strings.HasSuffix(header, "\n") {
		t.Errorf("unexpected header %q", header)
	}
	if !strings.Contains(header, "('sinal_controle', '<f8')") {
		t.Errorf("header misses sinal_controle field: %q", header)
	}

	const recordSize = 8 + 4 + 4 + 8
	if len(p)-dataStart != 2*recordSize {
		t.Fatalf("expected %d data bytes, got %d", 2*recordSize, len(p)-dataStart)
	}

	second := p[dataStart+recordSize:]
	if ms := int64(binary.LittleEndian.Uint64(second[0:8])); ms != 1010 {
		t.Errorf("timestamp: got %d", ms)
	}
	if adc := int32(binary.LittleEndian.Uint32(second[8:12])); adc != 2050 {
		t.Errorf("adc: got %d", adc)
	}
	if mv := int32(binary.LittleEndian.Uint32(second[12:16])); mv != 1652 {
		t.Errorf("voltage: got %d", mv)
	}
	if sig := math.Float64frombits(binary.LittleEndian.Uint64(second[16:24])); sig != 42.5 {
		t.Errorf("control: got %v", sig)
	}
}

func TestNPYHeader_Alignment(t *testing.T) {
	for _, n := range []int{1, 9, 10, 99999, 1234567} {
		for _, filtered := range []bool{false, true} {
			if l := len(npyHeader(n, filtered)); l%npyAlignment != 0 {
				t.Errorf("n=%d filtered=%v: header length %d not aligned", n, filtered, l)
			}
		}
	}
}

func TestParquetExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.parquet")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	records := testRecords()
	if err = Export(f, FormatParquet, records, FilterEMA.Apply(records)); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	_ = f.Close()

	reader, err := file.OpenParquetFile(path, false)
	if err != nil {
		t.Fatalf("Failed to open parquet file: %v", err)
	}
	defer reader.Close()

	if reader.NumRows() != 2 {
		t.Errorf("expected 2 rows, got %d", reader.NumRows())
	}
	if cols := reader.MetaData().Schema.NumColumns(); cols != 5 {
		t.Errorf("expected 5 columns, got %d", cols)
	}
}
