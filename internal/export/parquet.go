package export

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/compress"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"

	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
)

var recordFields = []arrow.Field{
	{Name: "timestamp_amostra_ms", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "valor_adc", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "tensao_mv", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	{Name: "sinal_controle", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
}

// RecordSchema is the Arrow schema of exported records without a filtered column.
var RecordSchema = arrow.NewSchema(recordFields, nil)

// FilteredRecordSchema adds the filtered voltage column.
var FilteredRecordSchema = arrow.NewSchema(
	append(append([]arrow.Field(nil), recordFields...),
		arrow.Field{Name: "tensao_filtrada", Type: arrow.PrimitiveTypes.Float64, Nullable: false}),
	nil,
)

// ParquetExporter writes records as a single-row-group Parquet file
type ParquetExporter struct {
	Compression compress.Compression
}

func NewParquetExporter() *ParquetExporter {
	return &ParquetExporter{Compression: compress.Codecs.Snappy}
}

func (e *ParquetExporter) Export(w io.Writer, records []*telemetry.Record, filtered []float64) error {
	if err := validate(records, filtered); err != nil {
		return err
	}

	schema := RecordSchema
	if filtered != nil {
		schema = FilteredRecordSchema
	}

	batch := buildRecordBatch(memory.NewGoAllocator(), schema, records, filtered)
	defer batch.Release()

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(e.Compression),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
	)

	// hide io.Closer: closing the parquet writer closes its sink, and w belongs to the caller
	writer, err := pqarrow.NewFileWriter(schema, struct{ io.Writer }{w}, writerProps, arrowProps)
	if err != nil {
		return fmt.Errorf("creating parquet writer: %w", err)
	}

	if err = writer.WriteBuffered(batch); err != nil {
		_ = writer.Close()
		return fmt.Errorf("writing record batch: %w", err)
	}

	if err = writer.Close(); err != nil {
		return fmt.Errorf("closing parquet writer: %w", err)
	}

	return nil
}

func buildRecordBatch(alloc memory.Allocator, schema *arrow.Schema, records []*telemetry.Record, filtered []float64) arrow.Record {
	deviceTime := array.NewInt64Builder(alloc)
	defer deviceTime.Release()

	adc := array.NewInt32Builder(alloc)
	defer adc.Release()

	voltage := array.NewInt32Builder(alloc)
	defer voltage.Release()

	control := array.NewFloat64Builder(alloc)
	defer control.Release()

	for _, r := range records {
		deviceTime.Append(r.DeviceTimeMs)
		adc.Append(r.ADCValue)
		voltage.Append(r.VoltageMv)
		control.Append(r.ControlSignal)
	}

	cols := []arrow.Array{
		deviceTime.NewArray(),
		adc.NewArray(),
		voltage.NewArray(),
		control.NewArray(),
	}

	if filtered != nil {
		smooth := array.NewFloat64Builder(alloc)
		defer smooth.Release()

		smooth.AppendValues(filtered, nil)
		cols = append(cols, smooth.NewArray())
	}

	rec := array.NewRecord(schema, cols, int64(len(records)))
	for _, c := range cols {
		c.Release()
	}
	return rec
}
