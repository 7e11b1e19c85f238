package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
)

// DefaultBatchSize is the number of rows fetched per page
const DefaultBatchSize = 5000

// ReaderOption configures a SqliteRecordReader
type ReaderOption func(*SqliteRecordReader)

// WithBatchSize sets the number of rows fetched per page.
func WithBatchSize(n int) ReaderOption {
	return func(r *SqliteRecordReader) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithDeviceTimeRange restricts the reader to records whose device time lies
// within [from, to], both inclusive.
func WithDeviceTimeRange(from, to int64) ReaderOption {
	return func(r *SqliteRecordReader) {
		r.fromMs = from
		r.toMs = to
	}
}

// SqliteRecordReader iterates the records of one experiment in device-time order
// using keyset pagination, so no cursor stays open between pages.
type SqliteRecordReader struct {
	db *sql.DB

	experimentID int64
	batchSize    int
	fromMs       int64
	toMs         int64

	stmt *sql.Stmt

	lastMs int64 // keyset cursor: device time of the last returned row
	lastID int64 // keyset cursor: id of the last returned row

	page    []*telemetry.Record
	pos     int
	current *telemetry.Record
	done    bool
	err     error
}

func newSqliteRecordReader(db *sql.DB, experimentID int64, opts ...ReaderOption) *SqliteRecordReader {
	r := &SqliteRecordReader{
		db:           db,
		experimentID: experimentID,
		batchSize:    DefaultBatchSize,
		fromMs:       math.MinInt64,
		toMs:         math.MaxInt64,
		lastMs:       math.MinInt64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *SqliteRecordReader) init(ctx context.Context) error {
	if r.db == nil {
		return errors.New("database connection required")
	}
	if r.fromMs > r.toMs {
		return fmt.Errorf("invalid device time range: from=%d, to=%d", r.fromMs, r.toMs)
	}

	stmt, err := r.db.PrepareContext(ctx, selectRecordsPageSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	r.stmt = stmt
	return nil
}

func (r *SqliteRecordReader) fetchPage(ctx context.Context) (err error) {
	rows, err := r.stmt.QueryContext(ctx, r.experimentID, r.lastMs, r.lastMs, r.lastID, r.fromMs, r.toMs, r.batchSize)
	if err != nil {
		return fmt.Errorf("querying records: %w", err)
	}
	defer closeWithError(rows, &err)

	r.page = r.page[:0]
	r.pos = 0

	for rows.Next() {
		var data recordData
		if err = rows.Scan(data.fields()...); err != nil {
			return fmt.Errorf("scanning record: %w", err)
		}

		var rec *telemetry.Record
		if rec, err = data.toRecord(); err != nil {
			return err
		}
		r.page = append(r.page, rec)
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("iterating records: %w", err)
	}

	if len(r.page) < r.batchSize {
		r.done = true
	}
	if n := len(r.page); n > 0 {
		r.lastMs = r.page[n-1].DeviceTimeMs
		r.lastID = r.page[n-1].ID
	}
	return nil
}

// Next advances to the next record. It returns false when the records are
// exhausted or an error occurred; check Err afterwards.
func (r *SqliteRecordReader) Next(ctx context.Context) bool {
	if r.err != nil || (r.done && r.pos >= len(r.page)) {
		r.current = nil
		return false
	}

	if r.stmt == nil {
		if r.err = r.init(ctx); r.err != nil {
			return false
		}
	}

	if r.pos >= len(r.page) {
		if r.err = r.fetchPage(ctx); r.err != nil {
			return false
		}
		if len(r.page) == 0 {
			r.current = nil
			return false
		}
	}

	r.current = r.page[r.pos]
	r.pos++
	return true
}

func (r *SqliteRecordReader) Current() *telemetry.Record {
	return r.current
}

func (r *SqliteRecordReader) Err() error {
	return r.err
}

func (r *SqliteRecordReader) Close() error {
	r.page = nil
	r.current = nil
	r.done = true

	if r.stmt != nil {
		err := r.stmt.Close()
		r.stmt = nil
		return err
	}
	return nil
}
