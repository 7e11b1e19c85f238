package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
)

const (
	writeDSNParams = "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	readDSNParams  = "mode=ro&_busy_timeout=5000"
)

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a store backed by the SQLite file at dbPath. Connections
// are opened lazily; the schema is created on first use.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(ctx context.Context, db *sql.DB, sql string) error {
	_, err := db.ExecContext(ctx, sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, writeDSNParams))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		// SQLite allows one writer at a time
		db.SetMaxOpenConns(1)

		ctx := context.Background()

		if err = runSQLCommand(ctx, db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		if err = migrateColumns(ctx, db); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("migrating schema: %w", err)
			return
		}

		if err = runSQLCommand(ctx, db, initIndexesSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing indexes: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		// the read-only connection cannot create the file or the schema
		if _, err := s.getWriteDB(); err != nil {
			s.readDBErr = err
			return
		}

		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, readDSNParams))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// migrateColumns adds any column of columnMigrations missing from its table.
func migrateColumns(ctx context.Context, db *sql.DB) error {
	existing := make(map[string]map[string]bool)

	for _, m := range columnMigrations {
		columns, ok := existing[m.table]
		if !ok {
			var err error
			if columns, err = tableColumns(ctx, db, m.table); err != nil {
				return err
			}
			existing[m.table] = columns
		}

		if columns[m.column] {
			continue
		}

		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.definition)
		if err := runSQLCommand(ctx, db, stmt); err != nil {
			return fmt.Errorf("adding column %s.%s: %w", m.table, m.column, err)
		}
		columns[m.column] = true
	}

	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (columns map[string]bool, err error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("reading %s columns: %w", table, err)
	}
	defer closeWithError(rows, &err)

	columns = make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, ctype      string
			dflt             sql.NullString
		)
		if err = rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scanning %s columns: %w", table, err)
		}
		columns[name] = true
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s columns: %w", table, err)
	}
	return columns, nil
}

func (s *SqliteStore) Init(ctx context.Context) error {
	if _, err := s.getWriteDB(); err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}
	return nil
}

func (s *SqliteStore) CreateExperiment(ctx context.Context, startedAt time.Time) (id int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertExperimentSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, formatTime(startedAt))
	if err != nil {
		err = fmt.Errorf("inserting experiment: %w", err)
		return
	}

	id, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting experiment ID: %w", err)
	}
	return
}

func (s *SqliteStore) CloseExperiment(ctx context.Context, id int64, fallback time.Time) (endedAt time.Time, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		err = fmt.Errorf("beginning transaction: %w", err)
		return
	}
	defer rollbackWithError(tx, &err)

	var last sql.NullString
	if err = tx.QueryRowContext(ctx, selectLastReceivedSQL, id).Scan(&last); err != nil {
		err = fmt.Errorf("reading last record time: %w", err)
		return
	}

	endedText := formatTime(fallback)
	if last.Valid && last.String != "" {
		endedText = last.String
	}

	result, err := tx.ExecContext(ctx, closeExperimentSQL, endedText, id)
	if err != nil {
		err = fmt.Errorf("closing experiment: %w", err)
		return
	}

	n, err := result.RowsAffected()
	if err != nil {
		err = fmt.Errorf("getting affected rows: %w", err)
		return
	}
	if n == 0 {
		err = fmt.Errorf("closing experiment %d: %w", id, ErrNotRunning)
		return
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("committing transaction: %w", err)
		return
	}

	if endedAt, err = parseTime(endedText); err != nil {
		err = fmt.Errorf("parsing end time: %w", err)
	}
	return
}

func (s *SqliteStore) InsertRecord(ctx context.Context, r *telemetry.Record) (id int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertRecordSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(
		ctx,
		r.ExperimentID,
		formatTime(r.ReceivedAt),
		r.DeviceTimeMs,
		r.ADCValue,
		r.VoltageMv,
		r.ControlSignal,
	)
	if err != nil {
		err = fmt.Errorf("inserting record: %w", err)
		return
	}

	id, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting record ID: %w", err)
	}
	return
}

func (s *SqliteStore) RecoverRunning(ctx context.Context) (closed int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		err = fmt.Errorf("beginning transaction: %w", err)
		return
	}
	defer rollbackWithError(tx, &err)

	result, err := tx.ExecContext(ctx, recoverRunningSQL)
	if err != nil {
		err = fmt.Errorf("closing orphaned experiments: %w", err)
		return
	}

	if closed, err = result.RowsAffected(); err != nil {
		err = fmt.Errorf("getting affected rows: %w", err)
		return
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("committing transaction: %w", err)
	}
	return
}

func (s *SqliteStore) Experiment(ctx context.Context, id int64) (experiment *telemetry.Experiment, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	var data experimentData
	if err = db.QueryRowContext(ctx, selectExperimentSQL, id).Scan(data.fields()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("experiment %d: %w", id, ErrExperimentNotFound)
			return
		}
		err = fmt.Errorf("scanning experiment: %w", err)
		return
	}

	return data.toExperiment()
}

func (s *SqliteStore) RunningExperiments(ctx context.Context) ([]*telemetry.Experiment, error) {
	return s.queryExperiments(ctx, selectRunningExperimentsSQL)
}

func (s *SqliteStore) CompletedExperiments(ctx context.Context) ([]*telemetry.Experiment, error) {
	return s.queryExperiments(ctx, selectCompletedExperimentsSQL)
}

func (s *SqliteStore) queryExperiments(ctx context.Context, query string) (experiments []*telemetry.Experiment, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		err = fmt.Errorf("querying experiments: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var data experimentData
		if err = rows.Scan(data.fields()...); err != nil {
			err = fmt.Errorf("scanning experiment: %w", err)
			return
		}

		var e *telemetry.Experiment
		if e, err = data.toExperiment(); err != nil {
			return
		}
		experiments = append(experiments, e)
	}

	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterating experiments: %w", err)
	}
	return
}

func (s *SqliteStore) Records(ctx context.Context, experimentID int64) (records []*telemetry.Record, err error) {
	reader, err := s.ReadRecords(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	defer closeWithError(reader, &err)

	for reader.Next(ctx) {
		records = append(records, reader.Current())
	}
	if err = reader.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// ReadRecords creates a reader over one experiment's records ordered by device
// time. Records are fetched in pages, so experiments of any length can be
// streamed with bounded memory.
//
// Options: WithBatchSize, WithDeviceTimeRange.
//
// Each reader instance should only be used from a single goroutine.
func (s *SqliteStore) ReadRecords(ctx context.Context, experimentID int64, opts ...ReaderOption) (*SqliteRecordReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newSqliteRecordReader(db, experimentID, opts...), nil
}

// CountRecords returns the number of records persisted for an experiment.
func (s *SqliteStore) CountRecords(ctx context.Context, experimentID int64) (n int64, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	if err = db.QueryRowContext(ctx, countRecordsSQL, experimentID).Scan(&n); err != nil {
		err = fmt.Errorf("counting records: %w", err)
	}
	return
}

func (s *SqliteStore) DeleteExperiment(ctx context.Context, id int64) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	if _, err = tx.ExecContext(ctx, deleteRecordsSQL, id); err != nil {
		return fmt.Errorf("deleting records: %w", err)
	}

	result, err := tx.ExecContext(ctx, deleteExperimentSQL, id)
	if err != nil {
		return fmt.Errorf("deleting experiment: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("deleting experiment %d: %w", id, ErrExperimentNotFound)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(context.Background(), s.writeDB, "PRAGMA optimize")

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
