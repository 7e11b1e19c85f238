package storage

import (
	"context"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
)

var (
	// ErrExperimentNotFound is returned when no experiment row has the requested id
	ErrExperimentNotFound = errors.New("experiment not found")

	// ErrNotRunning is returned when closing an experiment that is not running
	ErrNotRunning = errors.New("experiment is not running")
)

// Store provides durable storage of experiments and their telemetry records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Init creates the schema if absent and upgrades stores written by older
	// builds in place. It is idempotent.
	Init(ctx context.Context) error

	// CreateExperiment inserts a new running experiment and returns its id.
	CreateExperiment(ctx context.Context, startedAt time.Time) (id int64, err error)

	// CloseExperiment marks a running experiment completed. The end time is the
	// receipt time of its most recent record, or fallback when it has none.
	//
	// Returns ErrNotRunning when the row does not exist or is not running.
	CloseExperiment(ctx context.Context, id int64, fallback time.Time) (endedAt time.Time, err error)

	// InsertRecord persists one telemetry record.
	InsertRecord(ctx context.Context, r *telemetry.Record) (id int64, err error)

	// RecoverRunning closes every experiment left running by a previous process.
	// The end time is the receipt time of the last record, or null when there
	// are none. Returns the number of experiments closed.
	RecoverRunning(ctx context.Context) (closed int64, err error)

	// Experiment returns one experiment or ErrExperimentNotFound.
	Experiment(ctx context.Context, id int64) (*telemetry.Experiment, error)

	// RunningExperiments returns experiments currently marked running.
	RunningExperiments(ctx context.Context) ([]*telemetry.Experiment, error)

	// CompletedExperiments returns completed experiments with a known end time,
	// newest first.
	CompletedExperiments(ctx context.Context) ([]*telemetry.Experiment, error)

	// Records returns every record of an experiment ordered by device time.
	Records(ctx context.Context, experimentID int64) ([]*telemetry.Record, error)

	// ReadRecords returns a paginated reader over an experiment's records.
	// The reader must be closed after use.
	ReadRecords(ctx context.Context, experimentID int64, opts ...ReaderOption) (*SqliteRecordReader, error)

	// DeleteExperiment removes an experiment and all of its records in one
	// transaction. Returns ErrExperimentNotFound for unknown ids.
	DeleteExperiment(ctx context.Context, id int64) error

	// Close releases all database connections. It is safe to call Close
	// multiple times.
	Close() error
}
