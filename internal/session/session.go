package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/roman-kulish/plant-telemetry/internal/storage"
	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
)

// DefaultCacheSize is the number of completed experiments whose records are kept in memory
const DefaultCacheSize = 32

var (
	// ErrNotRecording is returned by InsertSample when recording is disabled, no
	// experiment is open, or the reading was accepted for an experiment that has
	// since been closed. The sample is discarded.
	ErrNotRecording = errors.New("recording is disabled")

	// ErrExperimentRunning is returned when deleting the experiment that is recording
	ErrExperimentRunning = errors.New("experiment is running")
)

// Store is the durable storage used by the Manager
type Store interface {
	CreateExperiment(ctx context.Context, startedAt time.Time) (int64, error)
	CloseExperiment(ctx context.Context, id int64, fallback time.Time) (time.Time, error)
	Experiment(ctx context.Context, id int64) (*telemetry.Experiment, error)
	InsertRecord(ctx context.Context, r *telemetry.Record) (int64, error)
	RecoverRunning(ctx context.Context) (int64, error)
	CompletedExperiments(ctx context.Context) ([]*telemetry.Experiment, error)
	Records(ctx context.Context, experimentID int64) ([]*telemetry.Record, error)
	DeleteExperiment(ctx context.Context, id int64) error
}

// State is a point-in-time view of the recording state
type State struct {
	Recording    bool   `json:"recording"`
	ExperimentID *int64 `json:"experiment_id"`
}

// WithLogger sets the logger for the manager
func WithLogger(logger *slog.Logger) func(m *Manager) {
	return func(m *Manager) {
		m.logger = logger.With(slog.String("component", "session"))
	}
}

// WithClock replaces time.Now, used to stamp experiment start and fallback end times
func WithClock(now func() time.Time) func(m *Manager) {
	return func(m *Manager) {
		m.now = now
	}
}

// WithCacheSize sets how many completed experiments' records are cached
func WithCacheSize(n int) func(m *Manager) {
	return func(m *Manager) {
		m.cacheSize = n
	}
}

// Manager owns the experiment lifecycle. It is the only component that changes
// which experiment is open, and it guarantees at most one running experiment.
//
// A single mutex serializes start, close and insert, so a sample is never
// written while the open experiment is being replaced. The recording flag is
// also published through an atomic so the ingestion path never waits behind a
// storage write.
type Manager struct {
	store     Store
	logger    *slog.Logger
	now       func() time.Time
	cacheSize int
	records   *otter.Cache[int64, []*telemetry.Record]

	mu      sync.Mutex
	current *int64

	// id of the experiment accepting samples, 0 while recording is disabled.
	// Only stored with mu held.
	active atomic.Int64
}

// NewManager creates a Manager with recording disabled and no open experiment.
func NewManager(store Store, options ...func(m *Manager)) (*Manager, error) {
	m := Manager{
		store:     store,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		now:       time.Now,
		cacheSize: DefaultCacheSize,
	}

	for _, option := range options {
		option(&m)
	}

	if m.cacheSize <= 0 {
		return nil, fmt.Errorf("invalid cache size: %d", m.cacheSize)
	}

	cache, err := otter.New(&otter.Options[int64, []*telemetry.Record]{
		MaximumSize: m.cacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("creating records cache: %w", err)
	}
	m.records = cache

	return &m, nil
}

// StartupRecovery closes every experiment left running by a previous process.
// It must run before any ingestion or writer activity.
func (m *Manager) StartupRecovery(ctx context.Context) (closed int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active.Store(0)
	m.current = nil

	if closed, err = m.store.RecoverRunning(ctx); err != nil {
		return 0, fmt.Errorf("recovering experiments: %w", err)
	}

	if closed > 0 {
		m.logger.Warn("closed experiments left running by a previous run", slog.Int64("count", closed))
	}
	return closed, nil
}

// StartNewExperiment closes the open experiment, if any, creates a new running
// one and enables recording.
//
// When the previous experiment cannot be closed no new experiment is created,
// so that two experiments are never running at once.
func (m *Manager) StartNewExperiment(ctx context.Context) (id int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err = m.closeLocked(ctx); err != nil {
		return 0, err
	}

	startedAt := m.now()
	if id, err = m.store.CreateExperiment(ctx, startedAt); err != nil {
		return 0, fmt.Errorf("creating experiment: %w", err)
	}

	m.current = &id
	m.active.Store(id)

	m.logger.Info("experiment started", slog.Int64("experiment", id), slog.Time("startedAt", startedAt))
	return id, nil
}

// CloseCurrentExperiment disables recording and completes the open experiment.
// It is a no-op when nothing is open.
func (m *Manager) CloseCurrentExperiment(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closeLocked(ctx)
}

func (m *Manager) closeLocked(ctx context.Context) error {
	m.active.Store(0)

	if m.current == nil {
		return nil
	}

	id := *m.current

	endedAt, err := m.store.CloseExperiment(ctx, id, m.now())
	if errors.Is(err, storage.ErrNotRunning) {
		m.logger.Warn("open experiment was already closed", slog.Int64("experiment", id))
		m.current = nil
		return nil
	}
	if err != nil {
		// the row keeps its prior state; the pointer is kept so the close can be retried
		return fmt.Errorf("closing experiment %d: %w", id, err)
	}

	m.current = nil

	m.logger.Info("experiment closed", slog.Int64("experiment", id), slog.Time("endedAt", endedAt))
	return nil
}

// InsertSample persists r under the open experiment. It returns ErrNotRecording
// and writes nothing when recording is disabled.
//
// A reading tagged with an experiment id is only written to that experiment:
// readings still queued when a new experiment replaced theirs are rejected.
// Untagged readings go to whichever experiment is open.
func (m *Manager) InsertSample(ctx context.Context, r *telemetry.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active.Load() == 0 || m.current == nil {
		return ErrNotRecording
	}
	if r.ExperimentID != 0 && r.ExperimentID != *m.current {
		return fmt.Errorf("%w: reading belongs to closed experiment %d", ErrNotRecording, r.ExperimentID)
	}

	_, err := m.store.InsertRecord(ctx, &telemetry.Record{
		ExperimentID:  *m.current,
		ReceivedAt:    r.ReceivedAt,
		DeviceTimeMs:  r.DeviceTimeMs,
		ADCValue:      r.ADCValue,
		VoltageMv:     r.VoltageMv,
		ControlSignal: r.ControlSignal,
	})
	if err != nil {
		return fmt.Errorf("inserting sample: %w", err)
	}
	return nil
}

// IsRecording reports whether ingested samples should be forwarded for persistence.
// It does not wait for in-flight writes.
func (m *Manager) IsRecording() bool {
	return m.active.Load() != 0
}

// Recording returns the experiment accepting samples. ok is false while
// recording is disabled. Like IsRecording it never blocks.
func (m *Manager) Recording() (experimentID int64, ok bool) {
	id := m.active.Load()
	return id, id != 0
}

// State returns the recording flag and the open experiment, if any. The
// experiment stays set while recording is off only when its close failed.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := State{Recording: m.active.Load() != 0}
	if m.current != nil {
		id := *m.current
		s.ExperimentID = &id
	}
	return s
}

// CompletedExperiments lists completed experiments newest first.
func (m *Manager) CompletedExperiments(ctx context.Context) ([]*telemetry.Experiment, error) {
	experiments, err := m.store.CompletedExperiments(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing experiments: %w", err)
	}
	return experiments, nil
}

// Samples returns all records of an experiment ordered by device time. Records of
// completed experiments never change, so they are served from cache when possible.
func (m *Manager) Samples(ctx context.Context, experimentID int64) ([]*telemetry.Record, error) {
	if records, ok := m.records.GetIfPresent(experimentID); ok {
		return records, nil
	}

	// the status is read first: once completed, no insert can reach the row
	var final bool
	e, err := m.store.Experiment(ctx, experimentID)
	switch {
	case err == nil:
		final = e.Status == telemetry.StatusCompleted
	case !errors.Is(err, storage.ErrExperimentNotFound):
		return nil, fmt.Errorf("reading experiment: %w", err)
	}

	records, err := m.store.Records(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("reading samples: %w", err)
	}

	if final {
		m.records.Set(experimentID, records)
	}
	return records, nil
}

// DeleteExperiment removes a closed experiment and its samples.
func (m *Manager) DeleteExperiment(ctx context.Context, experimentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && *m.current == experimentID {
		return fmt.Errorf("deleting experiment %d: %w", experimentID, ErrExperimentRunning)
	}

	if err := m.store.DeleteExperiment(ctx, experimentID); err != nil {
		return fmt.Errorf("deleting experiment: %w", err)
	}
	m.records.Invalidate(experimentID)

	m.logger.Info("experiment deleted", slog.Int64("experiment", experimentID))
	return nil
}
