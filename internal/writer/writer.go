package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/plant-telemetry/internal/metrics"
	"github.com/roman-kulish/plant-telemetry/internal/session"
	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
)

// ErrStopTimeout is returned by Stop when the writer did not exit within the grace period
var ErrStopTimeout = errors.New("writer did not stop within grace period")

// Queue is the persistence queue the writer drains
type Queue interface {
	Take(ctx context.Context) (Message, error)
	Put(ctx context.Context, m Message) error
}

// Inserter persists one reading
type Inserter interface {
	InsertSample(ctx context.Context, r *telemetry.Reading) error
}

// WithLogger sets the logger for the writer
func WithLogger(logger *slog.Logger) func(w *Writer) {
	return func(w *Writer) {
		w.logger = logger.With(slog.String("component", "writer"))
	}
}

// WithMetrics sets the collector receiving write results
func WithMetrics(c *metrics.Collector) func(w *Writer) {
	return func(w *Writer) {
		w.metrics = c
	}
}

// Writer is the single background worker persisting queued samples. Only one
// writer may drain a queue, so records keep their arrival order in the store.
type Writer struct {
	queue    Queue
	inserter Inserter

	isRunning atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}

	written atomic.Uint64
	failed  atomic.Uint64

	metrics *metrics.Collector
	logger  *slog.Logger
}

// New creates a Writer with a discard logger
func New(q Queue, inserter Inserter, options ...func(w *Writer)) *Writer {
	w := Writer{
		queue:    q,
		inserter: inserter,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&w)
	}

	return &w
}

// Start launches the consume loop. The loop exits when it takes a Shutdown
// message or when ctx is cancelled.
func (w *Writer) Start(ctx context.Context) error {
	if !w.isRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("writer is already running")
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go w.run(ctx)

	return nil
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)

	w.logger.Info("persistence writer started")

	// storage writes are not interrupted once taken off the queue
	writeCtx := context.WithoutCancel(ctx)

	for {
		msg, err := w.queue.Take(ctx)
		if err != nil {
			w.logger.Info("persistence writer cancelled", slog.String("reason", err.Error()))
			return
		}

		switch m := msg.(type) {
		case Shutdown:
			w.logger.Info("persistence writer stopped",
				slog.Uint64("written", w.written.Load()),
				slog.Uint64("failed", w.failed.Load()))
			return

		case SampleMessage:
			w.write(writeCtx, &m.Reading)

		default:
			w.logger.Error(fmt.Sprintf("unexpected message type %T", msg))
		}
	}
}

func (w *Writer) write(ctx context.Context, r *telemetry.Reading) {
	err := w.inserter.InsertSample(ctx, r)

	switch {
	case err == nil:
		w.written.Add(1)
		w.metrics.WriteResult("ok")

	case errors.Is(err, session.ErrNotRecording):
		// recording was turned off while the sample was queued
		w.metrics.WriteResult("skipped")

	default:
		w.failed.Add(1)
		w.metrics.WriteResult("error")
		w.logger.Error("failed to persist sample",
			slog.String("error", err.Error()),
			slog.Int64("deviceTimeMs", r.DeviceTimeMs),
			slog.String("batch", r.BatchID))
	}
}

// Stop enqueues the shutdown marker and waits up to grace for the loop to
// exit. Samples queued before the marker are still written. When the grace
// period ends first the loop is cancelled, Stop returns ErrStopTimeout without
// waiting for an in-flight write.
func (w *Writer) Stop(grace time.Duration) error {
	if !w.isRunning.Load() {
		return nil
	}
	defer w.isRunning.Store(false)

	// the loop already exited on cancellation; nobody would take the marker
	select {
	case <-w.done:
		w.cancel()
		return nil
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := w.queue.Put(ctx, Shutdown{}); err != nil {
		w.cancel()
		return fmt.Errorf("enqueueing shutdown marker: %w", ErrStopTimeout)
	}

	select {
	case <-w.done:
		w.cancel()
		return nil

	case <-ctx.Done():
		w.cancel()
		return ErrStopTimeout
	}
}

// Done is closed when the consume loop has exited.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

// Written returns the number of samples persisted so far.
func (w *Writer) Written() uint64 {
	return w.written.Load()
}

// Failed returns the number of samples that could not be persisted.
func (w *Writer) Failed() uint64 {
	return w.failed.Load()
}
