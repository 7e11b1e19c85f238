package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/roman-kulish/plant-telemetry/internal/queue"
	"github.com/roman-kulish/plant-telemetry/internal/session"
	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
)

type recordingInserter struct {
	mu      sync.Mutex
	written []int64
	failOn  map[int64]error
	block   chan struct{}
}

func (r *recordingInserter) InsertSample(_ context.Context, reading *telemetry.Reading) error {
	if r.block != nil {
		<-r.block
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err, ok := r.failOn[reading.DeviceTimeMs]; ok {
		return err
	}
	r.written = append(r.written, reading.DeviceTimeMs)
	return nil
}

func (r *recordingInserter) Written() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]int64(nil), r.written...)
}

func sample(ms int64) Message {
	return SampleMessage{Reading: telemetry.Reading{DeviceTimeMs: ms}}
}

func newTestQueue(t *testing.T) *queue.Bounded[Message] {
	t.Helper()

	q, err := queue.New[Message]("persistence", 16)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	return q
}

func waitDone(t *testing.T, w *Writer) {
	t.Helper()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not exit")
	}
}

func TestWriter_ShutdownMarker(t *testing.T) {
	q := newTestQueue(t)
	ins := &recordingInserter{}

	for _, m := range []Message{sample(1), sample(2), Shutdown{}, sample(3)} {
		q.TryPut(m)
	}

	w := New(q, ins)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start writer: %v", err)
	}
	waitDone(t, w)

	got := ins.Written()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("expected samples [1 2] written, got %v", got)
	}
	if q.Len() != 1 {
		t.Errorf("expected the sample behind the marker to stay queued, queue has %d", q.Len())
	}
}

func TestWriter_ContinuesAfterFailure(t *testing.T) {
	q := newTestQueue(t)
	ins := &recordingInserter{failOn: map[int64]error{2: errors.New("database is locked")}}

	for _, m := range []Message{sample(1), sample(2), sample(3), Shutdown{}} {
		q.TryPut(m)
	}

	w := New(q, ins)
	_ = w.Start(context.Background())
	waitDone(t, w)

	got := ins.Written()
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("expected samples [1 3] written, got %v", got)
	}
	if w.Failed() != 1 || w.Written() != 2 {
		t.Errorf("unexpected counters: written=%d failed=%d", w.Written(), w.Failed())
	}
}

func TestWriter_SkippedWhenNotRecording(t *testing.T) {
	q := newTestQueue(t)
	ins := &recordingInserter{failOn: map[int64]error{1: session.ErrNotRecording}}

	q.TryPut(sample(1))
	q.TryPut(Shutdown{})

	w := New(q, ins)
	_ = w.Start(context.Background())
	waitDone(t, w)

	if w.Failed() != 0 {
		t.Errorf("skipped samples must not count as failures, got %d", w.Failed())
	}
}

func TestWriter_Stop(t *testing.T) {
	q := newTestQueue(t)
	ins := &recordingInserter{}

	w := New(q, ins)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start writer: %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Errorf("expected error starting a running writer")
	}

	for i := int64(1); i <= 5; i++ {
		q.TryPut(sample(i))
	}

	if err := w.Stop(time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := ins.Written(); len(got) != 5 {
		t.Errorf("expected 5 samples written before shutdown, got %v", got)
	}

	if err := w.Stop(time.Second); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}

func TestWriter_StopTimeout(t *testing.T) {
	q := newTestQueue(t)
	ins := &recordingInserter{block: make(chan struct{})}
	defer close(ins.block)

	w := New(q, ins)
	_ = w.Start(context.Background())

	q.TryPut(sample(1))

	start := time.Now()
	err := w.Stop(50 * time.Millisecond)
	if !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("expected ErrStopTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop waited %v past the grace period", elapsed)
	}
}

func TestWriter_ContextCancel(t *testing.T) {
	q := newTestQueue(t)

	ctx, cancel := context.WithCancel(context.Background())

	w := New(q, &recordingInserter{})
	_ = w.Start(ctx)

	cancel()
	waitDone(t, w)
}

func TestWriter_StopAfterCancel(t *testing.T) {
	q := newTestQueue(t)

	ctx, cancel := context.WithCancel(context.Background())

	w := New(q, &recordingInserter{})
	_ = w.Start(ctx)

	cancel()
	waitDone(t, w)

	if err := w.Stop(time.Second); err != nil {
		t.Fatalf("Stop after cancel failed: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("expected no shutdown marker left in the queue, got %d items", q.Len())
	}
}
