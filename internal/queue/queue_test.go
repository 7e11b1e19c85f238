package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBounded_InvalidCapacity(t *testing.T) {
	for _, c := range []int{0, -1} {
		if _, err := New[int]("test", c); err == nil {
			t.Errorf("expected error for capacity %d", c)
		}
	}
}

func TestBounded_DropNewest(t *testing.T) {
	const capacity = 4

	q, err := New[int]("test", capacity)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	for i := 0; i < capacity; i++ {
		if !q.TryPut(i) {
			t.Fatalf("TryPut(%d) failed on a queue that is not full", i)
		}
	}

	if q.TryPut(capacity) {
		t.Fatalf("TryPut succeeded on a full queue")
	}

	for i := 0; i < capacity; i++ {
		v, ok := q.TryTake()
		if !ok {
			t.Fatalf("TryTake failed at position %d", i)
		}
		if v != i {
			t.Errorf("position %d: got %d, want %d", i, v, i)
		}
	}

	if _, ok := q.TryTake(); ok {
		t.Errorf("expected queue to be empty")
	}

	stats := q.Stats()
	if stats.Enqueued != capacity || stats.Dropped != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestBounded_TryPutDoesNotBlock(t *testing.T) {
	q, _ := New[int]("test", 1)
	q.TryPut(1)

	done := make(chan struct{})
	go func() {
		q.TryPut(2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("TryPut blocked on a full queue")
	}
}

func TestBounded_TakeBlocksUntilItem(t *testing.T) {
	q, _ := New[string]("test", 2)

	got := make(chan string, 1)
	go func() {
		v, err := q.Take(context.Background())
		if err != nil {
			t.Errorf("Take failed: %v", err)
		}
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("Take returned before anything was queued")
	case <-time.After(50 * time.Millisecond):
	}

	q.TryPut("hello")

	select {
	case v := <-got:
		if v != "hello" {
			t.Errorf("got %q, want %q", v, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("Take did not wake up")
	}
}

func TestBounded_TakeCancelled(t *testing.T) {
	q, _ := New[int]("test", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Take(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestBounded_PutWaitsForRoom(t *testing.T) {
	q, _ := New[int]("test", 1)
	q.TryPut(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Put(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.TryTake()
	}()

	if err := q.Put(context.Background(), 3); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if v, _ := q.TryTake(); v != 3 {
		t.Errorf("got %d, want 3", v)
	}
}

func TestBounded_Drain(t *testing.T) {
	q, _ := New[int]("test", 10)
	for i := 0; i < 5; i++ {
		q.TryPut(i)
	}

	items := q.Drain(3)
	if len(items) != 3 || items[0] != 0 || items[2] != 2 {
		t.Errorf("unexpected first drain: %v", items)
	}

	items = q.Drain(10)
	if len(items) != 2 || items[0] != 3 {
		t.Errorf("unexpected second drain: %v", items)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
}

func TestBounded_ConcurrentProducers(t *testing.T) {
	const (
		producers = 8
		perWorker = 100
	)

	q, _ := New[int]("test", producers*perWorker)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				q.TryPut(i)
			}
		}()
	}
	wg.Wait()

	if q.Len() != producers*perWorker {
		t.Errorf("got %d items, want %d", q.Len(), producers*perWorker)
	}
}
