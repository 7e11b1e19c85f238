package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/roman-kulish/plant-telemetry/internal/queue"
)

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	c.BatchAccepted(3, 10)
	c.BatchRejected()
	c.WriteResult("ok")
	c.SetpointDelivered()
	c.RegisterQueue(nil)
}

func TestCollector_Exposition(t *testing.T) {
	c := NewCollector()

	q, err := queue.New[int]("viewer", 1)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	c.RegisterQueue(q)

	q.TryPut(1)
	q.TryPut(2)

	c.BatchAccepted(2, 100)
	c.BatchRejected()
	c.WriteResult("ok")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`plant_ingest_batches_total{result="accepted"} 1`,
		`plant_ingest_batches_total{result="rejected"} 1`,
		`plant_ingest_samples_total 2`,
		`plant_queue_dropped_total{queue="viewer"} 1`,
		`plant_queue_enqueued_total{queue="viewer"} 1`,
		`plant_queue_depth{queue="viewer"} 1`,
		`plant_writer_writes_total{result="ok"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
