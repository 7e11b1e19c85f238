package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/roman-kulish/plant-telemetry/internal/queue"
)

const namespace = "plant"

// QueueStats is implemented by the bounded queues
type QueueStats interface {
	Name() string
	Len() int
	Cap() int
	Stats() queue.Stats
}

// Collector manages the Prometheus metrics of the telemetry pipeline. All
// methods are safe to call on a nil Collector.
type Collector struct {
	registry *prometheus.Registry

	batches       *prometheus.CounterVec
	samples       prometheus.Counter
	batchInterval prometheus.Histogram
	writes        *prometheus.CounterVec
	setpoints     prometheus.Counter
}

// NewCollector creates a collector backed by its own registry, including the
// Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_batches_total",
			Help:      "Ingestion requests by result",
		}, []string{"result"}),

		samples: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_samples_total",
			Help:      "Samples received in accepted batches",
		}),

		batchInterval: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_interval_ms",
			Help:      "Time between consecutive accepted batches in milliseconds",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),

		writes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writer_writes_total",
			Help:      "Persistence writer operations by result",
		}, []string{"result"}),

		setpoints: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "setpoints_delivered_total",
			Help:      "Setpoints returned to the device",
		}),
	}
}

// RegisterQueue exports depth, capacity and delivery counters of q.
func (c *Collector) RegisterQueue(q QueueStats) {
	if c == nil {
		return
	}

	labels := prometheus.Labels{"queue": q.Name()}
	factory := promauto.With(c.registry)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "queue_depth",
		Help:        "Items waiting in the queue",
		ConstLabels: labels,
	}, func() float64 { return float64(q.Len()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "queue_capacity",
		Help:        "Maximum number of items the queue holds",
		ConstLabels: labels,
	}, func() float64 { return float64(q.Cap()) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "queue_enqueued_total",
		Help:        "Items accepted by the queue",
		ConstLabels: labels,
	}, func() float64 { return float64(q.Stats().Enqueued) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "queue_dropped_total",
		Help:        "Items dropped because the queue was full",
		ConstLabels: labels,
	}, func() float64 { return float64(q.Stats().Dropped) })
}

func (c *Collector) BatchAccepted(samples int, intervalMs float64) {
	if c == nil {
		return
	}
	c.batches.WithLabelValues("accepted").Inc()
	c.samples.Add(float64(samples))
	c.batchInterval.Observe(intervalMs)
}

func (c *Collector) BatchRejected() {
	if c == nil {
		return
	}
	c.batches.WithLabelValues("rejected").Inc()
}

// WriteResult counts one writer operation; result is "ok", "error" or "skipped".
func (c *Collector) WriteResult(result string) {
	if c == nil {
		return
	}
	c.writes.WithLabelValues(result).Inc()
}

func (c *Collector) SetpointDelivered() {
	if c == nil {
		return
	}
	c.setpoints.Inc()
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
