package ingest

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/roman-kulish/plant-telemetry/internal/metrics"
	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
	"github.com/roman-kulish/plant-telemetry/internal/writer"
)

// DefaultMaxBodyBytes limits the decoded size of one batch
const DefaultMaxBodyBytes = 1 << 20

// ViewerQueue receives every ingested reading
type ViewerQueue interface {
	TryPut(r telemetry.Reading) bool
}

// PersistenceQueue receives readings while recording is enabled
type PersistenceQueue interface {
	TryPut(m writer.Message) bool
}

// Recorder reports the experiment readings should be persisted under. It must
// not block: it is called on every batch.
type Recorder interface {
	Recording() (experimentID int64, ok bool)
}

// Mailbox hands out the pending operator setpoint, at most once
type Mailbox interface {
	Take() *float64
}

// Response is returned to the device after every accepted batch
type Response struct {
	NewSetpoint *float64 `json:"new_setpoint" cbor:"new_setpoint"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

var ulidGenerator = struct {
	sync.Mutex
	*ulid.MonotonicEntropy
}{
	MonotonicEntropy: ulid.Monotonic(rand.Reader, 0),
}

func newBatchID(t time.Time) string {
	ulidGenerator.Lock()
	defer ulidGenerator.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), &ulidGenerator)
	if err != nil {
		return ""
	}
	return id.String()
}

// WithLogger sets the logger for the handler
func WithLogger(logger *slog.Logger) func(h *Handler) {
	return func(h *Handler) {
		h.logger = logger.With(slog.String("component", "ingest"))
	}
}

// WithMetrics sets the collector receiving batch counters
func WithMetrics(c *metrics.Collector) func(h *Handler) {
	return func(h *Handler) {
		h.metrics = c
	}
}

// WithMaxBodyBytes limits the decoded request body size
func WithMaxBodyBytes(n int64) func(h *Handler) {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// WithClock replaces time.Now, used to stamp batch arrival
func WithClock(now func() time.Time) func(h *Handler) {
	return func(h *Handler) {
		h.now = now
	}
}

// Handler is the batch ingestion endpoint. It enriches each sample, fans it out
// to the viewer and persistence queues without ever blocking, and answers with
// the pending setpoint. It is safe for concurrent requests.
type Handler struct {
	viewer      ViewerQueue
	persistence PersistenceQueue
	recorder    Recorder
	mailbox     Mailbox

	maxBodyBytes int64
	now          func() time.Time

	mu        sync.Mutex
	lastBatch time.Time

	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewHandler creates an ingestion handler with a discard logger
func NewHandler(viewer ViewerQueue, persistence PersistenceQueue, recorder Recorder, mailbox Mailbox, options ...func(h *Handler)) *Handler {
	h := Handler{
		viewer:       viewer,
		persistence:  persistence,
		recorder:     recorder,
		mailbox:      mailbox,
		maxBodyBytes: DefaultMaxBodyBytes,
		now:          time.Now,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&h)
	}

	return &h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	arrival := h.now()

	c := codecFor(r.Header.Get("Content-Type"))

	batch, err := h.readBatch(r, c)
	if err != nil {
		h.metrics.BatchRejected()
		h.reject(w, err)
		return
	}

	intervalMs := h.advance(arrival)
	batchID := newBatchID(arrival)
	experimentID, recording := h.recorder.Recording()

	var dropped int
	for i := range batch {
		reading := telemetry.NewReading(&batch[i], arrival, intervalMs, batchID)

		// viewer overflow is expected under UI stalls and is not reported
		h.viewer.TryPut(reading)

		if !recording {
			continue
		}
		reading.ExperimentID = experimentID
		if !h.persistence.TryPut(writer.SampleMessage{Reading: reading}) {
			dropped++
		}
	}

	if dropped > 0 {
		h.logger.Warn("persistence queue full, samples dropped",
			slog.Int("dropped", dropped),
			slog.Int("batchSize", len(batch)),
			slog.String("batch", batchID))
	}

	h.metrics.BatchAccepted(len(batch), intervalMs)

	resp := Response{NewSetpoint: h.mailbox.Take()}
	if resp.NewSetpoint != nil {
		h.metrics.SetpointDelivered()
		h.logger.Info("setpoint delivered", slog.Float64("setpoint", *resp.NewSetpoint))
	}

	h.write(w, c, http.StatusOK, resp)
}

func (h *Handler) readBatch(r *http.Request, c codec) ([]telemetry.Sample, error) {
	if r.Body == nil {
		return nil, ErrNoData
	}

	body, err := decompress(io.LimitReader(r.Body, h.maxBodyBytes+1), r.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	p, err := readBody(body, h.maxBodyBytes)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("reading body: %w", err)
	}

	return decodeBatch(c, p)
}

// advance moves the last batch cursor to arrival and returns the elapsed
// milliseconds, 0 for the first batch.
func (h *Handler) advance(arrival time.Time) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.lastBatch.IsZero() {
		h.lastBatch = arrival
		return 0
	}

	// overlapping requests may be serialized out of arrival order
	if arrival.Before(h.lastBatch) {
		return 0
	}

	elapsed := arrival.Sub(h.lastBatch)
	h.lastBatch = arrival

	return float64(elapsed) / float64(time.Millisecond)
}

func (h *Handler) reject(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNoData):
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: "no data"})

	case errors.Is(err, ErrTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, statusResponse{Status: "payload too large"})

	default:
		h.logger.Debug("batch rejected", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: "invalid data", Error: err.Error()})
	}
}

func (h *Handler) write(w http.ResponseWriter, c codec, status int, v any) {
	p, err := c.marshal(v)
	if err != nil {
		h.logger.Error("encoding response", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", c.contentType)
	w.WriteHeader(status)
	_, _ = w.Write(p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	p, err := jsonCodec.marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(p)
}
