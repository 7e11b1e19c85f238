package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/roman-kulish/plant-telemetry/internal/metrics"
	"github.com/roman-kulish/plant-telemetry/internal/session"
	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
)

const (
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

// Sessions is the experiment lifecycle exposed to operators
type Sessions interface {
	State() session.State
	StartNewExperiment(ctx context.Context) (int64, error)
	CloseCurrentExperiment(ctx context.Context) error
	CompletedExperiments(ctx context.Context) ([]*telemetry.Experiment, error)
	Samples(ctx context.Context, experimentID int64) ([]*telemetry.Record, error)
	DeleteExperiment(ctx context.Context, experimentID int64) error
}

// Setpoints accepts operator setpoints for the device
type Setpoints interface {
	Set(v float64)
}

// LiveQueue is drained by live viewers
type LiveQueue interface {
	Drain(max int) []telemetry.Reading
}

// WithLogger sets the logger for the server
func WithLogger(logger *slog.Logger) func(s *Server) {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "server"))
	}
}

// WithMetrics exposes the collector registry on /metrics
func WithMetrics(c *metrics.Collector) func(s *Server) {
	return func(s *Server) {
		s.metrics = c
	}
}

// WithTimeouts sets the HTTP read and write timeouts. Zero keeps the default.
func WithTimeouts(read, write time.Duration) func(s *Server) {
	return func(s *Server) {
		if read > 0 {
			s.srv.ReadTimeout = read
		}
		if write > 0 {
			s.srv.WriteTimeout = write
		}
	}
}

// WithShutdownTimeout bounds how long in-flight requests may finish on shutdown
func WithShutdownTimeout(d time.Duration) func(s *Server) {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// Server serves the device ingestion route and the operator API on one listener.
type Server struct {
	sessions  Sessions
	setpoints Setpoints
	live      LiveQueue
	ingest    http.Handler

	srv             *http.Server
	lis             net.Listener
	shutdownTimeout time.Duration

	metrics *metrics.Collector
	logger  *slog.Logger
}

// New creates a Server. ingest handles POST /data.
func New(sessions Sessions, setpoints Setpoints, live LiveQueue, ingest http.Handler, options ...func(s *Server)) *Server {
	s := Server{
		sessions:  sessions,
		setpoints: setpoints,
		live:      live,
		ingest:    ingest,
		srv: &http.Server{
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
		},
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&s)
	}

	s.srv.Handler = s.routes()
	return &s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /data", s.ingest)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("PUT /api/setpoint", s.handleSetpoint)
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("GET /api/live", s.handleLive)

	mux.HandleFunc("POST /api/experiments", s.handleStart)
	mux.HandleFunc("POST /api/experiments/stop", s.handleStop)
	mux.HandleFunc("GET /api/experiments", s.handleExperiments)
	mux.HandleFunc("GET /api/experiments/{id}/samples", s.handleSamples)
	mux.HandleFunc("GET /api/experiments/{id}/export", s.handleExport)
	mux.HandleFunc("DELETE /api/experiments/{id}", s.handleDelete)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return cors(mux)
}

// Handler returns the routed handler, used by tests and embedding servers
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, l)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.lis = l

	s.logger.Info("http server listening", slog.String("addr", l.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()

	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := s.srv.Shutdown(cctx); err != nil {
			s.logger.Warn("http server shutdown", slog.String("error", err.Error()))
		}
		return nil

	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Encoding")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
