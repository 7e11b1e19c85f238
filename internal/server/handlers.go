package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/roman-kulish/plant-telemetry/internal/export"
	"github.com/roman-kulish/plant-telemetry/internal/session"
	"github.com/roman-kulish/plant-telemetry/internal/storage"
	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
)

const (
	DefaultLiveBatch = 200
	MaxLiveBatch     = 1000
)

type setpointReq struct {
	Setpoint *float64 `json:"setpoint"`
}

type createdResp struct {
	ID int64 `json:"id"`
}

type experimentResp struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at"`
	DurationSeconds int64      `json:"duration_seconds"`
	Duration        string     `json:"duration"`
	SampleCount     int64      `json:"sample_count"`
}

type liveResp struct {
	Readings []telemetry.Reading `json:"readings"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetpoint(w http.ResponseWriter, r *http.Request) {
	var req setpointReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Setpoint == nil {
		writeError(w, http.StatusBadRequest, "missing setpoint")
		return
	}
	if math.IsNaN(*req.Setpoint) || math.IsInf(*req.Setpoint, 0) {
		writeError(w, http.StatusBadRequest, "setpoint must be finite")
		return
	}

	s.setpoints.Set(*req.Setpoint)

	s.logger.Debug("setpoint queued", slog.Float64("setpoint", *req.Setpoint))
	writeNoContent(w)
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.State())
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	limit := DefaultLiveBatch
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "max must be a positive integer")
			return
		}
		limit = min(n, MaxLiveBatch)
	}

	readings := s.live.Drain(limit)
	if readings == nil {
		readings = []telemetry.Reading{}
	}
	writeJSON(w, http.StatusOK, liveResp{Readings: readings})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessions.StartNewExperiment(r.Context())
	if err != nil {
		s.logger.Error("starting experiment", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not start experiment")
		return
	}
	writeJSON(w, http.StatusCreated, createdResp{ID: id})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.CloseCurrentExperiment(r.Context()); err != nil {
		s.logger.Error("closing experiment", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not close experiment")
		return
	}
	writeNoContent(w)
}

func (s *Server) handleExperiments(w http.ResponseWriter, r *http.Request) {
	experiments, err := s.sessions.CompletedExperiments(r.Context())
	if err != nil {
		s.logger.Error("listing experiments", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not list experiments")
		return
	}

	resp := make([]experimentResp, 0, len(experiments))
	for _, e := range experiments {
		d, _ := e.Duration()
		resp = append(resp, experimentResp{
			ID:              e.ID,
			Name:            e.Name(),
			StartedAt:       e.StartedAt,
			EndedAt:         e.EndedAt,
			DurationSeconds: int64(d / time.Second),
			Duration:        telemetry.FormatDuration(d),
			SampleCount:     e.SampleCount,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	records, err := s.sessions.Samples(r.Context(), id)
	if err != nil {
		s.logger.Error("reading samples", slog.Int64("experiment", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not read samples")
		return
	}
	if records == nil {
		records = []*telemetry.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()

	format := export.FormatCSV
	if v := q.Get("format"); v != "" {
		f, err := export.ParseFormat(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		format = f
	}

	filter, err := export.ParseFilter(q.Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.sessions.Samples(r.Context(), id)
	if err != nil {
		s.logger.Error("reading samples", slog.Int64("experiment", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not read samples")
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, export.ErrNoData.Error())
		return
	}

	exporter, err := export.New(format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filename := fmt.Sprintf("experimento_%d%s", id, format.Extension())
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	// headers are already sent once the exporter writes, so failures are only logged
	if err = exporter.Export(w, records, filter.Apply(records)); err != nil {
		s.logger.Error("exporting experiment",
			slog.Int64("experiment", id),
			slog.String("format", string(format)),
			slog.String("error", err.Error()))
		return
	}

	s.logger.Info("experiment exported",
		slog.Int64("experiment", id),
		slog.String("format", string(format)),
		slog.String("filter", string(filter)),
		slog.Int("samples", len(records)))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	err := s.sessions.DeleteExperiment(r.Context(), id)
	switch {
	case err == nil:
		writeNoContent(w)
	case errors.Is(err, session.ErrExperimentRunning):
		writeError(w, http.StatusConflict, "experiment is running")
	case errors.Is(err, storage.ErrExperimentNotFound):
		writeError(w, http.StatusNotFound, "experiment not found")
	default:
		s.logger.Error("deleting experiment", slog.Int64("experiment", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not delete experiment")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid experiment id")
		return 0, false
	}
	return id, true
}

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
