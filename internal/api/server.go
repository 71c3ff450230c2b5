package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ndjson-pipeline/internal/models"
	"ndjson-pipeline/internal/telemetry"
)

// ArrivalProcessor handles one batch of arrival notifications.
type ArrivalProcessor interface {
	ProcessArrivals(ctx context.Context, events []models.ArrivalEvent) models.IngestStats
}

// StateChangeHandler reconciles one job-state notification.
type StateChangeHandler interface {
	HandleStateChange(ctx context.Context, ev models.JobStateEvent) (models.ReconcileResult, error)
}

// Server wires the HTTP entry points that adapt transport events into the
// pipeline. Partial failures come back as 200 with counts and error strings;
// only an unreadable payload fails the whole invocation.
type Server struct {
	ingest     ArrivalProcessor
	reconciler StateChangeHandler
}

// New constructs the API server.
func New(ingest ArrivalProcessor, reconciler StateChangeHandler) *Server {
	return &Server{ingest: ingest, reconciler: reconciler}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/v1/arrivals", s.handleArrivals)
	r.Post("/v1/job-state", s.handleJobState)
	return r
}

type arrivalsRequest struct {
	Records []models.ArrivalEvent `json:"records"`
}

func (s *Server) handleArrivals(w http.ResponseWriter, r *http.Request) {
	var req arrivalsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	stats := s.ingest.ProcessArrivals(r.Context(), req.Records)
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleJobState(w http.ResponseWriter, r *http.Request) {
	var ev models.JobStateEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if ev.JobName == "" || ev.RunID == "" || ev.State == "" {
		http.Error(w, "job_name, run_id and state are required", http.StatusBadRequest)
		return
	}

	result, err := s.reconciler.HandleStateChange(r.Context(), ev)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
