// Package handlers provides HTTP handlers for batch job management.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/sweep/internal/modules/batch"
)

// Handler provides HTTP handlers for batch job endpoints
type Handler struct {
	orchestrator *batch.Orchestrator
	log          zerolog.Logger
}

// NewHandler creates a new batch handler
func NewHandler(orchestrator *batch.Orchestrator, log zerolog.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		log:          log.With().Str("handler", "batch").Logger(),
	}
}

// RegisterRoutes registers batch job routes on the given router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/batch-jobs", h.HandleCreate)
	r.Get("/batch-jobs/{id}", h.HandleGet)
	r.Post("/batch-jobs/{id}/cancel", h.HandleCancel)
	r.Get("/batch-jobs/{id}/view", h.HandleView)
	r.Get("/batch-jobs/{id}/csv", h.HandleCSV)
}

// HandleCreate handles POST /api/batch-jobs
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req batch.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	job, err := h.orchestrator.Create(req)
	if err != nil {
		if batch.IsValidation(err) {
			h.log.Warn().Err(err).Str("job_id", req.JobID).Msg("Job request rejected")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error().Err(err).Str("job_id", req.JobID).Msg("Failed to create batch job")
		http.Error(w, "Failed to create batch job", http.StatusInternalServerError)
		return
	}

	h.log.Info().Str("job_id", job.ID).Int("total", job.Total).Msg("Batch job accepted")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job)
}

// HandleGet handles GET /api/batch-jobs/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := h.orchestrator.Get(id)
	if err != nil {
		h.writeJobError(w, id, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// HandleCancel handles POST /api/batch-jobs/{id}/cancel
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.orchestrator.Cancel(id); err != nil {
		h.writeJobError(w, id, err)
		return
	}

	response := map[string]string{"status": "cancelling"}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ViewResponse is the display payload for a job's results
type ViewResponse struct {
	Summary   *batch.Summary      `json:"summary"`
	Total     int                 `json:"total"`
	Truncated bool                `json:"truncated"`
	Detail    []batch.DetailEntry `json:"detail"`
	Runs      []*batch.RunResult  `json:"runs"`
}

// HandleView handles GET /api/batch-jobs/{id}/view
// Supports limit/offset query parameters for paginated display.
func (h *Handler) HandleView(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := h.orchestrator.Get(id)
	if err != nil {
		h.writeJobError(w, id, err)
		return
	}

	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	runs, err := h.orchestrator.Results(id, limit, offset)
	if err != nil {
		h.writeJobError(w, id, err)
		return
	}
	if runs == nil {
		runs = []*batch.RunResult{}
	}

	response := ViewResponse{
		Summary:   job.Summary,
		Total:     job.Total,
		Truncated: job.Truncated,
		Detail:    job.Detail,
		Runs:      runs,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// HandleCSV handles GET /api/batch-jobs/{id}/csv
func (h *Handler) HandleCSV(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := h.orchestrator.Get(id)
	if err != nil {
		h.writeJobError(w, id, err)
		return
	}

	runs, err := h.orchestrator.Results(id, 0, 0)
	if err != nil {
		h.writeJobError(w, id, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="batch-%s.csv"`, id))
	if err := batch.WriteCSV(w, job.Detail, runs); err != nil {
		h.log.Error().Err(err).Str("job_id", id).Msg("Failed to write csv")
	}
}

func (h *Handler) writeJobError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, batch.ErrNotFound):
		http.Error(w, "Job not found", http.StatusNotFound)
	case errors.Is(err, batch.ErrInvalidState):
		http.Error(w, "Job is already in a terminal state", http.StatusConflict)
	default:
		h.log.Error().Err(err).Str("job_id", id).Msg("Batch job operation failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
