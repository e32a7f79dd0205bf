package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/sweep/internal/clients/evaluator"
	"github.com/aristath/sweep/internal/database"
	"github.com/aristath/sweep/internal/modules/batch"
)

// SystemHandlers provides system monitoring endpoints
type SystemHandlers struct {
	log             zerolog.Logger
	jobsDB          *database.DB
	batchRepo       *batch.Repository
	evaluatorClient *evaluator.Client
}

// NewSystemHandlers creates system handlers
func NewSystemHandlers(log zerolog.Logger, jobsDB *database.DB, batchRepo *batch.Repository, evaluatorClient *evaluator.Client) *SystemHandlers {
	return &SystemHandlers{
		log:             log.With().Str("handler", "system").Logger(),
		jobsDB:          jobsDB,
		batchRepo:       batchRepo,
		evaluatorClient: evaluatorClient,
	}
}

// SystemStatusResponse represents the system status response
type SystemStatusResponse struct {
	Status           string         `json:"status"`
	EvaluatorHealthy bool           `json:"evaluator_healthy"`
	Jobs             map[string]int `json:"jobs"`
	CPUPercent       float64        `json:"cpu_percent"`
	MemoryPercent    float64        `json:"memory_percent"`
	DBSizeBytes      int64          `json:"db_size_bytes"`
	DBWALSizeBytes   int64          `json:"db_wal_size_bytes"`
}

// HandleSystemStatus returns service and resource status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	response := SystemStatusResponse{Status: "healthy"}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := h.evaluatorClient.Health(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Evaluator health check failed")
		response.Status = "degraded"
	} else {
		response.EvaluatorHealthy = true
	}

	counts, err := h.batchRepo.CountJobsByStatus()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to count jobs")
		counts = map[string]int{}
	}
	response.Jobs = counts

	response.CPUPercent, response.MemoryPercent = h.resourceUsage()

	if stats, err := h.jobsDB.GetStats(); err == nil {
		response.DBSizeBytes = stats.SizeBytes
		response.DBWALSizeBytes = stats.WALSizeBytes
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// resourceUsage samples CPU and memory usage. The short sample window
// keeps the endpoint responsive for polling dashboards.
func (h *SystemHandlers) resourceUsage() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
