package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sweep/internal/domain"
	"github.com/aristath/sweep/internal/events"
	"github.com/aristath/sweep/internal/modules/batch"
)

type runnerFunc func(ctx context.Context, req domain.RunRequest) (*domain.RunMetrics, error)

func (f runnerFunc) Run(ctx context.Context, req domain.RunRequest) (*domain.RunMetrics, error) {
	return f(ctx, req)
}

func setupServer(t *testing.T, runner domain.Runner) (*httptest.Server, *batch.Orchestrator) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	repo := batch.NewRepository(db, zerolog.Nop())
	require.NoError(t, repo.InitSchema())

	em := events.NewManager(zerolog.Nop())
	orchestrator := batch.NewOrchestrator(repo, runner, em, 2, 1000, zerolog.Nop())

	r := chi.NewRouter()
	handler := NewHandler(orchestrator, zerolog.Nop())
	r.Route("/api", handler.RegisterRoutes)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, orchestrator
}

func okRunner() domain.Runner {
	return runnerFunc(func(ctx context.Context, req domain.RunRequest) (*domain.RunMetrics, error) {
		return &domain.RunMetrics{TotalReturn: 0.25, SharpeRatio: 1.1}, nil
	})
}

func createBody(jobID string, values ...string) []byte {
	assignments := make([]map[string]string, 0, len(values))
	for _, v := range values {
		assignments = append(assignments, map[string]string{"alloc": v})
	}
	body := map[string]interface{}{
		"jobId":   jobID,
		"jobName": "alloc sweep",
		"variables": []map[string]interface{}{
			{"name": "alloc", "type": "number", "values": values},
		},
		"assignments": assignments,
		"baseStrategy": map[string]interface{}{
			"elements": []map[string]interface{}{
				{"type": "ticker", "id": "t1", "ticker": "SPY", "weight": "$alloc"},
			},
			"benchmarkSymbol": "SPY",
			"startDate":       "2020-01-01",
			"endDate":         "2023-12-31",
		},
	}
	data, _ := json.Marshal(body)
	return data
}

func waitForTerminal(t *testing.T, server *httptest.Server, jobID string) batch.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(fmt.Sprintf("%s/api/batch-jobs/%s", server.URL, jobID))
		require.NoError(t, err)

		var job batch.Job
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
		resp.Body.Close()

		if batch.IsTerminal(job.Status) {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return batch.Job{}
}

func TestCreateAccepted(t *testing.T) {
	server, _ := setupServer(t, okRunner())

	resp, err := http.Post(server.URL+"/api/batch-jobs", "application/json",
		bytes.NewReader(createBody("job-1", "20", "40")))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var job batch.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, batch.StatusQueued, job.Status)
	assert.Equal(t, 2, job.Total)

	final := waitForTerminal(t, server, "job-1")
	assert.Equal(t, batch.StatusFinished, final.Status)
	assert.Equal(t, 2, final.Completed)
	require.NotNil(t, final.Summary)
	assert.Equal(t, 0.25, final.Summary.BestTotalReturn)
}

func TestCreateValidationFailure(t *testing.T) {
	server, _ := setupServer(t, okRunner())

	body := createBody("job-1")
	resp, err := http.Post(server.URL+"/api/batch-jobs", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateMalformedBody(t *testing.T) {
	server, _ := setupServer(t, okRunner())

	resp, err := http.Post(server.URL+"/api/batch-jobs", "application/json",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetUnknownJob(t *testing.T) {
	server, _ := setupServer(t, okRunner())

	resp, err := http.Get(server.URL + "/api/batch-jobs/missing")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelStatusCodes(t *testing.T) {
	release := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, req domain.RunRequest) (*domain.RunMetrics, error) {
		<-release
		return &domain.RunMetrics{TotalReturn: 0.1}, nil
	})
	server, _ := setupServer(t, runner)

	resp, err := http.Post(server.URL+"/api/batch-jobs", "application/json",
		bytes.NewReader(createBody("job-1", "10", "20", "30")))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Unknown job
	resp, err = http.Post(server.URL+"/api/batch-jobs/missing/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Active job
	resp, err = http.Post(server.URL+"/api/batch-jobs/job-1/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	close(release)
	job := waitForTerminal(t, server, "job-1")
	assert.Equal(t, batch.StatusFailed, job.Status)
	assert.Equal(t, "Cancelled by user", job.Error)

	// Terminal job
	resp, err = http.Post(server.URL+"/api/batch-jobs/job-1/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestViewEndpoint(t *testing.T) {
	server, _ := setupServer(t, okRunner())

	resp, err := http.Post(server.URL+"/api/batch-jobs", "application/json",
		bytes.NewReader(createBody("job-1", "10", "20", "30")))
	require.NoError(t, err)
	resp.Body.Close()

	job := waitForTerminal(t, server, "job-1")
	require.Equal(t, batch.StatusFinished, job.Status)
	require.NotEmpty(t, job.ViewRef)

	resp, err = http.Get(server.URL + job.ViewRef)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view ViewResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, 3, view.Total)
	assert.False(t, view.Truncated)
	require.NotNil(t, view.Summary)
	assert.Len(t, view.Runs, 3)
	assert.Equal(t, "10", view.Runs[0].Assignment["alloc"])

	// Paginated
	resp, err = http.Get(server.URL + "/api/batch-jobs/job-1/view?limit=1&offset=2")
	require.NoError(t, err)
	defer resp.Body.Close()

	var page ViewResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	require.Len(t, page.Runs, 1)
	assert.Equal(t, 2, page.Runs[0].RunIndex)
}

func TestCSVEndpoint(t *testing.T) {
	server, _ := setupServer(t, okRunner())

	resp, err := http.Post(server.URL+"/api/batch-jobs", "application/json",
		bytes.NewReader(createBody("job-1", "10", "20")))
	require.NoError(t, err)
	resp.Body.Close()

	job := waitForTerminal(t, server, "job-1")
	require.NotEmpty(t, job.CSVRef)

	resp, err = http.Get(server.URL + job.CSVRef)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "alloc,totalReturn")
}
