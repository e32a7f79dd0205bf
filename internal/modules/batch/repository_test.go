package batch

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sweep/internal/domain"
	"github.com/aristath/sweep/internal/modules/strategy"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	// In-memory databases are per-connection; keep the pool at one
	db.SetMaxOpenConns(1)

	t.Cleanup(func() { db.Close() })
	return db
}

func setupRepo(t *testing.T) *Repository {
	repo := NewRepository(setupTestDB(t), zerolog.Nop())
	require.NoError(t, repo.InitSchema())
	return repo
}

func testJob(id string) *Job {
	now := time.Now().UnixMilli()
	return &Job{
		ID:     id,
		Name:   "sweep " + id,
		Status: StatusQueued,
		Total:  3,
		Detail: []DetailEntry{
			{Name: "rsi_period", Count: 3, Values: []string{"10", "14", "20"}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSaveAndGetJob(t *testing.T) {
	repo := setupRepo(t)

	job := testJob("job-1")
	require.NoError(t, repo.SaveJob(job))

	loaded, err := repo.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, loaded.ID)
	assert.Equal(t, job.Name, loaded.Name)
	assert.Equal(t, StatusQueued, loaded.Status)
	assert.Equal(t, 3, loaded.Total)
	assert.Equal(t, job.Detail, loaded.Detail)
	assert.Nil(t, loaded.Summary)
	assert.Nil(t, loaded.StartedAt)
}

func TestGetJobNotFound(t *testing.T) {
	repo := setupRepo(t)

	_, err := repo.GetJob("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveJobUpsertsTerminalFields(t *testing.T) {
	repo := setupRepo(t)

	job := testJob("job-1")
	require.NoError(t, repo.SaveJob(job))

	started := time.Now().UnixMilli()
	completedAt := started + 1500
	duration := int64(1500)
	job.Status = StatusFinished
	job.Completed = 3
	job.StartedAt = &started
	job.CompletedAt = &completedAt
	job.DurationMs = &duration
	job.Summary = &Summary{BestTotalReturn: 0.4, WorstTotalReturn: -0.1, AvgTotalReturn: 0.12}
	job.ViewRef = "/api/batch-jobs/job-1/view"
	job.CSVRef = "/api/batch-jobs/job-1/csv"
	require.NoError(t, repo.SaveJob(job))

	loaded, err := repo.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, loaded.Status)
	assert.Equal(t, 3, loaded.Completed)
	require.NotNil(t, loaded.Summary)
	assert.Equal(t, 0.4, loaded.Summary.BestTotalReturn)
	require.NotNil(t, loaded.DurationMs)
	assert.Equal(t, int64(1500), *loaded.DurationMs)
	assert.Equal(t, "/api/batch-jobs/job-1/view", loaded.ViewRef)
	assert.Equal(t, "/api/batch-jobs/job-1/csv", loaded.CSVRef)
}

func TestSaveResultAndGetResults(t *testing.T) {
	repo := setupRepo(t)
	require.NoError(t, repo.SaveJob(testJob("job-1")))

	for i, period := range []string{"10", "14", "20"} {
		result := &RunResult{
			RunIndex:   i,
			Assignment: strategy.Assignment{"rsi_period": period},
			Metrics:    &domain.RunMetrics{TotalReturn: float64(i) * 0.1},
		}
		require.NoError(t, repo.SaveResult("job-1", result, i+1))
	}

	results, err := repo.GetResults("job-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "14", results[1].Assignment["rsi_period"])
	assert.Equal(t, 0.2, results[2].Metrics.TotalReturn)

	// Completed counter is persisted in the same transaction
	job, err := repo.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, 3, job.Completed)

	count, err := repo.CountResults("job-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestGetResultsPagination(t *testing.T) {
	repo := setupRepo(t)
	require.NoError(t, repo.SaveJob(testJob("job-1")))

	for i := 0; i < 5; i++ {
		result := &RunResult{
			RunIndex:   i,
			Assignment: strategy.Assignment{"rsi_period": "14"},
			Metrics:    &domain.RunMetrics{TotalReturn: float64(i)},
		}
		require.NoError(t, repo.SaveResult("job-1", result, i+1))
	}

	page, err := repo.GetResults("job-1", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 2, page[0].RunIndex)
	assert.Equal(t, 3, page[1].RunIndex)
}

func TestSaveResultFailedRun(t *testing.T) {
	repo := setupRepo(t)
	require.NoError(t, repo.SaveJob(testJob("job-1")))

	result := &RunResult{
		RunIndex:   0,
		Assignment: strategy.Assignment{"rsi_period": "10"},
		Error:      "evaluator failed for run 0: connection refused",
	}
	require.NoError(t, repo.SaveResult("job-1", result, 1))

	results, err := repo.GetResults("job-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Metrics)
	assert.Contains(t, results[0].Error, "connection refused")
}

func TestMarkInterrupted(t *testing.T) {
	repo := setupRepo(t)

	queued := testJob("job-q")
	running := testJob("job-r")
	running.Status = StatusRunning
	finished := testJob("job-f")
	finished.Status = StatusFinished
	require.NoError(t, repo.SaveJob(queued))
	require.NoError(t, repo.SaveJob(running))
	require.NoError(t, repo.SaveJob(finished))

	count, err := repo.MarkInterrupted("Interrupted by restart")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	job, err := repo.GetJob("job-r")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "Interrupted by restart", job.Error)

	// Terminal jobs are untouched
	job, err = repo.GetJob("job-f")
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, job.Status)
	assert.Empty(t, job.Error)
}

func TestDeleteExpired(t *testing.T) {
	repo := setupRepo(t)

	old := testJob("job-old")
	old.Status = StatusFinished
	old.UpdatedAt = time.Now().Add(-48 * time.Hour).UnixMilli()
	require.NoError(t, repo.SaveJob(old))
	require.NoError(t, repo.SaveResult("job-old", &RunResult{
		RunIndex:   0,
		Assignment: strategy.Assignment{"rsi_period": "10"},
		Metrics:    &domain.RunMetrics{TotalReturn: 0.1},
	}, 1))
	// SaveResult bumps updated_at; push it back again
	_, err := repo.db.Exec(`UPDATE batch_jobs SET updated_at = ? WHERE id = ?`, old.UpdatedAt, "job-old")
	require.NoError(t, err)

	fresh := testJob("job-fresh")
	fresh.Status = StatusFinished
	require.NoError(t, repo.SaveJob(fresh))

	active := testJob("job-active")
	active.Status = StatusRunning
	active.UpdatedAt = old.UpdatedAt
	require.NoError(t, repo.SaveJob(active))

	deleted, err := repo.DeleteExpired(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = repo.GetJob("job-old")
	assert.ErrorIs(t, err, ErrNotFound)

	count, err := repo.CountResults("job-old")
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = repo.GetJob("job-fresh")
	assert.NoError(t, err)
	_, err = repo.GetJob("job-active")
	assert.NoError(t, err)
}

func TestCountJobsByStatus(t *testing.T) {
	repo := setupRepo(t)

	for i, status := range []string{StatusQueued, StatusRunning, StatusRunning, StatusFinished} {
		job := testJob(string(rune('a' + i)))
		job.Status = status
		require.NoError(t, repo.SaveJob(job))
	}

	counts, err := repo.CountJobsByStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusQueued])
	assert.Equal(t, 2, counts[StatusRunning])
	assert.Equal(t, 1, counts[StatusFinished])
}
