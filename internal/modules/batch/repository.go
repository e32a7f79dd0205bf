package batch

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sweep/internal/database"
	"github.com/aristath/sweep/internal/domain"
)

// Repository persists jobs and their run results. Results are a
// separately addressable artifact keyed by job id, so they stay
// retrievable after the job leaves any in-memory registry.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a batch repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "batch").Logger(),
	}
}

// InitSchema creates the batch tables if they don't exist
func (r *Repository) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS batch_jobs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		completed INTEGER NOT NULL DEFAULT 0,
		truncated INTEGER NOT NULL DEFAULT 0,
		detail TEXT NOT NULL DEFAULT '[]',
		summary TEXT,
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER,
		duration_ms INTEGER,
		view_ref TEXT NOT NULL DEFAULT '',
		csv_ref TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_batch_jobs_status ON batch_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_batch_jobs_updated ON batch_jobs(updated_at);

	CREATE TABLE IF NOT EXISTS batch_results (
		job_id TEXT NOT NULL,
		run_index INTEGER NOT NULL,
		variables TEXT NOT NULL,
		metrics TEXT,
		error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (job_id, run_index)
	);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create batch schema: %w", err)
	}
	return nil
}

// SaveJob inserts or replaces a job record
func (r *Repository) SaveJob(job *Job) error {
	detail, err := json.Marshal(job.Detail)
	if err != nil {
		return fmt.Errorf("failed to marshal detail: %w", err)
	}

	var summary sql.NullString
	if job.Summary != nil {
		data, err := json.Marshal(job.Summary)
		if err != nil {
			return fmt.Errorf("failed to marshal summary: %w", err)
		}
		summary = sql.NullString{String: string(data), Valid: true}
	}

	_, err = r.db.Exec(`
		INSERT INTO batch_jobs (id, name, status, total, completed, truncated, detail, summary, error, created_at, updated_at, started_at, completed_at, duration_ms, view_ref, csv_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			total = excluded.total,
			completed = excluded.completed,
			truncated = excluded.truncated,
			detail = excluded.detail,
			summary = excluded.summary,
			error = excluded.error,
			updated_at = excluded.updated_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms,
			view_ref = excluded.view_ref,
			csv_ref = excluded.csv_ref`,
		job.ID, job.Name, job.Status, job.Total, job.Completed, boolToInt(job.Truncated),
		string(detail), summary, job.Error, job.CreatedAt, job.UpdatedAt,
		nullableInt64(job.StartedAt), nullableInt64(job.CompletedAt), nullableInt64(job.DurationMs),
		job.ViewRef, job.CSVRef)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob loads one job by id. Returns ErrNotFound for unknown ids.
func (r *Repository) GetJob(id string) (*Job, error) {
	row := r.db.QueryRow(`
		SELECT id, name, status, total, completed, truncated, detail, summary, error, created_at, updated_at, started_at, completed_at, duration_ms, view_ref, csv_ref
		FROM batch_jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListJobsByStatus returns all jobs with one of the given statuses,
// oldest first
func (r *Repository) ListJobsByStatus(statuses ...string) ([]*Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, name, status, total, completed, truncated, detail, summary, error, created_at, updated_at, started_at, completed_at, duration_ms, view_ref, csv_ref
		FROM batch_jobs WHERE status IN (?` + repeatPlaceholder(len(statuses)-1) + `) ORDER BY created_at ASC`

	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountJobsByStatus returns how many jobs hold each status
func (r *Repository) CountJobsByStatus() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT status, COUNT(*) FROM batch_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// MarkInterrupted fails every queued or running job. Called once at
// startup so jobs that were in flight when the process died don't
// stay stuck as running forever.
func (r *Repository) MarkInterrupted(reason string) (int, error) {
	now := time.Now().UnixMilli()
	res, err := r.db.Exec(`
		UPDATE batch_jobs
		SET status = ?, error = ?, updated_at = ?, completed_at = ?
		WHERE status IN (?, ?)`,
		StatusFailed, reason, now, now, StatusQueued, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted jobs: %w", err)
	}

	affected, _ := res.RowsAffected()
	return int(affected), nil
}

// SaveResult upserts one run result, inside a transaction together
// with the job's completed counter so partial progress survives a
// restart consistently
func (r *Repository) SaveResult(jobID string, result *RunResult, completed int) error {
	variables, err := json.Marshal(result.Assignment)
	if err != nil {
		return fmt.Errorf("failed to marshal assignment: %w", err)
	}

	var metrics sql.NullString
	if result.Metrics != nil {
		data, err := json.Marshal(result.Metrics)
		if err != nil {
			return fmt.Errorf("failed to marshal metrics: %w", err)
		}
		metrics = sql.NullString{String: string(data), Valid: true}
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO batch_results (job_id, run_index, variables, metrics, error)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(job_id, run_index) DO UPDATE SET
				variables = excluded.variables,
				metrics = excluded.metrics,
				error = excluded.error`,
			jobID, result.RunIndex, string(variables), metrics, result.Error)
		if err != nil {
			return err
		}

		_, err = tx.Exec(`UPDATE batch_jobs SET completed = ?, updated_at = ? WHERE id = ?`,
			completed, time.Now().UnixMilli(), jobID)
		return err
	})
}

// GetResults loads a job's results ordered by run index. limit <= 0
// means no limit.
func (r *Repository) GetResults(jobID string, limit, offset int) ([]*RunResult, error) {
	query := `SELECT run_index, variables, metrics, error FROM batch_results WHERE job_id = ? ORDER BY run_index ASC`
	args := []interface{}{jobID}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load results for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var results []*RunResult
	for rows.Next() {
		var result RunResult
		var variables string
		var metrics sql.NullString
		if err := rows.Scan(&result.RunIndex, &variables, &metrics, &result.Error); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(variables), &result.Assignment); err != nil {
			return nil, fmt.Errorf("corrupt assignment for job %s run %d: %w", jobID, result.RunIndex, err)
		}
		if metrics.Valid {
			var m domain.RunMetrics
			if err := json.Unmarshal([]byte(metrics.String), &m); err != nil {
				return nil, fmt.Errorf("corrupt metrics for job %s run %d: %w", jobID, result.RunIndex, err)
			}
			result.Metrics = &m
		}
		results = append(results, &result)
	}
	return results, rows.Err()
}

// CountResults returns the number of persisted results for a job
func (r *Repository) CountResults(jobID string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM batch_results WHERE job_id = ?`, jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count results for job %s: %w", jobID, err)
	}
	return count, nil
}

// DeleteExpired removes terminal jobs whose last update is older than
// the TTL, together with their results. Returns the number of jobs
// deleted.
func (r *Repository) DeleteExpired(ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl).UnixMilli()
	deleted := 0

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			DELETE FROM batch_results WHERE job_id IN (
				SELECT id FROM batch_jobs
				WHERE status IN (?, ?) AND updated_at < ?
			)`, StatusFinished, StatusFailed, cutoff)
		if err != nil {
			return err
		}

		res, err := tx.Exec(`
			DELETE FROM batch_jobs WHERE status IN (?, ?) AND updated_at < ?`,
			StatusFinished, StatusFailed, cutoff)
		if err != nil {
			return err
		}

		affected, _ := res.RowsAffected()
		deleted = int(affected)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired jobs: %w", err)
	}

	if deleted > 0 {
		r.log.Info().Int("deleted", deleted).Msg("Removed expired batch jobs")
	}
	return deleted, nil
}

func scanJob(row interface{ Scan(...interface{}) error }) (*Job, error) {
	var job Job
	var truncated int
	var detail string
	var summary sql.NullString
	var startedAt, completedAt, durationMs sql.NullInt64

	err := row.Scan(&job.ID, &job.Name, &job.Status, &job.Total, &job.Completed, &truncated,
		&detail, &summary, &job.Error, &job.CreatedAt, &job.UpdatedAt,
		&startedAt, &completedAt, &durationMs, &job.ViewRef, &job.CSVRef)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.Truncated = truncated != 0
	if err := json.Unmarshal([]byte(detail), &job.Detail); err != nil {
		return nil, fmt.Errorf("corrupt detail for job %s: %w", job.ID, err)
	}
	if summary.Valid {
		var s Summary
		if err := json.Unmarshal([]byte(summary.String), &s); err != nil {
			return nil, fmt.Errorf("corrupt summary for job %s: %w", job.ID, err)
		}
		job.Summary = &s
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Int64
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Int64
	}
	if durationMs.Valid {
		job.DurationMs = &durationMs.Int64
	}
	return &job, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
