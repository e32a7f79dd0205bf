// Package mirror maintains the client's durable local view of batch
// jobs. Each job's record is overwritten from polled server snapshots
// via a field-by-field merge that never loses local data, survives restarts,
// and is used to resume polling after a reload.
package mirror

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// JobRecord is the locally persisted view of one job
type JobRecord struct {
	ID          string   `msgpack:"id"`
	Name        string   `msgpack:"name"`
	Status      string   `msgpack:"status"`
	Total       int      `msgpack:"total"`
	Completed   int      `msgpack:"completed"`
	Truncated   bool     `msgpack:"truncated"`
	Detail      []Detail `msgpack:"detail"`
	HasSummary  bool     `msgpack:"hasSummary"`
	Best        float64  `msgpack:"best"`
	Worst       float64  `msgpack:"worst"`
	Avg         float64  `msgpack:"avg"`
	Error       string   `msgpack:"error"`
	CreatedAt   int64    `msgpack:"createdAt"`
	UpdatedAt   int64    `msgpack:"updatedAt"`
	StartedAt   int64    `msgpack:"startedAt"`
	CompletedAt int64    `msgpack:"completedAt"`
	DurationMs  int64    `msgpack:"durationMs"`
	ViewRef     string   `msgpack:"viewRef"`
	CSVRef      string   `msgpack:"csvRef"`
}

// Detail is the mirrored variable detail entry
type Detail struct {
	Name   string   `msgpack:"name"`
	Count  int      `msgpack:"count"`
	Values []string `msgpack:"values"`
}

// Active reports whether the job still needs polling
func (r *JobRecord) Active() bool {
	return r.Status == "queued" || r.Status == "running"
}

// Store persists job records as msgpack blobs in the cache database
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a mirror store
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "mirror").Logger(),
	}
}

// InitSchema creates the mirror table if it doesn't exist
func (s *Store) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS batch_job_mirror (
		job_id TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_mirror_updated ON batch_job_mirror(updated_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create mirror schema: %w", err)
	}
	return nil
}

// Put overwrites a job's record
func (s *Store) Put(record *JobRecord) error {
	data, err := msgpack.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode mirror record: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO batch_job_mirror (job_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		record.ID, data, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to store mirror record %s: %w", record.ID, err)
	}
	return nil
}

// Get loads a job's record, or nil if unknown
func (s *Store) Get(jobID string) (*JobRecord, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM batch_job_mirror WHERE job_id = ?`, jobID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror record %s: %w", jobID, err)
	}

	var record JobRecord
	if err := msgpack.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("corrupt mirror record %s: %w", jobID, err)
	}
	return &record, nil
}

// List returns every mirrored record
func (s *Store) List() ([]*JobRecord, error) {
	rows, err := s.db.Query(`SELECT data FROM batch_job_mirror ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list mirror records: %w", err)
	}
	defer rows.Close()

	var records []*JobRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var record JobRecord
		if err := msgpack.Unmarshal(data, &record); err != nil {
			// Skip corrupt rows rather than failing the whole list
			s.log.Warn().Err(err).Msg("Skipping corrupt mirror record")
			continue
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

// Delete removes a job's record
func (s *Store) Delete(jobID string) error {
	if _, err := s.db.Exec(`DELETE FROM batch_job_mirror WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to delete mirror record %s: %w", jobID, err)
	}
	return nil
}

// DeleteExpired removes records not updated within the TTL
func (s *Store) DeleteExpired(ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl).UnixMilli()
	res, err := s.db.Exec(`DELETE FROM batch_job_mirror WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired mirror records: %w", err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}
