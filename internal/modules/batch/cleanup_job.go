package batch

import (
	"time"

	"github.com/rs/zerolog"
)

// CleanupJob removes terminal jobs older than the retention TTL.
// Scheduled by the cron scheduler.
type CleanupJob struct {
	repo *Repository
	ttl  time.Duration
	log  zerolog.Logger
}

// NewCleanupJob creates a cleanup job with the given retention TTL
func NewCleanupJob(repo *Repository, ttl time.Duration, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo: repo,
		ttl:  ttl,
		log:  log.With().Str("job", "batch_cleanup").Logger(),
	}
}

// Name returns the job name for scheduler logging
func (j *CleanupJob) Name() string {
	return "batch_cleanup"
}

// Run deletes expired jobs and their results
func (j *CleanupJob) Run() error {
	deleted, err := j.repo.DeleteExpired(j.ttl)
	if err != nil {
		return err
	}
	j.log.Debug().Int("deleted", deleted).Msg("Batch cleanup completed")
	return nil
}
