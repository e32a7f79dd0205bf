package mirror

import (
	"time"

	"github.com/rs/zerolog"
)

// CleanupJob prunes mirror records that have not been touched within
// the retention TTL
type CleanupJob struct {
	store *Store
	ttl   time.Duration
	log   zerolog.Logger
}

// NewCleanupJob creates a mirror cleanup job
func NewCleanupJob(store *Store, ttl time.Duration, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		store: store,
		ttl:   ttl,
		log:   log.With().Str("job", "mirror_cleanup").Logger(),
	}
}

// Name returns the job name for scheduler logging
func (j *CleanupJob) Name() string {
	return "mirror_cleanup"
}

// Run deletes expired mirror records
func (j *CleanupJob) Run() error {
	deleted, err := j.store.DeleteExpired(j.ttl)
	if err != nil {
		return err
	}
	if deleted > 0 {
		j.log.Info().Int("deleted", deleted).Msg("Removed stale mirror records")
	}
	return nil
}
