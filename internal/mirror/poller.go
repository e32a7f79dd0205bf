package mirror

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sweep/internal/clients/batchapi"
)

// Poller supervises one fixed-interval ticker per active job. Watch
// is idempotent: a second call for the same job id is a no-op, so
// duplicate overlapping pollers can never exist. Poll failures are
// retried at the next tick indefinitely and never touch the mirror.
type Poller struct {
	api      *batchapi.Client
	store    *Store
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	tickers map[string]chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

// NewPoller creates a poller with the given fixed polling interval
func NewPoller(api *batchapi.Client, store *Store, interval time.Duration, log zerolog.Logger) *Poller {
	return &Poller{
		api:      api,
		store:    store,
		interval: interval,
		log:      log.With().Str("component", "poller").Logger(),
		tickers:  make(map[string]chan struct{}),
	}
}

// Watch starts polling a job until it reaches a terminal state.
// Starting an already watched job does nothing.
func (p *Poller) Watch(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if _, exists := p.tickers[jobID]; exists {
		return
	}

	stop := make(chan struct{})
	p.tickers[jobID] = stop
	p.wg.Add(1)
	go p.loop(jobID, stop)

	p.log.Debug().Str("job_id", jobID).Msg("Started polling job")
}

// Unwatch stops polling a job without waiting for terminal status
func (p *Poller) Unwatch(jobID string) {
	p.mu.Lock()
	stop, exists := p.tickers[jobID]
	if exists {
		delete(p.tickers, jobID)
	}
	p.mu.Unlock()

	if exists {
		close(stop)
	}
}

// Resume restarts pollers for every mirrored job still in an active
// state. Called after process restart.
func (p *Poller) Resume() error {
	records, err := p.store.List()
	if err != nil {
		return err
	}

	resumed := 0
	for _, record := range records {
		if record.Active() {
			p.Watch(record.ID)
			resumed++
		}
	}
	if resumed > 0 {
		p.log.Info().Int("jobs", resumed).Msg("Resumed polling active jobs")
	}
	return nil
}

// Close stops every poller and waits for the loops to exit
func (p *Poller) Close() {
	p.mu.Lock()
	p.closed = true
	for id, stop := range p.tickers {
		close(stop)
		delete(p.tickers, id)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Poller) loop(jobID string, stop chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Poll once immediately so a fast job is not missed for a full
	// interval
	if p.pollOnce(jobID) {
		p.Unwatch(jobID)
		return
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if p.pollOnce(jobID) {
				p.Unwatch(jobID)
				return
			}
		}
	}
}

// pollOnce fetches and merges one snapshot. Returns true when the
// job reached a terminal state and polling should stop.
func (p *Poller) pollOnce(jobID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	snapshot, err := p.api.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, batchapi.ErrNotFound) {
			// The server no longer knows this job; keep the local
			// mirror but stop polling
			p.log.Warn().Str("job_id", jobID).Msg("Job unknown to server, stopping poll")
			return true
		}
		// Transient failure, retry at the next tick
		p.log.Debug().Err(err).Str("job_id", jobID).Msg("Poll failed, will retry")
		return false
	}

	local, err := p.store.Get(jobID)
	if err != nil {
		p.log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to load local mirror")
		local = nil
	}

	merged := Merge(local, snapshot)
	if err := p.store.Put(merged); err != nil {
		p.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to persist mirror record")
		return false
	}

	if !merged.Active() {
		p.log.Info().
			Str("job_id", jobID).
			Str("status", merged.Status).
			Msg("Job reached terminal state, stopping poll")
		return true
	}
	return false
}
