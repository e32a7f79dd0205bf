package batch

import (
	"time"

	"github.com/aristath/sweep/internal/events"
)

// ProgressReporter emits progress events for one job, throttled so a
// fast sweep doesn't flood the event log. Reaching the final run
// always bypasses the throttle.
type ProgressReporter struct {
	eventManager *events.Manager
	jobID        string
	lastReport   time.Time
	minInterval  time.Duration
}

// NewProgressReporter creates a progress reporter with a 100ms
// throttle (10 updates/sec max)
func NewProgressReporter(em *events.Manager, jobID string) *ProgressReporter {
	return &ProgressReporter{
		eventManager: em,
		jobID:        jobID,
		minInterval:  100 * time.Millisecond,
	}
}

// Report emits a progress event unless one was emitted too recently.
// current == total always reports.
func (pr *ProgressReporter) Report(current, total int) {
	if pr.eventManager == nil {
		return
	}

	now := time.Now()
	if now.Sub(pr.lastReport) < pr.minInterval && current != total {
		return
	}
	pr.lastReport = now

	pr.eventManager.Emit(events.JobProgress, "batch", map[string]interface{}{
		"jobId":     pr.jobID,
		"completed": current,
		"total":     total,
	})
}
