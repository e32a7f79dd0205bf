// Package batch implements batch backtest sweeps: enumerating
// variable assignments, running each one against the evaluator, and
// tracking job state durably.
package batch

import (
	"github.com/aristath/sweep/internal/domain"
	"github.com/aristath/sweep/internal/modules/strategy"
)

// Job statuses. Transitions are one-directional: queued -> running ->
// finished or failed. Terminal statuses never change.
const (
	StatusQueued   = "queued"
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// IsTerminal reports whether a status admits no further transitions
func IsTerminal(status string) bool {
	return status == StatusFinished || status == StatusFailed
}

// DetailEntry describes one variable's value list in a job
type DetailEntry struct {
	Name   string   `json:"name"`
	Count  int      `json:"count"`
	Values []string `json:"values"`
}

// Summary aggregates total return across a job's successful runs
type Summary struct {
	BestTotalReturn  float64 `json:"bestTotalReturn"`
	WorstTotalReturn float64 `json:"worstTotalReturn"`
	AvgTotalReturn   float64 `json:"avgTotalReturn"`
}

// Job is the durable record of one batch sweep. Timestamps are unix
// milliseconds. Optional fields are pointers so a JSON snapshot can
// distinguish absent from zero.
type Job struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Status      string        `json:"status"`
	Total       int           `json:"total"`
	Completed   int           `json:"completed"`
	Truncated   bool          `json:"truncated"`
	Detail      []DetailEntry `json:"detail"`
	Summary     *Summary      `json:"summary,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   int64         `json:"createdAt"`
	UpdatedAt   int64         `json:"updatedAt"`
	StartedAt   *int64        `json:"startedAt,omitempty"`
	CompletedAt *int64        `json:"completedAt,omitempty"`
	DurationMs  *int64        `json:"durationMs,omitempty"`
	ViewRef     string        `json:"viewRef,omitempty"`
	CSVRef      string        `json:"csvRef,omitempty"`
}

// Clone returns a deep copy of the job for lock-free snapshot reads
func (j *Job) Clone() *Job {
	out := *j
	out.Detail = make([]DetailEntry, len(j.Detail))
	for i, d := range j.Detail {
		values := make([]string, len(d.Values))
		copy(values, d.Values)
		out.Detail[i] = DetailEntry{Name: d.Name, Count: d.Count, Values: values}
	}
	if j.Summary != nil {
		s := *j.Summary
		out.Summary = &s
	}
	if j.StartedAt != nil {
		v := *j.StartedAt
		out.StartedAt = &v
	}
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		out.CompletedAt = &v
	}
	if j.DurationMs != nil {
		v := *j.DurationMs
		out.DurationMs = &v
	}
	return &out
}

// RunResult is the outcome of one assignment's backtest. Failed runs
// carry an error string and nil metrics; they are excluded from the
// job summary.
type RunResult struct {
	RunIndex   int                 `json:"runIndex"`
	Assignment strategy.Assignment `json:"variables"`
	Metrics    *domain.RunMetrics  `json:"metrics,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// BaseStrategy is the strategy payload a job is created with
type BaseStrategy struct {
	Elements        strategy.Tree `json:"elements"`
	BenchmarkSymbol string        `json:"benchmarkSymbol"`
	StartDate       string        `json:"startDate"`
	EndDate         string        `json:"endDate"`
}

// CreateRequest is the body of a job creation call
type CreateRequest struct {
	JobID        string                `json:"jobId"`
	JobName      string                `json:"jobName"`
	Variables    []VariableList        `json:"variables"`
	Assignments  []strategy.Assignment `json:"assignments"`
	BaseStrategy BaseStrategy          `json:"baseStrategy"`
}

// VariableList is a named, ordered, deduplicated list of values
type VariableList struct {
	Name   string   `json:"name"`
	Type   string   `json:"type,omitempty"`
	Values []string `json:"values"`
}
