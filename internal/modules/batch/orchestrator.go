package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/sweep/internal/domain"
	"github.com/aristath/sweep/internal/events"
	"github.com/aristath/sweep/internal/modules/strategy"
)

// Orchestrator owns the job registry. Each job runs as an independent
// background task; its record is mutated only via the orchestrator's
// mutex, and reads hand out deep copies.
type Orchestrator struct {
	repo         *Repository
	runner       domain.Runner
	eventManager *events.Manager
	log          zerolog.Logger
	workers      int
	cap          int

	mu   sync.Mutex
	jobs map[string]*jobState

	wg sync.WaitGroup
}

type jobState struct {
	job         *Job
	base        BaseStrategy
	assignments []strategy.Assignment
	cancelled   atomic.Bool
}

type runTask struct {
	index      int
	assignment strategy.Assignment
}

// NewOrchestrator creates an orchestrator with a bounded per-job
// worker pool of the given size and a hard ceiling on enumerated
// assignments per job
func NewOrchestrator(repo *Repository, runner domain.Runner, em *events.Manager, workers, cap int, log zerolog.Logger) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	if cap < 1 {
		cap = 1
	}
	return &Orchestrator{
		repo:         repo,
		runner:       runner,
		eventManager: em,
		log:          log.With().Str("component", "orchestrator").Logger(),
		workers:      workers,
		cap:          cap,
		jobs:         make(map[string]*jobState),
	}
}

// Create validates a job request, registers the job as queued, and
// starts its background run loop. Returns the initial job snapshot
// immediately.
func (o *Orchestrator) Create(req CreateRequest) (*Job, error) {
	detail := buildDetail(req.Variables)
	if err := ValidateDetail(detail); err != nil {
		return nil, err
	}

	listNames := make([]string, 0, len(req.Variables))
	for _, v := range req.Variables {
		listNames = append(listNames, v.Name)
	}
	if missing := strategy.ValidateBindings(req.BaseStrategy.Elements, listNames); len(missing) > 0 {
		return nil, Validationf("unknown variables in strategy: %v", missing)
	}

	var assignments []strategy.Assignment
	var truncated bool
	if len(req.Assignments) == 0 {
		// The client may leave enumeration to the server
		assignments, truncated = Generate(detail, o.cap)
		if len(assignments) == 0 {
			return nil, Validationf("no assignments to run")
		}
	} else {
		if len(req.Assignments) > o.cap {
			return nil, Validationf("assignment count %d exceeds the limit of %d", len(req.Assignments), o.cap)
		}
		// Normalize assignment keys the same way token extraction
		// normalizes variable names
		assignments = make([]strategy.Assignment, 0, len(req.Assignments))
		for _, raw := range req.Assignments {
			normalized := make(strategy.Assignment, len(raw))
			for name, value := range raw {
				normalized[normalizeName(name)] = value
			}
			assignments = append(assignments, normalized)
		}
	}

	required := strategy.ExtractVariables(req.BaseStrategy.Elements)
	for i, assignment := range assignments {
		for name := range required {
			if _, ok := assignment[name]; !ok {
				return nil, Validationf("assignment %d does not bind variable %q", i, name)
			}
		}
	}

	product := 1
	for _, entry := range detail {
		product *= len(entry.Values)
	}
	if product > len(assignments) {
		truncated = true
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	now := time.Now().UnixMilli()
	job := &Job{
		ID:        jobID,
		Name:      req.JobName,
		Status:    StatusQueued,
		Total:     len(assignments),
		Truncated: truncated,
		Detail:    detail,
		CreatedAt: now,
		UpdatedAt: now,
	}

	o.mu.Lock()
	if _, exists := o.jobs[jobID]; exists {
		o.mu.Unlock()
		return nil, Validationf("job %q already exists", jobID)
	}
	if _, err := o.repo.GetJob(jobID); err == nil {
		o.mu.Unlock()
		return nil, Validationf("job %q already exists", jobID)
	}

	state := &jobState{
		job:         job,
		base:        req.BaseStrategy,
		assignments: assignments,
	}
	o.jobs[jobID] = state
	o.mu.Unlock()

	if err := o.repo.SaveJob(job); err != nil {
		o.mu.Lock()
		delete(o.jobs, jobID)
		o.mu.Unlock()
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	o.eventManager.Emit(events.JobQueued, "batch", map[string]interface{}{
		"jobId": jobID,
		"name":  job.Name,
		"total": job.Total,
	})

	o.wg.Add(1)
	go o.run(state)

	return job.Clone(), nil
}

// Get returns a snapshot of a job: the live registry copy when the
// job is active, the durable record otherwise
func (o *Orchestrator) Get(jobID string) (*Job, error) {
	o.mu.Lock()
	if state, ok := o.jobs[jobID]; ok {
		snapshot := state.job.Clone()
		o.mu.Unlock()
		return snapshot, nil
	}
	o.mu.Unlock()

	return o.repo.GetJob(jobID)
}

// Results returns a job's persisted run results. limit <= 0 returns
// everything.
func (o *Orchestrator) Results(jobID string, limit, offset int) ([]*RunResult, error) {
	if _, err := o.Get(jobID); err != nil {
		return nil, err
	}
	return o.repo.GetResults(jobID, limit, offset)
}

// Cancel requests cooperative cancellation of a queued or running
// job. The run loop observes the flag between assignments; in-flight
// evaluator calls are allowed to finish.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	if state, ok := o.jobs[jobID]; ok {
		if IsTerminal(state.job.Status) {
			o.mu.Unlock()
			return ErrInvalidState
		}
		state.cancelled.Store(true)
		o.mu.Unlock()
		o.log.Info().Str("job_id", jobID).Msg("Cancellation requested")
		return nil
	}
	o.mu.Unlock()

	job, err := o.repo.GetJob(jobID)
	if err != nil {
		return err
	}
	if IsTerminal(job.Status) {
		return ErrInvalidState
	}

	// Known in storage but not in the registry: a leftover from a
	// previous process. Fail it directly.
	o.failStored(job, ErrCancelled.Error())
	return nil
}

// Shutdown flags every active job as cancelled and waits for run
// loops to drain, respecting the context deadline
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, state := range o.jobs {
		state.cancelled.Store(true)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the background task owning one job's full lifecycle
func (o *Orchestrator) run(state *jobState) {
	defer o.wg.Done()

	jobID := state.job.ID
	log := o.log.With().Str("job_id", jobID).Logger()

	if state.cancelled.Load() {
		o.finish(state, true)
		return
	}

	now := time.Now().UnixMilli()
	o.mu.Lock()
	state.job.Status = StatusRunning
	state.job.StartedAt = &now
	state.job.UpdatedAt = now
	snapshot := state.job.Clone()
	o.mu.Unlock()

	if err := o.repo.SaveJob(snapshot); err != nil {
		log.Error().Err(err).Msg("Failed to persist running status")
	}
	o.eventManager.Emit(events.JobStarted, "batch", map[string]interface{}{
		"jobId": jobID,
		"total": snapshot.Total,
	})
	log.Info().Int("total", snapshot.Total).Int("workers", o.workers).Msg("Batch job started")

	o.execute(state, log)
	o.finish(state, state.cancelled.Load())
}

// execute runs the assignments through a bounded worker pool. The
// producer checks the cancellation flag before each dispatch; the
// collector is the single mutation point for the completed counter.
func (o *Orchestrator) execute(state *jobState, log zerolog.Logger) {
	tasks := make(chan runTask)
	results := make(chan *RunResult)

	var workerWg sync.WaitGroup
	for w := 0; w < o.workers; w++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for task := range tasks {
				results <- o.runOne(state, task)
			}
		}()
	}

	go func() {
		for i, assignment := range state.assignments {
			if state.cancelled.Load() {
				break
			}
			tasks <- runTask{index: i, assignment: assignment}
		}
		close(tasks)
		workerWg.Wait()
		close(results)
	}()

	reporter := NewProgressReporter(o.eventManager, state.job.ID)
	for result := range results {
		o.mu.Lock()
		state.job.Completed++
		state.job.UpdatedAt = time.Now().UnixMilli()
		completed := state.job.Completed
		total := state.job.Total
		o.mu.Unlock()

		if err := o.repo.SaveResult(state.job.ID, result, completed); err != nil {
			log.Error().Err(err).Int("run_index", result.RunIndex).Msg("Failed to persist run result")
		}
		reporter.Report(completed, total)
	}
}

// runOne substitutes one assignment into the base tree and evaluates
// it. Evaluator failures become failed result rows, not job failures.
func (o *Orchestrator) runOne(state *jobState, task runTask) *RunResult {
	result := &RunResult{
		RunIndex:   task.index,
		Assignment: task.assignment,
	}

	resolved := strategy.Substitute(state.base.Elements, task.assignment)
	payload, err := json.Marshal(strategy.Tree(resolved))
	if err != nil {
		result.Error = fmt.Sprintf("failed to encode strategy: %v", err)
		return result
	}

	metrics, err := o.runner.Run(context.Background(), domain.RunRequest{
		Strategy:  payload,
		Range:     domain.DateRange{Start: state.base.StartDate, End: state.base.EndDate},
		Benchmark: state.base.BenchmarkSymbol,
	})
	if err != nil {
		evalErr := &EvaluatorError{RunIndex: task.index, Err: err}
		o.log.Warn().Str("job_id", state.job.ID).Int("run_index", task.index).Err(err).Msg("Evaluator run failed")
		result.Error = evalErr.Error()
		return result
	}

	result.Metrics = metrics
	return result
}

// finish transitions the job to its terminal status, computes the
// summary, and drops the registry entry
func (o *Orchestrator) finish(state *jobState, cancelled bool) {
	jobID := state.job.ID
	now := time.Now().UnixMilli()

	var summary *Summary
	var failure string

	if cancelled {
		failure = ErrCancelled.Error()
	} else {
		results, err := o.repo.GetResults(jobID, 0, 0)
		if err != nil {
			failure = fmt.Sprintf("failed to load results: %v", err)
		} else {
			summary = Summarize(results)
			if summary == nil {
				failure = fmt.Sprintf("All %d runs failed", len(results))
			}
		}
	}

	o.mu.Lock()
	job := state.job
	if failure != "" {
		job.Status = StatusFailed
		job.Error = failure
	} else {
		job.Status = StatusFinished
		job.Summary = summary
		job.ViewRef = fmt.Sprintf("/api/batch-jobs/%s/view", jobID)
		job.CSVRef = fmt.Sprintf("/api/batch-jobs/%s/csv", jobID)
	}
	job.CompletedAt = &now
	job.UpdatedAt = now

	anchor := job.CreatedAt
	if job.StartedAt != nil {
		anchor = *job.StartedAt
	}
	duration := now - anchor
	job.DurationMs = &duration

	snapshot := job.Clone()
	delete(o.jobs, jobID)
	o.mu.Unlock()

	if err := o.repo.SaveJob(snapshot); err != nil {
		o.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to persist terminal status")
	}

	eventType := events.JobFinished
	data := map[string]interface{}{
		"jobId":      jobID,
		"completed":  snapshot.Completed,
		"total":      snapshot.Total,
		"durationMs": duration,
	}
	switch {
	case cancelled:
		eventType = events.JobCancelled
	case failure != "":
		eventType = events.JobFailed
		data["error"] = failure
	}
	o.eventManager.Emit(eventType, "batch", data)

	o.log.Info().
		Str("job_id", jobID).
		Str("status", snapshot.Status).
		Int("completed", snapshot.Completed).
		Int64("duration_ms", duration).
		Msg("Batch job finished")
}

// failStored fails a job that exists only in storage
func (o *Orchestrator) failStored(job *Job, reason string) {
	now := time.Now().UnixMilli()
	job.Status = StatusFailed
	job.Error = reason
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := o.repo.SaveJob(job); err != nil {
		o.log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist cancellation")
	}
}

// RecoverInterrupted fails jobs left queued or running by a previous
// process. Their partial results remain retrievable.
func (o *Orchestrator) RecoverInterrupted() error {
	count, err := o.repo.MarkInterrupted("Interrupted by restart")
	if err != nil {
		return err
	}
	if count > 0 {
		o.log.Warn().Int("count", count).Msg("Failed jobs interrupted by restart")
	}
	return nil
}

func buildDetail(variables []VariableList) []DetailEntry {
	detail := make([]DetailEntry, 0, len(variables))
	for _, v := range variables {
		values := dedupe(v.Values)
		detail = append(detail, DetailEntry{
			Name:   normalizeName(v.Name),
			Count:  len(values),
			Values: values,
		})
	}
	return detail
}

// Variable names compare case-insensitively everywhere; store them
// normalized the same way token extraction does
func normalizeName(name string) string {
	return strings.ToLower(name)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
