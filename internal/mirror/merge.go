package mirror

import (
	"time"

	"github.com/aristath/sweep/internal/clients/batchapi"
)

// Merge folds a polled snapshot into the local record field by field.
// Fields the server omitted keep their previous local value, because
// the snapshot and the cache may have been written by code paths with
// different completeness. Returns a new record; neither input is
// mutated.
func Merge(local *JobRecord, snapshot *batchapi.JobSnapshot) *JobRecord {
	merged := JobRecord{}
	if local != nil {
		merged = *local
		merged.Detail = append([]Detail(nil), local.Detail...)
	}

	if snapshot.ID != "" {
		merged.ID = snapshot.ID
	}
	if snapshot.Name != nil && *snapshot.Name != "" {
		merged.Name = *snapshot.Name
	}
	if snapshot.Status != nil && validStatus(*snapshot.Status) {
		merged.Status = *snapshot.Status
	}
	if snapshot.Total != nil && *snapshot.Total >= 0 {
		merged.Total = *snapshot.Total
	}
	// completed never goes backwards
	if snapshot.Completed != nil && *snapshot.Completed >= merged.Completed {
		merged.Completed = *snapshot.Completed
	}
	if snapshot.Truncated != nil {
		merged.Truncated = *snapshot.Truncated
	}
	if len(snapshot.Detail) > 0 {
		detail := make([]Detail, 0, len(snapshot.Detail))
		for _, d := range snapshot.Detail {
			detail = append(detail, Detail{Name: d.Name, Count: d.Count, Values: d.Values})
		}
		merged.Detail = detail
	}
	if snapshot.Summary != nil {
		merged.HasSummary = true
		merged.Best = snapshot.Summary.BestTotalReturn
		merged.Worst = snapshot.Summary.WorstTotalReturn
		merged.Avg = snapshot.Summary.AvgTotalReturn
	}
	if snapshot.Error != nil && *snapshot.Error != "" {
		merged.Error = *snapshot.Error
	}
	if snapshot.CreatedAt != nil && *snapshot.CreatedAt > 0 {
		merged.CreatedAt = *snapshot.CreatedAt
	}
	if snapshot.UpdatedAt != nil && *snapshot.UpdatedAt > 0 {
		merged.UpdatedAt = *snapshot.UpdatedAt
	}
	if snapshot.StartedAt != nil && *snapshot.StartedAt > 0 {
		merged.StartedAt = *snapshot.StartedAt
	}
	if snapshot.CompletedAt != nil && *snapshot.CompletedAt > 0 {
		merged.CompletedAt = *snapshot.CompletedAt
	}
	if snapshot.ViewRef != nil && *snapshot.ViewRef != "" {
		merged.ViewRef = *snapshot.ViewRef
	}
	if snapshot.CSVRef != nil && *snapshot.CSVRef != "" {
		merged.CSVRef = *snapshot.CSVRef
	}

	merged.DurationMs = resolveDuration(&merged, snapshot)

	return &merged
}

// resolveDuration applies the duration fallback chain:
// server-reported value, then derived from timestamps, then the
// previous local value.
func resolveDuration(merged *JobRecord, snapshot *batchapi.JobSnapshot) int64 {
	if snapshot.DurationMs != nil && *snapshot.DurationMs >= 0 {
		return *snapshot.DurationMs
	}

	if merged.CreatedAt > 0 {
		if merged.CompletedAt > 0 {
			return merged.CompletedAt - merged.CreatedAt
		}
		if merged.Status == "running" || merged.Status == "queued" {
			return time.Now().UnixMilli() - merged.CreatedAt
		}
	}

	return merged.DurationMs
}

func validStatus(status string) bool {
	switch status {
	case "queued", "running", "finished", "failed":
		return true
	}
	return false
}
