// Package batchapi provides the typed HTTP client for the batch job
// API. It is the client half of the job reconciliation protocol: the
// snapshot type uses pointer fields so a merge can tell absent fields
// from zero values.
package batchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Errors mapped from the API's status codes
var (
	ErrNotFound = errors.New("job not found")
	ErrConflict = errors.New("job is already terminal")
)

// DetailEntry mirrors the server's variable detail
type DetailEntry struct {
	Name   string   `json:"name"`
	Count  int      `json:"count"`
	Values []string `json:"values"`
}

// Summary mirrors the server's result aggregates
type Summary struct {
	BestTotalReturn  float64 `json:"bestTotalReturn"`
	WorstTotalReturn float64 `json:"worstTotalReturn"`
	AvgTotalReturn   float64 `json:"avgTotalReturn"`
}

// JobSnapshot is one polled view of a job. Every optional field is a
// pointer: nil means the server omitted it, and the local mirror
// keeps its previous value.
type JobSnapshot struct {
	ID          string        `json:"id"`
	Name        *string       `json:"name"`
	Status      *string       `json:"status"`
	Total       *int          `json:"total"`
	Completed   *int          `json:"completed"`
	Truncated   *bool         `json:"truncated"`
	Detail      []DetailEntry `json:"detail"`
	Summary     *Summary      `json:"summary"`
	Error       *string       `json:"error"`
	CreatedAt   *int64        `json:"createdAt"`
	UpdatedAt   *int64        `json:"updatedAt"`
	StartedAt   *int64        `json:"startedAt"`
	CompletedAt *int64        `json:"completedAt"`
	DurationMs  *int64        `json:"durationMs"`
	ViewRef     *string       `json:"viewRef"`
	CSVRef      *string       `json:"csvRef"`
}

// Client for the batch job API
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a batch API client
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "batchapi").Logger(),
	}
}

// CreateJob submits a new batch job. The request body is passed
// through as-is; the server validates it.
func (c *Client) CreateJob(ctx context.Context, body []byte) (*JobSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/batch-jobs", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("create returned status %d: %s", resp.StatusCode, string(msg))
	}

	var snapshot JobSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse job snapshot: %w", err)
	}
	return &snapshot, nil
}

// GetJob polls one job's current snapshot
func (c *Client) GetJob(ctx context.Context, jobID string) (*JobSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/batch-jobs/"+jobID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("poll returned status %d", resp.StatusCode)
	}

	var snapshot JobSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse job snapshot: %w", err)
	}
	return &snapshot, nil
}

// CancelJob requests cooperative cancellation of a job
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/batch-jobs/"+jobID+"/cancel", nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cancel request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	default:
		return fmt.Errorf("cancel returned status %d", resp.StatusCode)
	}
}
