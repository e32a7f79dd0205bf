// Package evaluator provides the HTTP client for the external
// backtest evaluator service. The service receives a fully resolved
// strategy tree (no variable tokens left) and returns the run's
// performance metrics.
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sweep/internal/domain"
)

// Client for the evaluator service
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new evaluator client. Backtests over long date
// ranges can be slow, so the request timeout is generous.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Minute},
		log:     log.With().Str("client", "evaluator").Logger(),
	}
}

// backtestRequest is the evaluator's wire format
type backtestRequest struct {
	Elements  json.RawMessage `json:"elements"`
	Benchmark string          `json:"benchmark,omitempty"`
	StartDate string          `json:"start_date"`
	EndDate   string          `json:"end_date"`
}

// backtestResponse mirrors the service's snake_case metric names
type backtestResponse struct {
	Metrics struct {
		TotalReturn float64 `json:"total_return"`
		SharpeRatio float64 `json:"sharpe_ratio"`
		MaxDrawdown float64 `json:"max_drawdown"`
		CAGR        float64 `json:"cagr"`
		Volatility  float64 `json:"volatility"`
		WinRate     float64 `json:"win_rate"`
	} `json:"metrics"`
}

// Run evaluates one concrete strategy
func (c *Client) Run(ctx context.Context, req domain.RunRequest) (*domain.RunMetrics, error) {
	payload, err := json.Marshal(backtestRequest{
		Elements:  req.Strategy,
		Benchmark: req.Benchmark,
		StartDate: req.Range.Start,
		EndDate:   req.Range.End,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode backtest request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/backtest", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("evaluator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("evaluator returned status %d: %s", resp.StatusCode, string(body))
	}

	var result backtestResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse evaluator response: %w", err)
	}

	return &domain.RunMetrics{
		TotalReturn: result.Metrics.TotalReturn,
		SharpeRatio: result.Metrics.SharpeRatio,
		MaxDrawdown: result.Metrics.MaxDrawdown,
		CAGR:        result.Metrics.CAGR,
		Volatility:  result.Metrics.Volatility,
		WinRate:     result.Metrics.WinRate,
	}, nil
}

// Health checks the evaluator's /health endpoint
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("evaluator unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("evaluator health returned status %d", resp.StatusCode)
	}
	return nil
}
