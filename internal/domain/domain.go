// Package domain holds the core types shared between the batch
// orchestrator, the evaluator client, and the client mirror.
package domain

import "context"

// RunMetrics holds the performance metrics of a single backtest run.
type RunMetrics struct {
	TotalReturn float64 `json:"totalReturn"`
	SharpeRatio float64 `json:"sharpeRatio"`
	MaxDrawdown float64 `json:"maxDrawdown"`
	CAGR        float64 `json:"cagr"`
	Volatility  float64 `json:"volatility"`
	WinRate     float64 `json:"winRate"`
}

// DateRange bounds a backtest period. Dates are YYYY-MM-DD strings,
// matching the evaluator service's wire format.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// RunRequest is a single concrete backtest to evaluate: a strategy
// tree with all variables already substituted.
type RunRequest struct {
	Strategy  []byte    // serialized strategy tree
	Range     DateRange // backtest period
	Benchmark string    // optional benchmark ticker
}

// Runner evaluates a single concrete strategy. Implemented by the
// evaluator HTTP client in production and by stubs in tests.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (*RunMetrics, error)
}
