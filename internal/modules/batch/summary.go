package batch

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summarize aggregates total return over the successful runs. Failed
// runs (nil metrics) are skipped. Returns nil when no run succeeded.
func Summarize(results []*RunResult) *Summary {
	returns := make([]float64, 0, len(results))
	for _, result := range results {
		if result.Metrics == nil {
			continue
		}
		returns = append(returns, result.Metrics.TotalReturn)
	}
	if len(returns) == 0 {
		return nil
	}

	return &Summary{
		BestTotalReturn:  floats.Max(returns),
		WorstTotalReturn: floats.Min(returns),
		AvgTotalReturn:   stat.Mean(returns, nil),
	}
}
