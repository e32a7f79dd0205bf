package batch

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// WriteCSV renders a job's full result set as delimited text, one row
// per run. Variable columns follow the detail order; metric columns
// are fixed. Failed runs get empty metric cells and their error in
// the last column.
func WriteCSV(w io.Writer, detail []DetailEntry, results []*RunResult) error {
	cw := csv.NewWriter(w)

	header := make([]string, 0, len(detail)+7)
	for _, entry := range detail {
		header = append(header, entry.Name)
	}
	header = append(header, "totalReturn", "sharpeRatio", "maxDrawdown", "cagr", "volatility", "winRate", "error")
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, result := range results {
		row := make([]string, 0, len(header))
		for _, entry := range detail {
			row = append(row, result.Assignment[entry.Name])
		}
		if result.Metrics != nil {
			m := result.Metrics
			row = append(row,
				formatFloat(m.TotalReturn),
				formatFloat(m.SharpeRatio),
				formatFloat(m.MaxDrawdown),
				formatFloat(m.CAGR),
				formatFloat(m.Volatility),
				formatFloat(m.WinRate))
		} else {
			row = append(row, "", "", "", "", "", "")
		}
		row = append(row, result.Error)

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row %d: %w", result.RunIndex, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
