package evaluator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sweep/internal/domain"
)

func TestRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/backtest", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "SPY", req["benchmark"])
		assert.Equal(t, "2020-01-01", req["start_date"])
		assert.Equal(t, "2023-12-31", req["end_date"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"metrics": map[string]float64{
				"total_return": 0.42,
				"sharpe_ratio": 1.3,
				"max_drawdown": -0.18,
				"cagr":         0.11,
				"volatility":   0.2,
				"win_rate":     0.55,
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop())
	metrics, err := client.Run(context.Background(), domain.RunRequest{
		Strategy:  []byte(`[{"type":"ticker","id":"t1","ticker":"SPY","weight":100}]`),
		Range:     domain.DateRange{Start: "2020-01-01", End: "2023-12-31"},
		Benchmark: "SPY",
	})
	require.NoError(t, err)

	assert.Equal(t, 0.42, metrics.TotalReturn)
	assert.Equal(t, 1.3, metrics.SharpeRatio)
	assert.Equal(t, -0.18, metrics.MaxDrawdown)
	assert.Equal(t, 0.55, metrics.WinRate)
}

func TestRunServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "prices unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop())
	_, err := client.Run(context.Background(), domain.RunRequest{
		Strategy: []byte(`[]`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "prices unavailable")
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop())
	assert.NoError(t, client.Health(context.Background()))

	server.Close()
	assert.Error(t, client.Health(context.Background()))
}
