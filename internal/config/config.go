// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir             string // Base directory for all databases (always absolute)
	EvaluatorServiceURL string // Backtest evaluator microservice
	LogLevel            string
	Port                int
	DevMode             bool

	AssignmentCap int           // Hard ceiling on enumerated assignments per batch job
	JobWorkers    int           // Bounded worker pool size per running job
	PollInterval  time.Duration // Client-side polling interval
	JobTTLDays    int           // Retention for terminal jobs and their results
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("SWEEP_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:             absDataDir,
		Port:                getEnvAsInt("GO_PORT", 8001),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		EvaluatorServiceURL: getEnv("EVALUATOR_SERVICE_URL", "http://localhost:9000"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		AssignmentCap:       getEnvAsInt("SWEEP_ASSIGNMENT_CAP", 10000),
		JobWorkers:          getEnvAsInt("SWEEP_JOB_WORKERS", 4),
		PollInterval:        time.Duration(getEnvAsInt("SWEEP_POLL_INTERVAL_MS", 2000)) * time.Millisecond,
		JobTTLDays:          getEnvAsInt("SWEEP_JOB_TTL_DAYS", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and sane
func (c *Config) Validate() error {
	if c.AssignmentCap < 1 {
		return fmt.Errorf("SWEEP_ASSIGNMENT_CAP must be >= 1, got %d", c.AssignmentCap)
	}
	if c.JobWorkers < 1 {
		return fmt.Errorf("SWEEP_JOB_WORKERS must be >= 1, got %d", c.JobWorkers)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("SWEEP_POLL_INTERVAL_MS must be positive")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
