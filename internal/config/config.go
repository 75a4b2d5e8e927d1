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
	DataDir      string // Base directory for all databases (always absolute)
	Port         int
	DevMode      bool
	LogLevel     string
	BaseCurrency string // Default currency for positions and trades

	// Model service (external LLM gateway)
	ModelAPIURL  string
	ModelAPIKey  string
	ModelName    string
	ModelTimeout time.Duration

	// Agent limits
	MaxAgentIterations  int // Circuit breaker: hard cap on turn-loop iterations
	MaxToolCallsPerTurn int // Overflow cap per model turn
	ToolReadConcurrency int // Parallel read-only tool executions per turn

	// Market data subprocesses
	PythonBin         string
	ScriptsDir        string
	SubprocessGate    int           // Process-wide cap on concurrent fetcher subprocesses
	SubprocessTimeout time.Duration
	MarketDataTTL     time.Duration // Short-TTL cache for identical read queries

	// Observability retention
	ToolRunRetentionDays int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory with fallback logic
	// 1. Check DEEPBLUE_DATA_DIR environment variable
	// 2. If not set, default to ./data
	// 3. Always resolve to absolute path
	// 4. Ensure directory exists
	dataDir := getEnv("DEEPBLUE_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:      absDataDir,
		Port:         getEnvAsInt("GO_PORT", 8001),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		BaseCurrency: getEnv("BASE_CURRENCY", "USD"),

		ModelAPIURL:  getEnv("MODEL_API_URL", "http://localhost:9100/v1/responses"),
		ModelAPIKey:  getEnv("MODEL_API_KEY", ""),
		ModelName:    getEnv("MODEL_NAME", "deep-blue-agent"),
		ModelTimeout: getEnvAsDuration("MODEL_TIMEOUT", 120*time.Second),

		MaxAgentIterations:  getEnvAsInt("MAX_AGENT_ITERATIONS", 10),
		MaxToolCallsPerTurn: getEnvAsInt("MAX_TOOL_CALLS_PER_TURN", 6),
		ToolReadConcurrency: getEnvAsInt("TOOL_READ_CONCURRENCY", 4),

		PythonBin:         getEnv("PYTHON_BIN", "python3"),
		ScriptsDir:        getEnv("SCRIPTS_DIR", "./scripts"),
		SubprocessGate:    getEnvAsInt("SUBPROCESS_GATE", 4),
		SubprocessTimeout: getEnvAsDuration("SUBPROCESS_TIMEOUT", 30*time.Second),
		MarketDataTTL:     getEnvAsDuration("MARKETDATA_CACHE_TTL", 10*time.Second),

		ToolRunRetentionDays: getEnvAsInt("TOOL_RUN_RETENTION_DAYS", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and sane
func (c *Config) Validate() error {
	if c.MaxAgentIterations < 1 {
		return fmt.Errorf("MAX_AGENT_ITERATIONS must be at least 1, got %d", c.MaxAgentIterations)
	}
	if c.MaxToolCallsPerTurn < 1 {
		return fmt.Errorf("MAX_TOOL_CALLS_PER_TURN must be at least 1, got %d", c.MaxToolCallsPerTurn)
	}
	if c.ToolReadConcurrency < 1 {
		return fmt.Errorf("TOOL_READ_CONCURRENCY must be at least 1, got %d", c.ToolReadConcurrency)
	}
	if c.SubprocessGate < 1 {
		return fmt.Errorf("SUBPROCESS_GATE must be at least 1, got %d", c.SubprocessGate)
	}

	// Note: model API key optional for local gateways
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
