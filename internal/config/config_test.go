package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DEEPBLUE_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "USD", cfg.BaseCurrency)
	assert.Equal(t, 10, cfg.MaxAgentIterations)
	assert.Equal(t, 6, cfg.MaxToolCallsPerTurn)
	assert.Equal(t, 4, cfg.ToolReadConcurrency)
	assert.Equal(t, 4, cfg.SubprocessGate)
	assert.Equal(t, 10*time.Second, cfg.MarketDataTTL)
	assert.Equal(t, 30, cfg.ToolRunRetentionDays)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DEEPBLUE_DATA_DIR", t.TempDir())
	t.Setenv("GO_PORT", "9999")
	t.Setenv("MAX_AGENT_ITERATIONS", "3")
	t.Setenv("MARKETDATA_CACHE_TTL", "2s")
	t.Setenv("DEV_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 3, cfg.MaxAgentIterations)
	assert.Equal(t, 2*time.Second, cfg.MarketDataTTL)
	assert.True(t, cfg.DevMode)
}

func TestValidate_RejectsBadLimits(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero iterations", func(c *Config) { c.MaxAgentIterations = 0 }},
		{"zero tool calls", func(c *Config) { c.MaxToolCallsPerTurn = 0 }},
		{"zero read concurrency", func(c *Config) { c.ToolReadConcurrency = 0 }},
		{"zero subprocess gate", func(c *Config) { c.SubprocessGate = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{
				MaxAgentIterations:  10,
				MaxToolCallsPerTurn: 6,
				ToolReadConcurrency: 4,
				SubprocessGate:      4,
			}
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
