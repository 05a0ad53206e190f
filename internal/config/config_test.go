package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.InDelta(t, 0.25, cfg.Risk.MaxDrawdown, 1e-9)
	assert.Equal(t, 500*time.Millisecond, cfg.Orders.PollInterval)
	assert.Equal(t, 8080, cfg.Monitoring.PrometheusPort)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.json")
	payload := `{
		"environment": "production",
		"exchanges": [
			{"id": "bybit-main", "type": "bybit", "testnet": false},
			{"id": "paper-1", "type": "paper"}
		],
		"risk": {
			"max_exposure_ratio": 1.0,
			"max_drawdown": 0.15,
			"max_concentration": 0.30,
			"max_leverage": 5,
			"max_position_size_ratio": 0.10
		},
		"orders": {"poll_interval": 1000000000, "tick_interval": 500000000},
		"monitoring": {"prometheus_port": 9090, "health_port": 9091}
	}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	require.Len(t, cfg.Exchanges, 2)
	assert.Equal(t, "bybit-main", cfg.Exchanges[0].ID)
	assert.InDelta(t, 0.15, cfg.Risk.MaxDrawdown, 1e-9)
	assert.Equal(t, time.Second, cfg.Orders.PollInterval)
	assert.Equal(t, 9090, cfg.Monitoring.PrometheusPort)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("RISK_MAX_DRAWDOWN", "0.10")
	t.Setenv("PROMETHEUS_PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.InDelta(t, 0.10, cfg.Risk.MaxDrawdown, 1e-9)
	assert.Equal(t, 7070, cfg.Monitoring.PrometheusPort)
}

func TestEnvConfiguredExchange(t *testing.T) {
	t.Setenv("EXCHANGE_TYPE", "bybit")
	t.Setenv("EXCHANGE_ID", "bybit-testnet")
	t.Setenv("EXCHANGE_TESTNET", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Len(t, cfg.Exchanges, 1)
	assert.Equal(t, "bybit-testnet", cfg.Exchanges[0].ID)
	assert.Equal(t, "bybit", cfg.Exchanges[0].Type)
	assert.True(t, cfg.Exchanges[0].Testnet)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "missing exchange id", mutate: func(c *Config) {
			c.Exchanges = []ExchangeConfig{{Type: "paper"}}
		}},
		{name: "missing exchange type", mutate: func(c *Config) {
			c.Exchanges = []ExchangeConfig{{ID: "venue"}}
		}},
		{name: "duplicate exchange id", mutate: func(c *Config) {
			c.Exchanges = []ExchangeConfig{
				{ID: "venue", Type: "paper"},
				{ID: "venue", Type: "bybit"},
			}
		}},
		{name: "drawdown out of range", mutate: func(c *Config) { c.Risk.MaxDrawdown = 1.5 }},
		{name: "zero leverage", mutate: func(c *Config) { c.Risk.MaxLeverage = 0 }},
		{name: "zero poll interval", mutate: func(c *Config) { c.Orders.PollInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
