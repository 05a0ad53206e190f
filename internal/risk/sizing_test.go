package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sizingManager(t *testing.T, cash float64) *Manager {
	t.Helper()
	m := newTestManager()
	_, err := m.RegisterPortfolio("p", cash, 1.0)
	require.NoError(t, err)
	return m
}

func TestFixedPercentageSizing(t *testing.T) {
	m := sizingManager(t, 100000)

	result, err := m.CalculatePositionSize("p", "BTCUSDT", SizingFixedPercentage, SizingParams{Percentage: 0.10})
	require.NoError(t, err)
	assert.InDelta(t, 10000.0, result.RecommendedSize, 1e-9)
	assert.InDelta(t, 0.10, result.Fraction, 1e-9)

	_, err = m.CalculatePositionSize("p", "BTCUSDT", SizingFixedPercentage, SizingParams{Percentage: 1.5})
	require.Error(t, err)
	assert.Equal(t, CodeInsufficientParameters, err.(*RiskError).Code)
}

func TestKellySizing(t *testing.T) {
	tests := []struct {
		name         string
		params       SizingParams
		wantFraction float64
		wantErr      bool
	}{
		{
			name:         "standard edge",
			params:       SizingParams{WinRate: 0.6, AvgWin: 0.08, AvgLoss: 0.05},
			wantFraction: 0.35,
		},
		{
			name:         "negative edge floors at zero",
			params:       SizingParams{WinRate: 0.4, AvgWin: 0.05, AvgLoss: 0.10},
			wantFraction: 0,
		},
		{
			name:         "clamped by max fraction",
			params:       SizingParams{WinRate: 0.9, AvgWin: 0.10, AvgLoss: 0.01, MaxFraction: 0.25},
			wantFraction: 0.25,
		},
		{
			name:    "missing statistics",
			params:  SizingParams{WinRate: 0.6},
			wantErr: true,
		},
		{
			name:    "win rate out of range",
			params:  SizingParams{WinRate: 1.2, AvgWin: 0.05, AvgLoss: 0.05},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := sizingManager(t, 100000)
			result, err := m.CalculatePositionSize("p", "BTCUSDT", SizingKelly, tt.params)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.wantFraction, result.Fraction, 1e-9)
			assert.InDelta(t, 100000*tt.wantFraction, result.RecommendedSize, 1e-6)
		})
	}
}

func TestRiskParitySizing(t *testing.T) {
	m := sizingManager(t, 100000)
	require.NoError(t, m.UpdatePortfolioPositions("p", []Position{
		{Symbol: "BTCUSDT", Quantity: 1, CurrentPrice: 100, Volatility: 0.60},
		{Symbol: "ETHUSDT", Quantity: 1, CurrentPrice: 100, Volatility: 0.80},
	}))

	// Candidate at 0.40 vol: weights proportional to 1/0.40 : 1/0.60 : 1/0.80.
	result, err := m.CalculatePositionSize("p", "SOLUSDT", SizingRiskParity, SizingParams{AssetVolatility: 0.40})
	require.NoError(t, err)
	expected := (1 / 0.40) / (1/0.40 + 1/0.60 + 1/0.80)
	assert.InDelta(t, expected, result.Fraction, 1e-9)

	// A less volatile asset gets a larger share.
	calmer, err := m.CalculatePositionSize("p", "SOLUSDT", SizingRiskParity, SizingParams{AssetVolatility: 0.20})
	require.NoError(t, err)
	assert.Greater(t, calmer.Fraction, result.Fraction)

	_, err = m.CalculatePositionSize("p", "SOLUSDT", SizingRiskParity, SizingParams{})
	require.Error(t, err)
}

func TestVolatilityBasedSizing(t *testing.T) {
	m := sizingManager(t, 100000)

	result, err := m.CalculatePositionSize("p", "BTCUSDT", SizingVolatilityBased, SizingParams{
		AssetVolatility: 0.50,
		TargetRisk:      0.02,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.04, result.Fraction, 1e-9)
	assert.InDelta(t, 4000.0, result.RecommendedSize, 1e-6)

	// Fraction caps at 1 for very calm assets.
	capped, err := m.CalculatePositionSize("p", "BTCUSDT", SizingVolatilityBased, SizingParams{
		AssetVolatility: 0.01,
		TargetRisk:      0.05,
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, capped.Fraction)
}

func TestUnknownSizingMethod(t *testing.T) {
	m := sizingManager(t, 100000)
	_, err := m.CalculatePositionSize("p", "BTCUSDT", "martingale", SizingParams{})
	require.Error(t, err)
	assert.Equal(t, CodeUnknownMethod, err.(*RiskError).Code)
}
