package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// varManager registers a portfolio with a synthetic equity curve alternating
// gains and losses so every method has a usable return sample.
func varManager(t *testing.T) *Manager {
	t.Helper()
	m := newTestManager()
	_, err := m.RegisterPortfolio("p", 100000, 1.0)
	require.NoError(t, err)

	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	value := 100000.0
	deltas := []float64{0.01, -0.02, 0.015, -0.01, 0.005, -0.03, 0.02, -0.005,
		0.01, -0.015, 0.025, -0.02, 0.01, -0.01, 0.005, -0.025, 0.015, -0.005, 0.02, -0.01}
	for i, d := range deltas {
		value *= 1 + d
		require.NoError(t, m.AppendEquityPoint("p", EquityPoint{
			Timestamp: base.Add(time.Duration(i+1) * 24 * time.Hour),
			Value:     value,
		}))
	}
	return m
}

func TestVaRMethods(t *testing.T) {
	m := varManager(t)

	for _, method := range []string{VaRHistorical, VaRParametric, VaRMonteCarlo} {
		t.Run(method, func(t *testing.T) {
			result, err := m.CalculateVaR("p", method, 0.95, 1)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, result.VaR, 0.0)
			assert.Equal(t, method, result.Method)
			assert.Equal(t, 0.95, result.Confidence)
		})
	}
}

func TestVaRMonotonicInConfidence(t *testing.T) {
	m := varManager(t)

	for _, method := range []string{VaRHistorical, VaRParametric, VaRMonteCarlo} {
		t.Run(method, func(t *testing.T) {
			low, err := m.CalculateVaR("p", method, 0.90, 1)
			require.NoError(t, err)
			high, err := m.CalculateVaR("p", method, 0.99, 1)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, high.VaR, low.VaR)
		})
	}
}

func TestVaRScalesWithHorizon(t *testing.T) {
	m := varManager(t)

	oneDay, err := m.CalculateVaR("p", VaRParametric, 0.95, 1)
	require.NoError(t, err)
	tenDay, err := m.CalculateVaR("p", VaRParametric, 0.95, 10)
	require.NoError(t, err)
	assert.Greater(t, tenDay.VaR, oneDay.VaR)
}

func TestVaRDeterministicMonteCarlo(t *testing.T) {
	m := varManager(t)

	first, err := m.CalculateVaR("p", VaRMonteCarlo, 0.95, 1)
	require.NoError(t, err)
	second, err := m.CalculateVaR("p", VaRMonteCarlo, 0.95, 1)
	require.NoError(t, err)
	assert.Equal(t, first.VaR, second.VaR)
}

func TestVaRValidation(t *testing.T) {
	m := varManager(t)

	_, err := m.CalculateVaR("p", VaRHistorical, 1.5, 1)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidConfidence, err.(*RiskError).Code)

	_, err = m.CalculateVaR("p", "quantum", 0.95, 1)
	require.Error(t, err)
	assert.Equal(t, CodeUnknownMethod, err.(*RiskError).Code)

	_, err = m.CalculateVaR("ghost", VaRHistorical, 0.95, 1)
	require.Error(t, err)
	assert.Equal(t, CodeUnknownPortfolio, err.(*RiskError).Code)
}

func TestVaRInsufficientHistory(t *testing.T) {
	m := newTestManager()
	_, err := m.RegisterPortfolio("fresh", 1000, 1.0)
	require.NoError(t, err)

	_, err = m.CalculateVaR("fresh", VaRHistorical, 0.95, 1)
	require.Error(t, err)
	assert.Equal(t, CodeInsufficientHistory, err.(*RiskError).Code)
}

func TestNormalQuantile(t *testing.T) {
	assert.InDelta(t, 1.6449, normalQuantile(0.95), 1e-3)
	assert.InDelta(t, 2.3263, normalQuantile(0.99), 1e-3)
	assert.InDelta(t, 0.0, normalQuantile(0.5), 1e-9)
	assert.InDelta(t, -1.6449, normalQuantile(0.05), 1e-3)
}
