package risk

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
)

// Value-at-Risk method names accepted by CalculateVaR
const (
	VaRHistorical = "historical"
	VaRParametric = "parametric"
	VaRMonteCarlo = "monte_carlo"
)

// minVaRObservations is the smallest equity history that yields a usable
// return sample.
const minVaRObservations = 10

// VaRResult is the outcome of a Value-at-Risk computation. VaR is reported
// as a non-negative currency amount over the horizon.
type VaRResult struct {
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
	HorizonDay float64 `json:"horizon_days"`
	VaR        float64 `json:"var"`
	VaRPercent float64 `json:"var_percent"`
}

// CalculateVaR estimates the potential loss of a portfolio at the given
// confidence level over horizonDays, using the named method. Returns are
// derived from the portfolio's equity curve.
func (m *Manager) CalculateVaR(portfolioID, method string, confidence, horizonDays float64) (*VaRResult, error) {
	if confidence <= 0 || confidence >= 1 {
		return nil, &RiskError{
			Code:    CodeInvalidConfidence,
			Message: fmt.Sprintf("confidence must be in (0, 1), got %v", confidence),
		}
	}
	if horizonDays <= 0 {
		horizonDays = 1
	}

	m.mu.RLock()
	portfolio, err := m.snapshotLocked(portfolioID)
	seed := m.mcSeed
	paths := m.mcPaths
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	returns := equityReturns(portfolio.EquityCurve)
	if len(returns) < minVaRObservations {
		return nil, &RiskError{
			Code: CodeInsufficientHistory,
			Message: fmt.Sprintf("need at least %d return observations, have %d",
				minVaRObservations, len(returns)),
		}
	}

	var varAmount float64
	switch strings.ToLower(method) {
	case VaRHistorical:
		varAmount = historicalVaR(returns, portfolio.TotalValue, confidence, horizonDays)
	case VaRParametric:
		varAmount = parametricVaR(returns, portfolio.TotalValue, confidence, horizonDays)
	case VaRMonteCarlo:
		varAmount = monteCarloVaR(returns, portfolio.TotalValue, confidence, horizonDays, paths, seed)
	default:
		return nil, &RiskError{
			Code:    CodeUnknownMethod,
			Message: fmt.Sprintf("unknown VaR method '%s'", method),
		}
	}

	if varAmount < 0 {
		varAmount = 0
	}
	result := &VaRResult{
		Method:     strings.ToLower(method),
		Confidence: confidence,
		HorizonDay: horizonDays,
		VaR:        varAmount,
	}
	if portfolio.TotalValue > 0 {
		result.VaRPercent = varAmount / portfolio.TotalValue
	}
	return result, nil
}

// equityReturns derives simple per-step returns from an equity curve
func equityReturns(curve []EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Value
		if prev <= 0 {
			continue
		}
		returns = append(returns, (curve[i].Value-prev)/prev)
	}
	return returns
}

// historicalVaR takes the empirical loss quantile of observed returns and
// scales it by the square root of the horizon.
func historicalVaR(returns []float64, totalValue, confidence, horizonDays float64) float64 {
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	// The (1-confidence) quantile of the return distribution is the loss
	// threshold.
	idx := int(math.Floor((1 - confidence) * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	quantile := sorted[idx]
	if quantile >= 0 {
		return 0
	}
	return -quantile * totalValue * math.Sqrt(horizonDays)
}

// parametricVaR assumes normally distributed returns:
// VaR = V * max(0, z*sigma*sqrt(h) - mu*h).
func parametricVaR(returns []float64, totalValue, confidence, horizonDays float64) float64 {
	mean, stddev := meanStddev(returns)
	z := normalQuantile(confidence)
	loss := z*stddev*math.Sqrt(horizonDays) - mean*horizonDays
	if loss < 0 {
		return 0
	}
	return totalValue * loss
}

// monteCarloVaR simulates horizon returns by drawing from a normal fit of
// the observed returns. The generator is seeded deterministically so repeat
// calls on the same snapshot agree.
func monteCarloVaR(returns []float64, totalValue, confidence, horizonDays float64, paths int, seed int64) float64 {
	mean, stddev := meanStddev(returns)
	rng := rand.New(rand.NewSource(seed))

	outcomes := make([]float64, paths)
	sqrtH := math.Sqrt(horizonDays)
	for i := range outcomes {
		outcomes[i] = mean*horizonDays + stddev*sqrtH*rng.NormFloat64()
	}
	sort.Float64s(outcomes)

	idx := int(math.Floor((1 - confidence) * float64(paths)))
	if idx >= paths {
		idx = paths - 1
	}
	quantile := outcomes[idx]
	if quantile >= 0 {
		return 0
	}
	return -quantile * totalValue
}

func meanStddev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

// normalQuantile approximates the standard normal inverse CDF using the
// Acklam rational approximation, accurate to ~1e-9 across (0, 1).
func normalQuantile(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	if p >= 1 {
		return math.Inf(1)
	}

	a := []float64{-3.969683028665376e+01, 2.209460984245205e+02, -2.759285104469687e+02,
		1.383577518672690e+02, -3.066479806614716e+01, 2.506628277459239e+00}
	b := []float64{-5.447609879822406e+01, 1.615858368580409e+02, -1.556989798598866e+02,
		6.680131188771972e+01, -1.328068155288572e+01}
	c := []float64{-7.784894002430293e-03, -3.223964580411365e-01, -2.400758277161838e+00,
		-2.549732539343734e+00, 4.374664141464968e+00, 2.938163982698783e+00}
	d := []float64{7.784695709041462e-03, 3.224671290700398e-01, 2.445134137142996e+00,
		3.754408661907416e+00}

	const plow = 0.02425
	const phigh = 1 - plow

	switch {
	case p < plow:
		q := math.Sqrt(-2 * math.Log(p))
		return (((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	case p > phigh:
		q := math.Sqrt(-2 * math.Log(1-p))
		return -(((((c[0]*q+c[1])*q+c[2])*q+c[3])*q+c[4])*q + c[5]) /
			((((d[0]*q+d[1])*q+d[2])*q+d[3])*q + 1)
	default:
		q := p - 0.5
		r := q * q
		return (((((a[0]*r+a[1])*r+a[2])*r+a[3])*r+a[4])*r + a[5]) * q /
			(((((b[0]*r+b[1])*r+b[2])*r+b[3])*r+b[4])*r + 1)
	}
}
