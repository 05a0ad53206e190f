package risk

import (
	"fmt"
	"strings"
)

// Position sizing method names accepted by CalculatePositionSize
const (
	SizingFixedPercentage = "fixed_percentage"
	SizingKelly           = "kelly_criterion"
	SizingRiskParity      = "risk_parity"
	SizingVolatilityBased = "volatility_based"
)

// SizingParams carries the method-specific statistics for a sizing request.
// Only the fields a method needs have to be populated.
type SizingParams struct {
	// fixed_percentage
	Percentage float64

	// kelly_criterion
	WinRate     float64
	AvgWin      float64
	AvgLoss     float64
	MaxFraction float64

	// risk_parity and volatility_based
	AssetVolatility float64

	// volatility_based
	TargetRisk float64
}

// SizingResult is the outcome of a position sizing request
type SizingResult struct {
	Method          string  `json:"method"`
	Symbol          string  `json:"symbol"`
	RecommendedSize float64 `json:"recommended_size"`
	Fraction        float64 `json:"fraction"`
	Detail          string  `json:"detail,omitempty"`
}

// CalculatePositionSize recommends an order notional for a symbol in a
// portfolio using the named method. The recommendation is advisory; it is
// not clamped by the pre-trade gate here.
func (m *Manager) CalculatePositionSize(portfolioID, symbol, method string, params SizingParams) (*SizingResult, error) {
	m.mu.RLock()
	portfolio, err := m.snapshotLocked(portfolioID)
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	var result *SizingResult
	switch strings.ToLower(method) {
	case SizingFixedPercentage:
		result, err = sizeFixedPercentage(portfolio, params)
	case SizingKelly:
		result, err = sizeKelly(portfolio, params)
	case SizingRiskParity:
		result, err = sizeRiskParity(portfolio, symbol, params)
	case SizingVolatilityBased:
		result, err = sizeVolatilityBased(portfolio, params)
	default:
		return nil, &RiskError{
			Code:    CodeUnknownMethod,
			Message: fmt.Sprintf("unknown sizing method '%s'", method),
		}
	}
	if err != nil {
		return nil, err
	}
	result.Symbol = symbol
	return result, nil
}

func sizeFixedPercentage(portfolio *Portfolio, params SizingParams) (*SizingResult, error) {
	if params.Percentage <= 0 || params.Percentage > 1 {
		return nil, NewInsufficientParametersError("fixed_percentage requires percentage in (0, 1]")
	}
	return &SizingResult{
		Method:          SizingFixedPercentage,
		RecommendedSize: portfolio.TotalValue * params.Percentage,
		Fraction:        params.Percentage,
	}, nil
}

// sizeKelly computes the Kelly fraction f = w - (1-w)/R with R the
// win/loss payoff ratio, clamped to [0, MaxFraction].
func sizeKelly(portfolio *Portfolio, params SizingParams) (*SizingResult, error) {
	if params.WinRate <= 0 || params.WinRate >= 1 {
		return nil, NewInsufficientParametersError("kelly_criterion requires win_rate in (0, 1)")
	}
	if params.AvgWin <= 0 || params.AvgLoss <= 0 {
		return nil, NewInsufficientParametersError("kelly_criterion requires positive avg_win and avg_loss")
	}

	maxFraction := params.MaxFraction
	if maxFraction <= 0 {
		maxFraction = 1.0
	}

	payoffRatio := params.AvgWin / params.AvgLoss
	fraction := params.WinRate - (1-params.WinRate)/payoffRatio
	detail := ""
	if fraction < 0 {
		fraction = 0
		detail = "negative edge, recommending zero size"
	}
	if fraction > maxFraction {
		fraction = maxFraction
		detail = "kelly fraction clamped to max_fraction"
	}

	return &SizingResult{
		Method:          SizingKelly,
		RecommendedSize: portfolio.TotalValue * fraction,
		Fraction:        fraction,
		Detail:          detail,
	}, nil
}

// sizeRiskParity weights the candidate asset by inverse volatility against
// the portfolio's existing holdings. Positions without a known volatility are
// excluded from the basket; an existing position in the candidate symbol is
// excluded so the candidate is not double counted.
func sizeRiskParity(portfolio *Portfolio, symbol string, params SizingParams) (*SizingResult, error) {
	if params.AssetVolatility <= 0 {
		return nil, NewInsufficientParametersError("risk_parity requires positive asset_volatility")
	}

	inverseSum := 1 / params.AssetVolatility
	for _, pos := range portfolio.Positions {
		if pos.Symbol == symbol {
			continue
		}
		if pos.Volatility > 0 {
			inverseSum += 1 / pos.Volatility
		}
	}

	fraction := (1 / params.AssetVolatility) / inverseSum
	return &SizingResult{
		Method:          SizingRiskParity,
		RecommendedSize: portfolio.TotalValue * fraction,
		Fraction:        fraction,
	}, nil
}

// sizeVolatilityBased scales size so the position's expected volatility
// contribution matches the target risk budget.
func sizeVolatilityBased(portfolio *Portfolio, params SizingParams) (*SizingResult, error) {
	if params.AssetVolatility <= 0 {
		return nil, NewInsufficientParametersError("volatility_based requires positive asset_volatility")
	}
	targetRisk := params.TargetRisk
	if targetRisk <= 0 {
		targetRisk = 0.02
	}

	fraction := targetRisk / params.AssetVolatility
	if fraction > 1 {
		fraction = 1
	}
	return &SizingResult{
		Method:          SizingVolatilityBased,
		RecommendedSize: portfolio.TotalValue * fraction,
		Fraction:        fraction,
	}, nil
}
