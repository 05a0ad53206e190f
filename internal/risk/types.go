package risk

import (
	"fmt"
	"time"
)

// Position is one holding inside a portfolio snapshot. Volatility is the
// annualized return volatility of the asset when known; sizing methods that
// need it fail with an insufficient-parameters error when it is absent.
type Position struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	AvgPrice     float64 `json:"avg_price"`
	CurrentPrice float64 `json:"current_price"`
	Sector       string  `json:"sector,omitempty"`
	Volatility   float64 `json:"volatility,omitempty"`
}

// Value returns the current market value of the position
func (p Position) Value() float64 {
	return p.Quantity * p.CurrentPrice
}

// EquityPoint is one observation on a portfolio's equity curve
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Portfolio is the risk system's view of one account. Owned exclusively by
// the risk Manager; callers receive copies.
type Portfolio struct {
	ID          string              `json:"id"`
	Cash        float64             `json:"cash"`
	Leverage    float64             `json:"leverage"`
	Positions   map[string]Position `json:"positions"`
	TotalValue  float64             `json:"total_value"`
	EquityCurve []EquityPoint       `json:"equity_curve"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// GrossExposure returns the sum of absolute position values
func (p *Portfolio) GrossExposure() float64 {
	total := 0.0
	for _, pos := range p.Positions {
		v := pos.Value()
		if v < 0 {
			v = -v
		}
		total += v
	}
	return total
}

// LargestPositionShare returns the largest single-position share of total
// value, in [0,1]. Zero when the portfolio is empty.
func (p *Portfolio) LargestPositionShare() float64 {
	if p.TotalValue <= 0 {
		return 0
	}
	largest := 0.0
	for _, pos := range p.Positions {
		v := pos.Value()
		if v < 0 {
			v = -v
		}
		if v > largest {
			largest = v
		}
	}
	return largest / p.TotalValue
}

// RiskCheckResult is the immutable outcome of one pre-trade evaluation
type RiskCheckResult struct {
	Approved      bool               `json:"approved"`
	RiskScore     float64            `json:"risk_score"`
	Warnings      []string           `json:"warnings,omitempty"`
	Blockers      []string           `json:"blockers,omitempty"`
	RiskBreakdown map[string]float64 `json:"risk_breakdown"`
}

// CheckSeverity grades a real-time check outcome
type CheckSeverity string

const (
	SeverityOK       CheckSeverity = "ok"
	SeverityWarning  CheckSeverity = "warning"
	SeverityCritical CheckSeverity = "critical"
)

// Check is one entry of the real-time risk check battery
type Check struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Severity CheckSeverity `json:"severity"`
	Value    float64       `json:"value"`
	Limit    float64       `json:"limit"`
	Detail   string        `json:"detail"`
}

// RealTimeCheckResult is the outcome of the fixed check battery
type RealTimeCheckResult struct {
	PortfolioID     string        `json:"portfolio_id"`
	Checks          []Check       `json:"checks"`
	OverallSeverity CheckSeverity `json:"overall_severity"`
	Timestamp       time.Time     `json:"timestamp"`
}

// DrawdownProtection reports the portfolio's drawdown state
type DrawdownProtection struct {
	CurrentDrawdown float64 `json:"current_drawdown"`
	CurrentValue    float64 `json:"current_value"`
	PeakValue       float64 `json:"peak_value"`
}

// RiskReport composes the risk metrics into a single snapshot
type RiskReport struct {
	PortfolioID      string             `json:"portfolio_id"`
	GeneratedAt      time.Time          `json:"generated_at"`
	RiskMetrics      map[string]float64 `json:"risk_metrics"`
	OverallRiskScore float64            `json:"overall_risk_score"`
}

// Limits are the policy thresholds used by gating and checks
type Limits struct {
	MaxExposureRatio     float64 // gross exposure / total value
	MaxDrawdown          float64 // fraction of peak equity
	MaxConcentration     float64 // largest position share of total value
	MaxLeverage          float64
	MaxPositionSizeRatio float64 // single order notional / total value
}

// DefaultLimits returns conservative policy defaults
func DefaultLimits() Limits {
	return Limits{
		MaxExposureRatio:     1.0,
		MaxDrawdown:          0.25,
		MaxConcentration:     0.40,
		MaxLeverage:          10.0,
		MaxPositionSizeRatio: 0.20,
	}
}

// RiskError is a synchronous risk-system error with a stable code
type RiskError struct {
	Code    string
	Message string
}

// Error implements the error interface
func (e *RiskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Stable risk error codes
const (
	CodeDuplicatePortfolio     = "DUPLICATE_PORTFOLIO"
	CodeUnknownPortfolio       = "UNKNOWN_PORTFOLIO"
	CodeInsufficientParameters = "INSUFFICIENT_PARAMETERS"
	CodeInvalidConfidence      = "INVALID_CONFIDENCE"
	CodeInsufficientHistory    = "INSUFFICIENT_HISTORY"
	CodeUnknownMethod          = "UNKNOWN_METHOD"
)

// NewDuplicatePortfolioError reports a portfolio id collision
func NewDuplicatePortfolioError(id string) *RiskError {
	return &RiskError{Code: CodeDuplicatePortfolio, Message: fmt.Sprintf("portfolio '%s' is already registered", id)}
}

// NewUnknownPortfolioError reports an operation against an unregistered id
func NewUnknownPortfolioError(id string) *RiskError {
	return &RiskError{Code: CodeUnknownPortfolio, Message: fmt.Sprintf("portfolio '%s' is not registered", id)}
}

// NewInsufficientParametersError reports missing method statistics
func NewInsufficientParametersError(detail string) *RiskError {
	return &RiskError{Code: CodeInsufficientParameters, Message: detail}
}
