package risk

import (
	"fmt"
	"sync"
	"time"
)

// Manager maintains per-portfolio position state and performs pre-trade risk
// gating independent of any exchange. All risk computations are pure
// functions of the current snapshot; the manager holds no hidden computation
// state.
type Manager struct {
	mu         sync.RWMutex
	portfolios map[string]*Portfolio
	limits     Limits
	mcPaths    int
	mcSeed     int64
	now        func() time.Time
}

// NewManager creates a risk manager with the given policy limits
func NewManager(limits Limits) *Manager {
	return &Manager{
		portfolios: make(map[string]*Portfolio),
		limits:     limits,
		mcPaths:    10000,
		mcSeed:     1,
		now:        time.Now,
	}
}

// RegisterPortfolio registers a new portfolio with starting cash and
// leverage. The initial equity point is recorded immediately.
func (m *Manager) RegisterPortfolio(id string, cash, leverage float64) (string, error) {
	if leverage <= 0 {
		leverage = 1.0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.portfolios[id]; exists {
		return "", NewDuplicatePortfolioError(id)
	}

	now := m.now()
	m.portfolios[id] = &Portfolio{
		ID:          id,
		Cash:        cash,
		Leverage:    leverage,
		Positions:   make(map[string]Position),
		TotalValue:  cash,
		EquityCurve: []EquityPoint{{Timestamp: now, Value: cash}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return id, nil
}

// DeregisterPortfolio removes a portfolio from the registry
func (m *Manager) DeregisterPortfolio(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.portfolios[id]; !exists {
		return NewUnknownPortfolioError(id)
	}
	delete(m.portfolios, id)
	return nil
}

// UpdatePortfolioPositions merges a position snapshot into the portfolio and
// recomputes the derived total value. A position update with zero quantity
// removes the holding.
func (m *Manager) UpdatePortfolioPositions(id string, positions []Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	portfolio, exists := m.portfolios[id]
	if !exists {
		return NewUnknownPortfolioError(id)
	}

	for _, pos := range positions {
		if pos.Quantity == 0 {
			delete(portfolio.Positions, pos.Symbol)
			continue
		}
		portfolio.Positions[pos.Symbol] = pos
	}

	m.recomputeLocked(portfolio)
	return nil
}

// UpdateCash adjusts the portfolio cash balance by delta (fills spend or
// release cash through here).
func (m *Manager) UpdateCash(id string, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	portfolio, exists := m.portfolios[id]
	if !exists {
		return NewUnknownPortfolioError(id)
	}
	portfolio.Cash += delta
	m.recomputeLocked(portfolio)
	return nil
}

// ApplyFill updates the portfolio for an executed child order: cash moves by
// the signed notional and the position quantity/average price are adjusted.
func (m *Manager) ApplyFill(id, symbol string, quantity, price float64, buy bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	portfolio, exists := m.portfolios[id]
	if !exists {
		return NewUnknownPortfolioError(id)
	}

	notional := quantity * price
	pos := portfolio.Positions[symbol]
	pos.Symbol = symbol
	pos.CurrentPrice = price

	if buy {
		portfolio.Cash -= notional
		newQty := pos.Quantity + quantity
		if newQty != 0 {
			pos.AvgPrice = (pos.AvgPrice*pos.Quantity + notional) / newQty
		}
		pos.Quantity = newQty
	} else {
		portfolio.Cash += notional
		pos.Quantity -= quantity
	}

	if pos.Quantity == 0 {
		delete(portfolio.Positions, symbol)
	} else {
		portfolio.Positions[symbol] = pos
	}
	m.recomputeLocked(portfolio)
	return nil
}

// AppendEquityPoint records an externally observed equity value (for
// persistence restore or external sync).
func (m *Manager) AppendEquityPoint(id string, point EquityPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	portfolio, exists := m.portfolios[id]
	if !exists {
		return NewUnknownPortfolioError(id)
	}
	portfolio.EquityCurve = append(portfolio.EquityCurve, point)
	return nil
}

// GetPortfolio returns a deep copy of a portfolio snapshot
func (m *Manager) GetPortfolio(id string) (*Portfolio, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(id)
}

// ListPortfolios returns the ids of all registered portfolios
func (m *Manager) ListPortfolios() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.portfolios))
	for id := range m.portfolios {
		ids = append(ids, id)
	}
	return ids
}

// EvaluateOrder is the pre-trade gate: it scores a prospective order against
// the portfolio's limits and returns an immutable result. Approved is false
// only when at least one blocker fired.
func (m *Manager) EvaluateOrder(portfolioID, symbol string, quantity, price float64, buy bool) (*RiskCheckResult, error) {
	m.mu.RLock()
	portfolio, err := m.snapshotLocked(portfolioID)
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	result := &RiskCheckResult{
		Approved:      true,
		RiskBreakdown: make(map[string]float64),
	}

	notional := quantity * price
	if notional <= 0 {
		result.Blockers = append(result.Blockers, "order notional must be positive")
	}

	// Buying power: cash extended by configured leverage.
	if buy {
		buyingPower := portfolio.Cash * portfolio.Leverage
		result.RiskBreakdown["buying_power_used"] = safeRatio(notional, buyingPower)
		if notional > buyingPower {
			result.Blockers = append(result.Blockers,
				fmt.Sprintf("order notional %.2f exceeds buying power %.2f", notional, buyingPower))
		}
	}

	// Single-order size vs portfolio value.
	sizeRatio := safeRatio(notional, portfolio.TotalValue)
	result.RiskBreakdown["order_size_ratio"] = sizeRatio
	if sizeRatio > m.limits.MaxPositionSizeRatio {
		result.Blockers = append(result.Blockers,
			fmt.Sprintf("order size %.1f%% of portfolio exceeds limit %.1f%%",
				sizeRatio*100, m.limits.MaxPositionSizeRatio*100))
	}

	// Post-trade concentration in this symbol.
	existing := 0.0
	if pos, ok := portfolio.Positions[symbol]; ok {
		existing = pos.Value()
	}
	projected := existing + notional
	if !buy {
		projected = existing - notional
		if projected < 0 {
			projected = -projected
		}
	}
	concentration := safeRatio(projected, portfolio.TotalValue)
	result.RiskBreakdown["concentration"] = concentration
	if concentration > m.limits.MaxConcentration {
		if buy {
			result.Blockers = append(result.Blockers,
				fmt.Sprintf("position concentration %.1f%% would exceed limit %.1f%%",
					concentration*100, m.limits.MaxConcentration*100))
		} else {
			// Sells reduce risk even when the remaining position is still
			// concentrated; warn instead of blocking.
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("position remains concentrated at %.1f%%", concentration*100))
		}
	}

	// Post-trade gross exposure.
	exposure := portfolio.GrossExposure()
	if buy {
		exposure += notional
	}
	exposureRatio := safeRatio(exposure, portfolio.TotalValue)
	result.RiskBreakdown["exposure_ratio"] = exposureRatio
	if buy && exposureRatio > m.limits.MaxExposureRatio {
		result.Blockers = append(result.Blockers,
			fmt.Sprintf("gross exposure %.1f%% would exceed limit %.1f%%",
				exposureRatio*100, m.limits.MaxExposureRatio*100))
	}

	// Current drawdown state.
	dd := drawdownOf(portfolio)
	result.RiskBreakdown["drawdown"] = dd.CurrentDrawdown
	if dd.CurrentDrawdown > m.limits.MaxDrawdown {
		result.Blockers = append(result.Blockers,
			fmt.Sprintf("portfolio drawdown %.1f%% exceeds limit %.1f%%",
				dd.CurrentDrawdown*100, m.limits.MaxDrawdown*100))
	} else if dd.CurrentDrawdown > m.limits.MaxDrawdown*0.8 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("portfolio drawdown %.1f%% is approaching limit", dd.CurrentDrawdown*100))
	}

	result.RiskScore = m.compositeScore(result.RiskBreakdown)
	result.Approved = len(result.Blockers) == 0
	return result, nil
}

// compositeScore combines normalized sub-scores with fixed documented
// weights: exposure 0.3, drawdown 0.3, concentration 0.2, order size 0.2.
func (m *Manager) compositeScore(breakdown map[string]float64) float64 {
	score := 0.3*clamp01(safeRatio(breakdown["exposure_ratio"], m.limits.MaxExposureRatio)) +
		0.3*clamp01(safeRatio(breakdown["drawdown"], m.limits.MaxDrawdown)) +
		0.2*clamp01(safeRatio(breakdown["concentration"], m.limits.MaxConcentration)) +
		0.2*clamp01(safeRatio(breakdown["order_size_ratio"], m.limits.MaxPositionSizeRatio))
	return clamp01(score)
}

// recomputeLocked refreshes the derived total value and appends an equity
// point. Callers must hold the write lock.
func (m *Manager) recomputeLocked(portfolio *Portfolio) {
	total := portfolio.Cash
	for _, pos := range portfolio.Positions {
		total += pos.Value()
	}
	portfolio.TotalValue = total
	portfolio.UpdatedAt = m.now()
	portfolio.EquityCurve = append(portfolio.EquityCurve, EquityPoint{
		Timestamp: portfolio.UpdatedAt,
		Value:     total,
	})
}

// snapshotLocked deep-copies a portfolio. Callers must hold at least a read
// lock.
func (m *Manager) snapshotLocked(id string) (*Portfolio, error) {
	portfolio, exists := m.portfolios[id]
	if !exists {
		return nil, NewUnknownPortfolioError(id)
	}
	snapshot := *portfolio
	snapshot.Positions = make(map[string]Position, len(portfolio.Positions))
	for symbol, pos := range portfolio.Positions {
		snapshot.Positions[symbol] = pos
	}
	snapshot.EquityCurve = append([]EquityPoint(nil), portfolio.EquityCurve...)
	return &snapshot, nil
}

func safeRatio(numerator, denominator float64) float64 {
	if denominator <= 0 {
		return 0
	}
	return numerator / denominator
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
