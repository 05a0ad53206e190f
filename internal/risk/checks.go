package risk

// PerformRealTimeRiskCheck runs the fixed battery of portfolio health checks:
// exposure, drawdown, concentration and leverage. The overall severity is the
// worst individual outcome.
func (m *Manager) PerformRealTimeRiskCheck(portfolioID string) (*RealTimeCheckResult, error) {
	m.mu.RLock()
	portfolio, err := m.snapshotLocked(portfolioID)
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	result := &RealTimeCheckResult{
		PortfolioID:     portfolioID,
		OverallSeverity: SeverityOK,
		Timestamp:       m.now(),
	}

	exposureRatio := safeRatio(portfolio.GrossExposure(), portfolio.TotalValue)
	result.Checks = append(result.Checks, gradeCheck("exposure", exposureRatio, m.limits.MaxExposureRatio,
		"gross exposure as a share of portfolio value"))

	dd := drawdownOf(portfolio)
	result.Checks = append(result.Checks, gradeCheck("drawdown", dd.CurrentDrawdown, m.limits.MaxDrawdown,
		"decline from peak equity"))

	result.Checks = append(result.Checks, gradeCheck("concentration", portfolio.LargestPositionShare(), m.limits.MaxConcentration,
		"largest single-position share of portfolio value"))

	result.Checks = append(result.Checks, gradeCheck("leverage", portfolio.Leverage, m.limits.MaxLeverage,
		"configured account leverage"))

	for _, check := range result.Checks {
		if check.Severity == SeverityCritical {
			result.OverallSeverity = SeverityCritical
			break
		}
		if check.Severity == SeverityWarning {
			result.OverallSeverity = SeverityWarning
		}
	}
	return result, nil
}

// gradeCheck grades a value against its limit: critical over the limit,
// warning within 80% of it, ok otherwise.
func gradeCheck(name string, value, limit float64, detail string) Check {
	check := Check{
		Name:     name,
		Passed:   true,
		Severity: SeverityOK,
		Value:    value,
		Limit:    limit,
		Detail:   detail,
	}
	switch {
	case value > limit:
		check.Passed = false
		check.Severity = SeverityCritical
	case limit > 0 && value > limit*0.8:
		check.Severity = SeverityWarning
	}
	return check
}

// CalculateMaxDrawdownProtection reports the portfolio's current drawdown
// against its equity peak.
func (m *Manager) CalculateMaxDrawdownProtection(portfolioID string) (*DrawdownProtection, error) {
	m.mu.RLock()
	portfolio, err := m.snapshotLocked(portfolioID)
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	dd := drawdownOf(portfolio)
	return &dd, nil
}

// drawdownOf computes the drawdown fraction from the equity curve peak.
// Empty or all-zero curves report zero drawdown.
func drawdownOf(portfolio *Portfolio) DrawdownProtection {
	peak := 0.0
	for _, point := range portfolio.EquityCurve {
		if point.Value > peak {
			peak = point.Value
		}
	}
	if portfolio.TotalValue > peak {
		peak = portfolio.TotalValue
	}

	dd := DrawdownProtection{
		CurrentValue: portfolio.TotalValue,
		PeakValue:    peak,
	}
	if peak > 0 && portfolio.TotalValue < peak {
		dd.CurrentDrawdown = (peak - portfolio.TotalValue) / peak
	}
	return dd
}

// GenerateRiskReport composes the risk metrics into a single report. VaR is
// included when enough equity history exists; missing history degrades the
// report instead of failing it.
func (m *Manager) GenerateRiskReport(portfolioID string) (*RiskReport, error) {
	m.mu.RLock()
	portfolio, err := m.snapshotLocked(portfolioID)
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	metrics := map[string]float64{
		"total_value":    portfolio.TotalValue,
		"cash":           portfolio.Cash,
		"gross_exposure": portfolio.GrossExposure(),
		"exposure_ratio": safeRatio(portfolio.GrossExposure(), portfolio.TotalValue),
		"concentration":  portfolio.LargestPositionShare(),
		"leverage":       portfolio.Leverage,
		"position_count": float64(len(portfolio.Positions)),
	}

	dd := drawdownOf(portfolio)
	metrics["drawdown"] = dd.CurrentDrawdown
	metrics["peak_value"] = dd.PeakValue

	varScore := 0.0
	if varResult, varErr := m.CalculateVaR(portfolioID, VaRHistorical, 0.95, 1); varErr == nil {
		metrics["var_95_1d"] = varResult.VaR
		metrics["var_95_1d_percent"] = varResult.VaRPercent
		varScore = clamp01(varResult.VaRPercent / 0.10)
	}

	score := 0.3*clamp01(safeRatio(metrics["exposure_ratio"], m.limits.MaxExposureRatio)) +
		0.3*clamp01(safeRatio(dd.CurrentDrawdown, m.limits.MaxDrawdown)) +
		0.2*clamp01(safeRatio(metrics["concentration"], m.limits.MaxConcentration)) +
		0.2*varScore

	return &RiskReport{
		PortfolioID:      portfolioID,
		GeneratedAt:      m.now(),
		RiskMetrics:      metrics,
		OverallRiskScore: clamp01(score),
	}, nil
}

// DescribeLimits returns the active limits as labelled values for reporting
func (m *Manager) DescribeLimits() map[string]float64 {
	return map[string]float64{
		"max_exposure_ratio":      m.limits.MaxExposureRatio,
		"max_drawdown":            m.limits.MaxDrawdown,
		"max_concentration":       m.limits.MaxConcentration,
		"max_leverage":            m.limits.MaxLeverage,
		"max_position_size_ratio": m.limits.MaxPositionSizeRatio,
	}
}
