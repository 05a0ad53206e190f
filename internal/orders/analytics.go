package orders

import "time"

// StrategyStats aggregates outcomes for one strategy type
type StrategyStats struct {
	Total    int `json:"total"`
	Filled   int `json:"filled"`
	Partial  int `json:"partial"`
	Canceled int `json:"canceled"`
	Failed   int `json:"failed"`
	Active   int `json:"active"`
}

// ExecutionAnalytics is a derived read-only view over order state. It is
// recomputed on each call and never the source of truth.
type ExecutionAnalytics struct {
	Window           time.Duration            `json:"window"`
	TotalOrders      int                      `json:"total_orders"`
	ActiveOrders     int                      `json:"active_orders"`
	FilledOrders     int                      `json:"filled_orders"`
	PartialOrders    int                      `json:"partial_orders"`
	CanceledOrders   int                      `json:"canceled_orders"`
	FailedOrders     int                      `json:"failed_orders"`
	SuccessRate      float64                  `json:"success_rate"`
	TotalChildOrders int                      `json:"total_child_orders"`
	AvgExecutionTime time.Duration            `json:"avg_execution_time"`
	ByStrategy       map[string]StrategyStats `json:"by_strategy"`
	GeneratedAt      time.Time                `json:"generated_at"`
}

// GetExecutionAnalytics summarizes orders created within the window.
// A zero window covers the manager's full history.
func (m *Manager) GetExecutionAnalytics(window time.Duration) *ExecutionAnalytics {
	now := time.Now()
	cutoff := time.Time{}
	if window > 0 {
		cutoff = now.Add(-window)
	}

	analytics := &ExecutionAnalytics{
		Window:      window,
		ByStrategy:  make(map[string]StrategyStats),
		GeneratedAt: now,
	}

	var totalExecution time.Duration
	completed := 0

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, managed := range m.orders {
		state := managed.state
		if !cutoff.IsZero() && state.CreatedAt.Before(cutoff) {
			continue
		}

		analytics.TotalOrders++
		analytics.TotalChildOrders += len(state.ChildOrders)
		stats := analytics.ByStrategy[string(state.StrategyType)]
		stats.Total++

		switch state.Status {
		case StatusFilled:
			analytics.FilledOrders++
			stats.Filled++
		case StatusCanceled:
			analytics.CanceledOrders++
			stats.Canceled++
		case StatusFailed:
			analytics.FailedOrders++
			stats.Failed++
		case StatusPartiallyFilled:
			if state.CompletedAt.IsZero() {
				analytics.ActiveOrders++
				stats.Active++
			} else {
				analytics.PartialOrders++
				stats.Partial++
			}
		default:
			analytics.ActiveOrders++
			stats.Active++
		}
		analytics.ByStrategy[string(state.StrategyType)] = stats

		if !state.CompletedAt.IsZero() {
			totalExecution += state.CompletedAt.Sub(state.CreatedAt)
			completed++
		}
	}

	finished := analytics.TotalOrders - analytics.ActiveOrders
	if finished > 0 {
		analytics.SuccessRate = float64(analytics.FilledOrders+analytics.PartialOrders) / float64(finished)
	}
	if completed > 0 {
		analytics.AvgExecutionTime = totalExecution / time.Duration(completed)
	}
	return analytics
}
