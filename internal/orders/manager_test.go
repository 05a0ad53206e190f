package orders

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-execution-core/internal/errors"
	"github.com/ducminhle1904/crypto-execution-core/internal/exchange"
	"github.com/ducminhle1904/crypto-execution-core/internal/exchange/adapters"
	"github.com/ducminhle1904/crypto-execution-core/internal/risk"
)

// stubFactory hands out a fixed adapter regardless of type
type stubFactory struct {
	adapter exchange.ExchangeAdapter
}

func (f *stubFactory) CreateAdapter(exchangeType string, creds exchange.Credentials) (exchange.ExchangeAdapter, error) {
	return f.adapter, nil
}

func (f *stubFactory) SupportedExchanges() []string { return []string{"paper"} }

func fastConfig() Config {
	return Config{
		PollInterval: 5 * time.Millisecond,
		TickInterval: 2 * time.Millisecond,
		Retry: RetryConfig{
			MaxRetries:    1,
			InitialDelay:  time.Millisecond,
			MaxDelay:      5 * time.Millisecond,
			BackoffFactor: 2.0,
		},
	}
}

func newTestEnv(t *testing.T, riskMgr *risk.Manager) (*Manager, *adapters.PaperAdapter) {
	t.Helper()
	paper := adapters.NewPaperAdapter()
	exchanges := exchange.NewManager(&stubFactory{adapter: paper}, exchange.ManagerConfig{
		CallTimeout:      time.Second,
		OrderBookDepth:   25,
		RateLimitPerSec:  10000,
		BreakerThreshold: 100,
	})
	_, err := exchanges.RegisterExchange("paper-1", "paper", exchange.Credentials{})
	require.NoError(t, err)

	manager := NewManager(exchanges, riskMgr, fastConfig())
	t.Cleanup(manager.Shutdown)
	return manager, paper
}

func waitForStatus(t *testing.T, m *Manager, orderID string, want OrderStatus) *OrderExecutionState {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		state, err := m.GetOrder(orderID)
		require.NoError(t, err)
		if state.Status == want {
			return state
		}
		time.Sleep(2 * time.Millisecond)
	}
	state, _ := m.GetOrder(orderID)
	t.Fatalf("order %s never reached %s, stuck at %s (reason: %s)",
		orderID, want, state.Status, state.FailureReason)
	return nil
}

func waitForChildren(t *testing.T, m *Manager, orderID string, count int) *OrderExecutionState {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		state, err := m.GetOrder(orderID)
		require.NoError(t, err)
		if len(state.ChildOrders) >= count {
			return state
		}
		time.Sleep(2 * time.Millisecond)
	}
	state, _ := m.GetOrder(orderID)
	t.Fatalf("order %s never reached %d children, has %d", orderID, count, len(state.ChildOrders))
	return nil
}

func TestSubmitOrderValidation(t *testing.T) {
	m, _ := newTestEnv(t, nil)

	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{
			name: "unknown strategy",
			req:  SubmitRequest{StrategyType: "martingale", ExchangeID: "paper-1", Symbol: "BTCUSDT", Side: exchange.OrderSideBuy},
		},
		{
			name: "missing symbol",
			req: SubmitRequest{StrategyType: StrategyTWAP, ExchangeID: "paper-1", Side: exchange.OrderSideBuy,
				TWAP: &TWAPParams{TotalQuantity: 1, Buckets: 2, Duration: time.Second}},
		},
		{
			name: "invalid side",
			req: SubmitRequest{StrategyType: StrategyTWAP, ExchangeID: "paper-1", Symbol: "BTCUSDT", Side: "hold",
				TWAP: &TWAPParams{TotalQuantity: 1, Buckets: 2, Duration: time.Second}},
		},
		{
			name: "missing strategy params",
			req:  SubmitRequest{StrategyType: StrategyOCO, ExchangeID: "paper-1", Symbol: "BTCUSDT", Side: exchange.OrderSideSell},
		},
		{
			name: "iceberg slice larger than total",
			req: SubmitRequest{StrategyType: StrategyIceberg, ExchangeID: "paper-1", Symbol: "BTCUSDT", Side: exchange.OrderSideBuy,
				Iceberg: &IcebergParams{TotalQuantity: 1, SliceQuantity: 2}},
		},
		{
			name: "trailing stop with both percent and amount",
			req: SubmitRequest{StrategyType: StrategyTrailingStop, ExchangeID: "paper-1", Symbol: "BTCUSDT", Side: exchange.OrderSideSell,
				TrailingStop: &TrailingStopParams{Quantity: 1, TrailingPercent: 0.05, TrailingAmount: 10}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.SubmitOrder(tt.req)
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestTWAPExecutesAllBuckets(t *testing.T) {
	m, paper := newTestEnv(t, nil)
	paper.SetTicker("BTCUSDT", 100, 101, 100.5, 1000)

	state, err := m.SubmitOrder(SubmitRequest{
		StrategyType: StrategyTWAP,
		ExchangeID:   "paper-1",
		Symbol:       "BTCUSDT",
		Side:         exchange.OrderSideBuy,
		TWAP:         &TWAPParams{TotalQuantity: 4, Buckets: 4, Duration: 40 * time.Millisecond},
	})
	require.NoError(t, err)

	final := waitForStatus(t, m, state.OrderID, StatusFilled)
	assert.Len(t, final.ChildOrders, 4)
	assert.InDelta(t, 4.0, final.FilledQty, 1e-9)
	assert.InDelta(t, 101.0, final.AvgFillPrice, 1e-9)
	assert.False(t, final.CompletedAt.IsZero())
}

func TestTWAPPartialOnBucketFailure(t *testing.T) {
	m, paper := newTestEnv(t, nil)
	paper.SetTicker("BTCUSDT", 100, 101, 100.5, 1000)
	paper.FailNext(stderrors.New("insufficient balance"))

	state, err := m.SubmitOrder(SubmitRequest{
		StrategyType: StrategyTWAP,
		ExchangeID:   "paper-1",
		Symbol:       "BTCUSDT",
		Side:         exchange.OrderSideBuy,
		TWAP:         &TWAPParams{TotalQuantity: 3, Buckets: 3, Duration: 30 * time.Millisecond},
	})
	require.NoError(t, err)

	final := waitForStatus(t, m, state.OrderID, StatusPartiallyFilled)
	assert.False(t, final.CompletedAt.IsZero())
	assert.Len(t, final.ChildOrders, 2)
	assert.NotEmpty(t, final.Warnings)
	assert.Contains(t, final.FailureReason, "1 of 3 buckets failed")
}

func TestTWAPFailsWhenAllBucketsFail(t *testing.T) {
	m, paper := newTestEnv(t, nil)
	paper.SetTicker("BTCUSDT", 100, 101, 100.5, 1000)
	paper.FailNext(
		stderrors.New("insufficient balance"),
		stderrors.New("insufficient balance"),
	)

	state, err := m.SubmitOrder(SubmitRequest{
		StrategyType: StrategyTWAP,
		ExchangeID:   "paper-1",
		Symbol:       "BTCUSDT",
		Side:         exchange.OrderSideBuy,
		TWAP:         &TWAPParams{TotalQuantity: 2, Buckets: 2, Duration: 20 * time.Millisecond},
	})
	require.NoError(t, err)

	final := waitForStatus(t, m, state.OrderID, StatusFailed)
	assert.Contains(t, final.FailureReason, "all 2 buckets failed")
}

func TestTWAPLimitBucketsSettleFromFills(t *testing.T) {
	m, paper := newTestEnv(t, nil)
	paper.SetTicker("BTCUSDT", 100, 101, 100.5, 1000)

	state, err := m.SubmitOrder(SubmitRequest{
		StrategyType: StrategyTWAP,
		ExchangeID:   "paper-1",
		Symbol:       "BTCUSDT",
		Side:         exchange.OrderSideBuy,
		TWAP:         &TWAPParams{TotalQuantity: 2, Buckets: 2, Duration: 60 * time.Millisecond, LimitPrice: 100},
	})
	require.NoError(t, err)

	// Fill the first resting bucket by script; the second stays on the book.
	current := waitForChildren(t, m, state.OrderID, 1)
	require.Equal(t, exchange.OrderTypeLimit, current.ChildOrders[0].Type)
	require.NoError(t, paper.FillOrder(current.ChildOrders[0].ExchangeOrderID, 1, 100))

	final := waitForStatus(t, m, state.OrderID, StatusPartiallyFilled)
	require.Len(t, final.ChildOrders, 2)
	assert.Equal(t, exchange.OrderStateFilled, final.ChildOrders[0].State)
	assert.Equal(t, exchange.OrderStateCanceled, final.ChildOrders[1].State)
	assert.InDelta(t, 1.0, final.FilledQty, 1e-9)
	assert.Contains(t, final.FailureReason, "filled 1.00000000 of 2.00000000")
	assert.False(t, final.CompletedAt.IsZero())
}

func TestTWAPUnfilledLimitBucketsNeverReachFilled(t *testing.T) {
	m, paper := newTestEnv(t, nil)
	paper.SetTicker("BTCUSDT", 100, 101, 100.5, 1000)

	state, err := m.SubmitOrder(SubmitRequest{
		StrategyType: StrategyTWAP,
		ExchangeID:   "paper-1",
		Symbol:       "BTCUSDT",
		Side:         exchange.OrderSideBuy,
		TWAP:         &TWAPParams{TotalQuantity: 2, Buckets: 2, Duration: 30 * time.Millisecond, LimitPrice: 90},
	})
	require.NoError(t, err)

	// Nothing ever trades against the resting buckets: the order must not be
	// declared filled, and no child may be left live at the venue.
	final := waitForStatus(t, m, state.OrderID, StatusFailed)
	require.Len(t, final.ChildOrders, 2)
	for _, child := range final.ChildOrders {
		assert.Equal(t, exchange.OrderStateCanceled, child.State)
	}
	assert.InDelta(t, 0.0, final.FilledQty, 1e-9)
	assert.Contains(t, final.FailureReason, "no quantity filled")
}

func TestIcebergSequentialSlices(t *testing.T) {
	m, paper := newTestEnv(t, nil)
	paper.SetTicker("BTCUSDT", 100, 101, 100.5, 1000)

	state, err := m.SubmitOrder(SubmitRequest{
		StrategyType: StrategyIceberg,
		ExchangeID:   "paper-1",
		Symbol:       "BTCUSDT",
		Side:         exchange.OrderSideBuy,
		Iceberg:      &IcebergParams{TotalQuantity: 10, SliceQuantity: 4},
	})
	require.NoError(t, err)

	final := waitForStatus(t, m, state.OrderID, StatusFilled)
	require.Len(t, final.ChildOrders, 3)
	assert.InDelta(t, 4.0, final.ChildOrders[0].Quantity, 1e-9)
	assert.InDelta(t, 4.0, final.ChildOrders[1].Quantity, 1e-9)
	assert.InDelta(t, 2.0, final.ChildOrders[2].Quantity, 1e-9)
	assert.InDelta(t, 10.0, final.FilledQty, 1e-9)

	// Slices were worked strictly one after another.
	for i := 1; i < len(final.ChildOrders); i++ {
		assert.False(t, final.ChildOrders[i].PlacedAt.Before(final.ChildOrders[i-1].PlacedAt))
	}
}

func TestIcebergCancelKeepsFilledSliceRecords(t *testing.T) {
	m, paper := newTestEnv(t, nil)
	paper.SetTicker("BTCUSDT", 100, 101, 100.5, 1000)
	paper.SetFillMarketOrders(false)

	state, err := m.SubmitOrder(SubmitRequest{
		StrategyType: StrategyIceberg,
		ExchangeID:   "paper-1",
		Symbol:       "BTCUSDT",
		Side:         exchange.OrderSideBuy,
		Iceberg:      &IcebergParams{TotalQuantity: 5, SliceQuantity: 1},
	})
	require.NoError(t, err)

	// Fill the first two slices by script, then cancel while the third rests.
	current := waitForChildren(t, m, state.OrderID, 1)
	require.NoError(t, paper.FillOrder(current.ChildOrders[0].ExchangeOrderID, 1, 101))

	current = waitForChildren(t, m, state.OrderID, 2)
	require.NoError(t, paper.FillOrder(current.ChildOrders[1].ExchangeOrderID, 1, 101))

	waitForChildren(t, m, state.OrderID, 3)
	require.NoError(t, m.CancelOrder(context.Background(), state.OrderID))

	final, err := m.GetOrder(state.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, final.Status)
	require.Len(t, final.ChildOrders, 3)
	assert.Equal(t, exchange.OrderStateFilled, final.ChildOrders[0].State)
	assert.Equal(t, exchange.OrderStateFilled, final.ChildOrders[1].State)
	assert.Equal(t, exchange.OrderStateCanceled, final.ChildOrders[2].State)

	// No further slices appear after cancellation.
	time.Sleep(50 * time.Millisecond)
	after, err := m.GetOrder(state.OrderID)
	require.NoError(t, err)
	assert.Len(t, after.ChildOrders, 3)
	assert.InDelta(t, 2.0, after.FilledQty, 1e-9)
}

func TestOCOFillCancelsSibling(t *testing.T) {
	m, paper := newTestEnv(t, nil)
	paper.SetTicker("BTCUSDT", 100, 101, 100.5, 1000)

	state, err := m.SubmitOrder(SubmitRequest{
		StrategyType: StrategyOCO,
		ExchangeID:   "paper-1",
		Symbol:       "BTCUSDT",
		Side:         exchange.OrderSideSell,
		OCO:          &OCOParams{Quantity: 1, TakeProfitPrice: 110, StopPrice: 90},
	})
	require.NoError(t, err)

	current := waitForChildren(t, m, state.OrderID, 2)
	var tpID, stopID string
	for _, child := range current.ChildOrders {
		switch child.Label {
		case "take_profit":
			tpID = child.ExchangeOrderID
		case "stop_loss":
			stopID = child.ExchangeOrderID
		}
	}
	require.NotEmpty(t, tpID)
	require.NotEmpty(t, stopID)

	require.NoError(t, paper.FillOrder(tpID, 1, 110))

	final := waitForStatus(t, m, state.OrderID, StatusFilled)
	for _, child := range final.ChildOrders {
		if child.ExchangeOrderID == stopID {
			assert.Equal(t, exchange.OrderStateCanceled, child.State)
		}
	}
	assert.InDelta(t, 1.0, final.FilledQty, 1e-9)
	assert.InDelta(t, 110.0, final.AvgFillPrice, 1e-9)
}

func TestOCODoubleFillReconciledAsWarning(t *testing.T) {
	// A slow poller guarantees both fills land inside one market window, the
	// double-fill race the reconciliation path exists for.
	paper := adapters.NewPaperAdapter()
	exchanges := exchange.NewManager(&stubFactory{adapter: paper}, exchange.ManagerConfig{
		CallTimeout:      time.Second,
		RateLimitPerSec:  10000,
		BreakerThreshold: 100,
	})
	_, err := exchanges.RegisterExchange("paper-1", "paper", exchange.Credentials{})
	require.NoError(t, err)
	config := fastConfig()
	config.PollInterval = 100 * time.Millisecond
	m := NewManager(exchanges, nil, config)
	t.Cleanup(m.Shutdown)
	paper.SetTicker("BTCUSDT", 100, 101, 100.5, 1000)

	state, err := m.SubmitOrder(SubmitRequest{
		StrategyType: StrategyOCO,
		ExchangeID:   "paper-1",
		Symbol:       "BTCUSDT",
		Side:         exchange.OrderSideSell,
		OCO:          &OCOParams{Quantity: 1, TakeProfitPrice: 110, StopPrice: 90},
	})
	require.NoError(t, err)

	current := waitForChildren(t, m, state.OrderID, 2)
	require.NoError(t, paper.FillOrder(current.ChildOrders[0].ExchangeOrderID, 1, 110))
	require.NoError(t, paper.FillOrder(current.ChildOrders[1].ExchangeOrderID, 1, 90))

	final := waitForStatus(t, m, state.OrderID, StatusFilled)
	require.NotEmpty(t, final.Warnings)
	assert.Contains(t, final.Warnings[len(final.Warnings)-1], "both legs filled")
}

func TestTrailingStopRatchetsAndFires(t *testing.T) {
	m, paper := newTestEnv(t, nil)
	paper.SetTicker("BTCUSDT", 100, 100.5, 100.2, 1000)

	state, err := m.SubmitOrder(SubmitRequest{
		StrategyType: StrategyTrailingStop,
		ExchangeID:   "paper-1",
		Symbol:       "BTCUSDT",
		Side:         exchange.OrderSideSell,
		TrailingStop: &TrailingStopParams{Quantity: 1, TrailingPercent: 0.05},
	})
	require.NoError(t, err)

	// Rally: high-water mark moves to 110, trigger ratchets to 104.5.
	time.Sleep(20 * time.Millisecond)
	paper.SetTicker("BTCUSDT", 110, 110.5, 110.2, 1000)

	// Dip above the trigger must not fire.
	time.Sleep(20 * time.Millisecond)
	paper.SetTicker("BTCUSDT", 105, 105.5, 105.2, 1000)
	time.Sleep(20 * time.Millisecond)
	active, err := m.GetOrder(state.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, active.Status)
	assert.Empty(t, active.ChildOrders)

	// Crossing the trigger fires the market exit.
	paper.SetTicker("BTCUSDT", 104, 104.5, 104.2, 1000)
	final := waitForStatus(t, m, state.OrderID, StatusFilled)
	require.Len(t, final.ChildOrders, 1)
	assert.Equal(t, "trailing_exit", final.ChildOrders[0].Label)
	assert.Equal(t, exchange.OrderTypeMarket, final.ChildOrders[0].Type)
	assert.InDelta(t, 104.0, final.AvgFillPrice, 1e-9)
}

func TestCancelTrailingStopStopsWatcher(t *testing.T) {
	m, paper := newTestEnv(t, nil)
	paper.SetTicker("BTCUSDT", 100, 100.5, 100.2, 1000)

	state, err := m.SubmitOrder(SubmitRequest{
		StrategyType: StrategyTrailingStop,
		ExchangeID:   "paper-1",
		Symbol:       "BTCUSDT",
		Side:         exchange.OrderSideSell,
		TrailingStop: &TrailingStopParams{Quantity: 1, TrailingAmount: 5},
	})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.CancelOrder(context.Background(), state.OrderID))

	final, err := m.GetOrder(state.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, final.Status)
	assert.Empty(t, final.ChildOrders)

	// Canceling twice is rejected.
	err = m.CancelOrder(context.Background(), state.OrderID)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestRiskGateBlocksChildOrders(t *testing.T) {
	riskMgr := risk.NewManager(risk.DefaultLimits())
	_, err := riskMgr.RegisterPortfolio("port-1", 1000, 1.0)
	require.NoError(t, err)

	m, paper := newTestEnv(t, riskMgr)
	paper.SetTicker("BTCUSDT", 100, 101, 100.5, 1000)

	// Each bucket's notional (5 * 101) is over the 20% single-order cap of a
	// 1000 portfolio.
	state, err := m.SubmitOrder(SubmitRequest{
		StrategyType: StrategyTWAP,
		ExchangeID:   "paper-1",
		PortfolioID:  "port-1",
		Symbol:       "BTCUSDT",
		Side:         exchange.OrderSideBuy,
		TWAP:         &TWAPParams{TotalQuantity: 10, Buckets: 2, Duration: 10 * time.Millisecond},
	})
	require.NoError(t, err)

	final := waitForStatus(t, m, state.OrderID, StatusFailed)
	assert.Empty(t, final.ChildOrders)
	assert.Contains(t, final.FailureReason, "all 2 buckets failed")

	portfolio, err := riskMgr.GetPortfolio("port-1")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, portfolio.Cash)
	assert.Empty(t, portfolio.Positions)
}

func TestFillsFlowIntoRiskPortfolio(t *testing.T) {
	riskMgr := risk.NewManager(risk.DefaultLimits())
	_, err := riskMgr.RegisterPortfolio("port-1", 100000, 1.0)
	require.NoError(t, err)

	m, paper := newTestEnv(t, riskMgr)
	paper.SetTicker("BTCUSDT", 100, 101, 100.5, 1000)

	state, err := m.SubmitOrder(SubmitRequest{
		StrategyType: StrategyTWAP,
		ExchangeID:   "paper-1",
		PortfolioID:  "port-1",
		Symbol:       "BTCUSDT",
		Side:         exchange.OrderSideBuy,
		TWAP:         &TWAPParams{TotalQuantity: 2, Buckets: 2, Duration: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	waitForStatus(t, m, state.OrderID, StatusFilled)

	portfolio, err := riskMgr.GetPortfolio("port-1")
	require.NoError(t, err)
	require.Contains(t, portfolio.Positions, "BTCUSDT")
	assert.InDelta(t, 2.0, portfolio.Positions["BTCUSDT"].Quantity, 1e-9)
	assert.InDelta(t, 100000-2*101, portfolio.Cash, 1e-9)
}

func TestExecutionAnalytics(t *testing.T) {
	m, paper := newTestEnv(t, nil)
	paper.SetTicker("BTCUSDT", 100, 101, 100.5, 1000)

	filled, err := m.SubmitOrder(SubmitRequest{
		StrategyType: StrategyIceberg,
		ExchangeID:   "paper-1",
		Symbol:       "BTCUSDT",
		Side:         exchange.OrderSideBuy,
		Iceberg:      &IcebergParams{TotalQuantity: 2, SliceQuantity: 1},
	})
	require.NoError(t, err)
	waitForStatus(t, m, filled.OrderID, StatusFilled)

	paper.FailNext(stderrors.New("insufficient balance"), stderrors.New("insufficient balance"))
	failed, err := m.SubmitOrder(SubmitRequest{
		StrategyType: StrategyTWAP,
		ExchangeID:   "paper-1",
		Symbol:       "BTCUSDT",
		Side:         exchange.OrderSideBuy,
		TWAP:         &TWAPParams{TotalQuantity: 2, Buckets: 2, Duration: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	waitForStatus(t, m, failed.OrderID, StatusFailed)

	analytics := m.GetExecutionAnalytics(0)
	assert.Equal(t, 2, analytics.TotalOrders)
	assert.Equal(t, 1, analytics.FilledOrders)
	assert.Equal(t, 1, analytics.FailedOrders)
	assert.InDelta(t, 0.5, analytics.SuccessRate, 1e-9)
	assert.Equal(t, 1, analytics.ByStrategy[string(StrategyIceberg)].Filled)
	assert.Equal(t, 1, analytics.ByStrategy[string(StrategyTWAP)].Failed)
	assert.Greater(t, analytics.TotalChildOrders, 0)

	// A tiny window excludes everything.
	require.Eventually(t, func() bool {
		return m.GetExecutionAnalytics(time.Nanosecond).TotalOrders == 0
	}, time.Second, 10*time.Millisecond)

	assert.ElementsMatch(t, m.GetExecutionStrategies(),
		[]string{"oco", "iceberg", "twap", "trailing_stop"})
	assert.Contains(t, m.GetOrderTypes(), "market")
}
