package reporting

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/crypto-execution-core/internal/exchange"
	"github.com/ducminhle1904/crypto-execution-core/internal/orders"
	"github.com/ducminhle1904/crypto-execution-core/internal/risk"
)

func TestWriteExecutionReportXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "execution.xlsx")

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	orderStates := []*orders.OrderExecutionState{
		{
			OrderID:      "ord-1",
			StrategyType: orders.StrategyTWAP,
			ExchangeID:   "bybit-main",
			PortfolioID:  "main",
			Symbol:       "BTCUSDT",
			Side:         exchange.OrderSideBuy,
			Status:       orders.StatusFilled,
			FilledQty:    4,
			AvgFillPrice: 101,
			CreatedAt:    created,
			CompletedAt:  created.Add(time.Minute),
			ChildOrders: []orders.ChildOrder{
				{
					ExchangeOrderID: "ex-1",
					ExchangeID:      "bybit-main",
					Label:           "bucket-1",
					Side:            exchange.OrderSideBuy,
					Type:            exchange.OrderTypeMarket,
					Quantity:        2,
					FilledQuantity:  2,
					AvgFillPrice:    101,
					State:           exchange.OrderStateFilled,
					PlacedAt:        created,
				},
				{
					ExchangeOrderID: "ex-2",
					ExchangeID:      "bybit-main",
					Label:           "bucket-2",
					Side:            exchange.OrderSideBuy,
					Type:            exchange.OrderTypeMarket,
					Quantity:        2,
					FilledQuantity:  2,
					AvgFillPrice:    101,
					State:           exchange.OrderStateFilled,
					PlacedAt:        created.Add(30 * time.Second),
				},
			},
		},
	}

	portfolios := []*risk.Portfolio{
		{
			ID:         "main",
			Cash:       99596,
			Leverage:   1,
			TotalValue: 100000,
			Positions: map[string]risk.Position{
				"BTCUSDT": {Symbol: "BTCUSDT", Quantity: 4, AvgPrice: 101, CurrentPrice: 101},
			},
		},
	}

	reporter := NewExcelReporter()
	require.NoError(t, reporter.WriteExecutionReportXLSX(path, orderStates, portfolios))

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	assert.ElementsMatch(t, []string{"Orders", "Child Orders", "Portfolios"}, fx.GetSheetList())

	orderID, err := fx.GetCellValue("Orders", "A2")
	require.NoError(t, err)
	assert.Equal(t, "ord-1", orderID)

	status, err := fx.GetCellValue("Orders", "G2")
	require.NoError(t, err)
	assert.Equal(t, "FILLED", status)

	childLabel, err := fx.GetCellValue("Child Orders", "D3")
	require.NoError(t, err)
	assert.Equal(t, "bucket-2", childLabel)

	portfolioID, err := fx.GetCellValue("Portfolios", "A2")
	require.NoError(t, err)
	assert.Equal(t, "main", portfolioID)
}
