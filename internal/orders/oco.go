package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/ducminhle1904/crypto-execution-core/internal/exchange"
)

// runOCO places a linked take-profit limit order and a stop order, then
// watches both. When either fills the sibling is canceled immediately. If
// both fill in the same market window the second fill is accepted and
// reconciled with a warning, since funds have already moved.
func (m *Manager) runOCO(ctx context.Context, orderID string, req SubmitRequest) error {
	params := req.OCO

	takeProfit, err := m.placeChild(ctx, orderID, "take_profit", req, exchange.OrderRequest{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Type:     exchange.OrderTypeLimit,
		Quantity: params.Quantity,
		Price:    params.TakeProfitPrice,
	})
	if err != nil {
		return fmt.Errorf("take-profit leg failed: %w", err)
	}

	stopType := exchange.OrderTypeStopMarket
	stopLimit := 0.0
	if params.StopLimitPrice > 0 {
		stopType = exchange.OrderTypeStopLimit
		stopLimit = params.StopLimitPrice
	}
	stop, err := m.placeChild(ctx, orderID, "stop_loss", req, exchange.OrderRequest{
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      stopType,
		Quantity:  params.Quantity,
		Price:     stopLimit,
		StopPrice: params.StopPrice,
	})
	if err != nil {
		// The pair is atomic: without a stop leg the take-profit must not
		// rest alone.
		if cancelErr := m.exchanges.CancelOrder(ctx, req.ExchangeID, req.Symbol, takeProfit.ExchangeOrderID); cancelErr != nil {
			m.addWarning(orderID, fmt.Sprintf(
				"cancel of take-profit leg after stop failure also failed: %v", cancelErr))
		} else {
			m.updateChildState(orderID, takeProfit.ExchangeOrderID, exchange.OrderStateCanceled, 0, 0)
		}
		return fmt.Errorf("stop leg failed: %w", err)
	}

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		tpOrder, err := m.pollChild(ctx, orderID, req.ExchangeID, req.Symbol, takeProfit.ExchangeOrderID)
		if err != nil {
			return fmt.Errorf("take-profit poll failed: %w", err)
		}
		stopOrder, err := m.pollChild(ctx, orderID, req.ExchangeID, req.Symbol, stop.ExchangeOrderID)
		if err != nil {
			return fmt.Errorf("stop poll failed: %w", err)
		}

		switch {
		case tpOrder.State == exchange.OrderStateFilled && stopOrder.State == exchange.OrderStateFilled:
			m.addWarning(orderID,
				"both legs filled before either cancel landed; second fill accepted and reconciled")
			m.setStatus(orderID, StatusFilled)
			return nil
		case tpOrder.State == exchange.OrderStateFilled:
			m.cancelSibling(ctx, orderID, req, stop.ExchangeOrderID, "stop")
			m.setStatus(orderID, StatusFilled)
			return nil
		case stopOrder.State == exchange.OrderStateFilled:
			m.cancelSibling(ctx, orderID, req, takeProfit.ExchangeOrderID, "take-profit")
			m.setStatus(orderID, StatusFilled)
			return nil
		case tpOrder.State == exchange.OrderStateRejected && stopOrder.State == exchange.OrderStateRejected:
			return fmt.Errorf("both legs rejected by venue")
		case tpOrder.FilledQuantity > 0 || stopOrder.FilledQuantity > 0:
			m.setStatus(orderID, StatusPartiallyFilled)
		}
	}
}

// cancelSibling cancels the unfilled leg of an OCO pair. A cancel rejected
// because the sibling already filled is the double-fill race: the fill is
// kept and surfaced as a reconciliation warning.
func (m *Manager) cancelSibling(ctx context.Context, orderID string, req SubmitRequest, siblingID, label string) {
	if err := m.exchanges.CancelOrder(ctx, req.ExchangeID, req.Symbol, siblingID); err != nil {
		m.addWarning(orderID, fmt.Sprintf("cancel of %s leg failed: %v", label, err))
		m.reconcileChild(ctx, orderID, siblingID)
		return
	}
	m.updateChildState(orderID, siblingID, exchange.OrderStateCanceled, 0, 0)
}
