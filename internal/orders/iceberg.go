package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/ducminhle1904/crypto-execution-core/internal/exchange"
)

// sliceRetryBudget bounds how many times one iceberg slice may be re-placed
// after transient venue failures before the whole order fails.
const sliceRetryBudget = 3

// runIceberg works the total quantity in slices. Slice i+1 is placed only
// after slice i reached a terminal state, so the full size is never visible
// on the book at once.
func (m *Manager) runIceberg(ctx context.Context, orderID string, req SubmitRequest) error {
	params := req.Iceberg
	remaining := params.TotalQuantity

	for sliceNum := 1; remaining > 0; sliceNum++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		sliceQty := params.SliceQuantity
		if sliceQty > remaining {
			sliceQty = remaining
		}

		filled, err := m.workSlice(ctx, orderID, req, sliceNum, sliceQty)
		if err != nil {
			return err
		}
		remaining -= filled
		// A canceled slice that filled nothing would spin forever; treat it
		// as venue refusal of the remaining quantity.
		if filled <= 0 {
			return fmt.Errorf("slice %d terminated without filling; %.8f remaining unexecuted",
				sliceNum, remaining)
		}

		if remaining > 0 {
			m.setStatus(orderID, StatusPartiallyFilled)
		}
	}

	m.setStatus(orderID, StatusFilled)
	return nil
}

// workSlice places one slice and watches it to a terminal state, re-placing
// it on transient failures within the retry budget. Returns the quantity the
// slice ultimately filled.
func (m *Manager) workSlice(ctx context.Context, orderID string, req SubmitRequest, sliceNum int, quantity float64) (float64, error) {
	orderType := exchange.OrderTypeMarket
	if req.Iceberg.LimitPrice > 0 {
		orderType = exchange.OrderTypeLimit
	}

	for attempt := 0; attempt <= sliceRetryBudget; attempt++ {
		child, err := m.placeChild(ctx, orderID, fmt.Sprintf("slice_%d", sliceNum), req, exchange.OrderRequest{
			Symbol:   req.Symbol,
			Side:     req.Side,
			Type:     orderType,
			Quantity: quantity,
			Price:    req.Iceberg.LimitPrice,
		})
		if err != nil {
			if isRetryable(err) && attempt < sliceRetryBudget {
				continue
			}
			return 0, fmt.Errorf("slice %d placement failed: %w", sliceNum, err)
		}

		filled, err := m.watchSlice(ctx, orderID, req, child.ExchangeOrderID)
		if err == nil {
			return filled, nil
		}
		if !isRetryable(err) || attempt == sliceRetryBudget {
			return filled, fmt.Errorf("slice %d failed after %d attempts: %w", sliceNum, attempt+1, err)
		}
		// Best effort cancel of the stuck slice so the retry does not leave
		// two live orders on the book.
		if cancelErr := m.exchanges.CancelOrder(ctx, req.ExchangeID, req.Symbol, child.ExchangeOrderID); cancelErr == nil {
			m.updateChildState(orderID, child.ExchangeOrderID, exchange.OrderStateCanceled, 0, 0)
		}
		m.addWarning(orderID, fmt.Sprintf("slice %d attempt %d hit a transient venue failure, retrying: %v",
			sliceNum, attempt+1, err))
	}
	return 0, fmt.Errorf("slice %d exhausted its retry budget", sliceNum)
}

// watchSlice polls one slice until it reaches a terminal venue state
func (m *Manager) watchSlice(ctx context.Context, orderID string, req SubmitRequest, childID string) (float64, error) {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}

		order, err := m.pollChild(ctx, orderID, req.ExchangeID, req.Symbol, childID)
		if err != nil {
			return 0, err
		}
		if order.State.Terminal() {
			if order.State == exchange.OrderStateRejected {
				return 0, fmt.Errorf("venue rejected slice order %s", childID)
			}
			return order.FilledQuantity, nil
		}
	}
}
