package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/ducminhle1904/crypto-execution-core/internal/exchange"
)

// runTrailingStop watches the market with a dedicated ticker and maintains a
// stop trigger that ratchets only in the favorable direction. A sell order
// trails below the highest observed price, a buy order above the lowest.
// When price crosses the trigger a market exit order is fired.
func (m *Manager) runTrailingStop(ctx context.Context, orderID string, req SubmitRequest) error {
	params := req.TrailingStop

	best := params.ActivationPrice
	trigger := 0.0
	if best > 0 {
		trigger = trailingTrigger(best, req.Side, params)
	}

	ticker := time.NewTicker(m.config.TickInterval)
	defer ticker.Stop()

	staleFailures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		quote, err := m.exchanges.GetTicker(ctx, req.ExchangeID, req.Symbol)
		if err != nil {
			if !isRetryable(err) {
				return fmt.Errorf("price watch failed: %w", err)
			}
			// Transient quote gaps keep the last-known trigger armed.
			staleFailures++
			if staleFailures >= 10 {
				return fmt.Errorf("price feed unavailable for %d consecutive ticks: %w", staleFailures, err)
			}
			continue
		}
		staleFailures = 0

		// A sell stop exits a long: it marks to the bid. A buy stop exits a
		// short: it marks to the ask.
		price := quote.Bid
		if req.Side == exchange.OrderSideBuy {
			price = quote.Ask
		}
		if price <= 0 {
			continue
		}

		if improved(best, price, req.Side) {
			best = price
			newTrigger := trailingTrigger(best, req.Side, params)
			// The trigger only ratchets toward the market, never away.
			if trigger == 0 || favorableTrigger(newTrigger, trigger, req.Side) {
				trigger = newTrigger
			}
		}

		if trigger > 0 && crossed(price, trigger, req.Side) {
			return m.fireTrailingExit(ctx, orderID, req, trigger, price)
		}
	}
}

// fireTrailingExit places the market exit once the trigger is crossed
func (m *Manager) fireTrailingExit(ctx context.Context, orderID string, req SubmitRequest, trigger, price float64) error {
	m.addWarning(orderID, fmt.Sprintf(
		"trailing trigger %.8f crossed at price %.8f, firing exit", trigger, price))

	child, err := m.placeChild(ctx, orderID, "trailing_exit", req, exchange.OrderRequest{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Type:     exchange.OrderTypeMarket,
		Quantity: req.TrailingStop.Quantity,
	})
	if err != nil {
		return fmt.Errorf("trailing exit failed: %w", err)
	}

	// Market exits usually fill synchronously; poll the laggards.
	if !child.State.Terminal() {
		pollTicker := time.NewTicker(m.config.PollInterval)
		defer pollTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-pollTicker.C:
			}
			order, pollErr := m.pollChild(ctx, orderID, req.ExchangeID, req.Symbol, child.ExchangeOrderID)
			if pollErr != nil {
				return fmt.Errorf("trailing exit poll failed: %w", pollErr)
			}
			if order.State.Terminal() {
				if order.State != exchange.OrderStateFilled {
					return fmt.Errorf("trailing exit ended %s", order.State)
				}
				break
			}
		}
	}

	m.setStatus(orderID, StatusFilled)
	return nil
}

// improved reports whether price is a new favorable extreme
func improved(best, price float64, side exchange.OrderSide) bool {
	if best == 0 {
		return true
	}
	if side == exchange.OrderSideSell {
		return price > best
	}
	return price < best
}

// trailingTrigger derives the stop trigger from the best observed price
func trailingTrigger(best float64, side exchange.OrderSide, params *TrailingStopParams) float64 {
	if side == exchange.OrderSideSell {
		if params.TrailingPercent > 0 {
			return best * (1 - params.TrailingPercent)
		}
		return best - params.TrailingAmount
	}
	if params.TrailingPercent > 0 {
		return best * (1 + params.TrailingPercent)
	}
	return best + params.TrailingAmount
}

// favorableTrigger reports whether a candidate trigger is tighter than the
// current one (higher for sell stops, lower for buy stops)
func favorableTrigger(candidate, current float64, side exchange.OrderSide) bool {
	if side == exchange.OrderSideSell {
		return candidate > current
	}
	return candidate < current
}

// crossed reports whether price has hit the trigger
func crossed(price, trigger float64, side exchange.OrderSide) bool {
	if side == exchange.OrderSideSell {
		return price <= trigger
	}
	return price >= trigger
}
