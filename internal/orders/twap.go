package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/ducminhle1904/crypto-execution-core/internal/exchange"
)

// fillEpsilon absorbs float accumulation error when comparing filled
// quantity against the requested total.
const fillEpsilon = 1e-9

// runTWAP divides the total quantity evenly across time buckets spread over
// the requested duration. A failed bucket does not stop the remaining
// buckets; partial execution is a valid TWAP outcome. Limit buckets rest at
// the venue and are watched across slots; whatever still rests after the
// last slot is canceled, and the aggregate settles from the quantity that
// actually filled.
func (m *Manager) runTWAP(ctx context.Context, orderID string, req SubmitRequest) error {
	params := req.TWAP

	bucketQty := params.TotalQuantity / float64(params.Buckets)
	interval := params.Duration / time.Duration(params.Buckets)

	orderType := exchange.OrderTypeMarket
	if params.LimitPrice > 0 {
		orderType = exchange.OrderTypeLimit
	}

	children := make([]string, 0, params.Buckets)
	failures := 0
	for bucket := 1; bucket <= params.Buckets; bucket++ {
		// The first bucket executes immediately; later buckets wait for
		// their scheduled slot while earlier children are kept reconciled.
		if bucket > 1 {
			if err := m.holdBucketSlot(ctx, orderID, req, interval, children); err != nil {
				return err
			}
		}

		child, err := m.placeChild(ctx, orderID, fmt.Sprintf("bucket_%d", bucket), req, exchange.OrderRequest{
			Symbol:   req.Symbol,
			Side:     req.Side,
			Type:     orderType,
			Quantity: bucketQty,
			Price:    params.LimitPrice,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			m.addWarning(orderID, fmt.Sprintf("bucket %d/%d failed: %v", bucket, params.Buckets, err))
			continue
		}
		children = append(children, child.ExchangeOrderID)

		if bucket < params.Buckets {
			m.setStatus(orderID, StatusPartiallyFilled)
		}
	}

	if failures == params.Buckets {
		return fmt.Errorf("all %d buckets failed", params.Buckets)
	}

	// Give the final bucket its slot, then cancel any child still resting.
	if err := m.holdBucketSlot(ctx, orderID, req, interval, children); err != nil {
		return err
	}
	m.settleChildren(ctx, orderID, req, children)

	state, err := m.GetOrder(orderID)
	if err != nil {
		return err
	}
	filled := 0.0
	for _, child := range state.ChildOrders {
		filled += child.FilledQuantity
	}

	switch {
	case filled <= 0:
		return fmt.Errorf("no quantity filled across %d buckets (%d placements failed)",
			params.Buckets, failures)
	case failures > 0 || filled+fillEpsilon < params.TotalQuantity:
		reason := fmt.Sprintf("filled %.8f of %.8f", filled, params.TotalQuantity)
		if failures > 0 {
			reason = fmt.Sprintf("%d of %d buckets failed; %s", failures, params.Buckets, reason)
		}
		m.completePartial(orderID, reason)
		return nil
	default:
		m.setStatus(orderID, StatusFilled)
		return nil
	}
}

// holdBucketSlot waits out one bucket interval. While waiting it polls the
// order's open children so a resting limit bucket is never left unwatched.
func (m *Manager) holdBucketSlot(ctx context.Context, orderID string, req SubmitRequest, interval time.Duration, children []string) error {
	slot := time.NewTimer(interval)
	defer slot.Stop()
	poll := time.NewTicker(m.config.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-slot.C:
			return nil
		case <-poll.C:
			for _, childID := range m.openChildIDs(orderID, children) {
				// Best effort: a poll failure here just defers the refresh to
				// the next tick or to settlement.
				_, _ = m.pollChild(ctx, orderID, req.ExchangeID, req.Symbol, childID)
			}
		}
	}
}

// settleChildren cancels children still resting at the venue and pulls their
// final state, so the aggregate reflects every fill that actually happened.
func (m *Manager) settleChildren(ctx context.Context, orderID string, req SubmitRequest, children []string) {
	for _, childID := range m.openChildIDs(orderID, children) {
		order, err := m.pollChild(ctx, orderID, req.ExchangeID, req.Symbol, childID)
		if err == nil && order.State.Terminal() {
			continue
		}
		if cancelErr := m.exchanges.CancelOrder(ctx, req.ExchangeID, req.Symbol, childID); cancelErr != nil {
			m.addWarning(orderID, fmt.Sprintf("venue cancel of bucket child %s failed: %v", childID, cancelErr))
		}
		m.reconcileChild(ctx, orderID, childID)
	}
}
