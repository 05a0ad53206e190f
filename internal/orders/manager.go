package orders

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ducminhle1904/crypto-execution-core/internal/errors"
	"github.com/ducminhle1904/crypto-execution-core/internal/exchange"
	"github.com/ducminhle1904/crypto-execution-core/internal/monitoring"
	"github.com/ducminhle1904/crypto-execution-core/internal/risk"
)

// Config tunes the strategy monitors
type Config struct {
	PollInterval time.Duration // fill status polling for OCO and iceberg
	TickInterval time.Duration // price watch cadence for trailing stops
	Retry        RetryConfig

	// OnTerminal, when set, receives a copy of each order state as it
	// reaches FILLED, PARTIALLY_FILLED, CANCELED or FAILED. Called from the
	// order's own monitor goroutine; must not block.
	OnTerminal func(state *OrderExecutionState)
}

// DefaultConfig returns the default monitor configuration
func DefaultConfig() Config {
	return Config{
		PollInterval: 500 * time.Millisecond,
		TickInterval: 250 * time.Millisecond,
		Retry:        DefaultRetryConfig(),
	}
}

// managedOrder pairs an execution state with its monitor's cancellation
type managedOrder struct {
	state  *OrderExecutionState
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager executes multi-step order strategies. Each active order runs one
// dedicated monitor goroutine; unrelated orders never block each other.
type Manager struct {
	exchanges *exchange.Manager
	riskMgr   *risk.Manager
	config    Config

	mu     sync.RWMutex
	orders map[string]*managedOrder
	wg     sync.WaitGroup
}

// NewManager creates an order manager. riskMgr may be nil to disable the
// pre-trade gate (paper environments without portfolio tracking).
func NewManager(exchanges *exchange.Manager, riskMgr *risk.Manager, config Config) *Manager {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultConfig().TickInterval
	}
	if config.Retry.MaxRetries == 0 {
		config.Retry = DefaultRetryConfig()
	}
	return &Manager{
		exchanges: exchanges,
		riskMgr:   riskMgr,
		config:    config,
		orders:    make(map[string]*managedOrder),
	}
}

// GetOrderTypes returns the venue order types child orders may use
func (m *Manager) GetOrderTypes() []string {
	return []string{
		string(exchange.OrderTypeMarket),
		string(exchange.OrderTypeLimit),
		string(exchange.OrderTypeStopMarket),
		string(exchange.OrderTypeStopLimit),
	}
}

// GetExecutionStrategies returns the supported strategy types
func (m *Manager) GetExecutionStrategies() []string {
	return []string{
		string(StrategyOCO),
		string(StrategyIceberg),
		string(StrategyTWAP),
		string(StrategyTrailingStop),
	}
}

// SubmitOrder validates and accepts a strategy order, then starts its
// monitor. Validation failures surface synchronously; everything after
// acceptance is reported through the order's execution state.
func (m *Manager) SubmitOrder(req SubmitRequest) (*OrderExecutionState, error) {
	if err := req.validate(); err != nil {
		return nil, errors.New(errors.ErrorCategoryValidation, "orders", "SubmitOrder", err.Error())
	}

	now := time.Now()
	state := &OrderExecutionState{
		OrderID:      uuid.NewString(),
		StrategyType: req.StrategyType,
		ExchangeID:   req.ExchangeID,
		PortfolioID:  req.PortfolioID,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Status:       StatusPending,
		CreatedAt:    now,
		LastUpdateAt: now,
	}

	ctx, cancel := context.WithCancel(context.Background())
	managed := &managedOrder{
		state:  state,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.orders[state.OrderID] = managed
	m.mu.Unlock()

	monitoring.RecordOrderSubmitted(string(req.StrategyType))

	m.wg.Add(1)
	go m.runStrategy(ctx, managed, req)

	return m.GetOrder(state.OrderID)
}

// runStrategy drives one order's monitor to a terminal state. A panic in a
// strategy terminates only the affected order, never a sibling.
func (m *Manager) runStrategy(ctx context.Context, managed *managedOrder, req SubmitRequest) {
	defer m.wg.Done()
	defer close(managed.done)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("strategy monitor panic for order %s: %v\n%s",
				managed.state.OrderID, r, debug.Stack())
			m.failOrder(managed.state.OrderID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	m.setStatus(managed.state.OrderID, StatusActive)

	var err error
	switch req.StrategyType {
	case StrategyOCO:
		err = m.runOCO(ctx, managed.state.OrderID, req)
	case StrategyIceberg:
		err = m.runIceberg(ctx, managed.state.OrderID, req)
	case StrategyTWAP:
		err = m.runTWAP(ctx, managed.state.OrderID, req)
	case StrategyTrailingStop:
		err = m.runTrailingStop(ctx, managed.state.OrderID, req)
	}

	if err != nil && ctx.Err() == nil {
		m.failOrder(managed.state.OrderID, err.Error())
	}

	// Canceled monitors exit through CancelOrder, which records the final
	// status itself once the state settles.
	if ctx.Err() == nil {
		if final, getErr := m.GetOrder(managed.state.OrderID); getErr == nil {
			monitoring.RecordOrderCompleted(string(final.StrategyType), string(final.Status))
			if m.config.OnTerminal != nil {
				m.config.OnTerminal(final)
			}
		}
	}
}

// CancelOrder stops a strategy order: the monitor is canceled promptly, any
// outstanding child orders are canceled at the venue, and the state moves to
// CANCELED regardless of venue-side cancel outcomes. A child that filled
// before the venue processed the cancel is kept as a reconciliation warning.
func (m *Manager) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	managed, exists := m.orders[orderID]
	if !exists {
		m.mu.Unlock()
		return errors.New(errors.ErrorCategoryValidation, "orders", "CancelOrder",
			fmt.Sprintf("order '%s' not found", orderID))
	}
	if managed.state.Status.Terminal() {
		status := managed.state.Status
		m.mu.Unlock()
		return errors.New(errors.ErrorCategoryValidation, "orders", "CancelOrder",
			fmt.Sprintf("order '%s' is already %s", orderID, status))
	}
	managed.cancel()
	exchangeID := managed.state.ExchangeID
	symbol := managed.state.Symbol
	m.mu.Unlock()

	// Wait for the monitor to stop so no new children appear after cancel.
	select {
	case <-managed.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.RLock()
	openChildren := make([]ChildOrder, 0, len(managed.state.ChildOrders))
	for _, child := range managed.state.ChildOrders {
		if !child.State.Terminal() {
			openChildren = append(openChildren, child)
		}
	}
	m.mu.RUnlock()

	for _, child := range openChildren {
		if err := m.exchanges.CancelOrder(ctx, exchangeID, symbol, child.ExchangeOrderID); err != nil {
			m.addWarning(orderID, fmt.Sprintf(
				"venue cancel of child %s failed: %v", child.ExchangeOrderID, err))
			m.reconcileChild(ctx, orderID, child.ExchangeOrderID)
		} else {
			m.updateChildState(orderID, child.ExchangeOrderID, exchange.OrderStateCanceled, 0, 0)
		}
	}

	m.setStatus(orderID, StatusCanceled)
	if final, err := m.GetOrder(orderID); err == nil {
		monitoring.RecordOrderCompleted(string(final.StrategyType), string(final.Status))
		if m.config.OnTerminal != nil {
			m.config.OnTerminal(final)
		}
	}
	return nil
}

// GetOrder returns a copy of one order's execution state
func (m *Manager) GetOrder(orderID string) (*OrderExecutionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	managed, exists := m.orders[orderID]
	if !exists {
		return nil, errors.New(errors.ErrorCategoryValidation, "orders", "GetOrder",
			fmt.Sprintf("order '%s' not found", orderID))
	}
	return copyState(managed.state), nil
}

// ListOrders returns copies of all order states, newest first
func (m *Manager) ListOrders() []*OrderExecutionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	states := make([]*OrderExecutionState, 0, len(m.orders))
	for _, managed := range m.orders {
		states = append(states, copyState(managed.state))
	}
	return states
}

// Shutdown cancels every active monitor and waits for them to stop
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, managed := range m.orders {
		managed.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// placeChild gates a child order through risk, places it with bounded
// retries and records it on the parent state.
func (m *Manager) placeChild(ctx context.Context, orderID, label string, req SubmitRequest, child exchange.OrderRequest) (*ChildOrder, error) {
	if m.riskMgr != nil && req.PortfolioID != "" {
		gatePrice := child.Price
		if gatePrice <= 0 {
			gatePrice = child.StopPrice
		}
		if gatePrice <= 0 {
			if ticker, err := m.exchanges.GetTicker(ctx, req.ExchangeID, req.Symbol); err == nil {
				if child.Side == exchange.OrderSideBuy {
					gatePrice = ticker.Ask
				} else {
					gatePrice = ticker.Bid
				}
			}
		}

		if gatePrice <= 0 {
			m.addWarning(orderID, "no reference price available for risk gating, proceeding ungated")
		} else {
			check, err := m.riskMgr.EvaluateOrder(req.PortfolioID, req.Symbol,
				child.Quantity, gatePrice, child.Side == exchange.OrderSideBuy)
			if err != nil {
				return nil, err
			}
			for _, warning := range check.Warnings {
				m.addWarning(orderID, warning)
			}
			if !check.Approved {
				monitoring.RecordRiskRejection(req.PortfolioID)
				return nil, errors.New(errors.ErrorCategoryRiskRejection, "orders", "placeChild",
					fmt.Sprintf("risk gate blocked child order: %v", check.Blockers))
			}
		}
	}

	var placed *exchange.Order
	err := retryWithBackoff(ctx, m.config.Retry, func() error {
		var placeErr error
		placed, placeErr = m.exchanges.PlaceOrder(ctx, req.ExchangeID, child)
		return placeErr
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	record := ChildOrder{
		ExchangeOrderID: placed.ExchangeOrderID,
		ExchangeID:      req.ExchangeID,
		Label:           label,
		Side:            child.Side,
		Type:            child.Type,
		Quantity:        child.Quantity,
		Price:           child.Price,
		FilledQuantity:  placed.FilledQuantity,
		AvgFillPrice:    placed.AvgFillPrice,
		State:           placed.State,
		PlacedAt:        now,
		UpdatedAt:       now,
	}

	m.mu.Lock()
	if managed, exists := m.orders[orderID]; exists {
		managed.state.ChildOrders = append(managed.state.ChildOrders, record)
		managed.state.LastUpdateAt = now
	}
	m.mu.Unlock()

	monitoring.RecordChildOrder(string(req.StrategyType), req.ExchangeID)
	m.applyFillDelta(orderID, record.ExchangeOrderID, 0, record.FilledQuantity, record.AvgFillPrice, record.Side)
	return &record, nil
}

// pollChild refreshes one child's venue-side state with bounded retries
func (m *Manager) pollChild(ctx context.Context, orderID, exchangeID, symbol, childID string) (*exchange.Order, error) {
	var order *exchange.Order
	err := retryWithBackoff(ctx, m.config.Retry, func() error {
		var stErr error
		order, stErr = m.exchanges.GetOrderStatus(ctx, exchangeID, symbol, childID)
		return stErr
	})
	if err != nil {
		return nil, err
	}
	previous := m.childFilled(orderID, childID)
	m.updateChildState(orderID, childID, order.State, order.FilledQuantity, order.AvgFillPrice)
	m.applyFillDelta(orderID, childID, previous, order.FilledQuantity, order.AvgFillPrice, order.Side)
	return order, nil
}

// reconcileChild fetches a child's final state after a failed cancel so a
// cancel-after-fill race is surfaced, not silently dropped.
func (m *Manager) reconcileChild(ctx context.Context, orderID, childID string) {
	m.mu.RLock()
	managed, exists := m.orders[orderID]
	if !exists {
		m.mu.RUnlock()
		return
	}
	exchangeID := managed.state.ExchangeID
	symbol := managed.state.Symbol
	m.mu.RUnlock()

	order, err := m.exchanges.GetOrderStatus(ctx, exchangeID, symbol, childID)
	if err != nil {
		return
	}
	previous := m.childFilled(orderID, childID)
	m.updateChildState(orderID, childID, order.State, order.FilledQuantity, order.AvgFillPrice)
	m.applyFillDelta(orderID, childID, previous, order.FilledQuantity, order.AvgFillPrice, order.Side)
	if order.State == exchange.OrderStateFilled {
		m.addWarning(orderID, fmt.Sprintf(
			"child %s filled before cancel completed; fill accepted and reconciled", childID))
	}
}

// applyFillDelta pushes newly observed fill quantity into the risk manager
func (m *Manager) applyFillDelta(orderID, childID string, previousFilled, nowFilled, avgPrice float64, side exchange.OrderSide) {
	delta := nowFilled - previousFilled
	if delta <= 0 || avgPrice <= 0 {
		return
	}

	m.mu.Lock()
	managed, exists := m.orders[orderID]
	if exists {
		managed.state.FilledQty += delta
		prevNotional := managed.state.AvgFillPrice * (managed.state.FilledQty - delta)
		managed.state.AvgFillPrice = (prevNotional + delta*avgPrice) / managed.state.FilledQty
		managed.state.LastUpdateAt = time.Now()
	}
	portfolioID := ""
	symbol := ""
	if exists {
		portfolioID = managed.state.PortfolioID
		symbol = managed.state.Symbol
	}
	m.mu.Unlock()

	if m.riskMgr != nil && portfolioID != "" {
		if err := m.riskMgr.ApplyFill(portfolioID, symbol, delta, avgPrice, side == exchange.OrderSideBuy); err != nil {
			log.Printf("failed to apply fill for order %s: %v", orderID, err)
		}
	}
}

// openChildIDs filters ids down to children not yet recorded terminal
func (m *Manager) openChildIDs(orderID string, ids []string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	managed, exists := m.orders[orderID]
	if !exists {
		return nil
	}
	open := make([]string, 0, len(ids))
	for _, id := range ids {
		for i := range managed.state.ChildOrders {
			child := &managed.state.ChildOrders[i]
			if child.ExchangeOrderID == id && !child.State.Terminal() {
				open = append(open, id)
			}
		}
	}
	return open
}

// childFilled returns the last recorded filled quantity of a child
func (m *Manager) childFilled(orderID, childID string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	managed, exists := m.orders[orderID]
	if !exists {
		return 0
	}
	for i := range managed.state.ChildOrders {
		if managed.state.ChildOrders[i].ExchangeOrderID == childID {
			return managed.state.ChildOrders[i].FilledQuantity
		}
	}
	return 0
}

// updateChildState records a child's latest venue-side state
func (m *Manager) updateChildState(orderID, childID string, state exchange.OrderState, filled, avgPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	managed, exists := m.orders[orderID]
	if !exists {
		return
	}
	for i := range managed.state.ChildOrders {
		child := &managed.state.ChildOrders[i]
		if child.ExchangeOrderID != childID {
			continue
		}
		child.State = state
		if filled > child.FilledQuantity {
			child.FilledQuantity = filled
			child.AvgFillPrice = avgPrice
		}
		child.UpdatedAt = time.Now()
		managed.state.LastUpdateAt = child.UpdatedAt
		return
	}
}

// setStatus transitions an order's aggregate status. Terminal states are
// sticky: once terminal, the status never changes again.
func (m *Manager) setStatus(orderID string, status OrderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	managed, exists := m.orders[orderID]
	if !exists || managed.state.Status.Terminal() {
		return
	}
	managed.state.Status = status
	managed.state.LastUpdateAt = time.Now()
	if status.Terminal() {
		managed.state.CompletedAt = managed.state.LastUpdateAt
	}
}

// completePartial marks a TWAP-style order as finished in a partial state
func (m *Manager) completePartial(orderID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	managed, exists := m.orders[orderID]
	if !exists || managed.state.Status.Terminal() {
		return
	}
	managed.state.Status = StatusPartiallyFilled
	managed.state.FailureReason = reason
	managed.state.LastUpdateAt = time.Now()
	managed.state.CompletedAt = managed.state.LastUpdateAt
}

// failOrder marks an order FAILED with its originating error
func (m *Manager) failOrder(orderID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	managed, exists := m.orders[orderID]
	if !exists || managed.state.Status.Terminal() {
		return
	}
	managed.state.Status = StatusFailed
	managed.state.FailureReason = reason
	managed.state.LastUpdateAt = time.Now()
	managed.state.CompletedAt = managed.state.LastUpdateAt
	monitoring.RecordError("order_failed")
}

// addWarning appends a non-fatal observation to the order's state
func (m *Manager) addWarning(orderID, warning string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	managed, exists := m.orders[orderID]
	if !exists {
		return
	}
	managed.state.Warnings = append(managed.state.Warnings, warning)
	managed.state.LastUpdateAt = time.Now()
	log.Printf("order %s: %s", orderID, warning)
}

func copyState(state *OrderExecutionState) *OrderExecutionState {
	copied := *state
	copied.ChildOrders = append([]ChildOrder(nil), state.ChildOrders...)
	copied.Warnings = append([]string(nil), state.Warnings...)
	return &copied
}
