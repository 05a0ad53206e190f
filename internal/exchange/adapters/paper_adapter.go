package adapters

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ducminhle1904/crypto-execution-core/internal/exchange"
	"github.com/ducminhle1904/crypto-execution-core/pkg/types"
)

// PaperAdapter is an in-memory simulated venue. It backs paper-trading mode
// and serves as the venue double in tests: quotes and books are set directly,
// fills and failures can be scripted per call.
type PaperAdapter struct {
	mu        sync.RWMutex
	name      string
	connected bool

	tickers  map[string]types.Ticker
	books    map[string]types.OrderBook
	balances map[string]types.Balance
	orders   map[string]*exchange.Order

	fee     float64
	latency time.Duration

	// fill behavior
	fillMarketOrders bool
	nextErrors       []error
}

// NewPaperAdapter creates a simulated venue with instant market-order fills
func NewPaperAdapter() *PaperAdapter {
	return &PaperAdapter{
		name:             "Paper",
		tickers:          make(map[string]types.Ticker),
		books:            make(map[string]types.OrderBook),
		balances:         make(map[string]types.Balance),
		orders:           make(map[string]*exchange.Order),
		fee:              0.001,
		latency:          time.Millisecond,
		fillMarketOrders: true,
	}
}

// SetName overrides the venue name reported by GetName
func (p *PaperAdapter) SetName(name string) *PaperAdapter {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = name
	return p
}

// SetFee overrides the taker fee rate
func (p *PaperAdapter) SetFee(fee float64) *PaperAdapter {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fee = fee
	return p
}

// SetLatency overrides the estimated latency
func (p *PaperAdapter) SetLatency(latency time.Duration) *PaperAdapter {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency = latency
	return p
}

// SetTicker sets the quote returned for a symbol
func (p *PaperAdapter) SetTicker(symbol string, bid, ask, last, volume float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tickers[symbol] = types.Ticker{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Last:      last,
		Volume:    volume,
		Timestamp: time.Now(),
	}
}

// SetOrderBook sets the book returned for a symbol
func (p *PaperAdapter) SetOrderBook(symbol string, bids, asks []types.BookLevel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.books[symbol] = types.OrderBook{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now(),
	}
}

// SetBalance sets a balance entry
func (p *PaperAdapter) SetBalance(asset string, free, locked float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[asset] = types.Balance{Asset: asset, Free: free, Locked: locked}
}

// SetFillMarketOrders controls whether market orders fill immediately.
// When disabled they rest as NEW until FillOrder is called.
func (p *PaperAdapter) SetFillMarketOrders(fill bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fillMarketOrders = fill
}

// FailNext queues errors returned by upcoming adapter calls, in order
func (p *PaperAdapter) FailNext(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextErrors = append(p.nextErrors, errs...)
}

// FillOrder scripts a (partial) fill on a resting order
func (p *PaperAdapter) FillOrder(orderID string, quantity, price float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, exists := p.orders[orderID]
	if !exists {
		return fmt.Errorf("order %s not found", orderID)
	}
	if order.State.Terminal() {
		return fmt.Errorf("order %s is already terminal (%s)", orderID, order.State)
	}

	prevNotional := order.AvgFillPrice * order.FilledQuantity
	order.FilledQuantity += quantity
	if order.FilledQuantity >= order.Quantity {
		order.FilledQuantity = order.Quantity
		order.State = exchange.OrderStateFilled
	} else {
		order.State = exchange.OrderStatePartiallyFilled
	}
	order.AvgFillPrice = (prevNotional + quantity*price) / order.FilledQuantity
	order.UpdatedAt = time.Now()
	return nil
}

// GetName returns the venue name
func (p *PaperAdapter) GetName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// GetEnvironment always reports paper
func (p *PaperAdapter) GetEnvironment() string {
	return "paper"
}

// Connect marks the adapter connected
func (p *PaperAdapter) Connect(ctx context.Context) error {
	if err := p.popError(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

// Disconnect marks the adapter disconnected
func (p *PaperAdapter) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

// IsConnected returns whether the adapter is connected
func (p *PaperAdapter) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// GetTicker returns the scripted quote for a symbol
func (p *PaperAdapter) GetTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	if err := p.popError(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	ticker, exists := p.tickers[symbol]
	if !exists {
		return nil, fmt.Errorf("no ticker data found for %s", symbol)
	}
	return &ticker, nil
}

// GetOrderBook returns the scripted book for a symbol. When only a ticker
// was set, a single-level book is synthesized from it.
func (p *PaperAdapter) GetOrderBook(ctx context.Context, symbol string, depth int) (*types.OrderBook, error) {
	if err := p.popError(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if book, exists := p.books[symbol]; exists {
		return &book, nil
	}
	if ticker, exists := p.tickers[symbol]; exists {
		return &types.OrderBook{
			Symbol:    symbol,
			Bids:      []types.BookLevel{{Price: ticker.Bid, Quantity: 1e9}},
			Asks:      []types.BookLevel{{Price: ticker.Ask, Quantity: 1e9}},
			Timestamp: ticker.Timestamp,
		}, nil
	}
	return nil, fmt.Errorf("no order book data found for %s", symbol)
}

// GetBalances returns the scripted balances
func (p *PaperAdapter) GetBalances(ctx context.Context) ([]types.Balance, error) {
	if err := p.popError(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	balances := make([]types.Balance, 0, len(p.balances))
	for _, bal := range p.balances {
		balances = append(balances, bal)
	}
	return balances, nil
}

// PlaceOrder accepts an order. Market orders fill immediately at the current
// quote unless instant fills are disabled; limit orders rest until scripted.
func (p *PaperAdapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	if err := p.popError(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	order := &exchange.Order{
		ExchangeOrderID: uuid.NewString(),
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Quantity:        req.Quantity,
		Price:           req.Price,
		State:           exchange.OrderStateNew,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if req.Type == exchange.OrderTypeMarket && p.fillMarketOrders {
		fillPrice := 0.0
		if ticker, exists := p.tickers[req.Symbol]; exists {
			if req.Side == exchange.OrderSideBuy {
				fillPrice = ticker.Ask
			} else {
				fillPrice = ticker.Bid
			}
		}
		order.FilledQuantity = req.Quantity
		order.AvgFillPrice = fillPrice
		order.State = exchange.OrderStateFilled
	}

	p.orders[order.ExchangeOrderID] = order
	stored := *order
	return &stored, nil
}

// CancelOrder cancels a resting order. Canceling an already filled order
// fails, mirroring real venue behavior in the cancel-after-fill race.
func (p *PaperAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := p.popError(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	order, exists := p.orders[orderID]
	if !exists {
		return fmt.Errorf("order %s not found", orderID)
	}
	if order.State == exchange.OrderStateFilled {
		return fmt.Errorf("order %s rejected: already filled", orderID)
	}
	if !order.State.Terminal() {
		order.State = exchange.OrderStateCanceled
		order.UpdatedAt = time.Now()
	}
	return nil
}

// GetOrderStatus returns the current state of an order
func (p *PaperAdapter) GetOrderStatus(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	if err := p.popError(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	order, exists := p.orders[orderID]
	if !exists {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	stored := *order
	return &stored, nil
}

// TakerFeeRate returns the configured fee
func (p *PaperAdapter) TakerFeeRate() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fee
}

// EstimatedLatency returns the configured latency
func (p *PaperAdapter) EstimatedLatency() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latency
}

func (p *PaperAdapter) popError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.nextErrors) == 0 {
		return nil
	}
	err := p.nextErrors[0]
	p.nextErrors = p.nextErrors[1:]
	return err
}
