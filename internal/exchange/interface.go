package exchange

import (
	"context"
	"time"

	"github.com/ducminhle1904/crypto-execution-core/pkg/types"
)

// ExchangeAdapter is the uniform interface wrapping one venue's REST/WebSocket
// API. Implementations live in the adapters package; everything above this
// interface is venue-agnostic.
type ExchangeAdapter interface {
	// Exchange identification
	GetName() string
	GetEnvironment() string

	// Connection management
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	// Market data operations
	GetTicker(ctx context.Context, symbol string) (*types.Ticker, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (*types.OrderBook, error)

	// Account management
	GetBalances(ctx context.Context) ([]types.Balance, error)

	// Trading operations
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrderStatus(ctx context.Context, symbol, orderID string) (*Order, error)

	// Execution cost model used for venue selection
	TakerFeeRate() float64
	EstimatedLatency() time.Duration
}

// OrderSide represents buy or sell side
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Valid reports whether the side is one of the two accepted values.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderType represents different order types
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopMarket OrderType = "stop_market"
	OrderTypeStopLimit  OrderType = "stop_limit"
)

// RequiresPrice reports whether the type belongs to the limit family and
// therefore needs an explicit price.
func (t OrderType) RequiresPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// OrderRequest is an immutable trade intent. It is validated before
// acceptance and never mutated after submission.
type OrderRequest struct {
	Symbol      string            `json:"symbol"`
	Side        OrderSide         `json:"side"`
	Type        OrderType         `json:"type"`
	Quantity    float64           `json:"quantity"`
	Price       float64           `json:"price,omitempty"`
	StopPrice   float64           `json:"stop_price,omitempty"`
	TimeInForce string            `json:"time_in_force,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// OrderState is the venue-side lifecycle state of a single exchange order.
type OrderState string

const (
	OrderStateNew             OrderState = "NEW"
	OrderStatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderStateFilled          OrderState = "FILLED"
	OrderStateCanceled        OrderState = "CANCELED"
	OrderStateRejected        OrderState = "REJECTED"
)

// Terminal reports whether the venue will make no further changes to an
// order in this state.
func (s OrderState) Terminal() bool {
	return s == OrderStateFilled || s == OrderStateCanceled || s == OrderStateRejected
}

// Order represents order information returned by venues
type Order struct {
	ExchangeOrderID string     `json:"exchange_order_id"`
	Symbol          string     `json:"symbol"`
	Side            OrderSide  `json:"side"`
	Type            OrderType  `json:"type"`
	Quantity        float64    `json:"quantity"`
	Price           float64    `json:"price,omitempty"`
	FilledQuantity  float64    `json:"filled_quantity"`
	AvgFillPrice    float64    `json:"avg_fill_price,omitempty"`
	State           OrderState `json:"state"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Credentials holds venue API credentials. The core performs no identity
// checks itself; these are passed through to the adapter.
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Testnet   bool   `json:"testnet"`
}
