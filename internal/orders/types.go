package orders

import (
	"fmt"
	"time"

	"github.com/ducminhle1904/crypto-execution-core/internal/exchange"
)

// StrategyType identifies a multi-step execution strategy
type StrategyType string

const (
	StrategyOCO          StrategyType = "oco"
	StrategyIceberg      StrategyType = "iceberg"
	StrategyTWAP         StrategyType = "twap"
	StrategyTrailingStop StrategyType = "trailing_stop"
)

// Valid reports whether the strategy type is recognized
func (s StrategyType) Valid() bool {
	switch s {
	case StrategyOCO, StrategyIceberg, StrategyTWAP, StrategyTrailingStop:
		return true
	}
	return false
}

// OrderStatus is the aggregate lifecycle state of a strategy order
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusActive          OrderStatus = "ACTIVE"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusFailed          OrderStatus = "FAILED"
)

// Terminal reports whether the status is final. PARTIALLY_FILLED is not
// terminal by itself: a partially worked order can resume, and only the
// owning strategy decides when a partial result is final.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusFailed:
		return true
	}
	return false
}

// ChildOrder is one venue order placed on behalf of a strategy order.
// Entries are appended in placement order and never removed.
type ChildOrder struct {
	ExchangeOrderID string              `json:"exchange_order_id"`
	ExchangeID      string              `json:"exchange_id"`
	Label           string              `json:"label,omitempty"`
	Side            exchange.OrderSide  `json:"side"`
	Type            exchange.OrderType  `json:"type"`
	Quantity        float64             `json:"quantity"`
	Price           float64             `json:"price,omitempty"`
	FilledQuantity  float64             `json:"filled_quantity"`
	AvgFillPrice    float64             `json:"avg_fill_price"`
	State           exchange.OrderState `json:"state"`
	PlacedAt        time.Time           `json:"placed_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// OrderExecutionState is the full lifecycle record of one strategy order.
// Mutated only by the owning strategy monitor through the manager; callers
// always receive copies.
type OrderExecutionState struct {
	OrderID       string             `json:"order_id"`
	StrategyType  StrategyType       `json:"strategy_type"`
	ExchangeID    string             `json:"exchange_id"`
	PortfolioID   string             `json:"portfolio_id,omitempty"`
	Symbol        string             `json:"symbol"`
	Side          exchange.OrderSide `json:"side"`
	Status        OrderStatus        `json:"status"`
	ChildOrders   []ChildOrder       `json:"child_orders"`
	FilledQty     float64            `json:"filled_quantity"`
	AvgFillPrice  float64            `json:"avg_fill_price"`
	FailureReason string             `json:"failure_reason,omitempty"`
	Warnings      []string           `json:"warnings,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	LastUpdateAt  time.Time          `json:"last_update_at"`
	CompletedAt   time.Time          `json:"completed_at,omitempty"`
}

// OCOParams configures a One-Cancels-the-Other order pair: a take-profit
// limit order and a stop order, each for the full quantity.
type OCOParams struct {
	Quantity        float64 `json:"quantity"`
	TakeProfitPrice float64 `json:"take_profit_price"`
	StopPrice       float64 `json:"stop_price"`
	StopLimitPrice  float64 `json:"stop_limit_price,omitempty"`
}

// IcebergParams configures an iceberg order: the total quantity is worked in
// slices so the full size is never visible at once.
type IcebergParams struct {
	TotalQuantity float64 `json:"total_quantity"`
	SliceQuantity float64 `json:"slice_quantity"`
	LimitPrice    float64 `json:"limit_price,omitempty"`
}

// TWAPParams configures a time-weighted execution: the quantity is divided
// evenly across Buckets child orders spread over Duration.
type TWAPParams struct {
	TotalQuantity float64       `json:"total_quantity"`
	Buckets       int           `json:"buckets"`
	Duration      time.Duration `json:"duration"`
	LimitPrice    float64       `json:"limit_price,omitempty"`
}

// TrailingStopParams configures a trailing stop exit. Exactly one of
// TrailingPercent or TrailingAmount must be set. A sell side order trails
// under the high-water mark, a buy side order trails above the low-water
// mark.
type TrailingStopParams struct {
	Quantity        float64 `json:"quantity"`
	TrailingPercent float64 `json:"trailing_percent,omitempty"`
	TrailingAmount  float64 `json:"trailing_amount,omitempty"`
	ActivationPrice float64 `json:"activation_price,omitempty"`
}

// SubmitRequest is one strategy order submission
type SubmitRequest struct {
	StrategyType StrategyType       `json:"strategy_type"`
	ExchangeID   string             `json:"exchange_id"`
	PortfolioID  string             `json:"portfolio_id,omitempty"`
	Symbol       string             `json:"symbol"`
	Side         exchange.OrderSide `json:"side"`

	OCO          *OCOParams          `json:"oco,omitempty"`
	Iceberg      *IcebergParams      `json:"iceberg,omitempty"`
	TWAP         *TWAPParams         `json:"twap,omitempty"`
	TrailingStop *TrailingStopParams `json:"trailing_stop,omitempty"`
}

// validate performs synchronous structural validation before any network
// call is made.
func (r SubmitRequest) validate() error {
	if !r.StrategyType.Valid() {
		return fmt.Errorf("unknown strategy type '%s'", r.StrategyType)
	}
	if r.ExchangeID == "" {
		return fmt.Errorf("exchange_id is required")
	}
	if r.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !r.Side.Valid() {
		return fmt.Errorf("side must be 'buy' or 'sell', got '%s'", r.Side)
	}

	switch r.StrategyType {
	case StrategyOCO:
		if r.OCO == nil {
			return fmt.Errorf("oco parameters are required")
		}
		if r.OCO.Quantity <= 0 {
			return fmt.Errorf("oco quantity must be positive")
		}
		if r.OCO.TakeProfitPrice <= 0 || r.OCO.StopPrice <= 0 {
			return fmt.Errorf("oco requires positive take_profit_price and stop_price")
		}
	case StrategyIceberg:
		if r.Iceberg == nil {
			return fmt.Errorf("iceberg parameters are required")
		}
		if r.Iceberg.TotalQuantity <= 0 {
			return fmt.Errorf("iceberg total_quantity must be positive")
		}
		if r.Iceberg.SliceQuantity <= 0 || r.Iceberg.SliceQuantity > r.Iceberg.TotalQuantity {
			return fmt.Errorf("iceberg slice_quantity must be in (0, total_quantity]")
		}
	case StrategyTWAP:
		if r.TWAP == nil {
			return fmt.Errorf("twap parameters are required")
		}
		if r.TWAP.TotalQuantity <= 0 {
			return fmt.Errorf("twap total_quantity must be positive")
		}
		if r.TWAP.Buckets <= 0 {
			return fmt.Errorf("twap buckets must be positive")
		}
		if r.TWAP.Duration <= 0 {
			return fmt.Errorf("twap duration must be positive")
		}
	case StrategyTrailingStop:
		if r.TrailingStop == nil {
			return fmt.Errorf("trailing_stop parameters are required")
		}
		if r.TrailingStop.Quantity <= 0 {
			return fmt.Errorf("trailing_stop quantity must be positive")
		}
		hasPercent := r.TrailingStop.TrailingPercent > 0
		hasAmount := r.TrailingStop.TrailingAmount > 0
		if hasPercent == hasAmount {
			return fmt.Errorf("trailing_stop requires exactly one of trailing_percent or trailing_amount")
		}
		if r.TrailingStop.TrailingPercent >= 1 {
			return fmt.Errorf("trailing_percent must be below 1")
		}
	}
	return nil
}
