package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/ducminhle1904/crypto-execution-core/internal/exchange"
	"github.com/ducminhle1904/crypto-execution-core/pkg/types"
)

const bybitCategory = "spot"

// BybitAdapter implements the ExchangeAdapter interface for Bybit using the
// official bybit.go.api client.
type BybitAdapter struct {
	client    *bybit_api.Client
	testnet   bool
	connected bool
}

// NewBybitAdapter creates a new Bybit adapter instance
func NewBybitAdapter(creds exchange.Credentials) (*BybitAdapter, error) {
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, &exchange.ExchangeError{
			Code:        "MISSING_CREDENTIALS",
			Message:     "Bybit API key and secret are required",
			IsRetryable: false,
		}
	}

	baseURL := bybit_api.MAINNET
	if creds.Testnet {
		baseURL = bybit_api.TESTNET
	}

	client := bybit_api.NewBybitHttpClient(
		creds.APIKey,
		creds.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	return &BybitAdapter{client: client, testnet: creds.Testnet}, nil
}

// GetName returns the exchange name
func (b *BybitAdapter) GetName() string {
	return "Bybit"
}

// GetEnvironment returns the current environment string
func (b *BybitAdapter) GetEnvironment() string {
	if b.testnet {
		return "testnet"
	}
	return "mainnet"
}

// Connect verifies connectivity with a lightweight market data call
func (b *BybitAdapter) Connect(ctx context.Context) error {
	if _, err := b.GetTicker(ctx, "BTCUSDT"); err != nil {
		return &exchange.ExchangeError{
			Code:        "CONNECTION_FAILED",
			Message:     "failed to connect to Bybit",
			Details:     err.Error(),
			IsRetryable: true,
		}
	}
	b.connected = true
	return nil
}

// Disconnect closes the adapter
func (b *BybitAdapter) Disconnect() error {
	b.connected = false
	return nil
}

// IsConnected returns whether the adapter is connected
func (b *BybitAdapter) IsConnected() bool {
	return b.connected
}

// GetTicker retrieves the current top-of-book quote for a symbol
func (b *BybitAdapter) GetTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	params := map[string]interface{}{
		"category": bybitCategory,
		"symbol":   symbol,
	}

	result, err := b.client.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticker: %w", err)
	}

	resultBytes, err := unwrapResult(result)
	if err != nil {
		return nil, err
	}

	var tickerResult struct {
		List []struct {
			Symbol    string `json:"symbol"`
			Bid1Price string `json:"bid1Price"`
			Ask1Price string `json:"ask1Price"`
			LastPrice string `json:"lastPrice"`
			Volume24h string `json:"volume24h"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &tickerResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticker result: %w", err)
	}
	if len(tickerResult.List) == 0 {
		return nil, fmt.Errorf("no ticker data found for %s", symbol)
	}

	t := tickerResult.List[0]
	return &types.Ticker{
		Symbol:    t.Symbol,
		Bid:       parseFloat64(t.Bid1Price),
		Ask:       parseFloat64(t.Ask1Price),
		Last:      parseFloat64(t.LastPrice),
		Volume:    parseFloat64(t.Volume24h),
		Timestamp: time.Now(),
	}, nil
}

// GetOrderBook retrieves the order book for a symbol
func (b *BybitAdapter) GetOrderBook(ctx context.Context, symbol string, depth int) (*types.OrderBook, error) {
	if depth <= 0 {
		depth = 25
	}
	params := map[string]interface{}{
		"category": bybitCategory,
		"symbol":   symbol,
		"limit":    depth,
	}

	result, err := b.client.NewUtaBybitServiceWithParams(params).GetOrderBookInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get order book: %w", err)
	}

	resultBytes, err := unwrapResult(result)
	if err != nil {
		return nil, err
	}

	var bookResult struct {
		Symbol string     `json:"s"`
		Bids   [][]string `json:"b"`
		Asks   [][]string `json:"a"`
		Ts     int64      `json:"ts"`
	}
	if err := json.Unmarshal(resultBytes, &bookResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order book result: %w", err)
	}

	book := &types.OrderBook{
		Symbol:    symbol,
		Timestamp: time.UnixMilli(bookResult.Ts),
	}
	for _, lvl := range bookResult.Bids {
		if len(lvl) < 2 {
			continue
		}
		book.Bids = append(book.Bids, types.BookLevel{Price: parseFloat64(lvl[0]), Quantity: parseFloat64(lvl[1])})
	}
	for _, lvl := range bookResult.Asks {
		if len(lvl) < 2 {
			continue
		}
		book.Asks = append(book.Asks, types.BookLevel{Price: parseFloat64(lvl[0]), Quantity: parseFloat64(lvl[1])})
	}
	return book, nil
}

// GetBalances retrieves wallet balances from the unified account
func (b *BybitAdapter) GetBalances(ctx context.Context) ([]types.Balance, error) {
	params := map[string]interface{}{
		"accountType": "UNIFIED",
	}

	result, err := b.client.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}

	resultBytes, err := unwrapResult(result)
	if err != nil {
		return nil, err
	}

	var walletResult struct {
		List []struct {
			Coin []struct {
				Coin            string `json:"coin"`
				WalletBalance   string `json:"walletBalance"`
				Locked          string `json:"locked"`
				AvailableToDraw string `json:"availableToWithdraw"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &walletResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wallet result: %w", err)
	}

	var balances []types.Balance
	for _, account := range walletResult.List {
		for _, coin := range account.Coin {
			total := parseFloat64(coin.WalletBalance)
			locked := parseFloat64(coin.Locked)
			balances = append(balances, types.Balance{
				Asset:  coin.Coin,
				Free:   total - locked,
				Locked: locked,
			})
		}
	}
	return balances, nil
}

// PlaceOrder places an order through the Bybit unified trading API
func (b *BybitAdapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	apiParams := map[string]interface{}{
		"category":  bybitCategory,
		"symbol":    req.Symbol,
		"side":      bybitSide(req.Side),
		"orderType": bybitOrderType(req.Type),
		"qty":       formatQty(req.Quantity),
	}
	if req.Type.RequiresPrice() {
		apiParams["price"] = formatQty(req.Price)
	}
	if req.StopPrice > 0 {
		apiParams["triggerPrice"] = formatQty(req.StopPrice)
	}
	if req.TimeInForce != "" {
		apiParams["timeInForce"] = req.TimeInForce
	}

	result, err := b.client.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	resultBytes, err := unwrapResult(result)
	if err != nil {
		return nil, err
	}

	var orderResult struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(resultBytes, &orderResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order result: %w", err)
	}

	now := time.Now()
	return &exchange.Order{
		ExchangeOrderID: orderResult.OrderID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Quantity:        req.Quantity,
		Price:           req.Price,
		State:           exchange.OrderStateNew,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// CancelOrder cancels an existing order
func (b *BybitAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := map[string]interface{}{
		"category": bybitCategory,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	if _, err := b.client.NewUtaBybitServiceWithParams(params).CancelOrder(ctx); err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	return nil
}

// GetOrderStatus queries order history for the current state of an order
func (b *BybitAdapter) GetOrderStatus(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	params := map[string]interface{}{
		"category": bybitCategory,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	result, err := b.client.NewUtaBybitServiceWithParams(params).GetOrderHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get order status: %w", err)
	}

	resultBytes, err := unwrapResult(result)
	if err != nil {
		return nil, err
	}

	var historyResult struct {
		List []struct {
			OrderID     string `json:"orderId"`
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			OrderType   string `json:"orderType"`
			Qty         string `json:"qty"`
			Price       string `json:"price"`
			CumExecQty  string `json:"cumExecQty"`
			AvgPrice    string `json:"avgPrice"`
			OrderStatus string `json:"orderStatus"`
			CreatedTime string `json:"createdTime"`
			UpdatedTime string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &historyResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order history: %w", err)
	}
	if len(historyResult.List) == 0 {
		return nil, fmt.Errorf("order %s not found", orderID)
	}

	o := historyResult.List[0]
	return &exchange.Order{
		ExchangeOrderID: o.OrderID,
		Symbol:          o.Symbol,
		Side:            sideFromBybit(o.Side),
		Type:            typeFromBybit(o.OrderType),
		Quantity:        parseFloat64(o.Qty),
		Price:           parseFloat64(o.Price),
		FilledQuantity:  parseFloat64(o.CumExecQty),
		AvgFillPrice:    parseFloat64(o.AvgPrice),
		State:           stateFromBybit(o.OrderStatus),
		CreatedAt:       time.UnixMilli(parseInt64(o.CreatedTime)),
		UpdatedAt:       time.UnixMilli(parseInt64(o.UpdatedTime)),
	}, nil
}

// TakerFeeRate returns the standard Bybit spot taker fee
func (b *BybitAdapter) TakerFeeRate() float64 {
	return 0.001
}

// EstimatedLatency returns a static latency estimate used for venue
// selection tie-breaks.
func (b *BybitAdapter) EstimatedLatency() time.Duration {
	return 80 * time.Millisecond
}

// unwrapResult validates a bybit.go.api ServerResponse and re-marshals its
// Result payload for typed decoding.
func unwrapResult(response interface{}) ([]byte, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return nil, fmt.Errorf("invalid response type")
	}
	if serverResp.RetCode != 0 {
		return nil, fmt.Errorf("API error: %s (code: %d)", serverResp.RetMsg, serverResp.RetCode)
	}
	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return resultBytes, nil
}

func bybitSide(side exchange.OrderSide) string {
	if side == exchange.OrderSideSell {
		return "Sell"
	}
	return "Buy"
}

func sideFromBybit(side string) exchange.OrderSide {
	if side == "Sell" {
		return exchange.OrderSideSell
	}
	return exchange.OrderSideBuy
}

func bybitOrderType(t exchange.OrderType) string {
	switch t {
	case exchange.OrderTypeLimit, exchange.OrderTypeStopLimit:
		return "Limit"
	default:
		return "Market"
	}
}

func typeFromBybit(t string) exchange.OrderType {
	if t == "Limit" {
		return exchange.OrderTypeLimit
	}
	return exchange.OrderTypeMarket
}

func stateFromBybit(status string) exchange.OrderState {
	switch status {
	case "New", "Untriggered", "Triggered":
		return exchange.OrderStateNew
	case "PartiallyFilled":
		return exchange.OrderStatePartiallyFilled
	case "Filled":
		return exchange.OrderStateFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return exchange.OrderStateCanceled
	default:
		return exchange.OrderStateRejected
	}
}

func parseFloat64(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
