package adapters

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ducminhle1904/crypto-execution-core/internal/exchange"
	"github.com/ducminhle1904/crypto-execution-core/pkg/types"
)

// BinanceAdapter implements the ExchangeAdapter interface for Binance spot
// through its REST API.
type BinanceAdapter struct {
	apiKey    string
	apiSecret string
	testnet   bool
	baseURL   string
	client    *http.Client
	connected bool
}

// NewBinanceAdapter creates a new Binance adapter instance
func NewBinanceAdapter(creds exchange.Credentials) (*BinanceAdapter, error) {
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, &exchange.ExchangeError{
			Code:        "MISSING_CREDENTIALS",
			Message:     "Binance API key and secret are required",
			IsRetryable: false,
		}
	}

	baseURL := "https://api.binance.com"
	if creds.Testnet {
		baseURL = "https://testnet.binance.vision"
	}

	return &BinanceAdapter{
		apiKey:    creds.APIKey,
		apiSecret: creds.APISecret,
		testnet:   creds.Testnet,
		baseURL:   baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// GetName returns the exchange name
func (b *BinanceAdapter) GetName() string {
	return "Binance"
}

// GetEnvironment returns the current environment string
func (b *BinanceAdapter) GetEnvironment() string {
	if b.testnet {
		return "testnet"
	}
	return "mainnet"
}

// Connect verifies connectivity by pinging the REST API
func (b *BinanceAdapter) Connect(ctx context.Context) error {
	var out struct{}
	if err := b.publicGet(ctx, "/api/v3/ping", nil, &out); err != nil {
		return &exchange.ExchangeError{
			Code:        "CONNECTION_FAILED",
			Message:     "failed to connect to Binance",
			Details:     err.Error(),
			IsRetryable: true,
		}
	}
	b.connected = true
	return nil
}

// Disconnect closes the adapter
func (b *BinanceAdapter) Disconnect() error {
	b.connected = false
	return nil
}

// IsConnected returns whether the adapter is connected
func (b *BinanceAdapter) IsConnected() bool {
	return b.connected
}

// GetTicker retrieves the current top-of-book quote for a symbol
func (b *BinanceAdapter) GetTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	var bookTicker struct {
		Symbol   string `json:"symbol"`
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := b.publicGet(ctx, "/api/v3/ticker/bookTicker", params, &bookTicker); err != nil {
		return nil, fmt.Errorf("failed to get book ticker: %w", err)
	}

	var dayTicker struct {
		LastPrice string `json:"lastPrice"`
		Volume    string `json:"volume"`
		CloseTime int64  `json:"closeTime"`
	}
	if err := b.publicGet(ctx, "/api/v3/ticker/24hr", params, &dayTicker); err != nil {
		return nil, fmt.Errorf("failed to get 24hr ticker: %w", err)
	}

	return &types.Ticker{
		Symbol:    bookTicker.Symbol,
		Bid:       parseFloat64(bookTicker.BidPrice),
		Ask:       parseFloat64(bookTicker.AskPrice),
		Last:      parseFloat64(dayTicker.LastPrice),
		Volume:    parseFloat64(dayTicker.Volume),
		Timestamp: time.UnixMilli(dayTicker.CloseTime),
	}, nil
}

// GetOrderBook retrieves the order book for a symbol
func (b *BinanceAdapter) GetOrderBook(ctx context.Context, symbol string, depth int) (*types.OrderBook, error) {
	if depth <= 0 {
		depth = 25
	}
	var depthData struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	params := url.Values{
		"symbol": {symbol},
		"limit":  {fmt.Sprintf("%d", depth)},
	}
	if err := b.publicGet(ctx, "/api/v3/depth", params, &depthData); err != nil {
		return nil, fmt.Errorf("failed to get order book: %w", err)
	}

	book := &types.OrderBook{Symbol: symbol, Timestamp: time.Now()}
	for _, lvl := range depthData.Bids {
		if len(lvl) < 2 {
			continue
		}
		book.Bids = append(book.Bids, types.BookLevel{Price: parseFloat64(lvl[0]), Quantity: parseFloat64(lvl[1])})
	}
	for _, lvl := range depthData.Asks {
		if len(lvl) < 2 {
			continue
		}
		book.Asks = append(book.Asks, types.BookLevel{Price: parseFloat64(lvl[0]), Quantity: parseFloat64(lvl[1])})
	}
	return book, nil
}

// GetBalances retrieves account balances
func (b *BinanceAdapter) GetBalances(ctx context.Context) ([]types.Balance, error) {
	var account struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := b.signedCall(ctx, http.MethodGet, "/api/v3/account", url.Values{}, &account); err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	var balances []types.Balance
	for _, bal := range account.Balances {
		free := parseFloat64(bal.Free)
		locked := parseFloat64(bal.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		balances = append(balances, types.Balance{Asset: bal.Asset, Free: free, Locked: locked})
	}
	return balances, nil
}

// PlaceOrder places an order through the Binance REST API
func (b *BinanceAdapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	params := url.Values{
		"symbol":   {req.Symbol},
		"side":     {strings.ToUpper(string(req.Side))},
		"type":     {binanceOrderType(req.Type)},
		"quantity": {formatQty(req.Quantity)},
	}
	if req.Type.RequiresPrice() {
		params.Set("price", formatQty(req.Price))
		tif := req.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		params.Set("timeInForce", tif)
	}
	if req.StopPrice > 0 {
		params.Set("stopPrice", formatQty(req.StopPrice))
	}

	var orderResp struct {
		OrderID      int64  `json:"orderId"`
		Status       string `json:"status"`
		ExecutedQty  string `json:"executedQty"`
		TransactTime int64  `json:"transactTime"`
	}
	if err := b.signedCall(ctx, http.MethodPost, "/api/v3/order", params, &orderResp); err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	created := time.UnixMilli(orderResp.TransactTime)
	return &exchange.Order{
		ExchangeOrderID: fmt.Sprintf("%d", orderResp.OrderID),
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Quantity:        req.Quantity,
		Price:           req.Price,
		FilledQuantity:  parseFloat64(orderResp.ExecutedQty),
		State:           stateFromBinance(orderResp.Status),
		CreatedAt:       created,
		UpdatedAt:       created,
	}, nil
}

// CancelOrder cancels an existing order
func (b *BinanceAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{
		"symbol":  {symbol},
		"orderId": {orderID},
	}
	var out struct{}
	if err := b.signedCall(ctx, http.MethodDelete, "/api/v3/order", params, &out); err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	return nil
}

// GetOrderStatus queries the current state of an order
func (b *BinanceAdapter) GetOrderStatus(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	params := url.Values{
		"symbol":  {symbol},
		"orderId": {orderID},
	}
	var orderResp struct {
		OrderID     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		Type        string `json:"type"`
		OrigQty     string `json:"origQty"`
		Price       string `json:"price"`
		ExecutedQty string `json:"executedQty"`
		Status      string `json:"status"`
		Time        int64  `json:"time"`
		UpdateTime  int64  `json:"updateTime"`
	}
	if err := b.signedCall(ctx, http.MethodGet, "/api/v3/order", params, &orderResp); err != nil {
		return nil, fmt.Errorf("failed to get order status: %w", err)
	}

	return &exchange.Order{
		ExchangeOrderID: fmt.Sprintf("%d", orderResp.OrderID),
		Symbol:          orderResp.Symbol,
		Side:            exchange.OrderSide(strings.ToLower(orderResp.Side)),
		Type:            typeFromBinance(orderResp.Type),
		Quantity:        parseFloat64(orderResp.OrigQty),
		Price:           parseFloat64(orderResp.Price),
		FilledQuantity:  parseFloat64(orderResp.ExecutedQty),
		State:           stateFromBinance(orderResp.Status),
		CreatedAt:       time.UnixMilli(orderResp.Time),
		UpdatedAt:       time.UnixMilli(orderResp.UpdateTime),
	}, nil
}

// TakerFeeRate returns the standard Binance spot taker fee
func (b *BinanceAdapter) TakerFeeRate() float64 {
	return 0.001
}

// EstimatedLatency returns a static latency estimate used for venue
// selection tie-breaks.
func (b *BinanceAdapter) EstimatedLatency() time.Duration {
	return 50 * time.Millisecond
}

// publicGet performs an unauthenticated GET request
func (b *BinanceAdapter) publicGet(ctx context.Context, path string, params url.Values, out interface{}) error {
	reqURL := b.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	return b.do(req, out)
}

// signedCall performs an authenticated request with an HMAC-SHA256 signature
func (b *BinanceAdapter) signedCall(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", "5000")

	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(b.apiSecret))
	mac.Write([]byte(query))
	signature := hex.EncodeToString(mac.Sum(nil))

	reqURL := fmt.Sprintf("%s%s?%s&signature=%s", b.baseURL, path, query, signature)
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", b.apiKey)
	return b.do(req, out)
}

func (b *BinanceAdapter) do(req *http.Request, out interface{}) error {
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return fmt.Errorf("API error %d: %s", apiErr.Code, apiErr.Msg)
		}
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}

func binanceOrderType(t exchange.OrderType) string {
	switch t {
	case exchange.OrderTypeLimit:
		return "LIMIT"
	case exchange.OrderTypeStopLimit:
		return "STOP_LOSS_LIMIT"
	case exchange.OrderTypeStopMarket:
		return "STOP_LOSS"
	default:
		return "MARKET"
	}
}

func typeFromBinance(t string) exchange.OrderType {
	switch t {
	case "LIMIT":
		return exchange.OrderTypeLimit
	case "STOP_LOSS_LIMIT":
		return exchange.OrderTypeStopLimit
	case "STOP_LOSS":
		return exchange.OrderTypeStopMarket
	default:
		return exchange.OrderTypeMarket
	}
}

func stateFromBinance(status string) exchange.OrderState {
	switch status {
	case "NEW":
		return exchange.OrderStateNew
	case "PARTIALLY_FILLED":
		return exchange.OrderStatePartiallyFilled
	case "FILLED":
		return exchange.OrderStateFilled
	case "CANCELED", "EXPIRED":
		return exchange.OrderStateCanceled
	default:
		return exchange.OrderStateRejected
	}
}
