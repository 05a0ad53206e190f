package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-execution-core/internal/exchange"
	"github.com/ducminhle1904/crypto-execution-core/pkg/types"
)

type fakeTickerSource struct {
	venues  []exchange.ExchangeInfo
	tickers map[string]map[string]*types.Ticker // venue -> symbol -> quote
	calls   []string
}

func (f *fakeTickerSource) ListExchanges() []exchange.ExchangeInfo { return f.venues }

func (f *fakeTickerSource) GetTicker(ctx context.Context, exchangeID, symbol string) (*types.Ticker, error) {
	f.calls = append(f.calls, exchangeID+"/"+symbol)
	if ticker, ok := f.tickers[exchangeID][symbol]; ok {
		return ticker, nil
	}
	return nil, exchange.NewUnknownExchangeError(exchangeID)
}

func TestStreamerPollSkipsDisconnectedVenues(t *testing.T) {
	now := time.Now()
	source := &fakeTickerSource{
		venues: []exchange.ExchangeInfo{
			{ID: "down", Type: "bybit", Status: exchange.StatusDisconnected},
			{ID: "up", Type: "binance", Status: exchange.StatusConnected},
		},
		tickers: map[string]map[string]*types.Ticker{
			"up": {
				"BTCUSDT": {Symbol: "BTCUSDT", Bid: 100, Ask: 101, Last: 100.5, Timestamp: now},
			},
		},
	}

	cache := NewCache(time.Minute)
	streamer := NewStreamer(cache, source, StreamConfig{
		Symbols:         []string{"BTCUSDT"},
		RefreshInterval: time.Second,
	})

	streamer.pollOnce(context.Background())

	quote, exists := cache.Get("BTCUSDT")
	require.True(t, exists)
	assert.InDelta(t, 100.5, quote.Tick.Last, 1e-9)
	// The disconnected venue must never be queried
	assert.Equal(t, []string{"up/BTCUSDT"}, source.calls)
}

func TestStreamerPollFallsThroughFailingVenue(t *testing.T) {
	now := time.Now()
	source := &fakeTickerSource{
		venues: []exchange.ExchangeInfo{
			{ID: "flaky", Type: "bybit", Status: exchange.StatusConnected},
			{ID: "solid", Type: "binance", Status: exchange.StatusConnected},
		},
		tickers: map[string]map[string]*types.Ticker{
			"solid": {
				"ETHUSDT": {Symbol: "ETHUSDT", Bid: 3000, Ask: 3001, Last: 3000.5, Timestamp: now},
			},
		},
	}

	cache := NewCache(time.Minute)
	streamer := NewStreamer(cache, source, StreamConfig{Symbols: []string{"ETHUSDT"}})

	streamer.pollOnce(context.Background())

	quote, exists := cache.Get("ETHUSDT")
	require.True(t, exists)
	assert.InDelta(t, 3000.5, quote.Tick.Last, 1e-9)
	assert.Equal(t, []string{"flaky/ETHUSDT", "solid/ETHUSDT"}, source.calls)
}

func TestStreamerRunStopsOnContextCancel(t *testing.T) {
	source := &fakeTickerSource{}
	streamer := NewStreamer(NewCache(time.Minute), source, StreamConfig{
		Symbols:         []string{"BTCUSDT"},
		RefreshInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := streamer.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
