package exchange_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-execution-core/internal/exchange"
	"github.com/ducminhle1904/crypto-execution-core/internal/exchange/adapters"
	"github.com/ducminhle1904/crypto-execution-core/pkg/types"
)

func twoVenues(t *testing.T) (*exchange.Manager, *adapters.PaperAdapter, *adapters.PaperAdapter) {
	t.Helper()
	venueA := adapters.NewPaperAdapter().SetName("A")
	venueB := adapters.NewPaperAdapter().SetName("B")
	m := newManagerWithVenues(t, map[string]exchange.ExchangeAdapter{"a": venueA, "b": venueB})
	_, err := m.RegisterExchange("venue-a", "a", exchange.Credentials{})
	require.NoError(t, err)
	_, err = m.RegisterExchange("venue-b", "b", exchange.Credentials{})
	require.NoError(t, err)
	return m, venueA, venueB
}

func TestDetectArbitrageOpportunities(t *testing.T) {
	m, venueA, venueB := twoVenues(t)

	// A quotes 100/101, B quotes 103/104: buy at A's ask, sell at B's bid.
	venueA.SetTicker("BTC", 100, 101, 100.5, 10)
	venueB.SetTicker("BTC", 103, 104, 103.5, 10)

	opportunities := m.DetectArbitrageOpportunities(context.Background(), []string{"BTC"}, 0.01)
	require.Len(t, opportunities, 1)
	opp := opportunities[0]
	assert.Equal(t, "venue-a", opp.BuyVenue)
	assert.Equal(t, "venue-b", opp.SellVenue)
	assert.InDelta(t, 101.0, opp.BuyPrice, 1e-9)
	assert.InDelta(t, 103.0, opp.SellPrice, 1e-9)
	assert.InDelta(t, (103.0-101.0)/101.0, opp.SpreadPercent, 1e-9) // ~1.96%
	assert.NotEqual(t, opp.BuyVenue, opp.SellVenue)
}

func TestDetectArbitrageRespectsMinSpread(t *testing.T) {
	m, venueA, venueB := twoVenues(t)
	venueA.SetTicker("BTC", 100, 101, 100.5, 10)
	venueB.SetTicker("BTC", 103, 104, 103.5, 10)

	// The 1.96% spread is below a 5% floor.
	opportunities := m.DetectArbitrageOpportunities(context.Background(), []string{"BTC"}, 0.05)
	assert.Empty(t, opportunities)
}

func TestDetectArbitrageNeedsTwoVenues(t *testing.T) {
	venueA := adapters.NewPaperAdapter()
	m := newManagerWithVenues(t, map[string]exchange.ExchangeAdapter{"a": venueA})
	_, err := m.RegisterExchange("venue-a", "a", exchange.Credentials{})
	require.NoError(t, err)
	venueA.SetTicker("BTC", 100, 101, 100.5, 10)

	opportunities := m.DetectArbitrageOpportunities(context.Background(), []string{"BTC"}, 0.0)
	assert.Empty(t, opportunities)
}

func TestDetectArbitrageSkipsFailingVenue(t *testing.T) {
	m, venueA, venueB := twoVenues(t)
	venueA.SetTicker("BTC", 100, 101, 100.5, 10)
	venueB.SetTicker("BTC", 103, 104, 103.5, 10)
	venueB.FailNext(stderrors.New("connection reset"))

	// With B unreachable only one venue quotes, so detection yields nothing
	// rather than failing.
	opportunities := m.DetectArbitrageOpportunities(context.Background(), []string{"BTC"}, 0.01)
	assert.Empty(t, opportunities)
}

func TestGetBestExecutionVenueByEffectivePrice(t *testing.T) {
	m, venueA, venueB := twoVenues(t)

	// B's raw ask is lower, but its fee makes A cheaper all-in:
	// A: 101 * 1.001 = 101.101, B: 100.9 * 1.005 = 101.4045.
	venueA.SetFee(0.001)
	venueA.SetTicker("BTC", 100, 101, 100.5, 10)
	venueB.SetFee(0.005)
	venueB.SetTicker("BTC", 100, 100.9, 100.5, 10)

	venue, err := m.GetBestExecutionVenue(context.Background(), exchange.OrderRequest{
		Symbol:   "BTC",
		Side:     exchange.OrderSideBuy,
		Type:     exchange.OrderTypeMarket,
		Quantity: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "venue-a", venue)

	// Sells look at the bid side: B receives more after fees.
	venueB.SetTicker("BTC", 102, 103, 102.5, 10)
	venue, err = m.GetBestExecutionVenue(context.Background(), exchange.OrderRequest{
		Symbol:   "BTC",
		Side:     exchange.OrderSideSell,
		Type:     exchange.OrderTypeMarket,
		Quantity: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "venue-b", venue)
}

func TestGetBestExecutionVenueWalksBookDepth(t *testing.T) {
	m, venueA, venueB := twoVenues(t)
	venueA.SetFee(0)
	venueB.SetFee(0)

	// A shows a better top level but thin depth; a 10-unit buy fills deeper
	// and ends up cheaper on B.
	venueA.SetOrderBook("BTC",
		[]types.BookLevel{{Price: 99, Quantity: 100}},
		[]types.BookLevel{{Price: 100, Quantity: 1}, {Price: 120, Quantity: 100}})
	venueB.SetOrderBook("BTC",
		[]types.BookLevel{{Price: 99, Quantity: 100}},
		[]types.BookLevel{{Price: 101, Quantity: 100}})

	venue, err := m.GetBestExecutionVenue(context.Background(), exchange.OrderRequest{
		Symbol:   "BTC",
		Side:     exchange.OrderSideBuy,
		Type:     exchange.OrderTypeMarket,
		Quantity: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, "venue-b", venue)
}

func TestGetBestExecutionVenueTieBreaks(t *testing.T) {
	// Identical books and fees: the faster venue wins; with identical
	// latency the earlier registration wins, deterministically.
	for run := 0; run < 3; run++ {
		venueA := adapters.NewPaperAdapter().SetLatency(10 * time.Millisecond)
		venueB := adapters.NewPaperAdapter().SetLatency(5 * time.Millisecond)
		m := newManagerWithVenues(t, map[string]exchange.ExchangeAdapter{"a": venueA, "b": venueB})
		_, err := m.RegisterExchange("venue-a", "a", exchange.Credentials{})
		require.NoError(t, err)
		_, err = m.RegisterExchange("venue-b", "b", exchange.Credentials{})
		require.NoError(t, err)

		venueA.SetFee(0.001)
		venueB.SetFee(0.001)
		venueA.SetTicker("BTC", 100, 101, 100.5, 10)
		venueB.SetTicker("BTC", 100, 101, 100.5, 10)

		req := exchange.OrderRequest{
			Symbol:   "BTC",
			Side:     exchange.OrderSideBuy,
			Type:     exchange.OrderTypeMarket,
			Quantity: 1,
		}
		venue, err := m.GetBestExecutionVenue(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "venue-b", venue, "lower latency wins")

		venueB.SetLatency(10 * time.Millisecond)
		venue, err = m.GetBestExecutionVenue(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "venue-a", venue, "registration order breaks the remaining tie")
	}
}

func TestGetBestExecutionVenueNoQuotes(t *testing.T) {
	m, _, _ := twoVenues(t)

	_, err := m.GetBestExecutionVenue(context.Background(), exchange.OrderRequest{
		Symbol:   "UNLISTED",
		Side:     exchange.OrderSideBuy,
		Type:     exchange.OrderTypeMarket,
		Quantity: 1,
	})
	require.Error(t, err)
	excErr := err.(*exchange.ExchangeError)
	assert.Equal(t, exchange.CodeNoQuotes, excErr.Code)
	assert.True(t, excErr.IsRetryable)
}

func TestGetUnifiedOrderBook(t *testing.T) {
	m, venueA, venueB := twoVenues(t)

	venueA.SetOrderBook("BTC",
		[]types.BookLevel{{Price: 100, Quantity: 2}, {Price: 99, Quantity: 1}},
		[]types.BookLevel{{Price: 101, Quantity: 1}})
	venueB.SetOrderBook("BTC",
		[]types.BookLevel{{Price: 100, Quantity: 3}},
		[]types.BookLevel{{Price: 101, Quantity: 2}, {Price: 102, Quantity: 1}})

	book, err := m.GetUnifiedOrderBook(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Empty(t, book.Degraded)

	// Shared price levels merge with per-venue attribution.
	require.NotEmpty(t, book.Bids)
	top := book.Bids[0]
	assert.InDelta(t, 100.0, top.Price, 1e-9)
	assert.InDelta(t, 5.0, top.Quantity, 1e-9)
	assert.InDelta(t, 2.0, top.Venues["venue-a"], 1e-9)
	assert.InDelta(t, 3.0, top.Venues["venue-b"], 1e-9)

	// Bids descend, asks ascend.
	for i := 1; i < len(book.Bids); i++ {
		assert.Greater(t, book.Bids[i-1].Price, book.Bids[i].Price)
	}
	for i := 1; i < len(book.Asks); i++ {
		assert.Less(t, book.Asks[i-1].Price, book.Asks[i].Price)
	}
}

func TestGetUnifiedOrderBookDegradedVenue(t *testing.T) {
	m, venueA, venueB := twoVenues(t)
	venueA.SetOrderBook("BTC",
		[]types.BookLevel{{Price: 100, Quantity: 2}},
		[]types.BookLevel{{Price: 101, Quantity: 1}})
	venueB.FailNext(stderrors.New("connection timeout"))

	book, err := m.GetUnifiedOrderBook(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, []string{"venue-b"}, book.Degraded)
	assert.NotEmpty(t, book.Bids)
}

func TestGetUnifiedOrderBookAllVenuesFail(t *testing.T) {
	m, venueA, venueB := twoVenues(t)
	venueA.FailNext(stderrors.New("connection timeout"))
	venueB.FailNext(stderrors.New("connection timeout"))

	_, err := m.GetUnifiedOrderBook(context.Background(), "BTC")
	require.Error(t, err)
	assert.Equal(t, exchange.CodeExchangeUnavailable, err.(*exchange.ExchangeError).Code)
}
