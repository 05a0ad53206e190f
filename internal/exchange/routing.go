package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ducminhle1904/crypto-execution-core/internal/monitoring"
	"github.com/ducminhle1904/crypto-execution-core/pkg/types"
)

// ArbitrageOpportunity is a same-asset price discrepancy across two venues.
// Ephemeral: recomputed on each detection call, never cached as ground truth.
type ArbitrageOpportunity struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	BuyVenue      string    `json:"buy_venue"`
	SellVenue     string    `json:"sell_venue"`
	BuyPrice      float64   `json:"buy_price"`
	SellPrice     float64   `json:"sell_price"`
	SpreadPercent float64   `json:"spread_percent"`
	Timestamp     time.Time `json:"timestamp"`
}

// venueQuote is one venue's usable top-of-book for a symbol.
type venueQuote struct {
	venueID string
	seq     int
	bid     float64
	ask     float64
	fee     float64
	latency time.Duration
}

// DetectArbitrageOpportunities compares best bid/ask across all registered
// venues for each symbol. An opportunity is emitted only when buying at one
// venue's ask and selling at another venue's bid clears minSpreadPercent.
// Returns an empty slice, never an error, when fewer than two venues quote a
// symbol.
func (m *Manager) DetectArbitrageOpportunities(ctx context.Context, symbols []string, minSpreadPercent float64) []ArbitrageOpportunity {
	var opportunities []ArbitrageOpportunity

	for _, symbol := range symbols {
		quotes := m.collectQuotes(ctx, symbol)
		if len(quotes) < 2 {
			continue
		}

		for _, buy := range quotes {
			for _, sell := range quotes {
				if buy.venueID == sell.venueID {
					continue
				}
				if buy.ask <= 0 || sell.bid <= 0 {
					continue
				}
				spread := (sell.bid - buy.ask) / buy.ask
				if spread < minSpreadPercent {
					continue
				}
				monitoring.RecordArbitrageOpportunity(symbol)
				opportunities = append(opportunities, ArbitrageOpportunity{
					ID:            uuid.NewString(),
					Symbol:        symbol,
					BuyVenue:      buy.venueID,
					SellVenue:     sell.venueID,
					BuyPrice:      buy.ask,
					SellPrice:     sell.bid,
					SpreadPercent: spread,
					Timestamp:     time.Now(),
				})
			}
		}
	}
	return opportunities
}

// GetBestExecutionVenue selects the venue offering the best effective price,
// fee included, for the requested side and quantity. Ties break by lower
// estimated latency, then by registration order, so the choice is
// reproducible.
func (m *Manager) GetBestExecutionVenue(ctx context.Context, req OrderRequest) (string, error) {
	if err := m.ValidateOrderParams(req); err != nil {
		return "", err
	}

	m.mu.RLock()
	regs := m.sortedLocked()
	m.mu.RUnlock()

	bestID := ""
	bestPrice := 0.0
	bestLatency := time.Duration(0)
	bestSeq := 0

	for _, reg := range regs {
		effective, ok := m.effectivePrice(ctx, reg, req)
		if !ok {
			continue
		}

		better := false
		switch {
		case bestID == "":
			better = true
		case req.Side == OrderSideBuy && effective < bestPrice:
			better = true
		case req.Side == OrderSideSell && effective > bestPrice:
			better = true
		case effective == bestPrice:
			lat := reg.adapter.EstimatedLatency()
			if lat < bestLatency || (lat == bestLatency && reg.seq < bestSeq) {
				better = true
			}
		}

		if better {
			bestID = reg.id
			bestPrice = effective
			bestLatency = reg.adapter.EstimatedLatency()
			bestSeq = reg.seq
		}
	}

	if bestID == "" {
		return "", &ExchangeError{
			Code:        CodeNoQuotes,
			Message:     fmt.Sprintf("no venue returned a usable book for %s", req.Symbol),
			IsRetryable: true,
		}
	}
	return bestID, nil
}

// effectivePrice walks the venue's book to the requested quantity and applies
// the taker fee. Buy orders pay volume-weighted ask plus fee; sell orders
// receive volume-weighted bid minus fee.
func (m *Manager) effectivePrice(ctx context.Context, reg *registration, req OrderRequest) (float64, bool) {
	var book *types.OrderBook
	err := m.callVenue(ctx, reg, "order_book", func(callCtx context.Context) error {
		var obErr error
		book, obErr = reg.adapter.GetOrderBook(callCtx, req.Symbol, m.config.OrderBookDepth)
		return obErr
	})
	if err != nil || book == nil {
		m.setStatus(reg.id, StatusDegraded)
		return 0, false
	}

	ladder := book.Asks
	if req.Side == OrderSideSell {
		ladder = book.Bids
	}
	vwap, ok := ladderVWAP(ladder, req.Quantity)
	if !ok {
		return 0, false
	}

	fee := reg.adapter.TakerFeeRate()
	if req.Side == OrderSideBuy {
		return vwap * (1 + fee), true
	}
	return vwap * (1 - fee), true
}

// ladderVWAP computes the volume-weighted price of consuming quantity from a
// ladder. Quantity beyond the visible depth fills at the worst visible level.
func ladderVWAP(ladder []types.BookLevel, quantity float64) (float64, bool) {
	if len(ladder) == 0 || quantity <= 0 {
		return 0, false
	}

	remaining := quantity
	cost := 0.0
	for _, lvl := range ladder {
		take := lvl.Quantity
		if take > remaining {
			take = remaining
		}
		cost += take * lvl.Price
		remaining -= take
		if remaining <= 0 {
			break
		}
	}
	if remaining > 0 {
		cost += remaining * ladder[len(ladder)-1].Price
	}
	return cost / quantity, true
}

// collectQuotes gathers usable top-of-book quotes across venues. Venues that
// fail to respond are skipped rather than failing the whole detection pass.
func (m *Manager) collectQuotes(ctx context.Context, symbol string) []venueQuote {
	m.mu.RLock()
	regs := m.sortedLocked()
	m.mu.RUnlock()

	var quotes []venueQuote
	for _, reg := range regs {
		var ticker *types.Ticker
		err := m.callVenue(ctx, reg, "ticker", func(callCtx context.Context) error {
			var tErr error
			ticker, tErr = reg.adapter.GetTicker(callCtx, symbol)
			return tErr
		})
		if err != nil || ticker == nil {
			continue
		}
		quotes = append(quotes, venueQuote{
			venueID: reg.id,
			seq:     reg.seq,
			bid:     ticker.Bid,
			ask:     ticker.Ask,
			fee:     reg.adapter.TakerFeeRate(),
			latency: reg.adapter.EstimatedLatency(),
		})
	}
	return quotes
}
