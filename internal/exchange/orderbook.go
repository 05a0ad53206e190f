package exchange

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-execution-core/pkg/types"
)

// UnifiedBookLevel is one merged price level with per-venue contribution.
type UnifiedBookLevel struct {
	Price    float64            `json:"price"`
	Quantity float64            `json:"quantity"`
	Venues   map[string]float64 `json:"venues"`
}

// UnifiedOrderBook is the aggregation of all registered venues' books for
// one symbol. Degraded lists venues that failed to respond; the ladders hold
// best-effort data from the venues that did.
type UnifiedOrderBook struct {
	Symbol    string             `json:"symbol"`
	Bids      []UnifiedBookLevel `json:"bids"`
	Asks      []UnifiedBookLevel `json:"asks"`
	Degraded  []string           `json:"degraded,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// GetUnifiedOrderBook merges bid/ask ladders by price level across all
// registered venues. Partial adapter failure degrades the result rather than
// failing the whole call; only when every venue fails is an error returned.
func (m *Manager) GetUnifiedOrderBook(ctx context.Context, symbol string) (*UnifiedOrderBook, error) {
	m.mu.RLock()
	regs := m.sortedLocked()
	m.mu.RUnlock()

	if len(regs) == 0 {
		return nil, &ExchangeError{
			Code:    CodeNoQuotes,
			Message: "no exchanges registered",
		}
	}

	type venueBook struct {
		id   string
		book *types.OrderBook
		err  error
	}

	// Fan out one book fetch per venue; a stuck venue only costs its own
	// call timeout, never the other venues' results.
	results := make([]venueBook, len(regs))
	var wg sync.WaitGroup
	for i, reg := range regs {
		wg.Add(1)
		go func(i int, reg *registration) {
			defer wg.Done()
			var book *types.OrderBook
			err := m.callVenue(ctx, reg, "order_book", func(callCtx context.Context) error {
				var obErr error
				book, obErr = reg.adapter.GetOrderBook(callCtx, symbol, m.config.OrderBookDepth)
				return obErr
			})
			results[i] = venueBook{id: reg.id, book: book, err: err}
		}(i, reg)
	}
	wg.Wait()

	unified := &UnifiedOrderBook{Symbol: symbol, Timestamp: time.Now()}
	bidLevels := make(map[float64]*UnifiedBookLevel)
	askLevels := make(map[float64]*UnifiedBookLevel)
	succeeded := 0

	for _, res := range results {
		if res.err != nil || res.book == nil {
			unified.Degraded = append(unified.Degraded, res.id)
			m.setStatus(res.id, StatusDegraded)
			continue
		}
		succeeded++
		mergeLevels(bidLevels, res.id, res.book.Bids)
		mergeLevels(askLevels, res.id, res.book.Asks)
	}

	if succeeded == 0 {
		return nil, &ExchangeError{
			Code:        CodeExchangeUnavailable,
			Message:     "all registered exchanges failed to return an order book",
			IsRetryable: true,
		}
	}

	unified.Bids = flattenLevels(bidLevels, true)
	unified.Asks = flattenLevels(askLevels, false)
	return unified, nil
}

func mergeLevels(dst map[float64]*UnifiedBookLevel, venueID string, levels []types.BookLevel) {
	for _, lvl := range levels {
		merged, exists := dst[lvl.Price]
		if !exists {
			merged = &UnifiedBookLevel{Price: lvl.Price, Venues: make(map[string]float64)}
			dst[lvl.Price] = merged
		}
		merged.Quantity += lvl.Quantity
		merged.Venues[venueID] += lvl.Quantity
	}
}

func flattenLevels(levels map[float64]*UnifiedBookLevel, descending bool) []UnifiedBookLevel {
	out := make([]UnifiedBookLevel, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, *lvl)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}
