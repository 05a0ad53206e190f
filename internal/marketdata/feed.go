package marketdata

import (
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-execution-core/pkg/types"
)

// Tick is one price/volume observation from the market data feed
type Tick struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Quote is a cache read result. Stale is set when the underlying tick is
// older than the freshness window: the last-known values are still returned
// so consumers degrade gracefully instead of failing outright.
type Quote struct {
	Tick  Tick `json:"tick"`
	Stale bool `json:"stale"`
}

// Cache holds the most recent tick per symbol with a freshness window.
type Cache struct {
	mu        sync.RWMutex
	ticks     map[string]Tick
	freshness time.Duration
	now       func() time.Time
}

// NewCache creates a tick cache. Ticks older than freshness are flagged
// stale on read.
func NewCache(freshness time.Duration) *Cache {
	if freshness <= 0 {
		freshness = 5 * time.Second
	}
	return &Cache{
		ticks:     make(map[string]Tick),
		freshness: freshness,
		now:       time.Now,
	}
}

// Update stores a tick. Out-of-order ticks older than the cached one are
// dropped.
func (c *Cache) Update(tick Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, exists := c.ticks[tick.Symbol]; exists && tick.Timestamp.Before(existing.Timestamp) {
		return
	}
	c.ticks[tick.Symbol] = tick
}

// UpdateFromTicker stores a venue ticker as a tick
func (c *Cache) UpdateFromTicker(ticker types.Ticker) {
	c.Update(Tick{
		Symbol:    ticker.Symbol,
		Bid:       ticker.Bid,
		Ask:       ticker.Ask,
		Last:      ticker.Last,
		Volume:    ticker.Volume,
		Timestamp: ticker.Timestamp,
	})
}

// Get returns the last-known quote for a symbol and whether any exists.
func (c *Cache) Get(symbol string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tick, exists := c.ticks[symbol]
	if !exists {
		return Quote{}, false
	}
	return Quote{
		Tick:  tick,
		Stale: c.now().Sub(tick.Timestamp) > c.freshness,
	}, true
}

// Symbols returns all symbols currently cached
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	symbols := make([]string, 0, len(c.ticks))
	for symbol := range c.ticks {
		symbols = append(symbols, symbol)
	}
	return symbols
}
