package marketdata

import (
	"context"
	"log"
	"time"

	"github.com/ducminhle1904/crypto-execution-core/internal/exchange"
	"github.com/ducminhle1904/crypto-execution-core/internal/monitoring"
	"github.com/ducminhle1904/crypto-execution-core/pkg/types"
)

// TickerSource supplies venue listings and quotes for the polling loop.
// *exchange.Manager satisfies it.
type TickerSource interface {
	ListExchanges() []exchange.ExchangeInfo
	GetTicker(ctx context.Context, exchangeID, symbol string) (*types.Ticker, error)
}

// StreamConfig tunes the market data streamer
type StreamConfig struct {
	Symbols         []string
	RefreshInterval time.Duration
	WebsocketURL    string // optional streaming endpoint; REST polling runs regardless
	WebsocketVenue  string // venue id attributed to websocket ticks
}

// Streamer keeps the tick cache current. It always polls connected venues
// over REST at RefreshInterval; when a websocket endpoint is configured it
// additionally subscribes to the ticker stream, which overwrites the slower
// polled values as messages arrive.
type Streamer struct {
	cache  *Cache
	source TickerSource
	config StreamConfig
	dialWS func(venueID, url string) (*exchange.WebSocketFeed, error)
}

// NewStreamer creates a streamer feeding the given cache
func NewStreamer(cache *Cache, source TickerSource, config StreamConfig) *Streamer {
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = 2 * time.Second
	}
	return &Streamer{
		cache:  cache,
		source: source,
		config: config,
		dialWS: exchange.NewWebSocketFeed,
	}
}

// Run drives the polling loop until the context is canceled. The websocket
// leg, when configured, runs in its own goroutine and reconnects after
// transient drops.
func (s *Streamer) Run(ctx context.Context) error {
	if s.config.WebsocketURL != "" {
		go s.runWebsocket(ctx)
	}

	ticker := time.NewTicker(s.config.RefreshInterval)
	defer ticker.Stop()

	s.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// pollOnce fetches each symbol from the first connected venue that answers
func (s *Streamer) pollOnce(ctx context.Context) {
	venues := s.source.ListExchanges()

	for _, symbol := range s.config.Symbols {
		for _, venue := range venues {
			if venue.Status != exchange.StatusConnected {
				continue
			}
			quote, err := s.source.GetTicker(ctx, venue.ID, symbol)
			if err != nil || quote == nil {
				continue
			}
			s.cache.UpdateFromTicker(*quote)
			monitoring.UpdatePrice(symbol, quote.Last)
			break
		}
	}
}

// runWebsocket maintains the streaming subscription, redialing after drops
func (s *Streamer) runWebsocket(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		feed, err := s.dialWS(s.config.WebsocketVenue, s.config.WebsocketURL)
		if err != nil {
			log.Printf("market data websocket dial failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, symbol := range s.config.Symbols {
			if err := feed.Subscribe(symbol, s.handleTick); err != nil {
				log.Printf("market data subscribe failed for %s: %v", symbol, err)
			}
		}

		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("market data websocket dropped: %v", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Streamer) handleTick(ticker types.Ticker) {
	s.cache.UpdateFromTicker(ticker)
	monitoring.UpdatePrice(ticker.Symbol, ticker.Last)
}
