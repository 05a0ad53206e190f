package types

import "time"

type OHLCV struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp time.Time
}

// Ticker is a single top-of-book quote from one venue. Bid/Ask may be zero
// when a venue only publishes last-trade prices.
type Ticker struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	Volume    float64
	Timestamp time.Time
}

type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// BookLevel is one price level of an order book ladder.
type BookLevel struct {
	Price    float64
	Quantity float64
}

// OrderBook holds bid/ask ladders for one symbol on one venue.
// Bids are sorted descending by price, asks ascending.
type OrderBook struct {
	Symbol    string
	Bids      []BookLevel
	Asks      []BookLevel
	Timestamp time.Time
}

// BestBid returns the highest bid, or zero value if the book is empty.
func (ob *OrderBook) BestBid() BookLevel {
	if len(ob.Bids) == 0 {
		return BookLevel{}
	}
	return ob.Bids[0]
}

// BestAsk returns the lowest ask, or zero value if the book is empty.
func (ob *OrderBook) BestAsk() BookLevel {
	if len(ob.Asks) == 0 {
		return BookLevel{}
	}
	return ob.Asks[0]
}
