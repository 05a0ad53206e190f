package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ducminhle1904/crypto-execution-core/pkg/types"
)

// TickHandler receives streamed quotes
type TickHandler func(ticker types.Ticker)

// WebSocketFeed handles a streaming ticker connection to a venue. Each feed
// owns one connection and fans ticks out to subscribed handlers.
type WebSocketFeed struct {
	conn     *websocket.Conn
	url      string
	venueID  string
	mu       sync.RWMutex
	handlers map[string][]TickHandler
	running  bool
}

// NewWebSocketFeed dials a venue's combined-stream endpoint
func NewWebSocketFeed(venueID, url string) (*WebSocketFeed, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	feed := &WebSocketFeed{
		conn:     conn,
		url:      url,
		venueID:  venueID,
		handlers: make(map[string][]TickHandler),
		running:  true,
	}

	go feed.pingLoop()
	return feed, nil
}

// Subscribe registers a handler for a symbol's ticker stream
func (f *WebSocketFeed) Subscribe(symbol string, handler TickHandler) error {
	f.mu.Lock()
	first := len(f.handlers[symbol]) == 0
	f.handlers[symbol] = append(f.handlers[symbol], handler)
	f.mu.Unlock()

	if !first {
		return nil
	}

	subscribeMsg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": []string{strings.ToLower(symbol) + "@bookTicker"},
		"id":     1,
	}
	data, err := json.Marshal(subscribeMsg)
	if err != nil {
		return fmt.Errorf("failed to marshal subscribe message: %w", err)
	}
	if err := f.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send subscribe message: %w", err)
	}
	return nil
}

// Run reads messages until the context is canceled or the connection drops.
// Cancellation closes the connection so a blocked read returns immediately.
func (f *WebSocketFeed) Run(ctx context.Context) error {
	defer f.Close()

	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
			f.Close()
		case <-readDone:
		}
	}()

	for {
		_, message, err := f.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("websocket read failed: %w", err)
		}

		var payload struct {
			Symbol string `json:"s"`
			Bid    string `json:"b"`
			Ask    string `json:"a"`
		}
		if err := json.Unmarshal(message, &payload); err != nil || payload.Symbol == "" {
			continue
		}

		bid, _ := strconv.ParseFloat(payload.Bid, 64)
		ask, _ := strconv.ParseFloat(payload.Ask, 64)
		ticker := types.Ticker{
			Symbol:    payload.Symbol,
			Bid:       bid,
			Ask:       ask,
			Last:      (bid + ask) / 2,
			Timestamp: time.Now(),
		}

		f.mu.RLock()
		handlers := f.handlers[payload.Symbol]
		f.mu.RUnlock()
		for _, handler := range handlers {
			handler(ticker)
		}
	}
}

// Close shuts down the connection
func (f *WebSocketFeed) Close() error {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	return f.conn.Close()
}

// pingLoop keeps the connection alive
func (f *WebSocketFeed) pingLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		f.mu.RLock()
		running := f.running
		f.mu.RUnlock()
		if !running {
			return
		}
		if err := f.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			log.Printf("websocket ping failed for %s: %v", f.venueID, err)
			return
		}
	}
}
