package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-execution-core/internal/errors"
	"github.com/ducminhle1904/crypto-execution-core/internal/monitoring"
	"github.com/ducminhle1904/crypto-execution-core/internal/safety"
	"github.com/ducminhle1904/crypto-execution-core/pkg/types"
)

// AdapterFactory creates venue adapters by type name. The adapters package
// provides the production factory; tests inject paper venues through it.
type AdapterFactory interface {
	CreateAdapter(exchangeType string, creds Credentials) (ExchangeAdapter, error)
	SupportedExchanges() []string
}

// ExchangeStatus describes the registry's view of one venue connection
type ExchangeStatus string

const (
	StatusConnected    ExchangeStatus = "connected"
	StatusDisconnected ExchangeStatus = "disconnected"
	StatusDegraded     ExchangeStatus = "degraded"
)

// ExchangeInfo is the read-only listing entry for a registered venue
type ExchangeInfo struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Status ExchangeStatus `json:"status"`
}

// registration is the registry's record of one venue. Owned exclusively by
// the Manager; seq preserves registration order for deterministic tie-breaks.
type registration struct {
	id      string
	excType string
	adapter ExchangeAdapter
	seq     int
	status  ExchangeStatus
	breaker *safety.CircuitBreaker
	limiter *safety.RateLimiter
}

// ManagerConfig holds venue-agnostic call behavior knobs
type ManagerConfig struct {
	CallTimeout      time.Duration // per adapter call; timeout is treated as retryable
	OrderBookDepth   int
	RateLimitPerSec  int
	BreakerThreshold int
}

// DefaultManagerConfig returns conservative defaults
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		CallTimeout:      10 * time.Second,
		OrderBookDepth:   25,
		RateLimitPerSec:  10,
		BreakerThreshold: 5,
	}
}

// Manager is the venue-agnostic exchange abstraction: a registry of venue
// adapters plus cross-venue intelligence (unified order book, arbitrage
// detection, best-execution venue selection).
type Manager struct {
	mu            sync.RWMutex
	factory       AdapterFactory
	registrations map[string]*registration
	nextSeq       int
	config        ManagerConfig
}

// NewManager creates an exchange manager backed by the given adapter factory
func NewManager(factory AdapterFactory, config ManagerConfig) *Manager {
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultManagerConfig().CallTimeout
	}
	if config.OrderBookDepth <= 0 {
		config.OrderBookDepth = DefaultManagerConfig().OrderBookDepth
	}
	return &Manager{
		factory:       factory,
		registrations: make(map[string]*registration),
		config:        config,
	}
}

// RegisterExchange registers a venue connection under a caller-chosen id.
// Fails when the id is taken or the type is not supported by the factory.
func (m *Manager) RegisterExchange(id, exchangeType string, creds Credentials) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", NewMissingParameterError("id")
	}

	adapter, err := m.factory.CreateAdapter(exchangeType, creds)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.registrations[id]; exists {
		return "", NewDuplicateRegistrationError(id)
	}

	m.nextSeq++
	m.registrations[id] = &registration{
		id:      id,
		excType: strings.ToLower(strings.TrimSpace(exchangeType)),
		adapter: adapter,
		seq:     m.nextSeq,
		status:  StatusDisconnected,
		breaker: safety.NewCircuitBreaker("exchange:"+id, safety.CircuitBreakerConfig{
			FailureThreshold: uint32(m.config.BreakerThreshold),
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		}),
		limiter: safety.NewRateLimiter("exchange:"+id, m.config.RateLimitPerSec, m.config.RateLimitPerSec),
	}
	return id, nil
}

// DeregisterExchange removes a venue, disconnecting its adapter.
func (m *Manager) DeregisterExchange(id string) error {
	m.mu.Lock()
	reg, exists := m.registrations[id]
	if !exists {
		m.mu.Unlock()
		return NewUnknownExchangeError(id)
	}
	delete(m.registrations, id)
	m.mu.Unlock()

	return reg.adapter.Disconnect()
}

// Connect establishes the adapter connection for a registered venue.
func (m *Manager) Connect(ctx context.Context, id string) error {
	reg, err := m.get(id)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()

	if err := reg.adapter.Connect(callCtx); err != nil {
		m.setStatus(id, StatusDegraded)
		return err
	}
	m.setStatus(id, StatusConnected)
	return nil
}

// ListExchanges returns a snapshot of registered venues in registration
// order. Never blocks on network.
func (m *Manager) ListExchanges() []ExchangeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	regs := m.sortedLocked()
	infos := make([]ExchangeInfo, 0, len(regs))
	for _, reg := range regs {
		infos = append(infos, ExchangeInfo{ID: reg.id, Type: reg.excType, Status: reg.status})
	}
	return infos
}

// ValidateOrderParams checks type-required fields on an order request.
// Symbol, side and type are always required; quantity is required for every
// supported type; price only for the limit family.
func (m *Manager) ValidateOrderParams(req OrderRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return NewMissingParameterError("symbol")
	}
	if req.Side == "" {
		return NewMissingParameterError("side")
	}
	if !req.Side.Valid() {
		return NewInvalidSideError(string(req.Side))
	}
	if req.Type == "" {
		return NewMissingParameterError("type")
	}
	if req.Quantity <= 0 {
		return NewMissingParameterError("quantity")
	}
	if req.Type.RequiresPrice() && req.Price <= 0 {
		return NewMissingParameterError("price")
	}
	if (req.Type == OrderTypeStopMarket || req.Type == OrderTypeStopLimit) && req.StopPrice <= 0 {
		return NewMissingParameterError("stop_price")
	}
	return nil
}

// PlaceOrder validates and delegates an order to the venue adapter.
// Failures are classified into retryable (venue unreachable) vs terminal
// (venue rejected) by the caller via the error's IsRetryable flag.
func (m *Manager) PlaceOrder(ctx context.Context, exchangeID string, req OrderRequest) (*Order, error) {
	if err := m.ValidateOrderParams(req); err != nil {
		return nil, err
	}
	reg, err := m.get(exchangeID)
	if err != nil {
		return nil, err
	}

	var order *Order
	callErr := m.callVenue(ctx, reg, "place_order", func(callCtx context.Context) error {
		var placeErr error
		order, placeErr = reg.adapter.PlaceOrder(callCtx, req)
		return placeErr
	})
	if callErr != nil {
		return nil, m.classifyVenueError(exchangeID, callErr)
	}
	return order, nil
}

// CancelOrder cancels a venue-side order.
func (m *Manager) CancelOrder(ctx context.Context, exchangeID, symbol, orderID string) error {
	reg, err := m.get(exchangeID)
	if err != nil {
		return err
	}
	callErr := m.callVenue(ctx, reg, "cancel_order", func(callCtx context.Context) error {
		return reg.adapter.CancelOrder(callCtx, symbol, orderID)
	})
	if callErr != nil {
		return m.classifyVenueError(exchangeID, callErr)
	}
	return nil
}

// GetOrderStatus fetches the current venue-side state of an order.
func (m *Manager) GetOrderStatus(ctx context.Context, exchangeID, symbol, orderID string) (*Order, error) {
	reg, err := m.get(exchangeID)
	if err != nil {
		return nil, err
	}
	var order *Order
	callErr := m.callVenue(ctx, reg, "order_status", func(callCtx context.Context) error {
		var stErr error
		order, stErr = reg.adapter.GetOrderStatus(callCtx, symbol, orderID)
		return stErr
	})
	if callErr != nil {
		return nil, m.classifyVenueError(exchangeID, callErr)
	}
	return order, nil
}

// GetTicker fetches a quote from one venue.
func (m *Manager) GetTicker(ctx context.Context, exchangeID, symbol string) (*types.Ticker, error) {
	reg, err := m.get(exchangeID)
	if err != nil {
		return nil, err
	}
	var ticker *types.Ticker
	callErr := m.callVenue(ctx, reg, "ticker", func(callCtx context.Context) error {
		var tErr error
		ticker, tErr = reg.adapter.GetTicker(callCtx, symbol)
		return tErr
	})
	if callErr != nil {
		return nil, m.classifyVenueError(exchangeID, callErr)
	}
	return ticker, nil
}

// callVenue runs one adapter call through the venue's rate limiter and
// circuit breaker with the configured timeout. Adapter calls are the only
// operations in the core that may block on network I/O.
func (m *Manager) callVenue(ctx context.Context, reg *registration, op string, fn func(ctx context.Context) error) error {
	if err := reg.limiter.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()

	start := time.Now()
	err := reg.breaker.Call(func() error {
		return fn(callCtx)
	})
	monitoring.ObserveVenueCall(reg.id, op, time.Since(start))
	return err
}

// classifyVenueError maps raw adapter failures onto the shared trading error
// taxonomy and downgrades the venue status on transport failures. The
// classified error is carried as the cause, so callers can interrogate the
// chain with the errors package helpers.
func (m *Manager) classifyVenueError(exchangeID string, err error) error {
	if excErr, ok := err.(*ExchangeError); ok {
		if excErr.IsRetryable {
			m.setStatus(exchangeID, StatusDegraded)
		}
		return excErr
	}

	classified := errors.ClassifyVenueError(err, "exchange", "call_venue")
	if classified.IsRetryable() {
		m.setStatus(exchangeID, StatusDegraded)
		return &ExchangeError{
			Code:        CodeExchangeUnavailable,
			Message:     fmt.Sprintf("exchange '%s' unavailable", exchangeID),
			Details:     err.Error(),
			IsRetryable: true,
			Cause:       classified,
		}
	}
	return &ExchangeError{
		Code:        CodeExchangeRejected,
		Message:     fmt.Sprintf("exchange '%s' rejected the request", exchangeID),
		Details:     err.Error(),
		IsRetryable: false,
		Cause:       classified,
	}
}

func (m *Manager) get(id string) (*registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, exists := m.registrations[id]
	if !exists {
		return nil, NewUnknownExchangeError(id)
	}
	return reg, nil
}

func (m *Manager) setStatus(id string, status ExchangeStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reg, exists := m.registrations[id]; exists {
		reg.status = status
	}
}

// sortedLocked returns registrations in registration order. Callers must
// hold at least a read lock.
func (m *Manager) sortedLocked() []*registration {
	regs := make([]*registration, 0, len(m.registrations))
	for _, reg := range m.registrations {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })
	return regs
}
