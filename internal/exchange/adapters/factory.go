package adapters

import (
	"fmt"
	"strings"

	"github.com/ducminhle1904/crypto-execution-core/internal/exchange"
)

// Factory creates venue adapters based on the registered exchange type
type Factory struct{}

// NewFactory creates a new adapter factory instance
func NewFactory() *Factory {
	return &Factory{}
}

// CreateAdapter creates an adapter instance for the given exchange type.
// The supported set is extensible through the ExchangeAdapter interface;
// the factory only knows the venues this build ships with.
func (f *Factory) CreateAdapter(exchangeType string, creds exchange.Credentials) (exchange.ExchangeAdapter, error) {
	switch strings.ToLower(strings.TrimSpace(exchangeType)) {
	case "bybit":
		return NewBybitAdapter(creds)
	case "binance":
		return NewBinanceAdapter(creds)
	case "paper":
		return NewPaperAdapter(), nil
	default:
		return nil, &exchange.ExchangeError{
			Code:        exchange.CodeUnsupportedExchangeType,
			Message:     fmt.Sprintf("exchange type '%s' is not supported", exchangeType),
			Details:     fmt.Sprintf("supported exchanges: %v", f.SupportedExchanges()),
			IsRetryable: false,
		}
	}
}

// SupportedExchanges returns the venue types this factory can create
func (f *Factory) SupportedExchanges() []string {
	return []string{"bybit", "binance", "paper"}
}
