package orders

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand"
	"time"

	"github.com/ducminhle1904/crypto-execution-core/internal/errors"
	"github.com/ducminhle1904/crypto-execution-core/internal/exchange"
)

// RetryConfig bounds the retry behavior of a strategy's venue calls
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
	JitterEnabled bool          `json:"jitter_enabled"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// retryWithBackoff executes fn with bounded exponential backoff. Only
// transient venue errors are retried; validation, rejection and risk errors
// surface immediately.
func retryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == config.MaxRetries {
			break
		}
		if !isRetryable(err) {
			break
		}

		delay := calculateDelay(attempt, config)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

// isRetryable reports whether an error is a transient venue failure
func isRetryable(err error) bool {
	var exErr *exchange.ExchangeError
	if stderrors.As(err, &exErr) {
		return exErr.IsRetryable
	}
	return errors.IsExchangeUnavailable(err)
}

// calculateDelay computes the backoff delay for a retry attempt
func calculateDelay(attempt int, config RetryConfig) time.Duration {
	delay := config.InitialDelay
	if attempt > 0 {
		delay = time.Duration(float64(config.InitialDelay) * math.Pow(config.BackoffFactor, float64(attempt)))
	}
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	if config.JitterEnabled {
		jitter := time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
		delay += jitter
	}
	return delay
}
