package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-execution-core/internal/errors"
)

func TestClassifyVenueError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCategory  errors.ErrorCategory
		wantRetryable bool
	}{
		{"timeout", stderrors.New("request timeout"), errors.ErrorCategoryExchangeUnavailable, true},
		{"deadline", stderrors.New("context deadline exceeded"), errors.ErrorCategoryExchangeUnavailable, true},
		{"dial", stderrors.New("dial tcp: connection refused"), errors.ErrorCategoryExchangeUnavailable, true},
		{"rate limit", stderrors.New("rate limit exceeded"), errors.ErrorCategoryExchangeUnavailable, true},
		{"insufficient balance", stderrors.New("insufficient balance"), errors.ErrorCategoryExchangeRejected, false},
		{"invalid order", stderrors.New("invalid order size"), errors.ErrorCategoryExchangeRejected, false},
		{"unauthorized", stderrors.New("unauthorized api key"), errors.ErrorCategoryExchangeRejected, false},
		{"below minimum", stderrors.New("order below minimum notional"), errors.ErrorCategoryExchangeRejected, false},
		{"unknown", stderrors.New("something odd happened"), errors.ErrorCategoryExchangeUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := errors.ClassifyVenueError(tt.err, "exchange", "place")
			require.NotNil(t, classified)
			assert.Equal(t, tt.wantCategory, classified.Category)
			assert.Equal(t, tt.wantRetryable, classified.IsRetryable())
			assert.True(t, stderrors.Is(classified, tt.err))
		})
	}
}

func TestClassifyVenueErrorPassthrough(t *testing.T) {
	original := errors.New(errors.ErrorCategoryExchangeRejected, "exchange", "place", "insufficient margin")
	classified := errors.ClassifyVenueError(original, "exchange", "place")
	assert.Same(t, original, classified)

	assert.Nil(t, errors.ClassifyVenueError(nil, "exchange", "place"))
}

func TestCategoryHelpersWalkTheChain(t *testing.T) {
	root := stderrors.New("connection reset by peer")
	classified := errors.ClassifyVenueError(root, "exchange", "ticker")
	wrapped := fmt.Errorf("refreshing quotes: %w", classified)

	assert.Equal(t, errors.ErrorCategoryExchangeUnavailable, errors.CategoryOf(wrapped))
	assert.True(t, errors.IsExchangeUnavailable(wrapped))
	assert.False(t, errors.IsValidation(wrapped))

	validation := errors.New(errors.ErrorCategoryValidation, "orders", "SubmitOrder", "quantity must be positive")
	assert.True(t, errors.IsValidation(validation))
	assert.False(t, validation.IsRetryable())
	assert.Empty(t, errors.CategoryOf(stderrors.New("plain")))
}

func TestWrapKeepsUnderlying(t *testing.T) {
	underlying := stderrors.New("read tcp: i/o timeout")
	wrapped := errors.Wrap(underlying, errors.ErrorCategoryExchangeUnavailable, "exchange", "order_status", "venue unreachable")
	require.NotNil(t, wrapped)
	assert.True(t, stderrors.Is(wrapped, underlying))
	assert.Contains(t, wrapped.Error(), "EXCHANGE_UNAVAILABLE")
	assert.Contains(t, wrapped.Error(), "venue unreachable")

	assert.Nil(t, errors.Wrap(nil, errors.ErrorCategoryExchangeUnavailable, "exchange", "order_status", "ignored"))
}
