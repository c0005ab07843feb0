package venue

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Quote is a venue's offer for a token pair: price in tokenOut per unit of
// tokenIn, and the venue's fee fraction.
type Quote struct {
	Venue string          `json:"dex"`
	Price decimal.Decimal `json:"price"`
	Fee   decimal.Decimal `json:"fee"`
}

// Execution is the result of executing a swap on a venue
type Execution struct {
	TxHash        string          `json:"txHash"`
	ExecutedPrice decimal.Decimal `json:"executedPrice"`
	Venue         string          `json:"dex"`
}

// Venue is an execution counterparty. Quote and Execute are the only
// operations the core depends on; both may block on simulated latency and
// honor ctx cancellation for the delay.
type Venue interface {
	Name() string
	Quote(ctx context.Context, tokenIn, tokenOut string, amount decimal.Decimal) (Quote, error)
	Execute(ctx context.Context, quoted Quote, tokenIn, tokenOut string, amount decimal.Decimal) (Execution, error)
}

// TransientError marks a failure as retry-eligible (simulated network or
// RPC fault). Anything not carrying this marker is treated as permanent.
type TransientError struct {
	Message string
}

func (e *TransientError) Error() string {
	return e.Message
}

// NewTransientError creates a retry-eligible error
func NewTransientError(message string) error {
	return &TransientError{Message: message}
}

// IsTransient reports whether err carries the transient marker
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
