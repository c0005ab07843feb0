package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the lifecycle state of an order
type Status string

const (
	StatusPending   Status = "pending"
	StatusRouting   Status = "routing"
	StatusBuilding  Status = "building"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transitions are permitted
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Order is the persisted record of one market order. Amount and
// SlippageBps are immutable after creation; the record is never deleted.
type Order struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TokenIn     string          `gorm:"not null" json:"tokenIn"`
	TokenOut    string          `gorm:"not null" json:"tokenOut"`
	Amount      decimal.Decimal `gorm:"type:decimal(30,12);not null" json:"amount"`
	SlippageBps int             `gorm:"not null" json:"slippageBps"`
	Status      Status          `gorm:"not null;index" json:"status"`
	FailReason  *string         `json:"failReason,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// StatusEvent is one append-only lifecycle record for an order. Seq is
// monotonically increasing per order and fixes replay order.
type StatusEvent struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	OrderID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_status_events_order_seq,priority:1" json:"orderId"`
	Seq       int       `gorm:"not null;uniqueIndex:idx_status_events_order_seq,priority:2" json:"seq"`
	Status    Status    `gorm:"not null" json:"status"`
	Payload   []byte    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Payload variants, one closed type per status. JSON keys match the wire
// contract streamed to clients ("dex" identifies the venue).

// QuotePayload is a venue quote embedded in building events
type QuotePayload struct {
	Venue     string          `json:"dex"`
	Price     decimal.Decimal `json:"price"`
	Fee       decimal.Decimal `json:"fee"`
	Effective decimal.Decimal `json:"effective"`
}

// RoutingPayload marks the start of venue comparison
type RoutingPayload struct{}

// BuildingPayload carries the winning quote and the full comparison set
type BuildingPayload struct {
	Venue    string         `json:"dex"`
	Quote    QuotePayload   `json:"quote"`
	Compared []QuotePayload `json:"compared"`
}

// SubmittedPayload carries the venue and the slippage bound factor
type SubmittedPayload struct {
	Venue        string          `json:"dex"`
	MinOutFactor decimal.Decimal `json:"minOutFactor"`
}

// ConfirmedPayload carries the execution result
type ConfirmedPayload struct {
	TxHash        string          `json:"txHash"`
	ExecutedPrice decimal.Decimal `json:"executedPrice"`
	Venue         string          `json:"dex"`
	AmountOut     decimal.Decimal `json:"amountOut"`
}

// FailedPayload carries the failure reason
type FailedPayload struct {
	Error string `json:"error"`
	Venue string `json:"dex,omitempty"`
}

// Error is a typed domain error with a stable code
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// NewError creates a new domain error
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

var (
	ErrOrderNotFound     = NewError("ORDER_NOT_FOUND", "order not found")
	ErrTerminalState     = NewError("TERMINAL_STATE", "order is already in a terminal state")
	ErrSkippedTransition = NewError("SKIPPED_TRANSITION", "status transition skips an intermediate state")
)
