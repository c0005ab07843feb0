package queue

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/orders"
)

// JobState is the queue-internal state of a job
type JobState string

const (
	// JobQueued jobs are waiting for a worker; NextRunAt gates retries.
	JobQueued JobState = "queued"
	// JobRunning jobs are claimed by exactly one worker.
	JobRunning JobState = "running"
	// JobFailed jobs exhausted their attempts and are retained for
	// inspection. Completed jobs are deleted instead.
	JobFailed JobState = "failed"
)

// Job is one durable order-processing task. The unique index on OrderID
// guarantees at most one job, and therefore at most one concurrent
// processor, per order — including across retries.
type Job struct {
	ID          uint            `gorm:"primaryKey;autoIncrement"`
	OrderID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex"`
	TokenIn     string          `gorm:"not null"`
	TokenOut    string          `gorm:"not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(30,12);not null"`
	SlippageBps int             `gorm:"not null"`
	Attempt     int             `gorm:"not null"`
	MaxAttempts int             `gorm:"not null"`
	State       JobState        `gorm:"not null;index"`
	NextRunAt   time.Time       `gorm:"not null;index"`
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ErrJobExists signals that a non-terminal job already exists for the order
var ErrJobExists = orders.NewError("JOB_EXISTS", "a job for this order is already scheduled")
