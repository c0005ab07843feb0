package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store persists orders and their status history. Each transition appends
// one StatusEvent and updates the order's current status atomically with
// respect to that order.
type Store interface {
	Create(ctx context.Context, order *Order) (*StatusEvent, error)
	Transition(ctx context.Context, orderID uuid.UUID, next Status, payload any) (*StatusEvent, error)
	Get(ctx context.Context, orderID uuid.UUID) (*Order, error)
	History(ctx context.Context, orderID uuid.UUID) ([]StatusEvent, error)
}

// GormStore implements Store on gorm
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore creates a gorm-backed order store
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{db: db, logger: logger.Named("order-store")}
}

// Migrate creates the orders and status_events tables
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&Order{}, &StatusEvent{})
}

// Create writes a new pending order and its first status event, returning
// the event for publication
func (s *GormStore) Create(ctx context.Context, order *Order) (*StatusEvent, error) {
	now := time.Now()
	order.Status = StatusPending
	order.CreatedAt = now
	order.UpdatedAt = now

	event := &StatusEvent{
		OrderID:   order.ID,
		Seq:       1,
		Status:    StatusPending,
		Payload:   []byte("{}"),
		CreatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("failed to create status event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// Transition validates and applies a status change. It returns the appended
// event, or nil when the change was a stale re-announcement the lifecycle
// ignores. ErrTerminalState is returned for transitions on terminal orders.
func (s *GormStore) Transition(ctx context.Context, orderID uuid.UUID, next Status, payload any) (*StatusEvent, error) {
	var event *StatusEvent

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order Order
		if err := tx.First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("failed to load order: %w", err)
		}

		decision, err := decideTransition(order.Status, next)
		if err != nil {
			return err
		}
		if decision == decisionIgnore {
			return nil
		}

		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode event payload: %w", err)
		}

		var lastSeq int
		row := tx.Model(&StatusEvent{}).Where("order_id = ?", orderID).Select("COALESCE(MAX(seq), 0)").Row()
		if err := row.Scan(&lastSeq); err != nil {
			return fmt.Errorf("failed to read event sequence: %w", err)
		}

		event = &StatusEvent{
			OrderID:   orderID,
			Seq:       lastSeq + 1,
			Status:    next,
			Payload:   raw,
			CreatedAt: time.Now(),
		}
		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("failed to append status event: %w", err)
		}

		if decision == decisionApply {
			updates := map[string]any{
				"status":     next,
				"updated_at": event.CreatedAt,
			}
			if next == StatusFailed {
				if fp, ok := payload.(FailedPayload); ok {
					updates["fail_reason"] = fp.Error
				}
			}
			if err := tx.Model(&Order{}).Where("id = ?", orderID).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to update order status: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// Get returns the persisted order record
func (s *GormStore) Get(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	var order Order
	if err := s.db.WithContext(ctx).First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

// History returns the full ordered status history for an order
func (s *GormStore) History(ctx context.Context, orderID uuid.UUID) ([]StatusEvent, error) {
	var events []StatusEvent
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("seq ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load status history: %w", err)
	}
	return events, nil
}
