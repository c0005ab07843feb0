package orders

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/config"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/database"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "orders.db"),
	})
	require.NoError(t, err)

	store := NewGormStore(db, zaptest.NewLogger(t))
	require.NoError(t, store.Migrate())
	return store
}

func newTestOrder() *Order {
	return &Order{
		ID:          uuid.New(),
		TokenIn:     "SOL",
		TokenOut:    "USDC",
		Amount:      decimal.RequireFromString("1.5"),
		SlippageBps: 100,
	}
}

func TestCreateWritesPendingOrderAndFirstEvent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ord := newTestOrder()
	event, err := store.Create(ctx, ord)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, 1, event.Seq)
	assert.Equal(t, StatusPending, event.Status)

	got, err := store.Get(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.True(t, ord.Amount.Equal(got.Amount))
	assert.Equal(t, 100, got.SlippageBps)

	history, err := store.History(ctx, ord.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, StatusPending, history[0].Status)
}

func TestTransitionAdvancesAndAppendsEvent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ord := newTestOrder()
	_, err := store.Create(ctx, ord)
	require.NoError(t, err)

	event, err := store.Transition(ctx, ord.ID, StatusRouting, RoutingPayload{})
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, 2, event.Seq)
	assert.Equal(t, StatusRouting, event.Status)

	got, err := store.Get(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRouting, got.Status)
}

func TestTransitionRejectsSkippedStage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ord := newTestOrder()
	_, err := store.Create(ctx, ord)
	require.NoError(t, err)

	_, err = store.Transition(ctx, ord.ID, StatusBuilding, BuildingPayload{})
	assert.ErrorIs(t, err, ErrSkippedTransition)

	// order untouched
	got, err := store.Get(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestTransitionReemitAppendsWithoutStatusChange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ord := newTestOrder()
	_, err := store.Create(ctx, ord)
	require.NoError(t, err)
	_, err = store.Transition(ctx, ord.ID, StatusRouting, RoutingPayload{})
	require.NoError(t, err)

	event, err := store.Transition(ctx, ord.ID, StatusRouting, RoutingPayload{})
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, 3, event.Seq)

	got, err := store.Get(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRouting, got.Status)

	history, err := store.History(ctx, ord.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestTransitionIgnoresStaleStage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ord := newTestOrder()
	_, err := store.Create(ctx, ord)
	require.NoError(t, err)
	_, err = store.Transition(ctx, ord.ID, StatusRouting, RoutingPayload{})
	require.NoError(t, err)
	_, err = store.Transition(ctx, ord.ID, StatusBuilding, BuildingPayload{})
	require.NoError(t, err)

	event, err := store.Transition(ctx, ord.ID, StatusRouting, RoutingPayload{})
	require.NoError(t, err)
	assert.Nil(t, event)

	history, err := store.History(ctx, ord.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestTransitionFailedRecordsReason(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ord := newTestOrder()
	_, err := store.Create(ctx, ord)
	require.NoError(t, err)

	event, err := store.Transition(ctx, ord.ID, StatusFailed, FailedPayload{Error: "no route"})
	require.NoError(t, err)
	require.NotNil(t, event)

	got, err := store.Get(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.FailReason)
	assert.Equal(t, "no route", *got.FailReason)

	var payload FailedPayload
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, "no route", payload.Error)
}

func TestTransitionTerminalOrderIsImmutable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ord := newTestOrder()
	_, err := store.Create(ctx, ord)
	require.NoError(t, err)
	_, err = store.Transition(ctx, ord.ID, StatusFailed, FailedPayload{Error: "boom"})
	require.NoError(t, err)

	_, err = store.Transition(ctx, ord.ID, StatusRouting, RoutingPayload{})
	assert.ErrorIs(t, err, ErrTerminalState)

	_, err = store.Transition(ctx, ord.ID, StatusFailed, FailedPayload{Error: "again"})
	assert.ErrorIs(t, err, ErrTerminalState)

	got, err := store.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FailReason)
	assert.Equal(t, "boom", *got.FailReason)
}

func TestGetUnknownOrder(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestHistoryOrderedBySeq(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ord := newTestOrder()
	_, err := store.Create(ctx, ord)
	require.NoError(t, err)
	for _, next := range []Status{StatusRouting, StatusBuilding, StatusSubmitted, StatusConfirmed} {
		_, err = store.Transition(ctx, ord.ID, next, struct{}{})
		require.NoError(t, err)
	}

	history, err := store.History(ctx, ord.ID)
	require.NoError(t, err)
	require.Len(t, history, 5)
	for i, ev := range history {
		assert.Equal(t, i+1, ev.Seq)
	}
	assert.Equal(t, StatusPending, history[0].Status)
	assert.Equal(t, StatusConfirmed, history[4].Status)
}
