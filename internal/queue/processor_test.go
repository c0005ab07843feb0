package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/config"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/database"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/notify"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/orders"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/routing"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/venue"
)

// scriptedVenue quotes and executes with fixed outcomes
type scriptedVenue struct {
	name      string
	price     decimal.Decimal
	fee       decimal.Decimal
	execPrice decimal.Decimal
	quoteErr  error
	execErr   error
	execPanic bool
}

func (s *scriptedVenue) Name() string { return s.name }

func (s *scriptedVenue) Quote(ctx context.Context, tokenIn, tokenOut string, amount decimal.Decimal) (venue.Quote, error) {
	if s.quoteErr != nil {
		return venue.Quote{}, s.quoteErr
	}
	return venue.Quote{Venue: s.name, Price: s.price, Fee: s.fee}, nil
}

func (s *scriptedVenue) Execute(ctx context.Context, quoted venue.Quote, tokenIn, tokenOut string, amount decimal.Decimal) (venue.Execution, error) {
	if s.execPanic {
		panic("venue adapter bug")
	}
	if s.execErr != nil {
		return venue.Execution{}, s.execErr
	}
	return venue.Execution{TxHash: "0xabc123", ExecutedPrice: s.execPrice, Venue: s.name}, nil
}

type processorEnv struct {
	store     *orders.GormStore
	bus       *notify.Bus
	processor *Processor
}

func newProcessorEnv(t *testing.T, venues ...venue.Venue) *processorEnv {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "processor.db"),
	})
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	store := orders.NewGormStore(db, logger)
	require.NoError(t, store.Migrate())

	bus := notify.NewBus(logger)
	router := routing.NewEngine(logger, venues, false)
	return &processorEnv{
		store:     store,
		bus:       bus,
		processor: NewProcessor(logger, store, bus, router),
	}
}

func (env *processorEnv) createOrder(t *testing.T) *orders.Order {
	t.Helper()
	ord := testOrder()
	_, err := env.store.Create(context.Background(), ord)
	require.NoError(t, err)
	return ord
}

func jobFor(ord *orders.Order) *Job {
	return &Job{
		OrderID:     ord.ID,
		TokenIn:     ord.TokenIn,
		TokenOut:    ord.TokenOut,
		Amount:      ord.Amount,
		SlippageBps: ord.SlippageBps,
		Attempt:     1,
		MaxAttempts: 3,
	}
}

func statuses(events []orders.StatusEvent) []orders.Status {
	out := make([]orders.Status, len(events))
	for i, ev := range events {
		out[i] = ev.Status
	}
	return out
}

func TestProcessConfirmsOrderOnBestVenue(t *testing.T) {
	best := &scriptedVenue{name: "raydium", price: decimal.RequireFromString("2.0"),
		fee: decimal.RequireFromString("0.003"), execPrice: decimal.RequireFromString("2.0")}
	worse := &scriptedVenue{name: "meteora", price: decimal.RequireFromString("1.5"),
		fee: decimal.RequireFromString("0.002"), execPrice: decimal.RequireFromString("1.5")}
	env := newProcessorEnv(t, best, worse)
	ord := env.createOrder(t)

	require.NoError(t, env.processor.Process(context.Background(), jobFor(ord)))

	got, err := env.store.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, got.Status)

	history, err := env.store.History(context.Background(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, []orders.Status{
		orders.StatusPending, orders.StatusRouting, orders.StatusBuilding,
		orders.StatusSubmitted, orders.StatusConfirmed,
	}, statuses(history))

	// terminal order's replay buffer is cleared
	assert.Empty(t, env.bus.Replay(ord.ID))
}

func TestProcessFailsOrderOnSlippage(t *testing.T) {
	// quoted at 2.0, executed at 1.5: far past any reasonable tolerance
	v := &scriptedVenue{name: "raydium", price: decimal.RequireFromString("2.0"),
		fee: decimal.RequireFromString("0.003"), execPrice: decimal.RequireFromString("1.5")}
	env := newProcessorEnv(t, v)
	ord := env.createOrder(t)

	require.NoError(t, env.processor.Process(context.Background(), jobFor(ord)))

	got, err := env.store.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFailed, got.Status)
	require.NotNil(t, got.FailReason)
	assert.Contains(t, *got.FailReason, "slippage")
}

func TestProcessReturnsTransientQuoteFailure(t *testing.T) {
	v := &scriptedVenue{name: "raydium", quoteErr: venue.NewTransientError("rpc timeout")}
	env := newProcessorEnv(t, v)
	ord := env.createOrder(t)

	err := env.processor.Process(context.Background(), jobFor(ord))
	require.Error(t, err)
	assert.True(t, venue.IsTransient(err))

	// the order stays retryable, not terminal
	got, gerr := env.store.Get(context.Background(), ord.ID)
	require.NoError(t, gerr)
	assert.Equal(t, orders.StatusRouting, got.Status)
}

func TestProcessFailsOrderOnPermanentExecutionError(t *testing.T) {
	v := &scriptedVenue{name: "raydium", price: decimal.RequireFromString("2.0"),
		fee: decimal.RequireFromString("0.003"), execErr: errors.New("insufficient liquidity")}
	env := newProcessorEnv(t, v)
	ord := env.createOrder(t)

	require.NoError(t, env.processor.Process(context.Background(), jobFor(ord)))

	got, err := env.store.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFailed, got.Status)
	require.NotNil(t, got.FailReason)
	assert.Contains(t, *got.FailReason, "insufficient liquidity")
}

func TestProcessRecoversFromPanic(t *testing.T) {
	v := &scriptedVenue{name: "raydium", price: decimal.RequireFromString("2.0"),
		fee: decimal.RequireFromString("0.003"), execPanic: true}
	env := newProcessorEnv(t, v)
	ord := env.createOrder(t)

	require.NotPanics(t, func() {
		require.NoError(t, env.processor.Process(context.Background(), jobFor(ord)))
	})

	got, err := env.store.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFailed, got.Status)
}

func TestProcessDropsJobForTerminalOrder(t *testing.T) {
	v := &scriptedVenue{name: "raydium", price: decimal.RequireFromString("2.0"),
		fee: decimal.RequireFromString("0.003"), execPrice: decimal.RequireFromString("2.0")}
	env := newProcessorEnv(t, v)
	ord := env.createOrder(t)
	_, err := env.store.Transition(context.Background(), ord.ID, orders.StatusFailed,
		orders.FailedPayload{Error: "cancelled"})
	require.NoError(t, err)

	require.NoError(t, env.processor.Process(context.Background(), jobFor(ord)))

	history, herr := env.store.History(context.Background(), ord.ID)
	require.NoError(t, herr)
	assert.Len(t, history, 2)
}

func TestProcessRetryReannouncesEarlierStages(t *testing.T) {
	v := &scriptedVenue{name: "raydium", price: decimal.RequireFromString("2.0"),
		fee: decimal.RequireFromString("0.003"), execPrice: decimal.RequireFromString("2.0"),
		execErr: venue.NewTransientError("rpc timeout")}
	env := newProcessorEnv(t, v)
	ord := env.createOrder(t)

	job := jobFor(ord)
	err := env.processor.Process(context.Background(), job)
	require.Error(t, err)
	require.True(t, venue.IsTransient(err))

	// second attempt succeeds; stages the order is already past are not
	// re-applied, the current stage is re-announced
	v.execErr = nil
	job.Attempt = 2
	require.NoError(t, env.processor.Process(context.Background(), job))

	history, herr := env.store.History(context.Background(), ord.ID)
	require.NoError(t, herr)
	assert.Equal(t, []orders.Status{
		orders.StatusPending, orders.StatusRouting, orders.StatusBuilding,
		orders.StatusSubmitted, orders.StatusSubmitted, orders.StatusConfirmed,
	}, statuses(history))

	got, gerr := env.store.Get(context.Background(), ord.ID)
	require.NoError(t, gerr)
	assert.Equal(t, orders.StatusConfirmed, got.Status)
}

func TestForceFailWritesTerminalStatus(t *testing.T) {
	env := newProcessorEnv(t)
	ord := env.createOrder(t)

	env.processor.ForceFail(context.Background(), ord.ID, "failed after 3 attempts: rpc timeout")

	got, err := env.store.Get(context.Background(), ord.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFailed, got.Status)
	require.NotNil(t, got.FailReason)
	assert.Contains(t, *got.FailReason, "3 attempts")
}
