package venue

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasePriceIsDeterministicPerPair(t *testing.T) {
	a := BasePrice("SOL", "USDC")
	b := BasePrice("SOL", "USDC")
	assert.True(t, a.Equal(b))

	other := BasePrice("ETH", "USDC")
	assert.False(t, a.Equal(other))

	one := decimal.NewFromInt(1)
	max := decimal.RequireFromString("3.5")
	for _, p := range []decimal.Decimal{a, other, BasePrice("BONK", "SOL")} {
		assert.True(t, p.GreaterThanOrEqual(one), "price %s below 1", p)
		assert.True(t, p.LessThanOrEqual(max), "price %s above 3.5", p)
	}
}

func TestQuoteStaysWithinPriceBand(t *testing.T) {
	v := NewRaydium(Options{Seed: 42})
	base := BasePrice("SOL", "USDC")
	low := base.Mul(decimal.RequireFromString("0.988"))
	high := base.Mul(decimal.RequireFromString("1.012"))

	for i := 0; i < 100; i++ {
		q, err := v.Quote(context.Background(), "SOL", "USDC", decimal.NewFromInt(1))
		require.NoError(t, err)
		assert.Equal(t, "raydium", q.Venue)
		assert.True(t, decimal.RequireFromString("0.003").Equal(q.Fee))
		assert.True(t, q.Price.GreaterThanOrEqual(low), "price %s below band", q.Price)
		assert.True(t, q.Price.LessThanOrEqual(high), "price %s above band", q.Price)
	}
}

func TestMeteoraProfile(t *testing.T) {
	v := NewMeteora(Options{Seed: 42})
	q, err := v.Quote(context.Background(), "SOL", "USDC", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, "meteora", q.Venue)
	assert.True(t, decimal.RequireFromString("0.002").Equal(q.Fee))
}

func TestQuoteFailsTransientlyAtConfiguredRate(t *testing.T) {
	v := NewRaydium(Options{Seed: 42, QuoteFailureRate: 1})
	_, err := v.Quote(context.Background(), "SOL", "USDC", decimal.NewFromInt(1))
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestExecuteDriftStaysWithinBound(t *testing.T) {
	v := NewRaydium(Options{Seed: 7, ExecutionDriftPct: 0.015})
	quoted := Quote{Venue: "raydium", Price: decimal.NewFromInt(2), Fee: decimal.RequireFromString("0.003")}
	low := quoted.Price.Mul(decimal.RequireFromString("0.985"))
	high := quoted.Price.Mul(decimal.RequireFromString("1.015"))

	for i := 0; i < 100; i++ {
		exec, err := v.Execute(context.Background(), quoted, "SOL", "USDC", decimal.NewFromInt(1))
		require.NoError(t, err)
		assert.Equal(t, "raydium", exec.Venue)
		assert.True(t, strings.HasPrefix(exec.TxHash, "0x"))
		assert.True(t, exec.ExecutedPrice.GreaterThanOrEqual(low), "price %s below drift bound", exec.ExecutedPrice)
		assert.True(t, exec.ExecutedPrice.LessThanOrEqual(high), "price %s above drift bound", exec.ExecutedPrice)
	}
}

func TestExecuteFailsTransientlyAtConfiguredRate(t *testing.T) {
	v := NewRaydium(Options{Seed: 42, ExecuteFailureRate: 1})
	quoted := Quote{Venue: "raydium", Price: decimal.NewFromInt(2)}
	_, err := v.Execute(context.Background(), quoted, "SOL", "USDC", decimal.NewFromInt(1))
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestQuoteHonorsContextDuringDelay(t *testing.T) {
	v := NewRaydium(Options{
		Seed:          42,
		QuoteDelayMin: 5 * time.Second,
		QuoteDelayMax: 10 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := v.Quote(ctx, "SOL", "USDC", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTransientErrorMarker(t *testing.T) {
	err := NewTransientError("boom")
	assert.True(t, IsTransient(err))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(nil))
}
