package venue

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Options tunes a simulated venue. Zero failure rates and delays make a
// venue deterministic apart from the price band.
type Options struct {
	// Fee is the venue's fee fraction, e.g. 0.003 for 30 bps.
	Fee decimal.Decimal
	// PriceBandLow/High bound the multiplicative noise around the base
	// price when quoting, e.g. 0.988 and 1.012.
	PriceBandLow  float64
	PriceBandHigh float64
	// QuoteFailureRate and ExecuteFailureRate are 0..1 probabilities of a
	// transient failure per call.
	QuoteFailureRate   float64
	ExecuteFailureRate float64
	QuoteDelayMin      time.Duration
	QuoteDelayMax      time.Duration
	ExecuteDelayMin    time.Duration
	ExecuteDelayMax    time.Duration
	// ExecutionDriftPct bounds price drift on execution vs the quoted
	// price, e.g. 0.015 for +-1.5%.
	ExecutionDriftPct float64
	// Seed fixes the random source; 0 seeds from the clock.
	Seed int64
}

// Simulated is a venue adapter with simulated latency, transient failures
// and execution drift. Safe for concurrent use.
type Simulated struct {
	name string
	opts Options

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated creates a simulated venue with the given profile
func NewSimulated(name string, opts Options) *Simulated {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if opts.PriceBandLow == 0 && opts.PriceBandHigh == 0 {
		opts.PriceBandLow, opts.PriceBandHigh = 1.0, 1.0
	}
	return &Simulated{
		name: name,
		opts: opts,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// NewRaydium creates the Raydium profile: fee 0.30%, price within +-1.2%
func NewRaydium(opts Options) *Simulated {
	opts.Fee = decimal.NewFromFloat(0.003)
	opts.PriceBandLow, opts.PriceBandHigh = 0.988, 1.012
	return NewSimulated("raydium", opts)
}

// NewMeteora creates the Meteora profile: fee 0.20%, price within +-1.6%
func NewMeteora(opts Options) *Simulated {
	opts.Fee = decimal.NewFromFloat(0.002)
	opts.PriceBandLow, opts.PriceBandHigh = 0.984, 1.016
	return NewSimulated("meteora", opts)
}

func (v *Simulated) Name() string {
	return v.name
}

// BasePrice derives a stable price per pair so repeated runs quote around
// the same level: ~1.00 to 3.50 from a character sum of the pair.
func BasePrice(tokenIn, tokenOut string) decimal.Decimal {
	seed := 0
	for _, c := range tokenIn + "->" + tokenOut {
		seed += int(c)
	}
	return decimal.NewFromInt(1).Add(decimal.NewFromInt(int64(seed % 250)).Div(decimal.NewFromInt(100)))
}

// Quote returns a priced quote after simulated latency, or a transient
// error at the configured rate
func (v *Simulated) Quote(ctx context.Context, tokenIn, tokenOut string, amount decimal.Decimal) (Quote, error) {
	if err := v.sleep(ctx, v.opts.QuoteDelayMin, v.opts.QuoteDelayMax); err != nil {
		return Quote{}, err
	}
	if v.roll(v.opts.QuoteFailureRate) {
		return Quote{}, NewTransientError(fmt.Sprintf("%s: transient network error", v.name))
	}

	noise := decimal.NewFromFloat(v.randBetween(v.opts.PriceBandLow, v.opts.PriceBandHigh))
	price := BasePrice(tokenIn, tokenOut).Mul(noise)

	return Quote{Venue: v.name, Price: price, Fee: v.opts.Fee}, nil
}

// Execute simulates a swap on this venue: longer latency, occasional
// transient failure, and slight price drift against the quoted price
func (v *Simulated) Execute(ctx context.Context, quoted Quote, tokenIn, tokenOut string, amount decimal.Decimal) (Execution, error) {
	if err := v.sleep(ctx, v.opts.ExecuteDelayMin, v.opts.ExecuteDelayMax); err != nil {
		return Execution{}, err
	}
	if v.roll(v.opts.ExecuteFailureRate) {
		return Execution{}, NewTransientError(fmt.Sprintf("%s: transient rpc error", v.name))
	}

	drift := decimal.NewFromFloat(1 + v.randBetween(-v.opts.ExecutionDriftPct, v.opts.ExecutionDriftPct))
	executedPrice := quoted.Price.Mul(drift)

	return Execution{
		TxHash:        v.mockTxHash(),
		ExecutedPrice: executedPrice,
		Venue:         v.name,
	}, nil
}

func (v *Simulated) sleep(ctx context.Context, min, max time.Duration) error {
	if max <= 0 {
		return nil
	}
	d := min
	if max > min {
		d = min + time.Duration(v.randBetween(0, float64(max-min)))
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (v *Simulated) roll(p float64) bool {
	if p <= 0 {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rng.Float64() < p
}

func (v *Simulated) randBetween(min, max float64) float64 {
	if max <= min {
		return min
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return min + v.rng.Float64()*(max-min)
}

func (v *Simulated) mockTxHash() string {
	v.mu.Lock()
	n := v.rng.Int63()
	v.mu.Unlock()
	return fmt.Sprintf("0x%x%x", n, time.Now().UnixNano())
}
