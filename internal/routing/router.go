package routing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/venue"
)

// ComparedQuote is one venue's quote with its ranking key, returned for
// auditability alongside the winner
type ComparedQuote struct {
	Venue     string          `json:"dex"`
	Price     decimal.Decimal `json:"price"`
	Fee       decimal.Decimal `json:"fee"`
	Effective decimal.Decimal `json:"effective"`
}

// RouteResult is the outcome of comparing all venues for one order
type RouteResult struct {
	Best     venue.Quote     `json:"best"`
	Compared []ComparedQuote `json:"compared"`
}

// Engine ranks venues by post-fee effective price. Venue order is the
// deterministic tie-break: the earlier venue wins an exact tie.
type Engine struct {
	venues     []venue.Venue
	concurrent bool
	logger     *zap.Logger
}

// NewEngine creates a routing engine over the configured venues. When
// concurrent is true quotes are fetched in parallel; either interleaving
// yields the same selection for the same quotes.
func NewEngine(logger *zap.Logger, venues []venue.Venue, concurrent bool) *Engine {
	return &Engine{
		venues:     venues,
		concurrent: concurrent,
		logger:     logger.Named("routing"),
	}
}

// RouteBest queries every venue for a quote and returns the one with the
// best effective price plus the full comparison set. Any venue failure
// propagates: a transient quote fault must surface to the queue for retry
// rather than degrade to a partial comparison.
func (e *Engine) RouteBest(ctx context.Context, tokenIn, tokenOut string, amount decimal.Decimal) (*RouteResult, error) {
	if len(e.venues) == 0 {
		return nil, fmt.Errorf("no venues configured")
	}

	quotes := make([]venue.Quote, len(e.venues))

	if e.concurrent {
		g, gctx := errgroup.WithContext(ctx)
		for i, v := range e.venues {
			g.Go(func() error {
				q, err := v.Quote(gctx, tokenIn, tokenOut, amount)
				if err != nil {
					return fmt.Errorf("quote from %s failed: %w", v.Name(), err)
				}
				quotes[i] = q
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, v := range e.venues {
			q, err := v.Quote(ctx, tokenIn, tokenOut, amount)
			if err != nil {
				return nil, fmt.Errorf("quote from %s failed: %w", v.Name(), err)
			}
			quotes[i] = q
		}
	}

	compared := make([]ComparedQuote, len(quotes))
	bestIdx := 0
	for i, q := range quotes {
		eff := EffectivePrice(q)
		compared[i] = ComparedQuote{
			Venue:     q.Venue,
			Price:     q.Price,
			Fee:       q.Fee,
			Effective: eff,
		}
		if i > 0 && eff.GreaterThan(compared[bestIdx].Effective) {
			bestIdx = i
		}
	}

	e.logger.Debug("route selected",
		zap.String("token_in", tokenIn),
		zap.String("token_out", tokenOut),
		zap.String("venue", quotes[bestIdx].Venue),
		zap.String("effective", compared[bestIdx].Effective.String()))

	return &RouteResult{Best: quotes[bestIdx], Compared: compared}, nil
}

// VenueByName returns the configured venue with the given name
func (e *Engine) VenueByName(name string) (venue.Venue, bool) {
	for _, v := range e.venues {
		if v.Name() == name {
			return v, true
		}
	}
	return nil, false
}
