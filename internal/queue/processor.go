package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/notify"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/orders"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/routing"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/internal/venue"
	"github.com/mrid07/OrderExecutionEngine-EternaLabsAssignment/pkg/metrics"
)

// Processor runs one order through routing, submission and settlement.
// A non-nil return is always a transient fault the queue may retry;
// permanent failures are written to the store as terminal status and
// reported as success to the queue.
type Processor struct {
	store  orders.Store
	bus    *notify.Bus
	router *routing.Engine
	logger *zap.Logger
}

// NewProcessor wires the pipeline dependencies
func NewProcessor(logger *zap.Logger, store orders.Store, bus *notify.Bus, router *routing.Engine) *Processor {
	return &Processor{
		store:  store,
		bus:    bus,
		router: router,
		logger: logger.Named("processor"),
	}
}

// Process executes the full pipeline for a claimed job. A panic anywhere
// in the pipeline marks the order failed rather than crashing the worker.
func (p *Processor) Process(ctx context.Context, job *Job) (err error) {
	log := p.logger.With(
		zap.String("order_id", job.OrderID.String()),
		zap.Int("attempt", job.Attempt))

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing order", zap.Any("panic", r))
			p.ForceFail(ctx, job.OrderID, "internal error")
			err = nil
		}
	}()

	ord, err := p.store.Get(ctx, job.OrderID)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			log.Warn("job references unknown order, dropping")
			return nil
		}
		return venue.NewTransientError(fmt.Sprintf("load order: %v", err))
	}
	if ord.Status.IsTerminal() {
		log.Debug("order already terminal, dropping job", zap.String("status", string(ord.Status)))
		return nil
	}

	if err := p.emit(ctx, job.OrderID, orders.StatusRouting, orders.RoutingPayload{}); err != nil {
		return err
	}

	route, err := p.router.RouteBest(ctx, job.TokenIn, job.TokenOut, job.Amount)
	if err != nil {
		if venue.IsTransient(err) {
			log.Warn("routing failed, retryable", zap.Error(err))
			return err
		}
		p.fail(ctx, job.OrderID, err.Error(), "")
		return nil
	}
	best := route.Best

	compared := make([]orders.QuotePayload, len(route.Compared))
	for i, c := range route.Compared {
		compared[i] = orders.QuotePayload{Venue: c.Venue, Price: c.Price, Fee: c.Fee, Effective: c.Effective}
	}
	bestQuote := orders.QuotePayload{
		Venue:     best.Venue,
		Price:     best.Price,
		Fee:       best.Fee,
		Effective: routing.EffectivePrice(best),
	}
	building := orders.BuildingPayload{Venue: best.Venue, Quote: bestQuote, Compared: compared}
	if err := p.emit(ctx, job.OrderID, orders.StatusBuilding, building); err != nil {
		return err
	}

	quotedOut := routing.QuotedOut(job.Amount, best)
	minOut := routing.MinOutWithSlippage(quotedOut, job.SlippageBps)

	submitted := orders.SubmittedPayload{
		Venue:        best.Venue,
		MinOutFactor: routing.MinOutFactor(job.SlippageBps),
	}
	if err := p.emit(ctx, job.OrderID, orders.StatusSubmitted, submitted); err != nil {
		return err
	}

	v, ok := p.router.VenueByName(best.Venue)
	if !ok {
		p.fail(ctx, job.OrderID, fmt.Sprintf("selected venue %s is not configured", best.Venue), best.Venue)
		return nil
	}

	exec, err := v.Execute(ctx, best, job.TokenIn, job.TokenOut, job.Amount)
	if err != nil {
		if venue.IsTransient(err) {
			log.Warn("execution failed, retryable", zap.String("venue", best.Venue), zap.Error(err))
			return err
		}
		p.fail(ctx, job.OrderID, err.Error(), best.Venue)
		return nil
	}

	executedOut := routing.ExecutedOut(job.Amount, exec.ExecutedPrice, best.Fee)
	if executedOut.LessThan(minOut) {
		metrics.SlippageRejections.Inc()
		reason := fmt.Sprintf("slippage tolerance exceeded: minimum out %s, executed out %s",
			minOut.String(), executedOut.String())
		log.Info("execution rejected by slippage guard",
			zap.String("venue", best.Venue),
			zap.String("min_out", minOut.String()),
			zap.String("executed_out", executedOut.String()))
		p.fail(ctx, job.OrderID, reason, best.Venue)
		return nil
	}

	confirmed := orders.ConfirmedPayload{
		TxHash:        exec.TxHash,
		ExecutedPrice: exec.ExecutedPrice,
		Venue:         exec.Venue,
		AmountOut:     executedOut,
	}
	if err := p.emit(ctx, job.OrderID, orders.StatusConfirmed, confirmed); err != nil {
		return err
	}
	metrics.OrdersTerminal.WithLabelValues(string(orders.StatusConfirmed)).Inc()

	log.Info("order confirmed",
		zap.String("venue", exec.Venue),
		zap.String("tx_hash", exec.TxHash),
		zap.String("amount_out", executedOut.String()))
	return nil
}

// ForceFail moves an order to failed regardless of pipeline position.
// Used when retries are exhausted or the pipeline panicked; a no-op for
// orders that already reached a terminal status.
func (p *Processor) ForceFail(ctx context.Context, orderID uuid.UUID, reason string) {
	p.fail(ctx, orderID, reason, "")
}

// fail writes the terminal failed status and publishes it
func (p *Processor) fail(ctx context.Context, orderID uuid.UUID, reason, venueName string) {
	payload := orders.FailedPayload{Error: reason, Venue: venueName}
	if err := p.emit(ctx, orderID, orders.StatusFailed, payload); err != nil {
		p.logger.Error("failed to record order failure",
			zap.String("order_id", orderID.String()),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	metrics.OrdersTerminal.WithLabelValues(string(orders.StatusFailed)).Inc()
}

// emit appends a status event and publishes it to subscribers. Stale
// re-announcements from retried attempts produce no event and no publish;
// transitions on already-terminal orders are dropped the same way.
func (p *Processor) emit(ctx context.Context, orderID uuid.UUID, next orders.Status, payload any) error {
	event, err := p.store.Transition(ctx, orderID, next, payload)
	if err != nil {
		if errors.Is(err, orders.ErrTerminalState) {
			return nil
		}
		return venue.NewTransientError(fmt.Sprintf("record %s status: %v", next, err))
	}
	if event == nil {
		return nil
	}
	p.bus.Publish(orderID, *event)
	if next.IsTerminal() {
		p.bus.Clear(orderID)
	}
	return nil
}
