// Package execution turns approved signals into broker orders and owns the
// retry, idempotency and reconciliation discipline around them.
package execution

import (
	"context"
	"fmt"
	"math"
	"time"

	"marlin/internal/exchange"
	"marlin/internal/ledger"
	"marlin/internal/logger"
	"marlin/internal/pkg/circuit"
	"marlin/internal/store"
	"marlin/internal/store/journal"
	"marlin/internal/strategy"
)

// ClaimResolver lets the engine report final outcomes back to the
// deduplicator so rejected/failed keys free up immediately.
type ClaimResolver interface {
	Resolve(sig strategy.Signal, outcome store.Outcome)
}

type PositionSizer interface {
	// PositionQuantity returns the signed open quantity for symbol; the
	// engine sizes EXIT orders from it.
	PositionQuantity(symbol string) float64
}

type Params struct {
	Exchange      string
	BrokerTimeout time.Duration
	Retry         RetryPolicy
}

// Engine submits orders with a stable idempotency key (the signal ID) and
// guarantees a position is recorded if and only if the broker confirmed the
// order.
type Engine struct {
	params      Params
	broker      exchange.Broker
	breaker     *circuit.Breaker
	instruments *exchange.InstrumentCache
	ledger      *ledger.Ledger
	store       store.Store
	journal     *journal.Journal
	claims      ClaimResolver
	sizer       PositionSizer
}

func NewEngine(params Params, broker exchange.Broker, breaker *circuit.Breaker,
	instruments *exchange.InstrumentCache, led *ledger.Ledger, st store.Store,
	jnl *journal.Journal, claims ClaimResolver) *Engine {
	if params.BrokerTimeout <= 0 {
		params.BrokerTimeout = 10 * time.Second
	}
	return &Engine{
		params:      params,
		broker:      broker,
		breaker:     breaker,
		instruments: instruments,
		ledger:      led,
		store:       st,
		journal:     jnl,
		claims:      claims,
		sizer:       led,
	}
}

// Execute places the order for an approved signal. ctx gates the retry
// loop: cancellation stops new attempts but an attempt already on the wire
// runs to completion on its own timeout and its outcome is still recorded.
func (e *Engine) Execute(ctx context.Context, sig strategy.Signal) (exchange.OrderResult, error) {
	req, skipReason, err := e.buildRequest(ctx, sig)
	if err != nil {
		e.finish(sig, store.OutcomeFailed, err.Error(), "")
		return exchange.OrderResult{}, err
	}
	if skipReason != "" {
		e.finish(sig, store.OutcomeRejected, skipReason, "")
		return exchange.OrderResult{}, nil
	}

	result, err := e.submit(ctx, req)
	if err != nil {
		e.finish(sig, store.OutcomeFailed, err.Error(), "")
		e.journalEvent(ctx, "order_failed", map[string]any{
			"signal_id": sig.ID, "symbol": req.Symbol, "side": string(req.Side), "error": err.Error(),
		})
		// The phantom-position guard: no ledger mutation on any failure path.
		return exchange.OrderResult{}, err
	}

	e.finish(sig, store.OutcomeExecuted, "", result.BrokerOrderID)
	e.journalEvent(ctx, "order_executed", map[string]any{
		"signal_id": sig.ID, "order_id": result.BrokerOrderID,
		"symbol": req.Symbol, "side": string(req.Side),
		"quantity": req.Quantity, "price": result.FillPrice,
	})

	fill := ledger.Fill{
		OrderID:  req.OrderID,
		SignalID: sig.ID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    result.FillPrice,
		FilledAt: result.FilledAt,
	}
	if fill.Price <= 0 {
		fill.Price = sig.ReferencePrice
	}
	if err := e.ledger.ApplyFill(context.Background(), fill); err != nil {
		// The order is live at the broker; surface the ledger failure loudly
		// instead of pretending the trade did not happen.
		logger.Errorf("execution: ledger apply failed for confirmed order %s: %v", req.OrderID, err)
		return *result, err
	}
	return *result, nil
}

// buildRequest resolves EXIT into a concrete opposite-side order and rounds
// the limit price to the instrument tick size when metadata is available.
func (e *Engine) buildRequest(ctx context.Context, sig strategy.Signal) (exchange.OrderRequest, string, error) {
	req := exchange.OrderRequest{
		OrderID:   sig.ID, // idempotency key, never regenerated on retry
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		Quantity:  sig.Quantity,
		OrderType: "LIMIT",
	}
	if sig.Side == exchange.SideExit {
		open := e.sizer.PositionQuantity(sig.Symbol)
		switch {
		case open > 0:
			req.Side = exchange.SideSell
		case open < 0:
			req.Side = exchange.SideBuy
		default:
			return req, "no open position to exit", nil
		}
		req.Quantity = math.Abs(open)
	}
	req.LimitPrice = e.limitPrice(ctx, sig)
	if req.LimitPrice <= 0 {
		return req, "", fmt.Errorf("no usable reference price for %s", sig.Symbol)
	}
	return req, "", nil
}

// limitPrice rounds to the tick size from instrument metadata. Missing
// metadata means the reference price goes out unrounded; the engine never
// invents an interval.
func (e *Engine) limitPrice(ctx context.Context, sig strategy.Signal) float64 {
	price := sig.ReferencePrice
	if e.instruments == nil {
		return price
	}
	inst, found, err := e.instruments.Lookup(ctx, e.params.Exchange, sig.Symbol)
	if err != nil || !found || inst.TickSize <= 0 {
		if err != nil {
			logger.Warnf("execution: instrument lookup failed for %s: %v", sig.Symbol, err)
		}
		return price
	}
	return math.Round(price/inst.TickSize) * inst.TickSize
}

// submit runs the bounded retry loop. Each attempt gets its own detached
// timeout so a session stop cannot cancel an order already on the wire.
func (e *Engine) submit(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	var lastErr error
	for attempt := 0; attempt < e.params.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.params.Retry.Wait(ctx, attempt-1); err != nil {
				return nil, fmt.Errorf("retry loop cancelled after %d attempts: %w", attempt, lastErr)
			}
		}
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("retry loop cancelled: %w", lastErr)
			}
			return nil, err
		}
		if e.breaker != nil && !e.breaker.Allow() {
			lastErr = exchange.NewOrderError(exchange.CodeUnavailable, "broker circuit open")
			continue
		}

		callCtx, cancel := context.WithTimeout(context.Background(), e.params.BrokerTimeout)
		result, err := e.broker.PlaceOrder(callCtx, req)
		cancel()
		if err == nil {
			if e.breaker != nil {
				e.breaker.RecordSuccess()
			}
			return result, nil
		}
		if e.breaker != nil {
			e.breaker.RecordFailure()
		}
		lastErr = err
		if !exchange.IsTransient(err) {
			return nil, err
		}
		logger.Warnf("execution: transient broker failure order=%s attempt=%d/%d: %v",
			req.OrderID, attempt+1, e.params.Retry.MaxAttempts, err)
	}
	return nil, fmt.Errorf("retries exhausted (%d attempts): %w", e.params.Retry.MaxAttempts, lastErr)
}

func (e *Engine) finish(sig strategy.Signal, outcome store.Outcome, reason, orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.UpdateExecutionOutcome(ctx, sig.ID, outcome, reason, orderID); err != nil {
		logger.Warnf("execution: outcome update failed signal=%s: %v", sig.ID, err)
	}
	if e.claims != nil {
		e.claims.Resolve(sig, outcome)
	}
}

func (e *Engine) journalEvent(ctx context.Context, kind string, payload map[string]any) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(ctx, kind, payload); err != nil {
		logger.Warnf("execution: journal append failed (%s): %v", kind, err)
	}
}
