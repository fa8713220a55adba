// Package risk validates deduplicated signals against capital, exposure and
// margin constraints before any order is placed.
package risk

import (
	"context"
	"fmt"

	"marlin/internal/exchange"
	"marlin/internal/logger"
	"marlin/internal/store"
	"marlin/internal/strategy"
)

// Rejection reasons double as ExecutionRecord reasons, so keep them stable.
const (
	ReasonInsufficientCapital = "insufficient capital"
	ReasonExposureExceeded    = "per-symbol exposure exceeded"
	ReasonDailyLossBreached   = "daily loss limit breached"
	ReasonBelowMinNotional    = "below minimum order notional"
)

// CapitalView is the read-only ledger view the gate checks against.
type CapitalView interface {
	AvailableCapital() float64
	DailyPnL() float64
	PositionNotional(symbol string) float64
}

// InstrumentLookup resolves contract metadata; the gate uses it for the
// broker-reported margin requirement.
type InstrumentLookup interface {
	Lookup(ctx context.Context, exch, symbol string) (exchange.Instrument, bool, error)
}

type Params struct {
	MaxSymbolExposure float64
	DailyLossLimit    float64
	MinOrderNotional  float64
	Exchange          string
	// OnDailyLossBreach tells the orchestrator to pause the session; the
	// rejection itself is handled here.
	OnDailyLossBreach func()
}

// Gate runs the ordered checks and records the decision on the signal's
// pending ExecutionRecord.
type Gate struct {
	params      Params
	capital     CapitalView
	instruments InstrumentLookup
	store       store.Store
}

func New(params Params, capital CapitalView, instruments InstrumentLookup, st store.Store) *Gate {
	return &Gate{params: params, capital: capital, instruments: instruments, store: st}
}

// Evaluate returns (approved, reason, err). A false with empty err is a
// plain rejection; a non-nil err is a validation failure (bad margin
// metadata) that also rejects but deserves the caller's attention.
func (g *Gate) Evaluate(ctx context.Context, sig strategy.Signal) (bool, string, error) {
	approved, reason, err := g.run(ctx, sig)
	outcome := store.OutcomeApproved
	if !approved {
		outcome = store.OutcomeRejected
	}
	if uerr := g.store.UpdateExecutionOutcome(ctx, sig.ID, outcome, reason, ""); uerr != nil {
		logger.Warnf("risk: outcome update failed for %s: %v", sig.ID, uerr)
	}
	return approved, reason, err
}

func (g *Gate) run(ctx context.Context, sig strategy.Signal) (bool, string, error) {
	if sig.Quantity <= 0 || sig.ReferencePrice <= 0 {
		return false, "non-positive quantity or price", nil
	}
	notional := sig.Quantity * sig.ReferencePrice

	// Exits release exposure; only the daily-loss state can block them.
	if sig.Side != exchange.SideExit {
		required, err := g.requiredCapital(ctx, sig, notional)
		if err != nil {
			return false, err.Error(), err
		}
		if required > g.capital.AvailableCapital() {
			return false, ReasonInsufficientCapital, nil
		}
		if g.params.MaxSymbolExposure > 0 {
			resulting := g.capital.PositionNotional(sig.Symbol) + notional
			if resulting > g.params.MaxSymbolExposure {
				return false, ReasonExposureExceeded, nil
			}
		}
	}

	if g.params.DailyLossLimit > 0 && g.capital.DailyPnL() <= -g.params.DailyLossLimit {
		if g.params.OnDailyLossBreach != nil {
			g.params.OnDailyLossBreach()
		}
		return false, ReasonDailyLossBreached, nil
	}

	if sig.Side != exchange.SideExit && g.params.MinOrderNotional > 0 && notional < g.params.MinOrderNotional {
		return false, ReasonBelowMinNotional, nil
	}

	return true, "", nil
}

// requiredCapital applies the instrument's margin fraction when the broker
// publishes one. A structured margin value is rejected with a typed error
// before any comparison happens.
func (g *Gate) requiredCapital(ctx context.Context, sig strategy.Signal, notional float64) (float64, error) {
	if g.instruments == nil {
		return notional, nil
	}
	inst, found, err := g.instruments.Lookup(ctx, g.params.Exchange, sig.Symbol)
	if err != nil {
		// Metadata unavailability is not a veto; full notional applies.
		logger.Warnf("risk: instrument lookup failed for %s, requiring full notional: %v", sig.Symbol, err)
		return notional, nil
	}
	if !found || inst.MarginRequirement == nil {
		return notional, nil
	}
	fraction, err := NormalizeMargin(inst.MarginRequirement)
	if err != nil {
		return 0, fmt.Errorf("margin requirement for %s: %w", sig.Symbol, err)
	}
	if fraction <= 0 || fraction >= 1 {
		return notional, nil
	}
	return notional * fraction, nil
}
