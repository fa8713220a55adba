// Package strategy holds the signal producers and the manager that fans
// market snapshots out to them on every tick.
package strategy

import (
	"context"
	"time"

	"marlin/internal/exchange"
	"marlin/internal/market"
)

// Signal is a strategy's recommendation to trade one symbol. Immutable once
// created; it is consumed and discarded after the pipeline decides on it.
type Signal struct {
	ID             string
	Symbol         string
	Side           exchange.Side
	Quantity       float64
	ReferencePrice float64
	StrategyID     string
	Confidence     float64
	GeneratedAt    time.Time
}

// DedupKey identifies overlapping signals: same symbol, same strategy, same
// direction.
func (s Signal) DedupKey() string {
	return s.Symbol + "|" + s.StrategyID + "|" + string(s.Side)
}

// Strategy is a pure function of (symbol, snapshot, internal state). A nil
// signal means "nothing this tick"; errors count toward auto-disable.
type Strategy interface {
	ID() string

	// Evaluate inspects the snapshot and returns at most one signal. It must
	// be CPU-bound and respect ctx; blocking I/O belongs in collaborators.
	Evaluate(ctx context.Context, symbol string, snap market.Snapshot) (*Signal, error)
}
