// Package ledger is the single writer over positions and capital. All
// mutations flow through one goroutine; readers get immutable snapshots.
package ledger

import (
	"errors"
	"time"

	"marlin/internal/exchange"

	"github.com/shopspring/decimal"
)

var (
	// ErrCapitalImbalance means allocated+available no longer equals total.
	// It is fatal to the session.
	ErrCapitalImbalance = errors.New("capital accounting imbalance")
	// ErrHalted is returned for mutations after an invariant violation.
	ErrHalted = errors.New("ledger halted after invariant violation")
	// ErrInvalidFill rejects malformed fills before they touch state.
	ErrInvalidFill = errors.New("invalid fill")
)

// Fill is a broker-confirmed execution. The ledger applies each order ID at
// most once.
type Fill struct {
	OrderID  string
	SignalID string
	Symbol   string
	Side     exchange.Side // BUY or SELL only at this level
	Quantity float64
	Price    float64
	FilledAt time.Time
}

// Position is one open row per symbol. Quantity is signed: negative = short.
type Position struct {
	Symbol        string
	Quantity      decimal.Decimal
	AveragePrice  decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	OpenedAt      time.Time
	LastUpdatedAt time.Time
}

// Notional is |quantity| * average price.
func (p Position) Notional() decimal.Decimal {
	return p.Quantity.Abs().Mul(p.AveragePrice)
}

// CapitalState is the session's money. Invariant after every mutation:
// Allocated + Available == Total.
type CapitalState struct {
	TotalCapital     decimal.Decimal
	AvailableCapital decimal.Decimal
	AllocatedCapital decimal.Decimal
	DailyPnL         decimal.Decimal
	DailyLossLimit   decimal.Decimal
}

func (c CapitalState) balanced() bool {
	return c.AllocatedCapital.Add(c.AvailableCapital).Equal(c.TotalCapital)
}

// Snapshot is the immutable read view published after every mutation.
type Snapshot struct {
	Positions map[string]Position
	Capital   CapitalState
	FillCount int
	TakenAt   time.Time
}
