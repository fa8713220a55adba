// Package exchange defines the abstraction over the broker collaborator.
// This allows the pipeline to work with different broker backends (Binance,
// a simulated broker in tests) without changing the execution logic.
package exchange

import "time"

// Side is the direction of a signal or order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideExit Side = "EXIT"
)

// Quote is the latest market snapshot entry for one symbol.
type Quote struct {
	Symbol        string
	LTP           float64 // last traded price
	Volume        float64
	ChangePercent float64
	Timestamp     time.Time
}

// Age returns how stale the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	if q.Timestamp.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(q.Timestamp)
}

// OrderRequest is owned by the execution engine until the broker acknowledges
// it. OrderID doubles as the idempotency key and never changes across retries.
type OrderRequest struct {
	OrderID    string
	Symbol     string
	Side       Side
	Quantity   float64
	OrderType  string // "MARKET" or "LIMIT"
	LimitPrice float64
}

// OrderResult is the broker acknowledgement for a placed order.
type OrderResult struct {
	BrokerOrderID string
	Status        string // "FILLED", "ACCEPTED"
	FillPrice     float64
	FilledAt      time.Time
}

// BrokerPosition is the broker's authoritative view of one position, used by
// the reconciler.
type BrokerPosition struct {
	Symbol       string
	Quantity     float64 // signed: negative means short
	AveragePrice float64
}

// Instrument carries tradable contract metadata. Tick size and strike
// interval always come from here, never from a hardcoded heuristic.
type Instrument struct {
	Symbol         string
	Exchange       string
	TickSize       float64
	LotSize        float64
	StrikeInterval float64
	Expiry         time.Time
	// MarginRequirement is broker-supplied and loosely typed on the wire;
	// the risk gate normalizes it before any comparison.
	MarginRequirement any
}
