// Package market provides the quote snapshot the strategy fan-out reads.
// The vendor wire protocol and reconnect handling live behind Source; this
// core only sees the latest quote per symbol plus its staleness.
package market

import (
	"context"

	"marlin/internal/exchange"
)

// Source supplies the latest quotes for a symbol set.
type Source interface {
	GetSnapshot(ctx context.Context, symbols []string) (map[string]exchange.Quote, error)
}
