// Package sim provides an in-process broker and market source. It is the
// default driver for local runs and the deterministic backend for tests.
package sim

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"marlin/internal/exchange"
)

// Broker fills every well-formed order instantly at its limit price and
// tracks the resulting positions in memory.
type Broker struct {
	mu          sync.Mutex
	positions   map[string]*exchange.BrokerPosition
	instruments []exchange.Instrument
	orderSeq    int64
	seen        map[string]exchange.OrderResult

	// FailNext, when set, makes the next PlaceOrder calls return the given
	// error before any state changes. Tests use it to script failures.
	FailNext []error
}

func NewBroker(instruments []exchange.Instrument) *Broker {
	return &Broker{
		positions:   make(map[string]*exchange.BrokerPosition),
		instruments: instruments,
		seen:        make(map[string]exchange.OrderResult),
	}
}

func (b *Broker) Name() string { return "sim" }

func (b *Broker) PlaceOrder(_ context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.FailNext) > 0 {
		err := b.FailNext[0]
		b.FailNext = b.FailNext[1:]
		if err != nil {
			return nil, err
		}
	}
	// Duplicate client order IDs return the original acknowledgement, the
	// same way a real broker treats an idempotency key.
	if prev, dup := b.seen[req.OrderID]; dup {
		return &prev, nil
	}
	if req.Quantity <= 0 {
		return nil, exchange.NewOrderError(exchange.CodeRejected, "quantity must be positive")
	}
	price := req.LimitPrice
	if price <= 0 {
		return nil, exchange.NewOrderError(exchange.CodeRejected, "limit price required")
	}

	signed := req.Quantity
	if req.Side == exchange.SideSell {
		signed = -signed
	}
	pos, held := b.positions[req.Symbol]
	if !held {
		pos = &exchange.BrokerPosition{Symbol: req.Symbol}
		b.positions[req.Symbol] = pos
	}
	next := pos.Quantity + signed
	if sameSign(pos.Quantity, signed) {
		total := math.Abs(pos.Quantity) + math.Abs(signed)
		pos.AveragePrice = (pos.AveragePrice*math.Abs(pos.Quantity) + price*math.Abs(signed)) / total
	} else if sameSign(next, signed) {
		pos.AveragePrice = price
	}
	pos.Quantity = next
	if pos.Quantity == 0 {
		delete(b.positions, req.Symbol)
	}

	b.orderSeq++
	result := exchange.OrderResult{
		BrokerOrderID: req.OrderID,
		Status:        "FILLED",
		FillPrice:     price,
		FilledAt:      time.Now(),
	}
	b.seen[req.OrderID] = result
	return &result, nil
}

func (b *Broker) GetPositions(context.Context) ([]exchange.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]exchange.BrokerPosition, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out, nil
}

func (b *Broker) GetInstruments(context.Context, string) ([]exchange.Instrument, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]exchange.Instrument(nil), b.instruments...), nil
}

func (b *Broker) Health(context.Context) error { return nil }

// SetPosition overwrites the broker-side position for a symbol. The
// reconciler tests drive divergence scenarios through it.
func (b *Broker) SetPosition(symbol string, quantity, avgPrice float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if quantity == 0 {
		delete(b.positions, symbol)
		return
	}
	b.positions[symbol] = &exchange.BrokerPosition{
		Symbol: symbol, Quantity: quantity, AveragePrice: avgPrice,
	}
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

// Source generates a bounded random walk around each symbol's seed price.
type Source struct {
	mu     sync.Mutex
	prices map[string]float64
	rng    *rand.Rand
}

func NewSource(seedPrices map[string]float64) *Source {
	prices := make(map[string]float64, len(seedPrices))
	for sym, px := range seedPrices {
		prices[sym] = px
	}
	return &Source{
		prices: prices,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Source) GetSnapshot(_ context.Context, symbols []string) (map[string]exchange.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	quotes := make(map[string]exchange.Quote, len(symbols))
	for _, sym := range symbols {
		px, known := s.prices[sym]
		if !known {
			px = 100
		}
		px *= 1 + (s.rng.Float64()-0.5)*0.004
		s.prices[sym] = px
		quotes[sym] = exchange.Quote{
			Symbol:    sym,
			LTP:       px,
			Volume:    1000 + s.rng.Float64()*1000,
			Timestamp: now,
		}
	}
	return quotes, nil
}
