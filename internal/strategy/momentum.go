package strategy

import (
	"context"
	"fmt"
	"time"

	"marlin/internal/exchange"
	"marlin/internal/market"

	"github.com/google/uuid"
	talib "github.com/markcheno/go-talib"
)

// MomentumConfig controls the RSI momentum strategy.
type MomentumConfig struct {
	ID         string
	Period     int
	Overbought float64
	Oversold   float64
	Quantity   float64
	WindowMax  int
}

// Momentum buys RSI exhaustion on the downside and exits into overbought
// readings. It accumulates its own price window from tick snapshots.
type Momentum struct {
	id         string
	period     int
	overbought float64
	oversold   float64
	quantity   float64
	window     *priceWindow
}

func NewMomentum(cfg MomentumConfig) *Momentum {
	if cfg.Period <= 0 {
		cfg.Period = 14
	}
	if cfg.Overbought <= 0 {
		cfg.Overbought = 70
	}
	if cfg.Oversold <= 0 {
		cfg.Oversold = 30
	}
	if cfg.Quantity <= 0 {
		cfg.Quantity = 1
	}
	id := cfg.ID
	if id == "" {
		id = "momentum_rsi"
	}
	return &Momentum{
		id:         id,
		period:     cfg.Period,
		overbought: cfg.Overbought,
		oversold:   cfg.Oversold,
		quantity:   cfg.Quantity,
		window:     newPriceWindow(cfg.WindowMax),
	}
}

func (m *Momentum) ID() string { return m.id }

func (m *Momentum) Evaluate(ctx context.Context, symbol string, snap market.Snapshot) (*Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	quote, ok := snap.Quote(symbol)
	if !ok {
		return nil, fmt.Errorf("momentum: no quote for %s", symbol)
	}
	series := m.window.push(symbol, quote.LTP)
	if len(series) < m.period+1 {
		return nil, nil
	}
	rsi := talib.Rsi(series, m.period)
	if len(rsi) == 0 {
		return nil, fmt.Errorf("momentum: empty rsi output for %s", symbol)
	}
	val := rsi[len(rsi)-1]

	var side exchange.Side
	var confidence float64
	switch {
	case val <= m.oversold:
		side = exchange.SideBuy
		confidence = (m.oversold - val) / m.oversold
	case val >= m.overbought:
		side = exchange.SideExit
		confidence = (val - m.overbought) / (100 - m.overbought)
	default:
		return nil, nil
	}

	return &Signal{
		ID:             uuid.NewString(),
		Symbol:         symbol,
		Side:           side,
		Quantity:       m.quantity,
		ReferencePrice: quote.LTP,
		StrategyID:     m.id,
		Confidence:     clamp01(confidence),
		GeneratedAt:    time.Now(),
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
