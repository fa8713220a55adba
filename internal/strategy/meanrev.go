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

// MeanRevConfig controls the Bollinger mean-reversion strategy.
type MeanRevConfig struct {
	ID        string
	Period    int
	BandWidth float64 // standard deviations
	Quantity  float64
	WindowMax int
}

// MeanReversion fades moves outside the Bollinger bands: buy under the lower
// band, sell above the upper band.
type MeanReversion struct {
	id        string
	period    int
	bandWidth float64
	quantity  float64
	window    *priceWindow
}

func NewMeanReversion(cfg MeanRevConfig) *MeanReversion {
	if cfg.Period <= 0 {
		cfg.Period = 20
	}
	if cfg.BandWidth <= 0 {
		cfg.BandWidth = 2
	}
	if cfg.Quantity <= 0 {
		cfg.Quantity = 1
	}
	id := cfg.ID
	if id == "" {
		id = "mean_reversion"
	}
	return &MeanReversion{
		id:        id,
		period:    cfg.Period,
		bandWidth: cfg.BandWidth,
		quantity:  cfg.Quantity,
		window:    newPriceWindow(cfg.WindowMax),
	}
}

func (m *MeanReversion) ID() string { return m.id }

func (m *MeanReversion) Evaluate(ctx context.Context, symbol string, snap market.Snapshot) (*Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	quote, ok := snap.Quote(symbol)
	if !ok {
		return nil, fmt.Errorf("meanrev: no quote for %s", symbol)
	}
	series := m.window.push(symbol, quote.LTP)
	if len(series) < m.period+1 {
		return nil, nil
	}
	upper, _, lower := talib.BBands(series, m.period, m.bandWidth, m.bandWidth, talib.SMA)
	if len(upper) == 0 {
		return nil, fmt.Errorf("meanrev: empty bbands output for %s", symbol)
	}
	last := len(upper) - 1
	price := quote.LTP

	var side exchange.Side
	var confidence float64
	width := upper[last] - lower[last]
	switch {
	case width <= 0:
		return nil, nil
	case price < lower[last]:
		side = exchange.SideBuy
		confidence = (lower[last] - price) / width
	case price > upper[last]:
		side = exchange.SideSell
		confidence = (price - upper[last]) / width
	default:
		return nil, nil
	}

	return &Signal{
		ID:             uuid.NewString(),
		Symbol:         symbol,
		Side:           side,
		Quantity:       m.quantity,
		ReferencePrice: price,
		StrategyID:     m.id,
		Confidence:     clamp01(confidence),
		GeneratedAt:    time.Now(),
	}, nil
}
