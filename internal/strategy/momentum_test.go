package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/exchange"
	"marlin/internal/market"
)

func snapshotAt(symbol string, price float64) market.Snapshot {
	return market.Snapshot{
		Quotes: map[string]exchange.Quote{
			symbol: {Symbol: symbol, LTP: price, Timestamp: time.Now()},
		},
		TakenAt: time.Now(),
	}
}

// feed drives one price per tick through the strategy, returning the last
// produced signal.
func feed(t *testing.T, st Strategy, symbol string, prices []float64) *Signal {
	t.Helper()
	var last *Signal
	for _, price := range prices {
		sig, err := st.Evaluate(context.Background(), symbol, snapshotAt(symbol, price))
		require.NoError(t, err)
		if sig != nil {
			last = sig
		}
	}
	return last
}

func decliningPrices(start float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start - float64(i)*2
	}
	return out
}

func risingPrices(start float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*2
	}
	return out
}

func TestMomentumBuysOversold(t *testing.T) {
	st := NewMomentum(MomentumConfig{ID: "rsi", Period: 14, Oversold: 30, Overbought: 70, Quantity: 2})

	sig := feed(t, st, "BTCUSDT", decliningPrices(200, 20))

	require.NotNil(t, sig, "a steady decline must push RSI under 30")
	assert.Equal(t, exchange.SideBuy, sig.Side)
	assert.Equal(t, "rsi", sig.StrategyID)
	assert.Equal(t, "BTCUSDT", sig.Symbol)
	assert.InDelta(t, 2, sig.Quantity, 1e-9)
	assert.NotEmpty(t, sig.ID)
	assert.Greater(t, sig.ReferencePrice, 0.0)
	assert.GreaterOrEqual(t, sig.Confidence, 0.0)
	assert.LessOrEqual(t, sig.Confidence, 1.0)
}

func TestMomentumExitsOverbought(t *testing.T) {
	st := NewMomentum(MomentumConfig{ID: "rsi", Period: 14})

	sig := feed(t, st, "BTCUSDT", risingPrices(100, 20))

	require.NotNil(t, sig)
	assert.Equal(t, exchange.SideExit, sig.Side)
}

func TestMomentumSilentUntilWindowFills(t *testing.T) {
	st := NewMomentum(MomentumConfig{ID: "rsi", Period: 14})

	sig := feed(t, st, "BTCUSDT", decliningPrices(200, 10))
	assert.Nil(t, sig, "fewer prices than the period must produce nothing")
}

func TestMeanReversionBuysBelowLowerBand(t *testing.T) {
	st := NewMeanReversion(MeanRevConfig{ID: "bands", Period: 10, BandWidth: 2, Quantity: 1})

	// A flat series then a sharp drop below the lower band.
	prices := make([]float64, 0, 16)
	for i := 0; i < 15; i++ {
		prices = append(prices, 100+float64(i%2)) // mild noise for nonzero stddev
	}
	prices = append(prices, 80)

	sig := feed(t, st, "ETHUSDT", prices)
	require.NotNil(t, sig)
	assert.Equal(t, exchange.SideBuy, sig.Side)
}

func TestMeanReversionSellsAboveUpperBand(t *testing.T) {
	st := NewMeanReversion(MeanRevConfig{ID: "bands", Period: 10, BandWidth: 2})

	prices := make([]float64, 0, 16)
	for i := 0; i < 15; i++ {
		prices = append(prices, 100+float64(i%2))
	}
	prices = append(prices, 120)

	sig := feed(t, st, "ETHUSDT", prices)
	require.NotNil(t, sig)
	assert.Equal(t, exchange.SideSell, sig.Side)
}

func TestStrategiesTrackSymbolsIndependently(t *testing.T) {
	st := NewMomentum(MomentumConfig{ID: "rsi", Period: 14})

	feed(t, st, "BTCUSDT", decliningPrices(200, 20))
	// A different symbol starts with an empty window.
	sig, err := st.Evaluate(context.Background(), "ETHUSDT", snapshotAt("ETHUSDT", 100))
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestEvaluateFailsWithoutQuote(t *testing.T) {
	st := NewMomentum(MomentumConfig{ID: "rsi"})
	_, err := st.Evaluate(context.Background(), "MISSING", snapshotAt("BTCUSDT", 100))
	assert.Error(t, err)
}
