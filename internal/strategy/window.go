package strategy

// priceWindow is a bounded per-symbol price history a strategy accumulates
// across ticks. Strategies are invoked serially within their own goroutine,
// so no locking is needed here.
type priceWindow struct {
	max    int
	prices map[string][]float64
}

func newPriceWindow(max int) *priceWindow {
	if max <= 0 {
		max = 200
	}
	return &priceWindow{max: max, prices: make(map[string][]float64)}
}

// push appends the latest price and returns the current series.
func (w *priceWindow) push(symbol string, price float64) []float64 {
	series := append(w.prices[symbol], price)
	if len(series) > w.max {
		series = series[len(series)-w.max:]
	}
	w.prices[symbol] = series
	return series
}
