package binance

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"marlin/internal/exchange"
)

// Source serves market snapshots from the 24h ticker endpoint. One request
// per snapshot covers every symbol, which keeps the tick loop inside rate
// limits.
type Source struct {
	cfg    Config
	client *futures.Client
}

func NewSource(cfg Config) *Source {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(final.RESTBaseURL); base != "" {
		client.BaseURL = base
	}
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{cfg: final, client: client}
}

func (s *Source) GetSnapshot(ctx context.Context, symbols []string) (map[string]exchange.Quote, error) {
	stats, err := s.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, classifyError(err)
	}
	wanted := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		wanted[sym] = true
	}
	quotes := make(map[string]exchange.Quote, len(symbols))
	for _, st := range stats {
		if !wanted[st.Symbol] {
			continue
		}
		last, perr := strconv.ParseFloat(st.LastPrice, 64)
		if perr != nil {
			continue
		}
		volume, _ := strconv.ParseFloat(st.Volume, 64)
		change, _ := strconv.ParseFloat(st.PriceChangePercent, 64)
		ts := time.Now()
		if st.CloseTime > 0 {
			ts = time.UnixMilli(st.CloseTime)
		}
		quotes[st.Symbol] = exchange.Quote{
			Symbol:        st.Symbol,
			LTP:           last,
			Volume:        volume,
			ChangePercent: change,
			Timestamp:     ts,
		}
	}
	return quotes, nil
}
