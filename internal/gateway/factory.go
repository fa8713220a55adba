// Package gateway builds broker and market-source backends from config.
package gateway

import (
	"fmt"
	"time"

	"marlin/internal/config"
	"marlin/internal/exchange"
	"marlin/internal/gateway/binance"
	"marlin/internal/gateway/sim"
	"marlin/internal/market"
)

// Build returns the broker and market source for the configured driver.
func Build(cfg config.BrokerConfig, symbols []string) (exchange.Broker, market.Source, error) {
	switch cfg.Driver {
	case "binance":
		bcfg := binance.Config{
			APIKey:      cfg.APIKey,
			APISecret:   cfg.APISecret,
			RESTBaseURL: cfg.RESTBaseURL,
			HTTPTimeout: time.Duration(cfg.TimeoutSec) * time.Second,
		}
		return binance.NewBroker(bcfg), binance.NewSource(bcfg), nil
	case "sim":
		instruments := make([]exchange.Instrument, 0, len(symbols))
		seeds := make(map[string]float64, len(symbols))
		for _, sym := range symbols {
			instruments = append(instruments, exchange.Instrument{
				Symbol:            sym,
				Exchange:          cfg.Exchange,
				TickSize:          0.05,
				LotSize:           1,
				MarginRequirement: 0.2,
			})
			seeds[sym] = 100
		}
		return sim.NewBroker(instruments), sim.NewSource(seeds), nil
	default:
		return nil, nil, fmt.Errorf("unknown broker driver %q", cfg.Driver)
	}
}
