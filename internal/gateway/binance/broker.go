// Package binance adapts the go-binance futures client to the broker and
// market source interfaces the pipeline consumes.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"marlin/internal/exchange"
)

// Broker places futures orders through the Binance REST API.
type Broker struct {
	cfg    Config
	client *futures.Client
}

func NewBroker(cfg Config) *Broker {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	if base := strings.TrimSpace(final.RESTBaseURL); base != "" {
		client.BaseURL = base
	}
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Broker{cfg: final, client: client}
}

func (b *Broker) Name() string { return "binance" }

func (b *Broker) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	side := futures.SideTypeBuy
	if req.Side == exchange.SideSell {
		side = futures.SideTypeSell
	}
	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		NewClientOrderID(req.OrderID).
		Quantity(formatQuantity(req.Quantity))
	if req.OrderType == "LIMIT" {
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(formatQuantity(req.LimitPrice))
	} else {
		svc = svc.Type(futures.OrderTypeMarket)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, classifyError(err)
	}

	result := &exchange.OrderResult{
		BrokerOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:        string(resp.Status),
		FilledAt:      time.Now(),
	}
	if px, perr := strconv.ParseFloat(resp.AvgPrice, 64); perr == nil && px > 0 {
		result.FillPrice = px
	} else if px, perr := strconv.ParseFloat(resp.Price, 64); perr == nil {
		result.FillPrice = px
	}
	if resp.UpdateTime > 0 {
		result.FilledAt = time.UnixMilli(resp.UpdateTime)
	}
	return result, nil
}

func (b *Broker) GetPositions(ctx context.Context) ([]exchange.BrokerPosition, error) {
	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, classifyError(err)
	}
	positions := make([]exchange.BrokerPosition, 0, len(risks))
	for _, r := range risks {
		qty, perr := strconv.ParseFloat(r.PositionAmt, 64)
		if perr != nil || qty == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		positions = append(positions, exchange.BrokerPosition{
			Symbol:       r.Symbol,
			Quantity:     qty,
			AveragePrice: entry,
		})
	}
	return positions, nil
}

// GetInstruments maps exchange info filters into instrument metadata. A
// symbol without a price filter yields TickSize zero, which downstream
// treats as "interval unknown".
func (b *Broker) GetInstruments(ctx context.Context, _ string) ([]exchange.Instrument, error) {
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, classifyError(err)
	}
	instruments := make([]exchange.Instrument, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		inst := exchange.Instrument{
			Symbol:   s.Symbol,
			Exchange: "binance",
		}
		if pf := s.PriceFilter(); pf != nil {
			inst.TickSize, _ = strconv.ParseFloat(pf.TickSize, 64)
		}
		if lf := s.LotSizeFilter(); lf != nil {
			inst.LotSize, _ = strconv.ParseFloat(lf.StepSize, 64)
		}
		// Futures margin comes back as a percentage string.
		if s.RequiredMarginPercent != "" {
			if pct, perr := strconv.ParseFloat(s.RequiredMarginPercent, 64); perr == nil {
				inst.MarginRequirement = pct / 100
			}
		}
		instruments = append(instruments, inst)
	}
	return instruments, nil
}

func (b *Broker) Health(ctx context.Context) error {
	if err := b.client.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("binance ping: %w", classifyError(err))
	}
	return nil
}

// formatQuantity keeps enough precision for futures lot sizes without
// scientific notation.
func formatQuantity(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
