package config

import (
	"fmt"
	"strings"
	"time"
)

func validate(c *Config) error {
	if err := c.Session.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (s *SessionConfig) validate() error {
	if len(s.Symbols) == 0 {
		return fmt.Errorf("session.symbols requires at least one symbol")
	}
	for _, sym := range s.Symbols {
		if strings.TrimSpace(sym) == "" {
			return fmt.Errorf("session.symbols contains an empty symbol")
		}
	}
	if !s.AlwaysOpen {
		if _, err := time.Parse("15:04", s.MarketOpen); err != nil {
			return fmt.Errorf("session.market_open must be HH:MM: %w", err)
		}
		if _, err := time.Parse("15:04", s.MarketClose); err != nil {
			return fmt.Errorf("session.market_close must be HH:MM: %w", err)
		}
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.TotalCapital <= 0 {
		return fmt.Errorf("risk.total_capital must be > 0")
	}
	if r.DailyLossLimit <= 0 {
		return fmt.Errorf("risk.daily_loss_limit must be > 0")
	}
	if r.MaxSymbolExposure < 0 {
		return fmt.Errorf("risk.max_symbol_exposure must be >= 0")
	}
	if r.MinOrderNotional < 0 {
		return fmt.Errorf("risk.min_order_notional must be >= 0")
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	switch b.Driver {
	case "sim":
		return nil
	case "binance":
		if strings.TrimSpace(b.APIKey) == "" || strings.TrimSpace(b.APISecret) == "" {
			return fmt.Errorf("broker.api_key/api_secret required for the binance driver")
		}
		return nil
	default:
		return fmt.Errorf("broker.driver must be one of: sim, binance (got %q)", b.Driver)
	}
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if tg.Enabled {
		if strings.TrimSpace(tg.BotToken) == "" {
			return fmt.Errorf("notify.telegram.bot_token cannot be empty when enabled")
		}
		if strings.TrimSpace(tg.ChatID) == "" {
			return fmt.Errorf("notify.telegram.chat_id cannot be empty when enabled")
		}
	}
	return nil
}
