package config

import "time"

// Config is the top-level configuration for a trading session.
type Config struct {
	App       AppConfig       `toml:"app"`
	Session   SessionConfig   `toml:"session"`
	Risk      RiskConfig      `toml:"risk"`
	Dedup     DedupConfig     `toml:"dedup"`
	Execution ExecutionConfig `toml:"execution"`
	Broker    BrokerConfig    `toml:"broker"`
	Store     StoreConfig     `toml:"store"`
	Notify    NotifyConfig    `toml:"notify"`
	Strategy  StrategyConfig  `toml:"strategy"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// SessionConfig drives the orchestrator tick loop and trading window.
type SessionConfig struct {
	TickIntervalMS  int      `toml:"tick_interval_ms"`
	Symbols         []string `toml:"symbols"`
	MarketOpen      string   `toml:"market_open"`  // "HH:MM", session-local
	MarketClose     string   `toml:"market_close"` // "HH:MM"
	MaxQuoteAgeSec  int      `toml:"max_quote_age_sec"`
	AlwaysOpen      bool     `toml:"always_open"` // 24/7 venues (crypto)
	AutoStart       bool     `toml:"auto_start"`  // issue the start command at boot
}

type RiskConfig struct {
	TotalCapital      float64 `toml:"total_capital"`
	MaxSymbolExposure float64 `toml:"max_symbol_exposure"` // notional cap per symbol
	DailyLossLimit    float64 `toml:"daily_loss_limit"`
	MinOrderNotional  float64 `toml:"min_order_notional"`
}

type DedupConfig struct {
	CooldownSec int `toml:"cooldown_sec"`
}

type ExecutionConfig struct {
	MaxAttempts          int     `toml:"max_attempts"`
	BackoffBaseMS        int     `toml:"backoff_base_ms"`
	BackoffCapMS         int     `toml:"backoff_cap_ms"`
	BreakerThreshold     int     `toml:"breaker_threshold"`
	BreakerTimeoutSec    int     `toml:"breaker_timeout_sec"`
	ReconcileIntervalSec int     `toml:"reconcile_interval_sec"`
	InstrumentTTLMin     int     `toml:"instrument_ttl_min"`
	EntrySlipPct         float64 `toml:"entry_slip_pct"`
}

type BrokerConfig struct {
	Driver      string `toml:"driver"` // "binance" | "sim"
	RESTBaseURL string `toml:"rest_base_url"`
	APIKey      string `toml:"api_key"`
	APISecret   string `toml:"api_secret"`
	Exchange    string `toml:"exchange"`
	TimeoutSec  int    `toml:"timeout_sec"`
}

type StoreConfig struct {
	Path        string `toml:"path"`
	JournalPath string `toml:"journal_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type StrategyConfig struct {
	ProfilePath      string `toml:"profile_path"`
	TimeoutMS        int    `toml:"timeout_ms"`
	DisableThreshold int    `toml:"disable_threshold"`
	WatchProfiles    bool   `toml:"watch_profiles"`
}

func (s SessionConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalMS) * time.Millisecond
}

func (s SessionConfig) MaxQuoteAge() time.Duration {
	return time.Duration(s.MaxQuoteAgeSec) * time.Second
}

func (d DedupConfig) Cooldown() time.Duration {
	return time.Duration(d.CooldownSec) * time.Second
}

func (e ExecutionConfig) BackoffBase() time.Duration {
	return time.Duration(e.BackoffBaseMS) * time.Millisecond
}

func (e ExecutionConfig) BackoffCap() time.Duration {
	return time.Duration(e.BackoffCapMS) * time.Millisecond
}

func (e ExecutionConfig) BreakerTimeout() time.Duration {
	return time.Duration(e.BreakerTimeoutSec) * time.Second
}

func (e ExecutionConfig) ReconcileInterval() time.Duration {
	return time.Duration(e.ReconcileIntervalSec) * time.Second
}

func (e ExecutionConfig) InstrumentTTL() time.Duration {
	return time.Duration(e.InstrumentTTLMin) * time.Minute
}

func (s StrategyConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}
