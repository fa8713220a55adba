package config

const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9982"
	defaultTickIntervalMS    = 5000
	defaultMaxQuoteAgeSec    = 30
	defaultMarketOpen        = "09:15"
	defaultMarketClose       = "15:30"
	defaultDedupCooldownSec  = 120
	defaultMaxAttempts       = 3
	defaultBackoffBaseMS     = 500
	defaultBackoffCapMS      = 8000
	defaultBreakerThreshold  = 5
	defaultBreakerTimeout    = 30
	defaultReconcileInterval = 60
	defaultInstrumentTTLMin  = 10
	defaultBrokerDriver      = "sim"
	defaultBrokerTimeoutSec  = 10
	defaultStorePath         = "data/marlin.db"
	defaultJournalPath       = "data/journal.db"
	defaultProfilePath       = "configs/strategies.yaml"
	defaultStrategyTimeoutMS = 2000
	defaultDisableThreshold  = 3
)

func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Session.applyDefaults()
	c.Dedup.applyDefaults()
	c.Execution.applyDefaults()
	c.Broker.applyDefaults()
	c.Store.applyDefaults()
	c.Strategy.applyDefaults()
}

func (a *AppConfig) applyDefaults() {
	if a.Env == "" {
		a.Env = defaultAppEnv
	}
	if a.LogLevel == "" {
		a.LogLevel = defaultAppLogLevel
	}
	if a.HTTPAddr == "" {
		a.HTTPAddr = defaultAppHTTPAddr
	}
}

func (s *SessionConfig) applyDefaults() {
	if s.TickIntervalMS <= 0 {
		s.TickIntervalMS = defaultTickIntervalMS
	}
	if s.MaxQuoteAgeSec <= 0 {
		s.MaxQuoteAgeSec = defaultMaxQuoteAgeSec
	}
	if s.MarketOpen == "" {
		s.MarketOpen = defaultMarketOpen
	}
	if s.MarketClose == "" {
		s.MarketClose = defaultMarketClose
	}
}

func (d *DedupConfig) applyDefaults() {
	if d.CooldownSec <= 0 {
		d.CooldownSec = defaultDedupCooldownSec
	}
}

func (e *ExecutionConfig) applyDefaults() {
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = defaultMaxAttempts
	}
	if e.BackoffBaseMS <= 0 {
		e.BackoffBaseMS = defaultBackoffBaseMS
	}
	if e.BackoffCapMS <= 0 {
		e.BackoffCapMS = defaultBackoffCapMS
	}
	if e.BreakerThreshold <= 0 {
		e.BreakerThreshold = defaultBreakerThreshold
	}
	if e.BreakerTimeoutSec <= 0 {
		e.BreakerTimeoutSec = defaultBreakerTimeout
	}
	if e.ReconcileIntervalSec <= 0 {
		e.ReconcileIntervalSec = defaultReconcileInterval
	}
	if e.InstrumentTTLMin <= 0 {
		e.InstrumentTTLMin = defaultInstrumentTTLMin
	}
}

func (b *BrokerConfig) applyDefaults() {
	if b.Driver == "" {
		b.Driver = defaultBrokerDriver
	}
	if b.TimeoutSec <= 0 {
		b.TimeoutSec = defaultBrokerTimeoutSec
	}
}

func (s *StoreConfig) applyDefaults() {
	if s.Path == "" {
		s.Path = defaultStorePath
	}
	if s.JournalPath == "" {
		s.JournalPath = defaultJournalPath
	}
}

func (s *StrategyConfig) applyDefaults() {
	if s.ProfilePath == "" {
		s.ProfilePath = defaultProfilePath
	}
	if s.TimeoutMS <= 0 {
		s.TimeoutMS = defaultStrategyTimeoutMS
	}
	if s.DisableThreshold <= 0 {
		s.DisableThreshold = defaultDisableThreshold
	}
}
