package app

import (
	"context"
	"fmt"
	"time"

	"marlin/internal/config"
	"marlin/internal/config/loader"
	"marlin/internal/dedup"
	"marlin/internal/exchange"
	"marlin/internal/execution"
	"marlin/internal/gateway"
	"marlin/internal/ledger"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/notifier"
	"marlin/internal/orchestrator"
	"marlin/internal/pkg/circuit"
	"marlin/internal/risk"
	"marlin/internal/store"
	"marlin/internal/store/journal"
	"marlin/internal/store/sqlite"
	"marlin/internal/strategy"
	livehttp "marlin/internal/transport/http/live"
)

// AppBuilder assembles the session from config. Overrides exist so tests
// can swap the persistence and notification edges.
type AppBuilder struct {
	cfg *config.Config

	storeOverride  store.Store
	notifyOverride notifier.Notifier
}

type AppBuilderOption func(*AppBuilder)

func WithStore(st store.Store) AppBuilderOption {
	return func(b *AppBuilder) { b.storeOverride = st }
}

func WithNotifier(n notifier.Notifier) AppBuilderOption {
	return func(b *AppBuilder) { b.notifyOverride = n }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg

	st := b.storeOverride
	if st == nil {
		var err error
		st, err = sqlite.NewSqliteStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}
	jnl, err := journal.Open(cfg.Store.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	broker, source, err := gateway.Build(cfg.Broker, cfg.Session.Symbols)
	if err != nil {
		return nil, err
	}
	quotes := market.NewCache(source)
	instruments := exchange.NewInstrumentCache(broker, cfg.Execution.InstrumentTTL())

	breaker := circuit.NewBreaker("broker", cfg.Execution.BreakerThreshold, cfg.Execution.BreakerTimeout())
	breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
		logger.Event("breaker_transition", "name", name, "from", from.String(), "to", to.String())
	})

	notify := b.notifyOverride
	if notify == nil {
		notify = buildNotifier(cfg.Notify)
	}

	// The orchestrator is constructed last but the ledger and risk gate
	// need to call back into it, hence the late-bound pointer.
	var orch *orchestrator.Orchestrator

	led := ledger.New(ledger.Params{
		TotalCapital:   cfg.Risk.TotalCapital,
		DailyLossLimit: cfg.Risk.DailyLossLimit,
		Store:          st,
		OnViolation: func(err error) {
			if orch != nil {
				orch.Fail(err.Error())
			}
		},
	})
	if err := led.Rehydrate(ctx); err != nil {
		return nil, fmt.Errorf("rehydrate ledger: %w", err)
	}

	manager := strategy.NewManager(strategy.ManagerParams{
		Timeout:          cfg.Strategy.Timeout(),
		DisableThreshold: cfg.Strategy.DisableThreshold,
		SessionSymbols:   cfg.Session.Symbols,
		OnDisable: func(strategyID string, err error) {
			logger.Warnf("strategy %s disabled after repeated failures: %v", strategyID, err)
			nctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if nerr := notify.Notify(nctx, "Strategy disabled", fmt.Sprintf("%s: %v", strategyID, err)); nerr != nil {
				logger.Warnf("strategy disable notification failed: %v", nerr)
			}
		},
	})
	defs, err := loader.Load(cfg.Strategy.ProfilePath)
	if err != nil {
		return nil, fmt.Errorf("load strategy profiles: %w", err)
	}
	for _, def := range defs {
		if err := manager.Register(def); err != nil {
			return nil, fmt.Errorf("register strategy %s: %w", def.ID, err)
		}
	}
	var watcher *loader.Watcher
	if cfg.Strategy.WatchProfiles {
		watcher = loader.NewWatcher(cfg.Strategy.ProfilePath, manager.ApplyProfiles)
	}

	dd := dedup.New(st, manager, cfg.Dedup.Cooldown())

	gate := risk.New(risk.Params{
		MaxSymbolExposure: cfg.Risk.MaxSymbolExposure,
		DailyLossLimit:    cfg.Risk.DailyLossLimit,
		MinOrderNotional:  cfg.Risk.MinOrderNotional,
		Exchange:          cfg.Broker.Exchange,
		OnDailyLossBreach: func() {
			if orch != nil {
				orch.DailyLossBreach()
			}
		},
	}, led, instruments, st)

	engine := execution.NewEngine(execution.Params{
		Exchange:      cfg.Broker.Exchange,
		BrokerTimeout: time.Duration(cfg.Broker.TimeoutSec) * time.Second,
		Retry: execution.NewRetryPolicy(cfg.Execution.MaxAttempts,
			cfg.Execution.BackoffBase(), cfg.Execution.BackoffCap()),
	}, broker, breaker, instruments, led, st, jnl, dd)

	orch, err = orchestrator.New(cfg.Session, broker, quotes, manager, dd, gate, engine, led, breaker, notify)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	reconciler := execution.NewReconciler(broker, led, st, jnl, notify, cfg.Execution.ReconcileInterval())

	liveSrv, err := livehttp.NewServer(livehttp.ServerConfig{
		Addr:         cfg.App.HTTPAddr,
		Orchestrator: orch,
		Ledger:       led,
	})
	if err != nil {
		return nil, fmt.Errorf("build live http server: %w", err)
	}

	return &App{
		cfg:          cfg,
		orchestrator: orch,
		ledger:       led,
		reconciler:   reconciler,
		liveHTTP:     liveSrv,
		watcher:      watcher,
		store:        st,
		journal:      jnl,
		autoStart:    cfg.Session.AutoStart,
	}, nil
}

func buildNotifier(cfg config.NotifyConfig) notifier.Notifier {
	if cfg.Telegram.Enabled {
		return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}
	return notifier.Nop{}
}
