// Package app wires the session together and runs its long-lived parts.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"marlin/internal/config"
	"marlin/internal/config/loader"
	"marlin/internal/execution"
	"marlin/internal/ledger"
	"marlin/internal/logger"
	"marlin/internal/orchestrator"
	"marlin/internal/store"
	"marlin/internal/store/journal"
	livehttp "marlin/internal/transport/http/live"
)

type App struct {
	cfg *config.Config

	orchestrator *orchestrator.Orchestrator
	ledger       *ledger.Ledger
	reconciler   *execution.Reconciler
	liveHTTP     *livehttp.Server
	watcher      *loader.Watcher
	store        store.Store
	journal      *journal.Journal

	autoStart bool
}

// NewApp builds the application from config without starting anything.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run initializes the session, starts the long-lived goroutines and blocks
// until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	if err := a.orchestrator.Initialize(ctx); err != nil {
		return fmt.Errorf("session initialization: %w", err)
	}
	a.ledger.Start()
	defer a.ledger.Stop()
	defer a.closeStores()

	if a.watcher != nil {
		if err := a.watcher.Start(); err != nil {
			logger.Warnf("app: profile watcher failed to start: %v", err)
		} else {
			defer a.watcher.Stop()
		}
	}

	if a.autoStart {
		if ok, reason := a.orchestrator.Start(); !ok {
			logger.Warnf("app: session not started: %s", reason)
		}
	}

	group, ctx := errgroup.WithContext(ctx)

	if a.liveHTTP != nil {
		group.Go(func() error {
			if err := a.liveHTTP.Start(ctx); err != nil {
				return fmt.Errorf("live http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		a.reconciler.Run(ctx)
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		a.orchestrator.Stop()
		return nil
	})

	return group.Wait()
}

// Orchestrator exposes the session controller, used by replay harnesses.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	if a == nil {
		return nil
	}
	return a.orchestrator
}

func (a *App) closeStores() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warnf("app: journal close: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("app: store close: %v", err)
		}
	}
}
