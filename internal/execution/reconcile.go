package execution

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"marlin/internal/exchange"
	"marlin/internal/ledger"
	"marlin/internal/logger"
	"marlin/internal/notifier"
	"marlin/internal/store"
	"marlin/internal/store/journal"
)

// quantityEpsilon absorbs float noise between the broker feed and the
// decimal ledger when comparing quantities.
const quantityEpsilon = 1e-9

// Reconciler periodically diffs the broker's position view against the
// ledger. Divergences are flagged, journaled and alerted; the broker
// quantity is then adopted through a corrective fill. Positions are never
// silently deleted.
type Reconciler struct {
	broker   exchange.Broker
	ledger   *ledger.Ledger
	store    store.Store
	journal  *journal.Journal
	notify   notifier.Notifier
	interval time.Duration
}

func NewReconciler(broker exchange.Broker, led *ledger.Ledger, st store.Store,
	jnl *journal.Journal, notify notifier.Notifier, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if notify == nil {
		notify = notifier.Nop{}
	}
	return &Reconciler{
		broker:   broker,
		ledger:   led,
		store:    st,
		journal:  jnl,
		notify:   notify,
		interval: interval,
	}
}

// Run blocks until ctx is cancelled, reconciling once per interval.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ReconcileOnce(ctx); err != nil {
				logger.Warnf("reconcile: pass failed: %v", err)
			}
		}
	}
}

// ReconcileOnce runs one full diff of broker positions against the ledger.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	remote, err := r.broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetch broker positions: %w", err)
	}
	local := r.ledger.Snapshot().Positions

	remoteBySymbol := make(map[string]exchange.BrokerPosition, len(remote))
	for _, p := range remote {
		remoteBySymbol[p.Symbol] = p
	}

	for symbol, pos := range local {
		localQty, _ := pos.Quantity.Float64()
		rp, held := remoteBySymbol[symbol]
		if !held {
			avg, _ := pos.AveragePrice.Float64()
			r.diverged(ctx, symbol, localQty, 0, avg, "position missing at broker")
			continue
		}
		if math.Abs(rp.Quantity-localQty) > quantityEpsilon {
			r.diverged(ctx, symbol, localQty, rp.Quantity, rp.AveragePrice, "quantity mismatch")
		}
	}
	for symbol, rp := range remoteBySymbol {
		if _, tracked := local[symbol]; tracked {
			continue
		}
		if math.Abs(rp.Quantity) <= quantityEpsilon {
			continue
		}
		r.diverged(ctx, symbol, 0, rp.Quantity, rp.AveragePrice, "untracked position at broker")
	}
	return nil
}

// diverged flags the position, records the event, alerts, and adopts the
// broker quantity through a corrective fill. The broker is the source of
// truth for what is actually held.
func (r *Reconciler) diverged(ctx context.Context, symbol string, localQty, remoteQty, price float64, detail string) {
	logger.Event("reconcile_divergence",
		"symbol", symbol, "local_qty", localQty, "remote_qty", remoteQty, "detail", detail)

	if err := r.store.FlagPosition(ctx, symbol, "FLAGGED"); err != nil {
		logger.Warnf("reconcile: flag %s failed: %v", symbol, err)
	}
	if r.journal != nil {
		if err := r.journal.Append(ctx, "reconcile_divergence", map[string]any{
			"symbol": symbol, "local_qty": localQty, "remote_qty": remoteQty, "detail": detail,
		}); err != nil {
			logger.Warnf("reconcile: journal append failed: %v", err)
		}
	}
	if err := r.notify.Notify(ctx, "Position divergence: "+symbol,
		fmt.Sprintf("%s (local=%v broker=%v)", detail, localQty, remoteQty)); err != nil {
		logger.Warnf("reconcile: notify failed: %v", err)
	}

	if err := r.adopt(ctx, symbol, localQty, remoteQty, price); err != nil {
		logger.Errorf("reconcile: adopt broker quantity for %s failed: %v", symbol, err)
		return
	}
	if err := r.store.FlagPosition(ctx, symbol, "ADJUSTED"); err != nil {
		logger.Warnf("reconcile: mark %s adjusted failed: %v", symbol, err)
	}
}

// adopt applies a synthetic corrective fill that moves the ledger quantity
// to the broker quantity. Price comes from the broker's average or the
// ledger's own average, never fabricated.
func (r *Reconciler) adopt(ctx context.Context, symbol string, localQty, remoteQty, price float64) error {
	delta := remoteQty - localQty
	if math.Abs(delta) <= quantityEpsilon {
		return nil
	}
	if price <= 0 {
		return fmt.Errorf("no usable price for correction on %s", symbol)
	}
	side := exchange.SideBuy
	if delta < 0 {
		side = exchange.SideSell
	}
	fill := ledger.Fill{
		OrderID:  "reconcile-" + uuid.NewString(),
		SignalID: "reconcile",
		Symbol:   symbol,
		Side:     side,
		Quantity: math.Abs(delta),
		Price:    price,
		FilledAt: time.Now(),
	}
	return r.ledger.ApplyFill(ctx, fill)
}
