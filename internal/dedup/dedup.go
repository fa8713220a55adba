// Package dedup filters candidate signals against recent execution history
// so overlapping signals for the same (symbol, strategy, side) cannot reach
// the broker twice inside the cooldown window.
package dedup

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"marlin/internal/logger"
	"marlin/internal/store"
	"marlin/internal/strategy"
)

// CooldownResolver maps a strategy ID to its cooldown; zero means "use the
// default". The strategy manager implements this from profile data.
type CooldownResolver interface {
	Cooldown(strategyID string) time.Duration
}

type claim struct {
	decidedAt time.Time
	outcome   store.Outcome
}

// Deduplicator performs the cooldown check and the provisional claim as one
// atomic step. The claim mutex is what keeps two concurrent ticks from both
// approving the same key; the store lookup only backs the in-memory index
// across restarts.
type Deduplicator struct {
	store           store.Store
	resolver        CooldownResolver
	defaultCooldown time.Duration

	mu     sync.Mutex
	claims map[string]claim
}

func New(st store.Store, resolver CooldownResolver, defaultCooldown time.Duration) *Deduplicator {
	if defaultCooldown <= 0 {
		defaultCooldown = 120 * time.Second
	}
	return &Deduplicator{
		store:           st,
		resolver:        resolver,
		defaultCooldown: defaultCooldown,
		claims:          make(map[string]claim),
	}
}

// Filter returns the candidates that survive the cooldown check, in input
// order, each with a provisional APPROVED_PENDING record already written.
func (d *Deduplicator) Filter(ctx context.Context, candidates []strategy.Signal) []strategy.Signal {
	if len(candidates) == 0 {
		return nil
	}
	out := make([]strategy.Signal, 0, len(candidates))
	for _, sig := range candidates {
		if d.admit(ctx, sig) {
			out = append(out, sig)
		}
	}
	return out
}

// Resolve records the final outcome for a previously admitted signal so the
// claim reflects reality: rejected/failed signals free the key immediately.
func (d *Deduplicator) Resolve(sig strategy.Signal, outcome store.Outcome) {
	key := sig.DedupKey()
	d.mu.Lock()
	defer d.mu.Unlock()
	if outcome.Claimed() {
		d.claims[key] = claim{decidedAt: time.Now(), outcome: outcome}
		return
	}
	delete(d.claims, key)
}

func (d *Deduplicator) admit(ctx context.Context, sig strategy.Signal) bool {
	cooldown := d.cooldownFor(sig.StrategyID)
	key := sig.DedupKey()

	d.mu.Lock()
	defer d.mu.Unlock()

	prev, ok := d.claims[key]
	if !ok {
		if rec := d.lastFromStore(ctx, sig); rec != nil {
			prev = claim{decidedAt: rec.DecidedAt, outcome: rec.Outcome}
			d.claims[key] = prev
			ok = true
		}
	}
	if ok && prev.outcome.Claimed() && time.Since(prev.decidedAt) < cooldown {
		logger.Event("dedup_skip",
			"signal_id", sig.ID,
			"symbol", sig.Symbol,
			"strategy", sig.StrategyID,
			"side", string(sig.Side),
			"prev_outcome", string(prev.outcome),
			"age", time.Since(prev.decidedAt).Round(time.Millisecond).String(),
		)
		return false
	}

	// Claim the key and persist the provisional record before releasing the
	// lock; check and set must not be separable.
	now := time.Now()
	d.claims[key] = claim{decidedAt: now, outcome: store.OutcomeApprovedPending}
	raw, _ := json.Marshal(sig)
	if err := d.store.AppendExecutionRecord(ctx, store.ExecutionRecord{
		SignalID:   sig.ID,
		Symbol:     sig.Symbol,
		StrategyID: sig.StrategyID,
		Side:       string(sig.Side),
		Outcome:    store.OutcomeApprovedPending,
		DecidedAt:  now,
		RawSignal:  raw,
	}); err != nil {
		// Without a durable record the claim cannot stand.
		delete(d.claims, key)
		logger.Errorf("dedup: provisional record write failed for %s: %v", sig.ID, err)
		return false
	}
	return true
}

func (d *Deduplicator) cooldownFor(strategyID string) time.Duration {
	if d.resolver != nil {
		if cd := d.resolver.Cooldown(strategyID); cd > 0 {
			return cd
		}
	}
	return d.defaultCooldown
}

func (d *Deduplicator) lastFromStore(ctx context.Context, sig strategy.Signal) *store.ExecutionRecord {
	rec, err := d.store.LastDecision(ctx, sig.Symbol, sig.StrategyID, string(sig.Side))
	if err != nil {
		logger.Warnf("dedup: last decision lookup failed for %s: %v", sig.DedupKey(), err)
		return nil
	}
	return rec
}
