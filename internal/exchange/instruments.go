package exchange

import (
	"context"
	"strings"
	"sync"
	"time"

	"marlin/internal/logger"
)

// InstrumentCache caches broker instrument metadata per exchange with a TTL.
// Repeated lookups inside the TTL never hit the broker, which keeps the
// instrument endpoint clear of rate-limit failures. Reads are concurrent;
// refreshes happen at most once per TTL per exchange.
type InstrumentCache struct {
	broker Broker
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[string]*instrumentEntry
}

type instrumentEntry struct {
	bySymbol  map[string]Instrument
	fetchedAt time.Time
}

func NewInstrumentCache(broker Broker, ttl time.Duration) *InstrumentCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &InstrumentCache{
		broker:  broker,
		ttl:     ttl,
		entries: make(map[string]*instrumentEntry),
	}
}

// Lookup returns the instrument for symbol on the given exchange, refreshing
// the cached list when the TTL has lapsed. A refresh failure with a warm
// cache serves the stale list rather than failing the caller.
func (c *InstrumentCache) Lookup(ctx context.Context, exch, symbol string) (Instrument, bool, error) {
	exch = strings.ToUpper(strings.TrimSpace(exch))
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	c.mu.RLock()
	entry, ok := c.entries[exch]
	fresh := ok && time.Since(entry.fetchedAt) < c.ttl
	c.mu.RUnlock()

	if !fresh {
		if err := c.refresh(ctx, exch); err != nil {
			if !ok {
				return Instrument{}, false, err
			}
			logger.Warnf("instrument refresh failed for %s, serving cached list: %v", exch, err)
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok = c.entries[exch]
	if !ok {
		return Instrument{}, false, nil
	}
	inst, found := entry.bySymbol[symbol]
	return inst, found, nil
}

func (c *InstrumentCache) refresh(ctx context.Context, exch string) error {
	instruments, err := c.broker.GetInstruments(ctx, exch)
	if err != nil {
		return err
	}
	bySymbol := make(map[string]Instrument, len(instruments))
	for _, inst := range instruments {
		bySymbol[strings.ToUpper(strings.TrimSpace(inst.Symbol))] = inst
	}
	c.mu.Lock()
	c.entries[exch] = &instrumentEntry{bySymbol: bySymbol, fetchedAt: time.Now()}
	c.mu.Unlock()
	logger.Debugf("instrument cache refreshed: exchange=%s count=%d", exch, len(instruments))
	return nil
}

// Invalidate drops the cached list for one exchange. Used by tests and by the
// reconciler after a symbol mismatch.
func (c *InstrumentCache) Invalidate(exch string) {
	c.mu.Lock()
	delete(c.entries, strings.ToUpper(strings.TrimSpace(exch)))
	c.mu.Unlock()
}
