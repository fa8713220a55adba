package market

import (
	"context"
	"sync"
	"time"

	"marlin/internal/exchange"
)

// Snapshot is the read-only view handed to strategies for one tick.
type Snapshot struct {
	Quotes  map[string]exchange.Quote
	TakenAt time.Time
}

// Quote returns the quote for symbol, if present.
func (s Snapshot) Quote(symbol string) (exchange.Quote, bool) {
	q, ok := s.Quotes[symbol]
	return q, ok
}

// Stale reports whether any requested symbol is missing or older than maxAge.
// A stale snapshot pauses the session instead of feeding the pipeline.
func (s Snapshot) Stale(symbols []string, maxAge time.Duration) bool {
	if len(s.Quotes) == 0 {
		return true
	}
	now := time.Now()
	for _, sym := range symbols {
		q, ok := s.Quotes[sym]
		if !ok || q.Age(now) > maxAge {
			return true
		}
	}
	return false
}

// Cache wraps a Source and keeps the last good snapshot so a transient vendor
// failure degrades to "stale" instead of an empty map.
type Cache struct {
	source Source

	mu   sync.RWMutex
	last Snapshot
}

func NewCache(source Source) *Cache {
	return &Cache{source: source}
}

func (c *Cache) Refresh(ctx context.Context, symbols []string) (Snapshot, error) {
	quotes, err := c.source.GetSnapshot(ctx, symbols)
	if err != nil {
		c.mu.RLock()
		last := c.last
		c.mu.RUnlock()
		return last, err
	}
	snap := Snapshot{Quotes: quotes, TakenAt: time.Now()}
	c.mu.Lock()
	c.last = snap
	c.mu.Unlock()
	return snap, nil
}

func (c *Cache) Last() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}
