package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/exchange"
	"marlin/internal/store"
	"marlin/internal/strategy"
)

type fakeStore struct {
	mu        sync.Mutex
	records   []store.ExecutionRecord
	appendErr error
}

func (f *fakeStore) AppendExecutionRecord(_ context.Context, rec store.ExecutionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) UpdateExecutionOutcome(_ context.Context, signalID string, outcome store.Outcome, reason, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.records {
		if f.records[i].SignalID == signalID {
			f.records[i].Outcome = outcome
			f.records[i].Reason = reason
			f.records[i].OrderID = orderID
		}
	}
	return nil
}

func (f *fakeStore) LastDecision(_ context.Context, symbol, strategyID, side string) (*store.ExecutionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.records) - 1; i >= 0; i-- {
		r := f.records[i]
		if r.Symbol == symbol && r.StrategyID == strategyID && r.Side == side {
			rec := r
			return &rec, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) AppendFill(context.Context, store.FillRecord) error     { return nil }
func (f *fakeStore) SavePosition(context.Context, store.PositionRecord) error { return nil }
func (f *fakeStore) RemovePosition(context.Context, string) error           { return nil }
func (f *fakeStore) FlagPosition(context.Context, string, string) error     { return nil }
func (f *fakeStore) LoadOpenPositions(context.Context) ([]store.PositionRecord, error) {
	return nil, nil
}
func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) recordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fixedCooldown time.Duration

func (c fixedCooldown) Cooldown(string) time.Duration { return time.Duration(c) }

func sig(id, symbol, strategyID string, side exchange.Side) strategy.Signal {
	return strategy.Signal{
		ID:          id,
		Symbol:      symbol,
		Side:        side,
		Quantity:    1,
		StrategyID:  strategyID,
		GeneratedAt: time.Now(),
	}
}

func TestFilterAdmitsFirstAndSkipsDuplicateInCooldown(t *testing.T) {
	st := &fakeStore{}
	d := New(st, fixedCooldown(time.Minute), 0)
	ctx := context.Background()

	first := d.Filter(ctx, []strategy.Signal{sig("s1", "BTCUSDT", "rsi", exchange.SideBuy)})
	require.Len(t, first, 1)
	assert.Equal(t, 1, st.recordCount())

	second := d.Filter(ctx, []strategy.Signal{sig("s2", "BTCUSDT", "rsi", exchange.SideBuy)})
	assert.Empty(t, second, "same key inside cooldown must be skipped")
	assert.Equal(t, 1, st.recordCount(), "skipped signal must not write a record")
}

func TestDifferentKeysDoNotInterfere(t *testing.T) {
	st := &fakeStore{}
	d := New(st, fixedCooldown(time.Minute), 0)
	ctx := context.Background()

	out := d.Filter(ctx, []strategy.Signal{
		sig("s1", "BTCUSDT", "rsi", exchange.SideBuy),
		sig("s2", "BTCUSDT", "rsi", exchange.SideSell),
		sig("s3", "ETHUSDT", "rsi", exchange.SideBuy),
		sig("s4", "BTCUSDT", "bands", exchange.SideBuy),
	})
	assert.Len(t, out, 4)
}

func TestRejectedOutcomeFreesTheKeyImmediately(t *testing.T) {
	st := &fakeStore{}
	d := New(st, fixedCooldown(time.Minute), 0)
	ctx := context.Background()

	admitted := d.Filter(ctx, []strategy.Signal{sig("s1", "BTCUSDT", "rsi", exchange.SideBuy)})
	require.Len(t, admitted, 1)

	// The risk gate records the rejection before the claim is released.
	require.NoError(t, st.UpdateExecutionOutcome(ctx, "s1", store.OutcomeRejected, "insufficient capital", ""))
	d.Resolve(admitted[0], store.OutcomeRejected)

	again := d.Filter(ctx, []strategy.Signal{sig("s2", "BTCUSDT", "rsi", exchange.SideBuy)})
	assert.Len(t, again, 1, "rejected key must be claimable again")
}

func TestExecutedOutcomeHoldsTheKey(t *testing.T) {
	st := &fakeStore{}
	d := New(st, fixedCooldown(time.Minute), 0)
	ctx := context.Background()

	admitted := d.Filter(ctx, []strategy.Signal{sig("s1", "BTCUSDT", "rsi", exchange.SideBuy)})
	require.Len(t, admitted, 1)
	d.Resolve(admitted[0], store.OutcomeExecuted)

	again := d.Filter(ctx, []strategy.Signal{sig("s2", "BTCUSDT", "rsi", exchange.SideBuy)})
	assert.Empty(t, again)
}

func TestCooldownExpiryReadmits(t *testing.T) {
	st := &fakeStore{}
	d := New(st, fixedCooldown(30*time.Millisecond), 0)
	ctx := context.Background()

	require.Len(t, d.Filter(ctx, []strategy.Signal{sig("s1", "BTCUSDT", "rsi", exchange.SideBuy)}), 1)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, d.Filter(ctx, []strategy.Signal{sig("s2", "BTCUSDT", "rsi", exchange.SideBuy)}), 1)
}

func TestStoreHistorySurvivesRestart(t *testing.T) {
	st := &fakeStore{}
	ctx := context.Background()

	first := New(st, fixedCooldown(time.Minute), 0)
	require.Len(t, first.Filter(ctx, []strategy.Signal{sig("s1", "BTCUSDT", "rsi", exchange.SideBuy)}), 1)

	// A fresh deduplicator over the same store must still honor the claim.
	second := New(st, fixedCooldown(time.Minute), 0)
	assert.Empty(t, second.Filter(ctx, []strategy.Signal{sig("s2", "BTCUSDT", "rsi", exchange.SideBuy)}))
}

func TestPersistFailureRollsBackClaim(t *testing.T) {
	st := &fakeStore{appendErr: errors.New("disk full")}
	d := New(st, fixedCooldown(time.Minute), 0)
	ctx := context.Background()

	assert.Empty(t, d.Filter(ctx, []strategy.Signal{sig("s1", "BTCUSDT", "rsi", exchange.SideBuy)}))

	st.mu.Lock()
	st.appendErr = nil
	st.mu.Unlock()
	assert.Len(t, d.Filter(ctx, []strategy.Signal{sig("s2", "BTCUSDT", "rsi", exchange.SideBuy)}), 1,
		"failed claim must not block subsequent admits")
}

func TestConcurrentAdmitSingleWinner(t *testing.T) {
	st := &fakeStore{}
	d := New(st, fixedCooldown(time.Minute), 0)
	ctx := context.Background()

	const attempts = 32
	var wg sync.WaitGroup
	winners := make(chan strategy.Signal, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out := d.Filter(ctx, []strategy.Signal{sig(orderID(n), "BTCUSDT", "rsi", exchange.SideBuy)})
			for _, s := range out {
				winners <- s
			}
		}(i)
	}
	wg.Wait()
	close(winners)

	count := 0
	for range winners {
		count++
	}
	assert.Equal(t, 1, count, "exactly one concurrent signal may claim the key")
	assert.Equal(t, 1, st.recordCount())
}

func orderID(n int) string {
	return string(rune('a' + n%26))
}
