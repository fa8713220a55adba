package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/config/loader"
	"marlin/internal/exchange"
	"marlin/internal/market"
)

// stubStrategy drives manager behavior from tests: fixed signals, scripted
// errors, deliberate slowness or panics.
type stubStrategy struct {
	id     string
	signal *Signal
	err    error
	delay  time.Duration
	panics bool
}

func (s *stubStrategy) ID() string { return s.id }

func (s *stubStrategy) Evaluate(ctx context.Context, symbol string, _ market.Snapshot) (*Signal, error) {
	if s.panics {
		panic("boom")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.signal == nil {
		return nil, nil
	}
	sig := *s.signal
	sig.Symbol = symbol
	return &sig, nil
}

// registerStub bypasses the profile factory so tests can install arbitrary
// strategy behavior.
func registerStub(m *Manager, st Strategy, def loader.ProfileDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances = append(m.instances, &instance{
		strategy: st,
		def:      def,
		order:    len(m.instances),
		enabled:  def.IsEnabled(),
	})
}

func testSnapshot(symbols ...string) market.Snapshot {
	quotes := make(map[string]exchange.Quote, len(symbols))
	for _, sym := range symbols {
		quotes[sym] = exchange.Quote{Symbol: sym, LTP: 100, Timestamp: time.Now()}
	}
	return market.Snapshot{Quotes: quotes, TakenAt: time.Now()}
}

func buySignal(strategyID string) *Signal {
	return &Signal{
		ID:             "sig-" + strategyID,
		Side:           exchange.SideBuy,
		Quantity:       1,
		ReferencePrice: 100,
		StrategyID:     strategyID,
		GeneratedAt:    time.Now(),
	}
}

func TestCollectPreservesRegistrationOrder(t *testing.T) {
	m := NewManager(ManagerParams{Timeout: time.Second, SessionSymbols: []string{"BTCUSDT"}})
	// The first strategy is slower; its signals must still come first.
	registerStub(m, &stubStrategy{id: "slow", signal: buySignal("slow"), delay: 30 * time.Millisecond}, loader.ProfileDefinition{ID: "slow"})
	registerStub(m, &stubStrategy{id: "fast", signal: buySignal("fast")}, loader.ProfileDefinition{ID: "fast"})

	out := m.Collect(context.Background(), testSnapshot("BTCUSDT"))

	require.Len(t, out, 2)
	assert.Equal(t, "slow", out[0].StrategyID)
	assert.Equal(t, "fast", out[1].StrategyID)
}

func TestSlowStrategyDoesNotBlockOthers(t *testing.T) {
	m := NewManager(ManagerParams{
		Timeout:          20 * time.Millisecond,
		DisableThreshold: 100,
		SessionSymbols:   []string{"BTCUSDT"},
	})
	registerStub(m, &stubStrategy{id: "hung", signal: buySignal("hung"), delay: time.Second}, loader.ProfileDefinition{ID: "hung"})
	registerStub(m, &stubStrategy{id: "ok", signal: buySignal("ok")}, loader.ProfileDefinition{ID: "ok"})

	start := time.Now()
	out := m.Collect(context.Background(), testSnapshot("BTCUSDT"))

	require.Len(t, out, 1, "the hung strategy yields no signal for the tick")
	assert.Equal(t, "ok", out[0].StrategyID)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPanickingStrategyIsContained(t *testing.T) {
	m := NewManager(ManagerParams{Timeout: time.Second, DisableThreshold: 100, SessionSymbols: []string{"BTCUSDT"}})
	registerStub(m, &stubStrategy{id: "bad", panics: true}, loader.ProfileDefinition{ID: "bad"})
	registerStub(m, &stubStrategy{id: "ok", signal: buySignal("ok")}, loader.ProfileDefinition{ID: "ok"})

	out := m.Collect(context.Background(), testSnapshot("BTCUSDT"))

	require.Len(t, out, 1)
	assert.Equal(t, "ok", out[0].StrategyID)
}

func TestRepeatedFailuresAutoDisable(t *testing.T) {
	var disabledID string
	m := NewManager(ManagerParams{
		Timeout:          time.Second,
		DisableThreshold: 3,
		SessionSymbols:   []string{"BTCUSDT"},
		OnDisable:        func(id string, _ error) { disabledID = id },
	})
	registerStub(m, &stubStrategy{id: "flaky", err: errors.New("feed broken")}, loader.ProfileDefinition{ID: "flaky"})

	snap := testSnapshot("BTCUSDT")
	for i := 0; i < 3; i++ {
		m.Collect(context.Background(), snap)
	}

	assert.Equal(t, "flaky", disabledID)
	assert.Equal(t, 0, m.ActiveCount())
	assert.Empty(t, m.Collect(context.Background(), snap), "disabled strategies are not invoked")
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	m := NewManager(ManagerParams{Timeout: time.Second, DisableThreshold: 3, SessionSymbols: []string{"BTCUSDT"}})
	st := &stubStrategy{id: "wobbly", err: errors.New("hiccup")}
	registerStub(m, st, loader.ProfileDefinition{ID: "wobbly"})
	snap := testSnapshot("BTCUSDT")

	m.Collect(context.Background(), snap)
	m.Collect(context.Background(), snap)
	st.err = nil
	m.Collect(context.Background(), snap)
	st.err = errors.New("hiccup again")
	m.Collect(context.Background(), snap)
	m.Collect(context.Background(), snap)

	assert.Equal(t, 1, m.ActiveCount(), "streak of 2+1 after a success must not disable")
}

func TestApplyProfilesDisablesRemovedAndRefreshesCooldown(t *testing.T) {
	m := NewManager(ManagerParams{Timeout: time.Second, SessionSymbols: []string{"BTCUSDT"}})
	registerStub(m, &stubStrategy{id: "keep", signal: buySignal("keep")}, loader.ProfileDefinition{ID: "keep", CooldownSec: 60})
	registerStub(m, &stubStrategy{id: "drop", signal: buySignal("drop")}, loader.ProfileDefinition{ID: "drop"})
	require.Equal(t, 2, m.ActiveCount())

	m.ApplyProfiles([]loader.ProfileDefinition{{ID: "keep", Kind: "momentum", CooldownSec: 300}})

	assert.Equal(t, 1, m.ActiveCount())
	assert.Equal(t, 300*time.Second, m.Cooldown("keep"))
	assert.Equal(t, time.Duration(0), m.Cooldown("unknown"))

	out := m.Collect(context.Background(), testSnapshot("BTCUSDT"))
	require.Len(t, out, 1)
	assert.Equal(t, "keep", out[0].StrategyID)
}

func TestApplyProfilesRegistersNewDefinitions(t *testing.T) {
	m := NewManager(ManagerParams{Timeout: time.Second, SessionSymbols: []string{"BTCUSDT"}})

	m.ApplyProfiles([]loader.ProfileDefinition{{
		ID:   "fresh-momentum",
		Kind: "momentum",
		Params: map[string]any{
			"period": 14, "oversold": 30, "overbought": 70, "quantity": 1,
		},
	}})

	assert.Equal(t, 1, m.ActiveCount())
}
