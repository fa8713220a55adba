package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/exchange"
	"marlin/internal/ledger"
	"marlin/internal/pkg/circuit"
	"marlin/internal/store"
	"marlin/internal/strategy"
)

// scriptedBroker replays a queue of outcomes, one per PlaceOrder call.
type scriptedBroker struct {
	mu          sync.Mutex
	script      []error
	calls       []exchange.OrderRequest
	fillPrice   float64
	instruments []exchange.Instrument
	positions   []exchange.BrokerPosition
}

func (b *scriptedBroker) Name() string { return "scripted" }

func (b *scriptedBroker) PlaceOrder(_ context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, req)
	if len(b.script) > 0 {
		err := b.script[0]
		b.script = b.script[1:]
		if err != nil {
			return nil, err
		}
	}
	price := b.fillPrice
	if price <= 0 {
		price = req.LimitPrice
	}
	return &exchange.OrderResult{
		BrokerOrderID: "bo-" + req.OrderID,
		Status:        "FILLED",
		FillPrice:     price,
		FilledAt:      time.Now(),
	}, nil
}

func (b *scriptedBroker) GetPositions(context.Context) ([]exchange.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positions, nil
}

func (b *scriptedBroker) GetInstruments(context.Context, string) ([]exchange.Instrument, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.instruments, nil
}

func (b *scriptedBroker) Health(context.Context) error { return nil }

func (b *scriptedBroker) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

type recordingStore struct {
	mu       sync.Mutex
	outcomes map[string][]store.Outcome
	reasons  map[string]string
	flags    map[string][]string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		outcomes: make(map[string][]store.Outcome),
		reasons:  make(map[string]string),
		flags:    make(map[string][]string),
	}
}

func (r *recordingStore) AppendExecutionRecord(context.Context, store.ExecutionRecord) error {
	return nil
}
func (r *recordingStore) UpdateExecutionOutcome(_ context.Context, signalID string, outcome store.Outcome, reason, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[signalID] = append(r.outcomes[signalID], outcome)
	r.reasons[signalID] = reason
	return nil
}
func (r *recordingStore) LastDecision(context.Context, string, string, string) (*store.ExecutionRecord, error) {
	return nil, nil
}
func (r *recordingStore) AppendFill(context.Context, store.FillRecord) error       { return nil }
func (r *recordingStore) SavePosition(context.Context, store.PositionRecord) error { return nil }
func (r *recordingStore) RemovePosition(context.Context, string) error             { return nil }
func (r *recordingStore) FlagPosition(_ context.Context, symbol, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[symbol] = append(r.flags[symbol], status)
	return nil
}
func (r *recordingStore) LoadOpenPositions(context.Context) ([]store.PositionRecord, error) {
	return nil, nil
}
func (r *recordingStore) Close() error { return nil }

func (r *recordingStore) finalOutcome(signalID string) store.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	seq := r.outcomes[signalID]
	if len(seq) == 0 {
		return ""
	}
	return seq[len(seq)-1]
}

func (r *recordingStore) countOutcome(signalID string, want store.Outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.outcomes[signalID] {
		if o == want {
			n++
		}
	}
	return n
}

type claimRecorder struct {
	mu       sync.Mutex
	resolved map[string]store.Outcome
}

func (c *claimRecorder) Resolve(sig strategy.Signal, outcome store.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved == nil {
		c.resolved = make(map[string]store.Outcome)
	}
	c.resolved[sig.ID] = outcome
}

type engineFixture struct {
	engine *Engine
	broker *scriptedBroker
	store  *recordingStore
	ledger *ledger.Ledger
	claims *claimRecorder
}

func newEngineFixture(t *testing.T, script ...error) *engineFixture {
	t.Helper()
	broker := &scriptedBroker{script: script}
	st := newRecordingStore()
	led := ledger.New(ledger.Params{TotalCapital: 1_000_000})
	led.Start()
	t.Cleanup(led.Stop)
	claims := &claimRecorder{}
	engine := NewEngine(Params{
		Exchange:      "binance",
		BrokerTimeout: time.Second,
		Retry:         NewRetryPolicy(3, time.Millisecond, 4*time.Millisecond),
	}, broker, circuit.NewBreaker("test", 100, time.Second), nil, led, st, nil, claims)
	return &engineFixture{engine: engine, broker: broker, store: st, ledger: led, claims: claims}
}

func buySig(id string) strategy.Signal {
	return strategy.Signal{
		ID:             id,
		Symbol:         "BTCUSDT",
		Side:           exchange.SideBuy,
		Quantity:       2,
		ReferencePrice: 100,
		StrategyID:     "rsi",
		GeneratedAt:    time.Now(),
	}
}

func TestExecuteRecordsFillOnSuccess(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	result, err := fx.engine.Execute(ctx, buySig("s1"))
	require.NoError(t, err)
	assert.Equal(t, "bo-s1", result.BrokerOrderID)

	assert.Equal(t, store.OutcomeExecuted, fx.store.finalOutcome("s1"))
	assert.Equal(t, store.OutcomeExecuted, fx.claims.resolved["s1"])
	assert.InDelta(t, 2, fx.ledger.PositionQuantity("BTCUSDT"), 1e-9)
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	rateLimited := exchange.NewOrderError(exchange.CodeRateLimited, "429")
	fx := newEngineFixture(t, rateLimited, rateLimited, nil)
	ctx := context.Background()

	_, err := fx.engine.Execute(ctx, buySig("s2"))
	require.NoError(t, err)

	assert.Equal(t, 3, fx.broker.callCount())
	assert.Equal(t, 1, fx.store.countOutcome("s2", store.OutcomeExecuted),
		"exactly one EXECUTED record across retries")
	// Every attempt reuses the same idempotency key.
	for _, call := range fx.broker.calls {
		assert.Equal(t, "s2", call.OrderID)
	}
}

func TestExecuteDoesNotRetryPermanentRejection(t *testing.T) {
	rejected := exchange.NewOrderError(exchange.CodeInsufficientMargin, "margin")
	fx := newEngineFixture(t, rejected, nil)
	ctx := context.Background()

	_, err := fx.engine.Execute(ctx, buySig("s3"))
	require.Error(t, err)

	assert.Equal(t, 1, fx.broker.callCount(), "permanent failures must not retry")
	assert.Equal(t, store.OutcomeFailed, fx.store.finalOutcome("s3"))
	assert.Equal(t, store.OutcomeFailed, fx.claims.resolved["s3"])
}

func TestExecuteNoPositionWithoutConfirmation(t *testing.T) {
	rateLimited := exchange.NewOrderError(exchange.CodeRateLimited, "429")
	fx := newEngineFixture(t, rateLimited, rateLimited, rateLimited)
	ctx := context.Background()

	_, err := fx.engine.Execute(ctx, buySig("s4"))
	require.Error(t, err)

	assert.Equal(t, 3, fx.broker.callCount())
	assert.Equal(t, store.OutcomeFailed, fx.store.finalOutcome("s4"))
	assert.InDelta(t, 0, fx.ledger.PositionQuantity("BTCUSDT"), 1e-9,
		"no broker confirmation, no recorded position")
}

func TestExecuteStopsRetryingOnCancel(t *testing.T) {
	rateLimited := exchange.NewOrderError(exchange.CodeRateLimited, "429")
	fx := newEngineFixture(t, rateLimited, rateLimited, nil)
	fx.engine.params.Retry = NewRetryPolicy(3, 200*time.Millisecond, 400*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := fx.engine.Execute(ctx, buySig("s5"))
	require.Error(t, err)
	assert.Equal(t, 1, fx.broker.callCount(), "cancellation must stop further attempts")
	assert.Equal(t, store.OutcomeFailed, fx.store.finalOutcome("s5"))
}

func TestExitResolvesToOppositeSideOfOpenPosition(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	_, err := fx.engine.Execute(ctx, buySig("open-1"))
	require.NoError(t, err)

	exit := buySig("exit-1")
	exit.Side = exchange.SideExit
	exit.Quantity = 0 // sized from the open position
	_, err = fx.engine.Execute(ctx, exit)
	require.NoError(t, err)

	last := fx.broker.calls[len(fx.broker.calls)-1]
	assert.Equal(t, exchange.SideSell, last.Side)
	assert.InDelta(t, 2, last.Quantity, 1e-9)
	assert.InDelta(t, 0, fx.ledger.PositionQuantity("BTCUSDT"), 1e-9)
}

func TestExitWithoutPositionIsRejectedNotSent(t *testing.T) {
	fx := newEngineFixture(t)
	ctx := context.Background()

	exit := buySig("exit-2")
	exit.Side = exchange.SideExit
	_, err := fx.engine.Execute(ctx, exit)
	require.NoError(t, err)

	assert.Equal(t, 0, fx.broker.callCount(), "phantom exits must never reach the broker")
	assert.Equal(t, store.OutcomeRejected, fx.store.finalOutcome("exit-2"))
	assert.Equal(t, store.OutcomeRejected, fx.claims.resolved["exit-2"])
}

func TestLimitPriceRoundedToInstrumentTick(t *testing.T) {
	fx := newEngineFixture(t)
	fx.broker.instruments = []exchange.Instrument{
		{Symbol: "BTCUSDT", Exchange: "binance", TickSize: 0.5},
	}
	fx.engine.instruments = exchange.NewInstrumentCache(fx.broker, time.Minute)
	ctx := context.Background()

	sig := buySig("tick-1")
	sig.ReferencePrice = 100.37
	_, err := fx.engine.Execute(ctx, sig)
	require.NoError(t, err)

	assert.InDelta(t, 100.5, fx.broker.calls[0].LimitPrice, 1e-9)
}

func TestUnknownTickSizeLeavesPriceUnrounded(t *testing.T) {
	fx := newEngineFixture(t)
	fx.broker.instruments = []exchange.Instrument{
		{Symbol: "BTCUSDT", Exchange: "binance", TickSize: 0},
	}
	fx.engine.instruments = exchange.NewInstrumentCache(fx.broker, time.Minute)
	ctx := context.Background()

	sig := buySig("tick-2")
	sig.ReferencePrice = 100.37
	_, err := fx.engine.Execute(ctx, sig)
	require.NoError(t, err)

	assert.InDelta(t, 100.37, fx.broker.calls[0].LimitPrice, 1e-9)
}

func TestCircuitOpenFailsFastWithoutBrokerCalls(t *testing.T) {
	fx := newEngineFixture(t)
	breaker := circuit.NewBreaker("broker", 1, time.Minute)
	breaker.RecordFailure() // threshold 1 opens immediately
	fx.engine.breaker = breaker
	ctx := context.Background()

	_, err := fx.engine.Execute(ctx, buySig("s6"))
	require.Error(t, err)
	assert.Equal(t, 0, fx.broker.callCount())
	assert.Equal(t, store.OutcomeFailed, fx.store.finalOutcome("s6"))
}
