package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marlin/internal/config"
	"marlin/internal/dedup"
	"marlin/internal/exchange"
	"marlin/internal/execution"
	"marlin/internal/ledger"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/notifier"
	"marlin/internal/pkg/circuit"
	"marlin/internal/risk"
	"marlin/internal/strategy"
	"marlin/internal/store"
)

// Orchestrator runs the session state machine. All transitions happen under
// one mutex; the tick loop is a single goroutine so pipeline stages never
// run concurrently with each other.
type Orchestrator struct {
	cfg    config.SessionConfig
	window window
	now    func() time.Time

	broker  exchange.Broker
	quotes  *market.Cache
	manager *strategy.Manager
	dedup   *dedup.Deduplicator
	gate    *risk.Gate
	engine  *execution.Engine
	ledger  *ledger.Ledger
	breaker *circuit.Breaker
	notify  notifier.Notifier

	mu           sync.Mutex
	state        SessionState
	reason       string
	lossBreached bool
	signalsToday int64
	tradesToday  int64
	day          string

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

func New(cfg config.SessionConfig, broker exchange.Broker, quotes *market.Cache,
	manager *strategy.Manager, dd *dedup.Deduplicator, gate *risk.Gate,
	engine *execution.Engine, led *ledger.Ledger, breaker *circuit.Breaker,
	notify notifier.Notifier) (*Orchestrator, error) {
	win, err := parseWindow(cfg.MarketOpen, cfg.MarketClose, cfg.AlwaysOpen)
	if err != nil {
		return nil, err
	}
	if notify == nil {
		notify = notifier.Nop{}
	}
	o := &Orchestrator{
		cfg:     cfg,
		window:  win,
		now:     time.Now,
		broker:  broker,
		quotes:  quotes,
		manager: manager,
		dedup:   dd,
		gate:    gate,
		engine:  engine,
		ledger:  led,
		breaker: breaker,
		notify:  notify,
		state:   StateInitializing,
	}
	o.day = o.now().Format("2006-01-02")
	return o, nil
}

// Initialize verifies collaborators and moves INITIALIZING to READY. A
// failure here is unrecoverable and lands in ERROR.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateInitializing {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("initialize from %s", state)
	}
	o.mu.Unlock()

	if err := o.broker.Health(ctx); err != nil {
		o.fail("broker health check failed: " + err.Error())
		return err
	}
	if _, err := o.quotes.Refresh(ctx, o.cfg.Symbols); err != nil {
		logger.Warnf("orchestrator: initial quote fetch failed, will retry on tick: %v", err)
	}

	o.transition(StateReady, "")
	return nil
}

// Start moves READY to ACTIVE and launches the tick loop. It is idempotent:
// starting an active session reports success without side effects.
func (o *Orchestrator) Start() (bool, string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateActive:
		return true, "session already active"
	case StatePaused:
		return false, "session paused: " + o.reason
	case StateReady:
	default:
		return false, fmt.Sprintf("cannot start from %s", o.state)
	}
	if !o.window.contains(o.now()) {
		return false, "market closed"
	}
	if o.breaker != nil && !o.breaker.Healthy() {
		return false, "broker circuit open"
	}

	o.setState(StateActive, "")
	loopCtx, cancel := context.WithCancel(context.Background())
	o.loopCancel = cancel
	o.loopDone = make(chan struct{})
	go o.runLoop(loopCtx)
	logger.Infof("orchestrator: session started, %d symbols, tick %s",
		len(o.cfg.Symbols), o.cfg.TickInterval())
	return true, "session started"
}

// Stop moves ACTIVE or PAUSED to STOPPED. STOPPED is terminal.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	if o.state != StateActive && o.state != StatePaused {
		o.mu.Unlock()
		return false
	}
	cancel, done := o.loopCancel, o.loopDone
	o.setState(StateStopped, "operator stop")
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	o.notifyAsync("Session stopped", "")
	return true
}

func (o *Orchestrator) Status() SessionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return SessionStatus{
		State:               o.state,
		Reason:              o.reason,
		ActiveStrategyCount: o.manager.ActiveCount(),
		TotalSignalsToday:   o.signalsToday,
		TotalTradesToday:    o.tradesToday,
	}
}

// DailyLossBreach pauses the session until the next day rollover. Wired to
// the risk gate's breach callback.
func (o *Orchestrator) DailyLossBreach() {
	o.mu.Lock()
	o.lossBreached = true
	o.mu.Unlock()
	o.pause("daily loss limit breached")
	o.notifyAsync("Daily loss limit breached", "trading paused until next session day")
}

// Fail moves the session to ERROR. There is no automatic exit from ERROR.
// Wired to the ledger's invariant violation callback.
func (o *Orchestrator) Fail(reason string) {
	o.mu.Lock()
	if o.state == StateError {
		o.mu.Unlock()
		return
	}
	cancel := o.loopCancel
	o.setState(StateError, reason)
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	logger.Errorf("orchestrator: session moved to ERROR: %s", reason)
	o.notifyAsync("Session ERROR", reason)
}

func (o *Orchestrator) runLoop(ctx context.Context) {
	defer close(o.loopDone)
	ticker := time.NewTicker(o.cfg.TickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// tick is one full pipeline pass. Pause evaluation runs first so a paused
// session keeps watching for recovery without trading.
func (o *Orchestrator) tick(ctx context.Context) {
	o.rolloverIfNewDay()

	snap, err := o.quotes.Refresh(ctx, o.cfg.Symbols)
	if err != nil {
		logger.Warnf("orchestrator: quote refresh failed: %v", err)
		snap = o.quotes.Last()
	}

	if reason := o.pauseReason(snap); reason != "" {
		o.pause(reason)
		return
	}
	if !o.resume() {
		return
	}

	signals := o.manager.Collect(ctx, snap)
	if len(signals) > 0 {
		o.mu.Lock()
		o.signalsToday += int64(len(signals))
		o.mu.Unlock()
	}

	admitted := o.dedup.Filter(ctx, signals)
	for _, sig := range admitted {
		if ctx.Err() != nil {
			return
		}
		approved, reason, err := o.gate.Evaluate(ctx, sig)
		if err != nil {
			logger.Errorf("orchestrator: risk evaluation failed signal=%s: %v", sig.ID, err)
			o.dedup.Resolve(sig, store.OutcomeFailed)
			continue
		}
		if !approved {
			logger.Event("signal_rejected", "signal_id", sig.ID, "symbol", sig.Symbol, "reason", reason)
			o.dedup.Resolve(sig, store.OutcomeRejected)
			continue
		}
		result, err := o.engine.Execute(ctx, sig)
		if err != nil {
			logger.Warnf("orchestrator: execution failed signal=%s: %v", sig.ID, err)
			continue
		}
		if result.BrokerOrderID != "" {
			o.mu.Lock()
			o.tradesToday++
			o.mu.Unlock()
		}
	}

	o.markPrices(snap)
}

func (o *Orchestrator) markPrices(snap market.Snapshot) {
	if len(snap.Quotes) == 0 {
		return
	}
	prices := make(map[string]float64, len(snap.Quotes))
	for sym, q := range snap.Quotes {
		prices[sym] = q.LTP
	}
	o.ledger.MarkPrices(prices)
}

// pauseReason returns the first blocking condition, or empty when trading
// may proceed.
func (o *Orchestrator) pauseReason(snap market.Snapshot) string {
	o.mu.Lock()
	lossBreached := o.lossBreached
	o.mu.Unlock()
	if lossBreached {
		return "daily loss limit breached"
	}
	if !o.window.contains(o.now()) {
		return "market closed"
	}
	if o.breaker != nil && !o.breaker.Healthy() {
		return "broker circuit open"
	}
	if snap.Stale(o.cfg.Symbols, o.cfg.MaxQuoteAge()) {
		return "stale quotes"
	}
	return ""
}

func (o *Orchestrator) pause(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateActive {
		if o.state == StatePaused && o.reason != reason {
			o.setState(StatePaused, reason)
		}
		return
	}
	o.setState(StatePaused, reason)
}

// resume reports whether the tick may trade, flipping PAUSED back to ACTIVE
// when the blocking condition has cleared.
func (o *Orchestrator) resume() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case StateActive:
		return true
	case StatePaused:
		o.setState(StateActive, "")
		return true
	default:
		return false
	}
}

func (o *Orchestrator) rolloverIfNewDay() {
	today := o.now().Format("2006-01-02")
	o.mu.Lock()
	if today == o.day {
		o.mu.Unlock()
		return
	}
	o.day = today
	o.signalsToday = 0
	o.tradesToday = 0
	o.lossBreached = false
	o.mu.Unlock()

	o.ledger.ResetDaily()
	logger.Infof("orchestrator: day rollover to %s, counters and daily PnL reset", today)
}

func (o *Orchestrator) transition(to SessionState, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.setState(to, reason)
}

// setState must be called with o.mu held.
func (o *Orchestrator) setState(to SessionState, reason string) {
	if o.state == to && o.reason == reason {
		return
	}
	logger.Event("session_transition", "from", string(o.state), "to", string(to), "reason", reason)
	o.state = to
	o.reason = reason
}

func (o *Orchestrator) fail(reason string) {
	o.transition(StateError, reason)
	logger.Errorf("orchestrator: %s", reason)
}

func (o *Orchestrator) notifyAsync(title, body string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.notify.Notify(ctx, title, body); err != nil {
			logger.Warnf("orchestrator: notify failed: %v", err)
		}
	}()
}
