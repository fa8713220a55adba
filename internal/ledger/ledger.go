package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"marlin/internal/exchange"
	"marlin/internal/logger"
	"marlin/internal/store"

	"github.com/shopspring/decimal"
)

type commandKind int

const (
	cmdApplyFill commandKind = iota
	cmdMarkPrices
	cmdResetDaily
)

type command struct {
	kind    commandKind
	fill    Fill
	prices  map[string]float64
	replyCh chan error
}

type Params struct {
	TotalCapital   float64
	DailyLossLimit float64
	Store          store.Store
	// OnViolation is called once when the capital invariant breaks; the
	// orchestrator transitions the session to ERROR.
	OnViolation func(error)
}

// Ledger is the event-loop actor owning CapitalState and the position map.
// Reads go through atomic snapshots; writes are strictly ordered by the
// single goroutine, which is what serializes capital mutation across the
// pipeline.
type Ledger struct {
	params Params

	msgCh  chan command
	stopCh chan struct{}
	wg     sync.WaitGroup

	// Owned by runLoop only.
	positions map[string]Position
	capital   CapitalState
	applied   map[string]bool // order IDs already applied
	fillCount int
	halted    bool

	snapshot atomic.Value // Snapshot
}

func New(params Params) *Ledger {
	total := decimal.NewFromFloat(params.TotalCapital)
	l := &Ledger{
		params:    params,
		msgCh:     make(chan command, 64),
		stopCh:    make(chan struct{}),
		positions: make(map[string]Position),
		applied:   make(map[string]bool),
		capital: CapitalState{
			TotalCapital:     total,
			AvailableCapital: total,
			AllocatedCapital: decimal.Zero,
			DailyLossLimit:   decimal.NewFromFloat(params.DailyLossLimit),
		},
	}
	l.publishSnapshot()
	return l
}

// Rehydrate loads open positions from the store before the loop starts.
// Must be called before Start.
func (l *Ledger) Rehydrate(ctx context.Context) error {
	if l.params.Store == nil {
		return nil
	}
	records, err := l.params.Store.LoadOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("loading open positions failed: %w", err)
	}
	for _, rec := range records {
		symbol := strings.ToUpper(strings.TrimSpace(rec.Symbol))
		if symbol == "" || rec.Quantity == 0 {
			continue
		}
		pos := Position{
			Symbol:        symbol,
			Quantity:      decimal.NewFromFloat(rec.Quantity),
			AveragePrice:  decimal.NewFromFloat(rec.AveragePrice),
			RealizedPnL:   decimal.NewFromFloat(rec.RealizedPnL),
			OpenedAt:      rec.OpenedAt,
			LastUpdatedAt: rec.UpdatedAt,
		}
		l.positions[symbol] = pos
		notional := pos.Notional()
		l.capital.AllocatedCapital = l.capital.AllocatedCapital.Add(notional)
		l.capital.AvailableCapital = l.capital.AvailableCapital.Sub(notional)
	}
	if !l.capital.balanced() {
		return fmt.Errorf("%w after rehydration: allocated=%s available=%s total=%s",
			ErrCapitalImbalance,
			l.capital.AllocatedCapital, l.capital.AvailableCapital, l.capital.TotalCapital)
	}
	l.publishSnapshot()
	logger.Infof("ledger rehydrated: %d open positions, allocated=%s", len(records), l.capital.AllocatedCapital)
	return nil
}

func (l *Ledger) Start() {
	l.wg.Add(1)
	go l.runLoop()
}

func (l *Ledger) Stop() {
	close(l.stopCh)
	l.wg.Wait()
}

// ApplyFill hands a fill to the actor and waits for the outcome. Replaying
// an order ID is a no-op, not an error.
func (l *Ledger) ApplyFill(ctx context.Context, fill Fill) error {
	replyCh := make(chan error, 1)
	cmd := command{kind: cmdApplyFill, fill: fill, replyCh: replyCh}
	select {
	case l.msgCh <- cmd:
	case <-l.stopCh:
		return fmt.Errorf("ledger is stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-replyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopCh:
		return fmt.Errorf("ledger stopped during fill")
	}
}

// MarkPrices refreshes unrealized PnL asynchronously; a full mailbox drops
// the mark rather than blocking the tick.
func (l *Ledger) MarkPrices(prices map[string]float64) {
	select {
	case l.msgCh <- command{kind: cmdMarkPrices, prices: prices}:
	default:
	}
}

// ResetDaily zeroes the daily PnL at day rollover.
func (l *Ledger) ResetDaily() {
	select {
	case l.msgCh <- command{kind: cmdResetDaily}:
	case <-l.stopCh:
	}
}

// Snapshot returns the latest published state.
func (l *Ledger) Snapshot() Snapshot {
	val := l.snapshot.Load()
	if val == nil {
		return Snapshot{Positions: map[string]Position{}}
	}
	return val.(Snapshot)
}

// CapitalView for the risk gate.

func (l *Ledger) AvailableCapital() float64 {
	f, _ := l.Snapshot().Capital.AvailableCapital.Float64()
	return f
}

func (l *Ledger) DailyPnL() float64 {
	f, _ := l.Snapshot().Capital.DailyPnL.Float64()
	return f
}

func (l *Ledger) PositionNotional(symbol string) float64 {
	snap := l.Snapshot()
	pos, ok := snap.Positions[symbol]
	if !ok {
		return 0
	}
	f, _ := pos.Notional().Float64()
	return f
}

// PositionQuantity returns the signed open quantity for symbol, used by the
// execution engine to size EXIT orders.
func (l *Ledger) PositionQuantity(symbol string) float64 {
	snap := l.Snapshot()
	pos, ok := snap.Positions[symbol]
	if !ok {
		return 0
	}
	f, _ := pos.Quantity.Float64()
	return f
}

func (l *Ledger) runLoop() {
	defer l.wg.Done()
	logger.Infof("ledger actor started")
	for {
		select {
		case cmd := <-l.msgCh:
			l.handle(cmd)
		case <-l.stopCh:
			logger.Infof("ledger actor stopping")
			return
		}
	}
}

func (l *Ledger) handle(cmd command) {
	var err error
	switch cmd.kind {
	case cmdApplyFill:
		err = l.applyFill(cmd.fill)
	case cmdMarkPrices:
		l.markPrices(cmd.prices)
	case cmdResetDaily:
		l.capital.DailyPnL = decimal.Zero
		l.publishSnapshot()
	}
	if cmd.replyCh != nil {
		cmd.replyCh <- err
		close(cmd.replyCh)
	}
}

func (l *Ledger) applyFill(fill Fill) error {
	if l.halted {
		return ErrHalted
	}
	if fill.OrderID == "" || fill.Symbol == "" || fill.Quantity <= 0 || fill.Price <= 0 {
		return fmt.Errorf("%w: order=%q symbol=%q qty=%f price=%f",
			ErrInvalidFill, fill.OrderID, fill.Symbol, fill.Quantity, fill.Price)
	}
	if l.applied[fill.OrderID] {
		logger.Debugf("ledger: fill %s already applied, skipping", fill.OrderID)
		return nil
	}

	symbol := strings.ToUpper(strings.TrimSpace(fill.Symbol))
	delta := decimal.NewFromFloat(fill.Quantity)
	if fill.Side == exchange.SideSell {
		delta = delta.Neg()
	}
	price := decimal.NewFromFloat(fill.Price)
	at := fill.FilledAt
	if at.IsZero() {
		at = time.Now()
	}

	pos := l.positions[symbol]
	pos.Symbol = symbol
	updated, realized, allocDelta := applyDelta(pos, delta, price, at)
	updated.RealizedPnL = pos.RealizedPnL.Add(realized)

	l.capital.AllocatedCapital = l.capital.AllocatedCapital.Add(allocDelta)
	l.capital.AvailableCapital = l.capital.AvailableCapital.Sub(allocDelta).Add(realized)
	l.capital.TotalCapital = l.capital.TotalCapital.Add(realized)
	l.capital.DailyPnL = l.capital.DailyPnL.Add(realized)

	if !l.capital.balanced() {
		l.halted = true
		err := fmt.Errorf("%w: allocated=%s available=%s total=%s (order=%s)",
			ErrCapitalImbalance,
			l.capital.AllocatedCapital, l.capital.AvailableCapital, l.capital.TotalCapital,
			fill.OrderID)
		logger.Errorf("ledger: %v", err)
		if l.params.OnViolation != nil {
			go l.params.OnViolation(err)
		}
		return err
	}

	if updated.Quantity.IsZero() {
		delete(l.positions, symbol)
	} else {
		l.positions[symbol] = updated
	}
	l.applied[fill.OrderID] = true
	l.fillCount++
	l.persist(fill, updated)
	l.publishSnapshot()
	return nil
}

// persist mirrors the mutation into the store; persistence failures are
// logged, the in-memory ledger stays authoritative for the session.
func (l *Ledger) persist(fill Fill, pos Position) {
	if l.params.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.params.Store.AppendFill(ctx, store.FillRecord{
		OrderID:  fill.OrderID,
		SignalID: fill.SignalID,
		Symbol:   pos.Symbol,
		Side:     string(fill.Side),
		Quantity: fill.Quantity,
		Price:    fill.Price,
		FilledAt: fill.FilledAt,
	}); err != nil {
		logger.Warnf("ledger: fill persist failed order=%s: %v", fill.OrderID, err)
	}
	if pos.Quantity.IsZero() {
		if err := l.params.Store.RemovePosition(ctx, pos.Symbol); err != nil {
			logger.Warnf("ledger: position remove failed %s: %v", pos.Symbol, err)
		}
		return
	}
	qty, _ := pos.Quantity.Float64()
	avg, _ := pos.AveragePrice.Float64()
	realized, _ := pos.RealizedPnL.Float64()
	unrealized, _ := pos.UnrealizedPnL.Float64()
	if err := l.params.Store.SavePosition(ctx, store.PositionRecord{
		Symbol:        pos.Symbol,
		Quantity:      qty,
		AveragePrice:  avg,
		RealizedPnL:   realized,
		UnrealizedPnL: unrealized,
		OpenedAt:      pos.OpenedAt,
		UpdatedAt:     pos.LastUpdatedAt,
	}); err != nil {
		logger.Warnf("ledger: position persist failed %s: %v", pos.Symbol, err)
	}
}

func (l *Ledger) markPrices(prices map[string]float64) {
	changed := false
	for symbol, price := range prices {
		pos, ok := l.positions[strings.ToUpper(symbol)]
		if !ok {
			continue
		}
		l.positions[pos.Symbol] = markPosition(pos, decimal.NewFromFloat(price))
		changed = true
	}
	if changed {
		l.publishSnapshot()
	}
}

func (l *Ledger) publishSnapshot() {
	positions := make(map[string]Position, len(l.positions))
	for k, v := range l.positions {
		positions[k] = v
	}
	l.snapshot.Store(Snapshot{
		Positions: positions,
		Capital:   l.capital,
		FillCount: l.fillCount,
		TakenAt:   time.Now(),
	})
}
