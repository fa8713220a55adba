package strategy

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"marlin/internal/config/loader"
	"marlin/internal/logger"
	"marlin/internal/market"

	"golang.org/x/sync/errgroup"
)

// instance wraps one registered strategy with its runtime bookkeeping.
type instance struct {
	strategy Strategy
	def      loader.ProfileDefinition
	order    int

	enabled  bool
	failures int // consecutive
}

// ManagerParams configures the fan-out.
type ManagerParams struct {
	Timeout          time.Duration
	DisableThreshold int
	SessionSymbols   []string
	// OnDisable is invoked (outside the manager lock) whenever repeated
	// failures force a strategy off.
	OnDisable func(strategyID string, err error)
}

// Manager owns the registry of strategy instances and fans snapshots out to
// every enabled one on each tick. A slow or failing strategy yields "no
// signal" for the tick; it never blocks the others.
type Manager struct {
	params ManagerParams

	mu        sync.Mutex
	instances []*instance
}

func NewManager(params ManagerParams) *Manager {
	if params.Timeout <= 0 {
		params.Timeout = 2 * time.Second
	}
	if params.DisableThreshold <= 0 {
		params.DisableThreshold = 3
	}
	return &Manager{params: params}
}

// Register appends a strategy built from def. Registration order is the
// signal ordering downstream, so callers register in profile-file order.
func (m *Manager) Register(def loader.ProfileDefinition) error {
	st, err := Build(def)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.instances {
		if inst.strategy.ID() == st.ID() {
			return fmt.Errorf("strategy already registered: %s", st.ID())
		}
	}
	m.instances = append(m.instances, &instance{
		strategy: st,
		def:      def,
		order:    len(m.instances),
		enabled:  def.IsEnabled(),
	})
	return nil
}

// ApplyProfiles reconciles the registry against a reloaded profile set:
// known IDs get their enabled flag and cooldown refreshed, new IDs are
// registered, removed IDs are disabled. Strategy internal state survives a
// reload; parameter changes require a restart.
func (m *Manager) ApplyProfiles(defs []loader.ProfileDefinition) {
	m.mu.Lock()
	byID := make(map[string]*instance, len(m.instances))
	for _, inst := range m.instances {
		byID[inst.strategy.ID()] = inst
	}
	seen := make(map[string]bool, len(defs))
	var missing []loader.ProfileDefinition
	for _, def := range defs {
		seen[def.ID] = true
		if inst, ok := byID[def.ID]; ok {
			inst.def = def
			inst.enabled = def.IsEnabled()
			inst.failures = 0
			continue
		}
		missing = append(missing, def)
	}
	for _, inst := range m.instances {
		if !seen[inst.strategy.ID()] {
			inst.enabled = false
		}
	}
	m.mu.Unlock()

	for _, def := range missing {
		if err := m.Register(def); err != nil {
			logger.Warnf("profile reload: registering %s failed: %v", def.ID, err)
		}
	}
}

// ActiveCount returns the number of enabled strategies.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, inst := range m.instances {
		if inst.enabled {
			n++
		}
	}
	return n
}

// Cooldown returns the configured cooldown for a strategy ID, or zero when
// the strategy has none (the deduplicator then applies its default).
func (m *Manager) Cooldown(strategyID string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.instances {
		if inst.strategy.ID() == strategyID {
			return inst.def.Cooldown()
		}
	}
	return 0
}

type tickResult struct {
	order   int
	signals []Signal
}

// Collect runs every enabled strategy against the snapshot concurrently and
// returns all candidate signals in registration order.
func (m *Manager) Collect(ctx context.Context, snap market.Snapshot) []Signal {
	m.mu.Lock()
	enabled := make([]*instance, 0, len(m.instances))
	for _, inst := range m.instances {
		if inst.enabled {
			enabled = append(enabled, inst)
		}
	}
	m.mu.Unlock()
	if len(enabled) == 0 {
		return nil
	}

	results := make([]tickResult, len(enabled))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(len(enabled))
	for i, inst := range enabled {
		i, inst := i, inst
		group.Go(func() error {
			signals, err := m.runInstance(groupCtx, inst, snap)
			results[i] = tickResult{order: inst.order, signals: signals}
			if err != nil {
				m.recordFailure(inst, err)
			} else {
				m.recordSuccess(inst)
			}
			// Fan-out never aborts the tick for one strategy.
			return nil
		})
	}
	_ = group.Wait()

	var out []Signal
	for _, res := range results {
		out = append(out, res.signals...)
	}
	return out
}

// runInstance evaluates one strategy over its symbol set with the shared
// per-invocation timeout. A panic inside a strategy is contained and counted
// as a failure.
func (m *Manager) runInstance(ctx context.Context, inst *instance, snap market.Snapshot) (signals []Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("strategy %s panicked: %v", inst.strategy.ID(), r)
			debug.PrintStack()
			signals = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, m.params.Timeout)
	defer cancel()

	symbols := inst.def.Symbols
	if len(symbols) == 0 {
		symbols = m.params.SessionSymbols
	}
	for _, symbol := range symbols {
		sig, evalErr := inst.strategy.Evaluate(runCtx, symbol, snap)
		if evalErr != nil {
			return signals, evalErr
		}
		if sig != nil {
			signals = append(signals, *sig)
		}
	}
	return signals, nil
}

func (m *Manager) recordFailure(inst *instance, err error) {
	var disabled bool
	m.mu.Lock()
	inst.failures++
	if inst.failures >= m.params.DisableThreshold && inst.enabled {
		inst.enabled = false
		disabled = true
	}
	failures := inst.failures
	m.mu.Unlock()

	logger.Warnf("strategy %s failed (%d consecutive): %v", inst.strategy.ID(), failures, err)
	if disabled {
		logger.Errorf("strategy %s auto-disabled after %d consecutive failures", inst.strategy.ID(), failures)
		if m.params.OnDisable != nil {
			m.params.OnDisable(inst.strategy.ID(), err)
		}
	}
}

func (m *Manager) recordSuccess(inst *instance) {
	m.mu.Lock()
	inst.failures = 0
	m.mu.Unlock()
}
