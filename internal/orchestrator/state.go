// Package orchestrator owns the session state machine and the tick loop
// that drives the signal pipeline.
package orchestrator

import (
	"fmt"
	"time"
)

// SessionState is the lifecycle phase of a trading session.
type SessionState string

const (
	StateInitializing SessionState = "INITIALIZING"
	StateReady        SessionState = "READY"
	StateActive       SessionState = "ACTIVE"
	StatePaused       SessionState = "PAUSED"
	StateStopped      SessionState = "STOPPED"
	StateError        SessionState = "ERROR"
)

// SessionStatus is the snapshot surface exposed over HTTP and in logs.
type SessionStatus struct {
	State               SessionState `json:"state"`
	Reason              string       `json:"reason,omitempty"`
	ActiveStrategyCount int          `json:"active_strategy_count"`
	TotalSignalsToday   int64        `json:"total_signals_today"`
	TotalTradesToday    int64        `json:"total_trades_today"`
}

// window is the daily trading window in session-local wall time.
type window struct {
	alwaysOpen bool
	openMin    int // minutes after midnight
	closeMin   int
}

func parseWindow(open, close string, alwaysOpen bool) (window, error) {
	if alwaysOpen {
		return window{alwaysOpen: true}, nil
	}
	om, err := parseHHMM(open)
	if err != nil {
		return window{}, fmt.Errorf("market_open: %w", err)
	}
	cm, err := parseHHMM(close)
	if err != nil {
		return window{}, fmt.Errorf("market_close: %w", err)
	}
	if cm <= om {
		return window{}, fmt.Errorf("market_close %q must be after market_open %q", close, open)
	}
	return window{openMin: om, closeMin: cm}, nil
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (w window) contains(now time.Time) bool {
	if w.alwaysOpen {
		return true
	}
	m := now.Hour()*60 + now.Minute()
	return m >= w.openMin && m < w.closeMin
}
