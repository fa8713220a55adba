// Package store defines the persistence collaborator consumed by the
// pipeline. Schema management beyond AutoMigrate and any reporting queries
// are out of scope here.
package store

import (
	"context"
	"time"
)

// Outcome is the lifecycle state of a signal's ExecutionRecord.
type Outcome string

const (
	OutcomeApprovedPending Outcome = "APPROVED_PENDING"
	OutcomeApproved        Outcome = "APPROVED"
	OutcomeRejected        Outcome = "REJECTED"
	OutcomeExecuted        Outcome = "EXECUTED"
	OutcomeFailed          Outcome = "FAILED"
)

// Claimed reports whether this outcome blocks a new signal with the same
// dedup key inside the cooldown window.
func (o Outcome) Claimed() bool {
	switch o {
	case OutcomeApprovedPending, OutcomeApproved, OutcomeExecuted:
		return true
	default:
		return false
	}
}

// ExecutionRecord is the append-only audit entry for one signal decision.
type ExecutionRecord struct {
	SignalID   string
	Symbol     string
	StrategyID string
	Side       string
	Outcome    Outcome
	Reason     string
	OrderID    string
	DecidedAt  time.Time
	RawSignal  []byte
}

// FillRecord is one broker-confirmed fill, keyed by order ID.
type FillRecord struct {
	OrderID  string
	SignalID string
	Symbol   string
	Side     string
	Quantity float64
	Price    float64
	FilledAt time.Time
}

// PositionRecord is the persisted form of a ledger position.
type PositionRecord struct {
	Symbol          string
	Quantity        float64
	AveragePrice    float64
	RealizedPnL     float64
	UnrealizedPnL   float64
	ReconcileStatus string
	OpenedAt        time.Time
	UpdatedAt       time.Time
}

// Store is the persistence entry point.
type Store interface {
	// AppendExecutionRecord inserts a new record; the signal ID must be
	// unique, a duplicate insert is an error.
	AppendExecutionRecord(ctx context.Context, rec ExecutionRecord) error
	// UpdateExecutionOutcome advances the record for signalID.
	UpdateExecutionOutcome(ctx context.Context, signalID string, outcome Outcome, reason, orderID string) error
	// LastDecision returns the most recent record for the dedup key, or nil.
	LastDecision(ctx context.Context, symbol, strategyID, side string) (*ExecutionRecord, error)

	AppendFill(ctx context.Context, fill FillRecord) error

	SavePosition(ctx context.Context, rec PositionRecord) error
	RemovePosition(ctx context.Context, symbol string) error
	FlagPosition(ctx context.Context, symbol, status string) error
	// LoadOpenPositions rehydrates the ledger at session startup.
	LoadOpenPositions(ctx context.Context) ([]PositionRecord, error)

	Close() error
}
