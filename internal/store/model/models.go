package model

import (
	"gorm.io/datatypes"
)

// ExecutionOutcome mirrors store.Outcome as its persisted form.
type ExecutionOutcome string

const (
	OutcomeApprovedPending ExecutionOutcome = "APPROVED_PENDING"
	OutcomeApproved        ExecutionOutcome = "APPROVED"
	OutcomeRejected        ExecutionOutcome = "REJECTED"
	OutcomeExecuted        ExecutionOutcome = "EXECUTED"
	OutcomeFailed          ExecutionOutcome = "FAILED"
)

type ReconcileStatus string

const (
	ReconcileStatusOK       ReconcileStatus = "OK"
	ReconcileStatusFlagged  ReconcileStatus = "FLAGGED"
	ReconcileStatusAdjusted ReconcileStatus = "ADJUSTED"
)

// ExecutionRecordModel is the append-only audit row for one signal decision.
type ExecutionRecordModel struct {
	ID            int64            `gorm:"column:id;primaryKey"`
	SignalID      string           `gorm:"column:signal_id;uniqueIndex"`
	Symbol        string           `gorm:"column:symbol;index:idx_dedup_key,priority:1"`
	StrategyID    string           `gorm:"column:strategy_id;index:idx_dedup_key,priority:2"`
	Side          string           `gorm:"column:side;index:idx_dedup_key,priority:3"`
	Outcome       ExecutionOutcome `gorm:"column:outcome"`
	Reason        string           `gorm:"column:reason"`
	OrderID       string           `gorm:"column:order_id"`
	DecidedAtUnix int64            `gorm:"column:decided_at;index:idx_dedup_key,priority:4"`
	RawSignal     datatypes.JSON   `gorm:"column:raw_signal"`
}

func (ExecutionRecordModel) TableName() string { return "execution_records" }

// FillModel records one broker-confirmed fill. order_id is unique so a
// replayed fill can never be inserted twice.
type FillModel struct {
	ID           int64   `gorm:"column:id;primaryKey"`
	OrderID      string  `gorm:"column:order_id;uniqueIndex"`
	SignalID     string  `gorm:"column:signal_id"`
	Symbol       string  `gorm:"column:symbol"`
	Side         string  `gorm:"column:side"`
	Quantity     float64 `gorm:"column:quantity"`
	Price        float64 `gorm:"column:price"`
	FilledAtUnix int64   `gorm:"column:filled_at"`
}

func (FillModel) TableName() string { return "fills" }

// PositionModel is the persisted ledger position, one row per symbol.
type PositionModel struct {
	ID              int64           `gorm:"column:id;primaryKey"`
	Symbol          string          `gorm:"column:symbol;uniqueIndex"`
	Quantity        float64         `gorm:"column:quantity"`
	AveragePrice    float64         `gorm:"column:average_price"`
	RealizedPnL     float64         `gorm:"column:realized_pnl"`
	UnrealizedPnL   float64         `gorm:"column:unrealized_pnl"`
	ReconcileStatus ReconcileStatus `gorm:"column:reconcile_status"`
	OpenedAtUnix    int64           `gorm:"column:opened_at"`
	UpdatedAtUnix   int64           `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }
