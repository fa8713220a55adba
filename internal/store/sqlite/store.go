package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"marlin/internal/store"
	"marlin/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SqliteStore implements store.Store on a single sqlite file.
type SqliteStore struct {
	db *gorm.DB
}

func NewSqliteStore(path string) (*SqliteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return NewSqliteStoreFromDB(db)
}

func NewSqliteStoreFromDB(db *gorm.DB) (*SqliteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	models := []interface{}{
		&model.ExecutionRecordModel{},
		&model.FillModel{},
		&model.PositionModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) AppendExecutionRecord(ctx context.Context, rec store.ExecutionRecord) error {
	row := executionRecordToModel(rec)
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *SqliteStore) UpdateExecutionOutcome(ctx context.Context, signalID string, outcome store.Outcome, reason, orderID string) error {
	updates := map[string]any{
		"outcome":    model.ExecutionOutcome(outcome),
		"reason":     reason,
		"decided_at": time.Now().Unix(),
	}
	if orderID != "" {
		updates["order_id"] = orderID
	}
	res := s.db.WithContext(ctx).
		Model(&model.ExecutionRecordModel{}).
		Where("signal_id = ?", signalID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("execution record not found: %s", signalID)
	}
	return nil
}

func (s *SqliteStore) LastDecision(ctx context.Context, symbol, strategyID, side string) (*store.ExecutionRecord, error) {
	var row model.ExecutionRecordModel
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND strategy_id = ? AND side = ?", symbol, strategyID, side).
		Order("decided_at DESC, id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := modelToExecutionRecord(row)
	return &rec, nil
}

func (s *SqliteStore) AppendFill(ctx context.Context, fill store.FillRecord) error {
	row := model.FillModel{
		OrderID:      fill.OrderID,
		SignalID:     fill.SignalID,
		Symbol:       fill.Symbol,
		Side:         fill.Side,
		Quantity:     fill.Quantity,
		Price:        fill.Price,
		FilledAtUnix: fill.FilledAt.Unix(),
	}
	// A replayed fill hits the order_id unique index and is dropped.
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoNothing: true,
	}).Create(&row).Error
}

func (s *SqliteStore) SavePosition(ctx context.Context, rec store.PositionRecord) error {
	row := model.PositionModel{
		Symbol:          rec.Symbol,
		Quantity:        rec.Quantity,
		AveragePrice:    rec.AveragePrice,
		RealizedPnL:     rec.RealizedPnL,
		UnrealizedPnL:   rec.UnrealizedPnL,
		ReconcileStatus: model.ReconcileStatus(rec.ReconcileStatus),
		OpenedAtUnix:    rec.OpenedAt.Unix(),
		UpdatedAtUnix:   rec.UpdatedAt.Unix(),
	}
	if row.ReconcileStatus == "" {
		row.ReconcileStatus = model.ReconcileStatusOK
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *SqliteStore) RemovePosition(ctx context.Context, symbol string) error {
	return s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Delete(&model.PositionModel{}).Error
}

func (s *SqliteStore) FlagPosition(ctx context.Context, symbol, status string) error {
	return s.db.WithContext(ctx).
		Model(&model.PositionModel{}).
		Where("symbol = ?", symbol).
		Update("reconcile_status", model.ReconcileStatus(status)).Error
}

func (s *SqliteStore) LoadOpenPositions(ctx context.Context) ([]store.PositionRecord, error) {
	var rows []model.PositionModel
	if err := s.db.WithContext(ctx).
		Where("quantity != 0").
		Order("symbol ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.PositionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, store.PositionRecord{
			Symbol:          row.Symbol,
			Quantity:        row.Quantity,
			AveragePrice:    row.AveragePrice,
			RealizedPnL:     row.RealizedPnL,
			UnrealizedPnL:   row.UnrealizedPnL,
			ReconcileStatus: string(row.ReconcileStatus),
			OpenedAt:        time.Unix(row.OpenedAtUnix, 0),
			UpdatedAt:       time.Unix(row.UpdatedAtUnix, 0),
		})
	}
	return out, nil
}

func (s *SqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func executionRecordToModel(rec store.ExecutionRecord) model.ExecutionRecordModel {
	decidedAt := rec.DecidedAt
	if decidedAt.IsZero() {
		decidedAt = time.Now()
	}
	return model.ExecutionRecordModel{
		SignalID:      rec.SignalID,
		Symbol:        rec.Symbol,
		StrategyID:    rec.StrategyID,
		Side:          rec.Side,
		Outcome:       model.ExecutionOutcome(rec.Outcome),
		Reason:        rec.Reason,
		OrderID:       rec.OrderID,
		DecidedAtUnix: decidedAt.Unix(),
		RawSignal:     rec.RawSignal,
	}
}

func modelToExecutionRecord(row model.ExecutionRecordModel) store.ExecutionRecord {
	return store.ExecutionRecord{
		SignalID:   row.SignalID,
		Symbol:     row.Symbol,
		StrategyID: row.StrategyID,
		Side:       row.Side,
		Outcome:    store.Outcome(row.Outcome),
		Reason:     row.Reason,
		OrderID:    row.OrderID,
		DecidedAt:  time.Unix(row.DecidedAtUnix, 0),
		RawSignal:  row.RawSignal,
	}
}
