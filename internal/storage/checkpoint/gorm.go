package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newthinker/tickflow/internal/core"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// GormStore keeps checkpoints in the sync_checkpoints table.
type GormStore struct {
	db *gorm.DB

	// For testing: allow clock control
	now func() time.Time
}

// OpenPostgres connects to dsn and migrates the checkpoint table.
func OpenPostgres(dsn string) (*GormStore, error) {
	if dsn == "" {
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("checkpoint dsn"))
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting checkpoint database: %w", err)
	}
	if err := db.AutoMigrate(&Checkpoint{}); err != nil {
		return nil, fmt.Errorf("migrating %s: %w", Checkpoint{}.TableName(), err)
	}
	return NewGormStore(db), nil
}

// NewGormStore wraps an open connection. The table must already exist.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Get(ctx context.Context, symbol, tradeDate string) (*Checkpoint, error) {
	var cp Checkpoint
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND trade_date = ?", symbol, tradeDate).
		First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.WrapError(core.ErrNotFound, fmt.Errorf("checkpoint %s %s", symbol, tradeDate))
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *GormStore) Upsert(ctx context.Context, cp Checkpoint) error {
	if cp.Symbol == "" || cp.TradeDate == "" {
		return fmt.Errorf("checkpoint needs symbol and trade date")
	}
	if cp.Status == "" {
		cp.Status = StatusPending
	}
	cp.UpdatedAt = s.now()
	return upsertQuery(s.db.WithContext(ctx), &cp).Error
}

func (s *GormStore) MarkStatus(ctx context.Context, symbol, tradeDate string, status Status, errMsg string) error {
	if symbol == "" || tradeDate == "" {
		return fmt.Errorf("checkpoint needs symbol and trade date")
	}
	cp := Checkpoint{
		Symbol:       symbol,
		TradeDate:    tradeDate,
		Status:       status,
		ErrorMessage: errMsg,
		UpdatedAt:    s.now(),
	}
	return markStatusQuery(s.db.WithContext(ctx), &cp).Error
}

func (s *GormStore) List(ctx context.Context, filter ListFilter) ([]Checkpoint, error) {
	q := s.db.WithContext(ctx).Model(&Checkpoint{})
	if filter.Symbol != "" {
		q = q.Where("symbol = ?", filter.Symbol)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []Checkpoint
	if err := q.Order("trade_date DESC").Order("symbol").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func upsertQuery(tx *gorm.DB, cp *Checkpoint) *gorm.DB {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "trade_date"}},
		UpdateAll: true,
	}).Create(cp)
}

func markStatusQuery(tx *gorm.DB, cp *Checkpoint) *gorm.DB {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "trade_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "error_message", "updated_at"}),
	}).Create(cp)
}
