// Package checkpoint records per-symbol, per-trading-day sync progress shared with the
// historical backfill job.
package checkpoint

import (
	"context"
	"time"
)

// Status of a (symbol, trade date) checkpoint.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// DateLayout formats TradeDate.
const DateLayout = "2006-01-02"

// Checkpoint is one row of sync progress.
type Checkpoint struct {
	Symbol          string    `gorm:"primaryKey;size:32" json:"symbol"`
	TradeDate       string    `gorm:"primaryKey;size:10" json:"trade_date"`
	Status          Status    `gorm:"size:16;index;not null" json:"status"`
	DailyBars       int       `json:"daily_bars"`
	MinuteBars      int       `json:"minute_bars"`
	CompletenessPct float64   `json:"completeness_pct"`
	ErrorMessage    string    `json:"error_message"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName maps Checkpoint to the table the backfill job owns.
func (Checkpoint) TableName() string { return "sync_checkpoints" }

// Store reads and writes checkpoints.
type Store interface {
	// Get returns core.ErrNotFound when no row exists.
	Get(ctx context.Context, symbol, tradeDate string) (*Checkpoint, error)

	// Upsert inserts cp or replaces every column of the existing row.
	Upsert(ctx context.Context, cp Checkpoint) error

	// MarkStatus sets status and error message, creating the row if needed. Bar
	// counts are left untouched.
	MarkStatus(ctx context.Context, symbol, tradeDate string, status Status, errMsg string) error

	// List returns checkpoints matching the filter, newest trade date first.
	List(ctx context.Context, filter ListFilter) ([]Checkpoint, error)
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	Symbol string
	Status Status
	Limit  int
}

// TradeDate formats t as a checkpoint trade date in t's location.
func TradeDate(t time.Time) string {
	return t.Format(DateLayout)
}
