package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// dryRunDB renders SQL without a server.
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.Open("host=localhost user=tickflow dbname=tickflow sslmode=disable"), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db
}

func TestUpsertQuery(t *testing.T) {
	db := dryRunDB(t)
	cp := Checkpoint{Symbol: "sh600000", TradeDate: "2026-03-02", Status: StatusCompleted, MinuteBars: 240}

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB { return upsertQuery(tx, &cp) })

	assert.Contains(t, sql, `INSERT INTO "sync_checkpoints"`)
	assert.Contains(t, sql, `ON CONFLICT ("symbol","trade_date") DO UPDATE SET`)
	assert.Contains(t, sql, `"minute_bars"="excluded"."minute_bars"`)
}

func TestMarkStatusQuery(t *testing.T) {
	db := dryRunDB(t)
	cp := Checkpoint{Symbol: "sh600000", TradeDate: "2026-03-02", Status: StatusFailed, ErrorMessage: "disk full"}

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB { return markStatusQuery(tx, &cp) })

	assert.Contains(t, sql, `"status"="excluded"."status"`)
	assert.Contains(t, sql, `"error_message"="excluded"."error_message"`)
	assert.NotContains(t, sql, `"minute_bars"="excluded"."minute_bars"`)
}

func TestOpenPostgres_RequiresDSN(t *testing.T) {
	_, err := OpenPostgres("")
	assert.Error(t, err)
}
