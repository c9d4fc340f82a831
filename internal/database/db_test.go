package database

import (
	"fmt"
	"testing"

	"stock_review/internal/config"
	"stock_review/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newDryRunDB 只生成 SQL 不连接数据库，执行过的语句收集到返回的切片中
func newDryRunDB(t *testing.T) (*gorm.DB, *[]string) {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=127.0.0.1 user=test dbname=test sslmode=disable",
	}), &gorm.Config{
		DryRun:                 true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err)

	var statements []string
	record := func(tx *gorm.DB) {
		statements = append(statements, tx.Statement.SQL.String())
	}
	require.NoError(t, db.Callback().Delete().After("gorm:delete").Register("test:record_delete", record))
	require.NoError(t, db.Callback().Create().After("gorm:create").Register("test:record_create", record))
	return db, &statements
}

func watchlistRecords(n int) []models.WatchlistRecord {
	records := make([]models.WatchlistRecord, n)
	for i := range records {
		records[i] = models.WatchlistRecord{
			TradeDate: "20240105",
			List:      string(models.PoolWatchlist1),
			Seq:       i + 1,
			Code:      fmt.Sprintf("%06d", 600000+i),
			Name:      fmt.Sprintf("股票%d", i),
		}
	}
	return records
}

func TestReplaceWatchlists(t *testing.T) {
	db, statements := newDryRunDB(t)

	require.NoError(t, ReplaceWatchlists(db, "20240105", watchlistRecords(3)))
	require.Len(t, *statements, 2)
	assert.Contains(t, (*statements)[0], `DELETE FROM "watchlist_records" WHERE trade_date = $1`)
	assert.Contains(t, (*statements)[1], `INSERT INTO "watchlist_records"`)
	assert.Contains(t, (*statements)[1], `"trade_date"`)
}

// TestReplaceWatchlists_Batches 超过批大小时分批写入
func TestReplaceWatchlists_Batches(t *testing.T) {
	db, statements := newDryRunDB(t)

	require.NoError(t, ReplaceWatchlists(db, "20240105", watchlistRecords(150)))
	require.Len(t, *statements, 3)
	assert.Contains(t, (*statements)[1], `INSERT INTO "watchlist_records"`)
	assert.Contains(t, (*statements)[2], `INSERT INTO "watchlist_records"`)
}

// TestReplaceWatchlists_EmptyOnlyDeletes 当日观察池为空时只清理旧归档
func TestReplaceWatchlists_EmptyOnlyDeletes(t *testing.T) {
	db, statements := newDryRunDB(t)

	require.NoError(t, ReplaceWatchlists(db, "20240105", nil))
	require.Len(t, *statements, 1)
	assert.Contains(t, (*statements)[0], "DELETE FROM")
}

func TestDialector(t *testing.T) {
	d, err := Dialector(&config.DatabaseConfig{Type: "postgres", Host: "db", Port: 5432})
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	d, err = Dialector(&config.DatabaseConfig{Type: "mysql", Host: "db", Port: 3306})
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name())

	_, err = Dialector(&config.DatabaseConfig{Type: "sqlite"})
	assert.Error(t, err)
}

func TestTables(t *testing.T) {
	db, _ := newDryRunDB(t)

	var names []string
	for _, table := range Tables() {
		stmt := &gorm.Statement{DB: db}
		require.NoError(t, stmt.Parse(table))
		names = append(names, stmt.Schema.Table)
	}
	assert.Equal(t, []string{"report_tasks", "watchlist_records"}, names)
}

func TestEnabled(t *testing.T) {
	assert.False(t, Enabled(&config.DatabaseConfig{}))
	assert.True(t, Enabled(&config.DatabaseConfig{Type: "mysql"}))
}
