package database

import (
	"fmt"
	"time"

	"stock_review/internal/config"
	"stock_review/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Enabled 是否配置了数据库；未配置时复盘照常运行，任务进度只保存在内存
func Enabled(cfg *config.DatabaseConfig) bool {
	return cfg.Type != ""
}

// Dialector 按配置选择数据库驱动
func Dialector(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	dsn := cfg.GetDSN()
	switch cfg.Type {
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("不支持的数据库类型: %s", cfg.Type)
	}
}

// InitDB 连接数据库、设置连接池并迁移表结构
func InitDB(cfg *config.DatabaseConfig) error {
	dialector, err := Dialector(cfg)
	if err != nil {
		return err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	})
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("获取数据库连接失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("数据库连接测试失败: %w", err)
	}

	if err := Migrate(db); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	DB = db
	return nil
}

// Tables 需要迁移的表：复盘任务与观察池归档
func Tables() []interface{} {
	return []interface{}{
		&models.ReportTask{},
		&models.WatchlistRecord{},
	}
}

// Migrate 自动迁移表结构
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Tables()...)
}

// ReplaceWatchlists 覆盖某个交易日的观察池归档：先删后批量写入。
// 调用方负责把它放进事务
func ReplaceWatchlists(tx *gorm.DB, date string, records []models.WatchlistRecord) error {
	if err := tx.Where("trade_date = ?", date).Delete(&models.WatchlistRecord{}).Error; err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	return tx.CreateInBatches(records, 100).Error
}

// Close 关闭数据库连接
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB 获取数据库实例，未初始化时为 nil
func GetDB() *gorm.DB {
	return DB
}
