package models

import (
	"time"
)

// 任务状态
const (
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// ReportTask 复盘任务记录
type ReportTask struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	TaskID       string     `gorm:"type:varchar(50);uniqueIndex;not null" json:"task_id"` // 任务ID
	TradeDate    string     `gorm:"type:varchar(8);index" json:"trade_date"`              // 交易日期 YYYYMMDD
	Status       string     `gorm:"type:varchar(20)" json:"status"`                       // 状态：running/completed/failed
	Stage        string     `gorm:"type:varchar(50)" json:"stage"`                        // 当前阶段
	Progress     int        `gorm:"type:int" json:"progress"`                             // 进度（0-100）
	ReportPath   string     `gorm:"type:varchar(255)" json:"report_path"`                 // 报告文件路径
	DraftMediaID string     `gorm:"type:varchar(100)" json:"draft_media_id"`              // 公众号草稿ID
	ErrorMsg     string     `gorm:"type:text" json:"error_msg"`                           // 错误信息
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (ReportTask) TableName() string {
	return "report_tasks"
}

// WatchlistRecord 重点个股归档
type WatchlistRecord struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	TradeDate       string    `gorm:"type:varchar(8);index:idx_watchlist_date_list,priority:1;not null" json:"trade_date"` // 交易日期
	List            string    `gorm:"type:varchar(20);index:idx_watchlist_date_list,priority:2;not null" json:"list"`      // watchlist1/watchlist2
	Seq             int       `gorm:"type:int" json:"seq"`                                                                 // 序号
	Code            string    `gorm:"type:varchar(20)" json:"code"`                                                        // 股票代码
	Name            string    `gorm:"type:varchar(50)" json:"name"`                                                        // 股票名称
	Status          string    `gorm:"type:varchar(10)" json:"status"`                                                      // 当前状态：涨停/炸板
	ConsecutiveDays int       `gorm:"type:int" json:"consecutive_days"`                                                    // 连板数
	PctChange       float64   `gorm:"type:decimal(10,4)" json:"pct_change"`                                                // 涨跌幅
	AmountYi        float64   `gorm:"type:decimal(20,2)" json:"amount_yi"`                                                 // 成交额（亿元）
	CreatedAt       time.Time `json:"created_at"`
}

// TableName 指定表名
func (WatchlistRecord) TableName() string {
	return "watchlist_records"
}

// NewWatchlistRecords 把观察池展开为归档行
func NewWatchlistRecords(p *Pool) []WatchlistRecord {
	if p == nil {
		return nil
	}
	records := make([]WatchlistRecord, 0, len(p.Rows))
	for _, r := range p.Rows {
		days := 0
		if r.ConsecutiveDays != nil {
			days = *r.ConsecutiveDays
		}
		amount, _ := r.Amount.Float64()
		records = append(records, WatchlistRecord{
			TradeDate:       p.Date,
			List:            string(p.Kind),
			Seq:             r.Seq,
			Code:            r.Code,
			Name:            r.Name,
			Status:          string(r.Status),
			ConsecutiveDays: days,
			PctChange:       r.PctChange,
			AmountYi:        amount,
		})
	}
	return records
}
