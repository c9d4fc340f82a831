package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stock_review/internal/cache"
	"stock_review/internal/database"
	"stock_review/internal/models"
	"stock_review/internal/report"
	"stock_review/internal/watchlist"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Publisher 报告发布接口
type Publisher interface {
	PublishFile(ctx context.Context, mdPath, cover, title string) (string, error)
}

// RunOptions 单次复盘的选项
type RunOptions struct {
	Date    string // 空表示自动探测最新交易日
	Publish bool
	Cover   string
}

// RunResult 单次复盘的产出
type RunResult struct {
	Task       *models.ReportTask
	Date       string
	ReportPath string
	ExcelPath  string
	DraftID    string
	Watchlists *watchlist.Result
}

// maxTrackedTasks 内存中保留的最近任务数
const maxTrackedTasks = 64

// ErrTaskNotFound 任务不存在
var ErrTaskNotFound = errors.New("任务不存在")

// ReportRunner 复盘流水线：取数 -> 观察池 -> 渲染 -> 可选发布。
// 最近的任务进度保存在内存中，配置数据库时同时落库
type ReportRunner struct {
	fetcher     *DataFetcher
	source      *MarketSource
	engine      *watchlist.Engine
	renderer    *report.Renderer
	publisher   Publisher
	db          *gorm.DB
	exportExcel bool
	retryDelay  time.Duration
	logger      *zap.Logger

	mu        sync.RWMutex
	tasks     map[string]*models.ReportTask
	taskOrder []string
}

// NewReportRunner 创建流水线；db、publisher 可以为 nil
func NewReportRunner(fetcher *DataFetcher, engine *watchlist.Engine, renderer *report.Renderer,
	publisher Publisher, db *gorm.DB, exportExcel bool, logger *zap.Logger) *ReportRunner {
	return &ReportRunner{
		fetcher:     fetcher,
		source:      fetcher.source,
		engine:      engine,
		renderer:    renderer,
		publisher:   publisher,
		db:          db,
		exportExcel: exportExcel,
		retryDelay:  time.Duration(fetcher.config.QuoteRetryDelay) * time.Second,
		logger:      logger,
		tasks:       make(map[string]*models.ReportTask),
	}
}

// NewTask 创建任务记录
func (r *ReportRunner) NewTask(date string) *models.ReportTask {
	task := &models.ReportTask{
		TaskID:    "report_" + uuid.NewString(),
		TradeDate: date,
		Status:    models.TaskStatusRunning,
		Stage:     "pending",
		StartTime: time.Now(),
	}
	r.track(task)
	if r.db != nil {
		if err := r.db.Create(task).Error; err != nil {
			r.logger.Error("创建任务记录失败", zap.Error(err))
		}
	}
	return task
}

// Run 执行一次完整复盘
func (r *ReportRunner) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	return r.Execute(ctx, r.NewTask(opts.Date), opts)
}

// Execute 在已创建的任务下执行复盘
func (r *ReportRunner) Execute(ctx context.Context, task *models.ReportTask, opts RunOptions) (*RunResult, error) {
	res, err := r.execute(ctx, task, opts)
	now := time.Now()
	if err != nil {
		r.update(func() {
			task.EndTime = &now
			task.Status = models.TaskStatusFailed
			task.ErrorMsg = err.Error()
		})
		r.saveTask(task)
		r.logger.Error("复盘失败",
			zap.String("task_id", task.TaskID),
			zap.String("stage", task.Stage),
			zap.Error(err))
		return nil, err
	}
	r.update(func() {
		task.EndTime = &now
		task.Status = models.TaskStatusCompleted
		task.Progress = 100
	})
	r.saveTask(task)
	r.logger.Info("复盘完成",
		zap.String("task_id", task.TaskID),
		zap.String("report", res.ReportPath),
		zap.Duration("elapsed", time.Since(task.StartTime)))
	return res, nil
}

func (r *ReportRunner) execute(ctx context.Context, task *models.ReportTask, opts RunOptions) (*RunResult, error) {
	date := opts.Date
	if date == "" {
		r.stage(task, "resolve_date", 0)
		latest, err := r.source.FetchLatestAvailableDate(ctx)
		if err != nil {
			return nil, fmt.Errorf("无法确定最新数据日期: %w", err)
		}
		date = latest
		r.update(func() { task.TradeDate = date })
	}
	r.logger.Info("开始复盘", zap.String("task_id", task.TaskID), zap.String("date", date))

	data := &report.Data{Date: date}
	var err error

	r.stage(task, "index", 5)
	if data.Index, err = r.fetcher.IndexSummary(ctx, date); err != nil {
		return nil, err
	}

	r.stage(task, "limit_pools", 15)
	pools, err := r.limitPools(ctx, date)
	if err != nil {
		return nil, err
	}
	data.LimitUp, data.LimitDown, data.FailedLimit = pools.LimitUp, pools.LimitDown, pools.FailedLimit

	r.stage(task, "market_quotes", 30)
	if data.Market, err = r.fetcher.MarketQuotes(ctx, date); err != nil {
		return nil, err
	}

	r.stage(task, "top_turnover", 45)
	if data.TopTurnover, err = r.fetcher.TopTurnover(ctx, date, data.Market); err != nil {
		return nil, err
	}

	r.stage(task, "sectors", 55)
	if data.Sectors, err = r.fetcher.SectorSummary(ctx, date); err != nil {
		return nil, err
	}
	if data.Constituents, err = r.fetcher.Constituents(ctx, date, data.Sectors); err != nil {
		return nil, err
	}

	r.stage(task, "leaderboard", 70)
	if data.Leaderboard, err = r.fetcher.Leaderboard(ctx, date); err != nil {
		return nil, err
	}

	// 观察池一旦缓存即为当日结果，输入不全时不推导
	if err := r.renderer.CheckInputs(data); err != nil {
		return nil, err
	}

	r.stage(task, "watchlist", 80)
	lists, err := r.engine.Derive(date, watchlist.Inputs{
		TopTurnover:  data.TopTurnover,
		LimitUp:      data.LimitUp,
		LimitDown:    data.LimitDown,
		FailedLimit:  data.FailedLimit,
		Leaderboard:  data.Leaderboard,
		Constituents: data.Constituents,
	})
	if err != nil {
		return nil, err
	}
	data.LargeFlow, data.SectorMomentum = lists.LargeFlow, lists.SectorMomentum
	r.archiveWatchlists(date, lists)

	r.stage(task, "render", 90)
	doc, err := r.renderer.Render(data)
	if err != nil {
		return nil, err
	}
	path, err := r.renderer.Write(doc)
	if err != nil {
		return nil, err
	}
	r.update(func() { task.ReportPath = path })
	res := &RunResult{Task: task, Date: date, ReportPath: path, Watchlists: lists}

	if r.exportExcel {
		if res.ExcelPath, err = r.renderer.ExportExcel(date, lists.LargeFlow, lists.SectorMomentum); err != nil {
			r.logger.Warn("导出 Excel 失败", zap.String("date", date), zap.Error(err))
		}
	}

	if opts.Publish && r.publisher != nil {
		r.stage(task, "publish", 95)
		draftID, err := r.publisher.PublishFile(ctx, path, opts.Cover, doc.Title)
		if err != nil {
			// 报告已落盘，发布失败不影响本次结果
			r.logger.Warn("发布失败", zap.String("report", path), zap.Error(err))
		} else {
			r.update(func() { task.DraftMediaID = draftID })
			res.DraftID = draftID
		}
	}

	r.stage(task, "done", 100)
	return res, nil
}

// limitPools 三池有缺失时等待后只补抓缺失的池一次
func (r *ReportRunner) limitPools(ctx context.Context, date string) (*LimitPools, error) {
	pools, err := r.fetcher.LimitPools(ctx, date)
	if err != nil || pools.Complete() {
		return pools, err
	}
	r.logger.Warn("涨跌停数据不完整，稍后重试缺失部分", zap.String("date", date), zap.Int("missing", len(pools.Errs)))
	if err := r.source.sleep(ctx, r.retryDelay); err != nil {
		return nil, err
	}
	return r.fetcher.LimitPools(ctx, date)
}

// track 登记任务，超出上限时淘汰最早的任务
func (r *ReportRunner) track(task *models.ReportTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.TaskID] = task
	r.taskOrder = append(r.taskOrder, task.TaskID)
	for len(r.taskOrder) > maxTrackedTasks {
		delete(r.tasks, r.taskOrder[0])
		r.taskOrder = r.taskOrder[1:]
	}
}

// update 在锁内修改任务字段，与进度查询互斥
func (r *ReportRunner) update(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

func (r *ReportRunner) stage(task *models.ReportTask, stage string, progress int) {
	r.update(func() {
		task.Stage = stage
		task.Progress = progress
	})
	if r.db != nil && task.ID != 0 {
		r.db.Model(&models.ReportTask{}).Where("id = ?", task.ID).Updates(map[string]interface{}{
			"stage":      stage,
			"progress":   progress,
			"trade_date": task.TradeDate,
		})
	}
}

func (r *ReportRunner) saveTask(task *models.ReportTask) {
	if r.db == nil {
		return
	}
	r.mu.RLock()
	snapshot := *task
	r.mu.RUnlock()
	if err := r.db.Save(&snapshot).Error; err != nil {
		r.logger.Error("更新任务记录失败", zap.String("task_id", task.TaskID), zap.Error(err))
	}
}

// archiveWatchlists 覆盖写入当日观察池归档
func (r *ReportRunner) archiveWatchlists(date string, lists *watchlist.Result) {
	if r.db == nil {
		return
	}
	records := append(models.NewWatchlistRecords(lists.LargeFlow), models.NewWatchlistRecords(lists.SectorMomentum)...)
	err := r.db.Transaction(func(tx *gorm.DB) error {
		return database.ReplaceWatchlists(tx, date, records)
	})
	if err != nil {
		r.logger.Error("归档观察池失败", zap.String("date", date), zap.Error(err))
	}
}

// GetTaskProgress 获取任务进度，先查内存中的近期任务，再查数据库
func (r *ReportRunner) GetTaskProgress(taskID string) (*models.ReportTask, error) {
	r.mu.RLock()
	if task, ok := r.tasks[taskID]; ok {
		snapshot := *task
		r.mu.RUnlock()
		return &snapshot, nil
	}
	r.mu.RUnlock()

	if r.db == nil {
		return nil, ErrTaskNotFound
	}
	var task models.ReportTask
	if err := r.db.Where("task_id = ?", taskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// Watchlists 读取某日已缓存的观察池
func (r *ReportRunner) Watchlists(date string) (*watchlist.Result, bool, error) {
	store := r.fetcher.Store()
	wl1, ok1, err := store.LoadPool(cache.PoolKey(models.PoolWatchlist1, date), models.PoolWatchlist1)
	if err != nil {
		return nil, false, err
	}
	wl2, ok2, err := store.LoadPool(cache.PoolKey(models.PoolWatchlist2, date), models.PoolWatchlist2)
	if err != nil {
		return nil, false, err
	}
	if !ok1 || !ok2 {
		return nil, false, nil
	}
	return &watchlist.Result{LargeFlow: wl1, SectorMomentum: wl2, FromCache: true}, true, nil
}
